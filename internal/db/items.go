package db

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/intake/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

type itemRow struct {
	ID           surrealmodels.RecordID `json:"id"`
	SessionID    string                 `json:"session_id"`
	DesignWeekID string                 `json:"design_week_id"`
	Type         string                 `json:"type"`
	Content      string                 `json:"content"`
	Payload      map[string]any         `json:"payload,omitempty"`
	Confidence   float64                `json:"confidence"`
	Status       string                 `json:"status"`
	Provenance   *models.Provenance     `json:"provenance,omitempty"`
	Stage        *string                `json:"stage,omitempty"`
	Position     int                    `json:"position"`
	CreatedAt    time.Time              `json:"created_at"`
}

func (r itemRow) toModel() (*models.ExtractedItem, error) {
	id, err := recordKey(r.ID)
	if err != nil {
		return nil, err
	}
	return &models.ExtractedItem{
		ID:           id,
		SessionID:    r.SessionID,
		DesignWeekID: r.DesignWeekID,
		Type:         models.ItemType(r.Type),
		Content:      r.Content,
		Payload:      r.Payload,
		Confidence:   r.Confidence,
		Status:       models.ItemStatus(r.Status),
		Provenance:   r.Provenance,
		Stage:        models.Stage(deref(r.Stage)),
		CreatedAt:    r.CreatedAt,
	}, nil
}

func newItemRow(it *models.ExtractedItem, position int) itemRow {
	return itemRow{
		ID:           surrealmodels.NewRecordID("extracted_item", it.ID),
		SessionID:    it.SessionID,
		DesignWeekID: it.DesignWeekID,
		Type:         string(it.Type),
		Content:      it.Content,
		Payload:      it.Payload,
		Confidence:   it.Confidence,
		Status:       string(it.Status),
		Provenance:   it.Provenance,
		Stage:        optional(string(it.Stage)),
		Position:     position,
		CreatedAt:    it.CreatedAt,
	}
}

// ReplaceItems implements store.Items. Delete and insert run in one
// transaction, so readers see either the old set or the new one.
func (c *Client) ReplaceItems(ctx context.Context, sessionID string, items []*models.ExtractedItem) error {
	rows := make([]itemRow, len(items))
	for i, it := range items {
		rows[i] = newItemRow(it, i)
	}

	sql := `
		BEGIN TRANSACTION;
		DELETE extracted_item WHERE session_id = $session_id;
	`
	if len(rows) > 0 {
		sql += `INSERT INTO extracted_item $items;
		`
	}
	sql += `COMMIT TRANSACTION;`

	_, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{
		"session_id": sessionID,
		"items":      rows,
	})
	if err != nil {
		return fmt.Errorf("replace items: %w", wrapQueryError(err))
	}
	return nil
}

// ListItems implements store.Items.
func (c *Client) ListItems(ctx context.Context, sessionID string) ([]*models.ExtractedItem, error) {
	sql := `SELECT * FROM extracted_item WHERE session_id = $session_id ORDER BY position`
	results, err := surrealdb.Query[[]itemRow](ctx, c.db, sql, map[string]any{"session_id": sessionID})
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	rows := (*results)[0].Result
	out := make([]*models.ExtractedItem, 0, len(rows))
	for _, r := range rows {
		it, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, nil
}
