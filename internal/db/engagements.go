package db

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/intake/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

type engagementRow struct {
	ID    surrealmodels.RecordID `json:"id"`
	Name  string                 `json:"name"`
	Phase int                    `json:"phase"`
}

// GetEngagement implements store.Engagements.
func (c *Client) GetEngagement(ctx context.Context, id string) (*models.Engagement, error) {
	sql := `SELECT * FROM type::record("engagement", $id)`
	results, err := surrealdb.Query[[]engagementRow](ctx, c.db, sql, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get engagement: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, ErrNotFound
	}
	r := (*results)[0].Result[0]
	return &models.Engagement{ID: id, Name: r.Name, Phase: r.Phase}, nil
}

// UpsertEngagement implements store.Engagements.
func (c *Client) UpsertEngagement(ctx context.Context, e *models.Engagement) error {
	sql := `UPSERT type::record("engagement", $id) SET name = $name, phase = $phase RETURN AFTER`
	_, err := surrealdb.Query[[]engagementRow](ctx, c.db, sql, map[string]any{
		"id":    e.ID,
		"name":  e.Name,
		"phase": e.Phase,
	})
	if err != nil {
		return fmt.Errorf("upsert engagement: %w", wrapQueryError(err))
	}
	return nil
}

// AdvancePhase implements store.Engagements. The comparison happens in the
// UPDATE so the phase never moves backwards under concurrent advances.
func (c *Client) AdvancePhase(ctx context.Context, id string, phase int) (bool, error) {
	sql := `UPDATE type::record("engagement", $id) SET phase = $phase WHERE phase < $phase RETURN AFTER`
	results, err := surrealdb.Query[[]engagementRow](ctx, c.db, sql, map[string]any{
		"id":    id,
		"phase": phase,
	})
	if err != nil {
		return false, fmt.Errorf("advance phase: %w", wrapQueryError(err))
	}
	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		return true, nil
	}
	if _, err := c.GetEngagement(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}
