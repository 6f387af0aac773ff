package db

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/intake/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

type profileRow struct {
	ID           surrealmodels.RecordID                          `json:"id"`
	DesignWeekID string                                          `json:"design_week_id"`
	Sections     map[models.ProfileSection][]models.ProfileEntry `json:"sections"`
	UpdatedAt    time.Time                                       `json:"updated_at"`
}

// SaveProfile implements store.Profiles. The record id is the session id.
func (c *Client) SaveProfile(ctx context.Context, p *models.Profile) error {
	sql := `
		UPSERT type::record("profile", $id) SET
			design_week_id = $design_week_id,
			sections = $sections,
			updated_at = time::now()
		RETURN AFTER
	`
	sections := p.Sections
	if sections == nil {
		sections = map[models.ProfileSection][]models.ProfileEntry{}
	}
	_, err := surrealdb.Query[[]profileRow](ctx, c.db, sql, map[string]any{
		"id":             p.SessionID,
		"design_week_id": p.DesignWeekID,
		"sections":       sections,
	})
	if err != nil {
		return fmt.Errorf("save profile: %w", wrapQueryError(err))
	}
	return nil
}

// GetProfile implements store.Profiles.
func (c *Client) GetProfile(ctx context.Context, sessionID string) (*models.Profile, error) {
	sql := `SELECT * FROM type::record("profile", $id)`
	results, err := surrealdb.Query[[]profileRow](ctx, c.db, sql, map[string]any{"id": sessionID})
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, ErrNotFound
	}
	r := (*results)[0].Result[0]
	return &models.Profile{
		DesignWeekID: r.DesignWeekID,
		SessionID:    sessionID,
		Sections:     r.Sections,
		UpdatedAt:    r.UpdatedAt,
	}, nil
}
