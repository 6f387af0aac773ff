package db

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/intake/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

type sessionRow struct {
	ID                       surrealmodels.RecordID `json:"id"`
	DesignWeekID             string                 `json:"design_week_id"`
	UploadJobID              *string                `json:"upload_job_id,omitempty"`
	SessionType              string                 `json:"session_type"`
	ProcessingStatus         string                 `json:"processing_status"`
	Classification           *string                `json:"classification,omitempty"`
	ClassificationConfidence float64                `json:"classification_confidence"`
	ProcessingError          *string                `json:"processing_error,omitempty"`
	CreatedAt                time.Time              `json:"created_at"`
	UpdatedAt                time.Time              `json:"updated_at"`
}

func (r sessionRow) toModel() (*models.Session, error) {
	id, err := recordKey(r.ID)
	if err != nil {
		return nil, err
	}
	return &models.Session{
		ID:                       id,
		DesignWeekID:             r.DesignWeekID,
		UploadJobID:              deref(r.UploadJobID),
		SessionType:              models.SessionType(r.SessionType),
		ProcessingStatus:         models.ProcessingStatus(r.ProcessingStatus),
		Classification:           models.SessionType(deref(r.Classification)),
		ClassificationConfidence: r.ClassificationConfidence,
		ProcessingError:          deref(r.ProcessingError),
		CreatedAt:                r.CreatedAt,
		UpdatedAt:                r.UpdatedAt,
	}, nil
}

func sessionVars(s *models.Session) map[string]any {
	return map[string]any{
		"id":                        s.ID,
		"design_week_id":            s.DesignWeekID,
		"upload_job_id":             optional(s.UploadJobID),
		"session_type":              string(s.SessionType),
		"processing_status":         string(s.ProcessingStatus),
		"classification":            optional(string(s.Classification)),
		"classification_confidence": s.ClassificationConfidence,
		"processing_error":          optional(s.ProcessingError),
	}
}

// CreateSession implements store.Sessions.
func (c *Client) CreateSession(ctx context.Context, s *models.Session) error {
	sql := `
		CREATE type::record("session", $id) SET
			design_week_id = $design_week_id,
			upload_job_id = $upload_job_id,
			session_type = $session_type,
			processing_status = $processing_status,
			classification = $classification,
			classification_confidence = $classification_confidence,
			processing_error = $processing_error
	`
	if _, err := surrealdb.Query[[]sessionRow](ctx, c.db, sql, sessionVars(s)); err != nil {
		return fmt.Errorf("create session: %w", wrapQueryError(err))
	}
	return nil
}

// GetSession implements store.Sessions.
func (c *Client) GetSession(ctx context.Context, id string) (*models.Session, error) {
	sql := `SELECT * FROM type::record("session", $id)`
	results, err := surrealdb.Query[[]sessionRow](ctx, c.db, sql, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, ErrNotFound
	}
	return (*results)[0].Result[0].toModel()
}

// UpdateSession implements store.Sessions. It is a read-modify-write; the
// item sink serializes writers per session.
func (c *Client) UpdateSession(ctx context.Context, id string, fn func(*models.Session)) error {
	s, err := c.GetSession(ctx, id)
	if err != nil {
		return err
	}
	fn(s)
	s.ID = id

	sql := `
		UPDATE type::record("session", $id) SET
			upload_job_id = $upload_job_id,
			session_type = $session_type,
			processing_status = $processing_status,
			classification = $classification,
			classification_confidence = $classification_confidence,
			processing_error = $processing_error,
			updated_at = time::now()
	`
	if _, err := surrealdb.Query[[]sessionRow](ctx, c.db, sql, sessionVars(s)); err != nil {
		return fmt.Errorf("update session: %w", wrapQueryError(err))
	}
	return nil
}
