package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/raphaelgruber/intake/internal/models"
	"github.com/raphaelgruber/intake/internal/store"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// jobRow is the stored shape of an upload job.
type jobRow struct {
	ID            surrealmodels.RecordID   `json:"id"`
	DesignWeekID  string                   `json:"design_week_id"`
	SessionID     string                   `json:"session_id"`
	Artifact      models.Artifact          `json:"artifact"`
	Options       models.ExtractionOptions `json:"options"`
	Status        string                   `json:"status"`
	CurrentStage  string                   `json:"current_stage"`
	StageProgress *models.StageProgress    `json:"stage_progress,omitempty"`
	Error         *string                  `json:"error,omitempty"`
	RetryOf       *string                  `json:"retry_of,omitempty"`
	CreatedAt     time.Time                `json:"created_at"`
	UpdatedAt     time.Time                `json:"updated_at"`
	CompletedAt   *time.Time               `json:"completed_at,omitempty"`
}

func (r jobRow) toModel() (*models.UploadJob, error) {
	id, err := recordKey(r.ID)
	if err != nil {
		return nil, err
	}
	return &models.UploadJob{
		ID:            id,
		DesignWeekID:  r.DesignWeekID,
		SessionID:     r.SessionID,
		Artifact:      r.Artifact,
		Options:       r.Options,
		Status:        models.JobStatus(r.Status),
		CurrentStage:  models.Stage(r.CurrentStage),
		StageProgress: r.StageProgress,
		Error:         deref(r.Error),
		RetryOf:       deref(r.RetryOf),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		CompletedAt:   r.CompletedAt,
	}, nil
}

func jobsFromRows(rows []jobRow) ([]*models.UploadJob, error) {
	out := make([]*models.UploadJob, 0, len(rows))
	for _, r := range rows {
		job, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}

var _ store.Store = (*Client)(nil)

// CreateJob implements store.Jobs.
func (c *Client) CreateJob(ctx context.Context, job *models.UploadJob) error {
	sql := `
		CREATE type::record("upload_job", $id) SET
			design_week_id = $design_week_id,
			session_id = $session_id,
			artifact = $artifact,
			options = $options,
			status = $status,
			current_stage = $current_stage,
			stage_progress = $stage_progress,
			retry_of = $retry_of,
			created_at = $created_at,
			updated_at = $created_at
	`
	_, err := surrealdb.Query[[]jobRow](ctx, c.db, sql, map[string]any{
		"id":             job.ID,
		"design_week_id": job.DesignWeekID,
		"session_id":     job.SessionID,
		"artifact":       job.Artifact,
		"options":        job.Options,
		"status":         string(job.Status),
		"current_stage":  string(job.CurrentStage),
		"stage_progress": job.StageProgress,
		"retry_of":       optional(job.RetryOf),
		"created_at":     job.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("create job: %w", wrapQueryError(err))
	}
	return nil
}

// GetJob implements store.Jobs.
func (c *Client) GetJob(ctx context.Context, id string) (*models.UploadJob, error) {
	sql := `SELECT * FROM type::record("upload_job", $id)`
	results, err := surrealdb.Query[[]jobRow](ctx, c.db, sql, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, ErrNotFound
	}
	return (*results)[0].Result[0].toModel()
}

// ListJobs implements store.Jobs.
func (c *Client) ListJobs(ctx context.Context, designWeekID string) ([]*models.UploadJob, error) {
	sql := `SELECT * FROM upload_job WHERE design_week_id = $design_week_id ORDER BY created_at DESC`
	results, err := surrealdb.Query[[]jobRow](ctx, c.db, sql, map[string]any{"design_week_id": designWeekID})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	return jobsFromRows((*results)[0].Result)
}

// ListUnfinishedJobs implements store.Jobs.
func (c *Client) ListUnfinishedJobs(ctx context.Context) ([]*models.UploadJob, error) {
	sql := `SELECT * FROM upload_job WHERE status IN ["QUEUED", "PROCESSING"] ORDER BY created_at DESC`
	results, err := surrealdb.Query[[]jobRow](ctx, c.db, sql, nil)
	if err != nil {
		return nil, fmt.Errorf("list unfinished jobs: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	return jobsFromRows((*results)[0].Result)
}

// UpdateJob implements store.Jobs. The terminal-status guard is part of the
// UPDATE itself so concurrent writers cannot resurrect a finished job.
func (c *Client) UpdateJob(ctx context.Context, id string, u store.JobUpdate) (bool, error) {
	sets := []string{"updated_at = time::now()"}
	vars := map[string]any{"id": id}
	if u.Status != "" {
		sets = append(sets, "status = $status")
		vars["status"] = string(u.Status)
	}
	if u.CurrentStage != "" {
		sets = append(sets, "current_stage = $current_stage")
		vars["current_stage"] = string(u.CurrentStage)
	}
	if u.StageProgress != nil {
		sets = append(sets, "stage_progress = $stage_progress")
		vars["stage_progress"] = u.StageProgress
	}
	if u.Error != "" {
		sets = append(sets, "error = $error")
		vars["error"] = u.Error
	}
	if u.CompletedAt != nil {
		sets = append(sets, "completed_at = $completed_at")
		vars["completed_at"] = *u.CompletedAt
	}

	sql := fmt.Sprintf(`
		UPDATE type::record("upload_job", $id) SET %s
		WHERE status NOT IN ["COMPLETE", "FAILED"]
		RETURN AFTER
	`, strings.Join(sets, ", "))

	results, err := surrealdb.Query[[]jobRow](ctx, c.db, sql, vars)
	if err != nil {
		return false, fmt.Errorf("update job: %w", wrapQueryError(err))
	}
	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		return true, nil
	}

	// Nothing matched: either the job is terminal or it does not exist.
	if _, err := c.GetJob(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
