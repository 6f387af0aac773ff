package db

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/intake/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

type opLogRow struct {
	Pipeline     string    `json:"pipeline"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	LatencyMs    int64     `json:"latency_ms"`
	Success      bool      `json:"success"`
	Error        *string   `json:"error,omitempty"`
	JobID        *string   `json:"job_id,omitempty"`
	SessionID    *string   `json:"session_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Append implements store.OperationLog.
func (c *Client) Append(ctx context.Context, e models.OperationLog) error {
	sql := `
		CREATE operation_log SET
			pipeline = $pipeline,
			model = $model,
			input_tokens = $input_tokens,
			output_tokens = $output_tokens,
			latency_ms = $latency_ms,
			success = $success,
			error = $error,
			job_id = $job_id,
			session_id = $session_id
	`
	_, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{
		"pipeline":      e.Pipeline,
		"model":         e.Model,
		"input_tokens":  e.InputTokens,
		"output_tokens": e.OutputTokens,
		"latency_ms":    e.LatencyMs,
		"success":       e.Success,
		"error":         optional(e.Error),
		"job_id":        optional(e.JobID),
		"session_id":    optional(e.SessionID),
	})
	if err != nil {
		return fmt.Errorf("append operation log: %w", err)
	}
	return nil
}

// Recent implements store.OperationLog.
func (c *Client) Recent(ctx context.Context, limit int) ([]models.OperationLog, error) {
	if limit <= 0 {
		limit = 100
	}
	sql := `SELECT * OMIT id FROM operation_log ORDER BY created_at DESC LIMIT $limit`
	results, err := surrealdb.Query[[]opLogRow](ctx, c.db, sql, map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("recent operation log: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	rows := (*results)[0].Result
	out := make([]models.OperationLog, len(rows))
	for i, r := range rows {
		out[i] = models.OperationLog{
			Pipeline:     r.Pipeline,
			Model:        r.Model,
			InputTokens:  r.InputTokens,
			OutputTokens: r.OutputTokens,
			LatencyMs:    r.LatencyMs,
			Success:      r.Success,
			Error:        deref(r.Error),
			JobID:        deref(r.JobID),
			SessionID:    deref(r.SessionID),
			CreatedAt:    r.CreatedAt,
		}
	}
	return out, nil
}
