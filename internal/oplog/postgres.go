// Package oplog stores the append-only operations log in PostgreSQL, for
// deployments that keep audit data outside the primary store.
package oplog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/raphaelgruber/intake/internal/models"
	"github.com/raphaelgruber/intake/internal/store"
)

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS operation_log (
		id            BIGSERIAL PRIMARY KEY,
		pipeline      TEXT        NOT NULL,
		model         TEXT        NOT NULL,
		input_tokens  INTEGER     NOT NULL DEFAULT 0,
		output_tokens INTEGER     NOT NULL DEFAULT 0,
		latency_ms    BIGINT      NOT NULL DEFAULT 0,
		success       BOOLEAN     NOT NULL,
		error         TEXT,
		job_id        TEXT,
		session_id    TEXT,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS operation_log_created_at ON operation_log (created_at DESC);
`

// Postgres implements store.OperationLog on database/sql.
type Postgres struct {
	db *sql.DB
}

var _ store.OperationLog = (*Postgres)(nil)

// Open connects to dsn, verifies the connection and ensures the table exists.
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	p := New(db)
	if err := p.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the table and index if missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create operation_log: %w", err)
	}
	return nil
}

// Append implements store.OperationLog.
func (p *Postgres) Append(ctx context.Context, e models.OperationLog) error {
	query := `
		INSERT INTO operation_log
			(pipeline, model, input_tokens, output_tokens, latency_ms, success, error, job_id, session_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := p.db.ExecContext(ctx, query,
		e.Pipeline,
		e.Model,
		e.InputTokens,
		e.OutputTokens,
		e.LatencyMs,
		e.Success,
		nullString(e.Error),
		nullString(e.JobID),
		nullString(e.SessionID),
		created,
	)
	if err != nil {
		return fmt.Errorf("insert operation log: %w", err)
	}
	return nil
}

// Recent implements store.OperationLog.
func (p *Postgres) Recent(ctx context.Context, limit int) ([]models.OperationLog, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT pipeline, model, input_tokens, output_tokens, latency_ms, success, error, job_id, session_id, created_at
		FROM operation_log
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`
	rows, err := p.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query operation log: %w", err)
	}
	defer rows.Close()

	var out []models.OperationLog
	for rows.Next() {
		var e models.OperationLog
		var errMsg, jobID, sessionID sql.NullString
		if err := rows.Scan(
			&e.Pipeline,
			&e.Model,
			&e.InputTokens,
			&e.OutputTokens,
			&e.LatencyMs,
			&e.Success,
			&errMsg,
			&jobID,
			&sessionID,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan operation log: %w", err)
		}
		e.Error = errMsg.String
		e.JobID = jobID.String
		e.SessionID = sessionID.String
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operation log: %w", err)
	}
	return out, nil
}

// Close closes the underlying handle.
func (p *Postgres) Close() error {
	return p.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
