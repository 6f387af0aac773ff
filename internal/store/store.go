// Package store defines the persistence contracts of the pipeline. The
// SurrealDB client in internal/db and the in-memory store in
// internal/store/memory implement them.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/raphaelgruber/intake/internal/models"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// JobUpdate is a guarded mutation of a job. Zero fields are left unchanged.
type JobUpdate struct {
	Status        models.JobStatus
	CurrentStage  models.Stage
	StageProgress *models.StageProgress
	Error         string
	CompletedAt   *time.Time
}

// Jobs persists upload jobs.
type Jobs interface {
	CreateJob(ctx context.Context, job *models.UploadJob) error
	GetJob(ctx context.Context, id string) (*models.UploadJob, error)
	// ListJobs returns an engagement's jobs, most recent first.
	ListJobs(ctx context.Context, designWeekID string) ([]*models.UploadJob, error)
	// ListUnfinishedJobs returns every QUEUED or PROCESSING job.
	ListUnfinishedJobs(ctx context.Context) ([]*models.UploadJob, error)
	// UpdateJob applies u only while the job is not terminal. It reports
	// whether the update was applied.
	UpdateJob(ctx context.Context, id string, u JobUpdate) (bool, error)
}

// Sessions persists sessions.
type Sessions interface {
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	// UpdateSession loads, mutates and saves a session.
	UpdateSession(ctx context.Context, id string, fn func(*models.Session)) error
}

// Items persists extracted items.
type Items interface {
	// ReplaceItems deletes every item of the session and inserts items, as
	// one unit of work.
	ReplaceItems(ctx context.Context, sessionID string, items []*models.ExtractedItem) error
	ListItems(ctx context.Context, sessionID string) ([]*models.ExtractedItem, error)
}

// Profiles persists populated profile tabs.
type Profiles interface {
	SaveProfile(ctx context.Context, p *models.Profile) error
	GetProfile(ctx context.Context, sessionID string) (*models.Profile, error)
}

// Engagements reads and advances engagements.
type Engagements interface {
	GetEngagement(ctx context.Context, id string) (*models.Engagement, error)
	UpsertEngagement(ctx context.Context, e *models.Engagement) error
	// AdvancePhase raises the phase to phase if it is currently lower. It
	// reports whether the phase changed.
	AdvancePhase(ctx context.Context, id string, phase int) (bool, error)
}

// OperationLog is the append-only audit log of analysis calls.
type OperationLog interface {
	Append(ctx context.Context, entry models.OperationLog) error
	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]models.OperationLog, error)
}

// Store bundles every contract.
type Store interface {
	Jobs
	Sessions
	Items
	Profiles
	Engagements
	OperationLog
}

// Apply copies the set fields of u onto job.
func (u JobUpdate) Apply(job *models.UploadJob) {
	if u.Status != "" {
		job.Status = u.Status
	}
	if u.CurrentStage != "" {
		job.CurrentStage = u.CurrentStage
	}
	if u.StageProgress != nil {
		sp := *u.StageProgress
		job.StageProgress = &sp
	}
	if u.Error != "" {
		job.Error = u.Error
	}
	if u.CompletedAt != nil {
		t := *u.CompletedAt
		job.CompletedAt = &t
	}
}
