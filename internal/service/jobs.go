package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/intake/internal/analysis"
	"github.com/raphaelgruber/intake/internal/apperr"
	"github.com/raphaelgruber/intake/internal/artifact"
	"github.com/raphaelgruber/intake/internal/blob"
	"github.com/raphaelgruber/intake/internal/metrics"
	"github.com/raphaelgruber/intake/internal/models"
	"github.com/raphaelgruber/intake/internal/pipeline"
	"github.com/raphaelgruber/intake/internal/store"
)

// JobConfig wires a JobService.
type JobConfig struct {
	Store        store.Store
	Blobs        blob.Store
	Validator    *artifact.Validator
	Registry     *analysis.Registry
	Orchestrator *pipeline.Orchestrator
	Directory    *Directory
	Metrics      *metrics.Collector
}

// JobService starts upload jobs and runs them in the background. Callers
// learn about progress only through the job record.
type JobService struct {
	store     store.Store
	blobs     blob.Store
	validator *artifact.Validator
	registry  *analysis.Registry
	orch      *pipeline.Orchestrator
	directory *Directory
	metrics   *metrics.Collector

	wg       sync.WaitGroup
	runCtx   context.Context
	stopRuns context.CancelFunc
}

// NewJobService creates a job service.
func NewJobService(cfg JobConfig) *JobService {
	ctx, cancel := context.WithCancel(context.Background())
	dir := cfg.Directory
	if dir == nil {
		dir = NewDirectory(cfg.Store, 0, time.Minute)
	}
	return &JobService{
		store:     cfg.Store,
		blobs:     cfg.Blobs,
		validator: cfg.Validator,
		registry:  cfg.Registry,
		orch:      cfg.Orchestrator,
		directory: dir,
		metrics:   cfg.Metrics,
		runCtx:    ctx,
		stopRuns:  cancel,
	}
}

// StartRequest is one artifact submission.
type StartRequest struct {
	EngagementID string
	Filename     string
	MIMEType     string
	Data         []byte
	Mode         string
	Models       []string
	// Existing session of the same engagement to re-process into
	SessionID string
}

// StartResult identifies a queued job.
type StartResult struct {
	JobID     string           `json:"jobId"`
	SessionID string           `json:"sessionId"`
	Status    models.JobStatus `json:"status"`
}

// Start validates and stores the artifact, records a QUEUED job and launches
// the pipeline without waiting for it.
func (s *JobService) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	if req.EngagementID == "" {
		return nil, apperr.Validation("engagement id is required")
	}
	if len(req.Data) == 0 && req.Filename == "" {
		return nil, apperr.Validation("file is required")
	}
	if err := s.validator.CheckSize(int64(len(req.Data))); err != nil {
		return nil, err
	}

	mode, err := models.ParseExtractionMode(req.Mode)
	if err != nil {
		return nil, apperr.Validation("%v", err)
	}
	opts, err := models.NewExtractionOptions(mode, req.Models)
	if err != nil {
		return nil, apperr.Validation("%v", err)
	}
	analyzers, err := analyzersFor(s.registry, opts)
	if err != nil {
		return nil, err
	}

	if _, err := s.directory.Lookup(ctx, req.EngagementID); err != nil {
		return nil, err
	}

	accepted, err := s.validator.Validate(req.Filename, req.MIMEType, req.Data)
	if err != nil {
		return nil, err
	}

	session, created, err := s.resolveSession(ctx, req.EngagementID, req.SessionID)
	if err != nil {
		return nil, err
	}

	jobID := uuid.New().String()
	done := s.metrics.Timer(metrics.OpBlobPut)
	obj, err := s.blobs.Put(ctx, blob.Key(req.EngagementID, jobID, accepted.Filename), req.Data)
	done(err == nil)
	if err != nil {
		return nil, apperr.Storage(err)
	}

	job := &models.UploadJob{
		ID:           jobID,
		DesignWeekID: req.EngagementID,
		SessionID:    session.ID,
		Artifact: models.Artifact{
			Filename:    accepted.Filename,
			MIMEType:    accepted.MIMEType,
			StoragePath: obj.Path,
			Size:        obj.Size,
		},
		Options:      opts,
		Status:       models.JobStatusQueued,
		CurrentStage: models.StageClassification,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.enqueue(ctx, job, session, created); err != nil {
		if derr := s.blobs.Delete(context.WithoutCancel(ctx), obj.Path); derr != nil {
			slog.Warn("failed to remove orphaned artifact", "path", obj.Path, "error", derr)
		}
		return nil, err
	}

	slog.Info("job created",
		"job_id", job.ID,
		"design_week_id", job.DesignWeekID,
		"session_id", session.ID,
		"filename", accepted.Filename,
		"mime_type", accepted.MIMEType,
		"size", obj.Size,
		"mode", opts.Mode)

	s.launch(job, session, req.Data, analyzers)
	return &StartResult{JobID: job.ID, SessionID: session.ID, Status: job.Status}, nil
}

// resolveSession loads sessionID, which must belong to engagementID, or
// builds a new session when sessionID is empty.
func (s *JobService) resolveSession(ctx context.Context, engagementID, sessionID string) (*models.Session, bool, error) {
	if sessionID == "" {
		now := time.Now().UTC()
		return &models.Session{
			ID:               uuid.New().String(),
			DesignWeekID:     engagementID,
			SessionType:      models.SessionUnknown,
			ProcessingStatus: models.ProcessingPending,
			CreatedAt:        now,
			UpdatedAt:        now,
		}, true, nil
	}
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, false, notFound(err, "session", sessionID)
	}
	if sess.DesignWeekID != engagementID {
		return nil, false, apperr.Validation("session %q does not belong to engagement %q", sessionID, engagementID)
	}
	return sess, false, nil
}

// enqueue persists the job and links the session to it. A job whose session
// cannot be stored is marked FAILED so it never sits QUEUED unlaunched.
func (s *JobService) enqueue(ctx context.Context, job *models.UploadJob, session *models.Session, newSession bool) error {
	if err := s.store.CreateJob(ctx, job); err != nil {
		return apperr.Persistence(fmt.Errorf("create job: %w", err))
	}
	if err := s.linkSession(ctx, job, session, newSession); err != nil {
		s.finish(ctx, job.ID, "", "session could not be stored")
		return err
	}
	return nil
}

func (s *JobService) linkSession(ctx context.Context, job *models.UploadJob, session *models.Session, newSession bool) error {
	session.UploadJobID = job.ID
	if newSession {
		if err := s.store.CreateSession(ctx, session); err != nil {
			return apperr.Persistence(fmt.Errorf("create session: %w", err))
		}
		return nil
	}
	err := s.store.UpdateSession(ctx, session.ID, func(sess *models.Session) {
		sess.UploadJobID = job.ID
		sess.ProcessingStatus = models.ProcessingPending
		sess.ProcessingError = ""
	})
	if err != nil {
		return apperr.Persistence(fmt.Errorf("link session: %w", err))
	}
	return nil
}

// launch runs the pipeline for job on its own goroutine.
func (s *JobService) launch(job *models.UploadJob, session *models.Session, data []byte, analyzers []analysis.Analyzer) {
	if s.metrics != nil {
		s.metrics.JobStarted()
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("job goroutine panicked", "job_id", job.ID, "panic", r)
				s.finish(context.Background(), job.ID, session.ID, fmt.Sprintf("internal panic: %v", r))
			}
		}()

		run, err := pipeline.NewRun(job, session, data, analyzers)
		if err != nil {
			s.finish(s.runCtx, job.ID, session.ID, apperr.PublicMessage(err))
			return
		}
		if err := s.orch.Execute(s.runCtx, run); err != nil && !errors.Is(err, pipeline.ErrCancelled) {
			slog.Debug("pipeline returned error", "job_id", job.ID, "error", err)
		}
	}()
}

// finish marks a job FAILED outside the pipeline. It reports whether this
// call made the transition.
func (s *JobService) finish(ctx context.Context, jobID, sessionID, msg string) bool {
	ctx = context.WithoutCancel(ctx)
	msg = apperr.Sanitize(msg)
	now := time.Now().UTC()
	applied, err := s.store.UpdateJob(ctx, jobID, store.JobUpdate{
		Status:      models.JobStatusFailed,
		Error:       msg,
		CompletedAt: &now,
	})
	if err != nil {
		slog.Warn("failed to persist job failure", "job_id", jobID, "error", err)
		return false
	}
	if !applied {
		return false
	}
	if sessionID != "" {
		if err := s.store.UpdateSession(ctx, sessionID, func(sess *models.Session) {
			sess.ProcessingStatus = models.ProcessingFailed
			sess.ProcessingError = msg
		}); err != nil && !errors.Is(err, store.ErrNotFound) {
			slog.Warn("failed to mark session failed", "session_id", sessionID, "error", err)
		}
	}
	if s.metrics != nil {
		s.metrics.JobFailed()
	}
	return true
}

// GetProgress returns the current job snapshot.
func (s *JobService) GetProgress(ctx context.Context, jobID string) (*models.UploadJob, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, notFound(err, "job", jobID)
	}
	return job, nil
}

// CancelResult is the outcome of a cancel request.
type CancelResult struct {
	Message         string           `json:"message"`
	Status          models.JobStatus `json:"status"`
	AlreadyFinished bool             `json:"alreadyFinished"`
}

// Cancel marks a running job FAILED. Cancelling a finished job changes
// nothing and is not an error. In-flight analysis calls are not interrupted;
// the pipeline notices at its next check.
func (s *JobService) Cancel(ctx context.Context, jobID string) (*CancelResult, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, notFound(err, "job", jobID)
	}
	if job.Status.IsTerminal() {
		return &CancelResult{Message: "Job already finished", Status: job.Status, AlreadyFinished: true}, nil
	}

	if !s.finish(ctx, jobID, job.SessionID, CancelledMessage) {
		// Lost the race against the pipeline finishing.
		job, err = s.store.GetJob(ctx, jobID)
		if err != nil {
			return nil, notFound(err, "job", jobID)
		}
		return &CancelResult{Message: "Job already finished", Status: job.Status, AlreadyFinished: true}, nil
	}

	slog.Info("job cancelled", "job_id", jobID, "stage", job.CurrentStage)
	return &CancelResult{Message: "Job cancelled", Status: models.JobStatusFailed}, nil
}

// Retry queues a fresh job for the artifact, engagement, session and options
// of a finished job. The old job is left untouched.
func (s *JobService) Retry(ctx context.Context, jobID string) (*StartResult, error) {
	old, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, notFound(err, "job", jobID)
	}
	if !old.Status.IsTerminal() {
		return nil, apperr.Conflict("job %q is still %s", jobID, old.Status)
	}
	analyzers, err := analyzersFor(s.registry, old.Options)
	if err != nil {
		return nil, err
	}
	data, err := s.blobs.Get(ctx, old.Artifact.StoragePath)
	if err != nil {
		return nil, apperr.Storage(err)
	}

	session, err := s.store.GetSession(ctx, old.SessionID)
	created := false
	switch {
	case errors.Is(err, store.ErrNotFound):
		session, created, err = s.resolveSession(ctx, old.DesignWeekID, "")
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, apperr.Persistence(err)
	}

	job := &models.UploadJob{
		ID:           uuid.New().String(),
		DesignWeekID: old.DesignWeekID,
		SessionID:    session.ID,
		Artifact:     old.Artifact,
		Options:      old.Options,
		Status:       models.JobStatusQueued,
		CurrentStage: models.StageClassification,
		RetryOf:      old.ID,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.enqueue(ctx, job, session, created); err != nil {
		return nil, err
	}

	slog.Info("job retried", "job_id", job.ID, "retry_of", old.ID, "session_id", session.ID)
	s.launch(job, session, data, analyzers)
	return &StartResult{JobID: job.ID, SessionID: session.ID, Status: job.Status}, nil
}

// ListJobs returns an engagement's jobs, most recent first.
func (s *JobService) ListJobs(ctx context.Context, engagementID string) ([]*models.UploadJob, error) {
	if _, err := s.directory.Lookup(ctx, engagementID); err != nil {
		return nil, err
	}
	jobs, err := s.store.ListJobs(ctx, engagementID)
	if err != nil {
		return nil, apperr.Persistence(err)
	}
	return jobs, nil
}

// ListItems returns the current items of a session.
func (s *JobService) ListItems(ctx context.Context, sessionID string) ([]*models.ExtractedItem, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, notFound(err, "session", sessionID)
	}
	items, err := s.store.ListItems(ctx, sessionID)
	if err != nil {
		return nil, apperr.Persistence(err)
	}
	return items, nil
}

// RecoverOrphaned fails every job left QUEUED or PROCESSING by a previous
// process. Nothing is resumed. It returns the number of jobs failed.
func (s *JobService) RecoverOrphaned(ctx context.Context) (int, error) {
	jobs, err := s.store.ListUnfinishedJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list unfinished jobs: %w", err)
	}
	if len(jobs) == 0 {
		slog.Info("no orphaned jobs")
		return 0, nil
	}

	n := 0
	for _, job := range jobs {
		if s.finish(ctx, job.ID, job.SessionID, InterruptedMessage) {
			n++
			slog.Info("orphaned job failed", "job_id", job.ID, "stage", job.CurrentStage)
		}
	}
	slog.Info("orphan recovery complete", "found", len(jobs), "failed", n)
	return n, nil
}

// Wait blocks until every launched job returns.
func (s *JobService) Wait() {
	s.wg.Wait()
}

// Shutdown waits for running jobs until ctx is done, then cancels them.
func (s *JobService) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.stopRuns()
		<-done
		return ctx.Err()
	}
}
