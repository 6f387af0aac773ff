package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/intake/internal/apperr"
	"github.com/raphaelgruber/intake/internal/metrics"
	"github.com/raphaelgruber/intake/internal/models"
	"github.com/raphaelgruber/intake/internal/store"
)

// DefaultStageTimeout bounds a single stage when no timeout is configured.
const DefaultStageTimeout = 10 * time.Minute

// Config configures an Orchestrator.
type Config struct {
	Jobs         store.Jobs
	Sessions     store.Sessions
	Stages       []Stage
	Metrics      *metrics.Collector
	StageTimeout time.Duration
}

// Orchestrator sequences the stages of a job and keeps the job record in
// step. It is the only writer of a job besides cancellation.
type Orchestrator struct {
	jobs     store.Jobs
	sessions store.Sessions
	stages   []Stage
	metrics  *metrics.Collector
	timeout  time.Duration
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	timeout := cfg.StageTimeout
	if timeout <= 0 {
		timeout = DefaultStageTimeout
	}
	return &Orchestrator{
		jobs:     cfg.Jobs,
		sessions: cfg.Sessions,
		stages:   cfg.Stages,
		metrics:  cfg.Metrics,
		timeout:  timeout,
	}
}

// Execute runs every stage of run in order. Any stage error fails the job
// and stops the run. ErrCancelled is returned when the job went terminal
// underneath the run; the job record is then left as it was found.
func (o *Orchestrator) Execute(ctx context.Context, run *Run) error {
	jobID := run.Job.ID
	run.report = func(ctx context.Context, p models.StageProgress) error {
		return o.persistProgress(ctx, jobID, p)
	}
	run.isCancelled = func(ctx context.Context) (bool, error) {
		return o.terminal(ctx, jobID)
	}

	if len(o.stages) == 0 {
		return fmt.Errorf("no stages configured")
	}
	applied, err := o.jobs.UpdateJob(ctx, jobID, store.JobUpdate{
		Status:       models.JobStatusProcessing,
		CurrentStage: o.stages[0].Name(),
	})
	if err != nil {
		return o.fail(ctx, run, o.stages[0].Name(), apperr.Persistence(err))
	}
	if !applied {
		slog.Info("job already finished, not starting", "job_id", jobID)
		return ErrCancelled
	}
	o.setSession(ctx, run, models.ProcessingProcessing, "")
	slog.Info("job processing", "job_id", jobID, "mode", run.Job.Options.Mode, "parts", len(run.Parts))

	for _, stage := range o.stages {
		done, err := o.terminal(ctx, jobID)
		if err != nil {
			return o.fail(ctx, run, stage.Name(), apperr.Persistence(err))
		}
		if done {
			slog.Info("job finished externally, abandoning run", "job_id", jobID, "stage", stage.Name())
			return ErrCancelled
		}

		if err := run.Report(ctx, stage.Name(), models.StageStatusStarted, 0,
			fmt.Sprintf("Starting %s", stage.Name()), nil); err != nil {
			if errors.Is(err, ErrCancelled) {
				slog.Info("job finished externally, abandoning run", "job_id", jobID, "stage", stage.Name())
				return err
			}
			return o.fail(ctx, run, stage.Name(), apperr.Persistence(err))
		}

		start := time.Now()
		err = o.runStage(ctx, stage, run)
		elapsed := time.Since(start)
		if o.metrics != nil {
			o.metrics.RecordStage(string(stage.Name()), elapsed, err == nil)
		}

		if errors.Is(err, ErrCancelled) {
			slog.Info("job finished externally, abandoning run", "job_id", jobID, "stage", stage.Name())
			return err
		}
		if err != nil {
			return o.fail(ctx, run, stage.Name(), err)
		}
		slog.Info("stage completed", "job_id", jobID, "stage", stage.Name(), "duration", elapsed)
	}

	return o.complete(ctx, run)
}

// runStage executes one stage under the stage timeout, converting panics
// into errors.
func (o *Orchestrator) runStage(ctx context.Context, stage Stage, run *Run) (err error) {
	stageCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("stage panicked", "job_id", run.Job.ID, "stage", stage.Name(), "panic", r)
			err = fmt.Errorf("internal panic in %s: %v", stage.Name(), r)
		}
	}()

	err = stage.Execute(stageCtx, run)
	if err != nil && ctx.Err() == nil && errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%s timed out after %s: %w", stage.Name(), o.timeout, err)
	}
	return err
}

func (o *Orchestrator) persistProgress(ctx context.Context, jobID string, p models.StageProgress) error {
	applied, err := o.jobs.UpdateJob(ctx, jobID, store.JobUpdate{
		CurrentStage:  p.Stage,
		StageProgress: &p,
	})
	if err != nil {
		return fmt.Errorf("persist progress: %w", err)
	}
	if !applied {
		return ErrCancelled
	}
	return nil
}

func (o *Orchestrator) terminal(ctx context.Context, jobID string) (bool, error) {
	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("load job: %w", err)
	}
	return job.Status.IsTerminal(), nil
}

// fail records err on the job and session and returns it.
func (o *Orchestrator) fail(ctx context.Context, run *Run, stage models.Stage, err error) error {
	// Terminal writes must land even if the run context is gone.
	ctx = context.WithoutCancel(ctx)
	msg := apperr.Sanitize(err.Error())
	now := time.Now().UTC()

	applied, uerr := o.jobs.UpdateJob(ctx, run.Job.ID, store.JobUpdate{
		Status:       models.JobStatusFailed,
		CurrentStage: stage,
		StageProgress: &models.StageProgress{
			Stage:   stage,
			Status:  models.StageStatusFailed,
			Percent: run.lastPercent,
			Message: msg,
		},
		Error:       msg,
		CompletedAt: &now,
	})
	if uerr != nil {
		slog.Warn("failed to persist job failure", "job_id", run.Job.ID, "error", uerr)
	}
	if !applied && uerr == nil {
		slog.Info("job already finished, failure not recorded", "job_id", run.Job.ID, "stage", stage)
		return err
	}

	o.setSession(ctx, run, models.ProcessingFailed, msg)
	if o.metrics != nil {
		o.metrics.JobFailed()
	}
	slog.Error("job failed", "job_id", run.Job.ID, "stage", stage, "error", msg)
	return err
}

func (o *Orchestrator) complete(ctx context.Context, run *Run) error {
	ctx = context.WithoutCancel(ctx)
	now := time.Now().UTC()

	applied, err := o.jobs.UpdateJob(ctx, run.Job.ID, store.JobUpdate{
		Status:       models.JobStatusComplete,
		CurrentStage: models.StageComplete,
		StageProgress: &models.StageProgress{
			Stage:   models.StageComplete,
			Status:  models.StageStatusCompleted,
			Percent: 100,
			Message: "Extraction complete",
			Details: map[string]any{
				"items":         len(run.Items),
				"input_tokens":  run.Usage.InputTokens,
				"output_tokens": run.Usage.OutputTokens,
			},
		},
		CompletedAt: &now,
	})
	if err != nil {
		return o.fail(ctx, run, models.StageComplete, apperr.Persistence(err))
	}
	if !applied {
		slog.Info("job finished externally before completion", "job_id", run.Job.ID)
		return ErrCancelled
	}

	o.setSession(ctx, run, models.ProcessingComplete, "")
	if o.metrics != nil {
		o.metrics.JobCompleted()
	}
	slog.Info("job completed",
		"job_id", run.Job.ID,
		"items", len(run.Items),
		"input_tokens", run.Usage.InputTokens,
		"output_tokens", run.Usage.OutputTokens)
	return nil
}

func (o *Orchestrator) setSession(ctx context.Context, run *Run, status models.ProcessingStatus, msg string) {
	if o.sessions == nil {
		return
	}
	err := o.sessions.UpdateSession(ctx, run.Session.ID, func(s *models.Session) {
		s.ProcessingStatus = status
		s.ProcessingError = msg
		if run.Session.UploadJobID != "" {
			s.UploadJobID = run.Session.UploadJobID
		}
	})
	if err != nil {
		slog.Warn("failed to update session status", "session_id", run.Session.ID, "status", status, "error", err)
	}
}
