// Package pipeline runs an upload job through the ordered extraction stages.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/raphaelgruber/intake/internal/analysis"
	"github.com/raphaelgruber/intake/internal/apperr"
	"github.com/raphaelgruber/intake/internal/models"
	"github.com/raphaelgruber/intake/internal/transcript"
)

// ErrCancelled is returned when the job reached a terminal state while the
// pipeline was still running, normally because a user cancelled it.
var ErrCancelled = errors.New("job cancelled")

// Run carries state through the stages of one job.
type Run struct {
	Job     *models.UploadJob
	Session *models.Session

	// Content is the whole artifact. Parts is what extraction iterates over:
	// transcript chunks for text, or the single binary attachment.
	Content analysis.Content
	Parts   []analysis.Content
	Meta    *transcript.Meta

	// Analyzers to call. More than one means multi-model reconciliation.
	Analyzers []analysis.Analyzer

	// Set by classification
	Classification analysis.Classification

	// Current item set, replaced by each extraction stage
	Items []models.ProposedItem
	Usage models.Usage

	report      func(ctx context.Context, p models.StageProgress) error
	isCancelled func(ctx context.Context) (bool, error)
	lastPercent int
}

// NewRun prepares a run for job from the stored artifact bytes. Plain-text
// artifacts are parsed as transcripts and chunked.
func NewRun(job *models.UploadJob, session *models.Session, data []byte, analyzers []analysis.Analyzer) (*Run, error) {
	if len(analyzers) == 0 {
		return nil, fmt.Errorf("no analyzers configured")
	}
	run := &Run{Job: job, Session: session, Analyzers: analyzers}

	if strings.HasPrefix(job.Artifact.MIMEType, "text/") {
		tr, err := transcript.Parse(string(data))
		if err != nil {
			return nil, apperr.Validation("invalid transcript: %v", err)
		}
		chunks := tr.Chunks(transcript.DefaultChunkConfig())
		if len(chunks) == 0 {
			return nil, apperr.Validation("transcript %q is empty", job.Artifact.Filename)
		}
		run.Meta = &tr.Meta
		run.Content = analysis.Content{Text: tr.Content, Filename: job.Artifact.Filename, MIMEType: job.Artifact.MIMEType}
		for _, c := range chunks {
			run.Parts = append(run.Parts, analysis.Content{
				Text:     c.Content,
				Filename: job.Artifact.Filename,
				MIMEType: job.Artifact.MIMEType,
			})
		}
		return run, nil
	}

	run.Content = analysis.Content{Data: data, MIMEType: job.Artifact.MIMEType, Filename: job.Artifact.Filename}
	run.Parts = []analysis.Content{run.Content}
	return run, nil
}

// Report persists a progress snapshot for the current stage.
func (r *Run) Report(ctx context.Context, stage models.Stage, status models.StageStatus, percent int, msg string, details map[string]any) error {
	percent = max(0, min(100, percent))
	if percent < r.lastPercent && status != models.StageStatusStarted {
		percent = r.lastPercent
	}
	r.lastPercent = percent
	if r.report == nil {
		return nil
	}
	return r.report(ctx, models.StageProgress{
		Stage:   stage,
		Status:  status,
		Percent: percent,
		Message: msg,
		Details: details,
	})
}

// Cancelled reports whether the job has been finished by someone else.
func (r *Run) Cancelled(ctx context.Context) (bool, error) {
	if r.isCancelled == nil {
		return false, nil
	}
	return r.isCancelled(ctx)
}

func (r *Run) options(o analysis.Options) analysis.Options {
	o.JobID = r.Job.ID
	o.SessionID = r.Session.ID
	return o
}
