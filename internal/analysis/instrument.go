package analysis

import (
	"context"
	"log/slog"
	"time"

	"github.com/raphaelgruber/intake/internal/apperr"
	"github.com/raphaelgruber/intake/internal/metrics"
	"github.com/raphaelgruber/intake/internal/models"
)

// OpLog is the append-only operations log.
type OpLog interface {
	Append(ctx context.Context, entry models.OperationLog) error
}

// Instrumented wraps an Analyzer, writing one operations-log entry and one
// metrics sample per call.
type Instrumented struct {
	next    Analyzer
	log     OpLog
	metrics *metrics.Collector
}

// Instrument wraps next. log and m may be nil.
func Instrument(next Analyzer, log OpLog, m *metrics.Collector) *Instrumented {
	return &Instrumented{next: next, log: log, metrics: m}
}

// Name returns the wrapped analyzer's name.
func (i *Instrumented) Name() string {
	return i.next.Name()
}

// Analyze delegates and records the outcome.
func (i *Instrumented) Analyze(ctx context.Context, content Content, task Task, opts Options) (*Result, error) {
	start := time.Now()
	res, err := i.next.Analyze(ctx, content, task, opts)
	latency := time.Since(start)

	entry := models.OperationLog{
		Pipeline:  string(task),
		Model:     i.next.Name(),
		LatencyMs: latency.Milliseconds(),
		Success:   err == nil,
		JobID:     opts.JobID,
		SessionID: opts.SessionID,
		CreatedAt: time.Now().UTC(),
	}
	if res != nil {
		entry.InputTokens = res.Usage.InputTokens
		entry.OutputTokens = res.Usage.OutputTokens
		if res.Model != "" {
			entry.Model = res.Model
		}
	}
	if err != nil {
		entry.Error = apperr.Sanitize(err.Error())
	}

	if i.log != nil {
		// Record even when the caller's context was cancelled mid-call.
		if logErr := i.log.Append(context.WithoutCancel(ctx), entry); logErr != nil {
			slog.Warn("failed to append operation log", "pipeline", entry.Pipeline, "error", logErr)
		}
	}
	if i.metrics != nil {
		i.metrics.RecordAnalysis(entry.Pipeline, latency, int64(entry.InputTokens), int64(entry.OutputTokens), entry.Success)
	}

	slog.Debug("analysis call",
		"pipeline", entry.Pipeline,
		"model", entry.Model,
		"latency_ms", entry.LatencyMs,
		"input_tokens", entry.InputTokens,
		"output_tokens", entry.OutputTokens,
		"success", entry.Success)

	return res, err
}
