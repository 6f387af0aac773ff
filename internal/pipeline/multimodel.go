package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/raphaelgruber/intake/internal/analysis"
	"github.com/raphaelgruber/intake/internal/models"
)

// analyze calls every analyzer of the run with the same input. With a single
// analyzer the result is returned as is; with several, item lists and
// classifications are reconciled. A model that fails contributes nothing;
// the call fails only when all of them do.
func (r *Run) analyze(ctx context.Context, content analysis.Content, task analysis.Task, opts analysis.Options) (*analysis.Result, error) {
	opts = r.options(opts)

	if len(r.Analyzers) == 1 {
		res, err := r.Analyzers[0].Analyze(ctx, content, task, opts)
		if res != nil {
			r.Usage = r.Usage.Add(res.Usage)
		}
		return res, err
	}

	merged := &analysis.Result{}
	var (
		votes    []analysis.Classification
		perModel [][]models.ProposedItem
		names    []string
		errs     []error
	)
	for _, a := range r.Analyzers {
		res, err := a.Analyze(ctx, content, task, opts)
		if res != nil {
			merged.Usage = merged.Usage.Add(res.Usage)
			merged.Latency += res.Latency
		}
		if err == nil && task == analysis.TaskClassify && (res == nil || res.Classification == nil) {
			err = errors.New("no classification returned")
		}
		if err != nil {
			// Cancellation and deadlines apply to every model equally.
			if ctxErr := ctx.Err(); ctxErr != nil {
				r.Usage = r.Usage.Add(merged.Usage)
				return nil, ctxErr
			}
			slog.Warn("model failed in multi-model run",
				"job_id", r.Job.ID, "model", a.Name(), "task", task, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", a.Name(), err))
			continue
		}
		names = append(names, a.Name())
		if task == analysis.TaskClassify {
			votes = append(votes, *res.Classification)
			continue
		}
		var items []models.ProposedItem
		if res != nil {
			items = res.Items
		}
		perModel = append(perModel, items)
	}
	r.Usage = r.Usage.Add(merged.Usage)

	if len(names) == 0 {
		return merged, errors.Join(errs...)
	}
	merged.Model = strings.Join(names, "+")
	if task == analysis.TaskClassify {
		c := analysis.ReconcileClassification(votes)
		merged.Classification = &c
	} else {
		merged.Items = analysis.ReconcileItems(perModel)
	}
	return merged, nil
}
