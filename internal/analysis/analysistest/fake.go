// Package analysistest provides a scripted Analyzer for tests.
package analysistest

import (
	"context"
	"sync"

	"github.com/raphaelgruber/intake/internal/analysis"
	"github.com/raphaelgruber/intake/internal/models"
)

// Call records one Analyze invocation.
type Call struct {
	Task    analysis.Task
	Content analysis.Content
	Opts    analysis.Options
}

// Fake returns canned results per task. The zero value is not usable; use New.
type Fake struct {
	mu sync.Mutex

	name           string
	classification analysis.Classification
	items          map[analysis.Task][]models.ProposedItem
	errs           map[analysis.Task]error
	usage          models.Usage
	hook           func(ctx context.Context, call Call) error
	calls          []Call
}

// New creates a Fake that classifies as unknown and extracts nothing.
func New(name string) *Fake {
	return &Fake{
		name:           name,
		classification: analysis.Classification{Type: models.SessionUnknown},
		items:          make(map[analysis.Task][]models.ProposedItem),
		errs:           make(map[analysis.Task]error),
		usage:          models.Usage{InputTokens: 100, OutputTokens: 20},
	}
}

// WithClassification sets the classification result.
func (f *Fake) WithClassification(t models.SessionType, confidence float64) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.classification = analysis.Classification{Type: t, Confidence: confidence}
	return f
}

// WithItems sets the items returned for task.
func (f *Fake) WithItems(task analysis.Task, items ...models.ProposedItem) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[task] = items
	return f
}

// WithError makes task fail with err.
func (f *Fake) WithError(task analysis.Task, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[task] = err
	return f
}

// WithHook runs fn at the start of every call. A non-nil error fails the call.
func (f *Fake) WithHook(fn func(ctx context.Context, call Call) error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hook = fn
	return f
}

// Name implements analysis.Analyzer.
func (f *Fake) Name() string {
	return f.name
}

// Analyze implements analysis.Analyzer. Refine echoes its input items unless
// items were scripted for TaskRefine.
func (f *Fake) Analyze(ctx context.Context, content analysis.Content, task analysis.Task, opts analysis.Options) (*analysis.Result, error) {
	call := Call{Task: task, Content: content, Opts: opts}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	hook := f.hook
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, call); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.errs[task]; err != nil {
		return nil, err
	}
	res := &analysis.Result{Usage: f.usage, Model: f.name}
	switch task {
	case analysis.TaskClassify:
		c := f.classification
		res.Classification = &c
	case analysis.TaskRefine:
		if scripted, ok := f.items[task]; ok {
			res.Items = stamp(scripted, task)
		} else {
			res.Items = stamp(opts.Items, task)
		}
	default:
		res.Items = stamp(f.items[task], task)
	}
	return res, nil
}

func stamp(items []models.ProposedItem, task analysis.Task) []models.ProposedItem {
	out := make([]models.ProposedItem, len(items))
	for i, item := range items {
		if item.Stage == "" {
			item.Stage = task.Stage()
		}
		out[i] = item
	}
	return out
}

// Calls returns a copy of the recorded calls.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallCount returns how many times task was requested.
func (f *Fake) CallCount(task analysis.Task) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Task == task {
			n++
		}
	}
	return n
}

// Item is a shorthand for building a proposed item.
func Item(t models.ItemType, content string, confidence float64) models.ProposedItem {
	return models.ProposedItem{Type: t, Content: content, Confidence: confidence}
}
