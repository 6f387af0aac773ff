// Package service implements the job control surface of the ingestion
// pipeline: starting, inspecting, cancelling and retrying upload jobs, the
// synchronous transcript extraction, and the item sink both share.
package service

import (
	"errors"
	"fmt"

	"github.com/raphaelgruber/intake/internal/analysis"
	"github.com/raphaelgruber/intake/internal/apperr"
	"github.com/raphaelgruber/intake/internal/models"
	"github.com/raphaelgruber/intake/internal/store"
)

// Messages recorded on jobs finished outside the pipeline.
const (
	CancelledMessage   = "Cancelled by user"
	InterruptedMessage = "interrupted by server restart"
)

// analyzersFor selects the analyzers a run with opts uses.
func analyzersFor(registry *analysis.Registry, opts models.ExtractionOptions) ([]analysis.Analyzer, error) {
	if opts.Mode == models.ModeMultiModel {
		return registry.Resolve(opts.Models)
	}
	a := registry.Default()
	if a == nil {
		return nil, fmt.Errorf("no analysis model configured")
	}
	return []analysis.Analyzer{a}, nil
}

// notFound maps store.ErrNotFound to an apperr not-found error and anything
// else to a persistence error.
func notFound(err error, what, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(what, id)
	}
	return apperr.Persistence(err)
}
