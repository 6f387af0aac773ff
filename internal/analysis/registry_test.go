package analysis_test

import (
	"errors"
	"testing"

	"github.com/raphaelgruber/intake/internal/analysis"
	"github.com/raphaelgruber/intake/internal/analysis/analysistest"
	"github.com/raphaelgruber/intake/internal/apperr"
)

func TestRegistry(t *testing.T) {
	primary := analysistest.New("primary")
	r := analysis.NewRegistry(primary, analysistest.New("fast"))
	r.Register("careful", analysistest.New("careful"))

	if r.Default() != primary {
		t.Error("first registered analyzer should be the default")
	}
	if got := r.Names(); len(got) != 3 || got[2] != "careful" {
		t.Errorf("Names() = %v", got)
	}

	resolved, err := r.Resolve([]string{"fast", "primary"})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if resolved[0].Name() != "fast" || resolved[1].Name() != "primary" {
		t.Error("Resolve() should keep requested order")
	}

	if _, err := r.Resolve([]string{"fast", "gpt-9"}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("unknown model error = %v, want validation", err)
	}
	if _, err := r.Resolve([]string{"fast", "fast"}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("duplicate model error = %v, want validation", err)
	}
	if analysis.NewRegistry().Default() != nil {
		t.Error("empty registry default should be nil")
	}
}
