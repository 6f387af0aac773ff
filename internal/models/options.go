package models

import (
	"fmt"
	"strings"
)

// ExtractionMode selects how the extraction stages are executed.
type ExtractionMode string

const (
	ModeStandard   ExtractionMode = "standard"
	ModeMultiModel ExtractionMode = "multi-model"
	ModeTwoPass    ExtractionMode = "two-pass"
)

// ParseExtractionMode accepts the wire forms of a mode. Empty means standard.
func ParseExtractionMode(s string) (ExtractionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "standard":
		return ModeStandard, nil
	case "multi-model", "multi_model", "multimodel":
		return ModeMultiModel, nil
	case "two-pass", "two_pass", "twopass":
		return ModeTwoPass, nil
	default:
		return "", fmt.Errorf("invalid extraction mode %q", s)
	}
}

// ExtractionOptions is per-run configuration. It is stored on the job only so
// a retry can repeat the run.
type ExtractionOptions struct {
	Mode              ExtractionMode `json:"mode"`
	Models            []string       `json:"models,omitempty"`
	SecondPassEnabled bool           `json:"second_pass_enabled"`
}

// NewExtractionOptions builds validated options for mode.
func NewExtractionOptions(mode ExtractionMode, models []string) (ExtractionOptions, error) {
	opts := ExtractionOptions{
		Mode:              mode,
		SecondPassEnabled: mode == ModeTwoPass,
	}
	if mode == ModeMultiModel {
		for _, m := range models {
			if m = strings.TrimSpace(m); m != "" {
				opts.Models = append(opts.Models, m)
			}
		}
	}
	return opts, opts.Validate()
}

// Validate checks the mode-dependent invariants.
func (o ExtractionOptions) Validate() error {
	switch o.Mode {
	case ModeStandard, ModeTwoPass:
	case ModeMultiModel:
		if len(o.Models) < 2 {
			return fmt.Errorf("multi-model extraction requires at least two models, got %d", len(o.Models))
		}
	default:
		return fmt.Errorf("invalid extraction mode %q", o.Mode)
	}
	if o.SecondPassEnabled != (o.Mode == ModeTwoPass) {
		return fmt.Errorf("second pass is only valid for two-pass mode")
	}
	return nil
}
