// Package analysis is the content-analysis capability used by the pipeline:
// it turns an artifact or transcript into a classification or a list of
// proposed items, on top of one or more language-model backends.
package analysis

import (
	"context"
	"time"

	"github.com/raphaelgruber/intake/internal/models"
)

// Task selects the prompt and output shape of an analysis call.
type Task string

const (
	TaskClassify    Task = "classification"
	TaskGeneral     Task = "general_extraction"
	TaskSpecialized Task = "specialized_extraction"
	TaskRefine      Task = "refine"
	TaskTranscript  Task = "transcript_extraction"
)

// Stage returns the pipeline stage items produced by t are attributed to.
func (t Task) Stage() models.Stage {
	switch t {
	case TaskClassify:
		return models.StageClassification
	case TaskSpecialized, TaskRefine:
		return models.StageSpecializedExtraction
	default:
		return models.StageGeneralExtraction
	}
}

// Content is what gets analyzed: either text or a binary attachment.
type Content struct {
	Text     string
	Data     []byte
	MIMEType string
	Filename string
}

// IsText reports whether the content is sent inline as text.
func (c Content) IsText() bool {
	return len(c.Data) == 0
}

// Options tune a single call.
type Options struct {
	// Session type to focus specialized extraction on
	SessionType models.SessionType
	// Items to re-examine (TaskRefine)
	Items []models.ProposedItem
	// 1-based chunk position when a transcript is analyzed in parts
	Part, Parts int

	// Attribution for the operations log
	JobID     string
	SessionID string
}

// Classification is the coarse content type of a session.
type Classification struct {
	Type       models.SessionType `json:"session_type"`
	Confidence float64            `json:"confidence"`
	Rationale  string             `json:"rationale,omitempty"`
}

// Result is the outcome of one analysis call.
type Result struct {
	Items          []models.ProposedItem
	Classification *Classification
	Usage          models.Usage
	Latency        time.Duration
	Model          string
}

// Analyzer is the content-analysis capability.
//
// Analyze may return a non-nil Result alongside an error when the backend
// answered but the answer could not be used; the Result then carries usage
// only.
type Analyzer interface {
	Analyze(ctx context.Context, content Content, task Task, opts Options) (*Result, error)
	Name() string
}
