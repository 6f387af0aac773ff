package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/intake/internal/models"
)

// Request is a single prompt sent to a backend.
type Request struct {
	System      string
	Prompt      string
	Attachment  *Attachment
	MaxTokens   int
	Temperature float64
	JSON        bool
}

// Attachment is binary source content sent alongside the prompt.
type Attachment struct {
	Data     []byte
	MIMEType string
	Filename string
}

// Response is a backend's answer.
type Response struct {
	Text  string
	Usage models.Usage
	Model string
}

// Generator is a language-model backend.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	Model() string
}

// LLMAnalyzer implements Analyzer by prompting a Generator for JSON.
type LLMAnalyzer struct {
	gen  Generator
	name string
}

// NewLLMAnalyzer creates an analyzer over gen. An empty name defaults to the
// backend's model name.
func NewLLMAnalyzer(gen Generator, name string) *LLMAnalyzer {
	if name == "" {
		name = gen.Model()
	}
	return &LLMAnalyzer{gen: gen, name: name}
}

// Name returns the analyzer's registry name.
func (a *LLMAnalyzer) Name() string {
	return a.name
}

// Analyze runs task against content.
func (a *LLMAnalyzer) Analyze(ctx context.Context, content Content, task Task, opts Options) (*Result, error) {
	req, err := buildRequest(content, task, opts)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := a.gen.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", task, wrapFatalError(err))
	}

	result := &Result{
		Usage:   resp.Usage,
		Latency: time.Since(start),
		Model:   resp.Model,
	}
	if result.Model == "" {
		result.Model = a.gen.Model()
	}

	if task == TaskClassify {
		c, err := parseClassification(resp.Text)
		if err != nil {
			return result, fmt.Errorf("%s: %w", task, err)
		}
		result.Classification = c
		return result, nil
	}

	items, err := parseItems(resp.Text, task.Stage())
	if err != nil {
		return result, fmt.Errorf("%s: %w", task, err)
	}
	result.Items = items
	return result, nil
}
