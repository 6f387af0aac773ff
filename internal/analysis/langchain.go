package analysis

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/intake/internal/models"
	"github.com/tmc/langchaingo/llms"
)

// LangChain is a Generator over any langchaingo model (Anthropic, OpenAI,
// Ollama).
type LangChain struct {
	llm       llms.Model
	modelName string
}

// NewLangChain wraps a langchaingo model.
func NewLangChain(llm llms.Model, modelName string) *LangChain {
	return &LangChain{llm: llm, modelName: modelName}
}

// Model returns the LLM model name.
func (l *LangChain) Model() string {
	return l.modelName
}

// Generate sends a system + human message, attaching binary content as a
// binary part.
func (l *LangChain) Generate(ctx context.Context, req Request) (*Response, error) {
	human := []llms.ContentPart{llms.TextContent{Text: req.Prompt}}
	if req.Attachment != nil {
		human = append(human, llms.BinaryPart(req.Attachment.MIMEType, req.Attachment.Data))
	}
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, req.System),
		{Role: llms.ChatMessageTypeHuman, Parts: human},
	}

	opts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	if req.JSON {
		opts = append(opts, llms.WithJSONMode())
	}

	response, err := l.llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no response choices")
	}

	choice := response.Choices[0]
	return &Response{
		Text: choice.Content,
		Usage: models.Usage{
			InputTokens:  tokenCount(choice.GenerationInfo, "InputTokens", "PromptTokens", "prompt_eval_count"),
			OutputTokens: tokenCount(choice.GenerationInfo, "OutputTokens", "CompletionTokens", "eval_count"),
		},
		Model: l.modelName,
	}, nil
}

// tokenCount reads the first present key. Providers disagree on both the
// key names and the numeric type.
func tokenCount(info map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}
