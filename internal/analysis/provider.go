package analysis

import (
	"context"
	"fmt"
	"io"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/google/generative-ai-go/genai"
	"github.com/raphaelgruber/intake/internal/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"google.golang.org/api/option"
)

// DefaultModels is the model used per provider when none is configured.
var DefaultModels = map[string]string{
	config.ProviderAnthropic: "claude-sonnet-4-5",
	config.ProviderOpenAI:    "gpt-4o",
	config.ProviderOllama:    "llama3.1",
	config.ProviderBedrock:   "anthropic.claude-3-5-sonnet-20240620-v1:0",
	config.ProviderGemini:    "gemini-2.0-flash",
}

// NewGenerator creates a backend for provider. An empty model selects the
// provider default. The returned closer is nil when nothing needs releasing.
func NewGenerator(ctx context.Context, cfg config.Config, provider, model string) (Generator, io.Closer, error) {
	if model == "" {
		model = DefaultModels[provider]
	}

	var llm llms.Model
	var err error

	switch provider {
	case config.ProviderOllama:
		llm, err = ollama.New(
			ollama.WithModel(model),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, nil, fmt.Errorf("OpenAI API key required")
		}
		llm, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(model),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, nil, fmt.Errorf("Anthropic API key required")
		}
		llm, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(model),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("create anthropic model: %w", err)
		}

	case config.ProviderBedrock:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, nil, fmt.Errorf("load aws config: %w", err)
		}
		return NewBedrock(bedrockruntime.NewFromConfig(awsCfg), model), nil, nil

	case config.ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, nil, fmt.Errorf("Gemini API key required")
		}
		client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
		if err != nil {
			return nil, nil, fmt.Errorf("create gemini client: %w", err)
		}
		g := NewGemini(client, model)
		return g, g, nil

	default:
		return nil, nil, fmt.Errorf("unsupported analysis provider: %s", provider)
	}

	return NewLangChain(llm, model), nil, nil
}
