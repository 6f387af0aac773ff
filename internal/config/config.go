// Package config loads runtime configuration from the environment, an
// optional .env file and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Provider names accepted for analysis backends.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderBedrock   = "bedrock"
	ProviderGemini    = "gemini"
)

// Config holds all configuration values.
type Config struct {
	// HTTP server
	ServerPort int
	ServerURL  string

	// Store backend: "surreal" or "memory"
	Store string

	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Blob storage: "local" or "s3"
	BlobBackend string
	BlobRoot    string
	S3Bucket    string
	S3Prefix    string
	AWSRegion   string

	// Pipeline limits
	MaxUploadBytes int64
	StageTimeout   time.Duration

	// Analysis
	AnalysisProvider string
	AnalysisModel    string
	AnalysisModels   []NamedModel
	AnthropicAPIKey  string
	OpenAIAPIKey     string
	GeminiAPIKey     string
	OllamaHost       string

	// Optional PostgreSQL ops log
	OpsLogDSN string

	// Engagements
	EngagementCacheTTL time.Duration
	SeedEngagements    []string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// NamedModel is an additional analysis backend addressable by name in
// multi-model extraction.
type NamedModel struct {
	Name     string
	Provider string
	Model    string
}

// source resolves a key: environment first, then the YAML file.
type source struct {
	file map[string]string
}

// Load reads configuration. A .env file in the working directory is loaded
// first (missing file ignored); INTAKE_CONFIG may name a YAML file of
// KEY: value pairs that environment variables override.
func Load() (Config, error) {
	_ = godotenv.Load()

	src := source{}
	if path := os.Getenv("INTAKE_CONFIG"); path != "" {
		file, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		src.file = file
	}
	return src.load()
}

func (s source) load() (Config, error) {
	port, err := strconv.Atoi(s.get("INTAKE_SERVER_PORT", "8585"))
	if err != nil {
		return Config{}, fmt.Errorf("INTAKE_SERVER_PORT: %w", err)
	}
	maxUpload, err := strconv.ParseInt(s.get("INTAKE_MAX_UPLOAD_BYTES", "524288000"), 10, 64)
	if err != nil {
		return Config{}, fmt.Errorf("INTAKE_MAX_UPLOAD_BYTES: %w", err)
	}
	stageTimeout, err := time.ParseDuration(s.get("INTAKE_STAGE_TIMEOUT", "10m"))
	if err != nil {
		return Config{}, fmt.Errorf("INTAKE_STAGE_TIMEOUT: %w", err)
	}
	cacheTTL, err := time.ParseDuration(s.get("INTAKE_ENGAGEMENT_CACHE_TTL", "1m"))
	if err != nil {
		return Config{}, fmt.Errorf("INTAKE_ENGAGEMENT_CACHE_TTL: %w", err)
	}
	models, err := parseNamedModels(s.get("INTAKE_ANALYSIS_MODELS", ""))
	if err != nil {
		return Config{}, fmt.Errorf("INTAKE_ANALYSIS_MODELS: %w", err)
	}

	return Config{
		ServerPort: port,
		ServerURL:  s.get("INTAKE_SERVER_URL", fmt.Sprintf("http://localhost:%d", port)),

		Store: strings.ToLower(s.get("INTAKE_STORE", "surreal")),

		SurrealDBURL:       s.get("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: s.get("SURREALDB_NAMESPACE", "intake"),
		SurrealDBDatabase:  s.get("SURREALDB_DATABASE", "pipeline"),
		SurrealDBUser:      s.get("SURREALDB_USER", "root"),
		SurrealDBPass:      s.get("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: s.get("SURREALDB_AUTH_LEVEL", "root"),

		BlobBackend: strings.ToLower(s.get("INTAKE_BLOB_BACKEND", "local")),
		BlobRoot:    s.get("INTAKE_BLOB_ROOT", "/tmp/intake/uploads"),
		S3Bucket:    s.get("INTAKE_S3_BUCKET", ""),
		S3Prefix:    s.get("INTAKE_S3_PREFIX", "uploads/"),
		AWSRegion:   s.get("AWS_REGION", "us-east-1"),

		MaxUploadBytes: maxUpload,
		StageTimeout:   stageTimeout,

		AnalysisProvider: strings.ToLower(s.get("INTAKE_ANALYSIS_PROVIDER", ProviderAnthropic)),
		AnalysisModel:    s.get("INTAKE_ANALYSIS_MODEL", ""),
		AnalysisModels:   models,
		AnthropicAPIKey:  s.get("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:     s.get("OPENAI_API_KEY", ""),
		GeminiAPIKey:     s.get("GEMINI_API_KEY", ""),
		OllamaHost:       s.get("OLLAMA_HOST", "http://localhost:11434"),

		OpsLogDSN: s.get("INTAKE_OPSLOG_DSN", ""),

		EngagementCacheTTL: cacheTTL,
		SeedEngagements:    splitList(s.get("INTAKE_SEED_ENGAGEMENTS", "")),

		LogFile:  s.get("INTAKE_LOG_FILE", "/tmp/intake.log"),
		LogLevel: parseLogLevel(s.get("INTAKE_LOG_LEVEL", "INFO")),
	}, nil
}

// Validate reports configuration that would only fail later at first use.
func (c Config) Validate() error {
	var errs []error
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		errs = append(errs, fmt.Errorf("server port %d out of range", c.ServerPort))
	}
	switch c.Store {
	case "surreal", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	switch c.BlobBackend {
	case "local":
		if c.BlobRoot == "" {
			errs = append(errs, errors.New("INTAKE_BLOB_ROOT is required for local blob backend"))
		}
	case "s3":
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("INTAKE_S3_BUCKET is required for s3 blob backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob backend %q", c.BlobBackend))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("max upload bytes must be positive"))
	}
	if c.StageTimeout <= 0 {
		errs = append(errs, errors.New("stage timeout must be positive"))
	}
	if err := c.checkProvider(c.AnalysisProvider); err != nil {
		errs = append(errs, err)
	}
	for _, m := range c.AnalysisModels {
		if err := c.checkProvider(m.Provider); err != nil {
			errs = append(errs, fmt.Errorf("model %q: %w", m.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (c Config) checkProvider(provider string) error {
	switch provider {
	case ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			return errors.New("ANTHROPIC_API_KEY is required for provider anthropic")
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return errors.New("OPENAI_API_KEY is required for provider openai")
		}
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return errors.New("GEMINI_API_KEY is required for provider gemini")
		}
	case ProviderOllama, ProviderBedrock:
	default:
		return fmt.Errorf("unknown analysis provider %q", provider)
	}
	return nil
}

func (s source) get(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	if val, ok := s.file[key]; ok && val != "" {
		return val
	}
	return defaultVal
}

func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
		case []any:
			parts := make([]string, 0, len(val))
			for _, p := range val {
				parts = append(parts, fmt.Sprint(p))
			}
			out[k] = strings.Join(parts, ",")
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out, nil
}

// parseNamedModels parses "fast=ollama:llama3,careful=anthropic:claude-sonnet-4-5".
func parseNamedModels(s string) ([]NamedModel, error) {
	var out []NamedModel
	for _, entry := range splitList(s) {
		name, spec, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("entry %q: want name=provider:model", entry)
		}
		provider, model, ok := strings.Cut(spec, ":")
		if !ok || strings.TrimSpace(name) == "" || strings.TrimSpace(provider) == "" {
			return nil, fmt.Errorf("entry %q: want name=provider:model", entry)
		}
		out = append(out, NamedModel{
			Name:     strings.TrimSpace(name),
			Provider: strings.ToLower(strings.TrimSpace(provider)),
			Model:    strings.TrimSpace(model),
		})
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
