package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := source{}.load()
	if err != nil {
		t.Fatalf("load() error: %v", err)
	}
	if cfg.MaxUploadBytes != 500*1024*1024 {
		t.Errorf("MaxUploadBytes = %d, want 500 MiB", cfg.MaxUploadBytes)
	}
	if cfg.StageTimeout != 10*time.Minute {
		t.Errorf("StageTimeout = %v, want 10m", cfg.StageTimeout)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("INTAKE_STAGE_TIMEOUT", "30s")
	src := source{file: map[string]string{
		"INTAKE_STAGE_TIMEOUT": "5m",
		"INTAKE_SERVER_PORT":   "9000",
	}}
	cfg, err := src.load()
	if err != nil {
		t.Fatalf("load() error: %v", err)
	}
	if cfg.StageTimeout != 30*time.Second {
		t.Errorf("StageTimeout = %v, want env value 30s", cfg.StageTimeout)
	}
	if cfg.ServerPort != 9000 {
		t.Errorf("ServerPort = %d, want file value 9000", cfg.ServerPort)
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intake.yaml")
	content := "INTAKE_STORE: memory\nINTAKE_MAX_UPLOAD_BYTES: 1024\nINTAKE_SEED_ENGAGEMENTS:\n  - eng-1\n  - eng-2\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	file, err := readFile(path)
	if err != nil {
		t.Fatalf("readFile() error: %v", err)
	}
	cfg, err := source{file: file}.load()
	if err != nil {
		t.Fatalf("load() error: %v", err)
	}
	if cfg.Store != "memory" {
		t.Errorf("Store = %q, want memory", cfg.Store)
	}
	if cfg.MaxUploadBytes != 1024 {
		t.Errorf("MaxUploadBytes = %d, want 1024", cfg.MaxUploadBytes)
	}
	if len(cfg.SeedEngagements) != 2 || cfg.SeedEngagements[1] != "eng-2" {
		t.Errorf("SeedEngagements = %v", cfg.SeedEngagements)
	}
}

func TestParseNamedModels(t *testing.T) {
	tests := []struct {
		in      string
		want    []NamedModel
		wantErr bool
	}{
		{"", nil, false},
		{"fast=ollama:llama3", []NamedModel{{"fast", "ollama", "llama3"}}, false},
		{" a=Anthropic:claude , b=gemini:gemini-2.0-flash", []NamedModel{{"a", "anthropic", "claude"}, {"b", "gemini", "gemini-2.0-flash"}}, false},
		{"missing-provider", nil, true},
		{"x=noprovider", nil, true},
	}
	for _, tt := range tests {
		got, err := parseNamedModels(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseNamedModels(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if len(got) != len(tt.want) {
			t.Errorf("parseNamedModels(%q) = %v, want %v", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("parseNamedModels(%q)[%d] = %v, want %v", tt.in, i, got[i], tt.want[i])
			}
		}
	}
}

func TestValidate(t *testing.T) {
	base := Config{
		ServerPort:       8585,
		Store:            "memory",
		BlobBackend:      "local",
		BlobRoot:         "/tmp/x",
		MaxUploadBytes:   1,
		StageTimeout:     time.Second,
		AnalysisProvider: ProviderOllama,
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("Validate() base config error: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		substr string
	}{
		{"missing anthropic key", func(c *Config) { c.AnalysisProvider = ProviderAnthropic }, "ANTHROPIC_API_KEY"},
		{"missing gemini key", func(c *Config) { c.AnalysisProvider = ProviderGemini }, "GEMINI_API_KEY"},
		{"unknown provider", func(c *Config) { c.AnalysisProvider = "cohere" }, "unknown analysis provider"},
		{"s3 without bucket", func(c *Config) { c.BlobBackend = "s3" }, "INTAKE_S3_BUCKET"},
		{"bad store", func(c *Config) { c.Store = "redis" }, "unknown store"},
		{"named model key", func(c *Config) {
			c.AnalysisModels = []NamedModel{{Name: "b", Provider: ProviderOpenAI, Model: "gpt-4o"}}
		}, "OPENAI_API_KEY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.substr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.substr)
			}
		})
	}
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("job created", "job_id", "j1")

	if strings.Contains(stderr.String(), "hidden") {
		t.Error("debug message should be filtered")
	}
	if !strings.Contains(stderr.String(), "job_id=j1") {
		t.Errorf("stderr = %q, want text record", stderr.String())
	}
	var rec map[string]any
	if err := json.Unmarshal(file.Bytes(), &rec); err != nil {
		t.Fatalf("file output is not JSON: %v", err)
	}
	if rec["job_id"] != "j1" {
		t.Errorf("file record job_id = %v", rec["job_id"])
	}
}
