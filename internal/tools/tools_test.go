package tools

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/raphaelgruber/intake/internal/analysis"
	"github.com/raphaelgruber/intake/internal/analysis/analysistest"
	"github.com/raphaelgruber/intake/internal/artifact"
	"github.com/raphaelgruber/intake/internal/blob"
	"github.com/raphaelgruber/intake/internal/models"
	"github.com/raphaelgruber/intake/internal/pipeline"
	"github.com/raphaelgruber/intake/internal/service"
	"github.com/raphaelgruber/intake/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDeps(t *testing.T) (*Dependencies, *memory.Store) {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.UpsertEngagement(ctx, &models.Engagement{ID: "eng-1"}))
	require.NoError(t, st.CreateSession(ctx, &models.Session{ID: "sess-1", DesignWeekID: "eng-1"}))

	blobs, err := blob.NewLocal(t.TempDir())
	require.NoError(t, err)

	fake := analysistest.New("fake").
		WithClassification(models.SessionTechnical, 0.8).
		WithItems(analysis.TaskGeneral, analysistest.Item(models.ItemSystemIntegration, "Salesforce CRM", 0.9)).
		WithItems(analysis.TaskTranscript, analysistest.Item(models.ItemDataField, "Customer number", 0.6))
	registry := analysis.NewRegistry(fake)
	sink := service.NewSink(st)

	jobs := service.NewJobService(service.JobConfig{
		Store:     st,
		Blobs:     blobs,
		Validator: artifact.New(0),
		Registry:  registry,
		Orchestrator: pipeline.New(pipeline.Config{
			Jobs:         st,
			Sessions:     st,
			Stages:       pipeline.DefaultStages(st, sink),
			StageTimeout: time.Minute,
		}),
	})
	t.Cleanup(jobs.Wait)

	return &Dependencies{
		Jobs:    jobs,
		Extract: service.NewExtractService(st, registry, sink),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, st
}

func call(t *testing.T, h server.ToolHandlerFunc, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	res, err := h(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return text.Text
}

func TestStartUploadAndStatus(t *testing.T) {
	deps, _ := testDeps(t)

	path := filepath.Join(t.TempDir(), "architecture.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.7 fake body"), 0o600))

	res := call(t, NewStartUploadHandler(deps), map[string]any{
		"engagement_id":   "eng-1",
		"path":            path,
		"extraction_mode": "two-pass",
	})
	require.False(t, res.IsError, resultText(t, res))

	var started service.StartResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &started))
	assert.Equal(t, models.JobStatusQueued, started.Status)

	deps.Jobs.Wait()

	status := call(t, NewGetJobStatusHandler(deps), map[string]any{"job_id": started.JobID})
	require.False(t, status.IsError)
	var job JobStatusResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, status)), &job))
	assert.Equal(t, models.JobStatusComplete, job.Status)
	assert.Equal(t, started.SessionID, job.SessionID)

	cancel := call(t, NewCancelJobHandler(deps), map[string]any{"job_id": started.JobID})
	require.False(t, cancel.IsError)
	assert.Contains(t, resultText(t, cancel), `"alreadyFinished": true`)
}

func TestStartUploadErrors(t *testing.T) {
	deps, _ := testDeps(t)
	dir := t.TempDir()
	fake := filepath.Join(dir, "report.pdf")
	require.NoError(t, os.WriteFile(fake, []byte("plain text"), 0o600))

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing engagement", map[string]any{"path": fake}, "engagement_id is required"},
		{"missing path", map[string]any{"engagement_id": "eng-1"}, "path is required"},
		{"no such file", map[string]any{"engagement_id": "eng-1", "path": filepath.Join(dir, "nope.mp3")}, "cannot read nope.mp3"},
		{"directory", map[string]any{"engagement_id": "eng-1", "path": dir}, "path is a directory"},
		{"signature mismatch", map[string]any{"engagement_id": "eng-1", "path": fake}, "does not match"},
		{"unknown engagement", map[string]any{"engagement_id": "eng-9", "path": fake}, "not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := call(t, NewStartUploadHandler(deps), tt.args)
			assert.True(t, res.IsError)
			assert.Contains(t, resultText(t, res), tt.want)
		})
	}
}

func TestGetJobStatusNotFound(t *testing.T) {
	deps, _ := testDeps(t)
	res := call(t, NewGetJobStatusHandler(deps), map[string]any{"job_id": "missing"})
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "Verify the id exists")
}

func TestExtractTranscript(t *testing.T) {
	deps, st := testDeps(t)

	res := call(t, NewExtractTranscriptHandler(deps), map[string]any{
		"session_id":      "sess-1",
		"transcript_text": "[00:00:05] Dana: we need the customer number on every ticket",
		"session_type":    "technical",
	})
	require.False(t, res.IsError, resultText(t, res))

	var out service.ExtractResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	assert.Equal(t, 1, out.ItemCount)

	items, err := st.ListItems(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.ItemStatusPending, items[0].Status)

	empty := call(t, NewExtractTranscriptHandler(deps), map[string]any{"session_id": "sess-1"})
	assert.True(t, empty.IsError)
}

func TestNewServerRegistersTools(t *testing.T) {
	deps, _ := testDeps(t)
	s := NewServer("test", deps)
	require.NotNil(t, s)
}

func TestFormatArgsHidesTranscript(t *testing.T) {
	got := formatArgs(map[string]any{"transcript_text": "secret meeting notes", "session_id": "s"})
	if want := "<20 bytes>"; !strings.Contains(got, want) {
		t.Errorf("formatArgs() = %q, want it to contain %q", got, want)
	}
	if strings.Contains(got, "secret") {
		t.Errorf("formatArgs() leaked transcript text: %q", got)
	}
}
