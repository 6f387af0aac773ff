package tools

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Name is the server name announced to MCP clients.
const Name = "intake"

// NewServer creates an MCP server with request logging and every tool
// registered.
func NewServer(version string, deps *Dependencies) *server.MCPServer {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := server.NewMCPServer(Name, version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
		server.WithRecovery(),
		server.WithToolHandlerMiddleware(LoggingMiddleware(deps.Logger)),
	)
	RegisterAll(s, deps)
	return s
}

// RegisterAll registers all tools with the MCP server.
func RegisterAll(s *server.MCPServer, deps *Dependencies) {
	s.AddTool(
		mcp.NewTool("start_upload",
			mcp.WithDescription("Upload a local file (recording, transcript or document) to an engagement and start extraction in the background. Returns the job id immediately; poll get_job_status for progress."),
			mcp.WithString("engagement_id", mcp.Required(), mcp.Description("Engagement (design week) id")),
			mcp.WithString("path", mcp.Required(), mcp.Description("Absolute path of the file to upload")),
			mcp.WithString("extraction_mode", mcp.Description("standard (default), multi-model or two-pass"), mcp.Enum("standard", "multi-model", "two-pass")),
			mcp.WithString("models", mcp.Description("Comma-separated model names for multi-model mode")),
			mcp.WithString("session_id", mcp.Description("Existing session to re-process into")),
		),
		NewStartUploadHandler(deps),
	)

	s.AddTool(
		mcp.NewTool("get_job_status",
			mcp.WithDescription("Get the status, current stage and last progress report of an upload job."),
			mcp.WithString("job_id", mcp.Required(), mcp.Description("Job id returned by start_upload")),
		),
		NewGetJobStatusHandler(deps),
	)

	s.AddTool(
		mcp.NewTool("cancel_job",
			mcp.WithDescription("Cancel a running upload job. Cancelling a finished job changes nothing."),
			mcp.WithString("job_id", mcp.Required(), mcp.Description("Job id to cancel")),
		),
		NewCancelJobHandler(deps),
	)

	s.AddTool(
		mcp.NewTool("extract_transcript",
			mcp.WithDescription("Extract requirements from transcript text into an existing session, replacing its items. Waits for the result."),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
			mcp.WithString("transcript_text", mcp.Required(), mcp.Description("Transcript text, optionally with YAML front matter")),
			mcp.WithString("session_type", mcp.Description("kickoff, process, technical or signoff")),
		),
		NewExtractTranscriptHandler(deps),
	)
}
