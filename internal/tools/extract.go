package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/raphaelgruber/intake/internal/service"
)

// NewExtractTranscriptHandler creates the extract_transcript tool handler.
// Runs synchronously and replaces the session's items.
func NewExtractTranscriptHandler(deps *Dependencies) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := deps.Extract.Extract(ctx, service.ExtractRequest{
			SessionID:      stringArg(req, "session_id"),
			TranscriptText: stringArg(req, "transcript_text"),
			SessionType:    stringArg(req, "session_type"),
		})
		if err != nil {
			return FromError(err), nil
		}
		return JSONResult(res)
	}
}
