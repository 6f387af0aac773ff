package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/raphaelgruber/intake/internal/artifact"
	"github.com/raphaelgruber/intake/internal/service"
)

// NewStartUploadHandler creates the start_upload tool handler.
// Reads a local file and queues it; returns immediately with the job id.
func NewStartUploadHandler(deps *Dependencies) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		engagementID := stringArg(req, "engagement_id")
		if engagementID == "" {
			return ErrorResult("engagement_id is required", ""), nil
		}
		path := stringArg(req, "path")
		if path == "" {
			return ErrorResult("path is required", "Pass an absolute path to the file"), nil
		}

		info, err := os.Stat(path)
		if err != nil {
			return ErrorResult(fmt.Sprintf("cannot read %s", filepath.Base(path)), "Check the path exists and is readable"), nil
		}
		if info.IsDir() {
			return ErrorResult("path is a directory", "Pass a single file"), nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return ErrorResult(fmt.Sprintf("cannot read %s", filepath.Base(path)), "Check the file permissions"), nil
		}

		var models []string
		for _, m := range strings.Split(stringArg(req, "models"), ",") {
			if m = strings.TrimSpace(m); m != "" {
				models = append(models, m)
			}
		}

		res, err := deps.Jobs.Start(ctx, service.StartRequest{
			EngagementID: engagementID,
			Filename:     filepath.Base(path),
			MIMEType:     artifact.MIMEFor(path),
			Data:         data,
			Mode:         stringArg(req, "extraction_mode"),
			Models:       models,
			SessionID:    stringArg(req, "session_id"),
		})
		if err != nil {
			deps.Logger.Debug("start_upload rejected", "engagement_id", engagementID, "error", err)
			return FromError(err), nil
		}
		return JSONResult(res)
	}
}
