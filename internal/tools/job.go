package tools

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/raphaelgruber/intake/internal/models"
)

// JobStatusResult is the response from the get_job_status tool.
type JobStatusResult struct {
	JobID         string                `json:"jobId"`
	SessionID     string                `json:"sessionId"`
	Status        models.JobStatus      `json:"status"`
	CurrentStage  models.Stage          `json:"currentStage"`
	StageProgress *models.StageProgress `json:"stageProgress,omitempty"`
	Error         string                `json:"error,omitempty"`
	CreatedAt     time.Time             `json:"createdAt"`
	CompletedAt   *time.Time            `json:"completedAt,omitempty"`
}

// NewGetJobStatusHandler creates the get_job_status tool handler.
func NewGetJobStatusHandler(deps *Dependencies) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobID := stringArg(req, "job_id")
		if jobID == "" {
			return ErrorResult("job_id is required", ""), nil
		}
		job, err := deps.Jobs.GetProgress(ctx, jobID)
		if err != nil {
			return FromError(err), nil
		}
		return JSONResult(JobStatusResult{
			JobID:         job.ID,
			SessionID:     job.SessionID,
			Status:        job.Status,
			CurrentStage:  job.CurrentStage,
			StageProgress: job.StageProgress,
			Error:         job.Error,
			CreatedAt:     job.CreatedAt,
			CompletedAt:   job.CompletedAt,
		})
	}
}

// NewCancelJobHandler creates the cancel_job tool handler.
// Cancelling a finished job is reported, not treated as an error.
func NewCancelJobHandler(deps *Dependencies) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobID := stringArg(req, "job_id")
		if jobID == "" {
			return ErrorResult("job_id is required", ""), nil
		}
		res, err := deps.Jobs.Cancel(ctx, jobID)
		if err != nil {
			return FromError(err), nil
		}
		return JSONResult(res)
	}
}
