package tools

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/raphaelgruber/intake/internal/apperr"
)

// ErrorResult creates a tool error result with optional recovery hint.
// If hint is non-empty, formats as "{msg}. {hint}".
// Returns IsError=true so the model can see the error and self-correct.
func ErrorResult(msg, hint string) *mcp.CallToolResult {
	text := msg
	if hint != "" {
		text = msg + ". " + hint
	}
	return mcp.NewToolResultError(text)
}

// FromError turns a service error into a sanitized tool error with a hint
// matching its kind.
func FromError(err error) *mcp.CallToolResult {
	hint := ""
	switch {
	case errors.Is(err, apperr.ErrValidation):
		hint = "Check the arguments and try again"
	case errors.Is(err, apperr.ErrNotFound):
		hint = "Verify the id exists"
	case errors.Is(err, apperr.ErrConflict):
		hint = "Wait for the job to finish first"
	}
	return ErrorResult(apperr.PublicMessage(err), hint)
}

// JSONResult creates a success result holding v as indented JSON.
func JSONResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(out)), nil
}

// stringArg returns a trimmed string argument, or "" if absent.
func stringArg(req mcp.CallToolRequest, name string) string {
	v, _ := req.GetArguments()[name].(string)
	return strings.TrimSpace(v)
}
