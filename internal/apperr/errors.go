// Package apperr defines the error taxonomy shared by the pipeline and its
// transports, plus redaction of sensitive text before it leaves the process.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel kinds. Use errors.Is() against these in calling code.
var (
	ErrValidation  = errors.New("validation error")
	ErrNotFound    = errors.New("not found")
	ErrAnalysis    = errors.New("analysis error")
	ErrStorage     = errors.New("storage error")
	ErrPersistence = errors.New("persistence error")
	ErrConflict    = errors.New("conflict")
)

// Error carries a kind, a caller-safe message and an optional cause.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes both the kind and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// Validation reports bad caller input.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports an unknown engagement, session or job.
func NotFound(what, id string) *Error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf("%s %q not found", what, id)}
}

// Conflict reports an operation that is invalid for the current state.
func Conflict(format string, args ...any) *Error {
	return &Error{Kind: ErrConflict, Message: fmt.Sprintf(format, args...)}
}

// Analysis wraps a content-analysis failure.
func Analysis(err error) *Error {
	return &Error{Kind: ErrAnalysis, Message: "content analysis failed", Err: err}
}

// Storage wraps a blob store failure.
func Storage(err error) *Error {
	return &Error{Kind: ErrStorage, Message: "artifact storage failed", Err: err}
}

// Persistence wraps a database failure.
func Persistence(err error) *Error {
	return &Error{Kind: ErrPersistence, Message: "persistence failed", Err: err}
}

// HTTPStatus maps an error to the status code a transport should return.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns text that is safe to show a caller. Validation,
// not-found and conflict messages are returned as written; everything else is
// redacted and truncated.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		switch appErr.Kind {
		case ErrValidation, ErrNotFound, ErrConflict:
			return Sanitize(appErr.Message)
		}
	}
	return Sanitize(err.Error())
}
