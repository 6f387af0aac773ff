package analysis

import (
	"errors"
	"fmt"
	"strings"
)

// ErrFatalAPI marks provider errors that will not go away on their own
// (auth, billing, quota). Callers stop instead of moving on.
var ErrFatalAPI = errors.New("fatal API error")

// ErrUnparseable marks model output that is not the requested JSON shape.
var ErrUnparseable = errors.New("unparseable analysis output")

var fatalMarkers = []string{
	"credit balance",
	"rate limit",
	"quota",
	"billing",
	"invalid api key",
	"invalid x-api-key",
	"api key not valid",
	"authentication",
	"unauthorized",
	"permission denied",
	"accessdenied",
	"401",
	"403",
}

func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range fatalMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func wrapFatalError(err error) error {
	if isFatalAPIError(err) {
		return fmt.Errorf("%w: %w", ErrFatalAPI, err)
	}
	return err
}
