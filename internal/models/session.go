package models

import (
	"strings"
	"time"
)

// SessionType is the coarse content classification of a session.
type SessionType string

const (
	SessionKickoff   SessionType = "kickoff"
	SessionProcess   SessionType = "process"
	SessionTechnical SessionType = "technical"
	SessionSignoff   SessionType = "signoff"
	SessionUnknown   SessionType = "unknown"
)

// ParseSessionType maps free text onto a known session type.
func ParseSessionType(s string) SessionType {
	switch SessionType(strings.ToLower(strings.TrimSpace(s))) {
	case SessionKickoff:
		return SessionKickoff
	case SessionProcess:
		return SessionProcess
	case SessionTechnical:
		return SessionTechnical
	case SessionSignoff:
		return SessionSignoff
	default:
		return SessionUnknown
	}
}

// Phase returns the engagement phase a session type belongs to, 0 if none.
func (t SessionType) Phase() int {
	switch t {
	case SessionKickoff:
		return 1
	case SessionProcess:
		return 2
	case SessionTechnical:
		return 3
	case SessionSignoff:
		return 4
	default:
		return 0
	}
}

// ProcessingStatus tracks extraction on a session.
type ProcessingStatus string

const (
	ProcessingPending    ProcessingStatus = "PENDING"
	ProcessingProcessing ProcessingStatus = "PROCESSING"
	ProcessingComplete   ProcessingStatus = "COMPLETE"
	ProcessingFailed     ProcessingStatus = "FAILED"
)

// Session owns the extracted items of one meeting or document.
type Session struct {
	ID                       string           `json:"id"`
	DesignWeekID             string           `json:"design_week_id"`
	UploadJobID              string           `json:"upload_job_id,omitempty"`
	SessionType              SessionType      `json:"session_type"`
	ProcessingStatus         ProcessingStatus `json:"processing_status"`
	Classification           SessionType      `json:"classification,omitempty"`
	ClassificationConfidence float64          `json:"classification_confidence,omitempty"`
	ProcessingError          string           `json:"processing_error,omitempty"`
	CreatedAt                time.Time        `json:"created_at"`
	UpdatedAt                time.Time        `json:"updated_at"`
}

// Engagement is the design-week engagement an upload belongs to. Only the
// fields this service reads or advances are modelled.
type Engagement struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phase int    `json:"phase"`
}
