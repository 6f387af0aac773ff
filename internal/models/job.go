package models

import (
	"time"
)

// JobStatus is the lifecycle state of an upload job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "QUEUED"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusComplete   JobStatus = "COMPLETE"
	JobStatusFailed     JobStatus = "FAILED"
)

// IsTerminal reports whether no further transitions may be applied.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusComplete || s == JobStatusFailed
}

// Stage is one ordered step of the extraction pipeline.
type Stage string

const (
	StageClassification        Stage = "CLASSIFICATION"
	StageGeneralExtraction     Stage = "GENERAL_EXTRACTION"
	StageSpecializedExtraction Stage = "SPECIALIZED_EXTRACTION"
	StageTabPopulation         Stage = "TAB_POPULATION"
	StageComplete              Stage = "COMPLETE"
)

// StageOrder is the fixed execution order. COMPLETE is the terminal marker.
var StageOrder = []Stage{
	StageClassification,
	StageGeneralExtraction,
	StageSpecializedExtraction,
	StageTabPopulation,
	StageComplete,
}

// Index returns the position of s in StageOrder, or -1 if unknown.
func (s Stage) Index() int {
	for i, st := range StageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// After reports whether s comes strictly later than other in StageOrder.
func (s Stage) After(other Stage) bool {
	return s.Index() > other.Index()
}

// StageStatus describes where a stage is within its own run.
type StageStatus string

const (
	StageStatusStarted   StageStatus = "started"
	StageStatusRunning   StageStatus = "running"
	StageStatusCompleted StageStatus = "completed"
	StageStatusFailed    StageStatus = "failed"
)

// StageProgress is the last progress report persisted for a job.
type StageProgress struct {
	Stage   Stage          `json:"stage"`
	Status  StageStatus    `json:"status"`
	Percent int            `json:"percent"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Artifact describes the stored upload.
type Artifact struct {
	Filename    string `json:"filename"`
	MIMEType    string `json:"mime_type"`
	StoragePath string `json:"storage_path"`
	Size        int64  `json:"size"`
}

// UploadJob is the durable record of one artifact's trip through the pipeline.
type UploadJob struct {
	ID            string            `json:"id"`
	DesignWeekID  string            `json:"design_week_id"`
	SessionID     string            `json:"session_id"`
	Artifact      Artifact          `json:"artifact"`
	Options       ExtractionOptions `json:"options"`
	Status        JobStatus         `json:"status"`
	CurrentStage  Stage             `json:"current_stage"`
	StageProgress *StageProgress    `json:"stage_progress,omitempty"`
	Error         string            `json:"error,omitempty"`
	RetryOf       string            `json:"retry_of,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
}

// IsDone reports whether the job reached a terminal state.
func (j *UploadJob) IsDone() bool {
	return j.Status.IsTerminal()
}

// Clone returns a deep copy so callers can hand out snapshots safely.
func (j *UploadJob) Clone() *UploadJob {
	if j == nil {
		return nil
	}
	c := *j
	c.Options.Models = append([]string(nil), j.Options.Models...)
	if j.StageProgress != nil {
		sp := *j.StageProgress
		if j.StageProgress.Details != nil {
			sp.Details = make(map[string]any, len(j.StageProgress.Details))
			for k, v := range j.StageProgress.Details {
				sp.Details[k] = v
			}
		}
		c.StageProgress = &sp
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
