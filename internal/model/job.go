package model

import "time"

// JobStatus is the lifecycle state of a queued unit of work.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// JobCounts are the business counters a job reports on completion.
type JobCounts struct {
	Processed int64 `json:"processed"`
	Created   int64 `json:"created"`
	Updated   int64 `json:"updated"`
	Skipped   int64 `json:"skipped"`
	Failed    int64 `json:"failed"`
}

// JobProgress is a progress snapshot. Step counts are zero when the job
// reports a bare percentage.
type JobProgress struct {
	Percent    float64
	StepsDone  int
	StepsTotal int
	Counts     JobCounts
}

// JobRecord tracks one queued job across its attempts. ID is the queue job id.
type JobRecord struct {
	ID          string
	Name        string
	Queue       string
	Status      JobStatus
	Priority    int
	Attempt     int
	StartedAt   time.Time
	CompletedAt *time.Time
	DurationMS  int64
	Progress    float64
	StepsDone   int
	StepsTotal  int
	Counts      JobCounts
	Error       string
	ErrorStack  string
	Input       []byte
	Output      []byte
}

// JobLogEntry is an append-only log line attached to a JobRecord.
type JobLogEntry struct {
	JobID     string
	Level     string
	Message   string
	Data      []byte
	CreatedAt time.Time
}

// Trigger names what caused a job to be enqueued. It selects the job's
// priority and retry policy.
type Trigger string

const (
	TriggerManual Trigger = "manual"
	TriggerScan   Trigger = "scan"
	TriggerDaily  Trigger = "daily"
	TriggerWeekly Trigger = "weekly"
)

// ImportScope selects which hospitals an import job walks.
type ImportScope string

const (
	ScopeState ImportScope = "state" // one jurisdiction from the directory
	ScopeAll   ImportScope = "all"   // every jurisdiction from the directory
	ScopeScan  ImportScope = "scan"  // stored manifests only, no directory calls
)

// ImportRequest is the payload of hospital import jobs.
type ImportRequest struct {
	Scope   ImportScope `json:"scope" validate:"required,oneof=state all scan"`
	State   string      `json:"state,omitempty" validate:"omitempty,len=2,alpha"`
	Force   bool        `json:"force"`
	Trigger Trigger     `json:"trigger" validate:"required,oneof=manual scan daily weekly"`
}

// DownloadRequest is the payload of file download jobs.
type DownloadRequest struct {
	HospitalID int64   `json:"hospital_id" validate:"required,gt=0"`
	FileID     string  `json:"file_id" validate:"required"`
	Force      bool    `json:"force"`
	Trigger    Trigger `json:"trigger" validate:"required,oneof=manual scan daily weekly"`
}
