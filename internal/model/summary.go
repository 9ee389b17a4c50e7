package model

import "time"

// Outcomes of a file job.
const (
	OutcomeProcessed = "processed"
	OutcomeSkipped   = "skipped"
)

// IngestSummary captures metrics from processing one price file reference.
type IngestSummary struct {
	FileID        string        `json:"file_id"`
	HospitalID    int64         `json:"hospital_id"`
	Outcome       string        `json:"outcome"`
	Reason        string        `json:"reason,omitempty"`
	FileSHA256    string        `json:"file_sha256,omitempty"`
	Files         int           `json:"files"`
	FilesSkipped  int           `json:"files_skipped"`
	RowsRead      int64         `json:"rows_read"`
	RowsWritten   int64         `json:"rows_written"`
	RowsRejected  int64         `json:"rows_rejected"`
	RowsMalformed int64         `json:"rows_malformed"`
	Flushes       int           `json:"flushes"`
	DurationFetch time.Duration `json:"duration_fetch"`
	DurationParse time.Duration `json:"duration_parse"`
	DurationTotal time.Duration `json:"duration_total"`
}

// EnqueueSummary counts the outcome of diffing file manifests and
// enqueueing downloads.
type EnqueueSummary struct {
	Considered int `json:"considered"`
	Enqueued   int `json:"enqueued"`
	UpToDate   int `json:"up_to_date"`
	Failed     int `json:"failed"`
}

// ImportSummary captures metrics from one hospital import job.
type ImportSummary struct {
	Scope        ImportScope    `json:"scope"`
	State        string         `json:"state,omitempty"`
	Hospitals    int            `json:"hospitals"`
	Upserted     int            `json:"upserted"`
	SkippedNoCCN int            `json:"skipped_no_ccn"`
	Downloads    EnqueueSummary `json:"downloads"`
}
