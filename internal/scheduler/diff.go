package scheduler

import (
	"time"

	"github.com/gyeh/mrfsync/internal/model"
)

// DefaultStaleness forces a re-download of files whose hospital has not
// been checked for this long, even when the retrieved timestamp is unchanged.
const DefaultStaleness = 7 * 24 * time.Hour

// Diff reasons reported by ShouldProcessFile.
const (
	ReasonNew       = "new file"
	ReasonUpdated   = "file updated"
	ReasonStale     = "hospital check stale"
	ReasonUpToDate  = "up to date"
	ReasonForced    = "forced"
	ReasonRequested = "requested"
)

// ShouldProcessFile decides whether ref needs a download given its stored
// ProcessedFile record and the hospital's last-checked time.
func ShouldProcessFile(ref model.PriceFileRef, processed *model.ProcessedFile, lastChecked *time.Time, now time.Time, staleness time.Duration) (bool, string) {
	if processed == nil {
		return true, ReasonNew
	}
	if ref.Retrieved != nil && (processed.LastRetrieved == nil || processed.LastRetrieved.Before(*ref.Retrieved)) {
		return true, ReasonUpdated
	}
	if staleness <= 0 {
		staleness = DefaultStaleness
	}
	if lastChecked == nil || now.Sub(*lastChecked) > staleness {
		return true, ReasonStale
	}
	return false, ReasonUpToDate
}
