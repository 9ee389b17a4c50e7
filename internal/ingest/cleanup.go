package ingest

import (
	"time"

	"github.com/rs/zerolog"
)

// Cleanup removes the working directory of fileID. Failures are logged
// and never fail the job.
func Cleanup(f Fetcher, log zerolog.Logger, fileID string) {
	start := time.Now()
	if err := f.Cleanup(fileID); err != nil {
		log.Warn().Err(err).Str("file_id", fileID).Msg("work dir cleanup failed (non-fatal)")
		return
	}
	log.Debug().Str("file_id", fileID).Dur("duration", time.Since(start)).Msg("work dir removed")
}
