package main

import (
	"errors"
	"os"

	"github.com/gyeh/mrfsync/internal/apperr"
	"github.com/gyeh/mrfsync/internal/exitcode"
	"github.com/gyeh/mrfsync/internal/ingest"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		newLogger().Error().Err(err).Msg("command failed")
		os.Exit(exitCode(err))
	}
}

// exitCode maps a command error onto the process exit status.
func exitCode(err error) int {
	var (
		ve *apperr.ValidationError
		nf *apperr.NotFoundError
		se *apperr.StorageError
		ee *apperr.ExternalServiceError
		pe *ingest.PhaseError
		ue usageError
	)
	switch {
	case errors.As(err, &ue):
		return exitcode.UsageError
	case errors.As(err, &ve):
		return exitcode.ValidationError
	case errors.As(err, &nf):
		return exitcode.NotFound
	case errors.As(err, &ee):
		return exitcode.ExternalError
	case errors.As(err, &pe):
		return exitcode.IngestError
	case errors.As(err, &se):
		return exitcode.DBConnError
	case errors.As(err, new(queueError)):
		return exitcode.QueueError
	}
	return exitcode.UsageError
}

// usageError marks missing or conflicting flags and settings.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// queueError marks failures talking to Redis.
type queueError struct{ err error }

func (e queueError) Error() string { return e.err.Error() }
func (e queueError) Unwrap() error { return e.err }
