package exitcode

const (
	Success         = 0
	UsageError      = 1
	ValidationError = 2
	DBConnError     = 3
	QueueError      = 4
	IngestError     = 5
	ExternalError   = 6
	NotFound        = 7
)
