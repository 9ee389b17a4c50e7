// Package metrics exposes Prometheus counters for the ingestion pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DirectoryRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mrfsync",
		Subsystem: "directory",
		Name:      "requests_total",
		Help:      "Directory API requests by operation and outcome.",
	}, []string{"op", "outcome"})

	RateLimitWaits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mrfsync",
		Subsystem: "directory",
		Name:      "rate_limit_waits_total",
		Help:      "Requests that blocked on the sliding-window limiter.",
	})

	RateLimitWaitSeconds = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mrfsync",
		Subsystem: "directory",
		Name:      "rate_limit_wait_seconds_total",
		Help:      "Total time spent blocked on the sliding-window limiter.",
	})

	TransportResets = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mrfsync",
		Subsystem: "directory",
		Name:      "transport_resets_total",
		Help:      "HTTP transport rebuilds after max age or transport errors.",
	})

	DownloadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mrfsync",
		Subsystem: "fetch",
		Name:      "downloaded_bytes_total",
		Help:      "Bytes written to the work directory by file downloads.",
	})

	RowsNormalized = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mrfsync",
		Subsystem: "ingest",
		Name:      "rows_normalized_total",
		Help:      "Rows converted into price records.",
	})

	RowsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mrfsync",
		Subsystem: "ingest",
		Name:      "rows_rejected_total",
		Help:      "Rows discarded for lacking a description and code.",
	})

	RecordsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mrfsync",
		Subsystem: "ingest",
		Name:      "price_records_written_total",
		Help:      "Price records flushed to storage.",
	})

	Jobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mrfsync",
		Subsystem: "jobs",
		Name:      "total",
		Help:      "Job lifecycle events by queue and status (queued, completed, failed).",
	}, []string{"queue", "status"})

	QueueJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mrfsync",
		Subsystem: "queue",
		Name:      "attempts_total",
		Help:      "Queue job attempts by queue and outcome.",
	}, []string{"queue", "outcome"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
