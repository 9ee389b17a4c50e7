// Package store persists hospitals, price records, file bookkeeping and job
// records. PostgreSQL is the production backend; SQLite serves local runs
// and tests behind the same interface.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/gyeh/mrfsync/internal/config"
	"github.com/gyeh/mrfsync/internal/db"
	"github.com/gyeh/mrfsync/internal/model"
)

// Store is the persistence surface used by the pipeline.
type Store interface {
	// Migrate creates or upgrades the schema.
	Migrate(ctx context.Context) error

	// UpsertHospital inserts or updates h keyed by CCN and returns its id.
	// LastCheckedAt is never written by an upsert.
	UpsertHospital(ctx context.Context, h *model.Hospital) (int64, error)
	GetHospital(ctx context.Context, id int64) (*model.Hospital, error)
	// ListHospitalsWithManifest returns active hospitals that have at least
	// one file reference. An empty state lists every jurisdiction.
	ListHospitalsWithManifest(ctx context.Context, state string) ([]model.Hospital, error)
	MarkHospitalChecked(ctx context.Context, id int64, at time.Time) error

	InsertPriceRecords(ctx context.Context, recs []model.PriceRecord) (int64, error)
	CountPriceRecords(ctx context.Context, fileID string) (int64, error)

	// GetProcessedFile returns nil without error when fileID was never processed.
	GetProcessedFile(ctx context.Context, fileID string) (*model.ProcessedFile, error)
	UpsertProcessedFile(ctx context.Context, pf model.ProcessedFile) error

	StartJob(ctx context.Context, rec model.JobRecord) error
	FinishJob(ctx context.Context, rec model.JobRecord) error
	UpdateJobProgress(ctx context.Context, id string, p model.JobProgress) error
	AppendJobLog(ctx context.Context, entry model.JobLogEntry) error
	GetJob(ctx context.Context, id string) (*model.JobRecord, error)
	ListJobLogs(ctx context.Context, id string, limit int) ([]model.JobLogEntry, error)

	Close() error
}

// DefaultLogLimit caps ListJobLogs when the caller passes zero.
const DefaultLogLimit = 500

// Open connects to the backend selected by cfg.StoreDriver.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger) (Store, error) {
	if err := cfg.ValidateStore(); err != nil {
		return nil, err
	}
	switch cfg.StoreDriver {
	case "postgres":
		opts := db.PoolOptions{
			MaxConns:        int32(cfg.Queues.ImportConcurrency + cfg.Queues.DownloadConcurrency + 2),
			MaxConnIdleTime: 5 * time.Minute,
		}
		return OpenPostgres(ctx, cfg.DSN, opts, log)
	case "sqlite":
		return OpenSQLite(cfg.SQLitePath, log)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

func logLimit(n int) int {
	if n <= 0 {
		return DefaultLogLimit
	}
	return n
}
