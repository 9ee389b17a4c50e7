package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/gyeh/mrfsync/internal/apperr"
	"github.com/gyeh/mrfsync/internal/db"
	"github.com/gyeh/mrfsync/internal/model"
	embedsql "github.com/gyeh/mrfsync/internal/sql"
)

// Postgres is the pgx-backed Store.
type Postgres struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// OpenPostgres connects to dsn.
func OpenPostgres(ctx context.Context, dsn string, opts db.PoolOptions, log zerolog.Logger) (*Postgres, error) {
	pool, err := db.NewPool(ctx, dsn, opts)
	if err != nil {
		return nil, apperr.Storage("connect", err)
	}
	return NewPostgres(pool, log), nil
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool, log zerolog.Logger) *Postgres {
	return &Postgres{pool: pool, log: log.With().Str("component", "store").Logger()}
}

// Pool exposes the underlying pool.
func (p *Postgres) Pool() *pgxpool.Pool { return p.pool }

func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := db.ApplyMigrations(ctx, p.pool, p.log); err != nil {
		return apperr.Storage("migrate", err)
	}
	return nil
}

func (p *Postgres) UpsertHospital(ctx context.Context, h *model.Hospital) (int64, error) {
	files, err := json.Marshal(manifest(h.Files))
	if err != nil {
		return 0, fmt.Errorf("encode file manifest: %w", err)
	}
	var id int64
	err = p.pool.QueryRow(ctx, embedsql.UpsertHospital,
		h.ExternalID, h.CCN, h.Name, h.Address, h.City, h.State, h.Zip, h.Phone,
		h.Beds, h.Latitude, h.Longitude, h.SourceURL, files, h.Active,
	).Scan(&id)
	if err != nil {
		return 0, apperr.Storage("upsert hospital", err)
	}
	h.ID = id
	return id, nil
}

func (p *Postgres) GetHospital(ctx context.Context, id int64) (*model.Hospital, error) {
	rows, err := p.pool.Query(ctx, embedsql.SelectHospital+" WHERE id = $1", id)
	if err != nil {
		return nil, apperr.Storage("get hospital", err)
	}
	hospitals, err := scanHospitals(rows)
	if err != nil {
		return nil, apperr.Storage("get hospital", err)
	}
	if len(hospitals) == 0 {
		return nil, &apperr.NotFoundError{Resource: "hospital", ID: strconv.FormatInt(id, 10)}
	}
	return &hospitals[0], nil
}

func (p *Postgres) ListHospitalsWithManifest(ctx context.Context, state string) ([]model.Hospital, error) {
	rows, err := p.pool.Query(ctx, embedsql.SelectHospital+
		" WHERE active AND jsonb_array_length(files) > 0 AND ($1 = '' OR state = $1) ORDER BY id", state)
	if err != nil {
		return nil, apperr.Storage("list hospitals", err)
	}
	hospitals, err := scanHospitals(rows)
	if err != nil {
		return nil, apperr.Storage("list hospitals", err)
	}
	return hospitals, nil
}

func scanHospitals(rows pgx.Rows) ([]model.Hospital, error) {
	defer rows.Close()
	var out []model.Hospital
	for rows.Next() {
		var h model.Hospital
		var files []byte
		if err := rows.Scan(
			&h.ID, &h.ExternalID, &h.CCN, &h.Name, &h.Address, &h.City, &h.State, &h.Zip, &h.Phone,
			&h.Beds, &h.Latitude, &h.Longitude, &h.SourceURL, &files, &h.Active, &h.LastCheckedAt, &h.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(files, &h.Files); err != nil {
			return nil, fmt.Errorf("decode file manifest for hospital %d: %w", h.ID, err)
		}
		for i := range h.Files {
			h.Files[i].HospitalID = h.ID
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkHospitalChecked(ctx context.Context, id int64, at time.Time) error {
	tag, err := p.pool.Exec(ctx, embedsql.MarkHospitalChecked, id, at)
	if err != nil {
		return apperr.Storage("mark hospital checked", err)
	}
	if tag.RowsAffected() == 0 {
		return &apperr.NotFoundError{Resource: "hospital", ID: strconv.FormatInt(id, 10)}
	}
	return nil
}

// InsertPriceRecords COPY-loads one batch.
func (p *Postgres) InsertPriceRecords(ctx context.Context, recs []model.PriceRecord) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	n, err := p.pool.CopyFrom(ctx,
		pgx.Identifier{"mrf", "price_records"},
		model.PriceColumns(),
		db.NewRecordSource(recs),
	)
	if err != nil {
		return n, apperr.Storage("insert price records", err)
	}
	return n, nil
}

func (p *Postgres) CountPriceRecords(ctx context.Context, fileID string) (int64, error) {
	var n int64
	if err := p.pool.QueryRow(ctx, embedsql.CountPriceRecords, fileID).Scan(&n); err != nil {
		return 0, apperr.Storage("count price records", err)
	}
	return n, nil
}

func (p *Postgres) GetProcessedFile(ctx context.Context, fileID string) (*model.ProcessedFile, error) {
	var pf model.ProcessedFile
	err := p.pool.QueryRow(ctx, embedsql.GetProcessedFile, fileID).Scan(
		&pf.FileID, &pf.HospitalID, &pf.LastRetrieved, &pf.RecordCount, &pf.FileSHA256, &pf.ProcessedAt, &pf.Active,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage("get processed file", err)
	}
	return &pf, nil
}

func (p *Postgres) UpsertProcessedFile(ctx context.Context, pf model.ProcessedFile) error {
	_, err := p.pool.Exec(ctx, embedsql.UpsertProcessedFile,
		pf.FileID, pf.HospitalID, pf.LastRetrieved, pf.RecordCount, pf.FileSHA256, pf.ProcessedAt, pf.Active,
	)
	if err != nil {
		return apperr.Storage("upsert processed file", err)
	}
	return nil
}

func (p *Postgres) StartJob(ctx context.Context, rec model.JobRecord) error {
	_, err := p.pool.Exec(ctx, embedsql.StartJob,
		rec.ID, rec.Name, rec.Queue, string(model.JobRunning), rec.Priority, rec.Attempt, rec.StartedAt, jsonOrNil(rec.Input),
	)
	if err != nil {
		return apperr.Storage("start job", err)
	}
	return nil
}

func (p *Postgres) FinishJob(ctx context.Context, rec model.JobRecord) error {
	c := rec.Counts
	_, err := p.pool.Exec(ctx, embedsql.FinishJob,
		rec.ID, string(rec.Status), rec.CompletedAt, rec.DurationMS, rec.Progress,
		c.Processed, c.Created, c.Updated, c.Skipped, c.Failed,
		rec.Error, rec.ErrorStack, jsonOrNil(rec.Output),
	)
	if err != nil {
		return apperr.Storage("finish job", err)
	}
	return nil
}

func (p *Postgres) UpdateJobProgress(ctx context.Context, id string, pr model.JobProgress) error {
	c := pr.Counts
	_, err := p.pool.Exec(ctx, embedsql.UpdateJobProgress,
		id, pr.Percent, pr.StepsDone, pr.StepsTotal, c.Processed, c.Created, c.Updated, c.Skipped, c.Failed,
	)
	if err != nil {
		return apperr.Storage("update job progress", err)
	}
	return nil
}

func (p *Postgres) AppendJobLog(ctx context.Context, e model.JobLogEntry) error {
	_, err := p.pool.Exec(ctx, embedsql.AppendJobLog, e.JobID, e.Level, e.Message, jsonOrNil(e.Data), e.CreatedAt)
	if err != nil {
		return apperr.Storage("append job log", err)
	}
	return nil
}

func (p *Postgres) GetJob(ctx context.Context, id string) (*model.JobRecord, error) {
	var rec model.JobRecord
	var status string
	c := &rec.Counts
	err := p.pool.QueryRow(ctx, embedsql.GetJob, id).Scan(
		&rec.ID, &rec.Name, &rec.Queue, &status, &rec.Priority, &rec.Attempt, &rec.StartedAt, &rec.CompletedAt,
		&rec.DurationMS, &rec.Progress, &rec.StepsDone, &rec.StepsTotal, &c.Processed, &c.Created, &c.Updated, &c.Skipped, &c.Failed,
		&rec.Error, &rec.ErrorStack, &rec.Input, &rec.Output,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &apperr.NotFoundError{Resource: "job", ID: id}
	}
	if err != nil {
		return nil, apperr.Storage("get job", err)
	}
	rec.Status = model.JobStatus(status)
	return &rec, nil
}

func (p *Postgres) ListJobLogs(ctx context.Context, id string, limit int) ([]model.JobLogEntry, error) {
	rows, err := p.pool.Query(ctx, embedsql.ListJobLogs, id, logLimit(limit))
	if err != nil {
		return nil, apperr.Storage("list job logs", err)
	}
	defer rows.Close()

	var out []model.JobLogEntry
	for rows.Next() {
		var e model.JobLogEntry
		if err := rows.Scan(&e.JobID, &e.Level, &e.Message, &e.Data, &e.CreatedAt); err != nil {
			return nil, apperr.Storage("list job logs", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("list job logs", err)
	}
	return out, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// manifest strips the parent id before the references are stored on the
// hospital row itself.
func manifest(files []model.PriceFileRef) []model.PriceFileRef {
	out := make([]model.PriceFileRef, len(files))
	for i, f := range files {
		f.HospitalID = 0
		out[i] = f
	}
	return out
}

// jsonOrNil keeps empty snapshots as SQL NULL.
func jsonOrNil(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
