package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/gyeh/mrfsync/internal/apperr"
	"github.com/gyeh/mrfsync/internal/model"
)

type hospitalRow struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	ExternalID    string `gorm:"column:external_id"`
	CCN           string `gorm:"column:ccn;uniqueIndex;not null"`
	Name          string
	Address       string
	City          string
	State         string `gorm:"index"`
	Zip           string
	Phone         string
	Beds          *int
	Latitude      *float64
	Longitude     *float64
	SourceURL     string `gorm:"column:source_url"`
	Files         string `gorm:"type:text"`
	FileCount     int    `gorm:"column:file_count"`
	Active        bool   `gorm:"index"`
	LastCheckedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (hospitalRow) TableName() string { return "hospitals" }

type priceRecordRow struct {
	ID                  int64  `gorm:"primaryKey;autoIncrement"`
	HospitalID          int64  `gorm:"column:hospital_id;index"`
	FileID              string `gorm:"column:file_id;index"`
	Description         *string
	Code                *string
	CodeType            *string  `gorm:"column:code_type"`
	GrossCharge         *float64 `gorm:"column:gross_charge"`
	DiscountedCashPrice *float64 `gorm:"column:discounted_cash_price"`
	MinNegotiated       *float64 `gorm:"column:min_negotiated_charge"`
	MaxNegotiated       *float64 `gorm:"column:max_negotiated_charge"`
	RawData             string   `gorm:"column:raw_data;type:text"`
	CreatedAt           time.Time
}

func (priceRecordRow) TableName() string { return "price_records" }

type processedFileRow struct {
	FileID        string `gorm:"column:file_id;primaryKey"`
	HospitalID    int64  `gorm:"column:hospital_id;index"`
	LastRetrieved *time.Time
	RecordCount   int64
	FileSHA256    string `gorm:"column:file_sha256;size:64"`
	ProcessedAt   time.Time
	Active        bool
}

func (processedFileRow) TableName() string { return "processed_files" }

type jobRow struct {
	ID          string `gorm:"primaryKey"`
	Name        string
	Queue       string `gorm:"index:idx_jobs_queue_status"`
	Status      string `gorm:"index:idx_jobs_queue_status"`
	Priority    int
	Attempt     int
	StartedAt   time.Time
	CompletedAt *time.Time
	DurationMS  int64 `gorm:"column:duration_ms"`
	Progress    float64
	StepsDone   int
	StepsTotal  int
	Processed   int64
	Created     int64
	Updated     int64
	Skipped     int64
	Failed      int64
	Error       string `gorm:"type:text"`
	ErrorStack  string `gorm:"column:error_stack;type:text"`
	Input       string `gorm:"type:text"`
	Output      string `gorm:"type:text"`
}

func (jobRow) TableName() string { return "jobs" }

type jobLogRow struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	JobID     string `gorm:"column:job_id;index"`
	Level     string
	Message   string `gorm:"type:text"`
	Data      string `gorm:"type:text"`
	CreatedAt time.Time
}

func (jobLogRow) TableName() string { return "job_logs" }

// SQLite is the gorm-backed Store for local runs.
type SQLite struct {
	db  *gorm.DB
	log zerolog.Logger
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string, log zerolog.Logger) (*SQLite, error) {
	dsn := path
	if path != ":memory:" && !strings.Contains(path, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, apperr.Storage("open sqlite", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, apperr.Storage("open sqlite", err)
	}
	// SQLite allows a single writer.
	sqlDB.SetMaxOpenConns(1)
	return &SQLite{db: gdb, log: log.With().Str("component", "store").Logger()}, nil
}

func (s *SQLite) Migrate(ctx context.Context) error {
	err := s.db.WithContext(ctx).AutoMigrate(
		&hospitalRow{}, &priceRecordRow{}, &processedFileRow{}, &jobRow{}, &jobLogRow{},
	)
	if err != nil {
		return apperr.Storage("migrate", err)
	}
	s.log.Info().Msg("sqlite schema up to date")
	return nil
}

func (s *SQLite) UpsertHospital(ctx context.Context, h *model.Hospital) (int64, error) {
	files, err := json.Marshal(manifest(h.Files))
	if err != nil {
		return 0, fmt.Errorf("encode file manifest: %w", err)
	}
	row := hospitalRow{
		ExternalID: h.ExternalID,
		CCN:        h.CCN,
		Name:       h.Name,
		Address:    h.Address,
		City:       h.City,
		State:      h.State,
		Zip:        h.Zip,
		Phone:      h.Phone,
		Beds:       h.Beds,
		Latitude:   h.Latitude,
		Longitude:  h.Longitude,
		SourceURL:  h.SourceURL,
		Files:      string(files),
		FileCount:  len(h.Files),
		Active:     h.Active,
	}

	var id int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "ccn"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"external_id", "name", "address", "city", "state", "zip", "phone",
				"beds", "latitude", "longitude", "source_url", "files", "file_count",
				"active", "updated_at",
			}),
		}).Create(&row).Error
		if err != nil {
			return err
		}
		return tx.Model(&hospitalRow{}).Select("id").Where("ccn = ?", h.CCN).Scan(&id).Error
	})
	if err != nil {
		return 0, apperr.Storage("upsert hospital", err)
	}
	h.ID = id
	return id, nil
}

func (s *SQLite) GetHospital(ctx context.Context, id int64) (*model.Hospital, error) {
	var row hospitalRow
	err := s.db.WithContext(ctx).First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &apperr.NotFoundError{Resource: "hospital", ID: strconv.FormatInt(id, 10)}
	}
	if err != nil {
		return nil, apperr.Storage("get hospital", err)
	}
	h, err := row.toModel()
	if err != nil {
		return nil, apperr.Storage("get hospital", err)
	}
	return &h, nil
}

func (s *SQLite) ListHospitalsWithManifest(ctx context.Context, state string) ([]model.Hospital, error) {
	q := s.db.WithContext(ctx).Where("active = ? AND file_count > 0", true)
	if state != "" {
		q = q.Where("state = ?", state)
	}
	var rows []hospitalRow
	if err := q.Order("id").Find(&rows).Error; err != nil {
		return nil, apperr.Storage("list hospitals", err)
	}
	out := make([]model.Hospital, 0, len(rows))
	for _, r := range rows {
		h, err := r.toModel()
		if err != nil {
			return nil, apperr.Storage("list hospitals", err)
		}
		out = append(out, h)
	}
	return out, nil
}

func (r hospitalRow) toModel() (model.Hospital, error) {
	h := model.Hospital{
		ID:            r.ID,
		ExternalID:    r.ExternalID,
		CCN:           r.CCN,
		Name:          r.Name,
		Address:       r.Address,
		City:          r.City,
		State:         r.State,
		Zip:           r.Zip,
		Phone:         r.Phone,
		Beds:          r.Beds,
		Latitude:      r.Latitude,
		Longitude:     r.Longitude,
		SourceURL:     r.SourceURL,
		Active:        r.Active,
		LastCheckedAt: r.LastCheckedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.Files != "" {
		if err := json.Unmarshal([]byte(r.Files), &h.Files); err != nil {
			return h, fmt.Errorf("decode file manifest for hospital %d: %w", r.ID, err)
		}
	}
	for i := range h.Files {
		h.Files[i].HospitalID = r.ID
	}
	return h, nil
}

func (s *SQLite) MarkHospitalChecked(ctx context.Context, id int64, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&hospitalRow{}).Where("id = ?", id).Update("last_checked_at", at)
	if res.Error != nil {
		return apperr.Storage("mark hospital checked", res.Error)
	}
	if res.RowsAffected == 0 {
		return &apperr.NotFoundError{Resource: "hospital", ID: strconv.FormatInt(id, 10)}
	}
	return nil
}

func (s *SQLite) InsertPriceRecords(ctx context.Context, recs []model.PriceRecord) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	rows := make([]priceRecordRow, len(recs))
	for i := range recs {
		r := &recs[i]
		rows[i] = priceRecordRow{
			HospitalID:          r.HospitalID,
			FileID:              r.FileID,
			Description:         r.Description,
			Code:                r.Code,
			CodeType:            r.CodeType,
			GrossCharge:         r.GrossCharge,
			DiscountedCashPrice: r.DiscountedCashPrice,
			MinNegotiated:       r.MinNegotiated,
			MaxNegotiated:       r.MaxNegotiated,
			RawData:             string(r.RawJSON()),
			CreatedAt:           r.CreatedAt,
		}
	}
	res := s.db.WithContext(ctx).CreateInBatches(rows, 500)
	if res.Error != nil {
		return 0, apperr.Storage("insert price records", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *SQLite) CountPriceRecords(ctx context.Context, fileID string) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&priceRecordRow{}).Where("file_id = ?", fileID).Count(&n).Error; err != nil {
		return 0, apperr.Storage("count price records", err)
	}
	return n, nil
}

func (s *SQLite) GetProcessedFile(ctx context.Context, fileID string) (*model.ProcessedFile, error) {
	var row processedFileRow
	err := s.db.WithContext(ctx).Where("file_id = ?", fileID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage("get processed file", err)
	}
	return &model.ProcessedFile{
		FileID:        row.FileID,
		HospitalID:    row.HospitalID,
		LastRetrieved: row.LastRetrieved,
		RecordCount:   row.RecordCount,
		FileSHA256:    row.FileSHA256,
		ProcessedAt:   row.ProcessedAt,
		Active:        row.Active,
	}, nil
}

func (s *SQLite) UpsertProcessedFile(ctx context.Context, pf model.ProcessedFile) error {
	row := processedFileRow{
		FileID:        pf.FileID,
		HospitalID:    pf.HospitalID,
		LastRetrieved: pf.LastRetrieved,
		RecordCount:   pf.RecordCount,
		FileSHA256:    pf.FileSHA256,
		ProcessedAt:   pf.ProcessedAt,
		Active:        pf.Active,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "file_id"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return apperr.Storage("upsert processed file", err)
	}
	return nil
}

func (s *SQLite) StartJob(ctx context.Context, rec model.JobRecord) error {
	row := jobRow{
		ID:        rec.ID,
		Name:      rec.Name,
		Queue:     rec.Queue,
		Status:    string(model.JobRunning),
		Priority:  rec.Priority,
		Attempt:   rec.Attempt,
		StartedAt: rec.StartedAt,
		Input:     string(rec.Input),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "attempt", "started_at", "completed_at", "duration_ms", "progress", "steps_done", "steps_total", "error", "error_stack",
		}),
	}).Create(&row).Error
	if err != nil {
		return apperr.Storage("start job", err)
	}
	return nil
}

func (s *SQLite) FinishJob(ctx context.Context, rec model.JobRecord) error {
	c := rec.Counts
	err := s.db.WithContext(ctx).Model(&jobRow{}).Where("id = ?", rec.ID).Updates(map[string]any{
		"status":       string(rec.Status),
		"completed_at": rec.CompletedAt,
		"duration_ms":  rec.DurationMS,
		"progress":     rec.Progress,
		"processed":    c.Processed,
		"created":      c.Created,
		"updated":      c.Updated,
		"skipped":      c.Skipped,
		"failed":       c.Failed,
		"error":        rec.Error,
		"error_stack":  rec.ErrorStack,
		"output":       string(rec.Output),
	}).Error
	if err != nil {
		return apperr.Storage("finish job", err)
	}
	return nil
}

func (s *SQLite) UpdateJobProgress(ctx context.Context, id string, pr model.JobProgress) error {
	c := pr.Counts
	err := s.db.WithContext(ctx).Model(&jobRow{}).Where("id = ?", id).Updates(map[string]any{
		"progress":    pr.Percent,
		"steps_done":  pr.StepsDone,
		"steps_total": pr.StepsTotal,
		"processed":   c.Processed,
		"created":     c.Created,
		"updated":     c.Updated,
		"skipped":     c.Skipped,
		"failed":      c.Failed,
	}).Error
	if err != nil {
		return apperr.Storage("update job progress", err)
	}
	return nil
}

func (s *SQLite) AppendJobLog(ctx context.Context, e model.JobLogEntry) error {
	row := jobLogRow{JobID: e.JobID, Level: e.Level, Message: e.Message, Data: string(e.Data), CreatedAt: e.CreatedAt}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return apperr.Storage("append job log", err)
	}
	return nil
}

func (s *SQLite) GetJob(ctx context.Context, id string) (*model.JobRecord, error) {
	var row jobRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &apperr.NotFoundError{Resource: "job", ID: id}
	}
	if err != nil {
		return nil, apperr.Storage("get job", err)
	}
	return &model.JobRecord{
		ID:          row.ID,
		Name:        row.Name,
		Queue:       row.Queue,
		Status:      model.JobStatus(row.Status),
		Priority:    row.Priority,
		Attempt:     row.Attempt,
		StartedAt:   row.StartedAt,
		CompletedAt: row.CompletedAt,
		DurationMS:  row.DurationMS,
		Progress:    row.Progress,
		StepsDone:   row.StepsDone,
		StepsTotal:  row.StepsTotal,
		Counts: model.JobCounts{
			Processed: row.Processed,
			Created:   row.Created,
			Updated:   row.Updated,
			Skipped:   row.Skipped,
			Failed:    row.Failed,
		},
		Error:      row.Error,
		ErrorStack: row.ErrorStack,
		Input:      bytesOrNil(row.Input),
		Output:     bytesOrNil(row.Output),
	}, nil
}

func (s *SQLite) ListJobLogs(ctx context.Context, id string, limit int) ([]model.JobLogEntry, error) {
	var rows []jobLogRow
	err := s.db.WithContext(ctx).Where("job_id = ?", id).Order("id").Limit(logLimit(limit)).Find(&rows).Error
	if err != nil {
		return nil, apperr.Storage("list job logs", err)
	}
	out := make([]model.JobLogEntry, len(rows))
	for i, r := range rows {
		out[i] = model.JobLogEntry{JobID: r.JobID, Level: r.Level, Message: r.Message, Data: bytesOrNil(r.Data), CreatedAt: r.CreatedAt}
	}
	return out, nil
}

func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func bytesOrNil(s string) []byte {
	if s == "" {
		return nil
	}
	return []byte(s)
}
