// Package ingest holds the job processors: the file pipeline (preflight,
// fetch, normalize, finalize, cleanup) and the hospital importer.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/gyeh/mrfsync/internal/apperr"
	"github.com/gyeh/mrfsync/internal/jobs"
	"github.com/gyeh/mrfsync/internal/model"
	"github.com/gyeh/mrfsync/internal/queue"
	"github.com/gyeh/mrfsync/internal/tabular"
)

// PhaseError wraps an error with the phase where it occurred.
type PhaseError struct {
	Phase string
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// Store is the persistence the processors need.
type Store interface {
	RecordSink
	GetHospital(ctx context.Context, id int64) (*model.Hospital, error)
	UpsertHospital(ctx context.Context, h *model.Hospital) (int64, error)
	ListHospitalsWithManifest(ctx context.Context, state string) ([]model.Hospital, error)
	MarkHospitalChecked(ctx context.Context, id int64, at time.Time) error
	GetProcessedFile(ctx context.Context, fileID string) (*model.ProcessedFile, error)
	UpsertProcessedFile(ctx context.Context, pf model.ProcessedFile) error
}

// Fetcher downloads a file reference into a per-file working directory.
type Fetcher interface {
	Fetch(ctx context.Context, ref model.PriceFileRef) ([]string, error)
	Cleanup(fileID string) error
}

// Progress receives progress and log lines from a running processor.
// *jobs.Reporter satisfies it.
type Progress interface {
	Step(ctx context.Context, completed, total int)
	Info(ctx context.Context, msg string, data map[string]any)
	Warn(ctx context.Context, msg string, data map[string]any)
}

// FileProcessor runs download-file jobs.
type FileProcessor struct {
	store   Store
	fetcher Fetcher
	loader  *Loader
	log     zerolog.Logger
	now     func() time.Time
}

// NewFileProcessor wires a FileProcessor.
func NewFileProcessor(st Store, f Fetcher, l *Loader, log zerolog.Logger) *FileProcessor {
	return &FileProcessor{
		store:   st,
		fetcher: f,
		loader:  l,
		log:     log.With().Str("component", "file_processor").Logger(),
		now:     time.Now,
	}
}

// Process runs preflight -> fetch -> normalize -> finalize -> cleanup for
// one file reference. Files of an unsupported format are skipped; any
// other failure aborts the attempt.
func (p *FileProcessor) Process(ctx context.Context, req model.DownloadRequest, prog Progress) (*model.IngestSummary, error) {
	totalStart := time.Now()
	log := p.log.With().Int64("hospital_id", req.HospitalID).Str("file_id", req.FileID).Logger()

	pf, err := Preflight(ctx, p.store, req)
	if err != nil {
		return nil, &PhaseError{Phase: "preflight", Err: err}
	}
	summary := &model.IngestSummary{FileID: req.FileID, HospitalID: req.HospitalID}

	if pf.AlreadyLoaded {
		log.Info().Msg("file already processed at this version, skipping")
		if err := p.store.MarkHospitalChecked(ctx, pf.Hospital.ID, p.now().UTC()); err != nil {
			return nil, &PhaseError{Phase: "finalize", Err: err}
		}
		prog.Info(ctx, "file already processed, skipped", map[string]any{"file_id": req.FileID})
		summary.Outcome = model.OutcomeSkipped
		summary.Reason = "already processed"
		summary.DurationTotal = time.Since(totalStart)
		return summary, nil
	}

	fetchStart := time.Now()
	paths, err := p.fetcher.Fetch(ctx, pf.Ref)
	defer Cleanup(p.fetcher, log, req.FileID)
	if err != nil {
		return nil, &PhaseError{Phase: "fetch", Err: err}
	}
	summary.DurationFetch = time.Since(fetchStart)
	prog.Info(ctx, "file fetched", map[string]any{"files": len(paths), "url": pf.Ref.URL})

	sha, err := contentHash(paths)
	if err != nil {
		return nil, &PhaseError{Phase: "fetch", Err: err}
	}
	summary.FileSHA256 = sha

	parseStart := time.Now()
	for i, path := range paths {
		res, err := p.loader.NormalizeAndPersist(ctx, path, pf.Hospital.ID, req.FileID)
		if errors.Is(err, tabular.ErrUnsupportedFormat) {
			summary.FilesSkipped++
			log.Warn().Str("file", filepath.Base(path)).Msg("unsupported format skipped")
			prog.Warn(ctx, "unsupported format skipped", map[string]any{"file": filepath.Base(path)})
			prog.Step(ctx, i+1, len(paths))
			continue
		}
		if err != nil {
			return nil, &PhaseError{Phase: "normalize", Err: err}
		}
		summary.Files++
		summary.RowsRead += res.RowsRead
		summary.RowsWritten += res.RowsWritten
		summary.RowsRejected += res.RowsRejected
		summary.RowsMalformed += res.RowsMalformed
		summary.Flushes += res.Flushes
		prog.Info(ctx, "file normalized", map[string]any{
			"file":          filepath.Base(path),
			"header_row":    res.HeaderRow,
			"rows_written":  res.RowsWritten,
			"rows_rejected": res.RowsRejected,
		})
		prog.Step(ctx, i+1, len(paths))
	}
	summary.DurationParse = time.Since(parseStart)
	if summary.Files == 0 {
		log.Warn().Int("skipped", summary.FilesSkipped).Msg("no readable price files in reference")
	}

	if err := Finalize(ctx, p.store, log, pf, summary.RowsWritten, sha, p.now().UTC()); err != nil {
		return nil, &PhaseError{Phase: "finalize", Err: err}
	}

	summary.Outcome = model.OutcomeProcessed
	summary.DurationTotal = time.Since(totalStart)
	log.Info().
		Int("files", summary.Files).
		Int("files_skipped", summary.FilesSkipped).
		Int64("rows_written", summary.RowsWritten).
		Int64("rows_rejected", summary.RowsRejected).
		Str("total_duration", summary.DurationTotal.String()).
		Msg("file pipeline complete")
	return summary, nil
}

// Work adapts Process to the job tracker.
func (p *FileProcessor) Work(ctx context.Context, job *queue.Job, r *jobs.Reporter) (jobs.Result, error) {
	var req model.DownloadRequest
	if err := job.Decode(&req); err != nil {
		return jobs.Result{}, &apperr.ValidationError{Field: "payload", Reason: err.Error()}
	}
	if req.HospitalID <= 0 || req.FileID == "" {
		return jobs.Result{}, &apperr.ValidationError{Field: "payload", Reason: "hospital_id and file_id are required"}
	}
	sum, err := p.Process(ctx, req, r)
	if err != nil {
		return jobs.Result{}, err
	}
	counts := model.JobCounts{
		Processed: int64(sum.Files),
		Created:   sum.RowsWritten,
		Skipped:   sum.RowsRejected + int64(sum.FilesSkipped),
		Failed:    sum.RowsMalformed,
	}
	if sum.Outcome == model.OutcomeSkipped {
		counts.Skipped = 1
	}
	return jobs.Result{Counts: counts, Output: sum}, nil
}
