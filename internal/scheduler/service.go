// Package scheduler turns triggers (manual, cron) into queued jobs and
// decides which price files need a download.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/gyeh/mrfsync/internal/apperr"
	"github.com/gyeh/mrfsync/internal/directory"
	"github.com/gyeh/mrfsync/internal/metrics"
	"github.com/gyeh/mrfsync/internal/model"
	"github.com/gyeh/mrfsync/internal/queue"
)

// Queue and job names.
const (
	QueueImports   = "hospital-import"
	QueueDownloads = "file-download"

	JobImportState  = "import-state"
	JobRefreshAll   = "refresh-all"
	JobScanUpdates  = "scan-updates"
	JobDownloadFile = "download-file"
)

// Queue is the subset of queue.Queue the scheduler writes to.
type Queue interface {
	Name() string
	Add(ctx context.Context, name string, payload any, opts queue.Options) (*queue.Job, error)
	Get(ctx context.Context, id string) (*queue.Job, error)
}

// Store is the read side the scheduler needs for diffs and status.
type Store interface {
	GetHospital(ctx context.Context, id int64) (*model.Hospital, error)
	GetProcessedFile(ctx context.Context, fileID string) (*model.ProcessedFile, error)
	GetJob(ctx context.Context, id string) (*model.JobRecord, error)
	ListJobLogs(ctx context.Context, id string, limit int) ([]model.JobLogEntry, error)
}

// Options tunes the scheduler. Empty cron specs disable that schedule.
type Options struct {
	Staleness  time.Duration
	Spacing    time.Duration
	DailySpec  string
	ScanSpec   string
	WeeklySpec string
}

// Service enqueues import and download jobs.
type Service struct {
	imports   Queue
	downloads Queue
	store     Store
	validate  *validator.Validate
	opts      Options
	log       zerolog.Logger
	now       func() time.Time
	cron      *cronRunner
}

// New returns a Service writing import jobs to imports and download jobs
// to downloads.
func New(imports, downloads Queue, st Store, opts Options, log zerolog.Logger) *Service {
	if opts.Staleness <= 0 {
		opts.Staleness = DefaultStaleness
	}
	return &Service{
		imports:   imports,
		downloads: downloads,
		store:     st,
		validate:  validator.New(),
		opts:      opts,
		log:       log.With().Str("component", "scheduler").Logger(),
		now:       time.Now,
	}
}

// EnqueueState queues a manual import of one jurisdiction.
func (s *Service) EnqueueState(ctx context.Context, code string, force bool) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !directory.ValidState(code) {
		return "", &apperr.ValidationError{Field: "state", Reason: fmt.Sprintf("unknown state code %q", code)}
	}
	return s.enqueueImport(ctx, JobImportState, model.ImportRequest{
		Scope:   model.ScopeState,
		State:   code,
		Force:   force,
		Trigger: model.TriggerManual,
	})
}

// EnqueueDailyRefresh queues a low-priority import of every jurisdiction.
func (s *Service) EnqueueDailyRefresh(ctx context.Context) (string, error) {
	return s.enqueueImport(ctx, JobRefreshAll, model.ImportRequest{
		Scope:   model.ScopeAll,
		Trigger: model.TriggerDaily,
	})
}

// EnqueueWeeklyRefresh queues a forced import of every jurisdiction with
// the high-retry policy.
func (s *Service) EnqueueWeeklyRefresh(ctx context.Context) (string, error) {
	return s.enqueueImport(ctx, JobRefreshAll, model.ImportRequest{
		Scope:   model.ScopeAll,
		Force:   true,
		Trigger: model.TriggerWeekly,
	})
}

// EnqueueScan queues a file-update scan over stored manifests.
func (s *Service) EnqueueScan(ctx context.Context) (string, error) {
	return s.enqueueImport(ctx, JobScanUpdates, model.ImportRequest{
		Scope:   model.ScopeScan,
		Trigger: model.TriggerScan,
	})
}

func (s *Service) enqueueImport(ctx context.Context, name string, req model.ImportRequest) (string, error) {
	if err := s.check(req); err != nil {
		return "", err
	}
	job, err := s.imports.Add(ctx, name, req, Policy(req.Trigger))
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", name, err)
	}
	metrics.Jobs.WithLabelValues(s.imports.Name(), "queued").Inc()
	s.log.Info().
		Str("job_id", job.ID).
		Str("job", name).
		Str("scope", string(req.Scope)).
		Str("state", req.State).
		Str("trigger", string(req.Trigger)).
		Bool("force", req.Force).
		Msg("import enqueued")
	return job.ID, nil
}

// EnqueueFile queues a manual download of one hospital file. The diff is
// bypassed; force additionally bypasses the idempotency check in the job.
func (s *Service) EnqueueFile(ctx context.Context, hospitalID int64, fileID string, force bool) (string, error) {
	req := model.DownloadRequest{
		HospitalID: hospitalID,
		FileID:     strings.TrimSpace(fileID),
		Force:      force,
		Trigger:    model.TriggerManual,
	}
	if err := s.check(req); err != nil {
		return "", err
	}
	h, err := s.store.GetHospital(ctx, hospitalID)
	if err != nil {
		return "", err
	}
	if _, ok := h.FileByID(req.FileID); !ok {
		return "", &apperr.NotFoundError{
			Resource: "file",
			ID:       req.FileID + " of hospital " + strconv.FormatInt(hospitalID, 10),
		}
	}
	job, err := s.downloads.Add(ctx, JobDownloadFile, req, Policy(req.Trigger))
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", JobDownloadFile, err)
	}
	metrics.Jobs.WithLabelValues(s.downloads.Name(), "queued").Inc()
	s.log.Info().Str("job_id", job.ID).Int64("hospital_id", hospitalID).Str("file_id", req.FileID).
		Bool("force", force).Msg("download enqueued")
	return job.ID, nil
}

// EnqueueDownloads diffs every file in the hospitals' manifests and queues
// the ones that need processing, spacing successive jobs by Options.Spacing.
// Per-file failures are counted; an error is returned only when nothing
// could be enqueued.
func (s *Service) EnqueueDownloads(ctx context.Context, hospitals []model.Hospital, trigger model.Trigger, force bool) (model.EnqueueSummary, error) {
	var sum model.EnqueueSummary
	var lastErr error
	now := s.now().UTC()
	policy := Policy(trigger)

	for _, h := range hospitals {
		for _, ref := range h.Files {
			if err := ctx.Err(); err != nil {
				return sum, err
			}
			sum.Considered++
			log := s.log.With().Int64("hospital_id", h.ID).Str("file_id", ref.FileID).Logger()

			reason := ReasonForced
			if !force {
				pf, err := s.store.GetProcessedFile(ctx, ref.FileID)
				if err != nil {
					sum.Failed++
					lastErr = err
					log.Warn().Err(err).Msg("processed file lookup failed")
					continue
				}
				var ok bool
				ok, reason = ShouldProcessFile(ref, pf, h.LastCheckedAt, now, s.opts.Staleness)
				if !ok {
					sum.UpToDate++
					continue
				}
			}

			opts := policy
			opts.Delay = s.opts.Spacing * time.Duration(sum.Enqueued)
			req := model.DownloadRequest{HospitalID: h.ID, FileID: ref.FileID, Force: force, Trigger: trigger}
			job, err := s.downloads.Add(ctx, JobDownloadFile, req, opts)
			if err != nil {
				sum.Failed++
				lastErr = err
				log.Warn().Err(err).Msg("download enqueue failed")
				continue
			}
			sum.Enqueued++
			metrics.Jobs.WithLabelValues(s.downloads.Name(), "queued").Inc()
			log.Debug().Str("job_id", job.ID).Str("reason", reason).Dur("delay", opts.Delay).Msg("download enqueued")
		}
	}

	s.log.Info().
		Str("trigger", string(trigger)).
		Int("considered", sum.Considered).
		Int("enqueued", sum.Enqueued).
		Int("up_to_date", sum.UpToDate).
		Int("failed", sum.Failed).
		Msg("downloads planned")
	if sum.Enqueued == 0 && sum.Failed > 0 {
		return sum, fmt.Errorf("enqueue downloads: %d failed: %w", sum.Failed, lastErr)
	}
	return sum, nil
}

func (s *Service) check(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &apperr.ValidationError{Field: strings.ToLower(fe.Field()), Reason: "failed " + fe.Tag() + " check"}
	}
	return &apperr.ValidationError{Field: "request", Reason: err.Error()}
}

// JobStatus is the combined view of one job.
type JobStatus struct {
	Record *model.JobRecord    `json:"record,omitempty"`
	Logs   []model.JobLogEntry `json:"logs,omitempty"`
	Queued *queue.Job          `json:"queued,omitempty"`
}

// JobStatus looks id up in the job store and in both queues. A job that
// has not started yet has no stored record.
func (s *Service) JobStatus(ctx context.Context, id string, logLimit int) (*JobStatus, error) {
	st := &JobStatus{}
	rec, err := s.store.GetJob(ctx, id)
	switch {
	case err == nil:
		st.Record = rec
		logs, err := s.store.ListJobLogs(ctx, id, logLimit)
		if err != nil {
			return nil, err
		}
		st.Logs = logs
	case !errors.Is(err, apperr.ErrNotFound):
		return nil, err
	}

	for _, q := range []Queue{s.imports, s.downloads} {
		job, err := q.Get(ctx, id)
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		st.Queued = job
		break
	}
	if st.Record == nil && st.Queued == nil {
		return nil, &apperr.NotFoundError{Resource: "job", ID: id}
	}
	return st, nil
}
