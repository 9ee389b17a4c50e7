// Package jobs wraps queue handlers with a persisted job lifecycle:
// queued -> running -> completed | failed, plus progress and log entries
// written as they happen.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gyeh/mrfsync/internal/apperr"
	"github.com/gyeh/mrfsync/internal/metrics"
	"github.com/gyeh/mrfsync/internal/model"
	"github.com/gyeh/mrfsync/internal/queue"
)

// Store is the job persistence the tracker needs.
type Store interface {
	StartJob(ctx context.Context, rec model.JobRecord) error
	FinishJob(ctx context.Context, rec model.JobRecord) error
	UpdateJobProgress(ctx context.Context, id string, p model.JobProgress) error
	AppendJobLog(ctx context.Context, entry model.JobLogEntry) error
}

// Result is what a WorkFunc hands back on success.
type Result struct {
	Counts model.JobCounts `json:"counts"`
	Output any             `json:"output,omitempty"`
}

// WorkFunc is the business logic of one job type.
type WorkFunc func(ctx context.Context, job *queue.Job, r *Reporter) (Result, error)

// Tracker records every attempt of a wrapped job in the store.
type Tracker struct {
	store Store
	log   zerolog.Logger
	now   func() time.Time
}

// NewTracker returns a Tracker persisting to st.
func NewTracker(st Store, log zerolog.Logger) *Tracker {
	return &Tracker{
		store: st,
		log:   log.With().Str("component", "jobs").Logger(),
		now:   time.Now,
	}
}

// Wrap turns fn into a queue.Handler. Errors from fn are returned after
// the failure is recorded so the queue retry policy applies. Validation
// and not-found errors are marked permanent.
func (t *Tracker) Wrap(fn WorkFunc) queue.Handler {
	return func(ctx context.Context, job *queue.Job) (any, error) {
		start := t.now().UTC()
		rec := model.JobRecord{
			ID:        job.ID,
			Name:      job.Name,
			Queue:     job.Queue,
			Status:    model.JobRunning,
			Priority:  job.Priority,
			Attempt:   job.AttemptsMade,
			StartedAt: start,
			Input:     job.Payload,
		}
		if err := t.store.StartJob(ctx, rec); err != nil {
			return nil, fmt.Errorf("record job start: %w", err)
		}

		r := &Reporter{
			store: t.store,
			jobID: job.ID,
			now:   t.now,
			log: t.log.With().Str("job_id", job.ID).Str("name", job.Name).
				Str("queue", job.Queue).Int("attempt", job.AttemptsMade).Logger(),
		}
		res, stack, err := run(ctx, fn, job, r)

		end := t.now().UTC()
		rec.CompletedAt = &end
		rec.DurationMS = end.Sub(start).Milliseconds()
		if err == nil {
			rec.Status = model.JobCompleted
			rec.Progress = 100
			rec.Counts = res.Counts
			if res.Output != nil {
				if out, merr := json.Marshal(res.Output); merr == nil {
					rec.Output = out
				}
			}
		} else {
			rec.Status = model.JobFailed
			rec.Progress = r.current()
			rec.Counts = r.counts()
			rec.Error = err.Error()
			rec.ErrorStack = stack
		}
		// the attempt outcome must be recorded even if the job ran out its context
		if ferr := t.store.FinishJob(context.WithoutCancel(ctx), rec); ferr != nil {
			r.log.Error().Err(ferr).Msg("recording job outcome failed")
		}
		metrics.Jobs.WithLabelValues(job.Queue, string(rec.Status)).Inc()

		if err != nil {
			r.log.Error().Err(err).Int64("duration_ms", rec.DurationMS).Msg("job attempt failed")
			if permanent(err) {
				return nil, queue.Permanent(err)
			}
			return nil, err
		}
		r.log.Info().Int64("duration_ms", rec.DurationMS).Int64("processed", res.Counts.Processed).
			Int64("skipped", res.Counts.Skipped).Int64("failed", res.Counts.Failed).Msg("job completed")
		return res, nil
	}
}

func run(ctx context.Context, fn WorkFunc, job *queue.Job, r *Reporter) (res Result, stack string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
			stack = string(debug.Stack())
		}
	}()
	res, err = fn(ctx, job, r)
	if err != nil {
		stack = errorChain(err)
	}
	return res, stack, err
}

// errorChain lists each wrapped error, outermost first.
func errorChain(err error) string {
	var b strings.Builder
	for e := err; e != nil; e = errors.Unwrap(e) {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%T: %s", e, e.Error())
	}
	return b.String()
}

func permanent(err error) bool {
	var ve *apperr.ValidationError
	if errors.As(err, &ve) {
		return true
	}
	return errors.Is(err, apperr.ErrNotFound)
}
