package queue

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/gyeh/mrfsync/internal/metrics"
)

// Handler runs one job attempt. A returned error fails the attempt; the
// result is stored on the job when it completes.
type Handler func(ctx context.Context, job *Job) (any, error)

// WorkerOptions tunes a Worker. Zero values take the defaults.
type WorkerOptions struct {
	Concurrency   int           // default 1
	PollInterval  time.Duration // default 1s
	StalledAfter  time.Duration // default 2h
	SweepInterval time.Duration // default 1m
}

// Worker pulls jobs from one queue with bounded concurrency.
type Worker struct {
	q       *Queue
	handler Handler
	opts    WorkerOptions
	log     zerolog.Logger
}

// NewWorker returns a Worker for q.
func NewWorker(q *Queue, handler Handler, opts WorkerOptions, log zerolog.Logger) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.StalledAfter <= 0 {
		opts.StalledAfter = 2 * time.Hour
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	return &Worker{
		q:       q,
		handler: handler,
		opts:    opts,
		log:     log.With().Str("component", "worker").Str("queue", q.name).Logger(),
	}
}

// Run processes jobs until ctx is cancelled. A job that has started is
// allowed to finish; Run returns once every slot is idle.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Int("concurrency", w.opts.Concurrency).Msg("worker started")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		w.sweep(gctx)
		return nil
	})
	for i := 0; i < w.opts.Concurrency; i++ {
		slot := i
		g.Go(func() error {
			w.loop(gctx, slot)
			return nil
		})
	}
	err := g.Wait()
	w.log.Info().Msg("worker stopped")
	return err
}

func (w *Worker) loop(ctx context.Context, slot int) {
	log := w.log.With().Int("slot", slot).Logger()
	for ctx.Err() == nil {
		ran, err := w.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("dequeue failed")
		}
		if ran {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.opts.PollInterval):
		}
	}
}

func (w *Worker) sweep(ctx context.Context) {
	ticker := time.NewTicker(w.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := w.q.RecoverStalled(ctx, w.opts.StalledAfter); err != nil {
				w.log.Error().Err(err).Msg("stalled sweep failed")
			} else if n > 0 {
				w.log.Warn().Int("recovered", n).Msg("stalled jobs recovered")
			}
		}
	}
}

// RunOnce takes at most one job and runs it to completion. It reports
// whether a job was taken.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	// a popped job must reach the active set even during shutdown
	run := context.WithoutCancel(ctx)
	job, err := w.q.take(run)
	if err != nil || job == nil {
		return false, err
	}
	w.process(run, job)
	return true, nil
}

func (w *Worker) process(ctx context.Context, job *Job) {
	log := w.log.With().Str("job_id", job.ID).Str("name", job.Name).
		Int("attempt", job.AttemptsMade).Int("attempts", job.Attempts).Logger()
	log.Info().Msg("job started")
	start := time.Now()

	result, err := w.call(ctx, job)
	if err == nil {
		if cerr := w.q.complete(ctx, job, result); cerr != nil {
			log.Error().Err(cerr).Msg("recording completion failed")
		}
		metrics.QueueJobs.WithLabelValues(w.q.name, string(StateCompleted)).Inc()
		log.Info().Dur("duration", time.Since(start)).Msg("job completed")
		return
	}

	retry, ferr := w.q.fail(ctx, job, err)
	if ferr != nil {
		log.Error().Err(ferr).Msg("recording failure failed")
	}
	if retry {
		metrics.QueueJobs.WithLabelValues(w.q.name, "retried").Inc()
		log.Warn().Err(err).Dur("retry_in", job.Backoff.After(job.AttemptsMade)).Msg("job attempt failed")
		return
	}
	metrics.QueueJobs.WithLabelValues(w.q.name, string(StateFailed)).Inc()
	log.Error().Err(err).Msg("job failed")
}

func (w *Worker) call(ctx context.Context, job *Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return w.handler(ctx, job)
}
