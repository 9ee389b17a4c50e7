package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gyeh/mrfsync/internal/model"
)

// Reporter lets running business logic publish progress and log lines.
// Both are persisted immediately; persistence failures are logged and
// never fail the job.
type Reporter struct {
	store Store
	jobID string
	log   zerolog.Logger
	now   func() time.Time

	mu       sync.Mutex
	progress float64
	done     int
	total    int
	tally    model.JobCounts
}

// Progress records percent complete, clamped to [0, 100]. Step counts from
// an earlier Step call are kept.
func (r *Reporter) Progress(ctx context.Context, percent float64) {
	r.mu.Lock()
	done, total := r.done, r.total
	r.mu.Unlock()
	r.update(ctx, percent, done, total)
}

// Step records progress as completed out of total steps. The step counts
// are persisted next to the derived percentage.
func (r *Reporter) Step(ctx context.Context, completed, total int) {
	if total <= 0 {
		return
	}
	if completed > total {
		completed = total
	}
	r.update(ctx, float64(completed)*100/float64(total), completed, total)
}

func (r *Reporter) update(ctx context.Context, percent float64, done, total int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	r.mu.Lock()
	r.progress, r.done, r.total = percent, done, total
	p := model.JobProgress{Percent: percent, StepsDone: done, StepsTotal: total, Counts: r.tally}
	r.mu.Unlock()
	if err := r.store.UpdateJobProgress(ctx, r.jobID, p); err != nil {
		r.log.Warn().Err(err).Float64("progress", percent).Msg("persist progress failed")
	}
}

// SetCounts replaces the running counters persisted with progress.
func (r *Reporter) SetCounts(c model.JobCounts) {
	r.mu.Lock()
	r.tally = c
	r.mu.Unlock()
}

// Log writes a job log entry at level with optional structured data.
func (r *Reporter) Log(ctx context.Context, level zerolog.Level, msg string, data map[string]any) {
	ev := r.log.WithLevel(level)
	if len(data) > 0 {
		ev = ev.Fields(data)
	}
	ev.Msg(msg)

	entry := model.JobLogEntry{
		JobID:     r.jobID,
		Level:     level.String(),
		Message:   msg,
		CreatedAt: r.now().UTC(),
	}
	if len(data) > 0 {
		if b, err := json.Marshal(data); err == nil {
			entry.Data = b
		}
	}
	if err := r.store.AppendJobLog(ctx, entry); err != nil {
		r.log.Warn().Err(err).Msg("persist job log failed")
	}
}

// Info is shorthand for Log at info level.
func (r *Reporter) Info(ctx context.Context, msg string, data map[string]any) {
	r.Log(ctx, zerolog.InfoLevel, msg, data)
}

// Warn is shorthand for Log at warn level.
func (r *Reporter) Warn(ctx context.Context, msg string, data map[string]any) {
	r.Log(ctx, zerolog.WarnLevel, msg, data)
}

func (r *Reporter) current() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

func (r *Reporter) counts() model.JobCounts {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tally
}
