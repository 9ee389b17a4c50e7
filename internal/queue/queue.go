// Package queue implements named Redis job queues with priorities, delayed
// jobs and retries with backoff.
//
// Keys for queue "q" under prefix "p":
//
//	p:q:wait       ZSET  job ids by priority*1e12 + sequence
//	p:q:delayed    ZSET  job ids by ready-at unix ms
//	p:q:active     SET   job ids currently held by a worker
//	p:q:completed  ZSET  job ids by finish unix ms
//	p:q:failed     ZSET  job ids by finish unix ms
//	p:q:seq        STRING insertion counter
//	p:q:job:<id>   STRING job JSON
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/gyeh/mrfsync/internal/apperr"
)

const (
	DefaultAttempts = 3
	CompletedTTL    = 24 * time.Hour
	FailedTTL       = 7 * 24 * time.Hour

	priorityScale = 1e12
	promoteBatch  = 100
	scanBatch     = 500
)

// ErrActiveJobs is returned by Obliterate when jobs are running and force is off.
var ErrActiveJobs = errors.New("queue has active jobs")

// Queue is a named queue in Redis.
type Queue struct {
	client redis.UniversalClient
	prefix string
	name   string
	log    zerolog.Logger
	now    func() time.Time
}

// New returns a handle on the queue called name.
func New(client redis.UniversalClient, prefix, name string, log zerolog.Logger) *Queue {
	if prefix == "" {
		prefix = "mrfsync"
	}
	return &Queue{
		client: client,
		prefix: prefix,
		name:   name,
		log:    log.With().Str("component", "queue").Str("queue", name).Logger(),
		now:    time.Now,
	}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

func (q *Queue) key(suffix string) string {
	return q.prefix + ":" + q.name + ":" + suffix
}

func (q *Queue) jobKey(id string) string {
	return q.key("job:" + id)
}

func unixMS(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// Add enqueues a job named name with payload encoded as JSON.
func (q *Queue) Add(ctx context.Context, name string, payload any, opts Options) (*Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.Priority < 0 {
		opts.Priority = 0
	}
	now := q.now().UTC()
	job := &Job{
		ID:        uuid.NewString(),
		Queue:     q.name,
		Name:      name,
		Payload:   data,
		Priority:  opts.Priority,
		Attempts:  opts.Attempts,
		Backoff:   opts.Backoff,
		State:     StateWaiting,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var score float64
	target := q.key("wait")
	if opts.Delay > 0 {
		job.State = StateDelayed
		target = q.key("delayed")
		score = unixMS(now.Add(opts.Delay))
	} else {
		score, err = q.waitScore(ctx, job.Priority)
		if err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, q.jobKey(job.ID), body, 0)
		pipe.ZAdd(ctx, target, redis.Z{Score: score, Member: job.ID})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", name, err)
	}
	q.log.Debug().Str("job_id", job.ID).Str("name", name).Int("priority", job.Priority).
		Dur("delay", opts.Delay).Msg("job added")
	return job, nil
}

func (q *Queue) waitScore(ctx context.Context, priority int) (float64, error) {
	seq, err := q.client.Incr(ctx, q.key("seq")).Result()
	if err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}
	return float64(priority)*priorityScale + float64(seq), nil
}

// Get loads a job by id.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	body, err := q.client.Get(ctx, q.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, &apperr.NotFoundError{Resource: "job", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

func (q *Queue) save(ctx context.Context, pipe redis.Pipeliner, job *Job, ttl time.Duration) error {
	job.UpdatedAt = q.now().UTC()
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	pipe.Set(ctx, q.jobKey(job.ID), body, ttl)
	return nil
}

// Counts reports the number of jobs in each state.
func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	pipe := q.client.Pipeline()
	waiting := pipe.ZCard(ctx, q.key("wait"))
	delayed := pipe.ZCard(ctx, q.key("delayed"))
	active := pipe.SCard(ctx, q.key("active"))
	completed := pipe.ZCard(ctx, q.key("completed"))
	failed := pipe.ZCard(ctx, q.key("failed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, fmt.Errorf("queue counts: %w", err)
	}
	return Counts{
		Waiting:   waiting.Val(),
		Delayed:   delayed.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

// Drain removes waiting jobs, and delayed jobs too when includeDelayed is
// set. Active jobs are left to finish. It returns the number removed.
func (q *Queue) Drain(ctx context.Context, includeDelayed bool) (int, error) {
	sets := []string{q.key("wait")}
	if includeDelayed {
		sets = append(sets, q.key("delayed"))
	}
	removed := 0
	for _, set := range sets {
		ids, err := q.client.ZRange(ctx, set, 0, -1).Result()
		if err != nil {
			return removed, fmt.Errorf("drain %s: %w", set, err)
		}
		keys := make([]string, 0, len(ids)+1)
		for _, id := range ids {
			keys = append(keys, q.jobKey(id))
		}
		keys = append(keys, set)
		if err := q.client.Del(ctx, keys...).Err(); err != nil {
			return removed, fmt.Errorf("drain %s: %w", set, err)
		}
		removed += len(ids)
	}
	q.log.Info().Int("removed", removed).Bool("delayed", includeDelayed).Msg("queue drained")
	return removed, nil
}

// Obliterate deletes every key of the queue, history included. It refuses
// while jobs are active unless force is set.
func (q *Queue) Obliterate(ctx context.Context, force bool) (int, error) {
	if !force {
		n, err := q.client.SCard(ctx, q.key("active")).Result()
		if err != nil {
			return 0, fmt.Errorf("obliterate: %w", err)
		}
		if n > 0 {
			return 0, fmt.Errorf("obliterate %s: %w (%d)", q.name, ErrActiveJobs, n)
		}
	}
	match := q.key("*")
	deleted := 0
	var cursor uint64
	for {
		keys, next, err := q.client.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return deleted, fmt.Errorf("obliterate scan: %w", err)
		}
		if len(keys) > 0 {
			n, err := q.client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("obliterate delete: %w", err)
			}
			deleted += int(n)
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	q.log.Warn().Int("keys", deleted).Msg("queue obliterated")
	return deleted, nil
}

// promoteDue moves delayed jobs whose time has come to the wait set. Only
// the caller whose ZREM succeeds re-adds a job, so concurrent promoters
// never duplicate it.
func (q *Queue) promoteDue(ctx context.Context) (int, error) {
	until := strconv.FormatInt(q.now().UnixMilli(), 10)
	ids, err := q.client.ZRangeByScore(ctx, q.key("delayed"), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   until,
		Count: promoteBatch,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("list delayed: %w", err)
	}
	promoted := 0
	for _, id := range ids {
		n, err := q.client.ZRem(ctx, q.key("delayed"), id).Result()
		if err != nil {
			return promoted, fmt.Errorf("claim delayed %s: %w", id, err)
		}
		if n == 0 {
			continue
		}
		job, err := q.Get(ctx, id)
		if err != nil {
			q.log.Warn().Err(err).Str("job_id", id).Msg("dropping delayed job without data")
			continue
		}
		score, err := q.waitScore(ctx, job.Priority)
		if err != nil {
			return promoted, err
		}
		job.State = StateWaiting
		_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if err := q.save(ctx, pipe, job, 0); err != nil {
				return err
			}
			pipe.ZAdd(ctx, q.key("wait"), redis.Z{Score: score, Member: id})
			return nil
		})
		if err != nil {
			return promoted, fmt.Errorf("promote %s: %w", id, err)
		}
		promoted++
	}
	return promoted, nil
}

// take pops the highest-priority waiting job and marks it active. It
// returns nil when the queue is empty.
func (q *Queue) take(ctx context.Context) (*Job, error) {
	if _, err := q.promoteDue(ctx); err != nil {
		return nil, err
	}
	popped, err := q.client.ZPopMin(ctx, q.key("wait"), 1).Result()
	if err != nil {
		return nil, fmt.Errorf("pop wait: %w", err)
	}
	if len(popped) == 0 {
		return nil, nil
	}
	id, ok := popped[0].Member.(string)
	if !ok {
		return nil, fmt.Errorf("pop wait: unexpected member %v", popped[0].Member)
	}
	if err := q.client.SAdd(ctx, q.key("active"), id).Err(); err != nil {
		return nil, fmt.Errorf("mark active %s: %w", id, err)
	}
	job, err := q.Get(ctx, id)
	if err != nil {
		q.client.SRem(ctx, q.key("active"), id)
		return nil, err
	}
	now := q.now().UTC()
	job.State = StateActive
	job.AttemptsMade++
	job.ProcessedAt = &now
	job.FinishedAt = nil
	if _, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		return q.save(ctx, pipe, job, 0)
	}); err != nil {
		return nil, fmt.Errorf("start job %s: %w", id, err)
	}
	return job, nil
}

// complete records a successful attempt.
func (q *Queue) complete(ctx context.Context, job *Job, result any) error {
	now := q.now().UTC()
	job.State = StateCompleted
	job.FinishedAt = &now
	job.FailedReason = ""
	job.Result = nil
	if result != nil {
		body, err := json.Marshal(result)
		if err != nil {
			q.log.Warn().Err(err).Str("job_id", job.ID).Msg("job result not encodable")
		} else {
			job.Result = body
		}
	}
	cutoff := strconv.FormatInt(now.Add(-CompletedTTL).UnixMilli(), 10)
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if err := q.save(ctx, pipe, job, CompletedTTL); err != nil {
			return err
		}
		pipe.SRem(ctx, q.key("active"), job.ID)
		pipe.ZAdd(ctx, q.key("completed"), redis.Z{Score: unixMS(now), Member: job.ID})
		pipe.ZRemRangeByScore(ctx, q.key("completed"), "-inf", "("+cutoff)
		return nil
	})
	if err != nil {
		return fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	return nil
}

// fail records a failed attempt. The job is rescheduled with its backoff
// while attempts remain; otherwise it moves to the failed set. It reports
// whether the job will be retried.
func (q *Queue) fail(ctx context.Context, job *Job, cause error) (bool, error) {
	now := q.now().UTC()
	job.FailedReason = cause.Error()
	retry := job.Retryable() && !IsPermanent(cause)
	var err error
	if retry {
		delay := job.Backoff.After(job.AttemptsMade)
		job.State = StateDelayed
		_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if err := q.save(ctx, pipe, job, 0); err != nil {
				return err
			}
			pipe.SRem(ctx, q.key("active"), job.ID)
			pipe.ZAdd(ctx, q.key("delayed"), redis.Z{Score: unixMS(now.Add(delay)), Member: job.ID})
			return nil
		})
	} else {
		job.State = StateFailed
		job.FinishedAt = &now
		cutoff := strconv.FormatInt(now.Add(-FailedTTL).UnixMilli(), 10)
		_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if err := q.save(ctx, pipe, job, FailedTTL); err != nil {
				return err
			}
			pipe.SRem(ctx, q.key("active"), job.ID)
			pipe.ZAdd(ctx, q.key("failed"), redis.Z{Score: unixMS(now), Member: job.ID})
			pipe.ZRemRangeByScore(ctx, q.key("failed"), "-inf", "("+cutoff)
			return nil
		})
	}
	if err != nil {
		return retry, fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	return retry, nil
}

// RecoverStalled returns active jobs that started more than maxAge ago to
// the wait set. Their worker is presumed dead. Jobs without attempts left
// are failed instead.
func (q *Queue) RecoverStalled(ctx context.Context, maxAge time.Duration) (int, error) {
	ids, err := q.client.SMembers(ctx, q.key("active")).Result()
	if err != nil {
		return 0, fmt.Errorf("list active: %w", err)
	}
	now := q.now()
	recovered := 0
	for _, id := range ids {
		job, err := q.Get(ctx, id)
		if err != nil {
			var nf *apperr.NotFoundError
			if errors.As(err, &nf) {
				q.client.SRem(ctx, q.key("active"), id)
				continue
			}
			return recovered, err
		}
		started := job.UpdatedAt
		if job.ProcessedAt != nil {
			started = *job.ProcessedAt
		}
		if job.State != StateActive {
			q.client.SRem(ctx, q.key("active"), id)
			continue
		}
		if now.Sub(started) <= maxAge {
			continue
		}
		q.log.Warn().Str("job_id", id).Str("name", job.Name).Dur("age", now.Sub(started)).
			Msg("recovering stalled job")
		if !job.Retryable() {
			if _, err := q.fail(ctx, job, errors.New("job stalled")); err != nil {
				return recovered, err
			}
			recovered++
			continue
		}
		score, err := q.waitScore(ctx, job.Priority)
		if err != nil {
			return recovered, err
		}
		job.State = StateWaiting
		job.FailedReason = "recovered after stall"
		_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if err := q.save(ctx, pipe, job, 0); err != nil {
				return err
			}
			pipe.SRem(ctx, q.key("active"), id)
			pipe.ZAdd(ctx, q.key("wait"), redis.Z{Score: score, Member: id})
			return nil
		})
		if err != nil {
			return recovered, fmt.Errorf("requeue stalled %s: %w", id, err)
		}
		recovered++
	}
	return recovered, nil
}
