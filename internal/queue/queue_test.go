package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyeh/mrfsync/internal/apperr"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestQueue(t *testing.T, name string) (*Queue, *miniredis.Miniredis, *testClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	clock := &testClock{t: time.Date(2025, 7, 30, 12, 0, 0, 0, time.UTC)}
	q := New(client, "test", name, zerolog.Nop())
	q.now = clock.Now
	return q, mr, clock
}

type filePayload struct {
	FileID string `json:"file_id"`
}

func TestBackoffAfter(t *testing.T) {
	tests := []struct {
		name    string
		backoff Backoff
		attempt int
		want    time.Duration
	}{
		{"exponential first", Backoff{Type: BackoffExponential, Delay: 30 * time.Second}, 1, 30 * time.Second},
		{"exponential second", Backoff{Type: BackoffExponential, Delay: 30 * time.Second}, 2, time.Minute},
		{"exponential fourth", Backoff{Type: BackoffExponential, Delay: 5 * time.Minute}, 4, 40 * time.Minute},
		{"exponential capped", Backoff{Type: BackoffExponential, Delay: time.Hour}, 20, 24 * time.Hour},
		{"fixed", Backoff{Type: BackoffFixed, Delay: 10 * time.Second}, 3, 10 * time.Second},
		{"none", Backoff{}, 2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.backoff.After(tt.attempt))
		})
	}
}

func TestAddAndGet(t *testing.T) {
	q, _, _ := newTestQueue(t, "downloads")
	ctx := context.Background()

	job, err := q.Add(ctx, "download-file", filePayload{FileID: "f-1"}, Options{Priority: 5})
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, job.State)
	assert.Equal(t, DefaultAttempts, job.Attempts)

	got, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "download-file", got.Name)
	assert.Equal(t, "downloads", got.Queue)
	var p filePayload
	require.NoError(t, got.Decode(&p))
	assert.Equal(t, "f-1", p.FileID)

	_, err = q.Get(ctx, "missing")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestPriorityOrder(t *testing.T) {
	q, _, _ := newTestQueue(t, "downloads")
	ctx := context.Background()
	for _, a := range []struct {
		name     string
		priority int
	}{
		{"daily-a", 10}, {"manual", 1}, {"daily-b", 10}, {"scan", 5},
	} {
		_, err := q.Add(ctx, a.name, nil, Options{Priority: a.priority})
		require.NoError(t, err)
	}

	var order []string
	w := NewWorker(q, func(ctx context.Context, job *Job) (any, error) {
		order = append(order, job.Name)
		return nil, nil
	}, WorkerOptions{}, zerolog.Nop())
	for {
		ran, err := w.RunOnce(ctx)
		require.NoError(t, err)
		if !ran {
			break
		}
	}
	assert.Equal(t, []string{"manual", "scan", "daily-a", "daily-b"}, order)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Completed: 4}, counts)
}

func TestDelayedJobPromotion(t *testing.T) {
	q, _, clock := newTestQueue(t, "downloads")
	ctx := context.Background()

	job, err := q.Add(ctx, "download-file", nil, Options{Delay: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, StateDelayed, job.State)

	var runs atomic.Int32
	w := NewWorker(q, func(ctx context.Context, job *Job) (any, error) {
		runs.Add(1)
		return nil, nil
	}, WorkerOptions{}, zerolog.Nop())

	ran, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, ran)
	counts, _ := q.Counts(ctx)
	assert.Equal(t, int64(1), counts.Delayed)

	clock.Advance(61 * time.Second)
	ran, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, int32(1), runs.Load())
}

func TestRetryWithExponentialBackoff(t *testing.T) {
	q, _, clock := newTestQueue(t, "downloads")
	ctx := context.Background()

	job, err := q.Add(ctx, "download-file", nil, Options{
		Attempts: 3,
		Backoff:  Backoff{Type: BackoffExponential, Delay: 30 * time.Second},
	})
	require.NoError(t, err)

	var runs atomic.Int32
	w := NewWorker(q, func(ctx context.Context, job *Job) (any, error) {
		runs.Add(1)
		return nil, errors.New("upstream unavailable")
	}, WorkerOptions{}, zerolog.Nop())

	ran, _ := w.RunOnce(ctx)
	require.True(t, ran)
	got, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateDelayed, got.State)
	assert.Equal(t, 1, got.AttemptsMade)
	assert.Equal(t, "upstream unavailable", got.FailedReason)

	clock.Advance(30 * time.Second)
	ran, _ = w.RunOnce(ctx)
	require.True(t, ran)

	// second retry waits twice as long
	clock.Advance(59 * time.Second)
	ran, _ = w.RunOnce(ctx)
	assert.False(t, ran)
	clock.Advance(time.Second)
	ran, _ = w.RunOnce(ctx)
	require.True(t, ran)

	got, err = q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
	assert.Equal(t, 3, got.AttemptsMade)
	assert.NotNil(t, got.FinishedAt)
	assert.Equal(t, int32(3), runs.Load())

	counts, _ := q.Counts(ctx)
	assert.Equal(t, Counts{Failed: 1}, counts)
}

func TestPermanentErrorSkipsRetries(t *testing.T) {
	q, _, _ := newTestQueue(t, "downloads")
	ctx := context.Background()

	job, err := q.Add(ctx, "download-file", nil, Options{Attempts: 5})
	require.NoError(t, err)

	w := NewWorker(q, func(ctx context.Context, job *Job) (any, error) {
		return nil, Permanent(&apperr.NotFoundError{Resource: "hospital", ID: "7"})
	}, WorkerOptions{}, zerolog.Nop())
	ran, _ := w.RunOnce(ctx)
	require.True(t, ran)

	got, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
	assert.Equal(t, 1, got.AttemptsMade)
	assert.Contains(t, got.FailedReason, "not found")
}

func TestCompletedJobKeepsResult(t *testing.T) {
	q, mr, _ := newTestQueue(t, "downloads")
	ctx := context.Background()

	job, err := q.Add(ctx, "download-file", nil, Options{})
	require.NoError(t, err)
	w := NewWorker(q, func(ctx context.Context, job *Job) (any, error) {
		return map[string]any{"outcome": "processed", "records": 42}, nil
	}, WorkerOptions{}, zerolog.Nop())
	_, err = w.RunOnce(ctx)
	require.NoError(t, err)

	got, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, got.State)
	assert.JSONEq(t, `{"outcome":"processed","records":42}`, string(got.Result))
	assert.Equal(t, CompletedTTL, mr.TTL(q.jobKey(job.ID)))
}

func TestPanicFailsAttempt(t *testing.T) {
	q, _, _ := newTestQueue(t, "downloads")
	ctx := context.Background()

	job, err := q.Add(ctx, "download-file", nil, Options{Attempts: 1})
	require.NoError(t, err)
	w := NewWorker(q, func(ctx context.Context, job *Job) (any, error) {
		panic("boom")
	}, WorkerOptions{}, zerolog.Nop())
	ran, err := w.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, ran)

	got, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
	assert.True(t, strings.HasPrefix(got.FailedReason, "panic: boom"))
}

func TestDrain(t *testing.T) {
	q, _, _ := newTestQueue(t, "downloads")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := q.Add(ctx, "download-file", nil, Options{})
		require.NoError(t, err)
	}
	delayed, err := q.Add(ctx, "download-file", nil, Options{Delay: time.Hour})
	require.NoError(t, err)

	n, err := q.Drain(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	counts, _ := q.Counts(ctx)
	assert.Equal(t, Counts{Delayed: 1}, counts)

	n, err = q.Drain(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = q.Get(ctx, delayed.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestObliterate(t *testing.T) {
	q, mr, _ := newTestQueue(t, "downloads")
	ctx := context.Background()
	other := New(q.client, "test", "imports", zerolog.Nop())

	_, err := other.Add(ctx, "import-state", nil, Options{})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := q.Add(ctx, "download-file", nil, Options{})
		require.NoError(t, err)
	}
	active, err := q.take(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)

	_, err = q.Obliterate(ctx, false)
	assert.True(t, errors.Is(err, ErrActiveJobs))

	n, err := q.Obliterate(ctx, true)
	require.NoError(t, err)
	assert.Greater(t, n, 0)
	for _, k := range mr.Keys() {
		assert.True(t, strings.HasPrefix(k, "test:imports:"), "leftover key %s", k)
	}
	counts, err := other.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Waiting)
}

func TestRecoverStalled(t *testing.T) {
	q, _, clock := newTestQueue(t, "downloads")
	ctx := context.Background()

	fresh, err := q.Add(ctx, "download-file", nil, Options{Attempts: 3})
	require.NoError(t, err)
	_, err = q.take(ctx)
	require.NoError(t, err)

	n, err := q.RecoverStalled(ctx, 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	clock.Advance(3 * time.Hour)
	n, err = q.RecoverStalled(ctx, 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := q.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, got.State)
	counts, _ := q.Counts(ctx)
	assert.Equal(t, Counts{Waiting: 1}, counts)
}

func TestRecoverStalled_NoAttemptsLeft(t *testing.T) {
	q, _, clock := newTestQueue(t, "downloads")
	ctx := context.Background()

	job, err := q.Add(ctx, "download-file", nil, Options{Attempts: 1})
	require.NoError(t, err)
	_, err = q.take(ctx)
	require.NoError(t, err)

	clock.Advance(3 * time.Hour)
	n, err := q.RecoverStalled(ctx, 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
	assert.Equal(t, "job stalled", got.FailedReason)
}

func TestWorkerRun_Concurrency(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	q := New(client, "test", "downloads", zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 10; i++ {
		_, err := q.Add(ctx, "download-file", filePayload{FileID: "f"}, Options{})
		require.NoError(t, err)
	}

	var done, inFlight, peak atomic.Int32
	w := NewWorker(q, func(ctx context.Context, job *Job) (any, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		done.Add(1)
		return nil, nil
	}, WorkerOptions{Concurrency: 3, PollInterval: 10 * time.Millisecond}, zerolog.Nop())

	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()

	assert.Eventually(t, func() bool { return done.Load() == 10 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.LessOrEqual(t, peak.Load(), int32(3))

	counts, err := q.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(10), counts.Completed)
}
