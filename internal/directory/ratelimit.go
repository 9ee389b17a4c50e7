package directory

import (
	"context"
	"sync"
	"time"

	"github.com/gyeh/mrfsync/internal/metrics"
)

// Clock abstracts time for the limiter and session logic.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RateLimitStatus is a snapshot of the sliding window.
type RateLimitStatus struct {
	Max       int        `json:"max"`
	Current   int        `json:"current"`
	Remaining int        `json:"remaining"`
	ResetTime *time.Time `json:"reset_time,omitempty"`
}

// SlidingWindow admits at most max events within any trailing window.
// Callers over the limit block until the oldest event leaves the window;
// nothing is rejected.
type SlidingWindow struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	stamps []time.Time
	clock  Clock
}

// NewSlidingWindow creates a limiter. A nil clock uses wall time.
func NewSlidingWindow(max int, window time.Duration, clock Clock) *SlidingWindow {
	if clock == nil {
		clock = realClock{}
	}
	return &SlidingWindow{
		max:    max,
		window: window,
		stamps: make([]time.Time, 0, max),
		clock:  clock,
	}
}

// Acquire records one event, blocking while the window is full.
// It returns the total time spent waiting.
func (w *SlidingWindow) Acquire(ctx context.Context) (time.Duration, error) {
	var waited time.Duration
	for {
		w.mu.Lock()
		now := w.clock.Now()
		w.pruneLocked(now)
		if len(w.stamps) < w.max {
			w.stamps = append(w.stamps, now)
			w.mu.Unlock()
			return waited, nil
		}
		wait := w.stamps[0].Add(w.window).Sub(now)
		w.mu.Unlock()

		metrics.RateLimitWaits.Inc()
		metrics.RateLimitWaitSeconds.Add(wait.Seconds())
		if err := w.clock.Sleep(ctx, wait); err != nil {
			return waited, err
		}
		waited += wait
	}
}

// pruneLocked drops timestamps that have left the window.
func (w *SlidingWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// Status reports the current window occupancy.
func (w *SlidingWindow) Status() RateLimitStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(w.clock.Now())
	st := RateLimitStatus{
		Max:       w.max,
		Current:   len(w.stamps),
		Remaining: w.max - len(w.stamps),
	}
	if len(w.stamps) > 0 {
		reset := w.stamps[0].Add(w.window)
		st.ResetTime = &reset
	}
	return st
}
