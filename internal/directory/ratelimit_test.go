package directory

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"
)

func TestSlidingWindow_BlocksUntilOldestLeavesWindow(t *testing.T) {
	clock := newFakeClock()
	start := clock.Now()
	w := NewSlidingWindow(100, 180*time.Second, clock)
	ctx := context.Background()

	// 100 calls spread over 10 seconds
	for i := 0; i < 100; i++ {
		waited, err := w.Acquire(ctx)
		if err != nil {
			t.Fatalf("acquire %d: %v", i+1, err)
		}
		if waited != 0 {
			t.Fatalf("acquire %d waited %s, want no wait", i+1, waited)
		}
		clock.Advance(100 * time.Millisecond)
	}

	waited, err := w.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire 101: %v", err)
	}
	if elapsed := clock.Now().Sub(start); elapsed != 180*time.Second {
		t.Errorf("call 101 proceeded %s after call 1, want 180s", elapsed)
	}
	if waited != 170*time.Second {
		t.Errorf("waited %s, want 170s", waited)
	}
}

func TestSlidingWindow_NeverExceedsMax(t *testing.T) {
	const (
		max    = 10
		window = 5 * time.Second
	)
	clock := newFakeClock()
	w := NewSlidingWindow(max, window, clock)
	rng := rand.New(rand.NewSource(7))
	ctx := context.Background()

	var stamps []time.Time
	for i := 0; i < 500; i++ {
		if _, err := w.Acquire(ctx); err != nil {
			t.Fatalf("acquire: %v", err)
		}
		stamps = append(stamps, clock.Now())
		clock.Advance(time.Duration(rng.Intn(700)) * time.Millisecond)
	}

	// any max+1 consecutive events must span at least one full window
	for i := 0; i+max < len(stamps); i++ {
		if span := stamps[i+max].Sub(stamps[i]); span < window {
			t.Fatalf("events %d..%d span %s < window %s", i, i+max, span, window)
		}
	}
}

func TestSlidingWindow_CancelledWhileWaiting(t *testing.T) {
	clock := newFakeClock()
	w := NewSlidingWindow(1, time.Minute, clock)
	if _, err := w.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := w.Acquire(ctx); err == nil {
		t.Fatal("expected context error")
	}
	if st := w.Status(); st.Current != 1 {
		t.Errorf("cancelled acquire should not record a request, current=%d", st.Current)
	}
}

func TestSlidingWindow_ConcurrentAcquire(t *testing.T) {
	clock := newFakeClock()
	w := NewSlidingWindow(10, time.Second, clock)
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				if _, err := w.Acquire(ctx); err != nil {
					t.Errorf("acquire: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	st := w.Status()
	if st.Current > st.Max {
		t.Errorf("window holds %d > max %d", st.Current, st.Max)
	}
	// 200 requests at 10/s need at least 19 full windows of waiting
	if clock.slept < 19*time.Second {
		t.Errorf("total wait %s, want >= 19s", clock.slept)
	}
}

func TestSlidingWindow_Status(t *testing.T) {
	clock := newFakeClock()
	w := NewSlidingWindow(3, time.Minute, clock)
	ctx := context.Background()

	st := w.Status()
	if st.Max != 3 || st.Current != 0 || st.Remaining != 3 || st.ResetTime != nil {
		t.Fatalf("empty status = %+v", st)
	}

	first := clock.Now()
	w.Acquire(ctx)
	clock.Advance(10 * time.Second)
	w.Acquire(ctx)

	st = w.Status()
	if st.Current != 2 || st.Remaining != 1 {
		t.Errorf("status = %+v", st)
	}
	if st.ResetTime == nil || !st.ResetTime.Equal(first.Add(time.Minute)) {
		t.Errorf("reset time = %v, want %v", st.ResetTime, first.Add(time.Minute))
	}

	clock.Advance(time.Minute)
	if st := w.Status(); st.Current != 0 {
		t.Errorf("after window passes current = %d, want 0", st.Current)
	}
}
