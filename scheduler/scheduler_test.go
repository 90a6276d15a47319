package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped atomic.Bool
}

func (t *fakeTimer) Stop() bool { return !t.stopped.Swap(true) }

type timers struct {
	created chan *fakeTimer
}

func newTimers() *timers { return &timers{created: make(chan *fakeTimer, 16)} }

func (ts *timers) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{d: d, f: f}
	ts.created <- t
	return t
}

func (ts *timers) next(t *testing.T) *fakeTimer {
	t.Helper()
	select {
	case tm := <-ts.created:
		return tm
	case <-time.After(2 * time.Second):
		t.Fatal("no timer armed")
		return nil
	}
}

func (ts *timers) none(t *testing.T) {
	t.Helper()
	select {
	case tm := <-ts.created:
		t.Fatalf("unexpected timer for %s", tm.d)
	default:
	}
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Add(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type cache struct {
	mu      sync.Mutex
	reasons []string
}

func (c *cache) ClearCache(_ context.Context, reason string) error {
	c.mu.Lock()
	c.reasons = append(c.reasons, reason)
	c.mu.Unlock()
	return nil
}

func start(t *testing.T, cfg Config) *Scheduler {
	t.Helper()
	s := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-errc; err != nil {
			t.Errorf("Run: %v", err)
		}
	})
	return s
}

func status(t *testing.T, s *Scheduler) Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := s.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	return st
}

func TestBackgroundSchedulesExactlyOneSync(t *testing.T) {
	ts := newTimers()
	clk := &clock{t: time.Date(2026, 6, 5, 22, 0, 0, 0, time.UTC)}
	var syncs atomic.Int32
	s := start(t, Config{
		Sync:                func(context.Context) error { syncs.Add(1); return nil },
		AfterFunc:           ts.AfterFunc,
		Now:                 clk.Now,
		MemoryCheckInterval: -1,
	})

	s.Notify(Background)
	s.Notify(Background)
	s.Notify(Background)
	tm := ts.next(t)
	if tm.d != DefaultDebounce {
		t.Fatalf("debounce: got %s want %s", tm.d, DefaultDebounce)
	}
	if st := status(t, s); !st.Scheduled || st.Syncs != 0 {
		t.Fatalf("before fire: %+v", st)
	}
	ts.none(t)

	clk.Add(DefaultDebounce)
	tm.f()
	st := status(t, s)
	if syncs.Load() != 1 || st.Syncs != 1 || st.Scheduled || !st.LastSync.Equal(clk.Now()) {
		t.Fatalf("after fire: syncs=%d status=%+v", syncs.Load(), st)
	}

	// synced just now: another background transition waits for MinInterval
	s.Notify(Background)
	status(t, s)
	ts.none(t)

	clk.Add(DefaultMinInterval)
	s.Notify(Background)
	if tm := ts.next(t); tm.d != DefaultDebounce {
		t.Fatalf("second schedule: %s", tm.d)
	}
}

func TestForegroundCancelsScheduledSync(t *testing.T) {
	ts := newTimers()
	var syncs atomic.Int32
	s := start(t, Config{
		Sync:                func(context.Context) error { syncs.Add(1); return nil },
		AfterFunc:           ts.AfterFunc,
		MemoryCheckInterval: -1,
	})

	s.Notify(Background)
	tm := ts.next(t)
	s.Notify(Foreground)
	if st := status(t, s); st.Scheduled {
		t.Fatalf("still scheduled: %+v", st)
	}
	if !tm.stopped.Load() {
		t.Fatal("timer not stopped")
	}

	// a callback racing the cancellation is ignored
	tm.f()
	if st := status(t, s); st.Syncs != 0 || syncs.Load() != 0 {
		t.Fatalf("cancelled sync ran: %+v", st)
	}

	// never synced, so the next background transition schedules again
	s.Notify(Background)
	ts.next(t).f()
	if st := status(t, s); st.Syncs != 1 {
		t.Fatalf("rescheduled sync: %+v", st)
	}
}

func TestFailedSyncStillCountsAsAttempt(t *testing.T) {
	ts := newTimers()
	boom := errors.New("offline")
	s := start(t, Config{
		Sync:                func(context.Context) error { return boom },
		AfterFunc:           ts.AfterFunc,
		MemoryCheckInterval: -1,
	})
	s.Notify(Background)
	ts.next(t).f()
	st := status(t, s)
	if !errors.Is(st.LastErr, boom) || st.LastSync.IsZero() {
		t.Fatalf("status: %+v", st)
	}
	s.Notify(Background)
	status(t, s)
	ts.none(t)
}

func TestMemorySweepClearsCacheAboveThreshold(t *testing.T) {
	ts := newTimers()
	c := &cache{}
	var used atomic.Uint64
	used.Store(100 << 20)
	s := start(t, Config{
		Sync:      func(context.Context) error { return nil },
		Cache:     c,
		AfterFunc: ts.AfterFunc,
		Memory:    used.Load,
	})

	tm := ts.next(t)
	if tm.d != DefaultMemoryCheckInterval {
		t.Fatalf("check interval: %s", tm.d)
	}
	tm.f()
	tm = ts.next(t) // re-armed
	if st := status(t, s); st.Sweeps != 0 {
		t.Fatalf("swept below threshold: %+v", st)
	}

	used.Store(200 << 20)
	tm.f()
	ts.next(t)
	if st := status(t, s); st.Sweeps != 1 {
		t.Fatalf("sweeps: %+v", st)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.reasons) != 1 || c.reasons[0] != ReasonMemoryPressure {
		t.Fatalf("ClearCache calls: %v", c.reasons)
	}
}

func TestStatusAfterStop(t *testing.T) {
	s := New(Config{Sync: func(context.Context) error { return nil }, MemoryCheckInterval: -1})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()
	<-done
	if _, err := s.Status(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("want ErrStopped, got %v", err)
	}
	if err := s.Run(context.Background()); err == nil {
		t.Fatal("second Run should fail")
	}
	s.Notify(Background) // must not block
}

func TestNotifyDuringLongSyncCoalesces(t *testing.T) {
	ts := newTimers()
	clk := &clock{t: time.Date(2026, 6, 5, 22, 0, 0, 0, time.UTC)}
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	s := start(t, Config{
		Sync: func(context.Context) error {
			started <- struct{}{}
			<-release
			return nil
		},
		AfterFunc:           ts.AfterFunc,
		Now:                 clk.Now,
		MemoryCheckInterval: -1,
	})

	s.Notify(Background)
	ts.next(t).f()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("sync did not start")
	}

	returned := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			s.Notify(Foreground)
			s.Notify(Background)
		}
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		close(release)
		t.Fatal("Notify blocked behind a running sync")
	}

	clk.Add(time.Hour)
	close(release)
	st := status(t, s)
	if st.Syncs != 1 || !st.Scheduled {
		t.Fatalf("status: %+v", st)
	}
	ts.next(t)
	ts.none(t)
}
