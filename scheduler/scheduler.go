// Package scheduler triggers background syncs and sheds cache under memory
// pressure.
//
// All state lives in the goroutine running Run. Status and the timers talk to
// it over a channel. Notify never blocks: it leaves the latest state in a
// one-slot mailbox that the loop drains before any other event, so
// transitions reported during a long sync coalesce to the last one.
//
//	s := scheduler.New(scheduler.Config{
//		Sync:  func(ctx context.Context) error { _, err := eng.Sync(ctx, user); return err },
//		Cache: st,
//	})
//	go s.Run(ctx)
//	s.Notify(scheduler.Background)
package scheduler

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/tabkeep"
)

const (
	DefaultDebounce            = 5 * time.Second
	DefaultMinInterval         = 15 * time.Minute
	DefaultMemoryCheckInterval = time.Minute
	DefaultMemoryThreshold     = 150 << 20

	// ReasonMemoryPressure is passed to ClearCache by the memory sweep.
	ReasonMemoryPressure = "memory_pressure"
)

var ErrStopped = errors.New("scheduler: not running")

// State is the application lifecycle state reported by the host.
type State int

const (
	Foreground State = iota
	Background
)

func (s State) String() string {
	if s == Background {
		return "background"
	}
	return "foreground"
}

// Cache is the part of the store the memory sweep needs.
type Cache interface {
	ClearCache(ctx context.Context, reason string) error
}

// Timer is a pending callback returned by Config.AfterFunc.
type Timer interface {
	Stop() bool
}

type Config struct {
	Sync  func(ctx context.Context) error // required
	Cache Cache                           // nil disables the memory sweep

	Debounce            time.Duration // 0 => DefaultDebounce
	MinInterval         time.Duration // 0 => DefaultMinInterval
	MemoryCheckInterval time.Duration // 0 => DefaultMemoryCheckInterval; <0 disables
	MemoryThreshold     uint64        // bytes; 0 => DefaultMemoryThreshold

	Memory    func() uint64                         // nil => runtime sampler
	AfterFunc func(d time.Duration, f func()) Timer // nil => time.AfterFunc
	Now       func() time.Time                      // nil => time.Now
	Logger    tabkeep.Logger
}

// Status is a point-in-time view of the loop.
type Status struct {
	Running   bool
	Scheduled bool
	LastSync  time.Time
	LastErr   error
	Syncs     int
	Sweeps    int
}

type evKind int

const (
	evFire evKind = iota
	evMemory
	evStatus
)

type event struct {
	kind  evKind
	seq   uint64
	reply chan Status
}

type Scheduler struct {
	cfg    Config
	log    tabkeep.Logger
	events chan event
	done   chan struct{}
	ran    atomic.Bool

	mu      sync.Mutex // guards next and hasNext
	next    State
	hasNext bool
	wake    chan struct{}
}

func New(cfg Config) *Scheduler {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.MemoryCheckInterval == 0 {
		cfg.MemoryCheckInterval = DefaultMemoryCheckInterval
	}
	if cfg.MemoryThreshold == 0 {
		cfg.MemoryThreshold = DefaultMemoryThreshold
	}
	if cfg.Memory == nil {
		cfg.Memory = residentMemory
	}
	if cfg.AfterFunc == nil {
		cfg.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Scheduler{
		cfg:    cfg,
		log:    cfg.Logger,
		events: make(chan event, 32),
		done:   make(chan struct{}),
		wake:   make(chan struct{}, 1),
	}
	if s.log == nil {
		s.log = tabkeep.NopLogger{}
	}
	return s
}

// Notify reports a lifecycle transition. It never blocks. If the loop is busy
// with a sync, only the latest state reported meanwhile is applied.
func (s *Scheduler) Notify(st State) {
	s.mu.Lock()
	s.next, s.hasNext = st, true
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) takeState() (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.next, s.hasNext
	s.hasNext = false
	return st, ok
}

// Status asks the loop for its state. It waits for a running sync to finish.
func (s *Scheduler) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	select {
	case s.events <- event{kind: evStatus, reply: reply}:
	case <-s.done:
		return Status{}, ErrStopped
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
	select {
	case st := <-reply:
		return st, nil
	case <-s.done:
		return Status{}, ErrStopped
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

func (s *Scheduler) send(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// loop state, owned by Run
type loop struct {
	*Scheduler
	ctx context.Context

	seq       uint64
	scheduled Timer
	memTimer  Timer
	lastSync  time.Time
	lastErr   error
	syncs     int
	sweeps    int
}

// Run processes transitions until ctx is done. It may be called once.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.ran.CompareAndSwap(false, true) {
		return errors.New("scheduler: Run called twice")
	}
	defer close(s.done)

	l := &loop{Scheduler: s, ctx: ctx}
	l.armMemory()
	defer l.stopTimers()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.wake:
			l.applyState()
		case ev := <-s.events:
			// a Notify that raced this event still comes first
			l.applyState()
			l.handle(ev)
		}
	}
}

func (l *loop) applyState() {
	st, ok := l.takeState()
	if !ok {
		return
	}
	if st == Foreground {
		l.cancel()
		return
	}
	l.maybeSchedule()
}

func (l *loop) handle(ev event) {
	switch ev.kind {
	case evFire:
		if l.scheduled == nil || ev.seq != l.seq {
			return // cancelled after the timer fired
		}
		l.scheduled = nil
		l.runSync()
	case evMemory:
		l.checkMemory()
		l.armMemory()
	case evStatus:
		ev.reply <- Status{
			Running:   true,
			Scheduled: l.scheduled != nil,
			LastSync:  l.lastSync,
			LastErr:   l.lastErr,
			Syncs:     l.syncs,
			Sweeps:    l.sweeps,
		}
	}
}

func (l *loop) maybeSchedule() {
	if l.scheduled != nil {
		return
	}
	if since := l.cfg.Now().Sub(l.lastSync); !l.lastSync.IsZero() && since < l.cfg.MinInterval {
		l.log.Debug("background sync skipped; synced recently", tabkeep.Fields{"since": since.String()})
		return
	}
	l.seq++
	seq := l.seq
	l.scheduled = l.cfg.AfterFunc(l.cfg.Debounce, func() { l.send(event{kind: evFire, seq: seq}) })
	l.log.Debug("background sync scheduled", tabkeep.Fields{"in": l.cfg.Debounce.String()})
}

func (l *loop) cancel() {
	if l.scheduled == nil {
		return
	}
	l.scheduled.Stop()
	l.scheduled = nil
	l.seq++
	l.log.Debug("scheduled sync cancelled", nil)
}

func (l *loop) runSync() {
	start := l.cfg.Now()
	err := l.cfg.Sync(l.ctx)
	l.lastSync = l.cfg.Now()
	l.lastErr = err
	l.syncs++
	if err != nil {
		l.log.Error("background sync failed", tabkeep.Fields{"err": err})
		return
	}
	l.log.Info("background sync finished", tabkeep.Fields{"elapsed": l.lastSync.Sub(start).String()})
}

func (l *loop) armMemory() {
	if l.cfg.Cache == nil || l.cfg.MemoryCheckInterval < 0 {
		return
	}
	l.memTimer = l.cfg.AfterFunc(l.cfg.MemoryCheckInterval, func() { l.send(event{kind: evMemory}) })
}

func (l *loop) checkMemory() {
	used := l.cfg.Memory()
	if used <= l.cfg.MemoryThreshold {
		return
	}
	l.sweeps++
	if err := l.cfg.Cache.ClearCache(l.ctx, ReasonMemoryPressure); err != nil {
		l.log.Warn("cache clear failed", tabkeep.Fields{"err": err})
		return
	}
	l.log.Warn("memory above threshold; cache cleared", tabkeep.Fields{
		"used_mb":      used >> 20,
		"threshold_mb": l.cfg.MemoryThreshold >> 20,
	})
}

func (l *loop) stopTimers() {
	if l.scheduled != nil {
		l.scheduled.Stop()
	}
	if l.memTimer != nil {
		l.memTimer.Stop()
	}
}

// residentMemory approximates the process footprint from the Go runtime.
func residentMemory() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Sys - m.HeapReleased
}
