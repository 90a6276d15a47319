package genstore

import (
	"context"
	"sync"
	"time"
)

type localEntry struct {
	gen     uint64
	touched time.Time
}

// LocalConfig configures an in-process generation store.
type LocalConfig struct {
	CleanupInterval time.Duration // 0 disables the background sweep
	Retention       time.Duration
	Now             func() time.Time // nil => time.Now
}

// Local keeps generations in-process.
type Local struct {
	mu   sync.RWMutex
	gens map[string]localEntry
	now  func() time.Time

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

var _ GenStore = (*Local)(nil)

func NewLocal(cfg LocalConfig) *Local {
	s := &Local{gens: make(map[string]localEntry), now: cfg.Now}
	if s.now == nil {
		s.now = time.Now
	}
	if cfg.CleanupInterval > 0 && cfg.Retention > 0 {
		s.stop = make(chan struct{})
		t := time.NewTicker(cfg.CleanupInterval)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer t.Stop()
			for {
				select {
				case <-t.C:
					s.Cleanup(cfg.Retention)
				case <-s.stop:
					return
				}
			}
		}()
	}
	return s
}

func (s *Local) Snapshot(_ context.Context, k string) (uint64, error) {
	s.mu.RLock()
	e := s.gens[k]
	s.mu.RUnlock()
	return e.gen, nil
}

func (s *Local) Bump(_ context.Context, k string) (uint64, error) {
	now := s.now()
	s.mu.Lock()
	e := s.gens[k]
	e.gen++
	e.touched = now
	s.gens[k] = e
	s.mu.Unlock()
	return e.gen, nil
}

func (s *Local) Cleanup(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := s.now().Add(-retention)

	s.mu.Lock()
	for k, e := range s.gens {
		if e.touched.Before(cutoff) {
			delete(s.gens, k)
		}
	}
	s.mu.Unlock()
}

// Len reports the number of tracked keys.
func (s *Local) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.gens)
}

func (s *Local) Close(context.Context) error {
	s.once.Do(func() {
		if s.stop != nil {
			close(s.stop)
			s.wg.Wait()
		}
	})
	return nil
}
