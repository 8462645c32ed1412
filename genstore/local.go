package genstore

import (
	"context"
	"sync"
	"time"
)

type localEntry struct {
	gen       uint64
	updatedAt time.Time
}

// Local keeps generations in-process (default).
// An optional sweep loop prunes entries not bumped within the retention window;
// a pruned key reads as generation 0 again, which only costs one skipped write.
type Local struct {
	mu   sync.RWMutex
	gens map[string]localEntry

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ GenStore = (*Local)(nil)

// NewLocal creates a local store. Sweeping is disabled when either argument is <= 0.
func NewLocal(sweepInterval, retention time.Duration) *Local {
	s := &Local{gens: make(map[string]localEntry)}
	if sweepInterval > 0 && retention > 0 {
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go s.sweepLoop(sweepInterval, retention)
	}
	return s
}

func (s *Local) sweepLoop(interval, retention time.Duration) {
	defer s.wg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.Prune(retention)
		case <-s.stopCh:
			return
		}
	}
}

func (s *Local) Snapshot(_ context.Context, key string) (uint64, error) {
	s.mu.RLock()
	e := s.gens[key]
	s.mu.RUnlock()
	return e.gen, nil
}

func (s *Local) Bump(_ context.Context, key string) (uint64, error) {
	now := time.Now()
	s.mu.Lock()
	e := s.gens[key]
	e.gen++
	e.updatedAt = now
	s.gens[key] = e
	s.mu.Unlock()
	return e.gen, nil
}

// BumpMany takes the write lock once for the whole batch.
func (s *Local) BumpMany(_ context.Context, keys []string) error {
	now := time.Now()
	s.mu.Lock()
	for _, k := range keys {
		e := s.gens[k]
		e.gen++
		e.updatedAt = now
		s.gens[k] = e
	}
	s.mu.Unlock()
	return nil
}

// Prune drops entries last bumped before now-retention and reports how many.
func (s *Local) Prune(retention time.Duration) int {
	if retention <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-retention)
	removed := 0
	s.mu.Lock()
	for k, e := range s.gens {
		if e.updatedAt.Before(cutoff) {
			delete(s.gens, k)
			removed++
		}
	}
	s.mu.Unlock()
	return removed
}

func (s *Local) Close(_ context.Context) error {
	s.closeOnce.Do(func() {
		if s.stopCh != nil {
			close(s.stopCh)
			s.wg.Wait()
		}
	})
	return nil
}
