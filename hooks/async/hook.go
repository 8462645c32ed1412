// usage:
//
//	raw := sloghook.New(slog.Default(), sloghook.Options{SelfHealEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	cache, _ := tiercache.New(tiercache.Options{
//	    Local:  local,
//	    Remote: remote,
//	    Hooks:  hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/tiercache"
)

// Hooks moves hook calls off the caller's goroutine. Events are dropped when
// the queue is full.
type Hooks struct {
	inner tiercache.Hooks
	wg    sync.WaitGroup

	// mu is held shared around sends and exclusively around close(q)
	mu     sync.RWMutex
	q      chan func()
	closed bool

	dropped atomic.Uint64
}

var _ tiercache.Hooks = (*Hooks)(nil)

func New(inner tiercache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events after Close are dropped.
func (h *Hooks) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.q)
	h.mu.Unlock()
	h.wg.Wait()
}

// Dropped returns how many events were discarded.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) TierError(t tiercache.Tier, op, k string, err error) {
	h.try(func() { h.inner.TierError(t, op, k, err) })
}
func (h *Hooks) ProviderSetRejected(t tiercache.Tier, k string) {
	h.try(func() { h.inner.ProviderSetRejected(t, k) })
}
func (h *Hooks) SelfHeal(t tiercache.Tier, k, r string) {
	h.try(func() { h.inner.SelfHeal(t, k, r) })
}
func (h *Hooks) FactoryFailed(k string, err error) { h.try(func() { h.inner.FactoryFailed(k, err) }) }
func (h *Hooks) StaleWriteSkipped(k string)        { h.try(func() { h.inner.StaleWriteSkipped(k) }) }
func (h *Hooks) PatternUnsupported(p string)       { h.try(func() { h.inner.PatternUnsupported(p) }) }
func (h *Hooks) LockWithoutConditionalWrite()      { h.try(h.inner.LockWithoutConditionalWrite) }
func (h *Hooks) GenError(k string, err error)      { h.try(func() { h.inner.GenError(k, err) }) }
