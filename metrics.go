package tiercache

import "sync/atomic"

// Event labels a counted occurrence. The set is closed: new events are added
// here, never built from strings at runtime.
type Event uint8

const (
	EventLocalHit Event = iota
	EventRemoteHit
	EventMiss
	EventSet
	EventRemove
	EventTierError
	EventSelfHeal
	EventFactoryCall
	EventFactoryError
	EventStaleWriteSkipped
	EventPatternRemoved
	EventPatternUnsupported
	EventLockAcquired
	EventLockContended
	EventLockReleased
	EventLockTimeout
	EventOptimisticConflict
	EventOptimisticExhausted
	EventBatchChunk
	EventBulkWrite
	EventBulkRetry
	EventBulkFailed
	EventLocalEvicted

	numEvents
)

var eventNames = [numEvents]string{
	EventLocalHit:            "local_hit",
	EventRemoteHit:           "remote_hit",
	EventMiss:                "miss",
	EventSet:                 "set",
	EventRemove:              "remove",
	EventTierError:           "tier_error",
	EventSelfHeal:            "self_heal",
	EventFactoryCall:         "factory_call",
	EventFactoryError:        "factory_error",
	EventStaleWriteSkipped:   "stale_write_skipped",
	EventPatternRemoved:      "pattern_removed",
	EventPatternUnsupported:  "pattern_unsupported",
	EventLockAcquired:        "lock_acquired",
	EventLockContended:       "lock_contended",
	EventLockReleased:        "lock_released",
	EventLockTimeout:         "lock_timeout",
	EventOptimisticConflict:  "optimistic_conflict",
	EventOptimisticExhausted: "optimistic_exhausted",
	EventBatchChunk:          "batch_chunk",
	EventBulkWrite:           "bulk_write",
	EventBulkRetry:           "bulk_retry",
	EventBulkFailed:          "bulk_failed",
	EventLocalEvicted:        "local_evicted",
}

func (e Event) String() string {
	if e < numEvents {
		return eventNames[e]
	}
	return "unknown"
}

// Events lists every event in declaration order.
func Events() []Event {
	out := make([]Event, numEvents)
	for i := range out {
		out[i] = Event(i)
	}
	return out
}

// Metrics is a fixed set of atomic counters, one per Event. Share one instance
// by passing the pointer to every component that records events. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	counters [numEvents]atomic.Uint64
}

func NewMetrics() *Metrics { return &Metrics{} }

func (m *Metrics) Inc(e Event) { m.Add(e, 1) }

func (m *Metrics) Add(e Event, n uint64) {
	if m == nil || e >= numEvents || n == 0 {
		return
	}
	m.counters[e].Add(n)
}

// Get returns the current value of one counter.
func (m *Metrics) Get(e Event) uint64 {
	if m == nil || e >= numEvents {
		return 0
	}
	return m.counters[e].Load()
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot [numEvents]uint64

// Get returns the value recorded for e.
func (s Snapshot) Get(e Event) uint64 {
	if e >= numEvents {
		return 0
	}
	return s[e]
}

// Map renders the snapshot keyed by event name, for logs and debug endpoints.
func (s Snapshot) Map() map[string]uint64 {
	out := make(map[string]uint64, numEvents)
	for i, v := range s {
		out[Event(i).String()] = v
	}
	return out
}

func (m *Metrics) Snapshot() Snapshot {
	var s Snapshot
	if m == nil {
		return s
	}
	for i := range m.counters {
		s[i] = m.counters[i].Load()
	}
	return s
}

// Reset zeroes every counter and returns the values it replaced.
// Each counter is swapped atomically; the set as a whole is not.
func (m *Metrics) Reset() Snapshot {
	var s Snapshot
	if m == nil {
		return s
	}
	for i := range m.counters {
		s[i] = m.counters[i].Swap(0)
	}
	return s
}
