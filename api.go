package tiercache

import (
	"context"
	"time"

	gen "github.com/unkn0wn-root/tiercache/genstore"
	pr "github.com/unkn0wn-root/tiercache/provider"
)

// Factory produces the value for a cache miss.
type Factory func(ctx context.Context) ([]byte, error)

// Facade is the read/write/invalidate surface over both tiers plus the lock
// primitive. *Cache implements it; depend on the interface in callers.
//
// Every method except AcquireLock fails open: tier errors are logged and turned
// into a miss or a no-op, never returned.
type Facade interface {
	Get(ctx context.Context, key string, useLocal bool) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	GetOrSet(ctx context.Context, key string, factory Factory, ttl time.Duration, useLocal bool) ([]byte, bool)
	Remove(ctx context.Context, key string)
	RemoveByPattern(ctx context.Context, pattern string)
	// AcquireLock returns nil when the lock is held elsewhere or the tier failed.
	AcquireLock(ctx context.Context, key string, ttl time.Duration) *Lock
	Close(ctx context.Context) error
}

// FeedLayout describes the paginated global listing so pattern invalidation
// can target its pages directly instead of scanning.
type FeedLayout struct {
	Prefix       string   // e.g. "feed:global:"; pages live at <Prefix>page:<n>:size:<s>
	Pages        []int    // page numbers worth invalidating; Pages[0] is the first page
	Sizes        []int    // common page sizes
	ItemPrefixes []string // patterns scoped to a single item, e.g. "feed:item:", "comments:"
}

// DefaultFeedLayout returns the stock listing layout.
func DefaultFeedLayout() FeedLayout {
	return FeedLayout{
		Prefix:       "feed:global:",
		Pages:        []int{1, 2, 3},
		Sizes:        []int{10, 20, 50},
		ItemPrefixes: []string{"feed:item:", "comments:"},
	}
}

// Options tune the cache. Only Local and Remote are required.
type Options struct {
	Local  pr.Provider // process-local tier (ristretto, bigcache)
	Remote pr.Provider // shared tier (redis) or an in-process substitute

	Logger   Logger       // if nil, NopLogger is used
	Hooks    Hooks        // if nil, NopHooks is used
	Metrics  *Metrics     // may be nil
	GenStore gen.GenStore // nil => genstore.Local
	Policy   *Policy      // nil => DefaultPolicy()
	Feed     *FeedLayout  // nil => DefaultFeedLayout()

	LockTTL   time.Duration // AcquireLock ttl when 0 is passed; 0 => 30s
	ScanBatch int64         // keys per SCAN round-trip; 0 => 100

	// DistributedSingleFlight routes getOrSet's critical section through
	// AcquireLock as well, so only one process runs the factory per key.
	// FlightWait bounds how long a caller waits for that lock (0 => 5s);
	// after it elapses the factory runs unprotected.
	DistributedSingleFlight bool
	FlightWait              time.Duration

	// Now overrides the clock (tests).
	Now func() time.Time
}
