// Package provider defines the storage abstraction used by tiercache for both tiers.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly the
// same []byte that was previously passed to Set for a key (no prepended/appended
// metadata, no re-encoding, no mutation). If a store performs internal transforms
// (e.g., compression), they MUST be fully reversed.
//
// Only Provider is mandatory. The distributed tier may additionally implement
// Scanner (pattern invalidation), MultiDeleter (batched deletes) and Conditional
// (lock acquisition). tiercache checks for them with type assertions and degrades
// when one is missing.
//
// Important: the keyspace "lock:" is owned by tiercache. External code MUST NOT
// write values under it.
package provider

import (
	"context"
	"time"
)

// Provider is a minimal byte store with TTLs.
// Must be safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL. May ignore cost if unsupported.
	// Returns ok=false when the store rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}

// Scanner enumerates keys matching a glob pattern (Redis MATCH syntax).
// A zero next cursor means the iteration is complete.
type Scanner interface {
	Scan(ctx context.Context, match string, cursor uint64, count int64) (keys []string, next uint64, err error)
}

// MultiDeleter removes several keys in one round-trip.
type MultiDeleter interface {
	DelMany(ctx context.Context, keys ...string) error
}

// Conditional exposes the atomic primitives a lock needs.
type Conditional interface {
	// SetNX writes value only if key is absent. acquired reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (acquired bool, err error)
	// CompareAndDelete deletes key only if its current value equals expected.
	CompareAndDelete(ctx context.Context, key string, expected []byte) (deleted bool, err error)
}

// EvictFunc observes entries a local tier dropped on its own. reason is one of
// the Evict* constants. It runs on the store's internal goroutines and must not block.
type EvictFunc func(reason string)

const (
	EvictCapacity = "capacity"
	EvictExpired  = "expired"
	EvictRejected = "rejected"
)
