// Package genstore keeps a generation counter per cache key.
//
// tiercache bumps a key's generation on every removal and snapshots it before a
// getOrSet factory runs. A factory result is cached only if the generation is
// unchanged afterwards, so a removal that races a slow factory is not undone by
// the factory writing its (now stale) result back.
//
// Local keeps generations in-process; Redis shares them across replicas.
package genstore

import "context"

// GenStore abstracts where generations live.
type GenStore interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, key string) (uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, key string) (uint64, error)
	// BumpMany increments every key; used by pattern invalidation.
	BumpMany(ctx context.Context, keys []string) error
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
