// Package store is the narrow contract the concurrency controller uses to read
// and write domain entities. store/bolt is the bundled implementation.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrConflict    = errors.New("store: row version conflict")
	ErrNotFound    = errors.New("store: entity not found")
	ErrDuplicate   = errors.New("store: duplicate entity id")
	ErrSessionDone = errors.New("store: session already finished")
	ErrUnknownRole = errors.New("store: unknown connection role")
)

// Entity is a row with an optimistic-concurrency version. A fresh entity has
// version 0; every committed write increments it.
type Entity interface {
	EntityID() string
	RowVersion() uint64
	SetRowVersion(uint64)
}

// Predicate selects entities for FindOne.
type Predicate[E Entity] func(E) bool

// ByID matches the entity with the given id.
func ByID[E Entity](id string) Predicate[E] {
	return func(e E) bool { return e.EntityID() == id }
}

const (
	DefaultBulkBatchSize = 2000
	DefaultBulkTimeout   = 5 * time.Minute
)

// BulkConfig tunes one bulk write. Zero fields take the defaults above.
type BulkConfig struct {
	BatchSize int
	Timeout   time.Duration
}

func (c BulkConfig) WithDefaults() BulkConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBulkBatchSize
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultBulkTimeout
	}
	return c
}

// Session is a unit of work against one entity set. It is not safe for
// concurrent use. Once Commit or Rollback returns, the session is finished and
// further writes fail with ErrSessionDone.
type Session[E Entity] interface {
	// FindOne returns the first entity matching pred, or ErrNotFound.
	FindOne(ctx context.Context, pred Predicate[E]) (E, error)
	// Save stages e for Commit. Commit fails with ErrConflict if the stored
	// version no longer equals e.RowVersion().
	Save(ctx context.Context, e E) error
	Commit(ctx context.Context) error
	// Rollback discards everything staged or written; safe on a finished session.
	Rollback(ctx context.Context) error

	BulkInsert(ctx context.Context, entities []E, cfg BulkConfig) error
	BulkUpdate(ctx context.Context, entities []E, cfg BulkConfig) error
	BulkInsertOrUpdate(ctx context.Context, entities []E, cfg BulkConfig) error

	// With change tracking on, entities returned by FindOne are watched and
	// written on Commit if they changed, even without Save.
	SetChangeTracking(on bool)
	ChangeTracking() bool
	// Discard forgets tracked and staged entities without ending the session.
	Discard()
}

// Context opens sessions on one entity set.
type Context[E Entity] interface {
	Name() string
	Begin(ctx context.Context, role Role) (Session[E], error)
}
