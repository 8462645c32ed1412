package concurrency

import (
	"fmt"
	"time"
)

// NotFoundError: the optimistic predicate matched nothing.
type NotFoundError struct {
	Store string
	Err   error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("concurrency: no entity in %s matched: %v", e.Store, e.Err)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// ConflictError: every optimistic attempt hit a row version conflict.
type ConflictError struct {
	Store    string
	Attempts int
	Err      error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrency: %s still conflicting after %d attempts: %v", e.Store, e.Attempts, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// LockTimeoutError: the pessimistic lock was not obtained in time.
type LockTimeoutError struct {
	Key     string
	Timeout time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("concurrency: lock %q not acquired within %s", e.Key, e.Timeout)
}

// BatchError: a chunk failed and the remaining chunks were skipped.
type BatchError struct {
	Chunk  int // 0-based
	Offset int // index of the chunk's first item
	Size   int
	Err    error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("concurrency: batch chunk %d (items %d..%d) failed: %v",
		e.Chunk, e.Offset, e.Offset+e.Size-1, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// BulkOperationError: a bulk write failed and was rolled back. Chunk is -1
// for single-session bulk writes.
type BulkOperationError struct {
	Op       string
	Store    string
	Count    int
	Chunk    int
	Attempts int
	Err      error
}

func (e *BulkOperationError) Error() string {
	if e.Chunk >= 0 {
		return fmt.Sprintf("concurrency: bulk %s chunk %d failed after %d attempts: %v",
			e.Op, e.Chunk, e.Attempts, e.Err)
	}
	return fmt.Sprintf("concurrency: bulk %s of %d into %s rolled back: %v", e.Op, e.Count, e.Store, e.Err)
}

func (e *BulkOperationError) Unwrap() error { return e.Err }
