// Package concurrency runs contention-prone writes against a store.Context:
// optimistic retries on row version conflicts, lock-guarded sections using the
// cache's distributed lock, and chunked batch and bulk writes.
//
// Go methods cannot take type parameters, so the operations are package
// functions taking the *Controller that carries the shared settings.
package concurrency

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/unkn0wn-root/tiercache"
)

// Locker is the part of the cache facade the controller needs.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) *tiercache.Lock
}

const (
	DefaultMaxRetries      = 3
	DefaultRetryBase       = 50 * time.Millisecond
	DefaultLockTimeout     = 30 * time.Second
	DefaultLockPoll        = 100 * time.Millisecond
	DefaultBatchSize       = 100
	DefaultBulkBatchSize   = 2000
	DefaultBulkBackoffBase = time.Second
	DefaultBulkBackoffMax  = 30 * time.Second
)

type Options struct {
	Locker  Locker             // required by WithPessimisticLock
	Logger  tiercache.Logger   // nil => NopLogger
	Metrics *tiercache.Metrics // may be nil

	MaxRetries      int           // optimistic attempts; 0 => 3
	RetryBase       time.Duration // optimistic backoff base; 0 => 50ms
	LockTimeout     time.Duration // 0 => 30s
	LockPoll        time.Duration // 0 => 100ms
	BatchSize       int           // ExecuteBatch chunk; 0 => 100
	BulkBatchSize   int           // ExecuteBatchBulkOperation chunk; 0 => 2000
	BulkBackoffBase time.Duration // 0 => 1s
	BulkBackoffMax  time.Duration // 0 => 30s

	// Sleep waits between retries; nil uses a timer bound to ctx. Tests
	// replace it to observe backoff without waiting.
	Sleep func(ctx context.Context, d time.Duration) error
}

type Controller struct {
	locker  Locker
	log     tiercache.Logger
	metrics *tiercache.Metrics
	sleep   func(ctx context.Context, d time.Duration) error

	maxRetries      int
	retryBase       time.Duration
	lockTimeout     time.Duration
	lockPoll        time.Duration
	batchSize       int
	bulkBatchSize   int
	bulkBackoffBase time.Duration
	bulkBackoffMax  time.Duration
}

func New(opts Options) *Controller {
	c := &Controller{
		locker:          opts.Locker,
		log:             tiercache.WithFields(opts.Logger, tiercache.Fields{"component": "concurrency"}),
		metrics:         opts.Metrics,
		sleep:           opts.Sleep,
		maxRetries:      opts.MaxRetries,
		retryBase:       opts.RetryBase,
		lockTimeout:     opts.LockTimeout,
		lockPoll:        opts.LockPoll,
		batchSize:       opts.BatchSize,
		bulkBatchSize:   opts.BulkBatchSize,
		bulkBackoffBase: opts.BulkBackoffBase,
		bulkBackoffMax:  opts.BulkBackoffMax,
	}
	if c.sleep == nil {
		c.sleep = sleepCtx
	}
	if c.maxRetries <= 0 {
		c.maxRetries = DefaultMaxRetries
	}
	if c.retryBase <= 0 {
		c.retryBase = DefaultRetryBase
	}
	if c.lockTimeout <= 0 {
		c.lockTimeout = DefaultLockTimeout
	}
	if c.lockPoll <= 0 {
		c.lockPoll = DefaultLockPoll
	}
	if c.batchSize <= 0 {
		c.batchSize = DefaultBatchSize
	}
	if c.bulkBatchSize <= 0 {
		c.bulkBatchSize = DefaultBulkBatchSize
	}
	if c.bulkBackoffBase <= 0 {
		c.bulkBackoffBase = DefaultBulkBackoffBase
	}
	if c.bulkBackoffMax <= 0 {
		c.bulkBackoffMax = DefaultBulkBackoffMax
	}
	return c
}

// newBackoff yields base, 2*base, 4*base, ... without jitter, held at limit
// once reached. limit <= 0 leaves the schedule uncapped.
func newBackoff(base, limit time.Duration) *backoff.ExponentialBackOff {
	if limit <= 0 {
		limit = math.MaxInt64
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         limit,
	}
	b.Reset()
	return b
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func chunks(n, size int) int {
	if n == 0 {
		return 0
	}
	return (n + size - 1) / size
}
