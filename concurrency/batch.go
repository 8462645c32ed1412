package concurrency

import (
	"context"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/store"
)

// ExecuteBatch runs op over items in order, batchSize (<= 0 uses the default)
// at a time. The first failing chunk stops the run; later chunks never start.
func ExecuteBatch[T any](
	ctx context.Context,
	c *Controller,
	items []T,
	op func(ctx context.Context, chunk []T) error,
	batchSize int,
) error {
	if batchSize <= 0 {
		batchSize = c.batchSize
	}
	total := chunks(len(items), batchSize)
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		off := i * batchSize
		chunk := items[off:min(off+batchSize, len(items))]
		if err := op(ctx, chunk); err != nil {
			c.log.Error("batch chunk failed; aborting", tiercache.Fields{"chunk": i, "of": total, "err": err})
			return &BatchError{Chunk: i, Offset: off, Size: len(chunk), Err: err}
		}
		c.metrics.Inc(tiercache.EventBatchChunk)
	}
	return nil
}

type bulkWrite[E store.Entity] func(s store.Session[E], ctx context.Context, es []E, cfg store.BulkConfig) error

// ExecuteBulkInsert writes entities in one bulk-write session and commits.
// On any failure the session is rolled back and a *BulkOperationError returned.
func ExecuteBulkInsert[E store.Entity](ctx context.Context, c *Controller, sc store.Context[E], entities []E, cfg store.BulkConfig) error {
	return executeBulk(ctx, c, sc, "insert", entities, cfg, store.Session[E].BulkInsert)
}

func ExecuteBulkUpdate[E store.Entity](ctx context.Context, c *Controller, sc store.Context[E], entities []E, cfg store.BulkConfig) error {
	return executeBulk(ctx, c, sc, "update", entities, cfg, store.Session[E].BulkUpdate)
}

func ExecuteBulkInsertOrUpdate[E store.Entity](ctx context.Context, c *Controller, sc store.Context[E], entities []E, cfg store.BulkConfig) error {
	return executeBulk(ctx, c, sc, "insert_or_update", entities, cfg, store.Session[E].BulkInsertOrUpdate)
}

func executeBulk[E store.Entity](
	ctx context.Context,
	c *Controller,
	sc store.Context[E],
	op string,
	entities []E,
	cfg store.BulkConfig,
	write bulkWrite[E],
) error {
	if len(entities) == 0 {
		c.log.Info("bulk write skipped: no entities", tiercache.Fields{"op": op, "store": sc.Name()})
		return nil
	}
	cfg = cfg.WithDefaults()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	fail := func(err error) error {
		c.metrics.Inc(tiercache.EventBulkFailed)
		c.log.Error("bulk write rolled back", tiercache.Fields{"op": op, "store": sc.Name(), "count": len(entities), "err": err})
		return &BulkOperationError{Op: op, Store: sc.Name(), Count: len(entities), Chunk: -1, Attempts: 1, Err: err}
	}

	s, err := sc.Begin(ctx, store.RoleBulkWrite)
	if err != nil {
		return fail(err)
	}
	prev := s.ChangeTracking()
	s.SetChangeTracking(false)
	defer s.SetChangeTracking(prev)

	if err := write(s, ctx, entities, cfg); err != nil {
		_ = s.Rollback(context.WithoutCancel(ctx))
		return fail(err)
	}
	if err := s.Commit(ctx); err != nil {
		_ = s.Rollback(context.WithoutCancel(ctx))
		return fail(err)
	}

	c.metrics.Inc(tiercache.EventBulkWrite)
	c.log.Info("bulk write committed", tiercache.Fields{"op": op, "store": sc.Name(), "count": len(entities)})
	return nil
}

// ExecuteBatchBulkOperation runs bulkOp over items in chunks of batchSize
// (<= 0 uses the bulk default). A failing chunk is retried up to maxRetries
// attempts in total (<= 0 uses the controller default) with exponential
// backoff capped at BulkBackoffMax; then the run stops.
func ExecuteBatchBulkOperation[T any](
	ctx context.Context,
	c *Controller,
	items []T,
	bulkOp func(ctx context.Context, chunk []T) error,
	batchSize int,
	maxRetries int,
) error {
	if batchSize <= 0 {
		batchSize = c.bulkBatchSize
	}
	if maxRetries <= 0 {
		maxRetries = c.maxRetries
	}

	bo := newBackoff(c.bulkBackoffBase, c.bulkBackoffMax)
	total := chunks(len(items), batchSize)
	for i := 0; i < total; i++ {
		off := i * batchSize
		chunk := items[off:min(off+batchSize, len(items))]
		bo.Reset()

		for attempt := 0; ; attempt++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := bulkOp(ctx, chunk)
			if err == nil {
				c.metrics.Inc(tiercache.EventBatchChunk)
				break
			}
			if attempt+1 >= maxRetries {
				c.metrics.Inc(tiercache.EventBulkFailed)
				c.log.Error("bulk chunk failed", tiercache.Fields{"chunk": i, "of": total, "attempts": attempt + 1, "err": err})
				return &BulkOperationError{Op: "batch", Count: len(chunk), Chunk: i, Attempts: attempt + 1, Err: err}
			}

			d := bo.NextBackOff()
			c.metrics.Inc(tiercache.EventBulkRetry)
			c.log.Warn("bulk chunk failed; retrying", tiercache.Fields{"chunk": i, "attempt": attempt, "backoff": d, "err": err})
			if err := c.sleep(ctx, d); err != nil {
				return err
			}
		}
	}
	return nil
}
