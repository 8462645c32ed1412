package concurrency

import (
	"context"
	"errors"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/store"
)

// WithOptimisticRetry loads the entity matching pred, applies op, saves and
// commits. A row version conflict rolls the session back and the whole cycle
// is retried from a fresh read after RetryBase*2^attempt. maxRetries caps the
// total number of attempts (<= 0 uses the controller default).
//
// Errors from op are returned unchanged and are not retried.
func WithOptimisticRetry[E store.Entity, R any](
	ctx context.Context,
	c *Controller,
	sc store.Context[E],
	pred store.Predicate[E],
	op func(ctx context.Context, e E) (R, error),
	maxRetries int,
) (R, error) {
	var zero R
	if maxRetries <= 0 {
		maxRetries = c.maxRetries
	}

	bo := newBackoff(c.retryBase, 0)
	for attempt := 0; ; attempt++ {
		res, err := optimisticAttempt(ctx, sc, pred, op)
		if err == nil {
			if attempt > 0 {
				c.log.Debug("optimistic write converged", tiercache.Fields{"store": sc.Name(), "attempts": attempt + 1})
			}
			return res, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return zero, err
		}

		c.metrics.Inc(tiercache.EventOptimisticConflict)
		if attempt+1 >= maxRetries {
			c.metrics.Inc(tiercache.EventOptimisticExhausted)
			c.log.Warn("optimistic write gave up", tiercache.Fields{"store": sc.Name(), "attempts": attempt + 1, "err": err})
			return zero, &ConflictError{Store: sc.Name(), Attempts: attempt + 1, Err: err}
		}

		d := bo.NextBackOff()
		c.log.Debug("optimistic conflict; retrying", tiercache.Fields{"store": sc.Name(), "attempt": attempt, "backoff": d})
		if err := c.sleep(ctx, d); err != nil {
			return zero, err
		}
	}
}

func optimisticAttempt[E store.Entity, R any](
	ctx context.Context,
	sc store.Context[E],
	pred store.Predicate[E],
	op func(ctx context.Context, e E) (R, error),
) (res R, err error) {
	s, err := sc.Begin(ctx, store.RoleDefault)
	if err != nil {
		return res, err
	}
	defer func() {
		if err != nil {
			s.Discard()
			_ = s.Rollback(context.WithoutCancel(ctx))
		}
	}()

	e, err := s.FindOne(ctx, pred)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return res, &NotFoundError{Store: sc.Name(), Err: err}
		}
		return res, err
	}
	if res, err = op(ctx, e); err != nil {
		return res, err
	}
	if err = s.Save(ctx, e); err != nil {
		return res, err
	}
	err = s.Commit(ctx)
	return res, err
}
