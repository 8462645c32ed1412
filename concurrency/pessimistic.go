package concurrency

import (
	"context"
	"errors"
	"time"

	"github.com/unkn0wn-root/tiercache"
)

var errNoLocker = errors.New("concurrency: controller has no Locker")

// WithPessimisticLock polls for the lock on lockKey every LockPoll until it is
// acquired or timeout (<= 0 uses the default) elapses, then runs op while
// holding it. The lock TTL equals timeout. The lock is released however op
// returns, including by panic.
func WithPessimisticLock[R any](
	ctx context.Context,
	c *Controller,
	lockKey string,
	op func(ctx context.Context) (R, error),
	timeout time.Duration,
) (R, error) {
	var zero R
	if c.locker == nil {
		return zero, errNoLocker
	}
	if timeout <= 0 {
		timeout = c.lockTimeout
	}

	l, err := c.waitLock(ctx, lockKey, timeout)
	if err != nil {
		return zero, err
	}
	defer func() {
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			c.log.Warn("lock release failed; it will lapse at its ttl", tiercache.Fields{"key": lockKey, "err": err})
		}
	}()
	return op(ctx)
}

func (c *Controller) waitLock(ctx context.Context, key string, timeout time.Duration) (*tiercache.Lock, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(c.lockPoll)
	defer tick.Stop()

	for {
		if l := c.locker.AcquireLock(ctx, key, timeout); l != nil {
			return l, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			c.metrics.Inc(tiercache.EventLockTimeout)
			c.log.Warn("lock wait timed out", tiercache.Fields{"key": key, "timeout": timeout})
			return nil, &LockTimeoutError{Key: key, Timeout: timeout}
		case <-tick.C:
		}
	}
}
