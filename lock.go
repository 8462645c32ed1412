package tiercache

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/tiercache/internal/keys"
	"github.com/unkn0wn-root/tiercache/internal/wire"
	pr "github.com/unkn0wn-root/tiercache/provider"
)

// Lock is a held advisory lock on a resource in the remote tier.
// It lapses on its own once ExpiresAt passes.
type Lock struct {
	c         *Cache
	key       string
	stored    string
	owner     string
	token     []byte
	expiresAt time.Time
	released  bool
}

// Key returns the locked resource key as passed to AcquireLock.
func (l *Lock) Key() string { return l.key }

// Owner returns the random token identifying this holder.
func (l *Lock) Owner() string { return l.owner }

func (l *Lock) ExpiresAt() time.Time { return l.expiresAt }

// Expired reports whether the TTL has passed by the cache clock.
func (l *Lock) Expired() bool { return wire.Expired(l.expiresAt, l.c.now()) }

// Release deletes the lock only if this holder still owns it. Releasing a lock
// that expired or was taken over is a no-op. Calling Release twice is safe.
// Not safe for concurrent use on the same *Lock.
func (l *Lock) Release(ctx context.Context) error {
	if l == nil || l.released {
		return nil
	}
	l.released = true

	c := l.c
	var deleted bool
	var err error
	if cond, ok := c.remote.(pr.Conditional); ok {
		deleted, err = cond.CompareAndDelete(ctx, l.stored, l.token)
	} else {
		deleted, err = c.releaseUnconditional(ctx, l)
	}
	if err != nil {
		c.tierError(TierRemote, "unlock", l.stored, err)
		return err
	}
	if !deleted {
		c.log.Debug("lock already expired or reassigned", Fields{"key": l.key, "owner": l.owner})
		return nil
	}
	c.metrics.Inc(EventLockReleased)
	return nil
}

// AcquireLock tries once to take the lock on key for ttl (ttl <= 0 uses the
// configured default). It returns nil when the lock is held elsewhere or the
// remote tier failed; it never blocks waiting for the holder.
func (c *Cache) AcquireLock(ctx context.Context, key string, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = c.lockTTL
	}
	l := &Lock{
		c:         c,
		key:       key,
		stored:    keys.Lock(key),
		owner:     uuid.NewString(),
		expiresAt: c.now().Add(ttl),
	}
	l.token = wire.EncodeLock(l.owner, l.expiresAt)

	var acquired bool
	var err error
	if cond, ok := c.remote.(pr.Conditional); ok {
		acquired, err = cond.SetNX(ctx, l.stored, l.token, ttl)
	} else {
		acquired, err = c.acquireUnconditional(ctx, l, ttl)
	}
	if err != nil {
		c.tierError(TierRemote, "lock", l.stored, err)
		return nil
	}
	if !acquired {
		c.metrics.Inc(EventLockContended)
		c.log.Debug("lock held elsewhere", Fields{"key": key})
		return nil
	}
	c.metrics.Inc(EventLockAcquired)
	return l
}

// acquireUnconditional is check-then-write under a process mutex. It excludes
// holders in this process only; other processes can race it.
func (c *Cache) acquireUnconditional(ctx context.Context, l *Lock, ttl time.Duration) (bool, error) {
	c.warnNoCASOnce.Do(func() {
		c.hooks.LockWithoutConditionalWrite()
		c.log.Warn("remote tier has no conditional write; locks exclude within this process only", nil)
	})

	c.lockMu.Lock()
	defer c.lockMu.Unlock()

	raw, ok, err := c.remote.Get(ctx, l.stored)
	if err != nil {
		return false, err
	}
	if ok {
		if _, exp, derr := wire.DecodeLock(raw); derr == nil && !wire.Expired(exp, c.now()) {
			return false, nil
		}
	}
	return c.remote.Set(ctx, l.stored, l.token, int64(len(l.token)), ttl)
}

func (c *Cache) releaseUnconditional(ctx context.Context, l *Lock) (bool, error) {
	c.lockMu.Lock()
	defer c.lockMu.Unlock()

	raw, ok, err := c.remote.Get(ctx, l.stored)
	if err != nil || !ok {
		return false, err
	}
	if !bytes.Equal(raw, l.token) {
		return false, nil
	}
	if err := c.remote.Del(ctx, l.stored); err != nil {
		return false, err
	}
	return true, nil
}

// waitForLock polls AcquireLock until it succeeds, ctx ends or flightWait elapses.
func (c *Cache) waitForLock(ctx context.Context, key string) *Lock {
	deadline := time.NewTimer(c.flightWait)
	defer deadline.Stop()
	tick := time.NewTicker(defaultFlightPoll)
	defer tick.Stop()

	for {
		if l := c.AcquireLock(ctx, key, c.lockTTL); l != nil {
			return l
		}
		select {
		case <-ctx.Done():
			return nil
		case <-deadline.C:
			c.metrics.Inc(EventLockTimeout)
			c.log.Debug("gave up waiting for flight lock", Fields{"key": key, "wait": c.flightWait})
			return nil
		case <-tick.C:
		}
	}
}

// releaseDetached releases l even when the caller's ctx was cancelled.
func (c *Cache) releaseDetached(ctx context.Context, l *Lock) {
	_ = l.Release(context.WithoutCancel(ctx))
}
