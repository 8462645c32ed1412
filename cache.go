package tiercache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	gen "github.com/unkn0wn-root/tiercache/genstore"
	"github.com/unkn0wn-root/tiercache/internal/keys"
	"github.com/unkn0wn-root/tiercache/internal/wire"
	pr "github.com/unkn0wn-root/tiercache/provider"
)

// Cache is the two-tier cache facade.
type Cache struct {
	local   pr.Provider
	remote  pr.Provider
	log     Logger
	hooks   Hooks
	metrics *Metrics
	gen     gen.GenStore
	policy  atomic.Pointer[Policy]
	feed    atomic.Pointer[FeedLayout]
	now     func() time.Time

	lockTTL    time.Duration
	scanBatch  int64
	distFlight bool
	flightWait time.Duration

	// one factory at a time per process, for any key
	flight *semaphore.Weighted

	// serializes lock writes when the remote tier has no set-if-absent
	lockMu        sync.Mutex
	warnNoCASOnce sync.Once

	closeOnce sync.Once
	closeErr  error
}

var _ Facade = (*Cache)(nil)

func New(opts Options) (*Cache, error) {
	if opts.Local == nil {
		return nil, ErrNoLocal
	}
	if opts.Remote == nil {
		return nil, ErrNoRemote
	}

	c := &Cache{
		local:   opts.Local,
		remote:  opts.Remote,
		metrics: opts.Metrics,
		flight:  semaphore.NewWeighted(1),
	}

	// defaults
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.now = time.Now
	if opts.Now != nil {
		c.now = opts.Now
	}
	c.lockTTL = coalesce(opts.LockTTL, defaultLockTTL)
	c.scanBatch = coalesce(opts.ScanBatch, defaultScanBatch)
	c.distFlight = opts.DistributedSingleFlight
	c.flightWait = coalesce(opts.FlightWait, defaultFlightWait)

	if opts.GenStore != nil {
		c.gen = opts.GenStore
	} else {
		c.gen = gen.NewLocal(defaultGenSweep, defaultGenRetention)
	}

	p := DefaultPolicy()
	if opts.Policy != nil {
		p = opts.Policy.normalize()
	}
	c.policy.Store(&p)

	feed := DefaultFeedLayout()
	if opts.Feed != nil {
		feed = *opts.Feed
	}
	c.feed.Store(&feed)
	return c, nil
}

// Policy returns the active TTL policy.
func (c *Cache) Policy() Policy { return *c.policy.Load() }

// SetPolicy swaps the TTL policy; entries already written keep their TTLs.
func (c *Cache) SetPolicy(p Policy) {
	p = p.normalize()
	c.policy.Store(&p)
	c.log.Info("ttl policy updated", Fields{
		"volatileRemote": p.VolatileRemote, "volatileLocal": p.VolatileLocal,
		"defaultRemote": p.DefaultRemote, "defaultLocal": p.DefaultLocal,
	})
}

// FeedLayout returns the active listing layout used by RemoveByPattern.
func (c *Cache) FeedLayout() FeedLayout { return *c.feed.Load() }

// SetFeedLayout swaps the listing layout.
func (c *Cache) SetFeedLayout(f FeedLayout) {
	c.feed.Store(&f)
	c.log.Info("feed layout updated", Fields{"prefix": f.Prefix, "pages": f.Pages, "sizes": f.Sizes})
}

// Metrics returns the counters this cache records into (may be nil).
func (c *Cache) Metrics() *Metrics { return c.metrics }

func (c *Cache) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.closeErr = errors.Join(
			c.gen.Close(ctx),
			c.local.Close(ctx),
			c.remote.Close(ctx),
		)
	})
	return c.closeErr
}

func (c *Cache) Get(ctx context.Context, key string, useLocal bool) ([]byte, bool) {
	if useLocal {
		if v, _, ok := c.read(ctx, TierLocal, key); ok {
			c.metrics.Inc(EventLocalHit)
			return v, true
		}
	}

	v, exp, ok := c.read(ctx, TierRemote, key)
	if !ok {
		c.metrics.Inc(EventMiss)
		return nil, false
	}
	c.metrics.Inc(EventRemoteHit)

	if useLocal {
		_, localTTL := c.Policy().TTLs(key, 0)
		if !exp.IsZero() {
			localTTL = min(localTTL, exp.Sub(c.now()))
		}
		if localTTL > 0 {
			c.write(ctx, TierLocal, key, v, localTTL)
		}
	}
	return v, true
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	remoteTTL, localTTL := c.Policy().TTLs(key, ttl)
	if !c.write(ctx, TierRemote, key, value, remoteTTL) {
		// keep the local tier from holding a value the remote never got
		c.del(ctx, TierLocal, key)
		return
	}
	c.write(ctx, TierLocal, key, value, localTTL)
	c.metrics.Inc(EventSet)
}

func (c *Cache) GetOrSet(ctx context.Context, key string, factory Factory, ttl time.Duration, useLocal bool) ([]byte, bool) {
	if v, ok := c.Get(ctx, key, useLocal); ok {
		return v, true
	}

	if err := c.flight.Acquire(ctx, 1); err != nil {
		c.log.Debug("getOrSet abandoned while waiting for factory slot", Fields{"key": key, "err": err})
		return nil, false
	}
	defer c.flight.Release(1)

	// a caller we waited behind may have populated it
	if v, ok := c.Get(ctx, key, useLocal); ok {
		return v, true
	}

	if c.distFlight {
		if l := c.waitForLock(ctx, keys.Flight(key)); l != nil {
			defer c.releaseDetached(ctx, l)
			if v, ok := c.Get(ctx, key, useLocal); ok {
				return v, true
			}
		}
	}

	observed, genErr := c.gen.Snapshot(ctx, key)
	if genErr != nil {
		c.hooks.GenError(key, genErr)
		c.log.Warn("gen snapshot error; result will not be cached", Fields{"key": key, "err": genErr})
	}

	c.metrics.Inc(EventFactoryCall)
	v, err := factory(ctx)
	if err != nil {
		c.metrics.Inc(EventFactoryError)
		c.hooks.FactoryFailed(key, err)
		c.log.Error("getOrSet factory failed", Fields{"key": key, "err": err})
		return nil, false
	}

	if genErr != nil {
		return v, true
	}
	if cur, err := c.gen.Snapshot(ctx, key); err != nil || cur != observed {
		c.metrics.Inc(EventStaleWriteSkipped)
		c.hooks.StaleWriteSkipped(key)
		c.log.Debug("getOrSet write skipped (key removed during factory)", Fields{"key": key, "obs": observed})
		return v, true
	}
	c.Set(ctx, key, v, ttl)
	return v, true
}

func (c *Cache) Remove(ctx context.Context, key string) {
	// bump first so a factory already running cannot write the old value back
	if _, err := c.gen.Bump(ctx, key); err != nil {
		c.hooks.GenError(key, err)
		c.log.Warn("gen bump error", Fields{"key": key, "err": err})
	}
	c.del(ctx, TierRemote, key)
	c.del(ctx, TierLocal, key)
	c.metrics.Inc(EventRemove)
}

func (c *Cache) provider(t Tier) pr.Provider {
	if t == TierLocal {
		return c.local
	}
	return c.remote
}

// read returns the payload and its absolute expiry; corrupt or expired frames are deleted.
func (c *Cache) read(ctx context.Context, t Tier, key string) ([]byte, time.Time, bool) {
	p := c.provider(t)
	raw, ok, err := p.Get(ctx, key)
	if err != nil {
		c.tierError(t, "get", key, err)
		return nil, time.Time{}, false
	}
	if !ok {
		return nil, time.Time{}, false
	}
	exp, payload, err := wire.DecodeEntry(raw)
	if err != nil {
		c.selfHeal(ctx, t, key, "corrupt")
		return nil, time.Time{}, false
	}
	if wire.Expired(exp, c.now()) {
		c.selfHeal(ctx, t, key, "expired")
		return nil, time.Time{}, false
	}
	return payload, exp, true
}

// write reports whether the tier accepted the entry.
func (c *Cache) write(ctx context.Context, t Tier, key string, value []byte, ttl time.Duration) bool {
	entry := wire.EncodeEntry(c.now().Add(ttl), value)
	ok, err := c.provider(t).Set(ctx, key, entry, int64(len(entry)), ttl)
	if err != nil {
		c.tierError(t, "set", key, err)
		return false
	}
	if !ok {
		c.hooks.ProviderSetRejected(t, key)
		c.log.Debug("set rejected by provider (pressure)", Fields{"tier": t.String(), "key": key})
		return false
	}
	return true
}

func (c *Cache) del(ctx context.Context, t Tier, key string) {
	if err := c.provider(t).Del(ctx, key); err != nil {
		c.tierError(t, "del", key, err)
	}
}

func (c *Cache) selfHeal(ctx context.Context, t Tier, key, reason string) {
	c.metrics.Inc(EventSelfHeal)
	c.hooks.SelfHeal(t, key, reason)
	_ = c.provider(t).Del(ctx, key)
}

func (c *Cache) tierError(t Tier, op, key string, err error) {
	c.metrics.Inc(EventTierError)
	c.hooks.TierError(t, op, key, err)
	c.log.Warn("cache tier error", Fields{"tier": t.String(), "op": op, "key": key, "err": err})
}
