package tiercache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/tiercache/codec"
)

// Typed layers a codec over a Cache. Undecodable values count as misses and
// are removed from both tiers.
type Typed[V any] struct {
	c     *Cache
	codec codec.Codec[V]
}

func Of[V any](c *Cache, cd codec.Codec[V]) *Typed[V] {
	return &Typed[V]{c: c, codec: cd}
}

// Cache returns the untyped facade underneath.
func (t *Typed[V]) Cache() *Cache { return t.c }

func (t *Typed[V]) Get(ctx context.Context, key string, useLocal bool) (V, bool) {
	var zero V
	b, ok := t.c.Get(ctx, key, useLocal)
	if !ok {
		return zero, false
	}
	v, err := t.codec.Decode(b)
	if err != nil {
		t.dropUndecodable(ctx, key, err)
		return zero, false
	}
	return v, true
}

func (t *Typed[V]) Set(ctx context.Context, key string, v V, ttl time.Duration) {
	b, err := t.codec.Encode(v)
	if err != nil {
		t.c.log.Error("value encode failed; not cached", Fields{"key": key, "err": err})
		return
	}
	t.c.Set(ctx, key, b, ttl)
}

// GetOrSet returns the cached value or runs factory once per process and caches
// its result. On a factory error the caller gets a miss.
func (t *Typed[V]) GetOrSet(
	ctx context.Context,
	key string,
	factory func(ctx context.Context) (V, error),
	ttl time.Duration,
	useLocal bool,
) (V, bool) {
	var zero, produced V
	var fromFactory bool

	b, ok := t.c.GetOrSet(ctx, key, func(ctx context.Context) ([]byte, error) {
		v, err := factory(ctx)
		if err != nil {
			return nil, err
		}
		produced, fromFactory = v, true
		return t.codec.Encode(v)
	}, ttl, useLocal)
	if !ok {
		return zero, false
	}
	if fromFactory {
		return produced, true
	}

	v, err := t.codec.Decode(b)
	if err != nil {
		t.dropUndecodable(ctx, key, err)
		return zero, false
	}
	return v, true
}

func (t *Typed[V]) Remove(ctx context.Context, key string) { t.c.Remove(ctx, key) }

func (t *Typed[V]) dropUndecodable(ctx context.Context, key string, err error) {
	t.c.metrics.Inc(EventSelfHeal)
	t.c.hooks.SelfHeal(TierRemote, key, "value_decode")
	t.c.log.Warn("cached value failed to decode; removing", Fields{"key": key, "err": err})
	t.c.Remove(ctx, key)
}
