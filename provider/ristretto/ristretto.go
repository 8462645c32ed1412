package ristretto

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	rc "github.com/dgraph-io/ristretto"

	pr "github.com/unkn0wn-root/tiercache/provider"
)

// Provider backs the local tier. It also serves as the in-process substitute
// for the distributed tier in degraded mode: it implements Conditional by
// serializing lock writes, but not Scanner (ristretto cannot enumerate keys).
type Provider struct {
	c *rc.Cache

	condMu sync.Mutex
}

var (
	_ pr.Provider    = (*Provider)(nil)
	_ pr.Conditional = (*Provider)(nil)
)

// Config mirrors the ristretto knobs tiercache uses. Cost is supplied per Set
// (the framed entry length).
type Config struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	Metrics     bool
	// OnEvict sees capacity evictions, expirations and admission rejections.
	OnEvict pr.EvictFunc
}

// DefaultConfig sizes the cache for roughly maxCost bytes of payload.
func DefaultConfig(maxCost int64) Config {
	return Config{
		NumCounters: maxCost / 100, // ~10x the expected number of ~1KiB entries
		MaxCost:     maxCost,
		BufferItems: 64,
	}
}

func New(cfg Config) (*Provider, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	rcfg := &rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	}
	if fn := cfg.OnEvict; fn != nil {
		rcfg.OnEvict = func(it *rc.Item) {
			if !it.Expiration.IsZero() && !it.Expiration.After(time.Now()) {
				fn(pr.EvictExpired)
				return
			}
			fn(pr.EvictCapacity)
		}
		rcfg.OnReject = func(*rc.Item) { fn(pr.EvictRejected) }
	}
	c, err := rc.NewCache(rcfg)
	if err != nil {
		return nil, err
	}
	return &Provider{c: c}, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := p.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	if b == nil {
		// self-heal: drop unexpected entry shape
		p.c.Del(key)
		return nil, false, nil
	}
	return b, true, nil
}

// Set waits for the write buffer so a following Get observes the value.
func (p *Provider) Set(_ context.Context, key string, value []byte, cost int64, ttl time.Duration) (bool, error) {
	if cost <= 0 {
		cost = int64(len(value))
	}
	if ttl < 0 {
		ttl = 0
	}
	ok := p.c.SetWithTTL(key, value, cost, ttl)
	p.c.Wait()
	return ok, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.c.Del(key)
	return nil
}

func (p *Provider) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	p.condMu.Lock()
	defer p.condMu.Unlock()
	if _, ok, _ := p.Get(ctx, key); ok {
		return false, nil
	}
	return p.Set(ctx, key, value, 0, ttl)
}

func (p *Provider) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	p.condMu.Lock()
	defer p.condMu.Unlock()
	cur, ok, _ := p.Get(ctx, key)
	if !ok || !bytes.Equal(cur, expected) {
		return false, nil
	}
	p.c.Del(key)
	return true, nil
}

func (p *Provider) Close(_ context.Context) error {
	p.c.Wait()
	p.c.Close()
	return nil
}

// Metrics returns ristretto's own counters; nil unless Config.Metrics is set.
func (p *Provider) Metrics() *rc.Metrics { return p.c.Metrics }
