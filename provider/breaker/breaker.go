// Package breaker wraps a remote provider with a circuit breaker so that an
// outage of the distributed tier fails fast instead of stalling every caller
// for a full network timeout. While the breaker is open, calls return
// ErrOpen immediately and tiercache treats them like any other tier error.
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	pr "github.com/unkn0wn-root/tiercache/provider"
)

// ErrOpen is returned while the breaker rejects calls.
var ErrOpen = errors.New("breaker: remote tier unavailable")

type Config struct {
	Name             string
	MaxRequests      uint32        // trial requests allowed while half-open
	Interval         time.Duration // closed-state counter reset; 0 = never
	Timeout          time.Duration // open -> half-open
	MinRequests      uint32
	FailureThreshold float64 // ratio in (0,1]
	OnStateChange    func(name string, from, to gobreaker.State)
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "remote"
	}
	if c.MaxRequests == 0 {
		c.MaxRequests = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MinRequests == 0 {
		c.MinRequests = 5
	}
	if c.FailureThreshold <= 0 || c.FailureThreshold > 1 {
		c.FailureThreshold = 0.6
	}
	return c
}

// Provider forwards to the wrapped provider through a circuit breaker.
// Optional capabilities are forwarded only when the inner provider has them;
// use Wrap so callers can keep probing for Scanner/Conditional.
type Provider struct {
	inner pr.Provider
	cb    *gobreaker.CircuitBreaker
}

// Wrap returns a breaker-guarded provider that exposes the same optional
// capabilities as inner.
func Wrap(inner pr.Provider, cfg Config) pr.Provider {
	cfg = cfg.withDefaults()
	p := &Provider{inner: inner}
	p.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		OnStateChange: cfg.OnStateChange,
		IsSuccessful: func(err error) bool {
			// caller cancellations say nothing about the remote's health
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	_, scan := inner.(pr.Scanner)
	_, multi := inner.(pr.MultiDeleter)
	_, cond := inner.(pr.Conditional)
	sc, md, cc := scanCap{p}, multiCap{p}, condCap{p}
	switch {
	case scan && multi && cond:
		return &struct {
			*Provider
			scanCap
			multiCap
			condCap
		}{p, sc, md, cc}
	case scan && multi:
		return &struct {
			*Provider
			scanCap
			multiCap
		}{p, sc, md}
	case scan && cond:
		return &struct {
			*Provider
			scanCap
			condCap
		}{p, sc, cc}
	case multi && cond:
		return &struct {
			*Provider
			multiCap
			condCap
		}{p, md, cc}
	case scan:
		return &struct {
			*Provider
			scanCap
		}{p, sc}
	case multi:
		return &struct {
			*Provider
			multiCap
		}{p, md}
	case cond:
		return &struct {
			*Provider
			condCap
		}{p, cc}
	}
	return p
}

// State reports the breaker state of a provider returned by Wrap.
func State(p pr.Provider) (gobreaker.State, bool) {
	if b, ok := p.(interface{ breaker() *gobreaker.CircuitBreaker }); ok {
		return b.breaker().State(), true
	}
	return gobreaker.StateClosed, false
}

func (p *Provider) breaker() *gobreaker.CircuitBreaker { return p.cb }

func run[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	out, err := cb.Execute(func() (interface{}, error) { return fn() })
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, ErrOpen
	}
	v, _ := out.(T)
	return v, err
}

type getResult struct {
	b  []byte
	ok bool
}

func (p *Provider) Get(ctx context.Context, key string) ([]byte, bool, error) {
	r, err := run(p.cb, func() (getResult, error) {
		b, ok, err := p.inner.Get(ctx, key)
		return getResult{b, ok}, err
	})
	return r.b, r.ok, err
}

func (p *Provider) Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (bool, error) {
	return run(p.cb, func() (bool, error) { return p.inner.Set(ctx, key, value, cost, ttl) })
}

func (p *Provider) Del(ctx context.Context, key string) error {
	_, err := run(p.cb, func() (struct{}, error) { return struct{}{}, p.inner.Del(ctx, key) })
	return err
}

// Close bypasses the breaker.
func (p *Provider) Close(ctx context.Context) error { return p.inner.Close(ctx) }

type scanResult struct {
	keys []string
	next uint64
}

// Each optional capability of the inner provider is forwarded by its own
// adapter; Wrap embeds exactly the ones inner has.
type scanCap struct{ p *Provider }

func (s scanCap) Scan(ctx context.Context, match string, cursor uint64, count int64) ([]string, uint64, error) {
	r, err := run(s.p.cb, func() (scanResult, error) {
		keys, next, err := s.p.inner.(pr.Scanner).Scan(ctx, match, cursor, count)
		return scanResult{keys, next}, err
	})
	return r.keys, r.next, err
}

type multiCap struct{ p *Provider }

func (m multiCap) DelMany(ctx context.Context, keys ...string) error {
	_, err := run(m.p.cb, func() (struct{}, error) {
		return struct{}{}, m.p.inner.(pr.MultiDeleter).DelMany(ctx, keys...)
	})
	return err
}

type condCap struct{ p *Provider }

func (c condCap) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return run(c.p.cb, func() (bool, error) { return c.p.inner.(pr.Conditional).SetNX(ctx, key, value, ttl) })
}

func (c condCap) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	return run(c.p.cb, func() (bool, error) {
		return c.p.inner.(pr.Conditional).CompareAndDelete(ctx, key, expected)
	})
}
