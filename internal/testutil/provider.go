// Package testutil holds in-memory provider fakes shared by package tests.
package testutil

import (
	"bytes"
	"context"
	"path"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	pr "github.com/unkn0wn-root/tiercache/provider"
)

type memEntry struct {
	v   []byte
	ttl time.Duration
	exp time.Time // zero => no TTL
}

// Mem is a map-backed Provider with call counters and error injection.
// It implements none of the optional capabilities; see Scanning, Conditional, Full.
type Mem struct {
	mu sync.Mutex
	m  map[string]memEntry

	Gets atomic.Int64
	Sets atomic.Int64
	Dels atomic.Int64

	// Injected failures; nil means healthy.
	GetErr error
	SetErr error
	DelErr error
	// RejectSets makes Set report ok=false (store under pressure).
	RejectSets bool
}

var _ pr.Provider = (*Mem)(nil)

func NewMem() *Mem { return &Mem{m: make(map[string]memEntry)} }

func (p *Mem) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.Gets.Add(1)
	if p.GetErr != nil {
		return nil, false, p.GetErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.getLocked(key)
}

func (p *Mem) getLocked(key string) ([]byte, bool, error) {
	e, ok := p.m[key]
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		delete(p.m, key)
		return nil, false, nil
	}
	return e.v, true, nil
}

func (p *Mem) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	p.Sets.Add(1)
	if p.SetErr != nil {
		return false, p.SetErr
	}
	if p.RejectSets {
		return false, nil
	}
	p.mu.Lock()
	p.setLocked(key, value, ttl)
	p.mu.Unlock()
	return true, nil
}

func (p *Mem) setLocked(key string, value []byte, ttl time.Duration) {
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	p.m[key] = memEntry{v: append([]byte(nil), value...), ttl: ttl, exp: exp}
}

func (p *Mem) Del(_ context.Context, key string) error {
	p.Dels.Add(1)
	if p.DelErr != nil {
		return p.DelErr
	}
	p.mu.Lock()
	delete(p.m, key)
	p.mu.Unlock()
	return nil
}

func (p *Mem) Close(context.Context) error { return nil }

// TTL returns the TTL the key was last written with.
func (p *Mem) TTL(key string) (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.m[key]
	return e.ttl, ok
}

// Has reports whether key is present and unexpired without touching counters.
func (p *Mem) Has(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok, _ := p.getLocked(key)
	return ok
}

// Raw returns the stored bytes without touching counters.
func (p *Mem) Raw(key string) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, _, _ := p.getLocked(key)
	return b
}

// Put stores bytes directly, bypassing counters and injected failures.
func (p *Mem) Put(key string, value []byte, ttl time.Duration) {
	p.mu.Lock()
	p.setLocked(key, value, ttl)
	p.mu.Unlock()
}

// Keys lists present keys in sorted order.
func (p *Mem) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.m))
	for k := range p.m {
		if _, ok, _ := p.getLocked(k); ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Scanning adds Scanner and MultiDeleter. Glob matching uses path.Match,
// which agrees with Redis MATCH for the '*' and '?' patterns used in tests.
type Scanning struct {
	*Mem
	Scans atomic.Int64

	snapMu sync.Mutex
	snap   []string
}

var (
	_ pr.Scanner      = (*Scanning)(nil)
	_ pr.MultiDeleter = (*Scanning)(nil)
)

func NewScanning() *Scanning { return &Scanning{Mem: NewMem()} }

// Scan pages through the keyspace as it was when cursor 0 was requested, so
// deletes between calls do not shift later pages. cursor is an offset into
// that snapshot; one iteration at a time.
func (p *Scanning) Scan(_ context.Context, match string, cursor uint64, count int64) ([]string, uint64, error) {
	p.Scans.Add(1)
	p.snapMu.Lock()
	defer p.snapMu.Unlock()
	if cursor == 0 || p.snap == nil {
		p.snap = p.Keys()
	}
	all := p.snap
	if count <= 0 {
		count = 10
	}
	start := int(cursor)
	if start >= len(all) {
		return nil, 0, nil
	}
	end := start + int(count)
	if end > len(all) {
		end = len(all)
	}
	var out []string
	for _, k := range all[start:end] {
		if ok, _ := path.Match(match, k); ok {
			out = append(out, k)
		}
	}
	next := uint64(end)
	if end == len(all) {
		next = 0
	}
	return out, next, nil
}

func (p *Scanning) DelMany(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		if err := p.Del(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// Conditional adds SetNX and CompareAndDelete.
type Conditional struct{ *Mem }

var _ pr.Conditional = (*Conditional)(nil)

func NewConditional() *Conditional { return &Conditional{Mem: NewMem()} }

func (p *Conditional) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if p.SetErr != nil {
		return false, p.SetErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok, _ := p.getLocked(key); ok {
		return false, nil
	}
	p.setLocked(key, value, ttl)
	return true, nil
}

func (p *Conditional) CompareAndDelete(_ context.Context, key string, expected []byte) (bool, error) {
	if p.DelErr != nil {
		return false, p.DelErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	cur, ok, _ := p.getLocked(key)
	if !ok || !bytes.Equal(cur, expected) {
		return false, nil
	}
	delete(p.m, key)
	return true, nil
}

// Full implements every optional capability.
type Full struct {
	*Scanning
	cond *Conditional
}

func NewFull() *Full {
	s := NewScanning()
	return &Full{Scanning: s, cond: &Conditional{Mem: s.Mem}}
}

func (p *Full) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return p.cond.SetNX(ctx, key, value, ttl)
}

func (p *Full) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	return p.cond.CompareAndDelete(ctx, key, expected)
}
