package tiercache

import (
	"time"

	"github.com/unkn0wn-root/tiercache/internal/keys"
)

// Policy derives TTLs from the key namespace. High-churn namespaces (comments,
// post feeds) expire sooner to bound how stale a reader can get.
type Policy struct {
	VolatileMarkers []string      // substrings marking high-churn keys
	VolatileRemote  time.Duration // 0 => 2m
	VolatileLocal   time.Duration // 0 => 1m
	DefaultRemote   time.Duration // 0 => 10m
	DefaultLocal    time.Duration // 0 => 5m
}

// DefaultPolicy returns the stock namespace policy.
func DefaultPolicy() Policy {
	return Policy{VolatileMarkers: []string{"comments", "post-guid"}}.normalize()
}

func (p Policy) normalize() Policy {
	p.VolatileRemote = coalesce(p.VolatileRemote, 2*time.Minute)
	p.VolatileLocal = coalesce(p.VolatileLocal, time.Minute)
	p.DefaultRemote = coalesce(p.DefaultRemote, 10*time.Minute)
	p.DefaultLocal = coalesce(p.DefaultLocal, 5*time.Minute)
	// local copies never outlive the remote entry
	p.VolatileLocal = min(p.VolatileLocal, p.VolatileRemote)
	p.DefaultLocal = min(p.DefaultLocal, p.DefaultRemote)
	return p
}

// Volatile reports whether key falls in a high-churn namespace.
func (p Policy) Volatile(key string) bool {
	return keys.ContainsAny(key, p.VolatileMarkers)
}

// TTLs returns the remote and local TTL for key. A positive override replaces
// the remote TTL and caps the local one.
func (p Policy) TTLs(key string, override time.Duration) (remote, local time.Duration) {
	if p.Volatile(key) {
		remote, local = p.VolatileRemote, p.VolatileLocal
	} else {
		remote, local = p.DefaultRemote, p.DefaultLocal
	}
	if override > 0 {
		remote = override
		local = min(local, override)
	}
	return remote, local
}

// MaxLocal returns the longest local TTL the policy can hand out, ignoring
// per-call overrides (which only shorten it).
func (p Policy) MaxLocal() time.Duration {
	p = p.normalize()
	return max(p.DefaultLocal, p.VolatileLocal)
}
