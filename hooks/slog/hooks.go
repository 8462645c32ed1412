// Package sloghook reports cache events through log/slog.
package sloghook

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/tiercache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery  uint64
	TierErrorEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr  atomic.Uint64
	tierErrorCtr atomic.Uint64
}

var _ tiercache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) TierError(tier tiercache.Tier, op, key string, err error) {
	if h.l == nil || !sample(h.opts.TierErrorEvery, &h.tierErrorCtr) {
		return
	}
	h.l.Warn("tiercache.tier_error",
		"tier", tier.String(),
		"op", op,
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) ProviderSetRejected(tier tiercache.Tier, key string) {
	if h.l == nil {
		return
	}
	h.l.Warn("tiercache.provider_set_rejected",
		"tier", tier.String(),
		"key", h.redact(key))
}

func (h *Hooks) SelfHeal(tier tiercache.Tier, key, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("tiercache.self_heal",
		"tier", tier.String(),
		"key", h.redact(key),
		"reason", reason)
}

func (h *Hooks) FactoryFailed(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("tiercache.factory_failed",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) StaleWriteSkipped(key string) {
	if h.l == nil {
		return
	}
	h.l.Debug("tiercache.stale_write_skipped", "key", h.redact(key))
}

func (h *Hooks) PatternUnsupported(pattern string) {
	if h.l == nil {
		return
	}
	h.l.Warn("tiercache.pattern_unsupported", "pattern", pattern)
}

func (h *Hooks) LockWithoutConditionalWrite() {
	if h.l == nil {
		return
	}
	h.l.Warn("tiercache.lock_without_conditional_write",
		"msg", "remote tier lacks set-if-absent; locks exclude within one process only")
}

func (h *Hooks) GenError(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("tiercache.gen_error",
		"key", h.redact(key),
		"err", err)
}
