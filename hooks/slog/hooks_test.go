package sloghook

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/unkn0wn-root/tiercache"
)

func newBuf() (*bytes.Buffer, *slog.Logger) {
	var buf bytes.Buffer
	return &buf, slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func lines(buf *bytes.Buffer) []map[string]any {
	var out []map[string]any
	for _, ln := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if ln == "" {
			continue
		}
		m := map[string]any{}
		_ = json.Unmarshal([]byte(ln), &m)
		out = append(out, m)
	}
	return out
}

func TestRedactsKeysByDefault(t *testing.T) {
	buf, l := newBuf()
	h := New(l, Options{})

	h.TierError(tiercache.TierRemote, "get", "user:secret", errors.New("boom"))

	got := lines(buf)
	if len(got) != 1 {
		t.Fatalf("want 1 line, got %d", len(got))
	}
	if got[0]["msg"] != "tiercache.tier_error" || got[0]["tier"] != "remote" {
		t.Fatalf("unexpected record: %v", got[0])
	}
	if k, _ := got[0]["key"].(string); k == "user:secret" || len(k) != 16 {
		t.Fatalf("key not redacted: %q", k)
	}
}

func TestSelfHealSampling(t *testing.T) {
	buf, l := newBuf()
	h := New(l, Options{SelfHealEvery: 3, Redact: func(s string) string { return s }})

	for i := 0; i < 9; i++ {
		h.SelfHeal(tiercache.TierLocal, "k", "corrupt")
	}
	if n := len(lines(buf)); n != 3 {
		t.Fatalf("sampled lines=%d, want 3", n)
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	h := New(nil, Options{})
	h.FactoryFailed("k", errors.New("x"))
	h.LockWithoutConditionalWrite()
	h.GenError("k", errors.New("x"))
}
