package slog

import (
	"bytes"
	"encoding/json"
	"errors"
	stdslog "log/slog"
	"strings"
	"testing"

	"github.com/unkn0wn-root/tiercache"
)

func TestForwardsLevelAndFields(t *testing.T) {
	var buf bytes.Buffer
	l := Logger{L: stdslog.New(stdslog.NewJSONHandler(&buf, nil))}

	l.Debug("dropped", nil) // below default Info level
	l.Error("factory failed", tiercache.Fields{"key": "k"})

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("want exactly one JSON record, got %q: %v", buf.String(), err)
	}
	if rec["level"] != "ERROR" || rec["msg"] != "factory failed" || rec["key"] != "k" {
		t.Fatalf("record=%v", rec)
	}
}

func TestNewTagsComponentAndSortsFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(stdslog.New(stdslog.NewTextHandler(&buf, nil)))

	l.Warn("tier error", tiercache.Fields{"op": "get", "err": errors.New("boom"), "key": "k"})

	out := buf.String()
	want := `component=tiercache err=boom key=k op=get`
	if !strings.Contains(out, want) {
		t.Fatalf("got %q, want it to contain %q", out, want)
	}
}
