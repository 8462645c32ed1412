package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/unkn0wn-root/tiercache/internal/testutil"
	pr "github.com/unkn0wn-root/tiercache/provider"
)

// scanCond enumerates keys and writes conditionally but has no batched delete.
type scanCond struct {
	*testutil.Conditional
	scan *testutil.Scanning
}

func newScanCond() scanCond {
	m := testutil.NewMem()
	return scanCond{Conditional: &testutil.Conditional{Mem: m}, scan: &testutil.Scanning{Mem: m}}
}

func (s scanCond) Scan(ctx context.Context, match string, cursor uint64, count int64) ([]string, uint64, error) {
	return s.scan.Scan(ctx, match, cursor, count)
}

func TestWrapKeepsCapabilities(t *testing.T) {
	cases := []struct {
		name              string
		inner             pr.Provider
		scan, multi, cond bool
	}{
		{"plain", testutil.NewMem(), false, false, false},
		{"scanning", testutil.NewScanning(), true, true, false},
		{"conditional", testutil.NewConditional(), false, false, true},
		{"scan without multi-delete", newScanCond(), true, false, true},
		{"full", testutil.NewFull(), true, true, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := Wrap(tc.inner, Config{})
			if _, ok := p.(pr.Scanner); ok != tc.scan {
				t.Fatalf("Scanner=%v want %v", ok, tc.scan)
			}
			if _, ok := p.(pr.MultiDeleter); ok != tc.multi {
				t.Fatalf("MultiDeleter=%v want %v", ok, tc.multi)
			}
			if _, ok := p.(pr.Conditional); ok != tc.cond {
				t.Fatalf("Conditional=%v want %v", ok, tc.cond)
			}
			if _, ok := State(p); !ok {
				t.Fatalf("State should recognise wrapped provider")
			}
		})
	}
}

func TestOpensAfterFailuresAndFailsFast(t *testing.T) {
	ctx := context.Background()
	inner := testutil.NewMem()
	inner.GetErr = errors.New("connection refused")

	p := Wrap(inner, Config{MinRequests: 3, FailureThreshold: 0.5, Timeout: time.Hour})
	for i := 0; i < 3; i++ {
		if _, _, err := p.Get(ctx, "k"); err == nil {
			t.Fatalf("expected inner error on call %d", i)
		}
	}
	if st, _ := State(p); st != gobreaker.StateOpen {
		t.Fatalf("state=%v want open", st)
	}

	before := inner.Gets.Load()
	if _, _, err := p.Get(ctx, "k"); !errors.Is(err, ErrOpen) {
		t.Fatalf("want ErrOpen, got %v", err)
	}
	if inner.Gets.Load() != before {
		t.Fatalf("open breaker must not reach the inner provider")
	}
}

func TestMissIsNotAFailure(t *testing.T) {
	ctx := context.Background()
	p := Wrap(testutil.NewMem(), Config{MinRequests: 1, FailureThreshold: 0.1})
	for i := 0; i < 5; i++ {
		if _, ok, err := p.Get(ctx, "absent"); err != nil || ok {
			t.Fatalf("miss expected, ok=%v err=%v", ok, err)
		}
	}
	if st, _ := State(p); st != gobreaker.StateClosed {
		t.Fatalf("misses tripped the breaker: %v", st)
	}
}

func TestWrapForwardsScanWithoutMultiDelete(t *testing.T) {
	ctx := context.Background()
	inner := newScanCond()
	inner.Put("comments:1", []byte("x"), time.Minute)
	inner.Put("user:1", []byte("y"), time.Minute)

	p := Wrap(inner, Config{})
	sc, ok := p.(pr.Scanner)
	if !ok {
		t.Fatalf("Scanner dropped by Wrap")
	}
	keys, next, err := sc.Scan(ctx, "comments:*", 0, 10)
	if err != nil || next != 0 || len(keys) != 1 || keys[0] != "comments:1" {
		t.Fatalf("Scan: keys=%v next=%d err=%v", keys, next, err)
	}
	if inner.scan.Scans.Load() != 1 {
		t.Fatalf("scan did not reach the inner provider")
	}
	if ok, err := p.(pr.Conditional).SetNX(ctx, "lock:r", []byte("a"), time.Minute); err != nil || !ok {
		t.Fatalf("SetNX: ok=%v err=%v", ok, err)
	}
}
