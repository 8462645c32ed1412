package redis

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newTestProvider(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	p, err := New(Config{Client: rdb, CloseClient: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p, mr
}

func TestNewRejectsNilClient(t *testing.T) {
	if _, err := New(Config{}); err != ErrNilClient {
		t.Fatalf("want ErrNilClient, got %v", err)
	}
}

func TestGetSetDelAndTTL(t *testing.T) {
	ctx := context.Background()
	p, mr := newTestProvider(t)

	if _, ok, err := p.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("miss expected, ok=%v err=%v", ok, err)
	}
	if ok, err := p.Set(ctx, "k", []byte("v"), 1, time.Minute); err != nil || !ok {
		t.Fatalf("Set: ok=%v err=%v", ok, err)
	}
	if got := mr.TTL("k"); got != time.Minute {
		t.Fatalf("ttl=%v want 1m", got)
	}
	b, ok, err := p.Get(ctx, "k")
	if err != nil || !ok || string(b) != "v" {
		t.Fatalf("Get: %q ok=%v err=%v", b, ok, err)
	}
	mr.FastForward(2 * time.Minute)
	if _, ok, _ := p.Get(ctx, "k"); ok {
		t.Fatalf("entry should have expired")
	}
	_, _ = p.Set(ctx, "k", []byte("v"), 1, 0)
	if err := p.Del(ctx, "k"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if mr.Exists("k") {
		t.Fatalf("Del did not remove key")
	}
}

func TestScanAndDelMany(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProvider(t)
	for _, k := range []string{"app:1:a", "app:1:b", "app:2:a", "other"} {
		_, _ = p.Set(ctx, k, []byte("x"), 1, 0)
	}

	var found []string
	var cursor uint64
	for {
		keys, next, err := p.Scan(ctx, "app:1:*", cursor, 100)
		if err != nil {
			t.Fatalf("Scan: %v", err)
		}
		found = append(found, keys...)
		if next == 0 {
			break
		}
		cursor = next
	}
	sort.Strings(found)
	if len(found) != 2 || found[0] != "app:1:a" || found[1] != "app:1:b" {
		t.Fatalf("scan found %v", found)
	}

	if err := p.DelMany(ctx, found...); err != nil {
		t.Fatalf("DelMany: %v", err)
	}
	if _, ok, _ := p.Get(ctx, "app:1:a"); ok {
		t.Fatalf("DelMany left app:1:a")
	}
	if _, ok, _ := p.Get(ctx, "app:2:a"); !ok {
		t.Fatalf("DelMany removed an unrelated key")
	}
	if err := p.DelMany(ctx); err != nil {
		t.Fatalf("DelMany with no keys: %v", err)
	}
}

func TestSetNXAndCompareAndDelete(t *testing.T) {
	ctx := context.Background()
	p, mr := newTestProvider(t)

	ok, err := p.SetNX(ctx, "lock:r", []byte("owner-a"), 30*time.Second)
	if err != nil || !ok {
		t.Fatalf("first SetNX: ok=%v err=%v", ok, err)
	}
	ok, err = p.SetNX(ctx, "lock:r", []byte("owner-b"), 30*time.Second)
	if err != nil || ok {
		t.Fatalf("second SetNX must fail: ok=%v err=%v", ok, err)
	}

	deleted, err := p.CompareAndDelete(ctx, "lock:r", []byte("owner-b"))
	if err != nil || deleted {
		t.Fatalf("foreign owner must not delete: deleted=%v err=%v", deleted, err)
	}
	if !mr.Exists("lock:r") {
		t.Fatalf("lock removed by foreign owner")
	}
	deleted, err = p.CompareAndDelete(ctx, "lock:r", []byte("owner-a"))
	if err != nil || !deleted {
		t.Fatalf("owner delete: deleted=%v err=%v", deleted, err)
	}
	if mr.Exists("lock:r") {
		t.Fatalf("lock still present after owner delete")
	}
}

// delRecorder notes the key count of every DEL the client sends.
type delRecorder struct {
	mu   sync.Mutex
	dels []int
}

func (r *delRecorder) note(cmds ...goredis.Cmder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range cmds {
		if strings.EqualFold(c.Name(), "del") {
			r.dels = append(r.dels, len(c.Args())-1)
		}
	}
}

func (r *delRecorder) DialHook(next goredis.DialHook) goredis.DialHook { return next }

func (r *delRecorder) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		r.note(cmd)
		return next(ctx, cmd)
	}
}

func (r *delRecorder) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		r.note(cmds...)
		return next(ctx, cmds)
	}
}

func TestDelManySplitsKeysOnCluster(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	keys := []string{"feed:global:page:1:size:10", "comments:42", "user:7"}

	cases := []struct {
		name   string
		client goredis.UniversalClient
		want   []int
	}{
		{"standalone", goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), []int{3}},
		{"cluster", goredis.NewClusterClient(&goredis.ClusterOptions{Addrs: []string{mr.Addr()}}), []int{1, 1, 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &delRecorder{}
			tc.client.AddHook(rec)
			p, err := New(Config{Client: tc.client, CloseClient: true})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			defer p.Close(ctx)

			for _, k := range keys {
				mr.Set(k, "v")
			}
			if err := p.DelMany(ctx, keys...); err != nil {
				t.Fatalf("DelMany: %v", err)
			}
			for _, k := range keys {
				if mr.Exists(k) {
					t.Fatalf("%s survived DelMany", k)
				}
			}
			rec.mu.Lock()
			defer rec.mu.Unlock()
			if fmt.Sprint(rec.dels) != fmt.Sprint(tc.want) {
				t.Fatalf("DEL key counts=%v want %v", rec.dels, tc.want)
			}
		})
	}
}
