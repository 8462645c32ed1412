package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/store"
)

func TestParseEmptyYieldsDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, &def, cfg)
	assert.Equal(t, "ristretto", cfg.Cache.Local.Kind)
	assert.Equal(t, "local", cfg.Cache.GenStore)
	assert.Empty(t, cfg.Redis.Addrs)
}

func TestParseFullDocument(t *testing.T) {
	doc := `
logging:
  backend: logrus
  level: debug
  format: text
cache:
  local:
    kind: bigcache
    max_cost_bytes: 1048576
    shards: 16
  policy:
    volatile_markers: [comments]
    volatile_remote: 90s
    default_remote: 15m
  feed:
    prefix: "feed:home:"
    pages: [1, 2]
    sizes: [25]
    item_prefixes: ["feed:item:"]
  lock_ttl: 10s
  scan_batch: 500
  distributed_single_flight: true
  flight_wait: 2s
  genstore: redis
  hooks:
    enabled: true
    queue: 128
    workers: 2
redis:
  addrs: ["localhost:6379"]
  db: 2
  breaker:
    timeout: 5s
    failure_threshold: 0.5
store:
  path: /var/lib/app/data.db
  pools:
    default: 32
    bulk_write: 1
concurrency:
  max_retries: 5
  bulk_backoff_max: 10s
metrics:
  namespace: app
  labels:
    cache: primary
`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, "logrus", cfg.Logging.Backend)
	assert.Equal(t, int64(1048576), cfg.Cache.Local.MaxCostBytes)
	assert.Equal(t, 16, cfg.Cache.Local.Shards)
	assert.Equal(t, 90*time.Second, cfg.Cache.Policy.VolatileRemote)
	assert.Equal(t, 2*time.Second, cfg.Cache.FlightWait)
	assert.True(t, cfg.Cache.DistributedSingleFlight)
	assert.Equal(t, []string{"localhost:6379"}, cfg.Redis.Addrs)
	assert.Equal(t, 0.5, cfg.Redis.Breaker.FailureThreshold)
	assert.Equal(t, "app", cfg.Metrics.Namespace)

	layout := cfg.Cache.Feed.Layout()
	assert.Equal(t, tiercache.FeedLayout{
		Prefix:       "feed:home:",
		Pages:        []int{1, 2},
		Sizes:        []int{25},
		ItemPrefixes: []string{"feed:item:"},
	}, layout)

	// unset fields keep their defaults
	assert.Equal(t, 24*time.Hour, cfg.Cache.GenTTL)

	roles, err := cfg.Store.Roles()
	require.NoError(t, err)
	assert.Equal(t, map[store.Role]int64{store.RoleDefault: 32, store.RoleBulkWrite: 1}, roles)

	opts := cfg.Concurrency.options()
	assert.Equal(t, 5, opts.MaxRetries)
	assert.Equal(t, 10*time.Second, opts.BulkBackoffMax)
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown key":            "cache:\n  nope: 1\n",
		"bad logging backend":    "logging:\n  backend: glog\n",
		"bad local kind":         "cache:\n  local:\n    kind: lru\n",
		"redis genstore no addr": "cache:\n  genstore: redis\n",
		"bad redis addr":         "redis:\n  addrs: [\"not an address\"]\n",
		"unknown pool role":      "store:\n  pools:\n    reporting: 4\n",
		"empty store path":       "store:\n  path: \"\"\n",
		"breaker threshold":      "redis:\n  breaker:\n    failure_threshold: 1.5\n",
		"negative duration":      "cache:\n  lock_ttl: -1s\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := Default()
	cfg.Logging.Backend = "none"
	cfg.Store.Path = filepath.Join(t.TempDir(), "store.db")
	cfg.Cache.Local.MaxCostBytes = 1 << 20
	return &cfg
}

func TestBuildInProcess(t *testing.T) {
	ctx := context.Background()
	s, err := Build(ctx, testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close(ctx)) })

	assert.Nil(t, s.Redis)
	require.NotNil(t, s.Controller)
	require.NotNil(t, s.DB)

	s.Cache.Set(ctx, "user:1", []byte("ada"), time.Minute)
	require.Eventually(t, func() bool {
		v, ok := s.Cache.Get(ctx, "user:1", false)
		return ok && string(v) == "ada"
	}, time.Second, 10*time.Millisecond)

	l := s.Cache.AcquireLock(ctx, "user:1", time.Second)
	require.NotNil(t, l, "in-process remote supports conditional writes")
	require.NoError(t, l.Release(ctx))

	mfs, err := s.Registry.Gather()
	require.NoError(t, err)
	require.Len(t, mfs, 1)
	assert.Equal(t, "tiercache_events_total", mfs[0].GetName())
	assert.Len(t, mfs[0].GetMetric(), len(tiercache.Events()))
}

func TestBuildLoggerBackends(t *testing.T) {
	for _, backend := range []string{"zap", "logrus", "slog"} {
		t.Run(backend, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Logging = LoggingConfig{Backend: backend, Level: "error", Format: "text"}
			cfg.Cache.Local.Kind = "bigcache"
			cfg.Cache.Hooks = HooksConfig{Enabled: true, Queue: 8, Workers: 1}

			s, err := Build(context.Background(), cfg)
			require.NoError(t, err)
			require.NotNil(t, s.Logger)
			require.NoError(t, s.Close(context.Background()))
		})
	}
}

func TestBuildWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	cfg := testConfig(t)
	cfg.Redis.Addrs = []string{mr.Addr()}
	cfg.Cache.GenStore = "redis"

	s, err := Build(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(ctx) })

	require.NotNil(t, s.Redis)
	s.Cache.Set(ctx, "post:9", []byte("hello"), time.Minute)
	assert.True(t, mr.Exists("post:9"))

	s.Cache.Remove(ctx, "post:9")
	assert.False(t, mr.Exists("post:9"))
	// removal generations live in redis too
	assert.True(t, mr.Exists("gen:tiercache:post:9"))

	for i := 0; i < 3; i++ {
		s.Cache.Set(ctx, "comments:post:9:"+string(rune('a'+i)), []byte("c"), time.Minute)
	}
	s.Cache.RemoveByPattern(ctx, "comments:post:9:*")
	assert.False(t, mr.Exists("comments:post:9:a"))
	assert.False(t, mr.Exists("comments:post:9:c"))
}

func TestBuildFailsOnBadStorePath(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Path = filepath.Join(t.TempDir(), "missing", "dir", "store.db")
	_, err := Build(context.Background(), cfg)
	require.Error(t, err)
}

type tunable struct {
	mu     sync.Mutex
	policy tiercache.Policy
	feed   tiercache.FeedLayout
	calls  int
}

func (f *tunable) SetPolicy(p tiercache.Policy) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.policy = p
	f.calls++
}

func (f *tunable) SetFeedLayout(l tiercache.FeedLayout) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feed = l
}

func (f *tunable) snapshot() (tiercache.Policy, tiercache.FeedLayout, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.policy, f.feed, f.calls
}

func TestWatcherReloadsPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiercache.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache:\n  policy:\n    default_remote: 1m\n"), 0o600))

	target := &tunable{}
	w, err := Watch(path, target, nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, w.Close()) })

	doc := "cache:\n  policy:\n    default_remote: 3m\n  feed:\n    prefix: \"feed:home:\"\n    pages: [1]\n    sizes: [10]\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	require.Eventually(t, func() bool {
		p, _, calls := target.snapshot()
		return calls > 0 && p.DefaultRemote == 3*time.Minute
	}, 5*time.Second, 20*time.Millisecond)

	_, feed, _ := target.snapshot()
	assert.Equal(t, "feed:home:", feed.Prefix)
	assert.Equal(t, []int{1}, feed.Pages)
}

func TestWatcherKeepsPolicyOnBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiercache.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache: {}\n"), 0o600))

	target := &tunable{}
	w, err := Watch(path, target, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	reloaded := make(chan error, 4)
	w.OnReload(func(_ *Config, err error) {
		select {
		case reloaded <- err:
		default:
		}
	})

	require.NoError(t, os.WriteFile(path, []byte("cache:\n  local:\n    kind: lru\n"), 0o600))

	select {
	case err := <-reloaded:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload attempt observed")
	}
	_, _, calls := target.snapshot()
	assert.Zero(t, calls)
}
