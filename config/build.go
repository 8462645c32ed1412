package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/concurrency"
	"github.com/unkn0wn-root/tiercache/genstore"
	asynchook "github.com/unkn0wn-root/tiercache/hooks/async"
	sloghook "github.com/unkn0wn-root/tiercache/hooks/slog"
	tclogrus "github.com/unkn0wn-root/tiercache/log/logrus"
	tcslog "github.com/unkn0wn-root/tiercache/log/slog"
	tczap "github.com/unkn0wn-root/tiercache/log/zap"
	"github.com/unkn0wn-root/tiercache/metrics/prom"
	pr "github.com/unkn0wn-root/tiercache/provider"
	"github.com/unkn0wn-root/tiercache/provider/bigcache"
	"github.com/unkn0wn-root/tiercache/provider/breaker"
	tcredis "github.com/unkn0wn-root/tiercache/provider/redis"
	"github.com/unkn0wn-root/tiercache/provider/ristretto"
	"github.com/unkn0wn-root/tiercache/store/bolt"
)

// Stack is everything Build assembled. Close releases it in reverse order.
type Stack struct {
	Config     *Config
	Logger     tiercache.Logger
	Metrics    *tiercache.Metrics
	Registry   *prometheus.Registry
	Cache      *tiercache.Cache
	DB         *bolt.DB
	Controller *concurrency.Controller
	// Redis is nil when the remote tier runs in-process.
	Redis goredis.UniversalClient

	closers []func(context.Context) error
}

// Build wires the stack described by cfg. On error, whatever was already
// opened is closed again.
func Build(ctx context.Context, cfg *Config) (_ *Stack, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Stack{Config: cfg, Metrics: tiercache.NewMetrics()}
	defer func() {
		if err != nil {
			_ = s.Close(context.WithoutCancel(ctx))
		}
	}()

	if err = s.buildLogger(cfg.Logging); err != nil {
		return nil, err
	}
	hooks := s.buildHooks(cfg)

	remote, gen, err := s.buildRemote(ctx, cfg)
	if err != nil {
		return nil, err
	}
	local, err := buildLocal(ctx, cfg.Cache, s.Metrics)
	if err != nil {
		_ = remote.Close(ctx)
		return nil, err
	}

	policy := cfg.Cache.Policy.Policy()
	feed := cfg.Cache.Feed.Layout()
	s.Cache, err = tiercache.New(tiercache.Options{
		Local:                   local,
		Remote:                  remote,
		Logger:                  s.Logger,
		Hooks:                   hooks,
		Metrics:                 s.Metrics,
		GenStore:                gen,
		Policy:                  &policy,
		Feed:                    &feed,
		LockTTL:                 cfg.Cache.LockTTL,
		ScanBatch:               cfg.Cache.ScanBatch,
		DistributedSingleFlight: cfg.Cache.DistributedSingleFlight,
		FlightWait:              cfg.Cache.FlightWait,
	})
	if err != nil {
		return nil, err
	}
	// the cache owns both tiers and the genstore from here on
	s.closers = append(s.closers, s.Cache.Close)

	roles, err := cfg.Store.Roles()
	if err != nil {
		return nil, err
	}
	s.DB, err = bolt.Open(cfg.Store.Path, bolt.Options{Pools: roles, Logger: s.Logger})
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func(context.Context) error { return s.DB.Close() })

	copts := cfg.Concurrency.options()
	copts.Locker = s.Cache
	copts.Logger = s.Logger
	copts.Metrics = s.Metrics
	s.Controller = concurrency.New(copts)

	s.Registry = prometheus.NewRegistry()
	if err = s.Registry.Register(prom.NewCollector(s.Metrics, cfg.Metrics.Namespace, cfg.Metrics.Labels)); err != nil {
		return nil, err
	}

	s.Logger.Info("tiercache stack ready", tiercache.Fields{
		"local":    cfg.Cache.Local.Kind,
		"remote":   remoteKind(cfg),
		"genstore": cfg.Cache.GenStore,
		"store":    cfg.Store.Path,
	})
	return s, nil
}

// Close releases components in reverse build order and joins their errors.
func (s *Stack) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i](ctx))
	}
	s.closers = nil
	return errors.Join(errs...)
}

func remoteKind(cfg *Config) string {
	if len(cfg.Redis.Addrs) == 0 {
		return "in-process"
	}
	return "redis"
}

func (s *Stack) buildLogger(lc LoggingConfig) error {
	switch lc.Backend {
	case "zap":
		zc := zap.NewProductionConfig()
		if lc.Format == "text" {
			zc = zap.NewDevelopmentConfig()
		}
		lvl, err := zapcore.ParseLevel(lc.Level)
		if err != nil {
			return fmt.Errorf("config: zap level: %w", err)
		}
		zc.Level = zap.NewAtomicLevelAt(lvl)
		zl, err := zc.Build()
		if err != nil {
			return fmt.Errorf("config: build zap logger: %w", err)
		}
		s.Logger = tczap.New(zl)
		s.closers = append(s.closers, func(context.Context) error {
			_ = zl.Sync() // stderr sync fails on some platforms; nothing to do about it
			return nil
		})
	case "logrus":
		ll := logrus.New()
		lvl, err := logrus.ParseLevel(lc.Level)
		if err != nil {
			return fmt.Errorf("config: logrus level: %w", err)
		}
		ll.SetLevel(lvl)
		if lc.Format == "json" {
			ll.SetFormatter(&logrus.JSONFormatter{})
		}
		s.Logger = tclogrus.New(ll)
	case "slog":
		s.Logger = tcslog.New(newSlog(lc))
	default:
		s.Logger = tiercache.NopLogger{}
	}
	return nil
}

func newSlog(lc LoggingConfig) *slog.Logger {
	var lvl slog.Level
	_ = lvl.UnmarshalText([]byte(strings.ToUpper(lc.Level)))
	ho := &slog.HandlerOptions{Level: lvl}
	if lc.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, ho))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, ho))
}

func (s *Stack) buildHooks(cfg *Config) tiercache.Hooks {
	hc := cfg.Cache.Hooks
	if !hc.Enabled {
		return nil
	}
	var h tiercache.Hooks = sloghook.New(newSlog(cfg.Logging), sloghook.Options{SelfHealEvery: hc.SelfHealEvery})
	if hc.Queue > 0 {
		ah := asynchook.New(h, hc.Workers, hc.Queue)
		s.closers = append(s.closers, func(context.Context) error { ah.Close(); return nil })
		h = ah
	}
	return h
}

// buildRemote returns the shared tier and the genstore. Without redis
// addresses both run in-process.
func (s *Stack) buildRemote(ctx context.Context, cfg *Config) (pr.Provider, genstore.GenStore, error) {
	rc := cfg.Redis
	if len(rc.Addrs) == 0 {
		s.Logger.Warn("no redis configured; remote tier runs in-process (single replica only)", nil)
		p, err := ristretto.New(ristretto.DefaultConfig(cfg.Cache.Local.MaxCostBytes))
		if err != nil {
			return nil, nil, fmt.Errorf("config: in-process remote tier: %w", err)
		}
		return p, nil, nil
	}

	client := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:        rc.Addrs,
		Username:     rc.Username,
		Password:     rc.Password,
		DB:           rc.DB,
		DialTimeout:  rc.DialTimeout,
		ReadTimeout:  rc.ReadTimeout,
		WriteTimeout: rc.WriteTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		// fail open: the breaker and the cache absorb an unreachable redis
		s.Logger.Warn("redis ping failed at startup", tiercache.Fields{"addrs": rc.Addrs, "err": err})
	}
	s.Redis = client

	rp, err := tcredis.New(tcredis.Config{Client: client, CloseClient: true})
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	var remote pr.Provider = rp
	if !rc.Breaker.Disabled {
		remote = breaker.Wrap(rp, breaker.Config{
			Name:             "redis",
			Timeout:          rc.Breaker.Timeout,
			MinRequests:      rc.Breaker.MinRequests,
			FailureThreshold: rc.Breaker.FailureThreshold,
			OnStateChange: func(name string, from, to gobreaker.State) {
				s.Logger.Warn("remote tier breaker state changed", tiercache.Fields{
					"breaker": name, "from": from.String(), "to": to.String(),
				})
			},
		})
	}

	var gen genstore.GenStore
	if cfg.Cache.GenStore == "redis" {
		gen = genstore.NewRedis(client, "tiercache", cfg.Cache.GenTTL)
	}
	return remote, gen, nil
}

func buildLocal(ctx context.Context, cc CacheConfig, m *tiercache.Metrics) (pr.Provider, error) {
	evicted := func(string) { m.Inc(tiercache.EventLocalEvicted) }
	switch cc.Local.Kind {
	case "bigcache":
		return bigcache.New(ctx, bigcache.Config{
			LifeWindow:         cc.Policy.Policy().MaxLocal(),
			Shards:             cc.Local.Shards,
			HardMaxCacheSizeMB: cc.Local.HardMaxMB,
			OnEvict:            evicted,
		})
	default:
		rcfg := ristretto.DefaultConfig(cc.Local.MaxCostBytes)
		rcfg.OnEvict = evicted
		return ristretto.New(rcfg)
	}
}
