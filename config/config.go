// Package config loads the YAML deployment settings and assembles the cache,
// the domain store and the concurrency controller from them.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/concurrency"
	"github.com/unkn0wn-root/tiercache/store"
)

type Config struct {
	Logging     LoggingConfig     `yaml:"logging"`
	Cache       CacheConfig       `yaml:"cache"`
	Redis       RedisConfig       `yaml:"redis"`
	Store       StoreConfig       `yaml:"store"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

type LoggingConfig struct {
	Backend string `yaml:"backend" validate:"oneof=zap logrus slog none"`
	Level   string `yaml:"level" validate:"oneof=debug info warn error"`
	Format  string `yaml:"format" validate:"oneof=json text"`
}

type CacheConfig struct {
	Local  LocalConfig  `yaml:"local"`
	Policy PolicyConfig `yaml:"policy"`
	Feed   FeedConfig   `yaml:"feed"`

	LockTTL                 time.Duration `yaml:"lock_ttl" validate:"gte=0"`
	ScanBatch               int64         `yaml:"scan_batch" validate:"gte=0"`
	DistributedSingleFlight bool          `yaml:"distributed_single_flight"`
	FlightWait              time.Duration `yaml:"flight_wait" validate:"gte=0"`

	// GenStore is where removal generations live; "redis" needs redis.addrs.
	GenStore string        `yaml:"genstore" validate:"oneof=local redis"`
	GenTTL   time.Duration `yaml:"gen_ttl" validate:"gte=0"`

	Hooks HooksConfig `yaml:"hooks"`
}

type LocalConfig struct {
	Kind         string `yaml:"kind" validate:"oneof=ristretto bigcache"`
	MaxCostBytes int64  `yaml:"max_cost_bytes" validate:"gt=0"`
	Shards       int    `yaml:"shards" validate:"gte=0"`
	HardMaxMB    int    `yaml:"hard_max_mb" validate:"gte=0"`
}

type PolicyConfig struct {
	VolatileMarkers []string      `yaml:"volatile_markers"`
	VolatileRemote  time.Duration `yaml:"volatile_remote" validate:"gte=0"`
	VolatileLocal   time.Duration `yaml:"volatile_local" validate:"gte=0"`
	DefaultRemote   time.Duration `yaml:"default_remote" validate:"gte=0"`
	DefaultLocal    time.Duration `yaml:"default_local" validate:"gte=0"`
}

type FeedConfig struct {
	Prefix       string   `yaml:"prefix"`
	Pages        []int    `yaml:"pages" validate:"dive,gt=0"`
	Sizes        []int    `yaml:"sizes" validate:"dive,gt=0"`
	ItemPrefixes []string `yaml:"item_prefixes" validate:"dive,required"`
}

type HooksConfig struct {
	Enabled       bool   `yaml:"enabled"`
	SelfHealEvery uint64 `yaml:"self_heal_every"`
	// Queue > 0 delivers hooks asynchronously through a queue of that length.
	Queue   int `yaml:"queue" validate:"gte=0"`
	Workers int `yaml:"workers" validate:"gte=0"`
}

type RedisConfig struct {
	// Empty Addrs runs the remote tier in-process (degraded, single replica).
	Addrs        []string      `yaml:"addrs" validate:"dive,hostname_port"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db" validate:"gte=0,lte=15"`
	DialTimeout  time.Duration `yaml:"dial_timeout" validate:"gte=0"`
	ReadTimeout  time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gte=0"`
	Breaker      BreakerConfig `yaml:"breaker"`
}

type BreakerConfig struct {
	Disabled         bool          `yaml:"disabled"`
	Timeout          time.Duration `yaml:"timeout" validate:"gte=0"`
	MinRequests      uint32        `yaml:"min_requests"`
	FailureThreshold float64       `yaml:"failure_threshold" validate:"gte=0,lte=1"`
}

type StoreConfig struct {
	Path string `yaml:"path" validate:"required"`
	// Pools maps role name (default, bulk_write) to its session limit.
	Pools map[string]int64 `yaml:"pools" validate:"dive,gte=0"`
}

type ConcurrencyConfig struct {
	MaxRetries      int           `yaml:"max_retries" validate:"gte=0"`
	RetryBase       time.Duration `yaml:"retry_base" validate:"gte=0"`
	LockTimeout     time.Duration `yaml:"lock_timeout" validate:"gte=0"`
	LockPoll        time.Duration `yaml:"lock_poll" validate:"gte=0"`
	BatchSize       int           `yaml:"batch_size" validate:"gte=0"`
	BulkBatchSize   int           `yaml:"bulk_batch_size" validate:"gte=0"`
	BulkBackoffBase time.Duration `yaml:"bulk_backoff_base" validate:"gte=0"`
	BulkBackoffMax  time.Duration `yaml:"bulk_backoff_max" validate:"gte=0"`
}

type MetricsConfig struct {
	Namespace string            `yaml:"namespace"`
	Labels    map[string]string `yaml:"labels"`
}

// Default returns a configuration that runs entirely in-process.
func Default() Config {
	feed := tiercache.DefaultFeedLayout()
	return Config{
		Logging: LoggingConfig{Backend: "zap", Level: "info", Format: "json"},
		Cache: CacheConfig{
			Local:    LocalConfig{Kind: "ristretto", MaxCostBytes: 64 << 20},
			Policy:   PolicyConfig{VolatileMarkers: tiercache.DefaultPolicy().VolatileMarkers},
			Feed:     FeedConfig{Prefix: feed.Prefix, Pages: feed.Pages, Sizes: feed.Sizes, ItemPrefixes: feed.ItemPrefixes},
			GenStore: "local",
			GenTTL:   24 * time.Hour,
		},
		Store:   StoreConfig{Path: "tiercache.db"},
		Metrics: MetricsConfig{Namespace: "tiercache"},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads path over Default and validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over Default. Unknown keys are rejected.
func Parse(b []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Cache.GenStore == "redis" && len(c.Redis.Addrs) == 0 {
		return errors.New("invalid config: cache.genstore=redis requires redis.addrs")
	}
	if _, err := c.Store.Roles(); err != nil {
		return fmt.Errorf("invalid config: store.pools: %w", err)
	}
	return nil
}

// Roles resolves the pool names to store roles.
func (s StoreConfig) Roles() (map[store.Role]int64, error) {
	out := make(map[store.Role]int64, len(s.Pools))
	for name, n := range s.Pools {
		r, err := store.ParseRole(name)
		if err != nil {
			return nil, err
		}
		out[r] = n
	}
	return out, nil
}

func (p PolicyConfig) Policy() tiercache.Policy {
	return tiercache.Policy{
		VolatileMarkers: p.VolatileMarkers,
		VolatileRemote:  p.VolatileRemote,
		VolatileLocal:   p.VolatileLocal,
		DefaultRemote:   p.DefaultRemote,
		DefaultLocal:    p.DefaultLocal,
	}
}

func (f FeedConfig) Layout() tiercache.FeedLayout {
	return tiercache.FeedLayout{Prefix: f.Prefix, Pages: f.Pages, Sizes: f.Sizes, ItemPrefixes: f.ItemPrefixes}
}

func (c ConcurrencyConfig) options() concurrency.Options {
	return concurrency.Options{
		MaxRetries:      c.MaxRetries,
		RetryBase:       c.RetryBase,
		LockTimeout:     c.LockTimeout,
		LockPoll:        c.LockPoll,
		BatchSize:       c.BatchSize,
		BulkBatchSize:   c.BulkBatchSize,
		BulkBackoffBase: c.BulkBackoffBase,
		BulkBackoffMax:  c.BulkBackoffMax,
	}
}
