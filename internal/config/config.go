// Package config loads the ledgersync configuration from a YAML file with
// LEDGERSYNC_* environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "LEDGERSYNC_"

// Store backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendNATS     = "nats"
)

type Config struct {
	Log     LogConfig     `yaml:"log"`
	Store   StoreConfig   `yaml:"store"`
	Relay   RelayConfig   `yaml:"relay"`
	Cache   CacheConfig   `yaml:"cache"`
	Sync    SyncConfig    `yaml:"sync"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

type StoreConfig struct {
	Backend     string `yaml:"backend"`
	SQLitePath  string `yaml:"sqlitePath"`
	PostgresDSN string `yaml:"postgresDsn"`
	NATSURL     string `yaml:"natsUrl"`
	NATSBucket  string `yaml:"natsBucket"`
}

// RelayConfig enables forwarding of ledger events published on NATS onto
// the local bus.
type RelayConfig struct {
	Enabled       bool   `yaml:"enabled"`
	NATSURL       string `yaml:"natsUrl"`
	SubjectPrefix string `yaml:"subjectPrefix"`
}

type CacheConfig struct {
	Capacity        int           `yaml:"capacity"`
	DefaultTTL      time.Duration `yaml:"defaultTtl"`
	CleanupInterval time.Duration `yaml:"cleanupInterval"`
	PreloadDelay    time.Duration `yaml:"preloadDelay"`
}

type SyncConfig struct {
	TaskTimeout       time.Duration `yaml:"taskTimeout"`
	ReconcileInterval time.Duration `yaml:"reconcileInterval"`
	BatchSize         int           `yaml:"batchSize"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Store: StoreConfig{
			Backend:    BackendMemory,
			SQLitePath: "ledgersync.db",
			NATSBucket: "ledgersync",
		},
		Relay: RelayConfig{SubjectPrefix: "ledgersync.events"},
		Cache: CacheConfig{
			Capacity:        1000,
			DefaultTTL:      5 * time.Minute,
			CleanupInterval: time.Minute,
			PreloadDelay:    100 * time.Millisecond,
		},
		Sync:    SyncConfig{BatchSize: 400},
		Metrics: MetricsConfig{Enabled: true, Addr: ":9090"},
	}
}

// Load reads path (if not empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	c.Store.Backend = getEnv("STORE_BACKEND", c.Store.Backend)
	c.Store.SQLitePath = getEnv("SQLITE_PATH", c.Store.SQLitePath)
	c.Store.PostgresDSN = getEnv("POSTGRES_DSN", c.Store.PostgresDSN)
	c.Store.NATSURL = getEnv("NATS_URL", c.Store.NATSURL)
	c.Store.NATSBucket = getEnv("NATS_BUCKET", c.Store.NATSBucket)

	c.Relay.Enabled = getEnvBool("RELAY_ENABLED", c.Relay.Enabled)
	c.Relay.NATSURL = getEnv("RELAY_NATS_URL", c.Relay.NATSURL)
	c.Relay.SubjectPrefix = getEnv("RELAY_SUBJECT_PREFIX", c.Relay.SubjectPrefix)

	c.Cache.Capacity = getEnvInt("CACHE_CAPACITY", c.Cache.Capacity)
	c.Cache.DefaultTTL = getEnvDuration("CACHE_TTL", c.Cache.DefaultTTL)
	c.Cache.CleanupInterval = getEnvDuration("CACHE_CLEANUP_INTERVAL", c.Cache.CleanupInterval)
	c.Cache.PreloadDelay = getEnvDuration("CACHE_PRELOAD_DELAY", c.Cache.PreloadDelay)

	c.Sync.TaskTimeout = getEnvDuration("SYNC_TASK_TIMEOUT", c.Sync.TaskTimeout)
	c.Sync.ReconcileInterval = getEnvDuration("SYNC_RECONCILE_INTERVAL", c.Sync.ReconcileInterval)
	c.Sync.BatchSize = getEnvInt("SYNC_BATCH_SIZE", c.Sync.BatchSize)

	c.Metrics.Enabled = getEnvBool("METRICS_ENABLED", c.Metrics.Enabled)
	c.Metrics.Addr = getEnv("METRICS_ADDR", c.Metrics.Addr)
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format: want text or json, got %q", c.Log.Format))
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlitePath is required for the sqlite backend"))
		}
	case BackendPostgres:
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgresDsn is required for the postgres backend"))
		}
	case BackendNATS:
		if c.Store.NATSBucket == "" {
			errs = append(errs, errors.New("store.natsBucket is required for the nats backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend))
	}

	if c.Relay.Enabled && c.Relay.SubjectPrefix == "" {
		errs = append(errs, errors.New("relay.subjectPrefix is required when the relay is enabled"))
	}

	if c.Cache.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("cache.capacity: must be positive, got %d", c.Cache.Capacity))
	}
	if c.Cache.DefaultTTL <= 0 {
		errs = append(errs, fmt.Errorf("cache.defaultTtl: must be positive, got %s", c.Cache.DefaultTTL))
	}
	if c.Cache.CleanupInterval <= 0 {
		errs = append(errs, fmt.Errorf("cache.cleanupInterval: must be positive, got %s", c.Cache.CleanupInterval))
	}
	if c.Cache.PreloadDelay < 0 {
		errs = append(errs, fmt.Errorf("cache.preloadDelay: must not be negative, got %s", c.Cache.PreloadDelay))
	}

	if c.Sync.TaskTimeout < 0 {
		errs = append(errs, fmt.Errorf("sync.taskTimeout: must not be negative, got %s", c.Sync.TaskTimeout))
	}
	if c.Sync.ReconcileInterval < 0 {
		errs = append(errs, fmt.Errorf("sync.reconcileInterval: must not be negative, got %s", c.Sync.ReconcileInterval))
	}
	if c.Sync.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("sync.batchSize: must be positive, got %d", c.Sync.BatchSize))
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, errors.New("metrics.addr is required when metrics are enabled"))
	}

	return errors.Join(errs...)
}

// NewLogger builds the logger described by c.
func (c LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// === env ===

func getEnv(key, fallback string) string {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvBool(key string, fallback bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	return v == "1" || strings.EqualFold(v, "true")
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
