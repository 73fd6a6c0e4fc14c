// Package config loads quakecache settings from YAML with environment
// overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables consulted by Load.
const (
	EnvConfigPath  = "QUAKECACHE_CONFIG"
	EnvDatabaseURL = "DATABASE_URL"
	EnvFeedBaseURL = "USGS_BASE_URL"
)

type DatabaseConfig struct {
	URL  string `yaml:"url"`  // file path, sqlite://, postgres:// or mongodb://
	Name string `yaml:"name"` // mongo database; default earthquake_db
}

type FeedConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"` // per HTTP request
	UserAgent  string        `yaml:"user_agent"`
	PageSize   int           `yaml:"page_size"`   // FDSN limit per request
	MaxRetries int           `yaml:"max_retries"` // attempts per page, including the first
	Backoff    time.Duration `yaml:"backoff"`     // initial backoff
	MaxBackoff time.Duration `yaml:"max_backoff"` // cap
}

type BackfillConfig struct {
	Workers      int    `yaml:"workers"`
	Completion   string `yaml:"completion"` // count | marker
	MaxRangeDays int    `yaml:"max_range_days"`
}

type WatchConfig struct {
	Interval     time.Duration `yaml:"interval"`
	LookbackDays int           `yaml:"lookback_days"` // completed days before today to keep cached
	MetricsAddr  string        `yaml:"metrics_addr"`  // empty disables the HTTP server
}

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Feed     FeedConfig     `yaml:"feed"`
	Backfill BackfillConfig `yaml:"backfill"`
	Watch    WatchConfig    `yaml:"watch"`
}

// Default returns a configuration that works out of the box against the
// public USGS catalog with a local SQLite file.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			URL:  "quakecache.db",
			Name: "earthquake_db",
		},
		Feed: FeedConfig{
			BaseURL:    "https://earthquake.usgs.gov/fdsnws/event/1/query",
			Timeout:    30 * time.Second,
			UserAgent:  "quakecache/1.0",
			PageSize:   20000,
			MaxRetries: 4,
			Backoff:    500 * time.Millisecond,
			MaxBackoff: 10 * time.Second,
		},
		Backfill: BackfillConfig{
			Workers:      1,
			Completion:   "count",
			MaxRangeDays: 3660,
		},
		Watch: WatchConfig{
			Interval:     15 * time.Minute,
			LookbackDays: 7,
		},
	}
}

// ResolvePath returns flagPath, or $QUAKECACHE_CONFIG when flagPath is empty.
func ResolvePath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	return os.Getenv(EnvConfigPath)
}

// Load reads path over the defaults (a missing path is fine when empty),
// applies environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode rejects unknown keys so typos do not silently fall back to
// defaults. An empty document leaves cfg untouched.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv(EnvDatabaseURL); ok && strings.TrimSpace(v) != "" {
		c.Database.URL = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv(EnvFeedBaseURL); ok && strings.TrimSpace(v) != "" {
		c.Feed.BaseURL = strings.TrimSpace(v)
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Feed.BaseURL == "" {
		errs = append(errs, errors.New("feed.base_url is required"))
	}
	if c.Feed.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("feed.timeout must be positive, got %s", c.Feed.Timeout))
	}
	if c.Feed.PageSize < 1 || c.Feed.PageSize > 20000 {
		errs = append(errs, fmt.Errorf("feed.page_size must be in [1, 20000], got %d", c.Feed.PageSize))
	}
	if c.Feed.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("feed.max_retries must be >= 1, got %d", c.Feed.MaxRetries))
	}
	if c.Feed.Backoff <= 0 || c.Feed.MaxBackoff < c.Feed.Backoff {
		errs = append(errs, fmt.Errorf("feed.backoff must be positive and <= feed.max_backoff (%s, %s)", c.Feed.Backoff, c.Feed.MaxBackoff))
	}
	if c.Backfill.Workers < 1 {
		errs = append(errs, fmt.Errorf("backfill.workers must be >= 1, got %d", c.Backfill.Workers))
	}
	switch c.Backfill.Completion {
	case "count", "marker":
	default:
		errs = append(errs, fmt.Errorf("backfill.completion must be count or marker, got %q", c.Backfill.Completion))
	}
	if c.Backfill.MaxRangeDays < 1 {
		errs = append(errs, fmt.Errorf("backfill.max_range_days must be >= 1, got %d", c.Backfill.MaxRangeDays))
	}
	if c.Watch.Interval <= 0 {
		errs = append(errs, fmt.Errorf("watch.interval must be positive, got %s", c.Watch.Interval))
	}
	if c.Watch.LookbackDays < 1 {
		errs = append(errs, fmt.Errorf("watch.lookback_days must be >= 1, got %d", c.Watch.LookbackDays))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
