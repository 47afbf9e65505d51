// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Archive and event backends.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendPubSub = "pubsub"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Store     StoreConfig     `mapstructure:"store"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Relevance RelevanceConfig `mapstructure:"relevance"`
	Index     IndexConfig     `mapstructure:"index"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Events    EventsConfig    `mapstructure:"events"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// StoreConfig controls access to the relational index store.
type StoreConfig struct {
	Driver        string        `mapstructure:"driver"`
	DSN           string        `mapstructure:"dsn"`
	MaxConns      int           `mapstructure:"max_conns"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	ResetOnStart  bool          `mapstructure:"reset_on_start"`
}

// CrawlerConfig governs fetching and the crawl loop.
type CrawlerConfig struct {
	SeedURLs       []string      `mapstructure:"seed_urls"`
	UserAgent      string        `mapstructure:"user_agent"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxBodyBytes   int           `mapstructure:"max_body_bytes"`
	MaxPages       int           `mapstructure:"max_pages"`
}

// RelevanceConfig sets how often relevance scores are rebuilt.
type RelevanceConfig struct {
	BatchSize       int  `mapstructure:"batch_size"`
	RecomputeOnExit bool `mapstructure:"recompute_on_exit"`
	LogEvery        int  `mapstructure:"log_every"`
}

// IndexConfig bounds what the indexer stores and caches.
type IndexConfig struct {
	MaxContentChars int `mapstructure:"max_content_chars"`
	TermCacheSize   int `mapstructure:"term_cache_size"`
}

// ArchiveConfig selects where raw page HTML is kept.
type ArchiveConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// EventsConfig holds metadata for publish-subscribe notifications.
type EventsConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// AdminConfig controls the admin HTTP server. An empty Addr disables it.
type AdminConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig controls the OpenTelemetry trace provider.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SEARCHCRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", DriverPostgres)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.retry_interval", 30*time.Second)
	v.SetDefault("store.reset_on_start", true)
	v.SetDefault("crawler.seed_urls", []string{"https://en.wikipedia.org/"})
	v.SetDefault("crawler.user_agent", "searchcrawler/1.0")
	v.SetDefault("crawler.request_timeout", 15*time.Second)
	v.SetDefault("crawler.max_body_bytes", 10<<20)
	v.SetDefault("crawler.max_pages", 0)
	v.SetDefault("relevance.batch_size", 1000)
	v.SetDefault("relevance.recompute_on_exit", false)
	v.SetDefault("relevance.log_every", 1000)
	v.SetDefault("index.max_content_chars", 65535)
	v.SetDefault("index.term_cache_size", 100000)
	v.SetDefault("archive.backend", BackendNone)
	v.SetDefault("archive.local_dir", "")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("events.backend", BackendNone)
	v.SetDefault("events.project_id", "")
	v.SetDefault("events.topic", "searchcrawler-events")
	v.SetDefault("admin.addr", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("tracing.enabled", true)
	v.SetDefault("tracing.service_name", "searchcrawler")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("store.driver must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.Store.Driver)
	}
	if strings.TrimSpace(c.Store.DSN) == "" {
		return fmt.Errorf("store.dsn is required")
	}
	if c.Store.MaxConns <= 0 {
		return fmt.Errorf("store.max_conns must be > 0")
	}
	if c.Store.RetryInterval <= 0 {
		return fmt.Errorf("store.retry_interval must be > 0")
	}
	if len(c.Crawler.SeedURLs) == 0 {
		return fmt.Errorf("crawler.seed_urls must not be empty")
	}
	for _, seed := range c.Crawler.SeedURLs {
		u, err := url.Parse(seed)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("crawler.seed_urls: invalid url %q", seed)
		}
	}
	if c.Crawler.RequestTimeout <= 0 {
		return fmt.Errorf("crawler.request_timeout must be > 0")
	}
	if c.Crawler.MaxBodyBytes <= 0 {
		return fmt.Errorf("crawler.max_body_bytes must be > 0")
	}
	if c.Crawler.MaxPages < 0 {
		return fmt.Errorf("crawler.max_pages must be >= 0")
	}
	if c.Relevance.BatchSize <= 0 {
		return fmt.Errorf("relevance.batch_size must be > 0")
	}
	if c.Index.TermCacheSize <= 0 {
		return fmt.Errorf("index.term_cache_size must be > 0")
	}
	switch c.Archive.Backend {
	case "", BackendNone, BackendMemory:
	case BackendLocal:
		if c.Archive.LocalDir == "" {
			return fmt.Errorf("archive.local_dir must be set when archive.backend is %q", BackendLocal)
		}
	case BackendGCS:
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set when archive.backend is %q", BackendGCS)
		}
	default:
		return fmt.Errorf("archive.backend: unknown backend %q", c.Archive.Backend)
	}
	switch c.Events.Backend {
	case "", BackendNone, BackendMemory:
	case BackendPubSub:
		if c.Events.ProjectID == "" || c.Events.Topic == "" {
			return fmt.Errorf("events.project_id and events.topic must be set when events.backend is %q", BackendPubSub)
		}
	default:
		return fmt.Errorf("events.backend: unknown backend %q", c.Events.Backend)
	}
	return nil
}

// EventsEnabled reports whether crawl events are published anywhere.
func (c Config) EventsEnabled() bool {
	return c.Events.Backend != "" && c.Events.Backend != BackendNone
}

// ArchiveEnabled reports whether raw HTML is archived.
func (c Config) ArchiveEnabled() bool {
	return c.Archive.Backend != "" && c.Archive.Backend != BackendNone
}
