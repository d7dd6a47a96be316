// Package config defines the top-level configuration for the watcher
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by XTOOLS_* environment variables.
type Config struct {
	Polymarket PolymarketConfig `toml:"polymarket"`
	Analyzer   AnalyzerConfig   `toml:"analyzer"`
	Watcher    WatcherConfig    `toml:"watcher"`
	Actions    ActionsConfig    `toml:"actions"`
	Generation GenerationConfig `toml:"generation"`
	Twitter    TwitterConfig    `toml:"twitter"`
	Screenshot ScreenshotConfig `toml:"screenshot"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Archive    ArchiveConfig    `toml:"archive"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PolymarketConfig holds Polymarket API endpoints.
type PolymarketConfig struct {
	WsHost    string `toml:"ws_host"`
	GammaHost string `toml:"gamma_host"`
	DataHost  string `toml:"data_host"`
}

// AnalyzerConfig holds wallet freshness analysis parameters.
type AnalyzerConfig struct {
	RPCEndpoints   []string `toml:"rpc_endpoints"`
	RPCTimeout     duration `toml:"rpc_timeout"`
	FreshThreshold int64    `toml:"fresh_threshold"`
	CacheTTL       duration `toml:"cache_ttl"`
	CacheMaxSize   int      `toml:"cache_max_size"`
	SyncTimeout    duration `toml:"sync_timeout"`
	LargeTradeUSD  float64  `toml:"large_trade_usd"`
}

// WatcherConfig holds trade stream filtering and connection parameters.
type WatcherConfig struct {
	MinTradeSize   float64  `toml:"min_trade_size"`
	AlertThreshold float64  `toml:"alert_threshold"`
	EventTypes     []string `toml:"event_types"`
	AssetIDs       []string `toml:"asset_ids"`
	PersistEvents  bool     `toml:"persist_events"`
	PublishEvents  bool     `toml:"publish_events"`
}

// ActionsConfig holds durable action queue parameters.
type ActionsConfig struct {
	Enabled         bool     `toml:"enabled"`
	AutoTweet       bool     `toml:"auto_tweet"`
	MaxRetries      int      `toml:"max_retries"`
	BackoffSeconds  int      `toml:"backoff_seconds"`
	ProcessInterval duration `toml:"process_interval"`
	RetryInterval   duration `toml:"retry_interval"`
	ActionTimeout   duration `toml:"action_timeout"`
	QueueSize       int      `toml:"queue_size"`
	DedupWindow     duration `toml:"dedup_window"`
}

// GenerationConfig holds text generation parameters. When service_url is
// empty the built-in template generator is used instead of an external
// model service.
type GenerationConfig struct {
	ServiceURL  string   `toml:"service_url"`
	APIKey      string   `toml:"api_key"`
	Model       string   `toml:"model"`
	StylePrompt string   `toml:"style_prompt"`
	HistorySize int      `toml:"history_size"`
	MaxLength   int      `toml:"max_length"`
	Timeout     duration `toml:"timeout"`
}

// TwitterConfig holds the OAuth 1.0a credentials used for posting.
// Credentials may alternatively be stored encrypted on disk.
type TwitterConfig struct {
	ConsumerKey      string `toml:"consumer_key"`
	ConsumerSecret   string `toml:"consumer_secret"`
	AccessToken      string `toml:"access_token"`
	AccessSecret     string `toml:"access_secret"`
	EncryptedPath    string `toml:"encrypted_path"`
	EncryptedKeyPass string `toml:"encrypted_key_pass"`
	DryRun           bool   `toml:"dry_run"`
}

// ScreenshotConfig holds market page capture parameters.
type ScreenshotConfig struct {
	Enabled    bool     `toml:"enabled"`
	ServiceURL string   `toml:"service_url"`
	OutputDir  string   `toml:"output_dir"`
	Timeout    duration `toml:"timeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds event retention / cold storage parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters. An empty APIKey leaves the
// API open.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			WsHost:    "wss://ws-live-data.polymarket.com",
			GammaHost: "https://gamma-api.polymarket.com",
			DataHost:  "https://data-api.polymarket.com",
		},
		Analyzer: AnalyzerConfig{
			RPCEndpoints: []string{
				"https://polygon-rpc.com",
				"https://rpc-mainnet.matic.quiknode.pro",
				"https://polygon-bor-rpc.publicnode.com",
			},
			RPCTimeout:     duration{10 * time.Second},
			FreshThreshold: 5,
			CacheTTL:       duration{5 * time.Minute},
			CacheMaxSize:   10_000,
			SyncTimeout:    duration{3 * time.Second},
			LargeTradeUSD:  1_000,
		},
		Watcher: WatcherConfig{
			MinTradeSize:   100,
			AlertThreshold: 0.7,
			PersistEvents:  true,
			PublishEvents:  true,
		},
		Actions: ActionsConfig{
			Enabled:         true,
			AutoTweet:       false,
			MaxRetries:      3,
			BackoffSeconds:  60,
			ProcessInterval: duration{30 * time.Second},
			RetryInterval:   duration{60 * time.Second},
			ActionTimeout:   duration{5 * time.Minute},
			QueueSize:       256,
			DedupWindow:     duration{10 * time.Minute},
		},
		Generation: GenerationConfig{
			Model:       "gpt-4o-mini",
			HistorySize: 5,
			MaxLength:   280,
			Timeout:     duration{60 * time.Second},
		},
		Twitter: TwitterConfig{
			DryRun: true,
		},
		Screenshot: ScreenshotConfig{
			Enabled:   false,
			OutputDir: "screenshots",
			Timeout:   duration{30 * time.Second},
		},
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "xtools-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 30,
			Interval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"fresh_wallet", "action_completed", "action_failed", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"watch":   true,
	"actions": true,
	"server":  true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: watch, actions, server, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Polymarket endpoints
	if c.Polymarket.WsHost == "" {
		errs = append(errs, "polymarket: ws_host must not be empty")
	}
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}

	// Analyzer
	if len(c.Analyzer.RPCEndpoints) == 0 {
		errs = append(errs, "analyzer: at least one rpc endpoint is required")
	}
	if c.Analyzer.FreshThreshold < 0 {
		errs = append(errs, "analyzer: fresh_threshold must be >= 0")
	}
	if c.Analyzer.CacheTTL.Duration <= 0 {
		errs = append(errs, "analyzer: cache_ttl must be > 0")
	}
	if c.Analyzer.CacheMaxSize < 1 {
		errs = append(errs, "analyzer: cache_max_size must be >= 1")
	}
	if c.Analyzer.SyncTimeout.Duration <= 0 {
		errs = append(errs, "analyzer: sync_timeout must be > 0")
	}

	// Watcher
	if c.Watcher.MinTradeSize < 0 {
		errs = append(errs, "watcher: min_trade_size must be >= 0")
	}
	if c.Watcher.AlertThreshold < 0 || c.Watcher.AlertThreshold > 1 {
		errs = append(errs, fmt.Sprintf("watcher: alert_threshold must be in [0,1], got %g", c.Watcher.AlertThreshold))
	}

	// Actions
	if c.Actions.Enabled {
		if c.Actions.MaxRetries < 0 {
			errs = append(errs, "actions: max_retries must be >= 0")
		}
		if c.Actions.BackoffSeconds < 1 {
			errs = append(errs, "actions: backoff_seconds must be >= 1")
		}
		if c.Actions.QueueSize < 1 {
			errs = append(errs, "actions: queue_size must be >= 1")
		}
		if c.Actions.ProcessInterval.Duration <= 0 {
			errs = append(errs, "actions: process_interval must be > 0")
		}
	}

	// Generation
	if c.Generation.HistorySize < 0 {
		errs = append(errs, "generation: history_size must be >= 0")
	}
	if c.Generation.MaxLength < 1 {
		errs = append(errs, "generation: max_length must be >= 1")
	}
	if c.Generation.ServiceURL != "" && c.Generation.Timeout.Duration <= 0 {
		errs = append(errs, "generation: timeout must be > 0 when service_url is set")
	}

	// Twitter — all four credentials must be set together, or all empty,
	// unless an encrypted bundle path is configured.
	if c.Actions.Enabled && c.Actions.AutoTweet && !c.Twitter.DryRun {
		ck := c.Twitter.ConsumerKey != ""
		cs := c.Twitter.ConsumerSecret != ""
		at := c.Twitter.AccessToken != ""
		as := c.Twitter.AccessSecret != ""
		hasPlain := ck && cs && at && as
		hasEncrypted := c.Twitter.EncryptedPath != ""
		if !hasPlain && !hasEncrypted {
			errs = append(errs, "twitter: consumer_key, consumer_secret, access_token, and access_secret must all be set (or encrypted_path) when auto_tweet is enabled")
		}
		if hasEncrypted && c.Twitter.EncryptedKeyPass == "" {
			errs = append(errs, "twitter: encrypted_key_pass is required when encrypted_path is set")
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 — only required when archival is enabled.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
