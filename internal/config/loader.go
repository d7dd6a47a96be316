package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies XTOOLS_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known XTOOLS_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Polymarket ──
	setStr(&cfg.Polymarket.WsHost, "XTOOLS_POLYMARKET_WS_HOST")
	setStr(&cfg.Polymarket.GammaHost, "XTOOLS_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.DataHost, "XTOOLS_POLYMARKET_DATA_HOST")

	// ── Analyzer ──
	setStringSlice(&cfg.Analyzer.RPCEndpoints, "XTOOLS_ANALYZER_RPC_ENDPOINTS")
	setDuration(&cfg.Analyzer.RPCTimeout, "XTOOLS_ANALYZER_RPC_TIMEOUT")
	setInt64(&cfg.Analyzer.FreshThreshold, "XTOOLS_ANALYZER_FRESH_THRESHOLD")
	setDuration(&cfg.Analyzer.CacheTTL, "XTOOLS_ANALYZER_CACHE_TTL")
	setInt(&cfg.Analyzer.CacheMaxSize, "XTOOLS_ANALYZER_CACHE_MAX_SIZE")
	setDuration(&cfg.Analyzer.SyncTimeout, "XTOOLS_ANALYZER_SYNC_TIMEOUT")
	setFloat64(&cfg.Analyzer.LargeTradeUSD, "XTOOLS_ANALYZER_LARGE_TRADE_USD")

	// ── Watcher ──
	setFloat64(&cfg.Watcher.MinTradeSize, "XTOOLS_WATCHER_MIN_TRADE_SIZE")
	setFloat64(&cfg.Watcher.AlertThreshold, "XTOOLS_WATCHER_ALERT_THRESHOLD")
	setStringSlice(&cfg.Watcher.EventTypes, "XTOOLS_WATCHER_EVENT_TYPES")
	setStringSlice(&cfg.Watcher.AssetIDs, "XTOOLS_WATCHER_ASSET_IDS")
	setBool(&cfg.Watcher.PersistEvents, "XTOOLS_WATCHER_PERSIST_EVENTS")
	setBool(&cfg.Watcher.PublishEvents, "XTOOLS_WATCHER_PUBLISH_EVENTS")

	// ── Actions ──
	setBool(&cfg.Actions.Enabled, "XTOOLS_ACTIONS_ENABLED")
	setBool(&cfg.Actions.AutoTweet, "XTOOLS_ACTIONS_AUTO_TWEET")
	setInt(&cfg.Actions.MaxRetries, "XTOOLS_ACTIONS_MAX_RETRIES")
	setInt(&cfg.Actions.BackoffSeconds, "XTOOLS_ACTIONS_BACKOFF_SECONDS")
	setDuration(&cfg.Actions.ProcessInterval, "XTOOLS_ACTIONS_PROCESS_INTERVAL")
	setDuration(&cfg.Actions.RetryInterval, "XTOOLS_ACTIONS_RETRY_INTERVAL")
	setDuration(&cfg.Actions.ActionTimeout, "XTOOLS_ACTIONS_ACTION_TIMEOUT")
	setInt(&cfg.Actions.QueueSize, "XTOOLS_ACTIONS_QUEUE_SIZE")
	setDuration(&cfg.Actions.DedupWindow, "XTOOLS_ACTIONS_DEDUP_WINDOW")

	// ── Generation ──
	setStr(&cfg.Generation.ServiceURL, "XTOOLS_GENERATION_SERVICE_URL")
	setStr(&cfg.Generation.APIKey, "XTOOLS_GENERATION_API_KEY")
	setStr(&cfg.Generation.Model, "XTOOLS_GENERATION_MODEL")
	setInt(&cfg.Generation.HistorySize, "XTOOLS_GENERATION_HISTORY_SIZE")
	setInt(&cfg.Generation.MaxLength, "XTOOLS_GENERATION_MAX_LENGTH")
	setDuration(&cfg.Generation.Timeout, "XTOOLS_GENERATION_TIMEOUT")

	// ── Twitter ──
	setStr(&cfg.Twitter.ConsumerKey, "XTOOLS_TWITTER_CONSUMER_KEY")
	setStr(&cfg.Twitter.ConsumerSecret, "XTOOLS_TWITTER_CONSUMER_SECRET")
	setStr(&cfg.Twitter.AccessToken, "XTOOLS_TWITTER_ACCESS_TOKEN")
	setStr(&cfg.Twitter.AccessSecret, "XTOOLS_TWITTER_ACCESS_SECRET")
	setStr(&cfg.Twitter.EncryptedPath, "XTOOLS_TWITTER_ENCRYPTED_PATH")
	setStr(&cfg.Twitter.EncryptedKeyPass, "XTOOLS_TWITTER_ENCRYPTED_KEY_PASS")
	setBool(&cfg.Twitter.DryRun, "XTOOLS_TWITTER_DRY_RUN")

	// ── Screenshot ──
	setBool(&cfg.Screenshot.Enabled, "XTOOLS_SCREENSHOT_ENABLED")
	setStr(&cfg.Screenshot.ServiceURL, "XTOOLS_SCREENSHOT_SERVICE_URL")
	setStr(&cfg.Screenshot.OutputDir, "XTOOLS_SCREENSHOT_OUTPUT_DIR")
	setDuration(&cfg.Screenshot.Timeout, "XTOOLS_SCREENSHOT_TIMEOUT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "XTOOLS_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "XTOOLS_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "XTOOLS_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "XTOOLS_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "XTOOLS_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "XTOOLS_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "XTOOLS_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "XTOOLS_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "XTOOLS_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "XTOOLS_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "XTOOLS_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "XTOOLS_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "XTOOLS_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "XTOOLS_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "XTOOLS_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "XTOOLS_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "XTOOLS_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "XTOOLS_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "XTOOLS_S3_REGION")
	setStr(&cfg.S3.Bucket, "XTOOLS_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "XTOOLS_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "XTOOLS_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "XTOOLS_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "XTOOLS_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "XTOOLS_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "XTOOLS_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "XTOOLS_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "XTOOLS_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "XTOOLS_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "XTOOLS_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "XTOOLS_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "XTOOLS_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "XTOOLS_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "XTOOLS_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "XTOOLS_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "XTOOLS_MODE")
	setStr(&cfg.LogLevel, "XTOOLS_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
