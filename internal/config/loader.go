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
// built-in defaults, applies STREAMHUB_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known STREAMHUB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "STREAMHUB_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "STREAMHUB_DATABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "STREAMHUB_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "STREAMHUB_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "STREAMHUB_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "STREAMHUB_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "STREAMHUB_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "STREAMHUB_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "STREAMHUB_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "STREAMHUB_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "STREAMHUB_SUPABASE_RUN_MIGRATIONS")
	setBool(&cfg.Supabase.ChangeFeed, "STREAMHUB_SUPABASE_CHANGE_FEED")

	// ── Redis ──
	setStr(&cfg.Redis.URL, "STREAMHUB_REDIS_URL")
	setStr(&cfg.Redis.Addr, "STREAMHUB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "STREAMHUB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "STREAMHUB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "STREAMHUB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "STREAMHUB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "STREAMHUB_REDIS_TLS_ENABLED")
	setInt64(&cfg.Redis.StreamCap, "STREAMHUB_REDIS_STREAM_CAP")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "STREAMHUB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "STREAMHUB_S3_REGION")
	setStr(&cfg.S3.Bucket, "STREAMHUB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "STREAMHUB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "STREAMHUB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "STREAMHUB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "STREAMHUB_S3_FORCE_PATH_STYLE")

	// ── Channel ──
	setStr(&cfg.Channel.Name, "STREAMHUB_CHANNEL_NAME")
	setStr(&cfg.Channel.StatusURL, "STREAMHUB_CHANNEL_STATUS_URL")
	setStr(&cfg.Channel.PushURL, "STREAMHUB_CHANNEL_PUSH_URL")
	setStr(&cfg.Channel.PushSubscribe, "STREAMHUB_CHANNEL_PUSH_SUBSCRIBE")
	setDuration(&cfg.Channel.PollInterval, "STREAMHUB_CHANNEL_POLL_INTERVAL")
	setDuration(&cfg.Channel.RetryDelay, "STREAMHUB_CHANNEL_RETRY_DELAY")
	setFloat64(&cfg.Channel.StatusRate, "STREAMHUB_CHANNEL_STATUS_RATE")
	setInt(&cfg.Channel.StatusBurst, "STREAMHUB_CHANNEL_STATUS_BURST")

	// ── Settlement ──
	setStr(&cfg.Settlement.SweepCron, "STREAMHUB_SETTLEMENT_SWEEP_CRON")
	setInt(&cfg.Settlement.SweepBatch, "STREAMHUB_SETTLEMENT_SWEEP_BATCH")
	setDuration(&cfg.Settlement.LockTTL, "STREAMHUB_SETTLEMENT_LOCK_TTL")
	setInt(&cfg.Settlement.WriteConcurrency, "STREAMHUB_SETTLEMENT_WRITE_CONCURRENCY")
	setBool(&cfg.Settlement.ArchiveReports, "STREAMHUB_SETTLEMENT_ARCHIVE_REPORTS")

	// ── Presence ──
	setDuration(&cfg.Presence.TTL, "STREAMHUB_PRESENCE_TTL")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "STREAMHUB_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "STREAMHUB_ARCHIVE_CRON")
	setInt(&cfg.Archive.RetentionDays, "STREAMHUB_ARCHIVE_RETENTION_DAYS")
	setBool(&cfg.Archive.Prune, "STREAMHUB_ARCHIVE_PRUNE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "STREAMHUB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "STREAMHUB_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "STREAMHUB_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "STREAMHUB_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "STREAMHUB_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "STREAMHUB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "STREAMHUB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "STREAMHUB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "STREAMHUB_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "STREAMHUB_MODE")
	setStr(&cfg.LogLevel, "STREAMHUB_LOG_LEVEL")
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
