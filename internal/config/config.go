// Package config defines the top-level configuration for streamhub and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by STREAMHUB_* environment variables.
type Config struct {
	Supabase   SupabaseConfig   `toml:"supabase"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Channel    ChannelConfig    `toml:"channel"`
	Settlement SettlementConfig `toml:"settlement"`
	Presence   PresenceConfig   `toml:"presence"`
	Archive    ArchiveConfig    `toml:"archive"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
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
	// ChangeFeed enables LISTEN on the wager/prediction change channels.
	ChangeFeed bool `toml:"change_feed"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	URL        string `toml:"url"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	StreamCap  int64  `toml:"stream_cap"`
}

// S3Config holds S3-compatible object storage parameters. Storage is
// optional; with no bucket, reports and archives are skipped.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// Enabled reports whether object storage is configured.
func (c S3Config) Enabled() bool {
	return strings.TrimSpace(c.Bucket) != ""
}

// ChannelConfig describes the tracked streaming channel.
type ChannelConfig struct {
	Name string `toml:"name"`
	// StatusURL is the base URL of the channel status API; the channel
	// name is appended as a path segment.
	StatusURL string `toml:"status_url"`
	// PushURL is the websocket endpoint of the push service.
	PushURL string `toml:"push_url"`
	// PushSubscribe is sent verbatim after the socket connects.
	PushSubscribe string   `toml:"push_subscribe"`
	PollInterval  duration `toml:"poll_interval"`
	RetryDelay    duration `toml:"retry_delay"`
	// StatusRate caps status requests per second; 0 disables the limit.
	StatusRate  float64 `toml:"status_rate"`
	StatusBurst int     `toml:"status_burst"`
}

// SettlementConfig holds settlement service parameters.
type SettlementConfig struct {
	SweepCron        string   `toml:"sweep_cron"`
	SweepBatch       int      `toml:"sweep_batch"`
	LockTTL          duration `toml:"lock_ttl"`
	WriteConcurrency int      `toml:"write_concurrency"`
	ArchiveReports   bool     `toml:"archive_reports"`
}

// PresenceConfig holds presence tracking parameters.
type PresenceConfig struct {
	TTL duration `toml:"ttl"`
}

// ArchiveConfig holds audit archive parameters.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	Cron          string `toml:"cron"`
	RetentionDays int    `toml:"retention_days"`
	Prune         bool   `toml:"prune"`
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards the admin routes. Empty disables the check.
	APIKey string `toml:"api_key"`
	// RateLimit is requests per minute per client; 0 disables it.
	RateLimit int `toml:"rate_limit"`
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
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
			ChangeFeed:    true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			StreamCap:  10000,
		},
		S3: S3Config{
			Region:         "us-east-1",
			ForcePathStyle: true,
		},
		Channel: ChannelConfig{
			StatusURL:    "https://kick.com/api/v2",
			PollInterval: duration{60 * time.Second},
			RetryDelay:   duration{5 * time.Second},
			StatusRate:   1,
			StatusBurst:  1,
		},
		Settlement: SettlementConfig{
			SweepCron:        "@every 1m",
			SweepBatch:       100,
			LockTTL:          duration{2 * time.Minute},
			WriteConcurrency: 16,
			ArchiveReports:   true,
		},
		Presence: PresenceConfig{
			TTL: duration{30 * time.Second},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Cron:          "0 3 * * *",
			RetentionDays: 90,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
		},
		Notify: NotifyConfig{
			Events: []string{"new_subscriber", "gifted_subs", "channel_live", "settlement_failed"},
		},
		Mode:     ModeFull,
		LogLevel: "info",
	}
}

// Operating modes.
const (
	ModeListener = "listener"
	ModeSettle   = "settle"
	ModeServer   = "server"
	ModeFull     = "full"
)

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	ModeListener: true,
	ModeSettle:   true,
	ModeServer:   true,
	ModeFull:     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsListener reports whether the mode runs the live listener.
func (c *Config) NeedsListener() bool {
	m := strings.ToLower(c.Mode)
	return m == ModeListener || m == ModeFull
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: listener, settle, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Supabase
	if strings.TrimSpace(c.Supabase.DSN) == "" {
		if c.Supabase.Host == "" {
			errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
		}
		if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
			errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
		}
		if c.Supabase.Database == "" {
			errs = append(errs, "supabase: database must not be empty")
		}
	}
	if c.Supabase.PoolMaxConns < 1 {
		errs = append(errs, "supabase: pool_max_conns must be >= 1")
	}
	if c.Supabase.PoolMinConns < 0 {
		errs = append(errs, "supabase: pool_min_conns must be >= 0")
	}
	if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
		errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" && c.Redis.URL == "" {
		errs = append(errs, "redis: addr or url must be set")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 is optional, but a bucket needs a region.
	if c.S3.Enabled() && c.S3.Region == "" {
		errs = append(errs, "s3: region must not be empty when bucket is set")
	}

	// Channel
	if c.NeedsListener() {
		if strings.TrimSpace(c.Channel.Name) == "" {
			errs = append(errs, "channel: name must not be empty for mode "+c.Mode)
		}
		if c.Channel.StatusURL == "" {
			errs = append(errs, "channel: status_url must not be empty")
		}
		if c.Channel.PushURL == "" {
			errs = append(errs, "channel: push_url must not be empty")
		}
	}
	if c.Channel.PollInterval.Duration <= 0 {
		errs = append(errs, "channel: poll_interval must be > 0")
	}
	if c.Channel.RetryDelay.Duration <= 0 {
		errs = append(errs, "channel: retry_delay must be > 0")
	}
	if c.Channel.StatusRate < 0 {
		errs = append(errs, "channel: status_rate must be >= 0")
	}

	// Settlement
	if c.Settlement.SweepCron == "" {
		errs = append(errs, "settlement: sweep_cron must not be empty")
	}
	if c.Settlement.LockTTL.Duration <= 0 {
		errs = append(errs, "settlement: lock_ttl must be > 0")
	}
	if c.Settlement.WriteConcurrency < 1 {
		errs = append(errs, "settlement: write_concurrency must be >= 1")
	}

	// Presence
	if c.Presence.TTL.Duration <= 0 {
		errs = append(errs, "presence: ttl must be > 0")
	}

	// Archive
	if c.Archive.Enabled {
		if !c.S3.Enabled() {
			errs = append(errs, "archive: s3.bucket must be set when archive is enabled")
		}
		if c.Archive.Cron == "" {
			errs = append(errs, "archive: cron must not be empty")
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
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
