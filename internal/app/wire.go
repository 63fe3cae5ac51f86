package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/streamhub/internal/blob/s3"
	"github.com/alanyoungcy/streamhub/internal/cache/redis"
	"github.com/alanyoungcy/streamhub/internal/config"
	"github.com/alanyoungcy/streamhub/internal/domain"
	"github.com/alanyoungcy/streamhub/internal/notify"
	"github.com/alanyoungcy/streamhub/internal/server/handler"
	"github.com/alanyoungcy/streamhub/internal/store/postgres"
)

// Dependencies bundles the concrete implementations the modes run on. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Postgres; nil in listener mode.
	Postgres    *postgres.Client
	Predictions domain.PredictionStore
	Wagers      domain.WagerStore
	Audit       *postgres.AuditStore

	// Redis
	Redis       *redis.Client
	Locks       domain.LockManager
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus
	Presence    domain.PresenceTracker
	StatusCache domain.StatusCache

	// Object storage; nil unless a bucket is configured.
	S3           *s3blob.Client
	ReportWriter domain.ReportWriter
	ReportReader domain.ReportReader
	Archiver     domain.Archiver

	Notifier *notify.Notifier
}

// needsPostgres returns true for modes that read or write predictions.
func needsPostgres(mode string) bool {
	switch mode {
	case config.ModeSettle, config.ModeServer, config.ModeFull:
		return true
	default:
		return false
	}
}

// Wire constructs every dependency the configured mode needs and returns a
// cleanup function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	if needsPostgres(strings.ToLower(cfg.Mode)) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Supabase.DSN,
			Host:     cfg.Supabase.Host,
			Port:     cfg.Supabase.Port,
			Database: cfg.Supabase.Database,
			User:     cfg.Supabase.User,
			Password: cfg.Supabase.Password,
			SSLMode:  cfg.Supabase.SSLMode,
			MaxConns: cfg.Supabase.PoolMaxConns,
			MinConns: cfg.Supabase.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Supabase.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Postgres = pgClient
		deps.Predictions = postgres.NewPredictionStore(pool)
		deps.Wagers = postgres.NewWagerStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
	}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		URL:        cfg.Redis.URL,
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Redis = redisClient
	deps.Locks = redis.NewLockManager(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Server.RateLimit, 0)
	deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamCap)
	deps.Presence = redis.NewPresenceTracker(redisClient, cfg.Presence.TTL.Duration)
	// A cached status outlives a few missed polls before it reads as unknown.
	deps.StatusCache = redis.NewStatusCache(redisClient, 3*cfg.Channel.PollInterval.Duration)

	// --- S3 ---
	if cfg.S3.Enabled() {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.S3 = s3Client
		writer := s3blob.NewWriter(s3Client)
		deps.ReportWriter = writer
		deps.ReportReader = s3blob.NewReader(s3Client)
		if deps.Audit != nil {
			deps.Archiver = s3blob.NewAuditArchiver(writer, deps.Audit, deps.Audit, cfg.Archive.Prune)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		tg, err := notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, "")
		if err != nil {
			logger.WarnContext(ctx, "telegram notifications disabled", slog.String("error", err.Error()))
		} else {
			senders = append(senders, tg)
		}
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		dc, err := notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL)
		if err != nil {
			logger.WarnContext(ctx, "discord notifications disabled", slog.String("error", err.Error()))
		} else {
			senders = append(senders, dc)
		}
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// healthChecks returns one check per wired backend.
func (d *Dependencies) healthChecks() map[string]handler.HealthCheck {
	checks := map[string]handler.HealthCheck{
		"redis": d.Redis.Ping,
	}
	if d.Postgres != nil {
		checks["postgres"] = d.Postgres.Health
	}
	if d.S3 != nil {
		checks["s3"] = d.S3.Health
	}
	return checks
}
