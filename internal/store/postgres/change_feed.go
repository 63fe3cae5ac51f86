package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/streamhub/internal/domain"
)

// Notification channels raised by the triggers in migrations/001_init.sql.
const (
	NotifyWagerChanges      = "wager_changes"
	NotifyPredictionChanges = "prediction_changes"
)

// ChangeFeed holds a dedicated connection that LISTENs on the row-change
// channels and hands every notification to a callback.
type ChangeFeed struct {
	pool       *pgxpool.Pool
	channels   []string
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewChangeFeed creates a ChangeFeed listening on the given channels.
func NewChangeFeed(pool *pgxpool.Pool, channels []string, retryDelay time.Duration, logger *slog.Logger) *ChangeFeed {
	if retryDelay <= 0 {
		retryDelay = 5 * time.Second
	}
	return &ChangeFeed{
		pool:       pool,
		channels:   channels,
		retryDelay: retryDelay,
		logger:     logger.With(slog.String("component", "change_feed")),
	}
}

// Run listens until ctx is cancelled, re-acquiring the connection after the
// retry delay whenever it breaks.
func (f *ChangeFeed) Run(ctx context.Context, handle func(context.Context, domain.ChangeNotification)) error {
	for {
		err := f.listen(ctx, handle)
		if ctx.Err() != nil {
			return nil
		}
		f.logger.WarnContext(ctx, "change feed interrupted, retrying",
			slog.Duration("delay", f.retryDelay),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(f.retryDelay):
		}
	}
}

func (f *ChangeFeed) listen(ctx context.Context, handle func(context.Context, domain.ChangeNotification)) error {
	pooled, err := f.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("postgres: change feed acquire: %w", err)
	}
	// A connection that was LISTENing must not go back to the pool.
	conn := pooled.Hijack()
	defer conn.Close(context.Background())

	for _, ch := range f.channels {
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
			return fmt.Errorf("postgres: listen %s: %w", ch, err)
		}
	}
	f.logger.InfoContext(ctx, "change feed listening", slog.Any("channels", f.channels))

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("postgres: wait for notification: %w", err)
		}
		handle(ctx, domain.ChangeNotification{Channel: n.Channel, Payload: []byte(n.Payload)})
	}
}
