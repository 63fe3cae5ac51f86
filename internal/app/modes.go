package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/streamhub/internal/domain"
	"github.com/alanyoungcy/streamhub/internal/feed"
	"github.com/alanyoungcy/streamhub/internal/pipeline"
	"github.com/alanyoungcy/streamhub/internal/platform/streaming"
	"github.com/alanyoungcy/streamhub/internal/server"
	"github.com/alanyoungcy/streamhub/internal/server/handler"
	"github.com/alanyoungcy/streamhub/internal/server/ws"
	"github.com/alanyoungcy/streamhub/internal/service"
	"github.com/alanyoungcy/streamhub/internal/store/postgres"
)

// Bus channels the browser hub bridges.
const (
	ChannelWagers      = "ch:wagers"
	ChannelPredictions = "ch:predictions"
)

// hubChannels lists every bus channel forwarded to websocket clients.
var hubChannels = []string{
	feed.ChannelLive,
	feed.ChannelStatus,
	service.ChannelSettlement,
	ChannelWagers,
	ChannelPredictions,
	handler.ChannelPresence,
}

// jobTimeout bounds a single scheduled job run.
const jobTimeout = 10 * time.Minute

// ListenerMode runs the live listener until the context is cancelled.
func (a *App) ListenerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting listener mode", slog.String("channel", a.cfg.Channel.Name))

	g, ctx := errgroup.WithContext(ctx)
	a.startListener(ctx, g, deps)
	return g.Wait()
}

// SettleMode settles one prediction, or every pending one, prints a summary
// table and returns.
func (a *App) SettleMode(ctx context.Context, deps *Dependencies) error {
	settler := a.newSettlementService(deps)

	var summaries []domain.SettlementSummary
	if a.opts.PredictionID != "" {
		a.logger.InfoContext(ctx, "settling prediction", slog.String("prediction_id", a.opts.PredictionID))
		sum, err := settler.Settle(ctx, a.opts.PredictionID)
		if sum.PredictionID != "" {
			summaries = append(summaries, sum)
		}
		if err != nil && !errors.Is(err, domain.ErrPartialWrite) {
			return fmt.Errorf("app: settle: %w", err)
		}
	} else {
		a.logger.InfoContext(ctx, "settling pending predictions", slog.Int("batch", a.cfg.Settlement.SweepBatch))
		var err error
		summaries, err = settler.SettleBatch(ctx, a.cfg.Settlement.SweepBatch)
		if err != nil {
			return fmt.Errorf("app: settle pending: %w", err)
		}
	}

	if err := renderSummaries(a.opts.Out, summaries); err != nil {
		return fmt.Errorf("app: render summary: %w", err)
	}
	for _, s := range summaries {
		if !s.Success {
			return fmt.Errorf("app: settle %s: %w", s.PredictionID, domain.ErrPartialWrite)
		}
	}
	return nil
}

// ServerMode runs the HTTP API, the websocket hub, the change feed and the
// scheduled jobs.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode", slog.Int("port", a.cfg.Server.Port))

	g, ctx := errgroup.WithContext(ctx)
	settler := a.newSettlementService(deps)
	a.startHTTPServer(ctx, g, deps, settler, nil)
	a.startBackground(ctx, g, deps, settler)
	return g.Wait()
}

// FullMode runs the listener and everything ServerMode runs in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	listener := a.startListener(ctx, g, deps)
	settler := a.newSettlementService(deps)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, settler, listener)
	}
	a.startBackground(ctx, g, deps, settler)
	return g.Wait()
}

func (a *App) newSettlementService(deps *Dependencies) *service.SettlementService {
	return service.NewSettlementService(service.SettlementDeps{
		Predictions: deps.Predictions,
		Wagers:      deps.Wagers,
		Audit:       deps.Audit,
		Locks:       deps.Locks,
		Bus:         deps.SignalBus,
		Reports:     deps.ReportWriter,
		Notifier:    deps.Notifier,
	}, service.SettlementConfig{
		LockTTL:          a.cfg.Settlement.LockTTL.Duration,
		WriteConcurrency: a.cfg.Settlement.WriteConcurrency,
		ArchiveReports:   a.cfg.Settlement.ArchiveReports,
	}, a.logger)
}

func (a *App) startListener(ctx context.Context, g *errgroup.Group, deps *Dependencies) *feed.Listener {
	ch := a.cfg.Channel
	status := streaming.NewStatusClient(ch.StatusURL, ch.StatusRate, ch.StatusBurst)
	var subscribe []byte
	if ch.PushSubscribe != "" {
		subscribe = []byte(ch.PushSubscribe)
	}
	dialer := feed.SocketDialer(streaming.NewSocketDialer(ch.PushURL, subscribe))
	sink := feed.NewFanoutSink(deps.Notifier, deps.SignalBus, deps.StatusCache, a.logger)

	listener := feed.NewListener(feed.ListenerConfig{
		Channel:      ch.Name,
		PollInterval: ch.PollInterval.Duration,
		RetryDelay:   ch.RetryDelay.Duration,
	}, status, dialer, sink, a.logger)

	g.Go(func() error {
		return listener.Run(ctx)
	})
	return listener
}

// startBackground starts the database change feed and the cron jobs.
func (a *App) startBackground(ctx context.Context, g *errgroup.Group, deps *Dependencies, settler *service.SettlementService) {
	if a.cfg.Supabase.ChangeFeed && deps.Postgres != nil {
		changeFeed := postgres.NewChangeFeed(deps.Postgres.Pool(),
			[]string{postgres.NotifyWagerChanges, postgres.NotifyPredictionChanges},
			a.cfg.Channel.RetryDelay.Duration, a.logger)
		forwarder := feed.NewChangeForwarder(deps.SignalBus, map[string]string{
			postgres.NotifyWagerChanges:      ChannelWagers,
			postgres.NotifyPredictionChanges: ChannelPredictions,
		}, a.logger)
		g.Go(func() error {
			return changeFeed.Run(ctx, forwarder.Handle)
		})
	}

	sched := pipeline.NewScheduler(jobTimeout, a.logger)
	if err := sched.Add("settlement_sweep", a.cfg.Settlement.SweepCron, func(ctx context.Context) error {
		n, err := settler.SettlePending(ctx, a.cfg.Settlement.SweepBatch)
		if n > 0 {
			a.logger.InfoContext(ctx, "settlement sweep finished", slog.Int("settled", n))
		}
		return err
	}); err != nil {
		a.logger.WarnContext(ctx, "settlement sweep disabled", slog.String("error", err.Error()))
	}

	if a.cfg.Archive.Enabled {
		if deps.Archiver == nil {
			a.logger.WarnContext(ctx, "audit archive enabled but object storage is not configured")
		} else {
			retention := pipeline.NewAuditRetention(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
			if err := sched.Add("audit_archive", a.cfg.Archive.Cron, retention.Run); err != nil {
				a.logger.WarnContext(ctx, "audit archive disabled", slog.String("error", err.Error()))
			}
		}
	}

	if sched.Len() > 0 {
		g.Go(func() error {
			return sched.Run(ctx)
		})
	}
}

// startHTTPServer registers the API and websocket hub and runs the server
// until the context is cancelled. listener is nil when this process does not
// run the live listener.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	settler *service.SettlementService,
	listener *feed.Listener,
) {
	startedAt := time.Now().UTC()

	hub := ws.NewHub(deps.SignalBus, hubChannels, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		StartedAt:      startedAt,
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	var listenerState handler.ListenerStateSource
	if listener != nil {
		listenerState = listener
	}

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.healthChecks(), a.logger),
		Status: handler.NewStatusHandler(a.cfg.Mode, a.cfg.Channel.Name, startedAt, listenerState),
		Live: handler.NewLiveHandler(deps.StatusCache, deps.SignalBus,
			a.cfg.Channel.Name, feed.StreamLiveEvents, a.logger),
		Presence: handler.NewPresenceHandler(deps.Presence, deps.SignalBus, a.logger),
	}
	if deps.Predictions != nil {
		predictions := service.NewPredictionService(deps.Predictions, deps.Wagers, deps.Audit, a.logger)
		handlers.Predictions = handler.NewPredictionHandler(predictions, settler, deps.ReportReader, a.logger)
		handlers.Sweep = handler.NewSweepHandler(settler, a.cfg.Settlement.SweepBatch, a.logger)
		handlers.Audit = handler.NewAuditHandler(deps.Audit, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.logger.InfoContext(ctx, "HTTP server shutting down")
		return srv.Shutdown(shutCtx)
	})
}

// renderSummaries writes one table row per settlement attempt.
func renderSummaries(w io.Writer, summaries []domain.SettlementSummary) error {
	if len(summaries) == 0 {
		_, err := fmt.Fprintln(w, "no predictions to settle")
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header("Prediction", "Outcome", "Wagers", "Winners", "Pool", "Paid", "Remainder", "Failed", "Result")
	for _, s := range summaries {
		result := "ok"
		if !s.Success {
			result = "partial"
		}
		if err := table.Append(
			s.PredictionID,
			strconv.Itoa(s.CorrectOptionIndex),
			strconv.Itoa(s.TotalWagers),
			strconv.Itoa(s.WinnerCount),
			strconv.FormatInt(s.TotalWagered, 10),
			strconv.FormatInt(s.PointsDistributed, 10),
			strconv.FormatInt(s.Remainder, 10),
			strconv.Itoa(len(s.FailedWagerIDs)),
			result,
		); err != nil {
			return err
		}
	}
	return table.Render()
}
