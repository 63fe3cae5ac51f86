package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/streamhub/internal/domain"
	"github.com/alanyoungcy/streamhub/internal/settlement"
)

const (
	// ChannelSettlement carries settlement summaries for the browser hub.
	ChannelSettlement = "ch:settlement"

	defaultLockTTL          = 2 * time.Minute
	defaultWriteConcurrency = 16
)

// EventNotifier is the subset of notify.Notifier used by services.
type EventNotifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// SettlementConfig tunes the settlement service.
type SettlementConfig struct {
	LockTTL          time.Duration
	WriteConcurrency int
	ArchiveReports   bool
}

// SettlementService settles predictions: it computes pari-mutuel payouts,
// writes them concurrently and reports the outcome. Only Predictions and
// Wagers are required; the remaining collaborators are optional.
type SettlementService struct {
	predictions domain.PredictionStore
	wagers      domain.WagerStore
	audit       domain.AuditStore
	locks       domain.LockManager
	bus         domain.SignalBus
	reports     domain.ReportWriter
	notifier    EventNotifier
	cfg         SettlementConfig
	logger      *slog.Logger
	now         func() time.Time
}

// SettlementDeps bundles the collaborators of a SettlementService.
type SettlementDeps struct {
	Predictions domain.PredictionStore
	Wagers      domain.WagerStore
	Audit       domain.AuditStore
	Locks       domain.LockManager
	Bus         domain.SignalBus
	Reports     domain.ReportWriter
	Notifier    EventNotifier
}

// NewSettlementService creates a SettlementService.
func NewSettlementService(deps SettlementDeps, cfg SettlementConfig, logger *slog.Logger) *SettlementService {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.WriteConcurrency <= 0 {
		cfg.WriteConcurrency = defaultWriteConcurrency
	}
	return &SettlementService{
		predictions: deps.Predictions,
		wagers:      deps.Wagers,
		audit:       deps.Audit,
		locks:       deps.Locks,
		bus:         deps.Bus,
		reports:     deps.Reports,
		notifier:    deps.Notifier,
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "settlement_service")),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Settle computes and persists payouts for the given prediction.
//
// It returns domain.ErrNotSettleable (with no writes) when the prediction is
// missing or has no declared outcome, and domain.ErrLockHeld when another
// settlement of the same prediction is in flight. When some payout writes
// fail the summary is still returned, with Success=false, alongside an error
// wrapping domain.ErrPartialWrite. Writes that succeeded are not rolled back.
func (s *SettlementService) Settle(ctx context.Context, predictionID string) (domain.SettlementSummary, error) {
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, "settle:"+predictionID, s.cfg.LockTTL)
		if err != nil {
			return domain.SettlementSummary{}, fmt.Errorf("service: settle %s: %w", predictionID, err)
		}
		defer unlock()
	}

	pred, err := s.predictions.GetByID(ctx, predictionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.SettlementSummary{}, fmt.Errorf("service: settle %s: %w: %w", predictionID, domain.ErrNotSettleable, err)
		}
		return domain.SettlementSummary{}, fmt.Errorf("service: settle %s: load prediction: %w", predictionID, err)
	}
	if !pred.Settleable() {
		return domain.SettlementSummary{}, fmt.Errorf("service: settle %s: %w", predictionID, domain.ErrNotSettleable)
	}

	wagers, err := s.wagers.ListByPrediction(ctx, predictionID)
	if err != nil {
		return domain.SettlementSummary{}, fmt.Errorf("service: settle %s: list wagers: %w", predictionID, err)
	}

	summary := domain.SettlementSummary{
		PredictionID:       predictionID,
		CorrectOptionIndex: *pred.CorrectOptionIndex,
		SettledAt:          s.now(),
	}
	if len(wagers) == 0 {
		summary.Success = true
		summary.Message = "nothing to process"
		s.logger.InfoContext(ctx, "no wagers to settle", slog.String("prediction_id", predictionID))
		return summary, nil
	}

	res, err := settlement.Compute(pred, wagers)
	if err != nil {
		return domain.SettlementSummary{}, fmt.Errorf("service: settle %s: %w", predictionID, err)
	}
	summary.TotalWagers = len(wagers)
	summary.WinnerCount = res.WinnerCount
	summary.TotalWagered = res.TotalWagered
	summary.WinningTotal = res.WinningTotal
	summary.LosingPool = res.LosingPool
	summary.PointsDistributed = res.PointsDistributed
	summary.Remainder = res.Remainder

	failed, writeErr := s.writePayouts(ctx, res.Payouts)
	summary.Writes = len(res.Payouts) - len(failed)
	summary.FailedWagerIDs = failed

	if writeErr != nil {
		summary.Success = false
		summary.Message = fmt.Sprintf("%d of %d payout writes failed", len(failed), len(res.Payouts))
		s.logger.ErrorContext(ctx, "settlement partially failed",
			slog.String("prediction_id", predictionID),
			slog.Int("failed", len(failed)),
			slog.String("error", writeErr.Error()),
		)
		s.report(ctx, summary)
		return summary, fmt.Errorf("service: settle %s: %w", predictionID, errors.Join(domain.ErrPartialWrite, writeErr))
	}

	if err := s.predictions.MarkSettled(ctx, predictionID, summary.SettledAt); err != nil {
		s.logger.WarnContext(ctx, "mark settled failed",
			slog.String("prediction_id", predictionID),
			slog.String("error", err.Error()),
		)
	}

	summary.Success = true
	summary.Message = fmt.Sprintf("settled %d wagers, %d winners", summary.TotalWagers, summary.WinnerCount)
	s.logger.InfoContext(ctx, "prediction settled",
		slog.String("prediction_id", predictionID),
		slog.Int("wagers", summary.TotalWagers),
		slog.Int("winners", summary.WinnerCount),
		slog.Int64("total_wagered", summary.TotalWagered),
		slog.Int64("remainder", summary.Remainder),
	)
	s.report(ctx, summary)
	return summary, nil
}

// writePayouts issues every payout write concurrently, bounded by the
// configured concurrency. A failed write never cancels the others.
func (s *SettlementService) writePayouts(ctx context.Context, payouts []domain.Payout) ([]string, error) {
	var (
		mu     sync.Mutex
		failed []string
		errs   []error
	)

	var g errgroup.Group
	g.SetLimit(s.cfg.WriteConcurrency)
	for _, po := range payouts {
		g.Go(func() error {
			if err := s.wagers.SetPointsWon(ctx, po.WagerID, po.PointsWon); err != nil {
				mu.Lock()
				failed = append(failed, po.WagerID)
				errs = append(errs, fmt.Errorf("wager %s: %w", po.WagerID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return failed, errors.Join(errs...)
}

// SettlePending settles every prediction that has a declared outcome, has
// wagers and has not been settled yet. It is the body of the sweep job.
func (s *SettlementService) SettlePending(ctx context.Context, limit int) (int, error) {
	summaries, err := s.SettleBatch(ctx, limit)
	settled := 0
	for _, sum := range summaries {
		if sum.Success {
			settled++
		}
	}
	return settled, err
}

// SettleBatch settles up to limit pending predictions and returns the summary
// of every attempt that reached the payout stage, partial failures included.
// Per-prediction errors are logged; only listing errors and cancellation are
// returned.
func (s *SettlementService) SettleBatch(ctx context.Context, limit int) ([]domain.SettlementSummary, error) {
	pending, err := s.predictions.ListUnsettled(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("service: list unsettled: %w", err)
	}

	summaries := make([]domain.SettlementSummary, 0, len(pending))
	for _, p := range pending {
		if ctx.Err() != nil {
			return summaries, ctx.Err()
		}
		sum, err := s.Settle(ctx, p.ID)
		if sum.PredictionID != "" {
			summaries = append(summaries, sum)
		}
		if err != nil {
			s.logger.WarnContext(ctx, "sweep settle failed",
				slog.String("prediction_id", p.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return summaries, nil
}

// report fans the summary out to the audit log, the signal bus, the notifier
// and the report archive. Failures are logged and otherwise ignored.
func (s *SettlementService) report(ctx context.Context, summary domain.SettlementSummary) {
	event := "settlement_completed"
	if !summary.Success {
		event = "settlement_failed"
	}

	if s.audit != nil {
		detail := map[string]any{
			"prediction_id":      summary.PredictionID,
			"total_wagers":       summary.TotalWagers,
			"winner_count":       summary.WinnerCount,
			"total_wagered":      summary.TotalWagered,
			"remainder":          summary.Remainder,
			"failed_wager_ids":   summary.FailedWagerIDs,
			"correct_option_idx": summary.CorrectOptionIndex,
		}
		if err := s.audit.Log(ctx, event, detail); err != nil {
			s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}

	payload, err := json.Marshal(summary)
	if err != nil {
		s.logger.ErrorContext(ctx, "marshal summary failed", slog.String("error", err.Error()))
		return
	}

	if s.bus != nil {
		if err := s.bus.Publish(ctx, ChannelSettlement, payload); err != nil {
			s.logger.WarnContext(ctx, "publish settlement failed", slog.String("error", err.Error()))
		}
	}

	if s.notifier != nil {
		title := "Prediction settled"
		if !summary.Success {
			title = "Prediction settlement failed"
		}
		msg := fmt.Sprintf("%s: %s (pool %d, remainder %d)",
			summary.PredictionID, summary.Message, summary.TotalWagered, summary.Remainder)
		if err := s.notifier.Notify(ctx, event, title, msg); err != nil {
			s.logger.WarnContext(ctx, "notify settlement failed", slog.String("error", err.Error()))
		}
	}

	if s.reports != nil && s.cfg.ArchiveReports {
		path, err := s.reports.PutReport(ctx, summary)
		if err != nil {
			s.logger.WarnContext(ctx, "archive settlement report failed",
				slog.String("prediction_id", summary.PredictionID),
				slog.String("error", err.Error()),
			)
			return
		}
		s.logger.DebugContext(ctx, "settlement report archived", slog.String("path", path))
	}
}
