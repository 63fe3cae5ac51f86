package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/streamhub/internal/domain"
)

// PredictionService handles the lifecycle of predictions before settlement:
// creating them, accepting wagers and declaring the outcome.
type PredictionService struct {
	predictions domain.PredictionStore
	wagers      domain.WagerStore
	audit       domain.AuditStore
	logger      *slog.Logger
}

// NewPredictionService creates a PredictionService.
func NewPredictionService(
	predictions domain.PredictionStore,
	wagers domain.WagerStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *PredictionService {
	return &PredictionService{
		predictions: predictions,
		wagers:      wagers,
		audit:       audit,
		logger:      logger.With(slog.String("component", "prediction_service")),
	}
}

// Create stores a new open prediction. At least two non-blank options are
// required.
func (s *PredictionService) Create(ctx context.Context, title string, options []string) (domain.Prediction, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Prediction{}, fmt.Errorf("prediction_service: %w: title is required", domain.ErrInvalidInput)
	}
	if len(options) < 2 {
		return domain.Prediction{}, fmt.Errorf("prediction_service: %w: need at least two options", domain.ErrInvalidOption)
	}
	for i, o := range options {
		if strings.TrimSpace(o) == "" {
			return domain.Prediction{}, fmt.Errorf("prediction_service: %w: option %d is blank", domain.ErrInvalidOption, i)
		}
	}

	p := domain.Prediction{
		ID:        uuid.NewString(),
		Title:     title,
		Options:   options,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.predictions.Create(ctx, p); err != nil {
		return domain.Prediction{}, fmt.Errorf("prediction_service: create: %w", err)
	}

	s.logger.InfoContext(ctx, "prediction created",
		slog.String("prediction_id", p.ID),
		slog.Int("options", len(options)),
	)
	return p, nil
}

// Get returns a prediction by ID.
func (s *PredictionService) Get(ctx context.Context, id string) (domain.Prediction, error) {
	p, err := s.predictions.GetByID(ctx, id)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("prediction_service: get %s: %w", id, err)
	}
	return p, nil
}

// Wagers lists the wagers placed on a prediction.
func (s *PredictionService) Wagers(ctx context.Context, id string) ([]domain.Wager, error) {
	ws, err := s.wagers.ListByPrediction(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("prediction_service: wagers %s: %w", id, err)
	}
	return ws, nil
}

// PlaceWager records a stake on one option of an open prediction.
func (s *PredictionService) PlaceWager(ctx context.Context, predictionID, userID string, optionIndex int, points int64) (domain.Wager, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.Wager{}, fmt.Errorf("prediction_service: %w: user_id is required", domain.ErrInvalidInput)
	}
	if points <= 0 {
		return domain.Wager{}, fmt.Errorf("prediction_service: %w: points must be positive, got %d", domain.ErrInvalidInput, points)
	}
	if points > domain.MaxWagerPoints {
		return domain.Wager{}, fmt.Errorf("prediction_service: %w: points exceed %d", domain.ErrInvalidInput, domain.MaxWagerPoints)
	}

	p, err := s.predictions.GetByID(ctx, predictionID)
	if err != nil {
		return domain.Wager{}, fmt.Errorf("prediction_service: place wager: %w", err)
	}
	if p.CorrectOptionIndex != nil {
		return domain.Wager{}, fmt.Errorf("prediction_service: place wager on %s: %w", predictionID, domain.ErrClosed)
	}
	if optionIndex < 0 || optionIndex >= len(p.Options) {
		return domain.Wager{}, fmt.Errorf("prediction_service: place wager on %s: %w: %d", predictionID, domain.ErrInvalidOption, optionIndex)
	}

	w := domain.Wager{
		ID:            uuid.NewString(),
		PredictionID:  predictionID,
		UserID:        userID,
		OptionIndex:   optionIndex,
		PointsWagered: points,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.wagers.Create(ctx, w); err != nil {
		return domain.Wager{}, fmt.Errorf("prediction_service: place wager: %w", err)
	}
	return w, nil
}

// DeclareOutcome closes the prediction by recording the correct option.
// Settlement is a separate step.
func (s *PredictionService) DeclareOutcome(ctx context.Context, id string, correctOptionIndex int) error {
	if err := s.predictions.DeclareOutcome(ctx, id, correctOptionIndex); err != nil {
		return fmt.Errorf("prediction_service: declare outcome %s: %w", id, err)
	}

	if s.audit != nil {
		if err := s.audit.Log(ctx, "outcome_declared", map[string]any{
			"prediction_id":        id,
			"correct_option_index": correctOptionIndex,
		}); err != nil {
			s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}

	s.logger.InfoContext(ctx, "outcome declared",
		slog.String("prediction_id", id),
		slog.Int("correct_option_index", correctOptionIndex),
	)
	return nil
}
