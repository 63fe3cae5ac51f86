package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PredictionStore persists prediction questions.
type PredictionStore interface {
	Create(ctx context.Context, p Prediction) error
	GetByID(ctx context.Context, id string) (Prediction, error)
	DeclareOutcome(ctx context.Context, id string, correctOptionIndex int) error
	MarkSettled(ctx context.Context, id string, at time.Time) error
	ListUnsettled(ctx context.Context, limit int) ([]Prediction, error)
}

// WagerStore persists wagers placed against predictions.
type WagerStore interface {
	Create(ctx context.Context, w Wager) error
	ListByPrediction(ctx context.Context, predictionID string) ([]Wager, error)
	SetPointsWon(ctx context.Context, wagerID string, pointsWon int64) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// ChangeNotification is a row-level change delivered by the record store.
type ChangeNotification struct {
	Channel string
	Payload []byte
}
