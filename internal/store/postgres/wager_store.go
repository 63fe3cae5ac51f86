package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/streamhub/internal/domain"
)

// WagerStore implements domain.WagerStore using PostgreSQL.
type WagerStore struct {
	pool        *pgxpool.Pool
	predictions *PredictionStore
}

// NewWagerStore creates a new WagerStore backed by the given connection pool.
func NewWagerStore(pool *pgxpool.Pool) *WagerStore {
	return &WagerStore{pool: pool, predictions: NewPredictionStore(pool)}
}

// Create inserts a wager. The insert only succeeds while the parent
// prediction is open and the option index is in range. The prediction row is
// share-locked until the insert commits, so a concurrent DeclareOutcome waits
// for the insert and settlement always sees it.
func (s *WagerStore) Create(ctx context.Context, w domain.Wager) error {
	const query = `
		INSERT INTO wagers (id, prediction_id, user_id, option_index, points_wagered, created_at)
		SELECT $1, p.id, $3, $4, $5, $6
		FROM predictions p
		WHERE p.id = $2
		  AND p.correct_option_index IS NULL
		  AND $4 >= 0 AND $4 < cardinality(p.options)
		FOR SHARE OF p`

	createdAt := w.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx, query,
		w.ID, w.PredictionID, w.UserID, w.OptionIndex, w.PointsWagered, createdAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create wager %s: %w", w.ID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	p, err := s.predictions.GetByID(ctx, w.PredictionID)
	if err != nil {
		return fmt.Errorf("postgres: create wager %s: %w", w.ID, err)
	}
	if p.CorrectOptionIndex != nil {
		return fmt.Errorf("postgres: create wager %s: %w", w.ID, domain.ErrClosed)
	}
	return fmt.Errorf("postgres: create wager %s: %w: %d", w.ID, domain.ErrInvalidOption, w.OptionIndex)
}

// ListByPrediction returns every wager of a prediction in insertion order.
func (s *WagerStore) ListByPrediction(ctx context.Context, predictionID string) ([]domain.Wager, error) {
	const query = `
		SELECT id, prediction_id, user_id, option_index, points_wagered, points_won, created_at
		FROM wagers
		WHERE prediction_id = $1
		ORDER BY created_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, predictionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list wagers for %s: %w", predictionID, err)
	}
	defer rows.Close()

	var out []domain.Wager
	for rows.Next() {
		var (
			w   domain.Wager
			opt int32
		)
		if err := rows.Scan(&w.ID, &w.PredictionID, &w.UserID, &opt, &w.PointsWagered, &w.PointsWon, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan wager: %w", err)
		}
		w.OptionIndex = int(opt)
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list wagers rows: %w", err)
	}
	return out, nil
}

// SetPointsWon writes the settled payout of one wager.
func (s *WagerStore) SetPointsWon(ctx context.Context, wagerID string, pointsWon int64) error {
	const query = `UPDATE wagers SET points_won = $2, updated_at = NOW() WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, wagerID, pointsWon)
	if err != nil {
		return fmt.Errorf("postgres: set points won %s: %w", wagerID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: set points won %s: %w", wagerID, domain.ErrNotFound)
	}
	return nil
}
