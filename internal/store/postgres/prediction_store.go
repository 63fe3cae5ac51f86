package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/streamhub/internal/domain"
)

// PredictionStore implements domain.PredictionStore using PostgreSQL.
type PredictionStore struct {
	pool *pgxpool.Pool
}

// NewPredictionStore creates a new PredictionStore backed by the given connection pool.
func NewPredictionStore(pool *pgxpool.Pool) *PredictionStore {
	return &PredictionStore{pool: pool}
}

const predictionColumns = `id, title, options, correct_option_index, settled_at, created_at`

func scanPrediction(row pgx.Row) (domain.Prediction, error) {
	var (
		p       domain.Prediction
		correct *int32
	)
	if err := row.Scan(&p.ID, &p.Title, &p.Options, &correct, &p.SettledAt, &p.CreatedAt); err != nil {
		return domain.Prediction{}, err
	}
	if correct != nil {
		idx := int(*correct)
		p.CorrectOptionIndex = &idx
	}
	return p, nil
}

// Create inserts a new open prediction.
func (s *PredictionStore) Create(ctx context.Context, p domain.Prediction) error {
	const query = `
		INSERT INTO predictions (id, title, options, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`

	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx, query, p.ID, p.Title, p.Options, createdAt)
	if err != nil {
		return fmt.Errorf("postgres: create prediction %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: create prediction %s: %w", p.ID, domain.ErrAlreadyExists)
	}
	return nil
}

// GetByID retrieves a prediction by ID.
func (s *PredictionStore) GetByID(ctx context.Context, id string) (domain.Prediction, error) {
	query := `SELECT ` + predictionColumns + ` FROM predictions WHERE id = $1`

	p, err := scanPrediction(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Prediction{}, domain.ErrNotFound
		}
		return domain.Prediction{}, fmt.Errorf("postgres: get prediction %s: %w", id, err)
	}
	return p, nil
}

// DeclareOutcome sets the correct option of an open prediction. It fails with
// domain.ErrClosed when an outcome was already declared and with
// domain.ErrInvalidOption when the index is out of range.
func (s *PredictionStore) DeclareOutcome(ctx context.Context, id string, correctOptionIndex int) error {
	const query = `
		UPDATE predictions
		SET correct_option_index = $2, updated_at = NOW()
		WHERE id = $1
		  AND correct_option_index IS NULL
		  AND $2 >= 0 AND $2 < cardinality(options)`

	tag, err := s.pool.Exec(ctx, query, id, correctOptionIndex)
	if err != nil {
		return fmt.Errorf("postgres: declare outcome %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	p, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if p.CorrectOptionIndex != nil {
		return fmt.Errorf("postgres: declare outcome %s: %w", id, domain.ErrClosed)
	}
	return fmt.Errorf("postgres: declare outcome %s: %w: %d", id, domain.ErrInvalidOption, correctOptionIndex)
}

// MarkSettled records when the prediction was fully settled.
func (s *PredictionStore) MarkSettled(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE predictions SET settled_at = $2, updated_at = NOW() WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("postgres: mark settled %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListUnsettled returns predictions with a declared outcome, at least one
// wager and no settled_at, oldest first.
func (s *PredictionStore) ListUnsettled(ctx context.Context, limit int) ([]domain.Prediction, error) {
	query := `
		SELECT ` + predictionColumns + `
		FROM predictions p
		WHERE p.correct_option_index IS NOT NULL
		  AND p.settled_at IS NULL
		  AND EXISTS (SELECT 1 FROM wagers w WHERE w.prediction_id = p.id)
		ORDER BY p.created_at ASC
		LIMIT $1`

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unsettled predictions: %w", err)
	}
	defer rows.Close()

	var out []domain.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan prediction: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list unsettled predictions rows: %w", err)
	}
	return out, nil
}
