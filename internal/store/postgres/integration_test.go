package postgres

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/streamhub/internal/domain"
)

// livePool connects to the database named by STREAMHUB_TEST_DATABASE_URL,
// applies the migrations, and skips the test when the variable is unset.
func livePool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("STREAMHUB_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("STREAMHUB_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := New(ctx, ClientConfig{DSN: dsn, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	require.NoError(t, c.RunMigrations(ctx))
	return c.Pool()
}

// openPrediction inserts a fresh two-option prediction and removes it, with
// its wagers, when the test ends.
func openPrediction(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()
	id := "it-" + uuid.NewString()
	require.NoError(t, NewPredictionStore(pool).Create(context.Background(), domain.Prediction{
		ID:      id,
		Title:   "who wins",
		Options: []string{"red", "blue"},
	}))
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM predictions WHERE id = $1`, id)
	})
	return id
}

func TestPredictionStore_LiveFirstDeclareWins(t *testing.T) {
	pool := livePool(t)
	ctx := context.Background()
	store := NewPredictionStore(pool)
	id := openPrediction(t, pool)

	assert.ErrorIs(t, store.DeclareOutcome(ctx, id, 2), domain.ErrInvalidOption)
	assert.ErrorIs(t, store.DeclareOutcome(ctx, "it-missing-"+uuid.NewString(), 0), domain.ErrNotFound)

	require.NoError(t, store.DeclareOutcome(ctx, id, 1))
	assert.ErrorIs(t, store.DeclareOutcome(ctx, id, 0), domain.ErrClosed)

	p, err := store.GetByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, p.CorrectOptionIndex)
	assert.Equal(t, 1, *p.CorrectOptionIndex)
}

func TestPredictionStore_LiveConcurrentDeclare(t *testing.T) {
	pool := livePool(t)
	ctx := context.Background()
	store := NewPredictionStore(pool)
	id := openPrediction(t, pool)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []int
		closed  int
	)
	for _, idx := range []int{0, 1, 0, 1} {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			err := store.DeclareOutcome(ctx, id, idx)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, idx)
			case errors.Is(err, domain.ErrClosed):
				closed++
			default:
				t.Errorf("declare %d: %v", idx, err)
			}
		}(idx)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, 3, closed)
	p, err := store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, winners[0], *p.CorrectOptionIndex)
}

func TestWagerStore_LiveCreateOnlyWhileOpen(t *testing.T) {
	pool := livePool(t)
	ctx := context.Background()
	predictions, wagers := NewPredictionStore(pool), NewWagerStore(pool)
	id := openPrediction(t, pool)

	require.NoError(t, wagers.Create(ctx, domain.Wager{
		ID: uuid.NewString(), PredictionID: id, UserID: "u1", OptionIndex: 0, PointsWagered: 100,
	}))
	assert.ErrorIs(t, wagers.Create(ctx, domain.Wager{
		ID: uuid.NewString(), PredictionID: id, UserID: "u2", OptionIndex: 2, PointsWagered: 10,
	}), domain.ErrInvalidOption)
	assert.Error(t, wagers.Create(ctx, domain.Wager{
		ID: uuid.NewString(), PredictionID: id, UserID: "u3", OptionIndex: 1, PointsWagered: domain.MaxWagerPoints + 1,
	}))

	require.NoError(t, predictions.DeclareOutcome(ctx, id, 0))
	assert.ErrorIs(t, wagers.Create(ctx, domain.Wager{
		ID: uuid.NewString(), PredictionID: id, UserID: "u4", OptionIndex: 1, PointsWagered: 50,
	}), domain.ErrClosed)

	list, err := wagers.ListByPrediction(ctx, id)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "u1", list[0].UserID)
}

func TestWagerStore_LiveCreateWaitsForDeclare(t *testing.T) {
	pool := livePool(t)
	ctx := context.Background()
	wagers := NewWagerStore(pool)
	id := openPrediction(t, pool)

	// Declare inside a transaction that stays open while the wager is placed.
	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()
	_, err = tx.Exec(ctx, `UPDATE predictions SET correct_option_index = 0 WHERE id = $1`, id)
	require.NoError(t, err)

	result := make(chan error, 1)
	go func() {
		result <- wagers.Create(ctx, domain.Wager{
			ID: uuid.NewString(), PredictionID: id, UserID: "late", OptionIndex: 1, PointsWagered: 10,
		})
	}()

	select {
	case err := <-result:
		t.Fatalf("create returned before the declare committed: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, tx.Commit(ctx))
	select {
	case err := <-result:
		assert.ErrorIs(t, err, domain.ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("create still blocked after commit")
	}

	list, err := wagers.ListByPrediction(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, list)
}
