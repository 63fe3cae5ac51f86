package settlement_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/streamhub/internal/domain"
	"github.com/alanyoungcy/streamhub/internal/settlement"
)

func prediction(correct int, options ...string) domain.Prediction {
	if len(options) == 0 {
		options = []string{"A", "B"}
	}
	return domain.Prediction{ID: "p1", Options: options, CorrectOptionIndex: &correct}
}

func wager(id string, option int, points int64) domain.Wager {
	return domain.Wager{ID: id, PredictionID: "p1", OptionIndex: option, PointsWagered: points}
}

func TestCompute_ExactSplit(t *testing.T) {
	res, err := settlement.Compute(prediction(0), []domain.Wager{
		wager("w1", 0, 100),
		wager("w2", 0, 50),
		wager("w3", 1, 150),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(300), res.TotalWagered)
	assert.Equal(t, int64(150), res.WinningTotal)
	assert.Equal(t, int64(150), res.LosingPool)
	assert.Equal(t, 2, res.WinnerCount)
	assert.Equal(t, int64(200), res.Payouts[0].PointsWon)
	assert.Equal(t, int64(100), res.Payouts[1].PointsWon)
	assert.Equal(t, int64(0), res.Payouts[2].PointsWon)
	assert.Equal(t, int64(0), res.Remainder)
}

func TestCompute_RoundingRemainderIsNotReallocated(t *testing.T) {
	res, err := settlement.Compute(prediction(0), []domain.Wager{
		wager("w1", 0, 1),
		wager("w2", 0, 2),
		wager("w3", 1, 97),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(97), res.LosingPool)
	assert.Equal(t, int64(33), res.Payouts[0].PointsWon)
	assert.Equal(t, int64(66), res.Payouts[1].PointsWon)
	assert.Equal(t, int64(96), res.PointsDistributed)
	assert.Equal(t, int64(1), res.Remainder)
}

func TestCompute_NoWinners(t *testing.T) {
	res, err := settlement.Compute(prediction(2, "A", "B", "C"), []domain.Wager{
		wager("w1", 0, 10),
		wager("w2", 1, 20),
	})
	require.NoError(t, err)

	assert.Zero(t, res.WinnerCount)
	for _, p := range res.Payouts {
		assert.Zero(t, p.PointsWon)
		assert.False(t, p.Winner)
	}
	assert.Equal(t, int64(30), res.Remainder)
}

func TestCompute_WinnersWithZeroStakeGetNothing(t *testing.T) {
	res, err := settlement.Compute(prediction(0), []domain.Wager{
		wager("w1", 0, 0),
		wager("w2", 1, 40),
	})
	require.NoError(t, err)

	assert.Zero(t, res.WinningTotal)
	assert.Zero(t, res.Payouts[0].PointsWon)
	assert.Zero(t, res.Payouts[1].PointsWon)
}

func TestCompute_NotSettleable(t *testing.T) {
	open := domain.Prediction{ID: "p1", Options: []string{"A", "B"}}
	_, err := settlement.Compute(open, []domain.Wager{wager("w1", 0, 10)})
	assert.ErrorIs(t, err, domain.ErrNotSettleable)

	_, err = settlement.Compute(prediction(5), nil)
	assert.ErrorIs(t, err, domain.ErrNotSettleable)
}

func TestCompute_NegativeStakeRejected(t *testing.T) {
	_, err := settlement.Compute(prediction(0), []domain.Wager{wager("w1", 0, -1)})
	assert.Error(t, err)
}

func TestCompute_EmptyWagers(t *testing.T) {
	res, err := settlement.Compute(prediction(0), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Payouts)
	assert.Zero(t, res.TotalWagered)
}

func TestCompute_LargeStakesDoNotOverflow(t *testing.T) {
	const big = int64(1) << 61
	res, err := settlement.Compute(prediction(0), []domain.Wager{
		wager("w1", 0, big),
		wager("w2", 0, big/2),
		wager("w3", 1, big),
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, res.PointsDistributed, res.LosingPool)
	assert.Equal(t, big+(big*2)/3, res.Payouts[0].PointsWon)
}

func TestCompute_PoolOverflowIsRejected(t *testing.T) {
	_, err := settlement.Compute(prediction(0), []domain.Wager{
		wager("w1", 0, 1),
		wager("w2", 1, math.MaxInt64),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, settlement.ErrPoolOverflow)
	assert.ErrorIs(t, err, domain.ErrNotSettleable)
}

func TestCompute_PoolAtMaxInt64Fits(t *testing.T) {
	res, err := settlement.Compute(prediction(0), []domain.Wager{
		wager("w1", 0, 1),
		wager("w2", 1, math.MaxInt64-1),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), res.TotalWagered)
	assert.Equal(t, int64(math.MaxInt64), res.Payouts[0].PointsWon)
	assert.Zero(t, res.Payouts[1].PointsWon)
	assert.Zero(t, res.Remainder)
}

func TestCompute_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 500; run++ {
		options := 2 + rng.Intn(4)
		correct := rng.Intn(options)
		p := prediction(correct, make([]string, options)...)

		n := rng.Intn(30)
		wagers := make([]domain.Wager, n)
		for i := range wagers {
			wagers[i] = wager("w", rng.Intn(options), rng.Int63n(10_000))
		}

		res, err := settlement.Compute(p, wagers)
		require.NoError(t, err)
		require.Len(t, res.Payouts, n)

		var winnersWon, winnersStaked, allWon int64
		for i, po := range res.Payouts {
			allWon += po.PointsWon
			if !po.Winner {
				assert.Zero(t, po.PointsWon, "run %d: loser paid", run)
				continue
			}
			winnersWon += po.PointsWon
			winnersStaked += wagers[i].PointsWagered
		}

		if res.WinningTotal == 0 {
			assert.Zero(t, allWon, "run %d: no-winner pool paid out", run)
			continue
		}

		assert.LessOrEqual(t, winnersWon, res.TotalWagered, "run %d", run)
		bonus := winnersWon - winnersStaked
		assert.LessOrEqual(t, bonus, res.LosingPool, "run %d", run)
		assert.Equal(t, res.LosingPool-bonus, res.Remainder, "run %d", run)

		for i := range wagers {
			for j := range wagers {
				a, b := res.Payouts[i], res.Payouts[j]
				if a.Winner && b.Winner && wagers[i].PointsWagered > wagers[j].PointsWagered {
					assert.GreaterOrEqual(t, a.PointsWon, b.PointsWon, "run %d: proportionality", run)
				}
			}
		}
	}
}
