// Package settlement computes pari-mutuel payouts for predictions. Winners
// get their stake back plus a share of the losing pool proportional to their
// stake; each share is floored, and whatever the flooring leaves over is not
// reallocated.
package settlement

import (
	"errors"
	"fmt"
	"math"
	"math/bits"

	"github.com/alanyoungcy/streamhub/internal/domain"
)

// ErrPoolOverflow is returned when the summed stakes do not fit in an int64.
var ErrPoolOverflow = errors.New("pool total overflows int64")

// Result holds the payouts for one prediction plus the pool totals they were
// derived from. Payouts are in the same order as the input wagers.
type Result struct {
	Payouts           []domain.Payout
	WinnerCount       int
	TotalWagered      int64
	WinningTotal      int64
	LosingPool        int64
	PointsDistributed int64 // sum of winners' bonuses (pointsWon - pointsWagered)
	Remainder         int64 // losing-pool points left unallocated by flooring
}

// Compute derives the payout of every wager given the declared correct
// option. It does no I/O. A prediction without a valid declared outcome, or
// whose pool overflows, yields domain.ErrNotSettleable; a negative stake is
// rejected.
func Compute(p domain.Prediction, wagers []domain.Wager) (Result, error) {
	if !p.Settleable() {
		return Result{}, fmt.Errorf("settlement: prediction %s: %w", p.ID, domain.ErrNotSettleable)
	}
	correct := *p.CorrectOptionIndex

	var res Result
	for _, w := range wagers {
		if w.PointsWagered < 0 {
			return Result{}, fmt.Errorf("settlement: wager %s has negative stake %d", w.ID, w.PointsWagered)
		}
		if w.PointsWagered > math.MaxInt64-res.TotalWagered {
			return Result{}, fmt.Errorf("settlement: prediction %s: %w: %w", p.ID, domain.ErrNotSettleable, ErrPoolOverflow)
		}
		res.TotalWagered += w.PointsWagered
		if w.OptionIndex == correct {
			res.WinnerCount++
			res.WinningTotal += w.PointsWagered
		}
	}
	res.LosingPool = res.TotalWagered - res.WinningTotal

	res.Payouts = make([]domain.Payout, len(wagers))
	for i, w := range wagers {
		po := domain.Payout{WagerID: w.ID, Winner: w.OptionIndex == correct}
		if po.Winner && res.WinningTotal > 0 {
			bonus := proportionalShare(res.LosingPool, w.PointsWagered, res.WinningTotal)
			po.PointsWon = w.PointsWagered + bonus
			res.PointsDistributed += bonus
		}
		res.Payouts[i] = po
	}
	if res.WinningTotal > 0 {
		res.Remainder = res.LosingPool - res.PointsDistributed
	} else {
		res.Remainder = res.LosingPool
	}
	return res, nil
}

// proportionalShare returns floor(pool * stake / total) using a 128-bit
// intermediate product. stake <= total, so the quotient never exceeds pool.
func proportionalShare(pool, stake, total int64) int64 {
	if pool == 0 || stake == 0 {
		return 0
	}
	hi, lo := bits.Mul64(uint64(pool), uint64(stake))
	q, _ := bits.Div64(hi, lo, uint64(total))
	return int64(q)
}
