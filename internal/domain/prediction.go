package domain

import "time"

// Prediction is a question viewers wager points on. CorrectOptionIndex stays
// nil while the prediction is open and is set once when the outcome is
// declared.
type Prediction struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Options            []string   `json:"options"`
	CorrectOptionIndex *int       `json:"correct_option_index,omitempty"`
	SettledAt          *time.Time `json:"settled_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Settleable reports whether an outcome has been declared and the index
// points at one of the options.
func (p Prediction) Settleable() bool {
	if p.CorrectOptionIndex == nil {
		return false
	}
	idx := *p.CorrectOptionIndex
	return idx >= 0 && idx < len(p.Options)
}

// MaxWagerPoints caps a single stake so that a pool of many wagers still
// fits in an int64.
const MaxWagerPoints int64 = 1 << 40

// Wager is a participant's stake on one option of a prediction.
type Wager struct {
	ID            string    `json:"id"`
	PredictionID  string    `json:"prediction_id"`
	UserID        string    `json:"user_id"`
	OptionIndex   int       `json:"option_index"`
	PointsWagered int64     `json:"points_wagered"`
	PointsWon     int64     `json:"points_won"`
	CreatedAt     time.Time `json:"created_at"`
}

// Payout is the settled amount for one wager.
type Payout struct {
	WagerID   string `json:"wager_id"`
	PointsWon int64  `json:"points_won"`
	Winner    bool   `json:"winner"`
}

// SettlementSummary reports the outcome of a settlement run. Success is false
// when any payout write failed; FailedWagerIDs lists those wagers so the
// operator can retry.
type SettlementSummary struct {
	PredictionID       string    `json:"prediction_id"`
	CorrectOptionIndex int       `json:"correct_option_index"`
	TotalWagers        int       `json:"total_wagers"`
	WinnerCount        int       `json:"winner_count"`
	TotalWagered       int64     `json:"total_wagered"`
	WinningTotal       int64     `json:"winning_total"`
	LosingPool         int64     `json:"losing_pool"`
	PointsDistributed  int64     `json:"points_distributed"`
	Remainder          int64     `json:"remainder"`
	Writes             int       `json:"writes"`
	FailedWagerIDs     []string  `json:"failed_wager_ids,omitempty"`
	Success            bool      `json:"success"`
	Message            string    `json:"message"`
	SettledAt          time.Time `json:"settled_at"`
}
