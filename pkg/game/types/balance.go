package types

import "time"

// BalanceSource tags where a balance amount came from.
type BalanceSource string

const (
	BalanceSourceGameState BalanceSource = "game-state"
	BalanceSourceBankAPI   BalanceSource = "bank-api"
	BalanceSourceManual    BalanceSource = "manual"
)

// BalanceRecord represents the single balance entry kept per player.
// Last write with policy wins; there is no history.
type BalanceRecord struct {
	// Amount is the cash balance
	Amount int64
	// Source tags the origin of the amount
	Source BalanceSource
	// Timestamp is when the record was written
	Timestamp time.Time
}

// Fresh reports whether the record was written within the freshness window.
func (r *BalanceRecord) Fresh(now time.Time, window time.Duration) bool {
	return now.Sub(r.Timestamp) < window
}
