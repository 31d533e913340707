package database

import (
	"time"

	"github.com/taskbuks/taskbuks/internal/taskbuks/types"
)

const baseBonusCoins = types.Coins(1 * types.CoinsPerRupee)

// NextStreak continues the streak only when the previous claim was exactly
// yesterday; any gap resets to day 1.
func NextStreak(prev int, lastClaim *time.Time, today time.Time) int {
	if lastClaim != nil && SameDay(*lastClaim, today.AddDate(0, 0, -1)) {
		return prev + 1
	}
	return 1
}

// BonusCoins is the daily reward before any multiplier: ₹1, doubled from
// day 7 of an unbroken streak.
func BonusCoins(streak int) types.Coins {
	if streak >= 7 {
		return 2 * baseBonusCoins
	}
	return baseBonusCoins
}

func SameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func ClaimedToday(lastClaim *time.Time, now time.Time) bool {
	return lastClaim != nil && SameDay(*lastClaim, now)
}
