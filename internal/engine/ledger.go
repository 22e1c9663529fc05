package engine

import (
	"time"

	"taprush/internal/types"
)

// The credit ledger is the single point through which any amount becomes
// confirmed. Earnings enter as pending ("the game says you won X") and only
// an explicit confirmation makes them part of the balance. Secondary income
// (streak, mission, referral, ad) is tracked separately inside pending so
// the rank bonus applies to it and never to raw tap credit.

// addPending accrues earned-but-unconfirmed credit. bonusEligible marks the
// amount as secondary income for the rank multiplier on confirm.
func (e *Engine) addPending(u *types.UserData, amount int64, bonusEligible bool) {
	if amount <= 0 {
		return
	}
	u.PendingAmount += amount
	if bonusEligible {
		u.PendingBonusEligible += amount
	}
}

// AddPending exposes the pending route for external collaborators that hand
// the engine an already-decided award.
func (e *Engine) AddPending(userID int64, amount int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	u, err := e.user(userID)
	if err != nil {
		return err
	}
	e.addPending(u, amount, false)
	return nil
}

// ConfirmPending atomically moves the whole pending amount into the
// confirmed balance and today's earnings, applying the rank bonus to the
// bonus-eligible slice, and returns the total moved. ErrNothingPending keeps
// a stale confirmation UI from firing twice.
func (e *Engine) ConfirmPending(userID int64, now time.Time) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	u, err := e.user(userID)
	if err != nil {
		return 0, err
	}
	e.ensurePeriods(u, now)

	if u.PendingAmount <= 0 {
		return 0, ErrNothingPending
	}

	base := u.PendingAmount - u.PendingBonusEligible
	eligible := u.PendingBonusEligible
	confirmed := base + eligible + eligible*u.RankBonus/100

	u.PendingAmount = 0
	u.PendingBonusEligible = 0
	u.TotalAmount += confirmed
	u.TodayEarned += confirmed
	e.reRank(u)

	return confirmed, nil
}

// CreditAd credits a completed ad watch in one step: the reward (plus rank
// bonus) goes straight to the confirmed balance without disturbing whatever
// the user still holds pending from taps. amount <= 0 falls back to the
// configured default reward.
func (e *Engine) CreditAd(userID int64, amount int64, now time.Time) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	u, err := e.user(userID)
	if err != nil {
		return 0, err
	}
	e.ensurePeriods(u, now)

	if amount <= 0 {
		amount = e.tables.AdDefaultReward
	}
	credited := amount + amount*u.RankBonus/100

	u.TotalAmount += credited
	u.TodayEarned += credited
	u.AdCompletionCount++
	e.reRank(u)
	e.advanceMission(u, types.CategoryAd, 1)

	return credited, nil
}
