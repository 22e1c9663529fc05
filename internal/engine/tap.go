package engine

import (
	"time"

	"taprush/internal/types"
)

// TapOutcome reports what a single accepted tap did. SuccessReached and
// RainbowFired are independent cycles fed by the same tap stream; both can
// be true on the same tap.
type TapOutcome struct {
	Value             int64 `json:"value"`
	TapStreak         int   `json:"tapStreak"`
	AttemptsRemaining int   `json:"attemptsRemaining"`

	SuccessReached bool  `json:"successReached"`
	PendingCredit  int64 `json:"pendingCredit"`

	RainbowFired bool  `json:"rainbowFired"`
	RainbowBonus int64 `json:"rainbowBonus"`
}

// Tap converts one tap intent into credit progress. It refuses with
// ErrAttemptsExhausted once the daily cap is spent; a refused tap changes
// nothing.
func (e *Engine) Tap(userID int64, now time.Time) (TapOutcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	u, err := e.user(userID)
	if err != nil {
		return TapOutcome{}, err
	}
	e.ensurePeriods(u, now)

	if u.DailyAttemptsRemaining <= 0 {
		return TapOutcome{}, ErrAttemptsExhausted
	}

	value := e.drawTapValue()
	u.DailyAttemptsRemaining--
	u.TapStreak++
	u.TapSum += value

	out := TapOutcome{
		Value:             value,
		TapStreak:         u.TapStreak,
		AttemptsRemaining: u.DailyAttemptsRemaining,
	}

	if u.TapStreak >= e.tables.TapsForSuccess {
		out.SuccessReached = true
		out.PendingCredit = u.TapSum
		e.addPending(u, u.TapSum, false)
		u.TapStreak = 0
		u.TapSum = 0
	}

	u.RainbowProgress++
	if u.RainbowProgress >= e.tables.RainbowTriggerCount {
		u.RainbowProgress = 0
		u.RainbowFires++
		bonus := e.tables.RainbowBonus(u.RainbowFires)
		e.addPending(u, bonus, false)
		out.RainbowFired = true
		out.RainbowBonus = bonus
	}

	e.advanceMission(u, types.CategoryTap, 1)
	return out, nil
}

// drawTapValue picks MinTapValue or MaxTapValue using the configured
// weights. A degenerate source value still lands on one of the two.
func (e *Engine) drawTapValue() int64 {
	if e.src.Float64() < e.tables.MinTapWeight {
		return e.tables.MinTapValue
	}
	return e.tables.MaxTapValue
}
