package engine

import (
	"time"

	"taprush/internal/types"
)

type CheckInStatus string

const (
	AlreadyCheckedIn CheckInStatus = "already_checked_in"
	StreakContinued  CheckInStatus = "streak_continued"
	StreakReset      CheckInStatus = "streak_reset"
)

type CheckInOutcome struct {
	Status CheckInStatus `json:"status"`
	Streak int           `json:"streak"`
	Day    int           `json:"day"` // 1-based slot marked in the rolling week
	Reward int64         `json:"reward"`
}

// CheckIn applies the daily check-in for the supplied date. Calling it twice
// on the same date is a no-op the second time. A gap of more than one day
// resets the streak to 1 but still pays the first-tier reward: a fresh
// streak start, not a refusal.
func (e *Engine) CheckIn(userID int64, today time.Time) (CheckInOutcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	u, err := e.user(userID)
	if err != nil {
		return CheckInOutcome{}, err
	}
	e.ensurePeriods(u, today)

	day := dayString(today)
	if u.LastCheckInDate == day {
		return CheckInOutcome{
			Status: AlreadyCheckedIn,
			Streak: u.CurrentStreak,
			Reward: 0,
		}, nil
	}

	status := StreakContinued
	if u.LastCheckInDate == "" || isNextDay(u.LastCheckInDate, day) {
		u.CurrentStreak++
	} else {
		status = StreakReset
		u.CurrentStreak = 1
		u.CheckInDays = [7]bool{}
	}

	slot := (u.CurrentStreak - 1) % 7
	if slot == 0 {
		u.CheckInDays = [7]bool{}
	}
	u.CheckInDays[slot] = true
	u.LastCheckInDate = day

	reward := e.tables.StreakReward(u.CurrentStreak)
	e.addPending(u, reward, true)
	e.advanceMission(u, types.CategoryCheckIn, 1)

	return CheckInOutcome{
		Status: status,
		Streak: u.CurrentStreak,
		Day:    slot + 1,
		Reward: reward,
	}, nil
}

// isNextDay reports whether b is exactly one calendar day after a. Both are
// "2006-01-02" strings, the same representation the rollover logic keys on.
func isNextDay(a, b string) bool {
	ta, err := time.Parse("2006-01-02", a)
	if err != nil {
		return false
	}
	return dayString(ta.AddDate(0, 0, 1)) == b
}
