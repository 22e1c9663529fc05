package engine

import (
	"errors"
	"testing"
	"time"

	"taprush/internal/rules"
	"taprush/internal/types"
)

// fixedSource replays a scripted sequence of draws, then repeats the last.
type fixedSource struct {
	vals []float64
	i    int
}

func (s *fixedSource) Float64() float64 {
	if len(s.vals) == 0 {
		return 0
	}
	v := s.vals[s.i]
	if s.i < len(s.vals)-1 {
		s.i++
	}
	return v
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

// minTaps always draws below MinTapWeight, so every tap is worth MinTapValue.
func newTestEngine(t *testing.T, src ValueSource) *Engine {
	t.Helper()
	if src == nil {
		src = &fixedSource{vals: []float64{0}}
	}
	e, err := New(rules.Default(), src)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestNewRejectsInvalidTables(t *testing.T) {
	tab := rules.Default()
	tab.MinTapWeight = 0.9 // weights now sum to 1.3
	if _, err := New(tab, nil); err == nil {
		t.Fatal("expected invalid tables to be rejected")
	}
}

func TestTapAttemptsAndSuccess(t *testing.T) {
	e := newTestEngine(t, &fixedSource{vals: []float64{0}})
	now := date(2026, time.March, 2)
	e.Register(7, "alice", now)

	// Five taps each worth 1 reach the success threshold with pending 5.
	var last TapOutcome
	for i := 0; i < 5; i++ {
		out, err := e.Tap(7, now)
		if err != nil {
			t.Fatalf("tap %d: %v", i+1, err)
		}
		if out.Value != 1 {
			t.Fatalf("tap %d value = %d, want 1", i+1, out.Value)
		}
		last = out
	}
	if !last.SuccessReached || last.PendingCredit != 5 {
		t.Fatalf("5th tap = %+v, want SuccessReached with pending 5", last)
	}
	u, _ := e.Snapshot(7)
	if u.PendingAmount != 5 {
		t.Fatalf("pendingAmount = %d, want 5", u.PendingAmount)
	}
	if u.TapStreak != 0 {
		t.Fatalf("tap streak = %d, want reset to 0", u.TapStreak)
	}
	if u.DailyAttemptsRemaining != e.tables.MaxDailyAttempts-5 {
		t.Fatalf("attempts = %d, want %d", u.DailyAttemptsRemaining, e.tables.MaxDailyAttempts-5)
	}

	got, err := e.ConfirmPending(7, now)
	if err != nil {
		t.Fatalf("ConfirmPending: %v", err)
	}
	if got != 5 {
		t.Fatalf("confirmed = %d, want 5", got)
	}
	u, _ = e.Snapshot(7)
	if u.TotalAmount != 5 || u.PendingAmount != 0 || u.TodayEarned != 5 {
		t.Fatalf("after confirm: total=%d pending=%d today=%d", u.TotalAmount, u.PendingAmount, u.TodayEarned)
	}
}

func TestTapWeightedDraw(t *testing.T) {
	// 0.7 >= MinTapWeight(0.6) so the draw lands on MaxTapValue.
	e := newTestEngine(t, &fixedSource{vals: []float64{0.7}})
	now := date(2026, time.March, 2)
	e.Register(1, "bob", now)

	out, err := e.Tap(1, now)
	if err != nil {
		t.Fatalf("Tap: %v", err)
	}
	if out.Value != e.tables.MaxTapValue {
		t.Fatalf("value = %d, want MaxTapValue %d", out.Value, e.tables.MaxTapValue)
	}
}

func TestTapExhaustionLeavesStateUntouched(t *testing.T) {
	e := newTestEngine(t, nil)
	now := date(2026, time.March, 2)
	e.Register(7, "alice", now)

	for i := 0; i < e.tables.MaxDailyAttempts; i++ {
		if _, err := e.Tap(7, now); err != nil {
			t.Fatalf("tap %d: %v", i+1, err)
		}
	}
	before, _ := e.Snapshot(7)
	if before.DailyAttemptsRemaining != 0 {
		t.Fatalf("attempts = %d, want 0", before.DailyAttemptsRemaining)
	}

	_, err := e.Tap(7, now)
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("err = %v, want ErrAttemptsExhausted", err)
	}
	after, _ := e.Snapshot(7)
	if after.PendingAmount != before.PendingAmount ||
		after.RainbowProgress != before.RainbowProgress ||
		after.TapStreak != before.TapStreak {
		t.Fatal("rejected tap must not change state")
	}
}

func TestRainbowFiresEveryTriggerCount(t *testing.T) {
	e := newTestEngine(t, nil)
	now := date(2026, time.March, 2)
	e.Register(7, "alice", now)

	var fired []int
	for i := 1; i <= 20; i++ {
		out, err := e.Tap(7, now)
		if err != nil {
			t.Fatalf("tap %d: %v", i, err)
		}
		if out.RainbowFired {
			fired = append(fired, i)
			if out.RainbowBonus != e.tables.RainbowBonus(int64(len(fired))) {
				t.Fatalf("rainbow bonus on fire %d = %d", len(fired), out.RainbowBonus)
			}
		}
	}
	if len(fired) != 2 || fired[0] != 10 || fired[1] != 20 {
		t.Fatalf("rainbow fired at %v, want [10 20]", fired)
	}
	u, _ := e.Snapshot(7)
	if u.RainbowProgress != 0 || u.RainbowFires != 2 {
		t.Fatalf("rainbow state = %d/%d, want 0/2", u.RainbowProgress, u.RainbowFires)
	}

	// Tap 10 is both the second success tap cycle and the first rainbow: the
	// pending pot holds 4 success credits of 5 plus two rainbow bonuses.
	want := int64(4*5) + e.tables.RainbowBonus(1) + e.tables.RainbowBonus(2)
	if u.PendingAmount != want {
		t.Fatalf("pending = %d, want %d", u.PendingAmount, want)
	}
}

func TestConfirmNothingPending(t *testing.T) {
	e := newTestEngine(t, nil)
	now := date(2026, time.March, 2)
	e.Register(7, "alice", now)

	if _, err := e.ConfirmPending(7, now); !errors.Is(err, ErrNothingPending) {
		t.Fatalf("err = %v, want ErrNothingPending", err)
	}
}

func TestRankBoundariesViaLedger(t *testing.T) {
	e := newTestEngine(t, nil)
	now := date(2026, time.March, 2)
	e.Register(7, "alice", now)

	if err := e.AddPending(7, 19_999); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ConfirmPending(7, now); err != nil {
		t.Fatal(err)
	}
	u, _ := e.Snapshot(7)
	if u.Rank != "BRONZE" {
		t.Fatalf("rank at 19999 = %s, want BRONZE", u.Rank)
	}

	if err := e.AddPending(7, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ConfirmPending(7, now); err != nil {
		t.Fatal(err)
	}
	u, _ = e.Snapshot(7)
	if u.Rank != "SILVER" {
		t.Fatalf("rank at 20000 = %s, want SILVER", u.Rank)
	}
}

func TestRankBonusAppliesOnlyToSecondaryIncome(t *testing.T) {
	e := newTestEngine(t, nil)
	now := date(2026, time.March, 2)
	e.Register(7, "alice", now)

	// Lift the user to SILVER (5% bonus) with plain confirmed credit.
	_ = e.AddPending(7, 20_000)
	if _, err := e.ConfirmPending(7, now); err != nil {
		t.Fatal(err)
	}

	// Signup bonus is secondary income: 500 pending becomes 525 confirmed.
	if _, err := e.RegisterFriend(7, "carol", now); err != nil {
		t.Fatal(err)
	}
	got, err := e.ConfirmPending(7, now)
	if err != nil {
		t.Fatal(err)
	}
	if got != 525 {
		t.Fatalf("confirmed secondary = %d, want 525", got)
	}

	// Raw tap credit gets no multiplier.
	for i := 0; i < 5; i++ {
		if _, err := e.Tap(7, now); err != nil {
			t.Fatal(err)
		}
	}
	u, _ := e.Snapshot(7)
	pending := u.PendingAmount
	got, err = e.ConfirmPending(7, now)
	if err != nil {
		t.Fatal(err)
	}
	if got != pending {
		t.Fatalf("tap credit confirmed = %d, want unmodified %d", got, pending)
	}
}

func TestCheckInIdempotentAndContinues(t *testing.T) {
	e := newTestEngine(t, nil)
	d1 := date(2026, time.March, 2)
	e.Register(7, "alice", d1)

	out, err := e.CheckIn(7, d1)
	if err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	if out.Status != StreakContinued || out.Streak != 1 || out.Reward != 10 {
		t.Fatalf("first check-in = %+v", out)
	}

	again, err := e.CheckIn(7, d1)
	if err != nil {
		t.Fatalf("CheckIn again: %v", err)
	}
	if again.Status != AlreadyCheckedIn || again.Reward != 0 {
		t.Fatalf("second check-in = %+v, want AlreadyCheckedIn with no reward", again)
	}
	u, _ := e.Snapshot(7)
	if u.CurrentStreak != 1 || u.PendingAmount != 10 {
		t.Fatalf("idempotent check-in changed state: streak=%d pending=%d", u.CurrentStreak, u.PendingAmount)
	}

	d2 := date(2026, time.March, 3)
	out, err = e.CheckIn(7, d2)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != StreakContinued || out.Streak != 2 || out.Reward != 20 {
		t.Fatalf("next-day check-in = %+v", out)
	}
	u, _ = e.Snapshot(7)
	if !u.CheckInDays[0] || !u.CheckInDays[1] {
		t.Fatalf("checkInDays = %v, want first two slots marked", u.CheckInDays)
	}
}

func TestCheckInResetAfterGap(t *testing.T) {
	e := newTestEngine(t, nil)
	d1 := date(2026, time.March, 2)
	e.Register(7, "alice", d1)

	for i, d := range []time.Time{d1, date(2026, time.March, 3), date(2026, time.March, 4)} {
		if _, err := e.CheckIn(7, d); err != nil {
			t.Fatalf("check-in %d: %v", i+1, err)
		}
	}

	out, err := e.CheckIn(7, date(2026, time.March, 7)) // two days skipped
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != StreakReset || out.Streak != 1 || out.Reward != 10 {
		t.Fatalf("gap check-in = %+v, want reset to streak 1 with reward 10", out)
	}
	u, _ := e.Snapshot(7)
	if !u.CheckInDays[0] {
		t.Fatal("reset must mark day 1")
	}
	for i := 1; i < 7; i++ {
		if u.CheckInDays[i] {
			t.Fatalf("reset left slot %d marked", i+1)
		}
	}
}

func TestStreakRewardPlateauAfterLadder(t *testing.T) {
	e := newTestEngine(t, nil)
	d := date(2026, time.March, 2)
	e.Register(7, "alice", d)

	last := e.tables.StreakRewards[len(e.tables.StreakRewards)-1]
	var out CheckInOutcome
	var err error
	for i := 0; i < 10; i++ {
		out, err = e.CheckIn(7, d.AddDate(0, 0, i))
		if err != nil {
			t.Fatalf("day %d: %v", i+1, err)
		}
	}
	if out.Streak != 10 || out.Reward != last {
		t.Fatalf("day 10 streak=%d reward=%d, want reward plateau %d", out.Streak, out.Reward, last)
	}
	// Day 8 wraps the rolling week back onto slot 1.
	u, _ := e.Snapshot(7)
	if !u.CheckInDays[0] || !u.CheckInDays[1] || !u.CheckInDays[2] {
		t.Fatalf("rolling week = %v", u.CheckInDays)
	}
}

func TestMissionClaimIsOneWay(t *testing.T) {
	e := newTestEngine(t, nil)
	now := date(2026, time.March, 2)
	e.Register(7, "alice", now)

	// The daily check-in mission (target 1) completes with one check-in.
	if _, err := e.CheckIn(7, now); err != nil {
		t.Fatal(err)
	}
	missions, err := e.Missions(7, now)
	if err != nil {
		t.Fatal(err)
	}
	var target types.Mission
	for _, m := range missions {
		if m.Category == types.CategoryCheckIn && m.Type == types.MissionDaily {
			target = m
		}
	}
	if target.ID == "" || !target.Completed {
		t.Fatalf("check-in mission not completed: %+v", target)
	}

	reward, err := e.ClaimMission(7, target.ID, now)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if reward != target.Reward {
		t.Fatalf("reward = %d, want %d", reward, target.Reward)
	}
	if _, err := e.ClaimMission(7, target.ID, now); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("second claim err = %v, want ErrAlreadyClaimed", err)
	}
}

func TestMissionClaimRequiresCompletion(t *testing.T) {
	e := newTestEngine(t, nil)
	now := date(2026, time.March, 2)
	e.Register(7, "alice", now)

	missions, _ := e.Missions(7, now)
	var open types.Mission
	for _, m := range missions {
		if !m.Completed {
			open = m
			break
		}
	}
	if _, err := e.ClaimMission(7, open.ID, now); !errors.Is(err, ErrNotCompleted) {
		t.Fatalf("err = %v, want ErrNotCompleted", err)
	}
	if _, err := e.ClaimMission(7, "nope", now); !errors.Is(err, ErrUnknownMission) {
		t.Fatalf("err = %v, want ErrUnknownMission", err)
	}
}

func TestMissionProgressCapsAtTarget(t *testing.T) {
	e := newTestEngine(t, nil)
	now := date(2026, time.March, 2)
	e.Register(7, "alice", now)

	if err := e.AdvanceMission(7, types.CategoryAd, 1_000, now); err != nil {
		t.Fatal(err)
	}
	missions, _ := e.Missions(7, now)
	for _, m := range missions {
		if m.Category != types.CategoryAd {
			continue
		}
		if m.Progress != m.Target || !m.Completed {
			t.Fatalf("ad mission %q progress=%d target=%d completed=%v", m.Title, m.Progress, m.Target, m.Completed)
		}
	}
}

func TestDailyMissionsRegenerateDiscardingProgress(t *testing.T) {
	e := newTestEngine(t, nil)
	d1 := date(2026, time.March, 2)
	e.Register(7, "alice", d1)

	if _, err := e.Tap(7, d1); err != nil {
		t.Fatal(err)
	}
	missions, _ := e.Missions(7, d1)
	var dailyTap types.Mission
	for _, m := range missions {
		if m.Type == types.MissionDaily && m.Category == types.CategoryTap {
			dailyTap = m
		}
	}
	if dailyTap.Progress != 1 {
		t.Fatalf("daily tap progress = %d, want 1", dailyTap.Progress)
	}

	d2 := date(2026, time.March, 3)
	missions, _ = e.Missions(7, d2)
	for _, m := range missions {
		if m.Type != types.MissionDaily {
			continue
		}
		if m.Progress != 0 || m.Claimed || m.Completed {
			t.Fatalf("regenerated daily mission carries state: %+v", m)
		}
		if m.Category == types.CategoryTap && m.ID == dailyTap.ID {
			t.Fatal("daily mission was not replaced at rollover")
		}
	}
}

func TestSpecialMissionSurvivesRollover(t *testing.T) {
	e := newTestEngine(t, nil)
	d1 := date(2026, time.March, 2)
	e.Register(7, "alice", d1)

	if _, err := e.RegisterFriend(7, "carol", d1); err != nil {
		t.Fatal(err)
	}
	next := d1.AddDate(0, 0, 14) // crosses day and week boundaries
	missions, _ := e.Missions(7, next)
	found := false
	for _, m := range missions {
		if m.Type == types.MissionSpecial {
			found = true
			if m.Progress != 1 {
				t.Fatalf("special mission progress = %d, want 1 preserved", m.Progress)
			}
		}
	}
	if !found {
		t.Fatal("special mission disappeared at rollover")
	}
}

func TestReferralSignupAndCommission(t *testing.T) {
	e := newTestEngine(t, nil)
	now := date(2026, time.March, 2)
	e.Register(7, "alice", now)

	f, err := e.RegisterFriend(7, "carol", now)
	if err != nil {
		t.Fatal(err)
	}
	u, _ := e.Snapshot(7)
	if len(u.Friends) != 1 || u.TotalReferralBonus != 500 || u.PendingAmount != 500 {
		t.Fatalf("after signup: friends=%d totalBonus=%d pending=%d", len(u.Friends), u.TotalReferralBonus, u.PendingAmount)
	}

	commission, err := e.RecordFriendEarning(7, f.ID, 1_000)
	if err != nil {
		t.Fatal(err)
	}
	if commission != 100 {
		t.Fatalf("commission = %d, want 100", commission)
	}
	u, _ = e.Snapshot(7)
	if u.Friends[0].MyBonus != 100 || u.TotalReferralBonus != 600 {
		t.Fatalf("after earning: myBonus=%d totalBonus=%d", u.Friends[0].MyBonus, u.TotalReferralBonus)
	}

	if _, err := e.RecordFriendEarning(7, "missing", 1_000); !errors.Is(err, ErrUnknownFriend) {
		t.Fatalf("err = %v, want ErrUnknownFriend", err)
	}
}

func TestAttributeReferralRoutesCommission(t *testing.T) {
	e := newTestEngine(t, nil)
	now := date(2026, time.March, 2)
	e.Register(7, "alice", now)
	e.Register(8, "bob", now)

	f, err := e.AttributeReferral(7, 8, "bob", now)
	if err != nil {
		t.Fatal(err)
	}
	referrerID, friendID, ok := e.ReferralEdge(8)
	if !ok || referrerID != 7 || friendID != f.ID {
		t.Fatalf("edge = (%d, %q, %v)", referrerID, friendID, ok)
	}

	// Second attribution and self-referral both refuse.
	if _, err := e.AttributeReferral(9, 8, "bob", now); !errors.Is(err, ErrAlreadyReferred) {
		t.Fatalf("err = %v, want ErrAlreadyReferred", err)
	}
	if _, err := e.AttributeReferral(9, 9, "eve", now); !errors.Is(err, ErrAlreadyReferred) {
		t.Fatalf("self-referral err = %v, want ErrAlreadyReferred", err)
	}

	// The edge survives a restart through the persisted friend record.
	alice, _ := e.Snapshot(7)
	e2 := newTestEngine(t, nil)
	e2.Restore(alice, now)
	referrerID, friendID, ok = e2.ReferralEdge(8)
	if !ok || referrerID != 7 || friendID != f.ID {
		t.Fatalf("restored edge = (%d, %q, %v)", referrerID, friendID, ok)
	}
}

func TestCreditAdConfirmsDirectlyWithBonus(t *testing.T) {
	e := newTestEngine(t, nil)
	now := date(2026, time.March, 2)
	e.Register(7, "alice", now)

	// Park some tap pending first; an ad credit must not sweep it.
	_ = e.AddPending(7, 3)

	got, err := e.CreditAd(7, 100, now)
	if err != nil {
		t.Fatal(err)
	}
	if got != 100 {
		t.Fatalf("ad credit at BRONZE = %d, want 100", got)
	}
	u, _ := e.Snapshot(7)
	if u.PendingAmount != 3 {
		t.Fatalf("ad credit disturbed pending: %d", u.PendingAmount)
	}
	if u.TotalAmount != 100 || u.AdCompletionCount != 1 {
		t.Fatalf("total=%d adCount=%d", u.TotalAmount, u.AdCompletionCount)
	}

	// At SILVER the same ad pays 5% more.
	_ = e.AddPending(7, 20_000)
	if _, err := e.ConfirmPending(7, now); err != nil {
		t.Fatal(err)
	}
	got, err = e.CreditAd(7, 100, now)
	if err != nil {
		t.Fatal(err)
	}
	if got != 105 {
		t.Fatalf("ad credit at SILVER = %d, want 105", got)
	}
}

func TestDayRolloverRefillsAttempts(t *testing.T) {
	e := newTestEngine(t, nil)
	d1 := date(2026, time.March, 2)
	e.Register(7, "alice", d1)

	for i := 0; i < e.tables.MaxDailyAttempts; i++ {
		if _, err := e.Tap(7, d1); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := e.Tap(7, d1); !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("err = %v, want ErrAttemptsExhausted", err)
	}

	d2 := date(2026, time.March, 3)
	out, err := e.Tap(7, d2)
	if err != nil {
		t.Fatalf("tap after rollover: %v", err)
	}
	if out.AttemptsRemaining != e.tables.MaxDailyAttempts-1 {
		t.Fatalf("attempts after rollover tap = %d, want %d", out.AttemptsRemaining, e.tables.MaxDailyAttempts-1)
	}
	u, _ := e.Snapshot(7)
	if u.TodayEarned != 0 {
		t.Fatalf("todayEarned = %d, want reset to 0", u.TodayEarned)
	}

	// Rainbow progress carries across days; only daily counters reset.
	if u.RainbowProgress != e.tables.MaxDailyAttempts%e.tables.RainbowTriggerCount+1 {
		t.Fatalf("rainbowProgress = %d", u.RainbowProgress)
	}
}

func TestRolloverSweeps(t *testing.T) {
	e := newTestEngine(t, nil)
	d1 := date(2026, time.March, 2)
	e.Register(1, "a", d1)
	e.Register(2, "b", d1)

	if n := e.RolloverDay(d1); n != 0 {
		t.Fatalf("same-day sweep touched %d sessions", n)
	}
	if n := e.RolloverDay(date(2026, time.March, 3)); n != 2 {
		t.Fatalf("next-day sweep touched %d sessions, want 2", n)
	}
	if n := e.RolloverWeek(date(2026, time.March, 9)); n != 2 {
		t.Fatalf("next-week sweep touched %d sessions, want 2", n)
	}
}

func TestRestorePrefersLiveSession(t *testing.T) {
	e := newTestEngine(t, nil)
	now := date(2026, time.March, 2)
	e.Register(7, "alice", now)
	_ = e.AddPending(7, 42)

	stale := types.UserData{UserID: 7, Username: "alice", TotalAmount: 9}
	got := e.Restore(stale, now)
	if got.PendingAmount != 42 || got.TotalAmount != 0 {
		t.Fatalf("restore overwrote live session: %+v", got)
	}

	fresh := e.Restore(types.UserData{UserID: 8, Username: "bob", TotalAmount: 30_000}, now)
	if fresh.Rank != "SILVER" {
		t.Fatalf("restored rank = %s, want re-derived SILVER", fresh.Rank)
	}
	if len(fresh.Missions) == 0 {
		t.Fatal("restored session without missions must get a fresh set")
	}
}

func TestUnknownUser(t *testing.T) {
	e := newTestEngine(t, nil)
	now := date(2026, time.March, 2)

	if _, err := e.Tap(99, now); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("err = %v, want ErrUnknownUser", err)
	}
	if _, err := e.CheckIn(99, now); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("err = %v, want ErrUnknownUser", err)
	}
}
