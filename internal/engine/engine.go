package engine

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"taprush/internal/rules"
	"taprush/internal/types"
)

// ValueSource supplies the randomness for the weighted tap-value draw. It is
// injected so outcomes are reproducible in tests; production uses a seeded
// math/rand source.
type ValueSource interface {
	Float64() float64
}

// NewRandSource returns the production ValueSource.
func NewRandSource(seed int64) ValueSource {
	return rand.New(rand.NewSource(seed))
}

// Engine owns one UserData per user and is the only place that mutates it.
// Every operation runs to completion under the mutex, so callers never see a
// half-applied step (the host serializes per-session calls anyway; the mutex
// also makes cross-user operations like leaderboard snapshots safe).
//
// The engine does no I/O and reads no ambient clock: dates come in as
// arguments, persistence and transport live outside.
type Engine struct {
	tables rules.Tables
	src    ValueSource

	mu    sync.Mutex
	users map[int64]*types.UserData

	// referrers routes a friend's confirmed earnings back to the player who
	// invited them. Rebuilt from attributed Friend records on Restore.
	referrers map[int64]refEdge
}

type refEdge struct {
	referrerID int64
	friendID   string
}

func New(tables rules.Tables, src ValueSource) (*Engine, error) {
	if err := tables.Validate(); err != nil {
		return nil, fmt.Errorf("validate rule tables: %w", err)
	}
	if src == nil {
		src = NewRandSource(time.Now().UnixNano())
	}
	return &Engine{
		tables:    tables,
		src:       src,
		users:     map[int64]*types.UserData{},
		referrers: map[int64]refEdge{},
	}, nil
}

func (e *Engine) Tables() rules.Tables {
	return e.tables
}

// Register ensures a session exists for userID and returns a snapshot of it.
// An existing session is left as is apart from a username refresh.
func (e *Engine) Register(userID int64, username string, now time.Time) types.UserData {
	e.mu.Lock()
	defer e.mu.Unlock()

	u := e.users[userID]
	if u == nil {
		u = e.newUser(userID, username, now)
		e.users[userID] = u
	} else if s := strings.TrimSpace(username); s != "" {
		u.Username = s
	}
	e.ensurePeriods(u, now)
	return snapshot(u)
}

// Restore seeds a session from a persisted snapshot, e.g. on login after a
// restart. An already-live session wins over the stored copy.
func (e *Engine) Restore(stored types.UserData, now time.Time) types.UserData {
	e.mu.Lock()
	defer e.mu.Unlock()

	if u := e.users[stored.UserID]; u != nil {
		e.ensurePeriods(u, now)
		return snapshot(u)
	}
	u := stored
	if u.Friends == nil {
		u.Friends = []types.Friend{}
	}
	if len(u.Missions) == 0 {
		u.Missions = e.newMissionSet(now)
	}
	e.users[u.UserID] = &u
	e.ensurePeriods(&u, now)
	e.reRank(&u)
	for _, f := range u.Friends {
		if f.UserID != 0 {
			e.referrers[f.UserID] = refEdge{referrerID: u.UserID, friendID: f.ID}
		}
	}
	return snapshot(&u)
}

// Snapshot returns a read-only copy of the session, or false if none exists.
func (e *Engine) Snapshot(userID int64) (types.UserData, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	u := e.users[userID]
	if u == nil {
		return types.UserData{}, false
	}
	return snapshot(u), true
}

// Users lists the IDs of all live sessions.
func (e *Engine) Users() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]int64, 0, len(e.users))
	for id := range e.users {
		ids = append(ids, id)
	}
	return ids
}

// RolloverDay applies the calendar-day reset for every live session. Tap and
// check-in detect a stale day themselves, so a missed sweep only delays the
// refill, never double-pays.
func (e *Engine) RolloverDay(now time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, u := range e.users {
		if u.Day != dayString(now) {
			e.ensurePeriods(u, now)
			n++
		}
	}
	return n
}

// RolloverWeek regenerates weekly missions for sessions still on an old week.
func (e *Engine) RolloverWeek(now time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, u := range e.users {
		if u.Week != weekString(now) {
			e.ensurePeriods(u, now)
			n++
		}
	}
	return n
}

func (e *Engine) newUser(userID int64, username string, now time.Time) *types.UserData {
	u := &types.UserData{
		UserID:                 userID,
		Username:               strings.TrimSpace(username),
		DailyAttemptsRemaining: e.tables.MaxDailyAttempts,
		ReferralCode:           newReferralCode(),
		Friends:                []types.Friend{},
		Missions:               e.newMissionSet(now),
		Day:                    dayString(now),
		Week:                   weekString(now),
	}
	e.reRank(u)
	return u
}

// ensurePeriods lazily applies day and week rollovers. Called at the top of
// every dated operation so the engine never depends on the sweep firing on
// time.
func (e *Engine) ensurePeriods(u *types.UserData, now time.Time) {
	day := dayString(now)
	if u.Day != day {
		u.Day = day
		u.TodayEarned = 0
		u.DailyAttemptsRemaining = e.tables.MaxDailyAttempts
		e.regenerateMissions(u, types.MissionDaily, now)
	}
	week := weekString(now)
	if u.Week != week {
		u.Week = week
		e.regenerateMissions(u, types.MissionWeekly, now)
	}
}

// reRank re-derives the rank view from the confirmed balance. The only
// writer of Rank/RankBonus.
func (e *Engine) reRank(u *types.UserData) {
	tier := e.tables.RankFor(u.TotalAmount)
	u.Rank = tier.Name
	u.RankBonus = tier.Bonus
}

func (e *Engine) user(userID int64) (*types.UserData, error) {
	u := e.users[userID]
	if u == nil {
		return nil, ErrUnknownUser
	}
	return u, nil
}

func snapshot(u *types.UserData) types.UserData {
	out := *u
	out.Friends = append([]types.Friend(nil), u.Friends...)
	out.Missions = append([]types.Mission(nil), u.Missions...)
	return out
}

func newReferralCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func dayString(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

func weekString(now time.Time) string {
	y, w := now.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", y, w)
}
