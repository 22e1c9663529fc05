package types

import "time"

// UserData is the root aggregate for a single player session. It is owned
// exclusively by the engine; everything outside the engine only ever sees
// copies produced by Snapshot.
type UserData struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`

	TotalAmount   int64 `json:"totalAmount"`
	PendingAmount int64 `json:"pendingAmount"`
	TodayEarned   int64 `json:"todayEarned"`

	// PendingBonusEligible is the slice of PendingAmount that came from
	// secondary routes (streak, mission, referral) and therefore receives
	// the rank bonus on confirmation. Raw tap credit never does.
	PendingBonusEligible int64 `json:"pendingBonusEligible"`

	DailyAttemptsRemaining int `json:"dailyAttemptsRemaining"`

	// TapStreak counts accepted taps toward the success threshold and wraps
	// when the accumulated sum becomes pending credit.
	TapStreak int   `json:"tapStreak"`
	TapSum    int64 `json:"tapSum"`

	RainbowProgress int   `json:"rainbowProgress"`
	RainbowFires    int64 `json:"rainbowFires"`

	CurrentStreak   int     `json:"currentStreak"`
	LastCheckInDate string  `json:"lastCheckInDate"` // "2006-01-02", empty means never
	CheckInDays     [7]bool `json:"checkInDays"`

	// Rank is derived from TotalAmount and re-evaluated after every
	// confirmed credit. Never written directly.
	Rank      string `json:"rank"`
	RankBonus int64  `json:"rankBonus"`

	ReferralCode       string   `json:"referralCode"`
	Friends            []Friend `json:"friends"`
	TotalReferralBonus int64    `json:"totalReferralBonus"`
	AdCompletionCount  int64    `json:"adCompletionCount"`

	Missions []Mission `json:"missions"`

	// Day and Week mark the period the daily/weekly state belongs to, so a
	// late rollover sweep or the next operation can reset lazily.
	Day  string `json:"day"`
	Week string `json:"week"`
}

type MissionType string

const (
	MissionDaily   MissionType = "daily"
	MissionWeekly  MissionType = "weekly"
	MissionSpecial MissionType = "special"
)

type MissionCategory string

const (
	CategoryTap     MissionCategory = "TAP"
	CategoryAd      MissionCategory = "AD"
	CategoryFriend  MissionCategory = "FRIEND"
	CategoryCheckIn MissionCategory = "CHECKIN"
)

// Mission tracks progress toward a single reward. Completed is derived from
// Progress >= Target and flips exactly once; Claimed is one-way.
type Mission struct {
	ID        string          `json:"id"`
	Type      MissionType     `json:"type"`
	Category  MissionCategory `json:"category"`
	Title     string          `json:"title"`
	Target    int64           `json:"target"`
	Progress  int64           `json:"progress"`
	Reward    int64           `json:"reward"`
	Completed bool            `json:"completed"`
	Claimed   bool            `json:"claimed"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Friend is the immutable record of a successful referral. MyBonus is the
// commission accrued to the referrer from this friend and only grows.
// UserID links back to the friend's own session when the referral came
// through an attributed deep link; zero when the friend was added by name.
type Friend struct {
	ID       string    `json:"id"`
	UserID   int64     `json:"friendUserId,omitempty"`
	Name     string    `json:"name"`
	JoinDate time.Time `json:"joinDate"`
	MyBonus  int64     `json:"myBonus"`
}

// RankingUser is one leaderboard row. Pure transport, not owned by the engine.
type RankingUser struct {
	Position int    `json:"position"`
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	Amount   int64  `json:"amount"`
	Tier     string `json:"tier"`
}

// FloatingNumber is the presentation payload for a single earned delta,
// broadcast on the live feed. The engine only supplies the magnitude.
type FloatingNumber struct {
	UserID int64  `json:"userId"`
	Value  int64  `json:"value"`
	Kind   string `json:"kind"` // "tap", "success", "rainbow"
	At     int64  `json:"at"`   // unix seconds
}
