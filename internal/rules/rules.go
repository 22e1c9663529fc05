package rules

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"taprush/internal/types"
)

// Tables holds every tunable number the engine reads. All numeric policy
// lives here so tuning never touches engine logic. Validate is called once
// at process start and a failure there is fatal; per-call user errors are a
// separate thing entirely.
type Tables struct {
	TapsForSuccess      int
	MaxDailyAttempts    int
	RainbowTriggerCount int

	MinTapValue  int64
	MaxTapValue  int64
	MinTapWeight float64
	MaxTapWeight float64

	// StreakRewards is consumed by streak length; past the last element the
	// reward plateaus at the final value.
	StreakRewards []int64

	// RankTiers are ordered by ascending Min. Each covers [Min, Max); the
	// last tier is unbounded above.
	RankTiers []RankTier

	// RainbowMilestones is the bonus ladder consumed by lifetime rainbow
	// fires, clamped like StreakRewards.
	RainbowMilestones []int64

	SignupBonus    int64
	CommissionRate float64

	// Ad gating knobs (the webhook supplies the actual reward amount, this
	// is the fallback and the per-user cap).
	AdDefaultReward   int64
	AdCooldownMinutes int
	AdMaxPerDay       int

	MissionTemplates []MissionTemplate
}

type RankTier struct {
	Name  string
	Min   int64
	Max   int64 // exclusive; math.MaxInt64 means unbounded
	Bonus int64 // percent applied to secondary income on confirm
}

type MissionTemplate struct {
	Type     types.MissionType
	Category types.MissionCategory
	Title    string
	Target   int64
	Reward   int64
}

func Default() Tables {
	return Tables{
		TapsForSuccess:      5,
		MaxDailyAttempts:    30,
		RainbowTriggerCount: 10,

		MinTapValue:  1,
		MaxTapValue:  2,
		MinTapWeight: 0.6,
		MaxTapWeight: 0.4,

		StreakRewards: []int64{10, 20, 30, 50, 70, 100, 150},

		RankTiers: []RankTier{
			{Name: "BRONZE", Min: 0, Max: 20_000, Bonus: 0},
			{Name: "SILVER", Min: 20_000, Max: 100_000, Bonus: 5},
			{Name: "GOLD", Min: 100_000, Max: 500_000, Bonus: 10},
			{Name: "DIAMOND", Min: 500_000, Max: math.MaxInt64, Bonus: 20},
		},

		RainbowMilestones: []int64{25, 50, 75, 100, 150},

		SignupBonus:    500,
		CommissionRate: 0.10,

		AdDefaultReward:   30,
		AdCooldownMinutes: 60,
		AdMaxPerDay:       24,

		MissionTemplates: []MissionTemplate{
			{Type: types.MissionDaily, Category: types.CategoryTap, Title: "Tap 50 times", Target: 50, Reward: 100},
			{Type: types.MissionDaily, Category: types.CategoryAd, Title: "Watch 3 ads", Target: 3, Reward: 150},
			{Type: types.MissionDaily, Category: types.CategoryCheckIn, Title: "Daily check-in", Target: 1, Reward: 50},
			{Type: types.MissionWeekly, Category: types.CategoryTap, Title: "Tap 300 times", Target: 300, Reward: 500},
			{Type: types.MissionWeekly, Category: types.CategoryAd, Title: "Watch 15 ads", Target: 15, Reward: 400},
			{Type: types.MissionWeekly, Category: types.CategoryFriend, Title: "Invite a friend", Target: 1, Reward: 800},
			{Type: types.MissionSpecial, Category: types.CategoryFriend, Title: "Invite 10 friends", Target: 10, Reward: 5_000},
		},
	}
}

// Load builds the tables from defaults plus env overrides, matching how the
// rest of the service is configured.
func Load() Tables {
	t := Default()

	t.TapsForSuccess = int(envInt64("TAPS_FOR_SUCCESS", int64(t.TapsForSuccess)))
	t.MaxDailyAttempts = int(envInt64("MAX_DAILY_ATTEMPTS", int64(t.MaxDailyAttempts)))
	t.RainbowTriggerCount = int(envInt64("RAINBOW_TRIGGER_COUNT", int64(t.RainbowTriggerCount)))

	t.MinTapValue = envInt64("MIN_TAP_VALUE", t.MinTapValue)
	t.MaxTapValue = envInt64("MAX_TAP_VALUE", t.MaxTapValue)
	t.MinTapWeight = envFloat64("MIN_TAP_WEIGHT", t.MinTapWeight)
	t.MaxTapWeight = envFloat64("MAX_TAP_WEIGHT", t.MaxTapWeight)

	t.SignupBonus = envInt64("REFERRAL_SIGNUP_BONUS", t.SignupBonus)
	t.CommissionRate = envFloat64("REFERRAL_COMMISSION_RATE", t.CommissionRate)

	t.AdDefaultReward = envInt64("AD_DEFAULT_REWARD", t.AdDefaultReward)
	t.AdCooldownMinutes = int(envInt64("AD_COOLDOWN_MINUTES", int64(t.AdCooldownMinutes)))
	t.AdMaxPerDay = int(envInt64("AD_MAX_PER_DAY", int64(t.AdMaxPerDay)))

	return t
}

// Validate rejects a malformed table set. Callers treat an error here as
// fatal at startup.
func (t Tables) Validate() error {
	if t.TapsForSuccess <= 0 {
		return fmt.Errorf("TAPS_FOR_SUCCESS must be > 0, got %d", t.TapsForSuccess)
	}
	if t.MaxDailyAttempts <= 0 {
		return fmt.Errorf("MAX_DAILY_ATTEMPTS must be > 0, got %d", t.MaxDailyAttempts)
	}
	if t.RainbowTriggerCount <= 0 {
		return fmt.Errorf("RAINBOW_TRIGGER_COUNT must be > 0, got %d", t.RainbowTriggerCount)
	}
	if t.MinTapValue <= 0 || t.MaxTapValue < t.MinTapValue {
		return fmt.Errorf("tap values must satisfy 0 < min <= max, got %d..%d", t.MinTapValue, t.MaxTapValue)
	}
	if math.Abs(t.MinTapWeight+t.MaxTapWeight-1.0) > 1e-9 {
		return fmt.Errorf("tap weights must sum to 1, got %.4f", t.MinTapWeight+t.MaxTapWeight)
	}
	if t.MinTapWeight < 0 || t.MaxTapWeight < 0 {
		return fmt.Errorf("tap weights must be >= 0")
	}
	if len(t.StreakRewards) == 0 {
		return fmt.Errorf("STREAK_REWARDS must not be empty")
	}
	for i, r := range t.StreakRewards {
		if r <= 0 {
			return fmt.Errorf("STREAK_REWARDS[%d] must be > 0, got %d", i, r)
		}
	}
	if len(t.RainbowMilestones) == 0 {
		return fmt.Errorf("RAINBOW_MILESTONES must not be empty")
	}
	if err := t.validateTiers(); err != nil {
		return err
	}
	if t.SignupBonus < 0 {
		return fmt.Errorf("SIGNUP_BONUS must be >= 0, got %d", t.SignupBonus)
	}
	if t.CommissionRate < 0 || t.CommissionRate > 1 {
		return fmt.Errorf("COMMISSION_RATE must be in [0,1], got %.4f", t.CommissionRate)
	}
	if len(t.MissionTemplates) == 0 {
		return fmt.Errorf("mission templates must not be empty")
	}
	for i, m := range t.MissionTemplates {
		if m.Target <= 0 || m.Reward <= 0 {
			return fmt.Errorf("mission template %d (%s) must have positive target and reward", i, m.Title)
		}
	}
	return nil
}

func (t Tables) validateTiers() error {
	if len(t.RankTiers) == 0 {
		return fmt.Errorf("RANK_TIERS must not be empty")
	}
	if t.RankTiers[0].Min != 0 {
		return fmt.Errorf("first rank tier must start at 0, got %d", t.RankTiers[0].Min)
	}
	for i, tier := range t.RankTiers {
		if tier.Max <= tier.Min {
			return fmt.Errorf("rank tier %s has empty interval [%d,%d)", tier.Name, tier.Min, tier.Max)
		}
		if tier.Bonus < 0 {
			return fmt.Errorf("rank tier %s has negative bonus", tier.Name)
		}
		if i > 0 && tier.Min != t.RankTiers[i-1].Max {
			return fmt.Errorf("rank tiers %s and %s are not contiguous", t.RankTiers[i-1].Name, tier.Name)
		}
	}
	if t.RankTiers[len(t.RankTiers)-1].Max != math.MaxInt64 {
		return fmt.Errorf("last rank tier must be unbounded above")
	}
	return nil
}

// RankFor maps a confirmed balance to its tier. Pure, total over all
// non-negative inputs.
func (t Tables) RankFor(totalAmount int64) RankTier {
	if totalAmount < 0 {
		totalAmount = 0
	}
	for _, tier := range t.RankTiers {
		if totalAmount >= tier.Min && totalAmount < tier.Max {
			return tier
		}
	}
	return t.RankTiers[len(t.RankTiers)-1]
}

// StreakReward returns the reward for the given streak length, holding the
// plateau once the streak outgrows the ladder.
func (t Tables) StreakReward(streak int) int64 {
	if streak < 1 {
		streak = 1
	}
	idx := streak - 1
	if idx >= len(t.StreakRewards) {
		idx = len(t.StreakRewards) - 1
	}
	return t.StreakRewards[idx]
}

// RainbowBonus returns the bonus for the n-th lifetime rainbow fire
// (1-based), clamped to the ladder's last rung.
func (t Tables) RainbowBonus(fires int64) int64 {
	if fires < 1 {
		fires = 1
	}
	idx := int(fires - 1)
	if idx >= len(t.RainbowMilestones) {
		idx = len(t.RainbowMilestones) - 1
	}
	return t.RainbowMilestones[idx]
}

func envInt64(key string, def int64) int64 {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envFloat64(key string, def float64) float64 {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	n, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return def
	}
	return n
}
