package rules

import (
	"math"
	"testing"
)

func TestDefaultTablesValidate(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default tables must validate: %v", err)
	}
}

func TestValidateRejectsBrokenTables(t *testing.T) {
	t.Run("weights not summing to 1", func(t *testing.T) {
		tab := Default()
		tab.MinTapWeight = 0.5
		tab.MaxTapWeight = 0.4
		if err := tab.Validate(); err == nil {
			t.Fatal("expected error for weights summing to 0.9")
		}
	})

	t.Run("non-contiguous tiers", func(t *testing.T) {
		tab := Default()
		tab.RankTiers[1].Min = 25_000
		if err := tab.Validate(); err == nil {
			t.Fatal("expected error for gap between tiers")
		}
	})

	t.Run("bounded last tier", func(t *testing.T) {
		tab := Default()
		tab.RankTiers[len(tab.RankTiers)-1].Max = 1_000_000
		if err := tab.Validate(); err == nil {
			t.Fatal("expected error for bounded last tier")
		}
	})

	t.Run("first tier not starting at zero", func(t *testing.T) {
		tab := Default()
		tab.RankTiers[0].Min = 1
		if err := tab.Validate(); err == nil {
			t.Fatal("expected error for first tier min != 0")
		}
	})
}

func TestRankForBoundaries(t *testing.T) {
	tab := Default()

	cases := []struct {
		amount int64
		want   string
	}{
		{0, "BRONZE"},
		{19_999, "BRONZE"},
		{20_000, "SILVER"},
		{99_999, "SILVER"},
		{100_000, "GOLD"},
		{500_000, "DIAMOND"},
		{math.MaxInt64 - 1, "DIAMOND"},
		{-5, "BRONZE"},
	}
	for _, c := range cases {
		if got := tab.RankFor(c.amount).Name; got != c.want {
			t.Errorf("RankFor(%d) = %s, want %s", c.amount, got, c.want)
		}
	}
}

func TestRankForMonotonic(t *testing.T) {
	tab := Default()
	order := map[string]int{"BRONZE": 0, "SILVER": 1, "GOLD": 2, "DIAMOND": 3}

	prev := 0
	for _, amount := range []int64{0, 100, 19_999, 20_000, 50_000, 100_000, 499_999, 500_000, 9_000_000} {
		cur := order[tab.RankFor(amount).Name]
		if cur < prev {
			t.Fatalf("rank order decreased at amount %d", amount)
		}
		prev = cur
	}
}

func TestStreakRewardPlateau(t *testing.T) {
	tab := Default()

	if got := tab.StreakReward(1); got != 10 {
		t.Errorf("StreakReward(1) = %d, want 10", got)
	}
	last := tab.StreakRewards[len(tab.StreakRewards)-1]
	if got := tab.StreakReward(len(tab.StreakRewards) + 50); got != last {
		t.Errorf("StreakReward past ladder = %d, want plateau %d", got, last)
	}
	if got := tab.StreakReward(0); got != 10 {
		t.Errorf("StreakReward(0) clamps to first rung, got %d", got)
	}
}

func TestRainbowBonusClamped(t *testing.T) {
	tab := Default()

	if got := tab.RainbowBonus(1); got != tab.RainbowMilestones[0] {
		t.Errorf("RainbowBonus(1) = %d, want %d", got, tab.RainbowMilestones[0])
	}
	last := tab.RainbowMilestones[len(tab.RainbowMilestones)-1]
	if got := tab.RainbowBonus(1_000); got != last {
		t.Errorf("RainbowBonus(1000) = %d, want plateau %d", got, last)
	}
}
