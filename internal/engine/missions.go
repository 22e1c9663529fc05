package engine

import (
	"time"

	"github.com/google/uuid"

	"taprush/internal/types"
)

// newMissionSet instantiates the full template set for a new session.
func (e *Engine) newMissionSet(now time.Time) []types.Mission {
	out := make([]types.Mission, 0, len(e.tables.MissionTemplates))
	for _, tpl := range e.tables.MissionTemplates {
		out = append(out, newMission(tpl.Type, tpl.Category, tpl.Title, tpl.Target, tpl.Reward, now))
	}
	return out
}

// regenerateMissions replaces all missions of the given period type with
// fresh instances. Unclaimed progress from the expired period is discarded
// on purpose; special missions are never regenerated.
func (e *Engine) regenerateMissions(u *types.UserData, kind types.MissionType, now time.Time) {
	kept := u.Missions[:0]
	for _, m := range u.Missions {
		if m.Type != kind {
			kept = append(kept, m)
		}
	}
	u.Missions = kept
	for _, tpl := range e.tables.MissionTemplates {
		if tpl.Type == kind {
			u.Missions = append(u.Missions, newMission(tpl.Type, tpl.Category, tpl.Title, tpl.Target, tpl.Reward, now))
		}
	}
}

func newMission(kind types.MissionType, cat types.MissionCategory, title string, target, reward int64, now time.Time) types.Mission {
	return types.Mission{
		ID:        uuid.NewString(),
		Type:      kind,
		Category:  cat,
		Title:     title,
		Target:    target,
		Reward:    reward,
		CreatedAt: now.UTC(),
	}
}

// advanceMission moves progress on every open mission in the category.
// Progress caps at the target and Completed flips exactly there, one-way.
func (e *Engine) advanceMission(u *types.UserData, cat types.MissionCategory, amount int64) {
	if amount <= 0 {
		return
	}
	for i := range u.Missions {
		m := &u.Missions[i]
		if m.Category != cat || m.Completed || m.Claimed {
			continue
		}
		m.Progress += amount
		if m.Progress >= m.Target {
			m.Progress = m.Target
			m.Completed = true
		}
	}
}

// AdvanceMission is the external entry for collaborators that track their
// own category counts (the UI boundary in front of the engine).
func (e *Engine) AdvanceMission(userID int64, cat types.MissionCategory, amount int64, now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	u, err := e.user(userID)
	if err != nil {
		return err
	}
	e.ensurePeriods(u, now)
	e.advanceMission(u, cat, amount)
	return nil
}

// ClaimMission pays out a completed mission exactly once. The reward is
// routed as pending, bonus-eligible secondary income.
func (e *Engine) ClaimMission(userID int64, missionID string, now time.Time) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	u, err := e.user(userID)
	if err != nil {
		return 0, err
	}
	e.ensurePeriods(u, now)

	for i := range u.Missions {
		m := &u.Missions[i]
		if m.ID != missionID {
			continue
		}
		if m.Claimed {
			return 0, ErrAlreadyClaimed
		}
		if !m.Completed {
			return 0, ErrNotCompleted
		}
		m.Claimed = true
		e.addPending(u, m.Reward, true)
		return m.Reward, nil
	}
	return 0, ErrUnknownMission
}

// Missions returns a copy of the user's mission list.
func (e *Engine) Missions(userID int64, now time.Time) ([]types.Mission, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	u, err := e.user(userID)
	if err != nil {
		return nil, err
	}
	e.ensurePeriods(u, now)
	return append([]types.Mission(nil), u.Missions...), nil
}
