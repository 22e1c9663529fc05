package engine

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"taprush/internal/types"
)

// RegisterFriend records a successful referral: the friend is appended, the
// signup bonus accrues to the referral total and is routed as pending,
// bonus-eligible credit.
func (e *Engine) RegisterFriend(userID int64, name string, joined time.Time) (types.Friend, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	u, err := e.user(userID)
	if err != nil {
		return types.Friend{}, err
	}
	return e.addFriend(u, 0, name, joined), nil
}

// AttributeReferral is RegisterFriend for a friend with a session of their
// own: the edge is remembered so the friend's confirmed earnings can route
// commission back. A player is attributed at most once, and never to
// themselves.
func (e *Engine) AttributeReferral(referrerID, friendUserID int64, friendName string, joined time.Time) (types.Friend, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if referrerID == friendUserID {
		return types.Friend{}, ErrAlreadyReferred
	}
	if _, dup := e.referrers[friendUserID]; dup {
		return types.Friend{}, ErrAlreadyReferred
	}
	u, err := e.user(referrerID)
	if err != nil {
		return types.Friend{}, err
	}

	f := e.addFriend(u, friendUserID, friendName, joined)
	e.referrers[friendUserID] = refEdge{referrerID: referrerID, friendID: f.ID}
	return f, nil
}

// ReferralEdge reports who invited friendUserID, if anyone did.
func (e *Engine) ReferralEdge(friendUserID int64) (referrerID int64, friendID string, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	edge, ok := e.referrers[friendUserID]
	return edge.referrerID, edge.friendID, ok
}

func (e *Engine) addFriend(u *types.UserData, friendUserID int64, name string, joined time.Time) types.Friend {
	e.ensurePeriods(u, joined)

	name = strings.TrimSpace(name)
	if name == "" {
		name = "friend"
	}
	f := types.Friend{
		ID:       uuid.NewString(),
		UserID:   friendUserID,
		Name:     name,
		JoinDate: joined.UTC(),
	}
	u.Friends = append(u.Friends, f)
	u.TotalReferralBonus += e.tables.SignupBonus
	e.addPending(u, e.tables.SignupBonus, true)
	e.advanceMission(u, types.CategoryFriend, 1)
	return f
}

// RecordFriendEarning accrues the referrer's commission on an amount the
// friend just confirmed. The commission is floored to whole units.
func (e *Engine) RecordFriendEarning(userID int64, friendID string, friendConfirmed int64) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	u, err := e.user(userID)
	if err != nil {
		return 0, err
	}

	for i := range u.Friends {
		if u.Friends[i].ID != friendID {
			continue
		}
		if friendConfirmed <= 0 {
			return 0, nil
		}
		commission := int64(math.Floor(float64(friendConfirmed) * e.tables.CommissionRate))
		if commission <= 0 {
			return 0, nil
		}
		u.Friends[i].MyBonus += commission
		u.TotalReferralBonus += commission
		e.addPending(u, commission, true)
		return commission, nil
	}
	return 0, ErrUnknownFriend
}

// Friends returns a copy of the referral list.
func (e *Engine) Friends(userID int64) ([]types.Friend, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	u, err := e.user(userID)
	if err != nil {
		return nil, err
	}
	return append([]types.Friend(nil), u.Friends...), nil
}

// FindByReferralCode resolves a referral code to the owning session, used by
// the bot's /start deep link.
func (e *Engine) FindByReferralCode(code string) (int64, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return 0, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for id, u := range e.users {
		if u.ReferralCode == code {
			return id, true
		}
	}
	return 0, false
}
