package ads

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Gate controls the watch-ad flow. A watch starts with a short-lived Redis
// session plus a cooldown key; the provider webhook completes it. An
// abandoned watch simply lets the session expire, so the engine never sees a
// partial ad: it either gets a completed event or nothing.
type Gate struct {
	rdb       *redis.Client
	secret    string
	cooldown  time.Duration
	maxPerDay int
	sessTTL   time.Duration
}

var (
	ErrOnCooldown   = errors.New("ad on cooldown")
	ErrDailyLimit   = errors.New("daily ad limit reached")
	ErrNoSession    = errors.New("no open ad session")
	ErrBadSignature = errors.New("bad webhook signature")
)

// Completion is the provider webhook payload.
type Completion struct {
	SessionID string `json:"session_id"`
	UserID    int64  `json:"user_id"`
	Reward    int64  `json:"reward"`
	Timestamp int64  `json:"timestamp"`
}

func New(rdb *redis.Client, secret string, cooldownMinutes, maxPerDay int) *Gate {
	return &Gate{
		rdb:       rdb,
		secret:    secret,
		cooldown:  time.Duration(cooldownMinutes) * time.Minute,
		maxPerDay: maxPerDay,
		sessTTL:   5 * time.Minute,
	}
}

// Enabled reports whether the gate actually enforces anything. Without
// Redis the flow degrades to pass-through, which only makes sense in dev.
func (g *Gate) Enabled() bool {
	return g != nil && g.rdb != nil
}

// Start opens an ad session if the user is off cooldown and under the daily
// cap. The cooldown is set immediately so duplicate starts collapse.
func (g *Gate) Start(ctx context.Context, userID int64, now time.Time) (string, error) {
	sessionID := uuid.NewString()
	if !g.Enabled() {
		return sessionID, nil
	}

	cooldownKey := fmt.Sprintf("taprush:ad:cooldown:%d", userID)
	if g.cooldown > 0 {
		n, err := g.rdb.Exists(ctx, cooldownKey).Result()
		if err != nil {
			return "", err
		}
		if n > 0 {
			return "", ErrOnCooldown
		}
	}

	dayKey := fmt.Sprintf("taprush:ad:count:%d:%s", userID, now.UTC().Format("2006-01-02"))
	if g.maxPerDay > 0 {
		count, err := g.rdb.Get(ctx, dayKey).Int()
		if err != nil && err != redis.Nil {
			return "", err
		}
		if count >= g.maxPerDay {
			return "", ErrDailyLimit
		}
	}

	sessKey := fmt.Sprintf("taprush:ad:session:%d:%s", userID, sessionID)
	pipe := g.rdb.Pipeline()
	pipe.Set(ctx, sessKey, "started", g.sessTTL)
	if g.cooldown > 0 {
		pipe.Set(ctx, cooldownKey, "1", g.cooldown)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return sessionID, nil
}

// Complete consumes the open session and counts the watch against the daily
// cap. It is the webhook's job to have verified the signature first.
func (g *Gate) Complete(ctx context.Context, userID int64, sessionID string, now time.Time) error {
	if !g.Enabled() {
		return nil
	}

	sessKey := fmt.Sprintf("taprush:ad:session:%d:%s", userID, sessionID)
	deleted, err := g.rdb.Del(ctx, sessKey).Result()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrNoSession
	}

	dayKey := fmt.Sprintf("taprush:ad:count:%d:%s", userID, now.UTC().Format("2006-01-02"))
	pipe := g.rdb.Pipeline()
	pipe.Incr(ctx, dayKey)
	pipe.Expire(ctx, dayKey, 48*time.Hour)
	_, err = pipe.Exec(ctx)
	return err
}

// VerifySignature checks the provider's HMAC-SHA256 over the raw payload.
func (g *Gate) VerifySignature(payload []byte, signature string) error {
	if g == nil || g.secret == "" {
		return nil
	}
	mac := hmac.New(sha256.New, []byte(g.secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}
