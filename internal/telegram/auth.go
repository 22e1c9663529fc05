package telegram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Player is the identity carried inside Telegram WebApp initData.
type Player struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"first_name"`
	StartRef string `json:"-"` // start_param referral code, if any
}

var (
	ErrBadInitData = errors.New("invalid initData")
	ErrStaleAuth   = errors.New("initData auth_date too old")
)

// VerifyInitData validates Telegram WebApp initData against the bot token
// and extracts the player plus the start_param referral code. maxAge of 0
// skips the freshness check.
func VerifyInitData(initData, botToken string, maxAge time.Duration, now time.Time) (Player, error) {
	initData = strings.TrimSpace(initData)
	if initData == "" {
		return Player{}, ErrBadInitData
	}

	vals, err := url.ParseQuery(initData)
	if err != nil {
		return Player{}, ErrBadInitData
	}

	providedHash := vals.Get("hash")
	if providedHash == "" {
		return Player{}, ErrBadInitData
	}
	vals.Del("hash")

	if !hmac.Equal([]byte(computeHash(vals, botToken)), []byte(providedHash)) {
		return Player{}, ErrBadInitData
	}

	if maxAge > 0 {
		authUnix, err := strconv.ParseInt(vals.Get("auth_date"), 10, 64)
		if err != nil || now.Sub(time.Unix(authUnix, 0)) > maxAge {
			return Player{}, ErrStaleAuth
		}
	}

	var p Player
	if err := json.Unmarshal([]byte(vals.Get("user")), &p); err != nil || p.ID == 0 {
		return Player{}, ErrBadInitData
	}
	if strings.TrimSpace(p.Name) == "" {
		p.Name = "Player"
	}
	if strings.TrimSpace(p.Username) == "" {
		p.Username = p.Name
	}
	p.StartRef = strings.TrimSpace(vals.Get("start_param"))
	return p, nil
}

// computeHash builds the data_check_string (key=value lines sorted by key)
// and signs it with the WebAppData-derived secret.
func computeHash(vals url.Values, botToken string) string {
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+vals.Get(k))
	}

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))

	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(strings.Join(parts, "\n")))
	return hex.EncodeToString(mac.Sum(nil))
}
