package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"taprush/internal/ads"
	"taprush/internal/analytics"
	"taprush/internal/engine"
	"taprush/internal/store"
	"taprush/internal/telegram"
	"taprush/internal/types"
)

const maxBodyBytes = 64 * 1024

// initData older than this is refused at login.
const authMaxAge = 24 * time.Hour

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": len(s.eng.Users()),
	})
}

type authRequest struct {
	InitData string `json:"initData"`
}

type authResponse struct {
	Token string         `json:"token"`
	User  types.UserData `json:"user"`
}

// handleAuthTelegram verifies the WebApp initData, brings the session up and
// hands back a bearer token. A start_param referral code on a first login
// credits the referrer.
func (s *Server) handleAuthTelegram(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, "malformed JSON body")
		return
	}

	now := s.now()
	player, err := telegram.VerifyInitData(req.InitData, s.cfg.BotToken, authMaxAge, now)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, ErrCodeUnauthorized, "initData verification failed")
		return
	}

	_, live := s.eng.Snapshot(player.ID)
	firstLogin := !live
	if !live && s.store != nil {
		if _, err := s.store.Load(r.Context(), player.ID); err == nil {
			firstLogin = false
		} else if !errors.Is(err, store.ErrNotFound) {
			log.Printf("api: load snapshot for %d: %v", player.ID, err)
		}
	}

	s.ensureSession(r.Context(), player.ID, player.Username, now)

	if firstLogin && player.StartRef != "" {
		s.attributeReferral(r.Context(), player, now)
	}

	token, err := s.mintToken(player, now)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "mint session token")
		return
	}

	user, _ := s.eng.Snapshot(player.ID)
	s.persist(r.Context(), player.ID)
	s.sink.Record(analytics.Event{Type: analytics.EventLogin, UserID: player.ID, Timestamp: now})

	writeJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

func (s *Server) attributeReferral(ctx context.Context, player telegram.Player, now time.Time) {
	referrerID, found := s.eng.FindByReferralCode(player.StartRef)
	if !found {
		return
	}
	if _, err := s.eng.AttributeReferral(referrerID, player.ID, player.Name, now); err != nil {
		if !errors.Is(err, engine.ErrAlreadyReferred) {
			log.Printf("api: attribute referral %s -> %d: %v", player.StartRef, player.ID, err)
		}
		return
	}
	if s.metrics != nil {
		s.metrics.Referrals.Inc()
	}
	s.sink.Record(analytics.Event{
		Type: analytics.EventReferral, UserID: referrerID, Timestamp: now,
		Data: map[string]any{"friend": player.ID},
	})
	s.persist(ctx, referrerID)
}

func (s *Server) handleTap(w http.ResponseWriter, r *http.Request) {
	userID, username := sessionUser(r)
	now := s.now()

	if !s.taps.allow(userID, now) {
		writeError(w, r, http.StatusTooManyRequests, ErrCodeRateLimit, "tap rate exceeded")
		return
	}

	s.ensureSession(r.Context(), userID, username, now)
	out, err := s.eng.Tap(userID, now)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	if s.metrics != nil {
		s.metrics.Taps.Inc()
		if out.SuccessReached {
			s.metrics.TapSuccesses.Inc()
		}
		if out.RainbowFired {
			s.metrics.Rainbows.Inc()
		}
	}
	if s.feed != nil {
		s.feed.Broadcast(types.FloatingNumber{UserID: userID, Value: out.Value, Kind: "tap", At: now.Unix()})
		if out.SuccessReached {
			s.feed.Broadcast(types.FloatingNumber{UserID: userID, Value: out.PendingCredit, Kind: "success", At: now.Unix()})
		}
		if out.RainbowFired {
			s.feed.Broadcast(types.FloatingNumber{UserID: userID, Value: out.RainbowBonus, Kind: "rainbow", At: now.Unix()})
		}
	}
	s.sink.Record(analytics.Event{Type: analytics.EventTap, UserID: userID, Amount: out.Value, Timestamp: now})
	if out.SuccessReached {
		s.sink.Record(analytics.Event{Type: analytics.EventTapSuccess, UserID: userID, Amount: out.PendingCredit, Timestamp: now})
	}
	if out.RainbowFired {
		s.sink.Record(analytics.Event{Type: analytics.EventRainbow, UserID: userID, Amount: out.RainbowBonus, Timestamp: now})
	}

	// Mid-cycle taps stay in memory; a snapshot lands whenever credit moved
	// or the day's attempts ran out.
	if out.SuccessReached || out.RainbowFired || out.AttemptsRemaining == 0 {
		s.persist(r.Context(), userID)
	}

	writeJSON(w, http.StatusOK, out)
}

type confirmResponse struct {
	Confirmed int64          `json:"confirmed"`
	User      types.UserData `json:"user"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	userID, username := sessionUser(r)
	now := s.now()
	s.ensureSession(r.Context(), userID, username, now)

	confirmed, err := s.eng.ConfirmPending(userID, now)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	if s.metrics != nil {
		s.metrics.Confirms.Inc()
		s.metrics.ConfirmedSum.Add(float64(confirmed))
	}
	s.sink.Record(analytics.Event{Type: analytics.EventConfirm, UserID: userID, Amount: confirmed, Timestamp: now})
	s.persist(r.Context(), userID)

	s.routeCommission(r, userID, confirmed, now)

	user, _ := s.eng.Snapshot(userID)
	writeJSON(w, http.StatusOK, confirmResponse{Confirmed: confirmed, User: user})
}

// routeCommission pays the referrer their cut of what the friend just
// confirmed. The referrer's session is pulled in from the store if needed.
func (s *Server) routeCommission(r *http.Request, friendUserID, confirmed int64, now time.Time) {
	referrerID, friendID, ok := s.eng.ReferralEdge(friendUserID)
	if !ok || confirmed <= 0 {
		return
	}
	s.ensureSession(r.Context(), referrerID, "", now)
	commission, err := s.eng.RecordFriendEarning(referrerID, friendID, confirmed)
	if err != nil {
		log.Printf("api: commission for referrer %d: %v", referrerID, err)
		return
	}
	if commission == 0 {
		return
	}
	s.sink.Record(analytics.Event{
		Type: analytics.EventReferral, UserID: referrerID, Amount: commission, Timestamp: now,
		Data: map[string]any{"friend": friendUserID, "kind": "commission"},
	})
	s.persist(r.Context(), referrerID)
}

func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	userID, username := sessionUser(r)
	now := s.now()
	s.ensureSession(r.Context(), userID, username, now)

	out, err := s.eng.CheckIn(userID, now)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	if out.Status != engine.AlreadyCheckedIn {
		if s.metrics != nil {
			s.metrics.CheckIns.Inc()
		}
		s.sink.Record(analytics.Event{Type: analytics.EventCheckIn, UserID: userID, Amount: out.Reward, Timestamp: now})
		s.persist(r.Context(), userID)
	}
	writeJSON(w, http.StatusOK, out)
}

type meResponse struct {
	User     types.UserData `json:"user"`
	Position int            `json:"position"` // 0 when unranked
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, username := sessionUser(r)
	now := s.now()
	s.ensureSession(r.Context(), userID, username, now)

	user, ok := s.eng.Snapshot(userID)
	if !ok {
		writeDomainError(w, r, engine.ErrUnknownUser)
		return
	}
	pos, err := s.board.PositionOf(r.Context(), userID)
	if err != nil {
		log.Printf("api: leaderboard position for %d: %v", userID, err)
	}
	writeJSON(w, http.StatusOK, meResponse{User: user, Position: pos})
}

func (s *Server) handleMissions(w http.ResponseWriter, r *http.Request) {
	userID, username := sessionUser(r)
	now := s.now()
	s.ensureSession(r.Context(), userID, username, now)

	missions, err := s.eng.Missions(userID, now)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, missions)
}

type claimResponse struct {
	Reward   int64           `json:"reward"`
	Missions []types.Mission `json:"missions"`
}

func (s *Server) handleMissionClaim(w http.ResponseWriter, r *http.Request) {
	userID, username := sessionUser(r)
	now := s.now()
	s.ensureSession(r.Context(), userID, username, now)

	missionID := chi.URLParam(r, "id")
	reward, err := s.eng.ClaimMission(userID, missionID, now)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	if s.metrics != nil {
		s.metrics.MissionClaims.Inc()
	}
	s.sink.Record(analytics.Event{Type: analytics.EventMissionClaim, UserID: userID, Amount: reward, Timestamp: now})
	s.persist(r.Context(), userID)

	missions, _ := s.eng.Missions(userID, now)
	writeJSON(w, http.StatusOK, claimResponse{Reward: reward, Missions: missions})
}

type friendsResponse struct {
	Friends            []types.Friend `json:"friends"`
	TotalReferralBonus int64          `json:"totalReferralBonus"`
	ReferralCode       string         `json:"referralCode"`
}

func (s *Server) handleFriends(w http.ResponseWriter, r *http.Request) {
	userID, username := sessionUser(r)
	now := s.now()
	s.ensureSession(r.Context(), userID, username, now)

	friends, err := s.eng.Friends(userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	user, _ := s.eng.Snapshot(userID)
	writeJSON(w, http.StatusOK, friendsResponse{
		Friends:            friends,
		TotalReferralBonus: user.TotalReferralBonus,
		ReferralCode:       user.ReferralCode,
	})
}

type adStartResponse struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) handleAdStart(w http.ResponseWriter, r *http.Request) {
	userID, _ := sessionUser(r)
	now := s.now()

	sessionID, err := s.gate.Start(r.Context(), userID, now)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, adStartResponse{SessionID: sessionID})
}

type adWebhookResponse struct {
	Credited int64 `json:"credited"`
}

// handleAdWebhook is the provider's server-to-server completion callback.
// It authenticates with the shared-secret HMAC, never a user token.
func (s *Server) handleAdWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, "read body")
		return
	}
	if err := s.gate.VerifySignature(payload, r.Header.Get("X-Signature")); err != nil {
		writeDomainError(w, r, err)
		return
	}

	var c ads.Completion
	if err := json.Unmarshal(payload, &c); err != nil || c.UserID == 0 {
		writeError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, "malformed completion payload")
		return
	}

	now := s.now()
	if err := s.gate.Complete(r.Context(), c.UserID, c.SessionID, now); err != nil {
		writeDomainError(w, r, err)
		return
	}

	s.ensureSession(r.Context(), c.UserID, "", now)
	credited, err := s.eng.CreditAd(c.UserID, c.Reward, now)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	if s.metrics != nil {
		s.metrics.AdCredits.Inc()
	}
	s.sink.Record(analytics.Event{Type: analytics.EventAdCredit, UserID: c.UserID, Amount: credited, Timestamp: now})
	s.persist(r.Context(), c.UserID)

	writeJSON(w, http.StatusOK, adWebhookResponse{Credited: credited})
}

type rolloverResponse struct {
	Days  int `json:"days"`
	Weeks int `json:"weeks"`
}

func (s *Server) adminAuthorized(w http.ResponseWriter, r *http.Request) bool {
	token := strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	if s.cfg.AdminTokenHash == "" || token == "" ||
		bcrypt.CompareHashAndPassword([]byte(s.cfg.AdminTokenHash), []byte(token)) != nil {
		writeError(w, r, http.StatusForbidden, ErrCodeForbidden, "admin token rejected")
		return false
	}
	return true
}

// handleAdminRollover forces the day/week sweep. The scheduler normally does
// this; the endpoint exists for operators and for hosts without the sweeper.
func (s *Server) handleAdminRollover(w http.ResponseWriter, r *http.Request) {
	if !s.adminAuthorized(w, r) {
		return
	}

	now := s.now()
	resp := rolloverResponse{
		Days:  s.eng.RolloverDay(now),
		Weeks: s.eng.RolloverWeek(now),
	}
	s.taps.sweep(now.Add(-1 * time.Hour))
	log.Printf("api: manual rollover swept %d day / %d week sessions", resp.Days, resp.Weeks)
	writeJSON(w, http.StatusOK, resp)
}

type statsResponse struct {
	LiveSessions int              `json:"liveSessions"`
	IdleUsers    int              `json:"idleUsers"` // no snapshot write in 24h
	EventTotals  map[string]int64 `json:"eventTotals,omitempty"`
}

// handleAdminStats is the operator's day-at-a-glance: live session count,
// users gone idle, and today's per-event confirmed sums.
func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	if !s.adminAuthorized(w, r) {
		return
	}

	now := s.now()
	resp := statsResponse{LiveSessions: len(s.eng.Users())}

	if s.store != nil {
		ids, err := s.store.StaleSince(r.Context(), now.Add(-24*time.Hour), 10_000)
		if err != nil {
			log.Printf("api: stale snapshots: %v", err)
		}
		resp.IdleUsers = len(ids)
	}
	if s.sink.Enabled() {
		totals, err := s.sink.DailyTotals(r.Context(), now)
		if err != nil {
			log.Printf("api: daily totals: %v", err)
		}
		resp.EventTotals = totals
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	rows, err := s.topRows(r)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "leaderboard unavailable")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// topRows serves the ranking from Redis, falling back to the Postgres
// snapshot index when the board is down or disabled.
func (s *Server) topRows(r *http.Request) ([]types.RankingUser, error) {
	n := s.cfg.LeaderboardSize
	if n <= 0 {
		n = 100
	}

	var rows []types.RankingUser
	var err error
	if s.board.Enabled() {
		rows, err = s.board.Top(r.Context(), n)
	}
	if (err != nil || !s.board.Enabled()) && s.store != nil {
		rows, err = s.store.TopByTotal(r.Context(), n)
	}
	if err != nil {
		return nil, err
	}

	tables := s.eng.Tables()
	for i := range rows {
		rows[i].Tier = tables.RankFor(rows[i].Amount).Name
	}
	return rows, nil
}
