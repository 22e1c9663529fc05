package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"taprush/internal/ads"
	"taprush/internal/engine"
)

type ErrorCode string

const (
	ErrCodeInvalidRequest    ErrorCode = "INVALID_REQUEST"
	ErrCodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden         ErrorCode = "FORBIDDEN"
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeRateLimit         ErrorCode = "RATE_LIMIT"
	ErrCodeAttemptsExhausted ErrorCode = "ATTEMPTS_EXHAUSTED"
	ErrCodeNothingPending    ErrorCode = "NOTHING_PENDING"
	ErrCodeMissionState      ErrorCode = "MISSION_STATE"
	ErrCodeAdCooldown        ErrorCode = "AD_COOLDOWN"
	ErrCodeDailyLimit        ErrorCode = "DAILY_LIMIT"
	ErrCodeDuplicateEntry    ErrorCode = "DUPLICATE_ENTRY"
	ErrCodeInternalError     ErrorCode = "INTERNAL_ERROR"
)

// APIError is the error half of the response envelope. Every non-2xx body
// carries exactly one of these.
type APIError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

type errorResponse struct {
	Error   *APIError `json:"error"`
	Success bool      `json:"success"`
}

type successResponse struct {
	Data    any  `json:"data"`
	Success bool `json:"success"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(successResponse{Data: data, Success: true}); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code ErrorCode, msg string) {
	apiErr := &APIError{
		Code:      code,
		Message:   msg,
		Timestamp: time.Now().UTC(),
		RequestID: middleware.GetReqID(r.Context()),
	}
	if status >= 500 {
		log.Printf("api: %s %s -> %d %s: %s", r.Method, r.URL.Path, status, code, msg)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: apiErr, Success: false})
}

// writeDomainError translates engine and ad-gate refusals into their HTTP
// shape. Anything unrecognized is a 500.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, engine.ErrUnknownUser):
		writeError(w, r, http.StatusUnauthorized, ErrCodeUnauthorized, "session not found, re-authenticate")
	case errors.Is(err, engine.ErrAttemptsExhausted):
		writeError(w, r, http.StatusTooManyRequests, ErrCodeAttemptsExhausted, "daily attempts exhausted")
	case errors.Is(err, engine.ErrNothingPending):
		writeError(w, r, http.StatusConflict, ErrCodeNothingPending, "nothing pending to confirm")
	case errors.Is(err, engine.ErrNotCompleted):
		writeError(w, r, http.StatusConflict, ErrCodeMissionState, "mission not completed yet")
	case errors.Is(err, engine.ErrAlreadyClaimed):
		writeError(w, r, http.StatusConflict, ErrCodeMissionState, "mission reward already claimed")
	case errors.Is(err, engine.ErrUnknownMission):
		writeError(w, r, http.StatusNotFound, ErrCodeNotFound, "unknown mission")
	case errors.Is(err, engine.ErrUnknownFriend):
		writeError(w, r, http.StatusNotFound, ErrCodeNotFound, "unknown friend")
	case errors.Is(err, engine.ErrAlreadyReferred):
		writeError(w, r, http.StatusConflict, ErrCodeDuplicateEntry, "player already referred")
	case errors.Is(err, ads.ErrOnCooldown):
		writeError(w, r, http.StatusTooManyRequests, ErrCodeAdCooldown, "ad reward on cooldown")
	case errors.Is(err, ads.ErrDailyLimit):
		writeError(w, r, http.StatusTooManyRequests, ErrCodeDailyLimit, "daily ad limit reached")
	case errors.Is(err, ads.ErrNoSession):
		writeError(w, r, http.StatusNotFound, ErrCodeNotFound, "no open ad session")
	case errors.Is(err, ads.ErrBadSignature):
		writeError(w, r, http.StatusForbidden, ErrCodeForbidden, "webhook signature mismatch")
	default:
		writeError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
	}
}
