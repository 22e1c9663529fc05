package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"taprush/internal/telegram"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxUsername
)

type sessionClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func (s *Server) mintToken(p telegram.Player, now time.Time) (string, error) {
	claims := sessionClaims{
		Username: p.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(p.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(s.cfg.SessionTTLMin) * time.Minute)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
}

// requireSession authenticates the Bearer token and puts the player identity
// on the request context. Everything under /api/v1 except auth and the
// webhook goes through here.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" || raw == r.Header.Get("Authorization") {
			writeError(w, r, http.StatusUnauthorized, ErrCodeUnauthorized, "missing bearer token")
			return
		}

		// Expiry is checked against the server clock, the same one that
		// minted the token.
		claims := &sessionClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(s.cfg.JWTSecret), nil
		}, jwt.WithTimeFunc(s.now))
		if err != nil || !token.Valid {
			writeError(w, r, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid or expired token")
			return
		}
		userID, err := strconv.ParseInt(claims.Subject, 10, 64)
		if err != nil || userID == 0 {
			writeError(w, r, http.StatusUnauthorized, ErrCodeUnauthorized, "malformed token subject")
			return
		}

		ctx := context.WithValue(r.Context(), ctxUserID, userID)
		ctx = context.WithValue(ctx, ctxUsername, claims.Username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionUser(r *http.Request) (int64, string) {
	userID, _ := r.Context().Value(ctxUserID).(int64)
	username, _ := r.Context().Value(ctxUsername).(string)
	return userID, username
}
