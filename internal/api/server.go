package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"taprush/internal/ads"
	"taprush/internal/analytics"
	"taprush/internal/config"
	"taprush/internal/engine"
	"taprush/internal/leaderboard"
	"taprush/internal/live"
	"taprush/internal/monitoring"
	"taprush/internal/store"
)

// Deps are the collaborators the HTTP layer drives. Store, Board, AdGate and
// Analytics may be nil or disabled; the handlers degrade instead of failing.
type Deps struct {
	Engine    *engine.Engine
	Store     *store.Store
	Board     *leaderboard.Board
	AdGate    *ads.Gate
	Analytics *analytics.Sink
	Metrics   *monitoring.Metrics
	Feed      *live.Hub
}

type Server struct {
	cfg     config.Config
	eng     *engine.Engine
	store   *store.Store
	board   *leaderboard.Board
	gate    *ads.Gate
	sink    *analytics.Sink
	metrics *monitoring.Metrics
	feed    *live.Hub
	taps    *tapLimiter

	// now is swapped out in tests.
	now func() time.Time
}

func New(cfg config.Config, deps Deps) *Server {
	return &Server{
		cfg:     cfg,
		eng:     deps.Engine,
		store:   deps.Store,
		board:   deps.Board,
		gate:    deps.AdGate,
		sink:    deps.Analytics,
		metrics: deps.Metrics,
		feed:    deps.Feed,
		taps:    newTapLimiter(cfg.TapRatePerSec, cfg.TapRateBurst),
		now:     time.Now,
	}
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	if s.feed != nil {
		r.Get("/ws/feed", s.feed.Handler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Method(http.MethodPost, "/auth/telegram", s.route("auth_telegram", s.handleAuthTelegram))
		r.Method(http.MethodPost, "/ads/webhook", s.route("ads_webhook", s.handleAdWebhook))

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)
			r.Method(http.MethodPost, "/game/tap", s.route("game_tap", s.handleTap))
			r.Method(http.MethodPost, "/game/confirm", s.route("game_confirm", s.handleConfirm))
			r.Method(http.MethodPost, "/game/checkin", s.route("game_checkin", s.handleCheckIn))
			r.Method(http.MethodGet, "/me", s.route("me", s.handleMe))
			r.Method(http.MethodGet, "/missions", s.route("missions", s.handleMissions))
			r.Method(http.MethodPost, "/missions/{id}/claim", s.route("mission_claim", s.handleMissionClaim))
			r.Method(http.MethodGet, "/friends", s.route("friends", s.handleFriends))
			r.Method(http.MethodPost, "/ads/start", s.route("ads_start", s.handleAdStart))
			r.Method(http.MethodGet, "/leaderboard", s.route("leaderboard", s.handleLeaderboard))
		})

		r.Method(http.MethodPost, "/admin/rollover", s.route("admin_rollover", s.handleAdminRollover))
		r.Method(http.MethodGet, "/admin/stats", s.route("admin_stats", s.handleAdminStats))
	})

	return r
}

func (s *Server) route(name string, h http.HandlerFunc) http.Handler {
	if s.metrics == nil {
		return h
	}
	return s.metrics.Middleware(name)(h)
}

// ensureSession brings the caller's session into the engine: live wins, then
// the stored snapshot, then a fresh registration. Login is the only path
// that creates sessions, so a valid token always lands on one of the three.
func (s *Server) ensureSession(ctx context.Context, userID int64, username string, now time.Time) {
	if _, ok := s.eng.Snapshot(userID); ok {
		return
	}
	if s.store != nil {
		stored, err := s.store.Load(ctx, userID)
		switch {
		case err == nil:
			s.eng.Restore(stored, now)
			s.syncSessionGauge()
			return
		case !errors.Is(err, store.ErrNotFound):
			log.Printf("api: load snapshot for %d: %v", userID, err)
		}
	}
	s.eng.Register(userID, username, now)
	s.syncSessionGauge()
}

// persist pushes the post-operation snapshot to Postgres and the Redis
// leaderboard. Failures are logged, not surfaced: the engine state is the
// truth and the next write catches up.
func (s *Server) persist(ctx context.Context, userID int64) {
	snap, ok := s.eng.Snapshot(userID)
	if !ok {
		return
	}
	if s.store != nil {
		if err := s.store.Save(ctx, snap); err != nil {
			log.Printf("api: save snapshot for %d: %v", userID, err)
		}
	}
	if s.board.Enabled() {
		if err := s.board.SetScore(ctx, snap.UserID, snap.Username, snap.TotalAmount); err != nil {
			log.Printf("api: leaderboard score for %d: %v", userID, err)
		}
	}
}

func (s *Server) syncSessionGauge() {
	if s.metrics != nil {
		s.metrics.LiveSessions.Set(float64(len(s.eng.Users())))
	}
}
