package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the Prometheus registry and every counter the game exposes.
// Served on its own port so the public API surface stays clean.
type Metrics struct {
	registry *prometheus.Registry
	server   *http.Server
	port     int

	// Business metrics
	Taps          prometheus.Counter
	TapSuccesses  prometheus.Counter
	Rainbows      prometheus.Counter
	Confirms      prometheus.Counter
	ConfirmedSum  prometheus.Counter
	AdCredits     prometheus.Counter
	MissionClaims prometheus.Counter
	CheckIns      prometheus.Counter
	Referrals     prometheus.Counter
	LiveSessions  prometheus.Gauge

	// HTTP metrics
	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func New(port int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		port:     port,

		Taps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taprush_taps_total",
			Help: "Accepted taps.",
		}),
		TapSuccesses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taprush_tap_successes_total",
			Help: "Tap cycles that reached the success threshold.",
		}),
		Rainbows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taprush_rainbows_total",
			Help: "Rainbow bonus fires.",
		}),
		Confirms: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taprush_confirms_total",
			Help: "Pending-to-confirmed transitions.",
		}),
		ConfirmedSum: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taprush_confirmed_amount_total",
			Help: "Total confirmed currency units.",
		}),
		AdCredits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taprush_ad_credits_total",
			Help: "Completed ad rewards credited.",
		}),
		MissionClaims: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taprush_mission_claims_total",
			Help: "Mission rewards claimed.",
		}),
		CheckIns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taprush_checkins_total",
			Help: "Daily check-ins applied.",
		}),
		Referrals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taprush_referrals_total",
			Help: "Friends registered through referral.",
		}),
		LiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taprush_live_sessions",
			Help: "User sessions currently held by the engine.",
		}),

		requestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taprush_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taprush_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Taps, m.TapSuccesses, m.Rainbows,
		m.Confirms, m.ConfirmedSum,
		m.AdCredits, m.MissionClaims, m.CheckIns, m.Referrals,
		m.LiveSessions,
		m.requestCount, m.requestDuration,
	)
	return m
}

// Middleware records count and latency per route.
func (m *Metrics) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			m.requestCount.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
			m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// StartServer serves /metrics on the dedicated port until Shutdown.
func (m *Metrics) StartServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	m.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", m.port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	err := m.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (m *Metrics) Shutdown(ctx context.Context) {
	if m.server != nil {
		_ = m.server.Shutdown(ctx)
	}
}
