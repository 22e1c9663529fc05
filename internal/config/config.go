package config

import (
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	BotToken      string
	DatabaseURL   string
	RedisURL      string
	PublicBaseURL string
	CORSOrigins   []string

	Port        int
	MetricsPort int

	RunAPI     bool
	RunBot     bool
	RunSweeper bool

	JWTSecret      string
	SessionTTLMin  int64
	AdminTokenHash string // bcrypt hash of the admin token

	AdWebhookSecret string

	TapRatePerSec float64
	TapRateBurst  int

	RandSeed int64

	LeaderboardSize int64
}

func mustEnv(key string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		log.Printf("missing env: %s, using default", key)
		return ""
	}
	return val
}

// normalizeDatabaseURL accepts the `psql 'postgresql://...'` shapes hosted
// Postgres consoles like to show and strips params pgx chokes on.
func normalizeDatabaseURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return s
	}

	if i := strings.Index(s, "postgresql://"); i >= 0 {
		s = s[i:]
	} else if i := strings.Index(s, "postgres://"); i >= 0 {
		s = s[i:]
	}

	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	if i := strings.IndexAny(s, " \t\r\n"); i >= 0 {
		s = strings.Trim(s[:i], `"'`)
	}

	u, err := url.Parse(s)
	if err != nil {
		return s
	}
	q := u.Query()
	// pgx does not need channel_binding and may treat it as a runtime param.
	q.Del("channel_binding")
	u.RawQuery = q.Encode()
	return u.String()
}

// normalizeRedisURL accepts `redis-cli -u redis://...` console examples and
// rediss:// (TLS) too.
func normalizeRedisURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return s
	}

	if i := strings.Index(s, "rediss://"); i >= 0 {
		s = s[i:]
	} else if i := strings.Index(s, "redis://"); i >= 0 {
		s = s[i:]
	}

	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	if i := strings.IndexAny(s, " \t\r\n"); i >= 0 {
		s = strings.Trim(s[:i], `"'`)
	}

	return s
}

func envInt64(key string, def int64) int64 {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envFloat64(key string, def float64) float64 {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	n, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if val == "" {
		return def
	}
	switch val {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func Load() Config {
	publicBase := strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL"))
	if publicBase == "" {
		publicBase = strings.TrimSpace(os.Getenv("RENDER_EXTERNAL_URL"))
	}
	if publicBase == "" {
		port := strings.TrimSpace(os.Getenv("PORT"))
		if port == "" {
			port = "8080"
		}
		publicBase = "http://127.0.0.1:" + port
	}
	publicBase = strings.TrimRight(publicBase, "/")

	cfg := Config{
		BotToken:      strings.TrimSpace(os.Getenv("BOT_TOKEN")),
		DatabaseURL:   normalizeDatabaseURL(mustEnv("DATABASE_URL")),
		RedisURL:      normalizeRedisURL(os.Getenv("REDIS_URL")),
		PublicBaseURL: publicBase,
		CORSOrigins:   parseCSV(strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))),

		Port:        int(envInt64("PORT", 8080)),
		MetricsPort: int(envInt64("METRICS_PORT", 9090)),

		RunAPI:     envBool("RUN_API", true),
		RunBot:     envBool("RUN_BOT", true),
		RunSweeper: envBool("RUN_SWEEPER", true),

		JWTSecret:      strings.TrimSpace(os.Getenv("JWT_SECRET")),
		SessionTTLMin:  envInt64("SESSION_TTL_MINUTES", 12*60),
		AdminTokenHash: strings.TrimSpace(os.Getenv("ADMIN_TOKEN_HASH")),

		AdWebhookSecret: strings.TrimSpace(os.Getenv("AD_WEBHOOK_SECRET")),

		TapRatePerSec: envFloat64("TAP_RATE_PER_SEC", 20),
		TapRateBurst:  int(envInt64("TAP_RATE_BURST", 40)),

		RandSeed: envInt64("RAND_SEED", 0),

		LeaderboardSize: envInt64("LEADERBOARD_SIZE", 100),
	}

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-only-secret"
		log.Printf("JWT_SECRET not set, using an insecure development secret")
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		panic("PORT must be 1..65535")
	}
	if cfg.SessionTTLMin <= 0 {
		panic("SESSION_TTL_MINUTES must be > 0")
	}
	if cfg.TapRatePerSec <= 0 || cfg.TapRateBurst <= 0 {
		panic("TAP_RATE_* must be > 0")
	}
	if cfg.LeaderboardSize <= 0 {
		panic("LEADERBOARD_SIZE must be > 0")
	}

	return cfg
}

func parseCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	seen := map[string]struct{}{}
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
