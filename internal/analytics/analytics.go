package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// EventType enumerates the engine events worth a row in the analytics log.
type EventType string

const (
	EventTap          EventType = "tap"
	EventTapSuccess   EventType = "tap_success"
	EventRainbow      EventType = "rainbow"
	EventConfirm      EventType = "confirm"
	EventCheckIn      EventType = "check_in"
	EventMissionClaim EventType = "mission_claim"
	EventAdCredit     EventType = "ad_credit"
	EventReferral     EventType = "referral"
	EventLogin        EventType = "login"
)

type Event struct {
	Type      EventType      `json:"type"`
	UserID    int64          `json:"user_id"`
	Amount    int64          `json:"amount,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Sink writes events to Postgres through a small buffered channel so the
// request path never blocks on the analytics insert. Dropped events are
// logged and forgotten; this log is advisory, not the ledger.
type Sink struct {
	db *sqlx.DB
	ch chan Event
}

func Open(databaseURL string) (*Sink, error) {
	if databaseURL == "" {
		return nil, nil
	}
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("analytics connect: %w", err)
	}
	db.SetMaxOpenConns(2)
	return &Sink{db: db, ch: make(chan Event, 1024)}, nil
}

func (s *Sink) Enabled() bool {
	return s != nil && s.db != nil
}

func (s *Sink) Migrate() error {
	if !s.Enabled() {
		return nil
	}
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS game_events (
  id BIGSERIAL PRIMARY KEY,
  type TEXT NOT NULL,
  user_id BIGINT NOT NULL,
  amount BIGINT NOT NULL DEFAULT 0,
  data JSONB,
  created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS game_events_type_time_idx ON game_events (type, created_at);
`)
	if err != nil {
		return fmt.Errorf("analytics migrate: %w", err)
	}
	return nil
}

// Start runs the writer loop until the context ends.
func (s *Sink) Start(ctx context.Context) {
	if !s.Enabled() {
		return
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-s.ch:
				s.write(ev)
			}
		}
	}()
}

// Record enqueues an event; it never blocks the caller.
func (s *Sink) Record(ev Event) {
	if !s.Enabled() {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	select {
	case s.ch <- ev:
	default:
		log.Printf("analytics: buffer full, dropping %s event for user %d", ev.Type, ev.UserID)
	}
}

func (s *Sink) write(ev Event) {
	var data []byte
	if len(ev.Data) > 0 {
		data, _ = json.Marshal(ev.Data)
	}
	_, err := s.db.Exec(
		`INSERT INTO game_events (type, user_id, amount, data, created_at) VALUES ($1, $2, $3, $4, $5)`,
		string(ev.Type), ev.UserID, ev.Amount, nullable(data), ev.Timestamp,
	)
	if err != nil {
		log.Printf("analytics: insert %s event: %v", ev.Type, err)
	}
}

// DailyTotals aggregates confirmed amounts per event type for a calendar day.
func (s *Sink) DailyTotals(ctx context.Context, day time.Time) (map[string]int64, error) {
	if !s.Enabled() {
		return nil, nil
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	rows, err := s.db.QueryContext(ctx, `
SELECT type, COALESCE(SUM(amount), 0)
FROM game_events
WHERE created_at >= $1 AND created_at < $2
GROUP BY type
`, start, start.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("analytics totals: %w", err)
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var typ string
		var total int64
		if err := rows.Scan(&typ, &total); err != nil {
			return nil, err
		}
		out[typ] = total
	}
	return out, rows.Err()
}

func (s *Sink) Close() {
	if s.Enabled() {
		_ = s.db.Close()
	}
}

func nullable(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
