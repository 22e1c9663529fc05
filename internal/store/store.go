package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"taprush/internal/types"
)

// Store persists full UserData snapshots. The engine never touches it: the
// API layer hands it state after the fact, and a lost write costs at most
// the delta since the previous snapshot.
type Store struct {
	Pool *pgxpool.Pool
}

var ErrNotFound = errors.New("snapshot not found")

func Connect(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 5
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

func (s *Store) Migrate(ctx context.Context) error {
	sql := `
CREATE TABLE IF NOT EXISTS user_snapshots (
  user_id BIGINT PRIMARY KEY,
  username TEXT NOT NULL DEFAULT '',
  total_amount BIGINT NOT NULL DEFAULT 0,
  data JSONB NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS user_snapshots_total_idx ON user_snapshots (total_amount DESC);
`
	_, err := s.Pool.Exec(ctx, sql)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Save upserts the full snapshot. total_amount is lifted into its own column
// so the leaderboard can be rebuilt from Postgres if Redis loses its set.
func (s *Store) Save(ctx context.Context, u types.UserData) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = s.Pool.Exec(ctx, `
INSERT INTO user_snapshots (user_id, username, total_amount, data, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (user_id) DO UPDATE SET
  username = EXCLUDED.username,
  total_amount = EXCLUDED.total_amount,
  data = EXCLUDED.data,
  updated_at = now()
`, u.UserID, u.Username, u.TotalAmount, data)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, userID int64) (types.UserData, error) {
	var data []byte
	err := s.Pool.QueryRow(ctx,
		`SELECT data FROM user_snapshots WHERE user_id = $1`, userID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.UserData{}, ErrNotFound
	}
	if err != nil {
		return types.UserData{}, fmt.Errorf("load snapshot: %w", err)
	}
	var u types.UserData
	if err := json.Unmarshal(data, &u); err != nil {
		return types.UserData{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return u, nil
}

// TopByTotal is the Postgres fallback for the leaderboard.
func (s *Store) TopByTotal(ctx context.Context, limit int64) ([]types.RankingUser, error) {
	rows, err := s.Pool.Query(ctx, `
SELECT user_id, username, total_amount
FROM user_snapshots
ORDER BY total_amount DESC, user_id ASC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("top snapshots: %w", err)
	}
	defer rows.Close()

	var out []types.RankingUser
	pos := 0
	for rows.Next() {
		var r types.RankingUser
		if err := rows.Scan(&r.UserID, &r.Username, &r.Amount); err != nil {
			return nil, err
		}
		pos++
		r.Position = pos
		out = append(out, r)
	}
	return out, rows.Err()
}

// StaleSince lists users whose snapshot predates the cutoff, for the sweep
// job that re-persists idle sessions.
func (s *Store) StaleSince(ctx context.Context, cutoff time.Time, limit int64) ([]int64, error) {
	rows, err := s.Pool.Query(ctx, `
SELECT user_id FROM user_snapshots WHERE updated_at < $1 ORDER BY updated_at ASC LIMIT $2
`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("stale snapshots: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
