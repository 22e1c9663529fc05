package leaderboard

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"taprush/internal/types"
)

// Board keeps the confirmed-balance ranking in a Redis sorted set, with a
// side hash for display names. Scores are written after every confirmed
// credit; reads serve the ranking screen.
type Board struct {
	rdb     *redis.Client
	zsetKey string
	nameKey string
}

// Connect accepts both "redis://..." URLs and bare host:port, the shapes
// hosting consoles hand out. A nil client (empty URL) disables the board.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	redisURL = strings.TrimSpace(redisURL)
	if redisURL == "" {
		return nil, nil
	}
	if !strings.Contains(redisURL, "://") {
		redisURL = "redis://" + redisURL
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

func New(rdb *redis.Client) *Board {
	if rdb == nil {
		return nil
	}
	return &Board{
		rdb:     rdb,
		zsetKey: "taprush:lb:totals",
		nameKey: "taprush:lb:names",
	}
}

func (b *Board) Enabled() bool {
	return b != nil && b.rdb != nil
}

// SetScore records the user's confirmed total. Last write wins, which is
// fine because totals are monotonic.
func (b *Board) SetScore(ctx context.Context, userID int64, username string, total int64) error {
	if !b.Enabled() {
		return nil
	}
	member := strconv.FormatInt(userID, 10)
	pipe := b.rdb.Pipeline()
	pipe.ZAdd(ctx, b.zsetKey, redis.Z{Score: float64(total), Member: member})
	if strings.TrimSpace(username) != "" {
		pipe.HSet(ctx, b.nameKey, member, username)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Top returns the first n rows in descending total order.
func (b *Board) Top(ctx context.Context, n int64) ([]types.RankingUser, error) {
	if !b.Enabled() || n <= 0 {
		return nil, nil
	}
	zs, err := b.rdb.ZRevRangeWithScores(ctx, b.zsetKey, 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	if len(zs) == 0 {
		return nil, nil
	}

	members := make([]string, 0, len(zs))
	for _, z := range zs {
		members = append(members, z.Member.(string))
	}
	names, err := b.rdb.HMGet(ctx, b.nameKey, members...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]types.RankingUser, 0, len(zs))
	for i, z := range zs {
		id, _ := strconv.ParseInt(members[i], 10, 64)
		name := ""
		if i < len(names) {
			if s, ok := names[i].(string); ok {
				name = s
			}
		}
		out = append(out, types.RankingUser{
			Position: i + 1,
			UserID:   id,
			Username: name,
			Amount:   int64(z.Score),
		})
	}
	return out, nil
}

// PositionOf returns the user's 1-based rank, or 0 when unranked.
func (b *Board) PositionOf(ctx context.Context, userID int64) (int, error) {
	if !b.Enabled() {
		return 0, nil
	}
	rank, err := b.rdb.ZRevRank(ctx, b.zsetKey, strconv.FormatInt(userID, 10)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return int(rank) + 1, nil
}
