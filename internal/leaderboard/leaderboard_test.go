package leaderboard

import (
	"context"
	"os"
	"testing"
)

func testBoard(t *testing.T) *Board {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_URL")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb, err := Connect(context.Background(), addr)
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	b := New(rdb)
	b.zsetKey = "taprush:test:lb:totals"
	b.nameKey = "taprush:test:lb:names"
	t.Cleanup(func() {
		rdb.Del(context.Background(), b.zsetKey, b.nameKey)
	})
	return b
}

func TestBoardRoundTrip(t *testing.T) {
	b := testBoard(t)
	ctx := context.Background()

	for _, row := range []struct {
		id    int64
		name  string
		total int64
	}{
		{1, "alice", 300},
		{2, "bob", 100},
		{3, "carol", 200},
	} {
		if err := b.SetScore(ctx, row.id, row.name, row.total); err != nil {
			t.Fatal(err)
		}
	}

	top, err := b.Top(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 3 {
		t.Fatalf("rows = %d", len(top))
	}
	if top[0].UserID != 1 || top[0].Username != "alice" || top[0].Position != 1 {
		t.Fatalf("top row = %+v", top[0])
	}
	if top[2].UserID != 2 {
		t.Fatalf("last row = %+v", top[2])
	}

	pos, err := b.PositionOf(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if pos != 2 {
		t.Fatalf("position = %d, want 2", pos)
	}

	pos, err = b.PositionOf(ctx, 99)
	if err != nil || pos != 0 {
		t.Fatalf("unranked position = %d, err = %v", pos, err)
	}
}

func TestScoreOverwrite(t *testing.T) {
	b := testBoard(t)
	ctx := context.Background()

	if err := b.SetScore(ctx, 1, "alice", 100); err != nil {
		t.Fatal(err)
	}
	if err := b.SetScore(ctx, 1, "alice", 500); err != nil {
		t.Fatal(err)
	}
	top, err := b.Top(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 1 || top[0].Amount != 500 {
		t.Fatalf("top = %+v", top)
	}
}

func TestDisabledBoard(t *testing.T) {
	var b *Board
	ctx := context.Background()
	if err := b.SetScore(ctx, 1, "x", 1); err != nil {
		t.Fatal(err)
	}
	rows, err := b.Top(ctx, 5)
	if err != nil || rows != nil {
		t.Fatalf("rows=%v err=%v", rows, err)
	}
	pos, err := b.PositionOf(ctx, 1)
	if err != nil || pos != 0 {
		t.Fatalf("pos=%d err=%v", pos, err)
	}
}
