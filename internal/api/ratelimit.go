package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// tapLimiter throttles the tap endpoint per user. A human finger caps out
// around a dozen taps per second; anything past the configured rate is a
// script and gets a 429 instead of credit.
type tapLimiter struct {
	perSec rate.Limit
	burst  int

	mu      sync.Mutex
	users   map[int64]*rate.Limiter
	touched map[int64]time.Time
}

func newTapLimiter(perSec float64, burst int) *tapLimiter {
	return &tapLimiter{
		perSec:  rate.Limit(perSec),
		burst:   burst,
		users:   map[int64]*rate.Limiter{},
		touched: map[int64]time.Time{},
	}
}

func (l *tapLimiter) allow(userID int64, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim := l.users[userID]
	if lim == nil {
		lim = rate.NewLimiter(l.perSec, l.burst)
		l.users[userID] = lim
	}
	l.touched[userID] = now
	return lim.AllowN(now, 1)
}

// sweep drops limiters idle past the cutoff so the map does not grow with
// every user that ever tapped.
func (l *tapLimiter) sweep(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for id, last := range l.touched {
		if last.Before(cutoff) {
			delete(l.users, id)
			delete(l.touched, id)
			n++
		}
	}
	return n
}
