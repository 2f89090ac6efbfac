package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/freshy/clanwars/ledger"
)

// clanLimiter hands out one token bucket per clan.
type clanLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[ledger.ClanID]*rate.Limiter
}

// newClanLimiter allows perMinute attempts per clan with the given burst.
// A non-positive perMinute returns nil, which allows everything.
func newClanLimiter(perMinute, burst int) *clanLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &clanLimiter{
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    burst,
		limiters: make(map[ledger.ClanID]*rate.Limiter),
	}
}

func (l *clanLimiter) Allow(clanID ledger.ClanID) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	lim, ok := l.limiters[clanID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[clanID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
