package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is an in-memory token bucket limiter keyed by an arbitrary string, usually the
// client IP. Each key may spend max requests per window.
type RateLimiter struct {
	limiters map[string]*entry
	lock     sync.Mutex
	limit    rate.Limit
	burst    int
	window   time.Duration
	now      func() time.Time
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(window time.Duration, max int) *RateLimiter {
	if max <= 0 {
		max = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*entry),
		limit:    rate.Every(window / time.Duration(max)),
		burst:    max,
		window:   window,
		now:      time.Now,
	}
}

func (rl *RateLimiter) Allow(key string) bool {
	rl.lock.Lock()
	defer rl.lock.Unlock()

	now := rl.now()
	e, ok := rl.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Cleanup forgets keys idle for a full window. Their buckets would be full again anyway.
func (rl *RateLimiter) Cleanup() int {
	rl.lock.Lock()
	defer rl.lock.Unlock()

	cutoff := rl.now().Add(-rl.window)
	removed := 0
	for key, e := range rl.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
			removed++
		}
	}
	return removed
}
