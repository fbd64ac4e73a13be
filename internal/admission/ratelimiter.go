// Package admission enforces token-based authentication, per-IP rate
// limiting, and auth-failure banning before a connection is allowed to
// reach the handshake stage.
package admission

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter applies a per-IP keyed quota, evicting idle entries so
// memory does not grow unboundedly over the life of the process.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	rate     rate.Limit
	burst    int
}

type ipLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter builds a limiter admitting ratePerMinute events per
// minute per IP, with a burst equal to the same value (spec.md §4.6: 5
// events per minute per IP).
func NewRateLimiter(ratePerMinute int) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[string]*ipLimiter),
		rate:     rate.Every(time.Minute / time.Duration(ratePerMinute)),
		burst:    ratePerMinute,
	}
	go rl.evictLoop()
	return rl
}

func (rl *RateLimiter) evictLoop() {
	for range time.Tick(5 * time.Minute) {
		rl.mu.Lock()
		for ip, l := range rl.limiters {
			if time.Since(l.lastSeen) > 10*time.Minute {
				delete(rl.limiters, ip)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *RateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[ip]
	if !ok {
		l = &ipLimiter{lim: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[ip] = l
	}
	l.lastSeen = time.Now()
	return l.lim
}

// Allow consumes one token for ip, returning false if the quota is
// exhausted.
func (rl *RateLimiter) Allow(ip string) bool {
	return rl.getLimiter(ip).Allow()
}
