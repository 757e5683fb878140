package intake

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterStaleAfter = time.Hour

// RateLimiter applies a per-client token bucket so one noisy client cannot
// starve the rest. Stale per-client entries are dropped periodically.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	perMin   int
	lastScan time.Time
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewRateLimiter creates a limiter allowing perMinute requests per client
// key. Non-positive thresholds clamp to 1, same as SetLimit ignores them.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		perMin:   perMinute,
		lastScan: time.Now(),
	}
}

// SetLimit adjusts the per-minute threshold. A change resets every client's
// bucket so the new threshold applies from a clean window. Called when
// pipeline settings change between operations; same-value calls are no-ops.
func (rl *RateLimiter) SetLimit(perMinute int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if perMinute == rl.perMin || perMinute <= 0 {
		return
	}
	rl.perMin = perMinute
	rl.limiters = make(map[string]*limiterEntry)
}

// Allow reports whether a request from the given client key may proceed.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	entry, ok := rl.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(perMinuteRate(rl.perMin), rl.perMin)}
		rl.limiters[key] = entry
	}
	entry.lastAccess = time.Now()
	rl.dropStaleLocked()
	limiter := entry.limiter
	rl.mu.Unlock()

	return limiter.Allow()
}

// dropStaleLocked evicts clients idle past limiterStaleAfter. Runs at most
// once per staleness window to keep Allow cheap.
func (rl *RateLimiter) dropStaleLocked() {
	now := time.Now()
	if now.Sub(rl.lastScan) < limiterStaleAfter {
		return
	}
	rl.lastScan = now
	for key, entry := range rl.limiters {
		if now.Sub(entry.lastAccess) > limiterStaleAfter {
			delete(rl.limiters, key)
		}
	}
}

func perMinuteRate(perMinute int) rate.Limit {
	return rate.Every(time.Minute / time.Duration(perMinute))
}
