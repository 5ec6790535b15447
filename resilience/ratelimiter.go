package resilience

import (
	"sync"
	"time"
)

// RateLimiter is a per-client sliding-window request ceiling: each client
// key gets up to limit requests in any trailing window duration.
// Windows are kept in memory per key, which suits gating inbound API
// traffic.
type RateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	limit   int
	clients map[string][]time.Time
}

// NewRateLimiter creates a limiter allowing up to limit requests per
// client key in any trailing window.
func NewRateLimiter(window time.Duration, limit int) *RateLimiter {
	return &RateLimiter{
		window:  window,
		limit:   limit,
		clients: make(map[string][]time.Time),
	}
}

// Allow reports whether key may make another request right now, and
// records the attempt if so. Timestamps older than the window are
// evicted lazily on each call, so idle clients carry no memory cost.
func (r *RateLimiter) Allow(key string) bool {
	ok, _, _ := r.AllowAt(key, time.Now())
	return ok
}

// AllowAt is Allow with an explicit "now", for deterministic testing. It
// additionally reports the number of requests still permitted in the
// current window and the time until the oldest recorded request expires.
func (r *RateLimiter) AllowAt(key string, now time.Time) (allowed bool, remaining int, retryAfter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-r.window)
	hits := r.clients[key]
	kept := hits[:0]
	for _, t := range hits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= r.limit {
		r.clients[key] = kept
		retryAfter = kept[0].Add(r.window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return false, 0, retryAfter
	}

	kept = append(kept, now)
	r.clients[key] = kept
	return true, r.limit - len(kept), 0
}

// Reset discards all recorded requests for key.
func (r *RateLimiter) Reset(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, key)
}
