package security

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a key exceeds its rate limit.
var ErrRateLimited = errors.New("rate limit exceeded")

// Rate limit kinds.
const (
	// KindAuthFailure counts failed authentications per client address.
	KindAuthFailure = "auth_failure"
	// KindRequest counts requests per account.
	KindRequest = "request"
)

// RateLimitConfig holds configurable rate limits. Zero disables a limit,
// except AuthFailuresPerMin which defaults to 20.
type RateLimitConfig struct {
	AuthFailuresPerMin int `yaml:"auth_failures_per_min"`
	RequestsPerMin     int `yaml:"requests_per_min"`
}

const defaultAuthFailuresPerMin = 20

// RateLimiter implements sliding window rate limiting per (kind, key).
// Each window tracks timestamps of recent events.
type RateLimiter struct {
	mu     sync.Mutex
	limits map[string]limit
	events map[bucketKey][]time.Time
	now    func() time.Time
}

type limit struct {
	window time.Duration
	max    int
}

type bucketKey struct{ kind, key string }

// NewRateLimiter creates a rate limiter with the given config.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.AuthFailuresPerMin <= 0 {
		cfg.AuthFailuresPerMin = defaultAuthFailuresPerMin
	}
	rl := &RateLimiter{
		limits: map[string]limit{
			KindAuthFailure: {window: time.Minute, max: cfg.AuthFailuresPerMin},
		},
		events: make(map[bucketKey][]time.Time),
		now:    time.Now,
	}
	if cfg.RequestsPerMin > 0 {
		rl.limits[KindRequest] = limit{window: time.Minute, max: cfg.RequestsPerMin}
	}
	return rl
}

// Allow records one event for key and reports ErrRateLimited if the
// window is already full. Unknown kinds are never limited. A nil
// *RateLimiter allows everything.
func (rl *RateLimiter) Allow(kind, key string) error {
	if rl == nil {
		return nil
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	lim, ok := rl.limits[kind]
	if !ok {
		return nil
	}
	bk := bucketKey{kind, key}
	now := rl.now()
	events := evict(rl.events[bk], now.Add(-lim.window))
	if len(events) >= lim.max {
		rl.events[bk] = events
		return ErrRateLimited
	}
	rl.events[bk] = append(events, now)
	return nil
}

// Exceeded reports whether key has used up its window without recording
// an event.
func (rl *RateLimiter) Exceeded(kind, key string) bool {
	if rl == nil {
		return false
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	lim, ok := rl.limits[kind]
	if !ok {
		return false
	}
	bk := bucketKey{kind, key}
	events := evict(rl.events[bk], rl.now().Add(-lim.window))
	if len(events) == 0 {
		delete(rl.events, bk)
		return false
	}
	rl.events[bk] = events
	return len(events) >= lim.max
}

// Sweep drops keys whose windows are empty and returns how many it removed.
func (rl *RateLimiter) Sweep() int {
	if rl == nil {
		return 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for bk, events := range rl.events {
		lim := rl.limits[bk.kind]
		if len(evict(events, now.Add(-lim.window))) == 0 {
			delete(rl.events, bk)
			removed++
		}
	}
	return removed
}

// evict drops events before cutoff. Events are chronologically ordered.
func evict(events []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(events) && events[i].Before(cutoff) {
		i++
	}
	return events[i:]
}
