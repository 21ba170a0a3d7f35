// Package ratelimit provides the per-session token buckets consulted by
// pipeline stage 4. Buckets are created lazily on first use and evicted
// when the session ends.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config sizes every session's bucket. Tokens refill at
// RequestsPerMinute/60 per second up to BurstSize.
type Config struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	BurstSize         int     `yaml:"burst_size"`
}

// Decision is the outcome of one TryConsume call. On deny, RetryAfter is
// the wall-clock seconds until one token is available.
type Decision struct {
	Allowed    bool
	RetryAfter float64
}

// SessionLimiter owns one token bucket per live session.
type SessionLimiter struct {
	cfg Config
	now func() time.Time

	mu      sync.RWMutex
	buckets map[string]*rate.Limiter
}

// New creates a limiter with the given bucket sizing.
func New(cfg Config) *SessionLimiter {
	return &SessionLimiter{
		cfg:     cfg,
		now:     time.Now,
		buckets: make(map[string]*rate.Limiter),
	}
}

// SetClock replaces the wall clock. Test hook.
func (l *SessionLimiter) SetClock(now func() time.Time) {
	l.now = now
}

// TryConsume takes one token from the session's bucket, creating the
// bucket on first use. Exactly BurstSize consecutive calls succeed on a
// fresh bucket; a denied call leaves the bucket unchanged.
func (l *SessionLimiter) TryConsume(sessionID string) Decision {
	b := l.bucket(sessionID)
	now := l.now()

	r := b.ReserveN(now, 1)
	if !r.OK() {
		// Requested more than the burst allows; cannot ever succeed.
		return Decision{Allowed: false, RetryAfter: 60 / l.cfg.RequestsPerMinute}
	}
	if delay := r.DelayFrom(now); delay > 0 {
		// Not enough tokens right now. Give the token back so the deny
		// does not shift the refill schedule.
		r.CancelAt(now)
		return Decision{Allowed: false, RetryAfter: delay.Seconds()}
	}
	return Decision{Allowed: true}
}

// Evict drops the session's bucket. Called on session destruction.
func (l *SessionLimiter) Evict(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, sessionID)
}

// Len reports the number of live buckets.
func (l *SessionLimiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buckets)
}

func (l *SessionLimiter) bucket(sessionID string) *rate.Limiter {
	l.mu.RLock()
	b, ok := l.buckets[sessionID]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.buckets[sessionID]; ok {
		return b
	}
	b = rate.NewLimiter(rate.Limit(l.cfg.RequestsPerMinute/60), l.cfg.BurstSize)
	l.buckets[sessionID] = b
	return b
}
