package scheduler

import (
	"sync"
	"time"
)

// RateLimiter bounds how many requests each requester may submit within
// a fixed window that starts at their first counted request.
//
// A window is expired once now - windowStart >= window. Records are
// created lazily and never deleted; their number is bounded by the
// number of distinct requesters.
//
// Thread Safety: all methods are safe for concurrent use. Use TryAcquire
// when the check and the increment must be one atomic step.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	clock   Clock
	records map[string]*rateRecord
}

type rateRecord struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter creates a limiter admitting limit requests per window.
func NewRateLimiter(limit int, window time.Duration, clock Clock) *RateLimiter {
	if clock == nil {
		clock = SystemClock()
	}
	return &RateLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		records: make(map[string]*rateRecord),
	}
}

// Authorize reports whether userID may submit another request now.
func (r *RateLimiter) Authorize(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.authorizeLocked(userID, r.clock.Now())
}

// Record counts one accepted request for userID, starting a new window
// if the previous one has expired.
func (r *RateLimiter) Record(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordLocked(userID, r.clock.Now())
}

// TryAcquire authorizes and records in one critical section.
func (r *RateLimiter) TryAcquire(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	if !r.authorizeLocked(userID, now) {
		return false
	}
	r.recordLocked(userID, now)
	return true
}

// Remaining returns how many more requests userID may submit in the
// current window.
func (r *RateLimiter) Remaining(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[userID]
	if !ok || r.expired(rec, r.clock.Now()) {
		return r.limit
	}
	return max(0, r.limit-rec.count)
}

// ResetIn returns the time until userID's window expires, or zero if no
// window is open.
func (r *RateLimiter) ResetIn(userID string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	rec, ok := r.records[userID]
	if !ok || r.expired(rec, now) {
		return 0
	}
	return r.window - now.Sub(rec.windowStart)
}

// Limit returns the configured per-window maximum.
func (r *RateLimiter) Limit() int {
	return r.limit
}

func (r *RateLimiter) authorizeLocked(userID string, now time.Time) bool {
	rec, ok := r.records[userID]
	if !ok || r.expired(rec, now) {
		return true
	}
	return rec.count < r.limit
}

func (r *RateLimiter) recordLocked(userID string, now time.Time) {
	rec, ok := r.records[userID]
	if !ok {
		rec = &rateRecord{windowStart: now}
		r.records[userID] = rec
	} else if r.expired(rec, now) {
		rec.count = 0
		rec.windowStart = now
	}
	rec.count++
}

func (r *RateLimiter) expired(rec *rateRecord, now time.Time) bool {
	return now.Sub(rec.windowStart) >= r.window
}
