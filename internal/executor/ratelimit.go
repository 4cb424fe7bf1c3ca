package executor

import (
	"sync"
	"time"
)

const rateWindow = 60 * time.Second

// RateLimiter is a sliding-window limiter over the last 60 seconds.
// CanExecute is the guard-pipeline check; Record is called only after all
// guards pass and execution is committed.
type RateLimiter struct {
	mu    sync.Mutex
	limit int
	times []time.Time
}

// NewRateLimiter builds a limiter allowing limit executions per window.
func NewRateLimiter(limit int) *RateLimiter {
	if limit <= 0 {
		limit = 6
	}
	return &RateLimiter{limit: limit}
}

// CanExecute prunes expired timestamps and reports whether budget remains.
func (r *RateLimiter) CanExecute(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(now)
	return len(r.times) < r.limit
}

// Record consumes one unit of budget.
func (r *RateLimiter) Record(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(now)
	r.times = append(r.times, now)
}

// Remaining reports the unused budget.
func (r *RateLimiter) Remaining(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(now)
	return r.limit - len(r.times)
}

func (r *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-rateWindow)
	kept := r.times[:0]
	for _, t := range r.times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.times = kept
}
