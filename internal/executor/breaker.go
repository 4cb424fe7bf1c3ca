package executor

import (
	"sync"
	"time"
)

const (
	breakerBaseOpen = 5 * time.Second
	breakerMaxOpen  = 60 * time.Second
	breakerResetSuccesses = 3
)

// CircuitBreaker is the counter-based breaker guarding the executor loop
// against a failing downstream. Once resumeAt passes, the breaker is half-open
// and allows a single probe.
type CircuitBreaker struct {
	mu sync.Mutex

	count     int
	tripped   bool
	resumeAt  time.Time
	successes int
}

// Trip opens the breaker. Repeated trips back off exponentially up to a
// minute.
func (b *CircuitBreaker) Trip(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.count++
	b.successes = 0
	b.tripped = true

	open := breakerBaseOpen << (b.count - 1)
	if b.count > 6 || open > breakerMaxOpen {
		open = breakerMaxOpen
	}
	b.resumeAt = now.Add(open)
}

// IsOpen reports whether execution is denied. Past resumeAt the breaker is
// half-open and permits a probe.
func (b *CircuitBreaker) IsOpen(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped && now.Before(b.resumeAt)
}

// HalfOpen reports whether the breaker is allowing a probe.
func (b *CircuitBreaker) HalfOpen(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped && !now.Before(b.resumeAt)
}

// RecordSuccess closes the breaker immediately. Three consecutive successes
// reset the trip count so the next failure starts the backoff from scratch.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tripped = false
	b.resumeAt = time.Time{}
	b.successes++
	if b.successes >= breakerResetSuccesses {
		b.count = 0
		b.successes = 0
	}
}

// TripCount reports the current trip count.
func (b *CircuitBreaker) TripCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}
