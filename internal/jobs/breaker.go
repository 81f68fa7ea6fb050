package jobs

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker's tagged state.
type BreakerState string

// Breaker states.
const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// Breaker is the process-wide three-state circuit breaker guarding the
// inference engine. Failure counting spans all jobs; the failure count
// increment and the trip to open are one atomic operation under the mutex,
// so concurrent failures cannot race past the threshold. After the
// cooldown exactly one half-open probe is admitted: its success closes the
// breaker, its failure reopens it and restarts the cooldown.
type Breaker struct {
	mu        sync.Mutex
	state     BreakerState
	failures  int
	openedAt  time.Time
	probing   bool
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

// NewBreaker creates a closed breaker. The now hook is overridable in
// tests to step through the cooldown without sleeping.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		state:     BreakerClosed,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a call to the engine may proceed. While open it
// rejects immediately until the cooldown elapses, then admits a single
// probe; further callers are rejected until that probe resolves.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = BreakerHalfOpen
		b.probing = true
		return true
	case BreakerHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// Success records a successful engine call.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = BreakerClosed
	b.failures = 0
	b.probing = false
}

// Failure records a failed engine call. A failed half-open probe reopens
// the breaker immediately; in closed state the breaker trips once the
// consecutive failure count reaches the threshold.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.state = BreakerOpen
		b.openedAt = b.now()
		b.probing = false
		return
	}

	b.failures++
	if b.state == BreakerClosed && b.failures >= b.threshold {
		b.state = BreakerOpen
		b.openedAt = b.now()
	}
}

// State returns the current state tag.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// SetClock overrides the time source, for tests.
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}
