package payment

import (
	"sync"
	"time"
)

const (
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 30 * time.Second
)

// CircuitBreaker trips after threshold consecutive failures and rejects calls
// until cooldown has elapsed; the next call is then let through as a probe.
type CircuitBreaker struct {
	mu        sync.RWMutex
	failures  int
	openedAt  time.Time
	open      bool
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = defaultBreakerThreshold
	}
	if cooldown <= 0 {
		cooldown = defaultBreakerCooldown
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	if cb.failures >= cb.threshold {
		// a failed probe restarts the cooldown
		cb.open = true
		cb.openedAt = cb.now()
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.open = false
}

func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if !cb.open {
		return false
	}
	return cb.now().Sub(cb.openedAt) < cb.cooldown
}

func (cb *CircuitBreaker) State() string {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	switch {
	case !cb.open:
		return "closed"
	case cb.now().Sub(cb.openedAt) >= cb.cooldown:
		return "half-open"
	default:
		return "open"
	}
}
