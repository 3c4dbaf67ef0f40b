// Package proxy implements the routing core: per-URL circuit breakers, the
// URL router that picks among a provider's candidate base URLs, and the
// failover switch manager that promotes providers after a successful
// failover.
package proxy

import (
	"sync"
	"time"

	"github.com/tobenna/switchboard/internal/core/domain"
)

const (
	DefaultFailureThreshold   = 3
	DefaultSuccessThreshold   = 2
	DefaultBreakerTimeout     = 30 * time.Second
	DefaultErrorRateThreshold = 0.5
	DefaultMinRequests        = 5
	DefaultWindowSize         = 50
)

// BreakerConfig parameterises a single circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures in Closed that
	// trips the breaker.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive successes in HalfOpen
	// that closes the breaker again.
	SuccessThreshold int
	// Timeout is the minimum time spent Open before recovery is permitted.
	Timeout time.Duration
	// ErrorRateThreshold trips the breaker from the rolling window even
	// before FailureThreshold is reached.
	ErrorRateThreshold float64
	// MinRequests is the minimum window sample before the rate rule applies.
	MinRequests int
	// WindowSize is the capacity of the rolling outcome window.
	WindowSize int
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:   DefaultFailureThreshold,
		SuccessThreshold:   DefaultSuccessThreshold,
		Timeout:            DefaultBreakerTimeout,
		ErrorRateThreshold: DefaultErrorRateThreshold,
		MinRequests:        DefaultMinRequests,
		WindowSize:         DefaultWindowSize,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 1
	}
	return c
}

// outcomeWindow is a fixed-size ring of the most recent request outcomes,
// tracking how many of them were failures.
type outcomeWindow struct {
	slots    []bool // true = failure
	next     int
	size     int
	failures int
}

func newOutcomeWindow(capacity int) *outcomeWindow {
	return &outcomeWindow{slots: make([]bool, capacity)}
}

func (w *outcomeWindow) add(failure bool) {
	if w.size == len(w.slots) {
		if w.slots[w.next] {
			w.failures--
		}
	} else {
		w.size++
	}
	w.slots[w.next] = failure
	if failure {
		w.failures++
	}
	w.next = (w.next + 1) % len(w.slots)
}

func (w *outcomeWindow) failureRate() float64 {
	if w.size == 0 {
		return 0
	}
	return float64(w.failures) / float64(w.size)
}

func (w *outcomeWindow) reset() {
	for i := range w.slots {
		w.slots[i] = false
	}
	w.next, w.size, w.failures = 0, 0, 0
}

// CircuitBreaker is the state machine guarding a single URL. All state
// transitions are driven by RecordSuccess/RecordFailure; observers only read.
type CircuitBreaker struct {
	mu sync.Mutex

	cfg    BreakerConfig
	state  domain.CircuitState
	window *outcomeWindow

	consecutiveFailures  int
	consecutiveSuccesses int
	openedAt             time.Time
	permitIssued         bool

	now func() time.Time
}

func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	cfg = cfg.withDefaults()
	return &CircuitBreaker{
		cfg:    cfg,
		state:  domain.CircuitClosed,
		window: newOutcomeWindow(cfg.WindowSize),
		now:    time.Now,
	}
}

// IsAvailable reports whether traffic may be sent through this breaker:
// false only while Open with the cooldown not yet elapsed.
func (cb *CircuitBreaker) IsAvailable() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.availableLocked()
}

func (cb *CircuitBreaker) availableLocked() bool {
	if cb.state != domain.CircuitOpen {
		return true
	}
	return cb.now().Sub(cb.openedAt) >= cb.cfg.Timeout
}

// TryAcquirePermit transitions an Open breaker whose cooldown has elapsed to
// HalfOpen and issues the single trial permit. URL-level callers do not use
// this; they record with withPermit=false and rely on next-request probing.
func (cb *CircuitBreaker) TryAcquirePermit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case domain.CircuitOpen:
		if !cb.availableLocked() {
			return false
		}
		cb.state = domain.CircuitHalfOpen
		cb.consecutiveSuccesses = 0
		cb.permitIssued = true
		return true
	case domain.CircuitHalfOpen:
		if cb.permitIssued {
			return false
		}
		cb.permitIssued = true
		return true
	default:
		return false
	}
}

// RecordSuccess feeds a successful outcome into the state machine.
func (cb *CircuitBreaker) RecordSuccess(withPermit bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.window.add(false)
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses++

	switch cb.state {
	case domain.CircuitOpen:
		// Without the permit guard, traffic flows again once the cooldown
		// elapses; a success then counts as a half-open probe.
		if !cb.availableLocked() {
			return
		}
		cb.state = domain.CircuitHalfOpen
		fallthrough
	case domain.CircuitHalfOpen:
		if withPermit {
			cb.permitIssued = false
		}
		if cb.consecutiveSuccesses >= cb.cfg.SuccessThreshold {
			cb.toClosedLocked()
		}
	case domain.CircuitClosed:
	}
}

// RecordFailure feeds a failed outcome into the state machine.
func (cb *CircuitBreaker) RecordFailure(withPermit bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.window.add(true)
	cb.consecutiveSuccesses = 0
	cb.consecutiveFailures++

	switch cb.state {
	case domain.CircuitClosed:
		if cb.shouldTripLocked() {
			cb.toOpenLocked()
		}
	case domain.CircuitHalfOpen:
		if withPermit {
			cb.permitIssued = false
		}
		cb.toOpenLocked()
	case domain.CircuitOpen:
		// A failed probe while Open restarts the cooldown.
		cb.openedAt = cb.now()
	}
}

func (cb *CircuitBreaker) shouldTripLocked() bool {
	if cb.consecutiveFailures >= cb.cfg.FailureThreshold {
		return true
	}
	return cb.window.size >= cb.cfg.MinRequests &&
		cb.window.failureRate() >= cb.cfg.ErrorRateThreshold
}

func (cb *CircuitBreaker) toOpenLocked() {
	cb.state = domain.CircuitOpen
	cb.openedAt = cb.now()
	cb.permitIssued = false
}

func (cb *CircuitBreaker) toClosedLocked() {
	cb.state = domain.CircuitClosed
	cb.openedAt = time.Time{}
	cb.permitIssued = false
	cb.window.reset()
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() domain.CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns a snapshot of the breaker's counters.
func (cb *CircuitBreaker) Stats() domain.CircuitStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	stats := domain.CircuitStats{
		ConsecutiveFailures:  cb.consecutiveFailures,
		ConsecutiveSuccesses: cb.consecutiveSuccesses,
		RequestsInWindow:     cb.window.size,
		FailuresInWindow:     cb.window.failures,
	}
	if !cb.openedAt.IsZero() {
		openedAt := cb.openedAt
		stats.OpenedAt = &openedAt
	}
	return stats
}
