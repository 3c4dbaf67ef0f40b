package domain

import "time"

// CircuitState is the per-URL breaker state. In-memory only; the store keeps
// the derived is_healthy flag instead.
type CircuitState int32

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitStats is a point-in-time snapshot of a breaker's counters.
type CircuitStats struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	RequestsInWindow     int
	FailuresInWindow     int
	OpenedAt             *time.Time
}
