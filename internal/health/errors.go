package health

import "errors"

var (
	// ErrCircuitOpen reports that the target's breaker is refusing
	// requests until its open period ends.
	ErrCircuitOpen = errors.New("health: circuit breaker is open")

	// ErrHealthCheckFailed reports that a recovery probe got an
	// unhealthy response.
	ErrHealthCheckFailed = errors.New("health: health check failed")
)
