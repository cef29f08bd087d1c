package health

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// State represents the circuit breaker state.
type State = gobreaker.State

// Circuit breaker state constants.
const (
	StateClosed   = gobreaker.StateClosed
	StateOpen     = gobreaker.StateOpen
	StateHalfOpen = gobreaker.StateHalfOpen
)

// CircuitBreaker guards one target behind a sony/gobreaker two-step
// breaker. A target is any remote dependency: the proxied upstream, a
// JWKS endpoint, or a token introspection endpoint. Callers either use
// Allow and settle with the returned done func, or report outcomes
// directly via ReportSuccess and ReportFailure.
type CircuitBreaker struct {
	cb   *gobreaker.TwoStepCircuitBreaker[struct{}]
	name string
}

// NewCircuitBreaker builds a breaker for the named target. A nil logger
// silences state change logging.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig, logger *zerolog.Logger) *CircuitBreaker {
	probes := cfg.GetHalfOpenProbes()
	threshold := cfg.GetFailureThreshold()

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(probes), //nolint:gosec // getter returns a positive count
		Timeout:     cfg.GetOpenDuration(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold) //nolint:gosec // getter returns a positive count
		},
		OnStateChange: logStateChange(logger),
		IsSuccessful: func(err error) bool {
			// A canceled caller says nothing about target health.
			return err == nil || errors.Is(err, context.Canceled)
		},
	}

	return &CircuitBreaker{
		cb:   gobreaker.NewTwoStepCircuitBreaker[struct{}](settings),
		name: name,
	}
}

// logStateChange builds the gobreaker state change hook. Transitions to
// OPEN log at warn since they mean the target is being cut off.
func logStateChange(logger *zerolog.Logger) func(string, gobreaker.State, gobreaker.State) {
	return func(name string, from, to gobreaker.State) {
		if logger == nil {
			return
		}
		event := logger.Info()
		if to == gobreaker.StateOpen {
			event = logger.Warn()
		}
		event.
			Str("target", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("circuit breaker state change")
	}
}

// Allow asks the breaker whether a request may proceed. On success the
// caller must invoke done with the request's outcome error. When the
// circuit is open, Allow returns ErrCircuitOpen and a nil done.
func (c *CircuitBreaker) Allow() (done func(err error), err error) {
	d, err := c.cb.Allow()
	if err != nil {
		return nil, ErrCircuitOpen
	}
	return d, nil
}

// State returns the current circuit breaker state.
func (c *CircuitBreaker) State() State {
	return c.cb.State()
}

// Name returns the target this breaker guards.
func (c *CircuitBreaker) Name() string {
	return c.name
}

// report settles one synthetic request with the given outcome. It
// returns false when the open circuit refuses the request, in which
// case nothing was recorded.
func (c *CircuitBreaker) report(outcome error) bool {
	done, err := c.cb.Allow()
	if err != nil {
		return false
	}
	done(outcome)
	return true
}

// ReportSuccess records a successful operation, returning whether it was
// counted.
//
// While the circuit is OPEN the breaker refuses all requests, so a
// success observed elsewhere (a health probe, say) cannot be recorded
// and does not shorten the open period. The breaker moves to HALF-OPEN
// only after its timeout expires.
func (c *CircuitBreaker) ReportSuccess() bool {
	return c.report(nil)
}

// ReportFailure records a failed operation, returning whether it was
// counted. Failures while OPEN are dropped; the circuit is already
// tracking the outage.
func (c *CircuitBreaker) ReportFailure(err error) bool {
	return c.report(err)
}

// ShouldCountAsFailure decides whether a proxied response should feed the
// breaker as a failure. Upstream fault classes are 5xx and 429; 4xx
// responses mean the caller was wrong, not the target. Transport errors
// count unless the client canceled.
func ShouldCountAsFailure(statusCode int, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	return statusCode >= 500 || statusCode == 429
}
