// Reactive rate limiting over samber/ro observables.
//
// These operators are an alternative to Limiter for stream processing:
// Limiter answers "is this client over budget" synchronously per request,
// while the operators below bound how many items per key flow through an
// event stream (the audit decision stream caps log volume per decision
// class this way). Over-budget items are held back by the ro native
// plugin rather than rejected.

package ratelimit

import (
	"time"

	"github.com/samber/ro"
	roratelimit "github.com/samber/ro/plugins/ratelimit/native"
)

// DefaultInterval is the budget window used when none is given.
const DefaultInterval = time.Minute

func normalizeInterval(interval time.Duration) time.Duration {
	if interval == 0 {
		return DefaultInterval
	}
	return interval
}

// NewLimitOperator returns a per-key budget operator for ro.Pipe
// composition. Items sharing a key share a budget of count per interval;
// a keyGetter returning a constant gives one global budget.
//
//	op := ratelimit.NewLimitOperator[Event](50, time.Minute, func(e Event) string {
//	    return e.Decision
//	})
//	limited := ro.Pipe1(stream, op)
func NewLimitOperator[T any](
	count int64,
	interval time.Duration,
	keyGetter func(T) string,
) func(ro.Observable[T]) ro.Observable[T] {
	return roratelimit.NewRateLimiter[T](count, normalizeInterval(interval), keyGetter)
}

// Limit is the direct form of NewLimitOperator for a single stream.
func Limit[T any](
	source ro.Observable[T],
	count int64,
	interval time.Duration,
	keyGetter func(T) string,
) ro.Observable[T] {
	return ro.Pipe1(source, NewLimitOperator[T](count, interval, keyGetter))
}
