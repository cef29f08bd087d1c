package ratelimit

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestLimiter_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	// Property 1: Constructor always returns non-nil limiter
	properties.Property("constructor returns non-nil", prop.ForAll(
		func(fpm, burst int) bool {
			return New(fpm, burst) != nil
		},
		gen.IntRange(-100, 1000),
		gen.IntRange(-100, 1000),
	))

	// Property 2: Non-positive budget disables the throttle entirely
	properties.Property("non-positive budget never throttles", prop.ForAll(
		func(fpm, burst, failures int) bool {
			if fpm > 0 {
				return true // Only test disabled configs
			}

			limiter := New(fpm, burst)
			for i := 0; i < failures; i++ {
				limiter.RecordFailure("client")
			}

			return !limiter.Throttled("client") && limiter.Usage().TrackedClients == 0
		},
		gen.IntRange(-1000, 0),
		gen.IntRange(-100, 100),
		gen.IntRange(0, 50),
	))

	// Property 3: A client with no recorded failures is never throttled
	properties.Property("fresh client never throttled", prop.ForAll(
		func(fpm, burst int) bool {
			limiter := New(fpm, burst)
			return !limiter.Throttled("10.0.0.1")
		},
		gen.IntRange(1, 1000),
		gen.IntRange(0, 1000),
	))

	// Property 4: Throttling begins exactly when the burst is exhausted.
	// A refill rate of 1/minute keeps the bucket effectively static.
	properties.Property("burst bounds failures before throttle", prop.ForAll(
		func(burst int) bool {
			limiter := New(1, burst)

			for i := 0; i < burst-1; i++ {
				limiter.RecordFailure("client")
			}
			if limiter.Throttled("client") {
				return false // One token should remain
			}

			limiter.RecordFailure("client")
			return limiter.Throttled("client")
		},
		gen.IntRange(1, 50),
	))

	// Property 5: Failures against one client never throttle another
	properties.Property("clients are isolated", prop.ForAll(
		func(burst, failures int) bool {
			limiter := New(1, burst)
			for i := 0; i < failures; i++ {
				limiter.RecordFailure("10.0.0.1")
			}
			return !limiter.Throttled("10.0.0.2")
		},
		gen.IntRange(1, 20),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}

func TestLimiter_Usage_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	// Property 1: Burst falls back to the per-minute budget
	properties.Property("burst defaults to budget", prop.ForAll(
		func(fpm, burst int) bool {
			limiter := New(fpm, burst)
			usage := limiter.Usage()

			if burst > 0 {
				return usage.Burst == burst
			}
			return usage.Burst == fpm
		},
		gen.IntRange(1, 1000),
		gen.IntRange(-10, 1000),
	))

	// Property 2: Throttled count never exceeds tracked count
	properties.Property("throttled <= tracked", prop.ForAll(
		func(burst, clients, failures int) bool {
			limiter := New(1, burst)
			for c := 0; c < clients; c++ {
				for i := 0; i < failures; i++ {
					limiter.RecordFailure(fmt.Sprintf("10.0.0.%d", c))
				}
			}

			usage := limiter.Usage()
			return usage.ThrottledClients <= usage.TrackedClients &&
				usage.TrackedClients <= clients
		},
		gen.IntRange(1, 10),
		gen.IntRange(0, 20),
		gen.IntRange(0, 15),
	))

	// Property 3: Tracked clients mirrors distinct failing clients
	properties.Property("tracked counts distinct clients", prop.ForAll(
		func(clients int) bool {
			limiter := New(60, 10)
			for c := 0; c < clients; c++ {
				limiter.RecordFailure(fmt.Sprintf("10.0.0.%d", c))
			}
			return limiter.Usage().TrackedClients == clients
		},
		gen.IntRange(0, 50),
	))

	properties.TestingRun(t)
}
