// Package health keeps tokengate's remote dependencies behind circuit
// breakers and probes them for recovery.
//
// Each target (the proxied upstream, JWKS endpoints, introspection
// endpoints) gets a breaker that walks the usual CLOSED -> OPEN ->
// HALF-OPEN -> CLOSED cycle. While a circuit is OPEN, a background
// checker sends lightweight probes so recovery is noticed without
// burning real requests.
package health

import "time"

// Default configuration values.
const (
	DefaultFailureThreshold = 5     // consecutive failures to open circuit
	DefaultOpenDurationMS   = 30000 // 30 seconds before half-open
	DefaultHalfOpenProbes   = 3     // probes allowed in half-open state
	DefaultHealthCheckMS    = 10000 // 10 seconds between health checks
	DefaultHealthEnabled    = true  // health checks enabled by default
)

// positive returns v when it is a usable positive count, def otherwise.
func positive(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// msOrDefault converts a millisecond count to a Duration, substituting
// def when the count is zero or negative.
func msOrDefault(ms, def int) time.Duration {
	return time.Duration(positive(ms, def)) * time.Millisecond
}

// CircuitBreakerConfig tunes the per-target breakers. The zero value
// picks up every default, so an absent config section still works.
type CircuitBreakerConfig struct {
	// FailureThreshold is the consecutive failure count that opens a
	// circuit. Default: 5.
	FailureThreshold int `yaml:"failure_threshold" toml:"failure_threshold"`

	// OpenDurationMS is how long an open circuit refuses requests before
	// probing again, in milliseconds. Default: 30000.
	OpenDurationMS int `yaml:"open_duration_ms" toml:"open_duration_ms"`

	// HalfOpenProbes is how many trial requests a half-open circuit
	// admits. All must succeed to close; one failure reopens. Default: 3.
	HalfOpenProbes int `yaml:"half_open_probes" toml:"half_open_probes"`
}

// GetFailureThreshold returns the threshold, defaulted.
func (c *CircuitBreakerConfig) GetFailureThreshold() int {
	return positive(c.FailureThreshold, DefaultFailureThreshold)
}

// GetOpenDuration returns the open period, defaulted to 30s.
func (c *CircuitBreakerConfig) GetOpenDuration() time.Duration {
	return msOrDefault(c.OpenDurationMS, DefaultOpenDurationMS)
}

// GetHalfOpenProbes returns the probe budget, defaulted.
func (c *CircuitBreakerConfig) GetHalfOpenProbes() int {
	return positive(c.HalfOpenProbes, DefaultHalfOpenProbes)
}

// CheckConfig tunes the background recovery prober.
type CheckConfig struct {
	Enabled    *bool `yaml:"enabled"     toml:"enabled"`
	IntervalMS int   `yaml:"interval_ms" toml:"interval_ms"`
}

// GetInterval returns the probe interval, defaulted to 10s.
func (c *CheckConfig) GetInterval() time.Duration {
	return msOrDefault(c.IntervalMS, DefaultHealthCheckMS)
}

// IsEnabled reports whether probing is on. Unset means enabled; only an
// explicit false turns it off.
func (c *CheckConfig) IsEnabled() bool {
	if c.Enabled == nil {
		return DefaultHealthEnabled
	}
	return *c.Enabled
}

// Config is the health section of the gateway configuration.
type Config struct {
	HealthCheck    CheckConfig          `yaml:"health_check"    toml:"health_check"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" toml:"circuit_breaker"`
}
