package config

import (
	"github.com/tokengate/tokengate/internal/cache"
	"github.com/tokengate/tokengate/internal/health"
)

// Test helpers with all fields initialized for exhaustruct compliance.

// MakeTestConfig returns a minimal valid Config with all fields set.
func MakeTestConfig() *Config {
	return &Config{
		Auth:     MakeTestAuthConfig(),
		Logging:  MakeTestLoggingConfig(),
		Health:   MakeTestHealthConfig(),
		Server:   MakeTestServerConfig(),
		Upstream: MakeTestUpstreamConfig(),
		Throttle: MakeTestThrottleConfig(),
		Cache:    MakeTestCacheConfig(),
	}
}

// MakeTestServerConfig returns a minimal ServerConfig with all fields set.
func MakeTestServerConfig() ServerConfig {
	return ServerConfig{
		Listen:        "127.0.0.1:8080",
		BasePath:      "",
		TimeoutMS:     60000,
		MaxConcurrent: 0,
		MaxBodyBytes:  0,
		EnableHTTP2:   false,
	}
}

// MakeTestUpstreamConfig returns a minimal UpstreamConfig with all fields set.
func MakeTestUpstreamConfig() UpstreamConfig {
	return UpstreamConfig{
		URL:        "http://127.0.0.1:9000",
		HealthPath: "",
		TimeoutMS:  0,
	}
}

// MakeTestAuthConfig returns a minimal AuthConfig with all fields set.
func MakeTestAuthConfig() AuthConfig {
	return AuthConfig{
		Header:          "",
		Scheme:          nil,
		DomainClaim:     "",
		CacheTTLMS:      0,
		ContinueOnError: false,
		Strategies:      []StrategyConfig{MakeTestStrategyConfig()},
		Exclusions:      []ExclusionRule{},
		Responses:       MakeTestResponsesConfig(),
	}
}

// MakeTestStrategyConfig returns a minimal StrategyConfig with all fields set.
func MakeTestStrategyConfig() StrategyConfig {
	return StrategyConfig{
		Type:          StrategyJWT,
		Secret:        "test-secret",
		PublicKeyFile: "",
		JWKSURL:       "",
		Audience:      StringList{},
		Issuer:        "",
		Algorithms:    StringList{},
		LeewayMS:      0,
		RequireExpiry: nil,
		Domains:       map[string]DomainConfig{},
		Tokens:        []StaticTokenConfig{},
		Endpoint:      "",
		ClientID:      "",
		ClientSecret:  "",
		TokenURL:      "",
		TimeoutMS:     0,
	}
}

// MakeTestResponsesConfig returns a minimal ResponsesConfig with all fields set.
func MakeTestResponsesConfig() ResponsesConfig {
	return ResponsesConfig{
		UnauthorizedStatus: 0,
		BadRequestStatus:   0,
		ServerErrorStatus:  0,
		BodyTemplate:       "",
	}
}

// MakeTestThrottleConfig returns a minimal ThrottleConfig with all fields set.
func MakeTestThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		FailuresPerMinute: 0,
		Burst:             0,
	}
}

// MakeTestLoggingConfig returns a minimal LoggingConfig with all fields set.
func MakeTestLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:        "info",
		Format:       "json",
		Output:       "stdout",
		Pretty:       false,
		DebugOptions: MakeTestDebugOptions(),
	}
}

// MakeTestDebugOptions returns a minimal DebugOptions with all fields set.
func MakeTestDebugOptions() DebugOptions {
	return DebugOptions{
		LogRequestHeaders:   false,
		LogClaims:           false,
		LogExclusionMatches: false,
		MaxClaimsLogSize:    1000,
	}
}

// MakeTestHealthConfig returns a minimal health.Config with all fields set.
func MakeTestHealthConfig() health.Config {
	return health.Config{
		HealthCheck: health.CheckConfig{
			Enabled:    boolPtr(true),
			IntervalMS: 10000,
		},
		CircuitBreaker: health.CircuitBreakerConfig{
			OpenDurationMS:   30000,
			FailureThreshold: 5,
			HalfOpenProbes:   3,
		},
	}
}

// MakeTestCacheConfig returns a minimal cache.Config with all fields set.
func MakeTestCacheConfig() cache.Config {
	return cache.Config{
		Mode:      cache.ModeDisabled,
		Olric:     cache.DefaultOlricConfig(),
		Ristretto: cache.DefaultRistrettoConfig(),
	}
}

// MakeTestValidationError returns a ValidationError with Errors initialized.
func MakeTestValidationError() *ValidationError {
	return &ValidationError{
		Errors: []string{},
	}
}

// boolPtr returns a pointer to a bool.
func boolPtr(b bool) *bool {
	return &b
}
