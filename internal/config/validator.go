// Package config provides configuration loading, parsing, and validation for tokengate.
package config

import (
	"net"
	"net/url"
	"strings"
)

// Strategy type constants.
const (
	StrategyJWT        = "jwt"
	StrategyStatic     = "static"
	StrategyIntrospect = "introspect"
	StrategyAnonymous  = "anonymous"
)

// Valid strategy types.
var validStrategyTypes = map[string]bool{
	StrategyJWT:        true,
	StrategyStatic:     true,
	StrategyIntrospect: true,
	StrategyAnonymous:  true,
}

// Valid JWT signing algorithms.
var validAlgorithms = map[string]bool{
	"HS256": true,
	"HS384": true,
	"HS512": true,
	"RS256": true,
	"RS384": true,
	"RS512": true,
	"ES256": true,
	"ES384": true,
	"ES512": true,
	"PS256": true,
	"PS384": true,
	"PS512": true,
	"EdDSA": true,
}

// Valid logging levels.
var validLogLevels = map[string]bool{
	"":      true, // Empty defaults to info
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Valid logging formats.
var validLogFormats = map[string]bool{
	"":        true, // Empty defaults to json
	"json":    true,
	"console": true,
	"text":    true, // Alias for console
	"pretty":  true,
}

// Validate checks the configuration for errors.
// It validates all required fields, valid values, and cross-field constraints.
// Returns a ValidationError containing all errors found, or nil if valid.
func (c *Config) Validate() error {
	errs := &ValidationError{}

	validateServer(c, errs)
	validateUpstream(c, errs)
	validateAuth(c, errs)
	validateThrottle(c, errs)
	validateLogging(c, errs)

	return errs.ToError()
}

// validateServer validates the server configuration section.
func validateServer(c *Config, errs *ValidationError) {
	// Server.Listen is required
	if c.Server.Listen == "" {
		errs.Add("server.listen is required")
	} else {
		// Validate listen address format (host:port)
		validateListenAddress(c.Server.Listen, errs)
	}

	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		errs.Addf("server.base_path must start with / (got %q)", c.Server.BasePath)
	}

	// Validate timeout if set
	if c.Server.TimeoutMS < 0 {
		errs.Add("server.timeout_ms must be >= 0")
	}

	// Validate max_concurrent if set
	if c.Server.MaxConcurrent < 0 {
		errs.Add("server.max_concurrent must be >= 0")
	}

	// Validate max_body_bytes if set
	if c.Server.MaxBodyBytes < 0 {
		errs.Add("server.max_body_bytes must be >= 0")
	}
}

// validateListenAddress validates a listen address in host:port format.
func validateListenAddress(addr string, errs *ValidationError) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		errs.Addf("server.listen must be in host:port format (got %q)", addr)
		return
	}

	// Host can be empty (listen on all interfaces) or a valid IP/hostname
	if host != "" {
		// Try to parse as IP
		if ip := net.ParseIP(host); ip == nil {
			// Not an IP, treat as hostname - basic validation
			if strings.ContainsAny(host, " \t\n") {
				errs.Add("server.listen host contains invalid characters")
			}
		}
	}

	// Port must be a number (SplitHostPort doesn't validate this)
	if port == "" {
		errs.Add("server.listen port is required")
	}
}

// validateUpstream validates the upstream configuration section.
func validateUpstream(c *Config, errs *ValidationError) {
	// Upstream.URL is required; the gateway has nothing to forward to without it
	if c.Upstream.URL == "" {
		errs.Add("upstream.url is required")
	} else {
		u, err := url.Parse(c.Upstream.URL)
		switch {
		case err != nil, u.Scheme == "", u.Host == "":
			errs.Addf("upstream.url must be an absolute URL (got %q)", c.Upstream.URL)
		case u.Scheme != "http" && u.Scheme != "https":
			errs.Addf("upstream.url scheme must be http or https (got %q)", u.Scheme)
		}
	}

	if c.Upstream.HealthPath != "" && !strings.HasPrefix(c.Upstream.HealthPath, "/") {
		errs.Addf("upstream.health_path must start with / (got %q)", c.Upstream.HealthPath)
	}

	if c.Upstream.TimeoutMS < 0 {
		errs.Add("upstream.timeout_ms must be >= 0")
	}
}

// validateAuth validates the auth configuration section.
func validateAuth(c *Config, errs *ValidationError) {
	if c.Auth.CacheTTLMS < 0 {
		errs.Add("auth.cache_ttl_ms must be >= 0")
	}

	if err := c.Auth.Responses.Validate(); err != nil {
		errs.Addf("auth.responses: %v", err)
	}

	for i := range c.Auth.Exclusions {
		if err := c.Auth.Exclusions[i].Validate(); err != nil {
			errs.Addf("auth.exclusions[%d]: %v", i, err)
		}
	}

	for i := range c.Auth.Strategies {
		validateStrategy(&c.Auth.Strategies[i], i, errs)
	}
}

// validateStrategy validates a single chain strategy.
func validateStrategy(s *StrategyConfig, index int, errs *ValidationError) {
	// Type is required
	if s.Type == "" {
		errs.Addf("auth.strategies[%d].type is required", index)
		return
	}
	if !validStrategyTypes[s.Type] {
		errs.Addf("auth.strategies[%d].type is invalid (got %q, valid: jwt, static, introspect, anonymous)",
			index, s.Type)
		return
	}

	switch s.Type {
	case StrategyJWT:
		validateJWTStrategy(s, index, errs)
	case StrategyStatic:
		validateStaticStrategy(s, index, errs)
	case StrategyIntrospect:
		validateIntrospectStrategy(s, index, errs)
	}
}

// validateJWTStrategy checks key material, domain entries, and verify options.
func validateJWTStrategy(s *StrategyConfig, index int, errs *ValidationError) {
	if !s.HasKeyMaterial() && len(s.Domains) == 0 {
		errs.Addf("auth.strategies[%d]: jwt strategy requires a secret, public_key_file, jwks_url, or domains",
			index)
	}

	// Tokens that resolve no domain entry fall back to the flat key
	// material; when there is none, the table itself must provide the
	// fallback via a "default" entry.
	if len(s.Domains) > 0 && !s.HasKeyMaterial() {
		if _, ok := s.Domains["default"]; !ok {
			errs.Addf(`auth.strategies[%d].domains needs a "default" entry when no flat key material is set`,
				index)
		}
	}

	for name := range s.Domains {
		domain := s.Domains[name]
		if !domain.HasKeyMaterial() {
			errs.Addf("auth.strategies[%d].domains[%s]: %v", index, name, ErrKeyMaterialRequired)
		}
	}

	for _, alg := range s.Algorithms {
		if !validAlgorithms[alg] {
			errs.Addf("auth.strategies[%d].algorithms: unknown algorithm %q", index, alg)
		}
	}

	if s.LeewayMS < 0 {
		errs.Addf("auth.strategies[%d].leeway_ms must be >= 0", index)
	}
}

// validateStaticStrategy checks the literal token list.
func validateStaticStrategy(s *StrategyConfig, index int, errs *ValidationError) {
	if len(s.Tokens) == 0 {
		errs.Addf("auth.strategies[%d]: static strategy requires at least one token", index)
	}

	for j := range s.Tokens {
		if s.Tokens[j].Token == "" {
			errs.Addf("auth.strategies[%d].tokens[%d].token is required", index, j)
		}
	}
}

// validateIntrospectStrategy checks the remote introspection settings.
func validateIntrospectStrategy(s *StrategyConfig, index int, errs *ValidationError) {
	if s.Endpoint == "" {
		errs.Addf("auth.strategies[%d].endpoint is required", index)
	} else if u, err := url.Parse(s.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
		errs.Addf("auth.strategies[%d].endpoint must be an absolute URL (got %q)", index, s.Endpoint)
	}

	if s.ClientID == "" {
		errs.Addf("auth.strategies[%d].client_id is required", index)
	}

	if s.TokenURL != "" && s.ClientSecret == "" {
		errs.Addf("auth.strategies[%d].client_secret is required when token_url is set", index)
	}

	if s.TimeoutMS < 0 {
		errs.Addf("auth.strategies[%d].timeout_ms must be >= 0", index)
	}
}

// validateThrottle validates the failed-auth throttle section.
func validateThrottle(c *Config, errs *ValidationError) {
	if c.Throttle.FailuresPerMinute < 0 {
		errs.Add("throttle.failures_per_minute must be >= 0")
	}
	if c.Throttle.Burst < 0 {
		errs.Add("throttle.burst must be >= 0")
	}
}

// validateLogging validates the logging configuration section.
func validateLogging(c *Config, errs *ValidationError) {
	// Level must be valid if set
	if !validLogLevels[c.Logging.Level] {
		errs.Addf("logging.level is invalid (got %q, valid: debug, info, warn, error)",
			c.Logging.Level)
	}

	// Format must be valid if set
	if !validLogFormats[c.Logging.Format] {
		errs.Addf("logging.format is invalid (got %q, valid: json, console, text, pretty)",
			c.Logging.Format)
	}

	// MaxClaimsLogSize must be non-negative
	if c.Logging.DebugOptions.MaxClaimsLogSize < 0 {
		errs.Add("logging.debug_options.max_claims_log_size must be >= 0")
	}
}
