// Package config provides configuration loading and parsing for tokengate.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/mo"
	"gopkg.in/yaml.v3"

	"github.com/tokengate/tokengate/internal/cache"
	"github.com/tokengate/tokengate/internal/health"
)

// Configuration errors.
var (
	ErrPatternRequired     = errors.New("config: exclusion pattern is required")
	ErrKeyMaterialRequired = errors.New("config: a secret, public_key_file, or jwks_url is required")
)

// RuntimeConfig defines the interface for accessing runtime configuration that supports hot-reload.
// Components that need to observe config changes should use this interface instead of
// holding a direct *Config pointer, which would become stale after hot-reload.
//
// Usage pattern:
//
//	func (g *Live) Middleware(next http.Handler) http.Handler {
//		cfg := g.runtime.Get()
//		header := cfg.Auth.GetHeader()
//		// Use header for this request...
//	}
type RuntimeConfig interface {
	Get() *Config
}

// InvalidPatternError is returned when an exclusion pattern does not compile.
type InvalidPatternError struct {
	Err     error
	Pattern string
}

func (e InvalidPatternError) Error() string {
	return fmt.Sprintf("config: invalid exclusion pattern %q: %v", e.Pattern, e.Err)
}

func (e InvalidPatternError) Unwrap() error {
	return e.Err
}

// InvalidStatusError is returned when a response status override is outside the HTTP range.
type InvalidStatusError struct {
	Field  string
	Status int
}

func (e InvalidStatusError) Error() string {
	return fmt.Sprintf("config: %s must be 100-599, got %d", e.Field, e.Status)
}

// Log level constants.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Config represents the complete tokengate configuration.
type Config struct {
	Auth     AuthConfig     `yaml:"auth" toml:"auth"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Health   health.Config  `yaml:"health" toml:"health"`
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Upstream UpstreamConfig `yaml:"upstream" toml:"upstream"`
	Throttle ThrottleConfig `yaml:"throttle" toml:"throttle"`
	Cache    cache.Config   `yaml:"cache" toml:"cache"`
}

// StringList is a []string that also accepts a single scalar in YAML, so
// `audience: api` and `audience: [api, admin]` both parse.
type StringList []string

// UnmarshalYAML accepts either a sequence or a bare scalar.
func (s *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var single string
		if err := value.Decode(&single); err != nil {
			return err
		}
		*s = StringList{single}
	case yaml.SequenceNode:
		var many []string
		if err := value.Decode(&many); err != nil {
			return err
		}
		*s = StringList(many)
	default:
		return fmt.Errorf("config: cannot decode %s node into a string list", value.Tag)
	}
	return nil
}

// ServerConfig defines server-level settings.
type ServerConfig struct {
	Listen        string `yaml:"listen" toml:"listen"`
	BasePath      string `yaml:"base_path" toml:"base_path"` // Prefix stripped before exclusion matching
	TimeoutMS     int    `yaml:"timeout_ms" toml:"timeout_ms"`
	MaxConcurrent int    `yaml:"max_concurrent" toml:"max_concurrent"`
	MaxBodyBytes  int64  `yaml:"max_body_bytes" toml:"max_body_bytes"`
	EnableHTTP2   bool   `yaml:"enable_http2" toml:"enable_http2"` // Enable HTTP/2 cleartext (h2c) support
}

// UpstreamConfig defines the backend service requests are forwarded to.
type UpstreamConfig struct {
	// URL is the base URL of the upstream service.
	URL string `yaml:"url" toml:"url"`

	// HealthPath is the upstream path probed by the background health checker.
	// Empty disables upstream probing.
	HealthPath string `yaml:"health_path" toml:"health_path"`

	// TimeoutMS bounds a single proxied round trip. Zero means no limit.
	TimeoutMS int `yaml:"timeout_ms" toml:"timeout_ms"`
}

// GetTimeoutOption returns the upstream round-trip timeout as an Option.
// Returns None if TimeoutMS is zero (no limit).
func (u *UpstreamConfig) GetTimeoutOption() mo.Option[time.Duration] {
	if u.TimeoutMS <= 0 {
		return mo.None[time.Duration]()
	}
	return mo.Some(time.Duration(u.TimeoutMS) * time.Millisecond)
}

// HealthURL returns the absolute URL the health checker probes,
// or empty when probing is disabled.
func (u *UpstreamConfig) HealthURL() string {
	if u.HealthPath == "" {
		return ""
	}
	return strings.TrimSuffix(u.URL, "/") + u.HealthPath
}

// AuthConfig defines the credential verification pipeline.
//
//nolint:govet // Field order optimized for readability, not memory alignment
type AuthConfig struct {
	// Header is the request header carrying the credential.
	// Default: "Authorization".
	Header string `yaml:"header" toml:"header"`

	// Scheme is the expected credential scheme prefix, compared
	// case-insensitively. nil defaults to "Bearer"; an explicit empty
	// string means the header value is the bare token.
	Scheme *string `yaml:"scheme" toml:"scheme"`

	// DomainClaim is the claim path (gjson syntax) read from the token's
	// undecoded claims to pick a domain entry. Default: "domain".
	DomainClaim string `yaml:"domain_claim" toml:"domain_claim"`

	// CacheTTLMS bounds how long verified payloads and introspection
	// results may be served from cache. Zero disables caching.
	CacheTTLMS int `yaml:"cache_ttl_ms" toml:"cache_ttl_ms"`

	// ContinueOnError forwards authentication failures to the downstream
	// handler via the request context instead of writing a rejection.
	ContinueOnError bool `yaml:"continue_on_error" toml:"continue_on_error"`

	// Strategies are tried in order; the first success wins.
	Strategies []StrategyConfig `yaml:"strategies" toml:"strategies"`

	// Exclusions waive enforcement for matching routes.
	Exclusions []ExclusionRule `yaml:"exclusions" toml:"exclusions"`

	// Responses overrides rejection statuses and the error body shape.
	Responses ResponsesConfig `yaml:"responses" toml:"responses"`
}

// GetHeader returns the credential header name with default fallback.
func (a *AuthConfig) GetHeader() string {
	if a.Header == "" {
		return "Authorization"
	}
	return a.Header
}

// GetScheme returns the expected credential scheme. A nil Scheme defaults
// to "Bearer"; an explicitly configured empty string stays empty.
func (a *AuthConfig) GetScheme() string {
	if a.Scheme == nil {
		return "Bearer"
	}
	return *a.Scheme
}

// GetDomainClaim returns the domain-discriminating claim path with default fallback.
func (a *AuthConfig) GetDomainClaim() string {
	if a.DomainClaim == "" {
		return "domain"
	}
	return a.DomainClaim
}

// GetCacheTTLOption returns the verification cache TTL as an Option.
// Returns None if CacheTTLMS is zero (caching disabled).
func (a *AuthConfig) GetCacheTTLOption() mo.Option[time.Duration] {
	if a.CacheTTLMS <= 0 {
		return mo.None[time.Duration]()
	}
	return mo.Some(time.Duration(a.CacheTTLMS) * time.Millisecond)
}

// IsEnabled returns true if at least one strategy is configured.
func (a *AuthConfig) IsEnabled() bool {
	return len(a.Strategies) > 0
}

// Fingerprint returns a stable digest of the auth section. The live guard
// middleware recompiles its pipeline only when this value changes.
func (a *AuthConfig) Fingerprint() string {
	raw, err := yaml.Marshal(a)
	if err != nil {
		return fmt.Sprintf("unhashable: %v", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// StrategyConfig defines one authenticator in the chain. Type selects the
// strategy; the remaining fields apply to the matching type only.
//
//nolint:govet // Field order optimized for readability, not memory alignment
type StrategyConfig struct {
	// Type is one of jwt, static, introspect, anonymous.
	Type string `yaml:"type" toml:"type"`

	// Key material for the jwt strategy: an inline HMAC secret, a PEM
	// public key file, or a JWKS URL (supports ${ENV_VAR}).
	Secret        string `yaml:"secret" toml:"secret"`
	PublicKeyFile string `yaml:"public_key_file" toml:"public_key_file"`
	JWKSURL       string `yaml:"jwks_url" toml:"jwks_url"`

	// Audience lists accepted audiences; the token needs to carry at
	// least one of them. Empty disables the audience check.
	Audience StringList `yaml:"audience" toml:"audience"`

	// Issuer, when set, must equal the token's iss claim.
	Issuer string `yaml:"issuer" toml:"issuer"`

	// Algorithms restricts accepted signing algorithms.
	// Empty allows the common HMAC/RSA/ECDSA set.
	Algorithms StringList `yaml:"algorithms" toml:"algorithms"`

	// LeewayMS is the clock skew tolerance for time-based claims. Default: 0.
	LeewayMS int `yaml:"leeway_ms" toml:"leeway_ms"`

	// RequireExpiry rejects tokens without an exp claim. Default: true.
	RequireExpiry *bool `yaml:"require_expiry" toml:"require_expiry"`

	// Domains overrides audience, issuer, and key material per resolved
	// domain. The "default" entry serves tokens with no resolvable domain.
	Domains map[string]DomainConfig `yaml:"domains" toml:"domains"`

	// Tokens are the literal credentials for the static strategy.
	Tokens []StaticTokenConfig `yaml:"tokens" toml:"tokens"`

	// Endpoint settings for the introspect strategy. When TokenURL is set
	// the client authenticates via OAuth2 client credentials, otherwise it
	// sends ClientID/ClientSecret as basic auth.
	Endpoint     string `yaml:"endpoint" toml:"endpoint"`
	ClientID     string `yaml:"client_id" toml:"client_id"`
	ClientSecret string `yaml:"client_secret" toml:"client_secret"`
	TokenURL     string `yaml:"token_url" toml:"token_url"`
	TimeoutMS    int    `yaml:"timeout_ms" toml:"timeout_ms"`
}

// HasKeyMaterial reports whether any flat key source is configured.
func (s *StrategyConfig) HasKeyMaterial() bool {
	return s.Secret != "" || s.PublicKeyFile != "" || s.JWKSURL != ""
}

// IsExpiryRequired reports whether tokens must carry an exp claim.
func (s *StrategyConfig) IsExpiryRequired() bool {
	return s.RequireExpiry == nil || *s.RequireExpiry
}

// GetLeeway returns the clock skew tolerance, never negative.
func (s *StrategyConfig) GetLeeway() time.Duration {
	if s.LeewayMS <= 0 {
		return 0
	}
	return time.Duration(s.LeewayMS) * time.Millisecond
}

// GetTimeoutOption returns the introspection request timeout as an Option.
// Returns None if TimeoutMS is zero (use default).
func (s *StrategyConfig) GetTimeoutOption() mo.Option[time.Duration] {
	if s.TimeoutMS <= 0 {
		return mo.None[time.Duration]()
	}
	return mo.Some(time.Duration(s.TimeoutMS) * time.Millisecond)
}

// DomainConfig is one entry in a strategy's domain table.
type DomainConfig struct {
	Audience      StringList `yaml:"audience" toml:"audience"`
	Issuer        string     `yaml:"issuer" toml:"issuer"`
	Secret        string     `yaml:"secret" toml:"secret"`
	PublicKeyFile string     `yaml:"public_key_file" toml:"public_key_file"`
	JWKSURL       string     `yaml:"jwks_url" toml:"jwks_url"`
}

// HasKeyMaterial reports whether the entry carries a key source.
func (d *DomainConfig) HasKeyMaterial() bool {
	return d.Secret != "" || d.PublicKeyFile != "" || d.JWKSURL != ""
}

// StaticTokenConfig defines one literal service token.
type StaticTokenConfig struct {
	Token   string `yaml:"token" toml:"token"`     // Token value (supports ${ENV_VAR})
	Subject string `yaml:"subject" toml:"subject"` // Subject attached to the payload on match
}

// ExclusionRule waives enforcement for matching request paths.
type ExclusionRule struct {
	// Pattern is a regular expression matched against the request path
	// with the server base path stripped and the query removed.
	Pattern string `yaml:"pattern" toml:"pattern"`

	// Methods limits the rule to the listed HTTP methods (case-insensitive).
	// Empty matches every method.
	Methods StringList `yaml:"methods" toml:"methods"`
}

// Validate checks the rule's pattern.
func (r *ExclusionRule) Validate() error {
	if r.Pattern == "" {
		return ErrPatternRequired
	}
	if _, err := regexp.Compile(r.Pattern); err != nil {
		return InvalidPatternError{Pattern: r.Pattern, Err: err}
	}
	return nil
}

// ResponsesConfig overrides rejection statuses and the error body shape.
type ResponsesConfig struct {
	// UnauthorizedStatus is written for missing or unverifiable credentials.
	// Default: 401.
	UnauthorizedStatus int `yaml:"unauthorized_status" toml:"unauthorized_status"`

	// BadRequestStatus is written for malformed credentials. Default: 400.
	BadRequestStatus int `yaml:"bad_request_status" toml:"bad_request_status"`

	// ServerErrorStatus is written for internal pipeline faults. Default: 500.
	ServerErrorStatus int `yaml:"server_error_status" toml:"server_error_status"`

	// BodyTemplate is a JSON document the error type, message, and request
	// id are injected into. Empty uses the standard error envelope.
	BodyTemplate string `yaml:"body_template" toml:"body_template"`
}

// GetUnauthorizedStatus returns the unauthorized status with default fallback.
func (r *ResponsesConfig) GetUnauthorizedStatus() int {
	if r.UnauthorizedStatus == 0 {
		return 401
	}
	return r.UnauthorizedStatus
}

// GetBadRequestStatus returns the bad-request status with default fallback.
func (r *ResponsesConfig) GetBadRequestStatus() int {
	if r.BadRequestStatus == 0 {
		return 400
	}
	return r.BadRequestStatus
}

// GetServerErrorStatus returns the server-error status with default fallback.
func (r *ResponsesConfig) GetServerErrorStatus() int {
	if r.ServerErrorStatus == 0 {
		return 500
	}
	return r.ServerErrorStatus
}

// Validate checks the status overrides.
func (r *ResponsesConfig) Validate() error {
	checks := []struct {
		field string
		value int
	}{
		{"unauthorized_status", r.UnauthorizedStatus},
		{"bad_request_status", r.BadRequestStatus},
		{"server_error_status", r.ServerErrorStatus},
	}
	for _, c := range checks {
		if c.value != 0 && (c.value < 100 || c.value > 599) {
			return InvalidStatusError{Field: c.field, Status: c.value}
		}
	}
	return nil
}

// ThrottleConfig rate-limits clients that repeatedly fail authentication.
type ThrottleConfig struct {
	// FailuresPerMinute is the sustained failed-attempt budget per client
	// address. Zero disables the throttle.
	FailuresPerMinute int `yaml:"failures_per_minute" toml:"failures_per_minute"`

	// Burst is the momentary burst allowance. Defaults to FailuresPerMinute.
	Burst int `yaml:"burst" toml:"burst"`
}

// IsEnabled returns true if the failed-auth throttle is configured.
func (t *ThrottleConfig) IsEnabled() bool {
	return t.FailuresPerMinute > 0
}

// GetBurst returns the burst allowance with default fallback.
func (t *ThrottleConfig) GetBurst() int {
	if t.Burst > 0 {
		return t.Burst
	}
	return t.FailuresPerMinute
}

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	Level        string       `yaml:"level" toml:"level"`                 // debug, info, warn, error
	Format       string       `yaml:"format" toml:"format"`               // json, console
	Output       string       `yaml:"output" toml:"output"`               // stdout, stderr, or file path
	Pretty       bool         `yaml:"pretty" toml:"pretty"`               // enable colored console output
	DebugOptions DebugOptions `yaml:"debug_options" toml:"debug_options"` // granular debug logging controls
}

// ParseLevel converts a string log level to zerolog.Level.
// Returns zerolog.InfoLevel if the level string is invalid.
func (l *LoggingConfig) ParseLevel() zerolog.Level {
	switch strings.ToLower(l.Level) {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// EnableAllDebugOptions turns on all debug logging features.
// Used by --debug CLI flag shortcut.
func (l *LoggingConfig) EnableAllDebugOptions() {
	l.Level = LevelDebug
	l.DebugOptions = DebugOptions{
		LogRequestHeaders:   true,
		LogClaims:           true,
		LogExclusionMatches: true,
		MaxClaimsLogSize:    1000,
	}
}

// DebugOptions defines granular debug logging controls.
type DebugOptions struct {
	// LogRequestHeaders enables logging of incoming request headers.
	// The credential header value is redacted.
	LogRequestHeaders bool `yaml:"log_request_headers" toml:"log_request_headers"`

	// LogClaims enables logging of verified claim payloads.
	// Output is truncated to MaxClaimsLogSize.
	LogClaims bool `yaml:"log_claims" toml:"log_claims"`

	// LogExclusionMatches logs which exclusion rule waived enforcement.
	LogExclusionMatches bool `yaml:"log_exclusion_matches" toml:"log_exclusion_matches"`

	// MaxClaimsLogSize is the maximum number of bytes to log from claim
	// payloads. Default: 1000 bytes.
	MaxClaimsLogSize int `yaml:"max_claims_log_size" toml:"max_claims_log_size"`
}

// GetMaxClaimsLogSize returns the effective claim log cap with default fallback.
func (d *DebugOptions) GetMaxClaimsLogSize() int {
	if d.MaxClaimsLogSize <= 0 {
		return 1000 // Default: 1KB
	}
	return d.MaxClaimsLogSize
}

// IsEnabled returns true if any debug option is enabled.
func (d *DebugOptions) IsEnabled() bool {
	return d.LogRequestHeaders || d.LogClaims || d.LogExclusionMatches
}

// GetMaxClaimsLogSizeOption returns the claim log cap as an Option.
// Returns None if the value is not explicitly set (zero or negative).
func (d *DebugOptions) GetMaxClaimsLogSizeOption() mo.Option[int] {
	if d.MaxClaimsLogSize <= 0 {
		return mo.None[int]()
	}
	return mo.Some(d.MaxClaimsLogSize)
}

// ServerConfig Option helpers for type-safe access to optional configuration values.
// These methods expose configuration fields as mo.Option[T] for composable handling.

// GetTimeoutOption returns the request timeout as an Option.
// Returns None if TimeoutMS is zero (use default).
func (s *ServerConfig) GetTimeoutOption() mo.Option[time.Duration] {
	if s.TimeoutMS <= 0 {
		return mo.None[time.Duration]()
	}
	return mo.Some(time.Duration(s.TimeoutMS) * time.Millisecond)
}

// GetMaxConcurrentOption returns the max concurrent setting as an Option.
// Returns None if MaxConcurrent is zero (unlimited).
func (s *ServerConfig) GetMaxConcurrentOption() mo.Option[int] {
	if s.MaxConcurrent <= 0 {
		return mo.None[int]()
	}
	return mo.Some(s.MaxConcurrent)
}

// GetMaxBodyBytesOption returns the request body cap as an Option.
// Returns None if MaxBodyBytes is zero (unlimited).
func (s *ServerConfig) GetMaxBodyBytesOption() mo.Option[int64] {
	if s.MaxBodyBytes <= 0 {
		return mo.None[int64]()
	}
	return mo.Some(s.MaxBodyBytes)
}
