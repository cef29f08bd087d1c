// Package auth implements bearer-credential verification for tokengate.
// It provides the header parser, per-domain key resolution, token
// verification strategies, and the authenticator chain that composes them.
package auth

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// FailureKind classifies why a request did not yield an authenticated identity.
type FailureKind string

const (
	// FailNoHeader means the credential header was absent from the request.
	FailNoHeader FailureKind = "no_header"
	// FailMalformedHeader means the header value had too many parts to parse.
	FailMalformedHeader FailureKind = "malformed_header"
	// FailSchemeMismatch means the header carried a scheme other than the configured one.
	FailSchemeMismatch FailureKind = "scheme_mismatch"
	// FailMissingToken means the header carried a scheme but no credential after it.
	FailMissingToken FailureKind = "missing_token"
	// FailVerification means the credential was present but did not verify
	// (bad signature, expired, audience or issuer mismatch, unknown token).
	FailVerification FailureKind = "verification_failed"
	// FailInternal means the pipeline itself faulted (no strategies configured,
	// a hook panicked, or an unexpected error surfaced).
	FailInternal FailureKind = "internal_error"
)

// Sentinel errors surfaced by the verification pipeline.
var (
	// ErrNoHeader is returned when the credential header is absent.
	ErrNoHeader = errors.New("auth: credential header absent")
	// ErrNoKey is returned when verification runs against empty key material.
	ErrNoKey = errors.New("auth: no key material configured")
	// ErrNoStrategies is returned by a chain with no strategies configured.
	ErrNoStrategies = errors.New("auth: no authentication strategies configured")
	// ErrUnknownToken is returned when a pre-shared token matches no configured entry.
	ErrUnknownToken = errors.New("auth: unknown token")
	// ErrTokenInactive is returned when an introspection endpoint reports the token inactive.
	ErrTokenInactive = errors.New("auth: token not active")
	// ErrAudience is returned when a verified token matches none of the expected audiences.
	ErrAudience = errors.New("auth: token audience not accepted")
)

// Payload is the verified identity extracted from a credential.
// It is immutable once attached to a request.
type Payload struct {
	// Subject is the authenticated principal (the sub claim or its equivalent).
	Subject string `json:"subject,omitempty"`
	// Issuer is the iss claim of the verified token, when present.
	Issuer string `json:"issuer,omitempty"`
	// Audience holds the aud claim values of the verified token.
	Audience []string `json:"audience,omitempty"`
	// Domain is the domain table entry the token verified against, if any.
	Domain string `json:"domain,omitempty"`
	// ExpiresAt is the token expiry, zero when the token carries none.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	// Claims is the full verified claim set.
	Claims map[string]any `json:"claims,omitempty"`
}

// Outcome is the tagged result of one authentication attempt.
// Exactly one of Payload (authorized) or Kind/Err (denied) is meaningful.
type Outcome struct {
	// Authorized reports whether the attempt produced a verified identity.
	Authorized bool
	// Payload is the verified identity. Nil unless Authorized.
	Payload *Payload
	// Kind classifies the failure. Empty unless denied.
	Kind FailureKind
	// Err is the underlying cause of a denial, preserved for logging.
	Err error
}

// Grant builds an authorized outcome carrying the verified payload.
func Grant(p *Payload) Outcome {
	return Outcome{Authorized: true, Payload: p}
}

// Deny builds a denied outcome with its classification and cause.
func Deny(kind FailureKind, err error) Outcome {
	return Outcome{Kind: kind, Err: err}
}

// Authenticator is one self-contained authentication strategy.
// A strategy inspects the request and returns an Outcome; it never writes
// to the response. The Chain is itself an Authenticator, so strategies and
// chains compose uniformly.
type Authenticator interface {
	// Authenticate runs the strategy against the request.
	Authenticate(r *http.Request) Outcome

	// Name identifies the strategy in chain results and audit events.
	Name() string
}

// AuthenticatorFunc adapts a bare function to the Authenticator interface.
type AuthenticatorFunc struct {
	Fn       func(r *http.Request) Outcome
	Strategy string
}

// Authenticate calls the wrapped function.
func (f AuthenticatorFunc) Authenticate(r *http.Request) Outcome {
	return f.Fn(r)
}

// Name returns the configured strategy name, or "func" when unset.
func (f AuthenticatorFunc) Name() string {
	if f.Strategy == "" {
		return "func"
	}
	return f.Strategy
}

type ctxKey int

const (
	payloadCtxKey ctxKey = iota
	failureCtxKey
)

// WithPayload attaches a verified payload to the context.
func WithPayload(ctx context.Context, p *Payload) context.Context {
	return context.WithValue(ctx, payloadCtxKey, p)
}

// PayloadFrom returns the verified payload attached to the context, if any.
func PayloadFrom(ctx context.Context) (*Payload, bool) {
	p, ok := ctx.Value(payloadCtxKey).(*Payload)
	return p, ok
}

// WithFailure attaches a non-terminal authentication failure to the context.
// Downstream handlers see it when enforcement is waived or configured to
// continue past errors.
func WithFailure(ctx context.Context, res ChainResult) context.Context {
	return context.WithValue(ctx, failureCtxKey, res)
}

// FailureFrom returns the authentication failure recorded on the context, if any.
func FailureFrom(ctx context.Context) (ChainResult, bool) {
	res, ok := ctx.Value(failureCtxKey).(ChainResult)
	return res, ok
}
