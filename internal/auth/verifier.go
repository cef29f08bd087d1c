package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/lo"
)

// DefaultMethods are the signing algorithms accepted when none are configured.
var DefaultMethods = []string{
	"HS256", "HS384", "HS512",
	"RS256", "RS384", "RS512",
	"ES256", "ES384", "ES512",
	"EdDSA",
}

// Verifier validates bearer tokens against resolved key material and claim
// constraints. It wraps the JWT library so every failure surfaces as a typed
// error at the call site; nothing escapes as a panic.
//
// Audience handling: a single expected audience is enforced by the parser
// itself; multiple expected audiences pass when the token's aud claim
// intersects the configured set.
type Verifier struct {
	methods       []string
	leeway        time.Duration
	requireExpiry bool
}

// NewVerifier builds a verifier. Empty methods fall back to DefaultMethods,
// zero leeway applies no clock skew allowance.
func NewVerifier(methods []string, leeway time.Duration, requireExpiry bool) *Verifier {
	if len(methods) == 0 {
		methods = DefaultMethods
	}
	return &Verifier{methods: methods, leeway: leeway, requireExpiry: requireExpiry}
}

// Verify checks the token's signature and claims against the resolved triple
// and returns the verified payload. Empty key material fails deterministically
// with ErrNoKey; it is never a panic or a pass.
func (v *Verifier) Verify(_ context.Context, token string, keys DomainKeys) (*Payload, error) {
	if keys.Key.Empty() {
		return nil, ErrNoKey
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods(v.methods)}
	if v.requireExpiry {
		opts = append(opts, jwt.WithExpirationRequired())
	}
	if v.leeway > 0 {
		opts = append(opts, jwt.WithLeeway(v.leeway))
	}
	if keys.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(keys.Issuer))
	}
	if len(keys.Audience) == 1 {
		opts = append(opts, jwt.WithAudience(keys.Audience[0]))
	}

	claims := jwt.MapClaims{}
	if _, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, keys.Key.verificationKey); err != nil {
		return nil, err
	}

	if len(keys.Audience) > 1 && !audIntersects(claims, keys.Audience) {
		return nil, ErrAudience
	}

	return payloadFromClaims(claims), nil
}

// audIntersects reports whether any expected audience appears in the token's
// aud claim (which may be a string or a list).
func audIntersects(claims jwt.MapClaims, want []string) bool {
	auds, err := claims.GetAudience()
	if err != nil || len(auds) == 0 {
		return false
	}
	return lo.Some([]string(auds), want)
}

// payloadFromClaims lifts well-known claims out of the verified set.
func payloadFromClaims(claims jwt.MapClaims) *Payload {
	p := &Payload{Claims: map[string]any(claims)}
	if sub, err := claims.GetSubject(); err == nil {
		p.Subject = sub
	}
	if iss, err := claims.GetIssuer(); err == nil {
		p.Issuer = iss
	}
	if auds, err := claims.GetAudience(); err == nil {
		p.Audience = auds
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		p.ExpiresAt = exp.Time
	}
	return p
}
