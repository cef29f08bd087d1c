package auth

import (
	"context"
	"crypto"
	"fmt"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/tokengate/tokengate/internal/health"
)

// KeyMaterial is the key a token's signature is verified against.
// The zero value carries no key and deterministically fails verification.
type KeyMaterial struct {
	secret  []byte
	public  crypto.PublicKey
	jwks    keyfunc.Keyfunc
	breaker *health.CircuitBreaker
}

// SecretKey builds HMAC key material from an inline shared secret.
// An empty secret yields empty material.
func SecretKey(secret string) KeyMaterial {
	if secret == "" {
		return KeyMaterial{}
	}
	return KeyMaterial{secret: []byte(secret)}
}

// PublicKey builds key material from a PEM-encoded RSA, EC, or Ed25519
// public key or certificate.
func PublicKey(pemBytes []byte) (KeyMaterial, error) {
	if rsaKey, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes); err == nil {
		return KeyMaterial{public: rsaKey}, nil
	}
	if ecKey, err := jwt.ParseECPublicKeyFromPEM(pemBytes); err == nil {
		return KeyMaterial{public: ecKey}, nil
	}
	edKey, err := jwt.ParseEdPublicKeyFromPEM(pemBytes)
	if err != nil {
		return KeyMaterial{}, fmt.Errorf("auth: unsupported public key: %w", err)
	}
	return KeyMaterial{public: edKey}, nil
}

// RemoteKeys builds key material backed by a JWKS endpoint. The key set
// refreshes in the background for the lifetime of ctx. An optional circuit
// breaker guards lookups so an unreachable endpoint fails fast instead of
// stalling every request.
func RemoteKeys(ctx context.Context, jwksURL string, breaker *health.CircuitBreaker) (KeyMaterial, error) {
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return KeyMaterial{}, fmt.Errorf("auth: jwks %s: %w", jwksURL, err)
	}
	return KeyMaterial{jwks: kf, breaker: breaker}, nil
}

// Empty reports whether no key material is configured.
func (k KeyMaterial) Empty() bool {
	return len(k.secret) == 0 && k.public == nil && k.jwks == nil
}

// verificationKey resolves the key for a parsed-but-unverified token.
// It satisfies the jwt.Keyfunc contract.
func (k KeyMaterial) verificationKey(token *jwt.Token) (any, error) {
	switch {
	case k.jwks != nil:
		if k.breaker == nil {
			return k.jwks.Keyfunc(token)
		}
		done, err := k.breaker.Allow()
		if err != nil {
			return nil, err
		}
		key, err := k.jwks.Keyfunc(token)
		done(err)
		return key, err
	case k.public != nil:
		return k.public, nil
	case len(k.secret) > 0:
		return k.secret, nil
	default:
		return nil, ErrNoKey
	}
}
