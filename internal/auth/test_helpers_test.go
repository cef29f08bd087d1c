package auth_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tokengate/tokengate/internal/cache"
)

// signToken signs claims with the given method and key, optionally tagging
// the header with a key id.
func signToken(t *testing.T, method jwt.SigningMethod, key any, kid string, claims jwt.MapClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(method, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}

	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

// hs256Token signs claims with an HMAC secret.
func hs256Token(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	return signToken(t, jwt.SigningMethodHS256, []byte(secret), "", claims)
}

// genRSA generates a test RSA key pair.
func genRSA(t *testing.T) *rsa.PrivateKey {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	return key
}

// jwksJSON renders a single-key JWKS document for an RSA public key.
func jwksJSON(t *testing.T, pub *rsa.PublicKey, kid string) []byte {
	t.Helper()

	doc := map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"use": "sig",
			"alg": "RS256",
			"kid": kid,
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   "AQAB",
		}},
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	return raw
}

// baseClaims builds a claim set that verifies against aud/iss for the next hour.
// Plain JSON types only, so verified payload claims compare cleanly.
func baseClaims(aud, iss string) jwt.MapClaims {
	return jwt.MapClaims{
		"sub": "user-1",
		"aud": aud,
		"iss": iss,
		"exp": float64(time.Now().Add(time.Hour).Unix()),
	}
}

// memCache is an in-memory cache.Cache for exercising payload caching.
type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	sets    int
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string][]byte)}
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.entries[key]
	if !ok {
		return nil, cache.ErrNotFound
	}
	return value, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
	m.sets++
	return nil
}

func (m *memCache) SetWithTTL(ctx context.Context, key string, value []byte, _ time.Duration) error {
	return m.Set(ctx, key, value)
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *memCache) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	return ok, nil
}

func (m *memCache) Close() error {
	return nil
}

func (m *memCache) setCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets
}

var _ cache.Cache = (*memCache)(nil)
