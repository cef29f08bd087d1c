package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/tokengate/tokengate/internal/cache"
)

// PayloadCache memoizes verified payloads keyed by token digest, so repeated
// requests with the same credential skip signature verification (or a remote
// introspection round trip) until the entry expires.
//
// The cache is strictly an accelerator: lookup and store failures degrade to
// direct verification and never fail the request.
type PayloadCache struct {
	backend   cache.Cache
	ttl       time.Duration
	namespace string
}

// NewPayloadCache wraps a cache backend. Entries live for ttl, capped by the
// payload's own expiry. A nil backend or non-positive ttl disables caching.
//
// The namespace is folded into every key. Callers pass the auth config
// fingerprint here so entries verified under an old configuration are
// orphaned, not served, after a reload.
func NewPayloadCache(backend cache.Cache, ttl time.Duration, namespace string) *PayloadCache {
	if backend == nil || ttl <= 0 {
		return nil
	}
	return &PayloadCache{backend: backend, ttl: ttl, namespace: namespace}
}

// Get returns the cached payload for the token, if present and decodable.
func (pc *PayloadCache) Get(ctx context.Context, token string) (*Payload, bool) {
	if pc == nil {
		return nil, false
	}

	value, err := pc.backend.Get(ctx, pc.key(token))
	if err != nil {
		return nil, false
	}

	var p Payload
	if err := json.Unmarshal(value, &p); err != nil {
		return nil, false
	}
	if !p.ExpiresAt.IsZero() && time.Now().After(p.ExpiresAt) {
		return nil, false
	}
	return &p, true
}

// Put stores a verified payload. The entry's TTL never outlives the token.
func (pc *PayloadCache) Put(ctx context.Context, token string, p *Payload) {
	if pc == nil || p == nil {
		return
	}

	ttl := pc.ttl
	if !p.ExpiresAt.IsZero() {
		until := time.Until(p.ExpiresAt)
		if until <= 0 {
			return
		}
		if until < ttl {
			ttl = until
		}
	}

	value, err := json.Marshal(p)
	if err != nil {
		return
	}
	// Best effort; a full or closed backend only costs the memoization.
	_ = pc.backend.SetWithTTL(ctx, pc.key(token), value, ttl)
}

// key derives the cache key. Tokens are never stored verbatim.
func (pc *PayloadCache) key(token string) string {
	sum := sha256.Sum256([]byte(pc.namespace + "\x00" + token))
	return hex.EncodeToString(sum[:])
}
