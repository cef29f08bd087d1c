// Package cache provides the cache backends tokengate stores verified
// auth payloads and introspection results in.
//
// Three backends sit behind one interface:
//   - Single mode (Ristretto): local in-memory cache for one gateway
//   - HA mode (Olric): distributed cache, so a gateway fleet shares
//     verdicts and a token verified on one instance is a cache hit on all
//   - Disabled mode (Noop): passthrough when caching is turned off
//
// All implementations are safe for concurrent use.
//
// Keys are credential digests, values serialized verdicts:
//
//	c, err := cache.New(context.Background(), &cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer c.Close()
//
//	err = c.SetWithTTL(ctx, digest, payload, 5*time.Minute)
//
//	data, err := c.Get(ctx, digest)
//	if errors.Is(err, cache.ErrNotFound) {
//		// miss, verify the credential directly
//	}
package cache

import (
	"context"
	"time"
)

// Cache is the verdict store shared by all backends.
// Every method reports ErrClosed once Close has been called.
type Cache interface {
	// Get returns the value stored under key, or ErrNotFound on a miss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key without an expiry.
	Set(ctx context.Context, key string, value []byte) error

	// SetWithTTL stores value under key. Once ttl has elapsed the key
	// reads as a miss.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is present without reading its value.
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases the backend. Idempotent; later calls return nil.
	Close() error
}

// Stats is a point-in-time snapshot of backend counters. Backends that
// cannot observe a counter leave it zero.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	KeyCount  uint64 `json:"key_count"`
	BytesUsed uint64 `json:"bytes_used"`
	Evictions uint64 `json:"evictions"`
}

// StatsProvider is implemented by backends that expose counters.
// Callers type-assert:
//
//	if sp, ok := c.(cache.StatsProvider); ok {
//		stats := sp.Stats()
//	}
type StatsProvider interface {
	Stats() Stats
}

// Pinger is implemented by backends with a liveness probe. Local
// backends answer nil while open; distributed backends verify the
// cluster is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ClusterInfo is implemented by distributed backends that can report
// membership. Local backends do not implement it.
type ClusterInfo interface {
	// IsEmbedded reports whether this node runs an in-process cluster
	// member rather than connecting to an external cluster. The answer
	// does not change after Close.
	IsEmbedded() bool

	// ClusterMembers returns the number of members visible to this
	// node, or 0 when closed or the cluster is unreachable.
	ClusterMembers() int

	// MemberlistAddr returns this node's gossip address, or "" when
	// closed or stats are unavailable.
	MemberlistAddr() string
}
