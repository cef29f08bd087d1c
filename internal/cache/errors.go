package cache

import "errors"

// Sentinel errors shared by every backend.
//
// Callers branch with errors.Is; a miss is the common case on the
// verification path and must stay distinguishable from a dead backend:
//
//	data, err := c.Get(ctx, key)
//	if errors.Is(err, cache.ErrNotFound) {
//		// verdict not cached, verify the credential directly
//	}
var (
	// ErrNotFound reports that the key holds no entry.
	ErrNotFound = errors.New("cache: key not found")

	// ErrClosed reports an operation against a cache after Close.
	ErrClosed = errors.New("cache: cache is closed")
)
