// Package ratelimit throttles clients that repeatedly fail authentication.
//
// The limiter keeps a token bucket (golang.org/x/time/rate) per client
// address. Buckets are charged on authentication failures only; successful
// requests cost nothing. A client whose bucket is empty is throttled until
// the bucket refills.
//
// Basic usage:
//
//	limiter := ratelimit.New(30, 10) // 30 failures/minute sustained, burst 10
//
//	if limiter.Throttled(clientIP) {
//		proxy.WriteThrottleError(w, limiter.RetryAfter(clientIP))
//		return
//	}
//	// ... run the auth chain; on failure:
//	limiter.RecordFailure(clientIP)
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxTrackedClients caps the per-client bucket map. When the cap is reached
// the limiter first drops clients whose buckets have fully refilled (they
// carry no state), then the client with the oldest failure.
const maxTrackedClients = 8192

// Usage is a point-in-time snapshot of throttle state, reported by the
// health endpoint.
type Usage struct {
	// FailuresPerMinute is the sustained failed-attempt budget per client.
	// Zero means the throttle is disabled.
	FailuresPerMinute int `json:"failures_per_minute"`

	// Burst is the momentary burst allowance per client.
	Burst int `json:"burst"`

	// TrackedClients is the number of client addresses with a live bucket.
	TrackedClients int `json:"tracked_clients"`

	// ThrottledClients is the number of tracked clients currently over limit.
	ThrottledClients int `json:"throttled_clients"`
}

// Limiter throttles clients by failed authentication attempts.
// The zero value is not usable; call New.
//
// Thread safety: all methods are safe for concurrent use.
type Limiter struct {
	mu        sync.Mutex
	perMinute int
	burst     int
	clients   map[string]*clientBucket
}

type clientBucket struct {
	bucket      *rate.Limiter
	lastFailure time.Time
}

// New creates a failed-auth throttle.
//
// failuresPerMinute is the sustained budget per client address; burst is
// the momentary allowance (values <= 0 fall back to failuresPerMinute).
// A failuresPerMinute of zero or below disables the throttle entirely:
// Throttled always returns false and RecordFailure is a no-op.
func New(failuresPerMinute, burst int) *Limiter {
	l := &Limiter{clients: make(map[string]*clientBucket)}
	l.SetLimit(failuresPerMinute, burst)
	return l
}

// Enabled reports whether the throttle is active.
func (l *Limiter) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.perMinute > 0
}

// Throttled reports whether the client is currently over its failure
// budget. The check is passive: it never charges the bucket, so probing a
// client's state does not extend its block.
func (l *Limiter) Throttled(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.perMinute <= 0 {
		return false
	}
	entry, ok := l.clients[client]
	if !ok {
		return false
	}
	return entry.bucket.Tokens() < 1
}

// RetryAfter reports how long until the client's next attempt would be
// admitted. Zero means the client is not currently throttled.
func (l *Limiter) RetryAfter(client string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.perMinute <= 0 {
		return 0
	}
	entry, ok := l.clients[client]
	if !ok {
		return 0
	}
	if entry.bucket.Tokens() >= 1 {
		return 0
	}
	now := time.Now()
	res := entry.bucket.ReserveN(now, 1)
	delay := res.DelayFrom(now)
	res.Cancel()
	return delay
}

// RecordFailure charges one failed attempt against the client's bucket.
// Clients without a bucket get a fresh one at the configured rate.
func (l *Limiter) RecordFailure(client string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.perMinute <= 0 {
		return
	}
	entry, ok := l.clients[client]
	if !ok {
		if len(l.clients) >= maxTrackedClients {
			l.evictLocked()
		}
		entry = &clientBucket{bucket: rate.NewLimiter(perMinuteRate(l.perMinute), l.burst)}
		l.clients[client] = entry
	}
	entry.lastFailure = time.Now()
	// Allow consumes a token when one is available. An empty bucket stays
	// empty: the block extends only by the refill clock, not by the number
	// of attempts made while blocked.
	entry.bucket.Allow()
}

// SetLimit updates the throttle rate, keeping each tracked client's
// accumulated state. Setting failuresPerMinute to zero or below disables
// the throttle and drops all tracked clients.
func (l *Limiter) SetLimit(failuresPerMinute, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if failuresPerMinute <= 0 {
		l.perMinute = 0
		l.burst = 0
		l.clients = make(map[string]*clientBucket)
		return
	}
	if burst <= 0 {
		burst = failuresPerMinute
	}
	if failuresPerMinute == l.perMinute && burst == l.burst {
		return
	}
	l.perMinute = failuresPerMinute
	l.burst = burst
	for _, entry := range l.clients {
		entry.bucket.SetLimit(perMinuteRate(failuresPerMinute))
		entry.bucket.SetBurst(burst)
	}
}

// Usage returns a snapshot of the current throttle state.
func (l *Limiter) Usage() Usage {
	l.mu.Lock()
	defer l.mu.Unlock()

	u := Usage{
		FailuresPerMinute: l.perMinute,
		Burst:             l.burst,
		TrackedClients:    len(l.clients),
	}
	for _, entry := range l.clients {
		if entry.bucket.Tokens() < 1 {
			u.ThrottledClients++
		}
	}
	return u
}

// evictLocked makes room in the client map. Buckets that have fully
// refilled are indistinguishable from untracked clients and are dropped;
// if none have, the client with the oldest failure goes.
func (l *Limiter) evictLocked() {
	var oldest string
	var oldestAt time.Time
	for client, entry := range l.clients {
		if entry.bucket.Tokens() >= float64(l.burst) {
			delete(l.clients, client)
			continue
		}
		if oldest == "" || entry.lastFailure.Before(oldestAt) {
			oldest = client
			oldestAt = entry.lastFailure
		}
	}
	if len(l.clients) >= maxTrackedClients && oldest != "" {
		delete(l.clients, oldest)
	}
}

// perMinuteRate converts a per-minute budget to a refill rate.
func perMinuteRate(n int) rate.Limit {
	return rate.Limit(float64(n) / 60.0)
}
