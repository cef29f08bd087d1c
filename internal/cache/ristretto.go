package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/rs/zerolog"
)

// defaultBufferItems is ristretto's recommended Get buffer size.
const defaultBufferItems = 64

// ristrettoCache backs single-gateway deployments with a local
// in-memory store. Ristretto's frequency-based admission keeps hot
// verdicts resident when the configured cost budget fills up.
type ristrettoCache struct {
	cache  *ristretto.Cache[string, []byte]
	log    zerolog.Logger
	closed atomic.Bool
	mu     sync.RWMutex
}

var (
	_ Cache         = (*ristrettoCache)(nil)
	_ StatsProvider = (*ristrettoCache)(nil)
)

// newRistrettoCache builds the backend logging through the package logger.
func newRistrettoCache(cfg RistrettoConfig) (*ristrettoCache, error) {
	packageLog := logger()
	return newRistrettoCacheWithLog(cfg, &packageLog)
}

func newRistrettoCacheWithLog(cfg RistrettoConfig, l *zerolog.Logger) (*ristrettoCache, error) {
	log := l.With().Str("backend", "ristretto").Logger()

	bufferItems := cfg.BufferItems
	if bufferItems <= 0 {
		bufferItems = defaultBufferItems
	}

	store, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: bufferItems,
		Metrics:     true,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to create ristretto cache")
		return nil, err
	}

	log.Info().
		Int64("num_counters", cfg.NumCounters).
		Int64("max_cost", cfg.MaxCost).
		Int64("buffer_items", bufferItems).
		Msg("ristretto cache created")

	return &ristrettoCache{cache: store, log: log}, nil
}

// guard rejects canceled contexts and closed caches, then takes the
// read lock. The closed flag is rechecked under the lock so a
// concurrent Close cannot slip between check and use. Callers defer
// the returned release.
func (r *ristrettoCache) guard(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.closed.Load() {
		return nil, ErrClosed
	}
	r.mu.RLock()
	if r.closed.Load() {
		r.mu.RUnlock()
		return nil, ErrClosed
	}
	return r.mu.RUnlock, nil
}

// keyed starts a debug event carrying the operation key.
func (r *ristrettoCache) keyed(key string) *zerolog.Event {
	return r.log.Debug().Str("key", key)
}

func (r *ristrettoCache) Get(ctx context.Context, key string) ([]byte, error) {
	release, err := r.guard(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	value, found := r.cache.Get(key)
	if !found {
		r.keyed(key).Bool("hit", false).Msg("cache get")
		return nil, ErrNotFound
	}
	r.keyed(key).Bool("hit", true).Int("size", len(value)).Msg("cache get")

	// Hand out a copy so callers cannot mutate the stored verdict.
	return cloneValue(value), nil
}

func (r *ristrettoCache) Set(ctx context.Context, key string, value []byte) error {
	release, err := r.guard(ctx)
	if err != nil {
		return err
	}
	defer release()

	r.cache.Set(key, cloneValue(value), int64(len(value)))
	r.keyed(key).Int("size", len(value)).Msg("cache set")
	return nil
}

func (r *ristrettoCache) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	release, err := r.guard(ctx)
	if err != nil {
		return err
	}
	defer release()

	r.cache.SetWithTTL(key, cloneValue(value), int64(len(value)), ttl)
	r.keyed(key).Int("size", len(value)).Dur("ttl", ttl).Msg("cache set")
	return nil
}

func (r *ristrettoCache) Delete(ctx context.Context, key string) error {
	release, err := r.guard(ctx)
	if err != nil {
		return err
	}
	defer release()

	r.cache.Del(key)
	r.keyed(key).Msg("cache delete")
	return nil
}

func (r *ristrettoCache) Exists(ctx context.Context, key string) (bool, error) {
	release, err := r.guard(ctx)
	if err != nil {
		return false, err
	}
	defer release()

	_, found := r.cache.Get(key)
	return found, nil
}

// tryRead takes the read lock unless the cache is closed.
func (r *ristrettoCache) tryRead() (func(), bool) {
	if r.closed.Load() {
		return nil, false
	}
	r.mu.RLock()
	if r.closed.Load() {
		r.mu.RUnlock()
		return nil, false
	}
	return r.mu.RUnlock, true
}

// Close drains pending writes and releases the store. Later calls on
// any method report ErrClosed; Close itself stays nil.
func (r *ristrettoCache) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	r.cache.Wait()
	r.cache.Close()

	r.log.Info().Msg("ristretto cache closed")
	return nil
}

// Stats snapshots ristretto's metrics. A closed cache reports zeros.
func (r *ristrettoCache) Stats() Stats {
	release, ok := r.tryRead()
	if !ok {
		return Stats{}
	}
	defer release()

	metrics := r.cache.Metrics
	stats := Stats{
		Hits:      metrics.Hits(),
		Misses:    metrics.Misses(),
		KeyCount:  metrics.KeysAdded() - metrics.KeysEvicted(),
		BytesUsed: metrics.CostAdded() - metrics.CostEvicted(),
		Evictions: metrics.KeysEvicted(),
	}

	r.log.Debug().
		Uint64("hits", stats.Hits).
		Uint64("misses", stats.Misses).
		Uint64("key_count", stats.KeyCount).
		Uint64("bytes_used", stats.BytesUsed).
		Uint64("evictions", stats.Evictions).
		Msg("cache stats")

	return stats
}

// cloneValue copies value before it enters or leaves the store so later
// writes to the original slice cannot corrupt the cached verdict.
func cloneValue(value []byte) []byte {
	stored := make([]byte, len(value))
	copy(stored, value)
	return stored
}
