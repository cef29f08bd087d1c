package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// noopCache serves disabled mode. Writes are accepted and discarded,
// reads always miss, so every credential gets verified fresh. The
// closed flag is still tracked so lifecycle bugs surface the same way
// they would on a real backend.
type noopCache struct {
	log    zerolog.Logger
	closed atomic.Bool
}

var (
	_ Cache         = (*noopCache)(nil)
	_ StatsProvider = (*noopCache)(nil)
)

func newNoopCache() *noopCache {
	packageLog := logger()
	return newNoopCacheWithLog(&packageLog)
}

func newNoopCacheWithLog(l *zerolog.Logger) *noopCache {
	log := l.With().Str("backend", "noop").Logger()
	log.Debug().Str("note", "caching is disabled").Msg("noop cache created")
	return &noopCache{log: log}
}

func (c *noopCache) open() error {
	if c.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Get always misses.
func (c *noopCache) Get(_ context.Context, key string) ([]byte, error) {
	if err := c.open(); err != nil {
		return nil, err
	}
	c.log.Debug().Str("key", key).Bool("hit", false).Msg("cache get")
	return nil, ErrNotFound
}

// Set accepts and discards the value.
func (c *noopCache) Set(_ context.Context, key string, value []byte) error {
	if err := c.open(); err != nil {
		return err
	}
	c.log.Debug().Str("key", key).Int("size", len(value)).Msg("cache set")
	return nil
}

// SetWithTTL accepts and discards the value.
func (c *noopCache) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.open(); err != nil {
		return err
	}
	c.log.Debug().Str("key", key).Int("size", len(value)).Dur("ttl", ttl).Msg("cache set")
	return nil
}

// Delete succeeds; there is nothing to remove.
func (c *noopCache) Delete(_ context.Context, key string) error {
	if err := c.open(); err != nil {
		return err
	}
	c.log.Debug().Str("key", key).Msg("cache delete")
	return nil
}

// Exists always reports absent.
func (c *noopCache) Exists(_ context.Context, _ string) (bool, error) {
	if err := c.open(); err != nil {
		return false, err
	}
	return false, nil
}

// Close flips the closed flag. Idempotent.
func (c *noopCache) Close() error {
	if c.closed.Load() {
		return nil
	}
	c.closed.Store(true)
	c.log.Info().Msg("noop cache closed")
	return nil
}

// Stats is always zero; nothing is ever stored.
func (c *noopCache) Stats() Stats {
	return Stats{}
}
