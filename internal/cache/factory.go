package cache

import (
	"context"
	"fmt"
	"time"
)

// buildBackend maps a validated mode to its backend constructor.
func buildBackend(ctx context.Context, cfg *Config) (Cache, error) {
	switch cfg.Mode {
	case ModeSingle:
		return newRistrettoCache(cfg.Ristretto)
	case ModeHA:
		return newOlricCache(ctx, &cfg.Olric)
	case ModeDisabled:
		return newNoopCache(), nil
	default:
		return nil, fmt.Errorf("cache: unknown mode %q", cfg.Mode)
	}
}

// New validates cfg and builds the backend its Mode selects. The
// context only matters for ModeHA, where an embedded Olric node has to
// join a cluster before the call returns; the local backends accept it
// for API symmetry.
func New(ctx context.Context, cfg *Config) (Cache, error) {
	log := logger().With().Str("component", "cache_factory").Logger()
	start := time.Now()

	if err := cfg.Validate(); err != nil {
		log.Debug().Err(err).Str("mode", string(cfg.Mode)).Msg("cache factory: validation failed")
		return nil, err
	}

	log.Info().Str("mode", string(cfg.Mode)).Msg("cache factory: initializing backend")

	backend, err := buildBackend(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Str("mode", string(cfg.Mode)).Msg("cache factory: backend initialization failed")
		return nil, err
	}

	log.Info().
		Str("mode", string(cfg.Mode)).
		Dur("init_time", time.Since(start)).
		Msg("cache factory: backend initialized")

	return backend, nil
}
