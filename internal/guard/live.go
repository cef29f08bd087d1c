package guard

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/tokengate/tokengate/internal/auth"
	"github.com/tokengate/tokengate/internal/config"
)

// compiledGuard pairs a guard with the fingerprint of the configuration it
// was compiled from, plus the cancel func for its background key refreshes.
type compiledGuard struct {
	guard       *Guard
	cancel      context.CancelFunc
	fingerprint string
}

type guardStore struct {
	cache atomic.Value
	mu    sync.Mutex
}

// cached returns the compiled guard when its fingerprint still matches.
func (s *guardStore) cached(fingerprint string) *compiledGuard {
	if v := s.cache.Load(); v != nil {
		if c, ok := v.(*compiledGuard); ok && c.fingerprint == fingerprint {
			return c
		}
	}
	return nil
}

// getOrBuild returns the compiled guard for the fingerprint, recompiling the
// pipeline when the auth configuration changed. A failed recompilation keeps
// the last working pipeline serving (or denies everything when there is
// none) and is not retried until the configuration changes again.
func (s *guardStore) getOrBuild(
	ctx context.Context, fingerprint string, cfg *config.Config, backends Backends, hooks Hooks, logger *zerolog.Logger,
) *compiledGuard {
	// Fast path: check cache without lock.
	if c := s.cached(fingerprint); c != nil {
		return c
	}

	// Slow path: acquire lock and rebuild.
	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring lock.
	if c := s.cached(fingerprint); c != nil {
		return c
	}

	previous, _ := s.cache.Load().(*compiledGuard)

	buildCtx, cancel := context.WithCancel(ctx)
	g, err := Compile(buildCtx, cfg, backends, hooks)

	entry := &compiledGuard{guard: g, cancel: cancel, fingerprint: fingerprint}
	if err != nil {
		cancel()
		if logger != nil {
			logger.Error().Err(err).Msg("failed to compile auth pipeline")
		}
		if previous != nil {
			// Keep the last working pipeline and its key refreshes alive.
			entry.guard = previous.guard
			entry.cancel = previous.cancel
			previous = nil
		} else {
			// Nothing to fall back to: deny every request rather than fail
			// open. The empty chain maps to an internal pipeline fault.
			entry.guard = New(auth.NewChain(), nil, dispatcherFromConfig(&cfg.Auth.Responses), false, hooks)
			entry.cancel = func() {}
		}
	}

	if previous != nil {
		// The replaced pipeline's JWKS refreshes stop; in-flight requests
		// keep reading the cached key sets.
		previous.cancel()
	}

	s.cache.Store(entry)
	return entry
}

// Live returns middleware that enforces authentication per the live
// configuration, recompiling its pipeline whenever the auth section or the
// server base path changes. ctx bounds the background key refreshes of every
// pipeline the middleware compiles.
func Live(
	ctx context.Context, provider config.RuntimeConfig, backends Backends, hooks Hooks, logger *zerolog.Logger,
) func(http.Handler) http.Handler {
	store := &guardStore{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cfg := runtimeConfig(provider)
			if cfg == nil {
				next.ServeHTTP(w, r)
				return
			}

			compiled := store.getOrBuild(ctx, pipelineFingerprint(cfg), cfg, backends, hooks, logger)
			compiled.guard.serve(w, r, next)
		})
	}
}

func runtimeConfig(provider config.RuntimeConfig) *config.Config {
	if provider == nil {
		return nil
	}
	return provider.Get()
}

// pipelineFingerprint keys compiled pipelines. The base path participates
// because exclusion matching strips it.
func pipelineFingerprint(cfg *config.Config) string {
	return cfg.Server.BasePath + "\x00" + cfg.Auth.Fingerprint()
}
