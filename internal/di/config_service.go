package di

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/samber/do/v2"

	"github.com/tokengate/tokengate/internal/config"
)

// ConfigService owns the loaded configuration and its file watcher.
// Live reads go through config.Runtime, so request handling never blocks
// on a reload and in-flight requests keep the snapshot they started with.
type ConfigService struct {
	runtime *config.Runtime
	watcher *config.Watcher

	// Config is the startup snapshot, refreshed on reload. Constructors
	// that run once at container build read it; per-request code must
	// use Get or Runtime instead.
	Config *config.Config

	path string
}

// NewConfig loads and validates the file at ConfigPathKey and prepares a
// watcher. Watching does not start here; call StartWatching once the
// container is fully built so reload callbacks find every service.
func NewConfig(i do.Injector) (*ConfigService, error) {
	path := do.MustInvokeNamed[string](i, ConfigPathKey)

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	svc := &ConfigService{
		runtime: config.NewRuntime(cfg),
		Config:  cfg,
		path:    path,
	}

	// A watcher that cannot be created only costs hot reload, not startup.
	if watcher, werr := config.NewWatcher(path); werr != nil {
		log.Warn().Err(werr).Str("path", path).Msg("config watcher creation failed, hot reload disabled")
	} else {
		svc.watcher = watcher
	}

	return svc, nil
}

// Get returns the live configuration. Lock-free; safe from any goroutine.
func (c *ConfigService) Get() *config.Config {
	return c.runtime.Get()
}

// Runtime exposes the live config handle for components that take the
// config.RuntimeConfig interface.
func (c *ConfigService) Runtime() config.RuntimeConfig {
	return c.runtime
}

// StartWatching subscribes the swap callback and runs the watcher until
// ctx is canceled. Subscription order matters: this runs after every
// other service has registered, so by the time the swap lands the
// services have already accepted the new config.
func (c *ConfigService) StartWatching(ctx context.Context) {
	if c.watcher == nil {
		return
	}

	c.watcher.OnReload(c.swapConfig)

	go func() {
		if err := c.watcher.Watch(ctx); err != nil {
			log.Error().Err(err).Msg("config watcher error")
		}
	}()

	log.Info().Str("path", c.path).Msg("config file watcher started")
}

// swapConfig publishes the reloaded config to live readers.
func (c *ConfigService) swapConfig(newCfg *config.Config) error {
	c.runtime.Store(newCfg)
	c.Config = newCfg
	log.Info().Str("path", c.path).Msg("config reloaded")
	return nil
}

// Shutdown implements do.Shutdowner and closes the watcher.
func (c *ConfigService) Shutdown() error {
	if c.watcher != nil {
		return c.watcher.Close()
	}
	return nil
}
