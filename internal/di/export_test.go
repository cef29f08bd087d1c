package di

import (
	"github.com/tokengate/tokengate/internal/cache"
	"github.com/tokengate/tokengate/internal/config"
)

// Test-only exports for package di_test.

// GetWatcher exposes the config watcher so tests can assert on its presence.
func (c *ConfigService) GetWatcher() *config.Watcher {
	return c.watcher
}

// StoreConfig swaps the live config the way the reload callback does.
func (c *ConfigService) StoreConfig(cfg *config.Config) {
	c.runtime.Store(cfg)
	c.Config = cfg
}

// NewConfigServiceWithConfig creates a ConfigService without a watcher.
func NewConfigServiceWithConfig(cfg *config.Config) *ConfigService {
	return &ConfigService{
		runtime: config.NewRuntime(cfg),
		Config:  cfg,
	}
}

// MustTestConfig creates a minimal valid Config for testing.
func MustTestConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{
			Listen: ":8080",
		},
		Upstream: config.UpstreamConfig{
			URL: "http://127.0.0.1:19999",
		},
		Logging: config.LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Cache: cache.Config{
			Mode: cache.ModeDisabled,
		},
	}
}

// JWKSEndpoints exposes the JWKS URL collection for tests.
func JWKSEndpoints(cfg *config.Config) []string {
	return jwksEndpoints(cfg)
}
