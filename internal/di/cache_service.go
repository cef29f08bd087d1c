package di

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/do/v2"

	"github.com/tokengate/tokengate/internal/cache"
)

// cacheInitTimeout bounds backend startup. Olric cluster joins can take
// several seconds; local backends are instant.
const cacheInitTimeout = 30 * time.Second

// CacheService owns the verification cache backend.
type CacheService struct {
	Cache cache.Cache
}

// NewCache builds the cache named by the config mode. An omitted cache
// section means caching is off.
func NewCache(i do.Injector) (*CacheService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	loggerSvc := do.MustInvoke[*LoggerService](i)

	// Route cache internals through the configured logger before any
	// backend starts emitting.
	cache.SetLogger(loggerSvc.Logger)

	cacheCfg := cfgSvc.Config.Cache
	if cacheCfg.Mode == "" {
		cacheCfg.Mode = cache.ModeDisabled
	}

	ctx, cancel := context.WithTimeout(context.Background(), cacheInitTimeout)
	defer cancel()

	backend, err := cache.New(ctx, &cacheCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	return &CacheService{Cache: backend}, nil
}

// Shutdown implements do.Shutdowner and closes the backend.
func (c *CacheService) Shutdown() error {
	if c.Cache != nil {
		return c.Cache.Close()
	}
	return nil
}
