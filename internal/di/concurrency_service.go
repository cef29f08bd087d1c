package di

import (
	"github.com/rs/zerolog/log"
	"github.com/samber/do/v2"

	"github.com/tokengate/tokengate/internal/config"
	"github.com/tokengate/tokengate/internal/proxy"
)

// ConcurrencyService owns the gateway-wide in-flight request cap.
type ConcurrencyService struct {
	Limiter *proxy.ConcurrencyLimiter
}

// concurrencyCap reads the configured cap, treating a missing config as
// unlimited.
func concurrencyCap(cfg *config.Config) int64 {
	if cfg == nil {
		return 0
	}
	return int64(cfg.Server.MaxConcurrent)
}

// NewConcurrencyService builds the limiter from the current config and,
// when a watcher exists, keeps the cap in sync across hot reloads.
func NewConcurrencyService(i do.Injector) (*ConcurrencyService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)

	svc := &ConcurrencyService{
		Limiter: proxy.NewConcurrencyLimiter(concurrencyCap(cfgSvc.Get())),
	}

	if cfgSvc.watcher != nil {
		cfgSvc.watcher.OnReload(svc.applyReload)
	}
	return svc, nil
}

// applyReload moves the limiter to the reloaded cap. In-flight requests
// keep their slots; only admission of new requests changes.
func (s *ConcurrencyService) applyReload(newCfg *config.Config) error {
	if newCfg == nil {
		return nil
	}

	newCap := concurrencyCap(newCfg)
	oldCap := s.Limiter.GetLimit()
	if newCap == oldCap {
		return nil
	}

	s.Limiter.SetLimit(newCap)
	log.Info().
		Int64("old_limit", oldCap).
		Int64("new_limit", newCap).
		Msg("concurrency cap updated")
	return nil
}
