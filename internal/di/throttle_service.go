package di

import (
	"github.com/rs/zerolog/log"
	"github.com/samber/do/v2"

	"github.com/tokengate/tokengate/internal/config"
	"github.com/tokengate/tokengate/internal/ratelimit"
)

// ThrottleService wraps the failed-auth client throttle for DI.
type ThrottleService struct {
	Limiter *ratelimit.Limiter
}

// NewThrottle creates the throttle service.
// The limiter is initialized with the current config value and updated on hot-reload.
func NewThrottle(i do.Injector) (*ThrottleService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	cfg := cfgSvc.Get()

	failures := 0
	burst := 0
	if cfg != nil {
		failures = cfg.Throttle.FailuresPerMinute
		burst = cfg.Throttle.GetBurst()
	}

	limiter := ratelimit.New(failures, burst)

	svc := &ThrottleService{Limiter: limiter}

	// Register for hot-reload updates if watcher is available
	svc.startWatching(cfgSvc)

	return svc, nil
}

// startWatching registers for config hot-reload to update the throttle budget.
func (s *ThrottleService) startWatching(cfgSvc *ConfigService) {
	if cfgSvc.watcher == nil {
		return
	}

	cfgSvc.watcher.OnReload(func(newCfg *config.Config) error {
		if newCfg != nil {
			usage := s.Limiter.Usage()
			newFailures := newCfg.Throttle.FailuresPerMinute
			newBurst := newCfg.Throttle.GetBurst()
			if newFailures != usage.FailuresPerMinute || newBurst != usage.Burst {
				s.Limiter.SetLimit(newFailures, newBurst)
				log.Info().
					Int("old_failures_per_minute", usage.FailuresPerMinute).
					Int("new_failures_per_minute", newFailures).
					Int("new_burst", newBurst).
					Msg("auth throttle updated via hot-reload")
			}
		}
		return nil
	})
}
