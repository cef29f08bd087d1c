package di

import (
	"sync"

	"github.com/samber/do/v2"
	"github.com/samber/lo"

	"github.com/tokengate/tokengate/internal/config"
	"github.com/tokengate/tokengate/internal/health"
	"github.com/tokengate/tokengate/internal/proxy"
)

// HealthTrackerService exposes the circuit breaker tracker. The tracker
// pointer is stable for the life of the container; reloads reset its
// contents in place so handlers never hold a stale reference.
type HealthTrackerService struct {
	Tracker *health.Tracker
}

// NewHealthTracker creates the health tracker from configuration.
func NewHealthTracker(i do.Injector) (*HealthTrackerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	loggerSvc := do.MustInvoke[*LoggerService](i)

	return &HealthTrackerService{
		Tracker: health.NewTracker(cfgSvc.Config.Health.CircuitBreaker, loggerSvc.Logger),
	}, nil
}

// CheckerService runs the background health prober and rebuilds it when
// the config reloads. The mutex guards the checker pointer and the
// running flag together so a reload cannot race Start or Shutdown.
type CheckerService struct {
	Checker *health.Checker

	cfgSvc  *ConfigService
	tracker *HealthTrackerService
	logger  *LoggerService

	mu      sync.Mutex
	running bool
}

// NewChecker builds the prober from the current config and subscribes
// to hot reloads when a watcher exists.
func NewChecker(i do.Injector) (*CheckerService, error) {
	svc := &CheckerService{
		cfgSvc:  do.MustInvoke[*ConfigService](i),
		tracker: do.MustInvoke[*HealthTrackerService](i),
		logger:  do.MustInvoke[*LoggerService](i),
	}

	if err := svc.rebuild(svc.cfgSvc.Config); err != nil {
		return nil, err
	}
	if svc.cfgSvc.watcher != nil {
		svc.cfgSvc.watcher.OnReload(svc.rebuild)
	}
	return svc, nil
}

// Start launches the prober and marks it running so later reloads know
// to restart the replacement.
func (h *CheckerService) Start() {
	h.mu.Lock()
	h.running = true
	checker := h.Checker
	h.mu.Unlock()

	if checker != nil {
		checker.Start()
	}
}

// Shutdown implements do.Shutdowner.
func (h *CheckerService) Shutdown() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.Checker != nil && h.running {
		h.Checker.Stop()
		h.running = false
	}
	return nil
}

// rebuild resets the tracker to the new thresholds and replaces the
// prober with one probing the new target set.
func (h *CheckerService) rebuild(cfg *config.Config) error {
	if cfg == nil {
		return nil
	}

	h.tracker.Tracker.Reset(cfg.Health.CircuitBreaker, h.logger.Logger)

	checker := health.NewChecker(h.tracker.Tracker, cfg.Health.HealthCheck, h.logger.Logger)
	h.registerTargets(checker, cfg)
	h.swap(checker)
	return nil
}

// registerTargets wires probe targets for every circuit the gateway opens:
// the upstream origin and each JWKS endpoint. Introspection endpoints are
// not probed; they answer POST only, so a GET probe would read as permanently
// down. Their circuits recover through half-open trial requests instead.
func (h *CheckerService) registerTargets(checker *health.Checker, cfg *config.Config) {
	checker.RegisterTarget(health.NewTargetCheck(proxy.UpstreamTarget, cfg.Upstream.HealthURL(), nil))
	h.logger.Logger.Debug().
		Str("target", proxy.UpstreamTarget).
		Str("url", cfg.Upstream.HealthURL()).
		Msg("registered health check")

	for _, url := range jwksEndpoints(cfg) {
		checker.RegisterTarget(health.NewTargetCheck("jwks:"+url, url, nil))
		h.logger.Logger.Debug().
			Str("target", "jwks:"+url).
			Str("url", url).
			Msg("registered health check")
	}
}

// swap installs the replacement prober. When the old one was running it
// is stopped and the replacement started, outside the lock so probe
// goroutines draining in Stop cannot deadlock against Start.
func (h *CheckerService) swap(checker *health.Checker) {
	h.mu.Lock()
	wasRunning := h.running
	old := h.Checker
	h.Checker = checker
	h.mu.Unlock()

	if old != nil && wasRunning {
		old.Stop()
		checker.Start()
	}
}

// jwksEndpoints collects every distinct JWKS URL the auth section references,
// across flat strategy settings and domain table entries.
func jwksEndpoints(cfg *config.Config) []string {
	var urls []string
	for i := range cfg.Auth.Strategies {
		sc := &cfg.Auth.Strategies[i]
		if sc.Type != config.StrategyJWT {
			continue
		}
		if sc.JWKSURL != "" {
			urls = append(urls, sc.JWKSURL)
		}
		for _, dc := range sc.Domains {
			if dc.JWKSURL != "" {
				urls = append(urls, dc.JWKSURL)
			}
		}
	}
	return lo.Uniq(urls)
}
