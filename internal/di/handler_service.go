package di

import (
	"fmt"
	"net/http"

	"github.com/samber/do/v2"

	"github.com/tokengate/tokengate/internal/proxy"
)

// HandlerService wraps the HTTP handler.
type HandlerService struct {
	Handler http.Handler
}

// NewGatewayHandler creates the HTTP handler with the full middleware stack:
// request IDs, logging, body cap, concurrency limit, failed-auth throttle,
// authentication guard, then the reverse proxy.
func NewGatewayHandler(injector do.Injector) (*HandlerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](injector)
	guardSvc := do.MustInvoke[*GuardService](injector)
	concurrencySvc := do.MustInvoke[*ConcurrencyService](injector)
	throttleSvc := do.MustInvoke[*ThrottleService](injector)
	trackerSvc := do.MustInvoke[*HealthTrackerService](injector)

	handler, err := proxy.NewRouter(proxy.RouterDeps{
		Runtime:  cfgSvc.Runtime(),
		Guard:    guardSvc.Middleware,
		Limiter:  concurrencySvc.Limiter,
		Throttle: throttleSvc.Limiter,
		Tracker:  trackerSvc.Tracker,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to setup gateway handler: %w", err)
	}

	return &HandlerService{Handler: handler}, nil
}
