package di

import (
	"context"
	"net/http"

	"github.com/samber/do/v2"

	"github.com/tokengate/tokengate/internal/audit"
	"github.com/tokengate/tokengate/internal/auth"
	"github.com/tokengate/tokengate/internal/guard"
	"github.com/tokengate/tokengate/internal/proxy"
	"github.com/tokengate/tokengate/internal/ratelimit"
)

// GuardService wraps the live authentication middleware for DI.
type GuardService struct {
	Middleware func(http.Handler) http.Handler
	cancel     context.CancelFunc
}

// NewGuard assembles the authentication middleware from the shared backends.
// The middleware recompiles its strategy pipeline whenever the auth section
// of the config changes, so no reload handling is needed here.
func NewGuard(i do.Injector) (*GuardService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	cacheSvc := do.MustInvoke[*CacheService](i)
	trackerSvc := do.MustInvoke[*HealthTrackerService](i)
	throttleSvc := do.MustInvoke[*ThrottleService](i)
	auditSvc := do.MustInvoke[*AuditService](i)
	loggerSvc := do.MustInvoke[*LoggerService](i)

	// This context bounds the background JWKS refreshes of every pipeline
	// the middleware compiles. Cancelled on shutdown.
	ctx, cancel := context.WithCancel(context.Background())

	backends := guard.Backends{
		Cache:   cacheSvc.Cache,
		Tracker: trackerSvc.Tracker,
	}
	hooks := guard.Hooks{
		OnDecision: decisionHook(auditSvc.Recorder, throttleSvc.Limiter),
		RequestID: func(r *http.Request) string {
			return proxy.GetRequestID(r.Context())
		},
	}

	middleware := guard.Live(ctx, cfgSvc.Runtime(), backends, hooks, loggerSvc.Logger)

	return &GuardService{Middleware: middleware, cancel: cancel}, nil
}

// Shutdown implements do.Shutdowner; it stops background key refreshes.
func (g *GuardService) Shutdown() error {
	if g.cancel != nil {
		g.cancel()
	}
	return nil
}

// decisionHook publishes every settled request to the audit stream and
// charges the failed-auth throttle. Only terminal failures count against the
// client's budget: waived and recovered outcomes let the request through, so
// throttling them would punish routes the operator explicitly opened.
func decisionHook(recorder *audit.Recorder, throttle *ratelimit.Limiter) guard.DecisionFunc {
	return func(r *http.Request, res auth.ChainResult, decision guard.Decision) {
		client := proxy.ClientIP(r)

		event := audit.Event{
			Decision:  string(decision),
			Strategy:  res.Strategy,
			Kind:      string(res.Kind),
			Client:    client,
			Method:    r.Method,
			Path:      r.URL.Path,
			RequestID: proxy.GetRequestID(r.Context()),
			Elapsed:   res.Elapsed,
		}
		if res.Payload != nil {
			event.Subject = res.Payload.Subject
		}
		recorder.Publish(event)

		if decision == guard.DecisionDenied || decision == guard.DecisionForwarded {
			throttle.RecordFailure(client)
		}
	}
}
