package proxy

import (
	"fmt"
	"net/http"

	"github.com/tokengate/tokengate/internal/config"
	"github.com/tokengate/tokengate/internal/health"
	"github.com/tokengate/tokengate/internal/ratelimit"
)

// RouterDeps carries the assembled pieces the route table needs.
type RouterDeps struct {
	// Runtime provides live config snapshots for hot-reloadable settings.
	Runtime config.RuntimeConfig

	// Guard is the authentication middleware. Pass-through when nil.
	Guard func(http.Handler) http.Handler

	// Limiter enforces the global concurrency cap. Unlimited when nil.
	Limiter *ConcurrencyLimiter

	// Throttle rejects clients over their failed-auth budget. Off when nil.
	Throttle *ratelimit.Limiter

	// Tracker reports circuit states on the health endpoint.
	Tracker *health.Tracker
}

// NewRouter creates the HTTP handler with all routes configured.
// Routes:
//   - GET /healthz - liveness, circuit states and throttle usage (no auth)
//   - everything else - middleware stack, then reverse proxy to the upstream
//
// The upstream URL and request timeout are read once at construction;
// debug options and the body cap follow the live config.
func NewRouter(deps RouterDeps) (http.Handler, error) {
	if deps.Runtime == nil {
		return nil, fmt.Errorf("runtime config is required")
	}
	cfg := deps.Runtime.Get()
	if cfg == nil {
		return nil, fmt.Errorf("no configuration loaded")
	}

	debugOpts := func() config.DebugOptions {
		if current := deps.Runtime.Get(); current != nil {
			return current.Logging.DebugOptions
		}
		return config.DebugOptions{}
	}

	handler, err := NewHandler(
		cfg.Upstream.URL,
		cfg.Upstream.GetTimeoutOption().OrElse(0),
		deps.Tracker,
		debugOpts,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create handler: %w", err)
	}

	// Apply middleware in order:
	// 1. RequestIDMiddleware (first - generates ID)
	// 2. LoggingMiddleware (second - logs with ID)
	// 3. MaxBodyBytesMiddleware (body cap before anything reads)
	// 4. ConcurrencyMiddleware (global slot limit)
	// 5. ThrottleMiddleware (failed-auth throttle, before the chain runs)
	// 6. Guard (authentication)
	// 7. Handler
	var gated http.Handler = handler
	if deps.Guard != nil {
		gated = deps.Guard(gated)
	}
	gated = ThrottleMiddleware(deps.Throttle)(gated)
	if deps.Limiter != nil {
		gated = ConcurrencyMiddleware(deps.Limiter)(gated)
	}
	gated = MaxBodyBytesMiddleware(func() int64 {
		if current := deps.Runtime.Get(); current != nil {
			return current.Server.GetMaxBodyBytesOption().OrElse(0)
		}
		return 0
	})(gated)
	gated = LoggingMiddlewareWithProvider(debugOpts)(gated)
	gated = RequestIDMiddleware()(gated)

	mux := http.NewServeMux()
	mux.Handle("GET /healthz", healthzHandler(deps.Tracker, deps.Throttle))
	mux.Handle("/", gated)

	return mux, nil
}

// healthzResponse is the body of the health endpoint.
type healthzResponse struct {
	Status   string            `json:"status"`
	Circuits map[string]string `json:"circuits,omitempty"`
	Throttle *ratelimit.Usage  `json:"throttle,omitempty"`
}

// healthzHandler reports liveness plus circuit and throttle state.
// Always 200: an open upstream circuit marks the body degraded but must
// not fail a liveness probe.
func healthzHandler(tracker *health.Tracker, throttle *ratelimit.Limiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		response := healthzResponse{Status: "ok"}

		if tracker != nil {
			states := tracker.AllStates()
			response.Circuits = make(map[string]string, len(states))
			for target, state := range states {
				response.Circuits[target] = state.String()
			}
			if state, ok := states[UpstreamTarget]; ok && state == health.StateOpen {
				response.Status = "degraded"
			}
		}
		if throttle != nil {
			usage := throttle.Usage()
			response.Throttle = &usage
		}

		writeJSON(w, http.StatusOK, response)
	})
}
