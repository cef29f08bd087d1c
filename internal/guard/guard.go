// Package guard wires the authentication pipeline into the HTTP layer.
// Strategies decide whether a credential verifies; the guard is the only
// component that turns those decisions into responses. It owns exclusion
// waivers, the continue-past-error mode, hook invocation, and the status
// and body written for every terminal denial.
package guard

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/tokengate/tokengate/internal/auth"
)

// Decision classifies how the guard settled a request.
type Decision string

const (
	// DecisionGranted means a strategy produced a verified identity.
	DecisionGranted Decision = "granted"
	// DecisionWaived means the credential failed but an exclusion rule
	// waived enforcement for the route.
	DecisionWaived Decision = "waived"
	// DecisionRecovered means the on-error hook recovered the failure.
	DecisionRecovered Decision = "recovered"
	// DecisionForwarded means continue-past-error forwarded the failure
	// downstream without writing a status.
	DecisionForwarded Decision = "forwarded"
	// DecisionDenied means the guard wrote a terminal denial response.
	DecisionDenied Decision = "denied"
)

// AuthorizedHook replaces the default handling of a granted request. The
// returned request is forwarded downstream; returning nil falls back to
// attaching the payload to the request context.
type AuthorizedHook func(r *http.Request, res auth.ChainResult) *http.Request

// ErrorHook intercepts a denial before dispatch. A nil return recovers the
// failure: the pipeline continues with the failure recorded in the request
// context and no status is written, so the hook must not touch the
// ResponseWriter when recovering. A non-nil return hands the denial back to
// the guard.
type ErrorHook func(w http.ResponseWriter, r *http.Request, res auth.ChainResult) error

// DecisionFunc observes every settled decision. It runs inline on the
// request path and must not block.
type DecisionFunc func(r *http.Request, res auth.ChainResult, decision Decision)

// RequestIDFunc supplies the request id embedded in denial bodies.
type RequestIDFunc func(r *http.Request) string

// Hooks bundles the guard's optional callbacks. The zero value disables
// them all.
type Hooks struct {
	OnAuthorized AuthorizedHook
	OnError      ErrorHook
	OnDecision   DecisionFunc
	RequestID    RequestIDFunc
}

// Guard enforces authentication as net/http middleware.
//
// Evaluation order per request: run the chain, then settle. A grant attaches
// the payload and continues. A denial on an excluded route continues with the
// failure recorded. Otherwise the on-error hook may recover the failure, the
// continue-past-error mode may forward it, and failing both the dispatcher
// writes the mapped status and body. Exclusion never suppresses token
// processing: a valid credential on an excluded route still attaches its
// payload.
type Guard struct {
	chain         *auth.Chain
	exclusions    *auth.Exclusions
	dispatcher    *Dispatcher
	continueOn    bool
	hooks         Hooks
	logExclusions bool
}

// New builds a guard over a compiled pipeline. A nil chain produces a
// pass-through guard that enforces nothing, for deployments with
// authentication disabled.
func New(chain *auth.Chain, exclusions *auth.Exclusions, dispatcher *Dispatcher, continueOnError bool, hooks Hooks) *Guard {
	if dispatcher == nil {
		dispatcher = NewDispatcher(defaultStatuses(), "")
	}
	return &Guard{
		chain:      chain,
		exclusions: exclusions,
		dispatcher: dispatcher,
		continueOn: continueOnError,
		hooks:      hooks,
	}
}

// Middleware adapts the guard to the middleware chain.
func (g *Guard) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.serve(w, r, next)
		})
	}
}

func (g *Guard) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	if g.chain == nil {
		next.ServeHTTP(w, r)
		return
	}

	res := g.evaluate(r)

	if res.Authorized {
		forward, hookErr := g.authorized(r, res)
		if hookErr == nil {
			zerolog.Ctx(r.Context()).Debug().
				Str("strategy", res.Strategy).
				Msg("authentication succeeded")
			g.decide(r, res, DecisionGranted)
			next.ServeHTTP(w, forward)
			return
		}
		// A panicking hook downgrades the grant to an internal fault.
		res = internalFailure(res.Strategy, hookErr)
	}

	g.deny(w, r, res, next)
}

// evaluate runs the chain, containing panics as internal failures.
func (g *Guard) evaluate(r *http.Request) (res auth.ChainResult) {
	defer func() {
		if v := recover(); v != nil {
			res = internalFailure("", fmt.Errorf("authentication panicked: %v", v))
		}
	}()
	return g.chain.Run(r)
}

// authorized resolves the request to forward after a grant. The on-authorized
// hook, when set, replaces the default payload attachment; a nil hook return
// falls back to it. Hook panics surface as errors.
func (g *Guard) authorized(r *http.Request, res auth.ChainResult) (forward *http.Request, err error) {
	if g.hooks.OnAuthorized != nil {
		defer func() {
			if v := recover(); v != nil {
				forward = nil
				err = fmt.Errorf("authorized hook panicked: %v", v)
			}
		}()
		if custom := g.hooks.OnAuthorized(r, res); custom != nil {
			return custom, nil
		}
	}
	return r.WithContext(auth.WithPayload(r.Context(), res.Payload)), nil
}

// deny settles a failed evaluation: waiver, recovery, forwarding, or a
// terminal response.
func (g *Guard) deny(w http.ResponseWriter, r *http.Request, res auth.ChainResult, next http.Handler) {
	logger := zerolog.Ctx(r.Context())

	if g.exclusions.Excluded(r) {
		waiverLog := logger.Debug()
		if g.logExclusions {
			waiverLog = logger.Info()
		}
		waiverLog.
			Str("path", r.URL.Path).
			Str("kind", string(res.Kind)).
			Msg("authentication waived by exclusion")

		g.decide(r, res, DecisionWaived)
		next.ServeHTTP(w, r.WithContext(auth.WithFailure(r.Context(), res)))
		return
	}

	if g.hooks.OnError != nil {
		hookErr, panicked := g.invokeErrorHook(w, r, res)
		switch {
		case panicked:
			res = internalFailure(res.Strategy, hookErr)
		case hookErr == nil:
			logger.Debug().
				Str("kind", string(res.Kind)).
				Msg("authentication failure recovered by hook")
			g.decide(r, res, DecisionRecovered)
			next.ServeHTTP(w, r.WithContext(auth.WithFailure(r.Context(), res)))
			return
		}
	}

	// A hook panic is a pipeline fault, always terminal.
	if g.continueOn && res.Kind != auth.FailInternal {
		logger.Debug().
			Str("kind", string(res.Kind)).
			Str("strategy", res.Strategy).
			Msg("authentication failure forwarded downstream")
		g.decide(r, res, DecisionForwarded)
		next.ServeHTTP(w, r.WithContext(auth.WithFailure(r.Context(), res)))
		return
	}

	logger.Warn().
		Str("kind", string(res.Kind)).
		Str("strategy", res.Strategy).
		AnErr("cause", res.Err).
		Msg("authentication failed")

	g.decide(r, res, DecisionDenied)
	g.dispatcher.Write(w, r, res, g.hooks.RequestID)
}

// invokeErrorHook runs the on-error hook with panic containment.
func (g *Guard) invokeErrorHook(w http.ResponseWriter, r *http.Request, res auth.ChainResult) (err error, panicked bool) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("error hook panicked: %v", v)
			panicked = true
		}
	}()
	return g.hooks.OnError(w, r, res), false
}

func (g *Guard) decide(r *http.Request, res auth.ChainResult, decision Decision) {
	if g.hooks.OnDecision != nil {
		g.hooks.OnDecision(r, res, decision)
	}
}

// internalFailure wraps a pipeline fault as a denial.
func internalFailure(strategy string, err error) auth.ChainResult {
	return auth.ChainResult{
		Outcome:  auth.Deny(auth.FailInternal, fmt.Errorf("guard: %w", err)),
		Strategy: strategy,
	}
}
