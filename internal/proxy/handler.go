package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/tokengate/tokengate/internal/auth"
	"github.com/tokengate/tokengate/internal/health"
)

// UpstreamTarget is the circuit breaker target name for the proxied origin.
const UpstreamTarget = "upstream"

// Identity headers injected for the upstream on authorized requests.
// Client-supplied values are always stripped before forwarding.
const (
	HeaderAuthSubject = "X-Auth-Subject" // Verified principal (sub claim)
	HeaderAuthDomain  = "X-Auth-Domain"  // Domain table entry the token verified against
	HeaderAuthClaims  = "X-Auth-Claims"  // Full verified claim set as JSON
)

var identityHeaders = []string{HeaderAuthSubject, HeaderAuthDomain, HeaderAuthClaims}

// Handler proxies authorized requests to the configured upstream.
type Handler struct {
	proxy     *httputil.ReverseProxy
	tracker   *health.Tracker
	healthy   func() bool
	timeout   time.Duration
	debugOpts DebugOptionsProvider
}

// NewHandler creates the reverse proxy handler for the upstream origin.
//
// The upstream URL is fixed for the lifetime of the handler; timeout bounds
// each proxied request (0 means no per-request deadline). The tracker, when
// non-nil, is charged with upstream successes and failures so the breaker
// can fail fast while the origin is down.
func NewHandler(
	upstream string,
	timeout time.Duration,
	tracker *health.Tracker,
	debugOpts DebugOptionsProvider,
) (*Handler, error) {
	targetURL, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}

	h := &Handler{
		tracker:   tracker,
		timeout:   timeout,
		debugOpts: debugOpts,
	}
	if tracker != nil {
		h.healthy = tracker.IsHealthyFunc(UpstreamTarget)
	}

	h.proxy = &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(targetURL)
			r.SetXForwarded()
			setIdentityHeaders(r)
		},

		// Flush after every write so streamed upstream responses are not
		// held back by buffering.
		FlushInterval: -1,

		ModifyResponse: func(resp *http.Response) error {
			h.recordOutcome(resp.StatusCode)
			return nil
		},

		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if errors.Is(err, context.Canceled) {
				// Client went away; not an upstream fault.
				zerolog.Ctx(r.Context()).Debug().Err(err).Msg("proxy aborted by client")
				return
			}
			if IsBodyTooLargeError(err) {
				// The body cap tripped while forwarding; the client is at
				// fault, so the upstream breaker is not charged.
				zerolog.Ctx(r.Context()).Warn().Err(err).Msg("request body over limit")
				WriteBodyTooLargeError(w)
				return
			}

			if h.tracker != nil {
				h.tracker.RecordFailure(UpstreamTarget, err)
			}
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("upstream request failed")
			WriteError(w, http.StatusBadGateway, "api_error", "upstream connection failed")
		},
	}

	return h, nil
}

// setIdentityHeaders strips client-supplied identity headers and injects
// the verified ones. A client can never smuggle an identity past the gate.
func setIdentityHeaders(r *httputil.ProxyRequest) {
	for _, name := range identityHeaders {
		r.Out.Header.Del(name)
	}

	payload, ok := auth.PayloadFrom(r.In.Context())
	if !ok {
		return
	}

	if payload.Subject != "" {
		r.Out.Header.Set(HeaderAuthSubject, payload.Subject)
	}
	if payload.Domain != "" {
		r.Out.Header.Set(HeaderAuthDomain, payload.Domain)
	}
	if len(payload.Claims) > 0 {
		if claims, err := json.Marshal(payload.Claims); err == nil {
			r.Out.Header.Set(HeaderAuthClaims, string(claims))
		}
	}
}

// recordOutcome charges the upstream breaker by response class.
func (h *Handler) recordOutcome(statusCode int) {
	if h.tracker == nil {
		return
	}
	if health.ShouldCountAsFailure(statusCode, nil) {
		h.tracker.RecordFailure(UpstreamTarget, fmt.Errorf("upstream returned %d", statusCode))
		return
	}
	h.tracker.RecordSuccess(UpstreamTarget)
}

// ServeHTTP handles the proxy request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.healthy != nil && !h.healthy() {
		zerolog.Ctx(r.Context()).Warn().Msg("request rejected: upstream circuit open")
		WriteError(w, http.StatusServiceUnavailable, "api_error",
			"upstream is unavailable, please retry later")
		return
	}

	if h.debugOpts != nil {
		if payload, ok := auth.PayloadFrom(r.Context()); ok {
			LogClaims(r.Context(), payload, h.debugOpts())
		}
	}

	if h.timeout > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()
		r = r.WithContext(ctx)
	}

	h.proxy.ServeHTTP(w, r)
}
