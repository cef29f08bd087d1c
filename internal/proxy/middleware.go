package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tokengate/tokengate/internal/config"
	"github.com/tokengate/tokengate/internal/ratelimit"
)

// DebugOptionsProvider returns current debug options for live-config logging.
type DebugOptionsProvider func() config.DebugOptions

// ClientIP extracts the client address from a request, without the port.
// Falls back to the raw RemoteAddr when it does not parse as host:port.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// shortRequestID returns the request ID truncated for log lines; the
// full ID is still in the X-Request-ID header.
func shortRequestID(ctx context.Context) string {
	id := GetRequestID(ctx)
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// accessLog carries one request's identifying fields through the start
// and completion log lines.
type accessLog struct {
	method  string
	path    string
	shortID string
}

func (a accessLog) logger(ctx context.Context) zerolog.Logger {
	return zerolog.Ctx(ctx).With().
		Str("method", a.method).
		Str("path", a.path).
		Str("req_id", a.shortID).
		Logger()
}

func (a accessLog) begin(ctx context.Context) {
	logger := a.logger(ctx)
	logger.Info().Msgf("%s %s", a.method, a.path)
}

func (a accessLog) end(ctx context.Context, status int, elapsed time.Duration) {
	durationStr := formatDuration(elapsed)
	msg := fmt.Sprintf("%s %s (%s)", statusSymbol(status), http.StatusText(status), durationStr)

	logger := a.logger(ctx).With().
		Int("status", status).
		Str("duration", durationStr).
		Logger()

	switch {
	case status >= 500:
		logger.Error().Msg(msg)
	case status >= 400:
		logger.Warn().Msg(msg)
	default:
		logger.Info().Msg(msg)
	}
}

func statusSymbol(statusCode int) string {
	switch {
	case statusCode >= 500:
		return "✗"
	case statusCode >= 400:
		return "⚠"
	default:
		return "✓"
	}
}

// formatDuration renders an elapsed time in the unit that keeps two or
// three significant digits: µs under a millisecond, ms under a second,
// seconds under a minute.
func formatDuration(duration time.Duration) string {
	if duration <= 0 {
		return "0s"
	}
	duration = duration.Round(time.Microsecond)
	switch {
	case duration < time.Millisecond:
		return fmt.Sprintf("%dµs", duration.Microseconds())
	case duration < time.Second:
		return fmt.Sprintf("%.2fms", float64(duration)/float64(time.Millisecond))
	case duration < time.Minute:
		return fmt.Sprintf("%.2fs", duration.Seconds())
	default:
		return duration.Truncate(time.Second).String()
	}
}

// LoggingMiddlewareWithProvider logs a line when a request arrives and
// another when it completes, leveled by status class. The provider is
// consulted per request so debug options follow hot reload.
func LoggingMiddlewareWithProvider(provider DebugOptionsProvider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			var debugOpts config.DebugOptions
			if provider != nil {
				debugOpts = provider()
			}

			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: writer, statusCode: http.StatusOK}

			entry := accessLog{
				method:  request.Method,
				path:    request.URL.Path,
				shortID: shortRequestID(request.Context()),
			}

			if debugOpts.LogRequestHeaders {
				LogRequestHeaders(request.Context(), request)
			}
			entry.begin(request.Context())

			next.ServeHTTP(wrapped, request)

			entry.end(request.Context(), wrapped.statusCode, time.Since(start))
		})
	}
}

// LoggingMiddleware is LoggingMiddlewareWithProvider with fixed debug
// options.
func LoggingMiddleware(debugOpts config.DebugOptions) func(http.Handler) http.Handler {
	return LoggingMiddlewareWithProvider(func() config.DebugOptions { return debugOpts })
}

// RequestIDMiddleware honors an incoming X-Request-ID or generates one,
// echoes it on the response, and binds it to the request logger.
func RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			requestID := request.Header.Get("X-Request-ID")
			ctx := AddRequestID(request.Context(), requestID)

			if requestID == "" {
				requestID = GetRequestID(ctx)
			}
			writer.Header().Set("X-Request-ID", requestID)

			next.ServeHTTP(writer, request.WithContext(ctx))
		})
	}
}

// ThrottleMiddleware rejects clients that are over their failed-auth budget
// before the authentication chain runs. Failures are charged elsewhere, on
// denied decisions; this middleware only checks and never charges.
func ThrottleMiddleware(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if limiter != nil {
				client := ClientIP(request)
				if limiter.Throttled(client) {
					retryAfter := limiter.RetryAfter(client)
					zerolog.Ctx(request.Context()).Warn().
						Str("client", client).
						Dur("retry_after", retryAfter).
						Msg("request rejected: failed-auth throttle")
					WriteThrottleError(writer, retryAfter)
					return
				}
			}
			next.ServeHTTP(writer, request)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush passes through to the wrapped writer so streamed upstream
// responses are not buffered.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// ConcurrencyLimiter caps in-flight requests across the whole gateway.
// Both the cap and the running count are atomics, so SetLimit can apply
// a hot-reloaded value with requests in flight.
type ConcurrencyLimiter struct {
	limit   atomic.Int64
	current atomic.Int64
}

// NewConcurrencyLimiter builds a limiter. Zero or negative means
// unlimited.
func NewConcurrencyLimiter(maxLimit int64) *ConcurrencyLimiter {
	l := &ConcurrencyLimiter{}
	l.limit.Store(maxLimit)
	return l
}

// SetLimit replaces the cap. Zero or negative means unlimited.
func (l *ConcurrencyLimiter) SetLimit(maxLimit int64) {
	l.limit.Store(maxLimit)
}

// GetLimit returns the configured cap.
func (l *ConcurrencyLimiter) GetLimit() int64 {
	return l.limit.Load()
}

// CurrentInFlight returns how many requests hold a slot right now.
func (l *ConcurrencyLimiter) CurrentInFlight() int64 {
	return l.current.Load()
}

// TryAcquire claims a slot, reporting false when the gateway is at
// capacity. Unlimited mode still counts in-flight requests so the
// status endpoint can report them.
func (l *ConcurrencyLimiter) TryAcquire() bool {
	limit := l.limit.Load()
	if limit <= 0 {
		l.current.Add(1)
		return true
	}

	for {
		current := l.current.Load()
		if current >= limit {
			return false
		}
		if l.current.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

// Release frees a slot claimed by TryAcquire.
func (l *ConcurrencyLimiter) Release() {
	l.current.Add(-1)
}

// ConcurrencyMiddleware turns the limiter into middleware: requests over
// the cap get a 503 without touching the upstream.
func ConcurrencyMiddleware(limiter *ConcurrencyLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if !limiter.TryAcquire() {
				zerolog.Ctx(request.Context()).Warn().
					Int64("limit", limiter.GetLimit()).
					Int64("current", limiter.CurrentInFlight()).
					Msg("request rejected: concurrency limit reached")
				WriteError(writer, http.StatusServiceUnavailable, "server_busy",
					"server is at maximum capacity, please retry later")
				return
			}
			defer limiter.Release()
			next.ServeHTTP(writer, request)
		})
	}
}

// MaxBodyBytesMiddleware caps request body size via http.MaxBytesReader.
// The limit is read per request so hot reload applies without restart.
func MaxBodyBytesMiddleware(limitProvider func() int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			limit := limitProvider()
			if limit > 0 && request.Body != nil {
				request.Body = http.MaxBytesReader(writer, request.Body, limit)
			}
			next.ServeHTTP(writer, request)
		})
	}
}
