package proxy

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tokengate/tokengate/internal/ratelimit"
)

func TestRequestIDMiddleware_GeneratesID(t *testing.T) {
	t.Parallel()

	var seenID string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	wrappedHandler := RequestIDMiddleware()(handler)

	req := httptest.NewRequest(http.MethodGet, "/v1/data", http.NoBody)
	rec := httptest.NewRecorder()
	wrappedHandler.ServeHTTP(rec, req)

	if seenID == "" {
		t.Error("Expected generated request ID in context, got empty string")
	}
	if got := rec.Header().Get("X-Request-ID"); got != seenID {
		t.Errorf("Expected X-Request-ID header %q, got %q", seenID, got)
	}
}

func TestRequestIDMiddleware_PropagatesClientID(t *testing.T) {
	t.Parallel()

	var seenID string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	wrappedHandler := RequestIDMiddleware()(handler)

	req := httptest.NewRequest(http.MethodGet, "/v1/data", http.NoBody)
	req.Header.Set("X-Request-ID", "client-id-42")
	rec := httptest.NewRecorder()
	wrappedHandler.ServeHTTP(rec, req)

	if seenID != "client-id-42" {
		t.Errorf("Expected request ID client-id-42 in context, got %q", seenID)
	}
	if got := rec.Header().Get("X-Request-ID"); got != "client-id-42" {
		t.Errorf("Expected X-Request-ID header client-id-42, got %q", got)
	}
}

func TestLoggingMiddleware_LogsCompletion(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.InfoLevel)

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	wrappedHandler := LoggingMiddleware(testDebugOptions())(handler)

	req := httptest.NewRequest(http.MethodPost, "/v1/data", http.NoBody)
	req = req.WithContext(logger.WithContext(req.Context()))
	rec := httptest.NewRecorder()
	wrappedHandler.ServeHTTP(rec, req)

	output := buf.String()
	if !strings.Contains(output, `"path":"/v1/data"`) {
		t.Errorf("Expected path in log output, got: %s", output)
	}
	if !strings.Contains(output, `"status":418`) {
		t.Errorf("Expected status 418 in log output, got: %s", output)
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		remoteAddr string
		want       string
	}{
		{name: "host and port", remoteAddr: "192.0.2.7:4321", want: "192.0.2.7"},
		{name: "ipv6 host and port", remoteAddr: "[2001:db8::1]:443", want: "2001:db8::1"},
		{name: "no port falls back to raw", remoteAddr: "192.0.2.7", want: "192.0.2.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			req.RemoteAddr = tt.remoteAddr
			if got := ClientIP(req); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestThrottleMiddleware_RejectsThrottledClient(t *testing.T) {
	t.Parallel()

	limiter := ratelimit.New(1, 1)
	limiter.RecordFailure("192.0.2.9")

	downstreamCalled := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		downstreamCalled = true
		w.WriteHeader(http.StatusOK)
	})

	wrappedHandler := ThrottleMiddleware(limiter)(handler)

	req := httptest.NewRequest(http.MethodPost, "/v1/data", http.NoBody)
	req.RemoteAddr = "192.0.2.9:5000"
	rec := httptest.NewRecorder()
	wrappedHandler.ServeHTTP(rec, req)

	if downstreamCalled {
		t.Error("Expected throttled request to stop before downstream handler")
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("Expected status 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header on throttle response")
	}
	if !strings.Contains(rec.Body.String(), "rate_limit_error") {
		t.Errorf("Expected rate_limit_error body, got: %s", rec.Body.String())
	}
}

func TestThrottleMiddleware_PassesCleanClient(t *testing.T) {
	t.Parallel()

	limiter := ratelimit.New(1, 1)
	limiter.RecordFailure("192.0.2.9")

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	wrappedHandler := ThrottleMiddleware(limiter)(handler)

	req := httptest.NewRequest(http.MethodPost, "/v1/data", http.NoBody)
	req.RemoteAddr = "192.0.2.10:5000"
	rec := httptest.NewRecorder()
	wrappedHandler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200 for clean client, got %d", rec.Code)
	}
}

func TestThrottleMiddleware_NeverCharges(t *testing.T) {
	t.Parallel()

	limiter := ratelimit.New(1, 1)
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	wrappedHandler := ThrottleMiddleware(limiter)(handler)

	// Far more requests than the budget; without a recorded failure none
	// may be rejected.
	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/data", http.NoBody)
		req.RemoteAddr = "192.0.2.11:5000"
		rec := httptest.NewRecorder()
		wrappedHandler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("Request %d rejected with %d, want 200", i, rec.Code)
		}
	}
}

func TestThrottleMiddleware_NilLimiterPassesThrough(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	wrappedHandler := ThrottleMiddleware(nil)(handler)

	req := httptest.NewRequest(http.MethodGet, "/v1/data", http.NoBody)
	rec := httptest.NewRecorder()
	wrappedHandler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200 with nil limiter, got %d", rec.Code)
	}
}

func TestConcurrencyLimiter_TryAcquireRelease(t *testing.T) {
	t.Parallel()

	limiter := NewConcurrencyLimiter(2)

	if !limiter.TryAcquire() {
		t.Fatal("Expected first acquire to succeed")
	}
	if !limiter.TryAcquire() {
		t.Fatal("Expected second acquire to succeed")
	}
	if limiter.TryAcquire() {
		t.Error("Expected third acquire to fail at limit 2")
	}

	limiter.Release()
	if !limiter.TryAcquire() {
		t.Error("Expected acquire to succeed after release")
	}

	if got := limiter.CurrentInFlight(); got != 2 {
		t.Errorf("CurrentInFlight() = %d, want 2", got)
	}
}

func TestConcurrencyLimiter_UnlimitedWhenZero(t *testing.T) {
	t.Parallel()

	limiter := NewConcurrencyLimiter(0)

	for i := 0; i < 100; i++ {
		if !limiter.TryAcquire() {
			t.Fatalf("Acquire %d failed on unlimited limiter", i)
		}
	}
	if got := limiter.CurrentInFlight(); got != 100 {
		t.Errorf("CurrentInFlight() = %d, want 100", got)
	}
}

func TestConcurrencyLimiter_SetLimit(t *testing.T) {
	t.Parallel()

	limiter := NewConcurrencyLimiter(1)
	if !limiter.TryAcquire() {
		t.Fatal("Expected first acquire to succeed")
	}
	if limiter.TryAcquire() {
		t.Fatal("Expected second acquire to fail at limit 1")
	}

	limiter.SetLimit(2)
	if !limiter.TryAcquire() {
		t.Error("Expected acquire to succeed after raising limit")
	}
	if got := limiter.GetLimit(); got != 2 {
		t.Errorf("GetLimit() = %d, want 2", got)
	}
}

func TestConcurrencyMiddleware_RejectsAtCapacity(t *testing.T) {
	t.Parallel()

	limiter := NewConcurrencyLimiter(1)
	if !limiter.TryAcquire() {
		t.Fatal("Expected setup acquire to succeed")
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	wrappedHandler := ConcurrencyMiddleware(limiter)(handler)

	req := httptest.NewRequest(http.MethodPost, "/v1/data", http.NoBody)
	rec := httptest.NewRecorder()
	wrappedHandler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503 at capacity, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "server_busy") {
		t.Errorf("Expected server_busy body, got: %s", rec.Body.String())
	}

	limiter.Release()
	rec = httptest.NewRecorder()
	wrappedHandler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200 after release, got %d", rec.Code)
	}
}

func TestMaxBodyBytesMiddleware_EnforcesLimit(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := io.ReadAll(r.Body)
		if err != nil {
			if !IsBodyTooLargeError(err) {
				t.Errorf("Expected MaxBytesError, got %v", err)
			}
			WriteBodyTooLargeError(w)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	wrappedHandler := MaxBodyBytesMiddleware(func() int64 { return 8 })(handler)

	req := httptest.NewRequest(http.MethodPost, "/v1/data", strings.NewReader("way past the eight byte cap"))
	rec := httptest.NewRecorder()
	wrappedHandler.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected status 413, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/data", strings.NewReader("tiny"))
	rec = httptest.NewRecorder()
	wrappedHandler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200 under the cap, got %d", rec.Code)
	}
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		duration time.Duration
		want     string
	}{
		{name: "zero", duration: 0, want: "0s"},
		{name: "microseconds", duration: 250 * time.Microsecond, want: "250µs"},
		{name: "milliseconds", duration: 42*time.Millisecond + 500*time.Microsecond, want: "42.50ms"},
		{name: "seconds", duration: 2*time.Second + 250*time.Millisecond, want: "2.25s"},
		{name: "minutes", duration: 90 * time.Second, want: "1m30s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := formatDuration(tt.duration); got != tt.want {
				t.Errorf("formatDuration(%v) = %q, want %q", tt.duration, got, tt.want)
			}
		})
	}
}

func TestStatusSymbol(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   string
	}{
		{status: 200, want: "✓"},
		{status: 302, want: "✓"},
		{status: 404, want: "⚠"},
		{status: 500, want: "✗"},
	}

	for _, tt := range tests {
		if got := statusSymbol(tt.status); got != tt.want {
			t.Errorf("statusSymbol(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}
