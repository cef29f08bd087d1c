package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tokengate/tokengate/internal/config"
	"github.com/tokengate/tokengate/internal/health"
)

// testDebugOptions returns an empty DebugOptions struct for testing.
func testDebugOptions() config.DebugOptions {
	return config.DebugOptions{}
}

// newTestTracker creates a health tracker that opens circuits after a
// single failure, so breaker tests need only one charge.
func newTestTracker() *health.Tracker {
	logger := zerolog.Nop()
	return health.NewTracker(health.CircuitBreakerConfig{FailureThreshold: 1}, &logger)
}

// newUpstream starts a test backend and tears it down with the test.
func newUpstream(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

// mustNewHandler builds a proxy handler or fails the test.
func mustNewHandler(t *testing.T, upstream string, tracker *health.Tracker) *Handler {
	t.Helper()
	handler, err := NewHandler(upstream, 0, tracker, nil)
	if err != nil {
		t.Fatalf("NewHandler failed: %v", err)
	}
	return handler
}
