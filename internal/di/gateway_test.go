package di_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokengate/tokengate/internal/di"
)

// gatewayConfig renders a config file pointing at a live upstream with one
// static bearer token. The throttle budget is high so repeated denials in
// polling loops never trip it.
func gatewayConfig(upstreamURL, token string) string {
	return fmt.Sprintf(`
server:
  listen: ":8080"
upstream:
  url: %s
logging:
  level: error
  format: json
cache:
  mode: disabled
throttle:
  failures_per_minute: 600
  burst: 500
auth:
  strategies:
    - type: static
      tokens:
        - token: %s
          subject: ci
`, upstreamURL, token)
}

// newGatewayContainer starts an echo upstream, writes a config aimed at it,
// and builds the container. Returns the handler and the config path.
func newGatewayContainer(t *testing.T, token string) (http.Handler, *di.Container, string) {
	t.Helper()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Echo-Subject", r.Header.Get("X-Auth-Subject"))
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "upstream-ok")
	}))
	t.Cleanup(upstream.Close)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfigFile(t, path, gatewayConfig(upstream.URL, token))

	container, err := di.NewContainer(path)
	require.NoError(t, err)
	t.Cleanup(func() { shutdownContainer(t, container) })

	handlerSvc, err := di.Invoke[*di.HandlerService](container)
	require.NoError(t, err)
	require.NotNil(t, handlerSvc.Handler)

	return handlerSvc.Handler, container, path
}

// gatewayRequest runs one request through the assembled handler.
func gatewayRequest(handler http.Handler, method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestGatewayServesHealthz(t *testing.T) {
	t.Parallel()
	handler, _, _ := newGatewayContainer(t, "test-token-1")

	rec := gatewayRequest(handler, http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), `"throttle"`)
}

func TestGatewayDeniesWithoutCredential(t *testing.T) {
	t.Parallel()
	handler, _, _ := newGatewayContainer(t, "test-token-1")

	rec := gatewayRequest(handler, http.MethodGet, "/v1/resource", "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "authentication_error")
	assert.Contains(t, rec.Body.String(), "request_id")
}

func TestGatewayDeniesWrongToken(t *testing.T) {
	t.Parallel()
	handler, _, _ := newGatewayContainer(t, "test-token-1")

	rec := gatewayRequest(handler, http.MethodGet, "/v1/resource", "not-the-token")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "authentication_error")
}

func TestGatewayProxiesAuthorized(t *testing.T) {
	t.Parallel()
	handler, _, _ := newGatewayContainer(t, "test-token-1")

	rec := gatewayRequest(handler, http.MethodGet, "/v1/resource", "test-token-1")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "upstream-ok", rec.Body.String())
	// The verified subject reaches the upstream as an identity header.
	assert.Equal(t, "ci", rec.Header().Get("X-Echo-Subject"))
}

// TestGatewayAuthHotReload rotates the static token via a config rewrite and
// verifies the live guard recompiles: the old token stops working and the
// new one starts, with no restart and no handler swap.
func TestGatewayAuthHotReload(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "upstream-ok")
	}))
	t.Cleanup(upstream.Close)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfigFile(t, path, gatewayConfig(upstream.URL, "test-token-1"))

	container, err := di.NewContainer(path)
	require.NoError(t, err)
	t.Cleanup(func() { shutdownContainer(t, container) })

	handlerSvc, err := di.Invoke[*di.HandlerService](container)
	require.NoError(t, err)
	handler := handlerSvc.Handler

	cfgSvc := di.MustInvoke[*di.ConfigService](container)
	require.NotNil(t, cfgSvc.GetWatcher())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfgSvc.StartWatching(ctx)

	// Initial token is accepted.
	rec := gatewayRequest(handler, http.MethodGet, "/v1/resource", "test-token-1")
	require.Equal(t, http.StatusOK, rec.Code)

	writeConfigFile(t, path, gatewayConfig(upstream.URL, "rotated-token-2"))

	assert.Eventually(t, func() bool {
		return gatewayRequest(handler, http.MethodGet, "/v1/resource", "test-token-1").Code == http.StatusUnauthorized
	}, 5*time.Second, 25*time.Millisecond, "old token should stop verifying after rotation")

	assert.Eventually(t, func() bool {
		return gatewayRequest(handler, http.MethodGet, "/v1/resource", "rotated-token-2").Code == http.StatusOK
	}, 5*time.Second, 25*time.Millisecond, "new token should verify after rotation")
}
