// Package proxy implements the HTTP gateway server for tokengate.
package proxy

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

const (
	// readTimeout bounds how long a client may take to send its request,
	// keeping slow-client attacks from pinning connections.
	readTimeout = 10 * time.Second

	// idleTimeout bounds keep-alive connections between requests.
	idleTimeout = 120 * time.Second

	// fallbackWriteTimeout applies when the upstream has no deadline of
	// its own. Generous so long streamed responses are not cut off.
	fallbackWriteTimeout = 600 * time.Second

	// writeTimeoutSlack is added on top of the upstream request timeout
	// so the server deadline always fires after the proxy's own.
	writeTimeoutSlack = 30 * time.Second
)

// Server wraps http.Server with tokengate's listener configuration.
type Server struct {
	httpServer *http.Server
	addr       string
}

// writeTimeoutFor derives the server write deadline from the upstream
// request timeout, or falls back to a streaming-friendly default.
func writeTimeoutFor(requestTimeout time.Duration) time.Duration {
	if requestTimeout <= 0 {
		return fallbackWriteTimeout
	}
	return requestTimeout + writeTimeoutSlack
}

// NewServer builds the gateway listener around handler. With enableHTTP2
// set, cleartext HTTP/2 (h2c) is accepted alongside HTTP/1.1 so clients
// behind TLS-terminating load balancers can multiplex. requestTimeout is
// the per-request upstream deadline and sizes the write timeout; zero
// means no upstream deadline.
func NewServer(addr string, handler http.Handler, enableHTTP2 bool, requestTimeout time.Duration) *Server {
	if enableHTTP2 {
		handler = h2c.NewHandler(handler, &http2.Server{})
	}

	return &Server{
		addr: addr,
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeoutFor(requestTimeout),
			IdleTimeout:  idleTimeout,
		},
	}
}

// ListenAndServe starts the server (blocks).
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
