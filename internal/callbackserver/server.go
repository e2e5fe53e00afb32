// Package callbackserver serves the loopback redirect URI that completes
// interactive logins in the user's browser.
package callbackserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/florianilch/implicitauth/internal/observability/middleware"
)

// Routes served by the callback server.
const (
	CallbackPath  = "/callback"
	ResponsePath  = "/callback/response"
	LivenessPath  = "/health/liveness"
	ReadinessPath = "/health/readiness"
)

// maxRequestBytes bounds posted fragments; tokens are a few KiB at most.
const maxRequestBytes = 64 << 10

// Server receives authorize redirects and hands them to a Handler.
type Server struct {
	handler http.Handler

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// Option configures a Server.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the request logger. It defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New creates a Server that forwards callbacks to h.
func New(h Handler, health ReadinessChecker, opts ...Option) *Server {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+CallbackPath, callbackPage(h, ResponsePath))
	mux.HandleFunc("POST "+ResponsePath, callbackResponse(h))
	mux.HandleFunc("GET "+LivenessPath, livenessHandler())
	mux.HandleFunc("GET "+ReadinessPath, readinessHandler(health))

	handler := applyMiddlewares(mux,
		middleware.RequestIDGeneration,
		middleware.TraceContextExtraction,
		middleware.Logging(o.logger),
		middleware.RequestIDPropagation,
		Recovery,
		SecurityHeaders,
		RequestSizeLimit(maxRequestBytes),
	)

	return &Server{handler: handler}
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on addr and serves in the background. Runtime failures are
// delivered on the returned channel, which is closed when serving stops.
func (s *Server) Start(ctx context.Context, addr string) (<-chan error, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	s.mu.Lock()
	s.server = srv
	s.listener = listener
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.InfoContext(ctx, "callback server listening", "address", listener.Addr().String())
	return errCh, nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("callback server shutdown: %w", err)
	}
	return nil
}
