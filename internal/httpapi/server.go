// Package httpapi implements the request-processing pipeline: the ordered
// middleware chain, the route handlers and the error/trace correlation
// boundary every failure passes through.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"download-gateway/internal/config"
	"download-gateway/internal/observability"
	"download-gateway/internal/ratelimit"
	"download-gateway/internal/storage"
)

// Server owns the HTTP surface. All dependencies are injected at
// construction and never mutated afterwards.
type Server struct {
	cfg      *config.Settings
	logger   observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	reporter observability.ErrorReporter
	gateway  storage.Gateway
	limiter  *ratelimit.Limiter

	observers  []observability.Observer
	httpServer *http.Server
}

// NewServer assembles the pipeline from its collaborators. The rate-limit
// store is injected like the rest so callers can swap it out; the metrics
// recorder and the access logger are registered as completion observers.
func NewServer(
	cfg *config.Settings,
	logger observability.Logger,
	metrics *observability.Metrics,
	tracer *observability.Tracer,
	reporter observability.ErrorReporter,
	gateway storage.Gateway,
	limiter *ratelimit.Limiter,
) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		tracer:   tracer,
		reporter: reporter,
		gateway:  gateway,
		limiter:  limiter,
	}
	s.observers = []observability.Observer{
		metrics,
		observability.NewAccessLogObserver(logger.WithFields(observability.Fields{"component": "http"})),
	}
	return s
}

// Limiter exposes the rate-limit store so tests can reset it between cases.
func (s *Server) Limiter() *ratelimit.Limiter { return s.limiter }

// Handler builds the router with every route wrapped in the ordered chain:
// identity, observers, failure boundary, security headers, CORS, timeout,
// rate limiting, tracing, then the handler itself.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /health", s.route("/health", s.handleHealth))
	mux.Handle("POST /v1/download/initiate", s.route("/v1/download/initiate", s.handleInitiate))
	mux.Handle("POST /v1/download/check", s.route("/v1/download/check", s.handleCheck))
	mux.Handle("POST /v1/download/start", s.route("/v1/download/start", s.handleStart))

	// Preflight requests carry the target method in a header, not the
	// request line, so they need their own pattern per route.
	for _, route := range []string{"/v1/download/initiate", "/v1/download/check", "/v1/download/start"} {
		mux.Handle("OPTIONS "+route, s.route(route, func(http.ResponseWriter, *http.Request) error {
			return nil
		}))
	}

	// The scrape endpoint bypasses timeout and rate limiting so a busy
	// gateway stays observable.
	mux.Handle("GET /metrics", chain(s.metrics.Handler(), securityHeaders()))

	return mux
}

// route wraps one handler in the full middleware chain.
func (s *Server) route(route string, fn apiFunc) http.Handler {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			s.writeError(w, r, err)
		}
	})

	return chain(handler,
		requestID(),
		s.observe(route),
		s.recovery(),
		securityHeaders(),
		s.cors(),
		s.timeout(),
		s.rateLimit(),
		s.tracing(route),
	)
}

// Start binds the listener and serves until Shutdown.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("http server listening", observability.Fields{
		"addr":         s.httpServer.Addr,
		"storage_mock": s.cfg.Storage.MockMode(),
	})

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests until
// the context expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down http server", nil)
	return s.httpServer.Shutdown(ctx)
}
