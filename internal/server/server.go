// Package server exposes the decision engine over HTTP: a single evaluation
// endpoint, administrative catalog and exception updates, health probes, and
// Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/arbiterhq/arbiter/pkg/config"
	"github.com/arbiterhq/arbiter/pkg/engine"
)

// Options configure the HTTP server.
type Options struct {
	Logger  zerolog.Logger
	Engine  *engine.Engine
	Metrics *Metrics
	Config  config.ServerConfig
}

// Server is the HTTP front end over the decision engine.
type Server struct {
	logger     zerolog.Logger
	engine     *engine.Engine
	metrics    *Metrics
	cfg        config.ServerConfig
	httpServer *http.Server
}

// New constructs the server and its route table.
func New(opts Options) *Server {
	s := &Server{
		logger:  opts.Logger,
		engine:  opts.Engine,
		metrics: opts.Metrics,
		cfg:     opts.Config,
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/decide", s.handleDecide)
	mux.HandleFunc("PUT /v1/admin/catalog", s.handleCatalogUpdate)
	mux.HandleFunc("PUT /v1/admin/exceptions", s.handleExceptionsUpdate)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.Handle("GET /metrics", s.metrics.Handler())

	handler := s.metrics.Middleware(mux)
	handler = otelhttp.NewHandler(handler, "arbiter.http")

	s.httpServer = &http.Server{
		Addr:         s.cfg.Address,
		Handler:      handler,
		ReadTimeout:  s.cfg.ReadTimeout.Std(),
		WriteTimeout: s.cfg.WriteTimeout.Std(),
	}

	return s
}

// Handler exposes the full middleware-wrapped handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Address).Msg("HTTP server starting")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Std())
	defer cancel()

	s.logger.Info().Msg("HTTP server shutting down")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}
	return nil
}
