// Package server is the HTTP boundary: routing, request decoding,
// NDJSON streaming, and error-to-status mapping.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rayied/cora/pkg/classifier"
	"github.com/rayied/cora/pkg/config"
	"github.com/rayied/cora/pkg/engine"
)

// Version is stamped at build time.
var Version = "dev"

// Server hosts the Cora HTTP API.
type Server struct {
	engine     *engine.Engine
	classifier *classifier.Classifier
	cfg        config.ServerConfig
	httpServer *http.Server
}

// New builds a Server around the two engines.
func New(eng *engine.Engine, cls *classifier.Classifier, cfg config.ServerConfig) *Server {
	s := &Server{
		engine:     eng,
		classifier: cls,
		cfg:        cfg,
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(metricsMiddleware)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Post("/ask", s.handleAsk)
	r.Post("/ask/stream", s.handleAskStream)
	r.Post("/classify", s.handleClassify)

	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		slog.Info("HTTP server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	return s.httpServer.Shutdown(shutdownCtx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
