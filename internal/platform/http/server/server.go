// Package server provides HTTP server wiring and lifecycle management.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/CodeMC/bot/internal/frameworks/service"
	"github.com/CodeMC/bot/internal/platform/config"
	"github.com/CodeMC/bot/internal/platform/logutil"
)

// Server wraps the HTTP server and the services mounted on it.
type Server struct {
	cfg        *config.Config
	httpServer *http.Server
	logger     *slog.Logger

	// mountedServices are closed in reverse mount order during shutdown.
	mountedServices []service.Service
}

// New creates a new Server. Services are mounted in the given order; nil
// entries are skipped.
func New(cfg *config.Config, logger *slog.Logger, services ...service.Service) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server: config is required")
	}
	logger = logutil.NoopIfNil(logger)

	s := &Server{
		cfg:    cfg,
		logger: logger,
	}

	router := s.setupRoutes(services)

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens on the configured address. It blocks until the server is
// shut down and then returns http.ErrServerClosed.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting server", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server and all mounted services.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	httpErr := s.httpServer.Shutdown(ctx)

	// Close services in reverse mount order (last mounted = first closed)
	for i := len(s.mountedServices) - 1; i >= 0; i-- {
		svc := s.mountedServices[i]
		prefix := svc.Prefix()
		if prefix == "" {
			prefix = "(root)"
		}
		if err := svc.Close(); err != nil {
			s.logger.Warn("service close error",
				"service", prefix,
				"error", err,
			)
			// Continue closing other services (best-effort)
		} else {
			s.logger.Debug("service closed", "service", prefix)
		}
	}

	return httpErr
}
