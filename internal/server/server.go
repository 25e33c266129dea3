// Package server sets up the HTTP server, router, and all route definitions.
//
// It is the wiring layer: it decides which URL patterns map to which
// handlers, which middleware runs where, and how the server stops.
//
//	GET  /healthz   → liveness (and storage reachability when configured)
//	*    /user/...  → handler.AccountHandler.Routes
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/sakif/identity-service/internal/handler"
	"github.com/sakif/identity-service/internal/middleware"
)

const defaultShutdownTimeout = 30 * time.Second

type Config struct {
	Addr            string
	ShutdownTimeout time.Duration

	// Health, when set, is called by /healthz; an error answers 503.
	Health func(ctx context.Context) error
}

// Drainer is anything holding background work that must finish before the
// process exits, such as the mail outbox.
type Drainer interface {
	Wait()
}

type Server struct {
	router  *chi.Mux
	config  Config
	logger  *slog.Logger
	drainer Drainer
}

// New builds the router. drainer may be nil.
func New(cfg Config, accounts *handler.AccountHandler, drainer Drainer, logger *slog.Logger) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		drainer: drainer,
	}
	s.setupRoutes(accounts)
	return s
}

// setupRoutes configures middleware and routes. Order matters:
// RequestID must run before the logger so every line carries the id.
func (s *Server) setupRoutes(accounts *handler.AccountHandler) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	s.router.Get("/healthz", s.handleHealth)
	s.router.Mount("/user", accounts.Routes())
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.config.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.config.Health(ctx); err != nil {
			s.logger.Error("health check failed", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("server: listening on %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully: in-flight
// requests get ShutdownTimeout to finish, and queued emails are drained.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelError),
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("server starting", slog.String("addr", ln.Addr().String()))
		// Serve always returns a non-nil error; returning it cancels gCtx.
		return srv.Serve(ln)
	})

	g.Go(func() error {
		<-gCtx.Done()
		s.logger.Info("stopping http server")

		shutCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutCtx)
	})

	err := g.Wait()

	if s.drainer != nil {
		s.drainer.Wait()
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	s.logger.Info("server stopped gracefully")
	return nil
}
