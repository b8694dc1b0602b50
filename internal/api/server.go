// Package api exposes the HTTP interface for the crawler service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/placecrawler/internal/control"
	"github.com/JakeFAU/placecrawler/internal/crawler"
	"github.com/JakeFAU/placecrawler/internal/logging"
	"github.com/JakeFAU/placecrawler/internal/metrics"
	"github.com/JakeFAU/placecrawler/internal/orchestrator"
)

const (
	requestTimeout  = 30 * time.Second
	storeTimeout    = 3 * time.Second
	shutdownTimeout = 5 * time.Second
)

// StatusSource reports the job currently being crawled.
type StatusSource interface {
	Status() orchestrator.Status
}

// Server wires HTTP handlers to the checkpoint store and control state.
type Server struct {
	router  chi.Router
	store   crawler.CheckpointStore
	control *control.State
	status  StatusSource
	apiKey  string
	logger  *zap.Logger
}

// Option customizes a Server.
type Option func(*Server)

// WithAPIKey requires every /v1 request to present key.
func WithAPIKey(key string) Option {
	return func(s *Server) { s.apiKey = key }
}

// WithStatus exposes the live job under /v1/jobs/current.
func WithStatus(src StatusSource) Option {
	return func(s *Server) { s.status = src }
}

// WithLogger sets the server logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logging.OrNop(logger).Named("api") }
}

// NewServer constructs a Server with middleware and routes.
func NewServer(store crawler.CheckpointStore, ctl *control.State, opts ...Option) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("checkpoint store is required")
	}
	if ctl == nil {
		return nil, fmt.Errorf("control state is required")
	}
	s := &Server{store: store, control: ctl, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(requestTimeout))
		if s.apiKey != "" {
			r.Use(apiKeyMiddleware(s.apiKey))
		}
		r.Get("/checkpoints", s.listCheckpoints)
		r.Get("/checkpoints/{slug}", s.getCheckpoint)
		r.Get("/control", s.getControl)
		r.Post("/control/{intent}", s.postControl)
		r.Get("/jobs/current", s.currentJob)
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("operator api listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
