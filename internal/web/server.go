// Package web provides the ops HTTP server: health, metrics, manual run
// triggers and the report of the last run.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/tablesync/internal/config"
	"github.com/JonMunkholm/tablesync/internal/core"
	"github.com/JonMunkholm/tablesync/internal/web/middleware"
)

// Trigger requests a run outside the schedule. It reports false when a run
// is already pending.
type Trigger interface {
	Trigger() bool
}

// Status reports the state of the processor.
type Status interface {
	LastReport() *core.RunReport
	Running() bool
}

// Deps are the collaborators of the ops server.
type Deps struct {
	Trigger Trigger
	Status  Status
	Metrics http.Handler // optional; /metrics is not mounted when nil
	Logger  *slog.Logger
}

// Server is the ops HTTP server.
type Server struct {
	cfg    config.ServerConfig
	deps   Deps
	router *chi.Mux
	logger *slog.Logger
}

// NewServer creates a new Server instance.
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		router: chi.NewRouter(),
		logger: logger,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.TrustedProxies))
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimw.Recoverer)
	s.router.Use(securityHeaders)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	if s.deps.Metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/runs/last", s.handleLastRun)

		r.With(middleware.APIKeyAuth(s.cfg.APIKeys, s.logger)).Post("/run", s.handleRun)
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully within
// ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ops server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("ops server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Running bool            `json:"running"`
	LastRun *core.RunReport `json:"last_run,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Running: s.deps.Status.Running(),
		LastRun: s.deps.Status.LastReport(),
	})
}

func (s *Server) handleLastRun(w http.ResponseWriter, r *http.Request) {
	report := s.deps.Status.LastReport()
	if report == nil {
		writeError(w, http.StatusNotFound, "no run has completed yet")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Status.Running() {
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
		s.respondError(w, r, core.ErrRunInProgress, http.StatusConflict)
		return
	}
	if !s.deps.Trigger.Trigger() {
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
		writeError(w, http.StatusConflict, "a run is already pending")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// writeError writes a JSON error response with a plain message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeJSON encodes v as JSON with the given status.
// Encoding errors are logged since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

// retryAfter is advertised on 409 responses to POST /api/run.
const retryAfter = 30 * time.Second
