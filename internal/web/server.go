// Package web provides the optional diagnostics HTTP server (SPEC_FULL.md
// §2.1): a tiny JSON surface an operator can poll while a run is in flight,
// serving /healthz and /progress. It carries no upload UI, templates, or
// persistence — those belonged to the CSV-import dashboard this package was
// adapted from and have no home in a one-shot CLI import.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cortadolabs/tabsync/internal/dispatch"
	webmiddleware "github.com/cortadolabs/tabsync/internal/web/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// ProgressSnapshot is an atomically-swappable holder for the most recent
// dispatch.Progress, safe to read from an HTTP handler goroutine while the
// pipeline writes to it from the dispatcher's own goroutine.
type ProgressSnapshot struct {
	v atomic.Value
}

// NewProgressSnapshot returns a snapshot holder seeded with a starting phase.
func NewProgressSnapshot() *ProgressSnapshot {
	s := &ProgressSnapshot{}
	s.Store(dispatch.Progress{Phase: dispatch.PhaseStarting})
	return s
}

// Store records the latest progress. Intended as a pipeline.RunConfig.OnProgress callback.
func (s *ProgressSnapshot) Store(p dispatch.Progress) { s.v.Store(p) }

// Load returns the most recently stored progress.
func (s *ProgressSnapshot) Load() dispatch.Progress {
	return s.v.Load().(dispatch.Progress)
}

// Server is the diagnostics HTTP server.
type Server struct {
	progress *ProgressSnapshot
	router   *chi.Mux
	server   *http.Server
}

// NewServer builds a Server that reports progress from the given snapshot.
func NewServer(progress *ProgressSnapshot, trustedProxies []string) *Server {
	s := &Server{
		progress: progress,
		router:   chi.NewRouter(),
	}
	s.setupMiddleware(trustedProxies)
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware(trustedProxies []string) {
	s.router.Use(middleware.RequestID)
	s.router.Use(webmiddleware.TrustedRealIP(trustedProxies))
	s.router.Use(webmiddleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(10 * time.Second))
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/progress", s.handleProgress)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.progress.Load())
}

// Start begins listening for HTTP requests. It blocks until the server
// stops (normally via Shutdown from another goroutine).
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	slog.Info("diagnostics server listening", "addr", addr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("diagnostics json encode error", "error", err)
	}
}
