// Package api exposes the serve-mode HTTP interface: health probes, the
// Prometheus scrape endpoint, run status and a manual run trigger.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/schoolwatch/harvester/internal/harvest"
	"github.com/schoolwatch/harvester/internal/middleware"
)

// Ingester runs one harvest cycle; the runner satisfies it.
type Ingester interface {
	IngestAll(ctx context.Context, opts harvest.RunOptions) (harvest.RunReport, error)
}

// Server wires HTTP handlers to the runner.
type Server struct {
	router   chi.Router
	ingester Ingester
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	last    *harvest.RunReport
}

// NewServer constructs a Server with middleware and routes.
func NewServer(ingester Ingester, logger *zap.Logger) *Server {
	s := &Server{ingester: ingester, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Metrics)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Post("/runs", s.triggerRun)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// RecordReport stores the report of a completed run for /v1/status.
func (s *Server) RecordReport(report harvest.RunReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &report
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	last := s.last
	running := s.running
	s.mu.Unlock()

	resp := map[string]any{"running": running}
	if last != nil {
		resp["last_run"] = last
	}
	writeJSON(w, http.StatusOK, resp)
}

// triggerRun starts a run immediately. A single run may be in flight at a
// time; overlapping triggers get 409.
func (s *Server) triggerRun(w http.ResponseWriter, r *http.Request) {
	opts := harvest.RunOptions{
		DryRun:     r.URL.Query().Get("dry_run") == "true",
		SourceName: r.URL.Query().Get("source"),
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "a run is already in progress")
		return
	}
	s.running = true
	s.mu.Unlock()

	report, err := s.ingester.IngestAll(r.Context(), opts)

	s.mu.Lock()
	s.running = false
	if err == nil {
		s.last = &report
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("triggered run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("response encode failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
