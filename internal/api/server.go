// Package api exposes the engine's operational surface over HTTP: a health
// probe, per-run stats, and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/scrapeworks/sift/internal/progress/sinks"
)

// Server serves the health, stats, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// New builds a Server bound to addr. stats may be nil, in which case the
// stats endpoints report empty aggregates.
func New(addr string, stats *sinks.StatsSink, registry *prometheus.Registry, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		var snapshot []sinks.RunStats
		if stats != nil {
			snapshot = stats.Snapshot()
		}
		writeJSON(w, logger, snapshot)
	})

	r.Get("/stats/{runID}", func(w http.ResponseWriter, req *http.Request) {
		if stats == nil {
			http.NotFound(w, req)
			return
		}
		rs, ok := stats.Run(chi.URLParam(req, "runID"))
		if !ok {
			http.NotFound(w, req)
			return
		}
		writeJSON(w, logger, rs)
	})

	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	} else {
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until Shutdown is called. It returns nil on graceful close.
func (s *Server) Start() error {
	s.logger.Info("stats server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("stats server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("encode stats response", zap.Error(err))
	}
}
