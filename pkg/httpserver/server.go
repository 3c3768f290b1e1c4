// Package httpserver exposes metrics, health, and small read-only state
// endpoints for operations. It is not the trading surface.
package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arbiterlabs/arbiter/internal/pool"
	"github.com/arbiterlabs/arbiter/internal/risk"
	"github.com/arbiterlabs/arbiter/pkg/healthprobe"
)

// Server provides HTTP endpoints for metrics, health checks, and state.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// Config holds server configuration.
type Config struct {
	Port           string
	Logger         *zap.Logger
	HealthChecker  *healthprobe.HealthChecker
	Pool           *pool.Pool
	RiskController *risk.Controller
}

// New creates the HTTP server and its routes.
func New(cfg *Config) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/health", cfg.HealthChecker.Health())
	r.Get("/ready", cfg.HealthChecker.Ready())

	if cfg.Pool != nil {
		r.Get("/api/pool/stats", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, cfg.Pool.Stats())
		})
	}

	if cfg.RiskController != nil {
		r.Get("/api/risk/status", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, map[string]any{
				"emergency_stopped":    cfg.RiskController.EmergencyStopped(),
				"day_pnl":              cfg.RiskController.DayPnL(),
				"consecutive_failures": cfg.RiskController.Failures(),
			})
		})
		r.Get("/api/risk/snapshots", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, cfg.RiskController.Snapshots())
		})
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{server: server, logger: cfg.Logger}
}

// Start blocks serving until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("http-server-starting", zap.String("addr", s.server.Addr))

	err := s.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http-server-shutting-down")
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
