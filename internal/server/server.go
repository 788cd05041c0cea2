// Package server implements HTTP server for health checks and metrics.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker interface for checking component health.
type HealthChecker interface {
	Liveness() bool
	Readiness(ctx context.Context) bool
	IsHealthy() bool
	GetStatus() map[string]string
}

// Config contains ports and paths of the HTTP endpoints.
type Config struct {
	HealthPort    int
	MetricsPort   int
	MetricsPath   string
	LivenessPath  string
	ReadinessPath string
	StatsPath     string
}

func (c Config) withDefaults() Config {
	if c.MetricsPath == "" {
		c.MetricsPath = "/metrics"
	}
	if c.LivenessPath == "" {
		c.LivenessPath = "/health/live"
	}
	if c.ReadinessPath == "" {
		c.ReadinessPath = "/health/ready"
	}
	if c.StatsPath == "" {
		c.StatsPath = "/debug/buffers"
	}
	return c
}

// Server represents the HTTP server for health and metrics. When both
// ports are equal a single listener serves every endpoint; a zero metrics
// port disables the metrics endpoint.
type Server struct {
	healthServer  *http.Server
	metricsServer *http.Server
	logger        *slog.Logger
}

// NewServer creates a new HTTP server.
func NewServer(
	config Config,
	healthChecker HealthChecker,
	stats StatsSource,
	registry *prometheus.Registry,
	logger *slog.Logger,
) *Server {
	config = config.withDefaults()

	healthMux := http.NewServeMux()
	healthMux.HandleFunc(config.LivenessPath, LivenessHandler(healthChecker, logger))
	healthMux.HandleFunc(config.ReadinessPath, ReadinessHandler(healthChecker, logger))
	if stats != nil {
		healthMux.HandleFunc(config.StatsPath, StatsHandler(stats, logger))
	}

	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	s := &Server{
		healthServer: newHTTPServer(config.HealthPort, healthMux),
		logger:       logger,
	}

	if config.MetricsPort == 0 {
		return s
	}

	if config.MetricsPort == config.HealthPort {
		healthMux.Handle(config.MetricsPath, metricsHandler)
		return s
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle(config.MetricsPath, metricsHandler)
	s.metricsServer = newHTTPServer(config.MetricsPort, metricsMux)

	return s
}

func newHTTPServer(port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Handler returns the handler serving health and stats endpoints.
func (s *Server) Handler() http.Handler {
	return s.healthServer.Handler
}

// MetricsHandler returns the handler serving the metrics endpoint.
func (s *Server) MetricsHandler() http.Handler {
	if s.metricsServer == nil {
		return s.healthServer.Handler
	}
	return s.metricsServer.Handler
}

// Start starts the HTTP servers.
func (s *Server) Start() error {
	for _, srv := range s.servers() {
		go func(srv *http.Server) {
			s.logger.Info("starting http server", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.logger.Error("http server failed", "addr", srv.Addr, "error", err)
			}
		}(srv)
	}

	return nil
}

// Shutdown gracefully shuts down the servers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP servers")

	servers := s.servers()
	errChan := make(chan error, len(servers))

	for _, srv := range servers {
		go func(srv *http.Server) {
			errChan <- srv.Shutdown(ctx)
		}(srv)
	}

	var lastErr error
	for range servers {
		if err := <-errChan; err != nil {
			s.logger.Error("error shutting down server", "error", err)
			lastErr = err
		}
	}

	return lastErr
}

func (s *Server) servers() []*http.Server {
	if s.metricsServer == nil {
		return []*http.Server{s.healthServer}
	}
	return []*http.Server{s.healthServer, s.metricsServer}
}
