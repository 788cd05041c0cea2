package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func testRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_metric_total",
		Help: "Test metric",
	})
	registry.MustRegister(counter)
	counter.Inc()
	return registry
}

func TestServer_Routes(t *testing.T) {
	checker := &mockHealthChecker{liveness: true, readiness: true, healthy: true}
	server := NewServer(Config{HealthPort: 8080, MetricsPort: 9090}, checker, &fakeStats{}, testRegistry(), testLogger())

	tests := []struct {
		name     string
		handler  http.Handler
		path     string
		wantCode int
	}{
		{"liveness", server.Handler(), "/health/live", http.StatusOK},
		{"readiness", server.Handler(), "/health/ready", http.StatusOK},
		{"stats", server.Handler(), "/debug/buffers", http.StatusOK},
		{"metrics not on health port", server.Handler(), "/metrics", http.StatusNotFound},
		{"metrics", server.MetricsHandler(), "/metrics", http.StatusOK},
		{"health not on metrics port", server.MetricsHandler(), "/health/live", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			w := httptest.NewRecorder()

			tt.handler.ServeHTTP(w, req)

			if w.Code != tt.wantCode {
				t.Errorf("GET %s status = %d, want %d", tt.path, w.Code, tt.wantCode)
			}
		})
	}
}

func TestServer_SharedPort(t *testing.T) {
	checker := &mockHealthChecker{liveness: true, readiness: true}
	server := NewServer(Config{HealthPort: 8080, MetricsPort: 8080, MetricsPath: "/prom"}, checker, nil, testRegistry(), testLogger())

	if len(server.servers()) != 1 {
		t.Fatalf("servers = %d, want 1", len(server.servers()))
	}

	req := httptest.NewRequest(http.MethodGet, "/prom", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "test_metric_total 1") {
		t.Error("metrics body missing test counter")
	}

	// Stats endpoint is not registered without a source.
	req = httptest.NewRequest(http.MethodGet, "/debug/buffers", nil)
	w = httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("stats status = %d, want 404", w.Code)
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	c := Config{}.withDefaults()
	if c.MetricsPath != "/metrics" || c.LivenessPath != "/health/live" || c.ReadinessPath != "/health/ready" || c.StatsPath != "/debug/buffers" {
		t.Errorf("withDefaults() = %+v", c)
	}

	c = Config{LivenessPath: "/livez"}.withDefaults()
	if c.LivenessPath != "/livez" {
		t.Errorf("LivenessPath = %s, want /livez", c.LivenessPath)
	}
}

func TestServer_StartAndShutdown(t *testing.T) {
	checker := &mockHealthChecker{liveness: true, readiness: true, healthy: true}

	// Use high port numbers to avoid conflicts
	server := NewServer(Config{HealthPort: 58180, MetricsPort: 59190}, checker, &fakeStats{}, testRegistry(), testLogger())

	if err := server.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Give servers time to start
	time.Sleep(100 * time.Millisecond)

	resp, err := http.Get("http://localhost:58180/health/live")
	if err != nil {
		t.Errorf("Failed to connect to health server: %v", err)
	} else {
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("Health check returned status %d", resp.StatusCode)
		}
	}

	resp, err = http.Get("http://localhost:59190/metrics")
	if err != nil {
		t.Errorf("Failed to connect to metrics server: %v", err)
	} else {
		resp.Body.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}

	// Give servers time to shutdown
	time.Sleep(100 * time.Millisecond)

	if _, err := http.Get("http://localhost:58180/health/live"); err == nil {
		t.Error("Expected error connecting to stopped health server")
	}
}
