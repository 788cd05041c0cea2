package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jittakal/convbuffer/internal/buffer"
)

// mockHealthChecker implements HealthChecker for testing
type mockHealthChecker struct {
	liveness  bool
	readiness bool
	healthy   bool
	status    map[string]string
}

func (m *mockHealthChecker) Liveness() bool {
	return m.liveness
}

func (m *mockHealthChecker) Readiness(ctx context.Context) bool {
	return m.readiness
}

func (m *mockHealthChecker) IsHealthy() bool {
	return m.healthy
}

func (m *mockHealthChecker) GetStatus() map[string]string {
	return m.status
}

type fakeStats struct {
	stats buffer.Stats
}

func (f *fakeStats) GetStats() buffer.Stats {
	return f.stats
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLivenessHandler(t *testing.T) {
	tests := []struct {
		name       string
		liveness   bool
		wantCode   int
		wantStatus string
	}{
		{"alive", true, http.StatusOK, "alive"},
		{"not alive", false, http.StatusServiceUnavailable, "not alive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := LivenessHandler(&mockHealthChecker{liveness: tt.liveness}, testLogger())
			req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
			w := httptest.NewRecorder()

			handler(w, req)

			if w.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantCode)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %s, want application/json", ct)
			}

			var response HealthResponse
			if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if response.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", response.Status, tt.wantStatus)
			}
			if response.Timestamp == "" {
				t.Error("timestamp should not be empty")
			}
		})
	}
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name       string
		readiness  bool
		wantCode   int
		wantStatus string
	}{
		{"ready", true, http.StatusOK, "ready"},
		{"not ready", false, http.StatusServiceUnavailable, "not ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := &mockHealthChecker{
				readiness: tt.readiness,
				status:    map[string]string{"consumer": "ready"},
			}
			handler := ReadinessHandler(checker, testLogger())
			req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
			w := httptest.NewRecorder()

			handler(w, req)

			if w.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantCode)
			}

			var response HealthResponse
			if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if response.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", response.Status, tt.wantStatus)
			}
			if response.Checks["consumer"] != "ready" {
				t.Errorf("checks = %v", response.Checks)
			}
		})
	}
}

func TestStatsHandler(t *testing.T) {
	source := &fakeStats{stats: buffer.Stats{
		TotalBuffers:          3,
		TotalMessages:         7,
		OldestBufferAge:       1500 * time.Millisecond,
		StuckBuffers:          1,
		SuccessRate:           0.5,
		AverageProcessingTime: 250 * time.Millisecond,
	}}

	handler := StatsHandler(source, testLogger())
	req := httptest.NewRequest(http.MethodGet, "/debug/buffers", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", w.Code, http.StatusOK)
	}

	var response StatsResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.OldestBufferAgeMS != 1500 {
		t.Errorf("oldest_buffer_age_ms = %d, want 1500", response.OldestBufferAgeMS)
	}
	if response.AverageProcessingTimeMS != 250 {
		t.Errorf("average_processing_time_ms = %d, want 250", response.AverageProcessingTimeMS)
	}
	if response.Stats.TotalBuffers != 3 || response.Stats.TotalMessages != 7 || response.Stats.SuccessRate != 0.5 {
		t.Errorf("stats = %+v", response.Stats)
	}
}

func TestStatsHandler_MethodNotAllowed(t *testing.T) {
	handler := StatsHandler(&fakeStats{}, testLogger())
	req := httptest.NewRequest(http.MethodPost, "/debug/buffers", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
	if allow := w.Header().Get("Allow"); allow != http.MethodGet {
		t.Errorf("Allow = %s, want GET", allow)
	}
}
