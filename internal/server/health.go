// Package server implements health check handlers.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/jittakal/convbuffer/internal/buffer"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// StatsSource provides buffer statistics.
type StatsSource interface {
	GetStats() buffer.Stats
}

// StatsResponse is the body of the buffer stats endpoint. Durations are
// reported in milliseconds.
type StatsResponse struct {
	Timestamp               string       `json:"timestamp"`
	OldestBufferAgeMS       int64        `json:"oldest_buffer_age_ms"`
	AverageProcessingTimeMS int64        `json:"average_processing_time_ms"`
	Stats                   buffer.Stats `json:"stats"`
}

// LivenessHandler returns a handler for Kubernetes liveness probes.
// Liveness probes should only fail if the process needs to be restarted.
func LivenessHandler(checker HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "alive"
		statusCode := http.StatusOK

		if !checker.Liveness() {
			status = "not alive"
			statusCode = http.StatusServiceUnavailable
		}

		writeJSON(w, statusCode, HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}, logger)
	}
}

// ReadinessHandler returns a handler for Kubernetes readiness probes.
// Readiness probes indicate if the application can handle traffic.
func ReadinessHandler(checker HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ready"
		statusCode := http.StatusOK

		if !checker.Readiness(r.Context()) {
			status = "not ready"
			statusCode = http.StatusServiceUnavailable
		}

		writeJSON(w, statusCode, HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    checker.GetStatus(),
		}, logger)
	}
}

// StatsHandler returns a handler exposing a buffer stats snapshot.
func StatsHandler(source StatsSource, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		stats := source.GetStats()
		writeJSON(w, http.StatusOK, StatsResponse{
			Timestamp:               time.Now().UTC().Format(time.RFC3339),
			OldestBufferAgeMS:       stats.OldestBufferAge.Milliseconds(),
			AverageProcessingTimeMS: stats.AverageProcessingTime.Milliseconds(),
			Stats:                   stats,
		}, logger)
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, body any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}
