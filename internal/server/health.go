// Package server implements the HTTP surface for health checks and metrics.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// PipelineHealth tracks the readiness of the ingest pipeline. The consumer
// flips ready once its first consumer-group session is established; delivery
// degradation is reported when flushed data is parked awaiting redrive.
type PipelineHealth struct {
	mu             sync.RWMutex
	consumerReady  bool
	parkedFlushes  int
	lastFlushError string
}

var _ HealthChecker = (*PipelineHealth)(nil)

// NewPipelineHealth creates a health tracker in the not-ready state.
func NewPipelineHealth() *PipelineHealth {
	return &PipelineHealth{}
}

// SetConsumerReady records whether the Kafka consumer has an active session.
func (h *PipelineHealth) SetConsumerReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consumerReady = ready
}

// SetDelivery records the current parked-flush count and the most recent
// delivery error, if any.
func (h *PipelineHealth) SetDelivery(parked int, lastErr string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.parkedFlushes = parked
	h.lastFlushError = lastErr
}

// Liveness reports whether the process should keep running. Parked flushes
// degrade readiness, not liveness; a restart would lose the buffered data.
func (h *PipelineHealth) Liveness() bool {
	return true
}

// Readiness reports whether the pipeline is consuming and delivering.
func (h *PipelineHealth) Readiness(ctx context.Context) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.consumerReady
}

// IsHealthy reports overall health: consuming with no parked deliveries.
func (h *PipelineHealth) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.consumerReady && h.parkedFlushes == 0
}

// GetStatus returns per-component status for the readiness response body.
func (h *PipelineHealth) GetStatus() map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := make(map[string]string)
	if h.consumerReady {
		status["consumer"] = "ready"
	} else {
		status["consumer"] = "not ready"
	}
	if h.parkedFlushes == 0 {
		status["delivery"] = "ok"
	} else {
		status["delivery"] = "degraded"
		if h.lastFlushError != "" {
			status["last_flush_error"] = h.lastFlushError
		}
	}
	return status
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

		response := HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)

		if err := json.NewEncoder(w).Encode(response); err != nil {
			logger.Error("failed to encode liveness response", "error", err)
		}
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

		response := HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    checker.GetStatus(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)

		if err := json.NewEncoder(w).Encode(response); err != nil {
			logger.Error("failed to encode readiness response", "error", err)
		}
	}
}
