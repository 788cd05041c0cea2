package server

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/jittakal/convbuffer/internal/buffer"
)

// BufferManager is the part of the buffer manager the health checker reads.
type BufferManager interface {
	GetStats() buffer.Stats
	Done() <-chan struct{}
}

// BufferHealthChecker reports health from the buffer manager and the
// consumer state.
//
// The service is alive while the buffer monitor runs. It is ready once the
// consumer joined its group, it is not draining and fewer than maxStuck
// buffers are stuck in processing.
type BufferHealthChecker struct {
	buffers       BufferManager
	maxStuck      int
	consumerReady atomic.Bool
	draining      atomic.Bool
}

// NewBufferHealthChecker creates a health checker. A maxStuck of zero
// disables the stuck buffer check.
func NewBufferHealthChecker(buffers BufferManager, maxStuck int) *BufferHealthChecker {
	return &BufferHealthChecker{
		buffers:  buffers,
		maxStuck: maxStuck,
	}
}

// SetConsumerReady records whether the consumer is receiving messages.
func (c *BufferHealthChecker) SetConsumerReady(ready bool) {
	c.consumerReady.Store(ready)
}

// SetDraining marks the service as shutting down.
func (c *BufferHealthChecker) SetDraining() {
	c.draining.Store(true)
}

// Liveness reports whether the buffer monitor is still running.
func (c *BufferHealthChecker) Liveness() bool {
	select {
	case <-c.buffers.Done():
		return false
	default:
		return true
	}
}

// Readiness reports whether the service should receive traffic.
func (c *BufferHealthChecker) Readiness(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	return c.IsHealthy() && c.consumerReady.Load() && !c.draining.Load()
}

// IsHealthy reports liveness and the stuck buffer threshold.
func (c *BufferHealthChecker) IsHealthy() bool {
	if !c.Liveness() {
		return false
	}
	return c.maxStuck <= 0 || c.buffers.GetStats().StuckBuffers < c.maxStuck
}

// GetStatus returns per-check details for the readiness response.
func (c *BufferHealthChecker) GetStatus() map[string]string {
	stats := c.buffers.GetStats()

	status := map[string]string{
		"buffer_manager": "running",
		"consumer":       "ready",
		"draining":       fmt.Sprintf("%t", c.draining.Load()),
		"stuck_buffers":  fmt.Sprintf("%d", stats.StuckBuffers),
		"open_buffers":   fmt.Sprintf("%d", stats.TotalBuffers),
	}
	if !c.Liveness() {
		status["buffer_manager"] = "stopped"
	}
	if !c.consumerReady.Load() {
		status["consumer"] = "not_ready"
	}
	if c.maxStuck > 0 {
		status["stuck_buffers"] = fmt.Sprintf("%d/%d", stats.StuckBuffers, c.maxStuck)
	}
	return status
}
