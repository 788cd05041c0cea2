package buffer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jittakal/convbuffer/pkg/message"
)

// Stats is a point-in-time snapshot of the manager.
type Stats struct {
	TotalBuffers             int           `json:"total_buffers"`
	TotalMessages            int           `json:"total_messages"`
	OldestBufferAge          time.Duration `json:"oldest_buffer_age"`
	AverageMessagesPerBuffer float64       `json:"average_messages_per_buffer"`
	LargestBufferSize        int           `json:"largest_buffer_size"`
	StuckBuffers             int           `json:"stuck_buffers"`
	InFlightBuffers          int           `json:"in_flight_buffers"`
	FlushAttempts            int64         `json:"flush_attempts"`
	SuccessfulFlushes        int64         `json:"successful_flushes"`
	FailedFlushes            int64         `json:"failed_flushes"`
	SuccessRate              float64       `json:"success_rate"`
	AverageProcessingTime    time.Duration `json:"average_processing_time"`
	EmergencyEvictions       int64         `json:"emergency_evictions"`
	StaleRemovals            int64         `json:"stale_removals"`
	EstimatedMemoryBytes     int64         `json:"estimated_memory_bytes"`
}

// collector accumulates flush counters and a rolling latency window.
type collector struct {
	attempts      atomic.Int64
	successes     atomic.Int64
	failures      atomic.Int64
	emergency     atomic.Int64
	staleRemovals atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
	next      int
	filled    bool
}

func newCollector(window int) *collector {
	return &collector{latencies: make([]time.Duration, window)}
}

func (c *collector) recordAttempt() {
	c.attempts.Add(1)
}

func (c *collector) recordSuccess(latency time.Duration) {
	c.successes.Add(1)

	c.mu.Lock()
	c.latencies[c.next] = latency
	c.next++
	if c.next == len(c.latencies) {
		c.next = 0
		c.filled = true
	}
	c.mu.Unlock()
}

// recordFailure counts an abandoned batch.
func (c *collector) recordFailure() {
	c.failures.Add(1)
}

func (c *collector) recordEmergencyEviction() {
	c.emergency.Add(1)
}

func (c *collector) recordStaleRemoval() {
	c.staleRemovals.Add(1)
}

func (c *collector) averageLatency() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.next
	if c.filled {
		n = len(c.latencies)
	}
	if n == 0 {
		return 0
	}
	var sum time.Duration
	for _, l := range c.latencies[:n] {
		sum += l
	}
	return sum / time.Duration(n)
}

// snapshot builds Stats from the store and the counters.
func (m *Manager) snapshot(now time.Time) Stats {
	var s Stats

	m.store.each(func(_ message.Key, e *conversationEntry) {
		for _, b := range e.buffers() {
			if b.state == stateRemoved {
				continue
			}
			n := len(b.messages)
			s.TotalBuffers++
			s.TotalMessages += n
			if n > s.LargestBufferSize {
				s.LargestBufferSize = n
			}
			if age := now.Sub(b.createdAt); age > s.OldestBufferAge {
				s.OldestBufferAge = age
			}
			if b.state == stateFlushing {
				s.InFlightBuffers++
				if now.Sub(b.processingStartedAt) > m.cfg.StuckThreshold {
					s.StuckBuffers++
				}
			}
			s.EstimatedMemoryBytes += int64(b.estimateSize())
		}
	})

	if s.TotalBuffers > 0 {
		s.AverageMessagesPerBuffer = float64(s.TotalMessages) / float64(s.TotalBuffers)
	}

	s.FlushAttempts = m.stats.attempts.Load()
	s.SuccessfulFlushes = m.stats.successes.Load()
	s.FailedFlushes = m.stats.failures.Load()
	s.EmergencyEvictions = m.stats.emergency.Load()
	s.StaleRemovals = m.stats.staleRemovals.Load()
	s.AverageProcessingTime = m.stats.averageLatency()

	s.SuccessRate = 1
	if s.FlushAttempts > 0 {
		s.SuccessRate = float64(s.SuccessfulFlushes) / float64(s.FlushAttempts)
	}

	return s
}
