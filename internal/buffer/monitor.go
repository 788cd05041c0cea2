package buffer

import (
	"fmt"
	"time"

	"github.com/jittakal/convbuffer/pkg/message"
)

// sweepReport summarises one health monitor pass.
type sweepReport struct {
	inspected     int
	emptyRemoved  int
	lifetimeDrops int
	emergency     int
	forcedFlushes int
	stuck         int
	stuckDrops    int
	errors        int
}

func (r sweepReport) changed() bool {
	return r.emptyRemoved+r.lifetimeDrops+r.emergency+r.forcedFlushes+r.stuck+r.errors > 0
}

func (m *Manager) monitor() {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.monitorInterval())
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sweep(m.now())
		}
	}
}

// sweep inspects every buffer once.
func (m *Manager) sweep(now time.Time) sweepReport {
	var report sweepReport

	for _, key := range m.store.keys() {
		if m.closed.Load() {
			break
		}
		m.sweepKey(key, now, &report)
	}

	if report.changed() {
		m.logger.Info("buffer sweep completed",
			"inspected", report.inspected,
			"empty_removed", report.emptyRemoved,
			"lifetime_drops", report.lifetimeDrops,
			"emergency_evictions", report.emergency,
			"forced_flushes", report.forcedFlushes,
			"stuck", report.stuck,
			"stuck_drops", report.stuckDrops,
			"errors", report.errors)
	}
	return report
}

func (m *Manager) sweepKey(key message.Key, now time.Time, report *sweepReport) {
	sh := m.store.shardFor(key)
	var fx effects

	sh.mu.Lock()
	if entry := sh.get(key); entry != nil {
		for _, b := range entry.buffers() {
			report.inspected++
			if err := m.inspectSafely(sh, entry, b, now, report, &fx); err != nil {
				report.errors++
				m.logger.Error("buffer inspection failed",
					"key", key,
					"state", b.state,
					"error", err)
			}
		}
		sh.removeIfEmpty(key)
	}
	sh.mu.Unlock()

	fx.run()
}

func (m *Manager) inspectSafely(sh *shard, entry *conversationEntry, b *conversationBuffer, now time.Time, report *sweepReport, fx *effects) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during inspection: %v", r)
		}
	}()
	m.inspectLocked(sh, entry, b, now, report, fx)
	return nil
}

// inspectLocked applies the health checks to one buffer, in order: empty,
// lifetime, emergency inactivity, age, stuck. Caller holds the shard lock.
func (m *Manager) inspectLocked(sh *shard, entry *conversationEntry, b *conversationBuffer, now time.Time, report *sweepReport, fx *effects) {
	if b.state == stateRemoved {
		if b.cancel != nil && now.Sub(b.processingStartedAt) > m.cfg.StuckThreshold {
			m.logger.Warn("dropped batch handler ignores cancellation, conversation held",
				"key", b.key,
				"running", now.Sub(b.processingStartedAt),
				"queued", len(entry.inflight)-1)
		}
		return
	}

	if len(b.messages) == 0 {
		b.timer.cancel()
		b.state = stateRemoved
		m.retireLocked(sh, entry, b, fx)
		m.stats.recordStaleRemoval()
		report.emptyRemoved++
		return
	}

	if age := now.Sub(b.createdAt); age > m.cfg.MaxBufferLifetime {
		m.logger.Warn("dropping buffer past its lifetime",
			"key", b.key,
			"age", age,
			"state", b.state,
			"attempts", b.processingAttempts,
			"message_count", len(b.messages))
		m.stats.recordStaleRemoval()
		report.lifetimeDrops++
		m.dropLocked(sh, entry, b, message.DropLifetime, fx)
		return
	}

	idle := now.Sub(b.lastUpdated)
	if idle > m.cfg.EmergencyInactivity {
		m.logger.Warn("evicting inactive buffer without processing",
			"key", b.key,
			"idle", idle,
			"state", b.state,
			"message_count", len(b.messages))
		m.stats.recordEmergencyEviction()
		report.emergency++
		m.dropLocked(sh, entry, b, message.DropEmergencyEviction, fx)
		return
	}

	if b.state == stateActive && idle > m.cfg.MaxBufferAge {
		m.logger.Info("force flushing idle buffer",
			"key", b.key,
			"idle", idle,
			"timer_armed", b.timer.armed(),
			"message_count", len(b.messages))
		report.forcedFlushes++
		m.handOffLocked(entry, b, fx)
		return
	}

	if b.state == stateFlushing && !b.processingStartedAt.IsZero() {
		running := now.Sub(b.processingStartedAt)
		if running <= m.cfg.StuckThreshold {
			return
		}
		report.stuck++
		if b.processingAttempts >= m.cfg.MaxProcessingAttempts {
			m.logger.Error("abandoning stuck buffer",
				"key", b.key,
				"running", running,
				"attempts", b.processingAttempts,
				"message_count", len(b.messages))
			m.stats.recordFailure()
			report.stuckDrops++
			m.dropLocked(sh, entry, b, message.DropStuck, fx)
			return
		}
		m.logger.Warn("buffer processing appears stuck",
			"key", b.key,
			"running", running,
			"attempts", b.processingAttempts,
			"max_attempts", m.cfg.MaxProcessingAttempts)
	}
}
