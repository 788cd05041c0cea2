package buffer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/jittakal/convbuffer/internal/errors"
	pkgbuffer "github.com/jittakal/convbuffer/pkg/buffer"
	"github.com/jittakal/convbuffer/pkg/message"
)

// FlushResult describes one completed processing attempt.
type FlushResult struct {
	Key          message.Key
	Attempt      int
	MessageCount int
	Latency      time.Duration
	// Err is nil when the attempt succeeded.
	Err error
	// RetryIn is the backoff before the next attempt, zero if none follows.
	RetryIn time.Duration
}

// Hooks are notified of buffer outcomes. They run outside the manager's
// locks and must not block for long.
type Hooks struct {
	OnAttempt func(FlushResult)
	OnDrop    func(message.DroppedBatch)
}

// Option configures a Manager.
type Option func(*Manager)

// WithHooks registers outcome hooks.
func WithHooks(h Hooks) Option {
	return func(m *Manager) {
		m.hooks = h
	}
}

// WithClock replaces the clock used for buffer ages and monitor checks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager groups messages per conversation and flushes each group once the
// conversation goes quiet, fills up, or changes content type.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	store  *store
	stats  *collector
	hooks  Hooks
	now    func() time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	closed   atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
}

var _ pkgbuffer.Manager = (*Manager)(nil)

// NewManager creates a manager and starts its health monitor.
func NewManager(cfg Config, logger *slog.Logger, opts ...Option) (*Manager, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid buffer config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:    cfg,
		logger: logger.With("component", "buffer"),
		store:  newStore(),
		stats:  newCollector(cfg.LatencyWindow),
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	go m.monitor()

	return m, nil
}

// effects collects work that must run after the shard lock is released.
type effects []func()

func (fx *effects) add(fn func()) {
	*fx = append(*fx, fn)
}

func (fx effects) run() {
	for _, fn := range fx {
		fn()
	}
}

// AddMessage buffers msg under its conversation key. onFlush replaces the
// handler stored on the buffer when non-nil. It returns false once the
// manager has been destroyed.
func (m *Manager) AddMessage(msg message.BufferedMessage, onFlush pkgbuffer.FlushFunc) bool {
	if m.closed.Load() {
		return false
	}

	key := msg.Key()
	sh := m.store.shardFor(key)
	var fx effects

	sh.mu.Lock()
	if m.closed.Load() {
		sh.mu.Unlock()
		return false
	}
	now := m.now()
	entry := sh.getOrCreate(key)

	b := entry.open
	if b != nil && !shouldCombine(b, msg, now, m.cfg.MaxInterMessageGap) {
		m.logger.Debug("message does not combine, flushing open buffer",
			"key", key,
			"buffered", len(b.messages),
			"gap", now.Sub(b.lastUpdated))
		m.handOffLocked(entry, b, &fx)
		b = nil
	}
	if b == nil {
		b = newConversationBuffer(key, now)
		entry.open = b
	}

	b.messages = append(b.messages, msg)
	b.lastUpdated = now
	if onFlush != nil {
		b.onFlush = onFlush
	}

	if len(b.messages) >= m.cfg.MaxBufferSize {
		m.logger.Debug("buffer reached max size, flushing",
			"key", key,
			"size", len(b.messages))
		m.handOffLocked(entry, b, &fx)
	} else {
		m.armDebounceLocked(b)
	}
	sh.mu.Unlock()

	fx.run()
	return true
}

// FlushBuffer flushes the open buffer of key immediately. onFlush replaces
// the stored handler when non-nil. It reports whether a flush was started.
func (m *Manager) FlushBuffer(key message.Key, onFlush pkgbuffer.FlushFunc) bool {
	if m.closed.Load() {
		return false
	}

	sh := m.store.shardFor(key)
	var fx effects

	sh.mu.Lock()
	entry := sh.get(key)
	if entry == nil || entry.open == nil || m.closed.Load() {
		sh.mu.Unlock()
		return false
	}
	b := entry.open
	if onFlush != nil {
		b.onFlush = onFlush
	}
	started := m.handOffLocked(entry, b, &fx)
	sh.removeIfEmpty(key)
	sh.mu.Unlock()

	fx.run()
	return started
}

// FlushAllBuffers flushes every open buffer and returns how many flushes
// were started.
func (m *Manager) FlushAllBuffers(onFlush pkgbuffer.FlushFunc) int {
	flushed := 0
	for _, key := range m.store.keys() {
		if m.FlushBuffer(key, onFlush) {
			flushed++
		}
	}
	if flushed > 0 {
		m.logger.Info("flushed all buffers", "count", flushed)
	}
	return flushed
}

// GetStats returns a snapshot of the manager's buffers and counters.
func (m *Manager) GetStats() Stats {
	return m.snapshot(m.now())
}

// Drain flushes every open buffer and waits until all buffers, including
// retries in backoff, have been resolved or ctx is done.
func (m *Manager) Drain(ctx context.Context) error {
	if m.closed.Load() {
		return apperrors.ErrManagerClosed
	}

	m.FlushAllBuffers(nil)

	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()

	for {
		pending := 0
		m.store.each(func(_ message.Key, e *conversationEntry) {
			pending += len(e.buffers())
		})
		if pending == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("drain interrupted with %d buffers pending: %w", pending, ctx.Err())
		case <-ticker.C:
			// Open buffers may have been created since the first pass.
			m.FlushAllBuffers(nil)
		}
	}
}

// Destroy stops the monitor, cancels every timer and drops all buffers
// without flushing them. In-flight handlers see their context cancelled.
// Dropped buffers are reported to the OnDrop hook.
func (m *Manager) Destroy() {
	m.stopOnce.Do(func() {
		m.closed.Store(true)
		m.cancel()

		now := m.now()
		var dropped []message.DroppedBatch
		messages := 0
		m.store.clear(func(b *conversationBuffer) {
			b.timer.cancel()
			if b.state == stateRemoved {
				// already reported when it was dropped
				return
			}
			b.state = stateRemoved
			if len(b.messages) == 0 {
				return
			}
			messages += len(b.messages)
			dropped = append(dropped, droppedBatch(b, message.DropShutdown, now))
		})

		m.logger.Info("buffer manager destroyed",
			"dropped_buffers", len(dropped),
			"dropped_messages", messages)

		if m.hooks.OnDrop != nil {
			for _, d := range dropped {
				m.hooks.OnDrop(d)
			}
		}
	})
}

// Done is closed once the health monitor has stopped.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

func (m *Manager) armDebounceLocked(b *conversationBuffer) {
	b.timer.arm(m.cfg.DebounceInterval, func(gen uint64) {
		m.onDebounce(b, gen)
	})
}

// onDebounce runs when a debounce timer fires.
func (m *Manager) onDebounce(b *conversationBuffer, gen uint64) {
	sh := m.store.shardFor(b.key)
	var fx effects

	sh.mu.Lock()
	if m.closed.Load() || !b.timer.consume(gen) {
		sh.mu.Unlock()
		return
	}
	entry := sh.get(b.key)
	if entry != nil && entry.open == b {
		m.handOffLocked(entry, b, &fx)
	}
	sh.mu.Unlock()

	fx.run()
}

func droppedBatch(b *conversationBuffer, reason message.DropReason, now time.Time) message.DroppedBatch {
	d := message.DroppedBatch{
		Key:       b.key,
		Reason:    reason,
		Attempts:  b.processingAttempts,
		DroppedAt: now,
		Messages:  append([]message.BufferedMessage(nil), b.messages...),
	}
	if b.lastErr != nil {
		d.LastError = b.lastErr.Error()
	}
	return d
}
