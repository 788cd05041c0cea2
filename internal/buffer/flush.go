package buffer

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/jittakal/convbuffer/internal/errors"
	pkgbuffer "github.com/jittakal/convbuffer/pkg/buffer"
	"github.com/jittakal/convbuffer/pkg/message"
)

var errNoHandler = errors.New("no flush handler registered")

// handOffLocked closes b for new messages, freezes its snapshot and queues
// it for processing. The attempt starts right away unless an earlier batch of
// the same conversation is still in flight. Caller holds the shard lock.
func (m *Manager) handOffLocked(entry *conversationEntry, b *conversationBuffer, fx *effects) bool {
	if b.state != stateActive {
		return false
	}
	b.timer.cancel()

	if entry.open == b {
		entry.open = nil
	}
	if len(b.messages) == 0 {
		b.state = stateRemoved
		return false
	}

	b.snapshot = append([]message.BufferedMessage(nil), b.messages...)
	b.state = stateQueued
	entry.inflight = append(entry.inflight, b)

	if entry.head() == b {
		m.startAttemptLocked(b, fx)
	} else {
		m.logger.Debug("batch queued behind in-flight batch",
			"key", b.key,
			"queued", len(entry.inflight)-1)
	}
	return true
}

// startAttemptLocked moves b to flushing and queues its handler to run in a
// new goroutine once the shard lock is released. Caller holds the shard lock.
func (m *Manager) startAttemptLocked(b *conversationBuffer, fx *effects) {
	b.state = stateFlushing
	b.processingAttempts++
	b.processingStartedAt = m.now()
	m.stats.recordAttempt()

	attempt := b.processingAttempts
	snapshot := append([]message.BufferedMessage(nil), b.snapshot...)
	onFlush := b.onFlush

	ctx, cancel := m.attemptContext(attempt)
	b.cancel = cancel

	m.logger.Debug("starting flush attempt",
		"key", b.key,
		"attempt", attempt,
		"message_count", len(snapshot))

	fx.add(func() {
		go m.runAttempt(ctx, b, attempt, snapshot, onFlush)
	})
}

// attemptContext derives the context of one attempt. It is cancelled when
// the attempt completes, times out, the buffer is dropped or the manager is
// destroyed.
func (m *Manager) attemptContext(attempt int) (context.Context, context.CancelFunc) {
	ctx := pkgbuffer.WithAttempt(m.ctx, attempt)
	if m.cfg.ProcessingTimeout > 0 {
		return context.WithTimeout(ctx, m.cfg.ProcessingTimeout)
	}
	return context.WithCancel(ctx)
}

func (m *Manager) runAttempt(ctx context.Context, b *conversationBuffer, attempt int, snapshot []message.BufferedMessage, onFlush pkgbuffer.FlushFunc) {
	start := time.Now()
	err := invokeFlush(ctx, onFlush, snapshot)
	m.completeAttempt(b, attempt, len(snapshot), time.Since(start), err)
}

// invokeFlush calls fn, turning a panic into an error.
func invokeFlush(ctx context.Context, fn pkgbuffer.FlushFunc, messages []message.BufferedMessage) (err error) {
	if fn == nil {
		return errNoHandler
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", apperrors.ErrFlushPanic, r)
		}
	}()
	return fn(ctx, messages)
}

// completeAttempt applies the outcome of an attempt. Results for a buffer
// that was dropped in the meantime are ignored.
func (m *Manager) completeAttempt(b *conversationBuffer, attempt, count int, latency time.Duration, err error) {
	sh := m.store.shardFor(b.key)
	var fx effects

	sh.mu.Lock()
	running := b.cancel != nil
	if running {
		b.cancel()
		b.cancel = nil
	}
	if running && !m.closed.Load() && b.state == stateRemoved {
		// Dropped while its handler ran. The conversation was held until now.
		m.retireLocked(sh, sh.get(b.key), b, &fx)
		sh.mu.Unlock()
		m.logger.Debug("dropped batch handler returned, releasing conversation",
			"key", b.key,
			"attempt", attempt,
			"error", err)
		fx.run()
		return
	}
	if m.closed.Load() || b.state != stateFlushing || b.processingAttempts != attempt {
		state := b.state
		sh.mu.Unlock()
		m.logger.Debug("ignoring late flush result",
			"key", b.key,
			"attempt", attempt,
			"state", state)
		return
	}

	result := FlushResult{
		Key:          b.key,
		Attempt:      attempt,
		MessageCount: count,
		Latency:      latency,
		Err:          err,
	}
	entry := sh.get(b.key)

	if err == nil {
		m.stats.recordSuccess(latency)
		b.processingStartedAt = time.Time{}
		b.state = stateRemoved
		m.retireLocked(sh, entry, b, &fx)

		m.logger.Info("conversation batch processed",
			"key", b.key,
			"attempt", attempt,
			"message_count", count,
			"latency", latency)
	} else {
		b.lastErr = err
		flushErr := &apperrors.FlushError{Key: b.key, Attempt: attempt, Err: err}

		if attempt >= m.cfg.MaxProcessingAttempts || !flushErr.IsRetryable() {
			abandoned := &apperrors.AbandonedError{
				Key:          b.key,
				Attempts:     attempt,
				MessageCount: count,
				Err:          err,
			}
			m.logger.Error("abandoning conversation batch",
				"key", b.key,
				"attempts", attempt,
				"message_count", count,
				"error", abandoned)
			m.stats.recordFailure()
			m.dropLocked(sh, entry, b, message.DropAbandoned, &fx)
		} else {
			delay := m.cfg.retryDelay(attempt)
			result.RetryIn = delay
			b.processingStartedAt = time.Time{}
			b.state = stateBackoff
			b.timer.arm(delay, func(gen uint64) {
				m.onRetry(b, gen)
			})

			m.logger.Warn("flush attempt failed, retrying",
				"key", b.key,
				"attempt", attempt,
				"max_attempts", m.cfg.MaxProcessingAttempts,
				"retry_in", delay,
				"error", flushErr)
		}
	}
	sh.mu.Unlock()

	if m.hooks.OnAttempt != nil {
		m.hooks.OnAttempt(result)
	}
	fx.run()
}

// onRetry runs when a backoff timer fires.
func (m *Manager) onRetry(b *conversationBuffer, gen uint64) {
	sh := m.store.shardFor(b.key)
	var fx effects

	sh.mu.Lock()
	if m.closed.Load() || !b.timer.consume(gen) || b.state != stateBackoff {
		sh.mu.Unlock()
		return
	}
	m.startAttemptLocked(b, &fx)
	sh.mu.Unlock()

	fx.run()
}

// dropLocked removes b without processing it and reports it to the drop
// hook. A running handler has its context cancelled and b keeps the head of
// the conversation until the handler returns, so the next batch never
// overlaps it. Caller holds the shard lock.
func (m *Manager) dropLocked(sh *shard, entry *conversationEntry, b *conversationBuffer, reason message.DropReason, fx *effects) {
	b.timer.cancel()
	b.state = stateRemoved

	if len(b.messages) > 0 && m.hooks.OnDrop != nil {
		dropped := droppedBatch(b, reason, m.now())
		fx.add(func() { m.hooks.OnDrop(dropped) })
	}

	if b.cancel != nil {
		b.cancel()
		return
	}
	b.processingStartedAt = time.Time{}
	m.retireLocked(sh, entry, b, fx)
}

// retireLocked detaches b from its entry by identity, starts the next queued
// batch of the conversation, and deletes the entry once empty. Caller holds
// the shard lock.
func (m *Manager) retireLocked(sh *shard, entry *conversationEntry, b *conversationBuffer, fx *effects) {
	if entry == nil {
		return
	}
	if entry.detach(b) {
		if next := entry.head(); next != nil && next.state == stateQueued {
			m.startAttemptLocked(next, fx)
		}
	}
	sh.removeIfEmpty(b.key)
}
