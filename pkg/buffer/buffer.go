// Package buffer defines the public contract of the conversation buffer.
//
// A buffer groups rapidly arriving messages of one conversation and hands
// them to a FlushFunc once the conversation goes quiet.
package buffer

import (
	"context"

	"github.com/jittakal/convbuffer/pkg/message"
)

// FlushFunc processes one conversation's buffered messages in arrival order.
// A non-nil error schedules a retry of the same messages, up to the
// manager's attempt limit. An error that implements IsRetryable() bool and
// reports false abandons the batch right away without further attempts.
//
// The context is cancelled when the attempt times out, when the batch is
// dropped by the health monitor or when the manager is destroyed. The next
// batch of the same conversation starts only after the function returns.
type FlushFunc func(ctx context.Context, messages []message.BufferedMessage) error

// Manager buffers messages per conversation.
// All implementations must be thread-safe.
type Manager interface {
	// AddMessage enqueues a message. It returns false only once the
	// manager has been destroyed.
	AddMessage(msg message.BufferedMessage, onFlush FlushFunc) bool

	// FlushBuffer forces an immediate flush of one conversation.
	// It reports whether a flush was started.
	FlushBuffer(key message.Key, onFlush FlushFunc) bool

	// FlushAllBuffers forces an immediate flush of every open conversation
	// and returns how many flushes were started.
	FlushAllBuffers(onFlush FlushFunc) int

	// Destroy cancels all timers and drops all pending state.
	Destroy()
}

type attemptKey struct{}

// WithAttempt returns a context carrying the processing attempt number.
func WithAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, attemptKey{}, attempt)
}

// AttemptFromContext returns the attempt number of the flush running under
// ctx, starting at 1. It returns 0 outside a flush.
func AttemptFromContext(ctx context.Context) int {
	attempt, _ := ctx.Value(attemptKey{}).(int)
	return attempt
}
