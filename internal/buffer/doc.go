// Package buffer implements the conversation message debounce buffer.
//
// Messages arriving in quick succession from the same conversation are
// grouped and handed to a single FlushFunc call once the conversation goes
// quiet, so downstream processing sees "hi / are you there / I need help"
// as one unit instead of three.
//
// # Manager
//
//	mgr, err := buffer.NewManager(buffer.DefaultConfig(), logger)
//	if err != nil {
//	    return err
//	}
//	defer mgr.Destroy()
//
//	mgr.AddMessage(msg, func(ctx context.Context, msgs []message.BufferedMessage) error {
//	    return process(ctx, msgs)
//	})
//
// # Flush Triggers
//
// An open buffer is flushed when:
//
//   - no message arrived for DebounceInterval (each message re-arms the timer)
//   - it reaches MaxBufferSize messages
//   - a message arrives that does not combine with it (long gap or a
//     content type change); the open buffer is flushed and the message
//     starts a new one
//   - the health monitor finds it idle for longer than MaxBufferAge
//   - FlushBuffer, FlushAllBuffers or Drain is called
//
// # Buffer Lifecycle
//
//	Active -> Queued -> Flushing -> Removed
//	                        |  ^
//	                        v  |
//	                      Backoff -> Abandoned
//
// A flushed buffer freezes a snapshot of its messages; every attempt,
// including retries, receives the same snapshot in arrival order. Messages
// arriving meanwhile open a fresh buffer under the same key. Batches of one
// conversation are processed strictly one at a time in the order they were
// closed.
//
// Failed attempts are retried after min(RetryBaseDelay*2^(n-1), MaxRetryDelay)
// until MaxProcessingAttempts is reached, then the batch is abandoned.
//
// # Health Monitor
//
// Every CleanupInterval/2 the monitor inspects every buffer: empty buffers
// are removed, buffers older than MaxBufferLifetime are dropped, buffers
// inactive for EmergencyInactivity are evicted, idle open buffers are
// force-flushed, and attempts running longer than StuckThreshold are
// reported and, with no attempts left, abandoned.
//
// Dropped messages are never processed. They are reported to Hooks.OnDrop
// with a message.DropReason so the caller can archive them.
//
// # Thread Safety
//
// Conversations are spread over independently locked shards. Timer
// callbacks, flush completions and monitor sweeps take the shard lock of the
// key they touch; hooks run after it is released.
package buffer
