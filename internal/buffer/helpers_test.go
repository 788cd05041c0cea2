package buffer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jittakal/convbuffer/pkg/message"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fastConfig keeps the monitor out of the way and uses short timers.
func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.DebounceInterval = 50 * time.Millisecond
	cfg.MaxInterMessageGap = time.Second
	cfg.MaxBufferAge = 10 * time.Second
	cfg.CleanupInterval = time.Hour
	cfg.RetryBaseDelay = 10 * time.Millisecond
	cfg.MaxRetryDelay = 40 * time.Millisecond
	return cfg
}

func newTestManager(t *testing.T, cfg Config, opts ...Option) *Manager {
	t.Helper()

	m, err := NewManager(cfg, discardLogger(), opts...)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(m.Destroy)
	return m
}

func textMessage(counterpart, id, text string) message.BufferedMessage {
	return message.BufferedMessage{
		ID:            id,
		InstanceID:    "inst-1",
		CounterpartID: counterpart,
		Text:          text,
		ReceivedAt:    time.Now(),
	}
}

func imageMessage(counterpart, id, url string) message.BufferedMessage {
	return message.BufferedMessage{
		ID:            id,
		InstanceID:    "inst-1",
		CounterpartID: counterpart,
		ImageURL:      url,
		ReceivedAt:    time.Now(),
	}
}

// flushRecorder is a FlushFunc that records every call and fails the first
// failures calls.
type flushRecorder struct {
	mu       sync.Mutex
	calls    [][]message.BufferedMessage
	times    []time.Time
	failures int
}

func (r *flushRecorder) flush(_ context.Context, msgs []message.BufferedMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, msgs)
	r.times = append(r.times, time.Now())
	if len(r.calls) <= r.failures {
		return fmt.Errorf("downstream unavailable (call %d)", len(r.calls))
	}
	return nil
}

func (r *flushRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *flushRecorder) call(i int) []message.BufferedMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[i]
}

func ids(msgs []message.BufferedMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// fakeClock is a manually advanced clock for monitor tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// dropRecorder collects dropped batches.
type dropRecorder struct {
	mu      sync.Mutex
	batches []message.DroppedBatch
}

func (d *dropRecorder) record(b message.DroppedBatch) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batches = append(d.batches, b)
}

func (d *dropRecorder) all() []message.DroppedBatch {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]message.DroppedBatch(nil), d.batches...)
}
