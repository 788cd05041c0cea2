package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jittakal/convbuffer/internal/buffer"
	"github.com/jittakal/convbuffer/pkg/message"
)

func TestNewMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	if metrics == nil {
		t.Fatal("NewMetrics returned nil")
	}

	// Registering twice on the same registry must fail.
	defer func() {
		if recover() == nil {
			t.Error("expected duplicate registration to panic")
		}
	}()
	NewMetrics(registry)
}

func TestMetrics_ConsumerCounters(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.IncMessagesConsumed("whatsapp.inbound", 0)
	metrics.IncMessagesConsumed("whatsapp.inbound", 0)
	metrics.IncMessagesConsumed("whatsapp.inbound", 1)
	metrics.IncMessagesRejected("whatsapp.inbound", "validation")
	metrics.IncOffsetCommits("whatsapp.inbound", 0, "success")
	metrics.ObserveCommitLatency("whatsapp.inbound", 0, 0.01)
	metrics.IncRebalances("convbuffer")
	metrics.ObserveRebalanceDuration("convbuffer", 1.5)
	metrics.SetPartitionsAssigned("whatsapp.inbound", 3)

	if got := testutil.ToFloat64(metrics.MessagesConsumed.WithLabelValues("whatsapp.inbound", "0")); got != 2 {
		t.Errorf("consumed partition 0 = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.MessagesRejected.WithLabelValues("whatsapp.inbound", "validation")); got != 1 {
		t.Errorf("rejected = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.PartitionsAssigned.WithLabelValues("whatsapp.inbound")); got != 3 {
		t.Errorf("partitions assigned = %v, want 3", got)
	}
}

func TestMetrics_ObserveFlush(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.ObserveFlush(buffer.FlushResult{Key: "inst-1:5511", Attempt: 1, MessageCount: 3, Latency: 20 * time.Millisecond})
	metrics.ObserveFlush(buffer.FlushResult{Key: "inst-1:5512", Attempt: 1, MessageCount: 2, Err: errors.New("broker down"), RetryIn: time.Second})
	metrics.ObserveFlush(buffer.FlushResult{Key: "inst-1:5512", Attempt: 2, MessageCount: 2, Err: errors.New("broker down")})

	if got := testutil.ToFloat64(metrics.FlushAttempts.WithLabelValues("success")); got != 1 {
		t.Errorf("success attempts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.FlushAttempts.WithLabelValues("failure")); got != 2 {
		t.Errorf("failed attempts = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.RetriesScheduled); got != 1 {
		t.Errorf("retries = %v, want 1", got)
	}
}

func TestMetrics_IncDropped(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.IncDropped(message.DroppedBatch{
		Key:      "inst-1:5511",
		Reason:   message.DropEmergencyEviction,
		Messages: make([]message.BufferedMessage, 4),
	})

	reason := string(message.DropEmergencyEviction)
	if got := testutil.ToFloat64(metrics.DroppedBatches.WithLabelValues(reason)); got != 1 {
		t.Errorf("dropped batches = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.DroppedMessages.WithLabelValues(reason)); got != 4 {
		t.Errorf("dropped messages = %v, want 4", got)
	}
}

func TestMetrics_RecordBufferStats(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.RecordBufferStats(buffer.Stats{
		TotalBuffers:         5,
		TotalMessages:        12,
		OldestBufferAge:      90 * time.Second,
		StuckBuffers:         1,
		InFlightBuffers:      2,
		EstimatedMemoryBytes: 4096,
		SuccessRate:          0.75,
	})

	checks := []struct {
		name  string
		gauge prometheus.Gauge
		want  float64
	}{
		{"buffers", metrics.ActiveBuffers, 5},
		{"messages", metrics.BufferedMessages, 12},
		{"oldest age", metrics.OldestBufferAge, 90},
		{"stuck", metrics.StuckBuffers, 1},
		{"in flight", metrics.InFlightBuffers, 2},
		{"memory", metrics.BufferMemoryBytes, 4096},
		{"success rate", metrics.FlushSuccessRate, 0.75},
	}
	for _, c := range checks {
		if got := testutil.ToFloat64(c.gauge); got != c.want {
			t.Errorf("%s = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestMetrics_BufferHooksChain(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	var attempts, drops int
	hooks := metrics.BufferHooks(buffer.Hooks{
		OnAttempt: func(buffer.FlushResult) { attempts++ },
		OnDrop:    func(message.DroppedBatch) { drops++ },
	})

	hooks.OnAttempt(buffer.FlushResult{MessageCount: 1})
	hooks.OnDrop(message.DroppedBatch{Reason: message.DropAbandoned})

	if attempts != 1 || drops != 1 {
		t.Errorf("next hooks called %d/%d times, want 1/1", attempts, drops)
	}
	if got := testutil.ToFloat64(metrics.DroppedBatches.WithLabelValues("abandoned")); got != 1 {
		t.Errorf("dropped batches = %v, want 1", got)
	}

	// A zero next is fine.
	bare := metrics.BufferHooks(buffer.Hooks{})
	bare.OnAttempt(buffer.FlushResult{})
	bare.OnDrop(message.DroppedBatch{Reason: message.DropStuck})
}

func TestMetrics_PublishAndArchive(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.IncMessagesBuffered(true)
	metrics.IncMessagesBuffered(false)
	metrics.ObservePublish("conversation.batches", "success", 0.02)
	metrics.IncFilesWritten("abandoned", "parquet", "success")
	metrics.ObserveFileSize("parquet", 2048)
	metrics.ObserveStorageWriteDuration("s3", 0.4)
	metrics.IncStorageErrors("gcs", "upload")
	metrics.SetArchiveQueueDepth(7)
	metrics.IncArchiveOverflow()

	if got := testutil.ToFloat64(metrics.MessagesBuffered.WithLabelValues("rejected")); got != 1 {
		t.Errorf("rejected buffered = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.BatchesPublished.WithLabelValues("conversation.batches", "success")); got != 1 {
		t.Errorf("published = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.ArchiveQueueDepth); got != 7 {
		t.Errorf("queue depth = %v, want 7", got)
	}
	if got := testutil.ToFloat64(metrics.ArchiveOverflow); got != 1 {
		t.Errorf("overflow = %v, want 1", got)
	}
}
