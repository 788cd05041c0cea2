package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jittakal/convbuffer/internal/buffer"
	"github.com/jittakal/convbuffer/pkg/message"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Consumer metrics
	MessagesConsumed   *prometheus.CounterVec
	MessagesRejected   *prometheus.CounterVec
	OffsetCommits      *prometheus.CounterVec
	Rebalances         *prometheus.CounterVec
	RebalanceDuration  *prometheus.HistogramVec
	PartitionsAssigned *prometheus.GaugeVec
	CommitLatency      *prometheus.HistogramVec

	// Buffer metrics
	MessagesBuffered  *prometheus.CounterVec
	FlushAttempts     *prometheus.CounterVec
	FlushDuration     prometheus.Histogram
	FlushBatchSize    prometheus.Histogram
	RetriesScheduled  prometheus.Counter
	DroppedBatches    *prometheus.CounterVec
	DroppedMessages   *prometheus.CounterVec
	ActiveBuffers     prometheus.Gauge
	BufferedMessages  prometheus.Gauge
	OldestBufferAge   prometheus.Gauge
	StuckBuffers      prometheus.Gauge
	InFlightBuffers   prometheus.Gauge
	BufferMemoryBytes prometheus.Gauge
	FlushSuccessRate  prometheus.Gauge

	// Publisher metrics
	BatchesPublished *prometheus.CounterVec
	PublishLatency   *prometheus.HistogramVec

	// Archive metrics
	FilesWritten         *prometheus.CounterVec
	StorageWriteDuration *prometheus.HistogramVec
	FileSize             *prometheus.HistogramVec
	StorageErrors        *prometheus.CounterVec
	ArchiveQueueDepth    prometheus.Gauge
	ArchiveOverflow      prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		// Consumer metrics
		MessagesConsumed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_messages_consumed_total",
				Help: "Total number of messages consumed from Kafka",
			},
			[]string{"topic", "partition"},
		),
		MessagesRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_messages_rejected_total",
				Help: "Total number of consumed messages rejected before buffering",
			},
			[]string{"topic", "reason"},
		),
		OffsetCommits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_offset_commit_total",
				Help: "Total number of offset commits",
			},
			[]string{"topic", "partition", "status"},
		),
		Rebalances: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_rebalance_total",
				Help: "Total number of consumer group rebalances",
			},
			[]string{"group"},
		),
		RebalanceDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kafka_rebalance_duration_seconds",
				Help:    "Duration of consumer group rebalances",
				Buckets: []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"group"},
		),
		PartitionsAssigned: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kafka_partitions_assigned",
				Help: "Number of partitions currently assigned to this consumer",
			},
			[]string{"topic"},
		),
		CommitLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kafka_commit_latency_seconds",
				Help:    "Latency of offset commit operations",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"topic", "partition"},
		),

		// Buffer metrics
		MessagesBuffered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conversation_buffer_messages_total",
				Help: "Total number of messages offered to the conversation buffer",
			},
			[]string{"status"},
		),
		FlushAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conversation_buffer_flush_attempts_total",
				Help: "Total number of flush attempts by outcome",
			},
			[]string{"status"},
		),
		FlushDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "conversation_buffer_flush_duration_seconds",
				Help:    "Duration of flush handler calls",
				Buckets: prometheus.DefBuckets,
			},
		),
		FlushBatchSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "conversation_buffer_flush_batch_size",
				Help:    "Number of messages per flushed batch",
				Buckets: []float64{1, 2, 3, 5, 8, 10, 15, 20, 50},
			},
		),
		RetriesScheduled: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "conversation_buffer_retries_total",
				Help: "Total number of flush retries scheduled",
			},
		),
		DroppedBatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conversation_buffer_dropped_batches_total",
				Help: "Total number of batches dropped without processing",
			},
			[]string{"reason"},
		),
		DroppedMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conversation_buffer_dropped_messages_total",
				Help: "Total number of messages dropped without processing",
			},
			[]string{"reason"},
		),
		ActiveBuffers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "conversation_buffer_buffers",
				Help: "Current number of conversation buffers",
			},
		),
		BufferedMessages: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "conversation_buffer_buffered_messages",
				Help: "Current number of buffered messages",
			},
		),
		OldestBufferAge: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "conversation_buffer_oldest_age_seconds",
				Help: "Age of the oldest conversation buffer",
			},
		),
		StuckBuffers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "conversation_buffer_stuck",
				Help: "Current number of buffers whose flush exceeded the stuck threshold",
			},
		),
		InFlightBuffers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "conversation_buffer_in_flight",
				Help: "Current number of buffers being flushed",
			},
		),
		BufferMemoryBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "conversation_buffer_memory_bytes",
				Help: "Estimated memory held by conversation buffers",
			},
		),
		FlushSuccessRate: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "conversation_buffer_flush_success_ratio",
				Help: "Successful flushes over flush attempts since start",
			},
		),

		// Publisher metrics
		BatchesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_batches_published_total",
				Help: "Total number of conversation batches published",
			},
			[]string{"topic", "status"},
		),
		PublishLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kafka_publish_latency_seconds",
				Help:    "Latency of synchronous publish operations",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"topic"},
		),

		// Archive metrics
		FilesWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archive_files_written_total",
				Help: "Total number of archive files written to storage",
			},
			[]string{"reason", "format", "status"},
		),
		StorageWriteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archive_storage_write_duration_seconds",
				Help:    "Duration of complete archive writes including encoding",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
		FileSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archive_file_size_bytes",
				Help:    "Size of archive files written to storage",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 8), // 1KB to 16MB
			},
			[]string{"format"},
		),
		StorageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storage_errors_total",
				Help: "Total number of storage errors",
			},
			[]string{"backend", "error_type"},
		),
		ArchiveQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "archive_queue_depth",
				Help: "Dropped batches waiting to be archived",
			},
		),
		ArchiveOverflow: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "archive_queue_overflow_total",
				Help: "Dropped batches discarded because the archive queue was full",
			},
		),
	}
}

// IncMessagesConsumed increments messages consumed counter.
func (m *Metrics) IncMessagesConsumed(topic string, partition int32) {
	m.MessagesConsumed.WithLabelValues(topic, fmt.Sprintf("%d", partition)).Inc()
}

// IncMessagesRejected increments the rejected messages counter.
func (m *Metrics) IncMessagesRejected(topic, reason string) {
	m.MessagesRejected.WithLabelValues(topic, reason).Inc()
}

// IncRebalances increments rebalances counter.
func (m *Metrics) IncRebalances(groupID string) {
	m.Rebalances.WithLabelValues(groupID).Inc()
}

// IncOffsetCommits increments offset commits counter.
func (m *Metrics) IncOffsetCommits(topic string, partition int32, status string) {
	m.OffsetCommits.WithLabelValues(topic, fmt.Sprintf("%d", partition), status).Inc()
}

// ObserveRebalanceDuration observes rebalance duration.
func (m *Metrics) ObserveRebalanceDuration(groupID string, duration float64) {
	m.RebalanceDuration.WithLabelValues(groupID).Observe(duration)
}

// ObserveCommitLatency observes commit latency.
func (m *Metrics) ObserveCommitLatency(topic string, partition int32, duration float64) {
	m.CommitLatency.WithLabelValues(topic, fmt.Sprintf("%d", partition)).Observe(duration)
}

// SetPartitionsAssigned sets partitions assigned gauge.
func (m *Metrics) SetPartitionsAssigned(topic string, count float64) {
	m.PartitionsAssigned.WithLabelValues(topic).Set(count)
}

// IncMessagesBuffered counts a message offered to the buffer.
func (m *Metrics) IncMessagesBuffered(accepted bool) {
	status := "accepted"
	if !accepted {
		status = "rejected"
	}
	m.MessagesBuffered.WithLabelValues(status).Inc()
}

// ObserveFlush records the outcome of one flush attempt.
func (m *Metrics) ObserveFlush(r buffer.FlushResult) {
	status := "success"
	if r.Err != nil {
		status = "failure"
	}
	m.FlushAttempts.WithLabelValues(status).Inc()
	m.FlushDuration.Observe(r.Latency.Seconds())
	if r.Err == nil {
		m.FlushBatchSize.Observe(float64(r.MessageCount))
	}
	if r.RetryIn > 0 {
		m.RetriesScheduled.Inc()
	}
}

// IncDropped records a batch dropped without processing.
func (m *Metrics) IncDropped(d message.DroppedBatch) {
	reason := string(d.Reason)
	m.DroppedBatches.WithLabelValues(reason).Inc()
	m.DroppedMessages.WithLabelValues(reason).Add(float64(len(d.Messages)))
}

// RecordBufferStats refreshes the buffer gauges from a stats snapshot.
func (m *Metrics) RecordBufferStats(s buffer.Stats) {
	m.ActiveBuffers.Set(float64(s.TotalBuffers))
	m.BufferedMessages.Set(float64(s.TotalMessages))
	m.OldestBufferAge.Set(s.OldestBufferAge.Seconds())
	m.StuckBuffers.Set(float64(s.StuckBuffers))
	m.InFlightBuffers.Set(float64(s.InFlightBuffers))
	m.BufferMemoryBytes.Set(float64(s.EstimatedMemoryBytes))
	m.FlushSuccessRate.Set(s.SuccessRate)
}

// BufferHooks returns hooks that record metrics and then call next.
func (m *Metrics) BufferHooks(next buffer.Hooks) buffer.Hooks {
	return buffer.Hooks{
		OnAttempt: func(r buffer.FlushResult) {
			m.ObserveFlush(r)
			if next.OnAttempt != nil {
				next.OnAttempt(r)
			}
		},
		OnDrop: func(d message.DroppedBatch) {
			m.IncDropped(d)
			if next.OnDrop != nil {
				next.OnDrop(d)
			}
		},
	}
}

// ObservePublish records a publish outcome and its latency.
func (m *Metrics) ObservePublish(topic, status string, duration float64) {
	m.BatchesPublished.WithLabelValues(topic, status).Inc()
	m.PublishLatency.WithLabelValues(topic).Observe(duration)
}

// IncFilesWritten increments files written counter.
func (m *Metrics) IncFilesWritten(reason, format, status string) {
	m.FilesWritten.WithLabelValues(reason, format, status).Inc()
}

// ObserveFileSize observes file size.
func (m *Metrics) ObserveFileSize(format string, size float64) {
	m.FileSize.WithLabelValues(format).Observe(size)
}

// ObserveStorageWriteDuration observes storage write duration.
func (m *Metrics) ObserveStorageWriteDuration(backend string, duration float64) {
	m.StorageWriteDuration.WithLabelValues(backend).Observe(duration)
}

// IncStorageErrors increments storage errors counter.
func (m *Metrics) IncStorageErrors(backend string, operation string) {
	m.StorageErrors.WithLabelValues(backend, operation).Inc()
}

// SetArchiveQueueDepth sets the archive queue gauge.
func (m *Metrics) SetArchiveQueueDepth(depth int) {
	m.ArchiveQueueDepth.Set(float64(depth))
}

// IncArchiveOverflow counts a dropped batch that could not be queued.
func (m *Metrics) IncArchiveOverflow() {
	m.ArchiveOverflow.Inc()
}
