package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"github.com/jittakal/convbuffer/internal/errors"
	pkgbuffer "github.com/jittakal/convbuffer/pkg/buffer"
	"github.com/jittakal/convbuffer/pkg/consumer"
	"github.com/jittakal/convbuffer/pkg/message"
)

// EventTypeConversationBatch is the CloudEvent type of published batches.
const EventTypeConversationBatch = "com.convbuffer.conversation.batch"

var _ consumer.BatchPublisher = (*BatchPublisher)(nil)

// PublishMetrics records publish outcomes.
type PublishMetrics interface {
	ObservePublish(topic, status string, duration float64)
}

// PublisherConfig contains batch publisher configuration.
type PublisherConfig struct {
	Topic  string
	Source string
	ProducerConfig
}

// BatchPublisher publishes conversation batches as CloudEvents. Its Publish
// method is the flush callback of the buffer manager; records are keyed by
// conversation so one conversation stays on one partition.
type BatchPublisher struct {
	producer sarama.SyncProducer
	config   PublisherConfig
	logger   *slog.Logger
	metrics  PublishMetrics
	now      func() time.Time
	mu       sync.RWMutex
	closed   bool
}

// NewBatchPublisher creates a batch publisher with its own sync producer.
func NewBatchPublisher(
	sec SecurityConfig,
	config PublisherConfig,
	logger *slog.Logger,
	metrics PublishMetrics,
) (*BatchPublisher, error) {
	saramaConfig, err := newProducerConfig(sec, config.ProducerConfig)
	if err != nil {
		return nil, err
	}

	producer, err := sarama.NewSyncProducer(sec.BootstrapServers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync producer: %w", err)
	}

	logger.Info("batch publisher created",
		"bootstrap_servers", sec.BootstrapServers,
		"topic", config.Topic,
	)

	return newBatchPublisher(producer, config, logger, metrics), nil
}

func newBatchPublisher(
	producer sarama.SyncProducer,
	config PublisherConfig,
	logger *slog.Logger,
	metrics PublishMetrics,
) *BatchPublisher {
	if config.Source == "" {
		config.Source = "convbuffer"
	}
	return &BatchPublisher{
		producer: producer,
		config:   config,
		logger:   logger.With("component", "batch_publisher"),
		metrics:  metrics,
		now:      time.Now,
	}
}

// Publish sends messages of one conversation as a single batch event.
// A returned error makes the buffer retry the same messages.
func (p *BatchPublisher) Publish(ctx context.Context, messages []message.BufferedMessage) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return &errors.PublishError{Topic: p.config.Topic, Err: errors.ErrPublisherClosed}
	}
	if len(messages) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return &errors.PublishError{Topic: p.config.Topic, Key: messages[0].Key().String(), Err: err}
	}

	key := messages[0].Key()
	batch := message.NewBatch(uuid.New().String(), key, messages, pkgbuffer.AttemptFromContext(ctx))

	msg, err := p.buildMessage(batch)
	if err != nil {
		return fmt.Errorf("failed to build batch event: %w", err)
	}

	start := time.Now()
	partition, offset, err := p.producer.SendMessage(msg)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		p.observe("failure", elapsed)
		p.logger.Error("failed to publish conversation batch",
			"error", err,
			"topic", p.config.Topic,
			"key", key,
			"batch_id", batch.ID,
		)
		return &errors.PublishError{Topic: p.config.Topic, Key: key.String(), Err: err}
	}

	p.observe("success", elapsed)
	p.logger.Debug("published conversation batch",
		"topic", p.config.Topic,
		"partition", partition,
		"offset", offset,
		"key", key,
		"batch_id", batch.ID,
		"message_count", len(messages),
	)
	return nil
}

func (p *BatchPublisher) buildMessage(batch message.Batch) (*sarama.ProducerMessage, error) {
	event := cloudevents.NewEvent()
	event.SetSpecVersion(cloudevents.VersionV1)
	event.SetID(batch.ID)
	event.SetType(EventTypeConversationBatch)
	event.SetSource(p.config.Source)
	event.SetSubject(batch.Key.String())
	event.SetTime(p.now())
	if err := event.SetData(cloudevents.ApplicationJSON, batch); err != nil {
		return nil, fmt.Errorf("failed to set event data: %w", err)
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal CloudEvent: %w", err)
	}

	return &sarama.ProducerMessage{
		Topic: p.config.Topic,
		Key:   sarama.StringEncoder(batch.Key),
		Value: sarama.ByteEncoder(eventBytes),
		Headers: []sarama.RecordHeader{
			{Key: []byte("ce_specversion"), Value: []byte(event.SpecVersion())},
			{Key: []byte("ce_type"), Value: []byte(event.Type())},
			{Key: []byte("ce_source"), Value: []byte(event.Source())},
			{Key: []byte("ce_id"), Value: []byte(event.ID())},
		},
	}, nil
}

func (p *BatchPublisher) observe(status string, seconds float64) {
	if p.metrics != nil {
		p.metrics.ObservePublish(p.config.Topic, status, seconds)
	}
}

// Topic returns the topic batches are published to.
func (p *BatchPublisher) Topic() string {
	return p.config.Topic
}

// Close closes the batch publisher.
func (p *BatchPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if err := p.producer.Close(); err != nil {
		p.logger.Error("error closing producer", "error", err)
		return err
	}

	p.logger.Info("batch publisher closed")
	return nil
}
