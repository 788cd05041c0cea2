package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/jittakal/convbuffer/internal/errors"
	"github.com/jittakal/convbuffer/pkg/consumer"
	"github.com/jittakal/convbuffer/pkg/message"
)

// Ensure implementation satisfies interface at compile time.
var _ consumer.DLQPublisher = (*DLQPublisher)(nil)

// DLQEvent represents a dropped batch published to the dead letter queue.
type DLQEvent struct {
	Key              message.Key               `json:"key"`
	FailureReason    message.DropReason        `json:"failure_reason"`
	LastError        string                    `json:"last_error,omitempty"`
	Attempts         int                       `json:"attempts"`
	FailureTimestamp time.Time                 `json:"failure_timestamp"`
	ProcessorID      string                    `json:"processor_id"`
	Messages         []message.BufferedMessage `json:"messages"`
}

// DLQConfig contains DLQ configuration.
type DLQConfig struct {
	Enabled bool
	// Topic receives dropped batches, usually the batch topic plus a suffix.
	Topic string
}

// DLQPublisher publishes dropped batches to a dead letter queue.
type DLQPublisher struct {
	producer    sarama.SyncProducer
	config      DLQConfig
	logger      *slog.Logger
	mu          sync.RWMutex
	closed      bool
	processorID string
}

// NewDLQPublisher creates a new DLQ publisher.
func NewDLQPublisher(
	sec SecurityConfig,
	producerConfig ProducerConfig,
	dlqConfig DLQConfig,
	logger *slog.Logger,
	processorID string,
) (*DLQPublisher, error) {
	if !dlqConfig.Enabled {
		logger.Info("DLQ is disabled")
		return newDLQPublisher(nil, dlqConfig, logger, processorID), nil
	}

	saramaConfig, err := newProducerConfig(sec, producerConfig)
	if err != nil {
		return nil, err
	}

	producer, err := sarama.NewSyncProducer(sec.BootstrapServers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync producer: %w", err)
	}

	logger.Info("DLQ publisher created",
		"bootstrap_servers", sec.BootstrapServers,
		"topic", dlqConfig.Topic,
	)

	return newDLQPublisher(producer, dlqConfig, logger, processorID), nil
}

func newDLQPublisher(producer sarama.SyncProducer, config DLQConfig, logger *slog.Logger, processorID string) *DLQPublisher {
	return &DLQPublisher{
		producer:    producer,
		config:      config,
		logger:      logger.With("component", "dlq_publisher"),
		processorID: processorID,
	}
}

// Publish publishes a dropped batch to the DLQ. It is a no-op when the DLQ
// is disabled.
func (p *DLQPublisher) Publish(ctx context.Context, batch message.DroppedBatch) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return &errors.PublishError{Topic: p.config.Topic, Key: batch.Key.String(), Err: errors.ErrPublisherClosed}
	}

	if !p.config.Enabled || p.producer == nil {
		p.logger.Debug("DLQ disabled, skipping publish", "key", batch.Key)
		return nil
	}

	dlqEvent := DLQEvent{
		Key:              batch.Key,
		FailureReason:    batch.Reason,
		LastError:        batch.LastError,
		Attempts:         batch.Attempts,
		FailureTimestamp: batch.DroppedAt.UTC(),
		ProcessorID:      p.processorID,
		Messages:         batch.Messages,
	}

	dlqData, err := json.Marshal(dlqEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.config.Topic,
		Key:   sarama.StringEncoder(batch.Key),
		Value: sarama.ByteEncoder(dlqData),
		Headers: []sarama.RecordHeader{
			{Key: []byte("failure_reason"), Value: []byte(batch.Reason)},
			{Key: []byte("attempts"), Value: []byte(strconv.Itoa(batch.Attempts))},
			{Key: []byte("processor_id"), Value: []byte(p.processorID)},
		},
		Timestamp: time.Now(),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.Error("failed to publish to DLQ",
			"error", err,
			"dlq_topic", p.config.Topic,
			"key", batch.Key,
		)
		return &errors.PublishError{Topic: p.config.Topic, Key: batch.Key.String(), Err: err}
	}

	p.logger.Info("published dropped batch to DLQ",
		"dlq_topic", p.config.Topic,
		"partition", partition,
		"offset", offset,
		"key", batch.Key,
		"reason", batch.Reason,
		"message_count", len(batch.Messages),
	)

	return nil
}

// Close closes the DLQ publisher.
func (p *DLQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true

	if p.producer != nil {
		if err := p.producer.Close(); err != nil {
			p.logger.Error("error closing producer", "error", err)
			return err
		}
	}

	p.logger.Info("DLQ publisher closed")
	return nil
}
