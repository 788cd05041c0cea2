// Package kafka implements the Kafka edges of the service: the inbound
// message consumer, the conversation batch publisher and the DLQ publisher.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/jittakal/convbuffer/internal/errors"
	"github.com/jittakal/convbuffer/pkg/consumer"
	"github.com/jittakal/convbuffer/pkg/message"
)

// Ensure implementation satisfies interfaces at compile time.
var (
	_ consumer.Consumer = (*SaramaConsumer)(nil)
)

// ConsumerConfig contains Kafka consumer configuration.
type ConsumerConfig struct {
	SecurityConfig
	GroupID             string
	AutoOffsetReset     string
	MaxPollIntervalMS   int
	SessionTimeoutMS    int
	HeartbeatIntervalMS int
}

// MetricsCollector defines metrics operations for Kafka consumer.
type MetricsCollector interface {
	IncMessagesConsumed(topic string, partition int32)
	IncRebalances(groupID string)
	IncOffsetCommits(topic string, partition int32, status string)
	ObserveRebalanceDuration(groupID string, duration float64)
	ObserveCommitLatency(topic string, partition int32, duration float64)
	SetPartitionsAssigned(topic string, count float64)
}

// SaramaConsumer implements the consumer.Consumer interface using the Sarama library.
// Offsets are marked per event through Commit; sarama's auto commit flushes
// the marked offsets to the broker.
type SaramaConsumer struct {
	consumerGroup sarama.ConsumerGroup
	config        ConsumerConfig
	logger        *slog.Logger
	metrics       MetricsCollector
	topics        []string
	ready         chan bool
	mu            sync.RWMutex
	closed        bool
}

// NewSaramaConsumer creates a new Kafka consumer using Sarama library.
func NewSaramaConsumer(
	config ConsumerConfig,
	logger *slog.Logger,
	metrics MetricsCollector,
) (*SaramaConsumer, error) {
	saramaConfig, err := newConsumerConfig(config)
	if err != nil {
		return nil, err
	}

	consumerGroup, err := sarama.NewConsumerGroup(
		config.BootstrapServers,
		config.GroupID,
		saramaConfig,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	logger.Info("kafka consumer created",
		"group_id", config.GroupID,
		"bootstrap_servers", config.BootstrapServers,
		"session_timeout_ms", config.SessionTimeoutMS,
		"max_poll_interval_ms", config.MaxPollIntervalMS,
	)

	return newSaramaConsumer(consumerGroup, config, logger, metrics), nil
}

func newSaramaConsumer(
	group sarama.ConsumerGroup,
	config ConsumerConfig,
	logger *slog.Logger,
	metrics MetricsCollector,
) *SaramaConsumer {
	return &SaramaConsumer{
		consumerGroup: group,
		config:        config,
		logger:        logger.With("component", "kafka_consumer"),
		metrics:       metrics,
		ready:         make(chan bool),
	}
}

func newConsumerConfig(config ConsumerConfig) (*sarama.Config, error) {
	saramaConfig := sarama.NewConfig()

	saramaConfig.Version = sarama.V2_8_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{
		sarama.NewBalanceStrategyRoundRobin(),
	}
	saramaConfig.Consumer.Offsets.Initial = offsetInitial(config.AutoOffsetReset)
	saramaConfig.Consumer.Offsets.AutoCommit.Enable = true

	// session_timeout_ms should be between 6000-300000 (6s-5min)
	if config.SessionTimeoutMS > 0 {
		saramaConfig.Consumer.Group.Session.Timeout = msDuration(config.SessionTimeoutMS)
	}
	if config.HeartbeatIntervalMS > 0 {
		saramaConfig.Consumer.Group.Heartbeat.Interval = msDuration(config.HeartbeatIntervalMS)
	}

	if config.MaxPollIntervalMS > 0 {
		saramaConfig.Consumer.MaxProcessingTime = msDuration(config.MaxPollIntervalMS)
	} else {
		saramaConfig.Consumer.MaxProcessingTime = 5 * time.Minute
	}

	saramaConfig.Consumer.Return.Errors = true

	if err := configureSecurity(saramaConfig, config.SecurityConfig); err != nil {
		return nil, fmt.Errorf("failed to configure security: %w", err)
	}
	return saramaConfig, nil
}

// Subscribe subscribes to the specified topics.
func (c *SaramaConsumer) Subscribe(ctx context.Context, topics []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.ErrConsumerClosed
	}

	c.topics = topics
	c.logger.Info("subscribed to topics", "topics", topics)
	return nil
}

// Consume starts consuming messages and returns channels for events and errors.
// It blocks until the first session is set up or ctx ends.
func (c *SaramaConsumer) Consume(ctx context.Context) (<-chan *message.ConsumedEvent, <-chan error, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, nil, errors.ErrConsumerClosed
	}
	topics := c.topics
	c.mu.RUnlock()

	eventChan := make(chan *message.ConsumedEvent, 100)
	errorChan := make(chan error, 10)

	handler := &consumerGroupHandler{
		consumer:  c,
		eventChan: eventChan,
		errorChan: errorChan,
		ready:     c.ready,
	}

	go func() {
		defer close(eventChan)
		defer close(errorChan)

		for {
			// Consume returns on every rebalance and must be called again
			if err := c.consumerGroup.Consume(ctx, topics, handler); err != nil {
				c.logger.Error("consumer group error", "error", err)
				errorChan <- err
				return
			}
			if ctx.Err() != nil {
				c.logger.Info("consumer context cancelled")
				return
			}
		}
	}()

	select {
	case <-c.ready:
	case <-ctx.Done():
		return eventChan, errorChan, ctx.Err()
	}

	c.logger.Info("kafka consumer started and ready")
	return eventChan, errorChan, nil
}

// Commit marks the event's offset as processed.
func (c *SaramaConsumer) Commit(ctx context.Context, event *message.ConsumedEvent) error {
	startTime := time.Now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return errors.ErrConsumerClosed
	}

	status := "success"
	var err error
	if event.CommitFunc != nil {
		err = event.CommitFunc()
	}
	if err != nil {
		status = "failure"
	}

	if c.metrics != nil {
		c.metrics.ObserveCommitLatency(
			event.Metadata.Topic,
			event.Metadata.Partition,
			time.Since(startTime).Seconds(),
		)
		c.metrics.IncOffsetCommits(event.Metadata.Topic, event.Metadata.Partition, status)
	}

	if err != nil {
		return fmt.Errorf("failed to commit offset %d on %s/%d: %w",
			event.Metadata.Offset, event.Metadata.Topic, event.Metadata.Partition, err)
	}
	return nil
}

// Close closes the consumer and releases resources.
func (c *SaramaConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.logger.Info("closing kafka consumer")

	if err := c.consumerGroup.Close(); err != nil {
		c.logger.Error("error closing consumer group", "error", err)
		return err
	}

	c.logger.Info("kafka consumer closed")
	return nil
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler.
type consumerGroupHandler struct {
	consumer       *SaramaConsumer
	eventChan      chan<- *message.ConsumedEvent
	errorChan      chan<- error
	ready          chan bool
	readyOnce      sync.Once
	rebalanceStart time.Time
}

// Setup is run at the beginning of a new session, before ConsumeClaim.
func (h *consumerGroupHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.rebalanceStart = time.Now()

	h.consumer.logger.Info("consumer group session setup",
		"member_id", session.MemberID(),
		"generation_id", session.GenerationID(),
		"claims", session.Claims(),
	)

	if h.consumer.metrics != nil {
		h.consumer.metrics.IncRebalances(h.consumer.config.GroupID)

		for topic, partitions := range session.Claims() {
			h.consumer.metrics.SetPartitionsAssigned(topic, float64(len(partitions)))
		}
	}

	h.readyOnce.Do(func() {
		close(h.ready)
	})
	return nil
}

// Cleanup is run at the end of a session, once all ConsumeClaim goroutines have exited.
func (h *consumerGroupHandler) Cleanup(session sarama.ConsumerGroupSession) error {
	if h.consumer.metrics != nil && !h.rebalanceStart.IsZero() {
		h.consumer.metrics.ObserveRebalanceDuration(
			h.consumer.config.GroupID,
			time.Since(h.rebalanceStart).Seconds(),
		)
	}

	h.consumer.logger.Info("consumer group session cleanup",
		"member_id", session.MemberID(),
	)
	return nil
}

// ConsumeClaim processes messages from a partition.
func (h *consumerGroupHandler) ConsumeClaim(
	session sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim,
) error {
	h.consumer.logger.Info("started consuming partition",
		"topic", claim.Topic(),
		"partition", claim.Partition(),
		"initial_offset", claim.InitialOffset(),
	)

	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok || msg == nil {
				return nil
			}

			h.consumer.logger.Debug("received kafka message",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"value_size", len(msg.Value),
			)

			consumed, err := toConsumedEvent(msg)
			if err != nil {
				h.consumer.logger.Error("failed to parse cloud event",
					"error", err,
					"topic", msg.Topic,
					"partition", msg.Partition,
					"offset", msg.Offset,
				)
				// Poison records are skipped so the partition keeps moving
				session.MarkMessage(msg, "")
				select {
				case h.errorChan <- err:
				default:
				}
				continue
			}

			consumed.CommitFunc = func() error {
				session.MarkMessage(msg, "")
				return nil
			}

			select {
			case h.eventChan <- consumed:
				if h.consumer.metrics != nil {
					h.consumer.metrics.IncMessagesConsumed(msg.Topic, msg.Partition)
				}
			case <-session.Context().Done():
				return nil
			}

		case <-session.Context().Done():
			h.consumer.logger.Info("session context done, stopping partition consumption",
				"topic", claim.Topic(),
				"partition", claim.Partition(),
			)
			return nil
		}
	}
}

// toConsumedEvent parses a Kafka record into a consumed event without a commit func.
func toConsumedEvent(msg *sarama.ConsumerMessage) (*message.ConsumedEvent, error) {
	cloudEvent, err := parseCloudEvent(msg.Value)
	if err != nil {
		return nil, err
	}

	return &message.ConsumedEvent{
		Event: cloudEvent,
		Metadata: message.KafkaMetadata{
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
			Key:       msg.Key,
			Timestamp: msg.Timestamp,
			Headers:   extractHeaders(msg.Headers),
		},
	}, nil
}

// parseCloudEvent parses a record value into a CloudEvent.
// Legacy 0.1 events are normalized to 1.0.
func parseCloudEvent(value []byte) (*message.CloudEvent, error) {
	var cloudEvent message.CloudEvent

	if err := json.Unmarshal(value, &cloudEvent); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cloud event: %w", err)
	}

	if cloudEvent.SpecVersion == "0.1" {
		cloudEvent.SpecVersion = "1.0"
	}

	return &cloudEvent, nil
}

func extractHeaders(headers []*sarama.RecordHeader) map[string]string {
	result := make(map[string]string, len(headers))
	for _, header := range headers {
		if header == nil {
			continue
		}
		result[string(header.Key)] = string(header.Value)
	}
	return result
}

// offsetInitial converts the AutoOffsetReset config to Sarama's offset constant.
func offsetInitial(autoOffsetReset string) int64 {
	switch autoOffsetReset {
	case "earliest":
		return sarama.OffsetOldest
	default:
		return sarama.OffsetNewest
	}
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
