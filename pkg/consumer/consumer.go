// Package consumer defines interfaces for the Kafka edges of the service:
// consuming inbound messages and publishing batches and dropped messages.
package consumer

import (
	"context"

	"github.com/jittakal/convbuffer/pkg/message"
)

// Consumer reads inbound message events from Kafka topics.
type Consumer interface {
	// Subscribe subscribes to one or more topics.
	Subscribe(ctx context.Context, topics []string) error

	// Consume starts consuming messages from subscribed topics.
	// Returns channels for events and errors.
	Consume(ctx context.Context) (<-chan *message.ConsumedEvent, <-chan error, error)

	// Commit marks the event's offset as processed.
	Commit(ctx context.Context, event *message.ConsumedEvent) error

	// Close closes the consumer and releases resources.
	Close() error
}

// BatchPublisher delivers a conversation's buffered messages downstream.
// Publish has the shape of a buffer flush callback.
type BatchPublisher interface {
	Publish(ctx context.Context, messages []message.BufferedMessage) error

	// Close closes the publisher and releases resources.
	Close() error
}

// DLQPublisher publishes batches the buffer gave up on to a dead letter queue.
type DLQPublisher interface {
	// Publish sends a dropped batch to the DLQ.
	Publish(ctx context.Context, batch message.DroppedBatch) error

	// Close closes the publisher and releases resources.
	Close() error
}
