package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	apperrors "github.com/jittakal/convbuffer/internal/errors"
	pkgbuffer "github.com/jittakal/convbuffer/pkg/buffer"
	"github.com/jittakal/convbuffer/pkg/message"
)

type publishRecorder struct {
	mu       sync.Mutex
	statuses []string
}

func (r *publishRecorder) ObservePublish(_, status string, _ float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func conversation(n int) []message.BufferedMessage {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	msgs := make([]message.BufferedMessage, n)
	for i := range msgs {
		msgs[i] = message.BufferedMessage{
			ID:            fmt.Sprintf("wamid.%d", i+1),
			InstanceID:    "inst-1",
			CounterpartID: "5511999990000",
			Text:          fmt.Sprintf("part %d", i+1),
			ReceivedAt:    base.Add(time.Duration(i) * time.Second),
		}
	}
	return msgs
}

func TestBatchPublisher_Publish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	rec := &publishRecorder{}
	p := newBatchPublisher(producer, PublisherConfig{Topic: "whatsapp.batches"}, discardLogger(), rec)
	defer p.Close()

	var captured *sarama.ProducerMessage
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		captured = msg
		return nil
	})

	ctx := pkgbuffer.WithAttempt(context.Background(), 2)
	if err := p.Publish(ctx, conversation(3)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if captured.Topic != "whatsapp.batches" {
		t.Errorf("Topic = %s", captured.Topic)
	}
	key, _ := captured.Key.Encode()
	if string(key) != "inst-1:5511999990000" {
		t.Errorf("record key = %s, want conversation key", key)
	}

	value, _ := captured.Value.Encode()
	event := cloudevents.NewEvent()
	if err := json.Unmarshal(value, &event); err != nil {
		t.Fatalf("record is not a CloudEvent: %v", err)
	}
	if event.Type() != EventTypeConversationBatch {
		t.Errorf("event type = %s", event.Type())
	}
	if event.Subject() != "inst-1:5511999990000" {
		t.Errorf("event subject = %s", event.Subject())
	}
	if event.Source() != "convbuffer" {
		t.Errorf("event source = %s, want default convbuffer", event.Source())
	}

	var batch message.Batch
	if err := event.DataAs(&batch); err != nil {
		t.Fatalf("DataAs() error = %v", err)
	}
	if batch.ID != event.ID() {
		t.Errorf("batch ID %s differs from event ID %s", batch.ID, event.ID())
	}
	if batch.Attempt != 2 {
		t.Errorf("Attempt = %d, want 2", batch.Attempt)
	}
	if len(batch.Messages) != 3 || batch.CombinedText != "part 1\npart 2\npart 3" {
		t.Errorf("batch = %d messages, text %q", len(batch.Messages), batch.CombinedText)
	}

	if len(rec.statuses) != 1 || rec.statuses[0] != "success" {
		t.Errorf("publish metrics = %v, want [success]", rec.statuses)
	}
}

func TestBatchPublisher_PublishFailureIsRetryable(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	rec := &publishRecorder{}
	p := newBatchPublisher(producer, PublisherConfig{Topic: "whatsapp.batches"}, discardLogger(), rec)
	defer p.Close()

	producer.ExpectSendMessageAndFail(sarama.ErrNotEnoughReplicas)

	err := p.Publish(context.Background(), conversation(1))
	if !errors.Is(err, sarama.ErrNotEnoughReplicas) {
		t.Fatalf("Publish() error = %v, want ErrNotEnoughReplicas", err)
	}
	if !apperrors.IsRetryable(err) {
		t.Error("broker failure should be retryable")
	}
	if len(rec.statuses) != 1 || rec.statuses[0] != "failure" {
		t.Errorf("publish metrics = %v, want [failure]", rec.statuses)
	}
}

func TestBatchPublisher_EdgeCases(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	p := newBatchPublisher(producer, PublisherConfig{Topic: "whatsapp.batches", Source: "test"}, discardLogger(), nil)

	if err := p.Publish(context.Background(), nil); err != nil {
		t.Errorf("empty batch error = %v, want nil", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Publish(ctx, conversation(1)); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled publish error = %v, want context.Canceled", err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	err := p.Publish(context.Background(), conversation(1))
	if !errors.Is(err, apperrors.ErrPublisherClosed) {
		t.Fatalf("publish after close = %v, want ErrPublisherClosed", err)
	}
	if apperrors.IsRetryable(err) {
		t.Error("closed publisher should not be retried")
	}
	if p.Topic() != "whatsapp.batches" {
		t.Errorf("Topic() = %s", p.Topic())
	}
}
