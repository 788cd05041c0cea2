package message

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventTypeMessageReceived is the CloudEvent type the webhook relay emits
// for every inbound WhatsApp message.
const EventTypeMessageReceived = "com.whatsapp.message.received"

// CloudEvent represents a CloudEvents 1.0 event as relayed over Kafka.
// See https://github.com/cloudevents/spec/blob/v1.0/spec.md
type CloudEvent struct {
	// Required attributes
	ID          string `json:"id"`
	Source      string `json:"source"`
	SpecVersion string `json:"specversion"`
	Type        string `json:"type"`

	// Optional attributes
	DataContentType *string    `json:"datacontenttype,omitempty"`
	Subject         *string    `json:"subject,omitempty"`
	Time            *time.Time `json:"time,omitempty"`

	Data json.RawMessage `json:"data,omitempty"`
}

// InboundData is the data payload of a message-received event, already
// normalized by the webhook relay.
type InboundData struct {
	InstanceID string          `json:"instance_id"`
	From       string          `json:"from"`
	MessageID  string          `json:"message_id"`
	Text       string          `json:"text,omitempty"`
	ImageURL   string          `json:"image_url,omitempty"`
	Timestamp  *time.Time      `json:"timestamp,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// KafkaMetadata contains Kafka-specific metadata for a consumed event.
type KafkaMetadata struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Headers   map[string]string
	Timestamp time.Time
}

// ConsumedEvent represents an inbound event consumed from Kafka.
type ConsumedEvent struct {
	Event      *CloudEvent
	Metadata   KafkaMetadata
	CommitFunc func() error
}

// DecodeInbound unmarshals the event data into InboundData.
func (e *CloudEvent) DecodeInbound() (*InboundData, error) {
	if len(e.Data) == 0 {
		return nil, fmt.Errorf("event %s has no data", e.ID)
	}
	var data InboundData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message data: %w", err)
	}
	return &data, nil
}

// ToBufferedMessage converts relayed data into a BufferedMessage.
// The receive time falls back to the event time and then to fallback.
func (d *InboundData) ToBufferedMessage(e *CloudEvent, fallback time.Time) BufferedMessage {
	receivedAt := fallback
	switch {
	case d.Timestamp != nil && !d.Timestamp.IsZero():
		receivedAt = *d.Timestamp
	case e != nil && e.Time != nil:
		receivedAt = *e.Time
	}

	return BufferedMessage{
		ID:            d.MessageID,
		InstanceID:    strings.TrimSpace(d.InstanceID),
		CounterpartID: strings.TrimSpace(d.From),
		Text:          d.Text,
		ImageURL:      d.ImageURL,
		ReceivedAt:    receivedAt,
		Payload:       d.Payload,
	}
}
