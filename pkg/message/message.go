package message

import (
	"encoding/json"
	"strings"
	"time"
)

// Key identifies a conversation: instance ID and counterpart ID joined by ":".
type Key string

// NewKey builds the conversation key for an instance and counterpart.
func NewKey(instanceID, counterpartID string) Key {
	return Key(instanceID + ":" + counterpartID)
}

// String returns the key as a plain string.
func (k Key) String() string {
	return string(k)
}

// Parts splits the key back into instance ID and counterpart ID.
// The instance ID never contains ":", the counterpart ID may.
func (k Key) Parts() (instanceID, counterpartID string) {
	instanceID, counterpartID, _ = strings.Cut(string(k), ":")
	return instanceID, counterpartID
}

// BufferedMessage is an inbound message waiting to be grouped with its
// neighbours. It is treated as immutable once buffered.
type BufferedMessage struct {
	ID            string          `json:"id"`
	InstanceID    string          `json:"instance_id"`
	CounterpartID string          `json:"counterpart_id"`
	Text          string          `json:"text,omitempty"`
	ImageURL      string          `json:"image_url,omitempty"`
	ReceivedAt    time.Time       `json:"received_at"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// Key returns the conversation key of the message.
func (m BufferedMessage) Key() Key {
	return NewKey(m.InstanceID, m.CounterpartID)
}

// HasText reports whether the message carries non-blank text.
func (m BufferedMessage) HasText() bool {
	return strings.TrimSpace(m.Text) != ""
}

// HasImage reports whether the message carries an image reference.
func (m BufferedMessage) HasImage() bool {
	return strings.TrimSpace(m.ImageURL) != ""
}

// EstimateSize estimates the in-memory footprint of the message in bytes.
func (m BufferedMessage) EstimateSize() int {
	const overhead = 96 // struct header, time.Time, slice and string headers

	return overhead +
		len(m.ID) +
		len(m.InstanceID) +
		len(m.CounterpartID) +
		len(m.Text) +
		len(m.ImageURL) +
		len(m.Payload)
}

// Batch is a group of messages of one conversation handed to downstream
// processing in a single unit.
type Batch struct {
	ID            string            `json:"id"`
	Key           Key               `json:"key"`
	InstanceID    string            `json:"instance_id"`
	CounterpartID string            `json:"counterpart_id"`
	Attempt       int               `json:"attempt"`
	FirstAt       time.Time         `json:"first_at"`
	LastAt        time.Time         `json:"last_at"`
	CombinedText  string            `json:"combined_text,omitempty"`
	ImageURLs     []string          `json:"image_urls,omitempty"`
	Messages      []BufferedMessage `json:"messages"`
}

// NewBatch builds a batch from messages in arrival order.
// CombinedText joins the non-blank texts with newlines.
func NewBatch(id string, key Key, messages []BufferedMessage, attempt int) Batch {
	instanceID, counterpartID := key.Parts()
	b := Batch{
		ID:            id,
		Key:           key,
		InstanceID:    instanceID,
		CounterpartID: counterpartID,
		Attempt:       attempt,
		Messages:      messages,
	}
	if len(messages) == 0 {
		return b
	}

	b.FirstAt = messages[0].ReceivedAt
	b.LastAt = messages[len(messages)-1].ReceivedAt

	texts := make([]string, 0, len(messages))
	for _, m := range messages {
		if m.HasText() {
			texts = append(texts, strings.TrimSpace(m.Text))
		}
		if m.HasImage() {
			b.ImageURLs = append(b.ImageURLs, m.ImageURL)
		}
	}
	b.CombinedText = strings.Join(texts, "\n")

	return b
}

// DropReason says why the buffer discarded messages without processing them.
type DropReason string

const (
	// DropAbandoned means every processing attempt failed.
	DropAbandoned DropReason = "abandoned"
	// DropStuck means an attempt never resolved and no attempts were left.
	DropStuck DropReason = "stuck"
	// DropEmergencyEviction means the conversation was inactive for too long.
	DropEmergencyEviction DropReason = "emergency_eviction"
	// DropLifetime means the buffer outlived its absolute lifetime.
	DropLifetime DropReason = "lifetime"
	// DropShutdown means the manager was destroyed with the buffer pending.
	DropShutdown DropReason = "shutdown"
)

// DroppedBatch describes messages discarded by the buffer.
type DroppedBatch struct {
	Key       Key               `json:"key"`
	Reason    DropReason        `json:"reason"`
	Attempts  int               `json:"attempts"`
	LastError string            `json:"last_error,omitempty"`
	DroppedAt time.Time         `json:"dropped_at"`
	Messages  []BufferedMessage `json:"messages"`
}

// Records flattens the dropped batch into one archive record per message.
func (d DroppedBatch) Records() []Record {
	records := make([]Record, 0, len(d.Messages))
	for _, m := range d.Messages {
		records = append(records, Record{
			Message:   m,
			Key:       d.Key,
			Reason:    d.Reason,
			Attempts:  d.Attempts,
			LastError: d.LastError,
			DroppedAt: d.DroppedAt,
		})
	}
	return records
}

// Record is one dropped message ready for archival.
type Record struct {
	Message   BufferedMessage
	Key       Key
	Reason    DropReason
	Attempts  int
	LastError string
	DroppedAt time.Time
}

// FileStats contains statistics about an encoded archive file.
type FileStats struct {
	RecordCount    int
	SizeBytes      int64
	FirstWriteTime time.Time
	LastWriteTime  time.Time
}

// FileFormat represents the archive file format.
type FileFormat string

const (
	FormatParquet FileFormat = "parquet"
	FormatAvro    FileFormat = "avro"
)
