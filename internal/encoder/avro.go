package encoder

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/linkedin/goavro/v2"

	"github.com/jittakal/convbuffer/pkg/encoder"
	"github.com/jittakal/convbuffer/pkg/message"
)

// Ensure implementation satisfies interface at compile time.
var _ encoder.Encoder = (*AvroEncoder)(nil)

// AvroEncoder implements encoder.Encoder for Apache Avro OCF (Object
// Container File) output, optionally gzip compressed.
type AvroEncoder struct {
	codec       *goavro.Codec
	compression string
}

// NewAvroEncoder creates a new Avro encoder with specified compression.
func NewAvroEncoder(compression string) (*AvroEncoder, error) {
	codec, err := goavro.NewCodec(avroSchema())
	if err != nil {
		return nil, fmt.Errorf("failed to create avro codec: %w", err)
	}

	return &AvroEncoder{
		codec:       codec,
		compression: compression,
	}, nil
}

// avroSchema returns the Avro schema for archived messages.
func avroSchema() string {
	return `{
		"type": "record",
		"name": "DroppedMessage",
		"namespace": "com.convbuffer.archive",
		"fields": [
			{"name": "message_id", "type": "string"},
			{"name": "instance_id", "type": "string"},
			{"name": "counterpart_id", "type": "string"},
			{"name": "conversation_key", "type": "string"},
			{"name": "text", "type": ["null", "string"], "default": null},
			{"name": "image_url", "type": ["null", "string"], "default": null},
			{"name": "payload", "type": ["null", "string"], "default": null},
			{"name": "received_at", "type": "string"},
			{"name": "drop_reason", "type": "string"},
			{"name": "attempts", "type": "int"},
			{"name": "last_error", "type": ["null", "string"], "default": null},
			{"name": "dropped_at", "type": "string"}
		]
	}`
}

func (e *AvroEncoder) gzipped() bool {
	return e.compression == "gzip" || e.compression == "GZIP"
}

// Encode writes records to an Avro file.
func (e *AvroEncoder) Encode(filePath string, records []message.Record) (*message.FileStats, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no records to encode")
	}

	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	if err := e.write(file, records); err != nil {
		file.Close()
		return nil, err
	}

	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}

	return fileStats(filePath, records)
}

// EncodeToBytes encodes records to an in-memory OCF.
func (e *AvroEncoder) EncodeToBytes(records []message.Record) ([]byte, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no records to encode")
	}

	var buf bytes.Buffer
	if err := e.write(&buf, records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *AvroEncoder) write(w io.Writer, records []message.Record) error {
	var gzipWriter *gzip.Writer
	if e.gzipped() {
		gzipWriter = gzip.NewWriter(w)
		w = gzipWriter
	}

	ocfWriter, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:     w,
		Codec: e.codec,
	})
	if err != nil {
		return fmt.Errorf("failed to create OCF writer: %w", err)
	}

	batch := make([]interface{}, 0, len(records))
	for _, record := range records {
		batch = append(batch, toAvroMap(record))
	}
	if err := ocfWriter.Append(batch); err != nil {
		return fmt.Errorf("failed to write records: %w", err)
	}

	if gzipWriter != nil {
		if err := gzipWriter.Close(); err != nil {
			return fmt.Errorf("failed to close gzip writer: %w", err)
		}
	}
	return nil
}

// toAvroMap converts a Record to its Avro map representation.
func toAvroMap(record message.Record) map[string]interface{} {
	return map[string]interface{}{
		"message_id":       record.Message.ID,
		"instance_id":      record.Message.InstanceID,
		"counterpart_id":   record.Message.CounterpartID,
		"conversation_key": record.Key.String(),
		"text":             avroOptional(record.Message.Text),
		"image_url":        avroOptional(record.Message.ImageURL),
		"payload":          avroOptional(string(record.Message.Payload)),
		"received_at":      record.Message.ReceivedAt.UTC().Format(time.RFC3339Nano),
		"drop_reason":      string(record.Reason),
		"attempts":         int32(record.Attempts),
		"last_error":       avroOptional(record.LastError),
		"dropped_at":       record.DroppedAt.UTC().Format(time.RFC3339Nano),
	}
}

// avroOptional encodes a nullable string union.
func avroOptional(s string) interface{} {
	if s == "" {
		return nil
	}
	return goavro.Union("string", s)
}

// Format returns the file format.
func (e *AvroEncoder) Format() message.FileFormat {
	return message.FormatAvro
}

// FileExtension returns the file extension.
func (e *AvroEncoder) FileExtension() string {
	if e.gzipped() {
		return ".avro.gz"
	}
	return ".avro"
}
