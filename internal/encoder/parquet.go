// Package encoder implements file format encoders.
package encoder

import (
	"fmt"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/jittakal/convbuffer/pkg/encoder"
	"github.com/jittakal/convbuffer/pkg/message"
)

// Ensure implementation satisfies interface at compile time.
var _ encoder.Encoder = (*ParquetEncoder)(nil)

// DroppedMessageParquet is the Parquet schema of an archived message.
// Time columns are TIMESTAMP_MICROS for Athena compatibility.
type DroppedMessageParquet struct {
	MessageID       string    `parquet:"message_id"`
	InstanceID      string    `parquet:"instance_id,dict"`
	CounterpartID   string    `parquet:"counterpart_id,dict"`
	ConversationKey string    `parquet:"conversation_key,dict"`
	Text            *string   `parquet:"text,optional"`
	ImageURL        *string   `parquet:"image_url,optional"`
	Payload         *string   `parquet:"payload,optional"`
	ReceivedAt      time.Time `parquet:"received_at,timestamp(microsecond)"`

	// Drop metadata
	DropReason string    `parquet:"drop_reason,dict"`
	Attempts   int32     `parquet:"attempts"`
	LastError  *string   `parquet:"last_error,optional"`
	DroppedAt  time.Time `parquet:"dropped_at,timestamp(microsecond)"`
}

// ParquetEncoder implements encoder.Encoder for Apache Parquet columnar format.
// Supports SNAPPY (default), GZIP, LZ4, ZSTD and uncompressed output.
type ParquetEncoder struct {
	compressionName string
}

// NewParquetEncoder creates a new Parquet encoder with specified compression.
func NewParquetEncoder(compression string) *ParquetEncoder {
	return &ParquetEncoder{
		compressionName: compression,
	}
}

// compressionCodec converts string compression name to parquet WriterOption.
func compressionCodec(compression string) parquet.WriterOption {
	switch compression {
	case "gzip", "GZIP":
		return parquet.Compression(&parquet.Gzip)
	case "lz4", "LZ4":
		return parquet.Compression(&parquet.Lz4Raw)
	case "zstd", "ZSTD":
		return parquet.Compression(&parquet.Zstd)
	case "uncompressed", "UNCOMPRESSED", "none", "NONE":
		return parquet.Compression(&parquet.Uncompressed)
	default:
		return parquet.Compression(&parquet.Snappy)
	}
}

// Encode writes records to a Parquet file.
func (e *ParquetEncoder) Encode(filePath string, records []message.Record) (*message.FileStats, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no records to encode")
	}

	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	rows := make([]DroppedMessageParquet, len(records))
	for i, record := range records {
		rows[i] = toParquetRow(record)
	}

	writer := parquet.NewGenericWriter[DroppedMessageParquet](
		file,
		compressionCodec(e.compressionName),
		parquet.CreatedBy("convbuffer", "1.0", "0"),
	)

	if _, err := writer.Write(rows); err != nil {
		writer.Close()
		file.Close()
		return nil, fmt.Errorf("failed to write records: %w", err)
	}

	if err := writer.Close(); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}

	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}

	return fileStats(filePath, records)
}

func toParquetRow(record message.Record) DroppedMessageParquet {
	return DroppedMessageParquet{
		MessageID:       record.Message.ID,
		InstanceID:      record.Message.InstanceID,
		CounterpartID:   record.Message.CounterpartID,
		ConversationKey: record.Key.String(),
		Text:            optional(record.Message.Text),
		ImageURL:        optional(record.Message.ImageURL),
		Payload:         optional(string(record.Message.Payload)),
		ReceivedAt:      record.Message.ReceivedAt.UTC(),
		DropReason:      string(record.Reason),
		Attempts:        int32(record.Attempts),
		LastError:       optional(record.LastError),
		DroppedAt:       record.DroppedAt.UTC(),
	}
}

// optional maps empty strings to NULL.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// fileStats stats an encoded file. Write times span the dropped records.
func fileStats(filePath string, records []message.Record) (*message.FileStats, error) {
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	first, last := records[0].DroppedAt, records[0].DroppedAt
	for _, r := range records[1:] {
		if r.DroppedAt.Before(first) {
			first = r.DroppedAt
		}
		if r.DroppedAt.After(last) {
			last = r.DroppedAt
		}
	}

	return &message.FileStats{
		RecordCount:    len(records),
		SizeBytes:      fileInfo.Size(),
		FirstWriteTime: first,
		LastWriteTime:  last,
	}, nil
}

// Format returns the file format.
func (e *ParquetEncoder) Format() message.FileFormat {
	return message.FormatParquet
}

// FileExtension returns the file extension.
func (e *ParquetEncoder) FileExtension() string {
	return ".parquet"
}
