package storage

import (
	"fmt"
	"os"

	pkgencoder "github.com/jittakal/convbuffer/pkg/encoder"
	"github.com/jittakal/convbuffer/pkg/message"
)

// encodeToTemp encodes records into a temporary file and reopens it for
// upload. The caller closes and removes the returned file.
func encodeToTemp(enc pkgencoder.Encoder, records []message.Record, pattern string) (*os.File, *message.FileStats, error) {
	tmp, err := os.CreateTemp("", pattern+enc.FileExtension())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	name := tmp.Name()
	tmp.Close()

	stats, err := enc.Encode(name, records)
	if err != nil {
		os.Remove(name)
		return nil, nil, fmt.Errorf("failed to encode records: %w", err)
	}

	file, err := os.Open(name)
	if err != nil {
		os.Remove(name)
		return nil, nil, fmt.Errorf("failed to open encoded file: %w", err)
	}
	return file, stats, nil
}

func contentType(format message.FileFormat) string {
	if format == message.FormatAvro {
		return "application/avro"
	}
	return "application/octet-stream"
}
