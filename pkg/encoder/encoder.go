// Package encoder defines interfaces for encoding dropped messages to archive file formats.
package encoder

import "github.com/jittakal/convbuffer/pkg/message"

// Encoder encodes records to a specific file format.
type Encoder interface {
	// Encode writes records to a file and returns file statistics.
	Encode(filePath string, records []message.Record) (*message.FileStats, error)

	// Format returns the file format this encoder produces.
	Format() message.FileFormat

	// FileExtension returns the file extension (e.g., ".parquet", ".avro").
	FileExtension() string
}
