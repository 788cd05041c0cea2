// Package storage defines interfaces for archive storage operations.
//
// Messages the buffer gives up on are encoded and written to one of
// several storage backends (S3, Azure Blob, GCS, local filesystem).
package storage

import (
	"context"
	"time"

	"github.com/jittakal/convbuffer/pkg/message"
)

// Writer writes archive records to storage.
type Writer interface {
	// Write writes records as a single file under the given directory path.
	// Returns the number of bytes written.
	Write(ctx context.Context, records []message.Record, path string, format message.FileFormat) (int64, error)

	// Close closes the writer and releases resources.
	Close() error
}

// Router determines storage paths for dropped batches.
type Router interface {
	// Route returns the directory a dropped batch is archived under.
	Route(reason message.DropReason, instanceID string, droppedAt time.Time) string
}
