package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jittakal/convbuffer/internal/encoder"
	"github.com/jittakal/convbuffer/pkg/message"
	"github.com/jittakal/convbuffer/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.Writer = (*FileWriter)(nil)

// MetricsCollector defines metrics operations for storage.
type MetricsCollector interface {
	IncFilesWritten(reason, format, status string)
	ObserveFileSize(format string, size float64)
	ObserveStorageWriteDuration(backend string, duration float64)
	IncStorageErrors(backend string, operation string)
}

// FileConfig contains local filesystem configuration.
type FileConfig struct {
	BasePath string
}

// FileWriter implements storage.Writer for local filesystem storage.
// Files are organized in the directory layout produced by the router.
type FileWriter struct {
	basePath       string
	encoderFactory *encoder.Factory
	logger         *slog.Logger
	metrics        MetricsCollector
	mu             sync.Mutex
}

// NewFileWriter creates a new filesystem storage writer.
func NewFileWriter(
	config FileConfig,
	format message.FileFormat,
	compression string,
	logger *slog.Logger,
	metrics MetricsCollector,
) (*FileWriter, error) {
	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	encoderFactory := encoder.NewFactory(format, compression)
	if _, err := encoderFactory.CreateEncoder(); err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	logger.Info("filesystem writer created",
		"base_path", config.BasePath,
		"format", format,
		"compression", compression,
	)

	return &FileWriter{
		basePath:       config.BasePath,
		encoderFactory: encoderFactory,
		logger:         logger,
		metrics:        metrics,
	}, nil
}

// Write writes records to the filesystem.
func (w *FileWriter) Write(
	ctx context.Context,
	records []message.Record,
	path string,
	format message.FileFormat,
) (int64, error) {
	if len(records) == 0 {
		return 0, fmt.Errorf("no records to write")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	startTime := time.Now()

	fileEncoder, err := w.encoderFactory.CreateEncoder()
	if err != nil {
		w.storageError("encoder_create")
		return 0, fmt.Errorf("failed to create encoder: %w", err)
	}

	fullPath := filepath.Join(w.basePath, filepath.FromSlash(objectKey(path, "file", fileEncoder.FileExtension(), startTime)))

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		w.storageError("mkdir")
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}

	stats, err := fileEncoder.Encode(fullPath, records)
	if err != nil {
		w.storageError("encode")
		return 0, fmt.Errorf("failed to encode records: %w", err)
	}

	duration := time.Since(startTime)

	w.logger.Info("wrote records to file",
		"path", fullPath,
		"record_count", stats.RecordCount,
		"file_size", stats.SizeBytes,
		"format", format,
		"total_duration_ms", duration.Milliseconds(),
	)

	if w.metrics != nil {
		w.metrics.IncFilesWritten(string(records[0].Reason), string(format), "success")
		w.metrics.ObserveFileSize(string(format), float64(stats.SizeBytes))
		w.metrics.ObserveStorageWriteDuration("file", duration.Seconds())
	}

	return stats.SizeBytes, nil
}

func (w *FileWriter) storageError(operation string) {
	if w.metrics != nil {
		w.metrics.IncStorageErrors("file", operation)
	}
}

// Close closes the writer.
func (w *FileWriter) Close() error {
	w.logger.Info("closing filesystem writer")
	return nil
}
