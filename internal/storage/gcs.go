package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/jittakal/convbuffer/internal/encoder"
	"github.com/jittakal/convbuffer/pkg/message"
	pkgstorage "github.com/jittakal/convbuffer/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ pkgstorage.Writer = (*GCSWriter)(nil)

// GCSConfig contains Google Cloud Storage configuration.
type GCSConfig struct {
	Bucket               string
	ProjectID            string
	CredentialsFile      string
	CredentialsJSON      string
	Endpoint             string
	UseDefaultCredential bool
}

// clientOptions resolves the authentication options for the GCS client.
// Explicit JSON credentials win over a credentials file; with neither,
// application default credentials are used.
func (c GCSConfig) clientOptions() []option.ClientOption {
	var opts []option.ClientOption
	if c.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.Endpoint))
	}

	switch {
	case c.UseDefaultCredential:
	case c.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(c.CredentialsJSON)))
	case c.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(c.CredentialsFile))
	}
	return opts
}

// objectStore opens writers for GCS objects.
type objectStore interface {
	NewWriter(ctx context.Context, bucket, object, contentType string) io.WriteCloser
	Close() error
}

type gcsClient struct {
	client *storage.Client
}

func (c gcsClient) NewWriter(ctx context.Context, bucket, object, contentType string) io.WriteCloser {
	w := c.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	return w
}

func (c gcsClient) Close() error {
	return c.client.Close()
}

// GCSWriter implements storage.Writer for Google Cloud Storage.
type GCSWriter struct {
	store          objectStore
	bucket         string
	encoderFactory *encoder.Factory
	logger         *slog.Logger
	metrics        MetricsCollector
	mu             sync.Mutex
}

// NewGCSWriter creates a new Google Cloud Storage writer.
func NewGCSWriter(
	cfg GCSConfig,
	format message.FileFormat,
	compression string,
	logger *slog.Logger,
	metrics MetricsCollector,
) (*GCSWriter, error) {
	client, err := storage.NewClient(context.Background(), cfg.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return newGCSWriter(gcsClient{client: client}, cfg, format, compression, logger, metrics)
}

func newGCSWriter(
	store objectStore,
	cfg GCSConfig,
	format message.FileFormat,
	compression string,
	logger *slog.Logger,
	metrics MetricsCollector,
) (*GCSWriter, error) {
	encoderFactory := encoder.NewFactory(format, compression)
	if _, err := encoderFactory.CreateEncoder(); err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	logger.Info("GCS writer created",
		"bucket", cfg.Bucket,
		"project_id", cfg.ProjectID,
		"format", format,
		"compression", compression,
	)

	return &GCSWriter{
		store:          store,
		bucket:         cfg.Bucket,
		encoderFactory: encoderFactory,
		logger:         logger,
		metrics:        metrics,
	}, nil
}

// Write writes records to Google Cloud Storage.
func (w *GCSWriter) Write(
	ctx context.Context,
	records []message.Record,
	path string,
	format message.FileFormat,
) (int64, error) {
	if len(records) == 0 {
		return 0, fmt.Errorf("no records to write")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	startTime := time.Now()

	enc, err := w.encoderFactory.CreateEncoder()
	if err != nil {
		w.storageError("encoder_create")
		return 0, fmt.Errorf("failed to create encoder: %w", err)
	}

	objectPath := objectKey(path, "gs", enc.FileExtension(), startTime)

	file, stats, err := encodeToTemp(enc, records, "gcs-upload-*")
	if err != nil {
		w.storageError("encode")
		return 0, err
	}
	defer os.Remove(file.Name())
	defer file.Close()

	gcsWriter := w.store.NewWriter(ctx, w.bucket, objectPath, contentType(format))

	bytesWritten, err := io.Copy(gcsWriter, file)
	if err != nil {
		w.storageError("upload")
		gcsWriter.Close()
		return 0, fmt.Errorf("failed to write to GCS: %w", err)
	}

	// Close finalizes the upload.
	if err := gcsWriter.Close(); err != nil {
		w.storageError("close")
		return 0, fmt.Errorf("failed to close GCS writer: %w", err)
	}

	duration := time.Since(startTime)

	w.logger.Info("wrote records to GCS",
		"bucket", w.bucket,
		"object", objectPath,
		"record_count", stats.RecordCount,
		"file_size", stats.SizeBytes,
		"bytes_written", bytesWritten,
		"format", format,
		"total_duration_ms", duration.Milliseconds(),
	)

	if w.metrics != nil {
		w.metrics.IncFilesWritten(string(records[0].Reason), string(format), "success")
		w.metrics.ObserveFileSize(string(format), float64(stats.SizeBytes))
		w.metrics.ObserveStorageWriteDuration("gcs", duration.Seconds())
	}

	return stats.SizeBytes, nil
}

func (w *GCSWriter) storageError(operation string) {
	if w.metrics != nil {
		w.metrics.IncStorageErrors("gcs", operation)
	}
}

// Close closes the GCS writer.
func (w *GCSWriter) Close() error {
	w.logger.Info("closing GCS writer")
	if w.store != nil {
		return w.store.Close()
	}
	return nil
}
