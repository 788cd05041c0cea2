package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"

	"github.com/jittakal/convbuffer/internal/encoder"
	"github.com/jittakal/convbuffer/pkg/message"
	"github.com/jittakal/convbuffer/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.Writer = (*AzureWriter)(nil)

// AzureConfig contains Azure Blob Storage configuration.
type AzureConfig struct {
	AccountName   string
	AccountKey    string
	ContainerName string
	Endpoint      string
}

// ConnectionString builds the shared key connection string for the account.
func (c AzureConfig) ConnectionString() string {
	if c.Endpoint != "" {
		return fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;BlobEndpoint=%s",
			c.AccountName, c.AccountKey, c.Endpoint)
	}
	return fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;EndpointSuffix=core.windows.net",
		c.AccountName, c.AccountKey)
}

// blobUploader is the subset of azblob.Client used by AzureWriter.
type blobUploader interface {
	UploadFile(ctx context.Context, containerName, blobName string, file *os.File, o *azblob.UploadFileOptions) (azblob.UploadFileResponse, error)
}

// AzureWriter implements storage.Writer for Azure Blob Storage using
// shared key authentication.
type AzureWriter struct {
	client         blobUploader
	containerName  string
	encoderFactory *encoder.Factory
	logger         *slog.Logger
	metrics        MetricsCollector
	mu             sync.Mutex
}

// NewAzureWriter creates a new Azure Blob storage writer.
func NewAzureWriter(
	cfg AzureConfig,
	format message.FileFormat,
	compression string,
	logger *slog.Logger,
	metrics MetricsCollector,
) (*AzureWriter, error) {
	client, err := azblob.NewClientFromConnectionString(cfg.ConnectionString(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	return newAzureWriter(client, cfg, format, compression, logger, metrics)
}

func newAzureWriter(
	client blobUploader,
	cfg AzureConfig,
	format message.FileFormat,
	compression string,
	logger *slog.Logger,
	metrics MetricsCollector,
) (*AzureWriter, error) {
	encoderFactory := encoder.NewFactory(format, compression)
	if _, err := encoderFactory.CreateEncoder(); err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	logger.Info("Azure writer created",
		"container", cfg.ContainerName,
		"account", cfg.AccountName,
		"format", format,
		"compression", compression,
	)

	return &AzureWriter{
		client:         client,
		containerName:  cfg.ContainerName,
		encoderFactory: encoderFactory,
		logger:         logger,
		metrics:        metrics,
	}, nil
}

// Write writes records to Azure Blob Storage.
func (w *AzureWriter) Write(ctx context.Context, records []message.Record, path string, format message.FileFormat) (int64, error) {
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

	blobPath := objectKey(path, "wasbs", enc.FileExtension(), startTime)

	file, stats, err := encodeToTemp(enc, records, "azure-upload-*")
	if err != nil {
		w.storageError("encode")
		return 0, err
	}
	defer os.Remove(file.Name())
	defer file.Close()

	ct := contentType(format)
	_, err = w.client.UploadFile(ctx, w.containerName, blobPath, file, &azblob.UploadFileOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &ct},
		Metadata: map[string]*string{
			"drop_reason":  stringPtr(string(records[0].Reason)),
			"record_count": stringPtr(fmt.Sprintf("%d", stats.RecordCount)),
		},
	})
	if err != nil {
		w.storageError("upload")
		return 0, fmt.Errorf("failed to upload to Azure Blob: %w", err)
	}

	duration := time.Since(startTime)

	w.logger.Info("wrote records to Azure Blob",
		"container", w.containerName,
		"blob", blobPath,
		"record_count", stats.RecordCount,
		"file_size", stats.SizeBytes,
		"format", format,
		"total_duration_ms", duration.Milliseconds(),
	)

	if w.metrics != nil {
		w.metrics.IncFilesWritten(string(records[0].Reason), string(format), "success")
		w.metrics.ObserveFileSize(string(format), float64(stats.SizeBytes))
		w.metrics.ObserveStorageWriteDuration("azure", duration.Seconds())
	}

	return stats.SizeBytes, nil
}

func (w *AzureWriter) storageError(operation string) {
	if w.metrics != nil {
		w.metrics.IncStorageErrors("azure", operation)
	}
}

// Close closes the Azure writer.
func (w *AzureWriter) Close() error {
	w.logger.Info("Azure writer closed")
	return nil
}

func stringPtr(s string) *string {
	return &s
}
