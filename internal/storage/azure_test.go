package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/jittakal/convbuffer/pkg/message"
)

type fakeBlobUploader struct {
	container string
	blob      string
	body      []byte
	options   *azblob.UploadFileOptions
	err       error
}

func (f *fakeBlobUploader) UploadFile(ctx context.Context, containerName, blobName string, file *os.File, o *azblob.UploadFileOptions) (azblob.UploadFileResponse, error) {
	if f.err != nil {
		return azblob.UploadFileResponse{}, f.err
	}
	body, err := io.ReadAll(file)
	if err != nil {
		return azblob.UploadFileResponse{}, err
	}
	f.container, f.blob, f.body, f.options = containerName, blobName, body, o
	return azblob.UploadFileResponse{}, nil
}

func TestAzureConfig_ConnectionString(t *testing.T) {
	tests := []struct {
		name   string
		config AzureConfig
		want   string
	}{
		{
			name:   "public cloud",
			config: AzureConfig{AccountName: "acct", AccountKey: "a2V5"},
			want:   "DefaultEndpointsProtocol=https;AccountName=acct;AccountKey=a2V5;EndpointSuffix=core.windows.net",
		},
		{
			name:   "custom endpoint",
			config: AzureConfig{AccountName: "devstoreaccount1", AccountKey: "a2V5", Endpoint: "http://127.0.0.1:10000/devstoreaccount1"},
			want:   "DefaultEndpointsProtocol=https;AccountName=devstoreaccount1;AccountKey=a2V5;BlobEndpoint=http://127.0.0.1:10000/devstoreaccount1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.config.ConnectionString(); got != tt.want {
				t.Errorf("ConnectionString() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAzureWriter_Write(t *testing.T) {
	client := &fakeBlobUploader{}
	metrics := &mockMetricsCollector{}

	writer, err := newAzureWriter(client, AzureConfig{AccountName: "acct", ContainerName: "archive"}, message.FormatAvro, "gzip", discardLogger(), metrics)
	if err != nil {
		t.Fatalf("newAzureWriter() error = %v", err)
	}

	size, err := writer.Write(context.Background(), testRecords(), "wasbs://archive/convbuffer/dropped/", message.FormatAvro)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if client.container != "archive" {
		t.Errorf("container = %s, want archive", client.container)
	}
	if !strings.HasPrefix(client.blob, "convbuffer/dropped/dropped_") || !strings.HasSuffix(client.blob, ".avro.gz") {
		t.Errorf("blob = %s", client.blob)
	}
	if int64(len(client.body)) != size {
		t.Errorf("uploaded %d bytes, Write reported %d", len(client.body), size)
	}
	if got := *client.options.HTTPHeaders.BlobContentType; got != "application/avro" {
		t.Errorf("content type = %s", got)
	}
	if got := *client.options.Metadata["drop_reason"]; got != "abandoned" {
		t.Errorf("drop_reason metadata = %s", got)
	}
	if got := *client.options.Metadata["record_count"]; got != "2" {
		t.Errorf("record_count metadata = %s", got)
	}
	if metrics.filesWritten != 1 || metrics.lastDurationLabel != "azure" {
		t.Errorf("metrics = %+v", metrics)
	}
}

func TestAzureWriter_UploadError(t *testing.T) {
	metrics := &mockMetricsCollector{}
	writer, err := newAzureWriter(&fakeBlobUploader{err: errors.New("403")}, AzureConfig{ContainerName: "c"}, message.FormatParquet, "", discardLogger(), metrics)
	if err != nil {
		t.Fatalf("newAzureWriter() error = %v", err)
	}

	if _, err := writer.Write(context.Background(), testRecords(), "p/", message.FormatParquet); err == nil {
		t.Fatal("expected upload error")
	}
	if metrics.lastErrorBackend != "azure" || metrics.lastErrorOperation != "upload" {
		t.Errorf("metrics = %+v", metrics)
	}
}

func TestAzureWriter_Close(t *testing.T) {
	writer, err := newAzureWriter(&fakeBlobUploader{}, AzureConfig{ContainerName: "c"}, message.FormatParquet, "", discardLogger(), nil)
	if err != nil {
		t.Fatalf("newAzureWriter() error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
