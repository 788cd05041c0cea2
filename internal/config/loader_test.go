package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jittakal/convbuffer/internal/config/dto"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader()
	if loader == nil {
		t.Fatal("expected non-nil loader")
	}
	if loader.v == nil {
		t.Fatal("expected non-nil viper instance")
	}
}

func TestLoader_LoadWithValidConfig(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "test-config.yaml")

	configContent := `
application:
  name: test-app
  version: 1.0.0

kafka:
  bootstrap_servers:
    - localhost:9092
  security_protocol: PLAINTEXT
  consumer:
    group_id: test-group
    topics:
      - whatsapp.inbound
  publisher:
    topic: whatsapp.batches

buffer:
  debounce_interval_ms: 3000
  max_buffer_size: 20

archive:
  backend: file
  format: avro
  file:
    base_path: /tmp/test
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to create test config file: %v", err)
	}

	loader := NewLoader()
	config, err := loader.Load(configFile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if config.Application.Name != "test-app" {
		t.Errorf("Application.Name = %s, want test-app", config.Application.Name)
	}
	if config.Kafka.Consumer.GroupID != "test-group" {
		t.Errorf("Kafka.Consumer.GroupID = %s, want test-group", config.Kafka.Consumer.GroupID)
	}
	if config.Kafka.Publisher.Topic != "whatsapp.batches" {
		t.Errorf("Kafka.Publisher.Topic = %s, want whatsapp.batches", config.Kafka.Publisher.Topic)
	}
	if config.Archive.Format != "avro" {
		t.Errorf("Archive.Format = %s, want avro", config.Archive.Format)
	}

	core := config.Buffer.ToCore()
	if core.DebounceInterval != 3*time.Second {
		t.Errorf("DebounceInterval = %v, want 3s", core.DebounceInterval)
	}
	if core.MaxBufferSize != 20 {
		t.Errorf("MaxBufferSize = %d, want 20", core.MaxBufferSize)
	}
	// Untouched keys keep their defaults.
	if core.MaxInterMessageGap != 15*time.Second {
		t.Errorf("MaxInterMessageGap = %v, want 15s", core.MaxInterMessageGap)
	}
	if config.Shutdown.DrainTimeout() != 20*time.Second {
		t.Errorf("DrainTimeout = %v, want 20s", config.Shutdown.DrainTimeout())
	}
}

func TestLoader_LoadExpandsEnv(t *testing.T) {
	t.Setenv("TEST_KAFKA_PASSWORD", "s3cret")

	configFile := filepath.Join(t.TempDir(), "config.yaml")
	configContent := `
kafka:
  bootstrap_servers:
    - localhost:9092
  sasl_password: ${TEST_KAFKA_PASSWORD}
  consumer:
    group_id: test-group
    topics:
      - whatsapp.inbound
`
	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to create test config file: %v", err)
	}

	config, err := NewLoader().Load(configFile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if config.Kafka.SASLPassword != "s3cret" {
		t.Errorf("SASLPassword = %q, want s3cret", config.Kafka.SASLPassword)
	}
}

func TestLoader_LoadWithMissingFile(t *testing.T) {
	// Defaults alone lack bootstrap servers.
	if _, err := NewLoader().Load("/nonexistent/config.yaml"); err == nil {
		t.Error("expected validation error without bootstrap servers")
	}
}

func validConfig() *dto.ApplicationConfig {
	return &dto.ApplicationConfig{
		Kafka: dto.KafkaConfig{
			BootstrapServers: []string{"localhost:9092"},
			SecurityProtocol: "PLAINTEXT",
			Consumer: dto.ConsumerConfig{
				GroupID: "test-group",
				Topics:  []string{"whatsapp.inbound"},
			},
			Publisher: dto.PublisherConfig{
				Topic:        "whatsapp.batches",
				RequiredAcks: "all",
			},
			DLQ: dto.DLQConfig{Enabled: true, TopicSuffix: "-dlq"},
		},
		Buffer: dto.BufferConfig{
			DebounceIntervalMS: 5000,
			MaxBufferSize:      10,
		},
		Archive: dto.ArchiveConfig{
			Enabled:   true,
			Backend:   "file",
			Format:    "parquet",
			QueueSize: 16,
			Workers:   1,
			File:      dto.FileConfig{BasePath: "/tmp/test"},
		},
		Observability: dto.ObservabilityConfig{
			Metrics: dto.MetricsConfig{Port: 9090},
			Health:  dto.HealthConfig{Port: 8080},
		},
	}
}

func TestLoader_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*dto.ApplicationConfig)
		wantErr bool
	}{
		{"valid file backend config", func(*dto.ApplicationConfig) {}, false},
		{"archive disabled skips backend checks", func(c *dto.ApplicationConfig) {
			c.Archive = dto.ArchiveConfig{Enabled: false}
		}, false},
		{"missing bootstrap servers", func(c *dto.ApplicationConfig) {
			c.Kafka.BootstrapServers = nil
		}, true},
		{"unsupported security protocol", func(c *dto.ApplicationConfig) {
			c.Kafka.SecurityProtocol = "KERBEROS"
		}, true},
		{"missing consumer topics", func(c *dto.ApplicationConfig) {
			c.Kafka.Consumer.Topics = []string{}
		}, true},
		{"missing consumer group id", func(c *dto.ApplicationConfig) {
			c.Kafka.Consumer.GroupID = ""
		}, true},
		{"missing publisher topic", func(c *dto.ApplicationConfig) {
			c.Kafka.Publisher.Topic = ""
		}, true},
		{"publisher topic consumed", func(c *dto.ApplicationConfig) {
			c.Kafka.Publisher.Topic = "whatsapp.inbound"
		}, true},
		{"unsupported required acks", func(c *dto.ApplicationConfig) {
			c.Kafka.Publisher.RequiredAcks = "some"
		}, true},
		{"dlq without suffix", func(c *dto.ApplicationConfig) {
			c.Kafka.DLQ.TopicSuffix = ""
		}, true},
		{"negative buffer size", func(c *dto.ApplicationConfig) {
			c.Buffer.MaxBufferSize = -1
		}, true},
		{"buffer age beyond lifetime", func(c *dto.ApplicationConfig) {
			c.Buffer.MaxBufferAgeMS = 60000
			c.Buffer.MaxBufferLifetimeMS = 30000
		}, true},
		{"s3 backend missing bucket", func(c *dto.ApplicationConfig) {
			c.Archive.Backend = "s3"
			c.Archive.S3 = dto.S3Config{Region: "us-east-1"}
		}, true},
		{"azure backend missing account name", func(c *dto.ApplicationConfig) {
			c.Archive.Backend = "azure"
			c.Archive.Azure = dto.AzureConfig{Container: "dropped"}
		}, true},
		{"gcs backend with bucket", func(c *dto.ApplicationConfig) {
			c.Archive.Backend = "gcs"
			c.Archive.GCS = dto.GCSConfig{Bucket: "dropped"}
		}, false},
		{"unsupported archive backend", func(c *dto.ApplicationConfig) {
			c.Archive.Backend = "ftp"
		}, true},
		{"unsupported archive format", func(c *dto.ApplicationConfig) {
			c.Archive.Format = "json"
		}, true},
		{"zero archive workers", func(c *dto.ApplicationConfig) {
			c.Archive.Workers = 0
		}, true},
		{"invalid metrics port", func(c *dto.ApplicationConfig) {
			c.Observability.Metrics.Port = 70000
		}, true},
		{"invalid health port", func(c *dto.ApplicationConfig) {
			c.Observability.Health.Port = 0
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(config)

			err := NewLoader().Validate(config)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoader_setDefaults(t *testing.T) {
	loader := NewLoader()
	loader.setDefaults()

	if loader.v.GetString("application.name") != "convbuffer" {
		t.Error("default application.name not set correctly")
	}
	if loader.v.GetInt("buffer.debounce_interval_ms") != 5000 {
		t.Error("default buffer.debounce_interval_ms not set correctly")
	}
	if loader.v.GetInt("buffer.max_buffer_size") != 10 {
		t.Error("default buffer.max_buffer_size not set correctly")
	}
	if loader.v.GetString("archive.format") != "parquet" {
		t.Error("default archive.format not set correctly")
	}
	if loader.v.GetString("kafka.dlq.topic_suffix") != "-dlq" {
		t.Error("default kafka.dlq.topic_suffix not set correctly")
	}
}
