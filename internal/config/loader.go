package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/spf13/viper"

	"github.com/jittakal/convbuffer/internal/config/dto"
)

// Loader handles configuration loading and validation
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// Load loads configuration from file and environment variables
func (l *Loader) Load(path string) (*dto.ApplicationConfig, error) {
	l.setDefaults()

	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Expand ${VAR} references in string values
	for _, key := range l.v.AllKeys() {
		value := l.v.GetString(key)
		if strings.Contains(value, "${") {
			l.v.Set(key, os.ExpandEnv(value))
		}
	}

	var config dto.ApplicationConfig
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.Validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func (l *Loader) setDefaults() {
	// Application defaults
	l.v.SetDefault("application.name", "convbuffer")
	l.v.SetDefault("application.version", "1.0.0")
	l.v.SetDefault("application.environment", "development")

	// Kafka defaults
	l.v.SetDefault("kafka.security_protocol", "SASL_SSL")
	l.v.SetDefault("kafka.sasl_mechanism", "PLAIN")
	l.v.SetDefault("kafka.aws_region", "us-east-1")
	l.v.SetDefault("kafka.consumer.auto_offset_reset", "earliest")
	l.v.SetDefault("kafka.consumer.max_poll_interval_ms", 300000)
	l.v.SetDefault("kafka.consumer.session_timeout_ms", 30000)
	l.v.SetDefault("kafka.consumer.heartbeat_interval_ms", 10000)
	l.v.SetDefault("kafka.publisher.topic", "whatsapp.conversation.batches")
	l.v.SetDefault("kafka.publisher.source", "convbuffer")
	l.v.SetDefault("kafka.publisher.required_acks", "all")
	l.v.SetDefault("kafka.publisher.max_retries", 5)
	l.v.SetDefault("kafka.publisher.timeout_ms", 10000)
	l.v.SetDefault("kafka.publisher.compression", "snappy")
	l.v.SetDefault("kafka.dlq.enabled", true)
	l.v.SetDefault("kafka.dlq.topic_suffix", "-dlq")

	// Buffer defaults
	l.v.SetDefault("buffer.debounce_interval_ms", 5000)
	l.v.SetDefault("buffer.max_buffer_size", 10)
	l.v.SetDefault("buffer.max_buffer_age_ms", 30000)
	l.v.SetDefault("buffer.max_buffer_lifetime_ms", 600000)
	l.v.SetDefault("buffer.cleanup_interval_ms", 60000)
	l.v.SetDefault("buffer.max_inter_message_gap_ms", 15000)
	l.v.SetDefault("buffer.max_processing_attempts", 3)
	l.v.SetDefault("buffer.stuck_threshold_ms", 120000)
	l.v.SetDefault("buffer.emergency_inactivity_ms", 1800000)
	l.v.SetDefault("buffer.retry_base_delay_ms", 1000)
	l.v.SetDefault("buffer.max_retry_delay_ms", 30000)
	l.v.SetDefault("buffer.latency_window", 100)
	l.v.SetDefault("buffer.processing_timeout_ms", 0)

	// Archive defaults
	l.v.SetDefault("archive.enabled", true)
	l.v.SetDefault("archive.backend", "file")
	l.v.SetDefault("archive.format", "parquet")
	l.v.SetDefault("archive.compression", "snappy")
	l.v.SetDefault("archive.queue_size", 256)
	l.v.SetDefault("archive.workers", 2)
	l.v.SetDefault("archive.file.base_path", "./data/archive")
	l.v.SetDefault("archive.s3.use_path_style", false)
	l.v.SetDefault("archive.s3.sse_enabled", true)

	// Observability defaults
	l.v.SetDefault("observability.logging.level", "info")
	l.v.SetDefault("observability.logging.format", "json")
	l.v.SetDefault("observability.logging.output", "stdout")
	l.v.SetDefault("observability.metrics.enabled", true)
	l.v.SetDefault("observability.metrics.port", 9090)
	l.v.SetDefault("observability.metrics.path", "/metrics")
	l.v.SetDefault("observability.metrics.stats_interval_seconds", 15)
	l.v.SetDefault("observability.health.port", 8080)
	l.v.SetDefault("observability.health.liveness_path", "/health/live")
	l.v.SetDefault("observability.health.readiness_path", "/health/ready")
	l.v.SetDefault("observability.health.stats_path", "/debug/buffers")
	l.v.SetDefault("observability.max_stuck_buffers", 10)

	// Shutdown defaults
	l.v.SetDefault("shutdown.drain_timeout_seconds", 20)
	l.v.SetDefault("shutdown.grace_period_seconds", 10)
}

var (
	securityProtocols = []string{"PLAINTEXT", "SASL_PLAINTEXT", "SASL_SSL", "SSL"}
	requiredAcks      = []string{"all", "leader", "none"}
	archiveFormats    = []string{"parquet", "avro"}
)

// Validate validates the configuration
func (l *Loader) Validate(config *dto.ApplicationConfig) error {
	// Kafka validation
	if len(config.Kafka.BootstrapServers) == 0 {
		return errors.New("kafka.bootstrap_servers is required")
	}
	if !slices.Contains(securityProtocols, config.Kafka.SecurityProtocol) {
		return fmt.Errorf("unsupported security protocol: %s", config.Kafka.SecurityProtocol)
	}
	if len(config.Kafka.Consumer.Topics) == 0 {
		return errors.New("kafka.consumer.topics is required")
	}
	if config.Kafka.Consumer.GroupID == "" {
		return errors.New("kafka.consumer.group_id is required")
	}
	if config.Kafka.Publisher.Topic == "" {
		return errors.New("kafka.publisher.topic is required")
	}
	if slices.Contains(config.Kafka.Consumer.Topics, config.Kafka.Publisher.Topic) {
		return fmt.Errorf("kafka.publisher.topic %q must differ from the consumed topics", config.Kafka.Publisher.Topic)
	}
	if !slices.Contains(requiredAcks, config.Kafka.Publisher.RequiredAcks) {
		return fmt.Errorf("unsupported publisher required_acks: %s", config.Kafka.Publisher.RequiredAcks)
	}
	if config.Kafka.DLQ.Enabled && config.Kafka.DLQ.TopicSuffix == "" {
		return errors.New("kafka.dlq.topic_suffix is required when the DLQ is enabled")
	}

	// Buffer validation
	if err := config.Buffer.ToCore().WithDefaults().Validate(); err != nil {
		return fmt.Errorf("invalid buffer config: %w", err)
	}

	// Archive validation
	if config.Archive.Enabled {
		switch config.Archive.Backend {
		case "s3":
			if err := config.Archive.S3.Validate(); err != nil {
				return fmt.Errorf("archive: %w", err)
			}
		case "azure":
			if err := config.Archive.Azure.Validate(); err != nil {
				return fmt.Errorf("archive: %w", err)
			}
		case "gcs":
			if err := config.Archive.GCS.Validate(); err != nil {
				return fmt.Errorf("archive: %w", err)
			}
		case "file":
			if err := config.Archive.File.Validate(); err != nil {
				return fmt.Errorf("archive: %w", err)
			}
		default:
			return fmt.Errorf("unsupported archive backend: %s", config.Archive.Backend)
		}

		if !slices.Contains(archiveFormats, config.Archive.Format) {
			return fmt.Errorf("unsupported archive format: %s", config.Archive.Format)
		}
		if config.Archive.QueueSize < 1 {
			return fmt.Errorf("archive.queue_size must be at least 1, got %d", config.Archive.QueueSize)
		}
		if config.Archive.Workers < 1 {
			return fmt.Errorf("archive.workers must be at least 1, got %d", config.Archive.Workers)
		}
	}

	// Port validation
	if config.Observability.Metrics.Port < 1 || config.Observability.Metrics.Port > 65535 {
		return fmt.Errorf("invalid metrics port: %d", config.Observability.Metrics.Port)
	}
	if config.Observability.Health.Port < 1 || config.Observability.Health.Port > 65535 {
		return fmt.Errorf("invalid health port: %d", config.Observability.Health.Port)
	}

	return nil
}
