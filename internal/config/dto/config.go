package dto

import (
	"fmt"
	"time"

	"github.com/jittakal/convbuffer/internal/buffer"
)

// ApplicationConfig is the root configuration structure
type ApplicationConfig struct {
	Application   ApplicationInfo     `mapstructure:"application"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Buffer        BufferConfig        `mapstructure:"buffer"`
	Archive       ArchiveConfig       `mapstructure:"archive"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Shutdown      ShutdownConfig      `mapstructure:"shutdown"`
}

// ApplicationInfo contains application metadata
type ApplicationInfo struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// KafkaConfig contains Kafka-related configuration
type KafkaConfig struct {
	BootstrapServers      []string        `mapstructure:"bootstrap_servers"`
	SecurityProtocol      string          `mapstructure:"security_protocol"`
	SASLMechanism         string          `mapstructure:"sasl_mechanism"`
	SASLUsername          string          `mapstructure:"sasl_username"`
	SASLPassword          string          `mapstructure:"sasl_password"`
	AWSRegion             string          `mapstructure:"aws_region"`
	TLSInsecureSkipVerify bool            `mapstructure:"tls_insecure_skip_verify"`
	Consumer              ConsumerConfig  `mapstructure:"consumer"`
	Publisher             PublisherConfig `mapstructure:"publisher"`
	DLQ                   DLQConfig       `mapstructure:"dlq"`
}

// ConsumerConfig contains Kafka consumer configuration
type ConsumerConfig struct {
	GroupID             string   `mapstructure:"group_id"`
	Topics              []string `mapstructure:"topics"`
	AutoOffsetReset     string   `mapstructure:"auto_offset_reset"`
	MaxPollIntervalMS   int      `mapstructure:"max_poll_interval_ms"`
	SessionTimeoutMS    int      `mapstructure:"session_timeout_ms"`
	HeartbeatIntervalMS int      `mapstructure:"heartbeat_interval_ms"`
}

// PublisherConfig contains the conversation batch publisher configuration
type PublisherConfig struct {
	Topic        string `mapstructure:"topic"`
	Source       string `mapstructure:"source"`
	RequiredAcks string `mapstructure:"required_acks"`
	MaxRetries   int    `mapstructure:"max_retries"`
	TimeoutMS    int    `mapstructure:"timeout_ms"`
	Compression  string `mapstructure:"compression"`
}

// DLQConfig contains dead letter queue configuration
type DLQConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	TopicSuffix string `mapstructure:"topic_suffix"`
}

// BufferConfig contains the conversation buffer tuning, durations in milliseconds
type BufferConfig struct {
	DebounceIntervalMS    int `mapstructure:"debounce_interval_ms"`
	MaxBufferSize         int `mapstructure:"max_buffer_size"`
	MaxBufferAgeMS        int `mapstructure:"max_buffer_age_ms"`
	MaxBufferLifetimeMS   int `mapstructure:"max_buffer_lifetime_ms"`
	CleanupIntervalMS     int `mapstructure:"cleanup_interval_ms"`
	MaxInterMessageGapMS  int `mapstructure:"max_inter_message_gap_ms"`
	MaxProcessingAttempts int `mapstructure:"max_processing_attempts"`
	StuckThresholdMS      int `mapstructure:"stuck_threshold_ms"`
	EmergencyInactivityMS int `mapstructure:"emergency_inactivity_ms"`
	RetryBaseDelayMS      int `mapstructure:"retry_base_delay_ms"`
	MaxRetryDelayMS       int `mapstructure:"max_retry_delay_ms"`
	LatencyWindow         int `mapstructure:"latency_window"`
	ProcessingTimeoutMS   int `mapstructure:"processing_timeout_ms"`
}

// ToCore converts the buffer section into the manager configuration.
// Zero values fall back to the manager defaults.
func (c BufferConfig) ToCore() buffer.Config {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }

	return buffer.Config{
		DebounceInterval:      ms(c.DebounceIntervalMS),
		MaxBufferSize:         c.MaxBufferSize,
		MaxBufferAge:          ms(c.MaxBufferAgeMS),
		MaxBufferLifetime:     ms(c.MaxBufferLifetimeMS),
		CleanupInterval:       ms(c.CleanupIntervalMS),
		MaxInterMessageGap:    ms(c.MaxInterMessageGapMS),
		MaxProcessingAttempts: c.MaxProcessingAttempts,
		StuckThreshold:        ms(c.StuckThresholdMS),
		EmergencyInactivity:   ms(c.EmergencyInactivityMS),
		RetryBaseDelay:        ms(c.RetryBaseDelayMS),
		MaxRetryDelay:         ms(c.MaxRetryDelayMS),
		LatencyWindow:         c.LatencyWindow,
		ProcessingTimeout:     ms(c.ProcessingTimeoutMS),
	}
}

// ArchiveConfig contains the dropped message archive configuration
type ArchiveConfig struct {
	Enabled     bool        `mapstructure:"enabled"`
	Backend     string      `mapstructure:"backend"`
	Format      string      `mapstructure:"format"`
	Compression string      `mapstructure:"compression"`
	QueueSize   int         `mapstructure:"queue_size"`
	Workers     int         `mapstructure:"workers"`
	S3          S3Config    `mapstructure:"s3"`
	Azure       AzureConfig `mapstructure:"azure"`
	GCS         GCSConfig   `mapstructure:"gcs"`
	File        FileConfig  `mapstructure:"file"`
}

// S3Config contains AWS S3 configuration
type S3Config struct {
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	BasePath     string `mapstructure:"base_path"`
	Endpoint     string `mapstructure:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
	SSEEnabled   bool   `mapstructure:"sse_enabled"`
	SSEKMSKeyID  string `mapstructure:"sse_kms_key_id"`
}

// AzureConfig contains Azure Blob Storage configuration
type AzureConfig struct {
	AccountName string `mapstructure:"account_name"`
	AccountKey  string `mapstructure:"account_key"`
	Container   string `mapstructure:"container"`
	BasePath    string `mapstructure:"base_path"`
	Endpoint    string `mapstructure:"endpoint"`
}

// GCSConfig contains Google Cloud Storage configuration
type GCSConfig struct {
	Bucket               string `mapstructure:"bucket"`
	ProjectID            string `mapstructure:"project_id"`
	BasePath             string `mapstructure:"base_path"`
	CredentialsFile      string `mapstructure:"credentials_file"`
	CredentialsJSON      string `mapstructure:"credentials_json"`
	UseDefaultCredential bool   `mapstructure:"use_default_credential"`
}

// FileConfig contains local filesystem configuration
type FileConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// ObservabilityConfig contains observability settings
type ObservabilityConfig struct {
	Logging         LoggingConfig `mapstructure:"logging"`
	Metrics         MetricsConfig `mapstructure:"metrics"`
	Health          HealthConfig  `mapstructure:"health"`
	MaxStuckBuffers int           `mapstructure:"max_stuck_buffers"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	Output    string `mapstructure:"output"`
	AddSource bool   `mapstructure:"add_source"`
}

// MetricsConfig contains metrics settings
type MetricsConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	Port              int    `mapstructure:"port"`
	Path              string `mapstructure:"path"`
	StatsIntervalSecs int    `mapstructure:"stats_interval_seconds"`
}

// HealthConfig contains health check settings
type HealthConfig struct {
	Port          int    `mapstructure:"port"`
	LivenessPath  string `mapstructure:"liveness_path"`
	ReadinessPath string `mapstructure:"readiness_path"`
	StatsPath     string `mapstructure:"stats_path"`
}

// ShutdownConfig contains shutdown settings
type ShutdownConfig struct {
	DrainTimeoutSeconds int `mapstructure:"drain_timeout_seconds"`
	GracePeriodSeconds  int `mapstructure:"grace_period_seconds"`
}

// DrainTimeout returns the buffer drain timeout.
func (c ShutdownConfig) DrainTimeout() time.Duration {
	return time.Duration(c.DrainTimeoutSeconds) * time.Second
}

// GracePeriod returns the HTTP server shutdown grace period.
func (c ShutdownConfig) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodSeconds) * time.Second
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if c.Application.Name == "" {
		return fmt.Errorf("application name is required")
	}
	if len(c.Kafka.BootstrapServers) == 0 {
		return fmt.Errorf("kafka bootstrap servers are required")
	}
	if c.Kafka.Consumer.GroupID == "" {
		return fmt.Errorf("kafka consumer group ID is required")
	}
	if c.Kafka.Publisher.Topic == "" {
		return fmt.Errorf("kafka publisher topic is required")
	}
	if c.Archive.Enabled && c.Archive.Backend == "" {
		return fmt.Errorf("archive backend is required")
	}
	return nil
}

// Validate validates S3 configuration.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("s3 bucket is required")
	}
	if c.Region == "" {
		return fmt.Errorf("s3 region is required")
	}
	return nil
}

// Validate validates Azure configuration.
func (c *AzureConfig) Validate() error {
	if c.AccountName == "" {
		return fmt.Errorf("azure account name is required")
	}
	if c.Container == "" {
		return fmt.Errorf("azure container is required")
	}
	return nil
}

// Validate validates GCS configuration.
func (c *GCSConfig) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("gcs bucket is required")
	}
	return nil
}

// Validate validates file configuration.
func (c *FileConfig) Validate() error {
	if c.BasePath == "" {
		return fmt.Errorf("file base path is required")
	}
	return nil
}
