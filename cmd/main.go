package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jittakal/convbuffer/internal/archive"
	"github.com/jittakal/convbuffer/internal/buffer"
	"github.com/jittakal/convbuffer/internal/config"
	"github.com/jittakal/convbuffer/internal/config/dto"
	"github.com/jittakal/convbuffer/internal/kafka"
	"github.com/jittakal/convbuffer/internal/observability"
	"github.com/jittakal/convbuffer/internal/server"
	"github.com/jittakal/convbuffer/internal/storage"
	"github.com/jittakal/convbuffer/internal/validator"
	"github.com/jittakal/convbuffer/pkg/message"
	pkgstorage "github.com/jittakal/convbuffer/pkg/storage"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	// Priority: CLI flag > CONFIG_PATH env var > default path
	var cfgPath string
	if *configPath != "" {
		cfgPath = *configPath
	} else if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		cfgPath = envPath
	} else {
		cfgPath = "config/application.yaml"
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:     cfg.Observability.Logging.Level,
		Format:    cfg.Observability.Logging.Format,
		Output:    cfg.Observability.Logging.Output,
		AddSource: cfg.Observability.Logging.AddSource,
	})
	logger.Info("starting conversation buffer",
		"version", cfg.Application.Version,
		"environment", cfg.Application.Environment,
	)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	// Cleanups run in reverse registration order.
	var cleanups []namedCleanup
	addCleanup := func(name string, fn func() error) {
		cleanups = append(cleanups, namedCleanup{name: name, fn: fn})
		logger.Debug("registered cleanup", "component", name)
	}
	defer func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			if err := cleanups[i].fn(); err != nil {
				logger.Error("cleanup failed", "component", cleanups[i].name, "error", err)
			}
		}
	}()

	security := kafka.SecurityConfig{
		BootstrapServers:      cfg.Kafka.BootstrapServers,
		SecurityProtocol:      cfg.Kafka.SecurityProtocol,
		SASLMechanism:         cfg.Kafka.SASLMechanism,
		SASLUsername:          cfg.Kafka.SASLUsername,
		SASLPassword:          cfg.Kafka.SASLPassword,
		AWSRegion:             cfg.Kafka.AWSRegion,
		TLSInsecureSkipVerify: cfg.Kafka.TLSInsecureSkipVerify,
	}
	producerConfig := kafka.ProducerConfig{
		RequiredAcks: cfg.Kafka.Publisher.RequiredAcks,
		MaxRetries:   cfg.Kafka.Publisher.MaxRetries,
		TimeoutMS:    cfg.Kafka.Publisher.TimeoutMS,
		Compression:  cfg.Kafka.Publisher.Compression,
	}

	// Downstream edges
	publisher, err := kafka.NewBatchPublisher(security, kafka.PublisherConfig{
		Topic:          cfg.Kafka.Publisher.Topic,
		Source:         cfg.Kafka.Publisher.Source,
		ProducerConfig: producerConfig,
	}, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to create batch publisher: %w", err)
	}
	addCleanup("batch-publisher", publisher.Close)

	processorID := cfg.Application.Name
	if host, err := os.Hostname(); err == nil {
		processorID = fmt.Sprintf("%s@%s", cfg.Application.Name, host)
	}
	dlqPublisher, err := kafka.NewDLQPublisher(security, producerConfig, kafka.DLQConfig{
		Enabled: cfg.Kafka.DLQ.Enabled,
		Topic:   cfg.Kafka.Publisher.Topic + cfg.Kafka.DLQ.TopicSuffix,
	}, logger, processorID)
	if err != nil {
		return fmt.Errorf("failed to create DLQ publisher: %w", err)
	}
	addCleanup("dlq-publisher", dlqPublisher.Close)

	writer, router, err := newArchiveWriter(cfg, logger, metrics)
	if err != nil {
		return err
	}
	if writer != nil {
		addCleanup("storage-writer", writer.Close)
	}

	archiver, err := archive.New(archive.Config{
		QueueSize: max(cfg.Archive.QueueSize, 1),
		Workers:   max(cfg.Archive.Workers, 1),
		Format:    message.FileFormat(cfg.Archive.Format),
	}, writer, router, dlqPublisher, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to create archiver: %w", err)
	}
	archiver.Start()
	addCleanup("archiver", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.GracePeriod())
		defer cancel()
		return archiver.Close(ctx)
	})

	// Buffer core
	manager, err := buffer.NewManager(cfg.Buffer.ToCore(), logger,
		buffer.WithHooks(metrics.BufferHooks(buffer.Hooks{OnDrop: archiver.OnDrop})),
	)
	if err != nil {
		return fmt.Errorf("failed to create buffer manager: %w", err)
	}

	healthChecker := server.NewBufferHealthChecker(manager, cfg.Observability.MaxStuckBuffers)

	serverConfig := server.Config{
		HealthPort:    cfg.Observability.Health.Port,
		MetricsPort:   cfg.Observability.Metrics.Port,
		MetricsPath:   cfg.Observability.Metrics.Path,
		LivenessPath:  cfg.Observability.Health.LivenessPath,
		ReadinessPath: cfg.Observability.Health.ReadinessPath,
		StatsPath:     cfg.Observability.Health.StatsPath,
	}
	if !cfg.Observability.Metrics.Enabled {
		serverConfig.MetricsPort = 0
	}
	httpServer := server.NewServer(serverConfig, healthChecker, manager, registry, logger)
	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	addCleanup("http-server", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.GracePeriod())
		defer cancel()
		return httpServer.Shutdown(ctx)
	})

	// Upstream edge
	consumer, err := kafka.NewSaramaConsumer(kafka.ConsumerConfig{
		SecurityConfig:      security,
		GroupID:             cfg.Kafka.Consumer.GroupID,
		AutoOffsetReset:     cfg.Kafka.Consumer.AutoOffsetReset,
		MaxPollIntervalMS:   cfg.Kafka.Consumer.MaxPollIntervalMS,
		SessionTimeoutMS:    cfg.Kafka.Consumer.SessionTimeoutMS,
		HeartbeatIntervalMS: cfg.Kafka.Consumer.HeartbeatIntervalMS,
	}, logger, metrics)
	if err != nil {
		manager.Destroy()
		return fmt.Errorf("failed to create consumer: %w", err)
	}
	addCleanup("kafka-consumer", consumer.Close)

	if err := consumer.Subscribe(context.Background(), cfg.Kafka.Consumer.Topics); err != nil {
		manager.Destroy()
		return fmt.Errorf("failed to subscribe to topics: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventChan, errorChan, err := consumer.Consume(ctx)
	if err != nil {
		manager.Destroy()
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	healthChecker.SetConsumerReady(true)

	in := &ingester{
		validator: validator.NewCloudEventsValidator(message.EventTypeMessageReceived),
		buffers:   manager,
		commits:   consumer,
		onFlush:   publisher.Publish,
		logger:    logger.With("component", "ingester"),
		metrics:   metrics,
		now:       time.Now,
	}

	consumeErrChan := make(chan error, 1)
	ingestDone := make(chan struct{})
	go func() {
		defer close(ingestDone)
		consumeErrChan <- in.run(ctx, eventChan, errorChan)
	}()

	go reportStats(ctx, manager, metrics, logger, cfg.Observability.Metrics.StatsIntervalSecs)

	logger.Info("application started successfully",
		"topics", cfg.Kafka.Consumer.Topics,
		"batch_topic", publisher.Topic(),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("received termination signal", "signal", sig.String())
	case err := <-consumeErrChan:
		if err != nil {
			logger.Error("consume error", "error", err)
			runErr = err
		}
	}

	shutdown(cancel, ingestDone, manager, archiver, healthChecker, cfg.Shutdown, logger)

	logger.Info("application stopped")
	return runErr
}

type namedCleanup struct {
	name string
	fn   func() error
}

// shutdown stops ingestion, drains the buffers through the publisher and
// archives whatever could not be flushed.
func shutdown(
	cancel context.CancelFunc,
	ingestDone <-chan struct{},
	manager *buffer.Manager,
	archiver *archive.Archiver,
	healthChecker *server.BufferHealthChecker,
	cfg dto.ShutdownConfig,
	logger *slog.Logger,
) {
	logger.Info("initiating graceful shutdown")
	healthChecker.SetDraining()
	cancel()

	select {
	case <-ingestDone:
	case <-time.After(cfg.GracePeriod()):
		logger.Warn("ingestion did not stop within grace period")
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.DrainTimeout())
	defer drainCancel()

	if err := manager.Drain(drainCtx); err != nil {
		logger.Warn("buffer drain incomplete", "error", err)
	}

	// Anything still pending is reported to the archiver as dropped.
	manager.Destroy()

	archiveCtx, archiveCancel := context.WithTimeout(context.Background(), cfg.GracePeriod())
	defer archiveCancel()

	if err := archiver.Close(archiveCtx); err != nil {
		logger.Error("archiver did not drain", "error", err)
	}
}

// reportStats periodically copies buffer stats into the gauges.
func reportStats(ctx context.Context, manager *buffer.Manager, metrics *observability.Metrics, logger *slog.Logger, intervalSecs int) {
	if intervalSecs <= 0 {
		intervalSecs = 15
	}
	ticker := time.NewTicker(time.Duration(intervalSecs) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := manager.GetStats()
			metrics.RecordBufferStats(stats)
			logger.Debug("buffer stats",
				"buffers", stats.TotalBuffers,
				"messages", stats.TotalMessages,
				"stuck", stats.StuckBuffers,
				"success_rate", stats.SuccessRate,
			)
		}
	}
}

// newArchiveWriter creates the storage writer and router for dropped
// batches. Both are nil when archiving is disabled.
func newArchiveWriter(
	cfg *dto.ApplicationConfig,
	logger *slog.Logger,
	metrics *observability.Metrics,
) (pkgstorage.Writer, pkgstorage.Router, error) {
	if !cfg.Archive.Enabled {
		logger.Info("archive storage is disabled")
		return nil, nil, nil
	}

	format := message.FileFormat(cfg.Archive.Format)
	compression := cfg.Archive.Compression
	protocol := storage.Protocol(cfg.Archive.Backend)

	var (
		writer   pkgstorage.Writer
		bucket   string
		basePath string
		err      error
	)

	switch cfg.Archive.Backend {
	case "file":
		writer, err = storage.NewFileWriter(storage.FileConfig{
			BasePath: cfg.Archive.File.BasePath,
		}, format, compression, logger, metrics)
	case "s3":
		bucket, basePath = cfg.Archive.S3.Bucket, cfg.Archive.S3.BasePath
		writer, err = storage.NewS3Writer(storage.S3Config{
			Bucket:       cfg.Archive.S3.Bucket,
			Region:       cfg.Archive.S3.Region,
			Endpoint:     cfg.Archive.S3.Endpoint,
			UsePathStyle: cfg.Archive.S3.UsePathStyle,
			SSEEnabled:   cfg.Archive.S3.SSEEnabled,
			SSEKMSKeyID:  cfg.Archive.S3.SSEKMSKeyID,
		}, format, compression, logger, metrics)
	case "azure":
		bucket, basePath = cfg.Archive.Azure.Container, cfg.Archive.Azure.BasePath
		accountKey := cfg.Archive.Azure.AccountKey
		if accountKey == "" {
			accountKey = os.Getenv("AZURE_STORAGE_ACCOUNT_KEY")
		}
		writer, err = storage.NewAzureWriter(storage.AzureConfig{
			AccountName:   cfg.Archive.Azure.AccountName,
			AccountKey:    accountKey,
			ContainerName: cfg.Archive.Azure.Container,
			Endpoint:      cfg.Archive.Azure.Endpoint,
		}, format, compression, logger, metrics)
	case "gcs":
		bucket, basePath = cfg.Archive.GCS.Bucket, cfg.Archive.GCS.BasePath
		credentialsJSON := cfg.Archive.GCS.CredentialsJSON
		if credentialsJSON == "" {
			credentialsJSON = os.Getenv("GCP_CREDENTIALS_JSON")
		}
		writer, err = storage.NewGCSWriter(storage.GCSConfig{
			Bucket:               cfg.Archive.GCS.Bucket,
			ProjectID:            cfg.Archive.GCS.ProjectID,
			CredentialsFile:      cfg.Archive.GCS.CredentialsFile,
			CredentialsJSON:      credentialsJSON,
			UseDefaultCredential: cfg.Archive.GCS.UseDefaultCredential,
		}, format, compression, logger, metrics)
	default:
		return nil, nil, fmt.Errorf("unsupported archive backend: %s (supported: file, s3, azure, gcs)", cfg.Archive.Backend)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s archive writer: %w", cfg.Archive.Backend, err)
	}

	// File paths are relative to the writer's base path.
	return writer, storage.NewRouter(protocol, bucket, basePath), nil
}
