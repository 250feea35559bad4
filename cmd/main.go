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

	"github.com/jittakal/loglake/internal/buffer"
	"github.com/jittakal/loglake/internal/config"
	"github.com/jittakal/loglake/internal/config/dto"
	"github.com/jittakal/loglake/internal/ingest"
	"github.com/jittakal/loglake/internal/kafka"
	"github.com/jittakal/loglake/internal/observability"
	"github.com/jittakal/loglake/internal/pipeline"
	internalprojection "github.com/jittakal/loglake/internal/projection"
	"github.com/jittakal/loglake/internal/server"
	"github.com/jittakal/loglake/internal/storage"
	"github.com/jittakal/loglake/pkg/projection"
	pkgstorage "github.com/jittakal/loglake/pkg/storage"
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
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	})

	spec := buildProjectionSpec(cfg)
	logger.Info("starting loglake",
		"version", cfg.Application.Version,
		"environment", cfg.Application.Environment,
		"projection_fingerprint", spec.Fingerprint(),
	)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	var cleanupFuncs []func() error
	addCleanup := func(name string, fn func() error) {
		cleanupFuncs = append(cleanupFuncs, fn)
		logger.Debug("registered cleanup", "component", name)
	}
	defer func() {
		for i := len(cleanupFuncs) - 1; i >= 0; i-- {
			if err := cleanupFuncs[i](); err != nil {
				logger.Error("cleanup failed", "error", err)
			}
		}
	}()

	// Object store backend
	store, err := buildObjectStore(cfg, logger, metrics)
	if err != nil {
		return err
	}
	addCleanup("object-store", store.Close)

	// Projection: one spec value feeds both the writer's resolver and the
	// query engine, so the two cannot drift within a process.
	resolver := internalprojection.NewTimeResolver(spec)

	writer := storage.NewFlushWriter(store, resolver, spec, storage.WriterConfig{
		Backend:        cfg.Storage.Backend,
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: time.Duration(cfg.Retry.InitialBackoffMS) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.Retry.MaxBackoffMS) * time.Millisecond,
		WriteTimeout:   time.Duration(cfg.Retry.WriteTimeoutSeconds) * time.Second,
	}, logger, metrics)

	policy := storage.NewThresholdPolicy(storage.PolicyConfig{
		MaxBufferBytes: cfg.Buffer.MaxBytes,
		MaxBufferAge:   time.Duration(cfg.Buffer.MaxAgeSeconds) * time.Second,
	})

	// The manager's hard cap sits well above the flush threshold: the
	// threshold flushes long before the cap, and a record larger than the
	// threshold can still be buffered rather than rejected.
	buffers := buffer.NewManager(4*cfg.Buffer.MaxBytes, 4*cfg.Buffer.MaxRecords)
	receiver := ingest.NewBatchReceiver(logger)
	framer := ingest.NewRecordFramer(logger, metrics)

	// Kafka transport
	consumerConfig := kafka.ConsumerConfig{
		BootstrapServers:    cfg.Kafka.BootstrapServers,
		GroupID:             cfg.Kafka.Consumer.GroupID,
		SecurityProtocol:    cfg.Kafka.SecurityProtocol,
		SASLMechanism:       cfg.Kafka.SASLMechanism,
		SASLUsername:        cfg.Kafka.SASLUsername,
		SASLPassword:        cfg.Kafka.SASLPassword,
		AWSRegion:           cfg.Kafka.AWSRegion,
		AutoOffsetReset:     cfg.Kafka.Consumer.AutoOffsetReset,
		EnableAutoCommit:    cfg.Kafka.Consumer.EnableAutoCommit,
		MaxPollIntervalMS:   cfg.Kafka.Consumer.MaxPollIntervalMS,
		SessionTimeoutMS:    cfg.Kafka.Consumer.SessionTimeoutMS,
		HeartbeatIntervalMS: cfg.Kafka.Consumer.HeartbeatIntervalMS,
	}
	kafkaConsumer, err := kafka.NewSaramaConsumer(consumerConfig, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}
	addCleanup("kafka-consumer", kafkaConsumer.Close)

	dlqPublisher, err := kafka.NewDLQPublisher(cfg.Kafka.BootstrapServers, consumerConfig, kafka.DLQConfig{
		Enabled:     cfg.Kafka.DLQ.Enabled,
		TopicSuffix: cfg.Kafka.DLQ.TopicSuffix,
	}, logger, cfg.Application.Name)
	if err != nil {
		return fmt.Errorf("failed to create DLQ publisher: %w", err)
	}
	addCleanup("dlq-publisher", dlqPublisher.Close)

	ingestPipeline := pipeline.New(
		receiver,
		framer,
		policy,
		writer,
		buffers,
		dlqPublisher,
		pipeline.Config{
			TickInterval: time.Duration(cfg.Buffer.TickIntervalMS) * time.Millisecond,
		},
		logger,
		metrics,
	)

	// HTTP surface
	health := server.NewPipelineHealth()
	httpServer := server.NewServer(
		cfg.Observability.Health.Port,
		cfg.Observability.Metrics.Port,
		health,
		registry,
		logger,
	)
	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	addCleanup("http-server", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(ctx)
	})

	if err := kafkaConsumer.Subscribe(context.Background(), cfg.Kafka.Consumer.Topics); err != nil {
		return fmt.Errorf("failed to subscribe to topics: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	batchChan, errorChan, err := kafkaConsumer.Consume(ctx)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	health.SetConsumerReady(true)

	// Surface consumer transport errors, exhausted-retry deliveries, and
	// redrive recoveries.
	go func() {
		lastErr := ""
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-errorChan:
				if !ok {
					return
				}
				if err != nil {
					logger.Error("consumer error", "error", err)
				}
			case err := <-ingestPipeline.Failures():
				lastErr = err.Error()
				health.SetDelivery(ingestPipeline.ParkedGenerations(), lastErr)
			case n := <-ingestPipeline.Recoveries():
				if n == 0 {
					lastErr = ""
				}
				health.SetDelivery(n, lastErr)
			}
		}
	}()

	runErrChan := make(chan error, 1)
	go func() {
		runErrChan <- ingestPipeline.Run(ctx, batchChan)
	}()

	logger.Info("application started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("received termination signal")
	case err := <-runErrChan:
		if err != nil {
			logger.Error("pipeline error", "error", err)
			return err
		}
		logger.Info("pipeline stopped")
		return nil
	}

	// Graceful shutdown: stop the consumer first so the batch channel
	// closes, then wait for the pipeline's final flushes.
	logger.Info("initiating graceful shutdown")
	health.SetConsumerReady(false)
	cancel()

	gracePeriod := time.Duration(cfg.Shutdown.GracePeriodSeconds) * time.Second
	select {
	case err := <-runErrChan:
		if err != nil {
			logger.Error("pipeline shutdown error", "error", err)
		}
	case <-time.After(gracePeriod):
		logger.Error("pipeline did not drain within grace period", "grace_period", gracePeriod)
	}

	logger.Info("application stopped successfully")
	return nil
}

// buildProjectionSpec constructs the partition layout from config, falling
// back to the standard hourly layout when no fields are configured.
func buildProjectionSpec(cfg *dto.ApplicationConfig) *projection.Spec {
	if len(cfg.Projection.Fields) == 0 {
		return projection.DefaultSpec(cfg.Projection.Prefix)
	}

	fields := make([]projection.Field, 0, len(cfg.Projection.Fields))
	for _, f := range cfg.Projection.Fields {
		fieldType := projection.FieldInteger
		if f.Type == string(projection.FieldString) {
			fieldType = projection.FieldString
		}
		fields = append(fields, projection.Field{
			Name:   f.Name,
			Type:   fieldType,
			Min:    f.Min,
			Max:    f.Max,
			Digits: f.Digits,
		})
	}

	template := cfg.Projection.Template
	if prefix := cfg.Projection.Prefix; prefix != "" {
		template = prefix + template
	}
	return &projection.Spec{Fields: fields, Template: template}
}

// buildObjectStore constructs the configured storage backend.
func buildObjectStore(cfg *dto.ApplicationConfig, logger *slog.Logger, metrics *observability.Metrics) (pkgstorage.ObjectStore, error) {
	switch cfg.Storage.Backend {
	case "file":
		return storage.NewFileStore(storage.FileConfig{
			BasePath: cfg.Storage.File.BasePath,
		}, logger, metrics)
	case "s3":
		return storage.NewS3Store(storage.S3Config{
			Bucket:       cfg.Storage.S3.Bucket,
			Region:       cfg.Storage.S3.Region,
			Endpoint:     cfg.Storage.S3.Endpoint,
			UsePathStyle: cfg.Storage.S3.UsePathStyle,
			SSEEnabled:   cfg.Storage.S3.SSEEnabled,
			SSEKMSKeyID:  cfg.Storage.S3.SSEKMSKeyID,
		}, logger, metrics)
	case "azure":
		accountKey := cfg.Storage.Azure.AccountKey
		if accountKey == "" {
			accountKey = os.Getenv("AZURE_STORAGE_ACCOUNT_KEY")
		}
		return storage.NewAzureStore(storage.AzureConfig{
			AccountName:   cfg.Storage.Azure.AccountName,
			AccountKey:    accountKey,
			ContainerName: cfg.Storage.Azure.ContainerName,
			Endpoint:      cfg.Storage.Azure.Endpoint,
		}, logger, metrics)
	case "gcs":
		credentialsJSON := cfg.Storage.GCS.CredentialsJSON
		if credentialsJSON == "" {
			credentialsJSON = os.Getenv("GCP_CREDENTIALS_JSON")
		}
		return storage.NewGCSStore(storage.GCSConfig{
			Bucket:               cfg.Storage.GCS.Bucket,
			ProjectID:            cfg.Storage.GCS.ProjectID,
			CredentialsFile:      cfg.Storage.GCS.CredentialsFile,
			CredentialsJSON:      credentialsJSON,
			Endpoint:             cfg.Storage.GCS.Endpoint,
			UseDefaultCredential: cfg.Storage.GCS.UseDefaultCredential,
		}, logger, metrics)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s (supported: file, s3, azure, gcs)", cfg.Storage.Backend)
	}
}
