// The ingester subscribes to a telemetry source, decodes and maps readings
// into storage points, and commits them to InfluxDB in batches. Messages are
// acknowledged only after their points are durably written.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/riverwatch/go-ingest/pkg/archive"
	"github.com/riverwatch/go-ingest/pkg/config"
	"github.com/riverwatch/go-ingest/pkg/influxstore"
	"github.com/riverwatch/go-ingest/pkg/ingest"
	"github.com/riverwatch/go-ingest/pkg/mapping"
	"github.com/riverwatch/go-ingest/pkg/metrics"
	"github.com/riverwatch/go-ingest/pkg/mqttsource"
	"github.com/riverwatch/go-ingest/pkg/pipeline"
	"github.com/riverwatch/go-ingest/pkg/pubsubsource"
	"github.com/riverwatch/go-ingest/pkg/registry"
	"github.com/riverwatch/go-ingest/pkg/service"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration.")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Warn().Str("log_level", cfg.LogLevel).Msg("Unknown log level, using info.")
		level = zerolog.InfoLevel
	}
	logger = logger.Level(level).With().Str("service", cfg.ServiceName).Logger()

	if err := run(logger, cfg); err != nil {
		logger.Fatal().Err(err).Msg("Ingester exited with error.")
	}
}

func run(logger zerolog.Logger, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Already validated during config load.
	rules, err := mapping.NewRuleSet(cfg.Rules)
	if err != nil {
		return err
	}

	registryFetcher, err := buildRegistry(ctx, cfg, logger)
	if err != nil {
		return err
	}
	var tagger registry.SourceTagger
	if registryFetcher != nil {
		tagger = registry.NewSourceTagger(registryFetcher, logger)
		defer func() { _ = registryFetcher.Close() }()
	}

	promRegistry := prometheus.NewRegistry()
	m := metrics.NewIngest(promRegistry)

	influxClient := influxdb2.NewClient(cfg.Influx.URL, cfg.Influx.Token)
	defer influxClient.Close()
	influxWriter, err := influxstore.NewInfluxWriterFromClient(influxClient, &cfg.Influx, logger)
	if err != nil {
		return err
	}
	writer := influxstore.NewRetryWriter(cfg.Retry, influxWriter, m, logger)

	consumer, err := buildConsumer(ctx, cfg, "", logger)
	if err != nil {
		return err
	}

	batchCfg := pipeline.BatchingServiceConfig{
		NumWorkers:   cfg.Batch.NumWorkers,
		BatchSize:    cfg.Batch.BatchSize,
		MaxBatchWait: cfg.Batch.MaxBatchWait,
	}
	ingestSvc, err := ingest.NewService(batchCfg, consumer, rules, writer, tagger, m, logger)
	if err != nil {
		return err
	}

	var archiveSvc *pipeline.BatchingService[archive.Record]
	if cfg.Archive.Enabled {
		storageClient, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("failed to create storage client: %w", err)
		}
		defer func() { _ = storageClient.Close() }()

		// The archive consumes on its own subscription so the hot path and
		// the cold path each see the full message stream.
		archiveConsumer, err := buildConsumer(ctx, cfg, cfg.Archive.SubscriptionID, logger)
		if err != nil {
			return err
		}
		archiveSvc, err = archive.NewService(
			batchCfg,
			archiveConsumer,
			archive.NewStorageClientAdapter(storageClient),
			archive.UploaderConfig{BucketName: cfg.Archive.Bucket, ObjectPrefix: cfg.Archive.ObjectPrefix},
			logger,
		)
		if err != nil {
			return err
		}
	}

	var ready atomic.Bool
	adminServer := service.NewServer(logger, cfg.HTTPPort, promRegistry, ready.Load)
	if err := adminServer.Start(); err != nil {
		return err
	}

	if err := ingestSvc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start ingest pipeline: %w", err)
	}
	if archiveSvc != nil {
		if err := archiveSvc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start archive pipeline: %w", err)
		}
	}
	ready.Store(true)
	logger.Info().Str("source", cfg.Source.Kind).Bool("archive", cfg.Archive.Enabled).Msg("Ingester running.")

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received, draining pipelines...")
	ready.Store(false)

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.StopTimeout)
	defer cancel()

	if err := ingestSvc.Stop(stopCtx); err != nil {
		logger.Error().Err(err).Msg("Ingest pipeline did not drain cleanly.")
	}
	if archiveSvc != nil {
		if err := archiveSvc.Stop(stopCtx); err != nil {
			logger.Error().Err(err).Msg("Archive pipeline did not drain cleanly.")
		}
	}
	if err := writer.Close(); err != nil {
		logger.Warn().Err(err).Msg("Error closing sink writer.")
	}
	if err := adminServer.Shutdown(stopCtx); err != nil {
		logger.Warn().Err(err).Msg("Error shutting down admin server.")
	}

	logger.Info().Msg("Ingester stopped.")
	return nil
}

// buildConsumer creates a message consumer for the configured source kind.
// subscriptionID overrides the configured Pub/Sub subscription when non-empty;
// for MQTT it selects a distinct client id prefix instead, since each pipeline
// needs its own broker session.
func buildConsumer(ctx context.Context, cfg *config.Config, subscriptionID string, logger zerolog.Logger) (pipeline.MessageConsumer, error) {
	switch cfg.Source.Kind {
	case config.SourceMQTT:
		mqttCfg := cfg.Source.MQTT
		if subscriptionID != "" {
			mqttCfg.ClientIDPrefix = mqttCfg.ClientIDPrefix + "archive-"
		}
		return mqttsource.NewConsumer(nil, &mqttCfg, logger)
	case config.SourcePubSub:
		client, err := pubsub.NewClient(ctx, cfg.Source.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to create pubsub client: %w", err)
		}
		psCfg := cfg.Source.PubSub
		if subscriptionID != "" {
			psCfg.SubscriptionID = subscriptionID
		}
		return pubsubsource.NewConsumer(&psCfg, client, logger)
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Source.Kind)
	}
}

// buildRegistry assembles the source metadata lookup chain: Firestore as the
// backing store, optionally cached through Redis, or the static entries from
// the config file. A config without registry settings returns nil.
func buildRegistry(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (registry.Fetcher, error) {
	if cfg.Registry.Firestore != nil {
		fsClient, err := firestore.NewClient(ctx, cfg.Registry.Firestore.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		fetcher, err := registry.NewFirestoreRegistry(cfg.Registry.Firestore, fsClient, logger)
		if err != nil {
			return nil, err
		}
		if cfg.Registry.Redis != nil {
			return registry.NewRedisRegistry(ctx, cfg.Registry.Redis, fetcher, logger)
		}
		return fetcher, nil
	}

	if sources := cfg.StaticSources(); sources != nil {
		return registry.NewStaticRegistry(sources), nil
	}
	return nil, nil
}
