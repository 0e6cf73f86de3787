package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/opencdms/cdm-feature-service/internal/adapter/http"
	kafkaadapter "github.com/opencdms/cdm-feature-service/internal/adapter/kafka"
	"github.com/opencdms/cdm-feature-service/internal/config"
	"github.com/opencdms/cdm-feature-service/internal/observability"
	"github.com/opencdms/cdm-feature-service/internal/pipeline"
	"github.com/opencdms/cdm-feature-service/internal/provider"
	"github.com/opencdms/cdm-feature-service/internal/query"
	"github.com/opencdms/cdm-feature-service/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, binder, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open storage", "driver", cfg.DBDriver, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("storage close error", "error", err)
		}
	}()

	reg, err := provider.FromResources(cfg.Resources, binder, store, logger, metrics,
		query.WithLimits(cfg.DefaultLimit, cfg.MaxLimit))
	if err != nil {
		logger.Error("failed to build collections", "error", err)
		os.Exit(1)
	}
	for _, p := range reg.List() {
		logger.Info("collection published", "name", p.Name(), "table", p.Resource().Table)
	}

	ready := httpadapter.ReadinessChecks{store}

	var (
		reader *kafkaadapter.Reader
		dlq    *kafkaadapter.DeadLetterWriter
		p      *pipeline.Pipeline
	)
	if cfg.IngestEnabled {
		reader = kafkaadapter.NewReader(cfg, logger)
		var opts []pipeline.Option
		if cfg.KafkaDLQTopic != "" {
			dlq = kafkaadapter.NewDeadLetterWriter(cfg, logger)
			opts = append(opts, pipeline.WithDeadLetters(dlq))
		}
		p = pipeline.New(reader, pipeline.NewTransformer(logger), pipeline.NewStoreLoader(store),
			logger, metrics, cfg.BatchSize, opts...)
		ready = append(ready, p)
		logger.Info("observation ingest enabled", "topic", cfg.KafkaTopic, "group", cfg.KafkaGroupID, "dlq", cfg.KafkaDLQTopic)
	} else {
		logger.Info("observation ingest disabled")
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, reg, ready, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	// Start ingest pipeline.
	if p != nil {
		go func() {
			if err := p.Run(ctx); err != nil {
				logger.Error("pipeline error", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if reader != nil {
		if err := reader.Close(); err != nil {
			logger.Error("kafka reader close error", "error", err)
		}
	}
	if dlq != nil {
		if err := dlq.Close(); err != nil {
			logger.Error("kafka dlq writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
