package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/geocode-aggregator/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/geocode-aggregator/internal/adapter/kafka"
	"github.com/couchcryptid/geocode-aggregator/internal/adapter/providers"
	"github.com/couchcryptid/geocode-aggregator/internal/aggregator"
	"github.com/couchcryptid/geocode-aggregator/internal/config"
	"github.com/couchcryptid/geocode-aggregator/internal/observability"
	"github.com/couchcryptid/geocode-aggregator/internal/pipeline"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, logger)
	if err != nil {
		logger.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}

	agg, err := aggregator.New(aggregator.Options{
		ProviderTimeout: cfg.ProviderTimeout,
		MaxConcurrency:  cfg.ProviderMaxConcurrency,
		Logger:          logger,
		Metrics:         metrics,
	}).RegisterProvidersFromConfig(cfg.Providers, providers.NewFactory(cfg.ProviderTimeout, logger).Build)
	if err != nil {
		logger.Error("failed to register providers", "error", err)
		os.Exit(1)
	}

	ready := readiness{agg}

	var (
		p      *pipeline.Pipeline
		reader *kafkaadapter.Reader
		writer *kafkaadapter.Writer
	)
	if cfg.KafkaEnabled {
		reader = kafkaadapter.NewReader(cfg, logger)
		writer = kafkaadapter.NewWriter(cfg, logger)
		p = pipeline.New(reader, pipeline.NewTransformer(agg, logger), writer, logger, metrics, cfg.BatchSize,
			pipeline.WithWorkers(cfg.PipelineWorkers))
		ready = append(ready, p)
	} else {
		logger.Info("kafka batch pipeline disabled")
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, agg, ready, metrics, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	pipelineDone := make(chan struct{})
	if p != nil {
		go func() {
			defer close(pipelineDone)
			if err := p.Run(ctx); err != nil {
				logger.Error("pipeline error", "error", err)
			}
		}()
	} else {
		close(pipelineDone)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	select {
	case <-pipelineDone:
	case <-shutdownCtx.Done():
		logger.Warn("pipeline did not stop before shutdown timeout")
	}
	if reader != nil {
		if err := reader.Close(); err != nil {
			logger.Error("kafka reader close error", "error", err)
		}
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	observability.ShutdownTracing(context.Background(), shutdownTracing, logger)
	logger.Info("shutdown complete")
}

// readiness is ready when every checker is.
type readiness []sharedobs.ReadinessChecker

func (r readiness) CheckReadiness(ctx context.Context) error {
	for _, c := range r {
		if err := c.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}
