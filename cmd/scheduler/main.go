package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/oychao1988/content-hub-sub002/internal/config"
	"github.com/oychao1988/content-hub-sub002/internal/executor"
	"github.com/oychao1988/content-hub-sub002/internal/generation"
	"github.com/oychao1988/content-hub-sub002/internal/logging"
	"github.com/oychao1988/content-hub-sub002/internal/observability"
	"github.com/oychao1988/content-hub-sub002/internal/publisher"
	"github.com/oychao1988/content-hub-sub002/internal/queue"
	"github.com/oychao1988/content-hub-sub002/internal/scheduler"
	"github.com/oychao1988/content-hub-sub002/internal/store"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Env: cfg.Env})
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	observability.RegisterMetrics()

	shutdownTracing, err := observability.InitTracing(context.Background(), observability.OTelConfig{
		ServiceName: firstNonEmpty(cfg.OTELServiceName, "contenthub-scheduler"),
		Endpoint:    cfg.OTELExporterOTLPEndpoint,
		Env:         cfg.Env,
	})
	if err != nil {
		logger.Fatal("otel init failed", zap.Error(err))
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", cfg.WorkerMetricsPort)
		logger.Info("scheduler metrics server starting", zap.String("addr", addr))
		_ = http.ListenAndServe(addr, mux)
	}()

	st, err := store.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db connection failed", zap.Error(err))
	}
	defer st.Close()

	if err := st.EnsureSchema(context.Background()); err != nil {
		logger.Fatal("schema setup failed", zap.Error(err))
	}

	q, err := queue.New(context.Background(), queue.Config{
		NATSURL:      cfg.NATSURL,
		StreamName:   cfg.NATSStreamName,
		ConsumerName: cfg.NATSConsumerName,
		AckWait:      30 * time.Second,
		MaxDeliver:   5,
	})
	if err != nil {
		logger.Fatal("nats connection failed", zap.Error(err))
	}
	defer q.Close()

	genService := generation.NewService(st, q, cfg.GenerationTimeout, cfg.GenerationMaxRetries, logger)
	pubClient := publisher.New(cfg.PublisherBaseURL, cfg.PublisherTimeout)

	registry := executor.NewRegistry(logger)
	executor.RegisterBuiltins(registry, st, pubClient, genService, cfg.ScannerBatchSize, logger)

	sched := scheduler.New(st, registry, cfg.SchedulerRefreshInterval, logger)
	if err := sched.Start(context.Background()); err != nil {
		logger.Fatal("scheduler start failed", zap.Error(err))
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown signal received")

	sched.Stop()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
