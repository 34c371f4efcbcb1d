package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/oychao1988/content-hub-sub002/api/httpapi"
	"github.com/oychao1988/content-hub-sub002/internal/config"
	"github.com/oychao1988/content-hub-sub002/internal/creator"
	"github.com/oychao1988/content-hub-sub002/internal/executor"
	"github.com/oychao1988/content-hub-sub002/internal/generation"
	"github.com/oychao1988/content-hub-sub002/internal/logging"
	"github.com/oychao1988/content-hub-sub002/internal/observability"
	"github.com/oychao1988/content-hub-sub002/internal/publisher"
	"github.com/oychao1988/content-hub-sub002/internal/queue"
	"github.com/oychao1988/content-hub-sub002/internal/scheduler"
	"github.com/oychao1988/content-hub-sub002/internal/store"
	"github.com/oychao1988/content-hub-sub002/internal/webhook"
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
		ServiceName: firstNonEmpty(cfg.OTELServiceName, "contenthub-api"),
		Endpoint:    cfg.OTELExporterOTLPEndpoint,
		Env:         cfg.Env,
	})
	if err != nil {
		logger.Fatal("otel init failed", zap.Error(err))
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

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

	var notifier *webhook.Notifier
	if cfg.WebhookEnabled {
		notifier = webhook.NewNotifier(cfg.WebhookSecret, cfg.WebhookTimeout, logger)
	}
	genClient := creator.New(cfg.CreatorBaseURL, cfg.CreatorTimeout)
	pubClient := publisher.New(cfg.PublisherBaseURL, cfg.PublisherTimeout)
	worker := generation.NewWorker(st, genClient, notifierOrNil(notifier), logger)

	// The registry here backs only manual triggers; the clock itself runs
	// in the scheduler process.
	registry := executor.NewRegistry(logger)
	executor.RegisterBuiltins(registry, st, pubClient, genService, cfg.ScannerBatchSize, logger)
	sched := scheduler.New(st, registry, cfg.SchedulerRefreshInterval, logger)

	server := httpapi.NewServer(httpapi.Config{
		Port:          cfg.HTTPPort,
		WebhookSecret: cfg.WebhookSecret,
	}, logger, st, sched, genService, worker)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Start(); err != nil && err.Error() != "http: Server closed" {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}

func notifierOrNil(n *webhook.Notifier) generation.Notifier {
	if n == nil {
		return nil
	}
	return n
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
