package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/oychao1988/content-hub-sub002/internal/config"
	"github.com/oychao1988/content-hub-sub002/internal/creator"
	"github.com/oychao1988/content-hub-sub002/internal/generation"
	"github.com/oychao1988/content-hub-sub002/internal/logging"
	"github.com/oychao1988/content-hub-sub002/internal/observability"
	"github.com/oychao1988/content-hub-sub002/internal/queue"
	"github.com/oychao1988/content-hub-sub002/internal/store"
	"github.com/oychao1988/content-hub-sub002/internal/webhook"
)

const maxDeliveries = 5

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
		ServiceName: firstNonEmpty(cfg.OTELServiceName, "contenthub-worker"),
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
		logger.Info("worker metrics server starting", zap.String("addr", addr))
		_ = http.ListenAndServe(addr, mux)
	}()

	st, err := store.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db connection failed", zap.Error(err))
	}
	defer st.Close()

	q, err := queue.New(context.Background(), queue.Config{
		NATSURL:      cfg.NATSURL,
		StreamName:   cfg.NATSStreamName,
		ConsumerName: cfg.NATSConsumerName,
		AckWait:      30 * time.Second,
		MaxDeliver:   maxDeliveries,
	})
	if err != nil {
		logger.Fatal("nats connection failed", zap.Error(err))
	}
	defer q.Close()

	sub, err := q.JetStream().PullSubscribe(queue.SubjectWildcard, cfg.NATSConsumerName,
		nats.BindStream(cfg.NATSStreamName),
		nats.ManualAck(),
		nats.AckExplicit(),
	)
	if err != nil {
		logger.Fatal("create pull consumer failed", zap.Error(err))
	}

	var notifier generation.Notifier
	if cfg.WebhookEnabled {
		notifier = webhook.NewNotifier(cfg.WebhookSecret, cfg.WebhookTimeout, logger)
	}

	genClient := creator.New(cfg.CreatorBaseURL, cfg.CreatorTimeout)
	worker := generation.NewWorker(st, genClient, notifier, logger)
	poller := generation.NewPoller(st, notifier, cfg.GenerationPollEvery, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		logger.Info("shutdown signal received")
		cancel()
	}()

	wg := &sync.WaitGroup{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		poller.Run(ctx)
	}()

	sem := make(chan struct{}, cfg.WorkerConcurrency)

	logger.Info("worker started",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Duration("poll_timeout", cfg.WorkerPollTimeout),
		zap.Duration("generation_timeout", cfg.GenerationTimeout),
	)

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			logger.Info("worker stopped")
			return
		default:
		}

		msgs, err := sub.Fetch(1, nats.MaxWait(cfg.WorkerPollTimeout))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) {
				continue
			}
			logger.Warn("fetch error", zap.Error(err))
			continue
		}

		for _, m := range msgs {
			sem <- struct{}{}
			wg.Add(1)

			go func(m *nats.Msg) {
				defer wg.Done()
				defer func() { <-sem }()

				if err := handleMsg(ctx, logger, worker, q, m); err != nil {
					logger.Error("handle message failed", zap.Error(err))
					_ = m.Nak()
					return
				}
				_ = m.Ack()
			}(m)
		}
	}
}

// handleMsg processes one dispatch. A nil return acks the message; an error
// naks it for redelivery. Messages past the delivery budget go to the DLQ.
func handleMsg(ctx context.Context, logger *zap.Logger, worker *generation.Worker, q *queue.Queue, m *nats.Msg) error {
	if m.Header != nil {
		ctx = otel.GetTextMapPropagator().Extract(ctx, observability.NATSHeaderCarrier{H: m.Header})
	}
	tr := otel.Tracer("contenthub/worker")
	ctx, span := tr.Start(ctx, "contenthub.handle_dispatch")
	defer span.End()

	attempt := 1
	if md, err := m.Metadata(); err == nil && md != nil && md.NumDelivered > 0 {
		attempt = int(md.NumDelivered)
	}

	var dm queue.DispatchMessage
	if err := json.Unmarshal(m.Data, &dm); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad_message")
		logger.Warn("discarding malformed dispatch message", zap.Error(err))
		return nil
	}

	span.SetAttributes(
		attribute.String("messaging.subject", m.Subject),
		attribute.String("task.id", dm.TaskID),
		attribute.Int("task.priority", dm.Priority),
		attribute.Int("task.attempt", attempt),
	)

	if attempt >= maxDeliveries {
		logger.Error("dispatch exhausted deliveries, sending to DLQ",
			zap.String("task_id", dm.TaskID),
			zap.Int("attempt", attempt),
		)
		dlqErr := q.PublishDLQ(ctx, queue.DLQMessage{
			TaskID:       dm.TaskID,
			Attempt:      attempt,
			Error:        "max deliveries exceeded",
			OriginalSubj: m.Subject,
			OriginalData: m.Data,
			FailedAt:     time.Now().UTC(),
		})
		if dlqErr != nil {
			return dlqErr
		}
		if err := worker.ApplyExternalFailure(ctx, dm.TaskID, "dispatch exhausted deliveries"); err != nil && !errors.Is(err, store.ErrInvalidState) && !errors.Is(err, store.ErrNotFound) {
			logger.Warn("marking exhausted task failed", zap.String("task_id", dm.TaskID), zap.Error(err))
		}
		return nil
	}

	err := worker.HandleTask(ctx, dm.TaskID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
