package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/oychao1988/content-hub-sub002/internal/generation"
	"github.com/oychao1988/content-hub-sub002/internal/observability"
	"github.com/oychao1988/content-hub-sub002/internal/store"
)

// TaskTrigger runs a scheduled task immediately, outside its schedule.
type TaskTrigger interface {
	TriggerTask(ctx context.Context, taskID int64) (*store.TaskExecution, error)
}

type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	store      *store.Store
	trigger    TaskTrigger
	generation *generation.Service
	worker     *generation.Worker
	validate   *validator.Validate

	webhookSecret string
}

type Config struct {
	Port          string
	WebhookSecret string
}

func NewServer(cfg Config, logger *zap.Logger, st *store.Store, trigger TaskTrigger, gen *generation.Service, worker *generation.Worker) *Server {
	r := mux.NewRouter()

	routeName := func(r *http.Request) string {
		if rt := mux.CurrentRoute(r); rt != nil {
			if tpl, err := rt.GetPathTemplate(); err == nil && tpl != "" {
				return tpl
			}
		}
		return r.URL.Path
	}

	// Middlewares (order matters)
	r.Use(observability.RequestIDMiddleware)
	r.Use(observability.TracingMiddleware(routeName))
	r.Use(observability.HTTPMetricsMiddleware(routeName))
	r.Use(observability.AccessLogMiddleware(logger, routeName))

	srv := &Server{
		logger:        logger,
		store:         st,
		trigger:       trigger,
		generation:    gen,
		worker:        worker,
		validate:      validator.New(),
		webhookSecret: cfg.WebhookSecret,
	}

	// Metrics
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Health
	r.HandleFunc("/api/v1/health", srv.handleHealth).Methods(http.MethodGet)

	// Scheduled tasks
	r.HandleFunc("/api/v1/tasks", srv.handleCreateTask).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/tasks", srv.handleListTasks).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/tasks/{id}", srv.handleGetTask).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/tasks/{id}", srv.handleUpdateTask).Methods(http.MethodPatch)
	r.HandleFunc("/api/v1/tasks/{id}", srv.handleDeleteTask).Methods(http.MethodDelete)
	r.HandleFunc("/api/v1/tasks/{id}/trigger", srv.handleTriggerTask).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/tasks/{id}/executions", srv.handleListExecutions).Methods(http.MethodGet)

	// Publish pool
	r.HandleFunc("/api/v1/pool", srv.handleAddToPool).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/pool", srv.handleListPool).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/pool/statistics", srv.handlePoolStatistics).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/pool/{id}/retry", srv.handleRetryPool).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/pool/{id}", srv.handleRemoveFromPool).Methods(http.MethodDelete)

	// Async generation
	r.HandleFunc("/api/v1/generation", srv.handleSubmitGeneration).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/generation", srv.handleListGeneration).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/generation/{task_id}", srv.handleGenerationStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/generation/{task_id}/cancel", srv.handleCancelGeneration).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/generation/{task_id}/retry", srv.handleRetryGeneration).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/generation/callback/{task_id}", srv.handleGenerationCallback).Methods(http.MethodPost)

	s := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	srv.httpServer = s
	return srv
}

func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("HTTP server shutting down")
	return s.httpServer.Shutdown(ctx)
}
