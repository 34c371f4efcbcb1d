// Package generation tracks async content-generation tasks from submission
// to terminal state.
package generation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/oychao1988/content-hub-sub002/internal/observability"
	"github.com/oychao1988/content-hub-sub002/internal/queue"
	"github.com/oychao1988/content-hub-sub002/internal/store"
)

// Store is the persistence slice the service needs.
type Store interface {
	CreateGenerationTask(ctx context.Context, p store.CreateGenerationTaskParams) (*store.GenerationTask, error)
	GetGenerationTask(ctx context.Context, taskID string) (*store.GenerationTask, error)
	ListGenerationTasks(ctx context.Context, p store.ListGenerationTasksParams) ([]store.GenerationTask, error)
	CancelGenerationTask(ctx context.Context, taskID string, now time.Time) (*store.GenerationTask, error)
	RetryGenerationTask(ctx context.Context, taskID string, timeoutAt time.Time) (*store.GenerationTask, error)
	GetAccount(ctx context.Context, id int64) (*store.Account, error)
}

// Dispatcher publishes dispatch messages for workers.
type Dispatcher interface {
	PublishDispatch(ctx context.Context, msg queue.DispatchMessage, header nats.Header) error
}

type Service struct {
	store      Store
	dispatch   Dispatcher
	timeout    time.Duration
	maxRetries int
	log        *zap.Logger
}

func NewService(st Store, dispatch Dispatcher, timeout time.Duration, maxRetries int, log *zap.Logger) *Service {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{store: st, dispatch: dispatch, timeout: timeout, maxRetries: maxRetries, log: log}
}

type SubmitParams struct {
	AccountID    int64
	Topic        string
	Keywords     string
	Category     string
	Requirements string
	Tone         string
	Priority     int
	AutoApprove  bool
	CallbackURL  *string
}

// NewTaskID returns an external-facing id like task-3f2a18c94b07.
func NewTaskID() string {
	compact := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "task-" + compact[:12]
}

// Submit validates the request, records the task as pending with its
// deadline fixed now, and dispatches it onto the priority band. If the
// dispatch fails the pending row stays behind; the poller times it out and
// an explicit retry re-dispatches it.
func (s *Service) Submit(ctx context.Context, p SubmitParams) (*store.GenerationTask, error) {
	if strings.TrimSpace(p.Topic) == "" {
		return nil, fmt.Errorf("topic is required")
	}
	account, err := s.store.GetAccount(ctx, p.AccountID)
	if err != nil {
		return nil, fmt.Errorf("account %d: %w", p.AccountID, err)
	}
	if !account.IsActive {
		return nil, fmt.Errorf("account %d is inactive", p.AccountID)
	}

	priority := p.Priority
	if priority == 0 {
		priority = 5
	}
	if priority < 1 || priority > 10 {
		return nil, fmt.Errorf("priority must be between 1 and 10, got %d", priority)
	}

	now := time.Now()
	task, err := s.store.CreateGenerationTask(ctx, store.CreateGenerationTaskParams{
		TaskID:       NewTaskID(),
		AccountID:    p.AccountID,
		Topic:        strings.TrimSpace(p.Topic),
		Keywords:     p.Keywords,
		Category:     p.Category,
		Requirements: p.Requirements,
		Tone:         p.Tone,
		Priority:     priority,
		MaxRetries:   s.maxRetries,
		TimeoutAt:    now.Add(s.timeout),
		AutoApprove:  p.AutoApprove,
		CallbackURL:  p.CallbackURL,
	})
	if err != nil {
		return nil, err
	}

	observability.GenerationTasksTotal.WithLabelValues("submitted").Inc()
	s.log.Info("generation task submitted",
		zap.String("task_id", task.TaskID),
		zap.Int64("account_id", task.AccountID),
		zap.String("topic", task.Topic),
		zap.Int("priority", task.Priority),
		zap.Time("timeout_at", task.TimeoutAt),
	)

	if err := s.dispatchTask(ctx, task); err != nil {
		s.log.Error("dispatch failed, task stays pending until retried or timed out",
			zap.String("task_id", task.TaskID),
			zap.Error(err),
		)
	}
	return task, nil
}

func (s *Service) dispatchTask(ctx context.Context, task *store.GenerationTask) error {
	header := nats.Header{}
	otel.GetTextMapPropagator().Inject(ctx, observability.NATSHeaderCarrier{H: header})
	return s.dispatch.PublishDispatch(ctx, queue.DispatchMessage{
		TaskID:   task.TaskID,
		Priority: task.Priority,
	}, header)
}

func (s *Service) Status(ctx context.Context, taskID string) (*store.GenerationTask, error) {
	return s.store.GetGenerationTask(ctx, taskID)
}

func (s *Service) List(ctx context.Context, p store.ListGenerationTasksParams) ([]store.GenerationTask, error) {
	return s.store.ListGenerationTasks(ctx, p)
}

// Cancel stops a task that has not reached a terminal state. A processing
// task is marked cancelled; its in-flight generator call is not aborted and
// the eventual result is discarded by the status check on completion.
func (s *Service) Cancel(ctx context.Context, taskID string) (*store.GenerationTask, error) {
	task, err := s.store.CancelGenerationTask(ctx, taskID, time.Now())
	if err != nil {
		return nil, err
	}
	observability.GenerationTasksTotal.WithLabelValues("cancelled").Inc()
	s.log.Info("generation task cancelled", zap.String("task_id", taskID))
	return task, nil
}

// Retry resets a failed or timed-out task to pending with a fresh deadline
// and re-dispatches it. Bounded by max_retries.
func (s *Service) Retry(ctx context.Context, taskID string) (*store.GenerationTask, error) {
	task, err := s.store.RetryGenerationTask(ctx, taskID, time.Now().Add(s.timeout))
	if err != nil {
		return nil, err
	}

	observability.GenerationTasksTotal.WithLabelValues("retried").Inc()
	s.log.Info("generation task retried",
		zap.String("task_id", taskID),
		zap.Int("retry_count", task.RetryCount),
	)

	if err := s.dispatchTask(ctx, task); err != nil {
		s.log.Error("re-dispatch failed", zap.String("task_id", taskID), zap.Error(err))
	}
	return task, nil
}
