package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/oychao1988/content-hub-sub002/internal/creator"
	"github.com/oychao1988/content-hub-sub002/internal/observability"
	"github.com/oychao1988/content-hub-sub002/internal/store"
	"github.com/oychao1988/content-hub-sub002/internal/webhook"
)

// WorkerStore is the persistence slice the worker needs.
type WorkerStore interface {
	GetGenerationTask(ctx context.Context, taskID string) (*store.GenerationTask, error)
	ClaimGenerationTask(ctx context.Context, taskID string, startedAt time.Time) (*store.GenerationTask, error)
	FailGeneration(ctx context.Context, taskID string, reason string, completedAt time.Time) (*store.GenerationTask, error)
	TimeoutGeneration(ctx context.Context, taskID string, completedAt time.Time) (*store.GenerationTask, error)
	CompleteWithContent(ctx context.Context, taskID string, p store.CompleteWithContentParams) (*store.CompletionResult, error)
}

// Generator is the opaque content-generation contract.
type Generator interface {
	Generate(ctx context.Context, req creator.GenerateRequest) (*creator.GenerateResult, error)
}

// Notifier delivers terminal-state webhooks.
type Notifier interface {
	Notify(ctx context.Context, url string, p webhook.Payload) error
}

// Worker drives one dispatched generation task: claim, call the generator,
// then complete or fail. Every transition is a conditional update, so a
// duplicate delivery or a result arriving after cancellation/timeout is
// discarded rather than applied twice.
type Worker struct {
	store     WorkerStore
	generator Generator
	notifier  Notifier
	log       *zap.Logger
}

func NewWorker(st WorkerStore, generator Generator, notifier Notifier, log *zap.Logger) *Worker {
	return &Worker{store: st, generator: generator, notifier: notifier, log: log}
}

// HandleTask processes one dispatch message. A nil return means the
// message should be acked; an error asks the queue layer to redeliver.
func (w *Worker) HandleTask(ctx context.Context, taskID string) error {
	task, err := w.store.GetGenerationTask(ctx, taskID)
	if errors.Is(err, store.ErrNotFound) {
		w.log.Warn("dispatch for unknown generation task", zap.String("task_id", taskID))
		return nil
	}
	if err != nil {
		return err
	}
	if task.Status.Terminal() {
		return nil // duplicate delivery after completion
	}
	if task.Status == store.GenProcessing {
		return nil // another worker owns it
	}

	claimed, err := w.store.ClaimGenerationTask(ctx, taskID, time.Now())
	if errors.Is(err, store.ErrInvalidState) || errors.Is(err, store.ErrNotFound) {
		return nil // lost the claim race or task was cancelled/timed out
	}
	if err != nil {
		return err
	}

	observability.GenerationTasksTotal.WithLabelValues("claimed").Inc()
	w.log.Info("generation task claimed",
		zap.String("task_id", taskID),
		zap.Int64("account_id", claimed.AccountID),
		zap.String("topic", claimed.Topic),
	)

	genCtx, cancel := context.WithDeadline(ctx, claimed.TimeoutAt)
	defer cancel()

	start := time.Now()
	result, err := w.generator.Generate(genCtx, creator.GenerateRequest{
		AccountID:    claimed.AccountID,
		Topic:        claimed.Topic,
		Keywords:     claimed.Keywords,
		Category:     claimed.Category,
		Requirements: claimed.Requirements,
		Tone:         claimed.Tone,
	})
	elapsed := time.Since(start)

	if errors.Is(err, context.DeadlineExceeded) {
		w.applyTimeout(ctx, claimed, elapsed)
		return nil
	}
	if err != nil {
		w.applyFailure(ctx, claimed, fmt.Sprintf("generator: %v", err), elapsed)
		return nil
	}
	w.applyResult(ctx, claimed, result, elapsed)
	return nil
}

// ApplyExternalResult handles a generator that pushes its result instead of
// being awaited: the inbound callback endpoint delegates here.
func (w *Worker) ApplyExternalResult(ctx context.Context, taskID string, result *creator.GenerateResult) error {
	task, err := w.store.GetGenerationTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status.Terminal() {
		return store.ErrInvalidState
	}
	if task.Status == store.GenPending {
		task, err = w.store.ClaimGenerationTask(ctx, taskID, time.Now())
		if err != nil {
			return err
		}
	}
	w.applyResult(ctx, task, result, time.Since(task.SubmittedAt))
	return nil
}

// ApplyExternalFailure is the push-style counterpart for generator errors.
// It also serves exhausted queue deliveries.
func (w *Worker) ApplyExternalFailure(ctx context.Context, taskID string, reason string) error {
	task, err := w.store.GetGenerationTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status.Terminal() {
		return store.ErrInvalidState
	}
	if task.Status == store.GenPending {
		task, err = w.store.ClaimGenerationTask(ctx, taskID, time.Now())
		if err != nil {
			return err
		}
	}
	w.applyFailure(ctx, task, reason, time.Since(task.SubmittedAt))
	return nil
}

func (w *Worker) applyResult(ctx context.Context, task *store.GenerationTask, result *creator.GenerateResult, elapsed time.Duration) {
	wordCount := result.WordCount
	if wordCount == 0 {
		wordCount = utf8.RuneCountInString(result.Content)
	}

	images, err := json.Marshal(result.Images)
	if err != nil {
		images = []byte(`[]`)
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		resultJSON = nil
	}

	completion, err := w.store.CompleteWithContent(ctx, task.TaskID, store.CompleteWithContentParams{
		Title:       result.Title,
		Body:        result.Content,
		Topic:       task.Topic,
		Category:    task.Category,
		Images:      images,
		CoverImage:  result.CoverImage,
		WordCount:   wordCount,
		Result:      resultJSON,
		CompletedAt: time.Now(),
		Approve:     task.AutoApprove,
		EnqueuePool: task.AutoApprove,
	})
	if errors.Is(err, store.ErrInvalidState) {
		// swept to timeout or cancelled while we were generating
		observability.GenerationTasksTotal.WithLabelValues("discarded").Inc()
		w.log.Warn("discarding late generation result",
			zap.String("task_id", task.TaskID),
		)
		return
	}
	if err != nil {
		w.log.Error("persisting generation result failed",
			zap.String("task_id", task.TaskID),
			zap.Error(err),
		)
		w.applyFailure(ctx, task, fmt.Sprintf("persist result: %v", err), elapsed)
		return
	}

	observability.GenerationTasksTotal.WithLabelValues("completed").Inc()
	observability.GenerationDuration.WithLabelValues("completed").Observe(elapsed.Seconds())

	fields := []zap.Field{
		zap.String("task_id", task.TaskID),
		zap.Int64("content_id", completion.Content.ID),
		zap.Bool("auto_approve", task.AutoApprove),
		zap.Duration("elapsed", elapsed),
	}
	if completion.PoolErr != nil {
		fields = append(fields, zap.NamedError("pool_error", completion.PoolErr))
		w.log.Warn("generation completed but content was not enqueued", fields...)
	} else {
		w.log.Info("generation task completed", fields...)
	}

	w.notifyTerminal(ctx, completion.Task)
}

func (w *Worker) applyFailure(ctx context.Context, task *store.GenerationTask, reason string, elapsed time.Duration) {
	failed, err := w.store.FailGeneration(ctx, task.TaskID, reason, time.Now())
	if errors.Is(err, store.ErrInvalidState) {
		observability.GenerationTasksTotal.WithLabelValues("discarded").Inc()
		return
	}
	if err != nil {
		w.log.Error("recording generation failure failed",
			zap.String("task_id", task.TaskID),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return
	}

	observability.GenerationTasksTotal.WithLabelValues("failed").Inc()
	observability.GenerationDuration.WithLabelValues("failed").Observe(elapsed.Seconds())
	w.log.Warn("generation task failed",
		zap.String("task_id", task.TaskID),
		zap.String("reason", reason),
		zap.Duration("elapsed", elapsed),
	)

	w.notifyTerminal(ctx, failed)
}

// applyTimeout records a generator that outlived the task's deadline. The
// poller sweep races us here, so losing the conditional update is normal.
func (w *Worker) applyTimeout(ctx context.Context, task *store.GenerationTask, elapsed time.Duration) {
	timedOut, err := w.store.TimeoutGeneration(ctx, task.TaskID, time.Now())
	if errors.Is(err, store.ErrInvalidState) {
		observability.GenerationTasksTotal.WithLabelValues("discarded").Inc()
		return
	}
	if err != nil {
		w.log.Error("recording generation timeout failed",
			zap.String("task_id", task.TaskID),
			zap.Error(err),
		)
		return
	}

	observability.GenerationTasksTotal.WithLabelValues("timeout").Inc()
	observability.GenerationDuration.WithLabelValues("timeout").Observe(elapsed.Seconds())
	w.log.Warn("generation task timed out",
		zap.String("task_id", task.TaskID),
		zap.Time("timeout_at", task.TimeoutAt),
		zap.Duration("elapsed", elapsed),
	)

	w.notifyTerminal(ctx, timedOut)
}

// notifyTerminal fires the best-effort callback webhook. Errors are already
// logged by the notifier and never affect the task's state.
func (w *Worker) notifyTerminal(ctx context.Context, task *store.GenerationTask) {
	if task.CallbackURL == nil || *task.CallbackURL == "" || w.notifier == nil {
		return
	}
	p := webhook.Payload{
		TaskID: task.TaskID,
		Status: string(task.Status),
		Result: task.Result,
	}
	if task.ErrorMessage != nil {
		p.Error = *task.ErrorMessage
	}
	_ = w.notifier.Notify(ctx, *task.CallbackURL, p)
}
