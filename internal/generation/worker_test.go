package generation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/oychao1988/content-hub-sub002/internal/creator"
	"github.com/oychao1988/content-hub-sub002/internal/store"
	"github.com/oychao1988/content-hub-sub002/internal/webhook"
)

// genStore mimics the conditional-update semantics of the real store:
// claims only move pending rows, completion only processing rows.
type genStore struct {
	mu       sync.Mutex
	tasks    map[string]*store.GenerationTask
	contents int64

	completions []store.CompleteWithContentParams
	completeErr error
	poolErr     error
}

func newGenStore(tasks ...*store.GenerationTask) *genStore {
	g := &genStore{tasks: map[string]*store.GenerationTask{}}
	for _, t := range tasks {
		g.tasks[t.TaskID] = t
	}
	return g
}

func (g *genStore) GetGenerationTask(ctx context.Context, taskID string) (*store.GenerationTask, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[taskID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (g *genStore) ClaimGenerationTask(ctx context.Context, taskID string, startedAt time.Time) (*store.GenerationTask, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[taskID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if t.Status != store.GenPending {
		return nil, store.ErrInvalidState
	}
	t.Status = store.GenProcessing
	t.StartedAt = &startedAt
	cp := *t
	return &cp, nil
}

func (g *genStore) FailGeneration(ctx context.Context, taskID string, reason string, completedAt time.Time) (*store.GenerationTask, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[taskID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if t.Status != store.GenProcessing {
		return nil, store.ErrInvalidState
	}
	t.Status = store.GenFailed
	t.ErrorMessage = &reason
	t.CompletedAt = &completedAt
	cp := *t
	return &cp, nil
}

func (g *genStore) TimeoutGeneration(ctx context.Context, taskID string, completedAt time.Time) (*store.GenerationTask, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[taskID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if t.Status != store.GenProcessing {
		return nil, store.ErrInvalidState
	}
	t.Status = store.GenTimeout
	msg := "generation deadline exceeded"
	t.ErrorMessage = &msg
	t.CompletedAt = &completedAt
	cp := *t
	return &cp, nil
}

func (g *genStore) CompleteWithContent(ctx context.Context, taskID string, p store.CompleteWithContentParams) (*store.CompletionResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.completeErr != nil {
		return nil, g.completeErr
	}
	t, ok := g.tasks[taskID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if t.Status != store.GenProcessing {
		return nil, store.ErrInvalidState
	}
	g.completions = append(g.completions, p)

	g.contents++
	content := &store.Content{ID: g.contents, Title: p.Title, Body: p.Body, ReviewStatus: store.ReviewPending}
	if p.Approve && g.poolErr == nil {
		content.ReviewStatus = store.ReviewApproved
	}

	t.Status = store.GenCompleted
	t.ContentID = &content.ID
	t.CompletedAt = &p.CompletedAt
	t.Result = p.Result
	res := &store.CompletionResult{Content: content, PoolErr: g.poolErr}
	if g.poolErr != nil {
		msg := "completed but not enqueued: " + g.poolErr.Error()
		t.ErrorMessage = &msg
	} else if p.EnqueuePool {
		res.PoolEntry = &store.PoolEntry{ID: 1, ContentID: content.ID, Status: store.PoolPending}
	}
	cp := *t
	res.Task = &cp
	return res, nil
}

type fakeGenerator struct {
	result *creator.GenerateResult
	err    error
	calls  int
}

func (f *fakeGenerator) Generate(ctx context.Context, req creator.GenerateRequest) (*creator.GenerateResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	payloads []webhook.Payload
	urls     []string
}

func (n *recordingNotifier) Notify(ctx context.Context, url string, p webhook.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.urls = append(n.urls, url)
	n.payloads = append(n.payloads, p)
	return nil
}

func pendingTask(taskID string, autoApprove bool) *store.GenerationTask {
	return &store.GenerationTask{
		ID:          1,
		TaskID:      taskID,
		AccountID:   7,
		Topic:       "autumn tea",
		Status:      store.GenPending,
		Priority:    5,
		MaxRetries:  3,
		SubmittedAt: time.Now().Add(-time.Second),
		TimeoutAt:   time.Now().Add(5 * time.Minute),
		AutoApprove: autoApprove,
	}
}

func TestHandleTaskCompletesAndEnqueues(t *testing.T) {
	st := newGenStore(pendingTask("task-abc123def456", true))
	gen := &fakeGenerator{result: &creator.GenerateResult{
		Title:     "Autumn Tea Notes",
		Content:   "a long enough body",
		WordCount: 420,
	}}
	w := NewWorker(st, gen, nil, zap.NewNop())

	if err := w.HandleTask(context.Background(), "task-abc123def456"); err != nil {
		t.Fatalf("HandleTask: %v", err)
	}

	task := st.tasks["task-abc123def456"]
	if task.Status != store.GenCompleted {
		t.Fatalf("status=%s, want completed", task.Status)
	}
	if task.ContentID == nil {
		t.Fatal("content_id not linked")
	}
	if len(st.completions) != 1 {
		t.Fatalf("completions=%d, want 1", len(st.completions))
	}
	p := st.completions[0]
	if !p.Approve || !p.EnqueuePool {
		t.Fatalf("auto-approve flags not threaded: %+v", p)
	}
	if p.WordCount != 420 {
		t.Fatalf("word_count=%d, want 420", p.WordCount)
	}
}

func TestHandleTaskWordCountFallback(t *testing.T) {
	st := newGenStore(pendingTask("task-000000000001", false))
	gen := &fakeGenerator{result: &creator.GenerateResult{Title: "t", Content: "四个汉字"}}
	w := NewWorker(st, gen, nil, zap.NewNop())

	if err := w.HandleTask(context.Background(), "task-000000000001"); err != nil {
		t.Fatalf("HandleTask: %v", err)
	}
	if got := st.completions[0].WordCount; got != 4 {
		t.Fatalf("word_count=%d, want rune count 4", got)
	}
	if st.completions[0].Approve {
		t.Fatal("auto_approve=false must not approve")
	}
}

func TestHandleTaskGeneratorFailure(t *testing.T) {
	st := newGenStore(pendingTask("task-deadbeef0001", true))
	gen := &fakeGenerator{err: errors.New("model unavailable")}
	w := NewWorker(st, gen, nil, zap.NewNop())

	if err := w.HandleTask(context.Background(), "task-deadbeef0001"); err != nil {
		t.Fatalf("HandleTask: %v", err)
	}
	task := st.tasks["task-deadbeef0001"]
	if task.Status != store.GenFailed {
		t.Fatalf("status=%s, want failed", task.Status)
	}
	if task.ErrorMessage == nil || !strings.Contains(*task.ErrorMessage, "model unavailable") {
		t.Fatalf("error_message=%v", task.ErrorMessage)
	}
}

// slowGenerator only returns once the per-task deadline cancels its context.
type slowGenerator struct{}

func (slowGenerator) Generate(ctx context.Context, req creator.GenerateRequest) (*creator.GenerateResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestHandleTaskDeadlineMovesToTimeout(t *testing.T) {
	callback := "https://hooks.example.com/content"
	task := pendingTask("task-deadbeef0002", true)
	task.TimeoutAt = time.Now().Add(50 * time.Millisecond)
	task.CallbackURL = &callback
	st := newGenStore(task)
	notifier := &recordingNotifier{}
	w := NewWorker(st, slowGenerator{}, notifier, zap.NewNop())

	if err := w.HandleTask(context.Background(), task.TaskID); err != nil {
		t.Fatalf("HandleTask: %v", err)
	}
	got := st.tasks[task.TaskID]
	if got.Status != store.GenTimeout {
		t.Fatalf("status=%s, want timeout", got.Status)
	}
	if got.ErrorMessage == nil || *got.ErrorMessage != "generation deadline exceeded" {
		t.Fatalf("error_message=%v", got.ErrorMessage)
	}
	if got.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}
	if len(notifier.payloads) != 1 || notifier.payloads[0].Status != string(store.GenTimeout) {
		t.Fatalf("notifications=%+v", notifier.payloads)
	}
}

func TestHandleTaskAcksTerminalDuplicate(t *testing.T) {
	done := pendingTask("task-111111111111", true)
	done.Status = store.GenCompleted
	st := newGenStore(done)
	gen := &fakeGenerator{result: &creator.GenerateResult{Title: "t", Content: "b"}}
	w := NewWorker(st, gen, nil, zap.NewNop())

	if err := w.HandleTask(context.Background(), "task-111111111111"); err != nil {
		t.Fatalf("HandleTask: %v", err)
	}
	if gen.calls != 0 {
		t.Fatal("generator must not run for a terminal task")
	}
}

func TestHandleTaskAcksUnknownTask(t *testing.T) {
	w := NewWorker(newGenStore(), &fakeGenerator{}, nil, zap.NewNop())
	if err := w.HandleTask(context.Background(), "task-ffffffffffff"); err != nil {
		t.Fatalf("unknown task must ack, got %v", err)
	}
}

func TestLateResultDiscarded(t *testing.T) {
	task := pendingTask("task-222222222222", true)
	st := newGenStore(task)
	w := NewWorker(st, nil, nil, zap.NewNop())

	// claim, then simulate the sweeper moving the row to timeout before
	// the result lands
	if _, err := st.ClaimGenerationTask(context.Background(), task.TaskID, time.Now()); err != nil {
		t.Fatalf("claim: %v", err)
	}
	st.tasks[task.TaskID].Status = store.GenTimeout

	claimed := *st.tasks[task.TaskID]
	claimed.Status = store.GenProcessing
	w.applyResult(context.Background(), &claimed, &creator.GenerateResult{Title: "t", Content: "b"}, time.Second)

	if st.tasks[task.TaskID].Status != store.GenTimeout {
		t.Fatalf("late result overwrote timeout: %s", st.tasks[task.TaskID].Status)
	}
	if len(st.completions) != 0 {
		t.Fatal("late result must not persist content")
	}
}

func TestApplyExternalResultClaimsPending(t *testing.T) {
	st := newGenStore(pendingTask("task-333333333333", true))
	w := NewWorker(st, nil, nil, zap.NewNop())

	err := w.ApplyExternalResult(context.Background(), "task-333333333333", &creator.GenerateResult{
		Title:   "pushed",
		Content: "result arrived via callback",
	})
	if err != nil {
		t.Fatalf("ApplyExternalResult: %v", err)
	}
	if st.tasks["task-333333333333"].Status != store.GenCompleted {
		t.Fatalf("status=%s, want completed", st.tasks["task-333333333333"].Status)
	}
}

func TestApplyExternalResultRejectsTerminal(t *testing.T) {
	task := pendingTask("task-444444444444", true)
	task.Status = store.GenCancelled
	st := newGenStore(task)
	w := NewWorker(st, nil, nil, zap.NewNop())

	err := w.ApplyExternalResult(context.Background(), "task-444444444444", &creator.GenerateResult{Title: "t", Content: "b"})
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestApplyExternalFailure(t *testing.T) {
	st := newGenStore(pendingTask("task-555555555555", true))
	w := NewWorker(st, nil, nil, zap.NewNop())

	if err := w.ApplyExternalFailure(context.Background(), "task-555555555555", "dispatch exhausted deliveries"); err != nil {
		t.Fatalf("ApplyExternalFailure: %v", err)
	}
	task := st.tasks["task-555555555555"]
	if task.Status != store.GenFailed {
		t.Fatalf("status=%s, want failed", task.Status)
	}
}

func TestTerminalWebhookDelivered(t *testing.T) {
	callback := "https://hooks.example.com/content"
	task := pendingTask("task-666666666666", false)
	task.CallbackURL = &callback
	st := newGenStore(task)
	gen := &fakeGenerator{result: &creator.GenerateResult{Title: "t", Content: "b"}}
	notifier := &recordingNotifier{}
	w := NewWorker(st, gen, notifier, zap.NewNop())

	if err := w.HandleTask(context.Background(), task.TaskID); err != nil {
		t.Fatalf("HandleTask: %v", err)
	}
	if len(notifier.payloads) != 1 {
		t.Fatalf("notifications=%d, want 1", len(notifier.payloads))
	}
	if notifier.urls[0] != callback {
		t.Fatalf("url=%s", notifier.urls[0])
	}
	p := notifier.payloads[0]
	if p.TaskID != task.TaskID || p.Status != string(store.GenCompleted) {
		t.Fatalf("payload=%+v", p)
	}
}

func TestCompletedButNotEnqueuedSurfaced(t *testing.T) {
	st := newGenStore(pendingTask("task-777777777777", true))
	st.poolErr = errors.New("duplicate pool entry")
	gen := &fakeGenerator{result: &creator.GenerateResult{Title: "t", Content: "b"}}
	w := NewWorker(st, gen, nil, zap.NewNop())

	if err := w.HandleTask(context.Background(), "task-777777777777"); err != nil {
		t.Fatalf("HandleTask: %v", err)
	}
	task := st.tasks["task-777777777777"]
	if task.Status != store.GenCompleted {
		t.Fatalf("status=%s, want completed despite pool failure", task.Status)
	}
	if task.ErrorMessage == nil || !strings.Contains(*task.ErrorMessage, "not enqueued") {
		t.Fatalf("error_message=%v", task.ErrorMessage)
	}
}
