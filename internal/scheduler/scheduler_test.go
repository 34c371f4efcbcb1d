package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/oychao1988/content-hub-sub002/internal/executor"
	"github.com/oychao1988/content-hub-sub002/internal/store"
)

// memStore is an in-memory scheduler.Store.
type memStore struct {
	mu         sync.Mutex
	tasks      map[int64]*store.ScheduledTask
	executions map[int64]*store.TaskExecution
	nextExec   int64
}

func newMemStore(tasks ...*store.ScheduledTask) *memStore {
	m := &memStore{tasks: map[int64]*store.ScheduledTask{}, executions: map[int64]*store.TaskExecution{}}
	for _, t := range tasks {
		m.tasks[t.ID] = t
	}
	return m
}

func (m *memStore) ListActiveScheduledTasks(ctx context.Context) ([]store.ScheduledTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.ScheduledTask
	for _, t := range m.tasks {
		if t.IsActive {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memStore) GetScheduledTask(ctx context.Context, id int64) (*store.ScheduledTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) CreateExecution(ctx context.Context, taskID int64, startTime time.Time) (*store.TaskExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextExec++
	e := &store.TaskExecution{ID: m.nextExec, TaskID: taskID, Status: store.ExecRunning, StartTime: startTime}
	m.executions[e.ID] = e
	return e, nil
}

func (m *memStore) FinishExecution(ctx context.Context, id int64, p store.FinishExecutionParams) (*store.TaskExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if e.Status != store.ExecRunning {
		return nil, store.ErrInvalidState
	}
	e.Status = p.Status
	e.EndTime = &p.EndTime
	d := p.EndTime.Sub(e.StartTime).Seconds()
	e.Duration = &d
	e.ErrorMessage = p.ErrorMessage
	e.Result = p.Result
	cp := *e
	return &cp, nil
}

func (m *memStore) UpdateRunTimes(ctx context.Context, id int64, lastRun time.Time, nextRun *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return store.ErrNotFound
	}
	t.LastRunTime = &lastRun
	t.NextRunTime = nextRun
	return nil
}

type scriptedExecutor struct {
	typeName string
	validate bool
	run      func(ctx context.Context, taskID int64, params map[string]any) executor.Result
}

func (s *scriptedExecutor) Type() string                              { return s.typeName }
func (s *scriptedExecutor) ValidateParams(params map[string]any) bool { return s.validate }
func (s *scriptedExecutor) Execute(ctx context.Context, taskID int64, params map[string]any) executor.Result {
	return s.run(ctx, taskID, params)
}

func testTask(id int64, taskType string) *store.ScheduledTask {
	return &store.ScheduledTask{
		ID:       id,
		Name:     "test-task",
		TaskType: taskType,
		CronExpr: "0 9 * * *",
		Params:   json.RawMessage(`{}`),
		IsActive: true,
	}
}

func newTestScheduler(st Store, execs ...executor.Executor) *Scheduler {
	reg := executor.NewRegistry(zap.NewNop())
	for _, e := range execs {
		reg.Register(e)
	}
	return New(st, reg, time.Minute, zap.NewNop())
}

func TestTriggerTaskRecordsSuccess(t *testing.T) {
	ms := newMemStore(testTask(1, "noop"))
	sched := newTestScheduler(ms, &scriptedExecutor{
		typeName: "noop",
		validate: true,
		run: func(ctx context.Context, taskID int64, params map[string]any) executor.Result {
			return executor.Success("done", map[string]any{"n": 1})
		},
	})

	exec, err := sched.TriggerTask(context.Background(), 1)
	if err != nil {
		t.Fatalf("TriggerTask: %v", err)
	}
	if exec.Status != store.ExecSuccess {
		t.Fatalf("status=%s, want success", exec.Status)
	}
	if exec.EndTime == nil || exec.Duration == nil {
		t.Fatal("execution not finalized")
	}

	var res executor.Result
	if err := json.Unmarshal(exec.Result, &res); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if !res.Success || res.Message != "done" {
		t.Fatalf("persisted result=%+v", res)
	}

	if ms.tasks[1].LastRunTime == nil {
		t.Fatal("last_run_time not updated")
	}
}

func TestTriggerTaskRecordsFailure(t *testing.T) {
	ms := newMemStore(testTask(1, "boom"))
	sched := newTestScheduler(ms, &scriptedExecutor{
		typeName: "boom",
		validate: true,
		run: func(ctx context.Context, taskID int64, params map[string]any) executor.Result {
			return executor.Failure("it broke", errors.New("downstream"))
		},
	})

	exec, err := sched.TriggerTask(context.Background(), 1)
	if err != nil {
		t.Fatalf("TriggerTask: %v", err)
	}
	if exec.Status != store.ExecFailed {
		t.Fatalf("status=%s, want failed", exec.Status)
	}
	if exec.ErrorMessage == nil || !strings.Contains(*exec.ErrorMessage, "it broke") {
		t.Fatalf("error_message=%v", exec.ErrorMessage)
	}
}

func TestTriggerTaskRecoversPanic(t *testing.T) {
	ms := newMemStore(testTask(1, "panics"))
	sched := newTestScheduler(ms, &scriptedExecutor{
		typeName: "panics",
		validate: true,
		run: func(ctx context.Context, taskID int64, params map[string]any) executor.Result {
			panic("kaboom")
		},
	})

	exec, err := sched.TriggerTask(context.Background(), 1)
	if err != nil {
		t.Fatalf("TriggerTask: %v", err)
	}
	if exec.Status != store.ExecFailed {
		t.Fatalf("status=%s, want failed", exec.Status)
	}
	if exec.ErrorMessage == nil || !strings.Contains(*exec.ErrorMessage, "kaboom") {
		t.Fatalf("error_message=%v", exec.ErrorMessage)
	}
}

func TestTriggerTaskUnknownType(t *testing.T) {
	ms := newMemStore(testTask(1, "ghost"))
	sched := newTestScheduler(ms)

	exec, err := sched.TriggerTask(context.Background(), 1)
	if err != nil {
		t.Fatalf("TriggerTask: %v", err)
	}
	if exec.Status != store.ExecFailed {
		t.Fatalf("status=%s, want failed", exec.Status)
	}
}

func TestTriggerTaskValidationRejection(t *testing.T) {
	ms := newMemStore(testTask(1, "strict"))
	sched := newTestScheduler(ms, &scriptedExecutor{
		typeName: "strict",
		validate: false,
		run: func(ctx context.Context, taskID int64, params map[string]any) executor.Result {
			t.Fatal("execute must not run after validation rejection")
			return executor.Result{}
		},
	})

	exec, err := sched.TriggerTask(context.Background(), 1)
	if err != nil {
		t.Fatalf("TriggerTask: %v", err)
	}
	if exec.Status != store.ExecFailed {
		t.Fatalf("status=%s, want failed", exec.Status)
	}
}

func TestSingleFlightSkipsOverlappingRun(t *testing.T) {
	ms := newMemStore(testTask(1, "slow"))

	entered := make(chan struct{})
	release := make(chan struct{})
	sched := newTestScheduler(ms, &scriptedExecutor{
		typeName: "slow",
		validate: true,
		run: func(ctx context.Context, taskID int64, params map[string]any) executor.Result {
			close(entered)
			<-release
			return executor.Success("finally", nil)
		},
	})

	done := make(chan error, 1)
	go func() {
		_, err := sched.TriggerTask(context.Background(), 1)
		done <- err
	}()

	<-entered
	if _, err := sched.TriggerTask(context.Background(), 1); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}

	// finished run releases the slot
	if _, err := sched.TriggerTask(context.Background(), 1); err != nil {
		t.Fatalf("rerun after release: %v", err)
	}
}

func TestTriggerTaskNotFound(t *testing.T) {
	sched := newTestScheduler(newMemStore())
	if _, err := sched.TriggerTask(context.Background(), 42); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
