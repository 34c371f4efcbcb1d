// Package scheduler owns the cron/interval clock that turns persisted task
// definitions into executions.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/oychao1988/content-hub-sub002/internal/executor"
	"github.com/oychao1988/content-hub-sub002/internal/observability"
	"github.com/oychao1988/content-hub-sub002/internal/store"
)

var (
	ErrAlreadyRunning  = errors.New("task is already running")
	ErrUnknownTaskType = errors.New("no executor registered for task type")
	ErrBadSchedule     = errors.New("invalid schedule")
)

// Store is the slice of persistence the scheduler needs.
type Store interface {
	ListActiveScheduledTasks(ctx context.Context) ([]store.ScheduledTask, error)
	GetScheduledTask(ctx context.Context, id int64) (*store.ScheduledTask, error)
	CreateExecution(ctx context.Context, taskID int64, startTime time.Time) (*store.TaskExecution, error)
	FinishExecution(ctx context.Context, id int64, p store.FinishExecutionParams) (*store.TaskExecution, error)
	UpdateRunTimes(ctx context.Context, id int64, lastRun time.Time, nextRun *time.Time) error
}

type entry struct {
	id   cron.EntryID
	spec string
}

// Scheduler loads active task definitions, registers them on a single cron
// clock, and dispatches fires to the executor registry. Each fire runs in
// its own goroutine; a fire that arrives while the previous run of the same
// task is still in flight is skipped with a warning.
type Scheduler struct {
	cron     *cron.Cron
	store    Store
	registry *executor.Registry
	log      *zap.Logger

	refreshEvery time.Duration

	mu       sync.Mutex
	entries  map[int64]entry
	inflight map[int64]bool

	stop chan struct{}
	wg   sync.WaitGroup
}

func New(st Store, registry *executor.Registry, refreshEvery time.Duration, log *zap.Logger) *Scheduler {
	if refreshEvery <= 0 {
		refreshEvery = 30 * time.Second
	}
	return &Scheduler{
		cron:         cron.New(),
		store:        st,
		registry:     registry,
		log:          log,
		refreshEvery: refreshEvery,
		entries:      map[int64]entry{},
		inflight:     map[int64]bool{},
		stop:         make(chan struct{}),
	}
}

// Start loads active tasks, starts the clock, and begins the refresh loop
// that picks up created/updated/deactivated definitions.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.refresh(ctx); err != nil {
		return fmt.Errorf("load scheduled tasks: %w", err)
	}
	s.cron.Start()

	s.wg.Add(1)
	go s.runRefresher()

	s.log.Info("scheduler started", zap.Int("tasks", len(s.entries)))
	return nil
}

// Stop halts the clock and waits for in-flight fires to finish.
func (s *Scheduler) Stop() {
	close(s.stop)
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) runRefresher() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.refreshEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.refresh(context.Background()); err != nil {
				s.log.Error("scheduler refresh failed", zap.Error(err))
			}
		case <-s.stop:
			return
		}
	}
}

// refresh reconciles the cron entries with the active task definitions:
// new tasks are added, deactivated ones removed, changed schedules re-added.
func (s *Scheduler) refresh(ctx context.Context) error {
	tasks, err := s.store.ListActiveScheduledTasks(ctx)
	if err != nil {
		return err
	}

	active := make(map[int64]store.ScheduledTask, len(tasks))
	for _, t := range tasks {
		active[t.ID] = t
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for taskID, e := range s.entries {
		t, ok := active[taskID]
		if ok && scheduleSpec(&t) == e.spec {
			continue
		}
		s.cron.Remove(e.id)
		delete(s.entries, taskID)
	}

	for taskID, t := range active {
		if _, ok := s.entries[taskID]; ok {
			continue
		}
		sched, spec, err := parseSchedule(&t)
		if err != nil {
			s.log.Error("skipping task with invalid schedule",
				zap.Int64("task_id", taskID),
				zap.String("name", t.Name),
				zap.Error(err),
			)
			continue
		}
		id := taskID
		entryID := s.cron.Schedule(sched, cron.FuncJob(func() {
			s.fire(id)
		}))
		s.entries[taskID] = entry{id: entryID, spec: spec}

		next := s.cron.Entry(entryID).Next
		if !next.IsZero() {
			if err := s.store.UpdateRunTimes(ctx, taskID, timeOrZero(t.LastRunTime), &next); err != nil && !errors.Is(err, store.ErrNotFound) {
				s.log.Warn("updating next_run_time failed", zap.Int64("task_id", taskID), zap.Error(err))
			}
		}
	}
	return nil
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// fire is the cron callback: one goroutine per fire so a slow executor
// never stalls the clock or other tasks.
func (s *Scheduler) fire(taskID int64) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.runTask(context.Background(), taskID, false); err != nil {
			if errors.Is(err, ErrAlreadyRunning) {
				return // already logged with task context
			}
			s.log.Error("scheduled fire failed", zap.Int64("task_id", taskID), zap.Error(err))
		}
	}()
}

// TriggerTask runs a task immediately, outside its schedule, and returns
// the finished execution record. Single-flight still applies.
func (s *Scheduler) TriggerTask(ctx context.Context, taskID int64) (*store.TaskExecution, error) {
	return s.runTask(ctx, taskID, true)
}

func (s *Scheduler) runTask(ctx context.Context, taskID int64, manual bool) (*store.TaskExecution, error) {
	task, err := s.store.GetScheduledTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !task.IsActive && !manual {
		return nil, nil
	}

	if !s.tryAcquire(taskID) {
		s.log.Warn("skipping fire, previous run still in flight",
			zap.Int64("task_id", taskID),
			zap.String("name", task.Name),
		)
		observability.ScheduledFiresTotal.WithLabelValues(task.TaskType, "skipped").Inc()
		return nil, ErrAlreadyRunning
	}
	defer s.release(taskID)

	start := time.Now()
	exec, err := s.store.CreateExecution(ctx, taskID, start)
	if err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}

	res := s.executeGuarded(ctx, task)
	end := time.Now()
	duration := end.Sub(start)

	status := store.ExecSuccess
	var errMsg *string
	if !res.Success {
		status = store.ExecFailed
		msg := res.Message
		if res.Error != "" {
			msg = res.Message + ": " + res.Error
		}
		errMsg = &msg
	}

	resultJSON, err := json.Marshal(res)
	if err != nil {
		s.log.Error("marshaling execution result failed", zap.Int64("task_id", taskID), zap.Error(err))
		resultJSON = nil
	}

	finished, err := s.store.FinishExecution(ctx, exec.ID, store.FinishExecutionParams{
		Status:       status,
		EndTime:      end,
		ErrorMessage: errMsg,
		Result:       resultJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("finish execution: %w", err)
	}

	next := s.nextRun(taskID)
	if err := s.store.UpdateRunTimes(ctx, taskID, start, next); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.log.Warn("updating run times failed", zap.Int64("task_id", taskID), zap.Error(err))
	}

	observability.ScheduledFiresTotal.WithLabelValues(task.TaskType, string(status)).Inc()
	observability.ExecutionDuration.WithLabelValues(task.TaskType).Observe(duration.Seconds())

	s.log.Info("task execution finished",
		zap.Int64("task_id", taskID),
		zap.String("name", task.Name),
		zap.String("task_type", task.TaskType),
		zap.String("status", string(status)),
		zap.Duration("duration", duration),
		zap.Bool("manual", manual),
	)
	return finished, nil
}

// executeGuarded resolves and runs the executor, converting unknown types,
// validation rejections, and panics into failure results so nothing an
// executor does can take down the scheduler loop.
func (s *Scheduler) executeGuarded(ctx context.Context, task *store.ScheduledTask) (res executor.Result) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("executor panicked",
				zap.Int64("task_id", task.ID),
				zap.String("task_type", task.TaskType),
				zap.Any("panic", r),
			)
			res = executor.Failure(fmt.Sprintf("executor panic: %v", r), nil)
		}
	}()

	exec, ok := s.registry.Get(task.TaskType)
	if !ok {
		return executor.Failure(fmt.Sprintf("unknown task type %q", task.TaskType), ErrUnknownTaskType)
	}

	params := map[string]any{}
	if len(task.Params) > 0 {
		if err := json.Unmarshal(task.Params, &params); err != nil {
			return executor.Failure("task params are not a JSON object", err)
		}
	}

	if !exec.ValidateParams(params) {
		return executor.Failure("task params failed validation", nil)
	}
	return exec.Execute(ctx, task.ID, params)
}

func (s *Scheduler) tryAcquire(taskID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[taskID] {
		return false
	}
	s.inflight[taskID] = true
	return true
}

func (s *Scheduler) release(taskID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, taskID)
}

func (s *Scheduler) nextRun(taskID int64) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[taskID]
	if !ok {
		return nil
	}
	next := s.cron.Entry(e.id).Next
	if next.IsZero() {
		return nil
	}
	return &next
}
