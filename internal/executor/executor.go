// Package executor defines the pluggable task-type protocol and the
// registry that the scheduler dispatches through.
package executor

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Result is the tagged outcome of one executor run.
type Result struct {
	Success  bool           `json:"success"`
	Message  string         `json:"message"`
	Data     map[string]any `json:"data,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func Success(message string, data map[string]any) Result {
	return Result{Success: true, Message: message, Data: data}
}

func Failure(message string, err error) Result {
	r := Result{Success: false, Message: message}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// Executor is one named task type. ValidateParams is a pure structural
// check and must not touch storage; Execute carries the side effects and
// should tolerate re-runs after partial failure.
type Executor interface {
	Type() string
	ValidateParams(params map[string]any) bool
	Execute(ctx context.Context, taskID int64, params map[string]any) Result
}

// Registry maps task_type to executor. One instance is built at process
// start and handed to whatever needs to dispatch or register.
type Registry struct {
	mu    sync.RWMutex
	execs map[string]Executor
	log   *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{execs: map[string]Executor{}, log: log}
}

// Register installs e under its Type. Re-registering a type replaces the
// previous executor (last wins) and is logged.
func (r *Registry) Register(e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.execs[e.Type()]; exists {
		r.log.Warn("replacing registered executor", zap.String("task_type", e.Type()))
	}
	r.execs[e.Type()] = e
}

func (r *Registry) Get(taskType string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.execs[taskType]
	return e, ok
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.execs))
	for t := range r.execs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
