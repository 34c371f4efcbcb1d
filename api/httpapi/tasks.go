package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/oychao1988/content-hub-sub002/internal/scheduler"
	"github.com/oychao1988/content-hub-sub002/internal/store"
)

type createTaskRequest struct {
	Name         string          `json:"name" validate:"required,max=128"`
	Description  string          `json:"description" validate:"max=512"`
	TaskType     string          `json:"task_type" validate:"required,max=64"`
	CronExpr     string          `json:"cron_expression"`
	Interval     int             `json:"interval" validate:"min=0"`
	IntervalUnit string          `json:"interval_unit" validate:"omitempty,oneof=seconds minutes hours days"`
	Params       json.RawMessage `json:"params"`
	IsActive     *bool           `json:"is_active"`
}

type taskResponse struct {
	Task store.ScheduledTask `json:"task"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if !s.decodeValid(w, r, &req) {
		return
	}

	hasCron := req.CronExpr != ""
	hasInterval := req.Interval > 0
	if hasCron == hasInterval {
		writeErr(w, http.StatusBadRequest, "validation_error", "exactly one of cron_expression or interval must be set")
		return
	}
	if hasInterval && req.IntervalUnit == "" {
		writeErr(w, http.StatusBadRequest, "validation_error", "interval_unit is required with interval")
		return
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	task, err := s.store.CreateScheduledTask(r.Context(), store.CreateScheduledTaskParams{
		Name:         req.Name,
		Description:  req.Description,
		TaskType:     req.TaskType,
		CronExpr:     req.CronExpr,
		Interval:     req.Interval,
		IntervalUnit: req.IntervalUnit,
		Params:       req.Params,
		IsActive:     isActive,
	})
	if err != nil {
		writeStoreErr(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, taskResponse{Task: *task})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeErr(w, http.StatusBadRequest, "validation_error", "invalid task id")
		return
	}
	task, err := s.store.GetScheduledTask(r.Context(), id)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, taskResponse{Task: *task})
}

type updateTaskRequest struct {
	Description  *string         `json:"description" validate:"omitempty,max=512"`
	CronExpr     *string         `json:"cron_expression"`
	Interval     *int            `json:"interval" validate:"omitempty,min=1"`
	IntervalUnit *string         `json:"interval_unit" validate:"omitempty,oneof=seconds minutes hours days"`
	Params       json.RawMessage `json:"params"`
	IsActive     *bool           `json:"is_active"`
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeErr(w, http.StatusBadRequest, "validation_error", "invalid task id")
		return
	}
	var req updateTaskRequest
	if !s.decodeValid(w, r, &req) {
		return
	}

	task, err := s.store.UpdateScheduledTask(r.Context(), id, store.UpdateScheduledTaskParams{
		Description:  req.Description,
		CronExpr:     req.CronExpr,
		Interval:     req.Interval,
		IntervalUnit: req.IntervalUnit,
		Params:       req.Params,
		IsActive:     req.IsActive,
	})
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, taskResponse{Task: *task})
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeErr(w, http.StatusBadRequest, "validation_error", "invalid task id")
		return
	}
	if err := s.store.DeleteScheduledTask(r.Context(), id); err != nil {
		writeStoreErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type listTasksResponse struct {
	Items  []store.ScheduledTask `json:"items"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	qp := r.URL.Query()

	var isActive *bool
	if v := qp.Get("is_active"); v != "" {
		b := v == "true"
		if v != "true" && v != "false" {
			writeErr(w, http.StatusBadRequest, "validation_error", "is_active must be true or false")
			return
		}
		isActive = &b
	}

	var taskType *string
	if v := qp.Get("task_type"); v != "" {
		taskType = &v
	}

	limit, ok := queryInt(r, "limit", 50)
	if !ok || limit < 1 || limit > 200 {
		writeErr(w, http.StatusBadRequest, "validation_error", "limit must be 1..200")
		return
	}
	offset, ok := queryInt(r, "offset", 0)
	if !ok || offset < 0 {
		writeErr(w, http.StatusBadRequest, "validation_error", "offset must be >= 0")
		return
	}

	items, err := s.store.ListScheduledTasks(r.Context(), store.ListScheduledTasksParams{
		IsActive: isActive,
		TaskType: taskType,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, listTasksResponse{Items: items, Limit: limit, Offset: offset})
}

type triggerTaskResponse struct {
	Execution store.TaskExecution `json:"execution"`
}

func (s *Server) handleTriggerTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeErr(w, http.StatusBadRequest, "validation_error", "invalid task id")
		return
	}

	exec, err := s.trigger.TriggerTask(r.Context(), id)
	if err != nil {
		if errors.Is(err, scheduler.ErrAlreadyRunning) {
			writeErr(w, http.StatusConflict, "already_running", "task is already running")
			return
		}
		writeStoreErr(w, err)
		return
	}

	s.logger.Info("task triggered manually",
		zap.Int64("task_id", id),
		zap.String("status", string(exec.Status)),
	)
	writeJSON(w, http.StatusOK, triggerTaskResponse{Execution: *exec})
}

type listExecutionsResponse struct {
	Items []store.TaskExecution `json:"items"`
	Limit int                   `json:"limit"`
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeErr(w, http.StatusBadRequest, "validation_error", "invalid task id")
		return
	}
	limit, ok := queryInt(r, "limit", 50)
	if !ok || limit < 1 || limit > 200 {
		writeErr(w, http.StatusBadRequest, "validation_error", "limit must be 1..200")
		return
	}

	// confirm the task exists so an empty history 404s correctly
	if _, err := s.store.GetScheduledTask(r.Context(), id); err != nil {
		writeStoreErr(w, err)
		return
	}

	items, err := s.store.ListExecutions(r.Context(), id, limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, listExecutionsResponse{Items: items, Limit: limit})
}
