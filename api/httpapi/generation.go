package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/oychao1988/content-hub-sub002/internal/creator"
	"github.com/oychao1988/content-hub-sub002/internal/generation"
	"github.com/oychao1988/content-hub-sub002/internal/store"
	"github.com/oychao1988/content-hub-sub002/internal/webhook"
)

type submitGenerationRequest struct {
	AccountID    int64   `json:"account_id" validate:"required,min=1"`
	Topic        string  `json:"topic" validate:"required,max=256"`
	Keywords     string  `json:"keywords" validate:"max=512"`
	Category     string  `json:"category" validate:"max=64"`
	Requirements string  `json:"requirements" validate:"max=2048"`
	Tone         string  `json:"tone" validate:"max=64"`
	Priority     int     `json:"priority" validate:"omitempty,min=1,max=10"`
	AutoApprove  *bool   `json:"auto_approve"`
	CallbackURL  *string `json:"callback_url" validate:"omitempty,url"`
}

type generationTaskResponse struct {
	Task store.GenerationTask `json:"task"`
}

func (s *Server) handleSubmitGeneration(w http.ResponseWriter, r *http.Request) {
	var req submitGenerationRequest
	if !s.decodeValid(w, r, &req) {
		return
	}

	autoApprove := true
	if req.AutoApprove != nil {
		autoApprove = *req.AutoApprove
	}

	task, err := s.generation.Submit(r.Context(), generation.SubmitParams{
		AccountID:    req.AccountID,
		Topic:        req.Topic,
		Keywords:     req.Keywords,
		Category:     req.Category,
		Requirements: req.Requirements,
		Tone:         req.Tone,
		Priority:     req.Priority,
		AutoApprove:  autoApprove,
		CallbackURL:  req.CallbackURL,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		writeErr(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, generationTaskResponse{Task: *task})
}

func (s *Server) handleGenerationStatus(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["task_id"]
	task, err := s.generation.Status(r.Context(), taskID)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, generationTaskResponse{Task: *task})
}

type listGenerationResponse struct {
	Items  []store.GenerationTask `json:"items"`
	Limit  int                    `json:"limit"`
	Offset int                    `json:"offset"`
}

func (s *Server) handleListGeneration(w http.ResponseWriter, r *http.Request) {
	qp := r.URL.Query()

	var status *store.GenStatus
	if v := qp.Get("status"); v != "" {
		sv := store.GenStatus(v)
		switch sv {
		case store.GenPending, store.GenProcessing, store.GenCompleted, store.GenFailed, store.GenTimeout, store.GenCancelled:
			status = &sv
		default:
			writeErr(w, http.StatusBadRequest, "validation_error", "invalid status")
			return
		}
	}

	var accountID *int64
	if v, ok := queryInt(r, "account_id", 0); !ok || v < 0 {
		writeErr(w, http.StatusBadRequest, "validation_error", "invalid account_id")
		return
	} else if v > 0 {
		id := int64(v)
		accountID = &id
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

	items, err := s.generation.List(r.Context(), store.ListGenerationTasksParams{
		Status:    status,
		AccountID: accountID,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, listGenerationResponse{Items: items, Limit: limit, Offset: offset})
}

func (s *Server) handleCancelGeneration(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["task_id"]
	task, err := s.generation.Cancel(r.Context(), taskID)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, generationTaskResponse{Task: *task})
}

func (s *Server) handleRetryGeneration(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["task_id"]
	task, err := s.generation.Retry(r.Context(), taskID)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, generationTaskResponse{Task: *task})
}

type generationCallbackBody struct {
	Status string                  `json:"status"`
	Result *creator.GenerateResult `json:"result,omitempty"`
	Error  string                  `json:"error,omitempty"`
}

// handleGenerationCallback accepts a push-style result from the generator.
// The body must carry a valid HMAC when a webhook secret is configured.
func (s *Server) handleGenerationCallback(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["task_id"]

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	if s.webhookSecret != "" {
		sig := r.Header.Get(webhook.SignatureHeader)
		if sig == "" || !webhook.Verify(s.webhookSecret, body, sig) {
			s.logger.Warn("generation callback signature rejected", zap.String("task_id", taskID))
			writeErr(w, http.StatusUnauthorized, "invalid_signature", "signature verification failed")
			return
		}
	}

	var cb generationCallbackBody
	if err := json.Unmarshal(body, &cb); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	switch cb.Status {
	case "completed":
		if cb.Result == nil {
			writeErr(w, http.StatusBadRequest, "validation_error", "result is required for completed status")
			return
		}
		err = s.worker.ApplyExternalResult(r.Context(), taskID, cb.Result)
	case "failed":
		if cb.Error == "" {
			cb.Error = "generator reported failure"
		}
		err = s.worker.ApplyExternalFailure(r.Context(), taskID, cb.Error)
	default:
		writeErr(w, http.StatusBadRequest, "validation_error", "status must be completed or failed")
		return
	}
	if err != nil {
		writeStoreErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}
