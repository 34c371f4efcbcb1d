package httpapi

import (
	"net/http"
	"time"

	"github.com/oychao1988/content-hub-sub002/internal/store"
)

type addToPoolRequest struct {
	ContentID   int64      `json:"content_id" validate:"required,min=1"`
	Priority    int        `json:"priority" validate:"omitempty,min=1,max=10"`
	ScheduledAt *time.Time `json:"scheduled_at"`
	MaxRetries  int        `json:"max_retries" validate:"omitempty,min=1,max=10"`
}

type poolEntryResponse struct {
	Entry store.PoolEntry `json:"entry"`
}

func (s *Server) handleAddToPool(w http.ResponseWriter, r *http.Request) {
	var req addToPoolRequest
	if !s.decodeValid(w, r, &req) {
		return
	}

	// only approved content may queue for publication
	content, err := s.store.GetContent(r.Context(), req.ContentID)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	if content.ReviewStatus != store.ReviewApproved {
		writeErr(w, http.StatusConflict, "invalid_state", "content is not approved")
		return
	}

	entry, err := s.store.AddToPool(r.Context(), store.AddToPoolParams{
		ContentID:   req.ContentID,
		Priority:    req.Priority,
		ScheduledAt: req.ScheduledAt,
		MaxRetries:  req.MaxRetries,
	})
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, poolEntryResponse{Entry: *entry})
}

type listPoolResponse struct {
	Items  []store.PoolEntry `json:"items"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

func (s *Server) handleListPool(w http.ResponseWriter, r *http.Request) {
	var status *store.PoolStatus
	if v := r.URL.Query().Get("status"); v != "" {
		sv := store.PoolStatus(v)
		switch sv {
		case store.PoolPending, store.PoolPublishing, store.PoolPublished, store.PoolFailed:
			status = &sv
		default:
			writeErr(w, http.StatusBadRequest, "validation_error", "invalid status")
			return
		}
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

	items, err := s.store.ListPool(r.Context(), store.ListPoolParams{
		Status: status,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, listPoolResponse{Items: items, Limit: limit, Offset: offset})
}

func (s *Server) handlePoolStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.PoolStatistics(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRetryPool(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeErr(w, http.StatusBadRequest, "validation_error", "invalid pool entry id")
		return
	}
	entry, err := s.store.RetryPublishing(r.Context(), id)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, poolEntryResponse{Entry: *entry})
}

func (s *Server) handleRemoveFromPool(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeErr(w, http.StatusBadRequest, "validation_error", "invalid pool entry id")
		return
	}
	if err := s.store.RemoveFromPool(r.Context(), id); err != nil {
		writeStoreErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
