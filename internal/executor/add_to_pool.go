package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/oychao1988/content-hub-sub002/internal/store"
)

// PoolAdder is the slice of storage the enqueue executor needs.
type PoolAdder interface {
	ContentStore
	AddToPool(ctx context.Context, p store.AddToPoolParams) (*store.PoolEntry, error)
}

// AddToPoolExecutor enqueues a content item for publication, optionally
// approving it first. A content that already has a live pool entry is
// rejected, not silently re-queued.
type AddToPoolExecutor struct {
	pool PoolAdder
	log  *zap.Logger
}

func NewAddToPoolExecutor(pool PoolAdder, log *zap.Logger) *AddToPoolExecutor {
	return &AddToPoolExecutor{pool: pool, log: log}
}

func (e *AddToPoolExecutor) Type() string { return "add_to_pool" }

func (e *AddToPoolExecutor) ValidateParams(params map[string]any) bool {
	if _, ok := paramInt64(params, "content_id"); !ok {
		return false
	}
	if p := paramInt(params, "priority", 5); p < 1 || p > 10 {
		return false
	}
	if _, ok := paramTime(params, "scheduled_at"); !ok {
		return false
	}
	return true
}

func (e *AddToPoolExecutor) Execute(ctx context.Context, taskID int64, params map[string]any) Result {
	contentID, ok := paramInt64(params, "content_id")
	if !ok {
		return Failure("missing or invalid content_id", nil)
	}
	priority := paramInt(params, "priority", 5)
	scheduledAt, _ := paramTime(params, "scheduled_at")

	if paramBool(params, "auto_approve", false) {
		if _, err := e.pool.ApproveContent(ctx, contentID); err != nil {
			return Failure(fmt.Sprintf("approve content %d before enqueue", contentID), err)
		}
	}

	entry, err := e.pool.AddToPool(ctx, store.AddToPoolParams{
		ContentID:   contentID,
		Priority:    priority,
		ScheduledAt: scheduledAt,
		MaxRetries:  paramInt(params, "max_retries", 0),
	})
	if errors.Is(err, store.ErrAlreadyExists) {
		return Failure(fmt.Sprintf("content %d already has a pool entry", contentID), err)
	}
	if err != nil {
		return Failure("add to publish pool", err)
	}

	e.log.Info("content enqueued for publication",
		zap.Int64("task_id", taskID),
		zap.Int64("content_id", contentID),
		zap.Int64("pool_entry_id", entry.ID),
		zap.Int("priority", entry.Priority),
	)

	data := map[string]any{
		"pool_entry_id": entry.ID,
		"content_id":    entry.ContentID,
		"priority":      entry.Priority,
	}
	if entry.ScheduledAt != nil {
		data["scheduled_at"] = entry.ScheduledAt.Format(time.RFC3339)
	}
	return Success(fmt.Sprintf("content %d enqueued", contentID), data)
}
