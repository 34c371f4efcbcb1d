package executor

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/oychao1988/content-hub-sub002/internal/store"
)

// ContentStore is the slice of storage the approval executors need.
type ContentStore interface {
	GetContent(ctx context.Context, id int64) (*store.Content, error)
	ApproveContent(ctx context.Context, id int64) (*store.Content, error)
}

// ApproveExecutor flips a content's review status to approved. Re-running
// on an already approved content succeeds, so workflows can replay it.
type ApproveExecutor struct {
	contents ContentStore
	log      *zap.Logger
}

func NewApproveExecutor(contents ContentStore, log *zap.Logger) *ApproveExecutor {
	return &ApproveExecutor{contents: contents, log: log}
}

func (e *ApproveExecutor) Type() string { return "approve" }

func (e *ApproveExecutor) ValidateParams(params map[string]any) bool {
	_, ok := paramInt64(params, "content_id")
	return ok
}

func (e *ApproveExecutor) Execute(ctx context.Context, taskID int64, params map[string]any) Result {
	contentID, ok := paramInt64(params, "content_id")
	if !ok {
		return Failure("missing or invalid content_id", nil)
	}

	c, err := e.contents.ApproveContent(ctx, contentID)
	if errors.Is(err, store.ErrNotFound) {
		return Failure(fmt.Sprintf("content %d not found", contentID), err)
	}
	if errors.Is(err, store.ErrInvalidState) {
		return Failure(fmt.Sprintf("content %d is rejected and cannot be approved", contentID), err)
	}
	if err != nil {
		return Failure("approve content", err)
	}

	e.log.Info("content approved",
		zap.Int64("task_id", taskID),
		zap.Int64("content_id", c.ID),
	)
	return Success(fmt.Sprintf("content %d approved", c.ID), map[string]any{
		"content_id":    c.ID,
		"review_status": string(c.ReviewStatus),
	})
}
