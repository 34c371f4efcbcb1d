package executor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/oychao1988/content-hub-sub002/internal/generation"
	"github.com/oychao1988/content-hub-sub002/internal/store"
)

// GenerationSubmitter is the async-generation entry point the batch
// executor drives.
type GenerationSubmitter interface {
	Submit(ctx context.Context, p generation.SubmitParams) (*store.GenerationTask, error)
}

// AccountLister resolves the target accounts when the task params name none.
type AccountLister interface {
	ListAccounts(ctx context.Context, activeOnly bool) ([]store.Account, error)
}

// GenerationBatchExecutor submits one generation task per account/topic
// pair. Submission failures are counted per account and reported in the
// result data; one bad account never aborts the batch.
type GenerationBatchExecutor struct {
	submitter GenerationSubmitter
	accounts  AccountLister
	log       *zap.Logger
}

func NewGenerationBatchExecutor(submitter GenerationSubmitter, accounts AccountLister, log *zap.Logger) *GenerationBatchExecutor {
	return &GenerationBatchExecutor{submitter: submitter, accounts: accounts, log: log}
}

func (e *GenerationBatchExecutor) Type() string { return "async_content_generation" }

func (e *GenerationBatchExecutor) ValidateParams(params map[string]any) bool {
	topics, ok := paramStringSlice(params, "topics")
	if !ok || len(topics) == 0 {
		return false
	}
	if _, present := params["account_ids"]; present {
		if _, ok := paramInt64Slice(params, "account_ids"); !ok {
			return false
		}
	}
	if p := paramInt(params, "priority", 5); p < 1 || p > 10 {
		return false
	}
	return true
}

func (e *GenerationBatchExecutor) Execute(ctx context.Context, taskID int64, params map[string]any) Result {
	topics, ok := paramStringSlice(params, "topics")
	if !ok || len(topics) == 0 {
		return Failure("missing or invalid topics", nil)
	}

	accountIDs, hasAccounts := paramInt64Slice(params, "account_ids")
	if !hasAccounts {
		accounts, err := e.accounts.ListAccounts(ctx, true)
		if err != nil {
			return Failure("list accounts", err)
		}
		for _, a := range accounts {
			accountIDs = append(accountIDs, a.ID)
		}
	}
	if len(accountIDs) == 0 {
		return Failure("no target accounts", nil)
	}

	priority := paramInt(params, "priority", 5)
	autoApprove := paramBool(params, "auto_approve", true)
	category, _ := paramString(params, "category")
	tone, _ := paramString(params, "tone")

	var submitted, failed int
	perAccount := map[string]any{}
	for _, accountID := range accountIDs {
		var taskIDs []string
		var errCount int
		for _, topic := range topics {
			t, err := e.submitter.Submit(ctx, generation.SubmitParams{
				AccountID:   accountID,
				Topic:       topic,
				Category:    category,
				Tone:        tone,
				Priority:    priority,
				AutoApprove: autoApprove,
			})
			if err != nil {
				errCount++
				failed++
				e.log.Warn("generation submit failed",
					zap.Int64("scheduled_task_id", taskID),
					zap.Int64("account_id", accountID),
					zap.String("topic", topic),
					zap.Error(err),
				)
				continue
			}
			submitted++
			taskIDs = append(taskIDs, t.TaskID)
		}
		perAccount[fmt.Sprintf("%d", accountID)] = map[string]any{
			"submitted": len(taskIDs),
			"failed":    errCount,
			"task_ids":  taskIDs,
		}
	}

	msg := fmt.Sprintf("submitted %d generation tasks across %d accounts", submitted, len(accountIDs))
	if failed > 0 && submitted == 0 {
		return Failure(msg+fmt.Sprintf(", all %d submissions failed", failed), nil)
	}
	return Success(msg, map[string]any{
		"submitted": submitted,
		"failed":    failed,
		"accounts":  perAccount,
	})
}
