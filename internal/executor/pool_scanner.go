package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/oychao1988/content-hub-sub002/internal/observability"
	"github.com/oychao1988/content-hub-sub002/internal/store"
)

// PoolScanStore is the slice of storage the scanner drives the publish
// state machine through.
type PoolScanStore interface {
	DuePending(ctx context.Context, now time.Time, limit int) ([]store.PoolEntry, error)
	ClaimForPublishing(ctx context.Context, id int64) (*store.PoolEntry, error)
	CompletePublishing(ctx context.Context, id int64, logID int64, publishedAt time.Time) (*store.PoolEntry, error)
	FailPublishing(ctx context.Context, id int64, reason string) (*store.PoolEntry, error)
	CreatePublishLog(ctx context.Context, p store.CreatePublishLogParams) (*store.PublishLog, error)
	GetContent(ctx context.Context, id int64) (*store.Content, error)
	MarkContentPublished(ctx context.Context, id int64, publishedAt time.Time) (*store.Content, error)
	GetAccount(ctx context.Context, id int64) (*store.Account, error)
}

// PublisherClient is the opaque platform-publishing contract. It returns
// the platform media id on success.
type PublisherClient interface {
	Publish(ctx context.Context, contentID, accountID int64, draft bool) (string, error)
}

// PoolScannerExecutor drains due pending pool entries in priority order.
// Each entry is claimed with a conditional update, so overlapping scans
// never publish the same content twice; a lost claim is skipped, not an
// error. Per-entry publish failures are recorded on the entry and the scan
// moves on.
type PoolScannerExecutor struct {
	pool      PoolScanStore
	publisher PublisherClient
	batchSize int
	log       *zap.Logger
}

func NewPoolScannerExecutor(pool PoolScanStore, publisher PublisherClient, batchSize int, log *zap.Logger) *PoolScannerExecutor {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &PoolScannerExecutor{pool: pool, publisher: publisher, batchSize: batchSize, log: log}
}

func (e *PoolScannerExecutor) Type() string { return "publish_pool_scanner" }

func (e *PoolScannerExecutor) ValidateParams(params map[string]any) bool {
	if _, ok := params["batch_size"]; ok {
		if n := paramInt(params, "batch_size", 0); n < 1 || n > 100 {
			return false
		}
	}
	if _, ok := params["draft"]; ok {
		if _, isBool := params["draft"].(bool); !isBool {
			return false
		}
	}
	return true
}

func (e *PoolScannerExecutor) Execute(ctx context.Context, taskID int64, params map[string]any) Result {
	batch := paramInt(params, "batch_size", e.batchSize)
	draft := paramBool(params, "draft", false)
	now := time.Now()

	entries, err := e.pool.DuePending(ctx, now, batch)
	if err != nil {
		return Failure("scan publish pool", err)
	}

	var published, failed, skipped int
	for _, entry := range entries {
		claimed, err := e.pool.ClaimForPublishing(ctx, entry.ID)
		if errors.Is(err, store.ErrInvalidState) || errors.Is(err, store.ErrNotFound) {
			skipped++
			continue
		}
		if err != nil {
			return Failure("claim pool entry", err)
		}

		if e.publishOne(ctx, claimed, draft) {
			published++
			observability.PoolPublishTotal.WithLabelValues("published").Inc()
		} else {
			failed++
			observability.PoolPublishTotal.WithLabelValues("failed").Inc()
		}
	}

	e.log.Info("publish pool scan finished",
		zap.Int64("task_id", taskID),
		zap.Int("scanned", len(entries)),
		zap.Int("published", published),
		zap.Int("failed", failed),
		zap.Int("skipped", skipped),
	)
	return Success(fmt.Sprintf("scanned %d entries, published %d", len(entries), published), map[string]any{
		"scanned":   len(entries),
		"published": published,
		"failed":    failed,
		"skipped":   skipped,
	})
}

// publishOne drives a claimed entry to published or failed. It reports
// success; every failure path records last_error on the entry.
func (e *PoolScannerExecutor) publishOne(ctx context.Context, entry *store.PoolEntry, draft bool) bool {
	content, err := e.pool.GetContent(ctx, entry.ContentID)
	if err != nil {
		e.failEntry(ctx, entry, fmt.Sprintf("load content: %v", err))
		return false
	}
	if content.ReviewStatus != store.ReviewApproved {
		e.failEntry(ctx, entry, fmt.Sprintf("content review_status is %s, not approved", content.ReviewStatus))
		return false
	}

	account, err := e.pool.GetAccount(ctx, content.AccountID)
	if err != nil {
		e.failEntry(ctx, entry, fmt.Sprintf("load account: %v", err))
		return false
	}

	mediaID, err := e.publisher.Publish(ctx, content.ID, content.AccountID, draft)
	if err != nil {
		e.failEntry(ctx, entry, fmt.Sprintf("publish call: %v", err))
		return false
	}

	publishedAt := time.Now()
	logRow, err := e.pool.CreatePublishLog(ctx, store.CreatePublishLogParams{
		AccountID:   content.AccountID,
		ContentID:   content.ID,
		Platform:    account.Platform,
		MediaID:     &mediaID,
		Status:      "published",
		PublishTime: &publishedAt,
	})
	if err != nil {
		e.failEntry(ctx, entry, fmt.Sprintf("record publish log: %v", err))
		return false
	}

	if _, err := e.pool.CompletePublishing(ctx, entry.ID, logRow.ID, publishedAt); err != nil {
		e.log.Error("pool entry published but completion failed",
			zap.Int64("pool_entry_id", entry.ID),
			zap.Error(err),
		)
		return false
	}
	if _, err := e.pool.MarkContentPublished(ctx, content.ID, publishedAt); err != nil {
		e.log.Error("content publish status update failed",
			zap.Int64("content_id", content.ID),
			zap.Error(err),
		)
	}
	return true
}

func (e *PoolScannerExecutor) failEntry(ctx context.Context, entry *store.PoolEntry, reason string) {
	if _, err := e.pool.FailPublishing(ctx, entry.ID, reason); err != nil {
		e.log.Error("recording pool failure failed",
			zap.Int64("pool_entry_id", entry.ID),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return
	}
	e.log.Warn("pool entry publish failed",
		zap.Int64("pool_entry_id", entry.ID),
		zap.Int64("content_id", entry.ContentID),
		zap.String("reason", reason),
	)
}
