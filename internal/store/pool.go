package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

const poolCols = `id, content_id, priority, scheduled_at, status, retry_count, max_retries,
       last_error, published_at, published_log_id, added_at, updated_at`

func scanPoolEntry(row pgx.Row) (*PoolEntry, error) {
	var e PoolEntry
	err := row.Scan(
		&e.ID, &e.ContentID, &e.Priority, &e.ScheduledAt, &e.Status, &e.RetryCount, &e.MaxRetries,
		&e.LastError, &e.PublishedAt, &e.PublishedLogID, &e.AddedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

type AddToPoolParams struct {
	ContentID   int64
	Priority    int
	ScheduledAt *time.Time
	MaxRetries  int
}

// AddToPool enqueues content for publication. One pool entry per content:
// a second add for the same content_id returns ErrAlreadyExists.
func (s *Store) AddToPool(ctx context.Context, p AddToPoolParams) (*PoolEntry, error) {
	priority := p.Priority
	if priority == 0 {
		priority = 5
	}
	maxRetries := p.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	q := `
INSERT INTO publish_pool (content_id, priority, scheduled_at, max_retries)
VALUES ($1, $2, $3, $4)
RETURNING ` + poolCols + `;
`
	e, err := scanPoolEntry(s.db.QueryRow(ctx, q, p.ContentID, priority, p.ScheduledAt, maxRetries))
	if isUniqueViolation(err) {
		return nil, ErrAlreadyExists
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Store) GetPoolEntry(ctx context.Context, id int64) (*PoolEntry, error) {
	q := `SELECT ` + poolCols + ` FROM publish_pool WHERE id = $1;`
	e, err := scanPoolEntry(s.db.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Store) GetPoolEntryByContent(ctx context.Context, contentID int64) (*PoolEntry, error) {
	q := `SELECT ` + poolCols + ` FROM publish_pool WHERE content_id = $1;`
	e, err := scanPoolEntry(s.db.QueryRow(ctx, q, contentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// DuePending returns pending entries whose scheduled_at has passed (or was
// never set), most urgent first. Ties on priority fall back to the earlier
// schedule, then to insertion order.
func (s *Store) DuePending(ctx context.Context, now time.Time, limit int) ([]PoolEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	q := `
SELECT ` + poolCols + `
FROM publish_pool
WHERE status = 'pending'
  AND (scheduled_at IS NULL OR scheduled_at <= $1)
ORDER BY priority ASC, scheduled_at ASC NULLS FIRST, added_at ASC
LIMIT $2;
`
	rows, err := s.db.Query(ctx, q, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]PoolEntry, 0, limit)
	for rows.Next() {
		e, err := scanPoolEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ClaimForPublishing moves pending -> publishing. A concurrent scanner that
// loses the race gets ErrInvalidState and must skip the entry.
func (s *Store) ClaimForPublishing(ctx context.Context, id int64) (*PoolEntry, error) {
	q := `
UPDATE publish_pool
SET status = 'publishing', updated_at = now()
WHERE id = $1 AND status = 'pending'
RETURNING ` + poolCols + `;
`
	e, err := scanPoolEntry(s.db.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		_, getErr := s.GetPoolEntry(ctx, id)
		if getErr == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, ErrInvalidState
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// CompletePublishing moves publishing -> published and links the publish log.
func (s *Store) CompletePublishing(ctx context.Context, id int64, logID int64, publishedAt time.Time) (*PoolEntry, error) {
	q := `
UPDATE publish_pool
SET status = 'published', published_at = $2, published_log_id = $3, last_error = NULL, updated_at = now()
WHERE id = $1 AND status = 'publishing'
RETURNING ` + poolCols + `;
`
	e, err := scanPoolEntry(s.db.QueryRow(ctx, q, id, publishedAt, logID))
	if errors.Is(err, pgx.ErrNoRows) {
		_, getErr := s.GetPoolEntry(ctx, id)
		if getErr == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, ErrInvalidState
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// FailPublishing moves publishing -> failed and records the error. The retry
// counter is untouched here; it only advances on an explicit retry.
func (s *Store) FailPublishing(ctx context.Context, id int64, reason string) (*PoolEntry, error) {
	q := `
UPDATE publish_pool
SET status = 'failed', last_error = $2, updated_at = now()
WHERE id = $1 AND status = 'publishing'
RETURNING ` + poolCols + `;
`
	e, err := scanPoolEntry(s.db.QueryRow(ctx, q, id, reason))
	if errors.Is(err, pgx.ErrNoRows) {
		_, getErr := s.GetPoolEntry(ctx, id)
		if getErr == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, ErrInvalidState
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// RetryPublishing moves failed -> pending and consumes one retry. Once
// retry_count reaches max_retries the entry is stuck in failed and the call
// returns ErrRetryExhausted.
func (s *Store) RetryPublishing(ctx context.Context, id int64) (*PoolEntry, error) {
	q := `
UPDATE publish_pool
SET status = 'pending', retry_count = retry_count + 1, updated_at = now()
WHERE id = $1 AND status = 'failed' AND retry_count < max_retries
RETURNING ` + poolCols + `;
`
	e, err := scanPoolEntry(s.db.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		cur, getErr := s.GetPoolEntry(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if cur.Status == PoolFailed {
			return nil, ErrRetryExhausted
		}
		return nil, ErrInvalidState
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Store) RemoveFromPool(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM publish_pool WHERE id = $1;`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type ListPoolParams struct {
	Status *PoolStatus
	Limit  int
	Offset int
}

func (s *Store) ListPool(ctx context.Context, p ListPoolParams) ([]PoolEntry, error) {
	limit := p.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := p.Offset
	if offset < 0 {
		offset = 0
	}

	q := `
SELECT ` + poolCols + `
FROM publish_pool
WHERE ($1::text IS NULL OR status = $1)
ORDER BY priority ASC, scheduled_at ASC NULLS FIRST, added_at ASC
LIMIT $2 OFFSET $3;
`
	var status *string
	if p.Status != nil {
		sv := string(*p.Status)
		status = &sv
	}

	rows, err := s.db.Query(ctx, q, status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]PoolEntry, 0, limit)
	for rows.Next() {
		e, err := scanPoolEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type PoolStats struct {
	Pending    int64 `json:"pending"`
	Publishing int64 `json:"publishing"`
	Published  int64 `json:"published"`
	Failed     int64 `json:"failed"`
	Total      int64 `json:"total"`
}

func (s *Store) PoolStatistics(ctx context.Context) (*PoolStats, error) {
	q := `
SELECT
  COUNT(*) FILTER (WHERE status = 'pending'),
  COUNT(*) FILTER (WHERE status = 'publishing'),
  COUNT(*) FILTER (WHERE status = 'published'),
  COUNT(*) FILTER (WHERE status = 'failed'),
  COUNT(*)
FROM publish_pool;
`
	var st PoolStats
	if err := s.db.QueryRow(ctx, q).Scan(&st.Pending, &st.Publishing, &st.Published, &st.Failed, &st.Total); err != nil {
		return nil, err
	}
	return &st, nil
}

type CreatePublishLogParams struct {
	AccountID    int64
	ContentID    int64
	Platform     string
	MediaID      *string
	Status       string
	ErrorMessage *string
	PublishTime  *time.Time
}

func (s *Store) CreatePublishLog(ctx context.Context, p CreatePublishLogParams) (*PublishLog, error) {
	q := `
INSERT INTO publish_logs (account_id, content_id, platform, media_id, status, error_message, publish_time)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, account_id, content_id, platform, media_id, status, error_message, publish_time, created_at;
`
	var l PublishLog
	err := s.db.QueryRow(ctx, q,
		p.AccountID, p.ContentID, p.Platform, p.MediaID, p.Status, p.ErrorMessage, p.PublishTime,
	).Scan(&l.ID, &l.AccountID, &l.ContentID, &l.Platform, &l.MediaID, &l.Status, &l.ErrorMessage, &l.PublishTime, &l.CreatedAt)
	if isUniqueViolation(err) {
		return nil, ErrAlreadyExists
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}
