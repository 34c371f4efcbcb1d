package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const generationCols = `id, task_id, content_id, account_id, topic, keywords, category, requirements, tone,
       status, priority, retry_count, max_retries, submitted_at, started_at, completed_at, timeout_at,
       result, error_message, auto_approve, callback_url, created_at, updated_at`

func scanGenerationTask(row pgx.Row) (*GenerationTask, error) {
	var t GenerationTask
	err := row.Scan(
		&t.ID, &t.TaskID, &t.ContentID, &t.AccountID, &t.Topic, &t.Keywords, &t.Category, &t.Requirements, &t.Tone,
		&t.Status, &t.Priority, &t.RetryCount, &t.MaxRetries, &t.SubmittedAt, &t.StartedAt, &t.CompletedAt, &t.TimeoutAt,
		&t.Result, &t.ErrorMessage, &t.AutoApprove, &t.CallbackURL, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

type CreateGenerationTaskParams struct {
	TaskID       string
	AccountID    int64
	Topic        string
	Keywords     string
	Category     string
	Requirements string
	Tone         string
	Priority     int
	MaxRetries   int
	TimeoutAt    time.Time
	AutoApprove  bool
	CallbackURL  *string
}

// CreateGenerationTask records a submission in status pending. TimeoutAt is
// fixed here: time spent waiting in the queue counts against the deadline.
func (s *Store) CreateGenerationTask(ctx context.Context, p CreateGenerationTaskParams) (*GenerationTask, error) {
	priority := p.Priority
	if priority == 0 {
		priority = 5
	}
	maxRetries := p.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	q := `
INSERT INTO content_generation_tasks
  (task_id, account_id, topic, keywords, category, requirements, tone, priority, max_retries, timeout_at, auto_approve, callback_url)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING ` + generationCols + `;
`
	t, err := scanGenerationTask(s.db.QueryRow(ctx, q,
		p.TaskID, p.AccountID, p.Topic, p.Keywords, p.Category, p.Requirements, p.Tone,
		priority, maxRetries, p.TimeoutAt, p.AutoApprove, p.CallbackURL,
	))
	if isUniqueViolation(err) {
		return nil, ErrAlreadyExists
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) GetGenerationTask(ctx context.Context, taskID string) (*GenerationTask, error) {
	q := `SELECT ` + generationCols + ` FROM content_generation_tasks WHERE task_id = $1;`
	t, err := scanGenerationTask(s.db.QueryRow(ctx, q, taskID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

type ListGenerationTasksParams struct {
	Status    *GenStatus
	AccountID *int64
	Limit     int
	Offset    int
}

func (s *Store) ListGenerationTasks(ctx context.Context, p ListGenerationTasksParams) ([]GenerationTask, error) {
	limit := p.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := p.Offset
	if offset < 0 {
		offset = 0
	}

	q := `
SELECT ` + generationCols + `
FROM content_generation_tasks
WHERE ($1::text IS NULL OR status = $1)
  AND ($2::bigint IS NULL OR account_id = $2)
ORDER BY submitted_at DESC
LIMIT $3 OFFSET $4;
`
	var status *string
	if p.Status != nil {
		sv := string(*p.Status)
		status = &sv
	}

	rows, err := s.db.Query(ctx, q, status, p.AccountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]GenerationTask, 0, limit)
	for rows.Next() {
		t, err := scanGenerationTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ClaimGenerationTask moves pending -> processing. Exactly one worker wins;
// losers (and claims on cancelled or timed-out tasks) get ErrInvalidState.
func (s *Store) ClaimGenerationTask(ctx context.Context, taskID string, startedAt time.Time) (*GenerationTask, error) {
	q := `
UPDATE content_generation_tasks
SET status = 'processing', started_at = $2, updated_at = now()
WHERE task_id = $1 AND status = 'pending'
RETURNING ` + generationCols + `;
`
	t, err := scanGenerationTask(s.db.QueryRow(ctx, q, taskID, startedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		_, getErr := s.GetGenerationTask(ctx, taskID)
		if getErr == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, ErrInvalidState
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// FailGeneration moves processing -> failed. A worker whose task was already
// swept to timeout gets ErrInvalidState and must drop the result.
func (s *Store) FailGeneration(ctx context.Context, taskID string, reason string, completedAt time.Time) (*GenerationTask, error) {
	q := `
UPDATE content_generation_tasks
SET status = 'failed', error_message = $2, completed_at = $3, updated_at = now()
WHERE task_id = $1 AND status = 'processing'
RETURNING ` + generationCols + `;
`
	t, err := scanGenerationTask(s.db.QueryRow(ctx, q, taskID, reason, completedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		_, getErr := s.GetGenerationTask(ctx, taskID)
		if getErr == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, ErrInvalidState
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// TimeoutGeneration moves processing -> timeout for a task whose deadline
// expired before the generator answered. Same race handling as FailGeneration.
func (s *Store) TimeoutGeneration(ctx context.Context, taskID string, completedAt time.Time) (*GenerationTask, error) {
	q := `
UPDATE content_generation_tasks
SET status = 'timeout', error_message = 'generation deadline exceeded', completed_at = $2, updated_at = now()
WHERE task_id = $1 AND status = 'processing'
RETURNING ` + generationCols + `;
`
	t, err := scanGenerationTask(s.db.QueryRow(ctx, q, taskID, completedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		_, getErr := s.GetGenerationTask(ctx, taskID)
		if getErr == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, ErrInvalidState
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// SweepTimedOut marks processing or pending tasks past their deadline as
// timed out and returns them, so callers can fan out notifications.
func (s *Store) SweepTimedOut(ctx context.Context, now time.Time) ([]GenerationTask, error) {
	q := `
UPDATE content_generation_tasks
SET status = 'timeout', error_message = 'generation deadline exceeded', completed_at = $1, updated_at = now()
WHERE status IN ('pending', 'processing') AND timeout_at <= $1
RETURNING ` + generationCols + `;
`
	rows, err := s.db.Query(ctx, q, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GenerationTask
	for rows.Next() {
		t, err := scanGenerationTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// CancelGenerationTask cancels a task that has not finished. Terminal tasks
// cannot be cancelled.
func (s *Store) CancelGenerationTask(ctx context.Context, taskID string, now time.Time) (*GenerationTask, error) {
	q := `
UPDATE content_generation_tasks
SET status = 'cancelled', completed_at = $2, updated_at = now()
WHERE task_id = $1 AND status IN ('pending', 'processing')
RETURNING ` + generationCols + `;
`
	t, err := scanGenerationTask(s.db.QueryRow(ctx, q, taskID, now))
	if errors.Is(err, pgx.ErrNoRows) {
		_, getErr := s.GetGenerationTask(ctx, taskID)
		if getErr == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, ErrInvalidState
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// RetryGenerationTask resets a failed or timed-out task to pending with a
// fresh deadline and consumes one retry.
func (s *Store) RetryGenerationTask(ctx context.Context, taskID string, timeoutAt time.Time) (*GenerationTask, error) {
	q := `
UPDATE content_generation_tasks
SET status = 'pending', retry_count = retry_count + 1, timeout_at = $2,
    started_at = NULL, completed_at = NULL, error_message = NULL, updated_at = now()
WHERE task_id = $1 AND status IN ('failed', 'timeout') AND retry_count < max_retries
RETURNING ` + generationCols + `;
`
	t, err := scanGenerationTask(s.db.QueryRow(ctx, q, taskID, timeoutAt))
	if errors.Is(err, pgx.ErrNoRows) {
		cur, getErr := s.GetGenerationTask(ctx, taskID)
		if getErr != nil {
			return nil, getErr
		}
		if cur.Status == GenFailed || cur.Status == GenTimeout {
			return nil, ErrRetryExhausted
		}
		return nil, ErrInvalidState
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

type CompleteWithContentParams struct {
	Title       string
	Body        string
	Topic       string
	Category    string
	Images      []byte // JSON array
	CoverImage  string
	WordCount   int
	Result      []byte // JSON
	CompletedAt time.Time

	// Post-completion steps, applied best effort inside the same
	// transaction. A pool enqueue that loses to an existing entry does not
	// fail the completion.
	Approve       bool
	EnqueuePool   bool
	PoolPriority  int
	PoolScheduled *time.Time
}

type CompletionResult struct {
	Task      *GenerationTask
	Content   *Content
	PoolEntry *PoolEntry // nil when not enqueued
	PoolErr   error      // non-nil when the enqueue step was rolled back
}

// CompleteWithContent persists the generated content and finishes the task
// in one transaction: the content row never exists without the task leaving
// processing, and vice versa. The approve/enqueue tail runs in a savepoint
// so its failure degrades to completed-but-unapproved instead of losing the
// generated content.
func (s *Store) CompleteWithContent(ctx context.Context, taskID string, p CompleteWithContentParams) (*CompletionResult, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// lock the task row while processing
	var t GenerationTask
	{
		q := `SELECT ` + generationCols + ` FROM content_generation_tasks WHERE task_id = $1 FOR UPDATE;`
		got, err := scanGenerationTask(tx.QueryRow(ctx, q, taskID))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		t = *got
	}
	if t.Status != GenProcessing {
		return nil, ErrInvalidState
	}

	images := p.Images
	if len(images) == 0 {
		images = []byte(`[]`)
	}

	var c Content
	{
		q := `
INSERT INTO contents (account_id, title, body, topic, category, images, cover_image, word_count, publish_status)
VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, 'draft')
RETURNING id, account_id, title, body, topic, category, images, cover_image, word_count,
          review_status, publish_status, published_at, created_at, updated_at;
`
		err := tx.QueryRow(ctx, q,
			t.AccountID, p.Title, p.Body, p.Topic, p.Category, images, p.CoverImage, p.WordCount,
		).Scan(
			&c.ID, &c.AccountID, &c.Title, &c.Body, &c.Topic, &c.Category, &c.Images, &c.CoverImage, &c.WordCount,
			&c.ReviewStatus, &c.PublishStatus, &c.PublishedAt, &c.CreatedAt, &c.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
	}

	{
		q := `
UPDATE content_generation_tasks
SET status = 'completed', content_id = $2, result = $3::jsonb, completed_at = $4, updated_at = now()
WHERE task_id = $1 AND status = 'processing'
RETURNING ` + generationCols + `;
`
		got, err := scanGenerationTask(tx.QueryRow(ctx, q, taskID, c.ID, p.Result, p.CompletedAt))
		if err != nil {
			return nil, err
		}
		t = *got
	}

	res := &CompletionResult{Task: &t, Content: &c}

	if p.Approve || p.EnqueuePool {
		if _, err := tx.Exec(ctx, `SAVEPOINT post_complete;`); err != nil {
			return nil, err
		}
		res.PoolErr = s.applyPostCompletion(ctx, tx, res, p)
		if res.PoolErr != nil {
			if _, err := tx.Exec(ctx, `ROLLBACK TO SAVEPOINT post_complete;`); err != nil {
				return nil, err
			}
			msg := fmt.Sprintf("completed but not enqueued: %v", res.PoolErr)
			got, err := scanGenerationTask(tx.QueryRow(ctx, `
UPDATE content_generation_tasks
SET error_message = $2, updated_at = now()
WHERE task_id = $1
RETURNING `+generationCols+`;
`, taskID, msg))
			if err != nil {
				return nil, err
			}
			res.Task = got
			res.PoolEntry = nil
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) applyPostCompletion(ctx context.Context, tx pgx.Tx, res *CompletionResult, p CompleteWithContentParams) error {
	if p.Approve {
		err := tx.QueryRow(ctx, `
UPDATE contents
SET review_status = 'approved', updated_at = now()
WHERE id = $1
RETURNING review_status;
`, res.Content.ID).Scan(&res.Content.ReviewStatus)
		if err != nil {
			return err
		}
	}

	if p.EnqueuePool {
		priority := p.PoolPriority
		if priority == 0 {
			priority = 5
		}
		e, err := scanPoolEntry(tx.QueryRow(ctx, `
INSERT INTO publish_pool (content_id, priority, scheduled_at)
VALUES ($1, $2, $3)
RETURNING `+poolCols+`;
`, res.Content.ID, priority, p.PoolScheduled))
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		if err != nil {
			return err
		}
		res.PoolEntry = e
	}
	return nil
}
