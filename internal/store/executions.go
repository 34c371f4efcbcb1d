package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

const executionCols = `id, task_id, status, start_time, end_time, duration, error_message, result`

func scanExecution(row pgx.Row) (*TaskExecution, error) {
	var e TaskExecution
	err := row.Scan(
		&e.ID, &e.TaskID, &e.Status, &e.StartTime, &e.EndTime, &e.Duration, &e.ErrorMessage, &e.Result,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateExecution opens a run record in status running.
func (s *Store) CreateExecution(ctx context.Context, taskID int64, startTime time.Time) (*TaskExecution, error) {
	q := `
INSERT INTO task_executions (task_id, status, start_time)
VALUES ($1, 'running', $2)
RETURNING ` + executionCols + `;
`
	return scanExecution(s.db.QueryRow(ctx, q, taskID, startTime))
}

type FinishExecutionParams struct {
	Status       ExecStatus
	EndTime      time.Time
	ErrorMessage *string
	Result       []byte // JSON, nil allowed
}

// FinishExecution closes a run record exactly once. Duration is computed
// server side from the stored start_time.
func (s *Store) FinishExecution(ctx context.Context, id int64, p FinishExecutionParams) (*TaskExecution, error) {
	q := `
UPDATE task_executions
SET status        = $2,
    end_time      = $3,
    duration      = EXTRACT(EPOCH FROM ($3 - start_time)),
    error_message = $4,
    result        = $5::jsonb
WHERE id = $1 AND status = 'running'
RETURNING ` + executionCols + `;
`
	e, err := scanExecution(s.db.QueryRow(ctx, q, id, string(p.Status), p.EndTime, p.ErrorMessage, p.Result))
	if errors.Is(err, pgx.ErrNoRows) {
		_, getErr := s.GetExecution(ctx, id)
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

func (s *Store) GetExecution(ctx context.Context, id int64) (*TaskExecution, error) {
	q := `SELECT ` + executionCols + ` FROM task_executions WHERE id = $1;`
	e, err := scanExecution(s.db.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListExecutions returns the run history of one task, newest first.
func (s *Store) ListExecutions(ctx context.Context, taskID int64, limit int) ([]TaskExecution, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := `
SELECT ` + executionCols + `
FROM task_executions
WHERE task_id = $1
ORDER BY start_time DESC
LIMIT $2;
`
	rows, err := s.db.Query(ctx, q, taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]TaskExecution, 0, limit)
	for rows.Next() {
		e, err := scanExecution(rows)
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
