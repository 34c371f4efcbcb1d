package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const scheduledTaskCols = `id, name, description, task_type, cron_expression, run_interval, interval_unit,
       params, is_active, last_run_time, next_run_time, created_at, updated_at`

func scanScheduledTask(row pgx.Row) (*ScheduledTask, error) {
	var t ScheduledTask
	err := row.Scan(
		&t.ID, &t.Name, &t.Description, &t.TaskType, &t.CronExpr, &t.Interval, &t.IntervalUnit,
		&t.Params, &t.IsActive, &t.LastRunTime, &t.NextRunTime, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

type CreateScheduledTaskParams struct {
	Name         string
	Description  string
	TaskType     string
	CronExpr     string
	Interval     int
	IntervalUnit string
	Params       []byte // JSON
	IsActive     bool
}

func (s *Store) CreateScheduledTask(ctx context.Context, p CreateScheduledTaskParams) (*ScheduledTask, error) {
	params := p.Params
	if len(params) == 0 {
		params = []byte(`{}`)
	}

	q := `
INSERT INTO scheduled_tasks (name, description, task_type, cron_expression, run_interval, interval_unit, params, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)
RETURNING ` + scheduledTaskCols + `;
`
	t, err := scanScheduledTask(s.db.QueryRow(ctx, q,
		p.Name, p.Description, p.TaskType, p.CronExpr, p.Interval, p.IntervalUnit, params, p.IsActive,
	))
	if isUniqueViolation(err) {
		return nil, ErrAlreadyExists
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) GetScheduledTask(ctx context.Context, id int64) (*ScheduledTask, error) {
	q := `SELECT ` + scheduledTaskCols + ` FROM scheduled_tasks WHERE id = $1;`
	t, err := scanScheduledTask(s.db.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) GetScheduledTaskByName(ctx context.Context, name string) (*ScheduledTask, error) {
	q := `SELECT ` + scheduledTaskCols + ` FROM scheduled_tasks WHERE name = $1;`
	t, err := scanScheduledTask(s.db.QueryRow(ctx, q, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

type ListScheduledTasksParams struct {
	IsActive *bool
	TaskType *string
	Limit    int
	Offset   int
}

func (s *Store) ListScheduledTasks(ctx context.Context, p ListScheduledTasksParams) ([]ScheduledTask, error) {
	limit := p.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := p.Offset
	if offset < 0 {
		offset = 0
	}

	q := `
SELECT ` + scheduledTaskCols + `
FROM scheduled_tasks
WHERE ($1::boolean IS NULL OR is_active = $1)
  AND ($2::text IS NULL OR task_type = $2)
ORDER BY id
LIMIT $3 OFFSET $4;
`
	rows, err := s.db.Query(ctx, q, p.IsActive, p.TaskType, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ScheduledTask, 0, limit)
	for rows.Next() {
		t, err := scanScheduledTask(rows)
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

// ListActiveScheduledTasks returns every task the scheduler should register.
func (s *Store) ListActiveScheduledTasks(ctx context.Context) ([]ScheduledTask, error) {
	active := true
	return s.ListScheduledTasks(ctx, ListScheduledTasksParams{IsActive: &active, Limit: 200})
}

type UpdateScheduledTaskParams struct {
	Description  *string
	CronExpr     *string
	Interval     *int
	IntervalUnit *string
	Params       []byte // JSON, nil = unchanged
	IsActive     *bool
}

func (s *Store) UpdateScheduledTask(ctx context.Context, id int64, p UpdateScheduledTaskParams) (*ScheduledTask, error) {
	q := `
UPDATE scheduled_tasks
SET description     = COALESCE($2, description),
    cron_expression = COALESCE($3, cron_expression),
    run_interval    = COALESCE($4, run_interval),
    interval_unit   = COALESCE($5, interval_unit),
    params          = COALESCE($6::jsonb, params),
    is_active       = COALESCE($7, is_active),
    updated_at      = now()
WHERE id = $1
RETURNING ` + scheduledTaskCols + `;
`
	t, err := scanScheduledTask(s.db.QueryRow(ctx, q,
		id, p.Description, p.CronExpr, p.Interval, p.IntervalUnit, p.Params, p.IsActive,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) SetScheduledTaskActive(ctx context.Context, id int64, active bool) (*ScheduledTask, error) {
	return s.UpdateScheduledTask(ctx, id, UpdateScheduledTaskParams{IsActive: &active})
}

func (s *Store) DeleteScheduledTask(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM scheduled_tasks WHERE id = $1;`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateRunTimes is called by the scheduler after each fire.
func (s *Store) UpdateRunTimes(ctx context.Context, id int64, lastRun time.Time, nextRun *time.Time) error {
	tag, err := s.db.Exec(ctx, `
UPDATE scheduled_tasks
SET last_run_time = $2, next_run_time = $3, updated_at = now()
WHERE id = $1;
`, id, lastRun, nextRun)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
