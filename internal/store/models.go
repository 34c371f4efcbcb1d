package store

import (
	"encoding/json"
	"time"
)

type ExecStatus string

const (
	ExecRunning ExecStatus = "running"
	ExecSuccess ExecStatus = "success"
	ExecFailed  ExecStatus = "failed"
)

// ScheduledTask is a recurring job definition. Exactly one of CronExpr or
// Interval+IntervalUnit is meaningful; tasks with IsActive=false are kept
// for history but never fired.
type ScheduledTask struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	TaskType     string          `json:"task_type"`
	CronExpr     string          `json:"cron_expression,omitempty"`
	Interval     int             `json:"interval,omitempty"`
	IntervalUnit string          `json:"interval_unit,omitempty"`
	Params       json.RawMessage `json:"params,omitempty"`
	IsActive     bool            `json:"is_active"`
	LastRunTime  *time.Time      `json:"last_run_time,omitempty"`
	NextRunTime  *time.Time      `json:"next_run_time,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// TaskExecution is one historical run of a ScheduledTask. Append-only:
// finalized once and never mutated afterwards.
type TaskExecution struct {
	ID           int64           `json:"id"`
	TaskID       int64           `json:"task_id"`
	Status       ExecStatus      `json:"status"`
	StartTime    time.Time       `json:"start_time"`
	EndTime      *time.Time      `json:"end_time,omitempty"`
	Duration     *float64        `json:"duration,omitempty"` // seconds
	ErrorMessage *string         `json:"error_message,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
}

type PoolStatus string

const (
	PoolPending    PoolStatus = "pending"
	PoolPublishing PoolStatus = "publishing"
	PoolPublished  PoolStatus = "published"
	PoolFailed     PoolStatus = "failed"
)

// PoolEntry queues one content item for publication. content_id is unique:
// a content can have at most one pool entry at a time.
type PoolEntry struct {
	ID             int64      `json:"id"`
	ContentID      int64      `json:"content_id"`
	Priority       int        `json:"priority"` // 1-10, lower = more urgent
	ScheduledAt    *time.Time `json:"scheduled_at,omitempty"`
	Status         PoolStatus `json:"status"`
	RetryCount     int        `json:"retry_count"`
	MaxRetries     int        `json:"max_retries"`
	LastError      *string    `json:"last_error,omitempty"`
	PublishedAt    *time.Time `json:"published_at,omitempty"`
	PublishedLogID *int64     `json:"published_log_id,omitempty"`
	AddedAt        time.Time  `json:"added_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type PublishLog struct {
	ID           int64      `json:"id"`
	AccountID    int64      `json:"account_id"`
	ContentID    int64      `json:"content_id"`
	Platform     string     `json:"platform"`
	MediaID      *string    `json:"media_id,omitempty"`
	Status       string     `json:"status"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	PublishTime  *time.Time `json:"publish_time,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

type GenStatus string

const (
	GenPending    GenStatus = "pending"
	GenProcessing GenStatus = "processing"
	GenCompleted  GenStatus = "completed"
	GenFailed     GenStatus = "failed"
	GenTimeout    GenStatus = "timeout"
	GenCancelled  GenStatus = "cancelled"
)

// Terminal reports whether a generation status can change again (retry
// excepted, which is an explicit reset).
func (s GenStatus) Terminal() bool {
	switch s {
	case GenCompleted, GenFailed, GenTimeout, GenCancelled:
		return true
	}
	return false
}

// GenerationTask tracks one async content-generation request end to end.
// TimeoutAt is fixed at submission so queue wait counts against the budget.
type GenerationTask struct {
	ID           int64           `json:"id"`
	TaskID       string          `json:"task_id"`
	ContentID    *int64          `json:"content_id,omitempty"`
	AccountID    int64           `json:"account_id"`
	Topic        string          `json:"topic"`
	Keywords     string          `json:"keywords,omitempty"`
	Category     string          `json:"category,omitempty"`
	Requirements string          `json:"requirements,omitempty"`
	Tone         string          `json:"tone,omitempty"`
	Status       GenStatus       `json:"status"`
	Priority     int             `json:"priority"`
	RetryCount   int             `json:"retry_count"`
	MaxRetries   int             `json:"max_retries"`
	SubmittedAt  time.Time       `json:"submitted_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	TimeoutAt    time.Time       `json:"timeout_at"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	AutoApprove  bool            `json:"auto_approve"`
	CallbackURL  *string         `json:"callback_url,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

type Content struct {
	ID            int64           `json:"id"`
	AccountID     int64           `json:"account_id"`
	Title         string          `json:"title"`
	Body          string          `json:"body"`
	Topic         string          `json:"topic,omitempty"`
	Category      string          `json:"category,omitempty"`
	Images        json.RawMessage `json:"images,omitempty"`
	CoverImage    string          `json:"cover_image,omitempty"`
	WordCount     int             `json:"word_count"`
	ReviewStatus  ReviewStatus    `json:"review_status"`
	PublishStatus string          `json:"publish_status"`
	PublishedAt   *time.Time      `json:"published_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type Account struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Platform    string    `json:"platform"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}
