package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/oychao1988/content-hub-sub002/internal/store"
)

// scheduleSpec is the canonical string form used to detect schedule edits
// during refresh.
func scheduleSpec(t *store.ScheduledTask) string {
	if t.CronExpr != "" {
		return "cron:" + t.CronExpr
	}
	return fmt.Sprintf("every:%d%s", t.Interval, t.IntervalUnit)
}

// parseSchedule turns a task definition into a cron.Schedule. Exactly one
// of cron_expression or interval+unit is set per the store constraint.
func parseSchedule(t *store.ScheduledTask) (cron.Schedule, string, error) {
	if t.CronExpr != "" {
		sched, err := cron.ParseStandard(t.CronExpr)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %q: %v", ErrBadSchedule, t.CronExpr, err)
		}
		return sched, scheduleSpec(t), nil
	}

	d, err := intervalDuration(t.Interval, t.IntervalUnit)
	if err != nil {
		return nil, "", err
	}
	return cron.Every(d), scheduleSpec(t), nil
}

func intervalDuration(interval int, unit string) (time.Duration, error) {
	if interval <= 0 {
		return 0, fmt.Errorf("%w: interval must be positive, got %d", ErrBadSchedule, interval)
	}
	switch unit {
	case "seconds":
		return time.Duration(interval) * time.Second, nil
	case "minutes":
		return time.Duration(interval) * time.Minute, nil
	case "hours":
		return time.Duration(interval) * time.Hour, nil
	case "days":
		return time.Duration(interval) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("%w: unknown interval unit %q", ErrBadSchedule, unit)
	}
}
