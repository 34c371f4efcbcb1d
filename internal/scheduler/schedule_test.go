package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/oychao1988/content-hub-sub002/internal/store"
)

func TestIntervalDuration(t *testing.T) {
	cases := []struct {
		interval int
		unit     string
		want     time.Duration
	}{
		{30, "seconds", 30 * time.Second},
		{5, "minutes", 5 * time.Minute},
		{2, "hours", 2 * time.Hour},
		{1, "days", 24 * time.Hour},
	}
	for _, tc := range cases {
		got, err := intervalDuration(tc.interval, tc.unit)
		if err != nil {
			t.Fatalf("intervalDuration(%d, %q): %v", tc.interval, tc.unit, err)
		}
		if got != tc.want {
			t.Fatalf("intervalDuration(%d, %q)=%v, want %v", tc.interval, tc.unit, got, tc.want)
		}
	}
}

func TestIntervalDurationRejectsBadInput(t *testing.T) {
	if _, err := intervalDuration(0, "seconds"); !errors.Is(err, ErrBadSchedule) {
		t.Fatalf("expected ErrBadSchedule for zero interval, got %v", err)
	}
	if _, err := intervalDuration(5, "fortnights"); !errors.Is(err, ErrBadSchedule) {
		t.Fatalf("expected ErrBadSchedule for unknown unit, got %v", err)
	}
}

func TestParseScheduleCron(t *testing.T) {
	task := &store.ScheduledTask{CronExpr: "0 9 * * *"}
	sched, spec, err := parseSchedule(task)
	if err != nil {
		t.Fatalf("parseSchedule: %v", err)
	}
	if spec != "cron:0 9 * * *" {
		t.Fatalf("spec=%q", spec)
	}

	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	next := sched.Next(at)
	if next.Hour() != 9 || next.Minute() != 0 {
		t.Fatalf("next fire at %v, want 09:00", next)
	}
}

func TestParseScheduleInterval(t *testing.T) {
	task := &store.ScheduledTask{Interval: 10, IntervalUnit: "minutes"}
	sched, spec, err := parseSchedule(task)
	if err != nil {
		t.Fatalf("parseSchedule: %v", err)
	}
	if spec != "every:10minutes" {
		t.Fatalf("spec=%q", spec)
	}

	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	next := sched.Next(at)
	if got := next.Sub(at); got != 10*time.Minute {
		t.Fatalf("next fire after %v, want 10m", got)
	}
}

func TestParseScheduleInvalidCron(t *testing.T) {
	task := &store.ScheduledTask{CronExpr: "not a cron"}
	if _, _, err := parseSchedule(task); !errors.Is(err, ErrBadSchedule) {
		t.Fatalf("expected ErrBadSchedule, got %v", err)
	}
}

func TestScheduleSpecDistinguishesEdits(t *testing.T) {
	a := &store.ScheduledTask{CronExpr: "0 9 * * *"}
	b := &store.ScheduledTask{CronExpr: "0 10 * * *"}
	if scheduleSpec(a) == scheduleSpec(b) {
		t.Fatal("different cron specs should differ")
	}

	c := &store.ScheduledTask{Interval: 1, IntervalUnit: "hours"}
	d := &store.ScheduledTask{Interval: 1, IntervalUnit: "days"}
	if scheduleSpec(c) == scheduleSpec(d) {
		t.Fatal("different interval units should differ")
	}
}
