package generation

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/oychao1988/content-hub-sub002/internal/store"
)

type sweepStore struct {
	swept []store.GenerationTask
	err   error
	calls int
}

func (s *sweepStore) SweepTimedOut(ctx context.Context, now time.Time) ([]store.GenerationTask, error) {
	s.calls++
	return s.swept, s.err
}

func TestSweepNotifiesOnlyTasksWithCallback(t *testing.T) {
	callback := "https://hooks.example.com/gen"
	reason := "generation deadline exceeded"
	st := &sweepStore{swept: []store.GenerationTask{
		{
			TaskID:       "task-aaaaaaaaaaaa",
			Status:       store.GenTimeout,
			SubmittedAt:  time.Now().Add(-10 * time.Minute),
			CallbackURL:  &callback,
			ErrorMessage: &reason,
		},
		{
			TaskID:      "task-bbbbbbbbbbbb",
			Status:      store.GenTimeout,
			SubmittedAt: time.Now().Add(-10 * time.Minute),
		},
	}}
	notifier := &recordingNotifier{}
	p := NewPoller(st, notifier, time.Minute, zap.NewNop())

	p.sweep(context.Background())

	if len(notifier.payloads) != 1 {
		t.Fatalf("notifications=%d, want 1", len(notifier.payloads))
	}
	got := notifier.payloads[0]
	if got.TaskID != "task-aaaaaaaaaaaa" || got.Status != string(store.GenTimeout) {
		t.Fatalf("payload=%+v", got)
	}
	if got.Error != reason {
		t.Fatalf("error=%q, want %q", got.Error, reason)
	}
}

func TestSweepWithoutNotifier(t *testing.T) {
	callback := "https://hooks.example.com/gen"
	st := &sweepStore{swept: []store.GenerationTask{
		{TaskID: "task-cccccccccccc", Status: store.GenTimeout, SubmittedAt: time.Now(), CallbackURL: &callback},
	}}
	p := NewPoller(st, nil, time.Minute, zap.NewNop())

	// must not panic with a nil notifier
	p.sweep(context.Background())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	st := &sweepStore{}
	p := NewPoller(st, nil, 5*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after cancel")
	}
	if st.calls == 0 {
		t.Fatal("poller never swept")
	}
}
