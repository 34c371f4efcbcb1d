package generation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/oychao1988/content-hub-sub002/internal/observability"
	"github.com/oychao1988/content-hub-sub002/internal/store"
	"github.com/oychao1988/content-hub-sub002/internal/webhook"
)

// PollerStore is the persistence slice the timeout poller needs.
type PollerStore interface {
	SweepTimedOut(ctx context.Context, now time.Time) ([]store.GenerationTask, error)
}

// Poller force-transitions tasks past their deadline to timeout, so a
// generator that never answers cannot strand a task in processing.
type Poller struct {
	store    PollerStore
	notifier Notifier
	every    time.Duration
	log      *zap.Logger
}

func NewPoller(st PollerStore, notifier Notifier, every time.Duration, log *zap.Logger) *Poller {
	if every <= 0 {
		every = 30 * time.Second
	}
	return &Poller{store: st, notifier: notifier, every: every, log: log}
}

// Run blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.every)
	defer ticker.Stop()

	p.log.Info("generation timeout poller started", zap.Duration("every", p.every))
	for {
		select {
		case <-ctx.Done():
			p.log.Info("generation timeout poller stopped")
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *Poller) sweep(ctx context.Context) {
	swept, err := p.store.SweepTimedOut(ctx, time.Now())
	if err != nil {
		p.log.Error("timeout sweep failed", zap.Error(err))
		return
	}
	if len(swept) == 0 {
		return
	}

	p.log.Warn("generation tasks timed out", zap.Int("count", len(swept)))
	for _, task := range swept {
		observability.GenerationTasksTotal.WithLabelValues("timeout").Inc()
		observability.GenerationDuration.WithLabelValues("timeout").Observe(time.Since(task.SubmittedAt).Seconds())

		if task.CallbackURL == nil || *task.CallbackURL == "" || p.notifier == nil {
			continue
		}
		payload := webhook.Payload{
			TaskID: task.TaskID,
			Status: string(task.Status),
		}
		if task.ErrorMessage != nil {
			payload.Error = *task.ErrorMessage
		}
		_ = p.notifier.Notify(ctx, *task.CallbackURL, payload)
	}
}
