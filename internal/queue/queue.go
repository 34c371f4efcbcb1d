// Package queue wraps the JetStream stream that carries generation
// dispatch messages between the API/scheduler side and the workers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	SubjectHigh   = "generation.high"
	SubjectNormal = "generation.normal"
	SubjectLow    = "generation.low"

	// The DLQ lives outside the generation.* wildcard so workers never
	// consume dead letters.
	SubjectDLQ = "dlq.generation"

	// SubjectWildcard is what workers pull-subscribe to.
	SubjectWildcard = "generation.*"
)

// DispatchSubjects lists the subjects workers consume, by descending urgency.
var DispatchSubjects = []string{SubjectHigh, SubjectNormal, SubjectLow}

// SubjectForPriority maps the 1-10 priority scale onto the three dispatch
// bands: 1-3 high, 4-7 normal, 8-10 low.
func SubjectForPriority(priority int) string {
	switch {
	case priority <= 3:
		return SubjectHigh
	case priority <= 7:
		return SubjectNormal
	default:
		return SubjectLow
	}
}

type Config struct {
	NATSURL      string
	StreamName   string
	ConsumerName string
	AckWait      time.Duration
	MaxDeliver   int
}

type Queue struct {
	nc  *nats.Conn
	js  nats.JetStreamContext
	cfg Config
}

// DispatchMessage tells a worker to pick up one generation task.
type DispatchMessage struct {
	TaskID   string `json:"task_id"`
	Priority int    `json:"priority"`
}

// DLQMessage wraps a dispatch that exhausted its deliveries.
type DLQMessage struct {
	TaskID       string    `json:"task_id"`
	Attempt      int       `json:"attempt"`
	Error        string    `json:"error"`
	OriginalSubj string    `json:"original_subject"`
	OriginalData []byte    `json:"original_data"`
	FailedAt     time.Time `json:"failed_at"`
}

func New(ctx context.Context, cfg Config) (*Queue, error) {
	if cfg.AckWait == 0 {
		cfg.AckWait = 30 * time.Second
	}
	if cfg.MaxDeliver == 0 {
		cfg.MaxDeliver = 5
	}

	nc, err := nats.Connect(cfg.NATSURL,
		nats.Timeout(5*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}

	q := &Queue{nc: nc, js: js, cfg: cfg}
	if err := q.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, err
	}
	return q, nil
}

func (q *Queue) Close() {
	if q.nc != nil {
		q.nc.Close()
	}
}

func (q *Queue) JetStream() nats.JetStreamContext {
	return q.js
}

func (q *Queue) ensureStream(ctx context.Context) error {
	desired := []string{SubjectHigh, SubjectNormal, SubjectLow, SubjectDLQ}

	// Existing stream: merge subjects, update only when something changed.
	if info, err := q.js.StreamInfo(q.cfg.StreamName); err == nil && info != nil {
		merged, changed := mergeSubjects(info.Config.Subjects, desired)
		if !changed {
			return nil
		}

		sc := info.Config
		sc.Subjects = merged
		sc.Name = q.cfg.StreamName

		if _, err := q.js.UpdateStream(&sc); err != nil {
			return fmt.Errorf("update stream: %w", err)
		}
		return nil
	}

	sc := &nats.StreamConfig{
		Name:      q.cfg.StreamName,
		Subjects:  desired,
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
	}
	if _, err := q.js.AddStream(sc); err != nil {
		return fmt.Errorf("add stream: %w", err)
	}
	return nil
}

func mergeSubjects(existing, desired []string) ([]string, bool) {
	set := make(map[string]struct{}, len(existing)+len(desired))
	out := make([]string, 0, len(existing)+len(desired))

	for _, s := range existing {
		if _, ok := set[s]; ok {
			continue
		}
		set[s] = struct{}{}
		out = append(out, s)
	}

	changed := false
	for _, s := range desired {
		if _, ok := set[s]; ok {
			continue
		}
		set[s] = struct{}{}
		out = append(out, s)
		changed = true
	}

	return out, changed
}

// PublishDispatch routes the message onto its priority band. Headers carry
// trace context and are optional.
func (q *Queue) PublishDispatch(ctx context.Context, msg DispatchMessage, header nats.Header) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	m := &nats.Msg{
		Subject: SubjectForPriority(msg.Priority),
		Data:    b,
		Header:  header,
	}
	_, err = q.js.PublishMsg(m)
	return err
}

func (q *Queue) PublishDLQ(ctx context.Context, msg DLQMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = q.js.Publish(SubjectDLQ, b)
	return err
}
