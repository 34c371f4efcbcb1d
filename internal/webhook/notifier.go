package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/oychao1988/content-hub-sub002/internal/observability"
)

// Payload is the notification body posted to a task's callback_url.
type Payload struct {
	TaskID string          `json:"task_id"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	SentAt time.Time       `json:"sent_at"`
}

// Notifier posts terminal-state notifications. Delivery is best effort:
// a few bounded attempts, then the failure is logged and dropped. The
// task's own status never depends on delivery.
type Notifier struct {
	secret   string
	attempts int
	backoff  time.Duration
	http     *http.Client
	log      *zap.Logger
}

func NewNotifier(secret string, timeout time.Duration, log *zap.Logger) *Notifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		secret:   secret,
		attempts: 3,
		backoff:  time.Second,
		http:     &http.Client{Timeout: timeout},
		log:      log,
	}
}

// Notify delivers the payload to url. Errors are reported for logging at
// call sites that want them; state transitions must not depend on them.
func (n *Notifier) Notify(ctx context.Context, url string, p Payload) error {
	if url == "" {
		return nil
	}
	if p.SentAt.IsZero() {
		p.SentAt = time.Now().UTC()
	}

	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	signature, err := Sign(n.secret, body)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= n.attempts; attempt++ {
		lastErr = n.post(ctx, url, body, signature)
		if lastErr == nil {
			observability.WebhookDeliveriesTotal.WithLabelValues("delivered").Inc()
			n.log.Info("webhook delivered",
				zap.String("task_id", p.TaskID),
				zap.String("status", p.Status),
				zap.Int("attempt", attempt),
			)
			return nil
		}

		select {
		case <-ctx.Done():
			observability.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
			return ctx.Err()
		case <-time.After(n.backoff * time.Duration(attempt)):
		}
	}

	observability.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
	n.log.Warn("webhook delivery failed",
		zap.String("task_id", p.TaskID),
		zap.String("status", p.Status),
		zap.Int("attempts", n.attempts),
		zap.Error(lastErr),
	)
	return lastErr
}

func (n *Notifier) post(ctx context.Context, url string, body []byte, signature string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)

	resp, err := n.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("callback returned %d", resp.StatusCode)
	}
	return nil
}
