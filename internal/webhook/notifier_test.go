package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testNotifier(secret string) *Notifier {
	n := NewNotifier(secret, 2*time.Second, zap.NewNop())
	n.backoff = time.Millisecond
	return n
}

func TestNotifyDeliversSignedPayload(t *testing.T) {
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := testNotifier("s3cret")
	err := n.Notify(context.Background(), srv.URL, Payload{
		TaskID: "task-abc123def456",
		Status: "completed",
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if gotSig == "" {
		t.Fatal("signature header missing")
	}
	if !Verify("s3cret", gotBody, gotSig) {
		t.Fatal("delivered signature does not verify against the body")
	}
}

func TestNotifyRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := testNotifier("s3cret")
	if err := n.Notify(context.Background(), srv.URL, Payload{TaskID: "task-1", Status: "failed"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls=%d, want 3", calls.Load())
	}
}

func TestNotifyGivesUpAfterBoundedAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := testNotifier("s3cret")
	if err := n.Notify(context.Background(), srv.URL, Payload{TaskID: "task-1", Status: "timeout"}); err == nil {
		t.Fatal("expected delivery error")
	}
	if calls.Load() != 3 {
		t.Fatalf("calls=%d, want 3", calls.Load())
	}
}

func TestNotifyEmptyURLIsNoop(t *testing.T) {
	n := testNotifier("s3cret")
	if err := n.Notify(context.Background(), "", Payload{TaskID: "task-1", Status: "completed"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
}
