package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/scholarsentinel/diagram-forensics/internal/domain"
)

func TestStreamMessageRoundTrip(t *testing.T) {
	original := domain.QueueMessage{
		JobID:       "job-42",
		Type:        domain.JobTypePlagiarism,
		Payload:     json.RawMessage(`{"pdf_path":"thesis.pdf"}`),
		Attempt:     2,
		RequestedAt: time.Date(2026, 8, 20, 9, 30, 0, 0, time.UTC),
	}

	parsed, err := parseStreamMessage(redis.XMessage{
		ID:     "1-1",
		Values: streamValues(original),
	})
	if err != nil {
		t.Fatalf("parse stream message: %v", err)
	}

	if parsed.JobID != original.JobID || parsed.Type != original.Type || parsed.Attempt != original.Attempt {
		t.Fatalf("round trip lost fields: %+v", parsed)
	}
	if string(parsed.Payload) != string(original.Payload) {
		t.Fatalf("payload mangled: %s", parsed.Payload)
	}
	if !parsed.RequestedAt.Equal(original.RequestedAt) {
		t.Fatalf("timestamp mangled: %s", parsed.RequestedAt)
	}
}

func TestParseStreamMessageRejectsPartialEntries(t *testing.T) {
	cases := []map[string]any{
		{},
		{"job_id": "job-1"},
		{"job_id": "job-1", "type": "plagiarism", "payload": "{}", "attempt": "not-a-number", "requested_at": "2026-08-20T09:30:00Z"},
		{"job_id": "job-1", "type": "plagiarism", "payload": "{}", "attempt": "0", "requested_at": "yesterday"},
	}
	for i, values := range cases {
		if _, err := parseStreamMessage(redis.XMessage{ID: "1-1", Values: values}); err == nil {
			t.Fatalf("case %d: expected parse error for %v", i, values)
		}
	}
}

func TestRetryIsFlushedWhenShutdownInterruptsTheBackoff(t *testing.T) {
	message := domain.QueueMessage{JobID: "job-1", Type: domain.JobTypeHash, Attempt: 1}

	enqueued := make(chan domain.QueueMessage, 1)
	enqueue := func(ctx context.Context, pending domain.QueueMessage) error {
		if err := ctx.Err(); err != nil {
			t.Errorf("flush must run on a live context, got %v", err)
		}
		enqueued <- pending
		return nil
	}
	toDLQ := func(context.Context, domain.QueueMessage, string) {
		t.Errorf("successful flush must not touch the DLQ")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // shutdown arrives before the backoff elapses

	done := make(chan struct{})
	go func() {
		defer close(done)
		retryAfterDelay(ctx, time.Hour, message, enqueue, toDLQ)
	}()

	select {
	case pending := <-enqueued:
		if pending.JobID != message.JobID || pending.Attempt != message.Attempt {
			t.Fatalf("flushed retry lost fields: %+v", pending)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("retry was dropped instead of flushed on shutdown")
	}
	<-done
}

func TestRetryEnqueuesAfterTheBackoff(t *testing.T) {
	message := domain.QueueMessage{JobID: "job-1", Type: domain.JobTypeHash, Attempt: 2}

	enqueued := make(chan domain.QueueMessage, 1)
	enqueue := func(_ context.Context, pending domain.QueueMessage) error {
		enqueued <- pending
		return nil
	}
	toDLQ := func(context.Context, domain.QueueMessage, string) {
		t.Errorf("successful requeue must not touch the DLQ")
	}

	go retryAfterDelay(context.Background(), time.Millisecond, message, enqueue, toDLQ)

	select {
	case pending := <-enqueued:
		if pending.Attempt != 2 {
			t.Fatalf("requeued message lost its attempt count: %+v", pending)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("retry never re-enqueued after the backoff")
	}
}

func TestUnrequeueableRetryLandsInTheDLQ(t *testing.T) {
	message := domain.QueueMessage{JobID: "job-1", Type: domain.JobTypeHash, Attempt: 1}

	enqueue := func(context.Context, domain.QueueMessage) error {
		return errors.New("stream write refused")
	}
	moved := make(chan string, 1)
	toDLQ := func(_ context.Context, _ domain.QueueMessage, reason string) {
		moved <- reason
	}

	go retryAfterDelay(context.Background(), time.Millisecond, message, enqueue, toDLQ)

	select {
	case reason := <-moved:
		if !strings.Contains(reason, "stream write refused") {
			t.Fatalf("DLQ entry should carry the enqueue error, got %q", reason)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("failed requeue never reached the DLQ")
	}
}

func TestBrokerMonitorWithoutClientIsNeverAvailable(t *testing.T) {
	monitor := NewBrokerMonitor(nil, 0, nil)
	if monitor.Available() {
		t.Fatalf("an unconfigured broker must read as unavailable")
	}
}
