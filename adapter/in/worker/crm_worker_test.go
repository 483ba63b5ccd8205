package worker

import (
	"testing"
	"time"

	"crm_server/core/port/out"
)

func TestNewMessage(t *testing.T) {
	msg := NewMessage(JobEmailClassify, map[string]any{"email_id": 42})

	if msg.ID == "" {
		t.Error("expected a generated message id")
	}
	if msg.Type != JobEmailClassify {
		t.Errorf("expected type %s, got %s", JobEmailClassify, msg.Type)
	}
	if msg.Retries != 0 {
		t.Errorf("expected zero retries, got %d", msg.Retries)
	}
	if msg.CreatedAt.IsZero() {
		t.Error("expected created-at set")
	}
}

func TestParsePayloadClassifyJob(t *testing.T) {
	msg := NewMessage(JobEmailClassify, map[string]any{
		"email_id": 42,
		"force":    true,
	})

	job, err := ParsePayload[out.ClassifyJob](msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.EmailID != 42 {
		t.Errorf("expected email id 42, got %d", job.EmailID)
	}
	if !job.Force {
		t.Error("expected force flag")
	}
}

func TestParsePayloadIngestJob(t *testing.T) {
	msg := NewMessage(JobKnowledgeIngest, map[string]any{
		"document_id": 7,
		"text":        "extracted document text",
	})

	job, err := ParsePayload[out.IngestJob](msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.DocumentID != 7 {
		t.Errorf("expected document id 7, got %d", job.DocumentID)
	}
	if job.Text != "extracted document text" {
		t.Errorf("expected text carried through, got %q", job.Text)
	}
}

func TestParsePayloadIgnoresUnknownKeys(t *testing.T) {
	msg := NewMessage(JobMailSend, map[string]any{
		"task_id": 3,
		"extra":   "ignored",
	})

	job, err := ParsePayload[out.SendJob](msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.TaskID != 3 {
		t.Errorf("expected task id 3, got %d", job.TaskID)
	}
}

func TestParsePayloadTypeMismatch(t *testing.T) {
	msg := NewMessage(JobMailSend, map[string]any{"task_id": "not a number"})

	if _, err := ParsePayload[out.SendJob](msg); err == nil {
		t.Error("expected error for mismatched payload type")
	}
}

func TestDefaultPoolConfigTimeouts(t *testing.T) {
	cfg := DefaultPoolConfig()

	if cfg.JobTimeoutByType[JobKnowledgeIngest] <= cfg.JobTimeoutByType[JobEmailClassify] {
		t.Error("ingest must get a longer timeout than classification")
	}
	if cfg.JobTimeout == 0 {
		t.Error("expected a fallback timeout for unknown job types")
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("expected 3 retries, got %d", cfg.MaxRetries)
	}
}

func TestRateLimiterBurst(t *testing.T) {
	limiter := NewRateLimiter(5, time.Second)

	for i := 0; i < 5; i++ {
		if !limiter.Allow() {
			t.Fatalf("request %d should be allowed within the burst", i)
		}
	}
	if limiter.Allow() {
		t.Error("expected request beyond the burst to be denied")
	}
}

func TestRateLimiterRefill(t *testing.T) {
	limiter := NewRateLimiter(2, 50*time.Millisecond)

	limiter.Allow()
	limiter.Allow()
	if limiter.Allow() {
		t.Fatal("bucket should be empty")
	}

	time.Sleep(60 * time.Millisecond)
	if !limiter.Allow() {
		t.Error("expected tokens after a refill interval")
	}
}

func TestRateLimiterSetRate(t *testing.T) {
	limiter := NewRateLimiter(1, 50*time.Millisecond)
	limiter.Allow()
	limiter.SetRate(10)

	time.Sleep(60 * time.Millisecond)
	allowed := 0
	for i := 0; i < 20; i++ {
		if limiter.Allow() {
			allowed++
		}
	}
	if allowed != 10 {
		t.Errorf("expected 10 allowed after rate bump, got %d", allowed)
	}
}
