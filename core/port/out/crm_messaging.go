package out

import "context"

// Async job payloads carried over the stream queue.

type ClassifyJob struct {
	EmailID int64 `json:"email_id"`
	// Force re-analysis even when annotations already exist.
	Force bool `json:"force,omitempty"`
}

type DraftJob struct {
	EmailID int64 `json:"email_id"`
	RuleID  int64 `json:"rule_id"`
}

type IngestJob struct {
	DocumentID int64 `json:"document_id"`
	// Text is the extracted content the upload path already produced, so the
	// worker skips re-parsing the file.
	Text string `json:"text"`
}

type SendJob struct {
	TaskID int64 `json:"task_id"`
}

// MessageProducer publishes pipeline jobs to the queue.
type MessageProducer interface {
	PublishClassify(ctx context.Context, job *ClassifyJob) error
	PublishDraft(ctx context.Context, job *DraftJob) error
	PublishIngest(ctx context.Context, job *IngestJob) error
	PublishSend(ctx context.Context, job *SendJob) error
}
