package out

import (
	"context"
	"time"

	"crm_server/core/domain"
)

// ApprovalNotice is the payload delivered to reviewers when a draft needs
// a decision.
type ApprovalNotice struct {
	TaskID       int64                  `json:"task_id"`
	EmailSubject string                 `json:"email_subject"`
	FromEmail    string                 `json:"from_email"`
	Category     domain.RuleCategory    `json:"category"`
	IntentLevel  string                 `json:"intent_level"`
	UrgencyLevel string                 `json:"urgency_level"`
	Summary      string                 `json:"summary"`
	DraftPreview string                 `json:"draft_preview"`
	Channel      domain.ApprovalChannel `json:"channel"`
	Reviewers    []string               `json:"reviewers,omitempty"`
	TimeoutAt    time.Time              `json:"timeout_at"`
	DeepLink     string                 `json:"deep_link"`
}

// NotificationSink delivers approval-workflow messages to reviewers.
// Delivery is fire-and-forget: a failed notification never blocks task
// creation or a decision.
type NotificationSink interface {
	NotifyApprovalRequested(ctx context.Context, notice *ApprovalNotice) error
	NotifyDecision(ctx context.Context, taskID int64, outcome, reviewer string) error
}
