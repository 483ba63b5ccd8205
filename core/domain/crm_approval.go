package domain

import (
	"context"
	"encoding/json"
	"time"
)

// =============================================================================
// Approval Task
// =============================================================================

// ApprovalStatus is the state of a drafted auto-reply in the review workflow.
//
//	pending -> approved -> sending -> sent
//	                               -> send_failed (retryable without re-approval)
//	pending -> rejected
//	pending -> expired
type ApprovalStatus string

const (
	ApprovalPending    ApprovalStatus = "pending"
	ApprovalApproved   ApprovalStatus = "approved"
	ApprovalSending    ApprovalStatus = "sending"
	ApprovalSent       ApprovalStatus = "sent"
	ApprovalSendFailed ApprovalStatus = "send_failed"
	ApprovalRejected   ApprovalStatus = "rejected"
	ApprovalExpired    ApprovalStatus = "expired"
)

// Terminal reports whether no further transition is allowed.
func (s ApprovalStatus) Terminal() bool {
	switch s {
	case ApprovalSent, ApprovalRejected, ApprovalExpired:
		return true
	}
	return false
}

// Revision is one edit of the draft made before the decision.
type Revision struct {
	Editor   string    `json:"editor"`
	Subject  string    `json:"subject"`
	Body     string    `json:"body"`
	HTMLBody string    `json:"html_body"`
	EditedAt time.Time `json:"edited_at"`
}

// ApprovalTask tracks a drafted auto-reply from creation through human
// decision to the optional send. AnalysisSnapshot freezes the analysis the
// draft was generated from, since the email may be re-analyzed later.
type ApprovalTask struct {
	ID      int64  `json:"id"`
	EmailID int64  `json:"email_id"`
	RuleID  *int64 `json:"rule_id,omitempty"`

	DraftSubject string `json:"draft_subject"`
	DraftBody    string `json:"draft_body"`
	DraftHTML    string `json:"draft_html"`

	Status  ApprovalStatus  `json:"status"`
	Channel ApprovalChannel `json:"channel"`

	TimeoutAt time.Time `json:"timeout_at"`

	Reviewer     *string    `json:"reviewer,omitempty"`
	DecidedAt    *time.Time `json:"decided_at,omitempty"`
	RejectReason *string    `json:"reject_reason,omitempty"`

	RevisionCount int        `json:"revision_count"`
	Revisions     []Revision `json:"revisions,omitempty"`

	AutoSend         bool            `json:"auto_send"`
	KnowledgeUsed    bool            `json:"knowledge_used"`
	AnalysisSnapshot json.RawMessage `json:"analysis_snapshot,omitempty"`

	SentMessageID *string    `json:"sent_message_id,omitempty"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	SendError     *string    `json:"send_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ApprovalTaskRepository persists approval tasks. All transition methods are
// conditional updates on the current status and report whether this caller
// won the transition; the status column is the sole point of mutual
// exclusion between concurrent reviewer actions.
type ApprovalTaskRepository interface {
	Create(ctx context.Context, task *ApprovalTask) error
	GetByID(ctx context.Context, id int64) (*ApprovalTask, error)
	ListByStatus(ctx context.Context, status ApprovalStatus, page *PageRequest) ([]*ApprovalTask, int64, error)
	// FindActiveByEmail returns the newest non-terminal task for the email,
	// or nil when none exists.
	FindActiveByEmail(ctx context.Context, emailID int64) (*ApprovalTask, error)
	// ListExpirable returns pending tasks whose timeout has passed.
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]*ApprovalTask, error)

	Approve(ctx context.Context, id int64, reviewer string, at time.Time) (bool, error)
	Reject(ctx context.Context, id int64, reviewer, reason string, at time.Time) (bool, error)
	// Revise overwrites draft content while the task is still pending.
	Revise(ctx context.Context, id int64, rev Revision) (bool, error)
	// MarkExpired transitions pending -> expired; the note records why.
	MarkExpired(ctx context.Context, id int64, note string) (bool, error)
	// MarkSuperseded expires the task from any non-terminal state except
	// sending; a task mid-delivery cannot be claimed away from the worker.
	MarkSuperseded(ctx context.Context, id int64, note string) (bool, error)

	MarkSending(ctx context.Context, id int64) (bool, error)
	MarkSent(ctx context.Context, id int64, messageID string, at time.Time) error
	MarkSendFailed(ctx context.Context, id int64, sendErr string) error
}
