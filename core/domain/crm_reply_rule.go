package domain

import (
	"context"
	"time"
)

// =============================================================================
// Auto-Reply Rule
// =============================================================================

// ApprovalChannel selects how reviewers are notified.
type ApprovalChannel string

const (
	ChannelChat   ApprovalChannel = "chat"   // group chat webhook with deep link
	ChannelDirect ApprovalChannel = "direct" // directed message to reviewers
)

// AutoReplyRule maps an email category to an approval policy. The pipeline
// reads rules; only operators mutate them. Usage counters are incremented
// atomically at the storage layer.
type AutoReplyRule struct {
	ID                 int64           `json:"id"`
	Name               string          `json:"name"`
	EmailCategory      RuleCategory    `json:"email_category"`
	ApprovalChannel    ApprovalChannel `json:"approval_channel"`
	Reviewers          []string        `json:"reviewers"`
	TimeoutHours       int             `json:"timeout_hours"`
	AutoGenerateReply  bool            `json:"auto_generate_reply"`
	AutoSendOnApproval bool            `json:"auto_send_on_approval"`
	UseKnowledge       bool            `json:"use_knowledge"`
	TemplateID         *int64          `json:"template_id,omitempty"`
	Tone               string          `json:"tone"`
	Priority           int             `json:"priority"`
	Enabled            bool            `json:"enabled"`

	// Stats
	TriggeredCount int `json:"triggered_count"`
	ApprovedCount  int `json:"approved_count"`
	RejectedCount  int `json:"rejected_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Timeout returns the task timeout, defaulting to 24h when unset.
func (r *AutoReplyRule) Timeout() time.Duration {
	hours := r.TimeoutHours
	if hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}

// AutoReplyRuleRepository persists auto-reply rules.
type AutoReplyRuleRepository interface {
	GetByID(ctx context.Context, id int64) (*AutoReplyRule, error)
	List(ctx context.Context) ([]*AutoReplyRule, error)
	// ListMatchable returns enabled rules with auto_generate_reply for the
	// category, ordered by priority descending then id ascending. The id
	// tie-break keeps selection deterministic when priorities collide.
	ListMatchable(ctx context.Context, category RuleCategory) ([]*AutoReplyRule, error)
	Create(ctx context.Context, rule *AutoReplyRule) error
	Update(ctx context.Context, rule *AutoReplyRule) error
	Delete(ctx context.Context, id int64) error

	// Stats - single atomic SQL increments, never read-modify-write
	IncrementTriggered(ctx context.Context, id int64) error
	IncrementApproved(ctx context.Context, id int64) error
	IncrementRejected(ctx context.Context, id int64) error
}
