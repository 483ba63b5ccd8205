package domain

import (
	"context"
	"time"
)

// =============================================================================
// Inbound Email
// =============================================================================

// InboundEmail is a received email plus the AI annotations derived from it.
// The raw HTML/text body lives in the body store; the row keeps a snippet.
// Annotation fields are overwritten as a whole on every (re)analysis.
type InboundEmail struct {
	ID        int64   `json:"id"`
	MessageID string  `json:"message_id"` // dedup key
	FromEmail string  `json:"from_email"`
	FromName  *string `json:"from_name,omitempty"`
	ToEmail   string  `json:"to_email"`
	Subject   string  `json:"subject"`
	Snippet   string  `json:"snippet"`

	ReceivedAt time.Time `json:"received_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	// AI annotations (all nullable until analysis runs)
	AIStage                 *string    `json:"ai_stage,omitempty"`
	AICategory              *string    `json:"ai_category,omitempty"`
	AISubCategory           *string    `json:"ai_sub_category,omitempty"`
	AIIntentLevel           *string    `json:"ai_intent_level,omitempty"`
	AIIntentScore           *int       `json:"ai_intent_score,omitempty"`
	AIBudgetTier            *string    `json:"ai_budget_tier,omitempty"`
	AIDecisionAuthority     *string    `json:"ai_decision_authority,omitempty"`
	AICompetitiveSituation  *string    `json:"ai_competitive_situation,omitempty"`
	AISentiment             *string    `json:"ai_sentiment,omitempty"`
	AITone                  *string    `json:"ai_tone,omitempty"`
	AISatisfaction          *string    `json:"ai_satisfaction,omitempty"`
	AIUrgencyLevel          *string    `json:"ai_urgency_level,omitempty"`
	AIDeadlineBucket        *string    `json:"ai_deadline_bucket,omitempty"`
	AICustomerGrade         *string    `json:"ai_customer_grade,omitempty"`
	AIProducts              []string   `json:"ai_products,omitempty"`
	AIQuantities            []string   `json:"ai_quantities,omitempty"`
	AIPrices                []string   `json:"ai_prices,omitempty"`
	AITimeline              *string    `json:"ai_timeline,omitempty"`
	AINextAction            *string    `json:"ai_next_action,omitempty"`
	AITags                  []string   `json:"ai_tags,omitempty"`
	AIRiskLevel             *string    `json:"ai_risk_level,omitempty"`
	AIRiskFactors           []string   `json:"ai_risk_factors,omitempty"`
	AIOpportunityScore      *int       `json:"ai_opportunity_score,omitempty"`
	AIConversionProbability *float64   `json:"ai_conversion_probability,omitempty"`
	AISummary               *string    `json:"ai_summary,omitempty"`
	AINote                  *string    `json:"ai_note,omitempty"`
	NeedsHumanReview        bool       `json:"needs_human_review"`
	AnalyzedAt              *time.Time `json:"analyzed_at,omitempty"`
}

// Analyzed reports whether classification has run at least once.
func (e *InboundEmail) Analyzed() bool {
	return e.AnalyzedAt != nil
}

// EmailRepository persists inbound emails and their annotations.
type EmailRepository interface {
	// Create inserts the email. When the message id is already known it
	// returns the existing row and false instead of a new insert.
	Create(ctx context.Context, email *InboundEmail) (*InboundEmail, bool, error)
	GetByID(ctx context.Context, id int64) (*InboundEmail, error)
	GetByMessageID(ctx context.Context, messageID string) (*InboundEmail, error)
	List(ctx context.Context, page *PageRequest) ([]*InboundEmail, int64, error)
	// UpdateAnalysis overwrites all annotation columns from the analysis.
	UpdateAnalysis(ctx context.Context, id int64, analysis *EmailAnalysis) error
}

// EmailBody is the full content of an email, stored out of band.
type EmailBody struct {
	EmailID int64
	Text    string
	HTML    string
}

// EmailBodyRepository stores raw email bodies (text + HTML).
type EmailBodyRepository interface {
	Save(ctx context.Context, body *EmailBody) error
	Get(ctx context.Context, emailID int64) (*EmailBody, error)
	Delete(ctx context.Context, emailID int64) error
}
