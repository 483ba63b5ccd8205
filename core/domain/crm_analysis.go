package domain

import "time"

// =============================================================================
// Business Stage & Rule Category
// =============================================================================

// BusinessStage is the fine-grained lifecycle label the classifier assigns
// to an inbound email.
type BusinessStage string

const (
	StageNewInquiry        BusinessStage = "new_inquiry"
	StageQuotationFollowup BusinessStage = "quotation_followup"
	StageSampleStage       BusinessStage = "sample_stage"
	StageNegotiation       BusinessStage = "negotiation"
	StageOrderConfirmation BusinessStage = "order_confirmation"
	StageProduction        BusinessStage = "production"
	StageShipping          BusinessStage = "shipping"
	StageAfterSales        BusinessStage = "after_sales"
	StageSpamMarketing     BusinessStage = "spam_marketing"
)

// RuleCategory is the coarse category auto-reply rules match against.
type RuleCategory string

const (
	CategoryInquiry     RuleCategory = "inquiry"
	CategoryQuotation   RuleCategory = "quotation"
	CategorySample      RuleCategory = "sample"
	CategoryNegotiation RuleCategory = "negotiation"
	CategoryOrder       RuleCategory = "order"
	CategoryAfterSales  RuleCategory = "after_sales"
	CategorySpam        RuleCategory = "spam"
)

// stageCategories maps each business stage to its rule-matching category.
// Unrecognized stages fall through to spam: unclassifiable mail must not
// trigger an automatic customer-facing reply.
var stageCategories = map[BusinessStage]RuleCategory{
	StageNewInquiry:        CategoryInquiry,
	StageQuotationFollowup: CategoryQuotation,
	StageSampleStage:       CategorySample,
	StageNegotiation:       CategoryNegotiation,
	StageOrderConfirmation: CategoryOrder,
	StageProduction:        CategoryOrder,
	StageShipping:          CategoryOrder,
	StageAfterSales:        CategoryAfterSales,
	StageSpamMarketing:     CategorySpam,
}

// CategoryForStage resolves a stage to its rule category, defaulting to spam.
func CategoryForStage(stage BusinessStage) RuleCategory {
	if cat, ok := stageCategories[stage]; ok {
		return cat
	}
	return CategorySpam
}

// =============================================================================
// Analysis levels
// =============================================================================

type IntentLevel string

const (
	IntentNone   IntentLevel = "none"
	IntentLow    IntentLevel = "low"
	IntentMedium IntentLevel = "medium"
	IntentHigh   IntentLevel = "high"
)

type UrgencyLevel string

const (
	UrgencyLow      UrgencyLevel = "low"
	UrgencyMedium   UrgencyLevel = "medium"
	UrgencyHigh     UrgencyLevel = "high"
	UrgencyCritical UrgencyLevel = "critical"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// =============================================================================
// Email Analysis
// =============================================================================

// IntentAnalysis captures purchase-intent signals.
type IntentAnalysis struct {
	Level                IntentLevel `json:"level"`
	Score                int         `json:"score"` // 0-100
	BudgetTier           string      `json:"budget_tier"`
	DecisionAuthority    string      `json:"decision_authority"`
	CompetitiveSituation string      `json:"competitive_situation"`
}

// SentimentAnalysis captures emotional signals.
type SentimentAnalysis struct {
	Sentiment    string `json:"sentiment"` // positive, neutral, negative
	Tone         string `json:"tone"`
	Satisfaction string `json:"satisfaction"`
}

// UrgencyAnalysis captures time pressure.
type UrgencyAnalysis struct {
	Level          UrgencyLevel `json:"level"`
	DeadlineBucket string       `json:"deadline_bucket"` // none, this_week, this_month, this_quarter
}

// EntityMentions are concrete things the email talks about.
type EntityMentions struct {
	Products   []string `json:"products"`
	Quantities []string `json:"quantities"`
	Prices     []string `json:"prices"`
	Timeline   string   `json:"timeline"`
}

// RiskAnalysis captures risk signals.
type RiskAnalysis struct {
	Level   RiskLevel `json:"level"`
	Factors []string  `json:"factors"`
}

// EmailAnalysis is the full multi-dimensional classification of one email.
// It is written onto the email row wholesale on every (re)analysis.
type EmailAnalysis struct {
	Stage       BusinessStage `json:"stage"`
	SubCategory string        `json:"sub_category"`

	Intent    IntentAnalysis    `json:"intent"`
	Sentiment SentimentAnalysis `json:"sentiment"`
	Urgency   UrgencyAnalysis   `json:"urgency"`
	Entities  EntityMentions    `json:"entities"`
	Risk      RiskAnalysis      `json:"risk"`

	CustomerGrade         string   `json:"customer_grade"`
	NextAction            string   `json:"next_action"`
	SuggestedTags         []string `json:"suggested_tags"`
	OpportunityScore      int      `json:"opportunity_score"` // 0-100
	ConversionProbability float64  `json:"conversion_probability"`

	Summary          string `json:"summary"`
	NeedsHumanReview bool   `json:"needs_human_review"`
	Note             string `json:"note,omitempty"`

	AnalyzedAt time.Time `json:"analyzed_at"`
}

// Category resolves the coarse rule-matching category of the analysis.
func (a *EmailAnalysis) Category() RuleCategory {
	return CategoryForStage(a.Stage)
}

// DefaultAnalysis is the safe fallback when classification fails.
// The pipeline degrades to "low priority, needs a human" rather than crashing.
func DefaultAnalysis(note string) *EmailAnalysis {
	if note == "" {
		note = "automated analysis failed"
	}
	return &EmailAnalysis{
		Stage:       StageSpamMarketing,
		SubCategory: "unclassified",
		Intent: IntentAnalysis{
			Level: IntentNone,
			Score: 0,
		},
		Sentiment: SentimentAnalysis{
			Sentiment: "neutral",
			Tone:      "unknown",
		},
		Urgency: UrgencyAnalysis{
			Level:          UrgencyMedium,
			DeadlineBucket: "none",
		},
		Risk: RiskAnalysis{
			Level: RiskLow,
		},
		NeedsHumanReview: true,
		Note:             note,
		AnalyzedAt:       time.Now(),
	}
}
