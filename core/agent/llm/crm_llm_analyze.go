package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"crm_server/core/domain"
)

const analyzeSystemPrompt = `You are a sales email analyst for an export trade company. Analyze the inbound email and respond with JSON only.

Business stage (pick ONE):
- new_inquiry: first contact asking about products, prices, MOQ
- quotation_followup: follow-up on a quotation already sent
- sample_stage: sample requests, sample feedback
- negotiation: bargaining over price, terms, payment
- order_confirmation: confirming an order, PI/PO exchange
- production: questions about production progress
- shipping: shipment, logistics, customs
- after_sales: complaints, claims, repeat-order discussions
- spam_marketing: unsolicited marketing, vendor pitches, irrelevant mail

Respond with this exact JSON format:
{
  "stage": "stage_name",
  "sub_category": "free-form finer label",
  "intent": {
    "level": "none|low|medium|high",
    "score": 0-100,
    "budget_tier": "unknown|small|medium|large",
    "decision_authority": "unknown|influencer|decision_maker",
    "competitive_situation": "unknown|exclusive|comparing_vendors"
  },
  "sentiment": {
    "sentiment": "positive|neutral|negative",
    "tone": "formal|casual|demanding|friendly",
    "satisfaction": "unknown|satisfied|dissatisfied"
  },
  "urgency": {
    "level": "low|medium|high|critical",
    "deadline_bucket": "none|this_week|this_month|this_quarter"
  },
  "entities": {
    "products": ["mentioned products"],
    "quantities": ["mentioned quantities"],
    "prices": ["mentioned prices"],
    "timeline": "mentioned timeline or empty"
  },
  "risk": {
    "level": "low|medium|high",
    "factors": ["risk factors"]
  },
  "customer_grade": "A|B|C|D",
  "next_action": "suggested next action for the sales rep",
  "suggested_tags": ["tag1", "tag2"],
  "opportunity_score": 0-100,
  "conversion_probability": 0.0-1.0,
  "summary": "brief 1-2 sentence summary in the email's language",
  "needs_human_review": true|false
}`

// AnalyzeEmail runs the full multi-dimensional analysis of one email.
// The returned error indicates a provider or top-level parse failure;
// callers degrade to domain.DefaultAnalysis rather than propagating it.
func (c *Client) AnalyzeEmail(ctx context.Context, subject, body, from string) (*domain.EmailAnalysis, error) {
	userPrompt := fmt.Sprintf("From: %s\nSubject: %s\n\nBody:\n%s",
		from, subject, truncateBody(body, 3000))

	resp, err := c.CompleteJSON(ctx, analyzeSystemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	analysis, err := ParseAnalysis(resp)
	if err != nil {
		return nil, err
	}
	return analysis, nil
}

// wire structs for the sub-objects; each is decoded independently so one
// malformed section never loses the rest of the analysis.
type intentWire struct {
	Level                string `json:"level"`
	Score                int    `json:"score"`
	BudgetTier           string `json:"budget_tier"`
	DecisionAuthority    string `json:"decision_authority"`
	CompetitiveSituation string `json:"competitive_situation"`
}

type sentimentWire struct {
	Sentiment    string `json:"sentiment"`
	Tone         string `json:"tone"`
	Satisfaction string `json:"satisfaction"`
}

type urgencyWire struct {
	Level          string `json:"level"`
	DeadlineBucket string `json:"deadline_bucket"`
}

type entitiesWire struct {
	Products   []string `json:"products"`
	Quantities []string `json:"quantities"`
	Prices     []string `json:"prices"`
	Timeline   string   `json:"timeline"`
}

type riskWire struct {
	Level   string   `json:"level"`
	Factors []string `json:"factors"`
}

// ParseAnalysis decodes the model's JSON into a typed analysis. The top-level
// object must parse; every sub-object is optional and defaults when missing
// or malformed.
func ParseAnalysis(raw string) (*domain.EmailAnalysis, error) {
	raw = stripCodeFences(raw)

	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &top); err != nil {
		return nil, fmt.Errorf("failed to parse analysis response: %w", err)
	}

	analysis := &domain.EmailAnalysis{
		Stage:      domain.StageSpamMarketing,
		AnalyzedAt: time.Now(),
	}

	if stage := decodeString(top, "stage"); stage != "" {
		analysis.Stage = domain.BusinessStage(stage)
	}
	analysis.SubCategory = decodeString(top, "sub_category")

	var intent intentWire
	if decodeObject(top, "intent", &intent) {
		analysis.Intent = domain.IntentAnalysis{
			Level:                domain.IntentLevel(defaultStr(intent.Level, "none")),
			Score:                clampInt(intent.Score, 0, 100),
			BudgetTier:           intent.BudgetTier,
			DecisionAuthority:    intent.DecisionAuthority,
			CompetitiveSituation: intent.CompetitiveSituation,
		}
	} else {
		analysis.Intent = domain.IntentAnalysis{Level: domain.IntentNone}
	}

	var sentiment sentimentWire
	if decodeObject(top, "sentiment", &sentiment) {
		analysis.Sentiment = domain.SentimentAnalysis{
			Sentiment:    defaultStr(sentiment.Sentiment, "neutral"),
			Tone:         sentiment.Tone,
			Satisfaction: sentiment.Satisfaction,
		}
	} else {
		analysis.Sentiment = domain.SentimentAnalysis{Sentiment: "neutral"}
	}

	var urgency urgencyWire
	if decodeObject(top, "urgency", &urgency) {
		analysis.Urgency = domain.UrgencyAnalysis{
			Level:          domain.UrgencyLevel(defaultStr(urgency.Level, "medium")),
			DeadlineBucket: defaultStr(urgency.DeadlineBucket, "none"),
		}
	} else {
		analysis.Urgency = domain.UrgencyAnalysis{Level: domain.UrgencyMedium, DeadlineBucket: "none"}
	}

	var entities entitiesWire
	if decodeObject(top, "entities", &entities) {
		analysis.Entities = domain.EntityMentions{
			Products:   entities.Products,
			Quantities: entities.Quantities,
			Prices:     entities.Prices,
			Timeline:   entities.Timeline,
		}
	}

	var risk riskWire
	if decodeObject(top, "risk", &risk) {
		analysis.Risk = domain.RiskAnalysis{
			Level:   domain.RiskLevel(defaultStr(risk.Level, "low")),
			Factors: risk.Factors,
		}
	} else {
		analysis.Risk = domain.RiskAnalysis{Level: domain.RiskLow}
	}

	analysis.CustomerGrade = decodeString(top, "customer_grade")
	analysis.NextAction = decodeString(top, "next_action")
	analysis.Summary = decodeString(top, "summary")
	decodeObject(top, "suggested_tags", &analysis.SuggestedTags)

	var score int
	if decodeObject(top, "opportunity_score", &score) {
		analysis.OpportunityScore = clampInt(score, 0, 100)
	}
	var prob float64
	if decodeObject(top, "conversion_probability", &prob) {
		analysis.ConversionProbability = clampFloat(prob, 0, 1)
	}
	var needsHuman bool
	if decodeObject(top, "needs_human_review", &needsHuman) {
		analysis.NeedsHumanReview = needsHuman
	}

	return analysis, nil
}

func decodeObject(top map[string]json.RawMessage, key string, dst any) bool {
	raw, ok := top[key]
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false
	}
	return true
}

func decodeString(top map[string]json.RawMessage, key string) string {
	var s string
	if decodeObject(top, key, &s) {
		return s
	}
	return ""
}

func defaultStr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// stripCodeFences removes markdown fence artifacts around a JSON payload.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
