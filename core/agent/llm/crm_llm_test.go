package llm

import (
	"strings"
	"testing"

	"crm_server/core/domain"
)

func TestTruncateBody(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		maxLen   int
		expected string
	}{
		{
			name:     "short body",
			body:     "Hello world",
			maxLen:   100,
			expected: "Hello world",
		},
		{
			name:     "exact length",
			body:     "Hello",
			maxLen:   5,
			expected: "Hello",
		},
		{
			name:     "truncated",
			body:     "Hello world, this is a long message",
			maxLen:   10,
			expected: "Hello worl...",
		},
		{
			name:     "empty body",
			body:     "",
			maxLen:   100,
			expected: "",
		},
		{
			name:     "multibyte runes",
			body:     "你好世界你好世界",
			maxLen:   4,
			expected: "你好世界...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := truncateBody(tt.body, tt.maxLen)
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain json",
			input:    `{"stage":"new_inquiry"}`,
			expected: `{"stage":"new_inquiry"}`,
		},
		{
			name:     "json fence",
			input:    "```json\n{\"stage\":\"new_inquiry\"}\n```",
			expected: `{"stage":"new_inquiry"}`,
		},
		{
			name:     "bare fence",
			input:    "```\n{}\n```",
			expected: `{}`,
		},
		{
			name:     "surrounding whitespace",
			input:    "  \n{}\n  ",
			expected: `{}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := stripCodeFences(tt.input)
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestParseAnalysisComplete(t *testing.T) {
	raw := `{
		"stage": "new_inquiry",
		"sub_category": "product pricing",
		"intent": {"level": "high", "score": 85, "budget_tier": "medium", "decision_authority": "decision_maker", "competitive_situation": "comparing_vendors"},
		"sentiment": {"sentiment": "positive", "tone": "formal", "satisfaction": "unknown"},
		"urgency": {"level": "high", "deadline_bucket": "this_week"},
		"entities": {"products": ["LED panel"], "quantities": ["500 units"], "prices": ["$12/unit"], "timeline": "Q2"},
		"risk": {"level": "low", "factors": []},
		"customer_grade": "A",
		"next_action": "send quotation",
		"suggested_tags": ["hot-lead", "pricing"],
		"opportunity_score": 80,
		"conversion_probability": 0.7,
		"summary": "Buyer asks for pricing on 500 LED panels.",
		"needs_human_review": false
	}`

	analysis, err := ParseAnalysis(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if analysis.Stage != domain.StageNewInquiry {
		t.Errorf("expected stage new_inquiry, got %s", analysis.Stage)
	}
	if analysis.Intent.Level != domain.IntentHigh {
		t.Errorf("expected intent high, got %s", analysis.Intent.Level)
	}
	if analysis.Intent.Score != 85 {
		t.Errorf("expected intent score 85, got %d", analysis.Intent.Score)
	}
	if analysis.Urgency.DeadlineBucket != "this_week" {
		t.Errorf("expected deadline this_week, got %s", analysis.Urgency.DeadlineBucket)
	}
	if len(analysis.Entities.Products) != 1 || analysis.Entities.Products[0] != "LED panel" {
		t.Errorf("unexpected products: %v", analysis.Entities.Products)
	}
	if analysis.OpportunityScore != 80 {
		t.Errorf("expected opportunity 80, got %d", analysis.OpportunityScore)
	}
	if analysis.ConversionProbability != 0.7 {
		t.Errorf("expected probability 0.7, got %f", analysis.ConversionProbability)
	}
	if analysis.NeedsHumanReview {
		t.Error("expected needs_human_review false")
	}
	if analysis.AnalyzedAt.IsZero() {
		t.Error("expected AnalyzedAt to be set")
	}
}

func TestParseAnalysisMissingSections(t *testing.T) {
	// Only the stage is present; every sub-object must default.
	analysis, err := ParseAnalysis(`{"stage": "negotiation"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if analysis.Stage != domain.StageNegotiation {
		t.Errorf("expected stage negotiation, got %s", analysis.Stage)
	}
	if analysis.Intent.Level != domain.IntentNone {
		t.Errorf("expected default intent none, got %s", analysis.Intent.Level)
	}
	if analysis.Sentiment.Sentiment != "neutral" {
		t.Errorf("expected default sentiment neutral, got %s", analysis.Sentiment.Sentiment)
	}
	if analysis.Urgency.Level != domain.UrgencyMedium {
		t.Errorf("expected default urgency medium, got %s", analysis.Urgency.Level)
	}
	if analysis.Risk.Level != domain.RiskLow {
		t.Errorf("expected default risk low, got %s", analysis.Risk.Level)
	}
}

func TestParseAnalysisMalformedSection(t *testing.T) {
	// A malformed sub-object must not lose the rest of the analysis.
	raw := `{"stage": "shipping", "intent": "not an object", "summary": "shipment status question"}`

	analysis, err := ParseAnalysis(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if analysis.Stage != domain.StageShipping {
		t.Errorf("expected stage shipping, got %s", analysis.Stage)
	}
	if analysis.Intent.Level != domain.IntentNone {
		t.Errorf("expected default intent for malformed section, got %s", analysis.Intent.Level)
	}
	if analysis.Summary != "shipment status question" {
		t.Errorf("expected summary preserved, got %q", analysis.Summary)
	}
}

func TestParseAnalysisFenced(t *testing.T) {
	raw := "```json\n{\"stage\": \"after_sales\"}\n```"

	analysis, err := ParseAnalysis(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if analysis.Stage != domain.StageAfterSales {
		t.Errorf("expected stage after_sales, got %s", analysis.Stage)
	}
}

func TestParseAnalysisClamps(t *testing.T) {
	raw := `{"stage": "new_inquiry", "intent": {"level": "high", "score": 400}, "opportunity_score": -5, "conversion_probability": 1.8}`

	analysis, err := ParseAnalysis(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if analysis.Intent.Score != 100 {
		t.Errorf("expected intent score clamped to 100, got %d", analysis.Intent.Score)
	}
	if analysis.OpportunityScore != 0 {
		t.Errorf("expected opportunity clamped to 0, got %d", analysis.OpportunityScore)
	}
	if analysis.ConversionProbability != 1.0 {
		t.Errorf("expected probability clamped to 1.0, got %f", analysis.ConversionProbability)
	}
}

func TestParseAnalysisInvalidJSON(t *testing.T) {
	if _, err := ParseAnalysis("this is not json"); err == nil {
		t.Error("expected error for non-JSON response")
	}
	if _, err := ParseAnalysis(""); err == nil {
		t.Error("expected error for empty response")
	}
}

func TestParseAnalysisUnknownStageDefaults(t *testing.T) {
	analysis, err := ParseAnalysis(`{}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if analysis.Stage != domain.StageSpamMarketing {
		t.Errorf("expected missing stage to default to spam_marketing, got %s", analysis.Stage)
	}
}

func TestSanitizeDraft(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain fragment",
			input:    "<p>Thank you for your inquiry.</p>",
			expected: "<p>Thank you for your inquiry.</p>",
		},
		{
			name:     "markdown fence",
			input:    "```html\n<p>Hello</p>\n```",
			expected: "<p>Hello</p>",
		},
		{
			name:     "full document",
			input:    "<!DOCTYPE html><html><head><title>x</title></head><body><p>Hello</p></body></html>",
			expected: "<p>Hello</p>",
		},
		{
			name:     "whitespace only",
			input:    "   \n\t ",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeDraft(tt.input)
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestRenderTemplate(t *testing.T) {
	values := map[string]string{
		"subject": "RE: quotation",
		"stage":   "negotiation",
	}

	rendered, ok := renderTemplate("Reply to {{subject}} at stage {{ stage }}.", values)
	if !ok {
		t.Fatal("expected template to render")
	}
	if rendered != "Reply to RE: quotation at stage negotiation." {
		t.Errorf("unexpected render: %q", rendered)
	}
}

func TestRenderTemplateUnknownPlaceholder(t *testing.T) {
	if _, ok := renderTemplate("Use {{nonexistent}} here.", map[string]string{}); ok {
		t.Error("expected render to fail on unknown placeholder")
	}
}

func TestRenderTemplateNoPlaceholders(t *testing.T) {
	rendered, ok := renderTemplate("A fixed prompt.", nil)
	if !ok || rendered != "A fixed prompt." {
		t.Errorf("expected passthrough, got %q (ok=%v)", rendered, ok)
	}
}

func TestNewClientWithConfigDefaults(t *testing.T) {
	c := NewClientWithConfig(ClientConfig{APIKey: "test-key"})

	if c.model != DefaultModel {
		t.Errorf("expected default model %s, got %s", DefaultModel, c.model)
	}
	if string(c.embeddingModel) != DefaultEmbeddingModel {
		t.Errorf("expected default embedding model %s, got %s", DefaultEmbeddingModel, c.embeddingModel)
	}
	if c.maxTokens != 2048 {
		t.Errorf("expected default max tokens 2048, got %d", c.maxTokens)
	}
	if c.maxRetries != 3 {
		t.Errorf("expected default max retries 3, got %d", c.maxRetries)
	}
}

func TestBuildDraftPromptsDefault(t *testing.T) {
	model, system, user := buildDraftPrompts(DraftInput{
		Subject: "Price for LED panels",
		Body:    "Need 500 units.",
		From:    "buyer@example.com",
	})

	if model != "" {
		t.Errorf("expected no model override, got %q", model)
	}
	if !strings.Contains(system, "professional") {
		t.Errorf("expected default tone in system prompt, got %q", system)
	}
	if !strings.Contains(user, "buyer@example.com") || !strings.Contains(user, "Need 500 units.") {
		t.Errorf("expected sender and body in user prompt, got %q", user)
	}
}

func TestBuildDraftPromptsCustomTemplate(t *testing.T) {
	model, system, user := buildDraftPrompts(DraftInput{
		Subject: "Price for LED panels",
		Body:    "Need 500 units.",
		From:    "buyer@example.com",
		Tone:    "friendly",
		Template: &PromptTemplate{
			SystemPrompt:       "You reply in a {{tone}} voice.",
			UserPromptTemplate: "From {{from}}: {{body}}",
			Model:              "gpt-4o",
		},
	})

	if model != "gpt-4o" {
		t.Errorf("expected recommended model passed through, got %q", model)
	}
	if system != "You reply in a friendly voice." {
		t.Errorf("expected rendered template system prompt, got %q", system)
	}
	if user != "From buyer@example.com: Need 500 units." {
		t.Errorf("expected rendered template user prompt, got %q", user)
	}
}

func TestBuildDraftPromptsPartialTemplate(t *testing.T) {
	// An empty half keeps the built-in prompt for that half.
	model, system, user := buildDraftPrompts(DraftInput{
		Subject: "Price for LED panels",
		Body:    "Need 500 units.",
		From:    "buyer@example.com",
		Template: &PromptTemplate{
			SystemPrompt: "Always quote FOB Shanghai.",
			Model:        "gpt-4o",
		},
	})

	if model != "gpt-4o" {
		t.Errorf("expected model override, got %q", model)
	}
	if system != "Always quote FOB Shanghai." {
		t.Errorf("expected template system prompt, got %q", system)
	}
	if !strings.Contains(user, "Need 500 units.") {
		t.Errorf("expected default user prompt, got %q", user)
	}
}

func TestBuildDraftPromptsTemplateFallback(t *testing.T) {
	// A placeholder we cannot fill in either half drops the whole template:
	// default prompts, no model override.
	for _, tmpl := range []*PromptTemplate{
		{SystemPrompt: "Use {{nonexistent}}.", UserPromptTemplate: "From {{from}}.", Model: "gpt-4o"},
		{SystemPrompt: "Plain.", UserPromptTemplate: "Use {{nonexistent}}.", Model: "gpt-4o"},
	} {
		model, system, user := buildDraftPrompts(DraftInput{
			Subject:  "Price for LED panels",
			Body:     "Need 500 units.",
			From:     "buyer@example.com",
			Template: tmpl,
		})
		if model != "" {
			t.Errorf("expected no model override on fallback, got %q", model)
		}
		if !strings.Contains(system, "export-sales representative") {
			t.Errorf("expected default system prompt on fallback, got %q", system)
		}
		if !strings.Contains(user, "Write the reply:") {
			t.Errorf("expected default user prompt on fallback, got %q", user)
		}
	}
}

func TestDraftPromptMentionsReferenceMaterial(t *testing.T) {
	// The knowledge block only appears when passages exist; the base prompt
	// must not promise reference material it does not carry.
	if strings.Contains(defaultDraftPrompt, "Reference material") {
		t.Error("base prompt must not embed the knowledge header")
	}
}
