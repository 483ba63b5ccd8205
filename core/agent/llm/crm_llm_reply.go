package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"crm_server/core/domain"
)

// DraftInput carries everything the drafter needs for one reply.
type DraftInput struct {
	Subject  string
	Body     string
	From     string
	Analysis *domain.EmailAnalysis

	// Passages are retrieved knowledge snippets; empty means draft without
	// grounding.
	Passages []string

	Template *PromptTemplate
	Tone     string
}

// PromptTemplate is an operator-supplied prompt pair with an optional model
// override. Both prompts may contain {{subject}}, {{body}}, {{from}},
// {{stage}}, {{summary}}, {{knowledge}} and {{tone}} placeholders; a
// placeholder we cannot fill drops the whole template in favor of the
// built-in prompts.
type PromptTemplate struct {
	SystemPrompt       string
	UserPromptTemplate string
	Model              string
}

const defaultDraftPrompt = `You are a professional export-sales representative replying to a customer email.

Tone: %s
Stage of the deal: %s
Analysis summary: %s

%sWrite a complete, courteous reply in the customer's language. Address their
questions concretely. Do not invent prices, lead times or certifications that
are not in the reference material. Do not include a subject line or headers.
Output the reply body as simple HTML paragraphs (<p>...</p>).`

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-z_]+)\s*\}\}`)

// DraftReply generates a reply draft for an analyzed email, optionally
// grounded in knowledge passages and rendered through a custom template.
func (c *Client) DraftReply(ctx context.Context, input DraftInput) (string, error) {
	model, systemPrompt, userPrompt := buildDraftPrompts(input)

	raw, err := c.CompleteWithModel(ctx, model, systemPrompt, userPrompt)
	if err != nil {
		return "", err
	}

	draft := SanitizeDraft(raw)
	if draft == "" {
		return "", fmt.Errorf("model returned an empty reply")
	}
	return draft, nil
}

// buildDraftPrompts assembles the model override and the system/user prompt
// pair. A template replaces both halves together: the template system prompt
// becomes the system message, the user-prompt template the user message, and
// the recommended model rides along. A render failure in either half falls
// back to the built-in pair with no model override.
func buildDraftPrompts(input DraftInput) (model, systemPrompt, userPrompt string) {
	tone := input.Tone
	if tone == "" {
		tone = "professional"
	}

	stage := ""
	summary := ""
	if input.Analysis != nil {
		stage = string(input.Analysis.Stage)
		summary = input.Analysis.Summary
	}

	knowledge := ""
	if len(input.Passages) > 0 {
		var sb strings.Builder
		sb.WriteString("Reference material (use when relevant, never contradict it):\n")
		for i, p := range input.Passages {
			sb.WriteString(fmt.Sprintf("[%d] %s\n", i+1, p))
		}
		sb.WriteString("\n")
		knowledge = sb.String()
	}

	systemPrompt = fmt.Sprintf(defaultDraftPrompt, tone, stage, summary, knowledge)
	userPrompt = fmt.Sprintf("Customer email from %s:\nSubject: %s\n\n%s\n\nWrite the reply:",
		input.From, input.Subject, truncateBody(input.Body, 2000))

	if input.Template == nil {
		return "", systemPrompt, userPrompt
	}

	values := map[string]string{
		"subject":   input.Subject,
		"body":      truncateBody(input.Body, 2000),
		"from":      input.From,
		"stage":     stage,
		"summary":   summary,
		"knowledge": knowledge,
		"tone":      tone,
	}

	renderedSystem, okSystem := systemPrompt, true
	if input.Template.SystemPrompt != "" {
		renderedSystem, okSystem = renderTemplate(input.Template.SystemPrompt, values)
	}
	renderedUser, okUser := userPrompt, true
	if input.Template.UserPromptTemplate != "" {
		renderedUser, okUser = renderTemplate(input.Template.UserPromptTemplate, values)
	}
	if !okSystem || !okUser {
		return "", systemPrompt, userPrompt
	}
	return input.Template.Model, renderedSystem, renderedUser
}

// renderTemplate substitutes {{placeholder}} markers. It reports false when
// the template references a placeholder we cannot fill, so the caller falls
// back to the default prompt instead of sending a broken one.
func renderTemplate(tmpl string, values map[string]string) (string, bool) {
	ok := true
	rendered := placeholderPattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := placeholderPattern.FindStringSubmatch(m)[1]
		v, found := values[key]
		if !found {
			ok = false
			return m
		}
		return v
	})
	if !ok {
		return "", false
	}
	return rendered, true
}

var (
	doctypePattern  = regexp.MustCompile(`(?is)<!doctype[^>]*>`)
	headPattern     = regexp.MustCompile(`(?is)<head.*?</head>`)
	wrapTagPattern  = regexp.MustCompile(`(?i)</?(html|body)[^>]*>`)
	fencePattern    = regexp.MustCompile("(?s)^```[a-zA-Z]*\n?|```$")
)

// SanitizeDraft strips markdown fences and full-document HTML scaffolding
// the model sometimes wraps replies in, leaving fragment HTML.
func SanitizeDraft(raw string) string {
	s := strings.TrimSpace(raw)
	s = fencePattern.ReplaceAllString(s, "")
	s = doctypePattern.ReplaceAllString(s, "")
	s = headPattern.ReplaceAllString(s, "")
	s = wrapTagPattern.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
