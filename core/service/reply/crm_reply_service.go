package reply

import (
	"context"
	"strings"

	"crm_server/core/agent/llm"
	"crm_server/core/agent/rag"
	"crm_server/core/domain"
	"crm_server/pkg/apperr"
	"crm_server/pkg/logger"
)

// Service turns an analyzed email plus a matched rule into a reply draft,
// optionally grounded in the knowledge base.
type Service struct {
	emails    domain.EmailRepository
	bodies    domain.EmailBodyRepository
	templates domain.PromptTemplateRepository
	retriever *rag.Retriever
	llm       *llm.Client
}

func NewService(
	emails domain.EmailRepository,
	bodies domain.EmailBodyRepository,
	templates domain.PromptTemplateRepository,
	retriever *rag.Retriever,
	llmClient *llm.Client,
) *Service {
	return &Service{
		emails:    emails,
		bodies:    bodies,
		templates: templates,
		retriever: retriever,
		llm:       llmClient,
	}
}

// Draft is a generated reply with its provenance flags.
type Draft struct {
	Subject       string `json:"subject"`
	HTMLBody      string `json:"html_body"`
	KnowledgeUsed bool   `json:"knowledge_used"`
	PassageCount  int    `json:"passage_count"`
}

type DraftRequest struct {
	EmailID      int64
	UseKnowledge bool
	TemplateID   *int64
	Tone         string
}

// Generate drafts a reply for an email. Unlike classification this fails
// loud: a draft we cannot produce means no approval task gets created.
func (s *Service) Generate(ctx context.Context, req *DraftRequest) (*Draft, error) {
	email, err := s.emails.GetByID(ctx, req.EmailID)
	if err != nil {
		return nil, err
	}

	body := email.Snippet
	if stored, err := s.bodies.Get(ctx, req.EmailID); err == nil && stored != nil && stored.Text != "" {
		body = stored.Text
	}

	analysis := AnalysisFromEmail(email)

	var passages []string
	if req.UseKnowledge {
		passages = s.retrievePassages(ctx, email.Subject, body)
	}

	var template *llm.PromptTemplate
	if req.TemplateID != nil {
		tmpl, err := s.templates.GetByID(ctx, *req.TemplateID)
		if err != nil {
			logger.WithField("template_id", *req.TemplateID).WithError(err).Warn("prompt template missing, using default")
		} else {
			template = &llm.PromptTemplate{
				SystemPrompt:       tmpl.SystemPrompt,
				UserPromptTemplate: tmpl.UserPromptTemplate,
				Model:              tmpl.RecommendedModel,
			}
		}
	}

	html, err := s.llm.DraftReply(ctx, llm.DraftInput{
		Subject:  email.Subject,
		Body:     body,
		From:     email.FromEmail,
		Analysis: analysis,
		Passages: passages,
		Template: template,
		Tone:     req.Tone,
	})
	if err != nil {
		return nil, apperr.ReplyGenerationFailed(err)
	}

	return &Draft{
		Subject:       replySubject(email.Subject),
		HTMLBody:      html,
		KnowledgeUsed: len(passages) > 0,
		PassageCount:  len(passages),
	}, nil
}

// GenerateForRule drafts using a matched rule's policy (knowledge toggle,
// template, tone).
func (s *Service) GenerateForRule(ctx context.Context, emailID int64, rule *domain.AutoReplyRule) (*Draft, error) {
	return s.Generate(ctx, &DraftRequest{
		EmailID:      emailID,
		UseKnowledge: rule.UseKnowledge,
		TemplateID:   rule.TemplateID,
		Tone:         rule.Tone,
	})
}

// retrievePassages queries the knowledge base with subject+body. Retrieval
// failure or an empty result just means an ungrounded draft.
func (s *Service) retrievePassages(ctx context.Context, subject, body string) []string {
	query := strings.TrimSpace(subject + "\n" + body)
	matches, err := s.retriever.Retrieve(ctx, &rag.RetrievalRequest{Query: query})
	if err != nil {
		logger.WithError(err).Warn("knowledge retrieval failed, drafting without grounding")
		return nil
	}

	passages := make([]string, len(matches))
	for i, m := range matches {
		passages[i] = m.Content
	}
	return passages
}

// AnalysisFromEmail reconstructs the slim analysis view the drafter needs
// from the email's annotation columns.
func AnalysisFromEmail(email *domain.InboundEmail) *domain.EmailAnalysis {
	if !email.Analyzed() {
		return nil
	}
	analysis := &domain.EmailAnalysis{}
	if email.AIStage != nil {
		analysis.Stage = domain.BusinessStage(*email.AIStage)
	}
	if email.AISummary != nil {
		analysis.Summary = *email.AISummary
	}
	if email.AIIntentLevel != nil {
		analysis.Intent.Level = domain.IntentLevel(*email.AIIntentLevel)
	}
	if email.AIUrgencyLevel != nil {
		analysis.Urgency.Level = domain.UrgencyLevel(*email.AIUrgencyLevel)
	}
	if email.AnalyzedAt != nil {
		analysis.AnalyzedAt = *email.AnalyzedAt
	}
	return analysis
}

func replySubject(subject string) string {
	trimmed := strings.TrimSpace(subject)
	if trimmed == "" {
		return "Re:"
	}
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "re:") {
		return trimmed
	}
	return "Re: " + trimmed
}
