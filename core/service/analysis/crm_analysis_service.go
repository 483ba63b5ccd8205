package analysis

import (
	"context"
	"time"

	"crm_server/core/domain"
	"crm_server/core/port/out"
	"crm_server/pkg/logger"
)

// Analyzer classifies one email. Satisfied by *llm.Client.
type Analyzer interface {
	AnalyzeEmail(ctx context.Context, subject, body, from string) (*domain.EmailAnalysis, error)
}

// Service runs the classification step of the pipeline and dispatches rule
// matching on the result.
type Service struct {
	emails   domain.EmailRepository
	bodies   domain.EmailBodyRepository
	rules    domain.AutoReplyRuleRepository
	llm      Analyzer
	producer out.MessageProducer
}

func NewService(
	emails domain.EmailRepository,
	bodies domain.EmailBodyRepository,
	rules domain.AutoReplyRuleRepository,
	analyzer Analyzer,
	producer out.MessageProducer,
) *Service {
	return &Service{
		emails:   emails,
		bodies:   bodies,
		rules:    rules,
		llm:      analyzer,
		producer: producer,
	}
}

// AnalyzeEmail classifies one email and, when a rule matches, enqueues reply
// drafting. Classification never fails the pipeline: provider or parse
// errors degrade to the safe default analysis so the email still reaches a
// human.
func (s *Service) AnalyzeEmail(ctx context.Context, emailID int64, force bool) (*domain.EmailAnalysis, error) {
	email, err := s.emails.GetByID(ctx, emailID)
	if err != nil {
		return nil, err
	}
	if email.Analyzed() && !force {
		logger.WithField("email_id", emailID).Info("email already analyzed, skipping")
		return nil, nil
	}

	body := email.Snippet
	if stored, err := s.bodies.Get(ctx, emailID); err == nil && stored != nil && stored.Text != "" {
		body = stored.Text
	}

	start := time.Now()
	result, err := s.llm.AnalyzeEmail(ctx, email.Subject, body, email.FromEmail)
	if err != nil {
		logger.WithFields(map[string]any{
			"email_id": emailID,
			"error":    err.Error(),
		}).Warn("classification failed, applying default analysis")
		result = domain.DefaultAnalysis("classification failed: " + err.Error())
	}
	logger.WithFields(map[string]any{
		"email_id": emailID,
		"stage":    string(result.Stage),
		"duration": time.Since(start).Milliseconds(),
	}).Info("email analyzed")

	if err := s.emails.UpdateAnalysis(ctx, emailID, result); err != nil {
		return nil, err
	}

	s.dispatchRule(ctx, emailID, result)
	return result, nil
}

// dispatchRule finds the winning auto-reply rule for the analysis and
// enqueues drafting. No match is the normal outcome for most categories.
func (s *Service) dispatchRule(ctx context.Context, emailID int64, analysis *domain.EmailAnalysis) {
	rule, err := s.MatchRule(ctx, analysis.Category())
	if err != nil {
		logger.WithField("email_id", emailID).WithError(err).Error("rule lookup failed")
		return
	}
	if rule == nil {
		return
	}

	if err := s.rules.IncrementTriggered(ctx, rule.ID); err != nil {
		logger.WithField("rule_id", rule.ID).WithError(err).Warn("failed to bump trigger count")
	}

	if err := s.producer.PublishDraft(ctx, &out.DraftJob{EmailID: emailID, RuleID: rule.ID}); err != nil {
		logger.WithFields(map[string]any{
			"email_id": emailID,
			"rule_id":  rule.ID,
		}).WithError(err).Error("failed to enqueue draft job")
	}
}

// MatchRule picks the highest-priority enabled rule for a category. Priority
// ties resolve to the lowest rule id, which ListMatchable orders for us.
func (s *Service) MatchRule(ctx context.Context, category domain.RuleCategory) (*domain.AutoReplyRule, error) {
	rules, err := s.rules.ListMatchable(ctx, category)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, nil
	}
	return rules[0], nil
}
