package worker

import (
	"context"
	"fmt"

	"crm_server/core/domain"
	"crm_server/core/port/out"
	"crm_server/core/service/analysis"
	"crm_server/core/service/approval"
	"crm_server/core/service/reply"
	"crm_server/pkg/logger"
)

// TriageProcessor handles the email pipeline stages that run off the queue:
// classification, reply drafting and the post-approval send.
type TriageProcessor struct {
	analysisService *analysis.Service
	replyService    *reply.Service
	approvalService *approval.Service
	emails          domain.EmailRepository
	rules           domain.AutoReplyRuleRepository
}

func NewTriageProcessor(
	analysisService *analysis.Service,
	replyService *reply.Service,
	approvalService *approval.Service,
	emails domain.EmailRepository,
	rules domain.AutoReplyRuleRepository,
) *TriageProcessor {
	return &TriageProcessor{
		analysisService: analysisService,
		replyService:    replyService,
		approvalService: approvalService,
		emails:          emails,
		rules:           rules,
	}
}

// ProcessClassify annotates an inbound email. Rule matching and the draft
// job hand-off happen inside the analysis service.
func (p *TriageProcessor) ProcessClassify(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[out.ClassifyJob](msg)
	if err != nil {
		return fmt.Errorf("failed to parse payload: %w", err)
	}

	result, err := p.analysisService.AnalyzeEmail(ctx, payload.EmailID, payload.Force)
	if err != nil {
		return fmt.Errorf("classify email %d: %w", payload.EmailID, err)
	}
	if result == nil {
		logger.Debug("email %d already analyzed, skipping", payload.EmailID)
		return nil
	}

	logger.WithFields(map[string]any{
		"email_id": payload.EmailID,
		"stage":    result.Stage,
		"intent":   result.Intent.Level,
	}).Info("email classified")
	return nil
}

// ProcessDraft generates a reply draft under the matched rule's policy and
// opens an approval task for it. A drafting failure propagates so the job
// retries; no task is created for an email we could not draft for.
func (p *TriageProcessor) ProcessDraft(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[out.DraftJob](msg)
	if err != nil {
		return fmt.Errorf("failed to parse payload: %w", err)
	}

	rule, err := p.rules.GetByID(ctx, payload.RuleID)
	if err != nil {
		return fmt.Errorf("load rule %d: %w", payload.RuleID, err)
	}

	email, err := p.emails.GetByID(ctx, payload.EmailID)
	if err != nil {
		return fmt.Errorf("load email %d: %w", payload.EmailID, err)
	}

	draft, err := p.replyService.GenerateForRule(ctx, payload.EmailID, rule)
	if err != nil {
		return fmt.Errorf("draft reply for email %d: %w", payload.EmailID, err)
	}

	task, err := p.approvalService.CreateTask(ctx, &approval.CreateTaskInput{
		EmailID:       payload.EmailID,
		Rule:          rule,
		DraftSubject:  draft.Subject,
		DraftHTML:     draft.HTMLBody,
		KnowledgeUsed: draft.KnowledgeUsed,
		Analysis:      reply.AnalysisFromEmail(email),
	})
	if err != nil {
		return fmt.Errorf("create approval task for email %d: %w", payload.EmailID, err)
	}

	logger.WithFields(map[string]any{
		"email_id":       payload.EmailID,
		"rule_id":        payload.RuleID,
		"task_id":        task.ID,
		"knowledge_used": draft.KnowledgeUsed,
		"passages":       draft.PassageCount,
	}).Info("reply drafted, approval task opened")
	return nil
}

// ProcessSend delivers an approved draft. The service claims the task with
// a conditional status update, so a duplicate send job is a no-op.
func (p *TriageProcessor) ProcessSend(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[out.SendJob](msg)
	if err != nil {
		return fmt.Errorf("failed to parse payload: %w", err)
	}

	if err := p.approvalService.ProcessSend(ctx, payload.TaskID); err != nil {
		return fmt.Errorf("send task %d: %w", payload.TaskID, err)
	}
	return nil
}
