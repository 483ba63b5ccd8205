package approval

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"crm_server/core/domain"
	"crm_server/core/port/out"
	"crm_server/pkg/apperr"
	"crm_server/pkg/logger"
)

const draftPreviewLen = 300

// Service owns the approval workflow: task creation, reviewer decisions,
// timeout expiry and the send flow after approval. All status transitions
// go through conditional updates at the repository; a losing caller gets
// STATE_CONFLICT with the status that beat them.
type Service struct {
	tasks    domain.ApprovalTaskRepository
	emails   domain.EmailRepository
	rules    domain.AutoReplyRuleRepository
	gateway  out.MailGateway
	notifier out.NotificationSink
	producer out.MessageProducer

	defaultTimeout time.Duration
	deepLinkBase   string
}

func NewService(
	tasks domain.ApprovalTaskRepository,
	emails domain.EmailRepository,
	rules domain.AutoReplyRuleRepository,
	gateway out.MailGateway,
	notifier out.NotificationSink,
	producer out.MessageProducer,
	defaultTimeout time.Duration,
	deepLinkBase string,
) *Service {
	if defaultTimeout <= 0 {
		defaultTimeout = 24 * time.Hour
	}
	return &Service{
		tasks:          tasks,
		emails:         emails,
		rules:          rules,
		gateway:        gateway,
		notifier:       notifier,
		producer:       producer,
		defaultTimeout: defaultTimeout,
		deepLinkBase:   deepLinkBase,
	}
}

type CreateTaskInput struct {
	EmailID       int64
	Rule          *domain.AutoReplyRule
	DraftSubject  string
	DraftHTML     string
	KnowledgeUsed bool
	Analysis      *domain.EmailAnalysis
}

// CreateTask opens a review task for a drafted reply. An email carries at
// most one live task: any existing non-terminal task is expired with a
// supersession note before the new one is created.
func (s *Service) CreateTask(ctx context.Context, input *CreateTaskInput) (*domain.ApprovalTask, error) {
	email, err := s.emails.GetByID(ctx, input.EmailID)
	if err != nil {
		return nil, err
	}

	if active, err := s.tasks.FindActiveByEmail(ctx, input.EmailID); err != nil {
		return nil, err
	} else if active != nil {
		ok, err := s.tasks.MarkSuperseded(ctx, active.ID, "superseded by a newer draft")
		if err != nil {
			return nil, err
		}
		if ok {
			logger.WithFields(map[string]any{
				"task_id":  active.ID,
				"email_id": input.EmailID,
			}).Info("superseded active approval task")
		} else {
			// Lost the claim. A concurrent decision landing the task in a
			// terminal state is fine; a task mid-delivery is not, the caller
			// retries once the send settles.
			current, err := s.tasks.GetByID(ctx, active.ID)
			if err != nil {
				return nil, err
			}
			if !current.Status.Terminal() {
				return nil, apperr.StateConflict(string(current.Status))
			}
		}
	}

	timeout := s.defaultTimeout
	channel := domain.ChannelChat
	autoSend := false
	var ruleID *int64
	var reviewers []string
	if input.Rule != nil {
		timeout = input.Rule.Timeout()
		channel = input.Rule.ApprovalChannel
		autoSend = input.Rule.AutoSendOnApproval
		reviewers = input.Rule.Reviewers
		id := input.Rule.ID
		ruleID = &id
	}

	var snapshot json.RawMessage
	if input.Analysis != nil {
		if raw, err := json.Marshal(input.Analysis); err == nil {
			snapshot = raw
		}
	}

	task := &domain.ApprovalTask{
		EmailID:          input.EmailID,
		RuleID:           ruleID,
		DraftSubject:     input.DraftSubject,
		DraftHTML:        input.DraftHTML,
		Status:           domain.ApprovalPending,
		Channel:          channel,
		TimeoutAt:        time.Now().Add(timeout),
		AutoSend:         autoSend,
		KnowledgeUsed:    input.KnowledgeUsed,
		AnalysisSnapshot: snapshot,
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, err
	}

	s.notifyRequested(ctx, task, email, input.Analysis, reviewers)
	return task, nil
}

// Approve records a reviewer's approval. When the rule asked for auto-send
// the actual delivery runs asynchronously via the send queue.
func (s *Service) Approve(ctx context.Context, taskID int64, reviewer string) (*domain.ApprovalTask, error) {
	if reviewer == "" {
		return nil, apperr.MissingField("reviewer")
	}

	ok, err := s.tasks.Approve(ctx, taskID, reviewer, time.Now())
	if err != nil {
		return nil, err
	}
	task, getErr := s.tasks.GetByID(ctx, taskID)
	if getErr != nil {
		return nil, getErr
	}
	if !ok {
		return nil, apperr.StateConflict(string(task.Status))
	}

	if task.RuleID != nil {
		if err := s.rules.IncrementApproved(ctx, *task.RuleID); err != nil {
			logger.WithField("rule_id", *task.RuleID).WithError(err).Warn("failed to bump approved count")
		}
	}
	s.notifyDecision(ctx, taskID, "approved", reviewer)

	if task.AutoSend {
		if err := s.producer.PublishSend(ctx, &out.SendJob{TaskID: taskID}); err != nil {
			logger.WithField("task_id", taskID).WithError(err).Error("failed to enqueue send")
		}
	}
	return task, nil
}

// Reject records a reviewer's rejection with a reason. Terminal.
func (s *Service) Reject(ctx context.Context, taskID int64, reviewer, reason string) (*domain.ApprovalTask, error) {
	if reviewer == "" {
		return nil, apperr.MissingField("reviewer")
	}

	ok, err := s.tasks.Reject(ctx, taskID, reviewer, reason, time.Now())
	if err != nil {
		return nil, err
	}
	task, getErr := s.tasks.GetByID(ctx, taskID)
	if getErr != nil {
		return nil, getErr
	}
	if !ok {
		return nil, apperr.StateConflict(string(task.Status))
	}

	if task.RuleID != nil {
		if err := s.rules.IncrementRejected(ctx, *task.RuleID); err != nil {
			logger.WithField("rule_id", *task.RuleID).WithError(err).Warn("failed to bump rejected count")
		}
	}
	s.notifyDecision(ctx, taskID, "rejected", reviewer)
	return task, nil
}

// Revise edits the draft while the task is still pending. The previous draft
// is appended to the revision history.
func (s *Service) Revise(ctx context.Context, taskID int64, editor, subject, htmlBody string) (*domain.ApprovalTask, error) {
	if editor == "" {
		return nil, apperr.MissingField("editor")
	}
	if htmlBody == "" {
		return nil, apperr.MissingField("html_body")
	}

	ok, err := s.tasks.Revise(ctx, taskID, domain.Revision{
		Editor:   editor,
		Subject:  subject,
		HTMLBody: htmlBody,
		EditedAt: time.Now(),
	})
	if err != nil {
		return nil, err
	}
	task, getErr := s.tasks.GetByID(ctx, taskID)
	if getErr != nil {
		return nil, getErr
	}
	if !ok {
		return nil, apperr.StateConflict(string(task.Status))
	}
	return task, nil
}

// Resend re-enqueues delivery of a task that failed to send. Only
// send_failed tasks qualify; approval is not repeated.
func (s *Service) Resend(ctx context.Context, taskID int64) error {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != domain.ApprovalSendFailed {
		return apperr.StateConflict(string(task.Status))
	}
	return s.producer.PublishSend(ctx, &out.SendJob{TaskID: taskID})
}

// ProcessSend delivers one approved draft. Called from the send worker; the
// sending status claims the task so a duplicate job becomes a no-op.
func (s *Service) ProcessSend(ctx context.Context, taskID int64) error {
	ok, err := s.tasks.MarkSending(ctx, taskID)
	if err != nil {
		return err
	}
	if !ok {
		logger.WithField("task_id", taskID).Info("send skipped, task not in a sendable state")
		return nil
	}

	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	email, err := s.emails.GetByID(ctx, task.EmailID)
	if err != nil {
		return err
	}

	result, err := s.gateway.Send(ctx, email.FromEmail, task.DraftSubject, task.DraftHTML, email.MessageID)
	if err != nil {
		logger.WithFields(map[string]any{
			"task_id": taskID,
			"error":   err.Error(),
		}).Error("reply delivery failed")
		if markErr := s.tasks.MarkSendFailed(ctx, taskID, err.Error()); markErr != nil {
			return markErr
		}
		return nil
	}

	return s.tasks.MarkSent(ctx, taskID, result.MessageID, result.SentAt)
}

// ExpireSweep expires overdue pending tasks. Returns how many it expired.
func (s *Service) ExpireSweep(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	tasks, err := s.tasks.ListExpirable(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, task := range tasks {
		ok, err := s.tasks.MarkExpired(ctx, task.ID, "approval timeout reached")
		if err != nil {
			logger.WithField("task_id", task.ID).WithError(err).Error("failed to expire task")
			continue
		}
		if ok {
			expired++
		}
	}
	if expired > 0 {
		logger.WithField("count", expired).Info("expired overdue approval tasks")
	}
	return expired, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*domain.ApprovalTask, error) {
	return s.tasks.GetByID(ctx, id)
}

func (s *Service) ListByStatus(ctx context.Context, status domain.ApprovalStatus, page *domain.PageRequest) ([]*domain.ApprovalTask, int64, error) {
	return s.tasks.ListByStatus(ctx, status, page)
}

// notifyRequested sends the review card. Fire-and-forget.
func (s *Service) notifyRequested(ctx context.Context, task *domain.ApprovalTask, email *domain.InboundEmail, analysis *domain.EmailAnalysis, reviewers []string) {
	notice := &out.ApprovalNotice{
		TaskID:       task.ID,
		EmailSubject: email.Subject,
		FromEmail:    email.FromEmail,
		DraftPreview: preview(task.DraftHTML),
		Channel:      task.Channel,
		Reviewers:    reviewers,
		TimeoutAt:    task.TimeoutAt,
		DeepLink:     s.deepLinkBase,
	}
	if analysis != nil {
		notice.Category = analysis.Category()
		notice.IntentLevel = string(analysis.Intent.Level)
		notice.UrgencyLevel = string(analysis.Urgency.Level)
		notice.Summary = analysis.Summary
	}
	if err := s.notifier.NotifyApprovalRequested(ctx, notice); err != nil {
		logger.WithField("task_id", task.ID).WithError(err).Warn("approval notification failed")
	}
}

func (s *Service) notifyDecision(ctx context.Context, taskID int64, outcome, reviewer string) {
	if err := s.notifier.NotifyDecision(ctx, taskID, outcome, reviewer); err != nil {
		logger.WithField("task_id", taskID).WithError(err).Warn("decision notification failed")
	}
}

func preview(html string) string {
	runes := []rune(html)
	if len(runes) <= draftPreviewLen {
		return html
	}
	return string(runes[:draftPreviewLen]) + "..."
}
