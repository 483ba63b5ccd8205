package approval

import (
	"context"
	"errors"
	"testing"
	"time"

	"crm_server/core/domain"
	"crm_server/core/port/out"
	"crm_server/pkg/apperr"
)

// mockTaskRepo is an in-memory repository with the same conditional-update
// semantics as the SQL adapter: transitions report whether the caller won.
type mockTaskRepo struct {
	tasks  map[int64]*domain.ApprovalTask
	nextID int64
}

func newMockTaskRepo() *mockTaskRepo {
	return &mockTaskRepo{tasks: make(map[int64]*domain.ApprovalTask), nextID: 1}
}

func (m *mockTaskRepo) Create(ctx context.Context, task *domain.ApprovalTask) error {
	task.ID = m.nextID
	m.nextID++
	task.CreatedAt = time.Now()
	m.tasks[task.ID] = task
	return nil
}

func (m *mockTaskRepo) GetByID(ctx context.Context, id int64) (*domain.ApprovalTask, error) {
	task, ok := m.tasks[id]
	if !ok {
		return nil, apperr.NotFound("approval task")
	}
	return task, nil
}

func (m *mockTaskRepo) ListByStatus(ctx context.Context, status domain.ApprovalStatus, page *domain.PageRequest) ([]*domain.ApprovalTask, int64, error) {
	var result []*domain.ApprovalTask
	for _, task := range m.tasks {
		if task.Status == status {
			result = append(result, task)
		}
	}
	return result, int64(len(result)), nil
}

func (m *mockTaskRepo) FindActiveByEmail(ctx context.Context, emailID int64) (*domain.ApprovalTask, error) {
	var newest *domain.ApprovalTask
	for _, task := range m.tasks {
		if task.EmailID != emailID || task.Status.Terminal() {
			continue
		}
		if newest == nil || task.ID > newest.ID {
			newest = task
		}
	}
	return newest, nil
}

func (m *mockTaskRepo) ListExpirable(ctx context.Context, now time.Time, limit int) ([]*domain.ApprovalTask, error) {
	var result []*domain.ApprovalTask
	for _, task := range m.tasks {
		if task.Status == domain.ApprovalPending && task.TimeoutAt.Before(now) {
			result = append(result, task)
		}
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *mockTaskRepo) transition(id int64, from []domain.ApprovalStatus, to domain.ApprovalStatus) bool {
	task, ok := m.tasks[id]
	if !ok {
		return false
	}
	for _, s := range from {
		if task.Status == s {
			task.Status = to
			return true
		}
	}
	return false
}

func (m *mockTaskRepo) Approve(ctx context.Context, id int64, reviewer string, at time.Time) (bool, error) {
	won := m.transition(id, []domain.ApprovalStatus{domain.ApprovalPending}, domain.ApprovalApproved)
	if won {
		m.tasks[id].Reviewer = &reviewer
		m.tasks[id].DecidedAt = &at
	}
	return won, nil
}

func (m *mockTaskRepo) Reject(ctx context.Context, id int64, reviewer, reason string, at time.Time) (bool, error) {
	won := m.transition(id, []domain.ApprovalStatus{domain.ApprovalPending}, domain.ApprovalRejected)
	if won {
		m.tasks[id].Reviewer = &reviewer
		m.tasks[id].RejectReason = &reason
		m.tasks[id].DecidedAt = &at
	}
	return won, nil
}

func (m *mockTaskRepo) Revise(ctx context.Context, id int64, rev domain.Revision) (bool, error) {
	task, ok := m.tasks[id]
	if !ok || task.Status != domain.ApprovalPending {
		return false, nil
	}
	task.Revisions = append(task.Revisions, domain.Revision{
		Editor:   rev.Editor,
		Subject:  task.DraftSubject,
		HTMLBody: task.DraftHTML,
		EditedAt: rev.EditedAt,
	})
	task.DraftSubject = rev.Subject
	task.DraftHTML = rev.HTMLBody
	task.RevisionCount++
	return true, nil
}

func (m *mockTaskRepo) MarkExpired(ctx context.Context, id int64, note string) (bool, error) {
	return m.transition(id, []domain.ApprovalStatus{domain.ApprovalPending}, domain.ApprovalExpired), nil
}

func (m *mockTaskRepo) MarkSuperseded(ctx context.Context, id int64, note string) (bool, error) {
	won := m.transition(id, []domain.ApprovalStatus{
		domain.ApprovalPending, domain.ApprovalApproved, domain.ApprovalSendFailed,
	}, domain.ApprovalExpired)
	if won {
		m.tasks[id].RejectReason = &note
	}
	return won, nil
}

func (m *mockTaskRepo) MarkSending(ctx context.Context, id int64) (bool, error) {
	return m.transition(id, []domain.ApprovalStatus{domain.ApprovalApproved, domain.ApprovalSendFailed}, domain.ApprovalSending), nil
}

func (m *mockTaskRepo) MarkSent(ctx context.Context, id int64, messageID string, at time.Time) error {
	if !m.transition(id, []domain.ApprovalStatus{domain.ApprovalSending}, domain.ApprovalSent) {
		return errors.New("task not in sending state")
	}
	m.tasks[id].SentMessageID = &messageID
	m.tasks[id].SentAt = &at
	return nil
}

func (m *mockTaskRepo) MarkSendFailed(ctx context.Context, id int64, sendErr string) error {
	if !m.transition(id, []domain.ApprovalStatus{domain.ApprovalSending}, domain.ApprovalSendFailed) {
		return errors.New("task not in sending state")
	}
	m.tasks[id].SendError = &sendErr
	return nil
}

type mockEmailRepo struct {
	emails map[int64]*domain.InboundEmail
}

func (m *mockEmailRepo) Create(ctx context.Context, email *domain.InboundEmail) (*domain.InboundEmail, bool, error) {
	return email, true, nil
}

func (m *mockEmailRepo) GetByID(ctx context.Context, id int64) (*domain.InboundEmail, error) {
	email, ok := m.emails[id]
	if !ok {
		return nil, apperr.NotFound("email")
	}
	return email, nil
}

func (m *mockEmailRepo) GetByMessageID(ctx context.Context, messageID string) (*domain.InboundEmail, error) {
	return nil, apperr.NotFound("email")
}

func (m *mockEmailRepo) List(ctx context.Context, page *domain.PageRequest) ([]*domain.InboundEmail, int64, error) {
	return nil, 0, nil
}

func (m *mockEmailRepo) UpdateAnalysis(ctx context.Context, id int64, analysis *domain.EmailAnalysis) error {
	return nil
}

type mockRuleRepo struct {
	rules    map[int64]*domain.AutoReplyRule
	approved map[int64]int
	rejected map[int64]int
}

func newMockRuleRepo() *mockRuleRepo {
	return &mockRuleRepo{
		rules:    make(map[int64]*domain.AutoReplyRule),
		approved: make(map[int64]int),
		rejected: make(map[int64]int),
	}
}

func (m *mockRuleRepo) GetByID(ctx context.Context, id int64) (*domain.AutoReplyRule, error) {
	rule, ok := m.rules[id]
	if !ok {
		return nil, apperr.NotFound("rule")
	}
	return rule, nil
}

func (m *mockRuleRepo) List(ctx context.Context) ([]*domain.AutoReplyRule, error) { return nil, nil }

func (m *mockRuleRepo) ListMatchable(ctx context.Context, category domain.RuleCategory) ([]*domain.AutoReplyRule, error) {
	return nil, nil
}

func (m *mockRuleRepo) Create(ctx context.Context, rule *domain.AutoReplyRule) error { return nil }
func (m *mockRuleRepo) Update(ctx context.Context, rule *domain.AutoReplyRule) error { return nil }
func (m *mockRuleRepo) Delete(ctx context.Context, id int64) error                   { return nil }

func (m *mockRuleRepo) IncrementTriggered(ctx context.Context, id int64) error { return nil }

func (m *mockRuleRepo) IncrementApproved(ctx context.Context, id int64) error {
	m.approved[id]++
	return nil
}

func (m *mockRuleRepo) IncrementRejected(ctx context.Context, id int64) error {
	m.rejected[id]++
	return nil
}

type mockGateway struct {
	sent    []string
	sendErr error
}

func (m *mockGateway) FetchInbound(ctx context.Context, since *time.Time, unseenOnly bool) ([]*out.InboundMessage, error) {
	return nil, nil
}

func (m *mockGateway) Send(ctx context.Context, to, subject, htmlBody, inReplyTo string) (*out.SendResult, error) {
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.sent = append(m.sent, to)
	return &out.SendResult{MessageID: "out-msg-1", SentAt: time.Now()}, nil
}

type mockNotifier struct {
	requested []*out.ApprovalNotice
	decisions []string
}

func (m *mockNotifier) NotifyApprovalRequested(ctx context.Context, notice *out.ApprovalNotice) error {
	m.requested = append(m.requested, notice)
	return nil
}

func (m *mockNotifier) NotifyDecision(ctx context.Context, taskID int64, outcome, reviewer string) error {
	m.decisions = append(m.decisions, outcome)
	return nil
}

type mockProducer struct {
	sendJobs []*out.SendJob
}

func (m *mockProducer) PublishClassify(ctx context.Context, job *out.ClassifyJob) error { return nil }
func (m *mockProducer) PublishDraft(ctx context.Context, job *out.DraftJob) error       { return nil }
func (m *mockProducer) PublishIngest(ctx context.Context, job *out.IngestJob) error     { return nil }

func (m *mockProducer) PublishSend(ctx context.Context, job *out.SendJob) error {
	m.sendJobs = append(m.sendJobs, job)
	return nil
}

type fixture struct {
	tasks    *mockTaskRepo
	emails   *mockEmailRepo
	rules    *mockRuleRepo
	gateway  *mockGateway
	notifier *mockNotifier
	producer *mockProducer
	svc      *Service
}

func newFixture() *fixture {
	f := &fixture{
		tasks:    newMockTaskRepo(),
		emails:   &mockEmailRepo{emails: map[int64]*domain.InboundEmail{}},
		rules:    newMockRuleRepo(),
		gateway:  &mockGateway{},
		notifier: &mockNotifier{},
		producer: &mockProducer{},
	}
	f.emails.emails[1] = &domain.InboundEmail{
		ID:        1,
		MessageID: "msg-1",
		FromEmail: "buyer@example.com",
		Subject:   "Inquiry about LED panels",
	}
	f.svc = NewService(f.tasks, f.emails, f.rules, f.gateway, f.notifier, f.producer, 0, "https://crm.example.com/approvals")
	return f
}

func (f *fixture) rule(id int64, autoSend bool) *domain.AutoReplyRule {
	rule := &domain.AutoReplyRule{
		ID:                 id,
		Name:               "inquiry auto-reply",
		EmailCategory:      domain.CategoryInquiry,
		ApprovalChannel:    domain.ChannelDirect,
		Reviewers:          []string{"alice"},
		TimeoutHours:       4,
		AutoSendOnApproval: autoSend,
		Enabled:            true,
	}
	f.rules.rules[id] = rule
	return rule
}

func TestCreateTaskUsesRulePolicy(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	task, err := f.svc.CreateTask(ctx, &CreateTaskInput{
		EmailID:      1,
		Rule:         f.rule(7, true),
		DraftSubject: "Re: Inquiry about LED panels",
		DraftHTML:    "<p>Thanks for reaching out.</p>",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if task.Status != domain.ApprovalPending {
		t.Errorf("expected pending, got %s", task.Status)
	}
	if task.Channel != domain.ChannelDirect {
		t.Errorf("expected direct channel from rule, got %s", task.Channel)
	}
	if !task.AutoSend {
		t.Error("expected auto-send from rule")
	}
	if task.RuleID == nil || *task.RuleID != 7 {
		t.Errorf("expected rule id 7, got %v", task.RuleID)
	}
	until := time.Until(task.TimeoutAt)
	if until < 3*time.Hour+58*time.Minute || until > 4*time.Hour {
		t.Errorf("expected ~4h timeout from rule, got %v", until)
	}
	if len(f.notifier.requested) != 1 {
		t.Fatalf("expected 1 approval notice, got %d", len(f.notifier.requested))
	}
	if f.notifier.requested[0].FromEmail != "buyer@example.com" {
		t.Errorf("notice should carry the sender, got %s", f.notifier.requested[0].FromEmail)
	}
}

func TestCreateTaskSupersedesActive(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := f.svc.CreateTask(ctx, &CreateTaskInput{EmailID: 1, DraftHTML: "<p>v1</p>"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := f.svc.CreateTask(ctx, &CreateTaskInput{EmailID: 1, DraftHTML: "<p>v2</p>"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stale, _ := f.tasks.GetByID(ctx, first.ID)
	if stale.Status != domain.ApprovalExpired {
		t.Errorf("expected first task expired, got %s", stale.Status)
	}
	fresh, _ := f.tasks.GetByID(ctx, second.ID)
	if fresh.Status != domain.ApprovalPending {
		t.Errorf("expected second task pending, got %s", fresh.Status)
	}

	// One live task per email: the active lookup must find only the new one.
	active, _ := f.tasks.FindActiveByEmail(ctx, 1)
	if active == nil || active.ID != second.ID {
		t.Errorf("expected active task %d, got %+v", second.ID, active)
	}
}

func TestCreateTaskSupersedesApproved(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := f.svc.CreateTask(ctx, &CreateTaskInput{EmailID: 1, DraftHTML: "<p>v1</p>"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.svc.Approve(ctx, first.ID, "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// An approved-but-unsent task is still live; a newer draft retires it so
	// the stale draft can never be delivered.
	second, err := f.svc.CreateTask(ctx, &CreateTaskInput{EmailID: 1, DraftHTML: "<p>v2</p>"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stale, _ := f.tasks.GetByID(ctx, first.ID)
	if stale.Status != domain.ApprovalExpired {
		t.Errorf("expected approved task expired, got %s", stale.Status)
	}
	if err := f.svc.ProcessSend(ctx, first.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.gateway.sent) != 0 {
		t.Errorf("superseded task must not send, got %d deliveries", len(f.gateway.sent))
	}

	live := 0
	for _, task := range f.tasks.tasks {
		if !task.Status.Terminal() {
			live++
		}
	}
	if live != 1 {
		t.Errorf("expected exactly one non-terminal task for the email, got %d", live)
	}
	active, _ := f.tasks.FindActiveByEmail(ctx, 1)
	if active == nil || active.ID != second.ID {
		t.Errorf("expected active task %d, got %+v", second.ID, active)
	}
}

func TestCreateTaskSupersedesSendFailed(t *testing.T) {
	f := newFixture()
	f.gateway.sendErr = errors.New("smtp unreachable")
	ctx := context.Background()

	first, _ := f.svc.CreateTask(ctx, &CreateTaskInput{EmailID: 1, DraftHTML: "<p>v1</p>"})
	f.svc.Approve(ctx, first.ID, "alice")
	f.svc.ProcessSend(ctx, first.ID)

	failed, _ := f.tasks.GetByID(ctx, first.ID)
	if failed.Status != domain.ApprovalSendFailed {
		t.Fatalf("expected send_failed, got %s", failed.Status)
	}

	second, err := f.svc.CreateTask(ctx, &CreateTaskInput{EmailID: 1, DraftHTML: "<p>v2</p>"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stale, _ := f.tasks.GetByID(ctx, first.ID)
	if stale.Status != domain.ApprovalExpired {
		t.Errorf("expected send_failed task expired, got %s", stale.Status)
	}
	if err := f.svc.Resend(ctx, first.ID); !apperr.IsCode(err, apperr.CodeStateConflict) {
		t.Errorf("expected STATE_CONFLICT resending a superseded task, got %v", err)
	}
	fresh, _ := f.tasks.GetByID(ctx, second.ID)
	if fresh.Status != domain.ApprovalPending {
		t.Errorf("expected second task pending, got %s", fresh.Status)
	}
}

func TestCreateTaskConflictsWhileSending(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, _ := f.svc.CreateTask(ctx, &CreateTaskInput{EmailID: 1, DraftHTML: "<p>v1</p>"})
	f.svc.Approve(ctx, first.ID, "alice")
	if won, _ := f.tasks.MarkSending(ctx, first.ID); !won {
		t.Fatal("expected sending claim to win")
	}

	// The delivery worker owns the sending claim; a new draft has to wait for
	// the send to settle instead of racing it.
	_, err := f.svc.CreateTask(ctx, &CreateTaskInput{EmailID: 1, DraftHTML: "<p>v2</p>"})
	if !apperr.IsCode(err, apperr.CodeStateConflict) {
		t.Fatalf("expected STATE_CONFLICT, got %v", err)
	}
	appErr := apperr.AsAppError(err)
	if appErr.Details["current_status"] != string(domain.ApprovalSending) {
		t.Errorf("expected current_status sending in details, got %v", appErr.Details["current_status"])
	}
}

func TestApprove(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	task, _ := f.svc.CreateTask(ctx, &CreateTaskInput{EmailID: 1, Rule: f.rule(7, false), DraftHTML: "<p>v1</p>"})

	approved, err := f.svc.Approve(ctx, task.ID, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if approved.Status != domain.ApprovalApproved {
		t.Errorf("expected approved, got %s", approved.Status)
	}
	if f.rules.approved[7] != 1 {
		t.Errorf("expected approved counter bumped, got %d", f.rules.approved[7])
	}
	if len(f.producer.sendJobs) != 0 {
		t.Error("no send job expected without auto-send")
	}
}

func TestApproveAutoSendEnqueues(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	task, _ := f.svc.CreateTask(ctx, &CreateTaskInput{EmailID: 1, Rule: f.rule(7, true), DraftHTML: "<p>v1</p>"})

	if _, err := f.svc.Approve(ctx, task.ID, "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.producer.sendJobs) != 1 || f.producer.sendJobs[0].TaskID != task.ID {
		t.Errorf("expected one send job for task %d, got %+v", task.ID, f.producer.sendJobs)
	}
}

func TestApproveRequiresReviewer(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Approve(context.Background(), 1, "")
	if !apperr.IsCode(err, apperr.CodeMissingField) {
		t.Errorf("expected MISSING_FIELD, got %v", err)
	}
}

func TestApproveLosesToRejection(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	task, _ := f.svc.CreateTask(ctx, &CreateTaskInput{EmailID: 1, DraftHTML: "<p>v1</p>"})
	if _, err := f.svc.Reject(ctx, task.ID, "bob", "off brand"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := f.svc.Approve(ctx, task.ID, "alice")
	if !apperr.IsCode(err, apperr.CodeStateConflict) {
		t.Fatalf("expected STATE_CONFLICT, got %v", err)
	}
	appErr := apperr.AsAppError(err)
	if appErr.Details["current_status"] != string(domain.ApprovalRejected) {
		t.Errorf("expected current_status rejected in details, got %v", appErr.Details["current_status"])
	}
}

func TestRejectAfterApproveConflicts(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	task, _ := f.svc.CreateTask(ctx, &CreateTaskInput{EmailID: 1, DraftHTML: "<p>v1</p>"})
	if _, err := f.svc.Approve(ctx, task.ID, "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := f.svc.Reject(ctx, task.ID, "bob", "too slow")
	if !apperr.IsCode(err, apperr.CodeStateConflict) {
		t.Errorf("expected STATE_CONFLICT, got %v", err)
	}
}

func TestReviseOnlyWhilePending(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	task, _ := f.svc.CreateTask(ctx, &CreateTaskInput{EmailID: 1, DraftSubject: "Re: v1", DraftHTML: "<p>v1</p>"})

	revised, err := f.svc.Revise(ctx, task.ID, "alice", "Re: v2", "<p>v2</p>")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if revised.DraftHTML != "<p>v2</p>" {
		t.Errorf("expected revised draft, got %q", revised.DraftHTML)
	}
	if revised.RevisionCount != 1 {
		t.Errorf("expected revision count 1, got %d", revised.RevisionCount)
	}

	if _, err := f.svc.Approve(ctx, task.ID, "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = f.svc.Revise(ctx, task.ID, "alice", "Re: v3", "<p>v3</p>")
	if !apperr.IsCode(err, apperr.CodeStateConflict) {
		t.Errorf("expected STATE_CONFLICT after approval, got %v", err)
	}
}

func TestProcessSendSuccess(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	task, _ := f.svc.CreateTask(ctx, &CreateTaskInput{EmailID: 1, DraftSubject: "Re: hi", DraftHTML: "<p>hi</p>"})
	f.svc.Approve(ctx, task.ID, "alice")

	if err := f.svc.ProcessSend(ctx, task.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sent, _ := f.tasks.GetByID(ctx, task.ID)
	if sent.Status != domain.ApprovalSent {
		t.Errorf("expected sent, got %s", sent.Status)
	}
	if sent.SentMessageID == nil || *sent.SentMessageID != "out-msg-1" {
		t.Errorf("expected sent message id recorded, got %v", sent.SentMessageID)
	}
	if len(f.gateway.sent) != 1 || f.gateway.sent[0] != "buyer@example.com" {
		t.Errorf("expected delivery to buyer, got %v", f.gateway.sent)
	}
}

func TestProcessSendGatewayFailure(t *testing.T) {
	f := newFixture()
	f.gateway.sendErr = errors.New("smtp unreachable")
	ctx := context.Background()

	task, _ := f.svc.CreateTask(ctx, &CreateTaskInput{EmailID: 1, DraftHTML: "<p>hi</p>"})
	f.svc.Approve(ctx, task.ID, "alice")

	// Delivery failure is recorded, not propagated: the job must not retry
	// past the send_failed bookkeeping.
	if err := f.svc.ProcessSend(ctx, task.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	failed, _ := f.tasks.GetByID(ctx, task.ID)
	if failed.Status != domain.ApprovalSendFailed {
		t.Errorf("expected send_failed, got %s", failed.Status)
	}
	if failed.SendError == nil || *failed.SendError != "smtp unreachable" {
		t.Errorf("expected send error recorded, got %v", failed.SendError)
	}
}

func TestProcessSendDuplicateNoOp(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	task, _ := f.svc.CreateTask(ctx, &CreateTaskInput{EmailID: 1, DraftHTML: "<p>hi</p>"})
	f.svc.Approve(ctx, task.ID, "alice")
	if err := f.svc.ProcessSend(ctx, task.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Redelivered job: the sending claim fails and nothing is sent twice.
	if err := f.svc.ProcessSend(ctx, task.ID); err != nil {
		t.Fatalf("unexpected error on duplicate: %v", err)
	}
	if len(f.gateway.sent) != 1 {
		t.Errorf("expected exactly one delivery, got %d", len(f.gateway.sent))
	}
}

func TestResendOnlyFromSendFailed(t *testing.T) {
	f := newFixture()
	f.gateway.sendErr = errors.New("smtp unreachable")
	ctx := context.Background()

	task, _ := f.svc.CreateTask(ctx, &CreateTaskInput{EmailID: 1, DraftHTML: "<p>hi</p>"})
	f.svc.Approve(ctx, task.ID, "alice")
	f.svc.ProcessSend(ctx, task.ID)

	if err := f.svc.Resend(ctx, task.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.producer.sendJobs) != 1 {
		t.Fatalf("expected one re-enqueued send job, got %d", len(f.producer.sendJobs))
	}

	// A failed task that retries successfully goes back through sending.
	f.gateway.sendErr = nil
	if err := f.svc.ProcessSend(ctx, task.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent, _ := f.tasks.GetByID(ctx, task.ID)
	if sent.Status != domain.ApprovalSent {
		t.Errorf("expected sent after retry, got %s", sent.Status)
	}

	err := f.svc.Resend(ctx, task.ID)
	if !apperr.IsCode(err, apperr.CodeStateConflict) {
		t.Errorf("expected STATE_CONFLICT resending a sent task, got %v", err)
	}
}

func TestExpireSweep(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	overdue, _ := f.svc.CreateTask(ctx, &CreateTaskInput{EmailID: 1, DraftHTML: "<p>v1</p>"})
	f.tasks.tasks[overdue.ID].TimeoutAt = time.Now().Add(-time.Hour)

	f.emails.emails[2] = &domain.InboundEmail{ID: 2, MessageID: "msg-2", FromEmail: "other@example.com"}
	fresh, _ := f.svc.CreateTask(ctx, &CreateTaskInput{EmailID: 2, DraftHTML: "<p>v1</p>"})

	expired, err := f.svc.ExpireSweep(ctx, time.Now(), 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if expired != 1 {
		t.Errorf("expected 1 expired, got %d", expired)
	}

	overdueTask, _ := f.tasks.GetByID(ctx, overdue.ID)
	if overdueTask.Status != domain.ApprovalExpired {
		t.Errorf("expected overdue task expired, got %s", overdueTask.Status)
	}
	freshTask, _ := f.tasks.GetByID(ctx, fresh.ID)
	if freshTask.Status != domain.ApprovalPending {
		t.Errorf("expected fresh task untouched, got %s", freshTask.Status)
	}
}

func TestCreateTaskDefaultTimeoutWithoutRule(t *testing.T) {
	f := newFixture()

	task, err := f.svc.CreateTask(context.Background(), &CreateTaskInput{EmailID: 1, DraftHTML: "<p>v1</p>"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.Channel != domain.ChannelChat {
		t.Errorf("expected default chat channel, got %s", task.Channel)
	}
	until := time.Until(task.TimeoutAt)
	if until < 23*time.Hour || until > 24*time.Hour {
		t.Errorf("expected ~24h default timeout, got %v", until)
	}
}
