package email

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"crm_server/core/domain"
	"crm_server/core/port/out"
	"crm_server/pkg/apperr"
)

type mockEmailRepo struct {
	byMessageID map[string]*domain.InboundEmail
	byID        map[int64]*domain.InboundEmail
	nextID      int64
}

func newMockEmailRepo() *mockEmailRepo {
	return &mockEmailRepo{
		byMessageID: make(map[string]*domain.InboundEmail),
		byID:        make(map[int64]*domain.InboundEmail),
		nextID:      1,
	}
}

func (m *mockEmailRepo) Create(ctx context.Context, email *domain.InboundEmail) (*domain.InboundEmail, bool, error) {
	if existing, ok := m.byMessageID[email.MessageID]; ok {
		return existing, false, nil
	}
	email.ID = m.nextID
	m.nextID++
	m.byMessageID[email.MessageID] = email
	m.byID[email.ID] = email
	return email, true, nil
}

func (m *mockEmailRepo) GetByID(ctx context.Context, id int64) (*domain.InboundEmail, error) {
	email, ok := m.byID[id]
	if !ok {
		return nil, apperr.NotFound("email")
	}
	return email, nil
}

func (m *mockEmailRepo) GetByMessageID(ctx context.Context, messageID string) (*domain.InboundEmail, error) {
	email, ok := m.byMessageID[messageID]
	if !ok {
		return nil, apperr.NotFound("email")
	}
	return email, nil
}

func (m *mockEmailRepo) List(ctx context.Context, page *domain.PageRequest) ([]*domain.InboundEmail, int64, error) {
	return nil, 0, nil
}

func (m *mockEmailRepo) UpdateAnalysis(ctx context.Context, id int64, analysis *domain.EmailAnalysis) error {
	return nil
}

type mockBodyRepo struct {
	bodies  map[int64]*domain.EmailBody
	saveErr error
}

func newMockBodyRepo() *mockBodyRepo {
	return &mockBodyRepo{bodies: make(map[int64]*domain.EmailBody)}
}

func (m *mockBodyRepo) Save(ctx context.Context, body *domain.EmailBody) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.bodies[body.EmailID] = body
	return nil
}

func (m *mockBodyRepo) Get(ctx context.Context, emailID int64) (*domain.EmailBody, error) {
	body, ok := m.bodies[emailID]
	if !ok {
		return nil, apperr.NotFound("email body")
	}
	return body, nil
}

func (m *mockBodyRepo) Delete(ctx context.Context, emailID int64) error {
	delete(m.bodies, emailID)
	return nil
}

type mockGateway struct {
	inbound  []*out.InboundMessage
	fetchErr error
}

func (m *mockGateway) FetchInbound(ctx context.Context, since *time.Time, unseenOnly bool) ([]*out.InboundMessage, error) {
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	return m.inbound, nil
}

func (m *mockGateway) Send(ctx context.Context, to, subject, htmlBody, inReplyTo string) (*out.SendResult, error) {
	return &out.SendResult{MessageID: "out-1", SentAt: time.Now()}, nil
}

type mockProducer struct {
	classifyJobs []*out.ClassifyJob
	publishErr   error
}

func (m *mockProducer) PublishClassify(ctx context.Context, job *out.ClassifyJob) error {
	if m.publishErr != nil {
		return m.publishErr
	}
	m.classifyJobs = append(m.classifyJobs, job)
	return nil
}

func (m *mockProducer) PublishDraft(ctx context.Context, job *out.DraftJob) error   { return nil }
func (m *mockProducer) PublishIngest(ctx context.Context, job *out.IngestJob) error { return nil }
func (m *mockProducer) PublishSend(ctx context.Context, job *out.SendJob) error     { return nil }

func newTestService() (*Service, *mockEmailRepo, *mockBodyRepo, *mockGateway, *mockProducer) {
	emails := newMockEmailRepo()
	bodies := newMockBodyRepo()
	gateway := &mockGateway{}
	producer := &mockProducer{}
	return NewService(emails, bodies, gateway, producer), emails, bodies, gateway, producer
}

func inboundMsg(id string) *out.InboundMessage {
	return &out.InboundMessage{
		MessageID: id,
		From:      "buyer@example.com",
		FromName:  "Buyer",
		To:        "sales@example.com",
		Subject:   "Inquiry",
		Body:      "Please quote 500 units.",
		HTMLBody:  "<p>Please quote 500 units.</p>",
	}
}

func TestIntakeCreatesAndEnqueues(t *testing.T) {
	svc, _, bodies, _, producer := newTestService()

	email, created, err := svc.Intake(context.Background(), inboundMsg("msg-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Error("expected a new row")
	}
	if email.FromName == nil || *email.FromName != "Buyer" {
		t.Errorf("expected from name stored, got %v", email.FromName)
	}
	if email.Snippet != "Please quote 500 units." {
		t.Errorf("unexpected snippet %q", email.Snippet)
	}
	if body, ok := bodies.bodies[email.ID]; !ok || body.HTML == "" {
		t.Error("expected full body stored")
	}
	if len(producer.classifyJobs) != 1 || producer.classifyJobs[0].EmailID != email.ID {
		t.Errorf("expected one classify job for email %d, got %+v", email.ID, producer.classifyJobs)
	}
}

func TestIntakeDuplicateIgnored(t *testing.T) {
	svc, _, _, _, producer := newTestService()
	ctx := context.Background()

	first, _, err := svc.Intake(ctx, inboundMsg("msg-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, created, err := svc.Intake(ctx, inboundMsg("msg-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Error("redelivery must not create a row")
	}
	if second.ID != first.ID {
		t.Errorf("expected existing row %d, got %d", first.ID, second.ID)
	}
	if len(producer.classifyJobs) != 1 {
		t.Errorf("redelivery must not enqueue again, got %d jobs", len(producer.classifyJobs))
	}
}

func TestIntakeMissingFields(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	ctx := context.Background()

	msg := inboundMsg("")
	if _, _, err := svc.Intake(ctx, msg); !apperr.IsCode(err, apperr.CodeMissingField) {
		t.Errorf("expected MISSING_FIELD for empty message id, got %v", err)
	}

	msg = inboundMsg("msg-1")
	msg.From = ""
	if _, _, err := svc.Intake(ctx, msg); !apperr.IsCode(err, apperr.CodeMissingField) {
		t.Errorf("expected MISSING_FIELD for empty from, got %v", err)
	}
}

func TestIntakeSnippetTruncation(t *testing.T) {
	svc, _, _, _, _ := newTestService()

	msg := inboundMsg("msg-1")
	msg.Body = "word " + strings.Repeat("x", 500)
	email, _, err := svc.Intake(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len([]rune(email.Snippet)) != snippetLen+3 {
		t.Errorf("expected %d-rune snippet with ellipsis, got %d", snippetLen+3, len([]rune(email.Snippet)))
	}
	if !strings.HasSuffix(email.Snippet, "...") {
		t.Errorf("expected ellipsis suffix, got %q", email.Snippet)
	}
}

func TestIntakeBodyFailureDegrades(t *testing.T) {
	svc, _, bodies, _, producer := newTestService()
	bodies.saveErr = errors.New("mongo down")

	_, created, err := svc.Intake(context.Background(), inboundMsg("msg-1"))
	if err != nil {
		t.Fatalf("body failure must not fail intake: %v", err)
	}
	if !created {
		t.Error("expected row created despite body failure")
	}
	if len(producer.classifyJobs) != 1 {
		t.Error("classification must still be enqueued on the snippet")
	}
}

func TestPullInboundCountsNewOnly(t *testing.T) {
	svc, _, _, gateway, _ := newTestService()
	ctx := context.Background()

	// Seed one message, then poll with it plus a fresh one.
	if _, _, err := svc.Intake(ctx, inboundMsg("msg-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	gateway.inbound = []*out.InboundMessage{inboundMsg("msg-1"), inboundMsg("msg-2")}

	created, err := svc.PullInbound(ctx, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created != 1 {
		t.Errorf("expected 1 new email, got %d", created)
	}
}

func TestPullInboundGatewayError(t *testing.T) {
	svc, _, _, gateway, _ := newTestService()
	gateway.fetchErr = errors.New("imap unavailable")

	if _, err := svc.PullInbound(context.Background(), nil); err == nil {
		t.Error("expected gateway error to propagate")
	}
}

func TestRequestClassifyAlreadyAnalyzed(t *testing.T) {
	svc, emails, _, _, producer := newTestService()
	ctx := context.Background()

	email, _, _ := svc.Intake(ctx, inboundMsg("msg-1"))
	now := time.Now()
	emails.byID[email.ID].AnalyzedAt = &now
	producer.classifyJobs = nil

	err := svc.RequestClassify(ctx, email.ID, false)
	if !apperr.IsCode(err, apperr.CodeAlreadyExists) {
		t.Errorf("expected ALREADY_EXISTS without force, got %v", err)
	}

	if err := svc.RequestClassify(ctx, email.ID, true); err != nil {
		t.Fatalf("unexpected error with force: %v", err)
	}
	if len(producer.classifyJobs) != 1 || !producer.classifyJobs[0].Force {
		t.Errorf("expected forced classify job, got %+v", producer.classifyJobs)
	}
}

func TestSnippetCollapsesWhitespace(t *testing.T) {
	got := snippet("hello\n\n  world\t!")
	if got != "hello world !" {
		t.Errorf("expected collapsed whitespace, got %q", got)
	}
}
