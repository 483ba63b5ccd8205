package email

import (
	"context"
	"strings"
	"time"

	"crm_server/core/domain"
	"crm_server/core/port/out"
	"crm_server/pkg/apperr"
	"crm_server/pkg/logger"
)

const snippetLen = 200

// Service handles inbound email intake and lookups. Intake is idempotent on
// the provider message id so gateway redeliveries never duplicate rows.
type Service struct {
	emails   domain.EmailRepository
	bodies   domain.EmailBodyRepository
	gateway  out.MailGateway
	producer out.MessageProducer
}

func NewService(
	emails domain.EmailRepository,
	bodies domain.EmailBodyRepository,
	gateway out.MailGateway,
	producer out.MessageProducer,
) *Service {
	return &Service{
		emails:   emails,
		bodies:   bodies,
		gateway:  gateway,
		producer: producer,
	}
}

// Intake registers one inbound message and enqueues its classification.
// The second return reports whether a new row was created.
func (s *Service) Intake(ctx context.Context, msg *out.InboundMessage) (*domain.InboundEmail, bool, error) {
	if msg.MessageID == "" {
		return nil, false, apperr.MissingField("message_id")
	}
	if msg.From == "" {
		return nil, false, apperr.MissingField("from")
	}

	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	email := &domain.InboundEmail{
		MessageID:  msg.MessageID,
		FromEmail:  msg.From,
		ToEmail:    msg.To,
		Subject:    msg.Subject,
		Snippet:    snippet(msg.Body),
		ReceivedAt: receivedAt,
	}
	if msg.FromName != "" {
		name := msg.FromName
		email.FromName = &name
	}

	stored, created, err := s.emails.Create(ctx, email)
	if err != nil {
		return nil, false, err
	}
	if !created {
		// Redelivery of a known message: nothing more to do.
		logger.WithField("message_id", msg.MessageID).Info("duplicate inbound message ignored")
		return stored, false, nil
	}

	if err := s.bodies.Save(ctx, &domain.EmailBody{
		EmailID: stored.ID,
		Text:    msg.Body,
		HTML:    msg.HTMLBody,
	}); err != nil {
		// Body storage failure degrades to snippet-only; classification can
		// still run on the snippet.
		logger.WithField("email_id", stored.ID).WithError(err).Error("failed to store email body")
	}

	if err := s.producer.PublishClassify(ctx, &out.ClassifyJob{EmailID: stored.ID}); err != nil {
		logger.WithField("email_id", stored.ID).WithError(err).Error("failed to enqueue classification")
		return stored, created, err
	}
	return stored, created, nil
}

// PullInbound fetches unseen mail from the gateway and runs intake on each
// message. Used by the periodic poller; returns how many new emails landed.
func (s *Service) PullInbound(ctx context.Context, since *time.Time) (int, error) {
	msgs, err := s.gateway.FetchInbound(ctx, since, true)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, msg := range msgs {
		_, isNew, err := s.Intake(ctx, msg)
		if err != nil {
			logger.WithField("message_id", msg.MessageID).WithError(err).Error("intake failed")
			continue
		}
		if isNew {
			created++
		}
	}
	return created, nil
}

// RequestClassify enqueues (re-)classification of a stored email.
func (s *Service) RequestClassify(ctx context.Context, emailID int64, force bool) error {
	email, err := s.emails.GetByID(ctx, emailID)
	if err != nil {
		return err
	}
	if email.Analyzed() && !force {
		return apperr.AlreadyExists("email already analyzed; pass force to re-run")
	}
	return s.producer.PublishClassify(ctx, &out.ClassifyJob{EmailID: emailID, Force: force})
}

func (s *Service) Get(ctx context.Context, id int64) (*domain.InboundEmail, error) {
	return s.emails.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, page *domain.PageRequest) ([]*domain.InboundEmail, int64, error) {
	return s.emails.List(ctx, page)
}

// GetBody returns the stored full body; missing bodies degrade to snippet.
func (s *Service) GetBody(ctx context.Context, emailID int64) (*domain.EmailBody, error) {
	return s.bodies.Get(ctx, emailID)
}

func snippet(body string) string {
	body = strings.Join(strings.Fields(body), " ")
	runes := []rune(body)
	if len(runes) <= snippetLen {
		return string(runes)
	}
	return string(runes[:snippetLen]) + "..."
}
