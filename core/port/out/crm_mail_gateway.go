package out

import (
	"context"
	"time"
)

// Attachment is file metadata on an inbound message.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// InboundMessage is a raw email delivered by the mail gateway.
type InboundMessage struct {
	MessageID  string       `json:"message_id"`
	From       string       `json:"from"`
	FromName   string       `json:"from_name,omitempty"`
	To         string       `json:"to"`
	Subject    string       `json:"subject"`
	Body       string       `json:"body"`
	HTMLBody   string       `json:"html_body,omitempty"`
	ReceivedAt time.Time    `json:"received_at"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// SendResult reports a completed outbound delivery.
type SendResult struct {
	MessageID string    `json:"message_id"`
	SentAt    time.Time `json:"sent_at"`
}

// MailGateway is the mailbox connector. IMAP/SMTP mechanics live behind it;
// the pipeline only fetches inbound mail and sends approved replies.
type MailGateway interface {
	FetchInbound(ctx context.Context, since *time.Time, unseenOnly bool) ([]*InboundMessage, error)
	// Send delivers an HTML reply. inReplyTo threads the reply onto the
	// original message when non-empty.
	Send(ctx context.Context, to, subject, htmlBody, inReplyTo string) (*SendResult, error)
}
