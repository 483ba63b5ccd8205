// Package notify delivers approval-workflow notifications to a chat webhook.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"

	"crm_server/core/port/out"
	"crm_server/pkg/logger"
)

// WebhookNotifier implements out.NotificationSink against a chat webhook
// (WeCom-style markdown cards). A circuit breaker shields the pipeline from
// a down webhook endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
	cb     *gobreaker.CircuitBreaker
}

func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	cbSettings := gobreaker.Settings{
		Name:        "notify-webhook",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	}

	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		cb:     gobreaker.NewCircuitBreaker(cbSettings),
	}
}

type webhookMessage struct {
	MsgType  string `json:"msgtype"`
	Markdown struct {
		Content string `json:"content"`
	} `json:"markdown"`
}

// NotifyApprovalRequested posts the review card with the draft summary and
// a deep link to the approval console.
func (n *WebhookNotifier) NotifyApprovalRequested(ctx context.Context, notice *out.ApprovalNotice) error {
	var sb strings.Builder
	sb.WriteString("**Reply draft awaiting approval**\n")
	fmt.Fprintf(&sb, "> Task: #%d\n", notice.TaskID)
	fmt.Fprintf(&sb, "> From: %s\n", notice.FromEmail)
	fmt.Fprintf(&sb, "> Subject: %s\n", notice.EmailSubject)
	if notice.Category != "" {
		fmt.Fprintf(&sb, "> Category: %s\n", notice.Category)
	}
	if notice.IntentLevel != "" {
		fmt.Fprintf(&sb, "> Intent: %s / Urgency: %s\n", notice.IntentLevel, notice.UrgencyLevel)
	}
	if notice.Summary != "" {
		fmt.Fprintf(&sb, "> Summary: %s\n", notice.Summary)
	}
	fmt.Fprintf(&sb, "> Expires: %s\n", notice.TimeoutAt.Format("2006-01-02 15:04"))
	if len(notice.Reviewers) > 0 {
		fmt.Fprintf(&sb, "> Reviewers: %s\n", strings.Join(notice.Reviewers, ", "))
	}
	if notice.DeepLink != "" {
		fmt.Fprintf(&sb, "\n[Review the draft](%s/%d)", notice.DeepLink, notice.TaskID)
	}

	return n.post(ctx, sb.String())
}

// NotifyDecision posts the outcome of a review.
func (n *WebhookNotifier) NotifyDecision(ctx context.Context, taskID int64, outcome, reviewer string) error {
	content := fmt.Sprintf("**Approval task #%d %s** by %s", taskID, outcome, reviewer)
	return n.post(ctx, content)
}

func (n *WebhookNotifier) post(ctx context.Context, content string) error {
	if n.url == "" {
		return nil // notifications not configured
	}

	var msg webhookMessage
	msg.MsgType = "markdown"
	msg.Markdown.Content = content

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook message: %w", err)
	}

	_, err = n.cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("webhook returned status %d", resp.StatusCode)
		}
		return nil, nil
	})
	return err
}

var _ out.NotificationSink = (*WebhookNotifier)(nil)
