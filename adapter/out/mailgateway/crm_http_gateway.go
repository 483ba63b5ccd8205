// Package mailgateway is the HTTP client for the mail-gateway service that
// owns the actual IMAP/SMTP connections.
package mailgateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"

	"crm_server/core/port/out"
	"crm_server/pkg/apperr"
	"crm_server/pkg/logger"
)

// HTTPGateway implements out.MailGateway over the gateway's REST API.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
	cb      *gobreaker.CircuitBreaker
}

func NewHTTPGateway(baseURL string, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	cbSettings := gobreaker.Settings{
		Name:        "mail-gateway",
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

	return &HTTPGateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		cb:      gobreaker.NewCircuitBreaker(cbSettings),
	}
}

// FetchInbound pulls messages from the gateway's inbox endpoint.
func (g *HTTPGateway) FetchInbound(ctx context.Context, since *time.Time, unseenOnly bool) ([]*out.InboundMessage, error) {
	params := url.Values{}
	if since != nil {
		params.Set("since", since.UTC().Format(time.RFC3339))
	}
	if unseenOnly {
		params.Set("unseen", "true")
	}

	endpoint := g.baseURL + "/v1/messages"
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	body, err := g.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Messages []*out.InboundMessage `json:"messages"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode inbound messages: %w", err)
	}
	return payload.Messages, nil
}

// Send delivers one HTML reply through the gateway.
func (g *HTTPGateway) Send(ctx context.Context, to, subject, htmlBody, inReplyTo string) (*out.SendResult, error) {
	payload, err := json.Marshal(map[string]string{
		"to":          to,
		"subject":     subject,
		"html_body":   htmlBody,
		"in_reply_to": inReplyTo,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal send request: %w", err)
	}

	body, err := g.do(ctx, http.MethodPost, g.baseURL+"/v1/messages/send", payload)
	if err != nil {
		return nil, err
	}

	var result out.SendResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode send result: %w", err)
	}
	if result.SentAt.IsZero() {
		result.SentAt = time.Now()
	}
	return &result, nil
}

func (g *HTTPGateway) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	result, err := g.cb.Execute(func() (interface{}, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := g.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, truncate(body, 200))
		}
		return body, nil
	})
	if err != nil {
		return nil, apperr.ProviderError("mail-gateway", err)
	}
	return result.([]byte), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

var _ out.MailGateway = (*HTTPGateway)(nil)
