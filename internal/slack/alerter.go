package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/callaudit/audit-service/internal/events"
)

// Alerter posts audit and DLQ notices to a Slack channel via chat.postMessage.
type Alerter struct {
	token   string
	channel string
	client  *http.Client
	apiURL  string

	mu       sync.Mutex
	lastSent time.Time
}

// NewAlerter creates a new Slack alerter.
func NewAlerter(token, channel string) *Alerter {
	return &Alerter{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  "https://slack.com/api/chat.postMessage",
	}
}

// PostAuditAlert sends a Block Kit message for a failed or review-flagged
// verdict. Rate-limited to one alert per 30 seconds to protect against burst
// storms of bad calls.
func (a *Alerter) PostAuditAlert(ctx context.Context, p events.AuditPayload) error {
	if !a.allow() {
		return nil
	}

	reason := p.ReviewReason
	if reason == "" {
		reason = "none recorded"
	}

	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{
				"type": "plain_text",
				"text": "Call Audit Alert",
			},
		},
		{
			"type": "section",
			"fields": []map[string]any{
				{"type": "mrkdwn", "text": fmt.Sprintf("*Call:*\n%s", p.CallID)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Status:*\n%s", p.ComplianceStatus)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Score:*\n%d", p.OverallScore)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Violations:*\n%d", len(p.Violations))},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:*\n%s", reason)},
			},
		},
		{
			"type": "context",
			"elements": []map[string]any{
				{"type": "mrkdwn", "text": fmt.Sprintf("Sent at %s", time.Now().UTC().Format(time.RFC3339))},
			},
		},
	}

	text := fmt.Sprintf("Audit alert: call %s %s (score %d)", p.CallID, p.ComplianceStatus, p.OverallScore)
	if err := a.post(ctx, blocks, text); err != nil {
		return err
	}

	slog.Info("audit alert posted to Slack", "channel", a.channel, "call_id", p.CallID)
	return nil
}

// dlqPayload is the subset of fields we try to surface from a dead-lettered
// message.
type dlqPayload struct {
	EventType     string `json:"eventType"`
	AggregateID   string `json:"aggregateId"`
	CorrelationID string `json:"correlationId"`
}

// PostDLQAlert sends a Block Kit message for a dead-lettered event.
func (a *Alerter) PostDLQAlert(ctx context.Context, subject string, payload []byte) error {
	if !a.allow() {
		return nil
	}

	var dlq dlqPayload
	_ = json.Unmarshal(payload, &dlq)

	callID := dlq.AggregateID
	if callID == "" {
		callID = dlq.CorrelationID
	}
	if callID == "" {
		callID = "unknown"
	}

	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{
				"type": "plain_text",
				"text": "Dead Letter Queue Alert",
			},
		},
		{
			"type": "section",
			"fields": []map[string]any{
				{"type": "mrkdwn", "text": fmt.Sprintf("*Subject:*\n%s", subject)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Call:*\n%s", callID)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Event type:*\n%s", dlq.EventType)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Raw size:*\n%d bytes", len(payload))},
			},
		},
		{
			"type": "context",
			"elements": []map[string]any{
				{"type": "mrkdwn", "text": fmt.Sprintf("Sent at %s", time.Now().UTC().Format(time.RFC3339))},
			},
		},
	}

	text := fmt.Sprintf("DLQ alert: %s (call %s)", subject, callID)
	if err := a.post(ctx, blocks, text); err != nil {
		return err
	}

	slog.Info("DLQ alert posted to Slack", "channel", a.channel, "subject", subject)
	return nil
}

func (a *Alerter) allow() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if time.Since(a.lastSent) < 30*time.Second {
		return false
	}
	a.lastSent = time.Now()
	return true
}

func (a *Alerter) post(ctx context.Context, blocks []map[string]any, text string) error {
	body, err := json.Marshal(map[string]any{
		"channel": a.channel,
		"blocks":  blocks,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned %d", resp.StatusCode)
	}
	return nil
}
