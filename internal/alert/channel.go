// Package alert evaluates threshold rules against recorded violations and
// dispatches notifications through configured channels.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/safesight/safesight/internal/store"
)

// Message is the payload delivered to a channel.
type Message struct {
	ConfigName  string           `json:"config_name"`
	Destination string           `json:"destination"`
	Subject     string           `json:"subject"`
	Body        string           `json:"body"`
	Violation   *violationDetail `json:"violation,omitempty"`
}

// violationDetail is the violation summary included in channel payloads.
type violationDetail struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	WorkerID  string `json:"worker_id,omitempty"`
	ItemType  string `json:"item_type"`
	Severity  string `json:"severity"`
	StartedAt string `json:"started_at"`
}

func detailFor(v *store.Violation) *violationDetail {
	if v == nil {
		return nil
	}
	return &violationDetail{
		ID:        v.ID,
		SessionID: v.SessionID,
		WorkerID:  v.WorkerID,
		ItemType:  v.ItemType,
		Severity:  v.Severity,
		StartedAt: v.StartedAt.UTC().Format(time.RFC3339),
	}
}

// Channel delivers one alert message. Transport details (email, SMS, push)
// live behind this interface; delivery is best-effort.
type Channel interface {
	Send(ctx context.Context, msg Message) error
}

// WebhookChannel posts the alert message as JSON to the destination URL.
type WebhookChannel struct {
	client *http.Client
}

// NewWebhookChannel creates a webhook channel with the given HTTP client.
// A nil client uses http.DefaultClient.
func NewWebhookChannel(client *http.Client) *WebhookChannel {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebhookChannel{client: client}
}

// Send posts the message to msg.Destination.
func (c *WebhookChannel) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal alert payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, msg.Destination, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook delivery: unexpected status %d", resp.StatusCode)
	}
	return nil
}
