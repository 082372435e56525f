package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-monitor/internal/model"
)

// Webhook posts messages as JSON to a fixed URL.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a webhook notifier.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{url: url, client: &http.Client{Timeout: timeout}}
}

type webhookPayload struct {
	Type string `json:"type"`
	Message
}

// Send implements Notifier.
func (w *Webhook) Send(ctx context.Context, msg Message) (*Delivery, error) {
	if w.url == "" {
		return nil, eris.New("notify: webhook url not configured")
	}
	payload, err := json.Marshal(webhookPayload{Type: string(model.AlertNewRelease), Message: msg})
	if err != nil {
		return nil, eris.Wrap(err, "notify: marshal webhook payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", msg.AlertID)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "notify: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, eris.Errorf("notify: webhook returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return &Delivery{Channel: model.ChannelWebhook, Reference: resp.Header.Get("X-Request-Id")}, nil
}
