package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tinytelemetry/msgrelay/internal/config"
	"github.com/tinytelemetry/msgrelay/internal/model"
)

// Webhook posts {"text": ...} to a URL.
type Webhook struct {
	url      string
	interval time.Duration
	client   *http.Client
}

// NewWebhook creates a webhook sink.
func NewWebhook(cfg config.WebhookConfig) *Webhook {
	return &Webhook{
		url:      cfg.URL,
		interval: cfg.SendInterval(),
		client: &http.Client{
			Timeout: cfg.Timeout(),
		},
	}
}

func (w *Webhook) Name() string { return config.SinkWebhook }

// SendInterval keeps chat webhooks under their rate limits.
func (w *Webhook) SendInterval() time.Duration { return w.interval }

func (w *Webhook) Send(ctx context.Context, p model.Payload) error {
	body, err := json.Marshal(map[string]string{"text": p.Text})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "msgrelay/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
