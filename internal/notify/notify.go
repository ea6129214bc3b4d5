// Package notify delivers critical-level notifications raised by the
// engine, such as entry into degraded mode.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Notifier surfaces critical conditions to an operator channel.
type Notifier interface {
	Critical(ctx context.Context, title, detail string)
}

// Nop discards notifications. Used when no webhook is configured.
type Nop struct{}

func (Nop) Critical(context.Context, string, string) {}

const webhookTimeout = 10 * time.Second

// Webhook POSTs notifications as JSON to a configured URL. Delivery
// failures are logged, never propagated; alerting must not take the
// engine down.
type Webhook struct {
	log    *slog.Logger
	url    string
	client *http.Client
}

func NewWebhook(log *slog.Logger, url string) *Webhook {
	return &Webhook{
		log:    log,
		url:    url,
		client: &http.Client{Timeout: webhookTimeout},
	}
}

type webhookPayload struct {
	Level     string    `json:"level"`
	Title     string    `json:"title"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

func (w *Webhook) Critical(ctx context.Context, title, detail string) {
	if err := w.post(ctx, webhookPayload{
		Level:     "critical",
		Title:     title,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		w.log.Error("notify: webhook delivery failed", "title", title, "error", err)
	}
}

func (w *Webhook) post(ctx context.Context, payload webhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
