package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gwyntel/splintertree/internal/providers"
)

const (
	webhookMaxAttempts = 3
	webhookTimeout     = 10 * time.Second
	webhookRetryDelay  = 5 * time.Second // when a 429 carries no Retry-After
)

// WebhookBroadcaster pushes finished replies to configured Discord webhook
// URLs, used by the hook command to mirror a generation elsewhere.
type WebhookBroadcaster struct {
	urls   []string
	client *http.Client
}

func NewWebhookBroadcaster(urls []string) *WebhookBroadcaster {
	return &WebhookBroadcaster{
		urls:   urls,
		client: &http.Client{Timeout: webhookTimeout},
	}
}

// Configured reports whether any webhook URLs are set.
func (w *WebhookBroadcaster) Configured() bool { return len(w.urls) > 0 }

// Broadcast posts content to every configured webhook. It returns true when
// at least one delivery succeeded; per-URL failures only log.
func (w *WebhookBroadcaster) Broadcast(ctx context.Context, content string) bool {
	if len(w.urls) == 0 {
		slog.Warn("no webhooks configured")
		return false
	}

	success := false
	for _, url := range w.urls {
		if err := w.send(ctx, url, content); err != nil {
			slog.Error("webhook delivery failed", "error", err)
			continue
		}
		success = true
	}
	return success
}

// send posts one payload, retrying timeouts and 429s (honoring Retry-After).
func (w *WebhookBroadcaster) send(ctx context.Context, url, content string) error {
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < webhookMaxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			delay := providers.ParseRetryAfter(resp.Header.Get("Retry-After"))
			if delay <= 0 {
				delay = webhookRetryDelay
			}
			lastErr = fmt.Errorf("webhook rate limited")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return fmt.Errorf("webhook delivery gave up: %w", lastErr)
}
