package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultWebhookTimeout = 10 * time.Second

// WebhookTransport POSTs notifications as JSON. The rule's destination is
// used as the URL when set, otherwise the transport's default URL.
type WebhookTransport struct {
	client     *http.Client
	defaultURL string
}

// WebhookOption configures a WebhookTransport.
type WebhookOption func(*WebhookTransport)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(t *WebhookTransport) {
		if c != nil {
			t.client = c
		}
	}
}

// NewWebhookTransport creates a webhook transport. defaultURL may be empty
// when every rule carries its own destination.
func NewWebhookTransport(defaultURL string, opts ...WebhookOption) *WebhookTransport {
	t := &WebhookTransport{
		client:     &http.Client{Timeout: defaultWebhookTimeout},
		defaultURL: defaultURL,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns "webhook".
func (t *WebhookTransport) Name() string { return "webhook" }

// Send posts n and treats any non-2xx response as an error.
func (t *WebhookTransport) Send(ctx context.Context, n Notification) error {
	url := n.Destination
	if url == "" {
		url = t.defaultURL
	}
	if url == "" {
		return errors.New("webhook: no destination url")
	}

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Kairos-Event", n.EventID)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}
