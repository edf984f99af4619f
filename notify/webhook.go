package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const (
	defaultTimeout = 10 * time.Second
	userAgent      = "modcatalog-notifier"
)

// leveledZap adapts zap to retryablehttp, logging retried errors as warnings.
type leveledZap struct {
	inner *zap.SugaredLogger
}

func (l leveledZap) Error(msg string, keysAndValues ...interface{}) {
	l.inner.Warnw(msg, keysAndValues...)
}

func (l leveledZap) Warn(msg string, keysAndValues ...interface{}) {
	l.inner.Warnw(msg, keysAndValues...)
}

func (l leveledZap) Info(msg string, keysAndValues ...interface{}) {
	l.inner.Infow(msg, keysAndValues...)
}

func (l leveledZap) Debug(msg string, keysAndValues ...interface{}) {
	l.inner.Debugw(msg, keysAndValues...)
}

// WebhookSink POSTs each event as JSON to a chat-platform webhook.
type WebhookSink struct {
	URL        string
	HTTPClient *retryablehttp.Client
}

// NewWebhookSink builds a sink with a few retries on 5xx and 429 responses.
func NewWebhookSink(url string, log *zap.SugaredLogger) *WebhookSink {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = defaultTimeout
	client.Logger = retryablehttp.LeveledLogger(leveledZap{log})
	return &WebhookSink{URL: url, HTTPClient: client}
}

func (w *WebhookSink) Name() string { return "webhook" }

// Deliver sends e and fails on any non-2xx response.
func (w *WebhookSink) Deliver(ctx context.Context, e Event) error {
	body, err := json.Marshal(webhookPayload{
		Content: fmt.Sprintf("%s %d %s by user %d", e.Kind, e.SubjectID, e.Action, e.ActorID),
		Event:   e,
	})
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := w.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("webhook request failed: status %d, body: %s", resp.StatusCode, string(bodyBytes))
	}
	return nil
}

type webhookPayload struct {
	Content string `json:"content"`
	Event   Event  `json:"event"`
}
