package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/foxseedlab/tsuyaku/internal/webhook"
)

const (
	webhookTimeout        = 10 * time.Second
	webhookMaxAttempts    = 3
	webhookInitialBackoff = 500 * time.Millisecond
	maxErrorBodyBytes     = 512
)

// HTTPSender posts session metadata as JSON. 5xx, 429 and transport errors are
// retried a few times; other 4xx responses are not.
type HTTPSender struct {
	webhookURL     string
	client         *http.Client
	maxAttempts    int
	initialBackoff time.Duration
}

func NewHTTPSender(webhookURL string) webhook.Sender {
	return newHTTPSender(webhookURL, webhookInitialBackoff)
}

func newHTTPSender(webhookURL string, initialBackoff time.Duration) *HTTPSender {
	return &HTTPSender{
		webhookURL:     webhookURL,
		client:         &http.Client{Timeout: webhookTimeout},
		maxAttempts:    webhookMaxAttempts,
		initialBackoff: initialBackoff,
	}
}

func (s *HTTPSender) SendSessionEnded(ctx context.Context, payload webhook.SessionEndedPayload) error {
	if s.webhookURL == "" {
		return nil
	}
	if payload.Event == "" {
		payload.Event = webhook.EventSessionEnded
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.initialBackoff

	attempt := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := s.post(ctx, body)
		if err != nil && attempt < s.maxAttempts {
			slog.Debug("webhook attempt failed", "error", err, "attempt", attempt, "session_id", payload.SessionID)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(uint(s.maxAttempts)))
	if err != nil {
		return fmt.Errorf("deliver %s webhook after %d attempt(s): %w", payload.Event, attempt, err)
	}
	return nil
}

func (s *HTTPSender) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if isHTTPSuccessStatus(resp.StatusCode) {
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	statusErr := fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return statusErr
	}
	return backoff.Permanent(statusErr)
}

func isHTTPSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
