package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/tildaslashalef/fieldsync/internal/config"
	"github.com/tildaslashalef/fieldsync/internal/loggy"
)

// WebhookSink delivers events to an HTTP endpoint as JSON. Failed deliveries
// are retried with exponential backoff, and outgoing requests are rate
// limited so a burst of conflict events cannot flood the receiver.
type WebhookSink struct {
	url        string
	token      string
	maxRetries int
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *loggy.Logger
}

// NewWebhookSink creates a webhook-backed sink from configuration
func NewWebhookSink(cfg config.WebhookConfig, logger *loggy.Logger) *WebhookSink {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}

	ratePerSec := cfg.RatePerSec
	if ratePerSec <= 0 {
		ratePerSec = 10
	}

	return &WebhookSink{
		url:        cfg.URL,
		token:      cfg.Token,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), 1),
		logger:  logger,
	}
}

// APIError represents an error response from the webhook endpoint
type APIError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("webhook error %d: %s", e.StatusCode, e.Message)
}

// Publish delivers the event, retrying transient failures with exponential backoff
func (s *WebhookSink) Publish(ctx context.Context, event Event) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}

	operation := func() error {
		return s.send(ctx, event)
	}

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(s.maxRetries)), ctx))
	if err != nil {
		s.logger.Warn("Failed to deliver sync event",
			"event_id", event.ID,
			"type", event.Type,
			"error", err,
		)
		return err
	}

	return nil
}

// send performs a single delivery attempt
func (s *WebhookSink) send(ctx context.Context, event Event) error {
	bodyBytes, err := json.Marshal(event)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("marshaling event: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(bodyBytes))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("creating request: %w", err))
	}

	if s.token != "" {
		req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", s.token))
	}
	req.Header.Add("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// Drain so the connection can be reused
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	apiErr := APIError{StatusCode: resp.StatusCode}
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
		apiErr.Message = resp.Status
	}

	// Client errors other than throttling will not succeed on retry
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return backoff.Permanent(apiErr)
	}

	return apiErr
}
