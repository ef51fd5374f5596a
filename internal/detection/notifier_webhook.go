// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package detection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/toyguard/internal/logging"
)

// ErrRateLimited is returned when an alert is dropped by the sink's rate limit.
var ErrRateLimited = errors.New("webhook rate limit exceeded")

const (
	defaultWebhookRateLimit = 500 * time.Millisecond
	defaultWebhookTimeout   = 10 * time.Second
	webhookFailureThreshold = 5
	webhookBreakerTimeout   = 60 * time.Second
)

// WebhookConfig holds configuration for the webhook sink.
type WebhookConfig struct {
	WebhookURL string
	Headers    map[string]string
	Enabled    bool
	// RateLimit is the minimum spacing between deliveries.
	RateLimit time.Duration
	// Timeout bounds one HTTP request.
	Timeout time.Duration
}

// WebhookPayload is the JSON body posted for each alert.
type WebhookPayload struct {
	Alert     Alert     `json:"alert"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// WebhookNotifier posts alerts as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	webhookURL string
	headers    map[string]string
	client     *http.Client
	enabled    bool
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[struct{}]
}

// NewWebhookNotifier creates a webhook sink.
func NewWebhookNotifier(config WebhookConfig) *WebhookNotifier {
	if config.RateLimit <= 0 {
		config.RateLimit = defaultWebhookRateLimit
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultWebhookTimeout
	}

	n := &WebhookNotifier{
		webhookURL: config.WebhookURL,
		headers:    config.Headers,
		client:     &http.Client{Timeout: config.Timeout},
		enabled:    config.Enabled,
		limiter:    rate.NewLimiter(rate.Every(config.RateLimit), 1),
	}
	n.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "alert-webhook",
		MaxRequests: 1,
		Timeout:     webhookBreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= webhookFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Webhook circuit breaker state changed")
		},
	})
	return n
}

// Name returns the sink name.
func (n *WebhookNotifier) Name() string {
	return "webhook"
}

// Enabled returns whether the sink is enabled and has a URL.
func (n *WebhookNotifier) Enabled() bool {
	return n.enabled && n.webhookURL != ""
}

// Send posts the alert. Alerts arriving faster than the rate limit are
// dropped with ErrRateLimited rather than queued.
func (n *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	if !n.Enabled() {
		return nil
	}
	if !n.limiter.Allow() {
		return ErrRateLimited
	}

	payload := WebhookPayload{
		Alert:     alert,
		EventType: "threat_alert",
		Timestamp: time.Now().UTC(),
		Source:    "toyguard",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = n.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, n.post(ctx, body)
	})
	return err
}

func (n *WebhookNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range n.headers {
		req.Header.Set(key, value)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
