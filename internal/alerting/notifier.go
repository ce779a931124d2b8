// Package alerting tells operators about settlement chains that gave up.
package alerting

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"gold-exchange-go/internal/config"
)

// ChainFailure describes a settlement that exhausted its retries.
type ChainFailure struct {
	JobID          uint      `json:"job_id"`
	CorrelationID  string    `json:"correlation_id"`
	NewOrderID     uint      `json:"new_order_id"`
	MatchedOrderID uint      `json:"matched_order_id"`
	Attempt        int       `json:"attempt"`
	Error          string    `json:"error"`
	Abandoned      []uint    `json:"abandoned_order_ids"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Notifier delivers operator alerts.
type Notifier interface {
	NotifyChainFailure(ctx context.Context, failure ChainFailure) error
}

// NopNotifier discards alerts; the error log is the only record.
type NopNotifier struct{}

func (NopNotifier) NotifyChainFailure(context.Context, ChainFailure) error { return nil }

// WebhookNotifier posts alerts as JSON to an operator webhook.
type WebhookNotifier struct {
	client      *resty.Client
	url         string
	logger      *zap.Logger
	limiter     *rate.Limiter
	maxRetries  int
	baseBackoff time.Duration
}

// ensure WebhookNotifier implements the interface
var _ Notifier = (*WebhookNotifier)(nil)

// NewNotifier returns a webhook notifier when a URL is configured, otherwise a no-op.
func NewNotifier(cfg config.Alerting, logger *zap.Logger) Notifier {
	if cfg.WebhookURL == "" {
		logger.Info("No alerting webhook configured, chain failures are only logged")
		return NopNotifier{}
	}
	return NewWebhookNotifier(cfg, logger)
}

// NewWebhookNotifier creates a new WebhookNotifier.
func NewWebhookNotifier(cfg config.Alerting, logger *zap.Logger) *WebhookNotifier {
	client := resty.New().SetTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second)

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &WebhookNotifier{
		client:      client,
		url:         cfg.WebhookURL,
		logger:      logger.Named("alerting"),
		limiter:     limiter,
		maxRetries:  3,
		baseBackoff: time.Second,
	}
}

// NotifyChainFailure implements Notifier.
func (n *WebhookNotifier) NotifyChainFailure(ctx context.Context, failure ChainFailure) error {
	body := map[string]any{
		"type":    "settlement_chain_failed",
		"text":    fmt.Sprintf("Settlement of order %d against %d failed after %d attempts: %s", failure.NewOrderID, failure.MatchedOrderID, failure.Attempt, failure.Error),
		"failure": failure,
	}
	if err := n.post(ctx, body); err != nil {
		return fmt.Errorf("failed to send chain failure alert: %w", err)
	}
	return nil
}

// post sends body with rate limiting, retrying on 429, 5xx and network errors.
func (n *WebhookNotifier) post(ctx context.Context, body any) error {
	var resp *resty.Response
	var err error

	for i := 0; i < n.maxRetries; i++ {
		if err := n.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait failed: %w", err)
		}

		resp, err = n.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(body).
			Post(n.url)

		if err == nil && !resp.IsError() {
			return nil
		}

		shouldRetry := false
		var retryAfter time.Duration

		if err == nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests {
				shouldRetry = true
				if seconds, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 {
				shouldRetry = true
			}
		} else {
			shouldRetry = true
		}

		if !shouldRetry {
			return fmt.Errorf("webhook rejected alert with status %s: %s", resp.Status(), resp.String())
		}

		if retryAfter == 0 {
			retryAfter = time.Duration(math.Pow(2, float64(i))) * n.baseBackoff
		}

		n.logger.Warn("Webhook request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err == nil {
		return fmt.Errorf("webhook request failed after %d attempts with status %s", n.maxRetries, resp.Status())
	}
	return fmt.Errorf("webhook request failed after %d attempts: %w", n.maxRetries, err)
}
