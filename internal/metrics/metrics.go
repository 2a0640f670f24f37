package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/prohmpiriya/healthcare-educate/pkg/telemetry"
)

var (
	// Auth counters
	AuthAttempts   *telemetry.Counter
	TokenRefreshes *telemetry.Counter
	RateLimitHits  *telemetry.Counter

	// Billing counters
	WebhooksReceived  *telemetry.Counter
	WebhooksProcessed *telemetry.Counter
	WebhooksFailed    *telemetry.Counter
	CheckoutSessions  *telemetry.Counter

	// Histograms
	WebhookProcessingTime *telemetry.Histogram
	RequestDuration       *telemetry.Histogram

	initOnce sync.Once
	initErr  error
)

// Init registers all instruments on the global meter provider
func Init() error {
	initOnce.Do(func() {
		initErr = initMetrics()
	})
	return initErr
}

func initMetrics() error {
	var err error

	counters := []struct {
		target **telemetry.Counter
		opts   telemetry.MetricOpts
	}{
		{&AuthAttempts, telemetry.MetricOpts{Name: "auth_attempts_total", Description: "Register and login attempts by outcome", Unit: "1"}},
		{&TokenRefreshes, telemetry.MetricOpts{Name: "auth_token_refreshes_total", Description: "Refresh token rotations by outcome", Unit: "1"}},
		{&RateLimitHits, telemetry.MetricOpts{Name: "http_rate_limited_total", Description: "Requests rejected by the rate limiter", Unit: "1"}},
		{&WebhooksReceived, telemetry.MetricOpts{Name: "billing_webhooks_received_total", Description: "Verified webhook events by type", Unit: "1"}},
		{&WebhooksProcessed, telemetry.MetricOpts{Name: "billing_webhooks_processed_total", Description: "Webhook events applied or skipped by outcome", Unit: "1"}},
		{&WebhooksFailed, telemetry.MetricOpts{Name: "billing_webhooks_failed_total", Description: "Webhook events whose handler returned an error", Unit: "1"}},
		{&CheckoutSessions, telemetry.MetricOpts{Name: "billing_checkout_sessions_total", Description: "Checkout sessions by outcome", Unit: "1"}},
	}
	for _, c := range counters {
		if *c.target, err = telemetry.NewCounter(c.opts); err != nil {
			return err
		}
	}

	WebhookProcessingTime, err = telemetry.NewHistogramWithBuckets(telemetry.MetricOpts{
		Name:        "billing_webhook_processing_seconds",
		Description: "Webhook processing duration",
		Unit:        "s",
	}, []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10})
	if err != nil {
		return err
	}

	RequestDuration, err = telemetry.NewHistogramWithBuckets(telemetry.MetricOpts{
		Name:        "http_request_duration_seconds",
		Description: "HTTP request duration in seconds",
		Unit:        "s",
	}, []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10})
	return err
}

// RecordAuthAttempt records a register or login attempt
func RecordAuthAttempt(ctx context.Context, operation, outcome string) {
	AuthAttempts.Add(ctx, 1,
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	)
}

// RecordTokenRefresh records a refresh rotation outcome
func RecordTokenRefresh(ctx context.Context, outcome string) {
	TokenRefreshes.Add(ctx, 1, attribute.String("outcome", outcome))
}

// RecordRateLimited records a rejected request
func RecordRateLimited(ctx context.Context, path string) {
	RateLimitHits.Add(ctx, 1, attribute.String("path", path))
}

// RecordWebhookReceived records a verified webhook
func RecordWebhookReceived(ctx context.Context, eventType string) {
	WebhooksReceived.Add(ctx, 1, attribute.String("event_type", eventType))
}

// RecordWebhookProcessed records the outcome of handling one webhook event
func RecordWebhookProcessed(ctx context.Context, eventType, outcome string, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("event_type", eventType),
		attribute.String("outcome", outcome),
	}
	if outcome == "error" {
		WebhooksFailed.Add(ctx, 1, attrs...)
	} else {
		WebhooksProcessed.Add(ctx, 1, attrs...)
	}
	WebhookProcessingTime.Record(ctx, duration.Seconds(), attrs...)
}

// RecordCheckoutSession records a checkout attempt outcome
func RecordCheckoutSession(ctx context.Context, outcome string) {
	CheckoutSessions.Add(ctx, 1, attribute.String("outcome", outcome))
}

// RecordRequestDuration records an HTTP request latency
func RecordRequestDuration(ctx context.Context, method, route string, status int, duration time.Duration) {
	RequestDuration.Record(ctx, duration.Seconds(),
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	)
}
