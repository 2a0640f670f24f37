package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/prohmpiriya/healthcare-educate/internal/domain"
)

const alphanumericChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomAlphanumeric(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = alphanumericChars[rand.Intn(len(alphanumericChars))]
	}
	return string(b)
}

// MockGateway implements PaymentGateway without network calls. Webhooks are
// verified with the real Stripe signature scheme so signed test payloads work.
type MockGateway struct {
	config *MockGatewayConfig

	mu            sync.RWMutex
	subscriptions map[string]domain.SubscriptionSnapshot
	checkouts     []CheckoutSessionRequest
	subErr        error
}

// MockGatewayConfig holds configuration for the mock gateway
type MockGatewayConfig struct {
	WebhookSecret string
	// DelayMs is the simulated provider latency in milliseconds
	DelayMs int
}

// DefaultMockGatewayConfig returns default configuration
func DefaultMockGatewayConfig() *MockGatewayConfig {
	return &MockGatewayConfig{
		WebhookSecret: "whsec_mock",
	}
}

// NewMockGateway creates a new mock gateway
func NewMockGateway(config *MockGatewayConfig) *MockGateway {
	if config == nil {
		config = DefaultMockGatewayConfig()
	}
	return &MockGateway{
		config:        config,
		subscriptions: make(map[string]domain.SubscriptionSnapshot),
	}
}

// ParseWebhook verifies and decodes a Stripe-format webhook
func (g *MockGateway) ParseWebhook(payload []byte, signatureHeader string) (domain.BillingEvent, error) {
	return parseWebhook(payload, signatureHeader, g.config.WebhookSecret)
}

// CreateCheckoutSession records the request and returns a fake hosted URL
func (g *MockGateway) CreateCheckoutSession(ctx context.Context, req *CheckoutSessionRequest) (*CheckoutSessionResponse, error) {
	if req == nil || req.PriceID == "" {
		return nil, fmt.Errorf("price ID is required")
	}
	if err := g.delay(ctx); err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.checkouts = append(g.checkouts, *req)
	g.mu.Unlock()

	id := "cs_test_" + randomAlphanumeric(24)
	return &CheckoutSessionResponse{
		SessionID: id,
		URL:       "https://checkout.stripe.com/c/pay/" + id,
	}, nil
}

// CreatePortalSession returns a fake portal URL
func (g *MockGateway) CreatePortalSession(ctx context.Context, req *PortalSessionRequest) (*PortalSessionResponse, error) {
	if req == nil || req.CustomerID == "" {
		return nil, fmt.Errorf("customer ID is required")
	}
	if err := g.delay(ctx); err != nil {
		return nil, err
	}
	return &PortalSessionResponse{
		URL: "https://billing.stripe.com/p/session/test_" + randomAlphanumeric(16),
	}, nil
}

// GetSubscription returns a subscription registered with PutSubscription
func (g *MockGateway) GetSubscription(ctx context.Context, subscriptionID string) (*domain.SubscriptionSnapshot, error) {
	if err := g.delay(ctx); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.subErr != nil {
		return nil, g.subErr
	}
	snap, ok := g.subscriptions[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("no such subscription: %s", subscriptionID)
	}
	return &snap, nil
}

// Name returns the gateway name
func (g *MockGateway) Name() string {
	return "mock"
}

// PutSubscription makes a subscription visible to GetSubscription
func (g *MockGateway) PutSubscription(snap domain.SubscriptionSnapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subscriptions[snap.ID] = snap
}

// SetSubscriptionError makes GetSubscription fail with err; nil clears it
func (g *MockGateway) SetSubscriptionError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subErr = err
}

// CheckoutRequests returns every checkout request seen so far
func (g *MockGateway) CheckoutRequests() []CheckoutSessionRequest {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]CheckoutSessionRequest(nil), g.checkouts...)
}

func (g *MockGateway) delay(ctx context.Context) error {
	if g.config.DelayMs <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(g.config.DelayMs) * time.Millisecond):
		return nil
	}
}

// SignTestEvent builds a Stripe event envelope around object and signs it with secret.
// It returns the payload and the Stripe-Signature header value.
func SignTestEvent(secret, eventID, eventType string, object interface{}) ([]byte, string, error) {
	obj, err := json.Marshal(object)
	if err != nil {
		return nil, "", err
	}
	payload, err := json.Marshal(map[string]interface{}{
		"id":          eventID,
		"object":      "event",
		"type":        eventType,
		"created":     time.Now().Unix(),
		"api_version": "2025-03-31.basil",
		"data":        map[string]json.RawMessage{"object": obj},
	})
	if err != nil {
		return nil, "", err
	}

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header, nil
}
