package gateway

import (
	"context"
	"time"

	"github.com/prohmpiriya/healthcare-educate/internal/domain"
)

// PaymentGateway is the billing provider as seen by the services
type PaymentGateway interface {
	// ParseWebhook verifies the signature over the raw payload and decodes the event.
	// Verification failures wrap domain.ErrInvalidSignature.
	ParseWebhook(payload []byte, signatureHeader string) (domain.BillingEvent, error)

	CreateCheckoutSession(ctx context.Context, req *CheckoutSessionRequest) (*CheckoutSessionResponse, error)

	CreatePortalSession(ctx context.Context, req *PortalSessionRequest) (*PortalSessionResponse, error)

	// GetSubscription fetches the provider's current view of a subscription
	GetSubscription(ctx context.Context, subscriptionID string) (*domain.SubscriptionSnapshot, error)

	Name() string
}

// CheckoutSessionRequest describes a hosted subscription checkout
type CheckoutSessionRequest struct {
	UserID        int64
	PriceID       string
	CustomerID    string // reused when the user already has a provider customer
	CustomerEmail string // used when CustomerID is empty
	SuccessURL    string
	CancelURL     string
	ExpiresAt     time.Time
}

// CheckoutSessionResponse is the created hosted checkout
type CheckoutSessionResponse struct {
	SessionID string
	URL       string
}

// PortalSessionRequest describes a customer self-service portal session
type PortalSessionRequest struct {
	CustomerID string
	ReturnURL  string
}

// PortalSessionResponse is the created portal session
type PortalSessionResponse struct {
	URL string
}
