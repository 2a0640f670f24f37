package dto

import (
	"strconv"
	"time"

	"github.com/prohmpiriya/healthcare-educate/internal/domain"
)

// CreateCheckoutRequest represents a checkout session request
type CreateCheckoutRequest struct {
	PriceID string `json:"priceId" binding:"required,max=255"`
}

// CheckoutSessionResponse is the hosted checkout to redirect to
type CheckoutSessionResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// PortalSessionResponse is the billing portal to redirect to
type PortalSessionResponse struct {
	URL string `json:"url"`
}

// SubscriptionStatusResponse describes the user's most recent subscription
type SubscriptionStatusResponse struct {
	HasSubscription   bool                       `json:"hasSubscription"`
	Status            *domain.SubscriptionStatus `json:"status"`
	CurrentPeriodEnd  *time.Time                 `json:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd bool                       `json:"cancelAtPeriodEnd"`
	PriceID           string                     `json:"priceId,omitempty"`
}

// FromSubscription builds the status view; nil means no subscription
func FromSubscription(s *domain.Subscription) *SubscriptionStatusResponse {
	if s == nil {
		return &SubscriptionStatusResponse{HasSubscription: false}
	}
	status := s.Status
	periodEnd := s.CurrentPeriodEnd
	return &SubscriptionStatusResponse{
		HasSubscription:   true,
		Status:            &status,
		CurrentPeriodEnd:  &periodEnd,
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		PriceID:           s.StripePriceID,
	}
}

// PaymentResponse is a payment with its amount in major units
type PaymentResponse struct {
	ID          int64                `json:"id"`
	Amount      float64              `json:"amount"`
	Currency    string               `json:"currency"`
	Status      domain.PaymentStatus `json:"status"`
	Description string               `json:"description"`
	CreatedAt   time.Time            `json:"createdAt"`
}

// FromPayment converts a domain Payment to PaymentResponse
func FromPayment(p *domain.Payment) *PaymentResponse {
	return &PaymentResponse{
		ID:          p.ID,
		Amount:      domain.MajorUnits(p.Amount, p.Currency),
		Currency:    p.Currency,
		Status:      p.Status,
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
	}
}

// PaymentHistoryResponse lists payments newest first
type PaymentHistoryResponse struct {
	Payments []*PaymentResponse `json:"payments"`
}

// PremiumAccessResponse confirms access to premium content
type PremiumAccessResponse struct {
	Access bool                      `json:"access"`
	Status domain.SubscriptionStatus `json:"status"`
}

// SubscriptionEvent is published whenever a subscription changes state
type SubscriptionEvent struct {
	EventID              string                    `json:"eventId"`
	EventType            string                    `json:"eventType"`
	UserID               int64                     `json:"userId"`
	StripeSubscriptionID string                    `json:"stripeSubscriptionId"`
	Status               domain.SubscriptionStatus `json:"status"`
	CurrentPeriodEnd     time.Time                 `json:"currentPeriodEnd"`
	CancelAtPeriodEnd    bool                      `json:"cancelAtPeriodEnd"`
	OccurredAt           time.Time                 `json:"occurredAt"`
}

// Key partitions subscription events by user
func (e *SubscriptionEvent) Key() string {
	return strconv.FormatInt(e.UserID, 10)
}
