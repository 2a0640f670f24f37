package domain

import (
	"context"
	"time"
)

// Provider event types handled by the billing processor
const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventSubscriptionCreated      = "customer.subscription.created"
	EventSubscriptionUpdated      = "customer.subscription.updated"
	EventSubscriptionDeleted      = "customer.subscription.deleted"
	EventInvoicePaymentSucceeded  = "invoice.payment_succeeded"
	EventInvoicePaymentFailed     = "invoice.payment_failed"
)

// BillingEvent is a verified provider event decoded into one of its known shapes.
// Apply dispatches to the matching BillingEventHandler method.
type BillingEvent interface {
	EventID() string
	EventType() string
	Apply(ctx context.Context, h BillingEventHandler) error
}

// BillingEventHandler has exactly one method per BillingEvent variant
type BillingEventHandler interface {
	OnCheckoutCompleted(ctx context.Context, e *CheckoutCompleted) error
	OnSubscriptionCreated(ctx context.Context, e *SubscriptionCreated) error
	OnSubscriptionUpdated(ctx context.Context, e *SubscriptionUpdated) error
	OnSubscriptionDeleted(ctx context.Context, e *SubscriptionDeleted) error
	OnInvoicePaymentSucceeded(ctx context.Context, e *InvoicePaymentSucceeded) error
	OnInvoicePaymentFailed(ctx context.Context, e *InvoicePaymentFailed) error
	OnUnhandled(ctx context.Context, e *UnhandledEvent) error
}

// EventMeta is the envelope shared by every variant
type EventMeta struct {
	ID      string
	Type    string
	Created time.Time
}

func (m EventMeta) EventID() string   { return m.ID }
func (m EventMeta) EventType() string { return m.Type }

// SubscriptionSnapshot is the provider's view of a subscription at event time
type SubscriptionSnapshot struct {
	ID                string
	CustomerID        string
	PriceID           string
	Status            SubscriptionStatus
	Period            *BillingPeriod // nil when the payload carried no period
	CancelAtPeriodEnd bool
	UserID            string // metadata userId, if attached at checkout
}

// InvoiceSnapshot is the provider's view of an invoice at event time
type InvoiceSnapshot struct {
	ID              string
	SubscriptionID  string
	PaymentIntentID string
	Amount          int64 // minor units
	Currency        string
	Number          string
	AttemptCount    int64
}

// Reference is the human-facing invoice identifier
func (i InvoiceSnapshot) Reference() string {
	if i.Number != "" {
		return i.Number
	}
	return i.ID
}

// PaymentKey is the ledger idempotency key: the payment intent, or the invoice when none is attached
func (i InvoiceSnapshot) PaymentKey() string {
	if i.PaymentIntentID != "" {
		return i.PaymentIntentID
	}
	return i.ID
}

// CheckoutCompleted is checkout.session.completed
type CheckoutCompleted struct {
	EventMeta
	SessionID       string
	UserID          string // metadata userId
	CustomerID      string
	SubscriptionID  string
	PaymentIntentID string
	AmountTotal     int64
	Currency        string
	// Subscription is set only when the provider expanded the session's subscription
	Subscription *SubscriptionSnapshot
}

func (e *CheckoutCompleted) Apply(ctx context.Context, h BillingEventHandler) error {
	return h.OnCheckoutCompleted(ctx, e)
}

// SubscriptionCreated is customer.subscription.created
type SubscriptionCreated struct {
	EventMeta
	Subscription SubscriptionSnapshot
}

func (e *SubscriptionCreated) Apply(ctx context.Context, h BillingEventHandler) error {
	return h.OnSubscriptionCreated(ctx, e)
}

// SubscriptionUpdated is customer.subscription.updated
type SubscriptionUpdated struct {
	EventMeta
	Subscription SubscriptionSnapshot
}

func (e *SubscriptionUpdated) Apply(ctx context.Context, h BillingEventHandler) error {
	return h.OnSubscriptionUpdated(ctx, e)
}

// SubscriptionDeleted is customer.subscription.deleted
type SubscriptionDeleted struct {
	EventMeta
	Subscription SubscriptionSnapshot
}

func (e *SubscriptionDeleted) Apply(ctx context.Context, h BillingEventHandler) error {
	return h.OnSubscriptionDeleted(ctx, e)
}

// InvoicePaymentSucceeded is invoice.payment_succeeded
type InvoicePaymentSucceeded struct {
	EventMeta
	Invoice InvoiceSnapshot
}

func (e *InvoicePaymentSucceeded) Apply(ctx context.Context, h BillingEventHandler) error {
	return h.OnInvoicePaymentSucceeded(ctx, e)
}

// InvoicePaymentFailed is invoice.payment_failed
type InvoicePaymentFailed struct {
	EventMeta
	Invoice InvoiceSnapshot
}

func (e *InvoicePaymentFailed) Apply(ctx context.Context, h BillingEventHandler) error {
	return h.OnInvoicePaymentFailed(ctx, e)
}

// UnhandledEvent is any event type the processor does not act on
type UnhandledEvent struct {
	EventMeta
}

func (e *UnhandledEvent) Apply(ctx context.Context, h BillingEventHandler) error {
	return h.OnUnhandled(ctx, e)
}
