package domain

import "time"

// SubscriptionStatus mirrors the provider's subscription status for the states we track
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// ParseSubscriptionStatus maps a provider status onto the tracked set.
// Provider states we do not model (incomplete, unpaid, paused...) are folded
// into the closest state that does not grant access.
func ParseSubscriptionStatus(s string) SubscriptionStatus {
	switch SubscriptionStatus(s) {
	case SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusPastDue, SubscriptionStatusCanceled:
		return SubscriptionStatus(s)
	case "incomplete_expired":
		return SubscriptionStatusCanceled
	default:
		return SubscriptionStatusPastDue
	}
}

// IsLive reports whether the subscription still counts as held by the user
func (s SubscriptionStatus) IsLive() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

// IsTerminal reports whether no later provider event may change the status
func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionStatusCanceled
}

// Subscription is the billing state of a user, owned by the webhook processor
type Subscription struct {
	ID                   int64              `json:"id"`
	UserID               int64              `json:"user_id"`
	StripeCustomerID     string             `json:"stripe_customer_id"`
	StripeSubscriptionID string             `json:"stripe_subscription_id"`
	StripePriceID        string             `json:"stripe_price_id"`
	Status               SubscriptionStatus `json:"status"`
	CurrentPeriodStart   time.Time          `json:"current_period_start"`
	CurrentPeriodEnd     time.Time          `json:"current_period_end"`
	CancelAtPeriodEnd    bool               `json:"cancel_at_period_end"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// SubscriptionUpdate is the full provider-side state applied on subscription.updated
type SubscriptionUpdate struct {
	Status             SubscriptionStatus
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
}

// BillingPeriod is a subscription's current period
type BillingPeriod struct {
	Start time.Time
	End   time.Time
}

// ApproximatePeriod is the last-resort period used when the provider's
// authoritative boundaries are unavailable. A later subscription.updated corrects it.
func ApproximatePeriod(now time.Time) BillingPeriod {
	return BillingPeriod{Start: now, End: now.AddDate(0, 0, 30)}
}
