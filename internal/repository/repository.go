package repository

import (
	"context"

	"github.com/prohmpiriya/healthcare-educate/internal/domain"
)

// UserRepository is the credential store. Lookups return nil, nil when nothing matches.
type UserRepository interface {
	// Create inserts the user and fills ID and timestamps.
	// Returns domain.ErrEmailTaken or domain.ErrUsernameTaken on a uniqueness race.
	Create(ctx context.Context, user *domain.User) error

	GetByID(ctx context.Context, id int64) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// FindByEmailOrUsername returns a user matching either value, preferring an email match
	FindByEmailOrUsername(ctx context.Context, email, username string) (*domain.User, error)

	// SetRefreshToken overwrites the stored refresh token; nil clears it
	SetRefreshToken(ctx context.Context, userID int64, token *string) error

	// RotateRefreshToken replaces presented with next only if presented is still the
	// stored token. It reports false when another request rotated or cleared it first.
	RotateRefreshToken(ctx context.Context, userID int64, presented, next string) (bool, error)
}

// SubscriptionRepository is the subscription side of the billing store
type SubscriptionRepository interface {
	// CreateFromCheckout atomically records a new subscription and, when payment is
	// non-nil, its first payment. Returns domain.ErrDuplicateSubscription when the
	// provider subscription is already recorded or the user already holds a live one.
	CreateFromCheckout(ctx context.Context, sub *domain.Subscription, payment *domain.Payment) error

	GetByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string) (*domain.Subscription, error)

	// GetLatestByUserID returns the most recently created subscription of the user
	GetLatestByUserID(ctx context.Context, userID int64) (*domain.Subscription, error)

	// GetLiveByUserID returns the most recent active or trialing subscription of the user
	GetLiveByUserID(ctx context.Context, userID int64) (*domain.Subscription, error)

	// GetCustomerID returns the provider customer id on file for the user, or ""
	GetCustomerID(ctx context.Context, userID int64) (string, error)

	// ApplyUpdate overwrites status, period and cancel flag. Returns nil, nil if unknown or canceled.
	ApplyUpdate(ctx context.Context, stripeSubscriptionID string, update domain.SubscriptionUpdate) (*domain.Subscription, error)

	// MarkCanceled sets status canceled and clears cancel-at-period-end. Returns nil, nil if unknown.
	MarkCanceled(ctx context.Context, stripeSubscriptionID string) (*domain.Subscription, error)

	// MarkPastDue sets status past_due. Returns nil, nil if unknown or canceled.
	MarkPastDue(ctx context.Context, stripeSubscriptionID string) (*domain.Subscription, error)
}

// PaymentRepository is the append-only payment ledger
type PaymentRepository interface {
	// Record appends a payment keyed by StripePaymentID. Rows are never
	// rewritten; an existing key returns domain.ErrDuplicatePayment.
	Record(ctx context.Context, payment *domain.Payment) error

	// GetByStripePaymentID returns the payment recorded under a key, or nil, nil
	GetByStripePaymentID(ctx context.Context, stripePaymentID string) (*domain.Payment, error)

	// ListByUserID returns payments newest first
	ListByUserID(ctx context.Context, userID int64, limit int) ([]*domain.Payment, error)
}
