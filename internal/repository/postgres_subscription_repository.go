package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/prohmpiriya/healthcare-educate/internal/domain"
	"github.com/prohmpiriya/healthcare-educate/pkg/database"
)

const subscriptionColumns = `
	id, user_id, stripe_customer_id, stripe_subscription_id, stripe_price_id, status,
	current_period_start, current_period_end, cancel_at_period_end, created_at, updated_at
`

// PostgresSubscriptionRepository implements SubscriptionRepository using PostgreSQL
type PostgresSubscriptionRepository struct {
	db *database.PostgresDB
}

// NewPostgresSubscriptionRepository creates a new PostgreSQL subscription repository
func NewPostgresSubscriptionRepository(db *database.PostgresDB) *PostgresSubscriptionRepository {
	return &PostgresSubscriptionRepository{db: db}
}

// CreateFromCheckout records a subscription and its first payment in one transaction.
// The user row is locked so two checkouts for the same user serialize on the
// live-subscription check; the unique key on stripe_subscription_id covers redelivery.
func (r *PostgresSubscriptionRepository) CreateFromCheckout(ctx context.Context, sub *domain.Subscription, payment *domain.Payment) error {
	return database.WithTx(ctx, r.db.Pool(), func(tx pgx.Tx) error {
		var userID int64
		err := tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, sub.UserID).Scan(&userID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrUserNotFound
			}
			return fmt.Errorf("failed to lock user: %w", err)
		}

		var exists bool
		err = tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM subscriptions
				WHERE stripe_subscription_id = $1
				   OR (user_id = $2 AND status IN ('active', 'trialing'))
			)`, sub.StripeSubscriptionID, sub.UserID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check existing subscription: %w", err)
		}
		if exists {
			return domain.ErrDuplicateSubscription
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO subscriptions (
				user_id, stripe_customer_id, stripe_subscription_id, stripe_price_id, status,
				current_period_start, current_period_end, cancel_at_period_end
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id, created_at, updated_at`,
			sub.UserID,
			sub.StripeCustomerID,
			sub.StripeSubscriptionID,
			sub.StripePriceID,
			string(sub.Status),
			sub.CurrentPeriodStart,
			sub.CurrentPeriodEnd,
			sub.CancelAtPeriodEnd,
		).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
		if err != nil {
			if _, ok := database.UniqueViolation(err); ok {
				return domain.ErrDuplicateSubscription
			}
			return fmt.Errorf("failed to create subscription: %w", err)
		}

		if payment == nil {
			return nil
		}

		// The invoice event may have recorded this payment already.
		err = tx.QueryRow(ctx, `
			INSERT INTO payments (user_id, stripe_payment_id, amount, currency, status, description)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (stripe_payment_id) DO NOTHING
			RETURNING id, created_at`,
			payment.UserID,
			payment.StripePaymentID,
			payment.Amount,
			payment.Currency,
			string(payment.Status),
			payment.Description,
		).Scan(&payment.ID, &payment.CreatedAt)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("failed to record checkout payment: %w", err)
		}
		return nil
	})
}

// GetByStripeSubscriptionID retrieves a subscription by provider id
func (r *PostgresSubscriptionRepository) GetByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE stripe_subscription_id = $1`
	return scanSubscription(r.db.Pool().QueryRow(ctx, query, stripeSubscriptionID))
}

// GetLatestByUserID retrieves the most recently created subscription of a user
func (r *PostgresSubscriptionRepository) GetLatestByUserID(ctx context.Context, userID int64) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`
	return scanSubscription(r.db.Pool().QueryRow(ctx, query, userID))
}

// GetLiveByUserID retrieves the most recent active or trialing subscription of a user
func (r *PostgresSubscriptionRepository) GetLiveByUserID(ctx context.Context, userID int64) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE user_id = $1 AND status IN ('active', 'trialing')
		ORDER BY created_at DESC, id DESC
		LIMIT 1`
	return scanSubscription(r.db.Pool().QueryRow(ctx, query, userID))
}

// GetCustomerID returns the provider customer id on file for a user
func (r *PostgresSubscriptionRepository) GetCustomerID(ctx context.Context, userID int64) (string, error) {
	query := `
		SELECT stripe_customer_id
		FROM subscriptions
		WHERE user_id = $1 AND stripe_customer_id <> ''
		ORDER BY created_at DESC, id DESC
		LIMIT 1`
	var customerID string
	err := r.db.Pool().QueryRow(ctx, query, userID).Scan(&customerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get customer id: %w", err)
	}
	return customerID, nil
}

// ApplyUpdate overwrites the provider-owned fields of a subscription.
// Canceled rows are left untouched and reported as nil.
func (r *PostgresSubscriptionRepository) ApplyUpdate(ctx context.Context, stripeSubscriptionID string, update domain.SubscriptionUpdate) (*domain.Subscription, error) {
	query := `
		UPDATE subscriptions
		SET status = $2, current_period_start = $3, current_period_end = $4,
		    cancel_at_period_end = $5, updated_at = NOW()
		WHERE stripe_subscription_id = $1 AND status <> 'canceled'
		RETURNING ` + subscriptionColumns
	return scanSubscription(r.db.Pool().QueryRow(ctx, query,
		stripeSubscriptionID,
		string(update.Status),
		update.CurrentPeriodStart,
		update.CurrentPeriodEnd,
		update.CancelAtPeriodEnd,
	))
}

// MarkCanceled moves a subscription to its terminal state
func (r *PostgresSubscriptionRepository) MarkCanceled(ctx context.Context, stripeSubscriptionID string) (*domain.Subscription, error) {
	query := `
		UPDATE subscriptions
		SET status = 'canceled', cancel_at_period_end = FALSE, updated_at = NOW()
		WHERE stripe_subscription_id = $1
		RETURNING ` + subscriptionColumns
	return scanSubscription(r.db.Pool().QueryRow(ctx, query, stripeSubscriptionID))
}

// MarkPastDue flags a subscription whose invoice payment failed. Canceled rows are left untouched.
func (r *PostgresSubscriptionRepository) MarkPastDue(ctx context.Context, stripeSubscriptionID string) (*domain.Subscription, error) {
	query := `
		UPDATE subscriptions
		SET status = 'past_due', updated_at = NOW()
		WHERE stripe_subscription_id = $1 AND status <> 'canceled'
		RETURNING ` + subscriptionColumns
	return scanSubscription(r.db.Pool().QueryRow(ctx, query, stripeSubscriptionID))
}

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	sub := &domain.Subscription{}
	var status string
	err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.StripeCustomerID,
		&sub.StripeSubscriptionID,
		&sub.StripePriceID,
		&status,
		&sub.CurrentPeriodStart,
		&sub.CurrentPeriodEnd,
		&sub.CancelAtPeriodEnd,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan subscription: %w", err)
	}
	sub.Status = domain.SubscriptionStatus(status)
	return sub, nil
}
