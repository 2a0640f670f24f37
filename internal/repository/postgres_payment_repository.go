package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/prohmpiriya/healthcare-educate/internal/domain"
	"github.com/prohmpiriya/healthcare-educate/pkg/database"
)

// PostgresPaymentRepository implements PaymentRepository using PostgreSQL
type PostgresPaymentRepository struct {
	db *database.PostgresDB
}

// NewPostgresPaymentRepository creates a new PostgreSQL payment repository
func NewPostgresPaymentRepository(db *database.PostgresDB) *PostgresPaymentRepository {
	return &PostgresPaymentRepository{db: db}
}

// Record inserts a payment. A key conflict returns no row and is reported as a duplicate.
func (r *PostgresPaymentRepository) Record(ctx context.Context, payment *domain.Payment) error {
	query := `
		INSERT INTO payments (user_id, stripe_payment_id, amount, currency, status, description)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (stripe_payment_id) DO NOTHING
		RETURNING id, created_at
	`
	err := r.db.Pool().QueryRow(ctx, query,
		payment.UserID,
		payment.StripePaymentID,
		payment.Amount,
		payment.Currency,
		string(payment.Status),
		payment.Description,
	).Scan(&payment.ID, &payment.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrDuplicatePayment
		}
		return fmt.Errorf("failed to record payment: %w", err)
	}
	return nil
}

// GetByStripePaymentID retrieves a payment by its ledger key
func (r *PostgresPaymentRepository) GetByStripePaymentID(ctx context.Context, stripePaymentID string) (*domain.Payment, error) {
	query := `
		SELECT id, user_id, stripe_payment_id, amount, currency, status, description, created_at
		FROM payments
		WHERE stripe_payment_id = $1
	`
	p := &domain.Payment{}
	var status string
	err := r.db.Pool().QueryRow(ctx, query, stripePaymentID).Scan(
		&p.ID,
		&p.UserID,
		&p.StripePaymentID,
		&p.Amount,
		&p.Currency,
		&status,
		&p.Description,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	p.Status = domain.PaymentStatus(status)
	return p, nil
}

// ListByUserID returns a user's payments, newest first
func (r *PostgresPaymentRepository) ListByUserID(ctx context.Context, userID int64, limit int) ([]*domain.Payment, error) {
	query := `
		SELECT id, user_id, stripe_payment_id, amount, currency, status, description, created_at
		FROM payments
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := r.db.Pool().Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []*domain.Payment
	for rows.Next() {
		p := &domain.Payment{}
		var status string
		if err := rows.Scan(
			&p.ID,
			&p.UserID,
			&p.StripePaymentID,
			&p.Amount,
			&p.Currency,
			&status,
			&p.Description,
			&p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		p.Status = domain.PaymentStatus(status)
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payments: %w", err)
	}
	return payments, nil
}
