package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prohmpiriya/healthcare-educate/internal/domain"
)

// MemoryBillingRepository implements SubscriptionRepository and PaymentRepository
// in memory, with the same uniqueness rules as the PostgreSQL schema.
type MemoryBillingRepository struct {
	mu            sync.Mutex
	subscriptions []*domain.Subscription
	payments      []*domain.Payment
	nextSubID     int64
	nextPaymentID int64
	now           func() time.Time
}

// NewMemoryBillingRepository creates an empty in-memory billing repository
func NewMemoryBillingRepository() *MemoryBillingRepository {
	return &MemoryBillingRepository{now: time.Now}
}

// CreateFromCheckout records a subscription and optional first payment atomically
func (r *MemoryBillingRepository) CreateFromCheckout(ctx context.Context, sub *domain.Subscription, payment *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.subscriptions {
		if s.StripeSubscriptionID == sub.StripeSubscriptionID {
			return domain.ErrDuplicateSubscription
		}
		if s.UserID == sub.UserID && s.Status.IsLive() {
			return domain.ErrDuplicateSubscription
		}
	}

	r.nextSubID++
	now := r.now()
	sub.ID = r.nextSubID
	sub.CreatedAt = now
	sub.UpdatedAt = now
	c := *sub
	r.subscriptions = append(r.subscriptions, &c)

	if payment != nil && r.findPayment(payment.StripePaymentID) == nil {
		r.insertPayment(payment)
	}
	return nil
}

// GetByStripeSubscriptionID returns a copy of the subscription, or nil
func (r *MemoryBillingRepository) GetByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string) (*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return copySubscription(r.findSubscription(stripeSubscriptionID)), nil
}

// GetLatestByUserID returns the most recently created subscription of the user
func (r *MemoryBillingRepository) GetLatestByUserID(ctx context.Context, userID int64) (*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return copySubscription(r.latest(userID, func(*domain.Subscription) bool { return true })), nil
}

// GetLiveByUserID returns the most recent active or trialing subscription of the user
func (r *MemoryBillingRepository) GetLiveByUserID(ctx context.Context, userID int64) (*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return copySubscription(r.latest(userID, func(s *domain.Subscription) bool { return s.Status.IsLive() })), nil
}

// GetCustomerID returns the newest non-empty customer id for the user
func (r *MemoryBillingRepository) GetCustomerID(ctx context.Context, userID int64) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.latest(userID, func(s *domain.Subscription) bool { return s.StripeCustomerID != "" })
	if s == nil {
		return "", nil
	}
	return s.StripeCustomerID, nil
}

// ApplyUpdate overwrites the provider-owned fields of a non-canceled subscription
func (r *MemoryBillingRepository) ApplyUpdate(ctx context.Context, stripeSubscriptionID string, update domain.SubscriptionUpdate) (*domain.Subscription, error) {
	return r.mutate(stripeSubscriptionID, true, func(s *domain.Subscription) {
		s.Status = update.Status
		s.CurrentPeriodStart = update.CurrentPeriodStart
		s.CurrentPeriodEnd = update.CurrentPeriodEnd
		s.CancelAtPeriodEnd = update.CancelAtPeriodEnd
	})
}

// MarkCanceled sets the terminal status
func (r *MemoryBillingRepository) MarkCanceled(ctx context.Context, stripeSubscriptionID string) (*domain.Subscription, error) {
	return r.mutate(stripeSubscriptionID, false, func(s *domain.Subscription) {
		s.Status = domain.SubscriptionStatusCanceled
		s.CancelAtPeriodEnd = false
	})
}

// MarkPastDue flags a failed invoice payment on a non-canceled subscription
func (r *MemoryBillingRepository) MarkPastDue(ctx context.Context, stripeSubscriptionID string) (*domain.Subscription, error) {
	return r.mutate(stripeSubscriptionID, true, func(s *domain.Subscription) {
		s.Status = domain.SubscriptionStatusPastDue
	})
}

// Record appends a payment unless its key is already taken
func (r *MemoryBillingRepository) Record(ctx context.Context, payment *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.findPayment(payment.StripePaymentID) != nil {
		return domain.ErrDuplicatePayment
	}
	r.insertPayment(payment)
	return nil
}

// GetByStripePaymentID returns a copy of the payment under the key, or nil
func (r *MemoryBillingRepository) GetByStripePaymentID(ctx context.Context, stripePaymentID string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.findPayment(stripePaymentID)
	if p == nil {
		return nil, nil
	}
	c := *p
	return &c, nil
}

// ListByUserID returns payments newest first
func (r *MemoryBillingRepository) ListByUserID(ctx context.Context, userID int64, limit int) ([]*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.Payment
	for _, p := range r.payments {
		if p.UserID == userID {
			c := *p
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Subscriptions returns a snapshot of every stored subscription, for assertions in tests
func (r *MemoryBillingRepository) Subscriptions() []domain.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Subscription, 0, len(r.subscriptions))
	for _, s := range r.subscriptions {
		out = append(out, *s)
	}
	return out
}

// Payments returns a snapshot of every stored payment, for assertions in tests
func (r *MemoryBillingRepository) Payments() []domain.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Payment, 0, len(r.payments))
	for _, p := range r.payments {
		out = append(out, *p)
	}
	return out
}

// mutate applies fn under the lock. With skipTerminal set, canceled rows are
// left as they are and reported as nil, matching the SQL guard.
func (r *MemoryBillingRepository) mutate(stripeSubscriptionID string, skipTerminal bool, fn func(*domain.Subscription)) (*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.findSubscription(stripeSubscriptionID)
	if s == nil || (skipTerminal && s.Status.IsTerminal()) {
		return nil, nil
	}
	fn(s)
	s.UpdatedAt = r.now()
	return copySubscription(s), nil
}

func (r *MemoryBillingRepository) findSubscription(stripeSubscriptionID string) *domain.Subscription {
	for _, s := range r.subscriptions {
		if s.StripeSubscriptionID == stripeSubscriptionID {
			return s
		}
	}
	return nil
}

// latest walks backwards, since rows are appended in creation order
func (r *MemoryBillingRepository) latest(userID int64, match func(*domain.Subscription) bool) *domain.Subscription {
	for i := len(r.subscriptions) - 1; i >= 0; i-- {
		s := r.subscriptions[i]
		if s.UserID == userID && match(s) {
			return s
		}
	}
	return nil
}

func (r *MemoryBillingRepository) findPayment(stripePaymentID string) *domain.Payment {
	for _, p := range r.payments {
		if p.StripePaymentID == stripePaymentID {
			return p
		}
	}
	return nil
}

func (r *MemoryBillingRepository) insertPayment(payment *domain.Payment) {
	r.nextPaymentID++
	payment.ID = r.nextPaymentID
	payment.CreatedAt = r.now()
	c := *payment
	r.payments = append(r.payments, &c)
}

func copySubscription(s *domain.Subscription) *domain.Subscription {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
