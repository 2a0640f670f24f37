package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/healthcare-educate/internal/domain"
)

func TestMemoryUserRepository_Uniqueness(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryUserRepository()

	require.NoError(t, repo.Create(ctx, &domain.User{Email: "a@x.com", Username: "alice"}))

	err := repo.Create(ctx, &domain.User{Email: "a@x.com", Username: "other"})
	assert.ErrorIs(t, err, domain.ErrEmailTaken)

	err = repo.Create(ctx, &domain.User{Email: "b@x.com", Username: "alice"})
	assert.ErrorIs(t, err, domain.ErrUsernameTaken)
}

func TestMemoryUserRepository_FindByEmailOrUsername(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryUserRepository()
	require.NoError(t, repo.Create(ctx, &domain.User{Email: "a@x.com", Username: "alice"}))
	require.NoError(t, repo.Create(ctx, &domain.User{Email: "b@x.com", Username: "bob"}))

	t.Run("email match wins", func(t *testing.T) {
		u, err := repo.FindByEmailOrUsername(ctx, "b@x.com", "alice")
		require.NoError(t, err)
		require.NotNil(t, u)
		assert.Equal(t, "bob", u.Username)
	})

	t.Run("username match", func(t *testing.T) {
		u, err := repo.FindByEmailOrUsername(ctx, "c@x.com", "alice")
		require.NoError(t, err)
		require.NotNil(t, u)
		assert.Equal(t, "a@x.com", u.Email)
	})

	t.Run("no match", func(t *testing.T) {
		u, err := repo.FindByEmailOrUsername(ctx, "c@x.com", "carol")
		require.NoError(t, err)
		assert.Nil(t, u)
	})
}

func TestMemoryUserRepository_RotateRefreshToken(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryUserRepository()
	user := &domain.User{Email: "a@x.com", Username: "alice"}
	require.NoError(t, repo.Create(ctx, user))

	token := "rt-1"
	require.NoError(t, repo.SetRefreshToken(ctx, user.ID, &token))

	t.Run("stale token loses", func(t *testing.T) {
		ok, err := repo.RotateRefreshToken(ctx, user.ID, "rt-0", "rt-x")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("exactly one concurrent rotation wins", func(t *testing.T) {
		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ok, err := repo.RotateRefreshToken(ctx, user.ID, "rt-1", "rt-next")
				assert.NoError(t, err)
				if ok {
					atomic.AddInt32(&wins, 1)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins)
	})

	t.Run("cleared token cannot rotate", func(t *testing.T) {
		require.NoError(t, repo.SetRefreshToken(ctx, user.ID, nil))
		ok, err := repo.RotateRefreshToken(ctx, user.ID, "rt-next", "rt-after")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func newSubscription(userID int64, stripeID string) *domain.Subscription {
	now := time.Now()
	return &domain.Subscription{
		UserID:               userID,
		StripeCustomerID:     "cus_1",
		StripeSubscriptionID: stripeID,
		StripePriceID:        "price_1",
		Status:               domain.SubscriptionStatusActive,
		CurrentPeriodStart:   now,
		CurrentPeriodEnd:     now.AddDate(0, 1, 0),
	}
}

func TestMemoryBillingRepository_CreateFromCheckout(t *testing.T) {
	ctx := context.Background()

	t.Run("redelivery is a duplicate", func(t *testing.T) {
		repo := NewMemoryBillingRepository()
		payment := &domain.Payment{UserID: 7, StripePaymentID: "pi_1", Amount: 999, Currency: "usd", Status: domain.PaymentStatusSucceeded}

		require.NoError(t, repo.CreateFromCheckout(ctx, newSubscription(7, "sub_1"), payment))
		err := repo.CreateFromCheckout(ctx, newSubscription(7, "sub_1"), &domain.Payment{UserID: 7, StripePaymentID: "pi_1"})

		assert.ErrorIs(t, err, domain.ErrDuplicateSubscription)
		assert.Len(t, repo.Subscriptions(), 1)
		assert.Len(t, repo.Payments(), 1)
	})

	t.Run("live subscription for user blocks a second one", func(t *testing.T) {
		repo := NewMemoryBillingRepository()
		require.NoError(t, repo.CreateFromCheckout(ctx, newSubscription(7, "sub_1"), nil))

		err := repo.CreateFromCheckout(ctx, newSubscription(7, "sub_2"), nil)
		assert.ErrorIs(t, err, domain.ErrDuplicateSubscription)
	})

	t.Run("canceled subscription does not block resubscribing", func(t *testing.T) {
		repo := NewMemoryBillingRepository()
		require.NoError(t, repo.CreateFromCheckout(ctx, newSubscription(7, "sub_1"), nil))
		_, err := repo.MarkCanceled(ctx, "sub_1")
		require.NoError(t, err)

		require.NoError(t, repo.CreateFromCheckout(ctx, newSubscription(7, "sub_2"), nil))

		latest, err := repo.GetLatestByUserID(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, "sub_2", latest.StripeSubscriptionID)
	})
}

func TestMemoryBillingRepository_Mutations(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryBillingRepository()
	require.NoError(t, repo.CreateFromCheckout(ctx, newSubscription(7, "sub_1"), nil))

	sub, err := repo.ApplyUpdate(ctx, "sub_unknown", domain.SubscriptionUpdate{Status: domain.SubscriptionStatusActive})
	require.NoError(t, err)
	assert.Nil(t, sub)

	sub, err = repo.ApplyUpdate(ctx, "sub_1", domain.SubscriptionUpdate{Status: domain.SubscriptionStatusTrialing, CancelAtPeriodEnd: true})
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusTrialing, sub.Status)
	assert.True(t, sub.CancelAtPeriodEnd)

	sub, err = repo.MarkPastDue(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusPastDue, sub.Status)

	sub, err = repo.MarkCanceled(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusCanceled, sub.Status)
	assert.False(t, sub.CancelAtPeriodEnd)

	// Canceled is terminal.
	sub, err = repo.ApplyUpdate(ctx, "sub_1", domain.SubscriptionUpdate{Status: domain.SubscriptionStatusActive})
	require.NoError(t, err)
	assert.Nil(t, sub)
	sub, err = repo.MarkPastDue(ctx, "sub_1")
	require.NoError(t, err)
	assert.Nil(t, sub)
	stored, err := repo.GetByStripeSubscriptionID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusCanceled, stored.Status)

	customerID, err := repo.GetCustomerID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "cus_1", customerID)

	live, err := repo.GetLiveByUserID(ctx, 7)
	require.NoError(t, err)
	assert.Nil(t, live)
}

func TestMemoryBillingRepository_Record(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryBillingRepository()

	failed := &domain.Payment{UserID: 7, StripePaymentID: "pi_1", Amount: 999, Currency: "usd", Status: domain.PaymentStatusFailed}
	require.NoError(t, repo.Record(ctx, failed))

	err := repo.Record(ctx, &domain.Payment{UserID: 7, StripePaymentID: "pi_1", Status: domain.PaymentStatusFailed})
	assert.ErrorIs(t, err, domain.ErrDuplicatePayment)

	err = repo.Record(ctx, &domain.Payment{UserID: 7, StripePaymentID: "pi_1", Amount: 999, Currency: "usd", Status: domain.PaymentStatusSucceeded})
	assert.ErrorIs(t, err, domain.ErrDuplicatePayment)

	payments := repo.Payments()
	require.Len(t, payments, 1)
	assert.Equal(t, domain.PaymentStatusFailed, payments[0].Status)

	stored, err := repo.GetByStripePaymentID(ctx, "pi_1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, failed.ID, stored.ID)
	assert.Equal(t, domain.PaymentStatusFailed, stored.Status)

	missing, err := repo.GetByStripePaymentID(ctx, "pi_missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryBillingRepository_ListByUserID(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryBillingRepository()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	step := 0
	repo.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Hour)
	}

	for _, id := range []string{"pi_1", "pi_2", "pi_3"} {
		require.NoError(t, repo.Record(ctx, &domain.Payment{UserID: 7, StripePaymentID: id, Status: domain.PaymentStatusSucceeded}))
	}
	require.NoError(t, repo.Record(ctx, &domain.Payment{UserID: 8, StripePaymentID: "pi_other", Status: domain.PaymentStatusSucceeded}))

	payments, err := repo.ListByUserID(ctx, 7, 2)
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.Equal(t, "pi_3", payments[0].StripePaymentID)
	assert.Equal(t, "pi_2", payments[1].StripePaymentID)
}
