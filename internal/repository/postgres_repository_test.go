package repository

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/healthcare-educate/internal/domain"
	"github.com/prohmpiriya/healthcare-educate/migrations"
	"github.com/prohmpiriya/healthcare-educate/pkg/database"
)

func skipIfNoIntegration(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run.")
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func setupTestDB(t *testing.T) *database.PostgresDB {
	ctx := context.Background()

	port, _ := strconv.Atoi(getEnv("DATABASE_PORT", "5432"))
	db, err := database.NewPostgres(ctx, &database.PostgresConfig{
		Host:            getEnv("DATABASE_HOST", "localhost"),
		Port:            port,
		User:            getEnv("DATABASE_USER", "postgres"),
		Password:        getEnv("DATABASE_PASSWORD", "postgres"),
		Database:        getEnv("DATABASE_DBNAME", "healthcare_educate_test"),
		SSLMode:         "disable",
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: time.Minute,
		ConnectTimeout:  5 * time.Second,
		MaxRetries:      1,
		RetryInterval:   time.Second,
	})
	require.NoError(t, err, "failed to connect to database")
	require.NoError(t, db.Migrate(ctx, migrations.FS, migrations.Dir))

	t.Cleanup(func() {
		_, _ = db.Pool().Exec(ctx, "DELETE FROM users WHERE email LIKE 'it-%'")
		db.Close()
	})
	return db
}

func createTestUser(t *testing.T, repo *PostgresUserRepository) *domain.User {
	suffix := strconv.FormatInt(time.Now().UnixNano(), 36)
	user := &domain.User{
		Email:        fmt.Sprintf("it-%s@example.com", suffix),
		Username:     "it-" + suffix,
		PasswordHash: "$2a$10$hash",
	}
	require.NoError(t, repo.Create(context.Background(), user))
	return user
}

func TestPostgresUserRepository_Integration(t *testing.T) {
	skipIfNoIntegration(t)
	db := setupTestDB(t)
	repo := NewPostgresUserRepository(db)
	ctx := context.Background()

	user := createTestUser(t, repo)
	assert.NotZero(t, user.ID)

	t.Run("duplicate email", func(t *testing.T) {
		err := repo.Create(ctx, &domain.User{Email: user.Email, Username: user.Username + "-2", PasswordHash: "x"})
		assert.ErrorIs(t, err, domain.ErrEmailTaken)
	})

	t.Run("duplicate username", func(t *testing.T) {
		err := repo.Create(ctx, &domain.User{Email: "it-other-" + user.Email, Username: user.Username, PasswordHash: "x"})
		assert.ErrorIs(t, err, domain.ErrUsernameTaken)
	})

	t.Run("concurrent rotation has one winner", func(t *testing.T) {
		token := "rt-initial"
		require.NoError(t, repo.SetRefreshToken(ctx, user.ID, &token))

		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ok, err := repo.RotateRefreshToken(ctx, user.ID, token, fmt.Sprintf("rt-%d", i))
				assert.NoError(t, err)
				if ok {
					atomic.AddInt32(&wins, 1)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins)
	})

	t.Run("logout clears token", func(t *testing.T) {
		require.NoError(t, repo.SetRefreshToken(ctx, user.ID, nil))
		got, err := repo.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Nil(t, got.RefreshToken)
	})
}

func TestPostgresBillingRepositories_Integration(t *testing.T) {
	skipIfNoIntegration(t)
	db := setupTestDB(t)
	users := NewPostgresUserRepository(db)
	subs := NewPostgresSubscriptionRepository(db)
	payments := NewPostgresPaymentRepository(db)
	ctx := context.Background()

	user := createTestUser(t, users)
	stripeSubID := fmt.Sprintf("sub_it_%d", user.ID)
	paymentID := fmt.Sprintf("pi_it_%d", user.ID)

	sub := newSubscription(user.ID, stripeSubID)
	first := &domain.Payment{UserID: user.ID, StripePaymentID: paymentID, Amount: 1999, Currency: "usd", Status: domain.PaymentStatusSucceeded}
	require.NoError(t, subs.CreateFromCheckout(ctx, sub, first))

	err := subs.CreateFromCheckout(ctx, newSubscription(user.ID, stripeSubID), first)
	assert.ErrorIs(t, err, domain.ErrDuplicateSubscription)

	err = payments.Record(ctx, &domain.Payment{UserID: user.ID, StripePaymentID: paymentID, Amount: 1999, Currency: "usd", Status: domain.PaymentStatusSucceeded})
	assert.ErrorIs(t, err, domain.ErrDuplicatePayment)

	stored, err := payments.GetByStripePaymentID(ctx, paymentID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, domain.PaymentStatusSucceeded, stored.Status)

	latest, err := subs.GetLatestByUserID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, latest.Status)

	canceled, err := subs.MarkCanceled(ctx, stripeSubID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusCanceled, canceled.Status)

	revived, err := subs.ApplyUpdate(ctx, stripeSubID, domain.SubscriptionUpdate{Status: domain.SubscriptionStatusActive, CurrentPeriodStart: time.Now(), CurrentPeriodEnd: time.Now()})
	require.NoError(t, err)
	assert.Nil(t, revived)
	pastDue, err := subs.MarkPastDue(ctx, stripeSubID)
	require.NoError(t, err)
	assert.Nil(t, pastDue)

	missing, err := subs.ApplyUpdate(ctx, "sub_it_missing", domain.SubscriptionUpdate{Status: domain.SubscriptionStatusActive, CurrentPeriodStart: time.Now(), CurrentPeriodEnd: time.Now()})
	require.NoError(t, err)
	assert.Nil(t, missing)

	history, err := payments.ListByUserID(ctx, user.ID, 50)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}
