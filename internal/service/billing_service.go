package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/prohmpiriya/healthcare-educate/internal/domain"
	"github.com/prohmpiriya/healthcare-educate/internal/dto"
	"github.com/prohmpiriya/healthcare-educate/internal/gateway"
	"github.com/prohmpiriya/healthcare-educate/internal/metrics"
	"github.com/prohmpiriya/healthcare-educate/internal/repository"
	"github.com/prohmpiriya/healthcare-educate/pkg/logger"
	"github.com/prohmpiriya/healthcare-educate/pkg/telemetry"
)

// BillingServiceConfig holds configuration for BillingService
type BillingServiceConfig struct {
	FrontendURL         string
	AllowedPriceIDs     []string
	TrialGrantsAccess   bool
	PaymentHistoryLimit int
	CheckoutExpiry      time.Duration
}

// BillingService exposes subscription state and starts provider-hosted flows
type BillingService interface {
	// GetStatus returns the user's most recent subscription
	GetStatus(ctx context.Context, userID int64) (*dto.SubscriptionStatusResponse, error)
	// GetPaymentHistory returns payments newest first, amounts in major units
	GetPaymentHistory(ctx context.Context, userID int64) (*dto.PaymentHistoryResponse, error)
	// HasActiveAccess reports whether the user's latest subscription grants premium access
	HasActiveAccess(ctx context.Context, userID int64) (bool, error)
	// CreateCheckoutSession starts a hosted subscription checkout
	CreateCheckoutSession(ctx context.Context, userID int64, email string, req *dto.CreateCheckoutRequest) (*dto.CheckoutSessionResponse, error)
	// CreatePortalSession opens the provider's self-service billing portal
	CreatePortalSession(ctx context.Context, userID int64) (*dto.PortalSessionResponse, error)
}

type billingService struct {
	subRepo     repository.SubscriptionRepository
	paymentRepo repository.PaymentRepository
	gateway     gateway.PaymentGateway
	config      *BillingServiceConfig
	now         func() time.Time
}

// NewBillingService creates a new BillingService
func NewBillingService(
	subRepo repository.SubscriptionRepository,
	paymentRepo repository.PaymentRepository,
	gw gateway.PaymentGateway,
	config *BillingServiceConfig,
) BillingService {
	if config.PaymentHistoryLimit <= 0 {
		config.PaymentHistoryLimit = 50
	}
	if config.CheckoutExpiry <= 0 {
		config.CheckoutExpiry = 24 * time.Hour
	}
	config.FrontendURL = strings.TrimRight(config.FrontendURL, "/")
	return &billingService{
		subRepo:     subRepo,
		paymentRepo: paymentRepo,
		gateway:     gw,
		config:      config,
		now:         time.Now,
	}
}

// GetStatus returns the user's most recent subscription
func (s *billingService) GetStatus(ctx context.Context, userID int64) (*dto.SubscriptionStatusResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.billing.get_status")
	defer span.End()

	sub, err := s.subRepo.GetLatestByUserID(ctx, userID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return dto.FromSubscription(sub), nil
}

// GetPaymentHistory returns payments newest first
func (s *billingService) GetPaymentHistory(ctx context.Context, userID int64) (*dto.PaymentHistoryResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.billing.get_payment_history")
	defer span.End()

	payments, err := s.paymentRepo.ListByUserID(ctx, userID, s.config.PaymentHistoryLimit)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("list payments: %w", err)
	}

	resp := &dto.PaymentHistoryResponse{Payments: make([]*dto.PaymentResponse, 0, len(payments))}
	for _, p := range payments {
		resp.Payments = append(resp.Payments, dto.FromPayment(p))
	}
	return resp, nil
}

// HasActiveAccess is true when the latest subscription is active, or trialing if trials grant access
func (s *billingService) HasActiveAccess(ctx context.Context, userID int64) (bool, error) {
	sub, err := s.subRepo.GetLatestByUserID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("get subscription: %w", err)
	}
	if sub == nil {
		return false, nil
	}
	switch sub.Status {
	case domain.SubscriptionStatusActive:
		return true, nil
	case domain.SubscriptionStatusTrialing:
		return s.config.TrialGrantsAccess, nil
	}
	return false, nil
}

// CreateCheckoutSession starts a hosted subscription checkout
func (s *billingService) CreateCheckoutSession(ctx context.Context, userID int64, email string, req *dto.CreateCheckoutRequest) (*dto.CheckoutSessionResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.billing.create_checkout_session")
	defer span.End()

	priceID := strings.TrimSpace(req.PriceID)
	span.SetAttributes(attribute.Int64("user_id", userID), attribute.String("price_id", priceID))

	if priceID == "" {
		return nil, domain.NewValidationError("priceId", "Price ID is required")
	}
	if !s.priceAllowed(priceID) {
		span.SetStatus(codes.Error, "price not allowed")
		metrics.RecordCheckoutSession(ctx, "price_not_allowed")
		return nil, domain.ErrPriceNotAllowed
	}

	live, err := s.subRepo.GetLiveByUserID(ctx, userID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("get live subscription: %w", err)
	}
	if live != nil {
		span.SetStatus(codes.Error, "subscription exists")
		metrics.RecordCheckoutSession(ctx, "subscription_exists")
		return nil, &domain.SubscriptionExistsError{SubscriptionID: live.StripeSubscriptionID, Status: live.Status}
	}

	customerID, err := s.subRepo.GetCustomerID(ctx, userID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("get customer id: %w", err)
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, &gateway.CheckoutSessionRequest{
		UserID:        userID,
		PriceID:       priceID,
		CustomerID:    customerID,
		CustomerEmail: email,
		SuccessURL:    s.config.FrontendURL + "/checkout/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     s.config.FrontendURL + "/pricing",
		ExpiresAt:     s.now().Add(s.config.CheckoutExpiry),
	})
	if err != nil {
		telemetry.RecordError(span, err)
		metrics.RecordCheckoutSession(ctx, "gateway_error")
		return nil, err
	}

	logger.Get().WithContext(ctx).Info("Checkout session created",
		zap.Int64("user_id", userID),
		zap.String("session_id", session.SessionID),
		zap.Bool("existing_customer", customerID != ""),
	)
	metrics.RecordCheckoutSession(ctx, "created")
	span.SetStatus(codes.Ok, "")
	return &dto.CheckoutSessionResponse{SessionID: session.SessionID, URL: session.URL}, nil
}

// CreatePortalSession opens the billing portal for the user's provider customer
func (s *billingService) CreatePortalSession(ctx context.Context, userID int64) (*dto.PortalSessionResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.billing.create_portal_session")
	defer span.End()

	span.SetAttributes(attribute.Int64("user_id", userID))

	sub, err := s.subRepo.GetLatestByUserID(ctx, userID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	if sub == nil || sub.StripeCustomerID == "" {
		span.SetStatus(codes.Error, "no subscription")
		return nil, domain.ErrSubscriptionNotFound
	}

	session, err := s.gateway.CreatePortalSession(ctx, &gateway.PortalSessionRequest{
		CustomerID: sub.StripeCustomerID,
		ReturnURL:  s.config.FrontendURL + "/dashboard/billing",
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return &dto.PortalSessionResponse{URL: session.URL}, nil
}

func (s *billingService) priceAllowed(priceID string) bool {
	if len(s.config.AllowedPriceIDs) == 0 {
		return true
	}
	for _, id := range s.config.AllowedPriceIDs {
		if id == priceID {
			return true
		}
	}
	return false
}
