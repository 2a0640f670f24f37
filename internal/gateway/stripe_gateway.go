package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/prohmpiriya/healthcare-educate/internal/domain"
	"github.com/prohmpiriya/healthcare-educate/pkg/logger"
	"github.com/prohmpiriya/healthcare-educate/pkg/retry"
)

// StripeGateway implements PaymentGateway using Stripe
type StripeGateway struct {
	config *StripeGatewayConfig
	retry  *retry.Config
}

// StripeGatewayConfig holds configuration for Stripe gateway
type StripeGatewayConfig struct {
	SecretKey     string
	WebhookSecret string
	Timeout       time.Duration // per API call
	MaxRetries    int           // retries after the first attempt, owned by pkg/retry
	APIURL        string        // overrides the Stripe API base URL, e.g. for stripe-mock
}

// NewStripeGateway creates a new Stripe gateway
func NewStripeGateway(config *StripeGatewayConfig) (*StripeGateway, error) {
	if config == nil {
		return nil, fmt.Errorf("stripe config is required")
	}
	if config.SecretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}
	if config.WebhookSecret == "" {
		return nil, fmt.Errorf("stripe webhook secret is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	// The client's own network retries stay off so one call makes at most MaxRetries+1 requests.
	backendConfig := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: config.Timeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     logger.Get().Sugar(),
	}
	if config.APIURL != "" {
		backendConfig.URL = stripe.String(config.APIURL)
	}

	stripe.Key = config.SecretKey
	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig))

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = config.MaxRetries
	retryCfg.AttemptTimeout = config.Timeout

	return &StripeGateway{config: config, retry: retryCfg}, nil
}

// ParseWebhook verifies and decodes a Stripe webhook delivery
func (g *StripeGateway) ParseWebhook(payload []byte, signatureHeader string) (domain.BillingEvent, error) {
	return parseWebhook(payload, signatureHeader, g.config.WebhookSecret)
}

func parseWebhook(payload []byte, signatureHeader, secret string) (domain.BillingEvent, error) {
	if signatureHeader == "" {
		return nil, fmt.Errorf("%w: missing signature header", domain.ErrInvalidSignature)
	}
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	return DecodeEvent(&event)
}

// CreateCheckoutSession creates a hosted subscription checkout
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req *CheckoutSessionRequest) (*CheckoutSessionResponse, error) {
	if req == nil || req.PriceID == "" {
		return nil, fmt.Errorf("price ID is required")
	}

	userID := strconv.FormatInt(req.UserID, 10)
	params := &stripe.CheckoutSessionParams{
		Mode:                     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes:       stripe.StringSlice([]string{"card"}),
		LineItems:                []*stripe.CheckoutSessionLineItemParams{{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)}},
		SuccessURL:               stripe.String(req.SuccessURL),
		CancelURL:                stripe.String(req.CancelURL),
		ClientReferenceID:        stripe.String(userID),
		BillingAddressCollection: stripe.String(string(stripe.CheckoutSessionBillingAddressCollectionAuto)),
		AllowPromotionCodes:      stripe.Bool(true),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{MetadataUserID: userID},
		},
	}
	if !req.ExpiresAt.IsZero() {
		params.ExpiresAt = stripe.Int64(req.ExpiresAt.Unix())
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	} else {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.AddMetadata(MetadataUserID, userID)

	var sess *stripe.CheckoutSession
	err := g.do(ctx, func(ctx context.Context) error {
		params.Context = ctx
		var err error
		sess, err = checkoutsession.New(params)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	return &CheckoutSessionResponse{SessionID: sess.ID, URL: sess.URL}, nil
}

// CreatePortalSession creates a billing portal session for an existing customer
func (g *StripeGateway) CreatePortalSession(ctx context.Context, req *PortalSessionRequest) (*PortalSessionResponse, error) {
	if req == nil || req.CustomerID == "" {
		return nil, fmt.Errorf("customer ID is required")
	}

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(req.CustomerID),
		ReturnURL: stripe.String(req.ReturnURL),
	}

	var sess *stripe.BillingPortalSession
	err := g.do(ctx, func(ctx context.Context) error {
		params.Context = ctx
		var err error
		sess, err = portalsession.New(params)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create portal session: %w", err)
	}

	return &PortalSessionResponse{URL: sess.URL}, nil
}

// GetSubscription fetches a subscription, decoding the raw body so period fields
// survive API version differences
func (g *StripeGateway) GetSubscription(ctx context.Context, subscriptionID string) (*domain.SubscriptionSnapshot, error) {
	if subscriptionID == "" {
		return nil, fmt.Errorf("subscription ID is required")
	}

	var snap *domain.SubscriptionSnapshot
	err := g.do(ctx, func(ctx context.Context) error {
		params := &stripe.SubscriptionParams{}
		params.Context = ctx
		sub, err := subscription.Get(subscriptionID, params)
		if err != nil {
			return err
		}
		if sub.LastResponse == nil || len(sub.LastResponse.RawJSON) == 0 {
			return retry.Permanent(fmt.Errorf("empty subscription response"))
		}
		snap, err = decodeSubscription(sub.LastResponse.RawJSON)
		if err != nil {
			return retry.Permanent(err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription %s: %w", subscriptionID, err)
	}
	return snap, nil
}

// Name returns the gateway name
func (g *StripeGateway) Name() string {
	return "stripe"
}

// do retries transient provider failures; client errors are returned immediately
func (g *StripeGateway) do(ctx context.Context, op retry.Operation) error {
	err := retry.Do(ctx, g.retry, func(ctx context.Context) error {
		err := op(ctx)
		if isClientError(err) {
			return retry.Permanent(err)
		}
		return err
	})
	if err == nil || isClientError(err) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrGatewayUnavailable, err)
}

func isClientError(err error) bool {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	return stripeErr.HTTPStatusCode >= 400 && stripeErr.HTTPStatusCode < 500 &&
		stripeErr.HTTPStatusCode != http.StatusTooManyRequests
}
