package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
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

// Webhook outcomes
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeSkipped   = "skipped"
	OutcomeIgnored   = "ignored"
	OutcomeError     = "error"
)

// WebhookServiceConfig holds configuration for WebhookService
type WebhookServiceConfig struct {
	// ProcessTimeout bounds the handling of one event
	ProcessTimeout time.Duration
	// GatewayTimeout bounds the subscription fetch used to resolve billing periods
	GatewayTimeout time.Duration
}

// WebhookResult describes how a verified event was handled
type WebhookResult struct {
	EventID   string
	EventType string
	Outcome   string
}

// WebhookService applies verified provider events to the billing store
type WebhookService interface {
	// HandleInboundEvent verifies and applies one delivery. Only a signature
	// failure is returned as an error; handler failures are logged and the
	// event is still acknowledged.
	HandleInboundEvent(ctx context.Context, payload []byte, signatureHeader string) (*WebhookResult, error)
}

type webhookService struct {
	gateway     gateway.PaymentGateway
	users       repository.UserRepository
	subRepo     repository.SubscriptionRepository
	paymentRepo repository.PaymentRepository
	ledger      EventLedger
	publisher   EventPublisher
	config      *WebhookServiceConfig
	now         func() time.Time
}

// NewWebhookService creates a new WebhookService. ledger and publisher may be nil.
func NewWebhookService(
	gw gateway.PaymentGateway,
	users repository.UserRepository,
	subRepo repository.SubscriptionRepository,
	paymentRepo repository.PaymentRepository,
	ledger EventLedger,
	publisher EventPublisher,
	config *WebhookServiceConfig,
) WebhookService {
	if config.ProcessTimeout <= 0 {
		config.ProcessTimeout = 10 * time.Second
	}
	if config.GatewayTimeout <= 0 {
		config.GatewayTimeout = 5 * time.Second
	}
	if ledger == nil {
		ledger = NoopEventLedger{}
	}
	if publisher == nil {
		publisher = NoopEventPublisher{}
	}
	return &webhookService{
		gateway:     gw,
		users:       users,
		subRepo:     subRepo,
		paymentRepo: paymentRepo,
		ledger:      ledger,
		publisher:   publisher,
		config:      config,
		now:         time.Now,
	}
}

// HandleInboundEvent verifies, decodes and applies one webhook delivery
func (s *webhookService) HandleInboundEvent(ctx context.Context, payload []byte, signatureHeader string) (*WebhookResult, error) {
	event, err := s.gateway.ParseWebhook(payload, signatureHeader)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSignature) {
			return nil, err
		}
		// Verified but undecodable: acknowledge so the provider stops retrying.
		logger.Get().WithContext(ctx).Error("Failed to decode webhook event", zap.Error(err))
		metrics.RecordWebhookProcessed(ctx, "unknown", OutcomeError, 0)
		return &WebhookResult{Outcome: OutcomeError}, nil
	}

	// Processing continues even if the provider hangs up.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ProcessTimeout)
	defer cancel()

	ctx, span := telemetry.StartSpan(ctx, "service.webhook.handle_event")
	defer span.End()
	span.SetAttributes(
		attribute.String("event_id", event.EventID()),
		attribute.String("event_type", event.EventType()),
	)

	log := logger.Get().WithContext(ctx).With(
		zap.String("event_id", event.EventID()),
		zap.String("event_type", event.EventType()),
	)
	metrics.RecordWebhookReceived(ctx, event.EventType())
	start := time.Now()

	result := &WebhookResult{EventID: event.EventID(), EventType: event.EventType()}

	seen, err := s.ledger.Seen(ctx, event.EventID())
	if err != nil {
		log.Warn("Event ledger unavailable", zap.Error(err))
	}
	if seen {
		log.Info("Webhook event already handled")
		result.Outcome = OutcomeDuplicate
		metrics.RecordWebhookProcessed(ctx, result.EventType, result.Outcome, time.Since(start))
		return result, nil
	}

	applier := &eventApplier{s: s, log: log, outcome: OutcomeApplied}
	if err := event.Apply(ctx, applier); err != nil {
		telemetry.RecordError(span, err)
		log.Error("Failed to apply webhook event", zap.Error(err))
		result.Outcome = OutcomeError
		metrics.RecordWebhookProcessed(ctx, result.EventType, result.Outcome, time.Since(start))
		s.deadLetter(ctx, log, event, payload, err)
		return result, nil
	}

	result.Outcome = applier.outcome
	if err := s.ledger.Record(ctx, event.EventID()); err != nil {
		log.Warn("Failed to record handled event", zap.Error(err))
	}

	log.Info("Webhook event handled", zap.String("outcome", result.Outcome))
	metrics.RecordWebhookProcessed(ctx, result.EventType, result.Outcome, time.Since(start))
	span.SetStatus(codes.Ok, "")
	return result, nil
}

func (s *webhookService) deadLetter(ctx context.Context, log *logger.Logger, event domain.BillingEvent, payload []byte, cause error) {
	err := s.publisher.PublishDeadLetter(ctx, &DeadLetter{
		EventID:   event.EventID(),
		EventType: event.EventType(),
		Error:     cause.Error(),
		Payload:   string(payload),
		FailedAt:  s.now().UTC(),
	})
	if err != nil {
		log.Warn("Failed to publish dead letter", zap.Error(err))
	}
}

func (s *webhookService) publishChange(ctx context.Context, log *logger.Logger, meta domain.EventMeta, sub *domain.Subscription) {
	err := s.publisher.PublishSubscriptionChanged(ctx, &dto.SubscriptionEvent{
		EventID:              meta.ID,
		EventType:            meta.Type,
		UserID:               sub.UserID,
		StripeSubscriptionID: sub.StripeSubscriptionID,
		Status:               sub.Status,
		CurrentPeriodEnd:     sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
		OccurredAt:           s.now().UTC(),
	})
	if err != nil {
		log.Warn("Failed to publish subscription change", zap.Error(err))
	}
}

// resolveCheckoutSubscription returns the most authoritative view of the new
// subscription: the expanded object, else a provider fetch, else nil.
func (s *webhookService) resolveCheckoutSubscription(ctx context.Context, log *logger.Logger, e *domain.CheckoutCompleted) *domain.SubscriptionSnapshot {
	if e.Subscription != nil && e.Subscription.Period != nil {
		return e.Subscription
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.GatewayTimeout)
	defer cancel()

	snap, err := s.gateway.GetSubscription(ctx, e.SubscriptionID)
	if err != nil {
		log.Warn("Failed to fetch subscription, approximating billing period", zap.Error(err))
		return e.Subscription
	}
	return snap
}

// eventApplier handles one event and records its outcome
type eventApplier struct {
	s       *webhookService
	log     *logger.Logger
	outcome string
}

func (a *eventApplier) OnCheckoutCompleted(ctx context.Context, e *domain.CheckoutCompleted) error {
	userID, err := strconv.ParseInt(e.UserID, 10, 64)
	if err != nil || userID <= 0 {
		return fmt.Errorf("session %s: %w", e.SessionID, domain.ErrMissingCheckoutMetadata)
	}
	if e.SubscriptionID == "" {
		return fmt.Errorf("session %s has no subscription", e.SessionID)
	}
	log := a.log.With(zap.Int64("user_id", userID), zap.String("subscription_id", e.SubscriptionID))

	user, err := a.s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return fmt.Errorf("user %d: %w", userID, domain.ErrUserNotFound)
	}

	existing, err := a.s.subRepo.GetByStripeSubscriptionID(ctx, e.SubscriptionID)
	if err != nil {
		return fmt.Errorf("get subscription: %w", err)
	}
	if existing != nil {
		log.Info("Subscription already recorded")
		a.outcome = OutcomeDuplicate
		return nil
	}
	live, err := a.s.subRepo.GetLiveByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("get live subscription: %w", err)
	}
	if live != nil {
		log.Warn("User already holds a live subscription", zap.String("existing_subscription_id", live.StripeSubscriptionID))
		a.outcome = OutcomeDuplicate
		return nil
	}

	sub := &domain.Subscription{
		UserID:               userID,
		StripeCustomerID:     e.CustomerID,
		StripeSubscriptionID: e.SubscriptionID,
		Status:               domain.SubscriptionStatusActive,
	}

	period := domain.ApproximatePeriod(a.s.now().UTC())
	if snap := a.s.resolveCheckoutSubscription(ctx, log, e); snap != nil {
		sub.StripePriceID = snap.PriceID
		if sub.StripeCustomerID == "" {
			sub.StripeCustomerID = snap.CustomerID
		}
		if snap.Period != nil {
			period = *snap.Period
		} else {
			log.Warn("Subscription has no billing period, using approximation")
		}
	}
	sub.CurrentPeriodStart = period.Start
	sub.CurrentPeriodEnd = period.End

	var payment *domain.Payment
	if e.PaymentIntentID != "" {
		payment = &domain.Payment{
			UserID:          userID,
			StripePaymentID: e.PaymentIntentID,
			Amount:          e.AmountTotal,
			Currency:        e.Currency,
			Status:          domain.PaymentStatusSucceeded,
			Description:     "Subscription payment",
		}
	}

	if err := a.s.subRepo.CreateFromCheckout(ctx, sub, payment); err != nil {
		if errors.Is(err, domain.ErrDuplicateSubscription) {
			log.Info("Subscription recorded concurrently")
			a.outcome = OutcomeDuplicate
			return nil
		}
		return fmt.Errorf("create subscription: %w", err)
	}

	log.Info("Subscription created from checkout", zap.Time("current_period_end", sub.CurrentPeriodEnd))
	a.s.publishChange(ctx, log, e.EventMeta, sub)
	return nil
}

func (a *eventApplier) OnSubscriptionCreated(ctx context.Context, e *domain.SubscriptionCreated) error {
	// Rows are created from checkout completion, which carries the user link.
	a.log.Info("Subscription created at provider", zap.String("subscription_id", e.Subscription.ID))
	a.outcome = OutcomeSkipped
	return nil
}

func (a *eventApplier) OnSubscriptionUpdated(ctx context.Context, e *domain.SubscriptionUpdated) error {
	log := a.log.With(zap.String("subscription_id", e.Subscription.ID))

	existing, err := a.s.subRepo.GetByStripeSubscriptionID(ctx, e.Subscription.ID)
	if err != nil {
		return fmt.Errorf("get subscription: %w", err)
	}
	if existing == nil {
		log.Warn("Update for unknown subscription")
		a.outcome = OutcomeSkipped
		return nil
	}
	if existing.Status.IsTerminal() {
		log.Info("Ignoring update for canceled subscription", zap.String("status", string(e.Subscription.Status)))
		a.outcome = OutcomeSkipped
		return nil
	}

	update := domain.SubscriptionUpdate{
		Status:             e.Subscription.Status,
		CurrentPeriodStart: existing.CurrentPeriodStart,
		CurrentPeriodEnd:   existing.CurrentPeriodEnd,
		CancelAtPeriodEnd:  e.Subscription.CancelAtPeriodEnd,
	}
	if p := e.Subscription.Period; p != nil {
		update.CurrentPeriodStart = p.Start
		update.CurrentPeriodEnd = p.End
	}

	updated, err := a.s.subRepo.ApplyUpdate(ctx, e.Subscription.ID, update)
	if err != nil {
		return fmt.Errorf("apply subscription update: %w", err)
	}
	if updated == nil {
		log.Info("Subscription canceled before update applied")
		a.outcome = OutcomeSkipped
		return nil
	}

	log.Info("Subscription updated",
		zap.String("status", string(updated.Status)),
		zap.Bool("cancel_at_period_end", updated.CancelAtPeriodEnd),
	)
	a.s.publishChange(ctx, log, e.EventMeta, updated)
	return nil
}

func (a *eventApplier) OnSubscriptionDeleted(ctx context.Context, e *domain.SubscriptionDeleted) error {
	log := a.log.With(zap.String("subscription_id", e.Subscription.ID))

	sub, err := a.s.subRepo.MarkCanceled(ctx, e.Subscription.ID)
	if err != nil {
		return fmt.Errorf("cancel subscription: %w", err)
	}
	if sub == nil {
		log.Warn("Deletion of unknown subscription")
		a.outcome = OutcomeSkipped
		return nil
	}

	log.Info("Subscription canceled")
	a.s.publishChange(ctx, log, e.EventMeta, sub)
	return nil
}

func (a *eventApplier) OnInvoicePaymentSucceeded(ctx context.Context, e *domain.InvoicePaymentSucceeded) error {
	inv := e.Invoice
	log := a.log.With(zap.String("invoice_id", inv.ID), zap.String("subscription_id", inv.SubscriptionID))

	if inv.SubscriptionID == "" {
		log.Info("Invoice is not for a subscription")
		a.outcome = OutcomeSkipped
		return nil
	}
	sub, err := a.s.subRepo.GetByStripeSubscriptionID(ctx, inv.SubscriptionID)
	if err != nil {
		return fmt.Errorf("get subscription: %w", err)
	}
	if sub == nil {
		log.Warn("Invoice paid for unknown subscription")
		a.outcome = OutcomeSkipped
		return nil
	}

	key, err := a.successKey(ctx, inv)
	if err != nil {
		return err
	}

	err = a.s.paymentRepo.Record(ctx, &domain.Payment{
		UserID:          sub.UserID,
		StripePaymentID: key,
		Amount:          inv.Amount,
		Currency:        inv.Currency,
		Status:          domain.PaymentStatusSucceeded,
		Description:     "Subscription renewal - Invoice " + inv.Reference(),
	})
	if errors.Is(err, domain.ErrDuplicatePayment) {
		log.Info("Payment already recorded", zap.String("payment_id", key))
		a.outcome = OutcomeDuplicate
		return nil
	}
	if err != nil {
		return fmt.Errorf("record payment: %w", err)
	}

	log.Info("Invoice payment recorded", zap.Int64("user_id", sub.UserID))
	return nil
}

// successKey picks the ledger key for a paid invoice. The provider retries a
// failed invoice on the same payment intent, so once that intent holds a failed
// row the success is appended under the invoice id instead.
func (a *eventApplier) successKey(ctx context.Context, inv domain.InvoiceSnapshot) (string, error) {
	key := inv.PaymentKey()
	if key == inv.ID {
		return key, nil
	}
	prior, err := a.s.paymentRepo.GetByStripePaymentID(ctx, key)
	if err != nil {
		return "", fmt.Errorf("get payment: %w", err)
	}
	if prior != nil && prior.Status == domain.PaymentStatusFailed {
		return inv.ID, nil
	}
	return key, nil
}

func (a *eventApplier) OnInvoicePaymentFailed(ctx context.Context, e *domain.InvoicePaymentFailed) error {
	inv := e.Invoice
	log := a.log.With(zap.String("invoice_id", inv.ID), zap.String("subscription_id", inv.SubscriptionID))

	if inv.SubscriptionID == "" {
		log.Info("Invoice is not for a subscription")
		a.outcome = OutcomeSkipped
		return nil
	}
	existing, err := a.s.subRepo.GetByStripeSubscriptionID(ctx, inv.SubscriptionID)
	if err != nil {
		return fmt.Errorf("get subscription: %w", err)
	}
	if existing == nil {
		log.Warn("Invoice failed for unknown subscription")
		a.outcome = OutcomeSkipped
		return nil
	}
	if existing.Status.IsTerminal() {
		log.Info("Ignoring failed invoice for canceled subscription")
		a.outcome = OutcomeSkipped
		return nil
	}

	sub, err := a.s.subRepo.MarkPastDue(ctx, inv.SubscriptionID)
	if err != nil {
		return fmt.Errorf("mark subscription past due: %w", err)
	}
	if sub == nil {
		log.Info("Subscription canceled before invoice failure applied")
		a.outcome = OutcomeSkipped
		return nil
	}
	a.s.publishChange(ctx, log, e.EventMeta, sub)

	err = a.s.paymentRepo.Record(ctx, &domain.Payment{
		UserID:          sub.UserID,
		StripePaymentID: inv.PaymentKey(),
		Amount:          inv.Amount,
		Currency:        inv.Currency,
		Status:          domain.PaymentStatusFailed,
		Description:     "Failed subscription payment - Invoice " + inv.Reference(),
	})
	if err != nil && !errors.Is(err, domain.ErrDuplicatePayment) {
		return fmt.Errorf("record failed payment: %w", err)
	}

	log.Warn("Invoice payment failed",
		zap.Int64("user_id", sub.UserID),
		zap.Int64("attempt_count", inv.AttemptCount),
	)
	return nil
}

func (a *eventApplier) OnUnhandled(ctx context.Context, e *domain.UnhandledEvent) error {
	a.log.Debug("Ignoring webhook event type")
	a.outcome = OutcomeIgnored
	return nil
}
