package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"

	"github.com/prohmpiriya/healthcare-educate/internal/domain"
)

// MetadataUserID is the metadata key linking provider objects to a local user
const MetadataUserID = "userId"

// expandable decodes a provider reference that is either an id string or an expanded object
type expandable struct {
	ID  string
	Raw json.RawMessage // set only when expanded
}

func (e *expandable) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		return nil
	case data[0] == '"':
		return json.Unmarshal(data, &e.ID)
	}

	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	e.ID = obj.ID
	e.Raw = append(json.RawMessage(nil), data...)
	return nil
}

type wireCheckoutSession struct {
	ID                string            `json:"id"`
	ClientReferenceID string            `json:"client_reference_id"`
	Customer          expandable        `json:"customer"`
	Subscription      expandable        `json:"subscription"`
	PaymentIntent     expandable        `json:"payment_intent"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	Metadata          map[string]string `json:"metadata"`
}

type wirePeriod struct {
	CurrentPeriodStart int64 `json:"current_period_start"`
	CurrentPeriodEnd   int64 `json:"current_period_end"`
}

func (p wirePeriod) period() *domain.BillingPeriod {
	if p.CurrentPeriodStart <= 0 || p.CurrentPeriodEnd <= 0 {
		return nil
	}
	return &domain.BillingPeriod{
		Start: time.Unix(p.CurrentPeriodStart, 0).UTC(),
		End:   time.Unix(p.CurrentPeriodEnd, 0).UTC(),
	}
}

// Older API versions carry the period on the subscription, newer ones on each item.
type wireSubscription struct {
	wirePeriod
	ID                string     `json:"id"`
	Customer          expandable `json:"customer"`
	Status            string     `json:"status"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	Items             struct {
		Data []struct {
			wirePeriod
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
	Metadata map[string]string `json:"metadata"`
}

func (s *wireSubscription) snapshot() domain.SubscriptionSnapshot {
	snap := domain.SubscriptionSnapshot{
		ID:                s.ID,
		CustomerID:        s.Customer.ID,
		Status:            domain.ParseSubscriptionStatus(s.Status),
		Period:            s.period(),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		UserID:            s.Metadata[MetadataUserID],
	}
	for _, item := range s.Items.Data {
		if snap.PriceID == "" {
			snap.PriceID = item.Price.ID
		}
		if snap.Period == nil {
			snap.Period = item.period()
		}
	}
	return snap
}

type wireInvoice struct {
	ID            string     `json:"id"`
	Number        string     `json:"number"`
	Subscription  expandable `json:"subscription"`
	PaymentIntent expandable `json:"payment_intent"`
	Parent        *struct {
		SubscriptionDetails *struct {
			Subscription expandable `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Payments *struct {
		Data []struct {
			Payment struct {
				PaymentIntent expandable `json:"payment_intent"`
			} `json:"payment"`
		} `json:"data"`
	} `json:"payments"`
	AmountPaid   int64  `json:"amount_paid"`
	AmountDue    int64  `json:"amount_due"`
	Currency     string `json:"currency"`
	AttemptCount int64  `json:"attempt_count"`
}

func (i *wireInvoice) snapshot(amount int64) domain.InvoiceSnapshot {
	snap := domain.InvoiceSnapshot{
		ID:              i.ID,
		Number:          i.Number,
		SubscriptionID:  i.Subscription.ID,
		PaymentIntentID: i.PaymentIntent.ID,
		Amount:          amount,
		Currency:        i.Currency,
		AttemptCount:    i.AttemptCount,
	}
	if snap.SubscriptionID == "" && i.Parent != nil && i.Parent.SubscriptionDetails != nil {
		snap.SubscriptionID = i.Parent.SubscriptionDetails.Subscription.ID
	}
	if snap.PaymentIntentID == "" && i.Payments != nil {
		for _, p := range i.Payments.Data {
			if p.Payment.PaymentIntent.ID != "" {
				snap.PaymentIntentID = p.Payment.PaymentIntent.ID
				break
			}
		}
	}
	return snap
}

// DecodeEvent turns a verified provider event into its BillingEvent variant.
// Unknown types become *domain.UnhandledEvent.
func DecodeEvent(event *stripe.Event) (domain.BillingEvent, error) {
	meta := domain.EventMeta{
		ID:      event.ID,
		Type:    string(event.Type),
		Created: time.Unix(event.Created, 0).UTC(),
	}

	var raw json.RawMessage
	if event.Data != nil {
		raw = event.Data.Raw
	}

	switch meta.Type {
	case domain.EventCheckoutSessionCompleted:
		var s wireCheckoutSession
		if err := decodeObject(raw, &s); err != nil {
			return nil, err
		}
		e := &domain.CheckoutCompleted{
			EventMeta:       meta,
			SessionID:       s.ID,
			UserID:          s.Metadata[MetadataUserID],
			CustomerID:      s.Customer.ID,
			SubscriptionID:  s.Subscription.ID,
			PaymentIntentID: s.PaymentIntent.ID,
			AmountTotal:     s.AmountTotal,
			Currency:        s.Currency,
		}
		if e.UserID == "" {
			e.UserID = s.ClientReferenceID
		}
		if len(s.Subscription.Raw) > 0 {
			var sub wireSubscription
			if err := json.Unmarshal(s.Subscription.Raw, &sub); err != nil {
				return nil, fmt.Errorf("decode expanded subscription: %w", err)
			}
			snap := sub.snapshot()
			e.Subscription = &snap
		}
		return e, nil

	case domain.EventSubscriptionCreated, domain.EventSubscriptionUpdated, domain.EventSubscriptionDeleted:
		var s wireSubscription
		if err := decodeObject(raw, &s); err != nil {
			return nil, err
		}
		snap := s.snapshot()
		switch meta.Type {
		case domain.EventSubscriptionCreated:
			return &domain.SubscriptionCreated{EventMeta: meta, Subscription: snap}, nil
		case domain.EventSubscriptionUpdated:
			return &domain.SubscriptionUpdated{EventMeta: meta, Subscription: snap}, nil
		default:
			return &domain.SubscriptionDeleted{EventMeta: meta, Subscription: snap}, nil
		}

	case domain.EventInvoicePaymentSucceeded:
		var inv wireInvoice
		if err := decodeObject(raw, &inv); err != nil {
			return nil, err
		}
		return &domain.InvoicePaymentSucceeded{EventMeta: meta, Invoice: inv.snapshot(inv.AmountPaid)}, nil

	case domain.EventInvoicePaymentFailed:
		var inv wireInvoice
		if err := decodeObject(raw, &inv); err != nil {
			return nil, err
		}
		return &domain.InvoicePaymentFailed{EventMeta: meta, Invoice: inv.snapshot(inv.AmountDue)}, nil
	}

	return &domain.UnhandledEvent{EventMeta: meta}, nil
}

func decodeObject(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("event has no data object")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode event object: %w", err)
	}
	return nil
}

// decodeSubscription parses a raw subscription object returned by the API
func decodeSubscription(raw []byte) (*domain.SubscriptionSnapshot, error) {
	var s wireSubscription
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode subscription: %w", err)
	}
	snap := s.snapshot()
	return &snap, nil
}
