package domain

import (
	"strings"
	"time"
)

// PaymentStatus is the outcome of an invoice payment attempt
type PaymentStatus string

const (
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// Payment is a ledger entry. Amount is in minor currency units.
type Payment struct {
	ID              int64         `json:"id"`
	UserID          int64         `json:"user_id"`
	StripePaymentID string        `json:"stripe_payment_id"`
	Amount          int64         `json:"amount"`
	Currency        string        `json:"currency"`
	Status          PaymentStatus `json:"status"`
	Description     string        `json:"description"`
	CreatedAt       time.Time     `json:"created_at"`
}

// zeroDecimalCurrencies have no minor unit
var zeroDecimalCurrencies = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

// MajorUnits converts a minor-unit amount for display
func MajorUnits(amount int64, currency string) float64 {
	if zeroDecimalCurrencies[strings.ToLower(currency)] {
		return float64(amount)
	}
	return float64(amount) / 100
}
