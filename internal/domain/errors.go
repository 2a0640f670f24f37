package domain

import (
	"errors"
	"fmt"
)

// Auth errors
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrTokenRevoked       = errors.New("refresh token is no longer valid")
	ErrMissingToken       = errors.New("authentication token is required")
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrValidation         = errors.New("validation failed")
)

// Billing errors
var (
	ErrSubscriptionNotFound    = errors.New("no subscription found")
	ErrSubscriptionExists      = errors.New("user already has an active subscription")
	ErrSubscriptionRequired    = errors.New("an active subscription is required")
	ErrDuplicateSubscription   = errors.New("subscription already recorded")
	ErrDuplicatePayment        = errors.New("payment already recorded")
	ErrPriceNotAllowed         = errors.New("price is not available for purchase")
	ErrInvalidSignature        = errors.New("webhook signature verification failed")
	ErrMissingCheckoutMetadata = errors.New("checkout session has no userId metadata")
	ErrGatewayUnavailable      = errors.New("payment provider unavailable")
)

// ValidationError reports the first offending field of a request
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is makes errors.Is(err, ErrValidation) match
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError creates a ValidationError
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// SubscriptionExistsError carries the subscription that blocks a new checkout
type SubscriptionExistsError struct {
	SubscriptionID string
	Status         SubscriptionStatus
}

func (e *SubscriptionExistsError) Error() string {
	return fmt.Sprintf("%s (%s, %s)", ErrSubscriptionExists.Error(), e.SubscriptionID, e.Status)
}

// Is makes errors.Is(err, ErrSubscriptionExists) match
func (e *SubscriptionExistsError) Is(target error) bool {
	return target == ErrSubscriptionExists
}
