// Package provider holds the payment-processor neutral request and event shapes
// that the payment, onboarding and webhook packages exchange with an adapter.
package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"sadaqah/internal/domain"
)

type IntentParams struct {
	AmountMinorUnits     int64
	Currency             domain.Currency
	Description          string
	DestinationAccountID string
	Metadata             map[string]string
	IdempotencyKey       string
}

type CheckoutParams struct {
	AmountMinorUnits     int64
	Currency             domain.Currency
	ProductName          string
	DestinationAccountID string
	Metadata             map[string]string
	SuccessURL           string
	CancelURL            string
	IdempotencyKey       string
}

type AccountParams struct {
	RecipientID    string
	Country        string
	Email          string
	LegalName      string
	TaxID          string
	BusinessType   string
	Metadata       map[string]string
	IdempotencyKey string
}

type LinkParams struct {
	AccountID  string
	RefreshURL string
	ReturnURL  string
}

// PlanParams describes a recurring product billed to connected accounts.
type PlanParams struct {
	Name             string
	Currency         domain.Currency
	AmountMinorUnits int64
	Interval         string
	IdempotencyKey   string
}

// SubscriptionParams subscribes a connected account to a plan price, paid
// with the payment method returned by a balance setup.
type SubscriptionParams struct {
	AccountID       string
	PriceID         string
	PaymentMethodID string
	IdempotencyKey  string
}

// Event is a verified provider notification. Object is the raw resource for
// snapshot events; RelatedID is set for thin events that only reference one.
type Event struct {
	ID        string
	Type      string
	Created   time.Time
	Account   string
	Object    json.RawMessage
	RelatedID string
}

// IntentPayload is the part of a succeeded payment intent needed for reconciliation.
type IntentPayload struct {
	ID       string
	Amount   int64
	Currency domain.Currency
	Metadata map[string]string
}

// SessionPayload is the part of a completed checkout session needed for reconciliation.
type SessionPayload struct {
	ID              string
	PaymentIntentID string
	PaymentStatus   string
	AmountTotal     int64
	Currency        domain.Currency
	Metadata        map[string]string
}

// Error carries the processor's own diagnostic, safe to show operators.
type Error struct {
	Op         string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the same call may succeed if repeated.
func (e *Error) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsRetryable is Retryable for any error; unknown errors are treated as transient.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return true
}

// Diagnostic returns the processor's message for err, or err.Error() when absent.
func Diagnostic(err error) string {
	var pe *Error
	if errors.As(err, &pe) && pe.Message != "" {
		return pe.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
