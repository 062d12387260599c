// Package errors provides the error taxonomy shared by the payment core and its
// HTTP surface.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure so callers can map it to a response without string matching.
type Kind string

const (
	KindInvalidAmount               Kind = "invalid_amount"
	KindInvalidRequest              Kind = "invalid_request"
	KindBaseURLUnresolved           Kind = "base_url_unresolved"
	KindAccountCreationFailed       Kind = "account_creation_failed"
	KindOnboardingLinkFailed        Kind = "onboarding_link_failed"
	KindPaymentIntentCreationFailed Kind = "payment_intent_creation_failed"
	KindSignatureInvalid            Kind = "signature_invalid"
	KindMalformedEvent              Kind = "malformed_event"
	KindUnrecognizedEvent           Kind = "unrecognized_event"
	KindNotFound                    Kind = "not_found"
	KindSubscriptionFailed          Kind = "subscription_failed"
)

// Common errors
var (
	ErrInvalidAmount               = &Error{Kind: KindInvalidAmount, Message: "amount must be greater than zero"}
	ErrInvalidRequest              = &Error{Kind: KindInvalidRequest, Message: "invalid request"}
	ErrBaseURLUnresolved           = &Error{Kind: KindBaseURLUnresolved, Message: "base url could not be resolved"}
	ErrAccountCreationFailed       = &Error{Kind: KindAccountCreationFailed, Message: "connected account creation failed"}
	ErrOnboardingLinkFailed        = &Error{Kind: KindOnboardingLinkFailed, Message: "onboarding link creation failed"}
	ErrPaymentIntentCreationFailed = &Error{Kind: KindPaymentIntentCreationFailed, Message: "payment intent creation failed"}
	ErrSignatureInvalid            = &Error{Kind: KindSignatureInvalid, Message: "webhook signature invalid"}
	ErrMalformedEvent              = &Error{Kind: KindMalformedEvent, Message: "webhook payload malformed"}
	ErrUnrecognizedEvent           = &Error{Kind: KindUnrecognizedEvent, Message: "unrecognized event type"}
	ErrNotFound                    = &Error{Kind: KindNotFound, Message: "not found"}
	ErrSubscriptionFailed          = &Error{Kind: KindSubscriptionFailed, Message: "platform subscription failed"}

	// Repository level errors
	ErrAccountNotFound      = errors.New("connected account not found")
	ErrAccountAlreadyExists = errors.New("connected account already exists")
	ErrDuplicateRequest     = errors.New("duplicate request in progress")
	ErrStatusContention     = errors.New("onboarding status kept changing under update")
)

// Error carries a Kind, an operator-facing message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so errors.Is(err, ErrInvalidAmount)
// holds for every InvalidAmount regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// HTTPStatus maps the kind onto the status code used by the HTTP handlers.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindInvalidAmount, KindInvalidRequest, KindSignatureInvalid, KindMalformedEvent:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindAccountCreationFailed, KindOnboardingLinkFailed, KindPaymentIntentCreationFailed, KindSubscriptionFailed:
		return http.StatusBadGateway
	case KindUnrecognizedEvent:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// E builds an *Error of the given kind wrapping cause.
func E(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// StatusOf returns the HTTP status for err, defaulting to 500.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
