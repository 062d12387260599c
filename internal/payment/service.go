// ==============================================================================
// PAYMENT SERVICE - internal/payment/service.go
// ==============================================================================
package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"sadaqah/internal/domain"
	"sadaqah/internal/fee"
	"sadaqah/internal/provider"
	kyderrors "sadaqah/pkg/errors"
	"sadaqah/pkg/logger"
)

const checkoutProductName = "Sadaqah (Don pour la mosquée)"

type Service struct {
	calculator *fee.Calculator
	directory  RecipientDirectory
	provider   IntentProvider
	currency   domain.Currency
	logger     logger.Logger
}

func NewService(
	calculator *fee.Calculator,
	directory RecipientDirectory,
	intents IntentProvider,
	currency domain.Currency,
	log logger.Logger,
) *Service {
	if currency == "" {
		currency = domain.EUR
	}
	return &Service{
		calculator: calculator,
		directory:  directory,
		provider:   intents,
		currency:   currency,
		logger:     log,
	}
}

type IntentResult struct {
	ClientSecret         string              `json:"clientSecret"`
	ProviderIntentID     string              `json:"paymentIntentId"`
	Charge               domain.ChargeAmount `json:"charge"`
	DestinationAccountID string              `json:"-"`
}

// prepared is a donation that passed validation and has its routing resolved.
type prepared struct {
	charge      domain.ChargeAmount
	minorUnits  int64
	destination string
	metadata    map[string]string
	key         string
}

func (s *Service) prepare(ctx context.Context, req domain.DonationRequest) (*prepared, error) {
	req.RecipientID = strings.TrimSpace(req.RecipientID)
	if req.RecipientID == "" {
		return nil, kyderrors.New(kyderrors.KindInvalidRequest, "recipient id is required")
	}

	charge, err := s.calculator.Compute(req.Amount, req.CoverFees)
	if err != nil {
		return nil, err
	}
	minor := charge.MinorUnits()
	if minor <= 0 {
		return nil, kyderrors.New(kyderrors.KindInvalidAmount, "amount rounds to zero")
	}

	destination, found, err := s.directory.Lookup(ctx, req.RecipientID)
	if err != nil {
		s.logger.Error("Recipient lookup failed", map[string]interface{}{"recipient_id": req.RecipientID, "error": err})
		return nil, kyderrors.E(kyderrors.KindPaymentIntentCreationFailed, "recipient lookup failed", err)
	}
	if !found {
		// The donation still goes through, settled to the platform balance.
		s.logger.Info("Recipient has no connected account", map[string]interface{}{"recipient_id": req.RecipientID})
		destination = ""
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = uuid.NewString()
	}

	return &prepared{
		charge:      charge,
		minorUnits:  minor,
		destination: destination,
		metadata:    DonationMetadata(req.RecipientID, charge, req.CoverFees),
		key:         key,
	}, nil
}

// CreateIntent creates one payment intent for the fee-inclusive amount. The
// call is never retried here; the idempotency key makes client retries safe.
func (s *Service) CreateIntent(ctx context.Context, req domain.DonationRequest) (*IntentResult, error) {
	p, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	pi, err := s.provider.CreatePaymentIntent(ctx, provider.IntentParams{
		AmountMinorUnits:     p.minorUnits,
		Currency:             s.currency,
		Description:          fmt.Sprintf("Don pour %s", strings.TrimSpace(req.RecipientID)),
		DestinationAccountID: p.destination,
		Metadata:             p.metadata,
		IdempotencyKey:       "intent-" + p.key,
	})
	if err != nil {
		return nil, kyderrors.E(kyderrors.KindPaymentIntentCreationFailed, provider.Diagnostic(err), err)
	}
	if pi == nil || pi.ProviderIntentID == "" || pi.ClientSecret == "" {
		return nil, kyderrors.New(kyderrors.KindPaymentIntentCreationFailed, "provider returned no client secret")
	}

	s.logger.Info("Donation intent created", map[string]interface{}{
		"payment_intent_id": pi.ProviderIntentID,
		"recipient_id":      req.RecipientID,
		"gross":             p.charge.Gross.StringFixed(2),
		"recipient_net":     s.calculator.RecipientNet(p.charge.Gross).StringFixed(2),
		"cover_fees":        req.CoverFees,
		"destination":       p.destination,
	})

	return &IntentResult{
		ClientSecret:         pi.ClientSecret,
		ProviderIntentID:     pi.ProviderIntentID,
		Charge:               p.charge,
		DestinationAccountID: p.destination,
	}, nil
}

// CreateCheckoutSession is the hosted-page variant of CreateIntent.
func (s *Service) CreateCheckoutSession(ctx context.Context, req domain.DonationRequest, successURL, cancelURL string) (*domain.CheckoutSession, error) {
	p, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if successURL == "" || cancelURL == "" {
		return nil, kyderrors.New(kyderrors.KindInvalidRequest, "checkout return urls are required")
	}

	session, err := s.provider.CreateCheckoutSession(ctx, provider.CheckoutParams{
		AmountMinorUnits:     p.minorUnits,
		Currency:             s.currency,
		ProductName:          checkoutProductName,
		DestinationAccountID: p.destination,
		Metadata:             p.metadata,
		SuccessURL:           successURL,
		CancelURL:            cancelURL,
		IdempotencyKey:       "checkout-" + p.key,
	})
	if err != nil {
		return nil, kyderrors.E(kyderrors.KindPaymentIntentCreationFailed, provider.Diagnostic(err), err)
	}
	if session == nil || session.SessionID == "" {
		return nil, kyderrors.New(kyderrors.KindPaymentIntentCreationFailed, "provider returned no checkout session")
	}

	s.logger.Info("Donation checkout created", map[string]interface{}{
		"session_id":   session.SessionID,
		"recipient_id": req.RecipientID,
		"gross":        p.charge.Gross.StringFixed(2),
	})
	return session, nil
}

type RecipientDirectory interface {
	Lookup(ctx context.Context, recipientID string) (string, bool, error)
}

type IntentProvider interface {
	CreatePaymentIntent(ctx context.Context, p provider.IntentParams) (*domain.PaymentIntent, error)
	CreateCheckoutSession(ctx context.Context, p provider.CheckoutParams) (*domain.CheckoutSession, error)
}
