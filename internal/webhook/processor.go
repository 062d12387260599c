// Package webhook verifies provider notifications and dispatches them to
// per-type handlers that reconcile local state.
package webhook

import (
	"context"
	"encoding/json"
	"time"

	"sadaqah/internal/domain"
	"sadaqah/internal/provider"
	"sadaqah/pkg/logger"
)

// Event types handled by the processor.
const (
	EventAccountUpdated           = "account.updated"
	EventCapabilityStatusUpdated  = "v2.core.account[configuration.merchant].capability_status_updated"
	EventPaymentIntentSucceeded   = "payment_intent.succeeded"
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventInvoicePaymentSucceeded  = "invoice.payment_succeeded"
)

const deliveryKeyPrefix = "webhook:event:"

type handlerFunc func(ctx context.Context, ev *provider.Event) error

// Result describes what happened to one verified delivery.
type Result struct {
	EventID      string `json:"event_id"`
	Type         string `json:"type"`
	Handled      bool   `json:"handled"`
	Duplicate    bool   `json:"duplicate"`
	Unrecognized bool   `json:"unrecognized"`
	HandlerError string `json:"handler_error,omitempty"`
}

type Processor struct {
	codec    EventCodec
	accounts AccountUpdater
	ledger   DonationLedger
	events   EventLog
	guard    DeliveryGuard
	sink     DonationSink
	guardTTL time.Duration
	handlers map[string]handlerFunc
	logger   logger.Logger
}

type Options struct {
	// Guard is an optional fast-path dedupe in front of the durable event log.
	Guard    DeliveryGuard
	GuardTTL time.Duration
	// Sink receives each newly recorded donation. Optional.
	Sink DonationSink
}

func NewProcessor(codec EventCodec, accounts AccountUpdater, ledger DonationLedger, events EventLog, opts Options, log logger.Logger) *Processor {
	if opts.GuardTTL <= 0 {
		opts.GuardTTL = 72 * time.Hour
	}
	p := &Processor{
		codec:    codec,
		accounts: accounts,
		ledger:   ledger,
		events:   events,
		guard:    opts.Guard,
		sink:     opts.Sink,
		guardTTL: opts.GuardTTL,
		logger:   log,
	}
	p.handlers = map[string]handlerFunc{
		EventAccountUpdated:           p.handleAccountUpdated,
		EventCapabilityStatusUpdated:  p.handleCapabilityStatusUpdated,
		EventPaymentIntentSucceeded:   p.handlePaymentIntentSucceeded,
		EventCheckoutSessionCompleted: p.handleCheckoutSessionCompleted,
		EventInvoicePaymentSucceeded:  p.handleInvoicePaymentSucceeded,
	}
	return p
}

// Process verifies the delivery and runs its handler. Errors are returned only
// for signature and envelope failures; a handler failure is logged and reported
// in the Result so the delivery is still acknowledged.
func (p *Processor) Process(ctx context.Context, payload []byte, signature string) (*Result, error) {
	ev, err := p.codec.Verify(payload, signature)
	if err != nil {
		p.logger.Warn("Webhook rejected", map[string]interface{}{"error": err})
		return nil, err
	}
	log := p.logger.With(map[string]interface{}{"event_id": ev.ID, "event_type": ev.Type})
	res := &Result{EventID: ev.ID, Type: ev.Type}

	handler, ok := p.handlers[ev.Type]
	if !ok {
		log.Info("Unhandled webhook event type", nil)
		res.Unrecognized = true
		return res, nil
	}

	if p.guard != nil {
		claimed, err := p.guard.Claim(ctx, deliveryKeyPrefix+ev.ID, p.guardTTL)
		if err != nil {
			log.Warn("Delivery guard unavailable", map[string]interface{}{"error": err})
		} else if !claimed {
			log.Info("Duplicate webhook delivery", nil)
			res.Duplicate = true
			return res, nil
		}
	}

	seen, err := p.events.Seen(ctx, ev.ID)
	if err != nil {
		log.Warn("Event log lookup failed", map[string]interface{}{"error": err})
	} else if seen {
		log.Info("Webhook event already processed", nil)
		res.Duplicate = true
		return res, nil
	}

	if err := handler(ctx, ev); err != nil {
		log.Error("Webhook handler failed", map[string]interface{}{"error": err})
		res.HandlerError = err.Error()
		p.release(ctx, ev.ID)
		return res, nil
	}
	res.Handled = true

	if err := p.events.MarkProcessed(ctx, ev.ID, ev.Type); err != nil {
		log.Warn("Failed to record processed event", map[string]interface{}{"error": err})
	}
	return res, nil
}

// release drops the delivery guard of a failed event. The failed delivery was
// still acknowledged, so the provider does not resend it; only a manual replay
// from the dashboard or CLI reaches the handler again.
func (p *Processor) release(ctx context.Context, eventID string) {
	if p.guard == nil {
		return
	}
	if err := p.guard.Delete(ctx, deliveryKeyPrefix+eventID); err != nil {
		p.logger.Warn("Failed to release delivery guard", map[string]interface{}{"event_id": eventID, "error": err})
	}
}

type EventCodec interface {
	Verify(payload []byte, signature string) (*provider.Event, error)
	Account(raw json.RawMessage) (*domain.AccountSnapshot, error)
	PaymentIntent(raw json.RawMessage) (*provider.IntentPayload, error)
	CheckoutSession(raw json.RawMessage) (*provider.SessionPayload, error)
}

type AccountUpdater interface {
	ApplyAccountUpdate(ctx context.Context, snap *domain.AccountSnapshot) (bool, error)
	FetchAccount(ctx context.Context, accountID string) (*domain.AccountSnapshot, error)
}

// DonationLedger records a donation once per provider intent id. Record
// returns false when the intent was already recorded.
type DonationLedger interface {
	Record(ctx context.Context, d *domain.DonationSucceeded) (bool, error)
}

type EventLog interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID, eventType string) error
}

type DeliveryGuard interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

type DonationSink interface {
	PublishDonationSucceeded(ctx context.Context, d domain.DonationSucceeded) error
}
