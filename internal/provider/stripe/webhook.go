package stripe

import (
	"encoding/json"
	"strings"
	"time"

	stripeapi "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"sadaqah/internal/domain"
	"sadaqah/internal/provider"
	kyderrors "sadaqah/pkg/errors"
)

const thinEventObject = "v2.core.event"

// Verifier authenticates webhook deliveries against the endpoint signing secret.
type Verifier struct {
	secret    string
	tolerance time.Duration
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: strings.TrimSpace(secret), tolerance: webhook.DefaultTolerance}
}

type envelope struct {
	ID            string          `json:"id"`
	Object        string          `json:"object"`
	Type          string          `json:"type"`
	Created       json.RawMessage `json:"created"`
	RelatedObject *struct {
		ID string `json:"id"`
	} `json:"related_object"`
}

// Verify checks the signature before looking at the payload. With no secret
// configured every delivery is rejected.
func (v *Verifier) Verify(payload []byte, sigHeader string) (*provider.Event, error) {
	if v.secret == "" {
		return nil, kyderrors.New(kyderrors.KindSignatureInvalid, "webhook signing secret not configured")
	}
	if strings.TrimSpace(sigHeader) == "" {
		return nil, kyderrors.New(kyderrors.KindSignatureInvalid, "missing signature header")
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, sigHeader, v.secret, v.tolerance); err != nil {
		return nil, kyderrors.E(kyderrors.KindSignatureInvalid, "webhook signature verification failed", err)
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, kyderrors.E(kyderrors.KindMalformedEvent, "webhook payload is not valid JSON", err)
	}
	if env.ID == "" || env.Type == "" {
		return nil, kyderrors.New(kyderrors.KindMalformedEvent, "webhook payload missing id or type")
	}

	if env.Object == thinEventObject {
		ev := &provider.Event{ID: env.ID, Type: env.Type}
		var created time.Time
		if err := json.Unmarshal(env.Created, &created); err == nil {
			ev.Created = created.UTC()
		}
		if env.RelatedObject != nil {
			ev.RelatedID = env.RelatedObject.ID
		}
		return ev, nil
	}

	var event stripeapi.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, kyderrors.E(kyderrors.KindMalformedEvent, "webhook event could not be decoded", err)
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, kyderrors.New(kyderrors.KindMalformedEvent, "webhook event has no data object")
	}
	return &provider.Event{
		ID:      event.ID,
		Type:    string(event.Type),
		Created: time.Unix(event.Created, 0).UTC(),
		Account: event.Account,
		Object:  event.Data.Raw,
	}, nil
}

// DecodeAccount reads an account snapshot out of an event object.
func DecodeAccount(raw json.RawMessage) (*domain.AccountSnapshot, error) {
	var acct stripeapi.Account
	if err := json.Unmarshal(raw, &acct); err != nil {
		return nil, kyderrors.E(kyderrors.KindMalformedEvent, "account object could not be decoded", err)
	}
	if acct.ID == "" {
		return nil, kyderrors.New(kyderrors.KindMalformedEvent, "account object has no id")
	}
	return snapshotFromAccount(&acct), nil
}

func DecodePaymentIntent(raw json.RawMessage) (*provider.IntentPayload, error) {
	var pi stripeapi.PaymentIntent
	if err := json.Unmarshal(raw, &pi); err != nil {
		return nil, kyderrors.E(kyderrors.KindMalformedEvent, "payment intent could not be decoded", err)
	}
	if pi.ID == "" {
		return nil, kyderrors.New(kyderrors.KindMalformedEvent, "payment intent has no id")
	}
	return &provider.IntentPayload{
		ID:       pi.ID,
		Amount:   pi.Amount,
		Currency: domain.Currency(pi.Currency),
		Metadata: pi.Metadata,
	}, nil
}

func DecodeCheckoutSession(raw json.RawMessage) (*provider.SessionPayload, error) {
	var s stripeapi.CheckoutSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, kyderrors.E(kyderrors.KindMalformedEvent, "checkout session could not be decoded", err)
	}
	if s.ID == "" {
		return nil, kyderrors.New(kyderrors.KindMalformedEvent, "checkout session has no id")
	}
	out := &provider.SessionPayload{
		ID:            s.ID,
		PaymentStatus: string(s.PaymentStatus),
		AmountTotal:   s.AmountTotal,
		Currency:      domain.Currency(s.Currency),
		Metadata:      s.Metadata,
	}
	if s.PaymentIntent != nil {
		out.PaymentIntentID = s.PaymentIntent.ID
	}
	return out, nil
}

// Codec exposes the decoders behind an interface so the webhook processor can
// stay independent of this package.
type Codec struct {
	*Verifier
}

func NewCodec(secret string) *Codec {
	return &Codec{Verifier: NewVerifier(secret)}
}

func (Codec) Account(raw json.RawMessage) (*domain.AccountSnapshot, error) {
	return DecodeAccount(raw)
}

func (Codec) PaymentIntent(raw json.RawMessage) (*provider.IntentPayload, error) {
	return DecodePaymentIntent(raw)
}

func (Codec) CheckoutSession(raw json.RawMessage) (*provider.SessionPayload, error) {
	return DecodeCheckoutSession(raw)
}
