package webhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"sadaqah/internal/domain"
	"sadaqah/internal/payment"
	"sadaqah/internal/provider"
	kyderrors "sadaqah/pkg/errors"
)

func (p *Processor) handleAccountUpdated(ctx context.Context, ev *provider.Event) error {
	snap, err := p.codec.Account(ev.Object)
	if err != nil {
		return err
	}
	snap.ObservedAt = ev.Created
	changed, err := p.accounts.ApplyAccountUpdate(ctx, snap)
	if err != nil {
		return err
	}
	p.logger.Info("Account update applied", map[string]interface{}{"account_id": snap.AccountID, "changed": changed})
	return nil
}

// Thin events only reference the account, so its current state is fetched.
func (p *Processor) handleCapabilityStatusUpdated(ctx context.Context, ev *provider.Event) error {
	if ev.RelatedID == "" {
		return kyderrors.New(kyderrors.KindMalformedEvent, "capability event without related account")
	}
	snap, err := p.accounts.FetchAccount(ctx, ev.RelatedID)
	if err != nil {
		return err
	}
	changed, err := p.accounts.ApplyAccountUpdate(ctx, snap)
	if err != nil {
		return err
	}
	p.logger.Info("Capability update applied", map[string]interface{}{"account_id": ev.RelatedID, "changed": changed})
	return nil
}

func (p *Processor) handlePaymentIntentSucceeded(ctx context.Context, ev *provider.Event) error {
	pi, err := p.codec.PaymentIntent(ev.Object)
	if err != nil {
		return err
	}
	return p.reconcile(ctx, pi.ID, pi.Amount, pi.Currency, pi.Metadata, domain.SourcePaymentIntent)
}

func (p *Processor) handleCheckoutSessionCompleted(ctx context.Context, ev *provider.Event) error {
	s, err := p.codec.CheckoutSession(ev.Object)
	if err != nil {
		return err
	}
	if s.PaymentStatus != "paid" && s.PaymentStatus != "no_payment_required" {
		p.logger.Info("Checkout completed without payment yet", map[string]interface{}{"session_id": s.ID, "payment_status": s.PaymentStatus})
		return nil
	}
	key := s.PaymentIntentID
	if key == "" {
		key = s.ID
	}
	return p.reconcile(ctx, key, s.AmountTotal, s.Currency, s.Metadata, domain.SourceCheckoutSession)
}

func (p *Processor) handleInvoicePaymentSucceeded(_ context.Context, ev *provider.Event) error {
	var invoice struct {
		ID         string `json:"id"`
		AmountPaid int64  `json:"amount_paid"`
	}
	_ = json.Unmarshal(ev.Object, &invoice)
	p.logger.Info("Platform invoice paid", map[string]interface{}{"invoice_id": invoice.ID, "amount_paid": invoice.AmountPaid})
	return nil
}

// reconcile records one donation per intent id whichever event reports it first.
func (p *Processor) reconcile(ctx context.Context, intentID string, amount int64, currency domain.Currency, md map[string]string, source domain.DonationSource) error {
	gross := payment.FromMinorUnits(amount)
	info, err := payment.ParseDonationMetadata(md, gross)
	if err != nil {
		p.logger.Warn("Succeeded payment without donation metadata", map[string]interface{}{"intent_id": intentID, "error": err})
		return nil
	}

	d := &domain.DonationSucceeded{
		ID:               uuid.New(),
		ProviderIntentID: intentID,
		RecipientID:      info.RecipientID,
		NetAmount:        info.Net,
		GrossAmount:      gross,
		CoverFees:        info.CoverFees,
		Currency:         currency,
		Source:           source,
		CreatedAt:        time.Now().UTC(),
	}
	recorded, err := p.ledger.Record(ctx, d)
	if err != nil {
		return kyderrors.Wrap(err, "failed to record donation")
	}
	if !recorded {
		p.logger.Info("Donation already reconciled", map[string]interface{}{"intent_id": intentID, "source": source})
		return nil
	}

	p.logger.Info("Donation reconciled", map[string]interface{}{
		"intent_id":    intentID,
		"recipient_id": d.RecipientID,
		"net_amount":   d.NetAmount.StringFixed(2),
		"source":       source,
	})
	if p.sink != nil {
		if err := p.sink.PublishDonationSucceeded(ctx, *d); err != nil {
			p.logger.Error("Failed to publish donation", map[string]interface{}{"intent_id": intentID, "error": err})
		}
	}
	return nil
}
