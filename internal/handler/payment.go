package handler

import (
	"context"
	"net/http"
	"strings"

	"sadaqah/internal/domain"
	"sadaqah/internal/onboarding"
	"sadaqah/internal/payment"
	kyderrors "sadaqah/pkg/errors"
	"sadaqah/pkg/validator"
)

const retryableDonationError = "Payment could not be started, please try again"

type PaymentHandler struct {
	service   DonationService
	resolver  BaseURLResolver
	validator *validator.Validator
	logger    Logger
}

func NewPaymentHandler(service DonationService, resolver BaseURLResolver, val *validator.Validator, log Logger) *PaymentHandler {
	return &PaymentHandler{service: service, resolver: resolver, validator: val, logger: log}
}

// CreatePaymentIntent handles POST /api/create-payment-intent.
func (h *PaymentHandler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeDonation(w, r)
	if !ok {
		return
	}

	res, err := h.service.CreateIntent(r.Context(), req)
	if err != nil {
		h.respondDonationError(w, err, req)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"clientSecret":    res.ClientSecret,
		"paymentIntentId": res.ProviderIntentID,
		"amount":          res.Charge.Gross.StringFixed(2),
		"fee":             res.Charge.Fee.StringFixed(2),
	})
}

// CreateCheckoutSession handles POST /api/checkout.
func (h *PaymentHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeDonation(w, r)
	if !ok {
		return
	}

	base, err := h.resolver.Resolve(onboarding.OriginFromRequest(r))
	if err != nil {
		h.logger.Error("Checkout base URL unresolved", map[string]interface{}{"error": err.Error()})
		respondError(w, http.StatusInternalServerError, retryableDonationError)
		return
	}

	session, err := h.service.CreateCheckoutSession(r.Context(), req, base+"/?success=true", base+"/")
	if err != nil {
		h.respondDonationError(w, err, req)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"id": session.SessionID, "url": session.URL})
}

func (h *PaymentHandler) decodeDonation(w http.ResponseWriter, r *http.Request) (domain.DonationRequest, bool) {
	var req domain.DonationRequest
	if !decodeJSON(w, r, &req) {
		return req, false
	}
	req.RecipientID = strings.TrimSpace(req.RecipientID)
	req.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))

	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidationErrors(w, errs)
		return req, false
	}
	return req, true
}

// Donor-facing failures never expose provider diagnostics.
func (h *PaymentHandler) respondDonationError(w http.ResponseWriter, err error, req domain.DonationRequest) {
	status := kyderrors.StatusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Donation creation failed", map[string]interface{}{
			"recipient_id": req.RecipientID,
			"error":        err.Error(),
		})
		respondError(w, status, retryableDonationError)
		return
	}
	respondError(w, status, err.Error())
}

type DonationService interface {
	CreateIntent(ctx context.Context, req domain.DonationRequest) (*payment.IntentResult, error)
	CreateCheckoutSession(ctx context.Context, req domain.DonationRequest, successURL, cancelURL string) (*domain.CheckoutSession, error)
}

type BaseURLResolver interface {
	Resolve(o onboarding.Origin) (string, error)
}
