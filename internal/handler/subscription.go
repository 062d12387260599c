package handler

import (
	"context"
	"net/http"
	"strings"

	"sadaqah/internal/domain"
	kyderrors "sadaqah/pkg/errors"
	"sadaqah/pkg/validator"
)

type SubscriptionHandler struct {
	service   PlatformSubscriber
	validator *validator.Validator
	logger    Logger
}

func NewSubscriptionHandler(service PlatformSubscriber, val *validator.Validator, log Logger) *SubscriptionHandler {
	return &SubscriptionHandler{service: service, validator: val, logger: log}
}

type platformSubscriptionRequest struct {
	AccountID string `json:"accountId" validate:"required,connected_account"`
}

// CreatePlatformSubscription subscribes a connected account to the monthly
// platform plan, paid from its balance. Admin only.
func (h *SubscriptionHandler) CreatePlatformSubscription(w http.ResponseWriter, r *http.Request) {
	var req platformSubscriptionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.AccountID = strings.TrimSpace(req.AccountID)

	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidationErrors(w, errs)
		return
	}

	sub, err := h.service.Subscribe(r.Context(), req.AccountID, r.Header.Get("Idempotency-Key"))
	if err != nil {
		h.logger.Error("Platform subscription failed", map[string]interface{}{"account_id": req.AccountID, "error": err.Error()})
		respondError(w, kyderrors.StatusOf(err), err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"subscriptionId": sub.SubscriptionID,
		"productId":      sub.ProductID,
	})
}

type PlatformSubscriber interface {
	Subscribe(ctx context.Context, accountID, idempotencyKey string) (*domain.PlatformSubscription, error)
}
