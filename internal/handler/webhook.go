package handler

import (
	"context"
	"io"
	"net/http"

	"sadaqah/internal/webhook"
	kyderrors "sadaqah/pkg/errors"
)

const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	processor EventProcessor
	logger    Logger
}

func NewWebhookHandler(processor EventProcessor, log Logger) *WebhookHandler {
	return &WebhookHandler{processor: processor, logger: log}
}

// Receive handles POST /api/stripe/webhook. The body is read raw because the
// signature covers the exact bytes sent.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Unable to read body")
		return
	}
	if len(payload) > maxWebhookBody {
		respondError(w, http.StatusRequestEntityTooLarge, "Payload too large")
		return
	}

	res, err := h.processor.Process(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		status := kyderrors.StatusOf(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadRequest
		}
		respondError(w, status, err.Error())
		return
	}

	if res.HandlerError != "" {
		h.logger.Warn("Webhook acknowledged with handler error", map[string]interface{}{
			"event_id":   res.EventID,
			"event_type": res.Type,
		})
	}
	respondJSON(w, http.StatusOK, map[string]bool{"received": true})
}

type EventProcessor interface {
	Process(ctx context.Context, payload []byte, signature string) (*webhook.Result, error)
}
