package handler

import (
	"net/http"
	"strings"

	"sadaqah/internal/domain"
	"sadaqah/pkg/validator"
)

type RegistrationHandler struct {
	notifier  RegistrationNotifier
	validator *validator.Validator
	logger    Logger
}

func NewRegistrationHandler(notifier RegistrationNotifier, val *validator.Validator, log Logger) *RegistrationHandler {
	return &RegistrationHandler{notifier: notifier, validator: val, logger: log}
}

// Register accepts a mosque registration request and mails it in the background.
func (h *RegistrationHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegistrationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.MosqueName = strings.TrimSpace(req.MosqueName)
	req.City = strings.TrimSpace(req.City)
	req.Email = strings.TrimSpace(req.Email)
	req.Phone = strings.TrimSpace(req.Phone)

	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidationErrors(w, errs)
		return
	}

	h.notifier.Submit(req)
	h.logger.Info("Registration request accepted", map[string]interface{}{"mosque": req.MosqueName, "city": req.City})
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "received"})
}

type RegistrationNotifier interface {
	Submit(req domain.RegistrationRequest)
}
