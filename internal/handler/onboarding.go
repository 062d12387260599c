package handler

import (
	"context"
	"net/http"
	"strings"

	"sadaqah/internal/domain"
	"sadaqah/internal/onboarding"
	kyderrors "sadaqah/pkg/errors"
	"sadaqah/pkg/validator"
)

type OnboardingHandler struct {
	manager   AccountOnboarder
	validator *validator.Validator
	logger    Logger
}

func NewOnboardingHandler(manager AccountOnboarder, val *validator.Validator, log Logger) *OnboardingHandler {
	return &OnboardingHandler{manager: manager, validator: val, logger: log}
}

// CreateConnectedAccount binds a recipient to a payout account (or reuses the
// existing binding) and returns a fresh onboarding link. Admin only.
func (h *OnboardingHandler) CreateConnectedAccount(w http.ResponseWriter, r *http.Request) {
	var in onboarding.CreateAccountInput
	if !decodeJSON(w, r, &in) {
		return
	}
	in.RecipientID = strings.TrimSpace(in.RecipientID)
	in.LegalName = strings.TrimSpace(in.LegalName)
	in.Country = strings.ToUpper(strings.TrimSpace(in.Country))

	if errs := h.validator.ValidateStructured(&in); errs != nil {
		respondValidationErrors(w, errs)
		return
	}

	acct, created, err := h.manager.CreateAccount(r.Context(), in)
	if err != nil {
		h.respondAdminError(w, "Connected account creation failed", err, in.RecipientID)
		return
	}

	link, err := h.manager.IssueOnboardingLink(r.Context(), acct.AccountID, onboarding.OriginFromRequest(r))
	if err != nil {
		h.respondAdminError(w, "Onboarding link creation failed", err, in.RecipientID)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respondJSON(w, status, map[string]interface{}{
		"onboardingUrl": link.URL,
		"accountId":     acct.AccountID,
		"created":       created,
	})
}

// Refresh handles GET /api/stripe/refresh?account=<id>, the page the provider
// sends an admin to when a link expired. It always answers with a redirect.
func (h *OnboardingHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	origin := onboarding.OriginFromRequest(r)
	accountID := strings.TrimSpace(r.URL.Query().Get("account"))
	if !validator.IsConnectedAccountID(accountID) {
		http.Redirect(w, r, h.manager.ErrorRedirect(origin, onboarding.CodeMissingAccount), http.StatusSeeOther)
		return
	}

	target, err := h.manager.Refresh(r.Context(), accountID, origin)
	if err != nil {
		h.logger.Error("Onboarding refresh failed", map[string]interface{}{"account_id": accountID, "error": err.Error()})
		http.Redirect(w, r, h.manager.ErrorRedirect(origin, onboarding.ErrorCode(err)), http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// Admin endpoints return the provider diagnostic verbatim.
func (h *OnboardingHandler) respondAdminError(w http.ResponseWriter, msg string, err error, recipientID string) {
	h.logger.Error(msg, map[string]interface{}{"recipient_id": recipientID, "error": err.Error()})
	respondError(w, kyderrors.StatusOf(err), err.Error())
}

type AccountOnboarder interface {
	CreateAccount(ctx context.Context, in onboarding.CreateAccountInput) (*domain.ConnectedAccount, bool, error)
	IssueOnboardingLink(ctx context.Context, accountID string, origin onboarding.Origin) (*domain.OnboardingLink, error)
	Refresh(ctx context.Context, accountID string, origin onboarding.Origin) (string, error)
	ErrorRedirect(origin onboarding.Origin, code string) string
}
