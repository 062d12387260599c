package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"sadaqah/internal/domain"
	"sadaqah/internal/onboarding"
	"sadaqah/internal/payment"
	"sadaqah/internal/webhook"
	kyderrors "sadaqah/pkg/errors"
	"sadaqah/pkg/logger"
	"sadaqah/pkg/validator"
)

// --- Mocks ---

type MockDonationService struct {
	mock.Mock
}

func (m *MockDonationService) CreateIntent(ctx context.Context, req domain.DonationRequest) (*payment.IntentResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.IntentResult), args.Error(1)
}

func (m *MockDonationService) CreateCheckoutSession(ctx context.Context, req domain.DonationRequest, successURL, cancelURL string) (*domain.CheckoutSession, error) {
	args := m.Called(ctx, req, successURL, cancelURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CheckoutSession), args.Error(1)
}

type MockOnboarder struct {
	mock.Mock
}

func (m *MockOnboarder) CreateAccount(ctx context.Context, in onboarding.CreateAccountInput) (*domain.ConnectedAccount, bool, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, false, args.Error(2)
	}
	return args.Get(0).(*domain.ConnectedAccount), args.Bool(1), args.Error(2)
}

func (m *MockOnboarder) IssueOnboardingLink(ctx context.Context, accountID string, origin onboarding.Origin) (*domain.OnboardingLink, error) {
	args := m.Called(ctx, accountID, origin)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.OnboardingLink), args.Error(1)
}

func (m *MockOnboarder) Refresh(ctx context.Context, accountID string, origin onboarding.Origin) (string, error) {
	args := m.Called(ctx, accountID, origin)
	return args.String(0), args.Error(1)
}

func (m *MockOnboarder) ErrorRedirect(origin onboarding.Origin, code string) string {
	return "https://sadaqah.example/admin/mosquee?error=" + code
}

type MockSubscriber struct {
	mock.Mock
}

func (m *MockSubscriber) Subscribe(ctx context.Context, accountID, idempotencyKey string) (*domain.PlatformSubscription, error) {
	args := m.Called(ctx, accountID, idempotencyKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PlatformSubscription), args.Error(1)
}

type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) Process(ctx context.Context, payload []byte, signature string) (*webhook.Result, error) {
	args := m.Called(ctx, payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*webhook.Result), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Submit(req domain.RegistrationRequest) {
	m.Called(req)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func newPaymentHandler(svc DonationService) *PaymentHandler {
	resolver := onboarding.NewBaseURLResolver("https://sadaqah.example/", "", false, logger.NewNop())
	return NewPaymentHandler(svc, resolver, validator.New(), logger.NewNop())
}

// --- Payment ---

func TestCreatePaymentIntent_Success(t *testing.T) {
	svc := new(MockDonationService)
	svc.On("CreateIntent", mock.Anything, mock.MatchedBy(func(req domain.DonationRequest) bool {
		return req.Amount.Equal(decimal.NewFromInt(10)) &&
			req.RecipientID == "grande-mosquee" &&
			req.CoverFees &&
			req.IdempotencyKey == "attempt-1"
	})).Return(&payment.IntentResult{
		ClientSecret:     "pi_1_secret_abc",
		ProviderIntentID: "pi_1",
		Charge: domain.ChargeAmount{
			Net:   decimal.RequireFromString("10"),
			Gross: decimal.RequireFromString("10.43"),
			Fee:   decimal.RequireFromString("0.43"),
		},
	}, nil)
	h := newPaymentHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/create-payment-intent",
		strings.NewReader(`{"amount":10,"recipientId":" grande-mosquee ","coverFees":true}`))
	req.Header.Set("Idempotency-Key", "attempt-1")
	rec := httptest.NewRecorder()
	h.CreatePaymentIntent(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "pi_1_secret_abc", body["clientSecret"])
	assert.Equal(t, "10.43", body["amount"])
	svc.AssertExpectations(t)
}

func TestCreatePaymentIntent_RejectsNonPositiveAmount(t *testing.T) {
	svc := new(MockDonationService)
	h := newPaymentHandler(svc)

	for _, payload := range []string{
		`{"amount":0,"recipientId":"m"}`,
		`{"amount":-5,"recipientId":"m"}`,
		`{"recipientId":"m"}`,
	} {
		rec := httptest.NewRecorder()
		h.CreatePaymentIntent(rec, httptest.NewRequest(http.MethodPost, "/api/create-payment-intent", strings.NewReader(payload)))

		assert.Equal(t, http.StatusBadRequest, rec.Code, payload)
		assert.Contains(t, decodeBody(t, rec), "error")
	}
	svc.AssertNotCalled(t, "CreateIntent", mock.Anything, mock.Anything)
}

func TestCreatePaymentIntent_InvalidJSON(t *testing.T) {
	h := newPaymentHandler(new(MockDonationService))
	rec := httptest.NewRecorder()

	h.CreatePaymentIntent(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreatePaymentIntent_ProviderFailureIsGeneric(t *testing.T) {
	svc := new(MockDonationService)
	svc.On("CreateIntent", mock.Anything, mock.Anything).Return(nil,
		kyderrors.E(kyderrors.KindPaymentIntentCreationFailed, "card_declined: secret provider detail", errors.New("x")))
	h := newPaymentHandler(svc)
	rec := httptest.NewRecorder()

	h.CreatePaymentIntent(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":5,"recipientId":"m"}`)))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, retryableDonationError, decodeBody(t, rec)["error"])
	assert.NotContains(t, rec.Body.String(), "secret provider detail")
}

func TestCreatePaymentIntent_InvalidAmountFromService(t *testing.T) {
	svc := new(MockDonationService)
	svc.On("CreateIntent", mock.Anything, mock.Anything).Return(nil, kyderrors.New(kyderrors.KindInvalidAmount, "amount must be greater than 0"))
	h := newPaymentHandler(svc)
	rec := httptest.NewRecorder()

	h.CreatePaymentIntent(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"5.001","recipientId":"m"}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateCheckoutSession_UsesResolvedBase(t *testing.T) {
	svc := new(MockDonationService)
	svc.On("CreateCheckoutSession", mock.Anything, mock.Anything,
		"https://sadaqah.example/?success=true", "https://sadaqah.example/").
		Return(&domain.CheckoutSession{SessionID: "cs_1", URL: "https://checkout.stripe.com/c/cs_1"}, nil)
	h := newPaymentHandler(svc)
	rec := httptest.NewRecorder()

	h.CreateCheckoutSession(rec, httptest.NewRequest(http.MethodPost, "/api/checkout", strings.NewReader(`{"amount":20,"recipientId":"m"}`)))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "cs_1", body["id"])
	assert.Equal(t, "https://checkout.stripe.com/c/cs_1", body["url"])
}

// --- Onboarding ---

func newOnboardingHandler(m AccountOnboarder) *OnboardingHandler {
	return NewOnboardingHandler(m, validator.New(), logger.NewNop())
}

func TestCreateConnectedAccount_Success(t *testing.T) {
	m := new(MockOnboarder)
	m.On("CreateAccount", mock.Anything, mock.MatchedBy(func(in onboarding.CreateAccountInput) bool {
		return in.RecipientID == "grande-mosquee" && in.Country == "FR"
	})).Return(&domain.ConnectedAccount{AccountID: "acct_123"}, true, nil)
	m.On("IssueOnboardingLink", mock.Anything, "acct_123", mock.Anything).
		Return(&domain.OnboardingLink{URL: "https://connect.stripe.com/setup/e/acct_123/abc", AccountID: "acct_123"}, nil)
	h := newOnboardingHandler(m)
	rec := httptest.NewRecorder()

	h.CreateConnectedAccount(rec, httptest.NewRequest(http.MethodPost, "/api/stripe/create-connected-account", strings.NewReader(
		`{"recipientId":"grande-mosquee","contactEmail":"admin@mosquee.fr","legalName":"Association Grande Mosquée","country":"fr"}`)))

	assert.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "acct_123", body["accountId"])
	assert.Equal(t, "https://connect.stripe.com/setup/e/acct_123/abc", body["onboardingUrl"])
}

func TestCreateConnectedAccount_ValidationErrors(t *testing.T) {
	m := new(MockOnboarder)
	h := newOnboardingHandler(m)
	rec := httptest.NewRecorder()

	h.CreateConnectedAccount(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"recipientId":"m","contactEmail":"nope"}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	errs := decodeBody(t, rec)["errors"].(map[string]interface{})
	assert.Contains(t, errs, "contactEmail")
	assert.Contains(t, errs, "legalName")
	m.AssertNotCalled(t, "CreateAccount", mock.Anything, mock.Anything)
}

func TestCreateConnectedAccount_ProviderDiagnosticReturned(t *testing.T) {
	m := new(MockOnboarder)
	m.On("CreateAccount", mock.Anything, mock.Anything).Return(nil, false,
		kyderrors.New(kyderrors.KindAccountCreationFailed, "invalid_request_error: country FR not supported for platform"))
	h := newOnboardingHandler(m)
	rec := httptest.NewRecorder()

	h.CreateConnectedAccount(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(
		`{"recipientId":"m","contactEmail":"a@b.fr","legalName":"M"}`)))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "country FR not supported")
}

func TestCreatePlatformSubscription_Success(t *testing.T) {
	m := new(MockSubscriber)
	m.On("Subscribe", mock.Anything, "acct_123", "sub-req-1").
		Return(&domain.PlatformSubscription{SubscriptionID: "sub_1", ProductID: "prod_1", PriceID: "price_1", AccountID: "acct_123"}, nil)
	h := NewSubscriptionHandler(m, validator.New(), logger.NewNop())
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/create-platform-subscription", strings.NewReader(`{"accountId":"acct_123"}`))
	req.Header.Set("Idempotency-Key", "sub-req-1")
	rec := httptest.NewRecorder()

	h.CreatePlatformSubscription(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "sub_1", body["subscriptionId"])
	assert.Equal(t, "prod_1", body["productId"])
}

func TestCreatePlatformSubscription_RequiresAccountID(t *testing.T) {
	m := new(MockSubscriber)
	h := NewSubscriptionHandler(m, validator.New(), logger.NewNop())
	rec := httptest.NewRecorder()

	h.CreatePlatformSubscription(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["errors"], "accountId")
	m.AssertNotCalled(t, "Subscribe", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreatePlatformSubscription_ProviderDiagnosticReturned(t *testing.T) {
	m := new(MockSubscriber)
	m.On("Subscribe", mock.Anything, "acct_123", "").Return(nil,
		kyderrors.New(kyderrors.KindSubscriptionFailed, "stripe_balance is not enabled for this account"))
	h := NewSubscriptionHandler(m, validator.New(), logger.NewNop())
	rec := httptest.NewRecorder()

	h.CreatePlatformSubscription(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"accountId":"acct_123"}`)))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "stripe_balance is not enabled")
}

func TestRefresh_Redirects(t *testing.T) {
	m := new(MockOnboarder)
	m.On("Refresh", mock.Anything, "acct_123", mock.Anything).Return("https://connect.stripe.com/setup/e/acct_123/new", nil)
	h := newOnboardingHandler(m)
	rec := httptest.NewRecorder()

	h.Refresh(rec, httptest.NewRequest(http.MethodGet, "/api/stripe/refresh?account=acct_123", nil))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "https://connect.stripe.com/setup/e/acct_123/new", rec.Header().Get("Location"))
}

func TestRefresh_MissingAccount(t *testing.T) {
	m := new(MockOnboarder)
	h := newOnboardingHandler(m)

	for _, target := range []string{"/api/stripe/refresh", "/api/stripe/refresh?account=cus_1"} {
		rec := httptest.NewRecorder()
		h.Refresh(rec, httptest.NewRequest(http.MethodGet, target, nil))

		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "https://sadaqah.example/admin/mosquee?error=missing_account", rec.Header().Get("Location"))
	}
	m.AssertNotCalled(t, "Refresh", mock.Anything, mock.Anything, mock.Anything)
}

func TestRefresh_FailureRedirectsWithCode(t *testing.T) {
	m := new(MockOnboarder)
	m.On("Refresh", mock.Anything, "acct_123", mock.Anything).Return("",
		kyderrors.New(kyderrors.KindOnboardingLinkFailed, "rate limited"))
	h := newOnboardingHandler(m)
	rec := httptest.NewRecorder()

	h.Refresh(rec, httptest.NewRequest(http.MethodGet, "/api/stripe/refresh?account=acct_123", nil))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "https://sadaqah.example/admin/mosquee?error=refresh_failed", rec.Header().Get("Location"))
}

// --- Webhook ---

func TestWebhook_AcknowledgesVerifiedEvent(t *testing.T) {
	p := new(MockProcessor)
	p.On("Process", mock.Anything, []byte(`{"id":"evt_1"}`), "t=1,v1=abc").
		Return(&webhook.Result{EventID: "evt_1", Handled: true}, nil)
	h := NewWebhookHandler(p, logger.NewNop())
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rec := httptest.NewRecorder()

	h.Receive(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())
}

func TestWebhook_HandlerErrorStillAcknowledged(t *testing.T) {
	p := new(MockProcessor)
	p.On("Process", mock.Anything, mock.Anything, mock.Anything).
		Return(&webhook.Result{EventID: "evt_1", HandlerError: "db down"}, nil)
	h := NewWebhookHandler(p, logger.NewNop())
	rec := httptest.NewRecorder()

	h.Receive(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())
}

func TestWebhook_InvalidSignatureIs400(t *testing.T) {
	p := new(MockProcessor)
	p.On("Process", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, kyderrors.New(kyderrors.KindSignatureInvalid, "webhook signature verification failed"))
	h := NewWebhookHandler(p, logger.NewNop())
	rec := httptest.NewRecorder()

	h.Receive(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// --- Registration ---

func TestRegister_Accepted(t *testing.T) {
	n := new(MockNotifier)
	n.On("Submit", domain.RegistrationRequest{MosqueName: "Al-Nour", City: "Lyon", Email: "a@alnour.fr"}).Once()
	h := NewRegistrationHandler(n, validator.New(), logger.NewNop())
	rec := httptest.NewRecorder()

	h.Register(rec, httptest.NewRequest(http.MethodPost, "/api/mosquee/register", strings.NewReader(
		`{"mosqueName":" Al-Nour ","city":"Lyon","email":"a@alnour.fr"}`)))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"status":"received"}`, rec.Body.String())
	n.AssertExpectations(t)
}

func TestRegister_InvalidEmail(t *testing.T) {
	n := new(MockNotifier)
	h := NewRegistrationHandler(n, validator.New(), logger.NewNop())
	rec := httptest.NewRecorder()

	h.Register(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"mosqueName":"X","city":"Y","email":"bad"}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	n.AssertNotCalled(t, "Submit", mock.Anything)
}

// --- System ---

func TestReady(t *testing.T) {
	h := NewSystemHandler(map[string]Pinger{
		"postgres": PingFunc(func(context.Context) error { return nil }),
		"redis":    PingFunc(func(context.Context) error { return errors.New("refused") }),
	}, logger.NewNop())
	rec := httptest.NewRecorder()

	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	deps := decodeBody(t, rec)["dependencies"].(map[string]interface{})
	assert.Equal(t, "up", deps["postgres"])
	assert.Equal(t, "down", deps["redis"])
}
