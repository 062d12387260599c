// Package stripe adapts the Stripe API to the provider shapes used by the core.
// A Client is constructed once with its credential and injected where needed.
package stripe

import (
	"context"
	"errors"
	"time"

	stripeapi "github.com/stripe/stripe-go/v82"

	"sadaqah/internal/domain"
	"sadaqah/internal/provider"
	"sadaqah/pkg/logger"
)

type Client struct {
	api    *stripeapi.Client
	logger logger.Logger
}

func NewClient(secretKey string, maxNetworkRetries int64, log logger.Logger) *Client {
	backends := stripeapi.NewBackendsWithConfig(&stripeapi.BackendConfig{
		MaxNetworkRetries: stripeapi.Int64(maxNetworkRetries),
	})
	return &Client{
		api:    stripeapi.NewClient(secretKey, stripeapi.WithBackends(backends)),
		logger: log,
	}
}

func (c *Client) CreatePaymentIntent(ctx context.Context, p provider.IntentParams) (*domain.PaymentIntent, error) {
	pi, err := c.api.V1PaymentIntents.Create(ctx, intentParams(p))
	if err != nil {
		c.logger.Error("Payment intent creation failed", map[string]interface{}{
			"error":       err,
			"amount":      p.AmountMinorUnits,
			"destination": p.DestinationAccountID,
		})
		return nil, wrapError("payment_intents.create", err)
	}
	c.logger.Info("Payment intent created", map[string]interface{}{
		"payment_intent_id": pi.ID,
		"amount":            pi.Amount,
		"destination":       p.DestinationAccountID,
	})
	return &domain.PaymentIntent{
		ProviderIntentID:     pi.ID,
		AmountMinorUnits:     pi.Amount,
		Currency:             domain.Currency(pi.Currency),
		DestinationAccountID: p.DestinationAccountID,
		Metadata:             pi.Metadata,
		ClientSecret:         pi.ClientSecret,
	}, nil
}

func (c *Client) CreateCheckoutSession(ctx context.Context, p provider.CheckoutParams) (*domain.CheckoutSession, error) {
	s, err := c.api.V1CheckoutSessions.Create(ctx, checkoutParams(p))
	if err != nil {
		c.logger.Error("Checkout session creation failed", map[string]interface{}{"error": err, "amount": p.AmountMinorUnits})
		return nil, wrapError("checkout.sessions.create", err)
	}
	c.logger.Info("Checkout session created", map[string]interface{}{"session_id": s.ID})
	return &domain.CheckoutSession{SessionID: s.ID, URL: s.URL}, nil
}

func (c *Client) CreateAccount(ctx context.Context, p provider.AccountParams) (string, error) {
	acct, err := c.api.V1Accounts.Create(ctx, accountParams(p))
	if err != nil {
		c.logger.Error("Connected account creation failed", map[string]interface{}{
			"error":        err,
			"recipient_id": p.RecipientID,
			"country":      p.Country,
		})
		return "", wrapError("accounts.create", err)
	}
	c.logger.Info("Connected account created", map[string]interface{}{"account_id": acct.ID, "recipient_id": p.RecipientID})
	return acct.ID, nil
}

func (c *Client) CreateAccountLink(ctx context.Context, p provider.LinkParams) (*domain.OnboardingLink, error) {
	link, err := c.api.V1AccountLinks.Create(ctx, accountLinkParams(p))
	if err != nil {
		c.logger.Error("Account link creation failed", map[string]interface{}{"error": err, "account_id": p.AccountID})
		return nil, wrapError("account_links.create", err)
	}
	return &domain.OnboardingLink{
		URL:       link.URL,
		AccountID: p.AccountID,
		ExpiresAt: time.Unix(link.ExpiresAt, 0).UTC(),
	}, nil
}

func (c *Client) GetAccount(ctx context.Context, accountID string) (*domain.AccountSnapshot, error) {
	acct, err := c.api.V1Accounts.GetByID(ctx, accountID, &stripeapi.AccountRetrieveParams{})
	if err != nil {
		return nil, wrapError("accounts.retrieve", err)
	}
	snap := snapshotFromAccount(acct)
	// A fetched account is the provider's current view.
	snap.ObservedAt = time.Now().UTC()
	return snap, nil
}

func (c *Client) CreateRecurringPlan(ctx context.Context, p provider.PlanParams) (*domain.Plan, error) {
	prod, err := c.api.V1Products.Create(ctx, planParams(p))
	if err != nil {
		c.logger.Error("Product creation failed", map[string]interface{}{"error": err, "name": p.Name})
		return nil, wrapError("products.create", err)
	}
	plan := &domain.Plan{ProductID: prod.ID}
	if prod.DefaultPrice != nil {
		plan.PriceID = prod.DefaultPrice.ID
	}
	c.logger.Info("Recurring product created", map[string]interface{}{"product_id": plan.ProductID, "price_id": plan.PriceID})
	return plan, nil
}

// CreateBalanceSetup confirms an off-session setup intent that lets accountID
// pay from its balance, and returns the resulting payment method id.
func (c *Client) CreateBalanceSetup(ctx context.Context, accountID, idempotencyKey string) (string, error) {
	si, err := c.api.V1SetupIntents.Create(ctx, balanceSetupParams(accountID, idempotencyKey))
	if err != nil {
		c.logger.Error("Balance setup failed", map[string]interface{}{"error": err, "account_id": accountID})
		return "", wrapError("setup_intents.create", err)
	}
	if si.PaymentMethod == nil || si.PaymentMethod.ID == "" {
		return "", &provider.Error{Op: "setup_intents.create", Message: "setup intent confirmed without a payment method"}
	}
	return si.PaymentMethod.ID, nil
}

func (c *Client) CreateSubscription(ctx context.Context, p provider.SubscriptionParams) (string, error) {
	sub, err := c.api.V1Subscriptions.Create(ctx, subscriptionParams(p))
	if err != nil {
		c.logger.Error("Subscription creation failed", map[string]interface{}{"error": err, "account_id": p.AccountID})
		return "", wrapError("subscriptions.create", err)
	}
	c.logger.Info("Platform subscription created", map[string]interface{}{"subscription_id": sub.ID, "account_id": p.AccountID})
	return sub.ID, nil
}

func wrapError(op string, err error) error {
	var se *stripeapi.Error
	if errors.As(err, &se) {
		return &provider.Error{
			Op:         op,
			StatusCode: se.HTTPStatusCode,
			Code:       string(se.Code),
			Message:    se.Msg,
			Err:        err,
		}
	}
	return &provider.Error{Op: op, Message: err.Error(), Err: err}
}
