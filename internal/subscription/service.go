// Package subscription bills connected accounts a recurring platform fee,
// paid from their own provider balance.
package subscription

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"sadaqah/internal/domain"
	"sadaqah/internal/provider"
	kyderrors "sadaqah/pkg/errors"
	"sadaqah/pkg/logger"
	"sadaqah/pkg/validator"
)

// Plan is the recurring price every subscribed account pays.
type Plan struct {
	Name             string
	Currency         domain.Currency
	AmountMinorUnits int64
	Interval         string
}

type Service struct {
	accounts AccountFinder
	provider PlanProvider
	plan     Plan
	logger   logger.Logger
}

func NewService(accounts AccountFinder, plans PlanProvider, plan Plan, log logger.Logger) *Service {
	if plan.Currency == "" {
		plan.Currency = domain.EUR
	}
	if plan.Interval == "" {
		plan.Interval = "month"
	}
	return &Service{accounts: accounts, provider: plans, plan: plan, logger: log}
}

// Subscribe creates the plan product, a balance payment method for accountID
// and the subscription tying them together. Each provider call carries a key
// derived from idempotencyKey, so a retried request reuses earlier results.
func (s *Service) Subscribe(ctx context.Context, accountID, idempotencyKey string) (*domain.PlatformSubscription, error) {
	accountID = strings.TrimSpace(accountID)
	if !validator.IsConnectedAccountID(accountID) {
		return nil, kyderrors.New(kyderrors.KindInvalidRequest, "accountId is required")
	}
	if _, err := s.accounts.FindByAccountID(ctx, accountID); err != nil {
		if errors.Is(err, kyderrors.ErrAccountNotFound) {
			return nil, kyderrors.New(kyderrors.KindNotFound, "unknown connected account")
		}
		return nil, kyderrors.Wrap(err, "failed to load connected account")
	}

	key := strings.TrimSpace(idempotencyKey)
	if key == "" {
		key = uuid.NewString()
	}
	log := s.logger.With(map[string]interface{}{"account_id": accountID})

	plan, err := s.provider.CreateRecurringPlan(ctx, provider.PlanParams{
		Name:             s.plan.Name,
		Currency:         s.plan.Currency,
		AmountMinorUnits: s.plan.AmountMinorUnits,
		Interval:         s.plan.Interval,
		IdempotencyKey:   "plan-" + key,
	})
	if err != nil {
		log.Error("Platform plan creation failed", map[string]interface{}{"error": err})
		return nil, kyderrors.E(kyderrors.KindSubscriptionFailed, provider.Diagnostic(err), err)
	}
	if plan == nil || plan.PriceID == "" {
		return nil, kyderrors.New(kyderrors.KindSubscriptionFailed, "provider returned a product without a default price")
	}

	methodID, err := s.provider.CreateBalanceSetup(ctx, accountID, "setup-"+key)
	if err != nil {
		log.Error("Balance payment method setup failed", map[string]interface{}{"error": err, "product_id": plan.ProductID})
		return nil, kyderrors.E(kyderrors.KindSubscriptionFailed, provider.Diagnostic(err), err)
	}

	subID, err := s.provider.CreateSubscription(ctx, provider.SubscriptionParams{
		AccountID:       accountID,
		PriceID:         plan.PriceID,
		PaymentMethodID: methodID,
		IdempotencyKey:  "subscription-" + key,
	})
	if err != nil {
		log.Error("Platform subscription failed", map[string]interface{}{"error": err, "product_id": plan.ProductID})
		return nil, kyderrors.E(kyderrors.KindSubscriptionFailed, provider.Diagnostic(err), err)
	}

	log.Info("Platform subscription created", map[string]interface{}{
		"subscription_id": subID,
		"product_id":      plan.ProductID,
		"amount":          s.plan.AmountMinorUnits,
		"interval":        s.plan.Interval,
	})
	return &domain.PlatformSubscription{
		SubscriptionID: subID,
		ProductID:      plan.ProductID,
		PriceID:        plan.PriceID,
		AccountID:      accountID,
	}, nil
}

type AccountFinder interface {
	FindByAccountID(ctx context.Context, accountID string) (*domain.ConnectedAccount, error)
}

type PlanProvider interface {
	CreateRecurringPlan(ctx context.Context, p provider.PlanParams) (*domain.Plan, error)
	CreateBalanceSetup(ctx context.Context, accountID, idempotencyKey string) (string, error)
	CreateSubscription(ctx context.Context, p provider.SubscriptionParams) (string, error)
}
