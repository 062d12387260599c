package stripe

import (
	stripeapi "github.com/stripe/stripe-go/v82"

	"sadaqah/internal/domain"
	"sadaqah/internal/provider"
)

const accountTypeExpress = "express"

func intentParams(p provider.IntentParams) *stripeapi.PaymentIntentCreateParams {
	params := &stripeapi.PaymentIntentCreateParams{
		Amount:   stripeapi.Int64(p.AmountMinorUnits),
		Currency: stripeapi.String(string(p.Currency)),
		Metadata: p.Metadata,
		AutomaticPaymentMethods: &stripeapi.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripeapi.Bool(true),
		},
	}
	if p.Description != "" {
		params.Description = stripeapi.String(p.Description)
	}
	if p.DestinationAccountID != "" {
		params.TransferData = &stripeapi.PaymentIntentCreateTransferDataParams{
			Destination: stripeapi.String(p.DestinationAccountID),
		}
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}
	return params
}

func checkoutParams(p provider.CheckoutParams) *stripeapi.CheckoutSessionCreateParams {
	intentData := &stripeapi.CheckoutSessionCreatePaymentIntentDataParams{
		Metadata: p.Metadata,
	}
	if p.DestinationAccountID != "" {
		intentData.TransferData = &stripeapi.CheckoutSessionCreatePaymentIntentDataTransferDataParams{
			Destination: stripeapi.String(p.DestinationAccountID),
		}
	}
	params := &stripeapi.CheckoutSessionCreateParams{
		Mode:              stripeapi.String(string(stripeapi.CheckoutSessionModePayment)),
		SuccessURL:        stripeapi.String(p.SuccessURL),
		CancelURL:         stripeapi.String(p.CancelURL),
		Metadata:          p.Metadata,
		PaymentIntentData: intentData,
		LineItems: []*stripeapi.CheckoutSessionCreateLineItemParams{{
			PriceData: &stripeapi.CheckoutSessionCreateLineItemPriceDataParams{
				Currency: stripeapi.String(string(p.Currency)),
				ProductData: &stripeapi.CheckoutSessionCreateLineItemPriceDataProductDataParams{
					Name: stripeapi.String(p.ProductName),
				},
				UnitAmount: stripeapi.Int64(p.AmountMinorUnits),
			},
			Quantity: stripeapi.Int64(1),
		}},
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}
	return params
}

func accountParams(p provider.AccountParams) *stripeapi.AccountCreateParams {
	params := &stripeapi.AccountCreateParams{
		Type:         stripeapi.String(accountTypeExpress),
		Country:      stripeapi.String(p.Country),
		BusinessType: stripeapi.String(p.BusinessType),
		Capabilities: &stripeapi.AccountCreateCapabilitiesParams{
			CardPayments: &stripeapi.AccountCreateCapabilitiesCardPaymentsParams{Requested: stripeapi.Bool(true)},
			Transfers:    &stripeapi.AccountCreateCapabilitiesTransfersParams{Requested: stripeapi.Bool(true)},
		},
		Metadata: p.Metadata,
	}
	if p.Email != "" {
		params.Email = stripeapi.String(p.Email)
	}
	if p.LegalName != "" || p.TaxID != "" {
		company := &stripeapi.AccountCreateCompanyParams{}
		if p.LegalName != "" {
			company.Name = stripeapi.String(p.LegalName)
		}
		if p.TaxID != "" {
			company.TaxID = stripeapi.String(p.TaxID)
		}
		params.Company = company
	}
	if p.LegalName != "" {
		params.BusinessProfile = &stripeapi.AccountCreateBusinessProfileParams{
			Name: stripeapi.String(p.LegalName),
		}
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}
	return params
}

func accountLinkParams(p provider.LinkParams) *stripeapi.AccountLinkCreateParams {
	return &stripeapi.AccountLinkCreateParams{
		Account:    stripeapi.String(p.AccountID),
		RefreshURL: stripeapi.String(p.RefreshURL),
		ReturnURL:  stripeapi.String(p.ReturnURL),
		Type:       stripeapi.String("account_onboarding"),
	}
}

// balanceMethod pays with the connected account's own Stripe balance.
const balanceMethod = "stripe_balance"

func planParams(p provider.PlanParams) *stripeapi.ProductCreateParams {
	params := &stripeapi.ProductCreateParams{
		Name: stripeapi.String(p.Name),
		DefaultPriceData: &stripeapi.ProductCreateDefaultPriceDataParams{
			Currency:   stripeapi.String(string(p.Currency)),
			UnitAmount: stripeapi.Int64(p.AmountMinorUnits),
			Recurring: &stripeapi.ProductCreateDefaultPriceDataRecurringParams{
				Interval: stripeapi.String(p.Interval),
			},
		},
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}
	return params
}

// customer_account has no typed field in this SDK version, so it is sent as an extra form value.
func balanceSetupParams(accountID, idempotencyKey string) *stripeapi.SetupIntentCreateParams {
	params := &stripeapi.SetupIntentCreateParams{
		PaymentMethodTypes: stripeapi.StringSlice([]string{balanceMethod}),
		Confirm:            stripeapi.Bool(true),
		Usage:              stripeapi.String("off_session"),
		PaymentMethodData: &stripeapi.SetupIntentCreatePaymentMethodDataParams{
			Type: stripeapi.String(balanceMethod),
		},
	}
	params.AddExtra("customer_account", accountID)
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}
	return params
}

func subscriptionParams(p provider.SubscriptionParams) *stripeapi.SubscriptionCreateParams {
	params := &stripeapi.SubscriptionCreateParams{
		DefaultPaymentMethod: stripeapi.String(p.PaymentMethodID),
		Items: []*stripeapi.SubscriptionCreateItemParams{{
			Price:    stripeapi.String(p.PriceID),
			Quantity: stripeapi.Int64(1),
		}},
		PaymentSettings: &stripeapi.SubscriptionCreatePaymentSettingsParams{
			PaymentMethodTypes: stripeapi.StringSlice([]string{balanceMethod}),
		},
	}
	params.AddExtra("customer_account", p.AccountID)
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}
	return params
}

func snapshotFromAccount(acct *stripeapi.Account) *domain.AccountSnapshot {
	snap := &domain.AccountSnapshot{
		AccountID:        acct.ID,
		Capabilities:     domain.Capabilities{},
		DetailsSubmitted: acct.DetailsSubmitted,
		ChargesEnabled:   acct.ChargesEnabled,
		PayoutsEnabled:   acct.PayoutsEnabled,
	}
	if acct.Capabilities != nil {
		if acct.Capabilities.CardPayments != "" {
			snap.Capabilities["card_payments"] = string(acct.Capabilities.CardPayments)
		}
		if acct.Capabilities.Transfers != "" {
			snap.Capabilities["transfers"] = string(acct.Capabilities.Transfers)
		}
	}
	if acct.Requirements != nil {
		snap.DisabledReason = string(acct.Requirements.DisabledReason)
	}
	return snap
}
