package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Currency is a lowercase ISO 4217 code as the payment provider expects it.
type Currency string

const (
	EUR Currency = "eur"
	USD Currency = "usd"
	GBP Currency = "gbp"
)

// Supported reports whether donations can be charged in c.
func (c Currency) Supported() bool {
	switch c {
	case EUR, USD, GBP:
		return true
	}
	return false
}

// DonationRequest is one donor attempt. It is never persisted.
type DonationRequest struct {
	Amount         decimal.Decimal `json:"amount" validate:"required,gt=0"`
	RecipientID    string          `json:"recipientId" validate:"required,max=200"`
	CoverFees      bool            `json:"coverFees"`
	IdempotencyKey string          `json:"-"`
}

// ChargeAmount is derived from a DonationRequest. Gross - Net == Fee.
type ChargeAmount struct {
	Net   decimal.Decimal `json:"net"`
	Gross decimal.Decimal `json:"gross"`
	Fee   decimal.Decimal `json:"fee"`
}

var hundred = decimal.NewFromInt(100)

// MinorUnits converts Gross into the smallest currency unit.
func (c ChargeAmount) MinorUnits() int64 {
	return c.Gross.Mul(hundred).Round(0).IntPart()
}

// PaymentIntent is the provider-side intent as the orchestrator sees it after creation.
type PaymentIntent struct {
	ProviderIntentID     string            `json:"id"`
	AmountMinorUnits     int64             `json:"amount"`
	Currency             Currency          `json:"currency"`
	DestinationAccountID string            `json:"destination,omitempty"`
	Metadata             map[string]string `json:"metadata"`
	ClientSecret         string            `json:"-"`
}

// CheckoutSession is a hosted checkout page for one donation.
type CheckoutSession struct {
	SessionID string `json:"id"`
	URL       string `json:"url"`
}

// Plan is a recurring product and its default price.
type Plan struct {
	ProductID string `json:"productId"`
	PriceID   string `json:"priceId"`
}

// PlatformSubscription is a connected account paying the platform from its balance.
type PlatformSubscription struct {
	SubscriptionID string `json:"subscriptionId"`
	ProductID      string `json:"productId"`
	PriceID        string `json:"priceId"`
	AccountID      string `json:"accountId"`
}

// OnboardingStatus is the lifecycle of a connected account.
type OnboardingStatus string

const (
	OnboardingPending    OnboardingStatus = "pending"
	OnboardingLinkIssued OnboardingStatus = "link_issued"
	OnboardingCompleted  OnboardingStatus = "completed"
	OnboardingFailed     OnboardingStatus = "failed"
)

func (s OnboardingStatus) Valid() bool {
	switch s {
	case OnboardingPending, OnboardingLinkIssued, OnboardingCompleted, OnboardingFailed:
		return true
	}
	return false
}

// ConnectedAccount binds a recipient to its payout account.
type ConnectedAccount struct {
	ID                uuid.UUID        `json:"id" db:"id"`
	RecipientID       string           `json:"recipient_id" db:"recipient_id"`
	AccountID         string           `json:"account_id" db:"account_id"`
	OnboardingStatus  OnboardingStatus `json:"onboarding_status" db:"onboarding_status"`
	Country           string           `json:"country" db:"country"`
	ContactEmail      string           `json:"contact_email" db:"contact_email"`
	Capabilities      Capabilities     `json:"capabilities" db:"capabilities"`
	DisabledReason    string           `json:"disabled_reason,omitempty" db:"disabled_reason"`
	ProviderUpdatedAt *time.Time       `json:"provider_updated_at,omitempty" db:"provider_updated_at"`
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at" db:"updated_at"`
}

// OnboardingLink is single use. Issuing a new one supersedes the previous link.
type OnboardingLink struct {
	URL       string    `json:"url"`
	AccountID string    `json:"account_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AccountSnapshot is the provider's view of a connected account at ObservedAt.
type AccountSnapshot struct {
	AccountID        string
	Capabilities     Capabilities
	DisabledReason   string
	DetailsSubmitted bool
	ChargesEnabled   bool
	PayoutsEnabled   bool
	ObservedAt       time.Time
}

// DonationSource records which provider event confirmed a donation.
type DonationSource string

const (
	SourcePaymentIntent   DonationSource = "payment_intent"
	SourceCheckoutSession DonationSource = "checkout_session"
)

// DonationSucceeded is the durable fact emitted once per provider intent.
type DonationSucceeded struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	ProviderIntentID string          `json:"provider_intent_id" db:"provider_intent_id"`
	RecipientID      string          `json:"recipient_id" db:"recipient_id"`
	NetAmount        decimal.Decimal `json:"net_amount" db:"net_amount"`
	GrossAmount      decimal.Decimal `json:"gross_amount" db:"gross_amount"`
	CoverFees        bool            `json:"cover_fees" db:"cover_fees"`
	Currency         Currency        `json:"currency" db:"currency"`
	Source           DonationSource  `json:"source" db:"source"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}

// OnboardingUpdated is published whenever a stored status changes.
type OnboardingUpdated struct {
	AccountID   string           `json:"account_id"`
	RecipientID string           `json:"recipient_id"`
	From        OnboardingStatus `json:"from"`
	To          OnboardingStatus `json:"to"`
	At          time.Time        `json:"at"`
}

// RegistrationRequest is a mosque asking to join the platform.
type RegistrationRequest struct {
	MosqueName string `json:"mosqueName" validate:"required,max=200"`
	City       string `json:"city" validate:"required,max=120"`
	Email      string `json:"email" validate:"required,email"`
	Phone      string `json:"phone" validate:"omitempty,max=40"`
}

// Capabilities maps a capability name to its provider status.
type Capabilities map[string]string

func (c Capabilities) Value() (driver.Value, error) {
	if c == nil {
		return "{}", nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (c *Capabilities) Scan(value interface{}) error {
	if value == nil {
		*c = Capabilities{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, c)
	case string:
		return json.Unmarshal([]byte(v), c)
	default:
		return errors.New("type assertion to []byte failed")
	}
}

// Active reports whether every named capability is "active".
func (c Capabilities) Active(names ...string) bool {
	for _, n := range names {
		if c[n] != "active" {
			return false
		}
	}
	return true
}
