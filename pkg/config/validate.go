// Package config loads and validates service configuration.
package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"sadaqah/pkg/domain"
)

// ValidateCore ensures critical configuration is present.
func (c *Config) ValidateCore() error {
	var missing []string

	if strings.TrimSpace(c.Database.URL) == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if strings.TrimSpace(c.Redis.URL) == "" {
		missing = append(missing, "REDIS_URL")
	}
	if strings.TrimSpace(c.Server.Port) == "" {
		missing = append(missing, "SERVER_PORT")
	}
	if strings.TrimSpace(c.Stripe.SecretKey) == "" {
		missing = append(missing, "STRIPE_SECRET_KEY")
	}
	// A missing webhook secret would mean accepting unverified events.
	if strings.TrimSpace(c.Stripe.WebhookSecret) == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if strings.TrimSpace(c.JWT.Secret) == "" {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if !domain.Currency(c.Stripe.Currency).Supported() {
		return fmt.Errorf("STRIPE_CURRENCY %q is not supported", c.Stripe.Currency)
	}

	return c.validateFees()
}

// ValidateWorker checks what cmd/onboarding-sync needs; it never serves webhooks.
func (c *Config) ValidateWorker() error {
	var missing []string
	if strings.TrimSpace(c.Database.URL) == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if strings.TrimSpace(c.Stripe.SecretKey) == "" {
		missing = append(missing, "STRIPE_SECRET_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c *Config) validateFees() error {
	rate := c.Stripe.FeeRatePercent
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("STRIPE_FEE_RATE must be in [0, 1), got %s", rate.String())
	}
	if c.Stripe.FixedFee.IsNegative() {
		return fmt.Errorf("STRIPE_FIXED_FEE must not be negative, got %s", c.Stripe.FixedFee.String())
	}
	return nil
}
