// Package domain re-exports core domain types so internal code can import
// `sadaqah/internal/domain` while using definitions from `sadaqah/pkg/domain`.
package domain

import pkg "sadaqah/pkg/domain"

// Currency is a lowercase ISO 4217 code.
type Currency = pkg.Currency

// DonationRequest is one donor attempt.
type DonationRequest = pkg.DonationRequest

// ChargeAmount is the fee-inclusive breakdown of a donation.
type ChargeAmount = pkg.ChargeAmount

// PaymentIntent is a created provider intent.
type PaymentIntent = pkg.PaymentIntent

// CheckoutSession is a hosted checkout page.
type CheckoutSession = pkg.CheckoutSession

// OnboardingStatus is the connected-account lifecycle.
type OnboardingStatus = pkg.OnboardingStatus

// ConnectedAccount binds a recipient to a payout account.
type ConnectedAccount = pkg.ConnectedAccount

type Plan = pkg.Plan

type PlatformSubscription = pkg.PlatformSubscription

// OnboardingLink is a single-use onboarding URL.
type OnboardingLink = pkg.OnboardingLink

// AccountSnapshot is the provider's view of an account.
type AccountSnapshot = pkg.AccountSnapshot

// Capabilities maps capability names to statuses.
type Capabilities = pkg.Capabilities

type DonationSource = pkg.DonationSource

type DonationSucceeded = pkg.DonationSucceeded

type OnboardingUpdated = pkg.OnboardingUpdated

type RegistrationRequest = pkg.RegistrationRequest

// Re-exported currencies.
const (
	EUR = pkg.EUR
	USD = pkg.USD
	GBP = pkg.GBP
)

// Re-exported onboarding statuses.
const (
	OnboardingPending    = pkg.OnboardingPending
	OnboardingLinkIssued = pkg.OnboardingLinkIssued
	OnboardingCompleted  = pkg.OnboardingCompleted
	OnboardingFailed     = pkg.OnboardingFailed
)

// Re-exported donation sources.
const (
	SourcePaymentIntent   = pkg.SourcePaymentIntent
	SourceCheckoutSession = pkg.SourceCheckoutSession
)
