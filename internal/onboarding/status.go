package onboarding

import (
	"strings"

	"sadaqah/internal/domain"
)

// Capabilities a recipient needs before it can receive destination charges.
var requiredCapabilities = []string{"card_payments", "transfers"}

// Transition returns the status an account moves to when to is observed while
// in from. Completed is terminal. Failed is reachable from any other state and
// can be left by issuing a new link or by the provider activating the account.
func Transition(from, to domain.OnboardingStatus) (domain.OnboardingStatus, bool) {
	if from == to || from == domain.OnboardingCompleted || !to.Valid() {
		return from, false
	}
	switch to {
	case domain.OnboardingFailed, domain.OnboardingCompleted:
		return to, true
	case domain.OnboardingLinkIssued:
		if from == domain.OnboardingPending || from == domain.OnboardingFailed {
			return to, true
		}
	}
	return from, false
}

// statusFromSnapshot maps the provider view onto a status, keeping current when
// the snapshot is inconclusive.
func statusFromSnapshot(current domain.OnboardingStatus, snap *domain.AccountSnapshot) domain.OnboardingStatus {
	if snap.Capabilities.Active(requiredCapabilities...) {
		return domain.OnboardingCompleted
	}
	if strings.HasPrefix(snap.DisabledReason, "rejected") {
		return domain.OnboardingFailed
	}
	return current
}
