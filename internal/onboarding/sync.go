package onboarding

import (
	"context"

	"sadaqah/internal/domain"
)

const syncBatchSize = 100

// FetchAccount reads the provider's current view of an account, retrying transient failures.
func (m *Manager) FetchAccount(ctx context.Context, accountID string) (*domain.AccountSnapshot, error) {
	var snap *domain.AccountSnapshot
	err := m.retry(ctx, func() error {
		s, err := m.provider.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		snap = s
		return nil
	})
	return snap, err
}

// SyncPending re-reads every unfinished account from the provider and applies
// the same update a webhook would. It returns how many statuses changed.
func (m *Manager) SyncPending(ctx context.Context) (int, error) {
	accounts, err := m.store.ListByStatus(ctx, []domain.OnboardingStatus{
		domain.OnboardingPending,
		domain.OnboardingLinkIssued,
		domain.OnboardingFailed,
	}, syncBatchSize)
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, acct := range accounts {
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		snap, err := m.FetchAccount(ctx, acct.AccountID)
		if err != nil {
			m.logger.Error("Account sync fetch failed", map[string]interface{}{"account_id": acct.AccountID, "error": err})
			continue
		}
		ok, err := m.ApplyAccountUpdate(ctx, snap)
		if err != nil {
			m.logger.Error("Account sync apply failed", map[string]interface{}{"account_id": acct.AccountID, "error": err})
			continue
		}
		if ok {
			changed++
		}
	}

	m.logger.Info("Onboarding sync finished", map[string]interface{}{"checked": len(accounts), "changed": changed})
	return changed, nil
}
