// Package onboarding creates connected payout accounts for recipients, issues
// onboarding links and tracks each account's onboarding status.
package onboarding

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"sadaqah/internal/domain"
	"sadaqah/internal/provider"
	kyderrors "sadaqah/pkg/errors"
	"sadaqah/pkg/logger"
)

// Error codes carried to the admin page on a failed redirect.
const (
	CodeMissingAccount    = "missing_account"
	CodeRefreshFailed     = "refresh_failed"
	CodeBaseURLUnresolved = "base_url_unresolved"
)

var accountKeyNamespace = uuid.MustParse("7f0c8a52-5d1e-4c59-9a43-0e2b6f1d8c31")

type Config struct {
	Country      string
	BusinessType string
	AdminPath    string
	Retries      int
	RetryInitial time.Duration
	RetryMaxWait time.Duration
}

type CreateAccountInput struct {
	RecipientID  string            `json:"recipientId" validate:"required,max=200"`
	ContactEmail string            `json:"contactEmail" validate:"required,email"`
	LegalName    string            `json:"legalName" validate:"required,max=200"`
	TaxID        string            `json:"taxId" validate:"omitempty,max=40"`
	Country      string            `json:"country" validate:"omitempty,iso3166_1_alpha2"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type Manager struct {
	directory RecipientDirectory
	store     AccountStore
	provider  AccountProvider
	resolver  *BaseURLResolver
	publisher EventPublisher
	cfg       Config
	logger    logger.Logger
}

func NewManager(
	directory RecipientDirectory,
	store AccountStore,
	accounts AccountProvider,
	resolver *BaseURLResolver,
	publisher EventPublisher,
	cfg Config,
	log logger.Logger,
) *Manager {
	if cfg.Country == "" {
		cfg.Country = "FR"
	}
	if cfg.BusinessType == "" {
		cfg.BusinessType = "non_profit"
	}
	if cfg.AdminPath == "" {
		cfg.AdminPath = "/admin/mosquee"
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = 200 * time.Millisecond
	}
	if cfg.RetryMaxWait <= 0 {
		cfg.RetryMaxWait = 5 * time.Second
	}
	return &Manager{
		directory: directory,
		store:     store,
		provider:  accounts,
		resolver:  resolver,
		publisher: publisher,
		cfg:       cfg,
		logger:    log,
	}
}

// CreateAccount returns the recipient's existing account when one is bound,
// otherwise creates one with the provider and records the binding.
func (m *Manager) CreateAccount(ctx context.Context, in CreateAccountInput) (*domain.ConnectedAccount, bool, error) {
	in.RecipientID = strings.TrimSpace(in.RecipientID)
	if in.RecipientID == "" {
		return nil, false, kyderrors.New(kyderrors.KindInvalidRequest, "recipient id is required")
	}

	existing, err := m.existingAccount(ctx, in.RecipientID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		m.logger.Info("Connected account already bound", map[string]interface{}{
			"recipient_id": in.RecipientID,
			"account_id":   existing.AccountID,
		})
		return existing, false, nil
	}

	country := strings.ToUpper(strings.TrimSpace(in.Country))
	if country == "" {
		country = m.cfg.Country
	}
	metadata := map[string]string{}
	for k, v := range in.Metadata {
		metadata[k] = v
	}
	metadata["recipient_id"] = in.RecipientID

	params := provider.AccountParams{
		RecipientID:  in.RecipientID,
		Country:      country,
		Email:        strings.TrimSpace(in.ContactEmail),
		LegalName:    strings.TrimSpace(in.LegalName),
		TaxID:        strings.TrimSpace(in.TaxID),
		BusinessType: m.cfg.BusinessType,
		Metadata:     metadata,
	}
	params.IdempotencyKey = accountIdempotencyKey(params)

	var accountID string
	err = m.retry(ctx, func() error {
		id, err := m.provider.CreateAccount(ctx, params)
		if err != nil {
			return err
		}
		accountID = id
		return nil
	})
	if err != nil {
		m.logger.Error("Connected account creation failed", map[string]interface{}{
			"recipient_id": in.RecipientID,
			"error":        err,
		})
		return nil, false, kyderrors.E(kyderrors.KindAccountCreationFailed, provider.Diagnostic(err), err)
	}

	now := time.Now().UTC()
	acct := &domain.ConnectedAccount{
		ID:               uuid.New(),
		RecipientID:      in.RecipientID,
		AccountID:        accountID,
		OnboardingStatus: domain.OnboardingPending,
		Country:          country,
		ContactEmail:     params.Email,
		Capabilities:     domain.Capabilities{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := m.store.Create(ctx, acct); err != nil {
		if errors.Is(err, kyderrors.ErrAccountAlreadyExists) {
			winner, ferr := m.store.FindByRecipientID(ctx, in.RecipientID)
			if ferr != nil {
				return nil, false, kyderrors.Wrap(ferr, "failed to load concurrently created account")
			}
			m.logger.Warn("Concurrent account creation for recipient", map[string]interface{}{
				"recipient_id":   in.RecipientID,
				"kept_account":   winner.AccountID,
				"orphan_account": accountID,
			})
			return winner, false, nil
		}
		return nil, false, kyderrors.Wrap(err, "failed to save connected account")
	}

	if inv, ok := m.directory.(invalidator); ok {
		if err := inv.Invalidate(ctx, in.RecipientID); err != nil {
			m.logger.Warn("Directory cache invalidation failed", map[string]interface{}{"recipient_id": in.RecipientID, "error": err})
		}
	}

	m.logger.Info("Connected account bound", map[string]interface{}{
		"recipient_id": in.RecipientID,
		"account_id":   accountID,
		"country":      country,
	})
	return acct, true, nil
}

func (m *Manager) existingAccount(ctx context.Context, recipientID string) (*domain.ConnectedAccount, error) {
	accountID, found, err := m.directory.Lookup(ctx, recipientID)
	if err != nil {
		return nil, kyderrors.Wrap(err, "recipient lookup failed")
	}
	if !found {
		return nil, nil
	}
	acct, err := m.store.FindByAccountID(ctx, accountID)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, kyderrors.ErrAccountNotFound) {
		return nil, kyderrors.Wrap(err, "failed to load connected account")
	}
	// Bound in the directory but unknown locally.
	return &domain.ConnectedAccount{
		RecipientID:      recipientID,
		AccountID:        accountID,
		OnboardingStatus: domain.OnboardingPending,
	}, nil
}

// IssueOnboardingLink creates a fresh link. Any earlier link for the account is superseded.
func (m *Manager) IssueOnboardingLink(ctx context.Context, accountID string, origin Origin) (*domain.OnboardingLink, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, kyderrors.New(kyderrors.KindInvalidRequest, CodeMissingAccount)
	}
	base, err := m.resolver.Resolve(origin)
	if err != nil {
		return nil, err
	}

	params := provider.LinkParams{
		AccountID:  accountID,
		RefreshURL: m.refreshURL(base, accountID),
		ReturnURL:  m.returnURL(base, accountID),
	}

	var link *domain.OnboardingLink
	err = m.retry(ctx, func() error {
		l, err := m.provider.CreateAccountLink(ctx, params)
		if err != nil {
			return err
		}
		link = l
		return nil
	})
	if err != nil {
		m.logger.Error("Onboarding link creation failed", map[string]interface{}{"account_id": accountID, "error": err})
		return nil, kyderrors.E(kyderrors.KindOnboardingLinkFailed, provider.Diagnostic(err), err)
	}
	if link == nil || strings.TrimSpace(link.URL) == "" {
		return nil, kyderrors.New(kyderrors.KindOnboardingLinkFailed, "provider returned an empty onboarding url")
	}

	m.advance(ctx, accountID, domain.OnboardingLinkIssued, nil)

	m.logger.Info("Onboarding link issued", map[string]interface{}{"account_id": accountID, "expires_at": link.ExpiresAt})
	return link, nil
}

// Refresh re-issues a link for an account whose previous link was invalidated.
func (m *Manager) Refresh(ctx context.Context, accountID string, origin Origin) (string, error) {
	link, err := m.IssueOnboardingLink(ctx, accountID, origin)
	if err != nil {
		return "", err
	}
	return link.URL, nil
}

// ErrorRedirect is the admin page URL carrying code. Without a resolvable base
// it falls back to a relative path on the current host.
func (m *Manager) ErrorRedirect(origin Origin, code string) string {
	q := url.Values{}
	q.Set("error", code)
	base, err := m.resolver.Resolve(origin)
	if err != nil {
		return m.cfg.AdminPath + "?" + q.Encode()
	}
	return base + m.cfg.AdminPath + "?" + q.Encode()
}

// ErrorCode maps a Refresh failure onto the admin page error code.
func ErrorCode(err error) string {
	switch kyderrors.KindOf(err) {
	case kyderrors.KindBaseURLUnresolved:
		return CodeBaseURLUnresolved
	case kyderrors.KindInvalidRequest:
		return CodeMissingAccount
	default:
		return CodeRefreshFailed
	}
}

func (m *Manager) refreshURL(base, accountID string) string {
	q := url.Values{}
	q.Set("account", accountID)
	return base + "/api/stripe/refresh?" + q.Encode()
}

func (m *Manager) returnURL(base, accountID string) string {
	q := url.Values{}
	q.Set("onboarding", "success")
	q.Set("accountId", accountID)
	return base + m.cfg.AdminPath + "?" + q.Encode()
}

// ApplyAccountUpdate folds a provider snapshot into the stored status. Older
// snapshots than the last one applied are ignored.
func (m *Manager) ApplyAccountUpdate(ctx context.Context, snap *domain.AccountSnapshot) (bool, error) {
	if snap == nil || snap.AccountID == "" {
		return false, kyderrors.New(kyderrors.KindInvalidRequest, "account snapshot without id")
	}
	acct, err := m.store.FindByAccountID(ctx, snap.AccountID)
	if err != nil {
		if errors.Is(err, kyderrors.ErrAccountNotFound) {
			m.logger.Warn("Account update for unknown account", map[string]interface{}{"account_id": snap.AccountID})
			return false, nil
		}
		return false, kyderrors.Wrap(err, "failed to load connected account")
	}

	m.logger.Debug("Account snapshot received", map[string]interface{}{
		"account_id":        snap.AccountID,
		"details_submitted": snap.DetailsSubmitted,
		"charges_enabled":   snap.ChargesEnabled,
		"payouts_enabled":   snap.PayoutsEnabled,
		"disabled_reason":   snap.DisabledReason,
	})

	return m.advanceFrom(ctx, acct, func(current domain.OnboardingStatus) domain.OnboardingStatus {
		return statusFromSnapshot(current, snap)
	}, snap)
}

func (m *Manager) advance(ctx context.Context, accountID string, to domain.OnboardingStatus, snap *domain.AccountSnapshot) {
	acct, err := m.store.FindByAccountID(ctx, accountID)
	if err != nil {
		if !errors.Is(err, kyderrors.ErrAccountNotFound) {
			m.logger.Warn("Could not load account for status update", map[string]interface{}{"account_id": accountID, "error": err})
		}
		return
	}
	target := func(domain.OnboardingStatus) domain.OnboardingStatus { return to }
	if _, err := m.advanceFrom(ctx, acct, target, snap); err != nil {
		m.logger.Warn("Status update failed", map[string]interface{}{"account_id": accountID, "error": err})
	}
}

// casAttempts bounds how often a status write is retried after another
// writer moved the row between our read and our write.
const casAttempts = 3

func staleSnapshot(acct *domain.ConnectedAccount, snap *domain.AccountSnapshot) bool {
	return snap != nil && acct.ProviderUpdatedAt != nil && !snap.ObservedAt.IsZero() &&
		snap.ObservedAt.Before(*acct.ProviderUpdatedAt)
}

// advanceFrom writes the status target(current) with a compare-and-set. On a
// miss the row is reloaded and the target recomputed against the fresh status.
func (m *Manager) advanceFrom(ctx context.Context, acct *domain.ConnectedAccount, target func(domain.OnboardingStatus) domain.OnboardingStatus, snap *domain.AccountSnapshot) (bool, error) {
	for attempt := 1; ; attempt++ {
		if staleSnapshot(acct, snap) {
			m.logger.Info("Ignoring stale account snapshot", map[string]interface{}{
				"account_id":  acct.AccountID,
				"observed_at": snap.ObservedAt,
				"stored_at":   *acct.ProviderUpdatedAt,
			})
			return false, nil
		}

		from := acct.OnboardingStatus
		next, changed := Transition(from, target(from))
		if !changed && snap == nil {
			return false, nil
		}
		ok, err := m.store.UpdateStatus(ctx, StatusUpdate{
			AccountID: acct.AccountID,
			From:      from,
			To:        next,
			Snapshot:  snap,
		})
		if err != nil {
			return false, kyderrors.Wrap(err, "failed to update onboarding status")
		}
		if ok {
			if changed {
				m.statusChanged(ctx, acct, from, next)
			}
			return changed, nil
		}

		if attempt >= casAttempts {
			return false, kyderrors.ErrStatusContention
		}
		fresh, err := m.store.FindByAccountID(ctx, acct.AccountID)
		if err != nil {
			return false, kyderrors.Wrap(err, "failed to reload connected account")
		}
		m.logger.Debug("Onboarding status moved concurrently, retrying", map[string]interface{}{
			"account_id": acct.AccountID,
			"expected":   from,
			"found":      fresh.OnboardingStatus,
			"attempt":    attempt,
		})
		acct = fresh
	}
}

func (m *Manager) statusChanged(ctx context.Context, acct *domain.ConnectedAccount, from, to domain.OnboardingStatus) {
	m.logger.Info("Onboarding status changed", map[string]interface{}{
		"account_id": acct.AccountID,
		"from":       from,
		"to":         to,
	})
	if m.publisher == nil {
		return
	}
	evt := domain.OnboardingUpdated{
		AccountID:   acct.AccountID,
		RecipientID: acct.RecipientID,
		From:        from,
		To:          to,
		At:          time.Now().UTC(),
	}
	if err := m.publisher.PublishOnboardingUpdated(ctx, evt); err != nil {
		m.logger.Warn("Failed to publish onboarding update", map[string]interface{}{"account_id": acct.AccountID, "error": err})
	}
}

func (m *Manager) retry(ctx context.Context, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = m.cfg.RetryInitial
	eb.MaxInterval = m.cfg.RetryMaxWait
	eb.MaxElapsedTime = 0

	retries := m.cfg.Retries
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err != nil && !provider.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

// accountIdempotencyKey is stable for identical creation requests so a retried
// call cannot open a second account.
func accountIdempotencyKey(p provider.AccountParams) string {
	name := strings.Join([]string{p.RecipientID, p.Country, p.Email, p.LegalName, p.TaxID, p.BusinessType}, "|")
	return "account-" + uuid.NewSHA1(accountKeyNamespace, []byte(name)).String()
}

type RecipientDirectory interface {
	Lookup(ctx context.Context, recipientID string) (string, bool, error)
}

type invalidator interface {
	Invalidate(ctx context.Context, recipientID string) error
}

// StatusUpdate is a compare-and-set on onboarding_status. A non-nil Snapshot
// also records capabilities and the provider timestamp.
type StatusUpdate struct {
	AccountID string
	From      domain.OnboardingStatus
	To        domain.OnboardingStatus
	Snapshot  *domain.AccountSnapshot
}

type AccountStore interface {
	Create(ctx context.Context, acct *domain.ConnectedAccount) error
	FindByRecipientID(ctx context.Context, recipientID string) (*domain.ConnectedAccount, error)
	FindByAccountID(ctx context.Context, accountID string) (*domain.ConnectedAccount, error)
	UpdateStatus(ctx context.Context, u StatusUpdate) (bool, error)
	ListByStatus(ctx context.Context, statuses []domain.OnboardingStatus, limit int) ([]*domain.ConnectedAccount, error)
}

type AccountProvider interface {
	CreateAccount(ctx context.Context, p provider.AccountParams) (string, error)
	CreateAccountLink(ctx context.Context, p provider.LinkParams) (*domain.OnboardingLink, error)
	GetAccount(ctx context.Context, accountID string) (*domain.AccountSnapshot, error)
}

type EventPublisher interface {
	PublishOnboardingUpdated(ctx context.Context, evt domain.OnboardingUpdated) error
}
