package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"sadaqah/internal/domain"
	"sadaqah/internal/onboarding"
	"sadaqah/pkg/errors"
)

const uniqueViolation = "23505"

// AccountRepository stores recipient to connected-account bindings. It is both
// the onboarding AccountStore and the uncached RecipientDirectory.
type AccountRepository struct {
	db *sqlx.DB
}

func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Create(ctx context.Context, acct *domain.ConnectedAccount) error {
	query := `
		INSERT INTO connected_accounts (
			id, recipient_id, account_id, onboarding_status, country, contact_email,
			capabilities, disabled_reason, provider_updated_at, created_at, updated_at
		) VALUES (
			:id, :recipient_id, :account_id, :onboarding_status, :country, :contact_email,
			:capabilities, :disabled_reason, :provider_updated_at, :created_at, :updated_at
		)
	`
	_, err := r.db.NamedExecContext(ctx, query, acct)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.ErrAccountAlreadyExists
		}
		return errors.Wrap(err, "failed to create connected account")
	}
	return nil
}

func (r *AccountRepository) FindByRecipientID(ctx context.Context, recipientID string) (*domain.ConnectedAccount, error) {
	acct := &domain.ConnectedAccount{}
	query := `SELECT * FROM connected_accounts WHERE recipient_id = $1`
	err := r.db.GetContext(ctx, acct, query, recipientID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrAccountNotFound
		}
		return nil, errors.Wrap(err, "failed to find connected account by recipient")
	}
	return acct, nil
}

func (r *AccountRepository) FindByAccountID(ctx context.Context, accountID string) (*domain.ConnectedAccount, error) {
	acct := &domain.ConnectedAccount{}
	query := `SELECT * FROM connected_accounts WHERE account_id = $1`
	err := r.db.GetContext(ctx, acct, query, accountID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrAccountNotFound
		}
		return nil, errors.Wrap(err, "failed to find connected account")
	}
	return acct, nil
}

// Lookup returns the account bound to recipientID. An absent binding is not an error.
func (r *AccountRepository) Lookup(ctx context.Context, recipientID string) (string, bool, error) {
	var accountID string
	query := `SELECT account_id FROM connected_accounts WHERE recipient_id = $1`
	err := r.db.GetContext(ctx, &accountID, query, recipientID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, errors.Wrap(err, "failed to look up recipient")
	}
	return accountID, true, nil
}

// UpdateStatus is a compare-and-set on onboarding_status. It reports false when
// another writer moved the row first or the snapshot is older than the stored one.
func (r *AccountRepository) UpdateStatus(ctx context.Context, u onboarding.StatusUpdate) (bool, error) {
	now := time.Now().UTC()
	var (
		result sql.Result
		err    error
	)
	if u.Snapshot == nil {
		query := `
			UPDATE connected_accounts SET
				onboarding_status = $1,
				updated_at = $2
			WHERE account_id = $3 AND onboarding_status = $4
		`
		result, err = r.db.ExecContext(ctx, query, u.To, now, u.AccountID, u.From)
	} else {
		var observed *time.Time
		if !u.Snapshot.ObservedAt.IsZero() {
			t := u.Snapshot.ObservedAt.UTC()
			observed = &t
		}
		query := `
			UPDATE connected_accounts SET
				onboarding_status = $1,
				capabilities = $2,
				disabled_reason = $3,
				provider_updated_at = COALESCE($4, provider_updated_at),
				updated_at = $5
			WHERE account_id = $6 AND onboarding_status = $7
				AND (provider_updated_at IS NULL OR $4::timestamptz IS NULL OR provider_updated_at <= $4)
		`
		result, err = r.db.ExecContext(ctx, query,
			u.To, u.Snapshot.Capabilities, u.Snapshot.DisabledReason, observed, now, u.AccountID, u.From,
		)
	}
	if err != nil {
		return false, errors.Wrap(err, "failed to update onboarding status")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	return rows > 0, nil
}

func (r *AccountRepository) ListByStatus(ctx context.Context, statuses []domain.OnboardingStatus, limit int) ([]*domain.ConnectedAccount, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	var accounts []*domain.ConnectedAccount
	query := `
		SELECT * FROM connected_accounts
		WHERE onboarding_status = ANY($1)
		ORDER BY updated_at ASC
		LIMIT $2
	`
	err := r.db.SelectContext(ctx, &accounts, query, pq.Array(names), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list connected accounts")
	}
	return accounts, nil
}

func isUniqueViolation(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code == uniqueViolation
}
