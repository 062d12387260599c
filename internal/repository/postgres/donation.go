package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	"sadaqah/internal/domain"
	"sadaqah/pkg/errors"
)

// DonationRepository is the reconciliation ledger. provider_intent_id is unique,
// so a donation reported by both its intent and its checkout session lands once.
type DonationRepository struct {
	db *sqlx.DB
}

func NewDonationRepository(db *sqlx.DB) *DonationRepository {
	return &DonationRepository{db: db}
}

// Record inserts d unless its provider intent is already recorded.
func (r *DonationRepository) Record(ctx context.Context, d *domain.DonationSucceeded) (bool, error) {
	query := `
		INSERT INTO donations (
			id, provider_intent_id, recipient_id, net_amount, gross_amount,
			cover_fees, currency, source, created_at
		) VALUES (
			:id, :provider_intent_id, :recipient_id, :net_amount, :gross_amount,
			:cover_fees, :currency, :source, :created_at
		)
		ON CONFLICT (provider_intent_id) DO NOTHING
	`
	result, err := r.db.NamedExecContext(ctx, query, d)
	if err != nil {
		return false, errors.Wrap(err, "failed to record donation")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	return rows == 1, nil
}
