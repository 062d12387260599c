package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"sadaqah/pkg/errors"
)

// WebhookEventRepository remembers which provider events were fully handled.
type WebhookEventRepository struct {
	db *sqlx.DB
}

func NewWebhookEventRepository(db *sqlx.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

func (r *WebhookEventRepository) Seen(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM webhook_events WHERE event_id = $1)`
	if err := r.db.GetContext(ctx, &exists, query, eventID); err != nil {
		return false, errors.Wrap(err, "failed to check webhook event")
	}
	return exists, nil
}

func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, eventID, eventType string) error {
	query := `
		INSERT INTO webhook_events (event_id, event_type, received_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query, eventID, eventType, time.Now().UTC())
	return errors.Wrap(err, "failed to record webhook event")
}

// Prune drops events older than the provider's redelivery window.
func (r *WebhookEventRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `DELETE FROM webhook_events WHERE received_at < $1`
	result, err := r.db.ExecContext(ctx, query, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, errors.Wrap(err, "failed to prune webhook events")
	}
	return result.RowsAffected()
}
