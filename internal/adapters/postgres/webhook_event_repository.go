package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/kevin07696/payment-orchestrator/internal/domain"
)

// WebhookEventRepository writes the webhook audit log.
type WebhookEventRepository struct {
	db *DBExecutor
}

// NewWebhookEventRepository creates a new webhook event repository
func NewWebhookEventRepository(db *DBExecutor) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// Record inserts the event or increments its delivery count. It reports whether this was the first delivery.
func (r *WebhookEventRepository) Record(ctx context.Context, event *domain.WebhookEvent) (bool, error) {
	var deliveries int
	err := r.db.pool.QueryRow(ctx, `
		INSERT INTO webhook_events (gateway, event_id, event_type, outcome, deliveries, received_at, updated_at)
		VALUES ($1, $2, $3, $4, 1, $5, $5)
		ON CONFLICT (gateway, event_id) DO UPDATE SET
			deliveries = webhook_events.deliveries + 1,
			updated_at = EXCLUDED.updated_at
		RETURNING deliveries`,
		string(event.Gateway), event.EventID, event.Type, string(event.Outcome), event.ReceivedAt,
	).Scan(&deliveries)
	if err != nil {
		return false, fmt.Errorf("record webhook event: %w", err)
	}
	event.Deliveries = deliveries
	return deliveries == 1, nil
}

func (r *WebhookEventRepository) MarkOutcome(ctx context.Context, gateway domain.GatewayKind, eventID string, outcome domain.WebhookOutcome) error {
	_, err := r.db.pool.Exec(ctx, `
		UPDATE webhook_events SET outcome = $3, updated_at = $4
		WHERE gateway = $1 AND event_id = $2`,
		string(gateway), eventID, string(outcome), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("mark webhook event: %w", err)
	}
	return nil
}
