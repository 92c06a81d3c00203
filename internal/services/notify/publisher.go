// Package notify hands payment events to the notification collaborator after a commit.
package notify

import (
	"context"
	"time"

	"github.com/kevin07696/payment-orchestrator/internal/domain"
	"github.com/kevin07696/payment-orchestrator/internal/domain/ports"
	"github.com/kevin07696/payment-orchestrator/pkg/observability"
	"go.uber.org/zap"
)

// Publisher publishes events best effort. A nil notifier drops events.
type Publisher struct {
	notifier ports.Notifier
	logger   *zap.Logger
}

// NewPublisher creates a publisher.
func NewPublisher(notifier ports.Notifier, logger *zap.Logger) *Publisher {
	return &Publisher{notifier: notifier, logger: logger}
}

// Publish sends each event. Failures are logged; the state change they describe is already committed.
func (p *Publisher) Publish(ctx context.Context, events ...domain.PaymentEvent) {
	if p == nil || p.notifier == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, event := range events {
		if err := p.notifier.Publish(ctx, event); err != nil {
			observability.RecordPaymentEvent(string(event.Type), "failed")
			p.logger.Error("Failed to publish payment event",
				zap.String("event_type", string(event.Type)),
				zap.String("order_id", event.OrderID),
				zap.String("reference", event.Reference),
				zap.Error(err),
			)
			continue
		}
		observability.RecordPaymentEvent(string(event.Type), "published")
	}
}

// Event builds a PaymentEvent for order.
func Event(eventType domain.PaymentEventType, order *domain.Order, reference, message string, at time.Time) domain.PaymentEvent {
	return domain.PaymentEvent{
		Type:       eventType,
		OrderID:    order.ID,
		UserID:     order.UserID,
		Amount:     order.Total,
		Currency:   order.Currency,
		Reference:  reference,
		Message:    message,
		OccurredAt: at,
	}
}
