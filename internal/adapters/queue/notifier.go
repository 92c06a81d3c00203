package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/kevin07696/payment-orchestrator/internal/domain"
	"github.com/kevin07696/payment-orchestrator/internal/domain/ports"
	"go.uber.org/zap"
)

// TaskEnqueuer is the subset of *asynq.Client the notifier needs.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Notifier publishes payment events as asynq tasks consumed by the notification service.
// The task id is the event's dedupe key, so publishing the same fact twice enqueues once.
type Notifier struct {
	client TaskEnqueuer
	logger *zap.Logger
}

// NewNotifier creates a notifier on an asynq client.
func NewNotifier(client TaskEnqueuer, logger *zap.Logger) *Notifier {
	return &Notifier{client: client, logger: logger}
}

func newEventTask(event domain.PaymentEvent) (*asynq.Task, []asynq.Option, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal payment event: %w", err)
	}
	opts := []asynq.Option{
		asynq.TaskID(event.DedupeKey()),
		asynq.Queue(QueueNotifications),
		asynq.MaxRetry(10),
		asynq.Retention(eventRetention),
	}
	return asynq.NewTask(TypePaymentEvent, payload), opts, nil
}

// Publish implements ports.Notifier.
func (n *Notifier) Publish(ctx context.Context, event domain.PaymentEvent) error {
	task, opts, err := newEventTask(event)
	if err != nil {
		return err
	}

	info, err := n.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			n.logger.Debug("Payment event already published",
				zap.String("event_type", string(event.Type)),
				zap.String("order_id", event.OrderID),
			)
			return nil
		}
		return fmt.Errorf("enqueue %s: %w", event.Type, err)
	}

	n.logger.Info("Payment event published",
		zap.String("event_type", string(event.Type)),
		zap.String("order_id", event.OrderID),
		zap.String("task_id", info.ID),
	)
	return nil
}

var _ ports.Notifier = (*Notifier)(nil)
