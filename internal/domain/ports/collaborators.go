package ports

import (
	"context"
	"time"

	"github.com/kevin07696/payment-orchestrator/internal/domain"
)

// Notifier hands payment events to the notification service.
// Publishing the same event twice must not produce two deliveries.
type Notifier interface {
	Publish(ctx context.Context, event domain.PaymentEvent) error
}

// EvidenceArchive keeps our own copy of dispute evidence files.
type EvidenceArchive interface {
	Store(ctx context.Context, disputeID, fileName, contentType string, data []byte) (string, error)
}

// SweepLocker provides a cross-instance lease for background sweeps.
type SweepLocker interface {
	// TryLock returns ok=false without error when another holder owns the lease.
	TryLock(ctx context.Context, name string, ttl time.Duration) (unlock func(context.Context) error, ok bool, err error)
}
