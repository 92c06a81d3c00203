package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kevin07696/payment-orchestrator/internal/domain"
)

// OrderRepository is the boundary to the order service's shared tables.
type OrderRepository interface {
	GetByID(ctx context.Context, tx DBTX, id string) (*domain.Order, error)
	// GetForUpdate locks the order row for the rest of tx.
	GetForUpdate(ctx context.Context, tx DBTX, id string) (*domain.Order, error)
	Save(ctx context.Context, tx DBTX, order *domain.Order) error
	FindByUserID(ctx context.Context, tx DBTX, userID string, limit int) ([]*domain.Order, error)
}

// TransactionRepository persists payment attempts, one row per gateway intent.
type TransactionRepository interface {
	// Upsert inserts or updates by gateway intent id and returns the stored row.
	Upsert(ctx context.Context, tx DBTX, txn *domain.PaymentTransaction) (*domain.PaymentTransaction, error)
	GetByGatewayIntentID(ctx context.Context, tx DBTX, intentID string) (*domain.PaymentTransaction, error)
	ListByOrderID(ctx context.Context, tx DBTX, orderID string) ([]*domain.PaymentTransaction, error)
	ListNonTerminalSince(ctx context.Context, since time.Time, limit int) ([]*domain.PaymentTransaction, error)
}

// RefundRepository persists refund attempts.
type RefundRepository interface {
	Create(ctx context.Context, tx DBTX, refund *domain.Refund) error
	Update(ctx context.Context, tx DBTX, refund *domain.Refund) error
	GetByID(ctx context.Context, tx DBTX, id string) (*domain.Refund, error)
	GetByGatewayRefundID(ctx context.Context, tx DBTX, gatewayRefundID string) (*domain.Refund, error)
	ListByOrderID(ctx context.Context, tx DBTX, orderID string) ([]*domain.Refund, error)
}

// DisputeRepository persists disputes, unique by gateway dispute id.
type DisputeRepository interface {
	// Create returns false when another writer already created the dispute.
	Create(ctx context.Context, tx DBTX, dispute *domain.Dispute) (bool, error)
	Update(ctx context.Context, tx DBTX, dispute *domain.Dispute) error
	GetByID(ctx context.Context, tx DBTX, id string) (*domain.Dispute, error)
	GetByGatewayDisputeID(ctx context.Context, tx DBTX, gatewayDisputeID string) (*domain.Dispute, error)
	ListOpen(ctx context.Context, limit int) ([]*domain.Dispute, error)
}

// RecordUpdate carries the mutable fields of an idempotency record.
type RecordUpdate struct {
	EntityID    string
	Response    json.RawMessage
	ErrorDetail string
}

// IdempotencyRepository is the durable store behind the idempotency ledger.
type IdempotencyRepository interface {
	// Insert returns false when (key, operation) already exists.
	Insert(ctx context.Context, tx DBTX, record *domain.IdempotencyRecord) (bool, error)
	// Get returns nil, nil when no record exists.
	Get(ctx context.Context, tx DBTX, key string, op domain.OperationType) (*domain.IdempotencyRecord, error)
	// Transition moves a record to `to` only if its current status is one of `from`.
	Transition(ctx context.Context, tx DBTX, key string, op domain.OperationType,
		from []domain.IdempotencyStatus, to domain.IdempotencyStatus, update RecordUpdate) (bool, error)
	ListByStatusSince(ctx context.Context, status domain.IdempotencyStatus, since time.Time, limit int) ([]*domain.IdempotencyRecord, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// PaymentMethodRepository persists saved payment methods.
type PaymentMethodRepository interface {
	Create(ctx context.Context, tx DBTX, pm *domain.CustomerPaymentMethod) error
	GetByID(ctx context.Context, tx DBTX, id string) (*domain.CustomerPaymentMethod, error)
	GetByGatewayID(ctx context.Context, tx DBTX, userID, gatewayPaymentMethodID string) (*domain.CustomerPaymentMethod, error)
	ListByUserID(ctx context.Context, tx DBTX, userID string) ([]*domain.CustomerPaymentMethod, error)
	// LockUser serializes default-flag changes for one user until tx ends. tx must not be nil.
	LockUser(ctx context.Context, tx DBTX, userID string) error
	ClearDefault(ctx context.Context, tx DBTX, userID string) error
	SetDefault(ctx context.Context, tx DBTX, id string) error
	Delete(ctx context.Context, tx DBTX, id string) error
}

// CustomerRepository maps users to their gateway customer reference.
type CustomerRepository interface {
	// GetGatewayCustomerID returns "" when the user has no gateway customer yet.
	GetGatewayCustomerID(ctx context.Context, tx DBTX, userID string) (string, error)
	// SaveGatewayCustomerID keeps the first stored id and returns whichever id won.
	SaveGatewayCustomerID(ctx context.Context, tx DBTX, userID, customerID string) (string, error)
}

// WebhookEventRepository is the audit log of delivered webhook events.
type WebhookEventRepository interface {
	// Record inserts the event or bumps its delivery count; returns true on first delivery.
	Record(ctx context.Context, event *domain.WebhookEvent) (bool, error)
	MarkOutcome(ctx context.Context, gateway domain.GatewayKind, eventID string, outcome domain.WebhookOutcome) error
}
