package domain

import (
	"encoding/json"
	"time"
)

// OperationType scopes an idempotency key to one kind of gateway side effect.
type OperationType string

const (
	OperationCreateIntent        OperationType = "CREATE_INTENT"
	OperationConfirmIntent       OperationType = "CONFIRM_INTENT"
	OperationCancelIntent        OperationType = "CANCEL_INTENT"
	OperationCreateRefund        OperationType = "CREATE_REFUND"
	OperationWalletCreateOrder   OperationType = "WALLET_CREATE_ORDER"
	OperationWalletCaptureOrder  OperationType = "WALLET_CAPTURE_ORDER"
	OperationUpdateDispute       OperationType = "UPDATE_DISPUTE"
	OperationAttachPaymentMethod OperationType = "ATTACH_PAYMENT_METHOD"
)

// IdempotencyStatus is the state of one ledger record.
type IdempotencyStatus string

const (
	IdempotencyPending  IdempotencyStatus = "PENDING"
	IdempotencySuccess  IdempotencyStatus = "SUCCESS"
	IdempotencyError    IdempotencyStatus = "ERROR"
	IdempotencyRetried  IdempotencyStatus = "RETRIED"  // claimed by the retry sweep
	IdempotencyResolved IdempotencyStatus = "RESOLVED" // no replay needed any more
)

// IdempotencyRecord is one logical attempt identified by (Key, Operation).
type IdempotencyRecord struct {
	Key         string
	Operation   OperationType
	EntityID    string
	Status      IdempotencyStatus
	Request     json.RawMessage
	Response    json.RawMessage
	ErrorDetail string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Reclaimable reports whether a new attempt may take over this record.
func (r *IdempotencyRecord) Reclaimable() bool {
	return r.Status == IdempotencyError || r.Status == IdempotencyRetried
}
