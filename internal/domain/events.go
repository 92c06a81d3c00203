package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentEventType names a notification emitted to the notification collaborator.
type PaymentEventType string

const (
	EventPaymentSucceeded PaymentEventType = "payment.succeeded"
	EventPaymentFailed    PaymentEventType = "payment.failed"
	EventPaymentRefunded  PaymentEventType = "payment.refunded"
	EventPaymentDisputed  PaymentEventType = "payment.disputed"
	EventDisputeClosed    PaymentEventType = "dispute.closed"
)

// PaymentEvent is the payload published when an order's payment state changes.
// DedupeKey collapses duplicate publishes of the same fact.
type PaymentEvent struct {
	Type       PaymentEventType `json:"type"`
	OrderID    string           `json:"order_id"`
	UserID     string           `json:"user_id"`
	Amount     decimal.Decimal  `json:"amount"`
	Currency   string           `json:"currency"`
	Reference  string           `json:"reference,omitempty"`
	Message    string           `json:"message,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// DedupeKey identifies the fact this event describes, independent of delivery attempt.
func (e PaymentEvent) DedupeKey() string {
	return string(e.Type) + ":" + e.OrderID + ":" + e.Reference
}
