package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RefundStatus is the local lifecycle of a refund attempt.
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "PENDING"
	RefundStatusSucceeded RefundStatus = "SUCCEEDED"
	RefundStatusFailed    RefundStatus = "FAILED"
	RefundStatusCanceled  RefundStatus = "CANCELED"
)

// RefundReason codes accepted by the card gateway.
type RefundReason string

const (
	RefundReasonDuplicate           RefundReason = "duplicate"
	RefundReasonFraudulent          RefundReason = "fraudulent"
	RefundReasonRequestedByCustomer RefundReason = "requested_by_customer"
)

// Refund is one gateway refund attempt against an order.
type Refund struct {
	ID              string
	OrderID         string
	GatewayIntentID string
	GatewayRefundID string // empty until the gateway has answered
	Amount          decimal.Decimal
	Currency        string
	Status          RefundStatus
	Reason          RefundReason
	FailureReason   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsTerminal reports whether the refund has reached a final state.
func (r *Refund) IsTerminal() bool {
	return r.Status == RefundStatusSucceeded || r.Status == RefundStatusFailed || r.Status == RefundStatusCanceled
}

// RefundStatusFromGateway maps the gateway vocabulary onto the local enum.
func RefundStatusFromGateway(status string) RefundStatus {
	switch status {
	case "succeeded":
		return RefundStatusSucceeded
	case "failed":
		return RefundStatusFailed
	case "canceled":
		return RefundStatusCanceled
	default:
		// pending, requires_action
		return RefundStatusPending
	}
}
