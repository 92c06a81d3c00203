package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order as seen by payments.
type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "PENDING"
	OrderStatusPendingPayment OrderStatus = "PENDING_PAYMENT" // waiting on wallet approval
	OrderStatusProcessing     OrderStatus = "PROCESSING"
	OrderStatusPaid           OrderStatus = "PAID"
	OrderStatusShipped        OrderStatus = "SHIPPED"
	OrderStatusDelivered      OrderStatus = "DELIVERED"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
	OrderStatusRefunded       OrderStatus = "REFUNDED"
	OrderStatusDisputed       OrderStatus = "DISPUTED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:        {OrderStatusProcessing, OrderStatusPendingPayment, OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPendingPayment: {OrderStatusProcessing, OrderStatusPaid, OrderStatusCancelled},
	OrderStatusProcessing:     {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:           {OrderStatusShipped, OrderStatusRefunded, OrderStatusDisputed},
	OrderStatusShipped:        {OrderStatusDelivered, OrderStatusRefunded, OrderStatusDisputed},
	OrderStatusDelivered:      {OrderStatusRefunded, OrderStatusDisputed},
	OrderStatusDisputed:       {OrderStatusPaid, OrderStatusRefunded},
}

// Order is the purchase aggregate. Orders are never deleted, only transitioned.
type Order struct {
	ID               string
	UserID           string
	Total            decimal.Decimal
	Currency         string
	Status           OrderStatus
	GatewayIntentRef string
	PaymentMethodRef string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CanTransitionTo reports whether next is a legal successor of the current status.
func (o *Order) CanTransitionTo(next OrderStatus) bool {
	for _, s := range orderTransitions[o.Status] {
		if s == next {
			return true
		}
	}
	return false
}

// TransitionTo moves the order to next. Moving to the current status is a no-op and returns false.
func (o *Order) TransitionTo(next OrderStatus, now time.Time) (bool, error) {
	if o.Status == next {
		return false, nil
	}
	if !o.CanTransitionTo(next) {
		return false, Precondition("order %s cannot move from %s to %s", o.ID, o.Status, next)
	}
	o.Status = next
	o.UpdatedAt = now
	return true, nil
}

// IsRefundable reports whether the order has been paid and not yet fully reversed.
func (o *Order) IsRefundable() bool {
	switch o.Status {
	case OrderStatusPaid, OrderStatusShipped, OrderStatusDelivered:
		return true
	}
	return false
}

// OwnedBy reports whether userID may act on the order. An empty userID is the system actor.
func (o *Order) OwnedBy(userID string) bool {
	return userID == "" || o.UserID == userID
}
