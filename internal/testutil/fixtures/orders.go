package fixtures

import (
	"time"

	"github.com/google/uuid"
	"github.com/kevin07696/payment-orchestrator/internal/domain"
	"github.com/shopspring/decimal"
)

// OrderBuilder provides fluent API for building test orders.
type OrderBuilder struct {
	order *domain.Order
}

// NewOrder creates a PENDING 49.99 USD order with a random id.
func NewOrder() *OrderBuilder {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &OrderBuilder{
		order: &domain.Order{
			ID:        uuid.NewString(),
			UserID:    "user-1",
			Total:     decimal.RequireFromString("49.99"),
			Currency:  "USD",
			Status:    domain.OrderStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

func (b *OrderBuilder) WithID(id string) *OrderBuilder {
	b.order.ID = id
	return b
}

func (b *OrderBuilder) WithUserID(userID string) *OrderBuilder {
	b.order.UserID = userID
	return b
}

func (b *OrderBuilder) WithTotal(total string, currency string) *OrderBuilder {
	b.order.Total = decimal.RequireFromString(total)
	b.order.Currency = currency
	return b
}

func (b *OrderBuilder) WithStatus(status domain.OrderStatus) *OrderBuilder {
	b.order.Status = status
	return b
}

func (b *OrderBuilder) WithIntent(intentID string) *OrderBuilder {
	b.order.GatewayIntentRef = intentID
	return b
}

func (b *OrderBuilder) Build() *domain.Order {
	return b.order
}

// PaidCardTransaction returns a succeeded card transaction for order.
func PaidCardTransaction(order *domain.Order, intentID string) *domain.PaymentTransaction {
	return &domain.PaymentTransaction{
		ID:              uuid.NewString(),
		OrderID:         order.ID,
		Gateway:         domain.GatewayCard,
		GatewayIntentID: intentID,
		Amount:          order.Total,
		Currency:        order.Currency,
		Status:          domain.IntentStatusSucceeded,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
}
