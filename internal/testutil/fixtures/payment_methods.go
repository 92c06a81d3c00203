package fixtures

import (
	"time"

	"github.com/google/uuid"
	"github.com/kevin07696/payment-orchestrator/internal/domain"
)

// PaymentMethodBuilder provides fluent API for building test payment methods.
type PaymentMethodBuilder struct {
	paymentMethod *domain.CustomerPaymentMethod
}

// NewPaymentMethod creates a visa card expiring in 12/2030.
func NewPaymentMethod() *PaymentMethodBuilder {
	return &PaymentMethodBuilder{
		paymentMethod: &domain.CustomerPaymentMethod{
			ID:                     uuid.NewString(),
			UserID:                 "user-1",
			GatewayPaymentMethodID: "pm_" + uuid.NewString()[:8],
			Brand:                  "visa",
			Last4:                  "4242",
			ExpMonth:               12,
			ExpYear:                2030,
			CreatedAt:              time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}
}

func (b *PaymentMethodBuilder) WithID(id string) *PaymentMethodBuilder {
	b.paymentMethod.ID = id
	return b
}

func (b *PaymentMethodBuilder) WithUserID(userID string) *PaymentMethodBuilder {
	b.paymentMethod.UserID = userID
	return b
}

func (b *PaymentMethodBuilder) WithGatewayID(id string) *PaymentMethodBuilder {
	b.paymentMethod.GatewayPaymentMethodID = id
	return b
}

func (b *PaymentMethodBuilder) WithExpiry(month, year int) *PaymentMethodBuilder {
	b.paymentMethod.ExpMonth = month
	b.paymentMethod.ExpYear = year
	return b
}

func (b *PaymentMethodBuilder) AsDefault() *PaymentMethodBuilder {
	b.paymentMethod.IsDefault = true
	return b
}

func (b *PaymentMethodBuilder) Build() *domain.CustomerPaymentMethod {
	return b.paymentMethod
}
