package payment

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/kevin07696/payment-orchestrator/internal/domain"
	"github.com/kevin07696/payment-orchestrator/internal/domain/ports"
	"github.com/shopspring/decimal"
)

// =====================================================
// PAYMENT INTENT
// =====================================================

// IntentRequest is the body of create and confirm. Both fields are optional.
type IntentRequest struct {
	PaymentMethodID string `json:"payment_method_id,omitempty"`
}

func (r IntentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.PaymentMethodID, validation.Length(1, 255)),
	)
}

type CancelIntentRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (r CancelIntentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Reason, validation.Length(0, 500)),
	)
}

// =====================================================
// REFUND
// =====================================================

type CreateRefundRequest struct {
	Amount *decimal.Decimal    `json:"amount,omitempty"`
	Reason domain.RefundReason `json:"reason,omitempty"`
}

func (r CreateRefundRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Amount, validation.By(positiveAmount)),
		validation.Field(&r.Reason, validation.In(
			domain.RefundReasonDuplicate,
			domain.RefundReasonFraudulent,
			domain.RefundReasonRequestedByCustomer,
		)),
	)
}

func positiveAmount(value interface{}) error {
	amount, _ := value.(*decimal.Decimal)
	if amount == nil {
		return nil
	}
	if !amount.IsPositive() {
		return validation.NewError("validation_amount_positive", "must be greater than zero")
	}
	if amount.Exponent() < -2 {
		return validation.NewError("validation_amount_precision", "must have at most two decimal places")
	}
	return nil
}

type RefundResponse struct {
	ID              string          `json:"id"`
	OrderID         string          `json:"order_id"`
	GatewayRefundID string          `json:"gateway_refund_id,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Status          string          `json:"status"`
	Reason          string          `json:"reason,omitempty"`
	FailureReason   string          `json:"failure_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func toRefundResponse(r *domain.Refund) RefundResponse {
	return RefundResponse{
		ID:              r.ID,
		OrderID:         r.OrderID,
		GatewayRefundID: r.GatewayRefundID,
		Amount:          r.Amount,
		Currency:        r.Currency,
		Status:          string(r.Status),
		Reason:          string(r.Reason),
		FailureReason:   r.FailureReason,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

// =====================================================
// WALLET
// =====================================================

type CreateWalletPaymentRequest struct {
	ReturnURL string                 `json:"return_url"`
	CancelURL string                 `json:"cancel_url"`
	Shipping  *ports.ShippingAddress `json:"shipping,omitempty"`
}

func (r CreateWalletPaymentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ReturnURL, validation.Required, is.URL),
		validation.Field(&r.CancelURL, validation.Required, is.URL),
		validation.Field(&r.Shipping, validation.By(validShipping)),
	)
}

func validShipping(value interface{}) error {
	s, _ := value.(*ports.ShippingAddress)
	if s == nil {
		return nil
	}
	return validation.ValidateStruct(s,
		validation.Field(&s.FullName, validation.Required, validation.Length(1, 300)),
		validation.Field(&s.AddressLine1, validation.Required, validation.Length(1, 300)),
		validation.Field(&s.City, validation.Required),
		validation.Field(&s.PostalCode, validation.Required),
		validation.Field(&s.CountryCode, validation.Required, is.CountryCode2),
	)
}

type CaptureWalletPaymentRequest struct {
	ProviderOrderID string `json:"provider_order_id"`
}

func (r CaptureWalletPaymentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ProviderOrderID, validation.Required, validation.Length(1, 64)),
	)
}

// =====================================================
// DISPUTE
// =====================================================

type SubmitEvidenceRequest struct {
	Evidence domain.DisputeEvidence `json:"evidence"`
	Submit   bool                   `json:"submit"`
}

func (r SubmitEvidenceRequest) Validate() error {
	e := r.Evidence
	return validation.ValidateStruct(&e,
		validation.Field(&e.CustomerEmailAddress, is.EmailFormat),
		validation.Field(&e.UncategorizedText, validation.Length(0, 20000)),
		validation.Field(&e.ProductDescription, validation.Length(0, 20000)),
	)
}

type SyncDisputeRequest struct {
	GatewayDisputeID string `json:"gateway_dispute_id"`
	IntentID         string `json:"intent_id"`
}

func (r SyncDisputeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.GatewayDisputeID, validation.Required),
		validation.Field(&r.IntentID, validation.Required),
	)
}

type DisputeResponse struct {
	ID                string          `json:"id"`
	OrderID           string          `json:"order_id"`
	GatewayDisputeID  string          `json:"gateway_dispute_id"`
	GatewayIntentID   string          `json:"gateway_intent_id"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Status            string          `json:"status"`
	Reason            string          `json:"reason,omitempty"`
	EvidenceDueBy     *time.Time      `json:"evidence_due_by,omitempty"`
	EvidenceFileIDs   []string        `json:"evidence_file_ids,omitempty"`
	EvidenceSubmitted bool            `json:"evidence_submitted"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func toDisputeResponse(d *domain.Dispute) DisputeResponse {
	return DisputeResponse{
		ID:                d.ID,
		OrderID:           d.OrderID,
		GatewayDisputeID:  d.GatewayDisputeID,
		GatewayIntentID:   d.GatewayIntentID,
		Amount:            d.Amount,
		Currency:          d.Currency,
		Status:            string(d.Status),
		Reason:            d.Reason,
		EvidenceDueBy:     d.EvidenceDueBy,
		EvidenceFileIDs:   d.EvidenceFileIDs,
		EvidenceSubmitted: d.EvidenceSubmitted,
		UpdatedAt:         d.UpdatedAt,
	}
}

// =====================================================
// PAYMENT METHODS
// =====================================================

type AttachPaymentMethodRequest struct {
	GatewayPaymentMethodID string `json:"gateway_payment_method_id"`
	MakeDefault            bool   `json:"make_default"`
}

func (r AttachPaymentMethodRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.GatewayPaymentMethodID, validation.Required, validation.Length(1, 255)),
	)
}

type PaymentMethodResponse struct {
	ID                     string    `json:"id"`
	GatewayPaymentMethodID string    `json:"gateway_payment_method_id"`
	Brand                  string    `json:"brand"`
	Last4                  string    `json:"last4"`
	ExpMonth               int       `json:"exp_month"`
	ExpYear                int       `json:"exp_year"`
	IsDefault              bool      `json:"is_default"`
	CreatedAt              time.Time `json:"created_at"`
}

func toPaymentMethodResponse(pm *domain.CustomerPaymentMethod) PaymentMethodResponse {
	return PaymentMethodResponse{
		ID:                     pm.ID,
		GatewayPaymentMethodID: pm.GatewayPaymentMethodID,
		Brand:                  pm.Brand,
		Last4:                  pm.Last4,
		ExpMonth:               pm.ExpMonth,
		ExpYear:                pm.ExpYear,
		IsDefault:              pm.IsDefault,
		CreatedAt:              pm.CreatedAt,
	}
}
