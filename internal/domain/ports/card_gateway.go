package ports

import (
	"context"
	"time"

	"github.com/kevin07696/payment-orchestrator/internal/domain"
)

// IntentParams describes a new payment intent. Amounts are in minor units.
type IntentParams struct {
	AmountMinor     int64
	Currency        string
	CustomerID      string
	PaymentMethodID string
	Description     string
	Metadata        map[string]string
}

// Intent is the gateway's view of one payment attempt.
type Intent struct {
	ID               string
	Status           string
	AmountMinor      int64
	Currency         string
	ClientSecret     string
	PaymentMethodID  string
	LastErrorCode    string
	LastErrorMessage string
	Metadata         map[string]string
}

// RefundParams describes a refund against a captured intent.
// Zero AmountMinor means the gateway refunds the remaining captured amount.
type RefundParams struct {
	IntentID    string
	AmountMinor int64
	Reason      string
	Metadata    map[string]string
}

// GatewayRefund is the gateway's view of a refund.
type GatewayRefund struct {
	ID            string
	IntentID      string
	Status        string
	AmountMinor   int64
	Currency      string
	Reason        string
	FailureReason string
	Metadata      map[string]string
}

// GatewayDispute is the gateway's view of a dispute.
type GatewayDispute struct {
	ID              string
	IntentID        string
	Status          string
	AmountMinor     int64
	Currency        string
	Reason          string
	EvidenceDueBy   *time.Time
	SubmissionCount int
}

// DisputeUpdate stages (Submit=false) or submits evidence.
type DisputeUpdate struct {
	Evidence domain.DisputeEvidence
	Submit   bool
	Metadata map[string]string
}

// FileParams describes an evidence file upload.
type FileParams struct {
	Purpose     string
	FileName    string
	ContentType string
	Data        []byte
}

// GatewayFile is an uploaded file reference.
type GatewayFile struct {
	ID   string
	Size int64
}

// GatewayPaymentMethod is the non-sensitive card summary returned on attach.
type GatewayPaymentMethod struct {
	ID         string
	CustomerID string
	Brand      string
	Last4      string
	ExpMonth   int
	ExpYear    int
}

// CardGateway is the narrow operation set of the card/intent payment gateway.
// idempotencyKey is forwarded to the gateway as a second line of defense.
type CardGateway interface {
	CreateIntent(ctx context.Context, params IntentParams, idempotencyKey string) (*Intent, error)
	RetrieveIntent(ctx context.Context, intentID string) (*Intent, error)
	ConfirmIntent(ctx context.Context, intentID, paymentMethodID, idempotencyKey string) (*Intent, error)
	CancelIntent(ctx context.Context, intentID, idempotencyKey string) (*Intent, error)

	CreateRefund(ctx context.Context, params RefundParams, idempotencyKey string) (*GatewayRefund, error)
	RetrieveRefund(ctx context.Context, refundID string) (*GatewayRefund, error)

	RetrieveDispute(ctx context.Context, disputeID string) (*GatewayDispute, error)
	UpdateDispute(ctx context.Context, disputeID string, update DisputeUpdate, idempotencyKey string) (*GatewayDispute, error)
	CreateEvidenceFile(ctx context.Context, params FileParams) (*GatewayFile, error)

	CreateCustomer(ctx context.Context, userID, idempotencyKey string) (string, error)
	AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) (*GatewayPaymentMethod, error)
	DetachPaymentMethod(ctx context.Context, paymentMethodID string) error
}

// CardEvent is a decoded webhook event. Exactly one object field is set for known types.
type CardEvent struct {
	ID      string
	Type    string
	Created time.Time
	Intent  *Intent
	Refund  *GatewayRefund
	Dispute *GatewayDispute
}

// CardEventDecoder turns a verified webhook payload into a CardEvent.
type CardEventDecoder interface {
	DecodeEvent(payload []byte) (*CardEvent, error)
}
