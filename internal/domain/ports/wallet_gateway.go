package ports

import (
	"context"

	"github.com/shopspring/decimal"
)

// ShippingAddress is the optional shipping block sent with a wallet order.
type ShippingAddress struct {
	FullName     string `json:"full_name"`
	AddressLine1 string `json:"address_line_1"`
	AddressLine2 string `json:"address_line_2,omitempty"`
	City         string `json:"city"`
	State        string `json:"state,omitempty"`
	PostalCode   string `json:"postal_code"`
	CountryCode  string `json:"country_code"`
}

// WalletOrderParams describes a provider-side order awaiting buyer approval.
type WalletOrderParams struct {
	ReferenceID string
	Amount      decimal.Decimal
	Currency    string
	ReturnURL   string
	CancelURL   string
	Shipping    *ShippingAddress
}

// WalletOrder is the provider's view of an order and, once captured, its capture.
type WalletOrder struct {
	ID            string
	Status        string
	ReferenceID   string
	ApprovalURL   string
	Amount        decimal.Decimal
	Currency      string
	CaptureID     string
	CaptureStatus string
}

// EffectiveStatus returns the capture status when one exists, otherwise the order status.
func (o *WalletOrder) EffectiveStatus() string {
	if o.CaptureStatus != "" {
		return o.CaptureStatus
	}
	return o.Status
}

// WalletIssueAlreadyCaptured is the gateway error code for capturing an order twice.
const WalletIssueAlreadyCaptured = "ORDER_ALREADY_CAPTURED"

// WalletGateway is the redirect/capture style provider.
type WalletGateway interface {
	CreateOrder(ctx context.Context, params WalletOrderParams, requestID string) (*WalletOrder, error)
	CaptureOrder(ctx context.Context, providerOrderID, requestID string) (*WalletOrder, error)
	GetOrder(ctx context.Context, providerOrderID string) (*WalletOrder, error)
}

// WalletEvent is a decoded wallet webhook notification.
type WalletEvent struct {
	ID              string
	EventType       string
	ResourceType    string
	ProviderOrderID string
}

// WalletEventDecoder turns a verified webhook payload into a WalletEvent.
type WalletEventDecoder interface {
	DecodeEvent(payload []byte) (*WalletEvent, error)
}
