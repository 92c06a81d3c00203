package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// GatewayKind identifies which remote provider owns a transaction.
type GatewayKind string

const (
	GatewayCard   GatewayKind = "CARD"
	GatewayWallet GatewayKind = "WALLET"
)

// Card gateway intent statuses (gateway vocabulary, stored verbatim).
const (
	IntentStatusRequiresPaymentMethod = "requires_payment_method"
	IntentStatusRequiresConfirmation  = "requires_confirmation"
	IntentStatusRequiresAction        = "requires_action"
	IntentStatusProcessing            = "processing"
	IntentStatusRequiresCapture       = "requires_capture"
	IntentStatusSucceeded             = "succeeded"
	IntentStatusCanceled              = "canceled"
)

// Wallet gateway order/capture statuses.
const (
	WalletStatusCreated             = "CREATED"
	WalletStatusPayerActionRequired = "PAYER_ACTION_REQUIRED"
	WalletStatusApproved            = "APPROVED"
	WalletStatusCompleted           = "COMPLETED"
	WalletStatusPending             = "PENDING"
	WalletStatusDeclined            = "DECLINED"
	WalletStatusVoided              = "VOIDED"
)

// PaymentTransaction records one gateway payment attempt for an order.
// There is exactly one row per gateway intent (or wallet order) id.
type PaymentTransaction struct {
	ID              string
	OrderID         string
	Gateway         GatewayKind
	GatewayIntentID string
	Amount          decimal.Decimal
	Currency        string
	Status          string
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsTerminal reports whether the gateway will not move this transaction any further.
func (t *PaymentTransaction) IsTerminal() bool {
	switch t.Status {
	case IntentStatusSucceeded, IntentStatusCanceled,
		WalletStatusCompleted, WalletStatusDeclined, WalletStatusVoided:
		return true
	}
	return false
}

// IsSucceeded reports whether money was captured for this attempt.
func (t *PaymentTransaction) IsSucceeded() bool {
	return t.Status == IntentStatusSucceeded || t.Status == WalletStatusCompleted
}

// NonTerminalTransactionStatuses is the set scanned by the payment status sweep.
var NonTerminalTransactionStatuses = []string{
	IntentStatusRequiresPaymentMethod,
	IntentStatusRequiresConfirmation,
	IntentStatusRequiresAction,
	IntentStatusProcessing,
	IntentStatusRequiresCapture,
	WalletStatusCreated,
	WalletStatusPayerActionRequired,
	WalletStatusApproved,
	WalletStatusPending,
}

// OrderStatusForIntent maps a card intent status onto the order state machine.
// The boolean is false when the status does not imply an order transition.
func OrderStatusForIntent(status string) (OrderStatus, bool) {
	switch status {
	case IntentStatusSucceeded:
		return OrderStatusPaid, true
	case IntentStatusCanceled:
		return OrderStatusCancelled, true
	case IntentStatusProcessing, IntentStatusRequiresAction, IntentStatusRequiresConfirmation,
		IntentStatusRequiresCapture, IntentStatusRequiresPaymentMethod:
		return OrderStatusProcessing, true
	}
	return "", false
}

// OrderStatusForWallet maps a wallet order or capture status onto the order state machine.
func OrderStatusForWallet(status string) (OrderStatus, bool) {
	switch status {
	case WalletStatusCompleted:
		return OrderStatusPaid, true
	case WalletStatusPending:
		return OrderStatusProcessing, true
	case WalletStatusVoided:
		return OrderStatusCancelled, true
	}
	return "", false
}
