package refund

import (
	"github.com/kevin07696/payment-orchestrator/internal/domain"
	"github.com/shopspring/decimal"
)

// RefundState is the refundable position of an order, computed by replaying its
// payment transactions and refunds in order.
type RefundState struct {
	// Captured card intent that refunds are issued against ("" if none).
	CapturedIntentID string
	CapturedAmount   decimal.Decimal
	Currency         string

	RefundedAmount decimal.Decimal // SUCCEEDED
	PendingAmount  decimal.Decimal // PENDING, may still succeed

	// Set when the captured payment went through the wallet gateway.
	WalletCaptured bool
}

// ComputeRefundState replays txns and refunds. The captured amount is the order total:
// partial captures do not exist in this system.
func ComputeRefundState(order *domain.Order, txns []*domain.PaymentTransaction, refunds []*domain.Refund) *RefundState {
	state := &RefundState{
		CapturedAmount: decimal.Zero,
		Currency:       order.Currency,
		RefundedAmount: decimal.Zero,
		PendingAmount:  decimal.Zero,
	}

	for _, txn := range txns {
		if !txn.IsSucceeded() {
			continue
		}
		switch txn.Gateway {
		case domain.GatewayCard:
			// The most recent succeeded intent wins; a superseded intent that also captured is
			// reconciled by hand.
			state.CapturedIntentID = txn.GatewayIntentID
			state.CapturedAmount = order.Total
			state.Currency = txn.Currency
			state.WalletCaptured = false
		case domain.GatewayWallet:
			if state.CapturedIntentID == "" {
				state.WalletCaptured = true
			}
		}
	}

	for _, r := range refunds {
		switch r.Status {
		case domain.RefundStatusSucceeded:
			state.RefundedAmount = state.RefundedAmount.Add(r.Amount)
		case domain.RefundStatusPending:
			state.PendingAmount = state.PendingAmount.Add(r.Amount)
		}
	}
	return state
}

// Remainder is what can still be refunded without risking an overshoot.
func (s *RefundState) Remainder() decimal.Decimal {
	remainder := s.CapturedAmount.Sub(s.RefundedAmount).Sub(s.PendingAmount)
	if remainder.IsNegative() {
		return decimal.Zero
	}
	return remainder
}

// FullyRefunded reports whether confirmed refunds cover the captured amount.
func (s *RefundState) FullyRefunded() bool {
	return s.CapturedAmount.IsPositive() && s.RefundedAmount.GreaterThanOrEqual(s.CapturedAmount)
}

// CanRefund checks if a refund of amount is allowed
func (s *RefundState) CanRefund(amount decimal.Decimal) (bool, string) {
	if s.CapturedIntentID == "" {
		if s.WalletCaptured {
			return false, "wallet payments are refunded through the wallet provider"
		}
		return false, "no captured card payment to refund"
	}
	remainder := s.Remainder()
	if remainder.IsZero() {
		return false, "order has nothing left to refund"
	}
	if !amount.IsPositive() {
		return false, "refund amount must be positive"
	}
	if amount.GreaterThan(remainder) {
		return false, "refund amount exceeds remaining refundable amount " + remainder.StringFixed(domain.CurrencyExponent(s.Currency))
	}
	return true, ""
}
