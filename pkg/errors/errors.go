package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// ErrorCategory represents the category of error for handling
type ErrorCategory string

const (
	// Transient: the same call may succeed later.
	CategoryNetworkError ErrorCategory = "network_error"
	CategoryAPIError     ErrorCategory = "api_error"
	CategoryRateLimited  ErrorCategory = "rate_limited"

	// Fatal: retrying cannot change the outcome.
	CategoryAuthentication ErrorCategory = "authentication"
	CategoryInvalidRequest ErrorCategory = "invalid_request"
	CategoryCardDeclined   ErrorCategory = "card_declined"
	CategoryIdempotency    ErrorCategory = "idempotency_error"

	// Caller gave up.
	CategoryCanceled ErrorCategory = "canceled"

	CategoryUnknown ErrorCategory = "unknown"
)

// DeclineCategory is the small set of user-facing decline reasons.
type DeclineCategory string

const (
	DeclineInsufficientFunds DeclineCategory = "insufficient_funds"
	DeclineExpiredCard       DeclineCategory = "expired_card"
	DeclineIncorrectCVC      DeclineCategory = "incorrect_cvc"
	DeclineLostOrStolen      DeclineCategory = "lost_or_stolen"
	DeclineGeneric           DeclineCategory = "generic_decline"
)

// GatewayError is a classified failure returned by a gateway adapter.
type GatewayError struct {
	Code           string
	Message        string
	GatewayMessage string
	Category       ErrorCategory
	Decline        DeclineCategory
	DeclineCode    string
	StatusCode     int
	RequestID      string
}

func (e *GatewayError) Error() string {
	if e.GatewayMessage != "" {
		return fmt.Sprintf("%s: %s (gateway: %s)", e.Code, e.Message, e.GatewayMessage)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsDecline reports whether the gateway refused the card.
func (e *GatewayError) IsDecline() bool {
	return e.Category == CategoryCardDeclined
}

// NewGatewayError creates a new gateway error
func NewGatewayError(code, message string, category ErrorCategory) *GatewayError {
	return &GatewayError{
		Code:     code,
		Message:  message,
		Category: category,
	}
}

// ErrCircuitOpen is returned by adapters while their circuit breaker rejects calls.
var ErrCircuitOpen = stderrors.New("circuit breaker is open")

// Classify maps any error returned from a gateway call onto a category.
func Classify(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	var gwErr *GatewayError
	if stderrors.As(err, &gwErr) {
		return gwErr.Category
	}

	if stderrors.Is(err, context.Canceled) {
		return CategoryCanceled
	}
	if stderrors.Is(err, ErrCircuitOpen) ||
		stderrors.Is(err, io.ErrUnexpectedEOF) ||
		stderrors.Is(err, io.EOF) ||
		stderrors.Is(err, syscall.ECONNRESET) ||
		stderrors.Is(err, syscall.ECONNREFUSED) {
		return CategoryNetworkError
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return CategoryNetworkError
	}

	// A per-attempt timeout surfaces as DeadlineExceeded; the executor checks the
	// caller's own context separately.
	if stderrors.Is(err, context.DeadlineExceeded) {
		return CategoryNetworkError
	}

	return CategoryUnknown
}

// DeclineOf returns the decline category when err is a card decline.
func DeclineOf(err error) (DeclineCategory, bool) {
	var gwErr *GatewayError
	if stderrors.As(err, &gwErr) && gwErr.IsDecline() {
		if gwErr.Decline == "" {
			return DeclineGeneric, true
		}
		return gwErr.Decline, true
	}
	return "", false
}

var declineMessages = map[DeclineCategory]string{
	DeclineInsufficientFunds: "Insufficient funds. Please use a different payment method or add funds to your account.",
	DeclineExpiredCard:       "Your card has expired. Please use a different payment method.",
	DeclineIncorrectCVC:      "Incorrect security code. Please check the CVC on your card.",
	DeclineLostOrStolen:      "This card cannot be used. Please contact your bank or use a different payment method.",
	DeclineGeneric:           "Your card was declined. Please use a different payment method.",
}

// UserMessage returns the customer-facing text for a decline category.
func (d DeclineCategory) UserMessage() string {
	if msg, ok := declineMessages[d]; ok {
		return msg
	}
	return declineMessages[DeclineGeneric]
}
