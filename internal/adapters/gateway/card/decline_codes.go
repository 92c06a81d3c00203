package card

import (
	"net/http"

	pkgerrors "github.com/kevin07696/payment-orchestrator/pkg/errors"
)

// declineCodes folds the gateway's issuer decline codes into the categories we show users.
// Anything not listed is a generic decline.
var declineCodes = map[string]pkgerrors.DeclineCategory{
	"insufficient_funds":              pkgerrors.DeclineInsufficientFunds,
	"card_velocity_exceeded":          pkgerrors.DeclineInsufficientFunds,
	"withdrawal_count_limit_exceeded": pkgerrors.DeclineInsufficientFunds,

	"expired_card": pkgerrors.DeclineExpiredCard,

	"incorrect_cvc": pkgerrors.DeclineIncorrectCVC,
	"invalid_cvc":   pkgerrors.DeclineIncorrectCVC,

	"lost_card":   pkgerrors.DeclineLostOrStolen,
	"stolen_card": pkgerrors.DeclineLostOrStolen,
	"pickup_card": pkgerrors.DeclineLostOrStolen,
}

// declineCategory maps an issuer decline code, falling back to the top-level error code.
func declineCategory(declineCode, code string) pkgerrors.DeclineCategory {
	if c, ok := declineCodes[declineCode]; ok {
		return c
	}
	if c, ok := declineCodes[code]; ok {
		return c
	}
	return pkgerrors.DeclineGeneric
}

// categoryFor classifies an error response by HTTP status and gateway error type.
func categoryFor(status int, errType string) pkgerrors.ErrorCategory {
	switch {
	case errType == "card_error" || status == http.StatusPaymentRequired:
		return pkgerrors.CategoryCardDeclined
	case errType == "idempotency_error":
		return pkgerrors.CategoryIdempotency
	case status == http.StatusTooManyRequests:
		return pkgerrors.CategoryRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return pkgerrors.CategoryAuthentication
	case status == http.StatusConflict:
		// lock contention on the gateway side; the same request can be replayed
		return pkgerrors.CategoryAPIError
	case status >= 500:
		return pkgerrors.CategoryAPIError
	case status >= 400:
		return pkgerrors.CategoryInvalidRequest
	}
	return pkgerrors.CategoryUnknown
}
