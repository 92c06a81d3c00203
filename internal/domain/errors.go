package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a machine-readable error code
type ErrorCode string

const (
	// Authentication & Authorization Errors (AUTH_*)
	ErrorCodeAuthMissing      ErrorCode = "AUTH_MISSING"
	ErrorCodeAuthInvalid      ErrorCode = "AUTH_INVALID"
	ErrorCodeAuthAccessDenied ErrorCode = "AUTH_ACCESS_DENIED"

	// Not found errors
	ErrorCodeOrderNotFound   ErrorCode = "ORDER_NOT_FOUND"
	ErrorCodeTxnNotFound     ErrorCode = "TXN_NOT_FOUND"
	ErrorCodeRefundNotFound  ErrorCode = "REFUND_NOT_FOUND"
	ErrorCodeDisputeNotFound ErrorCode = "DISPUTE_NOT_FOUND"
	ErrorCodePMNotFound      ErrorCode = "PM_NOT_FOUND"

	// Precondition errors: the request is well formed but the entity is in the wrong state
	ErrorCodePreconditionFailed     ErrorCode = "PRECONDITION_FAILED"
	ErrorCodeRefundExceedsRemainder ErrorCode = "REFUND_EXCEEDS_REMAINDER"
	ErrorCodeEvidenceWindowClosed   ErrorCode = "DISPUTE_EVIDENCE_CLOSED"
	ErrorCodeProviderOrderMismatch  ErrorCode = "PROVIDER_ORDER_MISMATCH"

	// Validation Errors (VALIDATION_*)
	ErrorCodeValidationFailed        ErrorCode = "VALIDATION_FAILED"
	ErrorCodeValidationAmountInvalid ErrorCode = "VALIDATION_AMOUNT_INVALID"
	ErrorCodeValidationMissingField  ErrorCode = "VALIDATION_MISSING_FIELD"

	// Payment Gateway Errors (GATEWAY_*)
	ErrorCodeGatewayError       ErrorCode = "GATEWAY_ERROR"
	ErrorCodeGatewayDeclined    ErrorCode = "GATEWAY_DECLINED"
	ErrorCodeGatewayUnavailable ErrorCode = "GATEWAY_UNAVAILABLE"

	// Idempotency Errors (IDEMPOTENCY_*)
	ErrorCodeIdempotencyConflict ErrorCode = "IDEMPOTENCY_CONFLICT"
	ErrorCodeIdempotencyInFlight ErrorCode = "IDEMPOTENCY_IN_FLIGHT"

	// Internal Errors (INTERNAL_*)
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrorCodeDatabaseError ErrorCode = "INTERNAL_DATABASE_ERROR"
)

// DomainError represents a structured domain error with error code and context
type DomainError struct {
	Err     error
	Details map[string]interface{}
	Code    ErrorCode
	Message string
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches another DomainError by code so sentinel values work with errors.Is.
func (e *DomainError) Is(target error) bool {
	var other *DomainError
	if errors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

// WithDetail adds a detail field to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(code ErrorCode, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with a domain error code
func WrapError(code ErrorCode, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Err:     err,
	}
}

// Precondition returns a PRECONDITION_FAILED error with a formatted message.
func Precondition(format string, args ...interface{}) *DomainError {
	return NewDomainError(ErrorCodePreconditionFailed, fmt.Sprintf(format, args...))
}

// IsDomainError checks if an error is a DomainError with the given code
func IsDomainError(err error, code ErrorCode) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error, returns empty string if not a DomainError
func GetErrorCode(err error) ErrorCode {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// IsNotFoundError checks if an error represents a "not found" condition
func IsNotFoundError(err error) bool {
	switch GetErrorCode(err) {
	case ErrorCodeOrderNotFound, ErrorCodeTxnNotFound, ErrorCodeRefundNotFound,
		ErrorCodeDisputeNotFound, ErrorCodePMNotFound:
		return true
	}
	return false
}

// IsPreconditionError reports errors raised locally because an entity is in the wrong state.
// These are never retried.
func IsPreconditionError(err error) bool {
	switch GetErrorCode(err) {
	case ErrorCodePreconditionFailed, ErrorCodeRefundExceedsRemainder,
		ErrorCodeEvidenceWindowClosed, ErrorCodeProviderOrderMismatch:
		return true
	}
	return false
}

// IsAuthError checks if an error is authentication/authorization related
func IsAuthError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeAuthMissing ||
		code == ErrorCodeAuthInvalid ||
		code == ErrorCodeAuthAccessDenied
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeValidationFailed ||
		code == ErrorCodeValidationAmountInvalid ||
		code == ErrorCodeValidationMissingField
}

// IsGatewayError checks if an error is a payment gateway error
func IsGatewayError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeGatewayError ||
		code == ErrorCodeGatewayDeclined ||
		code == ErrorCodeGatewayUnavailable
}

var (
	ErrAuthMissing      = NewDomainError(ErrorCodeAuthMissing, "authentication required")
	ErrAuthInvalid      = NewDomainError(ErrorCodeAuthInvalid, "invalid authentication")
	ErrAuthAccessDenied = NewDomainError(ErrorCodeAuthAccessDenied, "access denied")

	ErrOrderNotFound   = NewDomainError(ErrorCodeOrderNotFound, "order not found")
	ErrTxnNotFound     = NewDomainError(ErrorCodeTxnNotFound, "payment transaction not found")
	ErrRefundNotFound  = NewDomainError(ErrorCodeRefundNotFound, "refund not found")
	ErrDisputeNotFound = NewDomainError(ErrorCodeDisputeNotFound, "dispute not found")
	ErrPMNotFound      = NewDomainError(ErrorCodePMNotFound, "payment method not found")

	ErrRefundExceedsRemainder = NewDomainError(ErrorCodeRefundExceedsRemainder, "refund amount exceeds refundable remainder")
	ErrEvidenceWindowClosed   = NewDomainError(ErrorCodeEvidenceWindowClosed, "dispute no longer accepts evidence")
	ErrProviderOrderMismatch  = NewDomainError(ErrorCodeProviderOrderMismatch, "provider order does not belong to this order")

	ErrValidationFailed        = NewDomainError(ErrorCodeValidationFailed, "validation failed")
	ErrValidationAmountInvalid = NewDomainError(ErrorCodeValidationAmountInvalid, "invalid amount")
	ErrValidationMissingField  = NewDomainError(ErrorCodeValidationMissingField, "required field missing")

	ErrIdempotencyConflict = NewDomainError(ErrorCodeIdempotencyConflict, "idempotency key conflict")
	ErrIdempotencyInFlight = NewDomainError(ErrorCodeIdempotencyInFlight, "operation with this idempotency key is still in progress")

	ErrInternalError = NewDomainError(ErrorCodeInternalError, "internal server error")
	ErrDatabaseError = NewDomainError(ErrorCodeDatabaseError, "database error")
)
