package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ""},
		{"gateway error", NewGatewayError("rate_limit", "slow down", CategoryRateLimited), CategoryRateLimited},
		{"wrapped gateway error", fmt.Errorf("confirm: %w", NewGatewayError("x", "y", CategoryCardDeclined)), CategoryCardDeclined},
		{"net op error", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, CategoryNetworkError},
		{"connection refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), CategoryNetworkError},
		{"unexpected eof", io.ErrUnexpectedEOF, CategoryNetworkError},
		{"circuit open", ErrCircuitOpen, CategoryNetworkError},
		{"attempt deadline", context.DeadlineExceeded, CategoryNetworkError},
		{"caller canceled", context.Canceled, CategoryCanceled},
		{"opaque", stderrors.New("boom"), CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestDeclineOf(t *testing.T) {
	err := &GatewayError{Code: "card_declined", Category: CategoryCardDeclined, Decline: DeclineExpiredCard}
	decline, ok := DeclineOf(fmt.Errorf("wrapped: %w", err))
	assert.True(t, ok)
	assert.Equal(t, DeclineExpiredCard, decline)

	generic := &GatewayError{Code: "card_declined", Category: CategoryCardDeclined}
	decline, ok = DeclineOf(generic)
	assert.True(t, ok)
	assert.Equal(t, DeclineGeneric, decline)

	_, ok = DeclineOf(NewGatewayError("api_error", "boom", CategoryAPIError))
	assert.False(t, ok)
}

func TestDeclineCategory_UserMessage(t *testing.T) {
	assert.Contains(t, DeclineInsufficientFunds.UserMessage(), "Insufficient funds")
	assert.Contains(t, DeclineIncorrectCVC.UserMessage(), "security code")
	assert.Equal(t, DeclineGeneric.UserMessage(), DeclineCategory("nope").UserMessage())
}

func TestGatewayError_Error(t *testing.T) {
	err := &GatewayError{Code: "invalid_request", Message: "bad amount", GatewayMessage: "amount must be positive"}
	assert.Equal(t, "invalid_request: bad amount (gateway: amount must be positive)", err.Error())
	assert.Equal(t, "api_error: boom", NewGatewayError("api_error", "boom", CategoryAPIError).Error())
}
