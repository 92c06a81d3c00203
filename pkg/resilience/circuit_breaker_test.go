package resilience

import (
	"errors"
	"testing"
	"time"

	pkgerrors "github.com/kevin07696/payment-orchestrator/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transientErr() error {
	return pkgerrors.NewGatewayError("api_error", "502", pkgerrors.CategoryAPIError)
}

func TestCircuitBreaker_OpensAfterTransientFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 2, Timeout: time.Minute, MaxRequestsHalfOpen: 1})

	_ = cb.Call(transientErr)
	assert.Equal(t, StateClosed, cb.State())
	_ = cb.Call(transientErr)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Call(func() error { called = true; return nil })
	assert.ErrorIs(t, err, pkgerrors.ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_DeclinesDoNotTrip(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Minute, MaxRequestsHalfOpen: 1})

	decline := pkgerrors.NewGatewayError("card_declined", "declined", pkgerrors.CategoryCardDeclined)
	for i := 0; i < 5; i++ {
		require.Equal(t, decline, cb.Call(func() error { return decline }))
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	var transitions []CircuitState
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:         1,
		Timeout:             time.Second,
		MaxRequestsHalfOpen: 1,
		OnStateChange:       func(_, to CircuitState) { transitions = append(transitions, to) },
	})
	now := time.Now()
	cb.now = func() time.Time { return now }

	_ = cb.Call(transientErr)
	require.Equal(t, StateOpen, cb.State())

	now = now.Add(2 * time.Second)
	require.NoError(t, cb.Call(func() error { return nil }))

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, []CircuitState{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Second, MaxRequestsHalfOpen: 1})
	now := time.Now()
	cb.now = func() time.Time { return now }

	_ = cb.Call(transientErr)
	now = now.Add(2 * time.Second)
	_ = cb.Call(func() error { return errors.New("still down") }) // unknown errors don't count
	assert.Equal(t, StateClosed, cb.State())

	_ = cb.Call(transientErr)
	now = now.Add(2 * time.Second)
	_ = cb.Call(transientErr)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}
