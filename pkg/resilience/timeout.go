package resilience

import (
	"context"
	"time"
)

// TimeoutConfig defines timeout values for the service's timeout hierarchy
//
// Timeout Hierarchy (from outermost to innermost):
//
//	HTTP Handler (60s) / Webhook (45s) / Sweep (5m per run)
//	  ↓
//	Orchestrator call (50s)
//	  ↓
//	Executor retry envelope (3 attempts + 1s + 2s backoff)
//	  ↓
//	Single gateway attempt (10s)
//
// The executor's attempt budget is the only retry boundary; these timeouts
// only make sure an outer layer never gives up before an inner one.
type TimeoutConfig struct {
	HTTPHandler    time.Duration
	Webhook        time.Duration
	Sweep          time.Duration
	Service        time.Duration
	GatewayAttempt time.Duration
}

// DefaultTimeoutConfig returns production timeout values
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		HTTPHandler:    60 * time.Second,
		Webhook:        45 * time.Second,
		Sweep:          5 * time.Minute,
		Service:        50 * time.Second,
		GatewayAttempt: 10 * time.Second,
	}
}

// TestTimeoutConfig returns shorter timeouts for testing
func TestTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		HTTPHandler:    5 * time.Second,
		Webhook:        4 * time.Second,
		Sweep:          10 * time.Second,
		Service:        4 * time.Second,
		GatewayAttempt: 1 * time.Second,
	}
}

// HandlerContext creates a context with timeout for HTTP handlers
func (tc TimeoutConfig) HandlerContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.HTTPHandler)
}

// WebhookContext creates a context for processing one inbound webhook
func (tc TimeoutConfig) WebhookContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.Webhook)
}

// SweepContext creates a context for one reconciliation sweep run
func (tc TimeoutConfig) SweepContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.Sweep)
}

// ServiceContext creates a context with timeout for service layer operations
func (tc TimeoutConfig) ServiceContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.Service)
}

// AttemptContext creates a context for a single gateway HTTP attempt
func (tc TimeoutConfig) AttemptContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.GatewayAttempt)
}
