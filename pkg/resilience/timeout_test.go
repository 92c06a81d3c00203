package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTimeoutConfig_Hierarchy(t *testing.T) {
	config := DefaultTimeoutConfig()

	assert.Greater(t, config.HTTPHandler, config.Service, "handler must outlive the service call")
	assert.Greater(t, config.Webhook, config.GatewayAttempt)
	assert.Greater(t, config.Sweep, config.Service)

	// The service budget must cover a full retry envelope.
	policy := DefaultRetryPolicy()
	envelope := time.Duration(policy.MaxAttempts) * config.GatewayAttempt
	for i := 0; i < policy.MaxAttempts-1; i++ {
		envelope += policy.Backoff.NextDelay(i)
	}
	assert.Greater(t, config.Service, envelope)
}

func TestTestTimeoutConfig(t *testing.T) {
	config := TestTimeoutConfig()
	assert.Less(t, config.HTTPHandler, 10*time.Second)
	assert.Greater(t, config.HTTPHandler, config.Service)
}

func TestTimeoutConfig_Contexts(t *testing.T) {
	config := TestTimeoutConfig()

	ctx, cancel := config.AttemptContext(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(config.GatewayAttempt), deadline, 100*time.Millisecond)
}
