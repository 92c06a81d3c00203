package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kevin07696/payment-orchestrator/internal/domain"
	"github.com/kevin07696/payment-orchestrator/internal/testutil/fakes"
	pkgerrors "github.com/kevin07696/payment-orchestrator/pkg/errors"
	"github.com/kevin07696/payment-orchestrator/pkg/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type result struct {
	IntentID string `json:"intent_id"`
}

func newTestLedger(t *testing.T) (*Ledger, *fakes.Store) {
	t.Helper()
	store := fakes.NewStore()
	ledger := NewLedger(store.Idempotency(), Config{
		AwaitTimeout: 500 * time.Millisecond,
		Retention:    30 * 24 * time.Hour,
		PollBackoff:  &resilience.FixedBackoff{Delay: 5 * time.Millisecond},
	}, zaptest.NewLogger(t))
	return ledger, store
}

func TestLedger_BeginThenConflict(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	rec, err := ledger.Begin(ctx, nil, BeginParams{Key: "k1", Operation: domain.OperationCreateIntent, EntityID: "order-1",
		Request: map[string]string{"order_id": "order-1"}})
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyPending, rec.Status)

	_, err = ledger.Begin(ctx, nil, BeginParams{Key: "k1", Operation: domain.OperationCreateIntent})
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, domain.IdempotencyPending, conflict.Existing.Status)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeIdempotencyConflict))

	// Same key, different operation is a separate record.
	_, err = ledger.Begin(ctx, nil, BeginParams{Key: "k1", Operation: domain.OperationConfirmIntent})
	assert.NoError(t, err)
}

func TestLedger_ConcurrentBeginOneWinner(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.Begin(ctx, nil, BeginParams{Key: "race", Operation: domain.OperationCreateRefund}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestLedger_SucceedAndReplay(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Begin(ctx, nil, BeginParams{Key: "k2", Operation: domain.OperationCreateIntent})
	require.NoError(t, err)
	require.NoError(t, ledger.Succeed(ctx, nil, "k2", domain.OperationCreateIntent, "order-1", result{IntentID: "pi_1"}))

	var out result
	replayed, err := ledger.Replay(ctx, "k2", domain.OperationCreateIntent, &out)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, "pi_1", out.IntentID)

	// A SUCCESS record is never overwritten.
	err = ledger.Complete(ctx, nil, "k2", domain.OperationCreateIntent, domain.IdempotencyError, CompleteParams{ErrorDetail: "late"})
	assert.True(t, domain.IsPreconditionError(err))
	rec, err := ledger.Lookup(ctx, "k2", domain.OperationCreateIntent)
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencySuccess, rec.Status)
}

func TestLedger_ReplayUnknownKey(t *testing.T) {
	ledger, _ := newTestLedger(t)

	replayed, err := ledger.Replay(context.Background(), "never", domain.OperationCreateIntent, &result{})
	require.NoError(t, err)
	assert.False(t, replayed)
}

func TestLedger_AwaitObservesWinner(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Begin(ctx, nil, BeginParams{Key: "k3", Operation: domain.OperationCreateIntent})
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = ledger.Succeed(ctx, nil, "k3", domain.OperationCreateIntent, "order-1", result{IntentID: "pi_9"})
	}()

	var out result
	replayed, err := ledger.Replay(ctx, "k3", domain.OperationCreateIntent, &out)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, "pi_9", out.IntentID)
}

func TestLedger_AwaitTimesOut(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Begin(ctx, nil, BeginParams{Key: "k4", Operation: domain.OperationCreateIntent})
	require.NoError(t, err)

	rec, err := ledger.Await(ctx, "k4", domain.OperationCreateIntent)
	assert.ErrorIs(t, err, domain.ErrIdempotencyInFlight)
	require.NotNil(t, rec)
	assert.Equal(t, domain.IdempotencyPending, rec.Status)
}

func TestLedger_TransientFailureIsReclaimable(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Begin(ctx, nil, BeginParams{Key: "k5", Operation: domain.OperationCreateRefund})
	require.NoError(t, err)
	ledger.Fail(ctx, "k5", domain.OperationCreateRefund, errors.New("connection reset"), true)

	replayed, err := ledger.Replay(ctx, "k5", domain.OperationCreateRefund, nil)
	require.NoError(t, err)
	assert.False(t, replayed, "ERROR records are retried, not replayed")

	rec, err := ledger.Begin(ctx, nil, BeginParams{Key: "k5", Operation: domain.OperationCreateRefund, EntityID: "refund-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyPending, rec.Status)
	assert.Equal(t, "refund-1", rec.EntityID)
}

func TestLedger_FatalFailureReplaysSameError(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Begin(ctx, nil, BeginParams{Key: "k6", Operation: domain.OperationConfirmIntent})
	require.NoError(t, err)
	decline := &pkgerrors.GatewayError{
		Code:        "card_declined",
		Message:     "Your card has insufficient funds.",
		Category:    pkgerrors.CategoryCardDeclined,
		Decline:     pkgerrors.DeclineInsufficientFunds,
		DeclineCode: "insufficient_funds",
	}
	ledger.Fail(ctx, "k6", domain.OperationConfirmIntent, decline, false)

	replayed, err := ledger.Replay(ctx, "k6", domain.OperationConfirmIntent, nil)
	assert.True(t, replayed)
	decline2, ok := pkgerrors.DeclineOf(err)
	require.True(t, ok)
	assert.Equal(t, pkgerrors.DeclineInsufficientFunds, decline2)
}

func TestLedger_RetrySweepTransitions(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Begin(ctx, nil, BeginParams{Key: "k7", Operation: domain.OperationCreateIntent})
	require.NoError(t, err)
	ledger.Fail(ctx, "k7", domain.OperationCreateIntent, errors.New("timeout"), true)

	errored, err := ledger.ListErrored(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, errored, 1)

	ok, err := ledger.MarkRetried(ctx, "k7", domain.OperationCreateIntent)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ledger.MarkRetried(ctx, "k7", domain.OperationCreateIntent)
	require.NoError(t, err)
	assert.False(t, ok, "only one sweep claims a record")

	ok, err = ledger.MarkResolved(ctx, "k7", domain.OperationCreateIntent, "order already paid")
	require.NoError(t, err)
	assert.True(t, ok)

	rec, err := ledger.Lookup(ctx, "k7", domain.OperationCreateIntent)
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyResolved, rec.Status)
	assert.Equal(t, "order already paid", rec.ErrorDetail)
}

func TestLedger_MarkFailedUnsticksPending(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Begin(ctx, nil, BeginParams{Key: "k8", Operation: domain.OperationCreateIntent})
	require.NoError(t, err)

	ok, err := ledger.MarkFailed(ctx, "k8", domain.OperationCreateIntent, "operator: process crashed")
	require.NoError(t, err)
	assert.True(t, ok)

	rec, err := ledger.Lookup(ctx, "k8", domain.OperationCreateIntent)
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyError, rec.Status)
}

func TestLedger_Purge(t *testing.T) {
	ledger, store := newTestLedger(t)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	ledger.WithClock(func() time.Time { return now })

	store.Idempotency().Put(&domain.IdempotencyRecord{Key: "old", Operation: domain.OperationCreateIntent,
		Status: domain.IdempotencySuccess, CreatedAt: now.Add(-31 * 24 * time.Hour)})
	store.Idempotency().Put(&domain.IdempotencyRecord{Key: "new", Operation: domain.OperationCreateIntent,
		Status: domain.IdempotencySuccess, CreatedAt: now.Add(-29 * 24 * time.Hour)})

	deleted, err := ledger.Purge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	rec, err := ledger.Lookup(context.Background(), "new", domain.OperationCreateIntent)
	require.NoError(t, err)
	assert.NotNil(t, rec)
}

func TestLedger_NewKeyIsUnique(t *testing.T) {
	ledger, _ := newTestLedger(t)
	assert.NotEqual(t, ledger.NewKey(), ledger.NewKey())
}
