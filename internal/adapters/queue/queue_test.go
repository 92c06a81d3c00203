package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/kevin07696/payment-orchestrator/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mockEnqueuer struct {
	mock.Mock
}

func (m *mockEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, task, opts)
	info, _ := args.Get(0).(*asynq.TaskInfo)
	return info, args.Error(1)
}

func sampleEvent() domain.PaymentEvent {
	return domain.PaymentEvent{
		Type:       domain.EventPaymentSucceeded,
		OrderID:    "order-1",
		UserID:     "user-1",
		Amount:     decimal.RequireFromString("49.99"),
		Currency:   "EUR",
		Reference:  "pi_1",
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNotifier_Publish(t *testing.T) {
	enq := new(mockEnqueuer)
	enq.On("EnqueueContext", mock.Anything, mock.MatchedBy(func(task *asynq.Task) bool {
		var event domain.PaymentEvent
		if err := json.Unmarshal(task.Payload(), &event); err != nil {
			return false
		}
		return task.Type() == TypePaymentEvent && event.OrderID == "order-1"
	}), mock.Anything).Return(&asynq.TaskInfo{ID: "payment.succeeded:order-1:pi_1"}, nil)

	n := NewNotifier(enq, zaptest.NewLogger(t))
	require.NoError(t, n.Publish(context.Background(), sampleEvent()))
	enq.AssertExpectations(t)
}

func TestNotifier_DuplicateIsSuccess(t *testing.T) {
	enq := new(mockEnqueuer)
	enq.On("EnqueueContext", mock.Anything, mock.Anything, mock.Anything).Return(nil, asynq.ErrTaskIDConflict)

	n := NewNotifier(enq, zaptest.NewLogger(t))
	assert.NoError(t, n.Publish(context.Background(), sampleEvent()))
}

func TestNotifier_EnqueueFailure(t *testing.T) {
	enq := new(mockEnqueuer)
	enq.On("EnqueueContext", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("redis down"))

	n := NewNotifier(enq, zaptest.NewLogger(t))
	assert.Error(t, n.Publish(context.Background(), sampleEvent()))
}

func TestNewEventTask_DeterministicID(t *testing.T) {
	_, opts1, err := newEventTask(sampleEvent())
	require.NoError(t, err)
	_, opts2, err := newEventTask(sampleEvent())
	require.NoError(t, err)

	assert.Equal(t, opts1[0].Value(), opts2[0].Value())
	assert.Equal(t, "payment.succeeded:order-1:pi_1", opts1[0].Value())
}

type recordingRunner struct {
	sweeps []string
	err    error
}

func (r *recordingRunner) Trigger(ctx context.Context, sweep string) error {
	r.sweeps = append(r.sweeps, sweep)
	return r.err
}

func TestSweepMux_RoutesToRunner(t *testing.T) {
	runner := &recordingRunner{}
	mux := NewSweepMux(runner, []string{"retry", "payment_status"}, zaptest.NewLogger(t))

	require.NoError(t, mux.ProcessTask(context.Background(), asynq.NewTask(SweepTaskType("payment_status"), nil)))
	assert.Equal(t, []string{"payment_status"}, runner.sweeps)

	runner.err = errors.New("boom")
	assert.Error(t, mux.ProcessTask(context.Background(), asynq.NewTask(SweepTaskType("retry"), nil)))
}
