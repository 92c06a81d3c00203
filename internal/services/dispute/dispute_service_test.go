package dispute_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kevin07696/payment-orchestrator/internal/domain"
	"github.com/kevin07696/payment-orchestrator/internal/domain/ports"
	"github.com/kevin07696/payment-orchestrator/internal/services/dispute"
	"github.com/kevin07696/payment-orchestrator/internal/services/idempotency"
	"github.com/kevin07696/payment-orchestrator/internal/services/notify"
	"github.com/kevin07696/payment-orchestrator/internal/testutil/fakes"
	"github.com/kevin07696/payment-orchestrator/internal/testutil/fixtures"
	"github.com/kevin07696/payment-orchestrator/internal/testutil/mocks"
	"github.com/kevin07696/payment-orchestrator/pkg/resilience"
	"github.com/kevin07696/payment-orchestrator/pkg/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var now = time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)

type harness struct {
	store    *fakes.Store
	gateway  *fakes.CardGateway
	archive  *mocks.MockEvidenceArchive
	notifier *mocks.RecordingNotifier
	svc      *dispute.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := fakes.NewStore()
	gateway := fakes.NewCardGateway()
	archive := &mocks.MockEvidenceArchive{}
	notifier := &mocks.RecordingNotifier{}
	ledger := idempotency.NewLedger(store.Idempotency(), idempotency.Config{
		AwaitTimeout: time.Second,
		Retention:    30 * 24 * time.Hour,
		PollBackoff:  &resilience.FixedBackoff{Delay: 2 * time.Millisecond},
	}, logger)
	executor := resilience.NewExecutor(resilience.DefaultRetryPolicy(), logger,
		resilience.WithSleeper(func(context.Context, time.Duration) error { return nil }))

	svc := dispute.NewService(dispute.Deps{
		Tx:        store,
		Orders:    store.Orders(),
		Txns:      store.Transactions(),
		Disputes:  store.Disputes(),
		Gateway:   gateway,
		Archive:   archive,
		Ledger:    ledger,
		Executor:  executor,
		Publisher: notify.NewPublisher(notifier, logger),
		Logger:    logger,
		Clock:     timeutil.Fixed(now),
	})
	return &harness{store: store, gateway: gateway, archive: archive, notifier: notifier, svc: svc}
}

func (h *harness) paidOrder(id string) *domain.Order {
	order := fixtures.NewOrder().WithID(id).WithStatus(domain.OrderStatusPaid).WithIntent("pi_" + id).Build()
	h.store.Orders().Put(order)
	h.store.Transactions().Put(fixtures.PaidCardTransaction(order, "pi_"+id))
	return order
}

func (h *harness) gatewayDispute(id, intentID, status string) {
	due := now.Add(7 * 24 * time.Hour)
	h.gateway.PutDispute(&ports.GatewayDispute{
		ID:            id,
		IntentID:      intentID,
		Status:        status,
		AmountMinor:   4999,
		Currency:      "usd",
		Reason:        "fraudulent",
		EvidenceDueBy: &due,
	})
}

func TestCreateOrUpdateDispute_OpensDisputeAndMarksOrder(t *testing.T) {
	h := newHarness(t)
	order := h.paidOrder("o1")
	h.gatewayDispute("dp_1", "pi_o1", "needs_response")

	d, err := h.svc.CreateOrUpdateDispute(context.Background(), "dp_1", "")
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeStatusNeedsResponse, d.Status)
	assert.Equal(t, order.ID, d.OrderID)
	assert.Equal(t, "fraudulent", d.Reason)
	assert.Equal(t, domain.OrderStatusDisputed, h.store.Orders().Get(order.ID).Status)
	assert.Len(t, h.notifier.OfType(domain.EventPaymentDisputed), 1)

	// Redelivery refreshes instead of creating a second row.
	_, err = h.svc.CreateOrUpdateDispute(context.Background(), "dp_1", "pi_o1")
	require.NoError(t, err)
	assert.Equal(t, 1, h.store.Disputes().Count())
}

func TestCreateOrUpdateDispute_Outcomes(t *testing.T) {
	tests := []struct {
		name      string
		final     string
		wantOrder domain.OrderStatus
	}{
		{name: "won restores paid", final: "won", wantOrder: domain.OrderStatusPaid},
		{name: "lost refunds", final: "lost", wantOrder: domain.OrderStatusRefunded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			order := h.paidOrder("o2")
			h.gatewayDispute("dp_2", "pi_o2", "needs_response")
			_, err := h.svc.CreateOrUpdateDispute(context.Background(), "dp_2", "")
			require.NoError(t, err)

			h.gatewayDispute("dp_2", "pi_o2", tt.final)
			d, err := h.svc.CreateOrUpdateDispute(context.Background(), "dp_2", "")
			require.NoError(t, err)
			assert.True(t, d.IsTerminal())
			assert.Equal(t, tt.wantOrder, h.store.Orders().Get(order.ID).Status)
			assert.Len(t, h.notifier.OfType(domain.EventDisputeClosed), 1)

			// A late "under_review" event does not reopen it.
			h.gatewayDispute("dp_2", "pi_o2", "under_review")
			d, err = h.svc.CreateOrUpdateDispute(context.Background(), "dp_2", "")
			require.NoError(t, err)
			assert.True(t, d.IsTerminal())
			assert.Equal(t, tt.wantOrder, h.store.Orders().Get(order.ID).Status)
		})
	}
}

func TestCreateOrUpdateDispute_WarningLeavesOrderAlone(t *testing.T) {
	h := newHarness(t)
	order := h.paidOrder("o3")
	h.gatewayDispute("dp_3", "pi_o3", "warning_needs_response")

	d, err := h.svc.CreateOrUpdateDispute(context.Background(), "dp_3", "")
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeStatusWarningNeedsResponse, d.Status)
	assert.Equal(t, domain.OrderStatusPaid, h.store.Orders().Get(order.ID).Status)

	// Escalation to a chargeback disputes the order.
	h.gatewayDispute("dp_3", "pi_o3", "needs_response")
	_, err = h.svc.CreateOrUpdateDispute(context.Background(), "dp_3", "")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusDisputed, h.store.Orders().Get(order.ID).Status)
}

func TestCreateOrUpdateDispute_UnknownIntent(t *testing.T) {
	h := newHarness(t)
	h.gatewayDispute("dp_4", "pi_unknown", "needs_response")

	_, err := h.svc.CreateOrUpdateDispute(context.Background(), "dp_4", "")
	assert.True(t, domain.IsNotFoundError(err))
	assert.Equal(t, 0, h.store.Disputes().Count())
}

func openDispute(t *testing.T, h *harness, orderID string) *domain.Dispute {
	t.Helper()
	h.paidOrder(orderID)
	h.gatewayDispute("dp_"+orderID, "pi_"+orderID, "needs_response")
	d, err := h.svc.CreateOrUpdateDispute(context.Background(), "dp_"+orderID, "")
	require.NoError(t, err)
	return d
}

func TestSubmitEvidence_SubmitsOnce(t *testing.T) {
	h := newHarness(t)
	d := openDispute(t, h, "o5")
	req := dispute.SubmitEvidenceRequest{
		DisputeID:      d.ID,
		Evidence:       domain.DisputeEvidence{ProductDescription: "Blue widget", ShippingTrackingNumber: "1Z999"},
		Submit:         true,
		IdempotencyKey: "evidence-1",
	}

	updated, err := h.svc.SubmitEvidence(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, updated.EvidenceSubmitted)
	assert.Equal(t, domain.DisputeStatusUnderReview, updated.Status)

	again, err := h.svc.SubmitEvidence(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, updated.ID, again.ID)
	assert.Equal(t, 1, h.gateway.Calls(fakes.OpUpdateDispute))
}

func TestSubmitEvidence_ClosedWindowIsPrecondition(t *testing.T) {
	h := newHarness(t)
	d := openDispute(t, h, "o6")
	_, err := h.svc.SubmitEvidence(context.Background(), dispute.SubmitEvidenceRequest{
		DisputeID: d.ID, Submit: true, IdempotencyKey: "evidence-2",
	})
	require.NoError(t, err)

	// UNDER_REVIEW no longer accepts evidence.
	_, err = h.svc.SubmitEvidence(context.Background(), dispute.SubmitEvidenceRequest{
		DisputeID: d.ID, Submit: true, IdempotencyKey: "evidence-3",
	})
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeEvidenceWindowClosed))
	assert.True(t, domain.IsPreconditionError(err))
	assert.Equal(t, 1, h.gateway.Calls(fakes.OpUpdateDispute))
}

func TestSubmitEvidence_PastDeadline(t *testing.T) {
	h := newHarness(t)
	h.paidOrder("o7")
	past := now.Add(-time.Hour)
	h.gateway.PutDispute(&ports.GatewayDispute{
		ID: "dp_o7", IntentID: "pi_o7", Status: "needs_response", AmountMinor: 4999, Currency: "usd", EvidenceDueBy: &past,
	})
	d, err := h.svc.CreateOrUpdateDispute(context.Background(), "dp_o7", "")
	require.NoError(t, err)

	_, err = h.svc.SubmitEvidence(context.Background(), dispute.SubmitEvidenceRequest{DisputeID: d.ID, IdempotencyKey: "late"})
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeEvidenceWindowClosed))
}

func TestUploadEvidenceFile_ArchivesBeforeUpload(t *testing.T) {
	h := newHarness(t)
	d := openDispute(t, h, "o8")
	data := []byte("%PDF-1.4 receipt")
	h.archive.On("Store", mock.Anything, d.ID, "receipt.pdf", "application/pdf", data).
		Return("disputes/"+d.ID+"/abc-receipt.pdf", nil).Once()

	file, err := h.svc.UploadEvidenceFile(context.Background(), dispute.UploadEvidenceRequest{
		DisputeID: d.ID, FileName: "../../receipt.pdf", ContentType: "application/pdf", Data: data,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, file.FileID)
	assert.Equal(t, "disputes/"+d.ID+"/abc-receipt.pdf", file.ArchiveKey)
	h.archive.AssertExpectations(t)

	stored, err := h.svc.GetDispute(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{file.FileID}, stored.EvidenceFileIDs)
}

func TestUploadEvidenceFile_ArchiveFailureSkipsGateway(t *testing.T) {
	h := newHarness(t)
	d := openDispute(t, h, "o9")
	h.archive.On("Store", mock.Anything, d.ID, "photo.jpg", "image/jpeg", mock.Anything).
		Return("", errors.New("bucket unavailable"))

	_, err := h.svc.UploadEvidenceFile(context.Background(), dispute.UploadEvidenceRequest{
		DisputeID: d.ID, FileName: "photo.jpg", ContentType: "image/jpeg", Data: []byte{0xff, 0xd8},
	})
	require.Error(t, err)
	assert.Equal(t, 0, h.gateway.Calls(fakes.OpCreateFile))
}

func TestUploadEvidenceFile_DisputeClosedDuringUpload(t *testing.T) {
	h := newHarness(t)
	d := openDispute(t, h, "o12")
	h.archive.On("Store", mock.Anything, d.ID, "receipt.pdf", "application/pdf", mock.Anything).
		Return("disputes/"+d.ID+"/receipt.pdf", nil)
	h.gateway.BeforeCall = func(op string) {
		if op != fakes.OpCreateFile {
			return
		}
		closed, err := h.store.Disputes().GetByID(context.Background(), nil, d.ID)
		require.NoError(t, err)
		closed.Status = domain.DisputeStatusLost
		require.NoError(t, h.store.Disputes().Update(context.Background(), nil, closed))
	}

	_, err := h.svc.UploadEvidenceFile(context.Background(), dispute.UploadEvidenceRequest{
		DisputeID: d.ID, FileName: "receipt.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4"),
	})
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeEvidenceWindowClosed))
	assert.Equal(t, 1, h.gateway.Calls(fakes.OpCreateFile))

	stored, err := h.svc.GetDispute(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.EvidenceFileIDs)
}

func TestListOpenDisputes(t *testing.T) {
	h := newHarness(t)
	openDispute(t, h, "o10")
	h.paidOrder("o11")
	h.gatewayDispute("dp_o11", "pi_o11", "lost")
	_, err := h.svc.CreateOrUpdateDispute(context.Background(), "dp_o11", "")
	require.NoError(t, err)

	open, err := h.svc.ListOpenDisputes(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "dp_o10", open[0].GatewayDisputeID)
	assert.Equal(t, domain.OrderStatusRefunded, h.store.Orders().Get("o11").Status)
}

func TestApplyDisputeSnapshot_UnknownStatusOnNewDispute(t *testing.T) {
	h := newHarness(t)
	order := h.paidOrder("o13")

	_, err := h.svc.ApplyDisputeSnapshot(context.Background(), &ports.GatewayDispute{
		ID: "dp_o13", IntentID: "pi_o13", Status: "prearbitration", AmountMinor: 4999, Currency: "usd",
	})
	assert.True(t, domain.IsValidationError(err))
	assert.Equal(t, 0, h.store.Disputes().Count())
	assert.Equal(t, domain.OrderStatusPaid, h.store.Orders().Get(order.ID).Status)
	assert.Empty(t, h.notifier.OfType(domain.EventPaymentDisputed))
}

func TestApplyDisputeSnapshot_UnknownStatusKeepsStoredStatus(t *testing.T) {
	h := newHarness(t)
	h.paidOrder("o14")
	h.gatewayDispute("dp_o14", "pi_o14", "warning_needs_response")
	d, err := h.svc.CreateOrUpdateDispute(context.Background(), "dp_o14", "")
	require.NoError(t, err)
	require.Equal(t, domain.DisputeStatusWarningNeedsResponse, d.Status)

	updated, err := h.svc.ApplyDisputeSnapshot(context.Background(), &ports.GatewayDispute{
		ID: "dp_o14", IntentID: "pi_o14", Status: "prearbitration", AmountMinor: 4999, Currency: "usd",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeStatusWarningNeedsResponse, updated.Status)
	assert.Equal(t, domain.OrderStatusPaid, h.store.Orders().Get("o14").Status)
	assert.Empty(t, h.notifier.OfType(domain.EventPaymentDisputed))
}
