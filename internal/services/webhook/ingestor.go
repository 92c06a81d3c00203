// Package webhook verifies and applies gateway webhook events.
package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/kevin07696/payment-orchestrator/internal/domain"
	"github.com/kevin07696/payment-orchestrator/internal/domain/ports"
	"github.com/kevin07696/payment-orchestrator/internal/services/payment"
	"github.com/kevin07696/payment-orchestrator/pkg/observability"
	"github.com/kevin07696/payment-orchestrator/pkg/timeutil"
	"go.uber.org/zap"
)

// EventType is a gateway event type string.
type EventType string

// Card gateway event types.
const (
	EventIntentSucceeded      EventType = "payment_intent.succeeded"
	EventIntentProcessing     EventType = "payment_intent.processing"
	EventIntentFailed         EventType = "payment_intent.payment_failed"
	EventIntentCanceled       EventType = "payment_intent.canceled"
	EventIntentRequiresAction EventType = "payment_intent.requires_action"

	EventRefundCreated EventType = "refund.created"
	EventRefundUpdated EventType = "refund.updated"
	EventRefundFailed  EventType = "refund.failed"

	EventDisputeCreated         EventType = "charge.dispute.created"
	EventDisputeUpdated         EventType = "charge.dispute.updated"
	EventDisputeClosed          EventType = "charge.dispute.closed"
	EventDisputeFundsWithdrawn  EventType = "charge.dispute.funds_withdrawn"
	EventDisputeFundsReinstated EventType = "charge.dispute.funds_reinstated"
)

// Wallet gateway event types.
const (
	EventWalletOrderApproved   EventType = "CHECKOUT.ORDER.APPROVED"
	EventWalletOrderCompleted  EventType = "CHECKOUT.ORDER.COMPLETED"
	EventWalletOrderVoided     EventType = "CHECKOUT.ORDER.VOIDED"
	EventWalletCaptureComplete EventType = "PAYMENT.CAPTURE.COMPLETED"
	EventWalletCapturePending  EventType = "PAYMENT.CAPTURE.PENDING"
	EventWalletCaptureDenied   EventType = "PAYMENT.CAPTURE.DENIED"
)

// IntentApplier applies an observed card intent; implemented by payment.Service.
type IntentApplier interface {
	ApplyIntentSnapshot(ctx context.Context, intent *ports.Intent, source string) (*payment.IntentResult, error)
}

// RefundApplier applies an observed gateway refund; implemented by refund.Service.
type RefundApplier interface {
	ApplyRefundSnapshot(ctx context.Context, gr *ports.GatewayRefund) (*domain.Refund, error)
}

// DisputeSyncer re-reads and applies a gateway dispute; implemented by dispute.Service.
type DisputeSyncer interface {
	CreateOrUpdateDispute(ctx context.Context, gatewayDisputeID, intentID string) (*domain.Dispute, error)
}

// WalletSyncer re-reads and applies a provider order; implemented by wallet.Service.
type WalletSyncer interface {
	SyncOrder(ctx context.Context, providerOrderID string) (*domain.PaymentTransaction, error)
}

// Deps are the collaborators of the ingestor.
type Deps struct {
	CardDecoder   ports.CardEventDecoder
	CardSecrets   SecretSource
	WalletDecoder ports.WalletEventDecoder
	WalletSecrets SecretSource
	Events        ports.WebhookEventRepository
	Payments      IntentApplier
	Refunds       RefundApplier
	Disputes      DisputeSyncer
	Wallet        WalletSyncer
	Tolerance     time.Duration
	Logger        *zap.Logger
	Clock         timeutil.Clock
}

type cardHandler func(ctx context.Context, event *ports.CardEvent) error
type walletHandler func(ctx context.Context, event *ports.WalletEvent) error

// Ingestor verifies a webhook, decodes it and routes it to the owning orchestrator.
// Handlers upsert by gateway id and never regress terminal states, so redelivery and
// reordering are harmless.
type Ingestor struct {
	cardDecoder   ports.CardEventDecoder
	cardSecrets   SecretSource
	walletDecoder ports.WalletEventDecoder
	walletSecrets SecretSource
	events        ports.WebhookEventRepository
	tolerance     time.Duration
	logger        *zap.Logger
	now           timeutil.Clock

	card   map[EventType]cardHandler
	wallet map[EventType]walletHandler
}

// NewIngestor creates an ingestor and builds its dispatch tables.
func NewIngestor(d Deps) *Ingestor {
	if d.Clock == nil {
		d.Clock = timeutil.SystemClock
	}
	if d.Tolerance == 0 {
		d.Tolerance = DefaultTolerance
	}
	in := &Ingestor{
		cardDecoder:   d.CardDecoder,
		cardSecrets:   d.CardSecrets,
		walletDecoder: d.WalletDecoder,
		walletSecrets: d.WalletSecrets,
		events:        d.Events,
		tolerance:     d.Tolerance,
		logger:        d.Logger,
		now:           d.Clock,
	}

	applyIntent := func(ctx context.Context, e *ports.CardEvent) error {
		if e.Intent == nil {
			return fmt.Errorf("%w: %s without payment intent", ErrMalformedEvent, e.Type)
		}
		_, err := d.Payments.ApplyIntentSnapshot(ctx, e.Intent, payment.SourceWebhook)
		return err
	}
	applyRefund := func(ctx context.Context, e *ports.CardEvent) error {
		if e.Refund == nil {
			return fmt.Errorf("%w: %s without refund", ErrMalformedEvent, e.Type)
		}
		_, err := d.Refunds.ApplyRefundSnapshot(ctx, e.Refund)
		return err
	}
	syncDispute := func(ctx context.Context, e *ports.CardEvent) error {
		if e.Dispute == nil {
			return fmt.Errorf("%w: %s without dispute", ErrMalformedEvent, e.Type)
		}
		_, err := d.Disputes.CreateOrUpdateDispute(ctx, e.Dispute.ID, e.Dispute.IntentID)
		return err
	}
	in.card = map[EventType]cardHandler{
		EventIntentSucceeded:        applyIntent,
		EventIntentProcessing:       applyIntent,
		EventIntentFailed:           applyIntent,
		EventIntentCanceled:         applyIntent,
		EventIntentRequiresAction:   applyIntent,
		EventRefundCreated:          applyRefund,
		EventRefundUpdated:          applyRefund,
		EventRefundFailed:           applyRefund,
		EventDisputeCreated:         syncDispute,
		EventDisputeUpdated:         syncDispute,
		EventDisputeClosed:          syncDispute,
		EventDisputeFundsWithdrawn:  syncDispute,
		EventDisputeFundsReinstated: syncDispute,
	}

	syncWallet := func(ctx context.Context, e *ports.WalletEvent) error {
		if e.ProviderOrderID == "" {
			return fmt.Errorf("%w: %s without order id", ErrMalformedEvent, e.EventType)
		}
		_, err := d.Wallet.SyncOrder(ctx, e.ProviderOrderID)
		return err
	}
	in.wallet = map[EventType]walletHandler{
		EventWalletOrderApproved:   syncWallet,
		EventWalletOrderCompleted:  syncWallet,
		EventWalletOrderVoided:     syncWallet,
		EventWalletCaptureComplete: syncWallet,
		EventWalletCapturePending:  syncWallet,
		EventWalletCaptureDenied:   syncWallet,
	}
	return in
}

// HandleCardEvent verifies and applies one card gateway delivery. A nil error means the delivery
// can be acknowledged, including events that were deliberately ignored.
func (in *Ingestor) HandleCardEvent(ctx context.Context, payload []byte, signatureHeader string) error {
	start := time.Now()
	gateway := domain.GatewayCard

	if err := in.verify(ctx, in.cardSecrets, payload, signatureHeader, gateway); err != nil {
		observability.RecordWebhookEvent(string(gateway), "unknown", "rejected", time.Since(start))
		return err
	}
	event, err := in.cardDecoder.DecodeEvent(payload)
	if err != nil {
		observability.RecordWebhookEvent(string(gateway), "unknown", "rejected", time.Since(start))
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	handler, known := in.card[EventType(event.Type)]
	var run func(ctx context.Context) error
	if known {
		run = func(ctx context.Context) error { return handler(ctx, event) }
	}
	return in.process(ctx, gateway, event.ID, event.Type, run, start)
}

// HandleWalletEvent mirrors HandleCardEvent for the wallet gateway. Every wallet event re-reads
// the provider order, so their order of arrival does not matter.
func (in *Ingestor) HandleWalletEvent(ctx context.Context, payload []byte, signatureHeader string) error {
	start := time.Now()
	gateway := domain.GatewayWallet

	if err := in.verify(ctx, in.walletSecrets, payload, signatureHeader, gateway); err != nil {
		observability.RecordWebhookEvent(string(gateway), "unknown", "rejected", time.Since(start))
		return err
	}
	event, err := in.walletDecoder.DecodeEvent(payload)
	if err != nil {
		observability.RecordWebhookEvent(string(gateway), "unknown", "rejected", time.Since(start))
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	handler, known := in.wallet[EventType(event.EventType)]
	var run func(ctx context.Context) error
	if known {
		run = func(ctx context.Context) error { return handler(ctx, event) }
	}
	return in.process(ctx, gateway, event.ID, event.EventType, run, start)
}

func (in *Ingestor) verify(ctx context.Context, source SecretSource, payload []byte, header string, gateway domain.GatewayKind) error {
	if source == nil {
		return fmt.Errorf("%w: %s webhooks are not configured", ErrInvalidSignature, gateway)
	}
	secrets, err := source.SigningSecrets(ctx)
	if err != nil {
		return err
	}
	if err := VerifySignature(payload, header, secrets, in.tolerance, in.now()); err != nil {
		in.logger.Warn("Rejected webhook with invalid signature",
			zap.String("gateway", string(gateway)),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// process records the delivery in the audit log, runs the handler and records the outcome.
// The audit log is never consulted to skip work; handlers are idempotent on their own.
func (in *Ingestor) process(ctx context.Context, gateway domain.GatewayKind, eventID, eventType string,
	run func(ctx context.Context) error, start time.Time) error {
	logger := in.logger.With(
		zap.String("gateway", string(gateway)),
		zap.String("event_id", eventID),
		zap.String("event_type", eventType),
	)

	now := in.now()
	first, err := in.events.Record(ctx, &domain.WebhookEvent{
		Gateway:    gateway,
		EventID:    eventID,
		Type:       eventType,
		Outcome:    domain.WebhookOutcomeReceived,
		Deliveries: 1,
		ReceivedAt: now,
		UpdatedAt:  now,
	})
	if err != nil {
		logger.Warn("Failed to record webhook event", zap.Error(err))
	} else if !first {
		logger.Info("Webhook event redelivered")
	}

	outcome := domain.WebhookOutcomeProcessed
	var handleErr error
	switch {
	case run == nil:
		outcome = domain.WebhookOutcomeIgnored
		logger.Info("Ignoring unhandled webhook event type")
	default:
		handleErr = run(ctx)
		switch {
		case handleErr == nil:
		case domain.IsNotFoundError(handleErr) || domain.IsPreconditionError(handleErr):
			// The event is about something this service does not own or can no longer act on.
			// Redelivering it would not change that.
			outcome = domain.WebhookOutcomeIgnored
			logger.Warn("Webhook event not applicable", zap.Error(handleErr))
			handleErr = nil
		default:
			outcome = domain.WebhookOutcomeFailed
			logger.Error("Failed to apply webhook event", zap.Error(handleErr))
		}
	}

	if err := in.events.MarkOutcome(context.WithoutCancel(ctx), gateway, eventID, outcome); err != nil {
		logger.Warn("Failed to record webhook outcome", zap.Error(err))
	}
	observability.RecordWebhookEvent(string(gateway), eventType, string(outcome), time.Since(start))

	if handleErr != nil {
		return fmt.Errorf("apply %s event %s: %w", gateway, eventID, handleErr)
	}
	if outcome == domain.WebhookOutcomeProcessed {
		logger.Debug("Webhook event applied")
	}
	return nil
}
