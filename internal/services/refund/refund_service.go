package refund

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kevin07696/payment-orchestrator/internal/domain"
	"github.com/kevin07696/payment-orchestrator/internal/domain/ports"
	"github.com/kevin07696/payment-orchestrator/internal/services/idempotency"
	"github.com/kevin07696/payment-orchestrator/internal/services/notify"
	"github.com/kevin07696/payment-orchestrator/pkg/resilience"
	"github.com/kevin07696/payment-orchestrator/pkg/timeutil"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Deps are the collaborators of the refund orchestrator.
type Deps struct {
	Tx        ports.TransactionManager
	Orders    ports.OrderRepository
	Txns      ports.TransactionRepository
	Refunds   ports.RefundRepository
	Gateway   ports.CardGateway
	Ledger    *idempotency.Ledger
	Executor  *resilience.Executor
	Publisher *notify.Publisher
	Logger    *zap.Logger
	Clock     timeutil.Clock
}

// Service issues refunds against captured card payments and keeps them in step with the gateway.
type Service struct {
	tx        ports.TransactionManager
	orders    ports.OrderRepository
	txns      ports.TransactionRepository
	refunds   ports.RefundRepository
	gateway   ports.CardGateway
	ledger    *idempotency.Ledger
	executor  *resilience.Executor
	publisher *notify.Publisher
	logger    *zap.Logger
	now       timeutil.Clock
}

// NewService creates a new refund service
func NewService(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = timeutil.SystemClock
	}
	return &Service{
		tx:        d.Tx,
		orders:    d.Orders,
		txns:      d.Txns,
		refunds:   d.Refunds,
		gateway:   d.Gateway,
		ledger:    d.Ledger,
		executor:  d.Executor,
		publisher: d.Publisher,
		logger:    d.Logger,
		now:       d.Clock,
	}
}

// CreateRefundRequest asks for a full (Amount nil) or partial refund.
type CreateRefundRequest struct {
	OrderID        string              `json:"order_id"`
	UserID         string              `json:"user_id"`
	Amount         *decimal.Decimal    `json:"amount,omitempty"`
	Reason         domain.RefundReason `json:"reason,omitempty"`
	IdempotencyKey string              `json:"idempotency_key"`
}

// CreateRefund validates the refundable remainder under the order lock, records a PENDING refund
// together with the ledger entry, then asks the gateway.
func (s *Service) CreateRefund(ctx context.Context, req CreateRefundRequest) (*domain.Refund, error) {
	if req.OrderID == "" {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationMissingField, "order_id is required")
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = s.ledger.NewKey()
	}
	if req.Reason == "" {
		req.Reason = domain.RefundReasonRequestedByCustomer
	}
	key, op := req.IdempotencyKey, domain.OperationCreateRefund

	if res, done, err := idempotency.Replayed[domain.Refund](ctx, s.ledger, key, op); done || err != nil {
		return res, err
	}

	var refund *domain.Refund
	err := s.tx.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		order, err := s.orders.GetForUpdate(ctx, tx, req.OrderID)
		if err != nil {
			return err
		}
		if !order.OwnedBy(req.UserID) {
			return domain.ErrOrderNotFound
		}

		// A retried attempt reuses the refund row it created the first time.
		refund, err = s.reclaimedRefund(ctx, tx, key)
		if err != nil {
			return err
		}
		if refund == nil {
			refund, err = s.newPendingRefund(ctx, tx, order, req)
			if err != nil {
				return err
			}
		}

		_, err = s.ledger.Begin(ctx, tx, idempotency.BeginParams{Key: key, Operation: op, EntityID: refund.ID, Request: req})
		return err
	})
	if err != nil {
		if idempotency.IsConflict(err) {
			return idempotency.AfterConflict[domain.Refund](ctx, s.ledger, key, op)
		}
		return nil, err
	}

	params := ports.RefundParams{
		IntentID:    refund.GatewayIntentID,
		AmountMinor: domain.ToMinorUnits(refund.Amount, refund.Currency),
		Reason:      string(refund.Reason),
		Metadata:    map[string]string{"order_id": refund.OrderID, "refund_id": refund.ID},
	}
	var gr *ports.GatewayRefund
	err = s.executor.Run(ctx, "card.create_refund", func(ctx context.Context) error {
		var err error
		gr, err = s.gateway.CreateRefund(ctx, params, key)
		return err
	})
	if err != nil {
		retryable := idempotency.Retryable(s.executor.Policy(), err)
		if !retryable {
			s.failRefund(ctx, refund, err.Error())
		}
		s.ledger.Fail(ctx, key, op, err, retryable)
		s.logger.Error("Failed to create refund",
			zap.String("order_id", refund.OrderID),
			zap.String("refund_id", refund.ID),
			zap.Bool("retryable", retryable),
			zap.Error(err),
		)
		return nil, fmt.Errorf("create refund for order %s: %w", refund.OrderID, err)
	}

	ctx = context.WithoutCancel(ctx)
	var applied *domain.Refund
	var events []domain.PaymentEvent
	err = s.tx.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		applied, events, err = s.applyLocked(ctx, tx, refund.OrderID, refund, gr)
		if err != nil {
			return err
		}
		return s.ledger.Succeed(ctx, tx, key, op, applied.ID, applied)
	})
	if err != nil {
		s.ledger.Fail(ctx, key, op, err, true)
		return nil, fmt.Errorf("record refund %s: %w", gr.ID, err)
	}
	s.publisher.Publish(ctx, events...)

	s.logger.Info("Refund created",
		zap.String("order_id", applied.OrderID),
		zap.String("refund_id", applied.ID),
		zap.String("gateway_refund_id", applied.GatewayRefundID),
		zap.String("amount", applied.Amount.String()),
		zap.String("status", string(applied.Status)),
	)
	return applied, nil
}

func (s *Service) reclaimedRefund(ctx context.Context, tx pgx.Tx, key string) (*domain.Refund, error) {
	rec, err := s.ledger.Lookup(ctx, key, domain.OperationCreateRefund)
	if err != nil || rec == nil || !rec.Reclaimable() || rec.EntityID == "" {
		return nil, err
	}
	refund, err := s.refunds.GetByID(ctx, tx, rec.EntityID)
	if domain.IsNotFoundError(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if refund.Status != domain.RefundStatusPending {
		return nil, nil
	}
	return refund, nil
}

func (s *Service) newPendingRefund(ctx context.Context, tx pgx.Tx, order *domain.Order, req CreateRefundRequest) (*domain.Refund, error) {
	if !order.IsRefundable() {
		return nil, domain.Precondition("order %s is %s; only paid orders can be refunded", order.ID, order.Status)
	}
	txns, err := s.txns.ListByOrderID(ctx, tx, order.ID)
	if err != nil {
		return nil, err
	}
	existing, err := s.refunds.ListByOrderID(ctx, tx, order.ID)
	if err != nil {
		return nil, err
	}
	state := ComputeRefundState(order, txns, existing)

	amount := state.Remainder()
	if req.Amount != nil {
		amount = req.Amount.Round(domain.CurrencyExponent(state.Currency))
	}
	if ok, reason := state.CanRefund(amount); !ok {
		if amount.IsPositive() && state.CapturedIntentID != "" {
			return nil, domain.NewDomainError(domain.ErrorCodeRefundExceedsRemainder, reason).
				WithDetail("remainder", state.Remainder().String())
		}
		return nil, domain.Precondition("order %s: %s", order.ID, reason)
	}

	now := s.now()
	refund := &domain.Refund{
		ID:              uuid.NewString(),
		OrderID:         order.ID,
		GatewayIntentID: state.CapturedIntentID,
		Amount:          amount,
		Currency:        state.Currency,
		Status:          domain.RefundStatusPending,
		Reason:          req.Reason,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.refunds.Create(ctx, tx, refund); err != nil {
		return nil, err
	}
	return refund, nil
}

func (s *Service) failRefund(ctx context.Context, refund *domain.Refund, reason string) {
	ctx = context.WithoutCancel(ctx)
	refund.Status = domain.RefundStatusFailed
	refund.FailureReason = reason
	refund.UpdatedAt = s.now()
	if err := s.refunds.Update(ctx, nil, refund); err != nil {
		s.logger.Error("Failed to mark refund failed", zap.String("refund_id", refund.ID), zap.Error(err))
	}
}

// RefreshRefund re-reads a refund from the gateway and applies it.
func (s *Service) RefreshRefund(ctx context.Context, refundID string) (*domain.Refund, error) {
	refund, err := s.refunds.GetByID(ctx, nil, refundID)
	if err != nil {
		return nil, err
	}
	if refund.GatewayRefundID == "" {
		return nil, domain.Precondition("refund %s has not reached the gateway yet", refund.ID)
	}
	var gr *ports.GatewayRefund
	err = s.executor.Run(ctx, "card.retrieve_refund", func(ctx context.Context) error {
		var err error
		gr, err = s.gateway.RetrieveRefund(ctx, refund.GatewayRefundID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve refund %s: %w", refund.GatewayRefundID, err)
	}
	return s.ApplyRefundSnapshot(ctx, gr)
}

// ApplyRefundSnapshot upserts a gateway refund by its gateway id. Refunds issued outside this
// service (dashboard, another system) get a local row.
func (s *Service) ApplyRefundSnapshot(ctx context.Context, gr *ports.GatewayRefund) (*domain.Refund, error) {
	local, err := s.findLocal(ctx, gr)
	if err != nil {
		return nil, err
	}

	orderID := gr.Metadata["order_id"]
	if local != nil {
		orderID = local.OrderID
	}
	if orderID == "" {
		txn, err := s.txns.GetByGatewayIntentID(ctx, nil, gr.IntentID)
		if err != nil {
			return nil, fmt.Errorf("refund %s has no order: %w", gr.ID, err)
		}
		orderID = txn.OrderID
	}

	var applied *domain.Refund
	var events []domain.PaymentEvent
	err = s.tx.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		applied, events, err = s.applyLocked(ctx, tx, orderID, local, gr)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, events...)
	return applied, nil
}

func (s *Service) findLocal(ctx context.Context, gr *ports.GatewayRefund) (*domain.Refund, error) {
	local, err := s.refunds.GetByGatewayRefundID(ctx, nil, gr.ID)
	if err == nil {
		return local, nil
	}
	if !domain.IsNotFoundError(err) {
		return nil, err
	}
	// Webhook may beat the response of our own create call.
	if id := gr.Metadata["refund_id"]; id != "" {
		local, err = s.refunds.GetByID(ctx, nil, id)
		if err == nil {
			return local, nil
		}
		if !domain.IsNotFoundError(err) {
			return nil, err
		}
	}
	return nil, nil
}

// applyLocked writes the gateway's view of a refund. local may be nil for foreign refunds.
func (s *Service) applyLocked(ctx context.Context, tx pgx.Tx, orderID string, local *domain.Refund,
	gr *ports.GatewayRefund) (*domain.Refund, []domain.PaymentEvent, error) {
	order, err := s.orders.GetForUpdate(ctx, tx, orderID)
	if err != nil {
		return nil, nil, err
	}
	now := s.now()
	status := domain.RefundStatusFromGateway(gr.Status)

	if local == nil {
		currency := domain.NormalizeCurrency(gr.Currency, order.Currency)
		local = &domain.Refund{
			ID:              uuid.NewString(),
			OrderID:         order.ID,
			GatewayIntentID: gr.IntentID,
			GatewayRefundID: gr.ID,
			Amount:          domain.FromMinorUnits(gr.AmountMinor, currency),
			Currency:        currency,
			Status:          status,
			Reason:          domain.RefundReason(gr.Reason),
			FailureReason:   gr.FailureReason,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.refunds.Create(ctx, tx, local); err != nil {
			return nil, nil, err
		}
		s.logger.Info("Recorded refund issued outside the service",
			zap.String("order_id", order.ID),
			zap.String("gateway_refund_id", gr.ID),
		)
	} else {
		// Re-read under the lock; the caller's copy may be stale.
		current, err := s.refunds.GetByID(ctx, tx, local.ID)
		if err != nil {
			return nil, nil, err
		}
		local = current
		if local.IsTerminal() && local.Status != status {
			s.logger.Info("Ignoring stale refund snapshot",
				zap.String("refund_id", local.ID),
				zap.String("stored_status", string(local.Status)),
				zap.String("snapshot_status", gr.Status),
			)
			return local, nil, nil
		}
		local.GatewayRefundID = gr.ID
		local.Status = status
		local.FailureReason = gr.FailureReason
		local.UpdatedAt = now
		if err := s.refunds.Update(ctx, tx, local); err != nil {
			return nil, nil, err
		}
	}

	var events []domain.PaymentEvent
	if status == domain.RefundStatusSucceeded && order.Status != domain.OrderStatusRefunded {
		refunds, err := s.refunds.ListByOrderID(ctx, tx, order.ID)
		if err != nil {
			return nil, nil, err
		}
		txns, err := s.txns.ListByOrderID(ctx, tx, order.ID)
		if err != nil {
			return nil, nil, err
		}
		if ComputeRefundState(order, txns, refunds).FullyRefunded() {
			moved, err := order.TransitionTo(domain.OrderStatusRefunded, now)
			if err != nil {
				s.logger.Warn("Fully refunded order cannot move to REFUNDED",
					zap.String("order_id", order.ID),
					zap.String("status", string(order.Status)),
				)
			}
			if moved {
				if err := s.orders.Save(ctx, tx, order); err != nil {
					return nil, nil, err
				}
				events = append(events, notify.Event(domain.EventPaymentRefunded, order, gr.ID, "", now))
				s.logger.Info("Order fully refunded", zap.String("order_id", order.ID))
			}
		}
	}
	return local, events, nil
}

// ListRefunds returns an order's refunds, oldest first.
func (s *Service) ListRefunds(ctx context.Context, orderID, userID string) ([]*domain.Refund, error) {
	order, err := s.orders.GetByID(ctx, nil, orderID)
	if err != nil {
		return nil, err
	}
	if !order.OwnedBy(userID) {
		return nil, domain.ErrOrderNotFound
	}
	return s.refunds.ListByOrderID(ctx, nil, orderID)
}
