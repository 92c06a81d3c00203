package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kevin07696/payment-orchestrator/internal/domain"
	"github.com/kevin07696/payment-orchestrator/internal/domain/ports"
	"github.com/kevin07696/payment-orchestrator/internal/services/idempotency"
	"github.com/kevin07696/payment-orchestrator/internal/services/notify"
	pkgerrors "github.com/kevin07696/payment-orchestrator/pkg/errors"
	"github.com/kevin07696/payment-orchestrator/pkg/resilience"
	"github.com/kevin07696/payment-orchestrator/pkg/timeutil"
	"go.uber.org/zap"
)

// Deps are the collaborators of the wallet orchestrator.
type Deps struct {
	Tx        ports.TransactionManager
	Orders    ports.OrderRepository
	Txns      ports.TransactionRepository
	Gateway   ports.WalletGateway
	Ledger    *idempotency.Ledger
	Executor  *resilience.Executor
	Publisher *notify.Publisher
	Logger    *zap.Logger
	Clock     timeutil.Clock
}

// Service runs the redirect/capture flow: create a provider order, send the buyer to approve it,
// then capture.
type Service struct {
	tx        ports.TransactionManager
	orders    ports.OrderRepository
	txns      ports.TransactionRepository
	gateway   ports.WalletGateway
	ledger    *idempotency.Ledger
	executor  *resilience.Executor
	publisher *notify.Publisher
	logger    *zap.Logger
	now       timeutil.Clock
}

// NewService creates a new wallet service
func NewService(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = timeutil.SystemClock
	}
	return &Service{
		tx:        d.Tx,
		orders:    d.Orders,
		txns:      d.Txns,
		gateway:   d.Gateway,
		ledger:    d.Ledger,
		executor:  d.Executor,
		publisher: d.Publisher,
		logger:    d.Logger,
		now:       d.Clock,
	}
}

// CreatePaymentRequest starts a wallet checkout for an order.
type CreatePaymentRequest struct {
	OrderID        string                 `json:"order_id"`
	UserID         string                 `json:"user_id"`
	IdempotencyKey string                 `json:"idempotency_key"`
	ReturnURL      string                 `json:"return_url"`
	CancelURL      string                 `json:"cancel_url"`
	Shipping       *ports.ShippingAddress `json:"shipping,omitempty"`
}

// CreatePaymentResult carries the URL the buyer must visit to approve the payment.
type CreatePaymentResult struct {
	OrderID         string             `json:"order_id"`
	ProviderOrderID string             `json:"provider_order_id"`
	ApprovalURL     string             `json:"approval_url"`
	Status          string             `json:"status"`
	OrderStatus     domain.OrderStatus `json:"order_status"`
	Replayed        bool               `json:"-"`
}

// CapturePaymentRequest captures an approved provider order.
type CapturePaymentRequest struct {
	OrderID         string `json:"order_id"`
	UserID          string `json:"user_id"`
	ProviderOrderID string `json:"provider_order_id"`
	IdempotencyKey  string `json:"idempotency_key"`
}

// CaptureResult is the outcome of a capture, stored in the ledger for replays.
type CaptureResult struct {
	OrderID         string             `json:"order_id"`
	ProviderOrderID string             `json:"provider_order_id"`
	CaptureID       string             `json:"capture_id,omitempty"`
	Status          string             `json:"status"`
	OrderStatus     domain.OrderStatus `json:"order_status"`
	Replayed        bool               `json:"-"`
}

func missingField(name string) error {
	return domain.NewDomainError(domain.ErrorCodeValidationMissingField, name+" is required")
}

// CreatePayment creates a provider order for a PENDING order and moves it to PENDING_PAYMENT.
// An order already waiting on approval may start over; the new provider order replaces the old one.
func (s *Service) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResult, error) {
	if req.OrderID == "" {
		return nil, missingField("order_id")
	}
	if req.ReturnURL == "" {
		return nil, missingField("return_url")
	}
	if req.CancelURL == "" {
		return nil, missingField("cancel_url")
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = s.ledger.NewKey()
	}
	key, op := req.IdempotencyKey, domain.OperationWalletCreateOrder

	if res, done, err := idempotency.Replayed[CreatePaymentResult](ctx, s.ledger, key, op); done || err != nil {
		if res != nil {
			res.Replayed = true
		}
		return res, err
	}

	var order *domain.Order
	err := s.tx.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		order, err = s.lockOwnedOrder(ctx, tx, req.OrderID, req.UserID)
		if err != nil {
			return err
		}
		if order.Status != domain.OrderStatusPending && order.Status != domain.OrderStatusPendingPayment {
			return domain.Precondition("order %s is %s; a wallet payment can only start from PENDING", order.ID, order.Status)
		}
		if order.Total.Sign() <= 0 {
			return domain.NewDomainError(domain.ErrorCodeValidationAmountInvalid, "order total must be positive")
		}
		_, err = s.ledger.Begin(ctx, tx, idempotency.BeginParams{Key: key, Operation: op, EntityID: order.ID, Request: req})
		return err
	})
	if err != nil {
		if idempotency.IsConflict(err) {
			res, err := idempotency.AfterConflict[CreatePaymentResult](ctx, s.ledger, key, op)
			if res != nil {
				res.Replayed = true
			}
			return res, err
		}
		return nil, err
	}

	params := ports.WalletOrderParams{
		ReferenceID: order.ID,
		Amount:      order.Total,
		Currency:    domain.NormalizeCurrency(order.Currency, ""),
		ReturnURL:   req.ReturnURL,
		CancelURL:   req.CancelURL,
		Shipping:    req.Shipping,
	}
	var wo *ports.WalletOrder
	err = s.executor.Run(ctx, "wallet.create_order", func(ctx context.Context) error {
		var err error
		wo, err = s.gateway.CreateOrder(ctx, params, key)
		return err
	})
	if err != nil {
		s.ledger.Fail(ctx, key, op, err, idempotency.Retryable(s.executor.Policy(), err))
		s.logger.Error("Failed to create wallet order",
			zap.String("order_id", order.ID),
			zap.String("idempotency_key", key),
			zap.Error(err),
		)
		return nil, fmt.Errorf("create wallet order for order %s: %w", order.ID, err)
	}

	var res *CreatePaymentResult
	err = s.tx.WithTransaction(context.WithoutCancel(ctx), func(ctx context.Context, tx pgx.Tx) error {
		locked, err := s.orders.GetForUpdate(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		now := s.now()
		if _, err := s.upsert(ctx, tx, locked, wo, ""); err != nil {
			return err
		}
		if locked.GatewayIntentRef != wo.ID {
			locked.GatewayIntentRef = wo.ID
			locked.UpdatedAt = now
		}
		if _, err := locked.TransitionTo(domain.OrderStatusPendingPayment, now); err != nil {
			return err
		}
		if err := s.orders.Save(ctx, tx, locked); err != nil {
			return err
		}
		res = &CreatePaymentResult{
			OrderID:         locked.ID,
			ProviderOrderID: wo.ID,
			ApprovalURL:     wo.ApprovalURL,
			Status:          wo.Status,
			OrderStatus:     locked.Status,
		}
		return s.ledger.Succeed(ctx, tx, key, op, locked.ID, res)
	})
	if err != nil {
		s.ledger.Fail(context.WithoutCancel(ctx), key, op, err, true)
		return nil, fmt.Errorf("record wallet order %s: %w", wo.ID, err)
	}

	s.logger.Info("Wallet order created",
		zap.String("order_id", order.ID),
		zap.String("provider_order_id", wo.ID),
		zap.String("status", wo.Status),
	)
	return res, nil
}

// CapturePayment captures the approved provider order. The provider order must be the one stored
// on the order; a capture the provider reports as already done converges on the provider's view.
func (s *Service) CapturePayment(ctx context.Context, req CapturePaymentRequest) (*CaptureResult, error) {
	if req.OrderID == "" {
		return nil, missingField("order_id")
	}
	if req.ProviderOrderID == "" {
		return nil, missingField("provider_order_id")
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = s.ledger.NewKey()
	}
	key, op := req.IdempotencyKey, domain.OperationWalletCaptureOrder

	if res, done, err := idempotency.Replayed[CaptureResult](ctx, s.ledger, key, op); done || err != nil {
		if res != nil {
			res.Replayed = true
		}
		return res, err
	}

	order, err := s.ownedOrder(ctx, req.OrderID, req.UserID)
	if err != nil {
		return nil, err
	}
	if order.GatewayIntentRef != req.ProviderOrderID {
		s.logger.Warn("Wallet capture for a provider order not on the order",
			zap.String("order_id", order.ID),
			zap.String("provider_order_id", req.ProviderOrderID),
		)
		return nil, domain.ErrProviderOrderMismatch
	}
	switch order.Status {
	case domain.OrderStatusPendingPayment, domain.OrderStatusProcessing:
	case domain.OrderStatusPaid:
		// Nothing to capture; report the recorded outcome.
		txn, err := s.txns.GetByGatewayIntentID(ctx, nil, req.ProviderOrderID)
		if err != nil {
			return nil, err
		}
		res := &CaptureResult{OrderID: order.ID, ProviderOrderID: txn.GatewayIntentID, Status: txn.Status, OrderStatus: order.Status}
		if err := s.ledger.Settle(context.WithoutCancel(ctx), nil, key, op, order.ID, req, res); err != nil {
			return nil, err
		}
		return res, nil
	default:
		return nil, domain.Precondition("order %s is %s; nothing to capture", order.ID, order.Status)
	}

	if _, err := s.ledger.Begin(ctx, nil, idempotency.BeginParams{Key: key, Operation: op, EntityID: order.ID, Request: req}); err != nil {
		if idempotency.IsConflict(err) {
			res, err := idempotency.AfterConflict[CaptureResult](ctx, s.ledger, key, op)
			if res != nil {
				res.Replayed = true
			}
			return res, err
		}
		return nil, err
	}

	var wo *ports.WalletOrder
	err = s.executor.Run(ctx, "wallet.capture_order", func(ctx context.Context) error {
		var err error
		wo, err = s.gateway.CaptureOrder(ctx, req.ProviderOrderID, key)
		return err
	})
	if alreadyCaptured(err) {
		s.logger.Info("Wallet order already captured, re-reading",
			zap.String("order_id", order.ID),
			zap.String("provider_order_id", req.ProviderOrderID),
		)
		wo, err = s.getOrder(ctx, req.ProviderOrderID)
	}
	if err != nil {
		s.ledger.Fail(ctx, key, op, err, idempotency.Retryable(s.executor.Policy(), err))
		s.logger.Error("Failed to capture wallet order",
			zap.String("order_id", order.ID),
			zap.String("provider_order_id", req.ProviderOrderID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("capture wallet order %s: %w", req.ProviderOrderID, err)
	}

	var res *CaptureResult
	ctx = context.WithoutCancel(ctx)
	_, err = s.apply(ctx, order.ID, wo, "api", func(ctx context.Context, tx pgx.Tx, locked *domain.Order, txn *domain.PaymentTransaction) error {
		res = &CaptureResult{
			OrderID:         locked.ID,
			ProviderOrderID: wo.ID,
			CaptureID:       wo.CaptureID,
			Status:          txn.Status,
			OrderStatus:     locked.Status,
		}
		return s.ledger.Succeed(ctx, tx, key, op, locked.ID, res)
	})
	if err != nil {
		s.ledger.Fail(ctx, key, op, err, true)
		return nil, fmt.Errorf("record wallet capture %s: %w", wo.ID, err)
	}

	s.logger.Info("Wallet order captured",
		zap.String("order_id", res.OrderID),
		zap.String("provider_order_id", res.ProviderOrderID),
		zap.String("capture_id", res.CaptureID),
		zap.String("status", res.Status),
		zap.String("order_status", string(res.OrderStatus)),
	)
	return res, nil
}

func alreadyCaptured(err error) bool {
	var gwErr *pkgerrors.GatewayError
	return errors.As(err, &gwErr) && gwErr.Code == ports.WalletIssueAlreadyCaptured
}

// SyncOrder re-reads a provider order and applies it. Used by webhooks, retrieve and the status sweep.
func (s *Service) SyncOrder(ctx context.Context, providerOrderID string) (*domain.PaymentTransaction, error) {
	if providerOrderID == "" {
		return nil, missingField("provider_order_id")
	}
	wo, err := s.getOrder(ctx, providerOrderID)
	if err != nil {
		return nil, err
	}

	orderID := wo.ReferenceID
	if txn, err := s.txns.GetByGatewayIntentID(ctx, nil, providerOrderID); err == nil {
		orderID = txn.OrderID
	} else if !domain.IsNotFoundError(err) {
		return nil, err
	}
	if orderID == "" {
		return nil, fmt.Errorf("wallet order %s has no order reference: %w", providerOrderID, domain.ErrTxnNotFound)
	}
	return s.apply(ctx, orderID, wo, "sync", nil)
}

func (s *Service) getOrder(ctx context.Context, providerOrderID string) (*ports.WalletOrder, error) {
	var wo *ports.WalletOrder
	err := s.executor.Run(ctx, "wallet.get_order", func(ctx context.Context) error {
		var err error
		wo, err = s.gateway.GetOrder(ctx, providerOrderID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get wallet order %s: %w", providerOrderID, err)
	}
	return wo, nil
}

type completeFunc func(ctx context.Context, tx pgx.Tx, order *domain.Order, txn *domain.PaymentTransaction) error

func (s *Service) apply(ctx context.Context, orderID string, wo *ports.WalletOrder, source string,
	complete completeFunc) (*domain.PaymentTransaction, error) {
	var txn *domain.PaymentTransaction
	var events []domain.PaymentEvent

	err := s.tx.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		order, err := s.orders.GetForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		var evs []domain.PaymentEvent
		txn, evs, err = s.applyLocked(ctx, tx, order, wo, source)
		if err != nil {
			return err
		}
		if complete != nil {
			if err := complete(ctx, tx, order, txn); err != nil {
				return err
			}
		}
		events = evs
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, events...)
	return txn, nil
}

// applyLocked mirrors the card path: the transaction row never leaves a terminal status, and only the
// provider order on the order (or one that actually captured) moves the order.
func (s *Service) applyLocked(ctx context.Context, tx pgx.Tx, order *domain.Order, wo *ports.WalletOrder,
	source string) (*domain.PaymentTransaction, []domain.PaymentEvent, error) {
	now := s.now()
	status := wo.EffectiveStatus()

	existing, err := s.txns.GetByGatewayIntentID(ctx, tx, wo.ID)
	if err != nil && !domain.IsNotFoundError(err) {
		return nil, nil, err
	}
	if err != nil {
		existing = nil
	}
	if existing != nil && existing.IsTerminal() && existing.Status != status {
		s.logger.Info("Ignoring stale wallet snapshot",
			zap.String("provider_order_id", wo.ID),
			zap.String("stored_status", existing.Status),
			zap.String("snapshot_status", status),
			zap.String("source", source),
		)
		return existing, nil, nil
	}

	message := ""
	if status == domain.WalletStatusDeclined {
		message = "wallet payment was declined"
	}
	stored, err := s.upsert(ctx, tx, order, wo, message)
	if err != nil {
		return nil, nil, err
	}

	var events []domain.PaymentEvent
	changed := existing == nil || existing.Status != status
	if changed && status == domain.WalletStatusDeclined {
		events = append(events, notify.Event(domain.EventPaymentFailed, order, wo.ID+":declined", message, now))
	}

	current := order.GatewayIntentRef == wo.ID || status == domain.WalletStatusCompleted
	if target, ok := domain.OrderStatusForWallet(status); ok && current {
		moved, err := order.TransitionTo(target, now)
		switch {
		case err != nil:
			s.logger.Debug("Wallet status does not move order",
				zap.String("order_id", order.ID),
				zap.String("order_status", string(order.Status)),
				zap.String("wallet_status", status),
			)
		case moved:
			s.logger.Info("Order status changed",
				zap.String("order_id", order.ID),
				zap.String("status", string(target)),
				zap.String("provider_order_id", wo.ID),
				zap.String("source", source),
			)
			if err := s.orders.Save(ctx, tx, order); err != nil {
				return nil, nil, err
			}
			if target == domain.OrderStatusPaid {
				events = append(events, notify.Event(domain.EventPaymentSucceeded, order, wo.ID, "", now))
			}
		}
	}
	return stored, events, nil
}

func (s *Service) upsert(ctx context.Context, tx pgx.Tx, order *domain.Order, wo *ports.WalletOrder, message string) (*domain.PaymentTransaction, error) {
	now := s.now()
	currency := domain.NormalizeCurrency(wo.Currency, order.Currency)
	amount := order.Total
	if wo.Amount.Sign() > 0 {
		amount = wo.Amount
	}
	return s.txns.Upsert(ctx, tx, &domain.PaymentTransaction{
		ID:              uuid.NewString(),
		OrderID:         order.ID,
		Gateway:         domain.GatewayWallet,
		GatewayIntentID: wo.ID,
		Amount:          amount,
		Currency:        currency,
		Status:          wo.EffectiveStatus(),
		ErrorMessage:    message,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
}

func (s *Service) lockOwnedOrder(ctx context.Context, tx pgx.Tx, orderID, userID string) (*domain.Order, error) {
	order, err := s.orders.GetForUpdate(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.OwnedBy(userID) {
		return nil, domain.ErrOrderNotFound
	}
	return order, nil
}

func (s *Service) ownedOrder(ctx context.Context, orderID, userID string) (*domain.Order, error) {
	order, err := s.orders.GetByID(ctx, nil, orderID)
	if err != nil {
		return nil, err
	}
	if !order.OwnedBy(userID) {
		return nil, domain.ErrOrderNotFound
	}
	return order, nil
}
