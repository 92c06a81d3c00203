package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kevin07696/payment-orchestrator/internal/domain"
	"github.com/kevin07696/payment-orchestrator/internal/domain/ports"
	"github.com/kevin07696/payment-orchestrator/internal/services/idempotency"
	"github.com/kevin07696/payment-orchestrator/internal/services/notify"
	pkgerrors "github.com/kevin07696/payment-orchestrator/pkg/errors"
	"github.com/kevin07696/payment-orchestrator/pkg/resilience"
	"github.com/kevin07696/payment-orchestrator/pkg/timeutil"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Sources of an intent snapshot, used in logs.
const (
	SourceAPI     = "api"
	SourceWebhook = "webhook"
	SourceSweep   = "sweep"
)

// WalletSyncer reconciles wallet transactions; implemented by the wallet service.
type WalletSyncer interface {
	SyncOrder(ctx context.Context, providerOrderID string) (*domain.PaymentTransaction, error)
}

// Deps are the collaborators of the payment orchestrator.
type Deps struct {
	Tx        ports.TransactionManager
	Orders    ports.OrderRepository
	Txns      ports.TransactionRepository
	Methods   ports.PaymentMethodRepository
	Customers ports.CustomerRepository
	Gateway   ports.CardGateway
	Wallet    WalletSyncer
	Ledger    *idempotency.Ledger
	Executor  *resilience.Executor
	Publisher *notify.Publisher
	Logger    *zap.Logger
	Clock     timeutil.Clock
}

// Service drives an order through PENDING -> PROCESSING -> PAID against the card gateway.
type Service struct {
	tx        ports.TransactionManager
	orders    ports.OrderRepository
	txns      ports.TransactionRepository
	methods   ports.PaymentMethodRepository
	customers ports.CustomerRepository
	gateway   ports.CardGateway
	wallet    WalletSyncer
	ledger    *idempotency.Ledger
	executor  *resilience.Executor
	publisher *notify.Publisher
	logger    *zap.Logger
	now       timeutil.Clock
}

// NewService creates a new payment service
func NewService(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = timeutil.SystemClock
	}
	return &Service{
		tx:        d.Tx,
		orders:    d.Orders,
		txns:      d.Txns,
		methods:   d.Methods,
		customers: d.Customers,
		gateway:   d.Gateway,
		wallet:    d.Wallet,
		ledger:    d.Ledger,
		executor:  d.Executor,
		publisher: d.Publisher,
		logger:    d.Logger,
		now:       d.Clock,
	}
}

// SetWalletSyncer wires the wallet orchestrator after construction.
func (s *Service) SetWalletSyncer(w WalletSyncer) {
	s.wallet = w
}

// CreateIntentRequest starts payment for an order.
type CreateIntentRequest struct {
	OrderID         string `json:"order_id"`
	UserID          string `json:"user_id"`
	IdempotencyKey  string `json:"idempotency_key"`
	PaymentMethodID string `json:"payment_method_id,omitempty"`
}

// ConfirmIntentRequest confirms the order's intent, optionally with a new payment method.
type ConfirmIntentRequest struct {
	OrderID         string `json:"order_id"`
	UserID          string `json:"user_id"`
	IdempotencyKey  string `json:"idempotency_key"`
	PaymentMethodID string `json:"payment_method_id,omitempty"`
}

// CancelIntentRequest cancels a not yet captured intent.
type CancelIntentRequest struct {
	OrderID        string `json:"order_id"`
	UserID         string `json:"user_id"`
	IdempotencyKey string `json:"idempotency_key"`
	Reason         string `json:"reason,omitempty"`
}

// RetrieveIntentRequest asks for the gateway's current view of an order's payment.
type RetrieveIntentRequest struct {
	OrderID string
	UserID  string
}

// IntentResult is returned by every intent operation and stored in the ledger for replays.
type IntentResult struct {
	OrderID      string             `json:"order_id"`
	IntentID     string             `json:"intent_id"`
	Status       string             `json:"status"`
	ClientSecret string             `json:"client_secret,omitempty"`
	OrderStatus  domain.OrderStatus `json:"order_status"`
	Amount       decimal.Decimal    `json:"amount"`
	Currency     string             `json:"currency"`
	ErrorMessage string             `json:"error_message,omitempty"`
	Replayed     bool               `json:"-"`
}

func newIntentResult(order *domain.Order, txn *domain.PaymentTransaction, clientSecret string) *IntentResult {
	return &IntentResult{
		OrderID:      order.ID,
		IntentID:     txn.GatewayIntentID,
		Status:       txn.Status,
		ClientSecret: clientSecret,
		OrderStatus:  order.Status,
		Amount:       txn.Amount,
		Currency:     txn.Currency,
		ErrorMessage: txn.ErrorMessage,
	}
}

func missingField(name string) error {
	return domain.NewDomainError(domain.ErrorCodeValidationMissingField, name+" is required")
}

// CreateIntent creates a gateway intent for a PENDING order and moves it to PROCESSING.
func (s *Service) CreateIntent(ctx context.Context, req CreateIntentRequest) (*IntentResult, error) {
	if req.OrderID == "" {
		return nil, missingField("order_id")
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = s.ledger.NewKey()
	}
	key, op := req.IdempotencyKey, domain.OperationCreateIntent

	if res, done, err := idempotency.Replayed[IntentResult](ctx, s.ledger, key, op); done || err != nil {
		return replayed(res), err
	}

	var order *domain.Order
	var params ports.IntentParams
	err := s.tx.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		order, err = s.lockOwnedOrder(ctx, tx, req.OrderID, req.UserID)
		if err != nil {
			return err
		}
		if order.Status != domain.OrderStatusPending {
			return domain.Precondition("order %s is %s; a payment intent can only be created for a PENDING order",
				order.ID, order.Status)
		}
		params, err = s.intentParams(ctx, tx, order, req.PaymentMethodID)
		if err != nil {
			return err
		}
		_, err = s.ledger.Begin(ctx, tx, idempotency.BeginParams{Key: key, Operation: op, EntityID: order.ID, Request: req})
		return err
	})
	if err != nil {
		if idempotency.IsConflict(err) {
			return replayedAfterConflict(idempotency.AfterConflict[IntentResult](ctx, s.ledger, key, op))
		}
		return nil, err
	}

	var intent *ports.Intent
	err = s.executor.Run(ctx, "card.create_intent", func(ctx context.Context) error {
		var err error
		intent, err = s.gateway.CreateIntent(ctx, params, key)
		return err
	})
	if err != nil {
		s.ledger.Fail(ctx, key, op, err, idempotency.Retryable(s.executor.Policy(), err))
		s.logger.Error("Failed to create payment intent",
			zap.String("order_id", order.ID),
			zap.String("idempotency_key", key),
			zap.Error(err),
		)
		return nil, fmt.Errorf("create payment intent for order %s: %w", order.ID, err)
	}

	res, err := s.applyAndComplete(ctx, order.ID, intent, SourceAPI, key, op)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Payment intent created",
		zap.String("order_id", order.ID),
		zap.String("intent_id", intent.ID),
		zap.String("status", intent.Status),
		zap.Int64("amount_minor", params.AmountMinor),
	)
	return res, nil
}

// confirmable reports whether a confirm call can still move the intent.
func confirmable(status string) bool {
	switch status {
	case domain.IntentStatusRequiresPaymentMethod, domain.IntentStatusRequiresConfirmation, domain.IntentStatusRequiresAction:
		return true
	}
	return false
}

// ConfirmIntent confirms the order's intent. The intent is re-fetched first; when it has already
// moved past confirmation the observed status is applied and returned without error.
func (s *Service) ConfirmIntent(ctx context.Context, req ConfirmIntentRequest) (*IntentResult, error) {
	if req.OrderID == "" {
		return nil, missingField("order_id")
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = s.ledger.NewKey()
	}
	key, op := req.IdempotencyKey, domain.OperationConfirmIntent

	if res, done, err := idempotency.Replayed[IntentResult](ctx, s.ledger, key, op); done || err != nil {
		return replayed(res), err
	}

	order, err := s.ownedOrder(ctx, req.OrderID, req.UserID)
	if err != nil {
		return nil, err
	}
	if order.GatewayIntentRef == "" {
		return nil, domain.Precondition("order %s has no payment intent; create one first", order.ID)
	}

	current, err := s.retrieve(ctx, order.GatewayIntentRef)
	if err != nil {
		return nil, err
	}
	if !confirmable(current.Status) {
		s.logger.Info("Intent not confirmable, applying observed status",
			zap.String("order_id", order.ID),
			zap.String("intent_id", current.ID),
			zap.String("status", current.Status),
		)
		return s.settleObserved(ctx, order.ID, current, key, op, req)
	}

	paymentMethodID, err := s.resolvePaymentMethod(ctx, nil, order.UserID, req.PaymentMethodID)
	if err != nil {
		return nil, err
	}
	if paymentMethodID == "" && current.PaymentMethodID == "" {
		return nil, missingField("payment_method_id")
	}

	if _, err := s.ledger.Begin(ctx, nil, idempotency.BeginParams{Key: key, Operation: op, EntityID: order.ID, Request: req}); err != nil {
		if idempotency.IsConflict(err) {
			return replayedAfterConflict(idempotency.AfterConflict[IntentResult](ctx, s.ledger, key, op))
		}
		return nil, err
	}

	var intent *ports.Intent
	err = s.executor.Run(ctx, "card.confirm_intent", func(ctx context.Context) error {
		var err error
		intent, err = s.gateway.ConfirmIntent(ctx, current.ID, paymentMethodID, key)
		return err
	})
	if err != nil {
		s.ledger.Fail(ctx, key, op, err, idempotency.Retryable(s.executor.Policy(), err))
		s.recordDecline(ctx, order.ID, current.ID, err)
		return nil, fmt.Errorf("confirm payment intent %s: %w", current.ID, err)
	}

	res, err := s.applyAndComplete(ctx, order.ID, intent, SourceAPI, key, op)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Payment intent confirmed",
		zap.String("order_id", order.ID),
		zap.String("intent_id", intent.ID),
		zap.String("status", intent.Status),
		zap.String("order_status", string(res.OrderStatus)),
	)
	return res, nil
}

// recordDecline re-reads a declined intent so its failure reason reaches the transaction row.
func (s *Service) recordDecline(ctx context.Context, orderID, intentID string, cause error) {
	if _, ok := pkgerrors.DeclineOf(cause); !ok {
		return
	}
	ctx = context.WithoutCancel(ctx)
	intent, err := s.gateway.RetrieveIntent(ctx, intentID)
	if err != nil {
		s.logger.Warn("Could not re-read declined intent", zap.String("intent_id", intentID), zap.Error(err))
		return
	}
	if _, err := s.applyIntent(ctx, orderID, intent, SourceAPI, nil); err != nil {
		s.logger.Warn("Could not record declined intent", zap.String("intent_id", intentID), zap.Error(err))
	}
}

// CancelIntent cancels an intent that has not been captured and moves the order to CANCELLED.
func (s *Service) CancelIntent(ctx context.Context, req CancelIntentRequest) (*IntentResult, error) {
	if req.OrderID == "" {
		return nil, missingField("order_id")
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = s.ledger.NewKey()
	}
	key, op := req.IdempotencyKey, domain.OperationCancelIntent

	if res, done, err := idempotency.Replayed[IntentResult](ctx, s.ledger, key, op); done || err != nil {
		return replayed(res), err
	}

	order, err := s.ownedOrder(ctx, req.OrderID, req.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.checkCancelable(ctx, order); err != nil {
		return nil, err
	}

	current, err := s.retrieve(ctx, order.GatewayIntentRef)
	if err != nil {
		return nil, err
	}
	switch current.Status {
	case domain.IntentStatusSucceeded:
		return nil, domain.Precondition("payment for order %s was already captured; refund it instead", order.ID)
	case domain.IntentStatusCanceled:
		return s.settleObserved(ctx, order.ID, current, key, op, req)
	}

	err = s.tx.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		locked, err := s.orders.GetForUpdate(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if err := s.checkCancelable(ctx, locked); err != nil {
			return err
		}
		_, err = s.ledger.Begin(ctx, tx, idempotency.BeginParams{Key: key, Operation: op, EntityID: order.ID, Request: req})
		return err
	})
	if err != nil {
		if idempotency.IsConflict(err) {
			return replayedAfterConflict(idempotency.AfterConflict[IntentResult](ctx, s.ledger, key, op))
		}
		return nil, err
	}

	var intent *ports.Intent
	err = s.executor.Run(ctx, "card.cancel_intent", func(ctx context.Context) error {
		var err error
		intent, err = s.gateway.CancelIntent(ctx, current.ID, key)
		return err
	})
	if err != nil {
		s.ledger.Fail(ctx, key, op, err, idempotency.Retryable(s.executor.Policy(), err))
		return nil, fmt.Errorf("cancel payment intent %s: %w", current.ID, err)
	}

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "requested_by_customer"
	}
	intent.LastErrorMessage = "canceled: " + reason

	res, err := s.applyAndComplete(ctx, order.ID, intent, SourceAPI, key, op)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Payment intent canceled",
		zap.String("order_id", order.ID),
		zap.String("intent_id", intent.ID),
		zap.String("reason", reason),
	)
	return res, nil
}

func (s *Service) checkCancelable(ctx context.Context, order *domain.Order) error {
	if order.Status != domain.OrderStatusPending && order.Status != domain.OrderStatusProcessing {
		return domain.Precondition("order %s is %s; only PENDING or PROCESSING orders can be canceled", order.ID, order.Status)
	}
	if order.GatewayIntentRef == "" {
		return domain.Precondition("order %s has no payment intent to cancel", order.ID)
	}
	txn, err := s.txns.GetByGatewayIntentID(ctx, nil, order.GatewayIntentRef)
	if err == nil && txn.Gateway != domain.GatewayCard {
		return domain.Precondition("order %s is paid through %s; card cancel does not apply", order.ID, txn.Gateway)
	}
	if err != nil && !domain.IsNotFoundError(err) {
		return err
	}
	return nil
}

// RetrieveIntent reconciles the order's payment with the gateway. The gateway view overwrites local state.
func (s *Service) RetrieveIntent(ctx context.Context, req RetrieveIntentRequest) (*IntentResult, error) {
	if req.OrderID == "" {
		return nil, missingField("order_id")
	}
	order, err := s.ownedOrder(ctx, req.OrderID, req.UserID)
	if err != nil {
		return nil, err
	}
	if order.GatewayIntentRef == "" {
		return nil, domain.Precondition("order %s has no payment intent", order.ID)
	}

	txn, err := s.txns.GetByGatewayIntentID(ctx, nil, order.GatewayIntentRef)
	if err != nil && !domain.IsNotFoundError(err) {
		return nil, err
	}
	if txn != nil && txn.Gateway == domain.GatewayWallet {
		synced, err := s.syncWallet(ctx, txn.GatewayIntentID)
		if err != nil {
			return nil, err
		}
		refreshed, err := s.orders.GetByID(ctx, nil, order.ID)
		if err != nil {
			return nil, err
		}
		return newIntentResult(refreshed, synced, ""), nil
	}

	intent, err := s.retrieve(ctx, order.GatewayIntentRef)
	if err != nil {
		return nil, err
	}
	return s.applyIntent(ctx, order.ID, intent, SourceAPI, nil)
}

// ApplyIntentSnapshot is the single mutation path for an observed gateway intent. It is used by
// confirm, retrieve, webhooks and the status sweep.
func (s *Service) ApplyIntentSnapshot(ctx context.Context, intent *ports.Intent, source string) (*IntentResult, error) {
	orderID := intent.Metadata["order_id"]
	if orderID == "" {
		txn, err := s.txns.GetByGatewayIntentID(ctx, nil, intent.ID)
		if err != nil {
			return nil, fmt.Errorf("intent %s has no order: %w", intent.ID, err)
		}
		orderID = txn.OrderID
	}
	return s.applyIntent(ctx, orderID, intent, source, nil)
}

// ReconcileTransaction re-reads a non-terminal transaction from its gateway and applies the result.
func (s *Service) ReconcileTransaction(ctx context.Context, txn *domain.PaymentTransaction) error {
	switch txn.Gateway {
	case domain.GatewayWallet:
		_, err := s.syncWallet(ctx, txn.GatewayIntentID)
		return err
	default:
		intent, err := s.retrieve(ctx, txn.GatewayIntentID)
		if err != nil {
			return err
		}
		if intent.Metadata == nil || intent.Metadata["order_id"] == "" {
			if intent.Metadata == nil {
				intent.Metadata = map[string]string{}
			}
			intent.Metadata["order_id"] = txn.OrderID
		}
		_, err = s.ApplyIntentSnapshot(ctx, intent, SourceSweep)
		return err
	}
}

func (s *Service) syncWallet(ctx context.Context, providerOrderID string) (*domain.PaymentTransaction, error) {
	if s.wallet == nil {
		return nil, fmt.Errorf("wallet gateway is not configured")
	}
	return s.wallet.SyncOrder(ctx, providerOrderID)
}

func (s *Service) retrieve(ctx context.Context, intentID string) (*ports.Intent, error) {
	var intent *ports.Intent
	err := s.executor.Run(ctx, "card.retrieve_intent", func(ctx context.Context) error {
		var err error
		intent, err = s.gateway.RetrieveIntent(ctx, intentID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve payment intent %s: %w", intentID, err)
	}
	return intent, nil
}

// applyAndComplete applies a fresh gateway result and stores the ledger outcome in the same transaction.
func (s *Service) applyAndComplete(ctx context.Context, orderID string, intent *ports.Intent, source, key string,
	op domain.OperationType) (*IntentResult, error) {
	ctx = context.WithoutCancel(ctx)
	res, err := s.applyIntent(ctx, orderID, intent, source, func(ctx context.Context, tx pgx.Tx, res *IntentResult) error {
		return s.ledger.Succeed(ctx, tx, key, op, res.OrderID, res)
	})
	if err != nil {
		// The gateway call succeeded; leave the attempt for the retry sweep, which will replay it
		// with the same key and get the same intent back.
		s.ledger.Fail(ctx, key, op, err, true)
		return nil, fmt.Errorf("record payment intent %s: %w", intent.ID, err)
	}
	return res, nil
}

// settleObserved applies an intent that moved without this call and stores it as the outcome
// of (key, op), closing any earlier failed attempt under the same key.
func (s *Service) settleObserved(ctx context.Context, orderID string, intent *ports.Intent, key string,
	op domain.OperationType, request interface{}) (*IntentResult, error) {
	return s.applyIntent(context.WithoutCancel(ctx), orderID, intent, SourceAPI, func(ctx context.Context, tx pgx.Tx, res *IntentResult) error {
		return s.ledger.Settle(ctx, tx, key, op, res.OrderID, request, res)
	})
}

func (s *Service) applyIntent(ctx context.Context, orderID string, intent *ports.Intent, source string,
	complete func(ctx context.Context, tx pgx.Tx, res *IntentResult) error) (*IntentResult, error) {
	var res *IntentResult
	var events []domain.PaymentEvent

	err := s.tx.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		order, err := s.orders.GetForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		txn, evs, err := s.applyIntentLocked(ctx, tx, order, intent, source)
		if err != nil {
			return err
		}
		res = newIntentResult(order, txn, intent.ClientSecret)
		if complete != nil {
			if err := complete(ctx, tx, res); err != nil {
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
	return res, nil
}

// applyIntentLocked upserts the transaction and moves the order. The caller holds the order row lock,
// which is what makes PAID (and its event) happen exactly once.
func (s *Service) applyIntentLocked(ctx context.Context, tx pgx.Tx, order *domain.Order, intent *ports.Intent,
	source string) (*domain.PaymentTransaction, []domain.PaymentEvent, error) {
	now := s.now()

	existing, err := s.txns.GetByGatewayIntentID(ctx, tx, intent.ID)
	if err != nil && !domain.IsNotFoundError(err) {
		return nil, nil, err
	}
	if err != nil {
		existing = nil
	}

	// Terminal statuses never regress; webhooks may arrive in any order.
	if existing != nil && existing.IsTerminal() && existing.Status != intent.Status {
		s.logger.Info("Ignoring stale intent snapshot",
			zap.String("intent_id", intent.ID),
			zap.String("stored_status", existing.Status),
			zap.String("snapshot_status", intent.Status),
			zap.String("source", source),
		)
		return existing, nil, nil
	}

	currency := domain.NormalizeCurrency(intent.Currency, order.Currency)
	amount := order.Total
	if intent.AmountMinor > 0 {
		amount = domain.FromMinorUnits(intent.AmountMinor, currency)
	}
	stored, err := s.txns.Upsert(ctx, tx, &domain.PaymentTransaction{
		ID:              uuid.NewString(),
		OrderID:         order.ID,
		Gateway:         domain.GatewayCard,
		GatewayIntentID: intent.ID,
		Amount:          amount,
		Currency:        currency,
		Status:          intent.Status,
		ErrorMessage:    intent.LastErrorMessage,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		return nil, nil, err
	}

	var events []domain.PaymentEvent
	txnChanged := existing == nil || existing.Status != intent.Status || existing.ErrorMessage != intent.LastErrorMessage
	if txnChanged && intent.LastErrorCode != "" && intent.Status == domain.IntentStatusRequiresPaymentMethod {
		events = append(events, notify.Event(domain.EventPaymentFailed, order,
			intent.ID+":"+intent.LastErrorCode, intent.LastErrorMessage, now))
	}

	orderChanged := false
	if order.GatewayIntentRef == "" {
		order.GatewayIntentRef = intent.ID
		orderChanged = true
	}
	if intent.PaymentMethodID != "" && order.PaymentMethodRef != intent.PaymentMethodID {
		order.PaymentMethodRef = intent.PaymentMethodID
		orderChanged = true
	}

	// A superseded intent only matters if it actually captured money.
	current := order.GatewayIntentRef == intent.ID || intent.Status == domain.IntentStatusSucceeded
	if target, ok := domain.OrderStatusForIntent(intent.Status); ok && current {
		moved, err := order.TransitionTo(target, now)
		switch {
		case err != nil:
			s.logger.Debug("Intent status does not move order",
				zap.String("order_id", order.ID),
				zap.String("order_status", string(order.Status)),
				zap.String("intent_status", intent.Status),
			)
		case moved:
			orderChanged = true
			s.logger.Info("Order status changed",
				zap.String("order_id", order.ID),
				zap.String("status", string(target)),
				zap.String("intent_id", intent.ID),
				zap.String("source", source),
			)
			if target == domain.OrderStatusPaid {
				events = append(events, notify.Event(domain.EventPaymentSucceeded, order, intent.ID, "", now))
			}
		}
	}

	if orderChanged {
		order.UpdatedAt = now
		if err := s.orders.Save(ctx, tx, order); err != nil {
			return nil, nil, err
		}
	}
	return stored, events, nil
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

func (s *Service) intentParams(ctx context.Context, tx pgx.Tx, order *domain.Order, paymentMethodID string) (ports.IntentParams, error) {
	currency := domain.NormalizeCurrency(order.Currency, "")
	params := ports.IntentParams{
		AmountMinor: domain.ToMinorUnits(order.Total, currency),
		Currency:    strings.ToLower(currency),
		Description: "Order " + order.ID,
		Metadata:    map[string]string{"order_id": order.ID, "user_id": order.UserID},
	}
	if params.AmountMinor <= 0 {
		return params, domain.NewDomainError(domain.ErrorCodeValidationAmountInvalid, "order total must be positive")
	}

	pmID, err := s.resolvePaymentMethod(ctx, tx, order.UserID, paymentMethodID)
	if err != nil {
		return params, err
	}
	params.PaymentMethodID = pmID

	if s.customers != nil {
		customerID, err := s.customers.GetGatewayCustomerID(ctx, tx, order.UserID)
		if err != nil {
			return params, err
		}
		params.CustomerID = customerID
	}
	return params, nil
}

// resolvePaymentMethod accepts a saved payment method id or a raw gateway payment method id.
func (s *Service) resolvePaymentMethod(ctx context.Context, tx pgx.Tx, userID, paymentMethodID string) (string, error) {
	if paymentMethodID == "" || s.methods == nil {
		return paymentMethodID, nil
	}
	pm, err := s.methods.GetByID(ctx, tx, paymentMethodID)
	if domain.IsNotFoundError(err) {
		return paymentMethodID, nil
	}
	if err != nil {
		return "", err
	}
	if pm.UserID != userID {
		return "", domain.ErrPMNotFound
	}
	if pm.IsExpired(s.now()) {
		return "", domain.Precondition("payment method %s expired", pm.DisplayName())
	}
	return pm.GatewayPaymentMethodID, nil
}

func replayed(res *IntentResult) *IntentResult {
	if res != nil {
		res.Replayed = true
	}
	return res
}

func replayedAfterConflict(res *IntentResult, err error) (*IntentResult, error) {
	return replayed(res), err
}
