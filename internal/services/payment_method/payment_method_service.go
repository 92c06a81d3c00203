package payment_method

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kevin07696/payment-orchestrator/internal/domain"
	"github.com/kevin07696/payment-orchestrator/internal/domain/ports"
	"github.com/kevin07696/payment-orchestrator/internal/services/idempotency"
	"github.com/kevin07696/payment-orchestrator/pkg/resilience"
	"github.com/kevin07696/payment-orchestrator/pkg/timeutil"
	"go.uber.org/zap"
)

// Deps are the collaborators of the payment method service.
type Deps struct {
	Tx        ports.TransactionManager
	Methods   ports.PaymentMethodRepository
	Customers ports.CustomerRepository
	Gateway   ports.CardGateway
	Ledger    *idempotency.Ledger
	Executor  *resilience.Executor
	Logger    *zap.Logger
	Clock     timeutil.Clock
}

// Service manages a user's saved cards. Card data never reaches this service: the client
// tokenizes with the gateway and hands over the gateway payment method id.
type Service struct {
	tx        ports.TransactionManager
	methods   ports.PaymentMethodRepository
	customers ports.CustomerRepository
	gateway   ports.CardGateway
	ledger    *idempotency.Ledger
	executor  *resilience.Executor
	logger    *zap.Logger
	now       timeutil.Clock
}

// NewService creates a new payment method service
func NewService(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = timeutil.SystemClock
	}
	return &Service{
		tx:        d.Tx,
		methods:   d.Methods,
		customers: d.Customers,
		gateway:   d.Gateway,
		ledger:    d.Ledger,
		executor:  d.Executor,
		logger:    d.Logger,
		now:       d.Clock,
	}
}

// AttachRequest saves a tokenized card for a user.
type AttachRequest struct {
	UserID                 string `json:"user_id"`
	GatewayPaymentMethodID string `json:"gateway_payment_method_id"`
	MakeDefault            bool   `json:"make_default"`
	IdempotencyKey         string `json:"idempotency_key"`
}

// Attach attaches the gateway payment method to the user's gateway customer and saves its summary.
// The user's first method, or one attached with MakeDefault, becomes the only default.
func (s *Service) Attach(ctx context.Context, req AttachRequest) (*domain.CustomerPaymentMethod, error) {
	if req.UserID == "" {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationMissingField, "user_id is required")
	}
	if req.GatewayPaymentMethodID == "" {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationMissingField, "gateway_payment_method_id is required")
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = s.ledger.NewKey()
	}
	key, op := req.IdempotencyKey, domain.OperationAttachPaymentMethod

	if res, done, err := idempotency.Replayed[domain.CustomerPaymentMethod](ctx, s.ledger, key, op); done || err != nil {
		return res, err
	}

	existing, err := s.methods.GetByGatewayID(ctx, nil, req.UserID, req.GatewayPaymentMethodID)
	if err == nil {
		s.logger.Info("Payment method already saved",
			zap.String("user_id", req.UserID),
			zap.String("payment_method_id", existing.ID),
		)
		if req.MakeDefault && !existing.IsDefault {
			if existing, err = s.SetDefault(ctx, req.UserID, existing.ID); err != nil {
				return nil, err
			}
		}
		if err := s.ledger.Settle(context.WithoutCancel(ctx), nil, key, op, req.UserID, req, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}
	if !domain.IsNotFoundError(err) {
		return nil, err
	}

	customerID, err := s.ensureCustomer(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	if _, err := s.ledger.Begin(ctx, nil, idempotency.BeginParams{Key: key, Operation: op, EntityID: req.UserID, Request: req}); err != nil {
		if idempotency.IsConflict(err) {
			return idempotency.AfterConflict[domain.CustomerPaymentMethod](ctx, s.ledger, key, op)
		}
		return nil, err
	}

	var gpm *ports.GatewayPaymentMethod
	err = s.executor.Run(ctx, "card.attach_payment_method", func(ctx context.Context) error {
		var err error
		gpm, err = s.gateway.AttachPaymentMethod(ctx, req.GatewayPaymentMethodID, customerID)
		return err
	})
	if err != nil {
		s.ledger.Fail(ctx, key, op, err, idempotency.Retryable(s.executor.Policy(), err))
		s.logger.Error("Failed to attach payment method",
			zap.String("user_id", req.UserID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("attach payment method: %w", err)
	}

	pm := &domain.CustomerPaymentMethod{
		ID:                     uuid.NewString(),
		UserID:                 req.UserID,
		GatewayPaymentMethodID: gpm.ID,
		Brand:                  gpm.Brand,
		Last4:                  gpm.Last4,
		ExpMonth:               gpm.ExpMonth,
		ExpYear:                gpm.ExpYear,
		CreatedAt:              s.now(),
	}

	ctx = context.WithoutCancel(ctx)
	err = s.tx.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := s.methods.LockUser(ctx, tx, req.UserID); err != nil {
			return err
		}
		current, err := s.methods.ListByUserID(ctx, tx, req.UserID)
		if err != nil {
			return err
		}
		makeDefault := req.MakeDefault || len(current) == 0
		if err := s.methods.Create(ctx, tx, pm); err != nil {
			return err
		}
		if makeDefault {
			if err := s.methods.ClearDefault(ctx, tx, req.UserID); err != nil {
				return err
			}
			if err := s.methods.SetDefault(ctx, tx, pm.ID); err != nil {
				return err
			}
			pm.IsDefault = true
		}
		return s.ledger.Succeed(ctx, tx, key, op, pm.ID, pm)
	})
	if err != nil {
		s.ledger.Fail(ctx, key, op, err, true)
		return nil, fmt.Errorf("save payment method: %w", err)
	}

	s.logger.Info("Payment method saved",
		zap.String("user_id", pm.UserID),
		zap.String("payment_method_id", pm.ID),
		zap.String("brand", pm.Brand),
		zap.Bool("is_default", pm.IsDefault),
	)
	return pm, nil
}

// ensureCustomer returns the user's gateway customer, creating it on first use. The creation key
// is derived from the user id so concurrent first attaches converge on one customer.
func (s *Service) ensureCustomer(ctx context.Context, userID string) (string, error) {
	customerID, err := s.customers.GetGatewayCustomerID(ctx, nil, userID)
	if err != nil {
		return "", err
	}
	if customerID != "" {
		return customerID, nil
	}

	err = s.executor.Run(ctx, "card.create_customer", func(ctx context.Context) error {
		var err error
		customerID, err = s.gateway.CreateCustomer(ctx, userID, "customer-"+userID)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("create gateway customer: %w", err)
	}
	stored, err := s.customers.SaveGatewayCustomerID(ctx, nil, userID, customerID)
	if err != nil {
		return "", err
	}
	s.logger.Info("Gateway customer created", zap.String("user_id", userID), zap.String("customer_id", stored))
	return stored, nil
}

// SetDefault makes id the user's only default payment method.
func (s *Service) SetDefault(ctx context.Context, userID, id string) (*domain.CustomerPaymentMethod, error) {
	var pm *domain.CustomerPaymentMethod
	err := s.tx.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := s.methods.LockUser(ctx, tx, userID); err != nil {
			return err
		}
		var err error
		pm, err = s.owned(ctx, tx, userID, id)
		if err != nil {
			return err
		}
		if err := s.methods.ClearDefault(ctx, tx, userID); err != nil {
			return err
		}
		if err := s.methods.SetDefault(ctx, tx, id); err != nil {
			return err
		}
		pm.IsDefault = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Default payment method changed", zap.String("user_id", userID), zap.String("payment_method_id", id))
	return pm, nil
}

// List returns the user's saved methods, default first.
func (s *Service) List(ctx context.Context, userID string) ([]*domain.CustomerPaymentMethod, error) {
	return s.methods.ListByUserID(ctx, nil, userID)
}

// Detach removes the method at the gateway and locally. Removing the default promotes the most
// recently saved remaining method.
func (s *Service) Detach(ctx context.Context, userID, id string) error {
	pm, err := s.owned(ctx, nil, userID, id)
	if err != nil {
		return err
	}

	err = s.executor.Run(ctx, "card.detach_payment_method", func(ctx context.Context) error {
		return s.gateway.DetachPaymentMethod(ctx, pm.GatewayPaymentMethodID)
	})
	if err != nil {
		return fmt.Errorf("detach payment method %s: %w", pm.ID, err)
	}

	var promoted string
	err = s.tx.WithTransaction(context.WithoutCancel(ctx), func(ctx context.Context, tx pgx.Tx) error {
		if err := s.methods.LockUser(ctx, tx, userID); err != nil {
			return err
		}
		// The default flag may have moved since the read above.
		current, err := s.owned(ctx, tx, userID, id)
		if err != nil {
			return err
		}
		if err := s.methods.Delete(ctx, tx, current.ID); err != nil {
			return err
		}
		if !current.IsDefault {
			return nil
		}
		remaining, err := s.methods.ListByUserID(ctx, tx, userID)
		if err != nil || len(remaining) == 0 {
			return err
		}
		promoted = remaining[0].ID
		return s.methods.SetDefault(ctx, tx, promoted)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Payment method removed",
		zap.String("user_id", userID),
		zap.String("payment_method_id", pm.ID),
		zap.String("promoted_default", promoted),
	)
	return nil
}

func (s *Service) owned(ctx context.Context, tx pgx.Tx, userID, id string) (*domain.CustomerPaymentMethod, error) {
	pm, err := s.methods.GetByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if pm.UserID != userID {
		return nil, domain.ErrPMNotFound
	}
	return pm, nil
}
