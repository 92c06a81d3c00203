package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/kevin07696/payment-orchestrator/internal/domain"
	"github.com/kevin07696/payment-orchestrator/internal/domain/ports"
)

const paymentMethodColumns = `id, user_id, gateway_payment_method_id, brand, last4, exp_month, exp_year, is_default, created_at`

// PaymentMethodRepository implements ports.PaymentMethodRepository
type PaymentMethodRepository struct {
	db *DBExecutor
}

// NewPaymentMethodRepository creates a new payment method repository
func NewPaymentMethodRepository(db *DBExecutor) *PaymentMethodRepository {
	return &PaymentMethodRepository{db: db}
}

func (r *PaymentMethodRepository) Create(ctx context.Context, tx ports.DBTX, pm *domain.CustomerPaymentMethod) error {
	_, err := r.db.conn(tx).Exec(ctx, `
		INSERT INTO customer_payment_methods (`+paymentMethodColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		pm.ID, pm.UserID, pm.GatewayPaymentMethodID, pm.Brand, pm.Last4, pm.ExpMonth, pm.ExpYear, pm.IsDefault, pm.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Precondition("payment method %s is already saved", pm.GatewayPaymentMethodID)
		}
		return fmt.Errorf("insert payment method: %w", err)
	}
	return nil
}

func (r *PaymentMethodRepository) GetByID(ctx context.Context, tx ports.DBTX, id string) (*domain.CustomerPaymentMethod, error) {
	row := r.db.conn(tx).QueryRow(ctx, `SELECT `+paymentMethodColumns+` FROM customer_payment_methods WHERE id = $1`, id)
	return scanPaymentMethodRow(row)
}

func (r *PaymentMethodRepository) GetByGatewayID(ctx context.Context, tx ports.DBTX, userID, gatewayPaymentMethodID string) (*domain.CustomerPaymentMethod, error) {
	row := r.db.conn(tx).QueryRow(ctx, `
		SELECT `+paymentMethodColumns+` FROM customer_payment_methods
		WHERE user_id = $1 AND gateway_payment_method_id = $2`,
		userID, gatewayPaymentMethodID)
	return scanPaymentMethodRow(row)
}

// ListByUserID returns the default first, then newest first.
func (r *PaymentMethodRepository) ListByUserID(ctx context.Context, tx ports.DBTX, userID string) ([]*domain.CustomerPaymentMethod, error) {
	rows, err := r.db.conn(tx).Query(ctx, `
		SELECT `+paymentMethodColumns+` FROM customer_payment_methods
		WHERE user_id = $1
		ORDER BY is_default DESC, created_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list payment methods: %w", err)
	}
	defer rows.Close()

	var methods []*domain.CustomerPaymentMethod
	for rows.Next() {
		pm, err := scanPaymentMethod(rows)
		if err != nil {
			return nil, err
		}
		methods = append(methods, pm)
	}
	return methods, rows.Err()
}

// LockUser takes a transaction-scoped advisory lock on the user's saved methods.
func (r *PaymentMethodRepository) LockUser(ctx context.Context, tx ports.DBTX, userID string) error {
	if tx == nil {
		return fmt.Errorf("lock payment methods of %s: transaction required", userID)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('customer_payment_methods:' || $1))`, userID); err != nil {
		return fmt.Errorf("lock payment methods: %w", err)
	}
	return nil
}

func (r *PaymentMethodRepository) ClearDefault(ctx context.Context, tx ports.DBTX, userID string) error {
	_, err := r.db.conn(tx).Exec(ctx,
		`UPDATE customer_payment_methods SET is_default = FALSE WHERE user_id = $1 AND is_default`, userID)
	if err != nil {
		return fmt.Errorf("clear default payment method: %w", err)
	}
	return nil
}

func (r *PaymentMethodRepository) SetDefault(ctx context.Context, tx ports.DBTX, id string) error {
	tag, err := r.db.conn(tx).Exec(ctx, `UPDATE customer_payment_methods SET is_default = TRUE WHERE id = $1`, id)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Precondition("payment method %s: user already has a default", id)
		}
		return fmt.Errorf("set default payment method: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPMNotFound
	}
	return nil
}

func (r *PaymentMethodRepository) Delete(ctx context.Context, tx ports.DBTX, id string) error {
	tag, err := r.db.conn(tx).Exec(ctx, `DELETE FROM customer_payment_methods WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete payment method: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPMNotFound
	}
	return nil
}

func scanPaymentMethodRow(row pgx.Row) (*domain.CustomerPaymentMethod, error) {
	pm, err := scanPaymentMethod(row)
	if isNoRows(err) {
		return nil, domain.ErrPMNotFound
	}
	return pm, err
}

func scanPaymentMethod(row pgx.Row) (*domain.CustomerPaymentMethod, error) {
	var pm domain.CustomerPaymentMethod
	if err := row.Scan(&pm.ID, &pm.UserID, &pm.GatewayPaymentMethodID, &pm.Brand, &pm.Last4,
		&pm.ExpMonth, &pm.ExpYear, &pm.IsDefault, &pm.CreatedAt); err != nil {
		return nil, err
	}
	return &pm, nil
}
