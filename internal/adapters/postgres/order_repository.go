package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/kevin07696/payment-orchestrator/internal/domain"
	"github.com/kevin07696/payment-orchestrator/internal/domain/ports"
)

const orderColumns = `id, user_id, total, currency, status, gateway_intent_ref, payment_method_ref, created_at, updated_at`

// OrderRepository reads and transitions rows of the shared orders table.
type OrderRepository struct {
	db *DBExecutor
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *DBExecutor) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) GetByID(ctx context.Context, tx ports.DBTX, id string) (*domain.Order, error) {
	row := r.db.conn(tx).QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrderRow(row)
}

func (r *OrderRepository) GetForUpdate(ctx context.Context, tx ports.DBTX, id string) (*domain.Order, error) {
	row := r.db.conn(tx).QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
	return scanOrderRow(row)
}

// Save writes the payment-owned columns. Orders are created by the order service, so a missing row is an error.
func (r *OrderRepository) Save(ctx context.Context, tx ports.DBTX, order *domain.Order) error {
	tag, err := r.db.conn(tx).Exec(ctx, `
		UPDATE orders
		SET status = $2, gateway_intent_ref = $3, payment_method_ref = $4, updated_at = $5
		WHERE id = $1`,
		order.ID, string(order.Status), nullText(order.GatewayIntentRef), nullText(order.PaymentMethodRef), order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update order %s: %w", order.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *OrderRepository) FindByUserID(ctx context.Context, tx ports.DBTX, userID string, limit int) ([]*domain.Order, error) {
	rows, err := r.db.conn(tx).Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func scanOrderRow(row pgx.Row) (*domain.Order, error) {
	o, err := scanOrder(row)
	if isNoRows(err) {
		return nil, domain.ErrOrderNotFound
	}
	return o, err
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o         domain.Order
		total     pgtype.Numeric
		status    string
		intentRef pgtype.Text
		pmRef     pgtype.Text
	)
	if err := row.Scan(&o.ID, &o.UserID, &total, &o.Currency, &status, &intentRef, &pmRef, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	amount, err := pgNumericToDecimal(total)
	if err != nil {
		return nil, err
	}
	o.Total = amount
	o.Status = domain.OrderStatus(status)
	o.GatewayIntentRef = intentRef.String
	o.PaymentMethodRef = pmRef.String
	return &o, nil
}
