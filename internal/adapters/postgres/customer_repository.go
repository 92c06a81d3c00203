package postgres

import (
	"context"
	"fmt"

	"github.com/kevin07696/payment-orchestrator/internal/domain/ports"
)

// CustomerRepository maps users to gateway customer ids.
type CustomerRepository struct {
	db *DBExecutor
}

// NewCustomerRepository creates a new customer repository
func NewCustomerRepository(db *DBExecutor) *CustomerRepository {
	return &CustomerRepository{db: db}
}

func (r *CustomerRepository) GetGatewayCustomerID(ctx context.Context, tx ports.DBTX, userID string) (string, error) {
	var customerID string
	err := r.db.conn(tx).QueryRow(ctx,
		`SELECT gateway_customer_id FROM gateway_customers WHERE user_id = $1`, userID).Scan(&customerID)
	if isNoRows(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get gateway customer: %w", err)
	}
	return customerID, nil
}

// SaveGatewayCustomerID keeps the first writer's id; a racing caller gets that id back.
func (r *CustomerRepository) SaveGatewayCustomerID(ctx context.Context, tx ports.DBTX, userID, customerID string) (string, error) {
	conn := r.db.conn(tx)
	if _, err := conn.Exec(ctx, `
		INSERT INTO gateway_customers (user_id, gateway_customer_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING`,
		userID, customerID); err != nil {
		return "", fmt.Errorf("save gateway customer: %w", err)
	}

	var stored string
	if err := conn.QueryRow(ctx,
		`SELECT gateway_customer_id FROM gateway_customers WHERE user_id = $1`, userID).Scan(&stored); err != nil {
		return "", fmt.Errorf("read gateway customer: %w", err)
	}
	return stored, nil
}
