package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/kevin07696/payment-orchestrator/internal/domain"
	"github.com/kevin07696/payment-orchestrator/internal/domain/ports"
)

const transactionColumns = `id, order_id, gateway, gateway_intent_id, amount, currency, status, error_message, created_at, updated_at`

// TransactionRepository implements ports.TransactionRepository
type TransactionRepository struct {
	db *DBExecutor
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *DBExecutor) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Upsert writes the row keyed by gateway intent id. The original id, order and created_at are kept on conflict.
func (r *TransactionRepository) Upsert(ctx context.Context, tx ports.DBTX, txn *domain.PaymentTransaction) (*domain.PaymentTransaction, error) {
	amount, err := decimalToNumeric(txn.Amount)
	if err != nil {
		return nil, err
	}

	row := r.db.conn(tx).QueryRow(ctx, `
		INSERT INTO payment_transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (gateway_intent_id) DO UPDATE SET
			status = EXCLUDED.status,
			error_message = EXCLUDED.error_message,
			updated_at = EXCLUDED.updated_at
		RETURNING `+transactionColumns,
		txn.ID, txn.OrderID, string(txn.Gateway), txn.GatewayIntentID, amount, txn.Currency,
		txn.Status, nullText(txn.ErrorMessage), txn.CreatedAt, txn.UpdatedAt,
	)
	stored, err := scanTransaction(row)
	if err != nil {
		return nil, fmt.Errorf("upsert transaction %s: %w", txn.GatewayIntentID, err)
	}
	return stored, nil
}

func (r *TransactionRepository) GetByGatewayIntentID(ctx context.Context, tx ports.DBTX, intentID string) (*domain.PaymentTransaction, error) {
	row := r.db.conn(tx).QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM payment_transactions WHERE gateway_intent_id = $1`, intentID)
	txn, err := scanTransaction(row)
	if isNoRows(err) {
		return nil, domain.ErrTxnNotFound
	}
	return txn, err
}

func (r *TransactionRepository) ListByOrderID(ctx context.Context, tx ports.DBTX, orderID string) ([]*domain.PaymentTransaction, error) {
	rows, err := r.db.conn(tx).Query(ctx,
		`SELECT `+transactionColumns+` FROM payment_transactions WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return collectTransactions(rows)
}

// ListNonTerminalSince returns in-flight transactions created at or after since, oldest first.
func (r *TransactionRepository) ListNonTerminalSince(ctx context.Context, since time.Time, limit int) ([]*domain.PaymentTransaction, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+transactionColumns+` FROM payment_transactions
		WHERE status = ANY($1) AND created_at >= $2
		ORDER BY created_at
		LIMIT $3`,
		domain.NonTerminalTransactionStatuses, since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list non-terminal transactions: %w", err)
	}
	return collectTransactions(rows)
}

func collectTransactions(rows pgx.Rows) ([]*domain.PaymentTransaction, error) {
	defer rows.Close()
	var txns []*domain.PaymentTransaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

func scanTransaction(row pgx.Row) (*domain.PaymentTransaction, error) {
	var (
		t       domain.PaymentTransaction
		gateway string
		amount  pgtype.Numeric
		errMsg  pgtype.Text
	)
	if err := row.Scan(&t.ID, &t.OrderID, &gateway, &t.GatewayIntentID, &amount, &t.Currency,
		&t.Status, &errMsg, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	d, err := pgNumericToDecimal(amount)
	if err != nil {
		return nil, err
	}
	t.Gateway = domain.GatewayKind(gateway)
	t.Amount = d
	t.ErrorMessage = errMsg.String
	return &t, nil
}
