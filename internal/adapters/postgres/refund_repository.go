package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/kevin07696/payment-orchestrator/internal/domain"
	"github.com/kevin07696/payment-orchestrator/internal/domain/ports"
)

const refundColumns = `id, order_id, gateway_intent_id, gateway_refund_id, amount, currency, status, reason, failure_reason, created_at, updated_at`

// RefundRepository implements ports.RefundRepository
type RefundRepository struct {
	db *DBExecutor
}

// NewRefundRepository creates a new refund repository
func NewRefundRepository(db *DBExecutor) *RefundRepository {
	return &RefundRepository{db: db}
}

func (r *RefundRepository) Create(ctx context.Context, tx ports.DBTX, refund *domain.Refund) error {
	amount, err := decimalToNumeric(refund.Amount)
	if err != nil {
		return err
	}
	_, err = r.db.conn(tx).Exec(ctx, `
		INSERT INTO refunds (`+refundColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		refund.ID, refund.OrderID, refund.GatewayIntentID, nullText(refund.GatewayRefundID), amount,
		refund.Currency, string(refund.Status), string(refund.Reason), nullText(refund.FailureReason),
		refund.CreatedAt, refund.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert refund: %w", err)
	}
	return nil
}

func (r *RefundRepository) Update(ctx context.Context, tx ports.DBTX, refund *domain.Refund) error {
	tag, err := r.db.conn(tx).Exec(ctx, `
		UPDATE refunds
		SET gateway_refund_id = $2, status = $3, failure_reason = $4, updated_at = $5
		WHERE id = $1`,
		refund.ID, nullText(refund.GatewayRefundID), string(refund.Status), nullText(refund.FailureReason), refund.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update refund %s: %w", refund.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRefundNotFound
	}
	return nil
}

func (r *RefundRepository) GetByID(ctx context.Context, tx ports.DBTX, id string) (*domain.Refund, error) {
	row := r.db.conn(tx).QueryRow(ctx, `SELECT `+refundColumns+` FROM refunds WHERE id = $1`, id)
	return scanRefundRow(row)
}

func (r *RefundRepository) GetByGatewayRefundID(ctx context.Context, tx ports.DBTX, gatewayRefundID string) (*domain.Refund, error) {
	row := r.db.conn(tx).QueryRow(ctx, `SELECT `+refundColumns+` FROM refunds WHERE gateway_refund_id = $1`, gatewayRefundID)
	return scanRefundRow(row)
}

func (r *RefundRepository) ListByOrderID(ctx context.Context, tx ports.DBTX, orderID string) ([]*domain.Refund, error) {
	rows, err := r.db.conn(tx).Query(ctx,
		`SELECT `+refundColumns+` FROM refunds WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list refunds: %w", err)
	}
	defer rows.Close()

	var refunds []*domain.Refund
	for rows.Next() {
		refund, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		refunds = append(refunds, refund)
	}
	return refunds, rows.Err()
}

func scanRefundRow(row pgx.Row) (*domain.Refund, error) {
	refund, err := scanRefund(row)
	if isNoRows(err) {
		return nil, domain.ErrRefundNotFound
	}
	return refund, err
}

func scanRefund(row pgx.Row) (*domain.Refund, error) {
	var (
		rf            domain.Refund
		gatewayID     pgtype.Text
		amount        pgtype.Numeric
		status        string
		reason        string
		failureReason pgtype.Text
	)
	if err := row.Scan(&rf.ID, &rf.OrderID, &rf.GatewayIntentID, &gatewayID, &amount, &rf.Currency,
		&status, &reason, &failureReason, &rf.CreatedAt, &rf.UpdatedAt); err != nil {
		return nil, err
	}
	d, err := pgNumericToDecimal(amount)
	if err != nil {
		return nil, err
	}
	rf.GatewayRefundID = gatewayID.String
	rf.Amount = d
	rf.Status = domain.RefundStatus(status)
	rf.Reason = domain.RefundReason(reason)
	rf.FailureReason = failureReason.String
	return &rf, nil
}
