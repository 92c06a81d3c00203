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

const disputeColumns = `id, order_id, gateway_dispute_id, gateway_intent_id, amount, currency, status, reason,
	evidence_due_by, evidence_file_ids, evidence_submitted, created_at, updated_at`

var terminalDisputeStatuses = []string{
	string(domain.DisputeStatusWon),
	string(domain.DisputeStatusLost),
	string(domain.DisputeStatusWarningClosed),
}

// DisputeRepository implements ports.DisputeRepository
type DisputeRepository struct {
	db *DBExecutor
}

// NewDisputeRepository creates a new dispute repository
func NewDisputeRepository(db *DBExecutor) *DisputeRepository {
	return &DisputeRepository{db: db}
}

// Create inserts the dispute unless the gateway dispute id is already known.
func (r *DisputeRepository) Create(ctx context.Context, tx ports.DBTX, d *domain.Dispute) (bool, error) {
	amount, err := decimalToNumeric(d.Amount)
	if err != nil {
		return false, err
	}
	tag, err := r.db.conn(tx).Exec(ctx, `
		INSERT INTO disputes (`+disputeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (gateway_dispute_id) DO NOTHING`,
		d.ID, d.OrderID, d.GatewayDisputeID, d.GatewayIntentID, amount, d.Currency, string(d.Status),
		nullText(d.Reason), d.EvidenceDueBy, fileIDs(d.EvidenceFileIDs), d.EvidenceSubmitted, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert dispute: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *DisputeRepository) Update(ctx context.Context, tx ports.DBTX, d *domain.Dispute) error {
	amount, err := decimalToNumeric(d.Amount)
	if err != nil {
		return err
	}
	tag, err := r.db.conn(tx).Exec(ctx, `
		UPDATE disputes
		SET status = $2, reason = $3, amount = $4, evidence_due_by = $5, evidence_file_ids = $6,
			evidence_submitted = $7, updated_at = $8
		WHERE id = $1`,
		d.ID, string(d.Status), nullText(d.Reason), amount, d.EvidenceDueBy, fileIDs(d.EvidenceFileIDs),
		d.EvidenceSubmitted, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update dispute %s: %w", d.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDisputeNotFound
	}
	return nil
}

func (r *DisputeRepository) GetByID(ctx context.Context, tx ports.DBTX, id string) (*domain.Dispute, error) {
	row := r.db.conn(tx).QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id)
	return scanDisputeRow(row)
}

func (r *DisputeRepository) GetByGatewayDisputeID(ctx context.Context, tx ports.DBTX, gatewayDisputeID string) (*domain.Dispute, error) {
	row := r.db.conn(tx).QueryRow(ctx,
		`SELECT `+disputeColumns+` FROM disputes WHERE gateway_dispute_id = $1`, gatewayDisputeID)
	return scanDisputeRow(row)
}

// ListOpen returns non-terminal disputes, earliest evidence deadline first.
func (r *DisputeRepository) ListOpen(ctx context.Context, limit int) ([]*domain.Dispute, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+disputeColumns+` FROM disputes
		WHERE status <> ALL($1)
		ORDER BY evidence_due_by NULLS LAST, created_at
		LIMIT $2`,
		terminalDisputeStatuses, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list open disputes: %w", err)
	}
	defer rows.Close()

	var disputes []*domain.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		disputes = append(disputes, d)
	}
	return disputes, rows.Err()
}

// fileIDs keeps the NOT NULL array column out of SQL NULL.
func fileIDs(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func scanDisputeRow(row pgx.Row) (*domain.Dispute, error) {
	d, err := scanDispute(row)
	if isNoRows(err) {
		return nil, domain.ErrDisputeNotFound
	}
	return d, err
}

func scanDispute(row pgx.Row) (*domain.Dispute, error) {
	var (
		d      domain.Dispute
		amount pgtype.Numeric
		status string
		reason pgtype.Text
		dueBy  *time.Time
	)
	if err := row.Scan(&d.ID, &d.OrderID, &d.GatewayDisputeID, &d.GatewayIntentID, &amount, &d.Currency,
		&status, &reason, &dueBy, &d.EvidenceFileIDs, &d.EvidenceSubmitted, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	a, err := pgNumericToDecimal(amount)
	if err != nil {
		return nil, err
	}
	d.Amount = a
	d.Status = domain.DisputeStatus(status)
	d.Reason = reason.String
	d.EvidenceDueBy = dueBy
	return &d, nil
}
