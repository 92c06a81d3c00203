package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/kevin07696/payment-orchestrator/internal/domain"
	"github.com/kevin07696/payment-orchestrator/internal/domain/ports"
)

const idempotencyColumns = `idempotency_key, operation, entity_id, status, request, response, error_detail, created_at, updated_at`

// IdempotencyRepository stores ledger records keyed by (idempotency_key, operation).
type IdempotencyRepository struct {
	db *DBExecutor
}

// NewIdempotencyRepository creates a new idempotency repository
func NewIdempotencyRepository(db *DBExecutor) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

// Insert relies on the primary key so exactly one concurrent caller wins.
func (r *IdempotencyRepository) Insert(ctx context.Context, tx ports.DBTX, rec *domain.IdempotencyRecord) (bool, error) {
	tag, err := r.db.conn(tx).Exec(ctx, `
		INSERT INTO idempotency_records (`+idempotencyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (idempotency_key, operation) DO NOTHING`,
		rec.Key, string(rec.Operation), rec.EntityID, string(rec.Status), jsonOrNil(rec.Request),
		jsonOrNil(rec.Response), nullText(rec.ErrorDetail), rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert idempotency record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *IdempotencyRepository) Get(ctx context.Context, tx ports.DBTX, key string, op domain.OperationType) (*domain.IdempotencyRecord, error) {
	row := r.db.conn(tx).QueryRow(ctx,
		`SELECT `+idempotencyColumns+` FROM idempotency_records WHERE idempotency_key = $1 AND operation = $2`,
		key, string(op))
	rec, err := scanIdempotencyRecord(row)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	return rec, nil
}

// Transition is a compare-and-set on status. Empty update fields keep the stored values,
// except ErrorDetail which is always replaced.
func (r *IdempotencyRepository) Transition(ctx context.Context, tx ports.DBTX, key string, op domain.OperationType,
	from []domain.IdempotencyStatus, to domain.IdempotencyStatus, update ports.RecordUpdate) (bool, error) {
	fromStatuses := make([]string, len(from))
	for i, s := range from {
		fromStatuses[i] = string(s)
	}

	tag, err := r.db.conn(tx).Exec(ctx, `
		UPDATE idempotency_records
		SET status = $4,
			entity_id = COALESCE(NULLIF($5, ''), entity_id),
			response = COALESCE($6, response),
			error_detail = NULLIF($7, ''),
			updated_at = $8
		WHERE idempotency_key = $1 AND operation = $2 AND status = ANY($3)`,
		key, string(op), fromStatuses, string(to), update.EntityID, jsonOrNil(update.Response),
		update.ErrorDetail, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("transition idempotency record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *IdempotencyRepository) ListByStatusSince(ctx context.Context, status domain.IdempotencyStatus, since time.Time, limit int) ([]*domain.IdempotencyRecord, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+idempotencyColumns+` FROM idempotency_records
		WHERE status = $1 AND created_at >= $2
		ORDER BY created_at
		LIMIT $3`,
		string(status), since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list idempotency records: %w", err)
	}
	defer rows.Close()

	var records []*domain.IdempotencyRecord
	for rows.Next() {
		rec, err := scanIdempotencyRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *IdempotencyRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.pool.Exec(ctx, `DELETE FROM idempotency_records WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge idempotency records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// jsonOrNil maps an empty payload to SQL NULL.
func jsonOrNil(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func scanIdempotencyRecord(row pgx.Row) (*domain.IdempotencyRecord, error) {
	var (
		rec       domain.IdempotencyRecord
		op        string
		status    string
		request   []byte
		response  []byte
		errDetail pgtype.Text
	)
	if err := row.Scan(&rec.Key, &op, &rec.EntityID, &status, &request, &response, &errDetail,
		&rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Operation = domain.OperationType(op)
	rec.Status = domain.IdempotencyStatus(status)
	rec.Request = request
	rec.Response = response
	rec.ErrorDetail = errDetail.String
	return &rec, nil
}
