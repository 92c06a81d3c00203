// Package idempotency implements the durable ledger that turns at-least-once requests
// into exactly-once gateway side effects.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kevin07696/payment-orchestrator/internal/domain"
	"github.com/kevin07696/payment-orchestrator/internal/domain/ports"
	pkgerrors "github.com/kevin07696/payment-orchestrator/pkg/errors"
	"github.com/kevin07696/payment-orchestrator/pkg/observability"
	"github.com/kevin07696/payment-orchestrator/pkg/resilience"
	"github.com/kevin07696/payment-orchestrator/pkg/timeutil"
	"go.uber.org/zap"
)

// Config tunes waiting and retention.
type Config struct {
	// AwaitTimeout bounds how long a duplicate request waits on an in-flight attempt.
	AwaitTimeout time.Duration
	// Retention is the single TTL after which records are purged.
	Retention time.Duration
	// PollBackoff paces Await. Nil uses resilience.PollBackoff.
	PollBackoff resilience.BackoffStrategy
}

// DefaultConfig waits up to 10s and keeps records for 30 days.
func DefaultConfig() Config {
	return Config{
		AwaitTimeout: 10 * time.Second,
		Retention:    30 * 24 * time.Hour,
	}
}

// Ledger records one row per (key, operation) and arbitrates concurrent attempts.
type Ledger struct {
	repo   ports.IdempotencyRepository
	cfg    Config
	logger *zap.Logger
	now    timeutil.Clock
}

// NewLedger creates a ledger over repo.
func NewLedger(repo ports.IdempotencyRepository, cfg Config, logger *zap.Logger) *Ledger {
	if cfg.PollBackoff == nil {
		cfg.PollBackoff = resilience.PollBackoff()
	}
	if cfg.AwaitTimeout <= 0 {
		cfg.AwaitTimeout = DefaultConfig().AwaitTimeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultConfig().Retention
	}
	return &Ledger{repo: repo, cfg: cfg, logger: logger, now: timeutil.SystemClock}
}

// WithClock pins the ledger's clock; used by tests.
func (l *Ledger) WithClock(clock timeutil.Clock) *Ledger {
	l.now = clock
	return l
}

// ConflictError is returned by Begin when another attempt already owns the key.
type ConflictError struct {
	Existing *domain.IdempotencyRecord
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("idempotency key %s already used for %s (status %s)",
		e.Existing.Key, e.Existing.Operation, e.Existing.Status)
}

func (e *ConflictError) Unwrap() error {
	return domain.ErrIdempotencyConflict
}

// BeginParams describes a new attempt. Request is stored as JSON so the retry sweep can replay it.
type BeginParams struct {
	Key       string
	Operation domain.OperationType
	EntityID  string
	Request   interface{}
}

// CompleteParams carries the outcome of an attempt.
type CompleteParams struct {
	EntityID    string
	Response    interface{}
	ErrorDetail string
}

// failure is the stored shape of a failed attempt, replayed as the same error.
type failure struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Category    string `json:"category,omitempty"`
	Decline     string `json:"decline,omitempty"`
	DeclineCode string `json:"decline_code,omitempty"`
}

// NewKey generates a key for callers that did not send one. A missing key is always a fresh attempt.
func (l *Ledger) NewKey() string {
	return uuid.NewString()
}

// Begin claims (key, operation) as PENDING inside tx. A record left in ERROR or RETRIED is
// reclaimed; any other existing record yields a *ConflictError.
func (l *Ledger) Begin(ctx context.Context, tx ports.DBTX, p BeginParams) (*domain.IdempotencyRecord, error) {
	request, err := marshalOptional(p.Request)
	if err != nil {
		return nil, fmt.Errorf("marshal idempotent request: %w", err)
	}

	now := l.now()
	rec := &domain.IdempotencyRecord{
		Key:       p.Key,
		Operation: p.Operation,
		EntityID:  p.EntityID,
		Status:    domain.IdempotencyPending,
		Request:   request,
		CreatedAt: now,
		UpdatedAt: now,
	}

	inserted, err := l.repo.Insert(ctx, tx, rec)
	if err != nil {
		return nil, err
	}
	if inserted {
		observability.RecordLedgerOutcome(string(p.Operation), "begun")
		return rec, nil
	}

	existing, err := l.repo.Get(ctx, tx, p.Key, p.Operation)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		// Deleted by a purge between our insert and read; the caller may simply retry.
		return nil, domain.ErrIdempotencyInFlight
	}
	if !existing.Reclaimable() {
		observability.RecordLedgerOutcome(string(p.Operation), "conflict")
		return nil, &ConflictError{Existing: existing}
	}

	ok, err := l.repo.Transition(ctx, tx, p.Key, p.Operation,
		[]domain.IdempotencyStatus{domain.IdempotencyError, domain.IdempotencyRetried},
		domain.IdempotencyPending,
		ports.RecordUpdate{EntityID: p.EntityID})
	if err != nil {
		return nil, err
	}
	if !ok {
		// Someone else reclaimed it first.
		existing.Status = domain.IdempotencyPending
		return nil, &ConflictError{Existing: existing}
	}

	l.logger.Info("Reclaimed idempotency record",
		zap.String("idempotency_key", p.Key),
		zap.String("operation", string(p.Operation)),
		zap.String("previous_status", string(existing.Status)),
	)
	existing.Status = domain.IdempotencyPending
	existing.UpdatedAt = now
	if p.EntityID != "" {
		existing.EntityID = p.EntityID
	}
	return existing, nil
}

// Complete moves a PENDING record to status. A record that is no longer PENDING is left untouched.
func (l *Ledger) Complete(ctx context.Context, tx ports.DBTX, key string, op domain.OperationType,
	status domain.IdempotencyStatus, p CompleteParams) error {
	response, err := marshalOptional(p.Response)
	if err != nil {
		return fmt.Errorf("marshal idempotent response: %w", err)
	}

	ok, err := l.repo.Transition(ctx, tx, key, op,
		[]domain.IdempotencyStatus{domain.IdempotencyPending}, status,
		ports.RecordUpdate{EntityID: p.EntityID, Response: response, ErrorDetail: p.ErrorDetail})
	if err != nil {
		return err
	}
	if !ok {
		l.logger.Warn("Idempotency record was not pending at completion",
			zap.String("idempotency_key", key),
			zap.String("operation", string(op)),
			zap.String("status", string(status)),
		)
		return domain.Precondition("idempotency record %s/%s is not pending", key, op)
	}
	return nil
}

// Succeed stores the response of a successful attempt.
func (l *Ledger) Succeed(ctx context.Context, tx ports.DBTX, key string, op domain.OperationType, entityID string, response interface{}) error {
	return l.Complete(ctx, tx, key, op, domain.IdempotencySuccess, CompleteParams{EntityID: entityID, Response: response})
}

// Settle records response as the outcome of (key, op) for a call that found its work already
// done and made no gateway call. A fresh key gets a SUCCESS record and a failed or retried attempt
// is closed with the response. A record held by another attempt is left to that attempt.
func (l *Ledger) Settle(ctx context.Context, tx ports.DBTX, key string, op domain.OperationType,
	entityID string, request, response interface{}) error {
	if _, err := l.Begin(ctx, tx, BeginParams{Key: key, Operation: op, EntityID: entityID, Request: request}); err != nil {
		if IsConflict(err) {
			return nil
		}
		return err
	}
	return l.Succeed(ctx, tx, key, op, entityID, response)
}

// Fail records a failed attempt. Transient failures stay ERROR for the retry sweep; anything
// retrying cannot fix is stored RESOLVED and replayed as the same error.
func (l *Ledger) Fail(ctx context.Context, key string, op domain.OperationType, cause error, retryable bool) {
	// The gateway has already answered, so record it even if the caller hung up.
	ctx = context.WithoutCancel(ctx)
	status := domain.IdempotencyResolved
	if retryable {
		status = domain.IdempotencyError
	}
	observability.RecordLedgerOutcome(string(op), "failed")
	if err := l.Complete(ctx, nil, key, op, status, CompleteParams{
		Response:    failureOf(cause),
		ErrorDetail: cause.Error(),
	}); err != nil {
		l.logger.Error("Failed to record idempotency failure",
			zap.String("idempotency_key", key),
			zap.String("operation", string(op)),
			zap.Error(err),
		)
	}
}

// Lookup returns the record or nil when the key was never used.
func (l *Ledger) Lookup(ctx context.Context, key string, op domain.OperationType) (*domain.IdempotencyRecord, error) {
	return l.repo.Get(ctx, nil, key, op)
}

// Await polls an in-flight record until it leaves PENDING or the await budget elapses.
// It returns nil when the record disappeared (the winner rolled back).
func (l *Ledger) Await(ctx context.Context, key string, op domain.OperationType) (*domain.IdempotencyRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.AwaitTimeout)
	defer cancel()

	for attempt := 0; ; attempt++ {
		rec, err := l.repo.Get(ctx, nil, key, op)
		if err != nil {
			if ctx.Err() != nil {
				return nil, domain.ErrIdempotencyInFlight
			}
			return nil, err
		}
		if rec == nil || rec.Status != domain.IdempotencyPending {
			return rec, nil
		}

		timer := time.NewTimer(l.cfg.PollBackoff.NextDelay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			l.logger.Info("Gave up waiting on in-flight operation",
				zap.String("idempotency_key", key),
				zap.String("operation", string(op)),
			)
			return rec, domain.ErrIdempotencyInFlight
		case <-timer.C:
		}
	}
}

// Replay checks for a previous attempt of (key, op). It returns true when the caller must
// return now: out then holds the stored response, or err holds the stored failure.
// It returns false when the caller should start (or reclaim) the attempt.
func (l *Ledger) Replay(ctx context.Context, key string, op domain.OperationType, out interface{}) (bool, error) {
	rec, err := l.Lookup(ctx, key, op)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	if rec.Status == domain.IdempotencyPending {
		rec, err = l.Await(ctx, key, op)
		if err != nil {
			return true, err
		}
		if rec == nil {
			return false, nil
		}
	}

	switch rec.Status {
	case domain.IdempotencySuccess:
		if err := DecodeResponse(rec, out); err != nil {
			return true, err
		}
		observability.RecordLedgerOutcome(string(op), "replayed")
		l.logger.Debug("Replaying stored idempotent response",
			zap.String("idempotency_key", key),
			zap.String("operation", string(op)),
		)
		return true, nil
	case domain.IdempotencyResolved:
		return true, storedFailure(rec)
	default:
		return false, nil
	}
}

// Replayed is Replay for a typed response. done is true when the caller must return res, err as is.
func Replayed[T any](ctx context.Context, l *Ledger, key string, op domain.OperationType) (res *T, done bool, err error) {
	var out T
	done, err = l.Replay(ctx, key, op, &out)
	if !done || err != nil {
		return nil, done, err
	}
	return &out, true, nil
}

// AfterConflict waits for the attempt that won Begin and returns its outcome.
func AfterConflict[T any](ctx context.Context, l *Ledger, key string, op domain.OperationType) (*T, error) {
	res, done, err := Replayed[T](ctx, l, key, op)
	if err != nil {
		return nil, err
	}
	if !done {
		// The winner failed transiently and has not been reclaimed yet.
		return nil, domain.ErrIdempotencyInFlight
	}
	return res, nil
}

// IsConflict reports whether err came from Begin finding the key taken.
func IsConflict(err error) bool {
	var conflict *ConflictError
	return errors.As(err, &conflict)
}

// Retryable reports whether a failed attempt should stay open for the retry sweep.
// A caller hanging up mid-call leaves the gateway outcome unknown, so it counts as transient.
func Retryable(policy resilience.RetryPolicy, err error) bool {
	category, retryable := policy.Classify(err)
	return retryable || category == pkgerrors.CategoryCanceled
}

// MarkRetried claims an ERROR record for the retry sweep.
func (l *Ledger) MarkRetried(ctx context.Context, key string, op domain.OperationType) (bool, error) {
	return l.repo.Transition(ctx, nil, key, op,
		[]domain.IdempotencyStatus{domain.IdempotencyError}, domain.IdempotencyRetried, ports.RecordUpdate{})
}

// ReleaseRetried hands a claimed record back to ERROR when its replay never reached Begin,
// so the next sweep sees it again.
func (l *Ledger) ReleaseRetried(ctx context.Context, key string, op domain.OperationType, detail string) (bool, error) {
	return l.repo.Transition(ctx, nil, key, op,
		[]domain.IdempotencyStatus{domain.IdempotencyRetried}, domain.IdempotencyError,
		ports.RecordUpdate{ErrorDetail: detail})
}

// MarkResolved closes a record that no longer needs a replay.
func (l *Ledger) MarkResolved(ctx context.Context, key string, op domain.OperationType, detail string) (bool, error) {
	return l.repo.Transition(ctx, nil, key, op,
		[]domain.IdempotencyStatus{domain.IdempotencyError, domain.IdempotencyRetried}, domain.IdempotencyResolved,
		ports.RecordUpdate{ErrorDetail: detail})
}

// MarkFailed turns a stuck PENDING record into ERROR so the retry sweep picks it up.
// Operators use it after a crash left an attempt in flight.
func (l *Ledger) MarkFailed(ctx context.Context, key string, op domain.OperationType, detail string) (bool, error) {
	return l.repo.Transition(ctx, nil, key, op,
		[]domain.IdempotencyStatus{domain.IdempotencyPending}, domain.IdempotencyError,
		ports.RecordUpdate{ErrorDetail: detail})
}

// ListErrored returns ERROR records created at or after since.
func (l *Ledger) ListErrored(ctx context.Context, since time.Time, limit int) ([]*domain.IdempotencyRecord, error) {
	return l.repo.ListByStatusSince(ctx, domain.IdempotencyError, since, limit)
}

// Purge deletes records older than the retention period.
func (l *Ledger) Purge(ctx context.Context) (int64, error) {
	cutoff := l.now().Add(-l.cfg.Retention)
	deleted, err := l.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	l.logger.Info("Purged idempotency records", zap.Int64("deleted", deleted), zap.Time("cutoff", cutoff))
	return deleted, nil
}

// DecodeRequest unmarshals the stored request of rec into v.
func DecodeRequest(rec *domain.IdempotencyRecord, v interface{}) error {
	if len(rec.Request) == 0 {
		return fmt.Errorf("idempotency record %s/%s has no stored request", rec.Key, rec.Operation)
	}
	return json.Unmarshal(rec.Request, v)
}

// DecodeResponse unmarshals the stored response of rec into v.
func DecodeResponse(rec *domain.IdempotencyRecord, v interface{}) error {
	if v == nil || len(rec.Response) == 0 {
		return nil
	}
	if err := json.Unmarshal(rec.Response, v); err != nil {
		return fmt.Errorf("decode stored response for %s/%s: %w", rec.Key, rec.Operation, err)
	}
	return nil
}

func marshalOptional(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}

func failureOf(err error) failure {
	f := failure{Message: err.Error()}
	var gwErr *pkgerrors.GatewayError
	var domainErr *domain.DomainError
	switch {
	case errors.As(err, &gwErr):
		f.Code = gwErr.Code
		f.Message = gwErr.Message
		f.Category = string(gwErr.Category)
		f.Decline = string(gwErr.Decline)
		f.DeclineCode = gwErr.DeclineCode
	case errors.As(err, &domainErr):
		f.Code = string(domainErr.Code)
		f.Message = domainErr.Message
	default:
		f.Code = string(domain.ErrorCodeGatewayError)
	}
	return f
}

func storedFailure(rec *domain.IdempotencyRecord) error {
	var f failure
	if len(rec.Response) == 0 || json.Unmarshal(rec.Response, &f) != nil || f.Code == "" {
		return domain.Precondition("operation %s already failed: %s", rec.Operation, rec.ErrorDetail)
	}
	if f.Category != "" {
		return &pkgerrors.GatewayError{
			Code:        f.Code,
			Message:     f.Message,
			Category:    pkgerrors.ErrorCategory(f.Category),
			Decline:     pkgerrors.DeclineCategory(f.Decline),
			DeclineCode: f.DeclineCode,
		}
	}
	return domain.NewDomainError(domain.ErrorCode(f.Code), f.Message)
}
