// Package reconciliation runs the background sweeps that converge local state with the gateways:
// replaying transiently failed operations, re-reading stale payments and disputes, and purging the ledger.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kevin07696/payment-orchestrator/internal/domain"
	"github.com/kevin07696/payment-orchestrator/internal/domain/ports"
	"github.com/kevin07696/payment-orchestrator/internal/services/dispute"
	"github.com/kevin07696/payment-orchestrator/internal/services/idempotency"
	"github.com/kevin07696/payment-orchestrator/internal/services/payment"
	"github.com/kevin07696/payment-orchestrator/internal/services/payment_method"
	"github.com/kevin07696/payment-orchestrator/internal/services/refund"
	"github.com/kevin07696/payment-orchestrator/internal/services/wallet"
	"github.com/kevin07696/payment-orchestrator/pkg/observability"
	"github.com/kevin07696/payment-orchestrator/pkg/timeutil"
	"go.uber.org/zap"
)

// Sweep names, shared by the scheduler, the cron endpoints and the CLI.
const (
	SweepRetry         = "retry"
	SweepPaymentStatus = "payment_status"
	SweepDispute       = "dispute"
	SweepPurgeLedger   = "purge_ledger"
)

// ErrUnknownSweep is returned by Run for a name that is not a sweep.
var ErrUnknownSweep = errors.New("unknown sweep")

// Sweeps lists every sweep name.
func Sweeps() []string {
	return []string{SweepRetry, SweepPaymentStatus, SweepDispute, SweepPurgeLedger}
}

// Config bounds each sweep.
type Config struct {
	// RetryWindow is how far back the retry sweep looks for failed operations.
	RetryWindow time.Duration
	// StatusWindow is how far back the status sweep looks for unsettled transactions.
	StatusWindow time.Duration
	BatchSize    int
	// LeaseTTL is how long one instance may hold a sweep before another can take it over.
	LeaseTTL time.Duration
}

// DefaultConfig replays the last 24h of failures and re-reads the last 7 days of payments.
func DefaultConfig() Config {
	return Config{
		RetryWindow:  24 * time.Hour,
		StatusWindow: 7 * 24 * time.Hour,
		BatchSize:    100,
		LeaseTTL:     10 * time.Minute,
	}
}

// PaymentOrchestrator is the part of payment.Service the sweeps drive.
type PaymentOrchestrator interface {
	CreateIntent(ctx context.Context, req payment.CreateIntentRequest) (*payment.IntentResult, error)
	ConfirmIntent(ctx context.Context, req payment.ConfirmIntentRequest) (*payment.IntentResult, error)
	CancelIntent(ctx context.Context, req payment.CancelIntentRequest) (*payment.IntentResult, error)
	ReconcileTransaction(ctx context.Context, txn *domain.PaymentTransaction) error
}

// RefundOrchestrator is the part of refund.Service the retry sweep replays.
type RefundOrchestrator interface {
	CreateRefund(ctx context.Context, req refund.CreateRefundRequest) (*domain.Refund, error)
}

// WalletOrchestrator is the part of wallet.Service the retry sweep replays.
type WalletOrchestrator interface {
	CreatePayment(ctx context.Context, req wallet.CreatePaymentRequest) (*wallet.CreatePaymentResult, error)
	CapturePayment(ctx context.Context, req wallet.CapturePaymentRequest) (*wallet.CaptureResult, error)
}

// DisputeOrchestrator is the part of dispute.Service the sweeps drive.
type DisputeOrchestrator interface {
	CreateOrUpdateDispute(ctx context.Context, gatewayDisputeID, intentID string) (*domain.Dispute, error)
	SubmitEvidence(ctx context.Context, req dispute.SubmitEvidenceRequest) (*domain.Dispute, error)
	ListOpenDisputes(ctx context.Context, limit int) ([]*domain.Dispute, error)
}

// PaymentMethodOrchestrator is the part of payment_method.Service the retry sweep replays.
type PaymentMethodOrchestrator interface {
	Attach(ctx context.Context, req payment_method.AttachRequest) (*domain.CustomerPaymentMethod, error)
}

// TransactionLister finds payments the gateway may still move.
type TransactionLister interface {
	ListNonTerminalSince(ctx context.Context, since time.Time, limit int) ([]*domain.PaymentTransaction, error)
}

// Deps are the collaborators of the sweeper. A nil orchestrator disables replays of its operations.
type Deps struct {
	Ledger         *idempotency.Ledger
	Txns           TransactionLister
	Payments       PaymentOrchestrator
	Refunds        RefundOrchestrator
	Wallet         WalletOrchestrator
	Disputes       DisputeOrchestrator
	PaymentMethods PaymentMethodOrchestrator
	Locker         ports.SweepLocker
	Config         Config
	Logger         *zap.Logger
	Clock          timeutil.Clock
}

// SweepResult summarizes one sweep run.
type SweepResult struct {
	Sweep      string    `json:"sweep"`
	Skipped    bool      `json:"skipped,omitempty"`
	Scanned    int       `json:"scanned"`
	Succeeded  int       `json:"succeeded"`
	Resolved   int       `json:"resolved"`
	Failed     int       `json:"failed"`
	Purged     int64     `json:"purged,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func (r SweepResult) items() map[string]int {
	return map[string]int{
		"succeeded": r.Succeeded,
		"resolved":  r.Resolved,
		"failed":    r.Failed,
		"purged":    int(r.Purged),
	}
}

type replayFunc func(ctx context.Context, rec *domain.IdempotencyRecord) error

// Sweeper runs reconciliation sweeps. Every per-item action goes through the same orchestrator
// entry point a client or webhook would use, so a sweep racing either of them is harmless.
type Sweeper struct {
	ledger   *idempotency.Ledger
	txns     TransactionLister
	payments PaymentOrchestrator
	disputes DisputeOrchestrator
	locker   ports.SweepLocker
	cfg      Config
	logger   *zap.Logger
	now      timeutil.Clock

	replays map[domain.OperationType]replayFunc
	sweeps  map[string]func(ctx context.Context, res *SweepResult) error
}

// NewSweeper creates a sweeper and its replay table.
func NewSweeper(d Deps) *Sweeper {
	if d.Clock == nil {
		d.Clock = timeutil.SystemClock
	}
	def := DefaultConfig()
	if d.Config.RetryWindow <= 0 {
		d.Config.RetryWindow = def.RetryWindow
	}
	if d.Config.StatusWindow <= 0 {
		d.Config.StatusWindow = def.StatusWindow
	}
	if d.Config.BatchSize <= 0 {
		d.Config.BatchSize = def.BatchSize
	}
	if d.Config.LeaseTTL <= 0 {
		d.Config.LeaseTTL = def.LeaseTTL
	}

	s := &Sweeper{
		ledger:   d.Ledger,
		txns:     d.Txns,
		payments: d.Payments,
		disputes: d.Disputes,
		locker:   d.Locker,
		cfg:      d.Config,
		logger:   d.Logger,
		now:      d.Clock,
		replays:  make(map[domain.OperationType]replayFunc),
	}

	if p := d.Payments; p != nil {
		s.replays[domain.OperationCreateIntent] = replayAs(func(ctx context.Context, req payment.CreateIntentRequest) error {
			_, err := p.CreateIntent(ctx, req)
			return err
		})
		s.replays[domain.OperationConfirmIntent] = replayAs(func(ctx context.Context, req payment.ConfirmIntentRequest) error {
			_, err := p.ConfirmIntent(ctx, req)
			return err
		})
		s.replays[domain.OperationCancelIntent] = replayAs(func(ctx context.Context, req payment.CancelIntentRequest) error {
			_, err := p.CancelIntent(ctx, req)
			return err
		})
	}
	if r := d.Refunds; r != nil {
		s.replays[domain.OperationCreateRefund] = replayAs(func(ctx context.Context, req refund.CreateRefundRequest) error {
			_, err := r.CreateRefund(ctx, req)
			return err
		})
	}
	if w := d.Wallet; w != nil {
		s.replays[domain.OperationWalletCreateOrder] = replayAs(func(ctx context.Context, req wallet.CreatePaymentRequest) error {
			_, err := w.CreatePayment(ctx, req)
			return err
		})
		s.replays[domain.OperationWalletCaptureOrder] = replayAs(func(ctx context.Context, req wallet.CapturePaymentRequest) error {
			_, err := w.CapturePayment(ctx, req)
			return err
		})
	}
	if ds := d.Disputes; ds != nil {
		s.replays[domain.OperationUpdateDispute] = replayAs(func(ctx context.Context, req dispute.SubmitEvidenceRequest) error {
			_, err := ds.SubmitEvidence(ctx, req)
			return err
		})
	}
	if pm := d.PaymentMethods; pm != nil {
		s.replays[domain.OperationAttachPaymentMethod] = replayAs(func(ctx context.Context, req payment_method.AttachRequest) error {
			_, err := pm.Attach(ctx, req)
			return err
		})
	}

	s.sweeps = map[string]func(ctx context.Context, res *SweepResult) error{
		SweepRetry:         s.retry,
		SweepPaymentStatus: s.paymentStatus,
		SweepDispute:       s.disputeStatus,
		SweepPurgeLedger:   s.purge,
	}
	return s
}

// replayAs decodes the stored request into T and calls the entry point with it. The stored
// request carries the original idempotency key, so the gateway sees the same key again.
func replayAs[T any](call func(ctx context.Context, req T) error) replayFunc {
	return func(ctx context.Context, rec *domain.IdempotencyRecord) error {
		var req T
		if err := idempotency.DecodeRequest(rec, &req); err != nil {
			return err
		}
		return call(ctx, req)
	}
}

// Trigger runs the named sweep; it satisfies the queue worker's runner interface.
func (s *Sweeper) Trigger(ctx context.Context, sweep string) error {
	_, err := s.Run(ctx, sweep)
	return err
}

// Run executes one sweep under its lease. When another instance holds the lease the result is
// marked skipped and no error is returned.
func (s *Sweeper) Run(ctx context.Context, sweep string) (SweepResult, error) {
	fn, ok := s.sweeps[sweep]
	if !ok {
		return SweepResult{Sweep: sweep}, fmt.Errorf("%w: %q", ErrUnknownSweep, sweep)
	}

	start := time.Now()
	res := SweepResult{Sweep: sweep, StartedAt: s.now()}
	logger := s.logger.With(zap.String("sweep", sweep))

	if s.locker != nil {
		unlock, acquired, err := s.locker.TryLock(ctx, sweep, s.cfg.LeaseTTL)
		if err != nil {
			observability.RecordSweep(sweep, "error", time.Since(start), nil)
			return res, fmt.Errorf("acquire %s sweep lease: %w", sweep, err)
		}
		if !acquired {
			res.Skipped = true
			res.FinishedAt = s.now()
			logger.Info("Sweep already running elsewhere, skipping")
			observability.RecordSweep(sweep, "skipped", time.Since(start), nil)
			return res, nil
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("Failed to release sweep lease", zap.Error(err))
			}
		}()
	}

	err := fn(ctx, &res)
	res.FinishedAt = s.now()

	outcome := "completed"
	switch {
	case err != nil:
		outcome = "error"
	case res.Failed > 0:
		outcome = "partial"
	}
	observability.RecordSweep(sweep, outcome, time.Since(start), res.items())

	fields := []zap.Field{
		zap.Int("scanned", res.Scanned),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("resolved", res.Resolved),
		zap.Int("failed", res.Failed),
		zap.Duration("duration", time.Since(start)),
	}
	if err != nil {
		logger.Error("Sweep failed", append(fields, zap.Error(err))...)
		return res, fmt.Errorf("%s sweep: %w", sweep, err)
	}
	if res.Purged > 0 {
		fields = append(fields, zap.Int64("purged", res.Purged))
	}
	logger.Info("Sweep finished", fields...)
	return res, nil
}

// RetrySweep replays operations that failed transiently within the retry window.
func (s *Sweeper) RetrySweep(ctx context.Context) (SweepResult, error) {
	return s.Run(ctx, SweepRetry)
}

// PaymentStatusSweep re-reads unsettled payments created within the status window.
func (s *Sweeper) PaymentStatusSweep(ctx context.Context) (SweepResult, error) {
	return s.Run(ctx, SweepPaymentStatus)
}

// DisputeSweep refreshes every open dispute from the gateway.
func (s *Sweeper) DisputeSweep(ctx context.Context) (SweepResult, error) {
	return s.Run(ctx, SweepDispute)
}

// PurgeLedger deletes idempotency records past their retention.
func (s *Sweeper) PurgeLedger(ctx context.Context) (SweepResult, error) {
	return s.Run(ctx, SweepPurgeLedger)
}

func (s *Sweeper) retry(ctx context.Context, res *SweepResult) error {
	since := s.now().Add(-s.cfg.RetryWindow)
	records, err := s.ledger.ListErrored(ctx, since, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list failed operations: %w", err)
	}
	res.Scanned = len(records)

	for _, rec := range records {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.replayRecord(ctx, rec, res)
	}
	return nil
}

func (s *Sweeper) replayRecord(ctx context.Context, rec *domain.IdempotencyRecord, res *SweepResult) {
	logger := s.logger.With(
		zap.String("idempotency_key", rec.Key),
		zap.String("operation", string(rec.Operation)),
		zap.String("entity_id", rec.EntityID),
	)

	replay, ok := s.replays[rec.Operation]
	if !ok {
		logger.Warn("No replay registered for operation")
		res.Failed++
		return
	}

	claimed, err := s.ledger.MarkRetried(ctx, rec.Key, rec.Operation)
	if err != nil {
		logger.Error("Failed to claim operation for retry", zap.Error(err))
		res.Failed++
		return
	}
	if !claimed {
		// A client retry or another sweep got there first.
		logger.Debug("Operation no longer failed, skipping")
		return
	}

	err = replay(ctx, rec)
	if err == nil {
		err = s.checkSettled(ctx, rec)
	}
	switch {
	case err == nil:
		res.Succeeded++
		logger.Info("Replayed failed operation")
	case domain.IsPreconditionError(err) || domain.IsNotFoundError(err) || domain.IsValidationError(err):
		// The world moved on (order cancelled, paid by webhook, refunded elsewhere).
		if _, rerr := s.ledger.MarkResolved(ctx, rec.Key, rec.Operation, err.Error()); rerr != nil {
			logger.Error("Failed to resolve operation", zap.Error(rerr))
		}
		res.Resolved++
		logger.Info("Operation no longer applicable, resolved", zap.Error(err))
	default:
		if _, rerr := s.ledger.ReleaseRetried(ctx, rec.Key, rec.Operation, err.Error()); rerr != nil {
			logger.Error("Failed to release operation", zap.Error(rerr))
		}
		res.Failed++
		logger.Warn("Replay failed", zap.Error(err))
	}
}

// checkSettled reports a replay that returned without recording an outcome for its key.
func (s *Sweeper) checkSettled(ctx context.Context, rec *domain.IdempotencyRecord) error {
	current, err := s.ledger.Lookup(ctx, rec.Key, rec.Operation)
	if err != nil {
		return err
	}
	if current != nil && current.Status == domain.IdempotencyRetried {
		return fmt.Errorf("replay of %s/%s left no outcome", rec.Key, rec.Operation)
	}
	return nil
}

func (s *Sweeper) paymentStatus(ctx context.Context, res *SweepResult) error {
	if s.payments == nil {
		return errors.New("payment orchestrator is not configured")
	}
	since := s.now().Add(-s.cfg.StatusWindow)
	txns, err := s.txns.ListNonTerminalSince(ctx, since, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list unsettled transactions: %w", err)
	}
	res.Scanned = len(txns)

	for _, txn := range txns {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.payments.ReconcileTransaction(ctx, txn); err != nil {
			res.Failed++
			s.logger.Warn("Failed to reconcile transaction",
				zap.String("transaction_id", txn.ID),
				zap.String("gateway_intent_id", txn.GatewayIntentID),
				zap.String("gateway", string(txn.Gateway)),
				zap.Error(err),
			)
			continue
		}
		res.Succeeded++
	}
	return nil
}

func (s *Sweeper) disputeStatus(ctx context.Context, res *SweepResult) error {
	if s.disputes == nil {
		return errors.New("dispute orchestrator is not configured")
	}
	open, err := s.disputes.ListOpenDisputes(ctx, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list open disputes: %w", err)
	}
	res.Scanned = len(open)

	for _, d := range open {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := s.disputes.CreateOrUpdateDispute(ctx, d.GatewayDisputeID, d.GatewayIntentID); err != nil {
			res.Failed++
			s.logger.Warn("Failed to refresh dispute",
				zap.String("dispute_id", d.ID),
				zap.String("gateway_dispute_id", d.GatewayDisputeID),
				zap.Error(err),
			)
			continue
		}
		res.Succeeded++
	}
	return nil
}

func (s *Sweeper) purge(ctx context.Context, res *SweepResult) error {
	deleted, err := s.ledger.Purge(ctx)
	if err != nil {
		return fmt.Errorf("purge idempotency records: %w", err)
	}
	res.Purged = deleted
	return nil
}
