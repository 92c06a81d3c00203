package dispute

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kevin07696/payment-orchestrator/internal/domain"
	"github.com/kevin07696/payment-orchestrator/internal/domain/ports"
	"github.com/kevin07696/payment-orchestrator/internal/services/idempotency"
	"github.com/kevin07696/payment-orchestrator/internal/services/notify"
	"github.com/kevin07696/payment-orchestrator/pkg/resilience"
	"github.com/kevin07696/payment-orchestrator/pkg/timeutil"
	"go.uber.org/zap"
)

// evidencePurpose is the gateway file purpose for dispute evidence.
const evidencePurpose = "dispute_evidence"

// Deps are the collaborators of the dispute orchestrator.
type Deps struct {
	Tx        ports.TransactionManager
	Orders    ports.OrderRepository
	Txns      ports.TransactionRepository
	Disputes  ports.DisputeRepository
	Gateway   ports.CardGateway
	Archive   ports.EvidenceArchive
	Ledger    *idempotency.Ledger
	Executor  *resilience.Executor
	Publisher *notify.Publisher
	Logger    *zap.Logger
	Clock     timeutil.Clock
}

// Service mirrors gateway disputes locally and submits evidence.
type Service struct {
	tx        ports.TransactionManager
	orders    ports.OrderRepository
	txns      ports.TransactionRepository
	disputes  ports.DisputeRepository
	gateway   ports.CardGateway
	archive   ports.EvidenceArchive
	ledger    *idempotency.Ledger
	executor  *resilience.Executor
	publisher *notify.Publisher
	logger    *zap.Logger
	now       timeutil.Clock
}

// NewService creates a new dispute service
func NewService(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = timeutil.SystemClock
	}
	return &Service{
		tx:        d.Tx,
		orders:    d.Orders,
		txns:      d.Txns,
		disputes:  d.Disputes,
		gateway:   d.Gateway,
		archive:   d.Archive,
		ledger:    d.Ledger,
		executor:  d.Executor,
		publisher: d.Publisher,
		logger:    d.Logger,
		now:       d.Clock,
	}
}

// CreateOrUpdateDispute refreshes a known dispute from the gateway, or creates it and marks the
// order DISPUTED. intentID may be empty when the gateway dispute carries it.
func (s *Service) CreateOrUpdateDispute(ctx context.Context, gatewayDisputeID, intentID string) (*domain.Dispute, error) {
	if gatewayDisputeID == "" {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationMissingField, "gateway_dispute_id is required")
	}
	gd, err := s.retrieve(ctx, gatewayDisputeID)
	if err != nil {
		return nil, err
	}
	if gd.IntentID == "" {
		gd.IntentID = intentID
	}
	return s.ApplyDisputeSnapshot(ctx, gd)
}

// ApplyDisputeSnapshot upserts a gateway dispute by its gateway id.
func (s *Service) ApplyDisputeSnapshot(ctx context.Context, gd *ports.GatewayDispute) (*domain.Dispute, error) {
	local, err := s.disputes.GetByGatewayDisputeID(ctx, nil, gd.ID)
	if err != nil && !domain.IsNotFoundError(err) {
		return nil, err
	}
	if err == nil {
		return s.refresh(ctx, local.OrderID, gd, nil)
	}

	txn, err := s.txns.GetByGatewayIntentID(ctx, nil, gd.IntentID)
	if err != nil {
		return nil, fmt.Errorf("dispute %s references unknown intent %q: %w", gd.ID, gd.IntentID, err)
	}

	var created *domain.Dispute
	var events []domain.PaymentEvent
	won := false
	err = s.tx.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		order, err := s.orders.GetForUpdate(ctx, tx, txn.OrderID)
		if err != nil {
			return err
		}
		now := s.now()
		created, err = s.fromGateway(gd, order)
		if err != nil {
			return err
		}
		created.ID = uuid.NewString()
		created.CreatedAt = now
		created.UpdatedAt = now

		won, err = s.disputes.Create(ctx, tx, created)
		if err != nil || !won {
			return err
		}

		if !created.Status.IsWarning() {
			moved, err := order.TransitionTo(domain.OrderStatusDisputed, now)
			if err != nil {
				s.logger.Warn("Disputed order cannot move to DISPUTED",
					zap.String("order_id", order.ID),
					zap.String("status", string(order.Status)),
				)
			}
			if moved {
				if err := s.orders.Save(ctx, tx, order); err != nil {
					return err
				}
			}
		}
		events = append(events, notify.Event(domain.EventPaymentDisputed, order, gd.ID, gd.Reason, now))

		// Disputes first seen after closing still settle the order.
		evs, err := s.applyOutcome(ctx, tx, order, created, "", now)
		if err != nil {
			return err
		}
		events = append(events, evs...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !won {
		// A concurrent writer created it first.
		return s.refresh(ctx, txn.OrderID, gd, nil)
	}
	s.publisher.Publish(ctx, events...)

	s.logger.Info("Dispute opened",
		zap.String("order_id", created.OrderID),
		zap.String("gateway_dispute_id", created.GatewayDisputeID),
		zap.String("status", string(created.Status)),
		zap.String("reason", created.Reason),
	)
	return created, nil
}

func (s *Service) fromGateway(gd *ports.GatewayDispute, order *domain.Order) (*domain.Dispute, error) {
	status, ok := domain.DisputeStatusFromGateway(gd.Status)
	if !ok {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed,
			fmt.Sprintf("dispute %s has unknown status %q", gd.ID, gd.Status))
	}
	currency := domain.NormalizeCurrency(gd.Currency, order.Currency)
	return &domain.Dispute{
		OrderID:          order.ID,
		GatewayDisputeID: gd.ID,
		GatewayIntentID:  gd.IntentID,
		Amount:           domain.FromMinorUnits(gd.AmountMinor, currency),
		Currency:         currency,
		Status:           status,
		Reason:           gd.Reason,
		EvidenceDueBy:    gd.EvidenceDueBy,
	}, nil
}

// refresh applies a snapshot to an existing dispute. mutate runs under the lock before saving.
func (s *Service) refresh(ctx context.Context, orderID string, gd *ports.GatewayDispute,
	mutate func(d *domain.Dispute)) (*domain.Dispute, error) {
	var updated *domain.Dispute
	var events []domain.PaymentEvent
	err := s.tx.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		updated, events, err = s.refreshLocked(ctx, tx, orderID, gd, mutate)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, events...)
	return updated, nil
}

func (s *Service) refreshLocked(ctx context.Context, tx pgx.Tx, orderID string, gd *ports.GatewayDispute,
	mutate func(d *domain.Dispute)) (*domain.Dispute, []domain.PaymentEvent, error) {
	order, err := s.orders.GetForUpdate(ctx, tx, orderID)
	if err != nil {
		return nil, nil, err
	}
	d, err := s.disputes.GetByGatewayDisputeID(ctx, tx, gd.ID)
	if err != nil {
		return nil, nil, err
	}

	next, ok := domain.DisputeStatusFromGateway(gd.Status)
	if !ok {
		s.logger.Warn("Unknown dispute status, keeping stored status",
			zap.String("gateway_dispute_id", gd.ID),
			zap.String("stored_status", string(d.Status)),
			zap.String("snapshot_status", gd.Status),
		)
		next = d.Status
	}
	if d.IsTerminal() && d.Status != next {
		s.logger.Info("Ignoring stale dispute snapshot",
			zap.String("gateway_dispute_id", gd.ID),
			zap.String("stored_status", string(d.Status)),
			zap.String("snapshot_status", gd.Status),
		)
		return d, nil, nil
	}

	now := s.now()
	previous := d.Status
	d.Status = next
	if gd.EvidenceDueBy != nil {
		d.EvidenceDueBy = gd.EvidenceDueBy
	}
	if gd.Reason != "" {
		d.Reason = gd.Reason
	}
	if gd.AmountMinor > 0 {
		d.Amount = domain.FromMinorUnits(gd.AmountMinor, d.Currency)
	}
	if mutate != nil {
		mutate(d)
	}
	d.UpdatedAt = now
	if err := s.disputes.Update(ctx, tx, d); err != nil {
		return nil, nil, err
	}
	if previous != next {
		s.logger.Info("Dispute status changed",
			zap.String("gateway_dispute_id", gd.ID),
			zap.String("from", string(previous)),
			zap.String("to", string(next)),
		)
	}

	var events []domain.PaymentEvent
	// An inquiry escalated to a real chargeback.
	if previous.IsWarning() && !next.IsWarning() {
		moved, err := order.TransitionTo(domain.OrderStatusDisputed, now)
		if err == nil && moved {
			if err := s.orders.Save(ctx, tx, order); err != nil {
				return nil, nil, err
			}
			events = append(events, notify.Event(domain.EventPaymentDisputed, order, gd.ID, d.Reason, now))
		}
	}

	evs, err := s.applyOutcome(ctx, tx, order, d, previous, now)
	if err != nil {
		return nil, nil, err
	}
	return d, append(events, evs...), nil
}

// applyOutcome moves the order when the dispute has just closed. WON restores PAID and LOST means
// the money is gone; warnings never touch the order.
func (s *Service) applyOutcome(ctx context.Context, tx pgx.Tx, order *domain.Order, d *domain.Dispute,
	previous domain.DisputeStatus, now time.Time) ([]domain.PaymentEvent, error) {
	if !d.IsTerminal() || previous == d.Status {
		return nil, nil
	}
	var events []domain.PaymentEvent
	if target, ok := d.Status.OrderOutcome(); ok {
		moved, err := order.TransitionTo(target, now)
		if err != nil {
			s.logger.Warn("Dispute outcome does not apply to order",
				zap.String("order_id", order.ID),
				zap.String("order_status", string(order.Status)),
				zap.String("dispute_status", string(d.Status)),
			)
		}
		if moved {
			if err := s.orders.Save(ctx, tx, order); err != nil {
				return nil, err
			}
		}
	}
	events = append(events, notify.Event(domain.EventDisputeClosed, order, d.GatewayDisputeID, string(d.Status), now))
	return events, nil
}

func (s *Service) retrieve(ctx context.Context, gatewayDisputeID string) (*ports.GatewayDispute, error) {
	var gd *ports.GatewayDispute
	err := s.executor.Run(ctx, "card.retrieve_dispute", func(ctx context.Context) error {
		var err error
		gd, err = s.gateway.RetrieveDispute(ctx, gatewayDisputeID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve dispute %s: %w", gatewayDisputeID, err)
	}
	return gd, nil
}

// SubmitEvidenceRequest stages (Submit=false) or submits dispute evidence.
type SubmitEvidenceRequest struct {
	DisputeID      string                 `json:"dispute_id"`
	Evidence       domain.DisputeEvidence `json:"evidence"`
	Submit         bool                   `json:"submit"`
	IdempotencyKey string                 `json:"idempotency_key"`
}

// SubmitEvidence sends evidence to the gateway. It is only legal while the dispute needs a response.
func (s *Service) SubmitEvidence(ctx context.Context, req SubmitEvidenceRequest) (*domain.Dispute, error) {
	if req.DisputeID == "" {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationMissingField, "dispute_id is required")
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = s.ledger.NewKey()
	}
	key, op := req.IdempotencyKey, domain.OperationUpdateDispute

	if res, done, err := idempotency.Replayed[domain.Dispute](ctx, s.ledger, key, op); done || err != nil {
		return res, err
	}

	d, err := s.disputes.GetByID(ctx, nil, req.DisputeID)
	if err != nil {
		return nil, err
	}
	if err := s.checkAcceptsEvidence(d); err != nil {
		return nil, err
	}

	if _, err := s.ledger.Begin(ctx, nil, idempotency.BeginParams{Key: key, Operation: op, EntityID: d.ID, Request: req}); err != nil {
		if idempotency.IsConflict(err) {
			return idempotency.AfterConflict[domain.Dispute](ctx, s.ledger, key, op)
		}
		return nil, err
	}

	update := ports.DisputeUpdate{
		Evidence: req.Evidence,
		Submit:   req.Submit,
		Metadata: map[string]string{"order_id": d.OrderID, "dispute_id": d.ID},
	}
	var gd *ports.GatewayDispute
	err = s.executor.Run(ctx, "card.update_dispute", func(ctx context.Context) error {
		var err error
		gd, err = s.gateway.UpdateDispute(ctx, d.GatewayDisputeID, update, key)
		return err
	})
	if err != nil {
		s.ledger.Fail(ctx, key, op, err, idempotency.Retryable(s.executor.Policy(), err))
		return nil, fmt.Errorf("update dispute %s: %w", d.GatewayDisputeID, err)
	}

	ctx = context.WithoutCancel(ctx)
	var updated *domain.Dispute
	var events []domain.PaymentEvent
	err = s.tx.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		updated, events, err = s.refreshLocked(ctx, tx, d.OrderID, gd, func(d *domain.Dispute) {
			if req.Submit {
				d.EvidenceSubmitted = true
			}
		})
		if err != nil {
			return err
		}
		return s.ledger.Succeed(ctx, tx, key, op, updated.ID, updated)
	})
	if err != nil {
		s.ledger.Fail(ctx, key, op, err, true)
		return nil, fmt.Errorf("record dispute %s: %w", d.GatewayDisputeID, err)
	}
	s.publisher.Publish(ctx, events...)

	s.logger.Info("Dispute evidence sent",
		zap.String("dispute_id", updated.ID),
		zap.String("gateway_dispute_id", updated.GatewayDisputeID),
		zap.Bool("submitted", req.Submit),
	)
	return updated, nil
}

func (s *Service) checkAcceptsEvidence(d *domain.Dispute) error {
	if d.AcceptsEvidence(s.now()) {
		return nil
	}
	detail := string(d.Status)
	if d.EvidenceDueBy != nil {
		detail += ", due " + d.EvidenceDueBy.UTC().Format("2006-01-02T15:04:05Z")
	}
	return domain.NewDomainError(domain.ErrorCodeEvidenceWindowClosed,
		fmt.Sprintf("dispute %s no longer accepts evidence (%s)", d.ID, detail))
}

// UploadEvidenceRequest carries one evidence file.
type UploadEvidenceRequest struct {
	DisputeID   string
	FileName    string
	ContentType string
	Data        []byte
}

// EvidenceFile is an uploaded evidence file: the gateway id plus our archived copy.
type EvidenceFile struct {
	FileID     string `json:"file_id"`
	ArchiveKey string `json:"archive_key,omitempty"`
	Size       int64  `json:"size"`
}

// UploadEvidenceFile archives the file, uploads it to the gateway and attaches the id to the dispute.
func (s *Service) UploadEvidenceFile(ctx context.Context, req UploadEvidenceRequest) (*EvidenceFile, error) {
	if len(req.Data) == 0 {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationMissingField, "file is empty")
	}
	d, err := s.disputes.GetByID(ctx, nil, req.DisputeID)
	if err != nil {
		return nil, err
	}
	if err := s.checkAcceptsEvidence(d); err != nil {
		return nil, err
	}

	name := path.Base(req.FileName)
	out := &EvidenceFile{}
	if s.archive != nil {
		out.ArchiveKey, err = s.archive.Store(ctx, d.ID, name, req.ContentType, req.Data)
		if err != nil {
			return nil, fmt.Errorf("archive evidence for dispute %s: %w", d.ID, err)
		}
	}

	var file *ports.GatewayFile
	err = s.executor.Run(ctx, "card.create_evidence_file", func(ctx context.Context) error {
		var err error
		file, err = s.gateway.CreateEvidenceFile(ctx, ports.FileParams{
			Purpose:     evidencePurpose,
			FileName:    name,
			ContentType: req.ContentType,
			Data:        req.Data,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("upload evidence for dispute %s: %w", d.ID, err)
	}
	out.FileID, out.Size = file.ID, file.Size

	err = s.tx.WithTransaction(context.WithoutCancel(ctx), func(ctx context.Context, tx pgx.Tx) error {
		if _, err := s.orders.GetForUpdate(ctx, tx, d.OrderID); err != nil {
			return err
		}
		current, err := s.disputes.GetByID(ctx, tx, d.ID)
		if err != nil {
			return err
		}
		// The dispute may have closed while the file was uploading.
		if err := s.checkAcceptsEvidence(current); err != nil {
			return err
		}
		current.EvidenceFileIDs = append(current.EvidenceFileIDs, file.ID)
		current.UpdatedAt = s.now()
		return s.disputes.Update(ctx, tx, current)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Dispute evidence file uploaded",
		zap.String("dispute_id", d.ID),
		zap.String("file_id", file.ID),
		zap.String("archive_key", out.ArchiveKey),
		zap.Int64("size", file.Size),
	)
	return out, nil
}

// GetDispute returns a local dispute.
func (s *Service) GetDispute(ctx context.Context, id string) (*domain.Dispute, error) {
	return s.disputes.GetByID(ctx, nil, id)
}

// ListOpenDisputes returns non-terminal disputes, oldest first.
func (s *Service) ListOpenDisputes(ctx context.Context, limit int) ([]*domain.Dispute, error) {
	return s.disputes.ListOpen(ctx, limit)
}
