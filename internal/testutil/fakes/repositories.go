package fakes

import (
	"context"
	"sort"
	"time"

	"github.com/kevin07696/payment-orchestrator/internal/domain"
	"github.com/kevin07696/payment-orchestrator/internal/domain/ports"
)

type (
	orderRow   = domain.Order
	txnRow     = domain.PaymentTransaction
	refundRow  = domain.Refund
	methodRow  = domain.CustomerPaymentMethod
	webhookRow = domain.WebhookEvent
	idemRow    = domain.IdempotencyRecord
)

type disputeRow struct {
	domain.Dispute
}

type idemKey struct {
	key string
	op  domain.OperationType
}

// ---------------------------------------------------------------- orders

// OrderRepo implements ports.OrderRepository.
type OrderRepo struct{ s *Store }

// Orders returns the order repository view.
func (s *Store) Orders() *OrderRepo { return &OrderRepo{s: s} }

// Put seeds an order.
func (r *OrderRepo) Put(order *domain.Order) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.orders[order.ID] = *order
}

// Get returns a copy of the stored order or nil; test helper.
func (r *OrderRepo) Get(id string) *domain.Order {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil
	}
	return &o
}

func (r *OrderRepo) GetByID(ctx context.Context, tx ports.DBTX, id string) (*domain.Order, error) {
	if o := r.Get(id); o != nil {
		return o, nil
	}
	return nil, domain.ErrOrderNotFound
}

func (r *OrderRepo) GetForUpdate(ctx context.Context, tx ports.DBTX, id string) (*domain.Order, error) {
	return r.GetByID(ctx, tx, id)
}

func (r *OrderRepo) Save(ctx context.Context, tx ports.DBTX, order *domain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.orders[order.ID]; !ok {
		return domain.ErrOrderNotFound
	}
	r.s.orders[order.ID] = *order
	return nil
}

func (r *OrderRepo) FindByUserID(ctx context.Context, tx ports.DBTX, userID string, limit int) ([]*domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Order
	for _, o := range r.s.orders {
		if o.UserID == userID {
			o := o
			out = append(out, &o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---------------------------------------------------------------- transactions

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct{ s *Store }

// Transactions returns the transaction repository view.
func (s *Store) Transactions() *TransactionRepo { return &TransactionRepo{s: s} }

// Put seeds a transaction.
func (r *TransactionRepo) Put(txn *domain.PaymentTransaction) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.txns[txn.GatewayIntentID] = *txn
}

// Count returns the number of stored transactions.
func (r *TransactionRepo) Count() int {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.txns)
}

func (r *TransactionRepo) Upsert(ctx context.Context, tx ports.DBTX, txn *domain.PaymentTransaction) (*domain.PaymentTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if existing, ok := r.s.txns[txn.GatewayIntentID]; ok {
		existing.Status = txn.Status
		existing.ErrorMessage = txn.ErrorMessage
		existing.UpdatedAt = txn.UpdatedAt
		r.s.txns[txn.GatewayIntentID] = existing
		return &existing, nil
	}
	stored := *txn
	r.s.txns[txn.GatewayIntentID] = stored
	return &stored, nil
}

func (r *TransactionRepo) GetByGatewayIntentID(ctx context.Context, tx ports.DBTX, intentID string) (*domain.PaymentTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.txns[intentID]
	if !ok {
		return nil, domain.ErrTxnNotFound
	}
	return &t, nil
}

func (r *TransactionRepo) ListByOrderID(ctx context.Context, tx ports.DBTX, orderID string) ([]*domain.PaymentTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.PaymentTransaction
	for _, t := range r.s.txns {
		if t.OrderID == orderID {
			t := t
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *TransactionRepo) ListNonTerminalSince(ctx context.Context, since time.Time, limit int) ([]*domain.PaymentTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.PaymentTransaction
	for _, t := range r.s.txns {
		if !t.IsTerminal() && !t.CreatedAt.Before(since) {
			t := t
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---------------------------------------------------------------- refunds

// RefundRepo implements ports.RefundRepository.
type RefundRepo struct{ s *Store }

// Refunds returns the refund repository view.
func (s *Store) Refunds() *RefundRepo { return &RefundRepo{s: s} }

// All returns every refund; test helper.
func (r *RefundRepo) All() []*domain.Refund {
	out, _ := r.list(func(*domain.Refund) bool { return true })
	return out
}

func (r *RefundRepo) list(match func(*domain.Refund) bool) ([]*domain.Refund, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Refund
	for _, ref := range r.s.refunds {
		ref := ref
		if match(&ref) {
			out = append(out, &ref)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *RefundRepo) Create(ctx context.Context, tx ports.DBTX, refund *domain.Refund) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if refund.GatewayRefundID != "" {
		for _, existing := range r.s.refunds {
			if existing.GatewayRefundID == refund.GatewayRefundID {
				return domain.Precondition("refund %s already recorded", refund.GatewayRefundID)
			}
		}
	}
	r.s.refunds[refund.ID] = *refund
	return nil
}

func (r *RefundRepo) Update(ctx context.Context, tx ports.DBTX, refund *domain.Refund) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.refunds[refund.ID]
	if !ok {
		return domain.ErrRefundNotFound
	}
	existing.GatewayRefundID = refund.GatewayRefundID
	existing.Status = refund.Status
	existing.FailureReason = refund.FailureReason
	existing.UpdatedAt = refund.UpdatedAt
	r.s.refunds[refund.ID] = existing
	return nil
}

func (r *RefundRepo) GetByID(ctx context.Context, tx ports.DBTX, id string) (*domain.Refund, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ref, ok := r.s.refunds[id]
	if !ok {
		return nil, domain.ErrRefundNotFound
	}
	return &ref, nil
}

func (r *RefundRepo) GetByGatewayRefundID(ctx context.Context, tx ports.DBTX, gatewayRefundID string) (*domain.Refund, error) {
	out, _ := r.list(func(ref *domain.Refund) bool { return ref.GatewayRefundID == gatewayRefundID })
	if len(out) == 0 {
		return nil, domain.ErrRefundNotFound
	}
	return out[0], nil
}

func (r *RefundRepo) ListByOrderID(ctx context.Context, tx ports.DBTX, orderID string) ([]*domain.Refund, error) {
	return r.list(func(ref *domain.Refund) bool { return ref.OrderID == orderID })
}

// ---------------------------------------------------------------- disputes

// DisputeRepo implements ports.DisputeRepository.
type DisputeRepo struct{ s *Store }

// Disputes returns the dispute repository view.
func (s *Store) Disputes() *DisputeRepo { return &DisputeRepo{s: s} }

func cloneDispute(d domain.Dispute) *domain.Dispute {
	d.EvidenceFileIDs = append([]string(nil), d.EvidenceFileIDs...)
	return &d
}

// Count returns the number of stored disputes.
func (r *DisputeRepo) Count() int {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.disputes)
}

func (r *DisputeRepo) Create(ctx context.Context, tx ports.DBTX, dispute *domain.Dispute) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.disputes {
		if existing.GatewayDisputeID == dispute.GatewayDisputeID {
			return false, nil
		}
	}
	r.s.disputes[dispute.ID] = disputeRow{Dispute: *cloneDispute(*dispute)}
	return true, nil
}

func (r *DisputeRepo) Update(ctx context.Context, tx ports.DBTX, dispute *domain.Dispute) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.disputes[dispute.ID]; !ok {
		return domain.ErrDisputeNotFound
	}
	r.s.disputes[dispute.ID] = disputeRow{Dispute: *cloneDispute(*dispute)}
	return nil
}

func (r *DisputeRepo) GetByID(ctx context.Context, tx ports.DBTX, id string) (*domain.Dispute, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.disputes[id]
	if !ok {
		return nil, domain.ErrDisputeNotFound
	}
	return cloneDispute(d.Dispute), nil
}

func (r *DisputeRepo) GetByGatewayDisputeID(ctx context.Context, tx ports.DBTX, gatewayDisputeID string) (*domain.Dispute, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, d := range r.s.disputes {
		if d.GatewayDisputeID == gatewayDisputeID {
			return cloneDispute(d.Dispute), nil
		}
	}
	return nil, domain.ErrDisputeNotFound
}

func (r *DisputeRepo) ListOpen(ctx context.Context, limit int) ([]*domain.Dispute, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Dispute
	for _, d := range r.s.disputes {
		if !d.IsTerminal() {
			out = append(out, cloneDispute(d.Dispute))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---------------------------------------------------------------- idempotency

// IdempotencyRepo implements ports.IdempotencyRepository.
type IdempotencyRepo struct{ s *Store }

// Idempotency returns the ledger repository view.
func (s *Store) Idempotency() *IdempotencyRepo { return &IdempotencyRepo{s: s} }

// Put seeds a record.
func (r *IdempotencyRepo) Put(rec *domain.IdempotencyRecord) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.idem[idemKey{rec.Key, rec.Operation}] = *rec
}

func (r *IdempotencyRepo) Insert(ctx context.Context, tx ports.DBTX, rec *domain.IdempotencyRecord) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := idemKey{rec.Key, rec.Operation}
	if _, ok := r.s.idem[k]; ok {
		return false, nil
	}
	r.s.idem[k] = *rec
	return true, nil
}

func (r *IdempotencyRepo) Get(ctx context.Context, tx ports.DBTX, key string, op domain.OperationType) (*domain.IdempotencyRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.idem[idemKey{key, op}]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (r *IdempotencyRepo) Transition(ctx context.Context, tx ports.DBTX, key string, op domain.OperationType,
	from []domain.IdempotencyStatus, to domain.IdempotencyStatus, update ports.RecordUpdate) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := idemKey{key, op}
	rec, ok := r.s.idem[k]
	if !ok {
		return false, nil
	}
	allowed := false
	for _, s := range from {
		if rec.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}
	rec.Status = to
	if update.EntityID != "" {
		rec.EntityID = update.EntityID
	}
	if update.Response != nil {
		rec.Response = update.Response
	}
	rec.ErrorDetail = update.ErrorDetail
	rec.UpdatedAt = time.Now().UTC()
	r.s.idem[k] = rec
	return true, nil
}

func (r *IdempotencyRepo) ListByStatusSince(ctx context.Context, status domain.IdempotencyStatus, since time.Time, limit int) ([]*domain.IdempotencyRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.IdempotencyRecord
	for _, rec := range r.s.idem {
		if rec.Status == status && !rec.CreatedAt.Before(since) {
			rec := rec
			out = append(out, &rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *IdempotencyRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var deleted int64
	for k, rec := range r.s.idem {
		if rec.CreatedAt.Before(cutoff) {
			delete(r.s.idem, k)
			deleted++
		}
	}
	return deleted, nil
}

// ---------------------------------------------------------------- payment methods

// PaymentMethodRepo implements ports.PaymentMethodRepository.
type PaymentMethodRepo struct{ s *Store }

// PaymentMethods returns the payment method repository view.
func (s *Store) PaymentMethods() *PaymentMethodRepo { return &PaymentMethodRepo{s: s} }

func (r *PaymentMethodRepo) Create(ctx context.Context, tx ports.DBTX, pm *domain.CustomerPaymentMethod) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.methods {
		if existing.UserID == pm.UserID && existing.GatewayPaymentMethodID == pm.GatewayPaymentMethodID {
			return domain.Precondition("payment method already saved")
		}
	}
	r.s.methods[pm.ID] = *pm
	return nil
}

func (r *PaymentMethodRepo) GetByID(ctx context.Context, tx ports.DBTX, id string) (*domain.CustomerPaymentMethod, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	pm, ok := r.s.methods[id]
	if !ok {
		return nil, domain.ErrPMNotFound
	}
	return &pm, nil
}

func (r *PaymentMethodRepo) GetByGatewayID(ctx context.Context, tx ports.DBTX, userID, gatewayPaymentMethodID string) (*domain.CustomerPaymentMethod, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, pm := range r.s.methods {
		if pm.UserID == userID && pm.GatewayPaymentMethodID == gatewayPaymentMethodID {
			return &pm, nil
		}
	}
	return nil, domain.ErrPMNotFound
}

func (r *PaymentMethodRepo) ListByUserID(ctx context.Context, tx ports.DBTX, userID string) ([]*domain.CustomerPaymentMethod, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.CustomerPaymentMethod
	for _, pm := range r.s.methods {
		if pm.UserID == userID {
			pm := pm
			out = append(out, &pm)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// LockUser is a no-op: Store.WithTransaction already serializes transactions.
func (r *PaymentMethodRepo) LockUser(ctx context.Context, tx ports.DBTX, userID string) error {
	return nil
}

func (r *PaymentMethodRepo) ClearDefault(ctx context.Context, tx ports.DBTX, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, pm := range r.s.methods {
		if pm.UserID == userID && pm.IsDefault {
			pm.IsDefault = false
			r.s.methods[id] = pm
		}
	}
	return nil
}

func (r *PaymentMethodRepo) SetDefault(ctx context.Context, tx ports.DBTX, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	pm, ok := r.s.methods[id]
	if !ok {
		return domain.ErrPMNotFound
	}
	for otherID, other := range r.s.methods {
		if otherID != id && other.UserID == pm.UserID && other.IsDefault {
			return domain.Precondition("user already has a default payment method")
		}
	}
	pm.IsDefault = true
	r.s.methods[id] = pm
	return nil
}

func (r *PaymentMethodRepo) Delete(ctx context.Context, tx ports.DBTX, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.methods[id]; !ok {
		return domain.ErrPMNotFound
	}
	delete(r.s.methods, id)
	return nil
}

// ---------------------------------------------------------------- customers

// CustomerRepo implements ports.CustomerRepository.
type CustomerRepo struct{ s *Store }

// Customers returns the customer repository view.
func (s *Store) Customers() *CustomerRepo { return &CustomerRepo{s: s} }

func (r *CustomerRepo) GetGatewayCustomerID(ctx context.Context, tx ports.DBTX, userID string) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.customers[userID], nil
}

func (r *CustomerRepo) SaveGatewayCustomerID(ctx context.Context, tx ports.DBTX, userID, customerID string) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if existing, ok := r.s.customers[userID]; ok {
		return existing, nil
	}
	r.s.customers[userID] = customerID
	return customerID, nil
}

// ---------------------------------------------------------------- webhook audit

// WebhookEventRepo implements ports.WebhookEventRepository.
type WebhookEventRepo struct{ s *Store }

// WebhookEvents returns the webhook audit view.
func (s *Store) WebhookEvents() *WebhookEventRepo { return &WebhookEventRepo{s: s} }

func webhookKey(gateway domain.GatewayKind, eventID string) string {
	return string(gateway) + "/" + eventID
}

// Get returns the audit row; test helper.
func (r *WebhookEventRepo) Get(gateway domain.GatewayKind, eventID string) *domain.WebhookEvent {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ev, ok := r.s.webhooks[webhookKey(gateway, eventID)]
	if !ok {
		return nil
	}
	return &ev
}

func (r *WebhookEventRepo) Record(ctx context.Context, event *domain.WebhookEvent) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := webhookKey(event.Gateway, event.EventID)
	existing, ok := r.s.webhooks[k]
	if ok {
		existing.Deliveries++
		existing.UpdatedAt = event.ReceivedAt
		r.s.webhooks[k] = existing
		event.Deliveries = existing.Deliveries
		return false, nil
	}
	stored := *event
	stored.Deliveries = 1
	r.s.webhooks[k] = stored
	event.Deliveries = 1
	return true, nil
}

func (r *WebhookEventRepo) MarkOutcome(ctx context.Context, gateway domain.GatewayKind, eventID string, outcome domain.WebhookOutcome) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := webhookKey(gateway, eventID)
	ev, ok := r.s.webhooks[k]
	if !ok {
		return nil
	}
	ev.Outcome = outcome
	r.s.webhooks[k] = ev
	return nil
}

var (
	_ ports.OrderRepository         = (*OrderRepo)(nil)
	_ ports.TransactionRepository   = (*TransactionRepo)(nil)
	_ ports.RefundRepository        = (*RefundRepo)(nil)
	_ ports.DisputeRepository       = (*DisputeRepo)(nil)
	_ ports.IdempotencyRepository   = (*IdempotencyRepo)(nil)
	_ ports.PaymentMethodRepository = (*PaymentMethodRepo)(nil)
	_ ports.CustomerRepository      = (*CustomerRepo)(nil)
	_ ports.WebhookEventRepository  = (*WebhookEventRepo)(nil)
	_ ports.TransactionManager      = (*Store)(nil)
)
