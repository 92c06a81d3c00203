package fakes

import (
	"context"
	"fmt"
	"sync"

	"github.com/kevin07696/payment-orchestrator/internal/domain"
	"github.com/kevin07696/payment-orchestrator/internal/domain/ports"
	pkgerrors "github.com/kevin07696/payment-orchestrator/pkg/errors"
)

// Card gateway operation names used by FailNext and Calls.
const (
	OpCreateIntent   = "CreateIntent"
	OpRetrieveIntent = "RetrieveIntent"
	OpConfirmIntent  = "ConfirmIntent"
	OpCancelIntent   = "CancelIntent"
	OpCreateRefund   = "CreateRefund"
	OpRetrieveRefund = "RetrieveRefund"
	OpRetrieveDisp   = "RetrieveDispute"
	OpUpdateDispute  = "UpdateDispute"
	OpCreateFile     = "CreateEvidenceFile"
	OpCreateCustomer = "CreateCustomer"
	OpAttachPM       = "AttachPaymentMethod"
	OpDetachPM       = "DetachPaymentMethod"

	OpCreateOrder  = "CreateOrder"
	OpCaptureOrder = "CaptureOrder"
	OpGetOrder     = "GetOrder"
)

type callLog struct {
	mu    sync.Mutex
	calls map[string]int
	errs  map[string][]error
}

func (c *callLog) record(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[op]++
	if queued := c.errs[op]; len(queued) > 0 {
		c.errs[op] = queued[1:]
		return queued[0]
	}
	return nil
}

// FailNext queues errors returned by the next calls of op, in order.
func (c *callLog) FailNext(op string, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.errs == nil {
		c.errs = make(map[string][]error)
	}
	c.errs[op] = append(c.errs[op], errs...)
}

// Calls returns how many times op was invoked, failures included.
func (c *callLog) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// CardGateway is an in-memory card gateway. It honours idempotency keys the way the
// real gateway does: replaying a key returns the first result.
type CardGateway struct {
	callLog

	mu        sync.Mutex
	seq       int
	intents   map[string]*ports.Intent
	refunds   map[string]*ports.GatewayRefund
	disputes  map[string]*ports.GatewayDispute
	customers map[string]string
	methods   map[string]*ports.GatewayPaymentMethod
	byKey     map[string]string

	// ConfirmStatus is the status an intent reaches on confirm. Defaults to succeeded.
	ConfirmStatus string
	// RefundStatus is the status of new refunds. Defaults to succeeded.
	RefundStatus string
	// BeforeCall runs before every operation, outside the lock.
	BeforeCall func(op string)
}

// NewCardGateway creates an empty fake.
func NewCardGateway() *CardGateway {
	return &CardGateway{
		intents:   make(map[string]*ports.Intent),
		refunds:   make(map[string]*ports.GatewayRefund),
		disputes:  make(map[string]*ports.GatewayDispute),
		customers: make(map[string]string),
		methods:   make(map[string]*ports.GatewayPaymentMethod),
		byKey:     make(map[string]string),
	}
}

func (g *CardGateway) enter(op string) error {
	if g.BeforeCall != nil {
		g.BeforeCall(op)
	}
	return g.record(op)
}

func (g *CardGateway) nextID(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s_%d", prefix, g.seq)
}

func copyIntent(i *ports.Intent) *ports.Intent {
	out := *i
	out.Metadata = copyMap(i.Metadata)
	return &out
}

// PutIntent seeds or replaces an intent.
func (g *CardGateway) PutIntent(intent *ports.Intent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.intents[intent.ID] = copyIntent(intent)
}

// SetIntentStatus moves an intent as if it happened at the gateway.
func (g *CardGateway) SetIntentStatus(intentID, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if i, ok := g.intents[intentID]; ok {
		i.Status = status
	}
}

// Intent returns a copy of a stored intent.
func (g *CardGateway) Intent(intentID string) *ports.Intent {
	g.mu.Lock()
	defer g.mu.Unlock()
	if i, ok := g.intents[intentID]; ok {
		return copyIntent(i)
	}
	return nil
}

func (g *CardGateway) CreateIntent(ctx context.Context, params ports.IntentParams, idempotencyKey string) (*ports.Intent, error) {
	if err := g.enter(OpCreateIntent); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if id, ok := g.byKey[OpCreateIntent+idempotencyKey]; ok && idempotencyKey != "" {
		return copyIntent(g.intents[id]), nil
	}
	intent := &ports.Intent{
		ID:              g.nextID("pi"),
		Status:          domain.IntentStatusRequiresPaymentMethod,
		AmountMinor:     params.AmountMinor,
		Currency:        params.Currency,
		ClientSecret:    "secret",
		PaymentMethodID: params.PaymentMethodID,
		Metadata:        copyMap(params.Metadata),
	}
	if params.PaymentMethodID != "" {
		intent.Status = domain.IntentStatusRequiresConfirmation
	}
	intent.ClientSecret = intent.ID + "_secret"
	g.intents[intent.ID] = intent
	g.byKey[OpCreateIntent+idempotencyKey] = intent.ID
	return copyIntent(intent), nil
}

func (g *CardGateway) RetrieveIntent(ctx context.Context, intentID string) (*ports.Intent, error) {
	if err := g.enter(OpRetrieveIntent); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	i, ok := g.intents[intentID]
	if !ok {
		return nil, fmt.Errorf("no such intent %s", intentID)
	}
	return copyIntent(i), nil
}

func (g *CardGateway) ConfirmIntent(ctx context.Context, intentID, paymentMethodID, idempotencyKey string) (*ports.Intent, error) {
	if err := g.enter(OpConfirmIntent); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	i, ok := g.intents[intentID]
	if !ok {
		return nil, fmt.Errorf("no such intent %s", intentID)
	}
	if _, seen := g.byKey[OpConfirmIntent+idempotencyKey]; !seen {
		status := g.ConfirmStatus
		if status == "" {
			status = domain.IntentStatusSucceeded
		}
		i.Status = status
		if paymentMethodID != "" {
			i.PaymentMethodID = paymentMethodID
		}
		g.byKey[OpConfirmIntent+idempotencyKey] = intentID
	}
	return copyIntent(i), nil
}

func (g *CardGateway) CancelIntent(ctx context.Context, intentID, idempotencyKey string) (*ports.Intent, error) {
	if err := g.enter(OpCancelIntent); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	i, ok := g.intents[intentID]
	if !ok {
		return nil, fmt.Errorf("no such intent %s", intentID)
	}
	if i.Status == domain.IntentStatusSucceeded {
		return nil, &pkgerrors.GatewayError{
			Code:       "payment_intent_unexpected_state",
			Message:    "intent already succeeded",
			Category:   pkgerrors.CategoryInvalidRequest,
			StatusCode: 400,
		}
	}
	i.Status = domain.IntentStatusCanceled
	return copyIntent(i), nil
}

func (g *CardGateway) CreateRefund(ctx context.Context, params ports.RefundParams, idempotencyKey string) (*ports.GatewayRefund, error) {
	if err := g.enter(OpCreateRefund); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if id, ok := g.byKey[OpCreateRefund+idempotencyKey]; ok && idempotencyKey != "" {
		r := *g.refunds[id]
		return &r, nil
	}
	intent, ok := g.intents[params.IntentID]
	if !ok {
		return nil, fmt.Errorf("no such intent %s", params.IntentID)
	}
	amount := params.AmountMinor
	if amount == 0 {
		amount = intent.AmountMinor
	}
	status := g.RefundStatus
	if status == "" {
		status = "succeeded"
	}
	refund := &ports.GatewayRefund{
		ID:          g.nextID("re"),
		IntentID:    params.IntentID,
		Status:      status,
		AmountMinor: amount,
		Currency:    intent.Currency,
		Reason:      params.Reason,
		Metadata:    copyMap(params.Metadata),
	}
	g.refunds[refund.ID] = refund
	g.byKey[OpCreateRefund+idempotencyKey] = refund.ID
	out := *refund
	return &out, nil
}

// SetRefundStatus moves a refund as if it happened at the gateway.
func (g *CardGateway) SetRefundStatus(refundID, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.refunds[refundID]; ok {
		r.Status = status
	}
}

func (g *CardGateway) RetrieveRefund(ctx context.Context, refundID string) (*ports.GatewayRefund, error) {
	if err := g.enter(OpRetrieveRefund); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.refunds[refundID]
	if !ok {
		return nil, fmt.Errorf("no such refund %s", refundID)
	}
	out := *r
	return &out, nil
}

// PutDispute seeds or replaces a dispute.
func (g *CardGateway) PutDispute(d *ports.GatewayDispute) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := *d
	g.disputes[d.ID] = &out
}

func (g *CardGateway) RetrieveDispute(ctx context.Context, disputeID string) (*ports.GatewayDispute, error) {
	if err := g.enter(OpRetrieveDisp); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	d, ok := g.disputes[disputeID]
	if !ok {
		return nil, fmt.Errorf("no such dispute %s", disputeID)
	}
	out := *d
	return &out, nil
}

func (g *CardGateway) UpdateDispute(ctx context.Context, disputeID string, update ports.DisputeUpdate, idempotencyKey string) (*ports.GatewayDispute, error) {
	if err := g.enter(OpUpdateDispute); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	d, ok := g.disputes[disputeID]
	if !ok {
		return nil, fmt.Errorf("no such dispute %s", disputeID)
	}
	if update.Submit {
		d.SubmissionCount++
		d.Status = "under_review"
	}
	out := *d
	return &out, nil
}

func (g *CardGateway) CreateEvidenceFile(ctx context.Context, params ports.FileParams) (*ports.GatewayFile, error) {
	if err := g.enter(OpCreateFile); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return &ports.GatewayFile{ID: g.nextID("file"), Size: int64(len(params.Data))}, nil
}

func (g *CardGateway) CreateCustomer(ctx context.Context, userID, idempotencyKey string) (string, error) {
	if err := g.enter(OpCreateCustomer); err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if id, ok := g.byKey[OpCreateCustomer+idempotencyKey]; ok && idempotencyKey != "" {
		return id, nil
	}
	id := g.nextID("cus")
	g.customers[id] = userID
	g.byKey[OpCreateCustomer+idempotencyKey] = id
	return id, nil
}

// PutPaymentMethod seeds a tokenized card that can be attached.
func (g *CardGateway) PutPaymentMethod(pm *ports.GatewayPaymentMethod) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := *pm
	g.methods[pm.ID] = &out
}

func (g *CardGateway) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) (*ports.GatewayPaymentMethod, error) {
	if err := g.enter(OpAttachPM); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	pm, ok := g.methods[paymentMethodID]
	if !ok {
		pm = &ports.GatewayPaymentMethod{ID: paymentMethodID, Brand: "visa", Last4: "4242", ExpMonth: 12, ExpYear: 2030}
		g.methods[paymentMethodID] = pm
	}
	pm.CustomerID = customerID
	out := *pm
	return &out, nil
}

func (g *CardGateway) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	if err := g.enter(OpDetachPM); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if pm, ok := g.methods[paymentMethodID]; ok {
		pm.CustomerID = ""
	}
	return nil
}

// WalletGateway is an in-memory redirect/capture provider.
type WalletGateway struct {
	callLog

	mu     sync.Mutex
	seq    int
	orders map[string]*ports.WalletOrder
	byKey  map[string]string

	// CaptureStatus is the capture status produced by CaptureOrder. Defaults to COMPLETED.
	CaptureStatus string
}

// NewWalletGateway creates an empty fake.
func NewWalletGateway() *WalletGateway {
	return &WalletGateway{
		orders: make(map[string]*ports.WalletOrder),
		byKey:  make(map[string]string),
	}
}

// Order returns a copy of a provider order.
func (w *WalletGateway) Order(id string) *ports.WalletOrder {
	w.mu.Lock()
	defer w.mu.Unlock()
	if o, ok := w.orders[id]; ok {
		out := *o
		return &out
	}
	return nil
}

// PutOrder seeds or replaces a provider order.
func (w *WalletGateway) PutOrder(o *ports.WalletOrder) {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := *o
	w.orders[o.ID] = &out
}

func (w *WalletGateway) CreateOrder(ctx context.Context, params ports.WalletOrderParams, requestID string) (*ports.WalletOrder, error) {
	if err := w.record(OpCreateOrder); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if id, ok := w.byKey[OpCreateOrder+requestID]; ok && requestID != "" {
		out := *w.orders[id]
		return &out, nil
	}
	w.seq++
	order := &ports.WalletOrder{
		ID:          fmt.Sprintf("WO-%d", w.seq),
		Status:      domain.WalletStatusCreated,
		ReferenceID: params.ReferenceID,
		ApprovalURL: fmt.Sprintf("https://wallet.test/checkoutnow?token=WO-%d", w.seq),
		Amount:      params.Amount,
		Currency:    params.Currency,
	}
	w.orders[order.ID] = order
	w.byKey[OpCreateOrder+requestID] = order.ID
	out := *order
	return &out, nil
}

func (w *WalletGateway) CaptureOrder(ctx context.Context, providerOrderID, requestID string) (*ports.WalletOrder, error) {
	if err := w.record(OpCaptureOrder); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	o, ok := w.orders[providerOrderID]
	if !ok {
		return nil, fmt.Errorf("no such order %s", providerOrderID)
	}
	if o.CaptureID == "" {
		status := w.CaptureStatus
		if status == "" {
			status = domain.WalletStatusCompleted
		}
		w.seq++
		o.CaptureID = fmt.Sprintf("CAP-%d", w.seq)
		o.CaptureStatus = status
		o.Status = domain.WalletStatusCompleted
	}
	out := *o
	return &out, nil
}

func (w *WalletGateway) GetOrder(ctx context.Context, providerOrderID string) (*ports.WalletOrder, error) {
	if err := w.record(OpGetOrder); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	o, ok := w.orders[providerOrderID]
	if !ok {
		return nil, fmt.Errorf("no such order %s", providerOrderID)
	}
	out := *o
	return &out, nil
}

var (
	_ ports.CardGateway   = (*CardGateway)(nil)
	_ ports.WalletGateway = (*WalletGateway)(nil)
)
