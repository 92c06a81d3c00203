// Package fakes provides in-memory repositories that honour the same unique constraints
// and compare-and-set semantics as the Postgres adapters.
package fakes

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
)

// Store holds every table. WithTransaction serializes transactions (standing in for row locks)
// and restores a snapshot when fn fails.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex

	orders    map[string]orderRow
	txns      map[string]txnRow // by gateway intent id
	refunds   map[string]refundRow
	disputes  map[string]disputeRow
	idem      map[idemKey]idemRow
	methods   map[string]methodRow
	customers map[string]string
	webhooks  map[string]webhookRow

	// FailNextTx makes the next WithTransaction return this error without running fn.
	FailNextTx error
	// TxCount counts committed transactions.
	TxCount int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		orders:    make(map[string]orderRow),
		txns:      make(map[string]txnRow),
		refunds:   make(map[string]refundRow),
		disputes:  make(map[string]disputeRow),
		idem:      make(map[idemKey]idemRow),
		methods:   make(map[string]methodRow),
		customers: make(map[string]string),
		webhooks:  make(map[string]webhookRow),
	}
}

type snapshot struct {
	orders    map[string]orderRow
	txns      map[string]txnRow
	refunds   map[string]refundRow
	disputes  map[string]disputeRow
	idem      map[idemKey]idemRow
	methods   map[string]methodRow
	customers map[string]string
	webhooks  map[string]webhookRow
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot{
		orders:    copyMap(s.orders),
		txns:      copyMap(s.txns),
		refunds:   copyMap(s.refunds),
		disputes:  copyMap(s.disputes),
		idem:      copyMap(s.idem),
		methods:   copyMap(s.methods),
		customers: copyMap(s.customers),
		webhooks:  copyMap(s.webhooks),
	}
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = snap.orders
	s.txns = snap.txns
	s.refunds = snap.refunds
	s.disputes = snap.disputes
	s.idem = snap.idem
	s.methods = snap.methods
	s.customers = snap.customers
	s.webhooks = snap.webhooks
}

// WithTransaction implements ports.TransactionManager. fn receives a nil pgx.Tx.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) (err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if s.FailNextTx != nil {
		err, s.FailNextTx = s.FailNextTx, nil
		return err
	}

	snap := s.snapshot()
	defer func() {
		if p := recover(); p != nil {
			s.restore(snap)
			panic(p)
		}
		if err != nil {
			s.restore(snap)
			return
		}
		s.mu.Lock()
		s.TxCount++
		s.mu.Unlock()
	}()
	return fn(ctx, nil)
}

// ErrInjected is a convenience error for FailNextTx.
var ErrInjected = errors.New("injected failure")
