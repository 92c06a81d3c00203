// Package mocks provides testify mocks for the outbound collaborators.
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/kevin07696/payment-orchestrator/internal/domain"
	"github.com/stretchr/testify/mock"
)

// MockNotifier mocks ports.Notifier.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Publish(ctx context.Context, event domain.PaymentEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// RecordingNotifier collects published events, collapsing duplicates by DedupeKey
// the way the queue-backed notifier does.
type RecordingNotifier struct {
	mu     sync.Mutex
	seen   map[string]bool
	Events []domain.PaymentEvent
}

func (r *RecordingNotifier) Publish(ctx context.Context, event domain.PaymentEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = make(map[string]bool)
	}
	if r.seen[event.DedupeKey()] {
		return nil
	}
	r.seen[event.DedupeKey()] = true
	r.Events = append(r.Events, event)
	return nil
}

// OfType returns the recorded events of type t.
func (r *RecordingNotifier) OfType(t domain.PaymentEventType) []domain.PaymentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.PaymentEvent
	for _, e := range r.Events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// MockEvidenceArchive mocks ports.EvidenceArchive.
type MockEvidenceArchive struct {
	mock.Mock
}

func (m *MockEvidenceArchive) Store(ctx context.Context, disputeID, fileName, contentType string, data []byte) (string, error) {
	args := m.Called(ctx, disputeID, fileName, contentType, data)
	return args.String(0), args.Error(1)
}

// MockSweepLocker mocks ports.SweepLocker.
type MockSweepLocker struct {
	mock.Mock
}

func (m *MockSweepLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, bool, error) {
	args := m.Called(ctx, name, ttl)
	unlock, _ := args.Get(0).(func(context.Context) error)
	return unlock, args.Bool(1), args.Error(2)
}
