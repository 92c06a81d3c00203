package observability

import (
	"time"

	pkgerrors "github.com/kevin07696/payment-orchestrator/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Gateway call metrics, fed by the resilience executor
	gatewayCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_calls_total",
		Help: "Gateway operations by final outcome",
	}, []string{
		"operation", // card.create_intent, wallet.capture_order, ...
		"outcome",   // success, fatal, exhausted, canceled
	})

	gatewayCallAttempts = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_call_attempts",
		Help:    "Attempts needed per gateway operation",
		Buckets: []float64{1, 2, 3, 4, 5, 8},
	}, []string{"operation"})

	gatewayRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_retries_total",
		Help: "Retried gateway attempts by error category",
	}, []string{"operation", "category"})

	// Payment event metrics
	paymentEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_events_total",
		Help: "Payment events handed to the notification collaborator",
	}, []string{
		"event_type", // payment.succeeded, payment.refunded, ...
		"status",     // published, failed
	})

	// Idempotency ledger metrics
	ledgerOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "idempotency_ledger_outcomes_total",
		Help: "Ledger decisions by operation",
	}, []string{
		"operation",
		"outcome", // begun, replayed, conflict, failed
	})

	// Webhook ingestion metrics
	webhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Gateway webhook events received",
	}, []string{
		"gateway",
		"event_type",
		"outcome", // processed, ignored, failed, rejected
	})

	webhookProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webhook_processing_duration_seconds",
		Help:    "Time to verify and apply a webhook event",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"gateway"})

	// Reconciliation sweep metrics
	sweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciliation_sweep_runs_total",
		Help: "Reconciliation sweep runs",
	}, []string{
		"sweep",
		"outcome", // completed, skipped, failed
	})

	sweepItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciliation_sweep_items_total",
		Help: "Items handled by reconciliation sweeps",
	}, []string{
		"sweep",
		"result", // reconciled, resolved, failed
	})

	sweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reconciliation_sweep_duration_seconds",
		Help:    "Wall time of a reconciliation sweep",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	}, []string{"sweep"})
)

// GatewayObserver plugs the gateway metrics into resilience.Executor.
type GatewayObserver struct{}

// ObserveRetry implements resilience.Observer
func (GatewayObserver) ObserveRetry(operation string, category pkgerrors.ErrorCategory) {
	gatewayRetriesTotal.WithLabelValues(operation, string(category)).Inc()
}

// ObserveOutcome implements resilience.Observer
func (GatewayObserver) ObserveOutcome(operation, outcome string, attempts int) {
	gatewayCallsTotal.WithLabelValues(operation, outcome).Inc()
	gatewayCallAttempts.WithLabelValues(operation).Observe(float64(attempts))
}

// RecordPaymentEvent records a publish attempt for a payment event
func RecordPaymentEvent(eventType, status string) {
	paymentEventsTotal.WithLabelValues(eventType, status).Inc()
}

// RecordLedgerOutcome records an idempotency ledger decision
func RecordLedgerOutcome(operation, outcome string) {
	ledgerOutcomesTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordWebhookEvent records one webhook delivery and how long it took to handle
func RecordWebhookEvent(gateway, eventType, outcome string, duration time.Duration) {
	webhookEventsTotal.WithLabelValues(gateway, eventType, outcome).Inc()
	webhookProcessingDuration.WithLabelValues(gateway).Observe(duration.Seconds())
}

// RecordSweep records a sweep run. Items are counted per result.
func RecordSweep(sweep, outcome string, duration time.Duration, items map[string]int) {
	sweepRunsTotal.WithLabelValues(sweep, outcome).Inc()
	sweepDuration.WithLabelValues(sweep).Observe(duration.Seconds())
	for result, n := range items {
		if n > 0 {
			sweepItemsTotal.WithLabelValues(sweep, result).Add(float64(n))
		}
	}
}
