package resilience

import (
	"context"
	"fmt"
	"time"

	pkgerrors "github.com/kevin07696/payment-orchestrator/pkg/errors"
	"go.uber.org/zap"
)

// RetryPolicy is the static retry strategy injected into an Executor.
// Retryable maps every error category to whether another attempt can help.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     BackoffStrategy
	Retryable   map[pkgerrors.ErrorCategory]bool
}

// DefaultRetryPolicy retries transient gateway failures up to 3 attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     GatewayBackoff(),
		Retryable:   DefaultRetryTable(),
	}
}

// DefaultRetryTable is the binary classification of gateway error categories.
func DefaultRetryTable() map[pkgerrors.ErrorCategory]bool {
	return map[pkgerrors.ErrorCategory]bool{
		pkgerrors.CategoryNetworkError:   true,
		pkgerrors.CategoryAPIError:       true,
		pkgerrors.CategoryRateLimited:    true,
		pkgerrors.CategoryAuthentication: false,
		pkgerrors.CategoryInvalidRequest: false,
		pkgerrors.CategoryCardDeclined:   false,
		pkgerrors.CategoryIdempotency:    false,
		pkgerrors.CategoryCanceled:       false,
		pkgerrors.CategoryUnknown:        false,
	}
}

// Classify returns err's category and whether the policy retries it.
// Categories missing from the table are fatal.
func (p RetryPolicy) Classify(err error) (pkgerrors.ErrorCategory, bool) {
	category := pkgerrors.Classify(err)
	return category, p.Retryable[category]
}

// RetryExhaustedError is returned when every attempt failed with a retryable error.
type RetryExhaustedError struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Operation, e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// Observer receives executor outcomes, typically prometheus counters.
type Observer interface {
	ObserveRetry(operation string, category pkgerrors.ErrorCategory)
	ObserveOutcome(operation, outcome string, attempts int)
}

type nopObserver struct{}

func (nopObserver) ObserveRetry(string, pkgerrors.ErrorCategory) {}
func (nopObserver) ObserveOutcome(string, string, int)           {}

// Executor wraps single outbound gateway calls in a bounded retry envelope.
// It knows nothing about what the call does.
type Executor struct {
	policy   RetryPolicy
	logger   *zap.Logger
	observer Observer
	sleep    func(ctx context.Context, d time.Duration) error
}

// ExecutorOption customizes an Executor.
type ExecutorOption func(*Executor)

// WithObserver attaches metrics.
func WithObserver(o Observer) ExecutorOption {
	return func(e *Executor) { e.observer = o }
}

// WithSleeper replaces the backoff wait, mainly for tests.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) ExecutorOption {
	return func(e *Executor) { e.sleep = fn }
}

// NewExecutor creates an executor for the given policy.
func NewExecutor(policy RetryPolicy, logger *zap.Logger, opts ...ExecutorOption) *Executor {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.Backoff == nil {
		policy.Backoff = GatewayBackoff()
	}
	if policy.Retryable == nil {
		policy.Retryable = DefaultRetryTable()
	}
	e := &Executor{
		policy:   policy,
		logger:   logger,
		observer: nopObserver{},
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the executor's retry policy.
func (e *Executor) Policy() RetryPolicy {
	return e.policy
}

// Run calls fn until it succeeds, fails fatally, or the attempt budget is spent.
func (e *Executor) Run(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			e.observer.ObserveOutcome(operation, "success", attempt)
			return nil
		}
		lastErr = err

		// The caller gave up; nothing to retry for.
		if ctxErr := ctx.Err(); ctxErr != nil {
			e.observer.ObserveOutcome(operation, "canceled", attempt)
			return err
		}

		category, retryable := e.policy.Classify(err)
		if !retryable {
			e.observer.ObserveOutcome(operation, "fatal", attempt)
			e.logger.Debug("Gateway operation failed with non-retryable error",
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
				zap.String("category", string(category)),
				zap.Error(err),
			)
			return err
		}

		if attempt == e.policy.MaxAttempts {
			break
		}

		delay := e.policy.Backoff.NextDelay(attempt - 1)
		e.observer.ObserveRetry(operation, category)
		e.logger.Warn("Retrying gateway operation",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", e.policy.MaxAttempts),
			zap.Duration("delay", delay),
			zap.String("category", string(category)),
			zap.Error(err),
		)

		if err := e.sleep(ctx, delay); err != nil {
			e.observer.ObserveOutcome(operation, "canceled", attempt)
			return &RetryExhaustedError{Operation: operation, Attempts: attempt, Err: lastErr}
		}
	}

	e.observer.ObserveOutcome(operation, "exhausted", e.policy.MaxAttempts)
	e.logger.Error("Gateway operation failed after retries",
		zap.String("operation", operation),
		zap.Int("attempts", e.policy.MaxAttempts),
		zap.Error(lastErr),
	)
	return &RetryExhaustedError{Operation: operation, Attempts: e.policy.MaxAttempts, Err: lastErr}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
