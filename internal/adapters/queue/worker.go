package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// SweepRunner executes a named sweep.
type SweepRunner interface {
	Trigger(ctx context.Context, sweep string) error
}

// Worker consumes reconciliation tasks.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

// NewWorker creates an asynq server for the given sweeps.
func NewWorker(redisOpt asynq.RedisClientOpt, concurrency int, runner SweepRunner, sweeps []string, logger *zap.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = 2
	}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueReconciliation: 1,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error("Reconciliation task failed",
				zap.String("task_type", task.Type()),
				zap.Error(err),
			)
		}),
		LogLevel: asynq.WarnLevel,
	})
	return &Worker{
		server: server,
		mux:    NewSweepMux(runner, sweeps, logger),
		logger: logger,
	}
}

// NewSweepMux routes each sweep task type to the runner.
func NewSweepMux(runner SweepRunner, sweeps []string, logger *zap.Logger) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	for _, sweep := range sweeps {
		mux.HandleFunc(SweepTaskType(sweep), sweepHandler(runner, logger))
	}
	return mux
}

func sweepHandler(runner SweepRunner, logger *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		sweep := strings.TrimPrefix(task.Type(), TypeSweepPrefix)
		logger.Debug("Running scheduled sweep", zap.String("sweep", sweep))
		if err := runner.Trigger(ctx, sweep); err != nil {
			return fmt.Errorf("sweep %s: %w", sweep, err)
		}
		return nil
	}
}

// Start begins processing in the background.
func (w *Worker) Start() error {
	w.logger.Info("Starting reconciliation worker")
	return w.server.Start(w.mux)
}

// Shutdown waits for in-progress tasks and stops the server.
func (w *Worker) Shutdown() {
	w.server.Shutdown()
	w.logger.Info("Reconciliation worker stopped")
}
