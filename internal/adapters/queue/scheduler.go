package queue

import (
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// SweepSchedule binds one sweep to a cron spec.
type SweepSchedule struct {
	Sweep   string
	Cron    string
	Timeout time.Duration
}

// Scheduler enqueues sweep tasks on their cron specs.
type Scheduler struct {
	scheduler *asynq.Scheduler
	logger    *zap.Logger
}

// NewScheduler creates an asynq scheduler in UTC.
func NewScheduler(redisOpt asynq.RedisClientOpt, logger *zap.Logger) *Scheduler {
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Location: time.UTC,
		LogLevel: asynq.WarnLevel,
	})
	return &Scheduler{scheduler: scheduler, logger: logger}
}

// Register adds every schedule. Sweeps are not retried by asynq; the next tick is the retry.
func (s *Scheduler) Register(schedules []SweepSchedule) error {
	for _, sched := range schedules {
		if sched.Cron == "" {
			continue
		}
		timeout := sched.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Minute
		}
		task := asynq.NewTask(SweepTaskType(sched.Sweep), nil)
		entryID, err := s.scheduler.Register(sched.Cron, task,
			asynq.Queue(QueueReconciliation),
			asynq.MaxRetry(0),
			asynq.Timeout(timeout),
			asynq.Unique(timeout),
		)
		if err != nil {
			return fmt.Errorf("register sweep %s (%s): %w", sched.Sweep, sched.Cron, err)
		}
		s.logger.Info("Registered reconciliation sweep",
			zap.String("sweep", sched.Sweep),
			zap.String("cron", sched.Cron),
			zap.String("entry_id", entryID),
		)
	}
	return nil
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() error {
	return s.scheduler.Start()
}

// Shutdown stops the scheduler.
func (s *Scheduler) Shutdown() {
	s.scheduler.Shutdown()
}
