// Package queue runs background work on asynq: notification publishing and periodic reconciliation sweeps.
package queue

import (
	"time"

	"github.com/hibiken/asynq"
)

// Task types
const (
	TypePaymentEvent = "payment:event"
	TypeSweepPrefix  = "reconciliation:"
)

// Queue names
const (
	QueueNotifications  = "notifications"
	QueueReconciliation = "reconciliation"
)

// eventRetention keeps completed notification tasks around so a late duplicate publish
// still collides on its task id.
const eventRetention = 72 * time.Hour

// SweepTaskType returns the task type that triggers the named sweep.
func SweepTaskType(sweep string) string {
	return TypeSweepPrefix + sweep
}

// RedisOpt builds the asynq connection option shared by client, scheduler and server.
func RedisOpt(addr, password string, db int) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: addr, Password: password, DB: db}
}
