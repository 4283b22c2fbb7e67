package jobs

import (
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-retail/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueAudit carries audit records written off the request path.
	QueueAudit = "audit"

	// TaskAssignmentExpiry sweeps role assignments past their expiry.
	TaskAssignmentExpiry = "rbac:assignments:expire"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Queues returns the queue weights served by the worker. Audit delivery is weighted
// above housekeeping.
func Queues() map[string]int {
	return map[string]int{
		QueueAudit:   3,
		QueueDefault: 1,
	}
}

// NewAssignmentExpiryTask builds the assignment sweep task. The sweep takes no payload.
func NewAssignmentExpiryTask() *asynq.Task {
	return asynq.NewTask(TaskAssignmentExpiry, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(3))
}
