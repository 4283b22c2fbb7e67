package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// TaskRecord is the asynq task type carrying one audit record.
const TaskRecord = "audit:record"

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueSink hands records to the background worker instead of writing them inline.
type QueueSink struct {
	client Enqueuer
	queue  string
}

// NewQueueSink constructs a QueueSink enqueueing on queue.
func NewQueueSink(client Enqueuer, queue string) *QueueSink {
	return &QueueSink{client: client, queue: queue}
}

// Record implements Sink. The record ID doubles as the task ID so a retried enqueue
// cannot produce a second row.
func (q *QueueSink) Record(ctx context.Context, rec Record) error {
	task, err := NewRecordTask(rec)
	if err != nil {
		return err
	}
	opts := []asynq.Option{asynq.TaskID(rec.ID.String()), asynq.MaxRetry(10), asynq.Retention(24 * time.Hour)}
	if q.queue != "" {
		opts = append(opts, asynq.Queue(q.queue))
	}
	if _, err := q.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("audit: enqueue: %w", err)
	}
	return nil
}

// NewRecordTask wraps rec in an asynq task.
func NewRecordTask(rec Record) (*asynq.Task, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRecord, body), nil
}

// DecodeRecordTask extracts the record carried by t.
func DecodeRecordTask(t *asynq.Task) (Record, error) {
	var rec Record
	if err := json.Unmarshal(t.Payload(), &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}
