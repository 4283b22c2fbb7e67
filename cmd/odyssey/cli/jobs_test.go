package cli

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-retail/jobs"
)

type fakeClient struct {
	tasks []*asynq.Task
}

func (f *fakeClient) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

func (f *fakeClient) Close() error { return nil }

type fakeInspector struct {
	infos map[string]*asynq.QueueInfo
}

func (f *fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	info, ok := f.infos[queue]
	if !ok {
		return nil, errors.New("queue not found")
	}
	return info, nil
}

func (f *fakeInspector) ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return nil, nil
}

func (f *fakeInspector) Close() error { return nil }

func TestTriggerAssignmentExpiry(t *testing.T) {
	client := &fakeClient{}
	c := &JobsCLI{client: client}

	info, err := c.Trigger(context.Background(), jobs.TaskAssignmentExpiry)
	require.NoError(t, err)
	assert.Equal(t, jobs.TaskAssignmentExpiry, info.Type)
	require.Len(t, client.tasks, 1)

	_, err = c.Trigger(context.Background(), "analytics:warmup")
	require.ErrorContains(t, err, "unsupported job")
	assert.Len(t, client.tasks, 1)
}

func TestInspectQueues(t *testing.T) {
	c := &JobsCLI{inspector: &fakeInspector{infos: map[string]*asynq.QueueInfo{
		jobs.QueueAudit:   {Queue: jobs.QueueAudit, Pending: 4, Retry: 1},
		jobs.QueueDefault: {Queue: jobs.QueueDefault, Scheduled: 2},
	}}}

	stats, err := c.InspectQueues(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, QueueStats{Queue: jobs.QueueAudit, Pending: 4, Retry: 1}, stats[0])
	assert.Equal(t, QueueStats{Queue: jobs.QueueDefault, Scheduled: 2}, stats[1])
}

func TestInspectQueuesMissing(t *testing.T) {
	c := &JobsCLI{inspector: &fakeInspector{infos: map[string]*asynq.QueueInfo{}}}
	_, err := c.InspectQueues(context.Background())
	require.ErrorContains(t, err, "inspect audit")
}

func TestNilCLI(t *testing.T) {
	var c *JobsCLI
	_, err := c.Trigger(context.Background(), jobs.TaskAssignmentExpiry)
	require.Error(t, err)
}
