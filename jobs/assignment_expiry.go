package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-retail/internal/jobs"
)

// AssignmentExpirer deactivates due role assignments and reports how many it expired.
type AssignmentExpirer interface {
	ExpireDue(ctx context.Context) (int, error)
}

// AssignmentExpiryJob deactivates role assignments whose expiry passed and drops the
// cached permissions of the affected users.
type AssignmentExpiryJob struct {
	Service AssignmentExpirer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewAssignmentExpiryJob constructs the job handler.
func NewAssignmentExpiryJob(service AssignmentExpirer, logger *slog.Logger, metrics *jobmetrics.Metrics) *AssignmentExpiryJob {
	return &AssignmentExpiryJob{
		Service: service,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle runs one sweep.
func (j *AssignmentExpiryJob) Handle(ctx context.Context, _ *asynq.Task) (resultErr error) {
	if j == nil || j.Service == nil {
		return errors.New("assignment expiry: dependencies not configured")
	}
	tracker := j.metrics().Track(TaskAssignmentExpiry)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := j.now()
	expired, err := j.Service.ExpireDue(ctx)
	if err != nil {
		j.log().Error("expire assignments", slog.Any("error", err))
		return err
	}
	tracker.Items(expired)
	if expired > 0 {
		j.log().Info("expired role assignments", slog.Int("count", expired), slog.Duration("duration", j.now().Sub(start)))
	}
	return nil
}

func (j *AssignmentExpiryJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *AssignmentExpiryJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAssignmentExpiry))
	}
	return slog.Default().With(slog.String("job", TaskAssignmentExpiry))
}

func (j *AssignmentExpiryJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *AssignmentExpiryJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
