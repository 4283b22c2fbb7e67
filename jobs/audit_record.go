package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-retail/internal/audit"
	jobmetrics "github.com/odyssey-erp/odyssey-retail/internal/jobs"
)

// AuditWriter persists one audit record idempotently.
type AuditWriter interface {
	Record(ctx context.Context, rec audit.Record) error
}

// AuditRecordJob writes queued audit records to the audit log.
type AuditRecordJob struct {
	Store   AuditWriter
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAuditRecordJob constructs the job handler.
func NewAuditRecordJob(store AuditWriter, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditRecordJob {
	return &AuditRecordJob{Store: store, Logger: logger, Metrics: metrics}
}

// Handle writes the carried record. Undecodable payloads are dropped without retry;
// store failures are retried by asynq.
func (j *AuditRecordJob) Handle(ctx context.Context, task *asynq.Task) (resultErr error) {
	if j == nil || j.Store == nil {
		return errors.New("audit record: dependencies not configured")
	}
	tracker := j.metrics().Track(audit.TaskRecord)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	rec, err := audit.DecodeRecordTask(task)
	if err != nil {
		j.log().Error("decode audit record", slog.Any("error", err))
		return fmt.Errorf("audit record: decode: %v: %w", err, asynq.SkipRetry)
	}
	if err := j.Store.Record(ctx, rec); err != nil {
		j.log().Warn("write audit record",
			slog.String("id", rec.ID.String()),
			slog.String("action", rec.Action),
			slog.Any("error", err))
		return err
	}
	return nil
}

func (j *AuditRecordJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *AuditRecordJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", audit.TaskRecord))
	}
	return slog.Default().With(slog.String("job", audit.TaskRecord))
}
