package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Outcome classifies what happened to an audited action.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeDenied   Outcome = "denied"
	OutcomeRejected Outcome = "rejected"
)

// Record is one audit entry. Before and After hold JSON snapshots of the resource.
type Record struct {
	ID           uuid.UUID       `json:"id"`
	ActorID      int64           `json:"actor_id"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	Outcome      Outcome         `json:"outcome"`
	Reason       string          `json:"reason,omitempty"`
	Before       json.RawMessage `json:"before,omitempty"`
	After        json.RawMessage `json:"after,omitempty"`
	At           time.Time       `json:"at"`
}

// Sink delivers audit records.
type Sink interface {
	Record(ctx context.Context, rec Record) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, rec Record) error

// Record implements Sink.
func (f SinkFunc) Record(ctx context.Context, rec Record) error { return f(ctx, rec) }

// Entry is the caller-facing description of an audited action.
type Entry struct {
	ActorID      int64
	Action       string
	ResourceType string
	ResourceID   string
	Before       any
	After        any
	// Err is the error the action failed with, if any.
	Err error
}

// Recorder fills in record metadata and delivers entries best-effort. Delivery
// failures are logged and never returned. A nil Recorder discards everything.
type Recorder struct {
	sink   Sink
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder constructs a Recorder writing to sink.
func NewRecorder(sink Sink, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{sink: sink, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the clock for deterministic tests.
func (r *Recorder) WithClock(clock func() time.Time) {
	if r != nil && clock != nil {
		r.now = clock
	}
}

// Record delivers e.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	if r == nil || r.sink == nil {
		return
	}
	rec := Record{
		ID:           uuid.New(),
		ActorID:      e.ActorID,
		Action:       e.Action,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		Outcome:      OutcomeSuccess,
		Before:       r.snapshot(e.Before),
		After:        r.snapshot(e.After),
		At:           r.now(),
	}
	if e.Err != nil {
		rec.Outcome = outcomeOf(e.Err)
		rec.Reason = e.Err.Error()
	}
	if err := r.sink.Record(ctx, rec); err != nil {
		r.logger.Warn("audit delivery failed",
			slog.String("action", rec.Action),
			slog.String("resource_type", rec.ResourceType),
			slog.String("resource_id", rec.ResourceID),
			slog.Any("error", err))
	}
}

func (r *Recorder) snapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	raw, err := json.Marshal(v)
	if err != nil {
		r.logger.Warn("audit snapshot encode", slog.Any("error", err))
		return nil
	}
	return raw
}

func outcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, shared.ErrForbidden), errors.Is(err, shared.ErrUnauthenticated):
		return OutcomeDenied
	}
	return OutcomeRejected
}
