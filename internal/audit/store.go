package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists audit records in audit_logs.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Record inserts rec. Re-delivery of the same record ID is ignored.
func (s *Store) Record(ctx context.Context, rec Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (id, actor_id, action, resource_type, resource_id, outcome, reason, before, after, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.ActorID, rec.Action, rec.ResourceType, rec.ResourceID, string(rec.Outcome),
		rec.Reason, jsonOrNil(rec.Before), jsonOrNil(rec.After), rec.At)
	if err != nil {
		return fmt.Errorf("audit: insert record: %w", err)
	}
	return nil
}

// TimelineWindow returns one window of records, newest first.
func (s *Store) TimelineWindow(ctx context.Context, q TimelineQuery) ([]Record, error) {
	where, args := timelineWhere(q)
	args = append(args, q.Limit, q.Offset)
	sql := fmt.Sprintf(`SELECT %s FROM audit_logs %s ORDER BY occurred_at DESC, id LIMIT $%d OFFSET $%d`,
		recordColumns, where, len(args)-1, len(args))
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: timeline: %w", err)
	}
	return collectRecords(rows)
}

// TimelineAll returns every matching record, newest first.
func (s *Store) TimelineAll(ctx context.Context, q TimelineQuery) ([]Record, error) {
	where, args := timelineWhere(q)
	rows, err := s.pool.Query(ctx, `SELECT `+recordColumns+` FROM audit_logs `+where+` ORDER BY occurred_at DESC, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: timeline export: %w", err)
	}
	return collectRecords(rows)
}

const recordColumns = `id, actor_id, action, resource_type, resource_id, outcome, reason, before, after, occurred_at`

func timelineWhere(q TimelineQuery) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if !q.From.IsZero() {
		add("occurred_at >= $%d", q.From)
	}
	if !q.To.IsZero() {
		add("occurred_at < $%d", q.To)
	}
	if q.ActorID > 0 {
		add("actor_id = $%d", q.ActorID)
	}
	if q.ResourceType != "" {
		add("resource_type = $%d", q.ResourceType)
	}
	if q.ResourceID != "" {
		add("resource_id = $%d", q.ResourceID)
	}
	if q.Action != "" {
		add("action = $%d", q.Action)
	}
	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func collectRecords(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var (
			rec           Record
			outcome       string
			before, after []byte
			at            time.Time
		)
		if err := rows.Scan(&rec.ID, &rec.ActorID, &rec.Action, &rec.ResourceType, &rec.ResourceID, &outcome, &rec.Reason, &before, &after, &at); err != nil {
			return nil, err
		}
		rec.Outcome = Outcome(outcome)
		rec.Before = before
		rec.After = after
		rec.At = at.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func jsonOrNil(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
