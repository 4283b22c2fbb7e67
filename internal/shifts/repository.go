package shifts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-retail/internal/rbac"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

const shiftColumns = `s.id, s.code, s.store_id, st.chain_id, s.user_id, s.status, s.opening_cash,
	s.closing_cash, s.expected_cash, s.cash_difference, s.total_sales, s.total_refunds,
	s.total_orders, s.note, s.opened_at, s.closed_at, s.closed_by, s.created_at, s.updated_at`

// PgRepository provides PostgreSQL backed shift persistence.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// FindOpenShiftForUser returns the open shift of a user, or nil.
func (r *PgRepository) FindOpenShiftForUser(ctx context.Context, userID int64) (*Shift, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts s JOIN stores st ON st.id = s.store_id
		WHERE s.user_id = $1 AND s.status = 'OPEN'`, userID)
	shift, err := scanShift(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("shifts: find open: %w", err)
	}
	return &shift, nil
}

// CreateShift inserts an OPEN shift in a single statement. The partial unique index on
// open shifts decides concurrent opens for the same user; any unique violation on the
// insert is reported as ErrAlreadyOpen, since the code is unique per open.
func (r *PgRepository) CreateShift(ctx context.Context, draft Draft) (Shift, error) {
	row := r.pool.QueryRow(ctx, `
		WITH s AS (
			INSERT INTO shifts (code, store_id, user_id, status, opening_cash, note, opened_at)
			VALUES ($1, $2, $3, 'OPEN', $4, $5, $6)
			RETURNING *
		)
		SELECT `+shiftColumns+`
		FROM s JOIN stores st ON st.id = s.store_id`,
		draft.Code, draft.StoreID, draft.UserID, draft.OpeningCash, draft.Note, draft.OpenedAt)
	shift, err := scanShift(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Shift{}, ErrAlreadyOpen
		}
		return Shift{}, fmt.Errorf("shifts: create: %w", err)
	}
	return shift, nil
}

// UpdateShiftOnClose moves an OPEN shift to CLOSED. The reconciliation reads the row
// being updated, so totals added concurrently are either in it or rejected as closed.
func (r *PgRepository) UpdateShiftOnClose(ctx context.Context, id int64, fields CloseFields) (Shift, error) {
	row := r.pool.QueryRow(ctx, `
		WITH s AS (
			UPDATE shifts
			SET status = 'CLOSED', closing_cash = $2,
			    expected_cash = opening_cash + total_sales - total_refunds,
			    cash_difference = $2 - (opening_cash + total_sales - total_refunds),
			    note = COALESCE($3, note), closed_at = $4, closed_by = $5, updated_at = NOW()
			WHERE id = $1 AND status = 'OPEN'
			RETURNING *
		)
		SELECT `+shiftColumns+`
		FROM s JOIN stores st ON st.id = s.store_id`,
		id, fields.ClosingCash, fields.Note, fields.ClosedAt, fields.ClosedBy)
	shift, err := scanShift(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Shift{}, r.missingOrClosed(ctx, id)
		}
		return Shift{}, fmt.Errorf("shifts: close: %w", err)
	}
	return shift, nil
}

// FindShiftByID fetches a shift.
func (r *PgRepository) FindShiftByID(ctx context.Context, id int64) (Shift, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts s JOIN stores st ON st.id = s.store_id
		WHERE s.id = $1`, id)
	shift, err := scanShift(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Shift{}, shared.NotFound("shift", id)
		}
		return Shift{}, fmt.Errorf("shifts: get: %w", err)
	}
	return shift, nil
}

// ListShifts returns the shifts within reach matching filter, newest first.
func (r *PgRepository) ListShifts(ctx context.Context, reach rbac.Reach, filter ListFilter) ([]Shift, error) {
	where, args := listWhere(reach, filter)
	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`
		SELECT %s
		FROM shifts s JOIN stores st ON st.id = s.store_id
		%s
		ORDER BY s.opened_at DESC, s.id DESC
		LIMIT $%d OFFSET $%d`, shiftColumns, where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("shifts: list: %w", err)
	}
	defer rows.Close()
	var out []Shift
	for rows.Next() {
		shift, err := scanShift(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, shift)
	}
	return out, rows.Err()
}

// AddTotals accumulates totals on an OPEN shift.
func (r *PgRepository) AddTotals(ctx context.Context, id int64, totals Totals) (Shift, error) {
	row := r.pool.QueryRow(ctx, `
		WITH s AS (
			UPDATE shifts
			SET total_sales = total_sales + $2, total_refunds = total_refunds + $3,
			    total_orders = total_orders + $4, updated_at = NOW()
			WHERE id = $1 AND status = 'OPEN'
			RETURNING *
		)
		SELECT `+shiftColumns+`
		FROM s JOIN stores st ON st.id = s.store_id`,
		id, totals.Sales, totals.Refunds, totals.Orders)
	shift, err := scanShift(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Shift{}, r.missingOrClosed(ctx, id)
		}
		return Shift{}, fmt.Errorf("shifts: add totals: %w", err)
	}
	return shift, nil
}

func (r *PgRepository) missingOrClosed(ctx context.Context, id int64) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM shifts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("shifts: lookup: %w", err)
	}
	if !exists {
		return shared.NotFound("shift", id)
	}
	return ErrAlreadyClosed
}

func scanShift(row pgx.Row) (Shift, error) {
	var s Shift
	var status string
	err := row.Scan(
		&s.ID, &s.Code, &s.StoreID, &s.ChainID, &s.UserID, &status, &s.OpeningCash,
		&s.ClosingCash, &s.ExpectedCash, &s.CashDifference, &s.TotalSales, &s.TotalRefunds,
		&s.TotalOrders, &s.Note, &s.OpenedAt, &s.ClosedAt, &s.ClosedBy, &s.CreatedAt, &s.UpdatedAt,
	)
	s.Status = Status(status)
	return s, err
}

func listWhere(reach rbac.Reach, filter ListFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(format string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(format, len(args)))
	}
	if !reach.All {
		args = append(args, reach.UserID)
		scope := []string{fmt.Sprintf("s.user_id = $%d", len(args))}
		if reach.ChainID != nil {
			args = append(args, *reach.ChainID)
			scope = append(scope, fmt.Sprintf("st.chain_id = $%d", len(args)))
		}
		if reach.StoreID != nil {
			args = append(args, *reach.StoreID)
			scope = append(scope, fmt.Sprintf("s.store_id = $%d", len(args)))
		}
		conds = append(conds, "("+strings.Join(scope, " OR ")+")")
	}
	if filter.Status != "" {
		add("s.status = $%d", string(filter.Status))
	}
	if filter.StoreID != nil {
		add("s.store_id = $%d", *filter.StoreID)
	}
	if filter.UserID != nil {
		add("s.user_id = $%d", *filter.UserID)
	}
	if !filter.From.IsZero() {
		add("s.opened_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("s.opened_at < $%d", filter.To)
	}
	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}
