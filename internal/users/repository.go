package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-retail/internal/rbac"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

const userSelect = `
	SELECT u.id, u.email, u.name, COALESCE(u.chain_id, s.chain_id), u.store_id, u.is_active, u.created_at, u.updated_at
	FROM users u
	LEFT JOIN stores s ON s.id = u.store_id`

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListUsers returns the users within reach ordered by name.
func (r *Repository) ListUsers(ctx context.Context, reach rbac.Reach) ([]User, error) {
	where, args := reachClause(reach)
	rows, err := r.pool.Query(ctx, userSelect+where+` ORDER BY u.name, u.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("users: list: %w", err)
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// GetUser fetches a user by ID.
func (r *Repository) GetUser(ctx context.Context, id int64) (User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, userSelect+` WHERE u.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, shared.NotFound("user", id)
		}
		return User{}, err
	}
	return u, nil
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.ChainID, &u.StoreID, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func reachClause(reach rbac.Reach) (string, []any) {
	if reach.All {
		return "", nil
	}
	conds := []string{"u.id = $1"}
	args := []any{reach.UserID}
	if reach.ChainID != nil {
		args = append(args, *reach.ChainID)
		conds = append(conds, fmt.Sprintf("COALESCE(u.chain_id, s.chain_id) = $%d", len(args)))
	}
	if reach.StoreID != nil {
		args = append(args, *reach.StoreID)
		conds = append(conds, fmt.Sprintf("u.store_id = $%d", len(args)))
	}
	return " WHERE (" + strings.Join(conds, " OR ") + ")", args
}
