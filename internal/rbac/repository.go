package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Repository provides PostgreSQL backed persistence for roles, permissions and
// assignments.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const assignmentColumns = `a.id, a.user_id, a.role_id, r.code, r.level, a.chain_id, a.store_id, a.is_active, a.expires_at, a.created_at`

// PermissionsForRole returns the permission codes attached to a role.
func (r *Repository) PermissionsForRole(ctx context.Context, roleID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.code
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.code`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// GetRole fetches a role by ID.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, code, name, description, level, is_system, created_at, updated_at
		FROM roles WHERE id = $1`, id)
	role, err := ScanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.NotFound("role", id)
		}
		return Role{}, err
	}
	return role, nil
}

// ListAssignments returns every assignment of a user, active or not.
func (r *Repository) ListAssignments(ctx context.Context, userID int64) ([]Assignment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+assignmentColumns+`
		FROM role_assignments a
		JOIN roles r ON r.id = a.role_id
		WHERE a.user_id = $1
		ORDER BY a.id`, userID)
	if err != nil {
		return nil, err
	}
	return collectAssignments(rows)
}

// GetAssignment fetches an assignment by ID.
func (r *Repository) GetAssignment(ctx context.Context, id int64) (Assignment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+assignmentColumns+`
		FROM role_assignments a
		JOIN roles r ON r.id = a.role_id
		WHERE a.id = $1`, id)
	a, err := scanAssignment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Assignment{}, shared.NotFound("assignment", id)
		}
		return Assignment{}, err
	}
	return a, nil
}

// CreateAssignment inserts an active assignment.
func (r *Repository) CreateAssignment(ctx context.Context, draft AssignmentDraft) (Assignment, error) {
	row := r.pool.QueryRow(ctx, `
		WITH a AS (
			INSERT INTO role_assignments (user_id, role_id, chain_id, store_id, expires_at, granted_by)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING *
		)
		SELECT `+assignmentColumns+`
		FROM a JOIN roles r ON r.id = a.role_id`,
		draft.UserID, draft.RoleID, draft.ChainID, draft.StoreID, draft.ExpiresAt, nullableID(draft.GrantedBy))
	a, err := scanAssignment(row)
	if err != nil {
		return Assignment{}, fmt.Errorf("rbac: create assignment: %w", err)
	}
	return a, nil
}

// DeactivateAssignment marks an active assignment inactive.
func (r *Repository) DeactivateAssignment(ctx context.Context, id int64) (Assignment, error) {
	row := r.pool.QueryRow(ctx, `
		WITH a AS (
			UPDATE role_assignments SET is_active = FALSE, updated_at = NOW()
			WHERE id = $1 AND is_active
			RETURNING *
		)
		SELECT `+assignmentColumns+`
		FROM a JOIN roles r ON r.id = a.role_id`, id)
	a, err := scanAssignment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Assignment{}, shared.NotFound("assignment", id)
		}
		return Assignment{}, err
	}
	return a, nil
}

// ExpireAssignments deactivates every active assignment whose expiry has passed at now
// and returns them.
func (r *Repository) ExpireAssignments(ctx context.Context, now time.Time) ([]Assignment, error) {
	rows, err := r.pool.Query(ctx, `
		WITH a AS (
			UPDATE role_assignments SET is_active = FALSE, updated_at = NOW()
			WHERE is_active AND expires_at IS NOT NULL AND expires_at <= $1
			RETURNING *
		)
		SELECT `+assignmentColumns+`
		FROM a JOIN roles r ON r.id = a.role_id`, now)
	if err != nil {
		return nil, err
	}
	return collectAssignments(rows)
}

// StoreChain returns the chain a store belongs to.
func (r *Repository) StoreChain(ctx context.Context, storeID int64) (int64, error) {
	var chainID int64
	err := r.pool.QueryRow(ctx, `SELECT chain_id FROM stores WHERE id = $1`, storeID).Scan(&chainID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, shared.NotFound("store", storeID)
		}
		return 0, err
	}
	return chainID, nil
}

// ListPermissions returns the permission catalog ordered by module and code.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, module, description FROM permissions ORDER BY module, code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Code, &p.Module, &p.Description); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// ScanRole reads the role column list id, code, name, description, level, is_system,
// created_at, updated_at.
func ScanRole(row pgx.Row) (Role, error) {
	var role Role
	var level int16
	if err := row.Scan(&role.ID, &role.Code, &role.Name, &role.Description, &level, &role.IsSystem, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return Role{}, err
	}
	role.Level = Level(level)
	return role, nil
}

func scanAssignment(row pgx.Row) (Assignment, error) {
	var a Assignment
	var level int16
	if err := row.Scan(&a.ID, &a.UserID, &a.RoleID, &a.RoleCode, &level, &a.ChainID, &a.StoreID, &a.IsActive, &a.ExpiresAt, &a.CreatedAt); err != nil {
		return Assignment{}, err
	}
	a.Level = Level(level)
	return a, nil
}

func collectAssignments(rows pgx.Rows) ([]Assignment, error) {
	defer rows.Close()
	var out []Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func nullableID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}
