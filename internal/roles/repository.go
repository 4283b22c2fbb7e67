package roles

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-retail/internal/platform/db"
	"github.com/odyssey-erp/odyssey-retail/internal/rbac"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

const roleColumns = `id, code, name, description, level, is_system, created_at, updated_at`

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListRoles returns all roles ordered by level then code.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+roleColumns+`,
			COALESCE((SELECT array_agg(p.code ORDER BY p.code)
			          FROM role_permissions rp JOIN permissions p ON p.id = rp.permission_id
			          WHERE rp.role_id = roles.id), '{}')
		FROM roles
		ORDER BY level, code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Role
	for rows.Next() {
		var (
			role  Role
			level int16
		)
		if err := rows.Scan(&role.ID, &role.Code, &role.Name, &role.Description, &level, &role.IsSystem, &role.CreatedAt, &role.UpdatedAt, &role.Permissions); err != nil {
			return nil, err
		}
		role.Level = rbac.Level(level)
		out = append(out, role)
	}
	return out, rows.Err()
}

// GetRole fetches a role by ID.
func (r *Repository) GetRole(ctx context.Context, id int64) (rbac.Role, error) {
	role, err := rbac.ScanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rbac.Role{}, shared.NotFound("role", id)
		}
		return rbac.Role{}, err
	}
	return role, nil
}

// CreateRole inserts a new role together with its permissions. Nothing is stored when
// a permission code is unknown.
func (r *Repository) CreateRole(ctx context.Context, in CreateInput) (rbac.Role, error) {
	var role rbac.Role
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		role, err = rbac.ScanRole(tx.QueryRow(ctx, `
			INSERT INTO roles (code, name, description, level)
			VALUES ($1, $2, $3, $4)
			RETURNING `+roleColumns, in.Code, in.Name, in.Description, int16(in.Level)))
		if err != nil {
			if isUniqueViolation(err) {
				return shared.Conflict("role_code_taken", fmt.Sprintf("role code %q already exists", in.Code))
			}
			return fmt.Errorf("roles: create: %w", err)
		}
		if len(in.Permissions) == 0 {
			return nil
		}
		return replacePermissions(ctx, tx, role.ID, in.Permissions)
	})
	if err != nil {
		return rbac.Role{}, err
	}
	return role, nil
}

// UpdateRole applies the non-nil fields of in.
func (r *Repository) UpdateRole(ctx context.Context, id int64, in UpdateInput) (rbac.Role, error) {
	var level *int16
	if in.Level != nil {
		v := int16(*in.Level)
		level = &v
	}
	role, err := rbac.ScanRole(r.pool.QueryRow(ctx, `
		UPDATE roles SET
			name = COALESCE($2, name),
			description = COALESCE($3, description),
			level = COALESCE($4, level),
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+roleColumns, id, in.Name, in.Description, level))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rbac.Role{}, shared.NotFound("role", id)
		}
		return rbac.Role{}, fmt.Errorf("roles: update: %w", err)
	}
	return role, nil
}

// DeleteRole removes a role that no active assignment references.
func (r *Repository) DeleteRole(ctx context.Context, id int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var inUse bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM role_assignments WHERE role_id = $1 AND is_active)`, id).Scan(&inUse); err != nil {
			return err
		}
		if inUse {
			return shared.Conflict("role_in_use", "role still has active assignments")
		}
		if _, err := tx.Exec(ctx, `DELETE FROM role_assignments WHERE role_id = $1`, id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return shared.NotFound("role", id)
		}
		return nil
	})
}

// SetRolePermissions replaces the permissions of a role. Unknown codes are rejected.
func (r *Repository) SetRolePermissions(ctx context.Context, roleID int64, codes []string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := replacePermissions(ctx, tx, roleID, codes); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE roles SET updated_at = NOW() WHERE id = $1`, roleID)
		return err
	})
}

func replacePermissions(ctx context.Context, tx pgx.Tx, roleID int64, codes []string) error {
	var known []string
	if err := tx.QueryRow(ctx, `SELECT COALESCE(array_agg(code), '{}') FROM permissions WHERE code = ANY($1)`, codes).Scan(&known); err != nil {
		return err
	}
	if missing := difference(codes, known); len(missing) > 0 {
		return shared.Validation("unknown_permission", "unknown permissions: "+strings.Join(missing, ", "))
	}
	if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO role_permissions (role_id, permission_id)
		SELECT $1, id FROM permissions WHERE code = ANY($2)`, roleID, codes)
	return err
}

// RoleHolders returns the users holding an active assignment of a role.
func (r *Repository) RoleHolders(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT user_id FROM role_assignments WHERE role_id = $1 AND is_active ORDER BY user_id`, roleID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func difference(want, have []string) []string {
	seen := make(map[string]struct{}, len(have))
	for _, code := range have {
		seen[code] = struct{}{}
	}
	var missing []string
	for _, code := range want {
		if _, ok := seen[code]; !ok {
			missing = append(missing, code)
		}
	}
	return missing
}
