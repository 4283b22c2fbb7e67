package roles

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/odyssey-erp/odyssey-retail/internal/audit"
	"github.com/odyssey-erp/odyssey-retail/internal/rbac"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// ErrSystemRole is returned when an edit would delete or re-rank a system role.
var ErrSystemRole = shared.Forbidden("system_role", "system roles cannot be deleted or re-ranked")

// RepositoryPort defines data access methods for roles.
type RepositoryPort interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (rbac.Role, error)
	// CreateRole stores the role and in.Permissions atomically.
	CreateRole(ctx context.Context, in CreateInput) (rbac.Role, error)
	UpdateRole(ctx context.Context, id int64, in UpdateInput) (rbac.Role, error)
	DeleteRole(ctx context.Context, id int64) error
	SetRolePermissions(ctx context.Context, roleID int64, codes []string) error
	RoleHolders(ctx context.Context, roleID int64) ([]int64, error)
}

// Service handles role business logic.
type Service struct {
	repo     RepositoryPort
	resolver *rbac.Resolver
	audit    *audit.Recorder
	logger   *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, resolver *rbac.Resolver, recorder *audit.Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, resolver: resolver, audit: recorder, logger: logger}
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context, actor rbac.Principal) ([]Role, error) {
	subject, err := s.resolver.Subject(ctx, actor)
	if err != nil {
		return nil, err
	}
	if !subject.IsGlobal() && !subject.Permissions.HasAny(shared.PermRolesView, shared.PermRolesManage) {
		return nil, shared.Forbidden(string(rbac.AxisPermission), "view roles denied")
	}
	return s.repo.ListRoles(ctx)
}

// CreateRole adds a role no more authoritative than the actor's own level.
func (s *Service) CreateRole(ctx context.Context, actor rbac.Principal, in CreateInput) (role rbac.Role, err error) {
	defer func() {
		s.audit.Record(ctx, audit.Entry{ActorID: actor.ID, Action: "role.create", ResourceType: "role", ResourceID: roleID(role.ID), After: in, Err: err})
	}()

	in.Code = strings.ToLower(strings.TrimSpace(in.Code))
	in.Name = strings.TrimSpace(in.Name)
	if in.Code == "" || in.Name == "" {
		return rbac.Role{}, shared.Validation("role", "code and name required")
	}
	if !in.Level.Valid() {
		return rbac.Role{}, shared.Validation("role_level", "level must be 1, 2 or 3")
	}
	in.Permissions = normalizeCodes(in.Permissions)
	subject, err := s.authorize(ctx, actor, in.Level)
	if err != nil {
		return rbac.Role{}, err
	}
	if err := grantable(subject, in.Permissions); err != nil {
		return rbac.Role{}, err
	}
	role, err = s.repo.CreateRole(ctx, in)
	if err != nil {
		return rbac.Role{}, err
	}
	return role, nil
}

// UpdateRole edits a role. System roles keep their level.
func (s *Service) UpdateRole(ctx context.Context, actor rbac.Principal, id int64, in UpdateInput) (role rbac.Role, err error) {
	var before rbac.Role
	defer func() {
		s.audit.Record(ctx, audit.Entry{ActorID: actor.ID, Action: "role.update", ResourceType: "role", ResourceID: roleID(id), Before: before, After: role, Err: err})
	}()

	before, err = s.repo.GetRole(ctx, id)
	if err != nil {
		return rbac.Role{}, err
	}
	if _, err := s.authorize(ctx, actor, before.Level); err != nil {
		return rbac.Role{}, err
	}
	if in.Level != nil && *in.Level != before.Level {
		if before.IsSystem {
			return rbac.Role{}, ErrSystemRole
		}
		if !in.Level.Valid() {
			return rbac.Role{}, shared.Validation("role_level", "level must be 1, 2 or 3")
		}
		if _, err := s.authorize(ctx, actor, *in.Level); err != nil {
			return rbac.Role{}, err
		}
	}
	role, err = s.repo.UpdateRole(ctx, id, in)
	if err != nil {
		return rbac.Role{}, err
	}
	if role.Level != before.Level {
		s.invalidateHolders(ctx, id)
	}
	return role, nil
}

// DeleteRole removes a non-system role without active holders.
func (s *Service) DeleteRole(ctx context.Context, actor rbac.Principal, id int64) (err error) {
	var before rbac.Role
	defer func() {
		s.audit.Record(ctx, audit.Entry{ActorID: actor.ID, Action: "role.delete", ResourceType: "role", ResourceID: roleID(id), Before: before, Err: err})
	}()

	before, err = s.repo.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.authorize(ctx, actor, before.Level); err != nil {
		return err
	}
	if before.IsSystem {
		return ErrSystemRole
	}
	return s.repo.DeleteRole(ctx, id)
}

// SetRolePermissions replaces the permissions of a role and drops the cached
// permissions of every holder before returning.
func (s *Service) SetRolePermissions(ctx context.Context, actor rbac.Principal, id int64, codes []string) (err error) {
	codes = normalizeCodes(codes)
	defer func() {
		s.audit.Record(ctx, audit.Entry{ActorID: actor.ID, Action: "role.permissions", ResourceType: "role", ResourceID: roleID(id), After: codes, Err: err})
	}()

	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return err
	}
	subject, err := s.authorize(ctx, actor, role.Level)
	if err != nil {
		return err
	}
	if err := grantable(subject, codes); err != nil {
		return err
	}
	if err := s.repo.SetRolePermissions(ctx, id, codes); err != nil {
		return err
	}
	s.invalidateHolders(ctx, id)
	return nil
}

func (s *Service) authorize(ctx context.Context, actor rbac.Principal, level rbac.Level) (rbac.Subject, error) {
	subject, err := s.resolver.Subject(ctx, actor)
	if err != nil {
		return rbac.Subject{}, err
	}
	if subject.IsGlobal() {
		return subject, nil
	}
	if !subject.Permissions.Has(shared.PermRolesManage) {
		return rbac.Subject{}, shared.Forbidden(string(rbac.AxisPermission), "manage roles denied")
	}
	if !rbac.CanGrant(subject.Level, level) {
		return rbac.Subject{}, shared.Forbidden(string(rbac.AxisRoleLevel), "role outranks actor")
	}
	return subject, nil
}

// grantable rejects codes the actor does not hold, so a role cannot be used to widen
// the actor's own authority.
func grantable(subject rbac.Subject, codes []string) error {
	for _, code := range codes {
		if !subject.Permissions.Has(code) {
			return shared.Forbidden(string(rbac.AxisPermission), "cannot grant a permission you do not hold: "+code)
		}
	}
	return nil
}

func (s *Service) invalidateHolders(ctx context.Context, id int64) {
	holders, err := s.repo.RoleHolders(ctx, id)
	if err != nil {
		s.logger.Warn("roles: list holders for invalidation", slog.Int64("role_id", id), slog.Any("error", err))
		return
	}
	for _, userID := range holders {
		if err := s.resolver.Invalidate(ctx, userID); err != nil {
			s.logger.Warn("roles: invalidate permissions", slog.Int64("user_id", userID), slog.Any("error", err))
		}
	}
}

func normalizeCodes(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, code := range codes {
		code = strings.ToLower(strings.TrimSpace(code))
		if code == "" {
			continue
		}
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out
}

func roleID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}
