package rbac

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/odyssey-erp/odyssey-retail/internal/audit"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Store defines the persistence the assignment service needs.
type Store interface {
	GetRole(ctx context.Context, id int64) (Role, error)
	StoreChain(ctx context.Context, storeID int64) (int64, error)
	ListAssignments(ctx context.Context, userID int64) ([]Assignment, error)
	GetAssignment(ctx context.Context, id int64) (Assignment, error)
	CreateAssignment(ctx context.Context, draft AssignmentDraft) (Assignment, error)
	DeactivateAssignment(ctx context.Context, id int64) (Assignment, error)
	ExpireAssignments(ctx context.Context, now time.Time) ([]Assignment, error)
}

// Service grants and revokes role assignments.
type Service struct {
	store    Store
	resolver *Resolver
	guard    *Guard
	audit    *audit.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs a Service.
func NewService(store Store, resolver *Resolver, guard *Guard, recorder *audit.Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, resolver: resolver, guard: guard, audit: recorder, logger: logger, now: time.Now}
}

// AssignRole grants a role to a user inside the given chain or store. The grantee's
// cached permissions are dropped before the call returns.
func (s *Service) AssignRole(ctx context.Context, actor Principal, in AssignInput) (assignment Assignment, err error) {
	defer func() {
		s.audit.Record(ctx, audit.Entry{
			ActorID:      actor.ID,
			Action:       "rbac.assign",
			ResourceType: "role_assignment",
			ResourceID:   auditID(assignment.ID),
			After:        assignmentSnapshot(assignment, in),
			Err:          err,
		})
	}()

	role, err := s.store.GetRole(ctx, in.RoleID)
	if err != nil {
		return Assignment{}, err
	}
	if err := validateScope(role.Level, in.ChainID, in.StoreID); err != nil {
		return Assignment{}, err
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(s.now()) {
		return Assignment{}, shared.Validation("expires_at", "expiry must be in the future")
	}
	target, err := s.target(ctx, in.ChainID, in.StoreID, role.Level)
	if err != nil {
		return Assignment{}, err
	}
	if err := s.authorize(ctx, actor, target); err != nil {
		return Assignment{}, err
	}

	assignment, err = s.store.CreateAssignment(ctx, AssignmentDraft{
		UserID:    in.UserID,
		RoleID:    in.RoleID,
		ChainID:   in.ChainID,
		StoreID:   in.StoreID,
		ExpiresAt: in.ExpiresAt,
		GrantedBy: actor.ID,
	})
	if err != nil {
		return Assignment{}, err
	}
	s.invalidate(ctx, assignment.UserID)
	return assignment, nil
}

// RevokeAssignment deactivates an assignment.
func (s *Service) RevokeAssignment(ctx context.Context, actor Principal, id int64) (assignment Assignment, err error) {
	var before Assignment
	defer func() {
		s.audit.Record(ctx, audit.Entry{
			ActorID:      actor.ID,
			Action:       "rbac.revoke",
			ResourceType: "role_assignment",
			ResourceID:   auditID(id),
			Before:       before,
			After:        assignment,
			Err:          err,
		})
	}()

	before, err = s.store.GetAssignment(ctx, id)
	if err != nil {
		return Assignment{}, err
	}
	if !before.IsActive {
		return Assignment{}, shared.Conflict("assignment_inactive", "assignment already revoked")
	}
	target, err := s.target(ctx, before.ChainID, before.StoreID, before.Level)
	if err != nil {
		return Assignment{}, err
	}
	if err := s.authorize(ctx, actor, target); err != nil {
		return Assignment{}, err
	}
	assignment, err = s.store.DeactivateAssignment(ctx, id)
	if err != nil {
		return Assignment{}, err
	}
	s.invalidate(ctx, assignment.UserID)
	return assignment, nil
}

// ListAssignments returns the assignments of userID. Users may always list their own;
// listing others requires assign_roles.
func (s *Service) ListAssignments(ctx context.Context, actor Principal, userID int64) ([]Assignment, error) {
	if actor.ID != userID {
		subject, err := s.resolver.Subject(ctx, actor)
		if err != nil {
			return nil, err
		}
		if !subject.IsGlobal() && !subject.Permissions.Has(shared.PermAssignRoles) {
			return nil, shared.Forbidden(string(AxisPermission), "view assignments denied")
		}
	}
	return s.store.ListAssignments(ctx, userID)
}

// ExpireDue deactivates every assignment whose expiry has passed and drops the cached
// permissions of each affected user. It returns the number of expired assignments.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	expired, err := s.store.ExpireAssignments(ctx, s.now())
	if err != nil {
		return 0, err
	}
	seen := make(map[int64]struct{}, len(expired))
	for _, a := range expired {
		if _, ok := seen[a.UserID]; !ok {
			seen[a.UserID] = struct{}{}
			s.invalidate(ctx, a.UserID)
		}
		s.audit.Record(ctx, audit.Entry{
			Action:       "rbac.expire",
			ResourceType: "role_assignment",
			ResourceID:   auditID(a.ID),
			After:        a,
		})
	}
	return len(expired), nil
}

// WithClock overrides the clock for deterministic tests.
func (s *Service) WithClock(clock func() time.Time) {
	if s != nil && clock != nil {
		s.now = clock
	}
}

func (s *Service) authorize(ctx context.Context, actor Principal, target Target) error {
	subject, err := s.resolver.Subject(ctx, actor)
	if err != nil {
		return err
	}
	return s.guard.Evaluate(subject, target, ModeAssign).Err(ModeAssign)
}

// target derives the chain of a store-scoped grant from the store itself.
func (s *Service) target(ctx context.Context, chainID, storeID *int64, level Level) (Target, error) {
	t := Target{ChainID: chainID, StoreID: storeID, RoleLevel: level}
	if storeID == nil {
		return t, nil
	}
	chain, err := s.store.StoreChain(ctx, *storeID)
	if err != nil {
		return Target{}, err
	}
	if chainID != nil && *chainID != chain {
		return Target{}, shared.Validation("assignment_scope", "store does not belong to chain")
	}
	t.ChainID = &chain
	return t, nil
}

func (s *Service) invalidate(ctx context.Context, userID int64) {
	if err := s.resolver.Invalidate(ctx, userID); err != nil {
		s.logger.Warn("rbac invalidate permissions", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

func validateScope(level Level, chainID, storeID *int64) error {
	switch level {
	case LevelGlobal:
		if chainID != nil || storeID != nil {
			return shared.Validation("assignment_scope", "global roles take no chain or store")
		}
	case LevelChain:
		if chainID == nil || storeID != nil {
			return shared.Validation("assignment_scope", "chain roles require chain_id only")
		}
	case LevelStore:
		if storeID == nil {
			return shared.Validation("assignment_scope", "store roles require store_id")
		}
	default:
		return shared.Validation("role_level", "role carries an invalid level")
	}
	return nil
}

func assignmentSnapshot(a Assignment, in AssignInput) any {
	if a.ID != 0 {
		return a
	}
	return in
}

func auditID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}
