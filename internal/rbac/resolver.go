package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// PermissionLookup returns the permission codes attached to a role.
type PermissionLookup interface {
	PermissionsForRole(ctx context.Context, roleID int64) ([]string, error)
}

// CachedPermissions is the memoised resolution of one user. Fingerprint identifies the
// assignment set the codes were computed from.
type CachedPermissions struct {
	Fingerprint string   `json:"fingerprint"`
	Codes       []string `json:"codes"`
}

// PermissionCache memoises resolver output keyed by user id. Implementations may be
// unavailable at any time; the resolver then computes from the lookup directly.
type PermissionCache interface {
	Get(ctx context.Context, userID int64) (CachedPermissions, bool, error)
	Set(ctx context.Context, userID int64, entry CachedPermissions) error
	Invalidate(ctx context.Context, userID int64) error
}

// Resolver computes effective permission sets.
type Resolver struct {
	lookup PermissionLookup
	cache  PermissionCache
	logger *slog.Logger
	group  singleflight.Group
	now    func() time.Time
}

// NewResolver constructs a Resolver. cache may be nil.
func NewResolver(lookup PermissionLookup, cache PermissionCache, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{lookup: lookup, cache: cache, logger: logger, now: time.Now}
}

// Resolve returns the effective permissions of p, served from the cache when the cached
// entry was computed from the same active assignments.
func (r *Resolver) Resolve(ctx context.Context, p Principal) (PermissionSet, error) {
	active := p.ActiveAssignments(r.now())
	fp := fingerprint(active)
	if r.cache != nil {
		entry, ok, err := r.cache.Get(ctx, p.ID)
		if err != nil {
			r.logger.Warn("rbac permission cache get", slog.Int64("user_id", p.ID), slog.Any("error", err))
		} else if ok && entry.Fingerprint == fp {
			return NewPermissionSet(entry.Codes...), nil
		}
	}

	key := strconv.FormatInt(p.ID, 10) + "|" + fp
	resultChan := r.group.DoChan(key, func() (interface{}, error) {
		set, err := r.resolveActive(ctx, active)
		if err != nil {
			return nil, err
		}
		if r.cache != nil {
			if err := r.cache.Set(ctx, p.ID, CachedPermissions{Fingerprint: fp, Codes: set.Codes()}); err != nil {
				r.logger.Warn("rbac permission cache set", slog.Int64("user_id", p.ID), slog.Any("error", err))
			}
		}
		return set, nil
	})
	select {
	case <-ctx.Done():
		return PermissionSet{}, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return PermissionSet{}, res.Err
		}
		return res.Val.(PermissionSet), nil
	}
}

// ResolveAssignments computes the permission set of an assignment list without the cache.
func (r *Resolver) ResolveAssignments(ctx context.Context, assignments []Assignment) (PermissionSet, error) {
	now := r.now()
	active := make([]Assignment, 0, len(assignments))
	for _, a := range assignments {
		if a.Effective(now) {
			active = append(active, a)
		}
	}
	return r.resolveActive(ctx, active)
}

// Subject resolves p into an authorization subject.
func (r *Resolver) Subject(ctx context.Context, p Principal) (Subject, error) {
	perms, err := r.Resolve(ctx, p)
	if err != nil {
		return Subject{}, err
	}
	return NewSubject(p, perms, r.now()), nil
}

// Invalidate drops the cached permissions of userID.
func (r *Resolver) Invalidate(ctx context.Context, userID int64) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Invalidate(ctx, userID)
}

func (r *Resolver) resolveActive(ctx context.Context, active []Assignment) (PermissionSet, error) {
	set := NewPermissionSet()
	for _, roleID := range distinctRoleIDs(active) {
		codes, err := r.lookup.PermissionsForRole(ctx, roleID)
		if err != nil {
			return PermissionSet{}, fmt.Errorf("rbac: permissions for role %d: %w", roleID, err)
		}
		set = set.Union(NewPermissionSet(codes...))
	}
	return set, nil
}

func distinctRoleIDs(assignments []Assignment) []int64 {
	seen := make(map[int64]struct{}, len(assignments))
	ids := make([]int64, 0, len(assignments))
	for _, a := range assignments {
		if _, ok := seen[a.RoleID]; ok {
			continue
		}
		seen[a.RoleID] = struct{}{}
		ids = append(ids, a.RoleID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func fingerprint(active []Assignment) string {
	ids := distinctRoleIDs(active)
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
