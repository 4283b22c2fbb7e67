package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-retail/internal/audit"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

type auditLog struct {
	records []audit.Record
}

func (a *auditLog) Record(ctx context.Context, rec audit.Record) error {
	a.records = append(a.records, rec)
	return nil
}

type serviceFixture struct {
	store   *memoryStore
	cache   *recordingCache
	audit   *auditLog
	service *Service
}

func newServiceFixture() serviceFixture {
	store := newMemoryStore()
	store.addRole(1, "owner", LevelGlobal, "*")
	store.addRole(2, "chain_manager", LevelChain, "assign_roles", "close_others_shift")
	store.addRole(3, "cashier", LevelStore, "shift.open", "shift.view")
	store.addRole(4, "store_manager", LevelStore, "assign_roles", "close_others_shift")
	store.storeChains[5] = 9
	store.storeChains[6] = 10
	cache := newRecordingCache()
	log := &auditLog{}
	resolver := NewResolver(store, cache, nil)
	svc := NewService(store, resolver, NewGuard(nil), audit.NewRecorder(log, nil), nil)
	return serviceFixture{store: store, cache: cache, audit: log, service: svc}
}

func chainManager() Principal {
	return Principal{ID: 30, ChainID: ptr(int64(9)), Assignments: []Assignment{{ID: 100, RoleID: 2, Level: LevelChain, ChainID: ptr(int64(9)), IsActive: true}}}
}

func TestAssignRoleWithinChain(t *testing.T) {
	f := newServiceFixture()
	f.cache.entries[40] = CachedPermissions{Fingerprint: "stale"}

	a, err := f.service.AssignRole(context.Background(), chainManager(), AssignInput{UserID: 40, RoleID: 3, StoreID: ptr(int64(5))})
	require.NoError(t, err)

	assert.True(t, a.IsActive)
	assert.Equal(t, LevelStore, a.Level)
	assert.Contains(t, f.cache.invalidated, int64(40))
	assert.NotContains(t, f.cache.entries, int64(40))
	require.Len(t, f.audit.records, 1)
	assert.Equal(t, "rbac.assign", f.audit.records[0].Action)
	assert.Equal(t, audit.OutcomeSuccess, f.audit.records[0].Outcome)
}

func TestAssignRoleRejectsWidening(t *testing.T) {
	f := newServiceFixture()

	_, err := f.service.AssignRole(context.Background(), chainManager(), AssignInput{UserID: 40, RoleID: 1})
	require.ErrorIs(t, err, shared.ErrForbidden)
	assert.Equal(t, "role_level", shared.CodeOf(err))
	assert.Empty(t, f.store.assignments)
	require.Len(t, f.audit.records, 1)
	assert.Equal(t, audit.OutcomeDenied, f.audit.records[0].Outcome)
}

func TestAssignRoleOutsideChain(t *testing.T) {
	f := newServiceFixture()

	_, err := f.service.AssignRole(context.Background(), chainManager(), AssignInput{UserID: 40, RoleID: 3, StoreID: ptr(int64(6))})
	require.ErrorIs(t, err, shared.ErrForbidden)
	assert.Equal(t, "scope", shared.CodeOf(err))
}

func TestAssignRoleRejectsMismatchedChain(t *testing.T) {
	f := newServiceFixture()

	_, err := f.service.AssignRole(context.Background(), chainManager(), AssignInput{UserID: 40, RoleID: 3, ChainID: ptr(int64(9)), StoreID: ptr(int64(6))})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestAssignRoleValidatesScope(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	_, err := f.service.AssignRole(ctx, chainManager(), AssignInput{UserID: 40, RoleID: 3})
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.service.AssignRole(ctx, chainManager(), AssignInput{UserID: 40, RoleID: 2, StoreID: ptr(int64(5))})
	assert.ErrorIs(t, err, shared.ErrValidation)

	past := time.Now().Add(-time.Hour)
	_, err = f.service.AssignRole(ctx, chainManager(), AssignInput{UserID: 40, RoleID: 3, StoreID: ptr(int64(5)), ExpiresAt: &past})
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.service.AssignRole(ctx, chainManager(), AssignInput{UserID: 40, RoleID: 99, StoreID: ptr(int64(5))})
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRevokeAssignmentInvalidates(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()
	a, err := f.service.AssignRole(ctx, chainManager(), AssignInput{UserID: 40, RoleID: 3, StoreID: ptr(int64(5))})
	require.NoError(t, err)
	f.cache.invalidated = nil

	revoked, err := f.service.RevokeAssignment(ctx, chainManager(), a.ID)
	require.NoError(t, err)
	assert.False(t, revoked.IsActive)
	assert.Equal(t, []int64{40}, f.cache.invalidated)

	_, err = f.service.RevokeAssignment(ctx, chainManager(), a.ID)
	assert.ErrorIs(t, err, shared.ErrConflict)
}

func TestStoreManagerCannotRevokeChainRole(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()
	owner := Principal{ID: 1, Assignments: []Assignment{{ID: 1, RoleID: 1, Level: LevelGlobal, IsActive: true}}}
	a, err := f.service.AssignRole(ctx, owner, AssignInput{UserID: 30, RoleID: 2, ChainID: ptr(int64(9))})
	require.NoError(t, err)

	manager := Principal{ID: 50, StoreID: ptr(int64(5)), Assignments: []Assignment{{ID: 200, RoleID: 4, Level: LevelStore, IsActive: true}}}
	_, err = f.service.RevokeAssignment(ctx, manager, a.ID)
	require.ErrorIs(t, err, shared.ErrForbidden)
	assert.Equal(t, "role_level", shared.CodeOf(err))
}

func TestListAssignmentsSelfOrAssigner(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()
	cashier := Principal{ID: 40, StoreID: ptr(int64(5)), Assignments: []Assignment{{ID: 300, RoleID: 3, Level: LevelStore, IsActive: true}}}

	_, err := f.service.ListAssignments(ctx, cashier, 40)
	assert.NoError(t, err)

	_, err = f.service.ListAssignments(ctx, cashier, 41)
	assert.ErrorIs(t, err, shared.ErrForbidden)

	_, err = f.service.ListAssignments(ctx, chainManager(), 41)
	assert.NoError(t, err)
}

func TestExpireDueInvalidatesEachUser(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	f.service.WithClock(func() time.Time { return now })
	soon := now.Add(time.Minute)
	_, err := f.service.AssignRole(ctx, chainManager(), AssignInput{UserID: 40, RoleID: 3, StoreID: ptr(int64(5)), ExpiresAt: &soon})
	require.NoError(t, err)
	_, err = f.service.AssignRole(ctx, chainManager(), AssignInput{UserID: 41, RoleID: 3, StoreID: ptr(int64(5))})
	require.NoError(t, err)
	f.cache.invalidated = nil

	f.service.WithClock(func() time.Time { return now.Add(time.Hour) })
	n, err := f.service.ExpireDue(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{40}, f.cache.invalidated)
}
