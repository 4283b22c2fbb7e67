package rbac

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

type memoryStore struct {
	mu          sync.Mutex
	roles       map[int64]Role
	rolePerms   map[int64][]string
	storeChains map[int64]int64
	assignments map[int64]Assignment
	nextID      int64
	lookups     int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		roles:       map[int64]Role{},
		rolePerms:   map[int64][]string{},
		storeChains: map[int64]int64{},
		assignments: map[int64]Assignment{},
	}
}

func (m *memoryStore) addRole(id int64, code string, level Level, perms ...string) Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	role := Role{ID: id, Code: code, Name: code, Level: level}
	m.roles[id] = role
	m.rolePerms[id] = perms
	return role
}

func (m *memoryStore) PermissionsForRole(ctx context.Context, roleID int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	return append([]string(nil), m.rolePerms[roleID]...), nil
}

func (m *memoryStore) GetRole(ctx context.Context, id int64) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[id]
	if !ok {
		return Role{}, shared.NotFound("role", id)
	}
	return role, nil
}

func (m *memoryStore) StoreChain(ctx context.Context, storeID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chain, ok := m.storeChains[storeID]
	if !ok {
		return 0, shared.NotFound("store", storeID)
	}
	return chain, nil
}

func (m *memoryStore) ListAssignments(ctx context.Context, userID int64) ([]Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Assignment
	for _, a := range m.assignments {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) GetAssignment(ctx context.Context, id int64) (Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		return Assignment{}, shared.NotFound("assignment", id)
	}
	return a, nil
}

func (m *memoryStore) CreateAssignment(ctx context.Context, draft AssignmentDraft) (Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	role := m.roles[draft.RoleID]
	a := Assignment{
		ID:        m.nextID,
		UserID:    draft.UserID,
		RoleID:    draft.RoleID,
		RoleCode:  role.Code,
		Level:     role.Level,
		ChainID:   draft.ChainID,
		StoreID:   draft.StoreID,
		IsActive:  true,
		ExpiresAt: draft.ExpiresAt,
		CreatedAt: time.Now(),
	}
	m.assignments[a.ID] = a
	return a, nil
}

func (m *memoryStore) DeactivateAssignment(ctx context.Context, id int64) (Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok || !a.IsActive {
		return Assignment{}, shared.NotFound("assignment", id)
	}
	a.IsActive = false
	m.assignments[id] = a
	return a, nil
}

func (m *memoryStore) ExpireAssignments(ctx context.Context, now time.Time) ([]Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Assignment
	for id, a := range m.assignments {
		if a.IsActive && a.ExpiresAt != nil && !a.ExpiresAt.After(now) {
			a.IsActive = false
			m.assignments[id] = a
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type recordingCache struct {
	mu          sync.Mutex
	entries     map[int64]CachedPermissions
	invalidated []int64
	err         error
}

func newRecordingCache() *recordingCache {
	return &recordingCache{entries: map[int64]CachedPermissions{}}
}

func (c *recordingCache) Get(ctx context.Context, userID int64) (CachedPermissions, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return CachedPermissions{}, false, c.err
	}
	e, ok := c.entries[userID]
	return e, ok, nil
}

func (c *recordingCache) Set(ctx context.Context, userID int64, entry CachedPermissions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.entries[userID] = entry
	return nil
}

func (c *recordingCache) Invalidate(ctx context.Context, userID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, userID)
	if c.err != nil {
		return c.err
	}
	delete(c.entries, userID)
	return nil
}

func ptr[T any](v T) *T { return &v }

func assignment(id, roleID int64, level Level) Assignment {
	return Assignment{ID: id, RoleID: roleID, Level: level, IsActive: true}
}
