package rbac

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolverUnionsActiveRoles(t *testing.T) {
	store := newMemoryStore()
	store.addRole(1, "cashier", LevelStore, "shift.open", "shift.view")
	store.addRole(2, "store_manager", LevelStore, "shift.view", "close_others_shift")
	store.addRole(3, "auditor", LevelChain, "audit.view")
	past := time.Now().Add(-time.Minute)

	r := NewResolver(store, nil, nil)
	p := Principal{ID: 7, StoreID: ptr(int64(3)), Assignments: []Assignment{
		assignment(1, 1, LevelStore),
		assignment(2, 2, LevelStore),
		{ID: 3, RoleID: 3, Level: LevelChain, IsActive: true, ExpiresAt: &past},
	}}

	set, err := r.Resolve(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, []string{"close_others_shift", "shift.open", "shift.view"}, set.Codes())
}

func TestResolverWithoutAssignmentsIsEmpty(t *testing.T) {
	r := NewResolver(newMemoryStore(), nil, nil)
	set, err := r.Resolve(context.Background(), Principal{ID: 9})
	require.NoError(t, err)
	assert.Zero(t, set.Len())
	assert.False(t, set.IsWildcard())
}

func TestResolverServesMatchingCacheEntry(t *testing.T) {
	store := newMemoryStore()
	store.addRole(1, "cashier", LevelStore, "shift.open")
	cache := newRecordingCache()
	r := NewResolver(store, cache, nil)
	p := Principal{ID: 7, Assignments: []Assignment{assignment(1, 1, LevelStore)}}

	_, err := r.Resolve(context.Background(), p)
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, 1, store.lookups)
	assert.Equal(t, "1", cache.entries[7].Fingerprint)
}

func TestResolverRecomputesOnFingerprintMismatch(t *testing.T) {
	store := newMemoryStore()
	store.addRole(1, "cashier", LevelStore, "shift.open")
	store.addRole(2, "store_manager", LevelStore, "close_others_shift")
	cache := newRecordingCache()
	cache.entries[7] = CachedPermissions{Fingerprint: "1", Codes: []string{"shift.open"}}
	r := NewResolver(store, cache, nil)

	p := Principal{ID: 7, Assignments: []Assignment{assignment(1, 1, LevelStore), assignment(2, 2, LevelStore)}}
	set, err := r.Resolve(context.Background(), p)
	require.NoError(t, err)

	assert.True(t, set.Has("close_others_shift"))
	assert.Equal(t, "1,2", cache.entries[7].Fingerprint)
}

func TestResolverBypassesFailingCache(t *testing.T) {
	store := newMemoryStore()
	store.addRole(1, "cashier", LevelStore, "shift.open")
	cache := newRecordingCache()
	cache.err = errors.New("redis down")
	r := NewResolver(store, cache, nil)

	set, err := r.Resolve(context.Background(), Principal{ID: 7, Assignments: []Assignment{assignment(1, 1, LevelStore)}})
	require.NoError(t, err)
	assert.True(t, set.Has("shift.open"))
}

type blockingLookup struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
}

func (b *blockingLookup) PermissionsForRole(ctx context.Context, roleID int64) ([]string, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	<-b.release
	return []string{"shift.view"}, nil
}

func TestResolverCollapsesConcurrentResolutions(t *testing.T) {
	lookup := &blockingLookup{release: make(chan struct{})}
	r := NewResolver(lookup, nil, nil)
	p := Principal{ID: 7, Assignments: []Assignment{assignment(1, 1, LevelStore)}}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			set, err := r.Resolve(context.Background(), p)
			assert.NoError(t, err)
			assert.True(t, set.Has("shift.view"))
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(lookup.release)
	wg.Wait()

	assert.Equal(t, 1, lookup.calls)
}

func TestResolverHonoursContextCancellation(t *testing.T) {
	lookup := &blockingLookup{release: make(chan struct{})}
	defer close(lookup.release)
	r := NewResolver(lookup, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Resolve(ctx, Principal{ID: 7, Assignments: []Assignment{assignment(1, 1, LevelStore)}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResolverInvalidate(t *testing.T) {
	cache := newRecordingCache()
	cache.entries[7] = CachedPermissions{Fingerprint: "1"}
	r := NewResolver(newMemoryStore(), cache, nil)

	require.NoError(t, r.Invalidate(context.Background(), 7))
	assert.NotContains(t, cache.entries, int64(7))
	assert.NoError(t, NewResolver(newMemoryStore(), nil, nil).Invalidate(context.Background(), 7))
}
