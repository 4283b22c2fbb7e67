package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPermissionSetNormalisesAndDedupes(t *testing.T) {
	set := NewPermissionSet(" Shift.Open", "shift.open", "", "SHIFT.VIEW")

	assert.Equal(t, 2, set.Len())
	assert.Equal(t, []string{"shift.open", "shift.view"}, set.Codes())
	assert.True(t, set.Has("shift.OPEN"))
	assert.False(t, set.Has("close_others_shift"))
	assert.False(t, set.IsWildcard())
}

func TestPermissionSetWildcard(t *testing.T) {
	set := NewPermissionSet("*")

	assert.True(t, set.IsWildcard())
	assert.True(t, set.Has("anything.at.all"))
	assert.True(t, set.HasAll("a", "b"))
	assert.Equal(t, []string{"*"}, set.Codes())
}

func TestPermissionSetAnyAll(t *testing.T) {
	set := NewPermissionSet("users.view", "roles.view")

	assert.True(t, set.HasAny())
	assert.True(t, set.HasAny("roles.manage", "roles.view"))
	assert.False(t, set.HasAny("roles.manage"))
	assert.True(t, set.HasAll("users.view", "ROLES.VIEW"))
	assert.False(t, set.HasAll("users.view", "users.edit"))
}

func TestPermissionSetUnion(t *testing.T) {
	a := NewPermissionSet("shift.open")
	b := NewPermissionSet("shift.view", "shift.open")
	u := a.Union(b)

	assert.Equal(t, []string{"shift.open", "shift.view"}, u.Codes())
	assert.Equal(t, 1, a.Len(), "union must not mutate its operands")
	assert.True(t, a.Union(NewPermissionSet("*")).IsWildcard())
}
