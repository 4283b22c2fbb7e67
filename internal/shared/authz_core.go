package shared

// PermWildcard grants every permission. Only the global system role carries it.
const PermWildcard = "*"

// Core platform permissions.
const (
	PermUsersView = "users.view"
	PermUsersEdit = "users.edit"

	PermRolesView   = "roles.view"
	PermRolesManage = "roles.manage"

	PermAssignRoles = "assign_roles"

	PermAuditView = "audit.view"
)

// Shift permissions.
const (
	PermShiftOpen        = "shift.open"
	PermShiftView        = "shift.view"
	PermCloseOthersShift = "close_others_shift"
)

// CoreScopes lists all permissions related to the core platform.
func CoreScopes() []string {
	return []string{
		PermUsersView,
		PermUsersEdit,
		PermRolesView,
		PermRolesManage,
		PermAssignRoles,
		PermAuditView,
	}
}

// ShiftScopes lists all permissions related to cash-drawer shifts.
func ShiftScopes() []string {
	return []string{
		PermShiftOpen,
		PermShiftView,
		PermCloseOthersShift,
	}
}
