package roles

import (
	"github.com/odyssey-erp/odyssey-retail/internal/rbac"
)

// Role is the catalog view of a role together with its permission codes.
type Role struct {
	rbac.Role
	Permissions []string `json:"permissions"`
}

// CreateInput describes a new role.
type CreateInput struct {
	Code        string     `json:"code" validate:"required,max=64"`
	Name        string     `json:"name" validate:"required,max=128"`
	Description string     `json:"description" validate:"max=512"`
	Level       rbac.Level `json:"level" validate:"required,min=1,max=3"`
	Permissions []string   `json:"permissions"`
}

// UpdateInput describes an edit to a role. Nil fields are left untouched.
type UpdateInput struct {
	Name        *string     `json:"name,omitempty" validate:"omitempty,min=1,max=128"`
	Description *string     `json:"description,omitempty" validate:"omitempty,max=512"`
	Level       *rbac.Level `json:"level,omitempty" validate:"omitempty,min=1,max=3"`
}

// PermissionsInput replaces the permission codes of a role.
type PermissionsInput struct {
	Permissions []string `json:"permissions" validate:"required"`
}
