package rbac

import (
	"math"
	"time"

	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Level ranks role authority. Lower numbers carry broader authority.
type Level int

const (
	// LevelGlobal is the chain-owner / platform tier.
	LevelGlobal Level = 1
	// LevelChain reaches every store of one chain.
	LevelChain Level = 2
	// LevelStore reaches a single store.
	LevelStore Level = 3
	// LevelNone is reported when a principal holds no effective assignment.
	LevelNone Level = math.MaxInt32
)

// Outranks reports whether l is strictly more authoritative than other.
func (l Level) Outranks(other Level) bool {
	return l < other
}

// Valid reports whether l is a level a role may carry.
func (l Level) Valid() bool {
	return l >= LevelGlobal && l <= LevelStore
}

// Role represents a named permission bundle.
type Role struct {
	ID          int64     `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Level       Level     `json:"level"`
	IsSystem    bool      `json:"is_system"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission represents an atomic capability.
type Permission struct {
	ID          int64  `json:"id"`
	Code        string `json:"code"`
	Module      string `json:"module"`
	Description string `json:"description,omitempty"`
}

// Assignment binds a user to a role, optionally inside a chain or store.
type Assignment struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	RoleID    int64      `json:"role_id"`
	RoleCode  string     `json:"role_code"`
	Level     Level      `json:"level"`
	ChainID   *int64     `json:"chain_id,omitempty"`
	StoreID   *int64     `json:"store_id,omitempty"`
	IsActive  bool       `json:"is_active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Effective reports whether the assignment participates in resolution at now.
func (a Assignment) Effective(now time.Time) bool {
	if !a.IsActive {
		return false
	}
	return a.ExpiresAt == nil || a.ExpiresAt.After(now)
}

// Principal is the authenticated actor of one request. It is built from verified token
// claims and never mutated.
//
// ChainID marks chain-wide affiliation and is carried by chain-tier actors only;
// store-tier actors carry StoreID alone.
type Principal struct {
	ID          int64        `json:"id"`
	ChainID     *int64       `json:"chain_id,omitempty"`
	StoreID     *int64       `json:"store_id,omitempty"`
	Assignments []Assignment `json:"assignments"`
}

// Validate checks that tenant coordinates are only missing for global-tier actors.
func (p Principal) Validate(now time.Time) error {
	if p.ID <= 0 {
		return shared.Validation("principal", "principal id required")
	}
	if p.ChainID == nil && p.StoreID == nil && EffectiveLevel(p.Assignments, now) != LevelGlobal {
		return shared.Validation("principal", "chain or store affiliation required below the global tier")
	}
	return nil
}

// ActiveAssignments returns the assignments effective at now.
func (p Principal) ActiveAssignments(now time.Time) []Assignment {
	active := make([]Assignment, 0, len(p.Assignments))
	for _, a := range p.Assignments {
		if a.Effective(now) {
			active = append(active, a)
		}
	}
	return active
}

// AssignInput describes a role grant request.
type AssignInput struct {
	UserID    int64      `json:"user_id" validate:"required,gt=0"`
	RoleID    int64      `json:"role_id" validate:"required,gt=0"`
	ChainID   *int64     `json:"chain_id,omitempty" validate:"omitempty,gt=0"`
	StoreID   *int64     `json:"store_id,omitempty" validate:"omitempty,gt=0"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// AssignmentDraft is persisted by the repository on grant.
type AssignmentDraft struct {
	UserID    int64
	RoleID    int64
	ChainID   *int64
	StoreID   *int64
	ExpiresAt *time.Time
	GrantedBy int64
}
