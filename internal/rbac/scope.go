package rbac

import (
	"time"

	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Mode is the class of action requested on a resource.
type Mode int

const (
	// ModeView reads a resource.
	ModeView Mode = iota + 1
	// ModeModify mutates a resource.
	ModeModify
	// ModeAssign grants roles or permissions to others.
	ModeAssign
)

func (m Mode) String() string {
	switch m {
	case ModeView:
		return "view"
	case ModeModify:
		return "modify"
	case ModeAssign:
		return "assign"
	}
	return "unknown"
}

// Axis names the rung of the scope ladder that produced a decision.
type Axis string

const (
	AxisGlobal     Axis = "global"
	AxisRoleLevel  Axis = "role_level"
	AxisPermission Axis = "permission"
	AxisSelf       Axis = "self"
	AxisChain      Axis = "chain"
	AxisStore      Axis = "store"
	AxisScope      Axis = "scope"
)

// Target carries the tenant coordinates of the resource being acted on. RoleLevel is the
// level of the role being granted and is only read in ModeAssign.
type Target struct {
	ChainID     *int64
	StoreID     *int64
	OwnerUserID *int64
	RoleLevel   Level
}

// Decision is the outcome of one ladder evaluation.
type Decision struct {
	Allowed bool
	Axis    Axis
}

// Err converts a denial into a Forbidden error naming the failed axis; it returns nil
// when the decision allows.
func (d Decision) Err(mode Mode) error {
	if d.Allowed {
		return nil
	}
	return shared.Forbidden(string(d.Axis), mode.String()+" denied")
}

// Subject is a principal together with its resolved authority for one decision.
type Subject struct {
	Principal   Principal
	Permissions PermissionSet
	Level       Level
}

// NewSubject binds resolved permissions to p.
func NewSubject(p Principal, perms PermissionSet, now time.Time) Subject {
	return Subject{Principal: p, Permissions: perms, Level: EffectiveLevel(p.Assignments, now)}
}

// IsGlobal reports whether the subject holds the top-tier role.
func (s Subject) IsGlobal() bool {
	return s.Level == LevelGlobal || s.Permissions.IsWildcard()
}

// DecisionObserver is notified of every evaluated decision.
type DecisionObserver interface {
	ObserveDecision(mode string, axis string, allowed bool)
}

// Guard evaluates the scope ladder. The zero value is ready to use.
type Guard struct {
	Observer DecisionObserver
}

// NewGuard constructs a Guard reporting to observer, which may be nil.
func NewGuard(observer DecisionObserver) *Guard {
	return &Guard{Observer: observer}
}

// CanAccess reports whether s may act on t in mode m.
func (g *Guard) CanAccess(s Subject, t Target, m Mode) bool {
	return g.Evaluate(s, t, m).Allowed
}

// Evaluate walks the ladder in order; the first matching rung decides.
func (g *Guard) Evaluate(s Subject, t Target, m Mode) Decision {
	d := evaluate(s, t, m)
	if g != nil && g.Observer != nil {
		g.Observer.ObserveDecision(m.String(), string(d.Axis), d.Allowed)
	}
	return d
}

func evaluate(s Subject, t Target, m Mode) Decision {
	p := s.Principal
	if s.IsGlobal() {
		return Decision{Allowed: true, Axis: AxisGlobal}
	}
	if m == ModeAssign {
		if !CanGrant(s.Level, t.RoleLevel) {
			return Decision{Axis: AxisRoleLevel}
		}
		if !s.Permissions.Has(shared.PermAssignRoles) {
			return Decision{Axis: AxisPermission}
		}
		if !sameID(p.ChainID, t.ChainID) && !sameID(p.StoreID, t.StoreID) {
			return Decision{Axis: AxisScope}
		}
		return Decision{Allowed: true, Axis: AxisPermission}
	}
	if t.OwnerUserID != nil && *t.OwnerUserID == p.ID {
		return Decision{Allowed: true, Axis: AxisSelf}
	}
	if sameID(p.ChainID, t.ChainID) {
		return Decision{Allowed: true, Axis: AxisChain}
	}
	if sameID(p.StoreID, t.StoreID) {
		return Decision{Allowed: true, Axis: AxisStore}
	}
	return Decision{Axis: AxisScope}
}

func sameID(a, b *int64) bool {
	return a != nil && b != nil && *a == *b
}

// Reach is the VIEW ladder of a subject in a form a repository can push into a query:
// everything when All is set, otherwise rows matching ChainID, StoreID or owned by
// UserID.
type Reach struct {
	All     bool
	ChainID *int64
	StoreID *int64
	UserID  int64
}

// ReachOf returns the VIEW reach of s. Results must still be rechecked with Evaluate.
func ReachOf(s Subject) Reach {
	if s.IsGlobal() {
		return Reach{All: true}
	}
	return Reach{ChainID: s.Principal.ChainID, StoreID: s.Principal.StoreID, UserID: s.Principal.ID}
}

// SelfReach limits a query to rows owned by userID.
func SelfReach(userID int64) Reach {
	return Reach{UserID: userID}
}
