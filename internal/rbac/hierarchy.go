package rbac

import "time"

// EffectiveLevel returns the most authoritative level across the assignments effective
// at now, or LevelNone when there are none.
func EffectiveLevel(assignments []Assignment, now time.Time) Level {
	level := LevelNone
	for _, a := range assignments {
		if !a.Effective(now) {
			continue
		}
		if a.Level.Outranks(level) {
			level = a.Level
		}
	}
	return level
}

// CanGrant reports whether an actor at level may hand out a role at target. Nobody
// grants a role more powerful than the most powerful role they hold.
func CanGrant(level, target Level) bool {
	if !target.Valid() {
		return false
	}
	return !target.Outranks(level)
}
