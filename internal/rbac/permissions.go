package rbac

import (
	"sort"
	"strings"

	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// PermissionSet is an immutable, deduplicated set of permission codes. A set holding the
// wildcard reports every code as present.
type PermissionSet struct {
	all   bool
	codes map[string]struct{}
}

// NewPermissionSet builds a set from raw codes. Codes are trimmed and lower-cased.
func NewPermissionSet(codes ...string) PermissionSet {
	set := PermissionSet{codes: make(map[string]struct{}, len(codes))}
	for _, code := range normalizePermissions(codes) {
		if code == shared.PermWildcard {
			set.all = true
			continue
		}
		set.codes[code] = struct{}{}
	}
	return set
}

// Union returns a set holding every code of s and other.
func (s PermissionSet) Union(other PermissionSet) PermissionSet {
	out := PermissionSet{all: s.all || other.all, codes: make(map[string]struct{}, len(s.codes)+len(other.codes))}
	for code := range s.codes {
		out.codes[code] = struct{}{}
	}
	for code := range other.codes {
		out.codes[code] = struct{}{}
	}
	return out
}

// IsWildcard reports whether the set grants everything.
func (s PermissionSet) IsWildcard() bool {
	return s.all
}

// Has reports whether code is granted.
func (s PermissionSet) Has(code string) bool {
	if s.all {
		return true
	}
	_, ok := s.codes[normalizeCode(code)]
	return ok
}

// HasAny reports whether at least one of codes is granted. An empty list is satisfied.
func (s PermissionSet) HasAny(codes ...string) bool {
	required := normalizePermissions(codes)
	if len(required) == 0 || s.all {
		return true
	}
	for _, code := range required {
		if _, ok := s.codes[code]; ok {
			return true
		}
	}
	return false
}

// HasAll reports whether every one of codes is granted.
func (s PermissionSet) HasAll(codes ...string) bool {
	if s.all {
		return true
	}
	for _, code := range normalizePermissions(codes) {
		if _, ok := s.codes[code]; !ok {
			return false
		}
	}
	return true
}

// Codes returns the sorted codes of the set, the wildcard included when present.
func (s PermissionSet) Codes() []string {
	out := make([]string, 0, len(s.codes)+1)
	if s.all {
		out = append(out, shared.PermWildcard)
	}
	for code := range s.codes {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of explicit codes.
func (s PermissionSet) Len() int {
	return len(s.codes)
}

func normalizeCode(code string) string {
	return strings.TrimSpace(strings.ToLower(code))
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = normalizeCode(p)
		if p == "" {
			continue
		}
		if _, seen := unique[p]; seen {
			continue
		}
		unique[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}
