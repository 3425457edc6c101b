package domain

import "fmt"

// ScopeLevel restricts how widely an audit entry is visible.
type ScopeLevel string

const (
	// ScopeUser entries concern one subject; visible to that subject and operators.
	ScopeUser ScopeLevel = "USER"
	// ScopeTenant entries concern one institution; visible to that tenant's
	// operators and above.
	ScopeTenant ScopeLevel = "TENANT"
	// ScopeGlobal entries concern the platform itself; visible to top-tier
	// operators only.
	ScopeGlobal ScopeLevel = "GLOBAL"
)

// ParseScopeLevel validates and returns a ScopeLevel.
func ParseScopeLevel(s string) (ScopeLevel, error) {
	l := ScopeLevel(s)
	switch l {
	case ScopeUser, ScopeTenant, ScopeGlobal:
		return l, nil
	}
	return "", fmt.Errorf("unknown scope level: %q", s)
}

// IsValid reports whether the level is a known enum value.
func (l ScopeLevel) IsValid() bool {
	switch l {
	case ScopeUser, ScopeTenant, ScopeGlobal:
		return true
	}
	return false
}

func (l ScopeLevel) String() string { return string(l) }
