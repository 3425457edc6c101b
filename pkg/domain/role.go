package domain

import "fmt"

// Role is a caller's role as asserted by the external identity service.
// This core re-validates role claims; it never issues them.
type Role string

const (
	RoleStudent     Role = "STUDENT"
	RoleTeacher     Role = "TEACHER"
	RoleCoordinator Role = "COORDINATOR"
	RoleAdmin       Role = "ADMIN"
	RoleSuperadmin  Role = "SUPERADMIN"
)

// roleOrder defines privilege ordering. Higher numbers carry more authority.
var roleOrder = map[Role]int{
	RoleStudent:     1,
	RoleTeacher:     2,
	RoleCoordinator: 3,
	RoleAdmin:       4,
	RoleSuperadmin:  5,
}

// ParseRole validates and returns a Role. Unknown roles are rejected rather
// than defaulted: an unrecognized role claim must never gain authority.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if _, ok := roleOrder[r]; !ok {
		return "", fmt.Errorf("unknown role: %q", s)
	}
	return r, nil
}

// IsValid reports whether the role is one of the known enum values.
func (r Role) IsValid() bool {
	_, ok := roleOrder[r]
	return ok
}

// AtLeast reports whether this role carries at least the authority of other.
// Unknown roles compare below every known role.
func (r Role) AtLeast(other Role) bool {
	ro, ok := roleOrder[r]
	if !ok {
		return false
	}
	oo, ok := roleOrder[other]
	if !ok {
		return true
	}
	return ro >= oo
}

func (r Role) String() string { return string(r) }

// Actor is the validated caller identity for the current request: who is
// acting, with what role and permissions, in which tenant. Built by the auth
// middleware from an externally issued token.
type Actor struct {
	ID          UserID
	Role        Role
	TenantID    TenantID
	Permissions []string
}

// IsOperator reports whether the actor holds an operator role (ADMIN or
// above), the tier permitted to read GLOBAL-scoped ledger entries.
func (a Actor) IsOperator() bool {
	return a.Role.AtLeast(RoleAdmin)
}
