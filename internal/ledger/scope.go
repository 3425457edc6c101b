package ledger

import id "smartattend/pkg/domain"

// CallerScope is the caller's authorization footprint. Every read path takes
// it as a mandatory parameter: there is no way to query the ledger without a
// scope being applied.
//
// Visibility rules, structural and not bypassable above the store:
//   - GLOBAL entries: SUPERADMIN only
//   - TENANT entries: that tenant's COORDINATOR/ADMIN, or ADMIN+, or SUPERADMIN
//   - USER entries: the subject themselves, their tenant's COORDINATOR+,
//     or ADMIN+
type CallerScope struct {
	ActorID  id.UserID
	Role     id.Role
	TenantID id.TenantID
}

// Allows reports whether the caller may see the entry.
func (s CallerScope) Allows(e Entry) bool {
	switch e.Scope.Level {
	case id.ScopeGlobal:
		return s.Role == id.RoleSuperadmin
	case id.ScopeTenant:
		if s.Role.AtLeast(id.RoleAdmin) {
			return true
		}
		return s.Role.AtLeast(id.RoleCoordinator) && s.TenantID == e.Scope.TenantID
	case id.ScopeUser:
		if e.Scope.SubjectID == s.ActorID {
			return true
		}
		if s.Role.AtLeast(id.RoleAdmin) {
			return true
		}
		return s.Role.AtLeast(id.RoleCoordinator) && s.TenantID == e.Scope.TenantID
	default:
		// Unknown scope level fails closed.
		return false
	}
}

// SelfOnly reports whether the caller can only ever see their own USER
// entries. Reads by such callers are not privileged and are not themselves
// audited; everything wider is.
func (s CallerScope) SelfOnly() bool {
	return !s.Role.AtLeast(id.RoleCoordinator)
}
