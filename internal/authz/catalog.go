package authz

// rolePermissions is the single source of truth for role-based access.
// Administrative endpoints read it; nothing mutates it at runtime.
//
// Admin is listed with the administration permissions for catalog
// introspection, but the engine never consults the table for admin: the
// administrative bypass short-circuits first.
var rolePermissions = map[Role][]Permission{
	RoleAdmin: {
		PermPatientView,
		PermPatientRegister,
		PermPatientEdit,
		PermUsersView,
		PermUsersEdit,
		PermGrantsView,
		PermGrantsAssign,
		PermAuditView,
	},
	RoleDoctor: {
		PermPatientView,
		PermPatientEdit,
		PermGrantsView,
	},
	RoleNurse: {
		PermPatientView,
	},
	RoleStaff: {
		PermPatientView,
		PermPatientRegister,
	},
	RolePatient: {
		PermPatientViewOwn,
	},
}

// AllRoles returns the closed set of roles in catalog order.
func AllRoles() []Role {
	return []Role{RoleAdmin, RoleDoctor, RoleNurse, RoleStaff, RolePatient}
}

// AllPermissions returns the closed set of permissions.
func AllPermissions() []Permission {
	return []Permission{
		PermPatientView,
		PermPatientViewOwn,
		PermPatientRegister,
		PermPatientEdit,
		PermUsersView,
		PermUsersEdit,
		PermGrantsView,
		PermGrantsAssign,
		PermAuditView,
	}
}

// ValidRole reports whether the role belongs to the closed set.
func ValidRole(role Role) bool {
	_, ok := rolePermissions[role]
	return ok
}

// PermissionsForRole returns the permissions granted to a role. The
// lookup is total: an unknown role yields the empty set, never an error.
func PermissionsForRole(role Role) []Permission {
	perms, ok := rolePermissions[role]
	if !ok {
		return nil
	}
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}

// RoleGrants reports whether the role grants the permission.
func RoleGrants(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}
