package authz

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCatalogRolesClosedSet(t *testing.T) {
	require.Len(t, AllRoles(), 5)
	for _, role := range AllRoles() {
		require.True(t, ValidRole(role), string(role))
	}
	require.False(t, ValidRole("superuser"))
	require.False(t, ValidRole(""))
}

func TestPermissionsForRole(t *testing.T) {
	require.Equal(t, []Permission{PermPatientView}, PermissionsForRole(RoleNurse))
	require.Equal(t, []Permission{PermPatientView, PermPatientRegister}, PermissionsForRole(RoleStaff))
	require.Equal(t, []Permission{PermPatientViewOwn}, PermissionsForRole(RolePatient))

	// Total lookup: unknown roles yield the empty set.
	require.Empty(t, PermissionsForRole("superuser"))
}

func TestPermissionsForRoleReturnsCopy(t *testing.T) {
	perms := PermissionsForRole(RoleDoctor)
	require.NotEmpty(t, perms)
	perms[0] = "tampered"
	require.Equal(t, PermPatientView, PermissionsForRole(RoleDoctor)[0])
}

func TestRoleGrants(t *testing.T) {
	require.True(t, RoleGrants(RoleDoctor, PermPatientEdit))
	require.True(t, RoleGrants(RoleDoctor, PermGrantsView))
	require.False(t, RoleGrants(RoleDoctor, PermUsersEdit))
	require.False(t, RoleGrants(RoleNurse, PermPatientEdit))
	require.False(t, RoleGrants("superuser", PermPatientView))
}

func TestPatientRoleHoldsOnlySelfView(t *testing.T) {
	perms := PermissionsForRole(RolePatient)
	require.Equal(t, []Permission{PermPatientViewOwn}, perms)
}

func TestAllPermissionsCoverCatalog(t *testing.T) {
	known := make(map[Permission]struct{})
	for _, perm := range AllPermissions() {
		known[perm] = struct{}{}
	}
	for _, role := range AllRoles() {
		for _, perm := range PermissionsForRole(role) {
			_, ok := known[perm]
			require.True(t, ok, "role %s references unlisted permission %s", role, perm)
		}
	}
}
