package authz

import "time"

// Role is a closed tag identifying a permission grouping.
type Role string

// All roles known to the platform.
const (
	RoleAdmin   Role = "admin"
	RoleDoctor  Role = "doctor"
	RoleNurse   Role = "nurse"
	RoleStaff   Role = "staff"
	RolePatient Role = "patient"
)

// Permission is a closed tag identifying an atomic capability.
type Permission string

// All permissions known to the platform. Permissions are data, never
// computed.
const (
	PermPatientView     Permission = "patients.view"
	PermPatientViewOwn  Permission = "patients.view_own"
	PermPatientRegister Permission = "patients.register"
	PermPatientEdit     Permission = "patients.edit"

	PermUsersView Permission = "users.view"
	PermUsersEdit Permission = "users.edit"

	PermGrantsView   Permission = "grants.view"
	PermGrantsAssign Permission = "grants.assign"

	PermAuditView Permission = "audit.view"
)

// ResourceType identifies a class of protected resource instances.
type ResourceType string

// ResourcePatient is the only self-accessible resource class: a principal
// holding RolePatient may view exactly their own record.
const ResourcePatient ResourceType = "patient"

// Principal is the resolved snapshot of an authenticated actor as the
// engine sees it. It carries everything a verdict needs so a cached copy
// can answer checks without further lookups.
type Principal struct {
	ID              int64
	Email           string
	ExternalSubject string
	IsActive        bool
	Roles           []Role
}

// HasRole reports whether the principal holds the given role.
func (p *Principal) HasRole(role Role) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ResourceGrant is an explicit, time-bounded permission on one resource
// instance. Grants are immutable once written; revocation closes the
// window, nothing is ever deleted.
type ResourceGrant struct {
	ID            int64
	PrincipalID   int64
	ResourceType  ResourceType
	ResourceID    int64
	Permission    Permission
	EffectiveFrom time.Time
	EffectiveTo   *time.Time
	Reason        string
	GrantedBy     int64
	RevokedAt     *time.Time
	CreatedAt     time.Time
}

// ActiveAt reports whether the grant confers access at instant t:
// not revoked, t within [EffectiveFrom, EffectiveTo).
func (g ResourceGrant) ActiveAt(t time.Time) bool {
	if g.RevokedAt != nil {
		return false
	}
	if t.Before(g.EffectiveFrom) {
		return false
	}
	if g.EffectiveTo != nil && !t.Before(*g.EffectiveTo) {
		return false
	}
	return true
}

// ResourceScope is the answer to "which resource ids can this principal
// reach". Unrestricted is returned only for administrators and means the
// caller must not filter at all; for everyone else IDs is exhaustive.
type ResourceScope struct {
	Unrestricted bool
	IDs          []int64
}

// Contains reports whether the scope covers the given id.
func (s ResourceScope) Contains(id int64) bool {
	if s.Unrestricted {
		return true
	}
	for _, v := range s.IDs {
		if v == id {
			return true
		}
	}
	return false
}
