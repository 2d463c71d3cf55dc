package users

import (
	"time"

	"github.com/meridian-emr/meridian-emr/internal/authz"
)

// User is the managed account behind an authorization principal. Accounts
// are deactivated, never deleted, so the audit trail stays intact.
type User struct {
	ID              int64
	Email           string
	Name            string
	ExternalSubject string
	IsActive        bool
	Roles           []authz.Role
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasRole reports whether the user holds the given role.
func (u *User) HasRole(role authz.Role) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}
