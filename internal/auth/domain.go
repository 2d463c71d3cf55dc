package auth

import "time"

// Account is the authentication view of a user record: just enough to
// verify credentials and link external identities.
type Account struct {
	ID              int64
	Email           string
	PasswordHash    string
	ExternalSubject string
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Identity is the verified claim set received from the external identity
// provider after token validation.
type Identity struct {
	Subject string
	Email   string
}
