package patients

import "time"

// Patient is a registered patient record. The contact email doubles as
// the ownership anchor: a principal holding the patient role may view the
// record whose on-file email matches their own exactly.
type Patient struct {
	ID           int64
	MRN          string
	FirstName    string
	LastName     string
	DateOfBirth  time.Time
	ContactEmail string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
