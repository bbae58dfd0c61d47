package membership

import "time"

// Membership records the roles a user holds in one department.
//
// Memberships are owned by the staff/learner aggregate; this package reads
// them for authorization and mutates them only through staff management.
type Membership struct {
	DepartmentID string    `json:"departmentId"`
	Roles        []string  `json:"roles"`
	IsPrimary    bool      `json:"isPrimary"`
	IsActive     bool      `json:"isActive"`
	JoinedAt     time.Time `json:"joinedAt"`
}
