package users

import (
	"time"

	"github.com/meridian-lms/meridian-lms/internal/registry"
)

// User represents an account that can authenticate and hold memberships.
type User struct {
	ID                     int64
	Email                  string
	PasswordHash           string
	UserTypes              []registry.UserType
	LastSelectedDepartment *string
	IsActive               bool
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// IsGlobalAdmin reports whether the account carries the global-admin type.
func (u *User) IsGlobalAdmin() bool {
	for _, t := range u.UserTypes {
		if t == registry.UserTypeGlobalAdmin {
			return true
		}
	}
	return false
}
