package registry

// UserType partitions role definitions by the kind of account that may hold them.
type UserType string

// Known user types.
const (
	UserTypeLearner     UserType = "learner"
	UserTypeStaff       UserType = "staff"
	UserTypeGlobalAdmin UserType = "global-admin"
)

// Valid reports whether the user type is one of the known values.
func (t UserType) Valid() bool {
	switch t {
	case UserTypeLearner, UserTypeStaff, UserTypeGlobalAdmin:
		return true
	}
	return false
}

// RoleDefinition describes a named role and the access rights it grants.
//
// Access rights are strings of the form "domain:resource:action". A trailing
// ":*" grants every right under the prefix and a bare "*" grants everything.
type RoleDefinition struct {
	Name         string   `json:"name"`
	UserType     UserType `json:"userType"`
	AccessRights []string `json:"accessRights"`
	IsDefault    bool     `json:"isDefault"`
	SortOrder    int      `json:"sortOrder"`
	IsActive     bool     `json:"isActive"`
}
