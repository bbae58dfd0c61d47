// Package authz materializes per-user permission snapshots and decides
// authorization requests against them.
package authz

import "time"

// Scope values carried by derived permissions.
const (
	ScopeGlobal = "*"
	ScopeOwn    = "own"
)

// PermissionSource records which role granted a permission and, for
// department-scoped grants, where.
type PermissionSource struct {
	Role         string  `json:"role"`
	DepartmentID *string `json:"departmentId,omitempty"`
}

// Permission is a derived grant; it is never stored, only computed.
type Permission struct {
	Right  string           `json:"right"`
	Scope  string           `json:"scope"`
	Source PermissionSource `json:"source"`
}

// UserPermissions is a point-in-time snapshot of everything a user may do.
// It is created and replaced by the Cache and read-only everywhere else.
type UserPermissions struct {
	UserID              int64               `json:"userId"`
	Permissions         []Permission        `json:"permissions"`
	GlobalRights        []string            `json:"globalRights"`
	DepartmentRights    map[string][]string `json:"departmentRights"`
	DepartmentHierarchy map[string][]string `json:"departmentHierarchy"`
	ComputedAt          time.Time           `json:"computedAt"`
	ExpiresAt           time.Time           `json:"expiresAt"`
	Version             int64               `json:"version"`
}

// Expired reports whether the snapshot TTL has elapsed.
func (p *UserPermissions) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// Decision reasons, stable for logging.
const (
	ReasonGlobalRight     = "global_right"
	ReasonDepartmentRight = "department_right"
	ReasonHierarchyRight  = "hierarchy_right"
	ReasonOwnResource     = "own_resource"
	ReasonDenied          = "denied"
)

// Decision is the structured result of an authorization check. A deny is a
// normal result, never an error.
type Decision struct {
	Allowed   bool   `json:"allowed"`
	Reason    string `json:"reason"`
	GrantedBy string `json:"grantedBy,omitempty"`
}

// Resource identifies the object an authorization check targets.
type Resource struct {
	DepartmentID string
	CreatedBy    int64
}

// CheckOptions narrows an authorization check to a scope or resource.
type CheckOptions struct {
	// Scope is either empty or "dept:<id>".
	Scope string
	// Resource, when set, supplies the owning department and creator.
	Resource *Resource
}
