package department

import "time"

// MasterDepartmentID is the fixed department housing global-admin role
// assignments. It is system protected and hidden from normal listings.
const MasterDepartmentID = "00000000-0000-0000-0000-000000000001"

// Department is one node of the organizational tree.
//
// Invariants: Path always ends with the node's own ID and Level equals
// len(Path)-1. Both are computed by the tree service, never by callers.
type Department struct {
	ID                        string    `json:"id"`
	ParentID                  *string   `json:"parentId"`
	Name                      string    `json:"name"`
	Level                     int       `json:"level"`
	Path                      []string  `json:"path"`
	IsSystem                  bool      `json:"isSystem"`
	IsVisible                 bool      `json:"isVisible"`
	RequireExplicitMembership bool      `json:"requireExplicitMembership"`
	IsActive                  bool      `json:"isActive"`
	CreatedAt                 time.Time `json:"createdAt"`
	UpdatedAt                 time.Time `json:"updatedAt"`
}

// CascadeEligible reports whether the department inherits roles from its
// parent. Departments requiring explicit membership block the cascade.
func (d Department) CascadeEligible() bool {
	return !d.RequireExplicitMembership
}
