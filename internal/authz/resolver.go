package authz

import (
	"strings"

	"github.com/meridian-lms/meridian-lms/internal/registry"
)

// deptScopePrefix introduces an explicit department scope in CheckOptions.
const deptScopePrefix = "dept:"

// Authorize decides whether the snapshot covers the requested right.
//
// Pure function over the snapshot: no I/O, no side effects, and a deny is a
// structured result rather than an error. Precedence is fixed and first
// match wins: global right, explicit department scope, resource department,
// hierarchy (an ancestor department's rights reach its subtree), own
// resource, deny.
func Authorize(user *UserPermissions, right string, opts CheckOptions) Decision {
	if user == nil || right == "" {
		return Decision{Allowed: false, Reason: ReasonDenied}
	}

	if registry.HasRight(user.GlobalRights, right) {
		return Decision{Allowed: true, Reason: ReasonGlobalRight, GrantedBy: ScopeGlobal}
	}

	targetDept := strings.TrimPrefix(opts.Scope, deptScopePrefix)
	if targetDept == opts.Scope {
		targetDept = ""
	}
	if targetDept == "" && opts.Resource != nil {
		targetDept = opts.Resource.DepartmentID
	}

	if targetDept != "" {
		if registry.HasRight(user.DepartmentRights[targetDept], right) {
			return Decision{Allowed: true, Reason: ReasonDepartmentRight, GrantedBy: targetDept}
		}
		for deptID, rights := range user.DepartmentRights {
			if deptID == targetDept {
				continue
			}
			if !registry.HasRight(rights, right) {
				continue
			}
			if reachable(user.DepartmentHierarchy, deptID, targetDept) {
				return Decision{Allowed: true, Reason: ReasonHierarchyRight, GrantedBy: deptID}
			}
		}
	}

	if opts.Resource != nil && opts.Resource.CreatedBy == user.UserID {
		for _, p := range user.Permissions {
			if p.Scope != ScopeOwn {
				continue
			}
			if registry.HasRight([]string{p.Right}, right) {
				return Decision{Allowed: true, Reason: ReasonOwnResource, GrantedBy: ScopeOwn}
			}
		}
	}

	return Decision{Allowed: false, Reason: ReasonDenied}
}

// reachable walks the child map downward from ancestor looking for target.
func reachable(hierarchy map[string][]string, ancestorID, targetID string) bool {
	queue := append([]string(nil), hierarchy[ancestorID]...)
	seen := make(map[string]struct{})
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == targetID {
			return true
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		queue = append(queue, hierarchy[id]...)
	}
	return false
}
