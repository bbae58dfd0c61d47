package department

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/meridian-lms/meridian-lms/internal/membership"
	"github.com/meridian-lms/meridian-lms/internal/platform/httpx"
	"github.com/meridian-lms/meridian-lms/internal/registry"
	"github.com/meridian-lms/meridian-lms/internal/shared"
)

// ErrDepartmentNotFound covers both nonexistent and hidden departments so a
// caller cannot probe for hidden ones.
var ErrDepartmentNotFound = errors.New("department: not found")

// Actor identifies the user performing the switch.
type Actor struct {
	ID        int64
	UserTypes []registry.UserType
}

// IsGlobalAdmin reports whether the actor carries the global-admin user type.
func (a Actor) IsGlobalAdmin() bool {
	for _, t := range a.UserTypes {
		if t == registry.UserTypeGlobalAdmin {
			return true
		}
	}
	return false
}

// MembershipSource supplies the actor's department memberships.
type MembershipSource interface {
	MembershipsOf(ctx context.Context, userID int64) ([]membership.Membership, error)
}

// RightsSource expands role names into access rights.
type RightsSource interface {
	RightsFor(userType registry.UserType, names []string) []string
}

// LastSelectedStore persists the user's active department choice.
type LastSelectedStore interface {
	SetLastSelectedDepartment(ctx context.Context, userID int64, departmentID string) error
}

// ChildDepartment is a cascade-eligible child annotated with the roles it
// inherits from the granting department.
type ChildDepartment struct {
	Department
	Roles []string `json:"roles"`
}

// SwitchResult describes the department context after a successful switch.
type SwitchResult struct {
	CurrentDepartment Department        `json:"currentDepartment"`
	ChildDepartments  []ChildDepartment `json:"childDepartments"`
	IsDirectMember    bool              `json:"isDirectMember"`
	InheritedFrom     *string           `json:"inheritedFrom"`
	Roles             []string          `json:"roles"`
	AccessRights      []string          `json:"accessRights"`
}

// SwitchService changes a user's active department context. It composes the
// hierarchy index, the membership store and the role registry.
type SwitchService struct {
	departments *Service
	memberships MembershipSource
	rights      RightsSource
	users       LastSelectedStore
	logger      *slog.Logger
}

// NewSwitchService builds a SwitchService instance.
func NewSwitchService(departments *Service, memberships MembershipSource, rights RightsSource, users LastSelectedStore, logger *slog.Logger) *SwitchService {
	return &SwitchService{
		departments: departments,
		memberships: memberships,
		rights:      rights,
		users:       users,
		logger:      logger,
	}
}

// Switch resolves the target department, determines direct or cascaded
// membership, persists the selection and returns the effective context.
func (s *SwitchService) Switch(ctx context.Context, actor Actor, departmentID string) (*SwitchResult, error) {
	idx, err := s.departments.Index(ctx)
	if err != nil {
		return nil, err
	}

	dept, ok := idx.Get(departmentID)
	if !ok {
		return nil, ErrDepartmentNotFound
	}
	if !dept.IsVisible && !actor.IsGlobalAdmin() {
		// Hidden departments must be indistinguishable from missing ones.
		return nil, ErrDepartmentNotFound
	}
	if !dept.IsActive {
		return nil, fmt.Errorf("%w: department inactive", httpx.ErrForbidden)
	}

	memberships, err := s.memberships.MembershipsOf(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	direct := make(map[string]membership.Membership, len(memberships))
	directIDs := make(map[string]struct{}, len(memberships))
	for _, m := range memberships {
		if !m.IsActive {
			continue
		}
		direct[m.DepartmentID] = m
		directIDs[m.DepartmentID] = struct{}{}
	}

	var (
		roles         []string
		inheritedFrom *string
		isDirect      bool
	)
	if m, ok := direct[departmentID]; ok {
		roles = m.Roles
		isDirect = true
	} else {
		source, ok := idx.CascadeSourceFor(directIDs, departmentID)
		if !ok {
			return nil, shared.ErrNotAMember
		}
		roles = direct[source].Roles
		inheritedFrom = &source
	}

	if err := s.users.SetLastSelectedDepartment(ctx, actor.ID, departmentID); err != nil && s.logger != nil {
		s.logger.Warn("persist last selected department", slog.Int64("user_id", actor.ID), slog.Any("error", err))
	}

	result := &SwitchResult{
		CurrentDepartment: dept,
		IsDirectMember:    isDirect,
		InheritedFrom:     inheritedFrom,
		Roles:             roles,
		AccessRights:      s.expandRights(actor, roles),
	}
	for _, child := range idx.ChildrenOf(departmentID) {
		if !child.CascadeEligible() {
			continue
		}
		result.ChildDepartments = append(result.ChildDepartments, ChildDepartment{Department: child, Roles: roles})
	}
	return result, nil
}

// expandRights unions the rights of the roles across every user type the
// actor carries; a role name only resolves under the type that defines it.
func (s *SwitchService) expandRights(actor Actor, roles []string) []string {
	seen := make(map[string]struct{})
	var rights []string
	for _, t := range actor.UserTypes {
		for _, right := range s.rights.RightsFor(t, roles) {
			if _, dup := seen[right]; dup {
				continue
			}
			seen[right] = struct{}{}
			rights = append(rights, right)
		}
	}
	return rights
}
