package department

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/meridian-lms/meridian-lms/internal/platform/httpx"
)

// Tree maintenance errors.
var (
	// ErrSystemDepartment rejects deletion of system protected departments.
	ErrSystemDepartment = errors.New("department: system department cannot be deleted")
	// ErrHasChildren rejects deletion of departments with descendants.
	ErrHasChildren = errors.New("department: department has child departments")
	// ErrCyclicMove rejects moving a department under its own subtree.
	ErrCyclicMove = errors.New("department: cannot move department under its own descendant")
)

// RepositoryPort defines data access methods for the department tree.
type RepositoryPort interface {
	ListAll(ctx context.Context) ([]Department, error)
	Get(ctx context.Context, id string) (Department, error)
	Insert(ctx context.Context, d Department) (Department, error)
	Update(ctx context.Context, d Department) (Department, error)
	UpdatePaths(ctx context.Context, departments []Department) error
	Delete(ctx context.Context, id string) error
}

// Invalidator drops cached permission snapshots after tree mutations.
type Invalidator interface {
	BumpDepartmentsVersion(ctx context.Context) error
}

// Service owns tree maintenance: level and path computation, move
// propagation, and delete guards. These rules live here, not in storage
// hooks, so they hold regardless of how rows are written.
type Service struct {
	repo        RepositoryPort
	invalidator Invalidator
	logger      *slog.Logger
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, invalidator Invalidator, logger *slog.Logger) *Service {
	return &Service{repo: repo, invalidator: invalidator, logger: logger}
}

// Index loads the full tree and builds an in-memory hierarchy index.
func (s *Service) Index(ctx context.Context) (*Index, error) {
	departments, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("department: load tree: %w", err)
	}
	return NewIndex(departments), nil
}

// Get fetches one department.
func (s *Service) Get(ctx context.Context, id string) (Department, error) {
	return s.repo.Get(ctx, id)
}

// CreateInput carries the caller-settable fields of a new department.
type CreateInput struct {
	ParentID                  *string
	Name                      string
	IsVisible                 bool
	RequireExplicitMembership bool
}

// Create inserts a department, computing level and path from the parent.
func (s *Service) Create(ctx context.Context, input CreateInput) (Department, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Department{}, fmt.Errorf("%w: department name required", httpx.ErrValidation)
	}

	d := Department{
		ID:                        uuid.NewString(),
		ParentID:                  input.ParentID,
		Name:                      name,
		IsVisible:                 input.IsVisible,
		RequireExplicitMembership: input.RequireExplicitMembership,
		IsActive:                  true,
	}
	if input.ParentID == nil {
		d.Level = 0
		d.Path = []string{d.ID}
	} else {
		parent, err := s.repo.Get(ctx, *input.ParentID)
		if err != nil {
			return Department{}, err
		}
		d.Level = parent.Level + 1
		d.Path = append(append([]string(nil), parent.Path...), d.ID)
	}

	inserted, err := s.repo.Insert(ctx, d)
	if err != nil {
		return Department{}, err
	}
	s.bump(ctx)
	return inserted, nil
}

// UpdateInput carries optional field updates; nil fields are left unchanged.
type UpdateInput struct {
	Name                      *string
	IsVisible                 *bool
	RequireExplicitMembership *bool
	IsActive                  *bool
}

// Update applies field changes that do not move the department.
func (s *Service) Update(ctx context.Context, id string, input UpdateInput) (Department, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return Department{}, err
	}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return Department{}, fmt.Errorf("%w: department name required", httpx.ErrValidation)
		}
		d.Name = name
	}
	if input.IsVisible != nil {
		d.IsVisible = *input.IsVisible
	}
	if input.RequireExplicitMembership != nil {
		d.RequireExplicitMembership = *input.RequireExplicitMembership
	}
	if input.IsActive != nil {
		d.IsActive = *input.IsActive
	}
	updated, err := s.repo.Update(ctx, d)
	if err != nil {
		return Department{}, err
	}
	s.bump(ctx)
	return updated, nil
}

// Move reparents a department and recomputes level and path for its whole
// subtree.
func (s *Service) Move(ctx context.Context, id string, newParentID *string) error {
	idx, err := s.Index(ctx)
	if err != nil {
		return err
	}
	d, ok := idx.Get(id)
	if !ok {
		return httpx.ErrNotFound
	}

	var parentPath []string
	level := 0
	if newParentID != nil {
		parent, ok := idx.Get(*newParentID)
		if !ok {
			return httpx.ErrNotFound
		}
		for _, p := range parent.Path {
			if p == id {
				return ErrCyclicMove
			}
		}
		parentPath = parent.Path
		level = parent.Level + 1
	}

	d.ParentID = newParentID
	d.Level = level
	d.Path = append(append([]string(nil), parentPath...), d.ID)

	updates := []Department{d}
	for _, descID := range idx.DescendantsOf(id) {
		desc, _ := idx.Get(descID)
		suffix := pathBelow(desc.Path, id)
		desc.Path = append(append(append([]string(nil), parentPath...), id), suffix...)
		desc.Level = len(desc.Path) - 1
		updates = append(updates, desc)
	}
	if err := s.repo.UpdatePaths(ctx, updates); err != nil {
		return err
	}
	if _, err := s.repo.Update(ctx, d); err != nil {
		return err
	}
	s.bump(ctx)
	return nil
}

// Delete removes a department. System departments and departments with
// children are refused.
func (s *Service) Delete(ctx context.Context, id string) error {
	idx, err := s.Index(ctx)
	if err != nil {
		return err
	}
	d, ok := idx.Get(id)
	if !ok {
		return httpx.ErrNotFound
	}
	if d.IsSystem {
		return ErrSystemDepartment
	}
	if len(idx.ChildrenOf(id)) > 0 {
		return ErrHasChildren
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.bump(ctx)
	return nil
}

func (s *Service) bump(ctx context.Context) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.BumpDepartmentsVersion(ctx); err != nil && s.logger != nil {
		s.logger.Warn("bump departments version", slog.Any("error", err))
	}
}

// pathBelow returns the portion of path strictly below the given ancestor.
func pathBelow(path []string, ancestorID string) []string {
	for i, p := range path {
		if p == ancestorID {
			return path[i+1:]
		}
	}
	return nil
}
