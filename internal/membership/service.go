package membership

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/meridian-lms/meridian-lms/internal/platform/httpx"
	"github.com/meridian-lms/meridian-lms/internal/registry"
)

// RepositoryPort defines data access methods for memberships.
type RepositoryPort interface {
	MembershipsOf(ctx context.Context, userID int64) ([]Membership, error)
	Assign(ctx context.Context, userID int64, departmentID string, roles []string, isPrimary bool) error
	Revoke(ctx context.Context, userID int64, departmentID string) error
}

// RoleValidator checks role names against the registry before they persist.
type RoleValidator interface {
	IsValidRole(userType registry.UserType, name string) bool
}

// Invalidator drops a user's permission snapshot after a membership change.
type Invalidator interface {
	BumpUserVersion(ctx context.Context, userID int64) error
}

// Enqueuer schedules a background snapshot refresh for the user.
type Enqueuer interface {
	EnqueuePermissionsRefresh(ctx context.Context, userID int64) error
}

// Service handles membership reads and validated writes.
type Service struct {
	repo        RepositoryPort
	roles       RoleValidator
	invalidator Invalidator
	enqueuer    Enqueuer
	logger      *slog.Logger
}

// NewService builds a Service instance. Enqueuer may be nil when no worker runs.
func NewService(repo RepositoryPort, roles RoleValidator, invalidator Invalidator, enqueuer Enqueuer, logger *slog.Logger) *Service {
	return &Service{repo: repo, roles: roles, invalidator: invalidator, enqueuer: enqueuer, logger: logger}
}

// MembershipsOf returns the active memberships of a user.
func (s *Service) MembershipsOf(ctx context.Context, userID int64) ([]Membership, error) {
	return s.repo.MembershipsOf(ctx, userID)
}

// Assign grants roles in a department after validating every role name
// against the registry for the holder's user type.
func (s *Service) Assign(ctx context.Context, userID int64, userType registry.UserType, departmentID string, roles []string, isPrimary bool) error {
	if len(roles) == 0 {
		return fmt.Errorf("%w: at least one role required", httpx.ErrValidation)
	}
	for _, role := range roles {
		if !s.roles.IsValidRole(userType, role) {
			return fmt.Errorf("%w: role %q not valid for user type %s", httpx.ErrValidation, role, userType)
		}
	}
	if err := s.repo.Assign(ctx, userID, departmentID, roles, isPrimary); err != nil {
		return err
	}
	s.afterChange(ctx, userID)
	return nil
}

// Revoke deactivates a membership.
func (s *Service) Revoke(ctx context.Context, userID int64, departmentID string) error {
	if err := s.repo.Revoke(ctx, userID, departmentID); err != nil {
		return err
	}
	s.afterChange(ctx, userID)
	return nil
}

func (s *Service) afterChange(ctx context.Context, userID int64) {
	if s.invalidator != nil {
		if err := s.invalidator.BumpUserVersion(ctx, userID); err != nil && s.logger != nil {
			s.logger.Warn("bump user version", slog.Int64("user_id", userID), slog.Any("error", err))
		}
	}
	if s.enqueuer != nil {
		if err := s.enqueuer.EnqueuePermissionsRefresh(ctx, userID); err != nil && s.logger != nil {
			s.logger.Warn("enqueue permissions refresh", slog.Int64("user_id", userID), slog.Any("error", err))
		}
	}
}
