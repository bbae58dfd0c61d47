package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/meridian-lms/meridian-lms/internal/authz"
	jobmetrics "github.com/meridian-lms/meridian-lms/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// PermissionsRefreshJob rebuilds a single user's permission snapshot so the
// next request after a membership change hits a warm cache.
type PermissionsRefreshJob struct {
	Cache   *authz.Cache
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewPermissionsRefreshJob wires dependencies for the refresh handler.
func NewPermissionsRefreshJob(cache *authz.Cache, logger *slog.Logger, metrics *jobmetrics.Metrics) *PermissionsRefreshJob {
	return &PermissionsRefreshJob{Cache: cache, Logger: logger, Metrics: metrics}
}

// Handle processes permissions:refresh tasks.
func (j *PermissionsRefreshJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Cache == nil {
		return errors.New("permissions refresh: handler not configured")
	}
	var payload PermissionsRefreshPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.UserID <= 0 {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskPermissionsRefresh)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Int64("user_id", payload.UserID))
	if err := j.Cache.Invalidate(ctx, payload.UserID); err != nil {
		resultErr = err
		logger.Error("invalidate snapshot", slog.Any("error", err))
		return resultErr
	}
	if _, err := j.Cache.Get(ctx, payload.UserID); err != nil {
		resultErr = err
		logger.Error("rebuild snapshot", slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddWarmedSnapshots(1)
	logger.Info("permission snapshot refreshed")
	return resultErr
}

func (j *PermissionsRefreshJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskPermissionsRefresh))
	}
	return slog.Default().With(slog.String("job", TaskPermissionsRefresh))
}

func (j *PermissionsRefreshJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

// PermissionsInvalidateJob bumps a version counter scope. Bulk role or
// department edits enqueue this instead of touching every user snapshot.
type PermissionsInvalidateJob struct {
	Cache   *authz.Cache
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewPermissionsInvalidateJob wires dependencies for the invalidate handler.
func NewPermissionsInvalidateJob(cache *authz.Cache, logger *slog.Logger, metrics *jobmetrics.Metrics) *PermissionsInvalidateJob {
	return &PermissionsInvalidateJob{Cache: cache, Logger: logger, Metrics: metrics}
}

// Handle processes permissions:invalidate tasks.
func (j *PermissionsInvalidateJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Cache == nil {
		return errors.New("permissions invalidate: handler not configured")
	}
	var payload PermissionsInvalidatePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskPermissionsInvalidate)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	switch payload.Scope {
	case ScopeRoles:
		resultErr = j.Cache.BumpRolesVersion(ctx)
	case ScopeDepartments:
		resultErr = j.Cache.BumpDepartmentsVersion(ctx)
	case ScopeUser:
		if payload.UserID <= 0 {
			return asynq.SkipRetry
		}
		resultErr = j.Cache.BumpUserVersion(ctx, payload.UserID)
	default:
		return asynq.SkipRetry
	}
	if resultErr != nil {
		j.logger().Error("bump version", slog.String("scope", payload.Scope), slog.Any("error", resultErr))
		return resultErr
	}
	j.logger().Info("version bumped", slog.String("scope", payload.Scope))
	return resultErr
}

func (j *PermissionsInvalidateJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskPermissionsInvalidate))
	}
	return slog.Default().With(slog.String("job", TaskPermissionsInvalidate))
}

func (j *PermissionsInvalidateJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

// RegistryRefresher reloads role definitions from persistent storage.
type RegistryRefresher interface {
	Refresh(ctx context.Context) error
}

// RegistryRefreshJob periodically reloads the role registry so long-running
// processes pick up definition changes made outside the HTTP surface.
type RegistryRefreshJob struct {
	Registry RegistryRefresher
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewRegistryRefreshJob wires dependencies for the registry reload handler.
func NewRegistryRefreshJob(reg RegistryRefresher, logger *slog.Logger, metrics *jobmetrics.Metrics) *RegistryRefreshJob {
	return &RegistryRefreshJob{Registry: reg, Logger: logger, Metrics: metrics}
}

// Handle processes registry:refresh tasks.
func (j *RegistryRefreshJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Registry == nil {
		return errors.New("registry refresh: handler not configured")
	}

	tracker := j.metrics().Track(TaskRegistryRefresh)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	if err := j.Registry.Refresh(ctx); err != nil {
		resultErr = fmt.Errorf("registry refresh: %w", err)
		j.logger().Error("reload registry", slog.Any("error", err))
		return resultErr
	}
	j.logger().Info("registry reloaded")
	return resultErr
}

func (j *RegistryRefreshJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskRegistryRefresh))
	}
	return slog.Default().With(slog.String("job", TaskRegistryRefresh))
}

func (j *RegistryRefreshJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
