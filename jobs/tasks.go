package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPermissionsRefresh recomputes one user's permission snapshot.
	TaskPermissionsRefresh = "permissions:refresh"
	// TaskPermissionsInvalidate bumps a version scope after bulk edits.
	TaskPermissionsInvalidate = "permissions:invalidate"
	// TaskRegistryRefresh reloads the role registry from the database.
	TaskRegistryRefresh = "registry:refresh"
)

// Version counter scopes accepted by TaskPermissionsInvalidate.
const (
	ScopeRoles       = "roles"
	ScopeDepartments = "departments"
	ScopeUser        = "user"
)

// PermissionsRefreshPayload identifies the user whose snapshot to rebuild.
type PermissionsRefreshPayload struct {
	UserID int64 `json:"user_id"`
}

// PermissionsInvalidatePayload names the version scope to bump. UserID is
// only read when Scope is "user".
type PermissionsInvalidatePayload struct {
	Scope  string `json:"scope"`
	UserID int64  `json:"user_id,omitempty"`
}

// NewPermissionsRefreshTask constructs a snapshot refresh task.
func NewPermissionsRefreshTask(payload PermissionsRefreshPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPermissionsRefresh, data), nil
}

// NewPermissionsInvalidateTask constructs a version bump task.
func NewPermissionsInvalidateTask(payload PermissionsInvalidatePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPermissionsInvalidate, data), nil
}

// NewRegistryRefreshTask constructs a registry reload task.
func NewRegistryRefreshTask() (*asynq.Task, error) {
	return asynq.NewTask(TaskRegistryRefresh, nil), nil
}
