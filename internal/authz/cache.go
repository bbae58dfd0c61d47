package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/meridian-lms/meridian-lms/internal/department"
	"github.com/meridian-lms/meridian-lms/internal/membership"
	"github.com/meridian-lms/meridian-lms/internal/registry"
)

// DefaultSnapshotTTL bounds how long a snapshot may serve without
// recomputation, independent of version invalidation.
const DefaultSnapshotTTL = 15 * time.Minute

// Version counter scopes.
const (
	versionKeyRoles       = "authz:version:roles"
	versionKeyDepartments = "authz:version:departments"
	versionKeyUserPrefix  = "authz:version:user:"
)

// MembershipSource supplies a user's department memberships.
type MembershipSource interface {
	MembershipsOf(ctx context.Context, userID int64) ([]membership.Membership, error)
}

// HierarchySource supplies the current department tree index.
type HierarchySource interface {
	Index(ctx context.Context) (*department.Index, error)
}

// UserTypeSource supplies the user types an account carries.
type UserTypeSource interface {
	UserTypesOf(ctx context.Context, userID int64) ([]registry.UserType, error)
}

// BuildObserver counts snapshot recomputations.
type BuildObserver interface {
	ObserveSnapshotBuild()
}

// Cache builds and serves UserPermissions snapshots.
//
// Snapshots live in process memory and stay valid while their TTL has not
// elapsed and the version counters in Redis have not moved. Version bumps
// are atomic Redis increments, so snapshots held by other processes become
// detectably stale. Concurrent recomputations for one user coalesce through
// a singleflight group.
type Cache struct {
	memberships MembershipSource
	departments HierarchySource
	registry    *registry.Registry
	users       UserTypeSource
	client      *redis.Client
	ttl         time.Duration
	logger      *slog.Logger
	observer    BuildObserver

	mu        sync.RWMutex
	snapshots map[int64]*UserPermissions
	group     singleflight.Group
}

// NewCache constructs the snapshot cache. A zero ttl falls back to
// DefaultSnapshotTTL.
func NewCache(memberships MembershipSource, departments HierarchySource, reg *registry.Registry, users UserTypeSource, client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &Cache{
		memberships: memberships,
		departments: departments,
		registry:    reg,
		users:       users,
		client:      client,
		ttl:         ttl,
		logger:      logger,
		snapshots:   make(map[int64]*UserPermissions),
	}
}

// SetObserver registers a build counter. Call before the cache serves requests.
func (c *Cache) SetObserver(observer BuildObserver) {
	c.observer = observer
}

// Get returns the user's snapshot, recomputing when it is expired or its
// version no longer matches the counters. Concurrent calls for the same
// stale user trigger a single recomputation.
func (c *Cache) Get(ctx context.Context, userID int64) (*UserPermissions, error) {
	version, err := c.currentVersion(ctx, userID)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	snapshot := c.snapshots[userID]
	c.mu.RUnlock()
	if snapshot != nil && !snapshot.Expired(time.Now()) && snapshot.Version == version {
		return snapshot, nil
	}

	resultChan := c.group.DoChan(strconv.FormatInt(userID, 10), func() (interface{}, error) {
		fresh, err := c.compute(ctx, userID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.snapshots[userID] = fresh
		c.mu.Unlock()
		return fresh, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*UserPermissions), nil
	}
}

// Invalidate drops the local snapshot and bumps the user's version counter
// so other processes recompute as well.
func (c *Cache) Invalidate(ctx context.Context, userID int64) error {
	c.mu.Lock()
	delete(c.snapshots, userID)
	c.mu.Unlock()
	return c.BumpUserVersion(ctx, userID)
}

// BumpRolesVersion invalidates every snapshot after role definition changes.
func (c *Cache) BumpRolesVersion(ctx context.Context) error {
	return c.bump(ctx, versionKeyRoles)
}

// BumpDepartmentsVersion invalidates every snapshot after tree changes.
func (c *Cache) BumpDepartmentsVersion(ctx context.Context) error {
	return c.bump(ctx, versionKeyDepartments)
}

// BumpUserVersion invalidates one user's snapshots after membership changes.
func (c *Cache) BumpUserVersion(ctx context.Context, userID int64) error {
	return c.bump(ctx, versionKeyUserPrefix+strconv.FormatInt(userID, 10))
}

func (c *Cache) bump(ctx context.Context, key string) error {
	if c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, key).Err()
}

// currentVersion folds the role, department and per-user counters into the
// version a fresh snapshot would carry.
func (c *Cache) currentVersion(ctx context.Context, userID int64) (int64, error) {
	if c.client == nil {
		return 1, nil
	}
	// Base version sits below the first INCR result so the very first bump
	// already invalidates.
	keys := []string{versionKeyRoles, versionKeyDepartments, versionKeyUserPrefix + strconv.FormatInt(userID, 10)}
	version := int64(0)
	for _, key := range keys {
		v, err := c.client.Get(ctx, key).Int64()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return 0, fmt.Errorf("authz: read version %s: %w", key, err)
		}
		if v > version {
			version = v
		}
	}
	return version, nil
}

// compute materializes a fresh snapshot from memberships, the registry and
// the department tree.
func (c *Cache) compute(ctx context.Context, userID int64) (*UserPermissions, error) {
	version, err := c.currentVersion(ctx, userID)
	if err != nil {
		return nil, err
	}
	userTypes, err := c.users.UserTypesOf(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("authz: user types: %w", err)
	}
	memberships, err := c.memberships.MembershipsOf(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("authz: memberships: %w", err)
	}
	idx, err := c.departments.Index(ctx)
	if err != nil {
		return nil, err
	}

	isGlobalAdmin := false
	for _, t := range userTypes {
		if t == registry.UserTypeGlobalAdmin {
			isGlobalAdmin = true
		}
	}

	now := time.Now()
	snapshot := &UserPermissions{
		UserID:              userID,
		DepartmentRights:    make(map[string][]string),
		DepartmentHierarchy: make(map[string][]string),
		ComputedAt:          now,
		ExpiresAt:           now.Add(c.ttl),
		Version:             version,
	}

	globalSeen := make(map[string]struct{})
	directRights := make(map[string][]string)
	for _, m := range memberships {
		if !m.IsActive {
			continue
		}
		deptID := m.DepartmentID
		for _, role := range m.Roles {
			// Global-admin roles grant rights everywhere; the membership
			// row's department is just where the assignment lives.
			if def, ok := c.registry.Lookup(registry.UserTypeGlobalAdmin, role); ok && isGlobalAdmin {
				effective, own := splitOwnRights(def.AccessRights)
				for _, right := range effective {
					if _, dup := globalSeen[right]; dup {
						continue
					}
					globalSeen[right] = struct{}{}
					snapshot.GlobalRights = append(snapshot.GlobalRights, right)
					snapshot.Permissions = append(snapshot.Permissions, Permission{
						Right:  right,
						Scope:  ScopeGlobal,
						Source: PermissionSource{Role: role},
					})
				}
				appendOwnPermissions(snapshot, role, nil, own)
				continue
			}
			for _, t := range userTypes {
				def, ok := c.registry.Lookup(t, role)
				if !ok {
					continue
				}
				effective, own := splitOwnRights(def.AccessRights)
				id := deptID
				for _, right := range effective {
					directRights[deptID] = append(directRights[deptID], right)
					snapshot.Permissions = append(snapshot.Permissions, Permission{
						Right:  right,
						Scope:  deptScopePrefix + deptID,
						Source: PermissionSource{Role: role, DepartmentID: &id},
					})
				}
				appendOwnPermissions(snapshot, role, &id, own)
				break
			}
		}
	}

	// Direct rights flow down to cascade-eligible descendants; the traversal
	// stops at the first department requiring explicit membership.
	for deptID, rights := range directRights {
		snapshot.DepartmentRights[deptID] = dedupe(rights)
		for _, target := range idx.CascadeTargets(deptID) {
			snapshot.DepartmentRights[target.ID] = dedupe(append(snapshot.DepartmentRights[target.ID], rights...))
		}
	}

	for _, d := range idx.All() {
		children := idx.ChildrenOf(d.ID)
		if len(children) == 0 {
			continue
		}
		ids := make([]string, len(children))
		for i, child := range children {
			ids[i] = child.ID
		}
		snapshot.DepartmentHierarchy[d.ID] = ids
	}

	sort.Strings(snapshot.GlobalRights)
	if c.observer != nil {
		c.observer.ObserveSnapshotBuild()
	}
	return snapshot, nil
}

func splitOwnRights(raw []string) (effective, own []string) {
	for _, right := range raw {
		if trimmed, ok := strings.CutPrefix(right, registry.OwnScopePrefix); ok {
			own = append(own, trimmed)
			continue
		}
		effective = append(effective, right)
	}
	return effective, own
}

func appendOwnPermissions(snapshot *UserPermissions, role string, deptID *string, own []string) {
	for _, right := range own {
		snapshot.Permissions = append(snapshot.Permissions, Permission{
			Right:  right,
			Scope:  ScopeOwn,
			Source: PermissionSource{Role: role, DepartmentID: deptID},
		})
	}
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
