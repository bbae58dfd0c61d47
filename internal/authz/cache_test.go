package authz

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-lms/meridian-lms/internal/department"
	"github.com/meridian-lms/meridian-lms/internal/membership"
	"github.com/meridian-lms/meridian-lms/internal/registry"
)

type stubMembershipSource struct {
	memberships []membership.Membership
	calls       atomic.Int64
	block       chan struct{}
}

func (s *stubMembershipSource) MembershipsOf(ctx context.Context, userID int64) ([]membership.Membership, error) {
	s.calls.Add(1)
	if s.block != nil {
		<-s.block
	}
	return s.memberships, nil
}

type stubHierarchySource struct {
	departments []department.Department
}

func (s *stubHierarchySource) Index(ctx context.Context) (*department.Index, error) {
	return department.NewIndex(s.departments), nil
}

type stubUserTypes struct {
	types []registry.UserType
}

func (s *stubUserTypes) UserTypesOf(ctx context.Context, userID int64) ([]registry.UserType, error) {
	return s.types, nil
}

type stubRegistryRepo struct {
	defs []registry.RoleDefinition
}

func (s *stubRegistryRepo) ListRoleDefinitions(ctx context.Context) ([]registry.RoleDefinition, error) {
	return s.defs, nil
}

func (s *stubRegistryRepo) UpdateAccessRights(ctx context.Context, name string, rights []string) (registry.RoleDefinition, error) {
	return registry.RoleDefinition{}, nil
}

func strPtr(s string) *string { return &s }

func cacheTree() []department.Department {
	return []department.Department{
		{ID: "faculty-science", Name: "Faculty of Science", Level: 0, Path: []string{"faculty-science"}, IsVisible: true, IsActive: true},
		{ID: "mathematics", ParentID: strPtr("faculty-science"), Name: "Mathematics", Level: 1, Path: []string{"faculty-science", "mathematics"}, IsVisible: true, IsActive: true},
		{ID: "algebra", ParentID: strPtr("mathematics"), Name: "Algebra Group", Level: 2, Path: []string{"faculty-science", "mathematics", "algebra"}, IsVisible: true, IsActive: true},
		{ID: "exam-board", ParentID: strPtr("faculty-science"), Name: "Examination Board", Level: 1, Path: []string{"faculty-science", "exam-board"}, IsVisible: true, RequireExplicitMembership: true, IsActive: true},
	}
}

func loadedTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New(&stubRegistryRepo{defs: []registry.RoleDefinition{
		{Name: "student", UserType: registry.UserTypeLearner, AccessRights: []string{"content:courses:read", "own:submissions:assignments:write"}, IsActive: true},
		{Name: "department-head", UserType: registry.UserTypeStaff, AccessRights: []string{"content:*", "grading:*"}, IsActive: true},
		{Name: "platform-admin", UserType: registry.UserTypeGlobalAdmin, AccessRights: []string{"*"}, IsActive: true},
	}}, nil, false)
	require.NoError(t, reg.Refresh(context.Background()))
	return reg
}

func newTestCache(t *testing.T, memberships *stubMembershipSource, types []registry.UserType, ttl time.Duration) (*Cache, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewCache(
		memberships,
		&stubHierarchySource{departments: cacheTree()},
		loadedTestRegistry(t),
		&stubUserTypes{types: types},
		client,
		ttl,
		nil,
	)
	return cache, client
}

func TestGetComputesDepartmentRightsWithCascade(t *testing.T) {
	memberships := &stubMembershipSource{memberships: []membership.Membership{
		{DepartmentID: "faculty-science", Roles: []string{"department-head"}, IsActive: true},
	}}
	cache, _ := newTestCache(t, memberships, []registry.UserType{registry.UserTypeStaff}, time.Minute)

	snapshot, err := cache.Get(context.Background(), 42)
	require.NoError(t, err)

	assert.Equal(t, int64(42), snapshot.UserID)
	assert.Empty(t, snapshot.GlobalRights)
	assert.Equal(t, []string{"content:*", "grading:*"}, snapshot.DepartmentRights["faculty-science"])
	// Rights cascade to eligible descendants but stop at the gate.
	assert.Equal(t, []string{"content:*", "grading:*"}, snapshot.DepartmentRights["mathematics"])
	assert.Equal(t, []string{"content:*", "grading:*"}, snapshot.DepartmentRights["algebra"])
	assert.NotContains(t, snapshot.DepartmentRights, "exam-board")
	// The hierarchy map always carries the full tree edges.
	assert.Contains(t, snapshot.DepartmentHierarchy["faculty-science"], "exam-board")
}

func TestGetSplitsOwnScopedRights(t *testing.T) {
	memberships := &stubMembershipSource{memberships: []membership.Membership{
		{DepartmentID: "mathematics", Roles: []string{"student"}, IsActive: true},
	}}
	cache, _ := newTestCache(t, memberships, []registry.UserType{registry.UserTypeLearner}, time.Minute)

	snapshot, err := cache.Get(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, []string{"content:courses:read"}, snapshot.DepartmentRights["mathematics"])

	var ownRights []string
	for _, p := range snapshot.Permissions {
		if p.Scope == ScopeOwn {
			ownRights = append(ownRights, p.Right)
		}
	}
	assert.Equal(t, []string{"submissions:assignments:write"}, ownRights)
}

func TestGetGlobalAdminRightsAreNotDepartmentKeyed(t *testing.T) {
	memberships := &stubMembershipSource{memberships: []membership.Membership{
		{DepartmentID: department.MasterDepartmentID, Roles: []string{"platform-admin"}, IsActive: true},
	}}
	cache, _ := newTestCache(t, memberships, []registry.UserType{registry.UserTypeGlobalAdmin}, time.Minute)

	snapshot, err := cache.Get(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, []string{"*"}, snapshot.GlobalRights)
	assert.Empty(t, snapshot.DepartmentRights)
}

func TestGetServesCachedSnapshotWhileFresh(t *testing.T) {
	memberships := &stubMembershipSource{memberships: []membership.Membership{
		{DepartmentID: "mathematics", Roles: []string{"student"}, IsActive: true},
	}}
	cache, _ := newTestCache(t, memberships, []registry.UserType{registry.UserTypeLearner}, time.Minute)

	first, err := cache.Get(context.Background(), 7)
	require.NoError(t, err)
	second, err := cache.Get(context.Background(), 7)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int64(1), memberships.calls.Load())
}

func TestGetRecomputesAfterTTL(t *testing.T) {
	memberships := &stubMembershipSource{memberships: []membership.Membership{
		{DepartmentID: "mathematics", Roles: []string{"student"}, IsActive: true},
	}}
	cache, _ := newTestCache(t, memberships, []registry.UserType{registry.UserTypeLearner}, time.Minute)

	first, err := cache.Get(context.Background(), 7)
	require.NoError(t, err)

	// Force expiry instead of sleeping.
	cache.mu.Lock()
	first.ExpiresAt = time.Now().Add(-time.Second)
	cache.mu.Unlock()

	second, err := cache.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, int64(2), memberships.calls.Load())
}

func TestGetRecomputesAfterVersionBump(t *testing.T) {
	memberships := &stubMembershipSource{memberships: []membership.Membership{
		{DepartmentID: "mathematics", Roles: []string{"student"}, IsActive: true},
	}}
	cache, _ := newTestCache(t, memberships, []registry.UserType{registry.UserTypeLearner}, time.Minute)

	first, err := cache.Get(context.Background(), 7)
	require.NoError(t, err)

	require.NoError(t, cache.BumpUserVersion(context.Background(), 7))

	second, err := cache.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Greater(t, second.Version, first.Version)
}

func TestBumpRolesVersionInvalidatesEveryUser(t *testing.T) {
	memberships := &stubMembershipSource{memberships: []membership.Membership{
		{DepartmentID: "mathematics", Roles: []string{"student"}, IsActive: true},
	}}
	cache, _ := newTestCache(t, memberships, []registry.UserType{registry.UserTypeLearner}, time.Minute)

	_, err := cache.Get(context.Background(), 7)
	require.NoError(t, err)
	_, err = cache.Get(context.Background(), 8)
	require.NoError(t, err)
	require.Equal(t, int64(2), memberships.calls.Load())

	require.NoError(t, cache.BumpRolesVersion(context.Background()))

	_, err = cache.Get(context.Background(), 7)
	require.NoError(t, err)
	_, err = cache.Get(context.Background(), 8)
	require.NoError(t, err)
	assert.Equal(t, int64(4), memberships.calls.Load())
}

func TestGetCoalescesConcurrentRecomputation(t *testing.T) {
	memberships := &stubMembershipSource{
		memberships: []membership.Membership{
			{DepartmentID: "mathematics", Roles: []string{"student"}, IsActive: true},
		},
		block: make(chan struct{}),
	}
	cache, _ := newTestCache(t, memberships, []registry.UserType{registry.UserTypeLearner}, time.Minute)

	const workers = 8
	var wg sync.WaitGroup
	results := make([]*UserPermissions, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.Get(context.Background(), 7)
		}(i)
	}

	// Give the goroutines time to pile onto the singleflight group, then
	// release the single in-flight computation.
	time.Sleep(50 * time.Millisecond)
	close(memberships.block)
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}
	assert.Equal(t, int64(1), memberships.calls.Load())
}

func TestGetHonoursContextCancellation(t *testing.T) {
	memberships := &stubMembershipSource{
		memberships: []membership.Membership{},
		block:       make(chan struct{}),
	}
	cache, _ := newTestCache(t, memberships, []registry.UserType{registry.UserTypeLearner}, time.Minute)
	defer close(memberships.block)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := cache.Get(ctx, 7)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCacheWorksWithoutRedis(t *testing.T) {
	memberships := &stubMembershipSource{memberships: []membership.Membership{
		{DepartmentID: "mathematics", Roles: []string{"student"}, IsActive: true},
	}}
	cache := NewCache(
		memberships,
		&stubHierarchySource{departments: cacheTree()},
		loadedTestRegistry(t),
		&stubUserTypes{types: []registry.UserType{registry.UserTypeLearner}},
		nil,
		time.Minute,
		nil,
	)

	snapshot, err := cache.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snapshot.Version)
	require.NoError(t, cache.BumpUserVersion(context.Background(), 7))
}

func TestInvalidateDropsSnapshot(t *testing.T) {
	memberships := &stubMembershipSource{memberships: []membership.Membership{
		{DepartmentID: "mathematics", Roles: []string{"student"}, IsActive: true},
	}}
	cache, _ := newTestCache(t, memberships, []registry.UserType{registry.UserTypeLearner}, time.Minute)

	_, err := cache.Get(context.Background(), 7)
	require.NoError(t, err)

	require.NoError(t, cache.Invalidate(context.Background(), 7))

	_, err = cache.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(2), memberships.calls.Load())
}
