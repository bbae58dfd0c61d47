package auth

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/meridian-lms/meridian-lms/internal/department"
	"github.com/meridian-lms/meridian-lms/internal/escalation"
	"github.com/meridian-lms/meridian-lms/internal/membership"
	"github.com/meridian-lms/meridian-lms/internal/registry"
	"github.com/meridian-lms/meridian-lms/internal/shared"
	"github.com/meridian-lms/meridian-lms/internal/users"
)

type stubAuthRepo struct {
	created []string
	deleted []string
}

func (s *stubAuthRepo) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	s.created = append(s.created, id)
	return nil
}

func (s *stubAuthRepo) DeleteSession(ctx context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

type stubUserSource struct {
	accounts []*users.User
}

func (s *stubUserSource) Get(ctx context.Context, id int64) (*users.User, error) {
	for _, u := range s.accounts {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (s *stubUserSource) FindByEmail(ctx context.Context, email string) (*users.User, error) {
	for _, u := range s.accounts {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, shared.ErrNotFound
}

type stubSecretSource struct {
	hashes map[int64]string
}

func (s *stubSecretSource) EscalationSecretOf(ctx context.Context, userID int64) (string, error) {
	hash, ok := s.hashes[userID]
	if !ok {
		return "", shared.ErrNotFound
	}
	return hash, nil
}

type stubMembershipSource struct {
	byUser map[int64][]membership.Membership
}

func (s *stubMembershipSource) MembershipsOf(ctx context.Context, userID int64) ([]membership.Membership, error) {
	return s.byUser[userID], nil
}

type stubDeptRepo struct {
	departments []department.Department
}

func (s *stubDeptRepo) ListAll(ctx context.Context) ([]department.Department, error) {
	return s.departments, nil
}

func (s *stubDeptRepo) Get(ctx context.Context, id string) (department.Department, error) {
	for _, d := range s.departments {
		if d.ID == id {
			return d, nil
		}
	}
	return department.Department{}, shared.ErrNotFound
}

func (s *stubDeptRepo) Insert(ctx context.Context, d department.Department) (department.Department, error) {
	return d, nil
}

func (s *stubDeptRepo) Update(ctx context.Context, d department.Department) (department.Department, error) {
	return d, nil
}

func (s *stubDeptRepo) UpdatePaths(ctx context.Context, departments []department.Department) error {
	return nil
}

func (s *stubDeptRepo) Delete(ctx context.Context, id string) error { return nil }

type stubLastSelected struct{}

func (s *stubLastSelected) SetLastSelectedDepartment(ctx context.Context, userID int64, departmentID string) error {
	return nil
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

type commitOnWrite struct {
	http.ResponseWriter
	commit    func()
	committed bool
}

func (w *commitOnWrite) flush() {
	if !w.committed {
		w.committed = true
		w.commit()
	}
}

func (w *commitOnWrite) WriteHeader(code int) {
	w.flush()
	w.ResponseWriter.WriteHeader(code)
}

func (w *commitOnWrite) Write(b []byte) (int, error) {
	w.flush()
	return w.ResponseWriter.Write(b)
}

type authFixture struct {
	router   chi.Router
	repo     *stubAuthRepo
	sessions *shared.SessionManager
}

const (
	adminPassword   = "correct-horse-battery"
	adminEscalation = "second-factor-secret"
)

func strPtr(s string) *string { return &s }

func mustHash(t *testing.T, secret string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessions := shared.NewSessionManager(client, "meridian_session", "test-secret", time.Hour, false)

	accounts := &stubUserSource{accounts: []*users.User{
		{
			ID: 1, Email: "admin@meridian.local", PasswordHash: mustHash(t, adminPassword),
			UserTypes: []registry.UserType{registry.UserTypeGlobalAdmin, registry.UserTypeStaff},
			IsActive:  true,
		},
		{
			ID: 2, Email: "teacher@meridian.local", PasswordHash: mustHash(t, adminPassword),
			UserTypes: []registry.UserType{registry.UserTypeStaff},
			IsActive:  true,
		},
		{
			ID: 3, Email: "suspended@meridian.local", PasswordHash: mustHash(t, adminPassword),
			UserTypes: []registry.UserType{registry.UserTypeStaff},
			IsActive:  false,
		},
	}}

	reg := registry.New(&stubRegistryRepo{defs: []registry.RoleDefinition{
		{Name: "platform-admin", UserType: registry.UserTypeGlobalAdmin, AccessRights: []string{"*"}, IsActive: true},
		{Name: "instructor", UserType: registry.UserTypeStaff, AccessRights: []string{"content:courses:*"}, IsActive: true},
	}}, nil, false)
	require.NoError(t, reg.Refresh(context.Background()))

	memberships := &stubMembershipSource{byUser: map[int64][]membership.Membership{
		1: {{DepartmentID: department.MasterDepartmentID, Roles: []string{"platform-admin"}, IsActive: true}},
		2: {{DepartmentID: "mathematics", Roles: []string{"instructor"}, IsActive: true}},
	}}

	deptRepo := &stubDeptRepo{departments: []department.Department{
		{ID: "faculty-science", Name: "Faculty of Science", Level: 0, Path: []string{"faculty-science"}, IsVisible: true, IsActive: true},
		{ID: "mathematics", ParentID: strPtr("faculty-science"), Name: "Mathematics", Level: 1, Path: []string{"faculty-science", "mathematics"}, IsVisible: true, IsActive: true},
	}}
	departments := department.NewService(deptRepo, nil, nil)
	switcher := department.NewSwitchService(departments, memberships, reg, &stubLastSelected{}, nil)

	esc := escalation.NewService(
		escalation.NewTokenCodec("signing-secret"),
		&stubSecretSource{hashes: map[int64]string{1: mustHash(t, adminEscalation)}},
		memberships, reg, client, nil)

	repo := &stubAuthRepo{}
	handler := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), NewService(repo, accounts), sessions, esc, switcher)

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := sessions.Load(r.Context(), r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			r = r.WithContext(shared.ContextWithSession(r.Context(), sess))
			// The session must be committed before headers flush so the
			// cookie lands in the response.
			wrapped := &commitOnWrite{ResponseWriter: w, commit: func() {
				_ = sessions.Commit(r.Context(), w, r, sess)
			}}
			next.ServeHTTP(wrapped, r)
			wrapped.flush()
		})
	})
	router.Route("/auth", func(r chi.Router) { handler.MountRoutes(r) })

	return &authFixture{router: router, repo: repo, sessions: sessions}
}

func (f *authFixture) do(t *testing.T, method, path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *authFixture) login(t *testing.T, email string) *http.Cookie {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/auth/login", `{"email":"`+email+`","password":"`+adminPassword+`"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	for _, c := range rec.Result().Cookies() {
		if c.Name == f.sessions.CookieName() {
			return c
		}
	}
	t.Fatal("login response carries no session cookie")
	return nil
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, rec)
	envelope, ok := body["error"].(map[string]any)
	require.True(t, ok, "body %q carries no error envelope", rec.Body.String())
	code, _ := envelope["code"].(string)
	return code
}

func TestLoginSetsSessionAndReturnsUser(t *testing.T) {
	f := newAuthFixture(t)

	rec := f.do(t, http.MethodPost, "/auth/login", `{"email":"admin@meridian.local","password":"`+adminPassword+`"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	user, ok := body["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), user["id"])
	assert.Equal(t, "admin@meridian.local", user["email"])

	assert.Len(t, f.repo.created, 1)
	require.NotEmpty(t, rec.Result().Cookies())
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newAuthFixture(t)

	rec := f.do(t, http.MethodPost, "/auth/login", `{"email":"admin@meridian.local","password":"wrong-password"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, rec))

	// Unknown accounts answer identically.
	rec = f.do(t, http.MethodPost, "/auth/login", `{"email":"nobody@meridian.local","password":"`+adminPassword+`"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	f := newAuthFixture(t)

	rec := f.do(t, http.MethodPost, "/auth/login", `{"email":"suspended@meridian.local","password":"`+adminPassword+`"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginValidatesPayload(t *testing.T) {
	f := newAuthFixture(t)

	rec := f.do(t, http.MethodPost, "/auth/login", `{"email":"not-an-email","password":"short"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rec))
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	f := newAuthFixture(t)

	for _, path := range []string{"/auth/escalate", "/auth/switch-department", "/auth/continue", "/auth/logout"} {
		rec := f.do(t, http.MethodPost, path, `{}`, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestEscalateReturnsAdminSession(t *testing.T) {
	f := newAuthFixture(t)
	cookie := f.login(t, "admin@meridian.local")

	rec := f.do(t, http.MethodPost, "/auth/escalate", `{"escalationPassword":"`+adminEscalation+`"}`, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	session, ok := body["adminSession"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(900), session["expiresIn"])
	assert.NotEmpty(t, session["adminToken"])
}

func TestEscalateWrongPassword(t *testing.T) {
	f := newAuthFixture(t)
	cookie := f.login(t, "admin@meridian.local")

	rec := f.do(t, http.MethodPost, "/auth/escalate", `{"escalationPassword":"nope"}`, cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_ESCALATION_PASSWORD", errorCode(t, rec))
}

func TestEscalateRequiresGlobalAdmin(t *testing.T) {
	f := newAuthFixture(t)
	cookie := f.login(t, "teacher@meridian.local")

	rec := f.do(t, http.MethodPost, "/auth/escalate", `{"escalationPassword":"`+adminEscalation+`"}`, cookie)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "NOT_ADMIN", errorCode(t, rec))
}

func TestDeescalateRevokesToken(t *testing.T) {
	f := newAuthFixture(t)
	cookie := f.login(t, "admin@meridian.local")

	rec := f.do(t, http.MethodPost, "/auth/escalate", `{"escalationPassword":"`+adminEscalation+`"}`, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	session := decodeBody(t, rec)["adminSession"].(map[string]any)
	token := session["adminToken"].(string)

	req := httptest.NewRequest(http.MethodPost, "/auth/deescalate", nil)
	req.AddCookie(cookie)
	req.Header.Set(escalation.AdminTokenHeader, token)
	out := httptest.NewRecorder()
	f.router.ServeHTTP(out, req)
	assert.Equal(t, http.StatusNoContent, out.Code)
}

func TestDeescalateWithoutToken(t *testing.T) {
	f := newAuthFixture(t)
	cookie := f.login(t, "admin@meridian.local")

	rec := f.do(t, http.MethodPost, "/auth/deescalate", "", cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "ADMIN_TOKEN_REQUIRED", errorCode(t, rec))
}

func TestSwitchDepartment(t *testing.T) {
	f := newAuthFixture(t)
	cookie := f.login(t, "teacher@meridian.local")

	rec := f.do(t, http.MethodPost, "/auth/switch-department", `{"departmentId":"mathematics"}`, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["isDirectMember"])
	current, ok := body["currentDepartment"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "mathematics", current["id"])
}

func TestSwitchDepartmentErrors(t *testing.T) {
	f := newAuthFixture(t)
	cookie := f.login(t, "teacher@meridian.local")

	rec := f.do(t, http.MethodPost, "/auth/switch-department", `{"departmentId":"does-not-exist"}`, cookie)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "DEPARTMENT_NOT_FOUND", errorCode(t, rec))

	// A department outside the user's membership and cascade reach.
	rec = f.do(t, http.MethodPost, "/auth/switch-department", `{"departmentId":"faculty-science"}`, cookie)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "NOT_A_MEMBER", errorCode(t, rec))
}

func TestContinueRenewsSession(t *testing.T) {
	f := newAuthFixture(t)
	cookie := f.login(t, "admin@meridian.local")

	rec := f.do(t, http.MethodPost, "/auth/continue", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(3600), body["expiresIn"])
}

func TestLogoutDestroysSession(t *testing.T) {
	f := newAuthFixture(t)
	cookie := f.login(t, "admin@meridian.local")

	rec := f.do(t, http.MethodPost, "/auth/logout", "", cookie)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{cookie.Value}, f.repo.deleted)

	// The session no longer authenticates.
	rec = f.do(t, http.MethodPost, "/auth/continue", "", cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
