package authz

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-lms/meridian-lms/internal/membership"
	"github.com/meridian-lms/meridian-lms/internal/registry"
	"github.com/meridian-lms/meridian-lms/internal/shared"
)

type recordingObserver struct {
	reasons []string
}

func (o *recordingObserver) ObserveDecision(reason string) {
	o.reasons = append(o.reasons, reason)
}

func middlewareCache(t *testing.T) *Cache {
	t.Helper()
	memberships := &stubMembershipSource{memberships: []membership.Membership{
		{DepartmentID: "master", Roles: []string{"platform-admin"}, IsActive: true},
	}}
	cache, _ := newTestCache(t, memberships, []registry.UserType{registry.UserTypeGlobalAdmin}, time.Minute)
	return cache
}

func requestWithUser(userID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess := &shared.Session{}
	sess.SetUser(userID)
	return req.WithContext(shared.ContextWithSession(req.Context(), sess))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAuthRejectsAnonymous(t *testing.T) {
	mw := Middleware{Cache: middlewareCache(t)}
	handler := mw.RequireAuth()(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithUser("1"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireRightAllowsHolder(t *testing.T) {
	observer := &recordingObserver{}
	mw := Middleware{Cache: middlewareCache(t), Observer: observer}
	handler := mw.RequireRight("system:roles:update")(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithUser("1"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{ReasonGlobalRight}, observer.reasons)
}

func TestRequireRightDeniesMissingRight(t *testing.T) {
	memberships := &stubMembershipSource{memberships: []membership.Membership{
		{DepartmentID: "mathematics", Roles: []string{"student"}, IsActive: true},
	}}
	cache, _ := newTestCache(t, memberships, []registry.UserType{registry.UserTypeLearner}, time.Minute)
	observer := &recordingObserver{}
	mw := Middleware{Cache: cache, Observer: observer}
	handler := mw.RequireRight("system:roles:update")(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithUser("7"))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, []string{ReasonDenied}, observer.reasons)
}

func TestRequireRightRejectsAnonymous(t *testing.T) {
	mw := Middleware{Cache: middlewareCache(t)}
	handler := mw.RequireRight("system:roles:update")(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCurrentUserIDRejectsMalformedSession(t *testing.T) {
	mw := Middleware{}

	_, ok := mw.CurrentUserID(requestWithUser("not-a-number"))
	assert.False(t, ok)

	_, ok = mw.CurrentUserID(requestWithUser("   "))
	assert.False(t, ok)
}
