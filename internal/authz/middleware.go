package authz

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/meridian-lms/meridian-lms/internal/platform/httpx"
	"github.com/meridian-lms/meridian-lms/internal/shared"
)

// DecisionObserver counts authorization decisions by reason.
type DecisionObserver interface {
	ObserveDecision(reason string)
}

// Middleware wires authorization checks for HTTP handlers.
type Middleware struct {
	Cache    *Cache
	Logger   *slog.Logger
	Observer DecisionObserver
}

func (m Middleware) observe(d Decision) Decision {
	if m.Observer != nil {
		m.Observer.ObserveDecision(d.Reason)
	}
	return d
}

// RequireAuth ensures a logged-in session backs the request.
func (m Middleware) RequireAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := m.CurrentUserID(r); !ok {
				httpx.Error(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "authentication required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRight ensures the caller holds the right globally.
func (m Middleware) RequireRight(right string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := m.CurrentUserID(r)
			if !ok {
				httpx.Error(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "authentication required")
				return
			}
			snapshot, err := m.Cache.Get(r.Context(), userID)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("authz require right", slog.String("right", right), slog.Any("error", err))
				}
				httpx.Error(w, http.StatusInternalServerError, "INTERNAL", "")
				return
			}
			decision := m.observe(Authorize(snapshot, right, CheckOptions{}))
			if !decision.Allowed {
				httpx.Error(w, http.StatusForbidden, httpx.CodeForbidden, "missing right "+right)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CurrentUserID resolves the authenticated user from the request session.
func (m Middleware) CurrentUserID(r *http.Request) (int64, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return 0, false
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Error("authz parse user id", slog.String("value", raw))
		}
		return 0, false
	}
	return id, true
}
