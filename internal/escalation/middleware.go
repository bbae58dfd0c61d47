package escalation

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/meridian-lms/meridian-lms/internal/platform/httpx"
)

type claimsContextKey struct{}

// ContextWithClaims stores verified admin claims in context.
func ContextWithClaims(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// ClaimsFromContext extracts verified admin claims, if any.
func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(Claims)
	return claims, ok
}

// Middleware gates admin-only routes on a valid admin token.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// RequireAdminToken rejects requests lacking a currently valid, unexpired,
// unrevoked admin token. The primary session is checked elsewhere; both are
// required on admin-gated routes.
func (m Middleware) RequireAdminToken() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := m.Service.Verify(r.Context(), r.Header.Get(AdminTokenHeader))
			if err != nil {
				RespondTokenError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
		})
	}
}

// RespondTokenError maps token verification errors onto the error envelope.
func RespondTokenError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTokenRequired):
		httpx.Error(w, http.StatusUnauthorized, httpx.CodeAdminTokenRequired, "admin token required")
	case errors.Is(err, ErrTokenExpired):
		httpx.Error(w, http.StatusUnauthorized, httpx.CodeAdminTokenExpired, "admin token expired")
	case errors.Is(err, ErrTokenRevoked):
		httpx.Error(w, http.StatusUnauthorized, httpx.CodeAdminTokenExpired, "admin token revoked")
	case errors.Is(err, ErrTokenInvalid):
		httpx.Error(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "invalid admin token")
	default:
		httpx.Error(w, http.StatusInternalServerError, "INTERNAL", "")
	}
}
