package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/meridian-lms/meridian-lms/internal/auth"
	"github.com/meridian-lms/meridian-lms/internal/authz"
	"github.com/meridian-lms/meridian-lms/internal/escalation"
	"github.com/meridian-lms/meridian-lms/internal/observability"
	"github.com/meridian-lms/meridian-lms/internal/registry"
	"github.com/meridian-lms/meridian-lms/internal/shared"
	"github.com/meridian-lms/meridian-lms/jobs"
)

// RouteGuard bundles the session-based right check with the admin-token
// check. Mutating registry routes require both.
type RouteGuard struct {
	Authz      authz.Middleware
	Escalation escalation.Middleware
}

// RequireRight delegates to the permission middleware.
func (g RouteGuard) RequireRight(right string) func(http.Handler) http.Handler {
	return g.Authz.RequireRight(right)
}

// RequireAdminToken delegates to the escalation middleware.
func (g RouteGuard) RequireAdminToken() func(http.Handler) http.Handler {
	return g.Escalation.RequireAdminToken()
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	SessionManager  *shared.SessionManager
	AuthHandler     *auth.Handler
	RegistryHandler *registry.Handler
	AuthzHandler    *authz.Handler
	JobHandler      *jobs.Handler
	Metrics         *observability.Metrics
}

// NewRouter constructs the chi.Router with Meridian defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/auth", params.AuthHandler.MountRoutes)

	r.Route("/roles", func(r chi.Router) {
		params.AuthzHandler.MountMeRoutes(r)
		params.RegistryHandler.MountRoleRoutes(r)
	})
	r.Route("/access-rights", params.RegistryHandler.MountAccessRightsRoutes)

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
