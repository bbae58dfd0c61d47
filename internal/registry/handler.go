package registry

import (
	"context"
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-lms/meridian-lms/internal/platform/httpx"
)

// Guard supplies the authorization middleware protecting mutating routes.
type Guard interface {
	RequireRight(right string) func(http.Handler) http.Handler
	RequireAdminToken() func(http.Handler) http.Handler
}

// VersionBumper invalidates permission snapshots after role mutations.
type VersionBumper interface {
	BumpRolesVersion(ctx context.Context) error
}

// Handler wires HTTP endpoints for the role registry.
type Handler struct {
	logger    *slog.Logger
	registry  *Registry
	repo      RepositoryPort
	guard     Guard
	bumper    VersionBumper
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, reg *Registry, repo RepositoryPort, guard Guard, bumper VersionBumper) *Handler {
	return &Handler{
		logger:    logger,
		registry:  reg,
		repo:      repo,
		guard:     guard,
		bumper:    bumper,
		validator: validator.New(),
	}
}

// MountRoleRoutes registers /roles routes.
func (h *Handler) MountRoleRoutes(r chi.Router) {
	r.Get("/", h.listRoles)
	r.Get("/{name}", h.getRole)
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAdminToken())
		r.Use(h.guard.RequireRight("system:roles:update"))
		r.Put("/{name}/access-rights", h.updateAccessRights)
	})
}

// MountAccessRightsRoutes registers /access-rights routes.
func (h *Handler) MountAccessRightsRoutes(r chi.Router) {
	r.Get("/", h.listAccessRights)
	r.Get("/role/{roleName}", h.accessRightsForRole)
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("userType"); raw != "" {
		userType := UserType(raw)
		if !userType.Valid() {
			httpx.Error(w, http.StatusBadRequest, httpx.CodeValidationError, "unknown user type")
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"roles": h.registry.RolesFor(userType)})
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": h.registry.All()})
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	def, ok := h.registry.LookupByName(name)
	if !ok {
		httpx.Error(w, http.StatusNotFound, httpx.CodeRoleNotFound, "role not found")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role": def})
}

type accessRightsPayload struct {
	AccessRights []string `json:"accessRights" validate:"required,min=1,dive,required"`
}

func (h *Handler) updateAccessRights(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := h.registry.LookupByName(name); !ok {
		httpx.Error(w, http.StatusNotFound, httpx.CodeRoleNotFound, "role not found")
		return
	}

	var payload accessRightsPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Error(w, http.StatusBadRequest, httpx.CodeValidationError, "invalid request body")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Error(w, http.StatusBadRequest, httpx.CodeValidationError, "accessRights required")
		return
	}
	for _, right := range payload.AccessRights {
		if !ValidRight(right) {
			httpx.Error(w, http.StatusUnprocessableEntity, httpx.CodeInvalidAccessRights, "malformed access right: "+right)
			return
		}
	}

	def, err := h.repo.UpdateAccessRights(r.Context(), name, payload.AccessRights)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.registry.Refresh(r.Context()); err != nil {
		h.logger.Error("registry refresh after update", slog.Any("error", err))
	}
	if h.bumper != nil {
		if err := h.bumper.BumpRolesVersion(r.Context()); err != nil {
			h.logger.Warn("bump roles version", slog.Any("error", err))
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role": def})
}

func (h *Handler) listAccessRights(w http.ResponseWriter, r *http.Request) {
	seen := make(map[string]struct{})
	var rights []string
	for _, def := range h.registry.All() {
		for _, right := range def.AccessRights {
			if _, dup := seen[right]; dup {
				continue
			}
			seen[right] = struct{}{}
			rights = append(rights, right)
		}
	}
	sort.Strings(rights)
	httpx.JSON(w, http.StatusOK, map[string]any{"accessRights": rights})
}

func (h *Handler) accessRightsForRole(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "roleName")
	def, ok := h.registry.LookupByName(name)
	if !ok {
		httpx.Error(w, http.StatusNotFound, httpx.CodeRoleNotFound, "role not found")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role": def.Name, "accessRights": def.AccessRights})
}
