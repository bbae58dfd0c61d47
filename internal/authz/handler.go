package authz

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-lms/meridian-lms/internal/platform/httpx"
)

// Handler serves the caller's own permission view.
type Handler struct {
	logger *slog.Logger
	cache  *Cache
	mw     Middleware
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, cache *Cache) *Handler {
	return &Handler{logger: logger, cache: cache, mw: Middleware{Cache: cache, Logger: logger}}
}

// MountMeRoutes registers the /roles/me routes on the /roles subrouter.
func (h *Handler) MountMeRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireAuth())
		r.Get("/me", h.myPermissions)
		r.Get("/me/department/{departmentId}", h.myDepartmentPermissions)
	})
}

func (h *Handler) myPermissions(w http.ResponseWriter, r *http.Request) {
	userID, _ := h.mw.CurrentUserID(r)
	snapshot, err := h.cache.Get(r.Context(), userID)
	if err != nil {
		h.logger.Error("load permission snapshot", slog.Int64("user_id", userID), slog.Any("error", err))
		httpx.Error(w, http.StatusInternalServerError, "INTERNAL", "")
		return
	}
	httpx.JSON(w, http.StatusOK, snapshot)
}

func (h *Handler) myDepartmentPermissions(w http.ResponseWriter, r *http.Request) {
	userID, _ := h.mw.CurrentUserID(r)
	deptID := chi.URLParam(r, "departmentId")
	snapshot, err := h.cache.Get(r.Context(), userID)
	if err != nil {
		h.logger.Error("load permission snapshot", slog.Int64("user_id", userID), slog.Any("error", err))
		httpx.Error(w, http.StatusInternalServerError, "INTERNAL", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"departmentId":     deptID,
		"departmentRights": snapshot.DepartmentRights[deptID],
		"globalRights":     snapshot.GlobalRights,
	})
}
