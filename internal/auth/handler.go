package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-lms/meridian-lms/internal/department"
	"github.com/meridian-lms/meridian-lms/internal/escalation"
	"github.com/meridian-lms/meridian-lms/internal/platform/httpx"
	"github.com/meridian-lms/meridian-lms/internal/registry"
	"github.com/meridian-lms/meridian-lms/internal/shared"
)

// Handler wires HTTP endpoints for authentication, escalation and department
// switching.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	sessionManager *shared.SessionManager
	escalation     *escalation.Service
	switcher       *department.SwitchService
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager, esc *escalation.Service, switcher *department.SwitchService) *Handler {
	return &Handler{
		logger:         logger,
		service:        service,
		sessionManager: sessions,
		escalation:     esc,
		switcher:       switcher,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Group(func(r chi.Router) {
		r.Use(h.requireUser)
		r.Post("/logout", h.handleLogout)
		r.Post("/continue", h.handleContinue)
		r.With(httprate.LimitByIP(5, time.Minute)).Post("/escalate", h.handleEscalate)
		r.Post("/deescalate", h.handleDeescalate)
		r.Post("/switch-department", h.handleSwitchDepartment)
	})
}

// requireUser rejects requests without an authenticated session.
func (h *Handler) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := h.currentUserID(r); !ok {
			httpx.Error(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) currentUserID(r *http.Request) (int64, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil || sess.User() == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(sess.User(), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type userView struct {
	ID                     int64               `json:"id"`
	Email                  string              `json:"email"`
	UserTypes              []registry.UserType `json:"userTypes"`
	LastSelectedDepartment *string             `json:"lastSelectedDepartment"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, httpx.CodeValidationError, "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Error(w, http.StatusBadRequest, httpx.CodeValidationError, "email and password required")
		return
	}

	user, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, shared.ErrInvalidCredentials) {
			httpx.Error(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "invalid credentials")
			return
		}
		h.logger.Error("authenticate", slog.Any("error", err))
		httpx.Error(w, http.StatusInternalServerError, "INTERNAL", "")
		return
	}

	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during login")
		httpx.Error(w, http.StatusInternalServerError, "INTERNAL", "")
		return
	}
	sess.SetUser(strconv.FormatInt(user.ID, 10))
	expiresAt := time.Now().Add(h.sessionManager.TTL())
	if err := h.service.RegisterSession(r.Context(), sess.ID, user.ID, expiresAt, r.RemoteAddr, r.UserAgent()); err != nil {
		h.logger.Warn("register session", slog.Any("error", err))
	}

	httpx.JSON(w, http.StatusOK, map[string]any{"user": userView{
		ID:                     user.ID,
		Email:                  user.Email,
		UserTypes:              user.UserTypes,
		LastSelectedDepartment: user.LastSelectedDepartment,
	}})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
			h.logger.Warn("remove session", slog.Any("error", err))
		}
		h.sessionManager.Destroy(sess)
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleContinue renews the primary session. The admin token, if any, keeps
// its original window.
func (h *Handler) handleContinue(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if err := h.sessionManager.Renew(r.Context(), sess); err != nil {
		h.logger.Error("renew session", slog.Any("error", err))
		httpx.Error(w, http.StatusInternalServerError, "INTERNAL", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"expiresIn": int(h.sessionManager.TTL() / time.Second),
	})
}

type escalateRequest struct {
	EscalationPassword string `json:"escalationPassword" validate:"required"`
}

func (h *Handler) handleEscalate(w http.ResponseWriter, r *http.Request) {
	userID, _ := h.currentUserID(r)
	user, err := h.service.User(r.Context(), userID)
	if err != nil {
		h.logger.Error("load user for escalation", slog.Any("error", err))
		httpx.Error(w, http.StatusInternalServerError, "INTERNAL", "")
		return
	}

	var req escalateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, httpx.CodeValidationError, "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Error(w, http.StatusBadRequest, httpx.CodeValidationError, "escalationPassword required")
		return
	}

	session, err := h.escalation.Escalate(r.Context(), escalation.Actor{ID: user.ID, UserTypes: user.UserTypes}, req.EscalationPassword)
	if err != nil {
		switch {
		case errors.Is(err, shared.ErrNotAdmin):
			httpx.Error(w, http.StatusForbidden, httpx.CodeNotAdmin, "global-admin capability required")
		case errors.Is(err, escalation.ErrInvalidSecret):
			httpx.Error(w, http.StatusUnauthorized, httpx.CodeInvalidEscalationPassword, "invalid escalation password")
		default:
			h.logger.Error("escalate", slog.Any("error", err))
			httpx.Error(w, http.StatusInternalServerError, "INTERNAL", "")
		}
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"adminSession": session})
}

func (h *Handler) handleDeescalate(w http.ResponseWriter, r *http.Request) {
	raw := r.Header.Get(escalation.AdminTokenHeader)
	if raw == "" {
		httpx.Error(w, http.StatusUnauthorized, httpx.CodeAdminTokenRequired, "admin token required")
		return
	}
	if err := h.escalation.Deescalate(r.Context(), raw); err != nil {
		escalation.RespondTokenError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type switchRequest struct {
	DepartmentID string `json:"departmentId" validate:"required"`
}

func (h *Handler) handleSwitchDepartment(w http.ResponseWriter, r *http.Request) {
	userID, _ := h.currentUserID(r)
	user, err := h.service.User(r.Context(), userID)
	if err != nil {
		h.logger.Error("load user for switch", slog.Any("error", err))
		httpx.Error(w, http.StatusInternalServerError, "INTERNAL", "")
		return
	}

	var req switchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, httpx.CodeValidationError, "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Error(w, http.StatusBadRequest, httpx.CodeValidationError, "departmentId required")
		return
	}

	result, err := h.switcher.Switch(r.Context(), department.Actor{ID: user.ID, UserTypes: user.UserTypes}, req.DepartmentID)
	if err != nil {
		switch {
		case errors.Is(err, department.ErrDepartmentNotFound):
			httpx.Error(w, http.StatusNotFound, httpx.CodeDepartmentNotFound, "department not found")
		case errors.Is(err, shared.ErrNotAMember):
			httpx.Error(w, http.StatusForbidden, httpx.CodeNotAMember, "no membership grants access to this department")
		case errors.Is(err, httpx.ErrForbidden):
			httpx.Error(w, http.StatusForbidden, httpx.CodeForbidden, "department is not active")
		default:
			h.logger.Error("switch department", slog.Any("error", err))
			httpx.Error(w, http.StatusInternalServerError, "INTERNAL", "")
		}
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}
