// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Stable error codes shared across the API surface.
const (
	CodeUnauthorized              = "UNAUTHORIZED"
	CodeForbidden                 = "FORBIDDEN"
	CodeNotAdmin                  = "NOT_ADMIN"
	CodeNotAMember                = "NOT_A_MEMBER"
	CodeDepartmentNotFound        = "DEPARTMENT_NOT_FOUND"
	CodeRoleNotFound              = "ROLE_NOT_FOUND"
	CodeInvalidEscalationPassword = "INVALID_ESCALATION_PASSWORD"
	CodeAdminTokenRequired        = "ADMIN_TOKEN_REQUIRED"
	CodeAdminTokenExpired         = "ADMIN_TOKEN_EXPIRED"
	CodeInvalidAccessRights       = "INVALID_ACCESS_RIGHTS"
	CodeValidationError           = "VALIDATION_ERROR"
)

// Sentinel errors for the domain layer.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicate    = errors.New("duplicate entry")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// RespondError maps domain errors to HTTP responses using the error envelope.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		Error(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, ErrDuplicate):
		Error(w, http.StatusConflict, "DUPLICATE", err.Error())
	case errors.Is(err, ErrValidation):
		Error(w, http.StatusBadRequest, CodeValidationError, err.Error())
	case errors.Is(err, ErrForbidden):
		Error(w, http.StatusForbidden, CodeForbidden, err.Error())
	case errors.Is(err, ErrUnauthorized):
		Error(w, http.StatusUnauthorized, CodeUnauthorized, err.Error())
	default:
		Error(w, http.StatusInternalServerError, "INTERNAL", "")
	}
}
