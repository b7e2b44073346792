package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Roles issued by the records API.
const (
	RoleAdmin        = "admin"
	RoleDoctor       = "medico"
	RoleProfessional = "profesional"
	RolePatient      = "paciente"
)

// DoctorRoles may search patient histories.
var DoctorRoles = []string{RoleDoctor, RoleProfessional}

// HasRole reports whether granted contains one of required. Admin passes
// every check.
func HasRole(granted []string, required ...string) bool {
	for _, has := range granted {
		if has == RoleAdmin {
			return true
		}
		for _, r := range required {
			if has == r {
				return true
			}
		}
	}
	return false
}

// holdsAny reports exact membership; admin gets no special treatment.
func holdsAny(granted []string, roles ...string) bool {
	for _, has := range granted {
		for _, r := range roles {
			if has == r {
				return true
			}
		}
	}
	return false
}

// IsDoctor reports whether granted carries a doctor role. Admin is not a doctor.
func IsDoctor(granted []string) bool {
	return holdsAny(granted, DoctorRoles...)
}

// DenyRole returns middleware that rejects users holding any of roles.
func DenyRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if holdsAny(RolesFromContext(c.Request().Context()), roles...) {
				return echo.NewHTTPError(http.StatusForbidden,
					fmt.Sprintf("not allowed for role: %s", strings.Join(roles, " or ")))
			}
			return next(c)
		}
	}
}

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasRole(RolesFromContext(c.Request().Context()), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}
