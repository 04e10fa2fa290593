package middleware

import (
	"net/http"

	"github.com/angelmondragon/labloan-backend/api/responses"
	"github.com/angelmondragon/labloan-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/labloan-backend/pkg/errors"
	"github.com/angelmondragon/labloan-backend/pkg/logger"
)

// RequireRole admits only callers holding role, e.g. the admin inventory routes.
func RequireRole(role enums.UserRole, logg *logger.Logger) func(http.Handler) http.Handler {
	return roleGate(logg, "role required", func(have enums.UserRole) bool { return have == role })
}

// RejectRole blocks callers holding the given role, e.g. admins filing borrow requests.
func RejectRole(role enums.UserRole, logg *logger.Logger) func(http.Handler) http.Handler {
	return roleGate(logg, "not available for this role", func(have enums.UserRole) bool { return have != role })
}

func roleGate(logg *logger.Logger, denial string, allowed func(enums.UserRole) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !allowed(RoleFromContext(r.Context())) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, denial))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
