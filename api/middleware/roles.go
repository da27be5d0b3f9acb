package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/tutorbill-backend/api/responses"
	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tutorbill-backend/pkg/errors"
	"github.com/angelmondragon/tutorbill-backend/pkg/logger"
)

// RequireRole lets the request through when the authenticated role is one of
// roles. It must run after Auth; a request without a subject gets 401.
func RequireRole(logg *logger.Logger, roles ...enums.Role) func(http.Handler) http.Handler {
	allowed := make(map[enums.Role]bool, len(roles))
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		allowed[role] = true
		names = append(names, string(role))
	}
	denied := strings.Join(names, " or ") + " role required"

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := SubjectIDFromContext(r.Context()); !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			if !allowed[RoleFromContext(r.Context())] {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, denied))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
