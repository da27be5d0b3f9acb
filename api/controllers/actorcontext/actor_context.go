package actorcontext

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/tutorbill-backend/api/middleware"
	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tutorbill-backend/pkg/errors"
)

// ResolveTeacherID extracts the authenticated teacher and enforces the teacher role.
func ResolveTeacherID(r *http.Request) (uuid.UUID, error) {
	return resolve(r, enums.RoleTeacher)
}

// ResolveAdminID extracts the authenticated admin.
func ResolveAdminID(r *http.Request) (uuid.UUID, error) {
	return resolve(r, enums.RoleAdmin)
}

func resolve(r *http.Request, role enums.Role) (uuid.UUID, error) {
	ctx := r.Context()
	id, ok := middleware.SubjectIDFromContext(ctx)
	if !ok {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	if middleware.RoleFromContext(ctx) != role {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeForbidden, string(role)+" access required")
	}
	return id, nil
}
