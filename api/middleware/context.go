package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
)

type contextKey string

const (
	ctxSubjectID contextKey = "subject_id"
	ctxRole      contextKey = "actor_role"
)

// SubjectIDFromContext returns the authenticated teacher or admin id.
func SubjectIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	if ctx == nil {
		return uuid.Nil, false
	}
	id, ok := ctx.Value(ctxSubjectID).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

func RoleFromContext(ctx context.Context) enums.Role {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(enums.Role); ok {
		return v
	}
	return ""
}

// WithSubject seeds the context the way Auth does. Used by tests and internal callers.
func WithSubject(ctx context.Context, subjectID uuid.UUID, role enums.Role) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxSubjectID, subjectID)
	return context.WithValue(ctx, ctxRole, role)
}
