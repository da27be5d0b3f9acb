// Package access decides which teacher and student actions the billing state permits.
package access

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/tutorbill-backend/internal/subscriptions"
	"github.com/angelmondragon/tutorbill-backend/pkg/db/models"
	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tutorbill-backend/pkg/errors"
)

// Reason explains a decision.
type Reason string

const (
	ReasonNone                  Reason = "none"
	ReasonSubscriptionRequired  Reason = "subscription_required"
	ReasonMaterialsLocked       Reason = "materials_locked"
	ReasonNotOwner              Reason = "not_owner"
	ReasonStudentNotEnrolled    Reason = "student_not_enrolled"
	ReasonMaterialAccessBlocked Reason = "material_access_blocked"
)

// Subject is the teacher account whose billing state governs the action.
type Subject struct {
	TeacherID uuid.UUID
	State     enums.AccessState
	Beta      bool
}

// SubjectFromStatus builds a subject from a subscription evaluation.
func SubjectFromStatus(teacherID uuid.UUID, status *subscriptions.Status) Subject {
	if status == nil {
		return Subject{TeacherID: teacherID, State: enums.AccessStateLocked}
	}
	return Subject{TeacherID: teacherID, State: status.State, Beta: status.Beta}
}

func (s Subject) locked() bool {
	if s.Beta {
		return false
	}
	return s.State != enums.AccessStateActive && s.State != enums.AccessStateGrace
}

// Decision is the outcome of one access check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason"`
}

func allow() Decision {
	return Decision{Allowed: true, Reason: ReasonNone}
}

func deny(reason Reason) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Err converts a denial into the typed error surfaced over HTTP. Allowed decisions return nil.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	switch d.Reason {
	case ReasonSubscriptionRequired:
		return pkgerrors.New(pkgerrors.CodeSubscriptionRequired, "an active subscription is required").
			WithDetails(map[string]any{"reason": d.Reason})
	case ReasonMaterialsLocked:
		return pkgerrors.New(pkgerrors.CodeMaterialsLocked, "materials are locked until dues are paid").
			WithDetails(map[string]any{"reason": d.Reason})
	case ReasonNotOwner:
		return pkgerrors.New(pkgerrors.CodeForbidden, "batch belongs to another teacher").
			WithDetails(map[string]any{"reason": d.Reason})
	default:
		return pkgerrors.New(pkgerrors.CodeForbidden, "material access denied").
			WithDetails(map[string]any{"reason": d.Reason})
	}
}

// CanCreateBatch allows new batches unless the account is locked.
func CanCreateBatch(subject Subject) Decision {
	if subject.locked() {
		return deny(ReasonSubscriptionRequired)
	}
	return allow()
}

// CanUploadMaterial requires ownership of the batch and an unlocked account.
func CanUploadMaterial(subject Subject, batch models.Batch) Decision {
	if batch.OwnerTeacherID != subject.TeacherID {
		return deny(ReasonNotOwner)
	}
	if subject.locked() {
		return deny(ReasonMaterialsLocked)
	}
	return allow()
}

// CanAccessMaterial checks whether an enrolled student may view the batch materials.
// The per-student block applies regardless of subscription state or beta.
func CanAccessMaterial(subject Subject, batch models.Batch, enrollment *models.BatchStudent) Decision {
	if batch.OwnerTeacherID != subject.TeacherID {
		return deny(ReasonNotOwner)
	}
	if enrollment == nil || enrollment.BatchID != batch.ID {
		return deny(ReasonStudentNotEnrolled)
	}
	if enrollment.MaterialAccessBlocked {
		return deny(ReasonMaterialAccessBlocked)
	}
	if subject.locked() {
		return deny(ReasonMaterialsLocked)
	}
	return allow()
}
