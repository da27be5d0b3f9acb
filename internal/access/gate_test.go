package access

import (
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/tutorbill-backend/internal/subscriptions"
	"github.com/angelmondragon/tutorbill-backend/pkg/db/models"
	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tutorbill-backend/pkg/errors"
)

func TestCanCreateBatch(t *testing.T) {
	teacher := uuid.New()
	cases := []struct {
		name    string
		subject Subject
		allowed bool
		reason  Reason
	}{
		{"active", Subject{TeacherID: teacher, State: enums.AccessStateActive}, true, ReasonNone},
		{"grace", Subject{TeacherID: teacher, State: enums.AccessStateGrace}, true, ReasonNone},
		{"locked", Subject{TeacherID: teacher, State: enums.AccessStateLocked}, false, ReasonSubscriptionRequired},
		{"locked with beta", Subject{TeacherID: teacher, State: enums.AccessStateLocked, Beta: true}, true, ReasonNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CanCreateBatch(tc.subject)
			if got.Allowed != tc.allowed || got.Reason != tc.reason {
				t.Fatalf("expected %v/%s, got %v/%s", tc.allowed, tc.reason, got.Allowed, got.Reason)
			}
		})
	}
}

func TestCanUploadMaterial(t *testing.T) {
	teacher := uuid.New()
	batch := models.Batch{ID: uuid.New(), OwnerTeacherID: teacher}

	if d := CanUploadMaterial(Subject{TeacherID: teacher, State: enums.AccessStateActive}, batch); !d.Allowed {
		t.Fatalf("owner with active account should upload, got %s", d.Reason)
	}
	if d := CanUploadMaterial(Subject{TeacherID: teacher, State: enums.AccessStateLocked}, batch); d.Reason != ReasonMaterialsLocked {
		t.Fatalf("expected materials_locked, got %s", d.Reason)
	}
	if d := CanUploadMaterial(Subject{TeacherID: uuid.New(), State: enums.AccessStateActive}, batch); d.Reason != ReasonNotOwner {
		t.Fatalf("expected not_owner, got %s", d.Reason)
	}
}

func TestCanAccessMaterial(t *testing.T) {
	teacher := uuid.New()
	batch := models.Batch{ID: uuid.New(), OwnerTeacherID: teacher}
	enrolled := &models.BatchStudent{BatchID: batch.ID, StudentID: uuid.New()}
	blocked := &models.BatchStudent{BatchID: batch.ID, StudentID: uuid.New(), MaterialAccessBlocked: true}
	otherBatch := &models.BatchStudent{BatchID: uuid.New(), StudentID: uuid.New()}

	active := Subject{TeacherID: teacher, State: enums.AccessStateActive}
	beta := Subject{TeacherID: teacher, State: enums.AccessStateLocked, Beta: true}
	locked := Subject{TeacherID: teacher, State: enums.AccessStateLocked}

	cases := []struct {
		name       string
		subject    Subject
		enrollment *models.BatchStudent
		reason     Reason
	}{
		{"active enrolled", active, enrolled, ReasonNone},
		{"locked enrolled", locked, enrolled, ReasonMaterialsLocked},
		{"blocked while active", active, blocked, ReasonMaterialAccessBlocked},
		{"blocked while beta", beta, blocked, ReasonMaterialAccessBlocked},
		{"beta unlocks enrolled", beta, enrolled, ReasonNone},
		{"not enrolled", active, nil, ReasonStudentNotEnrolled},
		{"enrolled elsewhere", active, otherBatch, ReasonStudentNotEnrolled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CanAccessMaterial(tc.subject, batch, tc.enrollment)
			if got.Reason != tc.reason {
				t.Fatalf("expected %s, got %s", tc.reason, got.Reason)
			}
			if got.Allowed != (tc.reason == ReasonNone) {
				t.Fatalf("allowed flag disagrees with reason %s", got.Reason)
			}
		})
	}
}

func TestDecisionErr(t *testing.T) {
	if err := allow().Err(); err != nil {
		t.Fatalf("allowed decision should not error: %v", err)
	}
	cases := map[Reason]pkgerrors.Code{
		ReasonSubscriptionRequired:  pkgerrors.CodeSubscriptionRequired,
		ReasonMaterialsLocked:       pkgerrors.CodeMaterialsLocked,
		ReasonNotOwner:              pkgerrors.CodeForbidden,
		ReasonMaterialAccessBlocked: pkgerrors.CodeForbidden,
		ReasonStudentNotEnrolled:    pkgerrors.CodeForbidden,
	}
	for reason, code := range cases {
		if err := deny(reason).Err(); !pkgerrors.IsCode(err, code) {
			t.Fatalf("reason %s: expected %s, got %v", reason, code, err)
		}
	}
}

func TestSubjectFromStatus(t *testing.T) {
	teacher := uuid.New()
	if s := SubjectFromStatus(teacher, nil); !s.locked() {
		t.Fatalf("missing status must not grant access")
	}
	status := &subscriptions.Status{Beta: true, Evaluation: subscriptions.Evaluation{State: enums.AccessStateLocked}}
	if s := SubjectFromStatus(teacher, status); s.locked() {
		t.Fatalf("beta status should unlock")
	}
}
