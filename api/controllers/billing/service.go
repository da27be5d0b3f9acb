package billing

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/tutorbill-backend/internal/access"
	"github.com/angelmondragon/tutorbill-backend/internal/batches"
	billingsvc "github.com/angelmondragon/tutorbill-backend/internal/billing"
	"github.com/angelmondragon/tutorbill-backend/pkg/db/models"
)

// TeacherService is the teacher-facing half of *billing.Service.
type TeacherService interface {
	Status(ctx context.Context, teacherID uuid.UUID) (*billingsvc.StatusView, error)
	DuePayments(ctx context.Context, teacherID, batchID uuid.UUID) (*billingsvc.DueView, error)
	InitiateOnline(ctx context.Context, teacherID uuid.UUID, input billingsvc.InitiateInput) (*billingsvc.InitiateView, error)
	Callback(ctx context.Context, teacherID uuid.UUID, gateway, reference string) (*billingsvc.CallbackView, error)
	RecordCash(ctx context.Context, teacherID, periodID uuid.UUID) (*billingsvc.CashView, error)
}

// BatchService gates batch and material operations on the subscription state.
type BatchService interface {
	CreateBatch(ctx context.Context, teacherID uuid.UUID, input batches.CreateInput) (*models.Batch, error)
	UploadAccess(ctx context.Context, teacherID, batchID uuid.UUID) (access.Decision, error)
	MaterialAccess(ctx context.Context, teacherID, batchID, studentID uuid.UUID) (access.Decision, error)
	EnrollStudent(ctx context.Context, teacherID, batchID, studentID uuid.UUID) (*models.BatchStudent, error)
	SetMaterialBlock(ctx context.Context, teacherID, batchID, studentID uuid.UUID, blocked bool) (*models.BatchStudent, error)
}

// AdminService carries the platform operations.
type AdminService interface {
	SetBeta(ctx context.Context, adminID uuid.UUID, enabled bool) (*billingsvc.BetaView, error)
	WebhookEvents(ctx context.Context, status string, page, limit int) (*billingsvc.WebhookEventPage, error)
	WaivePeriod(ctx context.Context, adminID, periodID uuid.UUID, reason string) (*billingsvc.WaiveView, error)
}
