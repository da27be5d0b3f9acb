package billing

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tutorbill-backend/api/controllers/actorcontext"
	"github.com/angelmondragon/tutorbill-backend/api/responses"
	"github.com/angelmondragon/tutorbill-backend/api/validators"
	"github.com/angelmondragon/tutorbill-backend/internal/batches"
	"github.com/angelmondragon/tutorbill-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/tutorbill-backend/pkg/errors"
	"github.com/angelmondragon/tutorbill-backend/pkg/logger"
)

const maxBatchNameLength = 120

type batchCreateRequest struct {
	Name         string          `json:"name" validate:"required"`
	Fees         decimal.Decimal `json:"fees" validate:"money"`
	StudentLimit int             `json:"student_limit" validate:"gte=0"`
}

type enrollRequest struct {
	StudentID string `json:"student_id" validate:"required,uuid"`
}

type materialBlockRequest struct {
	Blocked *bool `json:"blocked" validate:"required"`
}

type batchResponse struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Fees         decimal.Decimal `json:"fees"`
	StudentLimit int             `json:"student_limit"`
	CreatedAt    time.Time       `json:"created_at"`
}

type enrollmentResponse struct {
	BatchID               uuid.UUID `json:"batch_id"`
	StudentID             uuid.UUID `json:"student_id"`
	MaterialAccessBlocked bool      `json:"material_access_blocked"`
}

func CreateBatch(svc BatchService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "batch service unavailable"))
			return
		}
		teacherID, err := actorcontext.ResolveTeacherID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload batchCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		batch, err := svc.CreateBatch(r.Context(), teacherID, batches.CreateInput{
			Name:         validators.SanitizeString(payload.Name, maxBatchNameLength),
			Fees:         payload.Fees,
			StudentLimit: payload.StudentLimit,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newBatchResponse(batch))
	}
}

func UploadAccess(svc BatchService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "batch service unavailable"))
			return
		}
		teacherID, err := actorcontext.ResolveTeacherID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		batchID, err := validators.ParseUUIDParam(r, "batchId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		decision, err := svc.UploadAccess(r.Context(), teacherID, batchID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, decision)
	}
}

func MaterialAccess(svc BatchService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "batch service unavailable"))
			return
		}
		teacherID, batchID, studentID, err := enrollmentParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		decision, err := svc.MaterialAccess(r.Context(), teacherID, batchID, studentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, decision)
	}
}

func EnrollStudent(svc BatchService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "batch service unavailable"))
			return
		}
		teacherID, err := actorcontext.ResolveTeacherID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		batchID, err := validators.ParseUUIDParam(r, "batchId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload enrollRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		enrollment, err := svc.EnrollStudent(r.Context(), teacherID, batchID, uuid.MustParse(payload.StudentID))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newEnrollmentResponse(enrollment))
	}
}

// SetMaterialBlock toggles the per-student block. Billing state never changes it.
func SetMaterialBlock(svc BatchService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "batch service unavailable"))
			return
		}
		teacherID, batchID, studentID, err := enrollmentParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload materialBlockRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		enrollment, err := svc.SetMaterialBlock(r.Context(), teacherID, batchID, studentID, *payload.Blocked)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newEnrollmentResponse(enrollment))
	}
}

func enrollmentParams(r *http.Request) (teacherID, batchID, studentID uuid.UUID, err error) {
	if teacherID, err = actorcontext.ResolveTeacherID(r); err != nil {
		return
	}
	if batchID, err = validators.ParseUUIDParam(r, "batchId"); err != nil {
		return
	}
	studentID, err = validators.ParseUUIDParam(r, "studentId")
	return
}

func newBatchResponse(batch *models.Batch) *batchResponse {
	if batch == nil {
		return nil
	}
	return &batchResponse{
		ID:           batch.ID,
		Name:         batch.Name,
		Fees:         batch.Fees.Decimal,
		StudentLimit: batch.StudentLimit,
		CreatedAt:    batch.CreatedAt,
	}
}

func newEnrollmentResponse(enrollment *models.BatchStudent) *enrollmentResponse {
	if enrollment == nil {
		return nil
	}
	return &enrollmentResponse{
		BatchID:               enrollment.BatchID,
		StudentID:             enrollment.StudentID,
		MaterialAccessBlocked: enrollment.MaterialAccessBlocked,
	}
}
