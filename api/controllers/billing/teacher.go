package billing

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/tutorbill-backend/api/controllers/actorcontext"
	"github.com/angelmondragon/tutorbill-backend/api/responses"
	"github.com/angelmondragon/tutorbill-backend/api/validators"
	billingsvc "github.com/angelmondragon/tutorbill-backend/internal/billing"
	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tutorbill-backend/pkg/errors"
	"github.com/angelmondragon/tutorbill-backend/pkg/logger"
)

type initiateRequest struct {
	BatchID string `json:"batch_id" validate:"required,uuid"`
	Months  int    `json:"months" validate:"gt=0"`
	Gateway string `json:"gateway,omitempty" validate:"omitempty,online_gateway"`
}

type cashRequest struct {
	PeriodID string `json:"period_id" validate:"required,uuid"`
}

func SubscriptionStatus(svc TeacherService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}
		teacherID, err := actorcontext.ResolveTeacherID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status, err := svc.Status(r.Context(), teacherID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, status)
	}
}

func DuePayments(svc TeacherService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
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

		view, err := svc.DuePayments(r.Context(), teacherID, batchID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func InitiateOnlinePayment(svc TeacherService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}
		teacherID, err := actorcontext.ResolveTeacherID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload initiateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view, err := svc.InitiateOnline(r.Context(), teacherID, billingsvc.InitiateInput{
			BatchID: uuid.MustParse(payload.BatchID),
			Months:  payload.Months,
			Gateway: payload.Gateway,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if view.Reused {
			responses.WriteSuccess(w, view)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, view)
	}
}

// PaymentCallback handles the gateway redirect and client polling.
func PaymentCallback(svc TeacherService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}
		teacherID, err := actorcontext.ResolveTeacherID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		q := r.URL.Query()
		gateway := strings.TrimSpace(q.Get("gateway"))
		reference := callbackReference(gateway, q)
		if gateway == "" || reference == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "gateway and reference are required"))
			return
		}

		view, err := svc.Callback(r.Context(), teacherID, gateway, reference)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// callbackReference reads the attempt reference off the redirect. Square appends
// its own orderId, which is the reference for Square links.
func callbackReference(gw string, q url.Values) string {
	if ref := strings.TrimSpace(q.Get("reference")); ref != "" {
		return ref
	}
	if strings.EqualFold(gw, string(enums.GatewaySquare)) {
		return strings.TrimSpace(q.Get("orderId"))
	}
	return ""
}

func RecordCashPayment(svc TeacherService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}
		teacherID, err := actorcontext.ResolveTeacherID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload cashRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view, err := svc.RecordCash(r.Context(), teacherID, uuid.MustParse(payload.PeriodID))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, view)
	}
}
