package billing

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tutorbill-backend/api/controllers/actorcontext"
	"github.com/angelmondragon/tutorbill-backend/api/responses"
	"github.com/angelmondragon/tutorbill-backend/api/validators"
	"github.com/angelmondragon/tutorbill-backend/pkg/db/models"
	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tutorbill-backend/pkg/errors"
	"github.com/angelmondragon/tutorbill-backend/pkg/logger"
)

const maxWaiveReasonLength = 500

type betaRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type waiveRequest struct {
	Reason string `json:"reason,omitempty"`
}

type webhookEventResponse struct {
	ID               uuid.UUID                `json:"id"`
	Gateway          enums.Gateway            `json:"gateway"`
	GatewayEventID   string                   `json:"gateway_event_id"`
	GatewayReference string                   `json:"gateway_reference"`
	Outcome          enums.PaymentOutcome     `json:"outcome"`
	Source           enums.WebhookEventSource `json:"source"`
	Status           enums.WebhookEventStatus `json:"status"`
	AttemptCount     int                      `json:"attempt_count"`
	LastError        *string                  `json:"last_error,omitempty"`
	ReceivedAt       time.Time                `json:"received_at"`
	ProcessedAt      *time.Time               `json:"processed_at,omitempty"`
}

type webhookEventPageResponse struct {
	Items []webhookEventResponse `json:"items"`
	Total int64                  `json:"total"`
	Page  int                    `json:"page"`
	Limit int                    `json:"limit"`
}

func AdminSetBeta(svc AdminService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}
		adminID, err := actorcontext.ResolveAdminID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload betaRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view, err := svc.SetBeta(r.Context(), adminID, *payload.Enabled)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// AdminWebhookEvents lists recorded gateway events, review by default.
func AdminWebhookEvents(svc AdminService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}
		if _, err := actorcontext.ResolveAdminID(r); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePage(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.WebhookEvents(r.Context(), r.URL.Query().Get("status"), params.Page, params.Limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := webhookEventPageResponse{
			Items: make([]webhookEventResponse, 0, len(page.Items)),
			Total: page.Total,
			Page:  page.Page,
			Limit: page.Limit,
		}
		for _, row := range page.Items {
			resp.Items = append(resp.Items, newWebhookEventResponse(row))
		}
		responses.WriteSuccess(w, resp)
	}
}

func AdminWaivePeriod(svc AdminService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}
		adminID, err := actorcontext.ResolveAdminID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		periodID, err := validators.ParseUUIDParam(r, "periodId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload waiveRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		view, err := svc.WaivePeriod(r.Context(), adminID, periodID, validators.SanitizeString(payload.Reason, maxWaiveReasonLength))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func newWebhookEventResponse(row models.WebhookEvent) webhookEventResponse {
	return webhookEventResponse{
		ID:               row.ID,
		Gateway:          row.Gateway,
		GatewayEventID:   row.GatewayEventID,
		GatewayReference: row.GatewayReference,
		Outcome:          row.Outcome,
		Source:           row.Source,
		Status:           row.Status,
		AttemptCount:     row.AttemptCount,
		LastError:        row.LastError,
		ReceivedAt:       row.ReceivedAt,
		ProcessedAt:      row.ProcessedAt,
	}
}
