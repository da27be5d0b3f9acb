package webhooks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/tutorbill-backend/api/responses"
	webhooksvc "github.com/angelmondragon/tutorbill-backend/internal/webhooks"
	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tutorbill-backend/pkg/errors"
	"github.com/angelmondragon/tutorbill-backend/pkg/logger"
)

const defaultMaxBodyBytes int64 = 64 << 10

// Receiver is satisfied by *webhooks.Service.
type Receiver interface {
	Receive(ctx context.Context, gw enums.Gateway, payload []byte, headers http.Header) (*webhooksvc.Receipt, error)
}

// GatewayWebhook accepts signed notifications at /webhooks/{gateway}. The raw body is
// passed through untouched because signatures cover the exact bytes.
func GatewayWebhook(svc Receiver, maxBodyBytes int64, logg *logger.Logger) http.HandlerFunc {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		gw, err := enums.ParseGateway(chi.URLParam(r, "gateway"))
		if err != nil || !gw.IsOnline() {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "unknown gateway"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "payload too large"))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		receipt, err := svc.Receive(ctx, gw, payload, r.Header)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(ctx, fmt.Sprintf("%s event %s %s", gw, receipt.GatewayEventID, receipt.Disposition))
		}
		responses.WriteSuccessStatus(w, receipt.StatusCode(), receipt)
	}
}
