// Package webhooks accepts signed gateway notifications and hands them to the reconciler.
package webhooks

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/tutorbill-backend/internal/gateway"
	"github.com/angelmondragon/tutorbill-backend/internal/reconciler"
	"github.com/angelmondragon/tutorbill-backend/pkg/db/models"
	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tutorbill-backend/pkg/errors"
	"github.com/angelmondragon/tutorbill-backend/pkg/logger"
)

type eventParser interface {
	ParseEvent(gateway enums.Gateway, payload []byte, headers http.Header) (*gateway.Event, error)
}

type eventGuard interface {
	CheckAndMark(ctx context.Context, gateway enums.Gateway, eventID string) (bool, error)
	Release(ctx context.Context, gateway enums.Gateway, eventID string) error
}

type eventReconciler interface {
	Record(ctx context.Context, event gateway.Event, source enums.WebhookEventSource) (*models.WebhookEvent, bool, error)
	Reapply(ctx context.Context, row *models.WebhookEvent) (*reconciler.Result, error)
}

// Disposition is what intake did with a verified notification.
type Disposition string

const (
	DispositionApplied   Disposition = "applied"
	DispositionDeferred  Disposition = "deferred"
	DispositionDuplicate Disposition = "duplicate"
	DispositionIgnored   Disposition = "ignored"
)

const reasonInProgress = "in_progress"

// Receipt is returned to the HTTP layer once an event is durably handled.
type Receipt struct {
	Disposition    Disposition `json:"disposition"`
	GatewayEventID string      `json:"gateway_event_id,omitempty"`
	WebhookEventID *uuid.UUID  `json:"webhook_event_id,omitempty"`
	Reason         string      `json:"reason,omitempty"`
}

// StatusCode maps the receipt to the acknowledgement sent to the gateway.
func (r Receipt) StatusCode() int {
	if r.Disposition == DispositionDeferred {
		return http.StatusAccepted
	}
	return http.StatusOK
}

type ServiceParams struct {
	Parser     eventParser
	Guard      eventGuard
	Reconciler eventReconciler
	Logger     *logger.Logger
}

type Service struct {
	parser     eventParser
	guard      eventGuard
	reconciler eventReconciler
	logg       *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Parser == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "event parser required")
	}
	if params.Reconciler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reconciler required")
	}
	return &Service{
		parser:     params.Parser,
		guard:      params.Guard,
		reconciler: params.Reconciler,
		logg:       params.Logger,
	}, nil
}

// Receive verifies, records, then applies one notification. An error means nothing
// was recorded and the gateway should redeliver; any receipt means the row exists.
func (s *Service) Receive(ctx context.Context, gw enums.Gateway, payload []byte, headers http.Header) (*Receipt, error) {
	if !gw.IsOnline() {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "unknown gateway")
	}
	ctx = s.withField(ctx, "gateway", gw)

	event, err := s.parser.ParseEvent(gw, payload, headers)
	if err != nil {
		if errors.Is(err, gateway.ErrEventIgnored) {
			return &Receipt{Disposition: DispositionIgnored}, nil
		}
		if pkgerrors.IsCode(err, pkgerrors.CodeInvalidSignature) {
			s.warn(ctx, "rejected webhook with invalid signature")
		}
		return nil, err
	}
	ctx = s.withField(ctx, "gateway_event_id", event.GatewayEventID)

	row, seen, err := s.reconciler.Record(ctx, *event, enums.WebhookEventSourceWebhook)
	if err != nil {
		return nil, err
	}
	receipt := &Receipt{GatewayEventID: event.GatewayEventID, WebhookEventID: &row.ID}
	if seen && row.Status == enums.WebhookEventStatusProcessed {
		receipt.Disposition = DispositionDuplicate
		return receipt, nil
	}

	// The row is durable from here; the guard only keeps concurrent redeliveries
	// from applying the same event side by side.
	if s.guard != nil {
		marked, err := s.guard.CheckAndMark(ctx, gw, event.GatewayEventID)
		switch {
		case err != nil:
			s.logError(ctx, "webhook guard unavailable", err)
		case marked:
			receipt.Disposition = DispositionDeferred
			receipt.Reason = reasonInProgress
			return receipt, nil
		}
	}

	result, err := s.reconciler.Reapply(ctx, row)
	if err != nil {
		// The retry job owns the row from here.
		s.release(ctx, gw, event.GatewayEventID)
		receipt.Disposition = DispositionDeferred
		receipt.Reason = string(deferReason(err))
		s.warn(s.withField(ctx, "reason", receipt.Reason), "webhook reconciliation deferred")
		return receipt, nil
	}
	if result.Replayed {
		receipt.Disposition = DispositionDuplicate
		return receipt, nil
	}
	receipt.Disposition = DispositionApplied
	return receipt, nil
}

func deferReason(err error) pkgerrors.Code {
	if typed := pkgerrors.As(err); typed != nil {
		return typed.Code()
	}
	return pkgerrors.CodeInternal
}

func (s *Service) release(ctx context.Context, gw enums.Gateway, eventID string) {
	if s.guard == nil {
		return
	}
	if err := s.guard.Release(ctx, gw, eventID); err != nil {
		s.logError(ctx, "failed to release webhook guard", err)
	}
}

func (s *Service) withField(ctx context.Context, key string, value any) context.Context {
	if s.logg == nil {
		return ctx
	}
	return s.logg.WithField(ctx, key, value)
}

func (s *Service) warn(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Warn(ctx, msg)
	}
}

func (s *Service) logError(ctx context.Context, msg string, err error) {
	if s.logg != nil {
		s.logg.Error(ctx, msg, err)
	}
}
