// Package reconciler applies verified gateway outcomes to the payment ledger.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/tutorbill-backend/internal/gateway"
	"github.com/angelmondragon/tutorbill-backend/internal/ledger"
	"github.com/angelmondragon/tutorbill-backend/internal/subscriptions"
	"github.com/angelmondragon/tutorbill-backend/pkg/db/models"
	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tutorbill-backend/pkg/errors"
	"github.com/angelmondragon/tutorbill-backend/pkg/logger"
	"github.com/angelmondragon/tutorbill-backend/pkg/metrics"
	"github.com/angelmondragon/tutorbill-backend/pkg/outbox"
	"github.com/angelmondragon/tutorbill-backend/pkg/outbox/payloads"
)

// Metric results for applied events.
const (
	resultProcessed        = "processed"
	resultReplayed         = "replayed"
	resultStale            = "stale"
	resultUnknownReference = "unknown_reference"
	resultConflict         = "conflict"
	resultFailed           = "failed"
	resultExhausted        = "exhausted"
)

// DefaultMaxAttempts caps how often a received or failed event is re-applied before
// it is parked for review.
const DefaultMaxAttempts = 10

// Review reasons carried by payment_review_required events.
const (
	ReviewUnknownReference  = "unknown_reference"
	ReviewOutcomeConflict   = "outcome_conflict"
	ReviewSettlementOverlap = "settlement_overlap"
	ReviewRetriesExhausted  = "retries_exhausted"
)

// RetryQuery selects the rows one retry pass works on.
type RetryQuery struct {
	MinAge       time.Duration
	ReviewWindow time.Duration
	MaxAttempts  int
	Limit        int
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Result describes what applying one event did.
type Result struct {
	Event    *models.WebhookEvent
	Attempt  *models.PaymentAttempt
	Replayed bool
	Stale    bool
	Settled  []uuid.UUID
	Overlaps []uuid.UUID
	Access   *subscriptions.Status

	// review is a business failure whose review marking commits with the transaction.
	review error
}

type ServiceParams struct {
	Repo              Repository
	Ledger            ledger.Service
	Subscriptions     subscriptions.Service
	Outbox            outbox.Emitter
	TransactionRunner txRunner
	Logger            *logger.Logger
	Metrics           *metrics.ReconcilerMetrics
	Now               func() time.Time
}

// Service funnels webhook and callback outcomes into the ledger.
type Service struct {
	repo          Repository
	ledger        ledger.Service
	subscriptions subscriptions.Service
	outbox        outbox.Emitter
	tx            txRunner
	logg          *logger.Logger
	metrics       *metrics.ReconcilerMetrics
	now           func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook event repository required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger service required")
	}
	if params.Subscriptions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription service required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:          params.Repo,
		ledger:        params.Ledger,
		subscriptions: params.Subscriptions,
		outbox:        params.Outbox,
		tx:            params.TransactionRunner,
		logg:          params.Logger,
		metrics:       params.Metrics,
		now:           now,
	}, nil
}

// Record durably stores the event. seen is true when the gateway event id was
// already known, in which case the stored row is returned.
func (s *Service) Record(ctx context.Context, event gateway.Event, source enums.WebhookEventSource) (*models.WebhookEvent, bool, error) {
	if err := validateEvent(event); err != nil {
		return nil, false, err
	}
	if source == "" {
		source = enums.WebhookEventSourceWebhook
	}
	row := &models.WebhookEvent{
		Gateway:          event.Gateway,
		GatewayEventID:   event.GatewayEventID,
		GatewayReference: event.GatewayReference,
		Outcome:          event.Outcome,
		Source:           source,
		Status:           enums.WebhookEventStatusReceived,
		Payload:          event.Raw,
		ReceivedAt:       s.now().UTC(),
	}
	inserted, err := s.repo.Insert(ctx, row)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record webhook event")
	}
	if inserted {
		return row, false, nil
	}
	existing, err := s.repo.FindByGatewayEventID(ctx, event.GatewayEventID)
	if err != nil {
		return nil, true, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load webhook event")
	}
	if existing == nil {
		return nil, true, pkgerrors.New(pkgerrors.CodeInternal, "webhook event vanished after conflict")
	}
	return existing, true, nil
}

// ApplyEvent records the event if needed and applies it in one transaction.
func (s *Service) ApplyEvent(ctx context.Context, event gateway.Event, source enums.WebhookEventSource) (*Result, error) {
	row, _, err := s.Record(ctx, event, source)
	if err != nil {
		return nil, err
	}
	return s.Reapply(ctx, row)
}

// Reapply applies an already recorded event. Every step is idempotent, so rows left
// in received, failed or review may be passed again.
func (s *Service) Reapply(ctx context.Context, row *models.WebhookEvent) (*Result, error) {
	if row == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "webhook event required")
	}
	logCtx := s.eventContext(ctx, row)

	var result *Result
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		out, err := s.apply(ctx, tx, row)
		if err != nil {
			return err
		}
		result = out
		return nil
	})
	if err != nil {
		s.metrics.IncEvent(string(row.Gateway), resultFailed)
		if markErr := s.repo.MarkStatus(ctx, row.ID, enums.WebhookEventStatusFailed, err.Error(), s.now().UTC()); markErr != nil {
			s.logError(logCtx, "failed to mark webhook event failed", markErr)
		}
		s.logError(logCtx, "webhook event application failed", err)
		return nil, err
	}

	deferred := result.review
	switch {
	case deferred != nil && pkgerrors.IsCode(deferred, pkgerrors.CodeUnknownReference):
		s.metrics.IncEvent(string(row.Gateway), resultUnknownReference)
		s.logWarn(logCtx, "webhook event references unknown payment attempt")
	case deferred != nil:
		s.metrics.IncEvent(string(row.Gateway), resultConflict)
		s.logWarn(logCtx, "webhook event conflicts with finalized attempt")
	case result.Replayed:
		s.metrics.IncEvent(string(row.Gateway), resultReplayed)
	case result.Stale:
		s.metrics.IncEvent(string(row.Gateway), resultStale)
	default:
		s.metrics.IncEvent(string(row.Gateway), resultProcessed)
		s.logInfo(s.logSettlement(logCtx, result), "webhook event applied")
	}
	return result, deferred
}

// apply runs inside the transaction. A returned error rolls everything back.
func (s *Service) apply(ctx context.Context, tx *gorm.DB, recorded *models.WebhookEvent) (*Result, error) {
	repo := s.repo.WithTx(tx)
	now := s.now().UTC()

	row, err := repo.FindByID(ctx, recorded.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load webhook event")
	}
	if row == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "webhook event not found")
	}
	result := &Result{Event: row}
	if row.Status == enums.WebhookEventStatusProcessed {
		result.Replayed = true
		return result, nil
	}

	attempt, err := s.ledger.AttemptByReference(ctx, tx, row.Gateway, row.GatewayReference)
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		result.review = pkgerrors.New(pkgerrors.CodeUnknownReference, "no payment attempt for gateway reference").
			WithDetails(map[string]any{
				"gateway":           row.Gateway,
				"gateway_reference": row.GatewayReference,
			})
		if err := s.flagForReview(ctx, tx, row, ReviewUnknownReference, result.review, now); err != nil {
			return nil, err
		}
		return result, nil
	}
	result.Attempt = attempt

	if row.Outcome == enums.PaymentOutcomePending && attempt.Status.IsTerminal() {
		// A late pending notification for a settled attempt carries no information.
		if err := repo.MarkStatus(ctx, row.ID, enums.WebhookEventStatusProcessed, "", now); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark webhook event processed")
		}
		result.Stale = true
		return result, nil
	}

	fin, err := s.ledger.Finalize(ctx, tx, attempt.ID, row.Outcome, failureReason(row))
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
			result.review = err
			if err := s.flagForReview(ctx, tx, row, ReviewOutcomeConflict, err, now); err != nil {
				return nil, err
			}
			return result, nil
		}
		return nil, err
	}
	result.Attempt = fin.Attempt

	if fin.Changed && fin.Attempt.Status == enums.PaymentAttemptStatusSucceeded {
		settledAt := now
		marked, err := s.ledger.MarkPeriodsPaid(ctx, tx, attempt.ID, attempt.BillingPeriodIDs.UUIDs(), settledAt)
		if err != nil {
			return nil, err
		}
		result.Settled = marked.Settled
		result.Overlaps = marked.AlreadySettled

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentSettled,
			AggregateType: enums.AggregatePaymentAttempt,
			AggregateID:   attempt.ID,
			OccurredAt:    settledAt,
			Data: payloads.PaymentSettledEvent{
				AccountID:        attempt.AccountID,
				PaymentAttemptID: attempt.ID,
				Gateway:          attempt.Gateway,
				Amount:           attempt.Amount,
				Currency:         attempt.Currency,
				BillingPeriodIDs: marked.Settled,
				SettledAt:        settledAt,
			},
		}); err != nil {
			return nil, err
		}
		if marked.NeedsReview() {
			if err := s.emitReview(ctx, tx, row, ReviewSettlementOverlap); err != nil {
				return nil, err
			}
		}
	}

	access, err := s.subscriptions.Refresh(ctx, tx, attempt.AccountID, now)
	if err != nil {
		return nil, err
	}
	result.Access = access

	if err := repo.MarkStatus(ctx, row.ID, enums.WebhookEventStatusProcessed, "", now); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark webhook event processed")
	}
	row.Status = enums.WebhookEventStatusProcessed
	row.ProcessedAt = &now
	return result, nil
}

func (s *Service) flagForReview(ctx context.Context, tx *gorm.DB, row *models.WebhookEvent, reason string, cause error, now time.Time) error {
	if err := s.repo.WithTx(tx).MarkStatus(ctx, row.ID, enums.WebhookEventStatusReview, cause.Error(), now); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark webhook event for review")
	}
	row.Status = enums.WebhookEventStatusReview
	return s.emitReview(ctx, tx, row, reason)
}

func (s *Service) emitReview(ctx context.Context, tx *gorm.DB, row *models.WebhookEvent, reason string) error {
	return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentReviewRequired,
		AggregateType: enums.AggregateWebhookEvent,
		AggregateID:   row.ID,
		Data: payloads.PaymentReviewRequiredEvent{
			WebhookEventID:   row.ID,
			Gateway:          row.Gateway,
			GatewayEventID:   row.GatewayEventID,
			GatewayReference: row.GatewayReference,
			Reason:           reason,
		},
	})
}

// ListForReview pages events by status for manual resolution.
func (s *Service) ListForReview(ctx context.Context, status enums.WebhookEventStatus, offset, limit int) ([]models.WebhookEvent, int64, error) {
	if status != "" && !status.IsValid() {
		return nil, 0, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid webhook event status %q", status))
	}
	rows, total, err := s.repo.ListByStatus(ctx, status, offset, limit)
	if err != nil {
		return nil, 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list webhook events")
	}
	return rows, total, nil
}

// Retryable returns events the retry job should pass to Reapply.
func (s *Service) Retryable(ctx context.Context, q RetryQuery) ([]models.WebhookEvent, error) {
	if q.MaxAttempts <= 0 {
		q.MaxAttempts = DefaultMaxAttempts
	}
	now := s.now().UTC()
	rows, err := s.repo.ListRetryable(ctx, now.Add(-q.MinAge), now.Add(-q.ReviewWindow), q.MaxAttempts, q.Limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list retryable webhook events")
	}
	return rows, nil
}

// ParkExhausted moves events that failed maxAttempts times to review and emits a
// review event for each. It returns how many rows were parked.
func (s *Service) ParkExhausted(ctx context.Context, maxAttempts, limit int) (int, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	rows, err := s.repo.ListExhausted(ctx, maxAttempts, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list exhausted webhook events")
	}

	var (
		errs   error
		parked int
	)
	now := s.now().UTC()
	for i := range rows {
		row := &rows[i]
		cause := fmt.Errorf("gave up after %d attempts: %s", row.AttemptCount, lastError(row))
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return s.flagForReview(ctx, tx, row, ReviewRetriesExhausted, cause, now)
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("park webhook event %s: %w", row.ID, err))
			continue
		}
		parked++
		s.metrics.IncEvent(string(row.Gateway), resultExhausted)
		s.logWarn(s.eventContext(ctx, row), "webhook event parked for review after repeated failures")
	}
	return parked, errs
}

func lastError(row *models.WebhookEvent) string {
	if row.LastError == nil {
		return "unknown error"
	}
	return *row.LastError
}

func validateEvent(event gateway.Event) error {
	if !event.Gateway.IsOnline() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid gateway %q", event.Gateway))
	}
	if event.GatewayEventID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "gateway event id required")
	}
	if event.GatewayReference == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "gateway reference required")
	}
	if !event.Outcome.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid outcome %q", event.Outcome))
	}
	return nil
}

func failureReason(row *models.WebhookEvent) string {
	if row.Outcome != enums.PaymentOutcomeFailed {
		return ""
	}
	return fmt.Sprintf("%s:%s", row.Source, row.GatewayEventID)
}

func (s *Service) eventContext(ctx context.Context, row *models.WebhookEvent) context.Context {
	if s.logg == nil {
		return ctx
	}
	return s.logg.WithFields(ctx, map[string]any{
		"webhook_event_id":  row.ID.String(),
		"gateway":           row.Gateway,
		"gateway_event_id":  row.GatewayEventID,
		"gateway_reference": row.GatewayReference,
		"outcome":           row.Outcome,
	})
}

func (s *Service) logSettlement(ctx context.Context, result *Result) context.Context {
	if s.logg == nil || result.Attempt == nil {
		return ctx
	}
	ctx = s.logg.WithAccountID(ctx, result.Attempt.AccountID.String())
	return s.logg.WithFields(ctx, map[string]any{
		"attempt_id":      result.Attempt.ID.String(),
		"attempt_status":  result.Attempt.Status,
		"periods_settled": len(result.Settled),
	})
}

func (s *Service) logInfo(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Info(ctx, msg)
	}
}

func (s *Service) logWarn(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Warn(ctx, msg)
	}
}

func (s *Service) logError(ctx context.Context, msg string, err error) {
	if s.logg != nil {
		s.logg.Error(ctx, msg, err)
	}
}
