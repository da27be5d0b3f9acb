// Package ledger owns payment attempt lifecycles and the settlement of billing periods.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/angelmondragon/tutorbill-backend/pkg/db"
	"github.com/angelmondragon/tutorbill-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/tutorbill-backend/pkg/db/types"
	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tutorbill-backend/pkg/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Service defines the guarded ledger mutations. Every method accepts an optional
// transaction so callers can compose them under one commit.
type Service interface {
	AppendAttempt(ctx context.Context, tx *gorm.DB, attempt *models.PaymentAttempt) (*models.PaymentAttempt, error)
	Finalize(ctx context.Context, tx *gorm.DB, attemptID uuid.UUID, outcome enums.PaymentOutcome, reason string) (FinalizeResult, error)
	MarkPeriodsPaid(ctx context.Context, tx *gorm.DB, attemptID uuid.UUID, periodIDs []uuid.UUID, settledAt time.Time) (MarkResult, error)
	RecordCashPayment(ctx context.Context, tx *gorm.DB, input CashPaymentInput) (*models.PaymentAttempt, error)
	WaivePeriod(ctx context.Context, tx *gorm.DB, input WaiveInput) (*models.BillingPeriod, error)
	Attempt(ctx context.Context, tx *gorm.DB, attemptID uuid.UUID) (*models.PaymentAttempt, error)
	AttemptByReference(ctx context.Context, tx *gorm.DB, gateway enums.Gateway, reference string) (*models.PaymentAttempt, error)
	LiveAttempt(ctx context.Context, tx *gorm.DB, idempotencyKey string) (*models.PaymentAttempt, error)
	AttachLink(ctx context.Context, tx *gorm.DB, attemptID uuid.UUID, link AttemptLink) error
	Events(ctx context.Context, accountID uuid.UUID) ([]models.LedgerEvent, error)
}

// FinalizeResult reports what Finalize did. Changed is false for idempotent replays.
type FinalizeResult struct {
	Attempt  *models.PaymentAttempt
	Previous enums.PaymentAttemptStatus
	Changed  bool
}

// MarkResult partitions the requested periods by what the settlement did to them.
type MarkResult struct {
	Settled        []uuid.UUID
	AlreadySettled []uuid.UUID
}

// NeedsReview reports whether any period had already been settled by another attempt.
func (m MarkResult) NeedsReview() bool {
	return len(m.AlreadySettled) > 0
}

// CashPaymentInput identifies the period a teacher marks as collected in cash.
type CashPaymentInput struct {
	AccountID uuid.UUID
	PeriodID  uuid.UUID
	ActorID   uuid.UUID
	Currency  string
}

// WaiveInput identifies the period an administrator forgives.
type WaiveInput struct {
	AccountID uuid.UUID
	PeriodID  uuid.UUID
	ActorID   uuid.UUID
	Reason    string
}

// allowedPredecessors lists the statuses an attempt may move from to reach the key.
var allowedPredecessors = map[enums.PaymentAttemptStatus][]enums.PaymentAttemptStatus{
	enums.PaymentAttemptStatusPending:   {enums.PaymentAttemptStatusCreated},
	enums.PaymentAttemptStatusSucceeded: {enums.PaymentAttemptStatusCreated, enums.PaymentAttemptStatusPending},
	enums.PaymentAttemptStatusFailed:    {enums.PaymentAttemptStatusCreated, enums.PaymentAttemptStatusPending},
}

// CanTransition reports whether an attempt may move from one status to another.
func CanTransition(from, to enums.PaymentAttemptStatus) bool {
	for _, candidate := range allowedPredecessors[to] {
		if candidate == from {
			return true
		}
	}
	return false
}

type service struct {
	repo Repository
	now  func() time.Time
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo, now: time.Now}, nil
}

func (s *service) scoped(tx *gorm.DB) Repository {
	return s.repo.WithTx(tx)
}

func (s *service) AppendAttempt(ctx context.Context, tx *gorm.DB, attempt *models.PaymentAttempt) (*models.PaymentAttempt, error) {
	if attempt == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment attempt required")
	}
	if attempt.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}
	if len(attempt.BillingPeriodIDs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one billing period required")
	}
	if attempt.IdempotencyKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key required")
	}
	if attempt.Amount.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be non-negative")
	}
	if !attempt.Gateway.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid gateway %q", attempt.Gateway))
	}

	now := s.now().UTC()
	attempt.Status = enums.PaymentAttemptStatusCreated
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = now
	}
	attempt.UpdatedAt = now

	repo := s.scoped(tx)
	if err := repo.CreateAttempt(ctx, attempt); err != nil {
		if db.IsUniqueViolation(err, "ux_payment_attempts_live_key") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeIdempotency, err, "payment attempt already exists for key")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment attempt")
	}

	if err := s.appendEvent(ctx, repo, attempt.AccountID, &attempt.ID, nil, enums.LedgerEventTypeAttemptCreated, attempt.Amount, map[string]any{
		"gateway":            attempt.Gateway,
		"mode":               attempt.Mode,
		"billing_period_ids": attempt.BillingPeriodIDs.UUIDs(),
	}); err != nil {
		return nil, err
	}
	return attempt, nil
}

func (s *service) Finalize(ctx context.Context, tx *gorm.DB, attemptID uuid.UUID, outcome enums.PaymentOutcome, reason string) (FinalizeResult, error) {
	if attemptID == uuid.Nil {
		return FinalizeResult{}, pkgerrors.New(pkgerrors.CodeValidation, "attempt id required")
	}
	if !outcome.IsValid() {
		return FinalizeResult{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid outcome %q", outcome))
	}
	target := outcome.AttemptStatus()
	repo := s.scoped(tx)

	current, err := repo.FindAttempt(ctx, attemptID)
	if err != nil {
		return FinalizeResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment attempt")
	}
	if current == nil {
		return FinalizeResult{}, pkgerrors.New(pkgerrors.CodeNotFound, "payment attempt not found")
	}

	now := s.now().UTC()
	fields := map[string]any{"updated_at": now}
	if target.IsTerminal() {
		fields["finalized_at"] = now
	}
	if target == enums.PaymentAttemptStatusFailed && reason != "" {
		fields["failure_reason"] = reason
	}

	moved, err := repo.TransitionAttempt(ctx, attemptID, allowedPredecessors[target], target, fields)
	if err != nil {
		return FinalizeResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "finalize payment attempt")
	}

	reloaded, err := repo.FindAttempt(ctx, attemptID)
	if err != nil {
		return FinalizeResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload payment attempt")
	}
	if reloaded == nil {
		return FinalizeResult{}, pkgerrors.New(pkgerrors.CodeNotFound, "payment attempt not found")
	}

	if !moved {
		if reloaded.Status == target {
			return FinalizeResult{Attempt: reloaded, Previous: reloaded.Status, Changed: false}, nil
		}
		return FinalizeResult{Attempt: reloaded, Previous: reloaded.Status}, pkgerrors.New(pkgerrors.CodeStateConflict, "payment attempt already finalized differently").
			WithDetails(map[string]any{
				"attempt_id": attemptID.String(),
				"status":     reloaded.Status,
				"requested":  target,
			})
	}

	meta := map[string]any{"from": current.Status, "to": target}
	if reason != "" {
		meta["reason"] = reason
	}
	if err := s.appendEvent(ctx, repo, reloaded.AccountID, &reloaded.ID, nil, enums.LedgerEventTypeForStatus(target), reloaded.Amount, meta); err != nil {
		return FinalizeResult{}, err
	}
	return FinalizeResult{Attempt: reloaded, Previous: current.Status, Changed: true}, nil
}

func (s *service) MarkPeriodsPaid(ctx context.Context, tx *gorm.DB, attemptID uuid.UUID, periodIDs []uuid.UUID, settledAt time.Time) (MarkResult, error) {
	if attemptID == uuid.Nil {
		return MarkResult{}, pkgerrors.New(pkgerrors.CodeValidation, "attempt id required")
	}
	repo := s.scoped(tx)
	attempt, err := repo.FindAttempt(ctx, attemptID)
	if err != nil {
		return MarkResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment attempt")
	}
	if attempt == nil {
		return MarkResult{}, pkgerrors.New(pkgerrors.CodeNotFound, "payment attempt not found")
	}
	if attempt.Status != enums.PaymentAttemptStatusSucceeded {
		return MarkResult{}, pkgerrors.New(pkgerrors.CodeStateConflict, "only succeeded attempts settle periods")
	}
	if settledAt.IsZero() {
		settledAt = s.now()
	}

	var result MarkResult
	for _, periodID := range periodIDs {
		settled, err := s.markPeriodPaid(ctx, repo, attempt, periodID, settledAt.UTC())
		if err != nil {
			return result, err
		}
		if settled {
			result.Settled = append(result.Settled, periodID)
		} else {
			result.AlreadySettled = append(result.AlreadySettled, periodID)
		}
	}
	return result, nil
}

// markPeriodPaid is the single guarded path from pending to paid. It returns false when
// the period had already been settled, after recording the overlap for review.
func (s *service) markPeriodPaid(ctx context.Context, repo Repository, attempt *models.PaymentAttempt, periodID uuid.UUID, settledAt time.Time) (bool, error) {
	period, err := repo.FindPeriod(ctx, periodID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load billing period")
	}
	if period == nil {
		return false, pkgerrors.New(pkgerrors.CodeNotFound, "billing period not found")
	}
	if period.AccountID != attempt.AccountID {
		return false, pkgerrors.New(pkgerrors.CodeForbidden, "billing period belongs to another account")
	}

	moved, err := repo.SettlePeriod(ctx, periodID, enums.BillingPeriodStatusPaid, settledAt)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "settle billing period")
	}
	if moved {
		if err := s.appendEvent(ctx, repo, attempt.AccountID, &attempt.ID, &periodID, enums.LedgerEventTypePeriodPaid, period.AmountDue, map[string]any{
			"gateway": attempt.Gateway,
		}); err != nil {
			return false, err
		}
		return true, nil
	}

	current, err := repo.FindPeriod(ctx, periodID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload billing period")
	}
	if err := s.appendEvent(ctx, repo, attempt.AccountID, &attempt.ID, &periodID, enums.LedgerEventTypeSettlementOverlap, decimal.Zero, map[string]any{
		"period_status": current.Status,
		"review":        true,
	}); err != nil {
		return false, err
	}
	return false, nil
}

func (s *service) RecordCashPayment(ctx context.Context, tx *gorm.DB, input CashPaymentInput) (*models.PaymentAttempt, error) {
	if input.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}
	if input.PeriodID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "period id required")
	}
	repo := s.scoped(tx)

	period, err := repo.FindPeriod(ctx, input.PeriodID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load billing period")
	}
	if period == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "billing period not found")
	}
	if period.AccountID != input.AccountID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "billing period belongs to another account")
	}
	if period.Status != enums.BillingPeriodStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "billing period already settled").
			WithDetails(map[string]any{"period_id": period.ID.String(), "status": period.Status})
	}

	batchID := period.BatchID
	attempt, err := s.AppendAttempt(ctx, tx, &models.PaymentAttempt{
		AccountID:        input.AccountID,
		BatchID:          &batchID,
		BillingPeriodIDs: dbtypes.UUIDArray{period.ID},
		Amount:           period.AmountDue,
		Currency:         input.Currency,
		Gateway:          enums.GatewayCash,
		Mode:             enums.PaymentModeCash,
		IdempotencyKey:   "cash:" + period.ID.String(),
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeIdempotency) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, "cash payment already recorded for period")
		}
		return nil, err
	}

	if _, err := s.Finalize(ctx, tx, attempt.ID, enums.PaymentOutcomeSucceeded, ""); err != nil {
		return nil, err
	}

	settled, err := s.markPeriodPaid(ctx, repo, attempt, period.ID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if !settled {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "billing period settled concurrently")
	}

	if err := s.appendEvent(ctx, repo, input.AccountID, &attempt.ID, &period.ID, enums.LedgerEventTypeCashCollected, period.AmountDue, map[string]any{
		"actor_id": input.ActorID.String(),
	}); err != nil {
		return nil, err
	}

	return repo.FindAttempt(ctx, attempt.ID)
}

func (s *service) WaivePeriod(ctx context.Context, tx *gorm.DB, input WaiveInput) (*models.BillingPeriod, error) {
	if input.PeriodID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "period id required")
	}
	repo := s.scoped(tx)
	period, err := repo.FindPeriod(ctx, input.PeriodID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load billing period")
	}
	if period == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "billing period not found")
	}
	if input.AccountID != uuid.Nil && period.AccountID != input.AccountID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "billing period belongs to another account")
	}

	moved, err := repo.SettlePeriod(ctx, period.ID, enums.BillingPeriodStatusWaived, s.now().UTC())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "waive billing period")
	}
	if !moved {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "billing period already settled")
	}
	if err := s.appendEvent(ctx, repo, period.AccountID, nil, &period.ID, enums.LedgerEventTypePeriodWaived, period.AmountDue, map[string]any{
		"actor_id": input.ActorID.String(),
		"reason":   input.Reason,
	}); err != nil {
		return nil, err
	}
	return repo.FindPeriod(ctx, period.ID)
}

func (s *service) Attempt(ctx context.Context, tx *gorm.DB, attemptID uuid.UUID) (*models.PaymentAttempt, error) {
	attempt, err := s.scoped(tx).FindAttempt(ctx, attemptID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment attempt")
	}
	return attempt, nil
}

func (s *service) AttemptByReference(ctx context.Context, tx *gorm.DB, gateway enums.Gateway, reference string) (*models.PaymentAttempt, error) {
	if reference == "" {
		return nil, nil
	}
	attempt, err := s.scoped(tx).FindAttemptByReference(ctx, gateway, reference)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find payment attempt by reference")
	}
	return attempt, nil
}

func (s *service) LiveAttempt(ctx context.Context, tx *gorm.DB, idempotencyKey string) (*models.PaymentAttempt, error) {
	attempt, err := s.scoped(tx).FindLiveAttemptByKey(ctx, idempotencyKey)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find payment attempt by key")
	}
	return attempt, nil
}

func (s *service) AttachLink(ctx context.Context, tx *gorm.DB, attemptID uuid.UUID, link AttemptLink) error {
	if link.Reference == "" || link.RedirectURL == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "link reference and url required")
	}
	if err := s.scoped(tx).UpdateAttemptLink(ctx, attemptID, link); err != nil {
		if db.IsUniqueViolation(err, "ux_payment_attempts_gateway_reference") {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "gateway reference already attached")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "attach payment link")
	}
	return nil
}

func (s *service) Events(ctx context.Context, accountID uuid.UUID) ([]models.LedgerEvent, error) {
	events, err := s.repo.ListEventsByAccount(ctx, accountID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger events")
	}
	return events, nil
}

func (s *service) appendEvent(ctx context.Context, repo Repository, accountID uuid.UUID, attemptID, periodID *uuid.UUID, eventType enums.LedgerEventType, amount decimal.Decimal, meta map[string]any) error {
	var raw json.RawMessage
	if len(meta) > 0 {
		encoded, err := json.Marshal(meta)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode ledger metadata")
		}
		raw = encoded
	}
	event := &models.LedgerEvent{
		AccountID:        accountID,
		PaymentAttemptID: attemptID,
		BillingPeriodID:  periodID,
		Type:             eventType,
		Amount:           amount,
		Metadata:         raw,
		CreatedAt:        s.now().UTC(),
	}
	if err := repo.CreateEvent(ctx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append ledger event")
	}
	return nil
}
