// Package subscriptions derives and persists the access state of teacher accounts.
package subscriptions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tutorbill-backend/internal/accounts"
	"github.com/angelmondragon/tutorbill-backend/internal/dues"
	"github.com/angelmondragon/tutorbill-backend/pkg/db/models"
	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tutorbill-backend/pkg/errors"
	"github.com/angelmondragon/tutorbill-backend/pkg/logger"
	"github.com/angelmondragon/tutorbill-backend/pkg/outbox"
	"github.com/angelmondragon/tutorbill-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service defines the subscription state surface.
type Service interface {
	Refresh(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, now time.Time) (*Status, error)
	Status(ctx context.Context, accountID uuid.UUID, now time.Time) (*Status, error)
}

// Status is an evaluation together with the account it was computed for.
type Status struct {
	Account     *models.SubscriptionAccount
	Beta        bool
	PendingDues int
	Evaluation
	Previous enums.AccessState
	Changed  bool
}

// Active reports whether the teacher currently has full access.
func (s Status) Active() bool {
	return s.State != enums.AccessStateLocked
}

// ServiceParams groups dependencies for the subscription service.
type ServiceParams struct {
	Accounts          accounts.Repository
	Periods           dues.Repository
	Outbox            outbox.Emitter
	TransactionRunner txRunner
	Logger            *logger.Logger
}

type service struct {
	accounts accounts.Repository
	periods  dues.Repository
	outbox   outbox.Emitter
	txRunner txRunner
	logg     *logger.Logger
}

// NewService builds a subscription service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Accounts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "accounts repository required")
	}
	if params.Periods == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing period repository required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	return &service{
		accounts: params.Accounts,
		periods:  params.Periods,
		outbox:   params.Outbox,
		txRunner: params.TransactionRunner,
		logg:     params.Logger,
	}, nil
}

// Refresh re-evaluates the account and persists a changed state with its history row
// and outbox event. A nil tx runs the refresh in its own transaction.
func (s *service) Refresh(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, now time.Time) (*Status, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}
	if tx != nil {
		return s.refresh(ctx, tx, accountID, now)
	}

	var status *Status
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		out, err := s.refresh(ctx, tx, accountID, now)
		if err != nil {
			return err
		}
		status = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	if status.Changed {
		s.logTransition(ctx, status)
	}
	return status, nil
}

func (s *service) refresh(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, now time.Time) (*Status, error) {
	accountRepo := s.accounts.WithTx(tx)
	status, err := s.evaluate(ctx, accountRepo, s.periods.WithTx(tx), accountID, now)
	if err != nil {
		return nil, err
	}
	current := status.Account.AccessState
	status.Previous = current
	if status.State == current {
		return status, nil
	}
	if !CanTransition(current, status.State) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "access state transition not allowed").
			WithDetails(map[string]any{"from": current, "to": status.State})
	}

	changedAt := now.UTC()
	moved, err := accountRepo.UpdateAccessState(ctx, accountID, current, status.State, changedAt)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update access state")
	}
	if !moved {
		reloaded, err := accountRepo.FindByID(ctx, accountID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload subscription account")
		}
		if reloaded != nil && reloaded.AccessState == status.State {
			status.Account = reloaded
			return status, nil
		}
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "access state changed concurrently")
	}

	if err := accountRepo.InsertTransition(ctx, &models.SubscriptionStateTransition{
		AccountID: accountID,
		FromState: current,
		ToState:   status.State,
		Reason:    status.Reason,
		CreatedAt: changedAt,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert state transition")
	}

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventSubscriptionStateChanged,
		AggregateType: enums.AggregateSubscriptionAccount,
		AggregateID:   accountID,
		OccurredAt:    changedAt,
		Data: payloads.SubscriptionStateChangedEvent{
			AccountID:       accountID,
			TeacherID:       status.Account.TeacherID,
			FromState:       current,
			ToState:         status.State,
			Reason:          status.Reason,
			MaterialsLocked: status.MaterialsLocked,
			ChangedAt:       changedAt,
		},
	}); err != nil {
		return nil, err
	}

	status.Account.AccessState = status.State
	status.Account.StateChangedAt = &changedAt
	status.Changed = true
	return status, nil
}

// Status evaluates without writing anything. Billing periods are not generated here.
func (s *service) Status(ctx context.Context, accountID uuid.UUID, now time.Time) (*Status, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}
	status, err := s.evaluate(ctx, s.accounts, s.periods, accountID, now)
	if err != nil {
		return nil, err
	}
	status.Previous = status.Account.AccessState
	return status, nil
}

func (s *service) evaluate(ctx context.Context, accountRepo accounts.Repository, periodRepo dues.Repository, accountID uuid.UUID, now time.Time) (*Status, error) {
	if now.IsZero() {
		now = time.Now()
	}
	account, err := accountRepo.FindByID(ctx, accountID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find subscription account")
	}
	if account == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription account not found")
	}
	settings, err := accountRepo.GetSettings(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load platform settings")
	}
	periods, err := periodRepo.ListPending(ctx, accountID, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending billing periods")
	}

	pending := PendingFromPeriods(periods)
	eval := Evaluate(Input{
		Beta:      settings.BetaTestingEnabled,
		Current:   account.AccessState,
		Now:       now,
		Pending:   pending,
		GraceDays: account.GracePeriodDays,
	})
	return &Status{
		Account:     account,
		Beta:        settings.BetaTestingEnabled,
		PendingDues: len(pending),
		Evaluation:  eval,
	}, nil
}

func (s *service) logTransition(ctx context.Context, status *Status) {
	if s.logg == nil {
		return
	}
	logCtx := s.logg.WithAccountID(ctx, status.Account.ID.String())
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"from_state": status.Previous,
		"to_state":   status.State,
		"reason":     status.Reason,
	})
	s.logg.Info(logCtx, "subscription access state changed")
}
