package dues

import (
	"context"
	"time"

	"github.com/angelmondragon/tutorbill-backend/internal/accounts"
	"github.com/angelmondragon/tutorbill-backend/internal/batches"
	"github.com/angelmondragon/tutorbill-backend/internal/commission"
	"github.com/angelmondragon/tutorbill-backend/pkg/db/models"
	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tutorbill-backend/pkg/errors"
	"github.com/angelmondragon/tutorbill-backend/pkg/logger"
	"github.com/google/uuid"
)

// DueQuery scopes a dues lookup. A nil BatchID covers every batch of the account's teacher.
type DueQuery struct {
	AccountID uuid.UUID
	BatchID   *uuid.UUID
	AsOf      time.Time
}

type ServiceParams struct {
	Periods  Repository
	Accounts accounts.Repository
	Batches  batches.Repository
	Logger   *logger.Logger
	Now      func() time.Time
}

// Service generates billing periods lazily and reports what is owed.
type Service struct {
	periods  Repository
	accounts accounts.Repository
	batches  batches.Repository
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Periods == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing period repository required")
	}
	if params.Accounts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "accounts repository required")
	}
	if params.Batches == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "batches repository required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		periods:  params.Periods,
		accounts: params.Accounts,
		batches:  params.Batches,
		logg:     params.Logger,
		now:      now,
	}, nil
}

func (s *Service) Repo() Repository {
	return s.periods
}

// Due generates any missing periods for the scope and returns the pending ones.
func (s *Service) Due(ctx context.Context, q DueQuery) (*Summary, error) {
	if _, err := s.Generate(ctx, q); err != nil {
		return nil, err
	}
	return s.Pending(ctx, q.AccountID, q.BatchID)
}

// Pending reads unsettled periods without generating new ones.
func (s *Service) Pending(ctx context.Context, accountID uuid.UUID, batchID *uuid.UUID) (*Summary, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}
	rows, err := s.periods.ListPending(ctx, accountID, batchID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending billing periods")
	}
	summary := NewSummary(rows)
	return &summary, nil
}

// Generate inserts the billing periods that have closed by q.AsOf. Nothing is generated
// while beta mode is on. It returns the number of rows actually inserted.
func (s *Service) Generate(ctx context.Context, q DueQuery) (int64, error) {
	if q.AccountID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}
	asOf := q.AsOf
	if asOf.IsZero() {
		asOf = s.now()
	}
	asOf = asOf.UTC()

	account, err := s.accounts.FindByID(ctx, q.AccountID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find subscription account")
	}
	if account == nil {
		return 0, pkgerrors.New(pkgerrors.CodeNotFound, "subscription account not found")
	}

	scope, err := s.scope(ctx, account, q.BatchID)
	if err != nil {
		return 0, err
	}

	// every batch in scope must be billable before anything is written
	results := make([]commission.Result, len(scope))
	for i, batch := range scope {
		res, err := commission.CalculateNullable(batch.Fees, batch.StudentLimit)
		if err != nil {
			return 0, err
		}
		results[i] = res
	}

	settings, err := s.accounts.GetSettings(ctx)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load platform settings")
	}
	if settings.BetaTestingEnabled {
		return 0, nil
	}
	windows, err := s.accounts.ListBetaWindows(ctx)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list beta windows")
	}
	beta := BetaIntervals(windows)

	var inserted int64
	for i, batch := range scope {
		starts, err := s.periods.ListStarts(ctx, account.ID, batch.ID)
		if err != nil {
			return inserted, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list billing periods")
		}
		planned := PlanPeriods(Anchor(account.CreatedAt, batch.CreatedAt), asOf, starts, beta)
		if len(planned) == 0 {
			continue
		}

		rows := make([]models.BillingPeriod, 0, len(planned))
		for _, w := range planned {
			rows = append(rows, models.BillingPeriod{
				AccountID:             account.ID,
				BatchID:               batch.ID,
				PeriodStart:           w.Start,
				PeriodEnd:             w.End,
				AmountDue:             results[i].TotalMonthly,
				CommissionPerStudent:  results[i].CommissionPerStudent,
				EffectiveStudentCount: results[i].EffectiveStudentCount,
				Status:                enums.BillingPeriodStatusPending,
				CreatedAt:             asOf,
			})
		}
		n, err := s.periods.InsertPeriods(ctx, rows)
		if err != nil {
			return inserted, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert billing periods")
		}
		inserted += n
	}

	if inserted > 0 && s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"account_id": account.ID.String(),
			"inserted":   inserted,
		})
		s.logg.Info(logCtx, "billing periods generated")
	}
	return inserted, nil
}

func (s *Service) scope(ctx context.Context, account *models.SubscriptionAccount, batchID *uuid.UUID) ([]models.Batch, error) {
	if batchID == nil {
		rows, err := s.batches.ListByOwner(ctx, account.TeacherID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list batches")
		}
		return rows, nil
	}
	batch, err := s.batches.FindByID(ctx, *batchID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find batch")
	}
	if batch == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "batch not found")
	}
	if batch.OwnerTeacherID != account.TeacherID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "batch belongs to another teacher")
	}
	return []models.Batch{*batch}, nil
}

// BetaIntervals converts persisted beta windows for the planner.
func BetaIntervals(windows []models.BetaWindow) []BetaInterval {
	out := make([]BetaInterval, 0, len(windows))
	for _, w := range windows {
		out = append(out, BetaInterval{Start: w.StartedAt, End: w.EndedAt})
	}
	return out
}
