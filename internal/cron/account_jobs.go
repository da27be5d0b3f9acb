package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/tutorbill-backend/internal/dues"
	"github.com/angelmondragon/tutorbill-backend/internal/subscriptions"
	"github.com/angelmondragon/tutorbill-backend/pkg/db/models"
	"github.com/angelmondragon/tutorbill-backend/pkg/logger"
)

const defaultAccountPageSize = 200

type accountLister interface {
	ListActive(ctx context.Context, afterID uuid.UUID, limit int) ([]models.SubscriptionAccount, error)
}

type periodGenerator interface {
	Generate(ctx context.Context, q dues.DueQuery) (int64, error)
}

type accessRefresher interface {
	Refresh(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, now time.Time) (*subscriptions.Status, error)
}

// eachAccount pages through live accounts in id order. A listing failure stops the
// walk; per-account failures are collected and the walk continues.
func eachAccount(ctx context.Context, lister accountLister, pageSize int, fn func(models.SubscriptionAccount) error) (int, error) {
	var (
		errs    error
		scanned int
		after   uuid.UUID
	)
	for {
		page, err := lister.ListActive(ctx, after, pageSize)
		if err != nil {
			return scanned, multierr.Append(errs, fmt.Errorf("list accounts: %w", err))
		}
		for _, account := range page {
			scanned++
			if err := fn(account); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("account %s: %w", account.ID, err))
			}
		}
		if len(page) < pageSize {
			return scanned, errs
		}
		after = page[len(page)-1].ID
		if ctx.Err() != nil {
			return scanned, multierr.Append(errs, ctx.Err())
		}
	}
}

type AccountJobParams struct {
	Logger        *logger.Logger
	Accounts      accountLister
	Dues          periodGenerator
	Subscriptions accessRefresher
	PageSize      int
	Now           func() time.Time
}

func (p AccountJobParams) normalized() (AccountJobParams, error) {
	if p.Logger == nil {
		return p, fmt.Errorf("logger required")
	}
	if p.Accounts == nil {
		return p, fmt.Errorf("account lister required")
	}
	if p.PageSize <= 0 {
		p.PageSize = defaultAccountPageSize
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return p, nil
}

// NewBillingPeriodJob generates every closed month that has no billing period yet.
func NewBillingPeriodJob(params AccountJobParams) (Job, error) {
	params, err := params.normalized()
	if err != nil {
		return nil, err
	}
	if params.Dues == nil {
		return nil, fmt.Errorf("dues service required")
	}
	return &billingPeriodJob{params: params}, nil
}

type billingPeriodJob struct {
	params AccountJobParams
}

func (j *billingPeriodJob) Name() string { return "billing-period-generation" }

func (j *billingPeriodJob) Run(ctx context.Context) error {
	asOf := j.params.Now().UTC()
	var created int64
	scanned, errs := eachAccount(ctx, j.params.Accounts, j.params.PageSize, func(account models.SubscriptionAccount) error {
		n, err := j.params.Dues.Generate(ctx, dues.DueQuery{AccountID: account.ID, AsOf: asOf})
		created += n
		return err
	})
	j.params.Logger.Info(j.params.Logger.WithFields(ctx, map[string]any{
		"accounts":        scanned,
		"periods_created": created,
		"as_of":           asOf,
	}), "billing period generation complete")
	return errs
}

// NewAccessRefreshJob persists access states that moved with the clock alone,
// such as grace expiring into locked.
func NewAccessRefreshJob(params AccountJobParams) (Job, error) {
	params, err := params.normalized()
	if err != nil {
		return nil, err
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription service required")
	}
	return &accessRefreshJob{params: params}, nil
}

type accessRefreshJob struct {
	params AccountJobParams
}

func (j *accessRefreshJob) Name() string { return "access-state-refresh" }

func (j *accessRefreshJob) Run(ctx context.Context) error {
	now := j.params.Now().UTC()
	changed := 0
	scanned, errs := eachAccount(ctx, j.params.Accounts, j.params.PageSize, func(account models.SubscriptionAccount) error {
		status, err := j.params.Subscriptions.Refresh(ctx, nil, account.ID, now)
		if err != nil {
			return err
		}
		if status.Changed {
			changed++
		}
		return nil
	})
	j.params.Logger.Info(j.params.Logger.WithFields(ctx, map[string]any{
		"accounts": scanned,
		"changed":  changed,
	}), "access state refresh complete")
	return errs
}
