package cron

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tutorbill-backend/internal/dues"
	"github.com/angelmondragon/tutorbill-backend/internal/subscriptions"
	"github.com/angelmondragon/tutorbill-backend/pkg/db/models"
	"github.com/angelmondragon/tutorbill-backend/pkg/logger"
)

var cronNow = time.Date(2026, 3, 15, 6, 0, 0, 0, time.UTC)

func TestBillingPeriodJobPagesEveryAccount(t *testing.T) {
	lister := newFakeAccounts(5)
	gen := &fakeGenerator{failFor: map[uuid.UUID]bool{}}
	job, err := NewBillingPeriodJob(AccountJobParams{
		Logger:   logger.New(logger.Options{ServiceName: "test"}),
		Accounts: lister,
		Dues:     gen,
		PageSize: 2,
		Now:      func() time.Time { return cronNow },
	})
	if err != nil {
		t.Fatalf("NewBillingPeriodJob: %v", err)
	}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(gen.queries) != 5 {
		t.Fatalf("expected 5 generations, got %d", len(gen.queries))
	}
	if lister.calls != 3 {
		t.Fatalf("expected 3 pages, got %d", lister.calls)
	}
	for _, q := range gen.queries {
		if !q.AsOf.Equal(cronNow) || q.BatchID != nil {
			t.Fatalf("unexpected query %+v", q)
		}
	}
}

func TestBillingPeriodJobContinuesPastFailures(t *testing.T) {
	lister := newFakeAccounts(3)
	gen := &fakeGenerator{failFor: map[uuid.UUID]bool{lister.accounts[1].ID: true}}
	job, err := NewBillingPeriodJob(AccountJobParams{
		Logger:   logger.New(logger.Options{ServiceName: "test"}),
		Accounts: lister,
		Dues:     gen,
	})
	if err != nil {
		t.Fatalf("NewBillingPeriodJob: %v", err)
	}

	if err := job.Run(context.Background()); err == nil {
		t.Fatalf("expected aggregated error")
	}
	if len(gen.queries) != 3 {
		t.Fatalf("every account should be attempted, got %d", len(gen.queries))
	}
}

func TestAccessRefreshJobRefreshesOutsideCallerTx(t *testing.T) {
	lister := newFakeAccounts(2)
	refresher := &fakeRefresher{changed: map[uuid.UUID]bool{lister.accounts[0].ID: true}}
	job, err := NewAccessRefreshJob(AccountJobParams{
		Logger:        logger.New(logger.Options{ServiceName: "test"}),
		Accounts:      lister,
		Subscriptions: refresher,
		Now:           func() time.Time { return cronNow },
	})
	if err != nil {
		t.Fatalf("NewAccessRefreshJob: %v", err)
	}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(refresher.refreshed) != 2 {
		t.Fatalf("expected 2 refreshes, got %d", len(refresher.refreshed))
	}
	if refresher.sawTx {
		t.Fatalf("refresh should open its own transaction")
	}
}

func TestAccountJobsRequireDependencies(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test"})
	if _, err := NewBillingPeriodJob(AccountJobParams{Logger: logg, Accounts: newFakeAccounts(0)}); err == nil {
		t.Fatalf("expected missing dues service to fail")
	}
	if _, err := NewAccessRefreshJob(AccountJobParams{Logger: logg, Accounts: newFakeAccounts(0)}); err == nil {
		t.Fatalf("expected missing subscription service to fail")
	}
	if _, err := NewAccessRefreshJob(AccountJobParams{Logger: logg}); err == nil {
		t.Fatalf("expected missing lister to fail")
	}
}

type fakeAccounts struct {
	accounts []models.SubscriptionAccount
	calls    int
}

func newFakeAccounts(n int) *fakeAccounts {
	f := &fakeAccounts{}
	for i := 0; i < n; i++ {
		id := uuid.MustParse(fmt.Sprintf("00000000-0000-0000-0000-%012d", i+1))
		f.accounts = append(f.accounts, models.SubscriptionAccount{ID: id, TeacherID: uuid.New()})
	}
	return f
}

func (f *fakeAccounts) ListActive(ctx context.Context, afterID uuid.UUID, limit int) ([]models.SubscriptionAccount, error) {
	f.calls++
	out := []models.SubscriptionAccount{}
	for _, a := range f.accounts {
		if afterID != uuid.Nil && a.ID.String() <= afterID.String() {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, a)
	}
	return out, nil
}

type fakeGenerator struct {
	queries []dues.DueQuery
	failFor map[uuid.UUID]bool
}

func (f *fakeGenerator) Generate(ctx context.Context, q dues.DueQuery) (int64, error) {
	f.queries = append(f.queries, q)
	if f.failFor[q.AccountID] {
		return 0, errors.New("db down")
	}
	return 1, nil
}

type fakeRefresher struct {
	refreshed []uuid.UUID
	changed   map[uuid.UUID]bool
	sawTx     bool
}

func (f *fakeRefresher) Refresh(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, now time.Time) (*subscriptions.Status, error) {
	if tx != nil {
		f.sawTx = true
	}
	f.refreshed = append(f.refreshed, accountID)
	return &subscriptions.Status{Changed: f.changed[accountID]}, nil
}
