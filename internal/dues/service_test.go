package dues

import (
	"context"
	"testing"
	"time"

	"github.com/angelmondragon/tutorbill-backend/internal/accounts"
	"github.com/angelmondragon/tutorbill-backend/internal/batches"
	"github.com/angelmondragon/tutorbill-backend/pkg/db/dbtest"
	"github.com/angelmondragon/tutorbill-backend/pkg/db/models"
	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tutorbill-backend/pkg/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	conn     *gorm.DB
	svc      *Service
	accounts accounts.Repository
	batches  batches.Repository
	account  *models.SubscriptionAccount
}

func newFixture(t *testing.T, accountCreated time.Time) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	f := &fixture{
		conn:     conn,
		accounts: accounts.NewRepository(conn),
		batches:  batches.NewRepository(conn),
	}
	svc, err := NewService(ServiceParams{
		Periods:  NewRepository(conn),
		Accounts: f.accounts,
		Batches:  f.batches,
	})
	require.NoError(t, err)
	f.svc = svc

	f.account = &models.SubscriptionAccount{
		TeacherID:       uuid.New(),
		GracePeriodDays: 7,
		AccessState:     enums.AccessStateActive,
		CreatedAt:       accountCreated,
		UpdatedAt:       accountCreated,
	}
	require.NoError(t, f.accounts.Create(context.Background(), f.account))
	return f
}

func (f *fixture) addBatch(t *testing.T, fees string, limit int, created time.Time) *models.Batch {
	t.Helper()
	batch := &models.Batch{
		OwnerTeacherID: f.account.TeacherID,
		Name:           "batch",
		Fees:           decimal.NewNullDecimal(decimal.RequireFromString(fees)),
		StudentLimit:   limit,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
	require.NoError(t, f.batches.Create(context.Background(), batch))
	return batch
}

func TestDueGeneratesClosedMonthsWithSumLaw(t *testing.T) {
	created := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, created)
	batch := f.addBatch(t, "1000", 15, created)
	ctx := context.Background()

	summary, err := f.svc.Due(ctx, DueQuery{AccountID: f.account.ID, BatchID: &batch.ID, AsOf: time.Date(2026, 4, 12, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	require.Equal(t, 3, summary.Count())
	assert.True(t, summary.Total.Equal(decimal.NewFromInt(4200)), "total %s", summary.Total)

	for i, p := range summary.Periods {
		assert.True(t, p.AmountDue.Equal(decimal.NewFromInt(1400)))
		assert.True(t, p.CommissionPerStudent.Equal(decimal.NewFromInt(70)))
		assert.Equal(t, 20, p.EffectiveStudentCount)
		if i > 0 {
			assert.True(t, summary.Periods[i-1].PeriodStart.Before(p.PeriodStart), "periods must be oldest first")
		}
	}

	for n := 0; n <= summary.Count(); n++ {
		prefix := summary.Take(n)
		sum := decimal.Zero
		for _, p := range prefix.Periods {
			sum = sum.Add(p.AmountDue)
		}
		assert.True(t, prefix.Total.Equal(sum), "prefix %d", n)
	}
	assert.Equal(t, 3, summary.Take(99).Count())
}

func TestGenerateIsIdempotent(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := newFixture(t, created)
	f.addBatch(t, "500", 40, created)
	ctx := context.Background()
	q := DueQuery{AccountID: f.account.ID, AsOf: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}

	first, err := f.svc.Generate(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, int64(2), first)

	second, err := f.svc.Generate(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, int64(0), second)

	summary, err := f.svc.Pending(ctx, f.account.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Count())
	assert.True(t, summary.Total.Equal(decimal.NewFromInt(2*35*40)))
}

func TestGenerateSnapshotsFeeAtGeneration(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := newFixture(t, created)
	batch := f.addBatch(t, "1000", 20, created)
	ctx := context.Background()

	_, err := f.svc.Generate(ctx, DueQuery{AccountID: f.account.ID, AsOf: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)

	require.NoError(t, f.conn.Model(&models.Batch{}).Where("id = ?", batch.ID).
		Update("fees", decimal.NewFromInt(2000)).Error)

	summary, err := f.svc.Due(ctx, DueQuery{AccountID: f.account.ID, AsOf: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	require.Equal(t, 2, summary.Count())
	assert.True(t, summary.Periods[0].AmountDue.Equal(decimal.NewFromInt(1400)))
	assert.True(t, summary.Periods[1].AmountDue.Equal(decimal.NewFromInt(2800)))
}

func TestGenerateSkipsWhileBetaOn(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := newFixture(t, created)
	f.addBatch(t, "1000", 20, created)
	ctx := context.Background()

	_, err := f.accounts.SetBetaEnabled(ctx, true, time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	n, err := f.svc.Generate(ctx, DueQuery{AccountID: f.account.ID, AsOf: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	_, err = f.accounts.SetBetaEnabled(ctx, false, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	summary, err := f.svc.Due(ctx, DueQuery{AccountID: f.account.ID, AsOf: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	// january and april are billable; february and march overlap the beta window
	require.Equal(t, 2, summary.Count())
	assert.Equal(t, time.January, summary.Periods[0].PeriodStart.Month())
	assert.Equal(t, time.April, summary.Periods[1].PeriodStart.Month())
}

func TestGenerateRejectsInvalidBatchBeforeWriting(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := newFixture(t, created)
	f.addBatch(t, "1000", 20, created)
	f.addBatch(t, "-5", 20, created)
	ctx := context.Background()

	_, err := f.svc.Generate(ctx, DueQuery{AccountID: f.account.ID, AsOf: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)

	summary, err := f.svc.Pending(ctx, f.account.ID, nil)
	require.NoError(t, err)
	assert.Zero(t, summary.Count())
}

func TestDueRejectsForeignBatch(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := newFixture(t, created)
	foreign := &models.Batch{OwnerTeacherID: uuid.New(), Name: "other", StudentLimit: 10, CreatedAt: created, UpdatedAt: created}
	require.NoError(t, f.batches.Create(context.Background(), foreign))

	_, err := f.svc.Due(context.Background(), DueQuery{AccountID: f.account.ID, BatchID: &foreign.ID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}
