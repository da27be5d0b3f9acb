package subscriptions

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tutorbill-backend/pkg/db/models"
	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
)

func TestEvaluate(t *testing.T) {
	due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	pending := []PeriodDue{{PeriodID: uuid.New(), PeriodEnd: due, Amount: decimal.NewFromInt(600)}}

	cases := []struct {
		name   string
		in     Input
		state  enums.AccessState
		reason string
		locked bool
	}{
		{
			name:   "beta overrides overdue dues",
			in:     Input{Beta: true, Now: due.AddDate(0, 2, 0), Pending: pending, GraceDays: 7},
			state:  enums.AccessStateActive,
			reason: ReasonBetaEnabled,
		},
		{
			name:   "nothing pending",
			in:     Input{Now: due, GraceDays: 7},
			state:  enums.AccessStateActive,
			reason: ReasonNoPendingDues,
		},
		{
			name:   "inside grace",
			in:     Input{Now: due.AddDate(0, 0, 3), Pending: pending, GraceDays: 7},
			state:  enums.AccessStateGrace,
			reason: ReasonPaymentDue,
		},
		{
			name:   "exactly at deadline",
			in:     Input{Now: due.AddDate(0, 0, 7), Pending: pending, GraceDays: 7},
			state:  enums.AccessStateGrace,
			reason: ReasonPaymentDue,
		},
		{
			name:   "past deadline",
			in:     Input{Now: due.AddDate(0, 0, 7).Add(time.Second), Pending: pending, GraceDays: 7},
			state:  enums.AccessStateLocked,
			reason: ReasonGraceExpired,
			locked: true,
		},
		{
			name:   "period not closed yet",
			in:     Input{Now: due.Add(-time.Hour), Pending: pending, GraceDays: 7},
			state:  enums.AccessStateActive,
			reason: ReasonNoPendingDues,
		},
		{
			name:   "locked stays locked inside grace",
			in:     Input{Current: enums.AccessStateLocked, Now: due.AddDate(0, 0, 1), Pending: pending, GraceDays: 7},
			state:  enums.AccessStateLocked,
			reason: ReasonGraceExpired,
			locked: true,
		},
		{
			name:   "locked with nothing overdue",
			in:     Input{Current: enums.AccessStateLocked, Now: due, GraceDays: 7},
			state:  enums.AccessStateActive,
			reason: ReasonNoPendingDues,
		},
		{
			name:   "zero grace locks right after due",
			in:     Input{Now: due.Add(time.Minute), Pending: pending, GraceDays: 0},
			state:  enums.AccessStateLocked,
			reason: ReasonGraceExpired,
			locked: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate(tc.in)
			if got.State != tc.state {
				t.Fatalf("expected state %s, got %s", tc.state, got.State)
			}
			if got.Reason != tc.reason {
				t.Fatalf("expected reason %s, got %s", tc.reason, got.Reason)
			}
			if got.MaterialsLocked != tc.locked {
				t.Fatalf("expected materials locked %v", tc.locked)
			}
		})
	}
}

func TestEvaluateUsesOldestPeriod(t *testing.T) {
	older := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)
	got := Evaluate(Input{
		Now:       newer,
		GraceDays: 7,
		Pending: []PeriodDue{
			{PeriodID: uuid.New(), PeriodEnd: newer},
			{PeriodID: uuid.New(), PeriodEnd: older},
		},
	})
	if got.State != enums.AccessStateLocked {
		t.Fatalf("oldest overdue period should lock, got %s", got.State)
	}
	if got.NextPaymentDue == nil || !got.NextPaymentDue.Equal(older) {
		t.Fatalf("next payment due should be the oldest period end, got %v", got.NextPaymentDue)
	}
	if got.GraceDeadline == nil || !got.GraceDeadline.Equal(older.AddDate(0, 0, 7)) {
		t.Fatalf("unexpected grace deadline %v", got.GraceDeadline)
	}
}

func TestEvaluateLockedNeedsEveryOverduePeriodPaid(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	now := newer.AddDate(0, 0, 2)
	both := []PeriodDue{
		{PeriodID: uuid.New(), PeriodEnd: older},
		{PeriodID: uuid.New(), PeriodEnd: newer},
	}

	first := Evaluate(Input{Current: enums.AccessStateActive, Now: now, Pending: both, GraceDays: 7})
	if first.State != enums.AccessStateLocked {
		t.Fatalf("expected locked with the oldest period past grace, got %s", first.State)
	}

	afterOldest := Evaluate(Input{Current: first.State, Now: now, Pending: both[1:], GraceDays: 7})
	if afterOldest.State != enums.AccessStateLocked || !afterOldest.MaterialsLocked {
		t.Fatalf("paying only the oldest period must keep the account locked, got %s", afterOldest.State)
	}
	if afterOldest.NextPaymentDue == nil || !afterOldest.NextPaymentDue.Equal(newer) {
		t.Fatalf("next payment due should move to the remaining period, got %v", afterOldest.NextPaymentDue)
	}

	cleared := Evaluate(Input{Current: afterOldest.State, Now: now, GraceDays: 7})
	if cleared.State != enums.AccessStateActive {
		t.Fatalf("clearing every overdue period should activate, got %s", cleared.State)
	}
}

func TestPendingFromPeriodsSkipsSettled(t *testing.T) {
	jan := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	periods := []models.BillingPeriod{
		{ID: uuid.New(), PeriodEnd: jan.AddDate(0, 2, 0), Status: enums.BillingPeriodStatusPending},
		{ID: uuid.New(), PeriodEnd: jan.AddDate(0, 1, 0), Status: enums.BillingPeriodStatusPaid},
		{ID: uuid.New(), PeriodEnd: jan, Status: enums.BillingPeriodStatusPending},
		{ID: uuid.New(), PeriodEnd: jan.AddDate(0, 3, 0), Status: enums.BillingPeriodStatusWaived},
	}
	pending := PendingFromPeriods(periods)
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending periods, got %d", len(pending))
	}
	if !pending[0].PeriodEnd.Equal(jan) {
		t.Fatalf("pending periods should be oldest first")
	}
}

func TestCanTransition(t *testing.T) {
	states := []enums.AccessState{enums.AccessStateActive, enums.AccessStateGrace, enums.AccessStateLocked}
	for _, from := range states {
		for _, to := range states {
			want := from != to && !(from == enums.AccessStateLocked && to == enums.AccessStateGrace)
			if got := CanTransition(from, to); got != want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
	if CanTransition(enums.AccessState("unknown"), enums.AccessStateActive) {
		t.Fatalf("unknown state must not transition")
	}
}
