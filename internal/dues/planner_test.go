package dues

import (
	"testing"
	"time"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestPlanPeriodsOnlyClosedMonths(t *testing.T) {
	anchor := day(2026, 1, 15)
	got := PlanPeriods(anchor, day(2026, 4, 14), nil, nil)
	if len(got) != 2 {
		t.Fatalf("expected 2 periods, got %d", len(got))
	}
	if !got[0].Start.Equal(anchor) || !got[0].End.Equal(day(2026, 2, 15)) {
		t.Fatalf("unexpected first window %+v", got[0])
	}
	if !got[1].End.Equal(day(2026, 3, 15)) {
		t.Fatalf("unexpected second window %+v", got[1])
	}

	got = PlanPeriods(anchor, day(2026, 4, 15), nil, nil)
	if len(got) != 3 {
		t.Fatalf("period ending exactly at asOf should count, got %d", len(got))
	}
}

func TestPlanPeriodsSkipsExisting(t *testing.T) {
	anchor := day(2026, 1, 1)
	got := PlanPeriods(anchor, day(2026, 4, 1), []time.Time{day(2026, 2, 1)}, nil)
	if len(got) != 2 {
		t.Fatalf("expected 2 periods, got %d", len(got))
	}
	for _, w := range got {
		if w.Start.Equal(day(2026, 2, 1)) {
			t.Fatalf("existing period planned again")
		}
	}
}

func TestPlanPeriodsSkipsBetaMonths(t *testing.T) {
	anchor := day(2026, 1, 1)
	betaEnd := day(2026, 2, 10)
	beta := []BetaInterval{{Start: day(2026, 1, 20), End: &betaEnd}}

	got := PlanPeriods(anchor, day(2026, 5, 1), nil, beta)
	if len(got) != 2 {
		t.Fatalf("expected jan and feb to be skipped, got %d windows", len(got))
	}
	if !got[0].Start.Equal(day(2026, 3, 1)) {
		t.Fatalf("expected first billable month to be march, got %v", got[0].Start)
	}
}

func TestPlanPeriodsOpenBetaWindow(t *testing.T) {
	anchor := day(2026, 1, 1)
	beta := []BetaInterval{{Start: day(2026, 2, 15)}}
	got := PlanPeriods(anchor, day(2026, 6, 1), nil, beta)
	if len(got) != 1 || !got[0].Start.Equal(anchor) {
		t.Fatalf("expected only january, got %+v", got)
	}
}

func TestAddMonthsClampsShortMonths(t *testing.T) {
	anchor := day(2026, 1, 31)
	if got := addMonths(anchor, 1); !got.Equal(day(2026, 2, 28)) {
		t.Fatalf("expected feb 28, got %v", got)
	}
	if got := addMonths(anchor, 2); !got.Equal(day(2026, 3, 31)) {
		t.Fatalf("expected mar 31, got %v", got)
	}
	if got := addMonths(anchor, 12); !got.Equal(day(2027, 1, 31)) {
		t.Fatalf("expected jan 31 next year, got %v", got)
	}
}

func TestAnchorUsesLaterCreation(t *testing.T) {
	account := time.Date(2026, 1, 5, 17, 30, 0, 0, time.UTC)
	batch := time.Date(2026, 2, 9, 23, 59, 0, 0, time.UTC)
	if got := Anchor(account, batch); !got.Equal(day(2026, 2, 9)) {
		t.Fatalf("unexpected anchor %v", got)
	}
	if got := Anchor(batch, account); !got.Equal(day(2026, 2, 9)) {
		t.Fatalf("anchor must be symmetric, got %v", got)
	}
}
