// Package dues tracks the monthly commission periods a teacher owes per batch.
package dues

import (
	"time"
)

// maxPlannedPeriods bounds a single planning pass.
const maxPlannedPeriods = 1200

// Window is one anniversary month, half-open [Start, End).
type Window struct {
	Index int
	Start time.Time
	End   time.Time
}

// BetaInterval is a span during which beta mode was on. A nil End means still on.
type BetaInterval struct {
	Start time.Time
	End   *time.Time
}

func (b BetaInterval) overlaps(w Window) bool {
	if !b.Start.Before(w.End) {
		return false
	}
	return b.End == nil || b.End.After(w.Start)
}

// Anchor returns the UTC midnight billing periods are counted from.
func Anchor(accountCreated, batchCreated time.Time) time.Time {
	anchor := accountCreated
	if batchCreated.After(anchor) {
		anchor = batchCreated
	}
	return midnightUTC(anchor)
}

// PlanPeriods lists the closed months after anchor that still need a billing period:
// period_end <= asOf, not already generated, and untouched by any beta interval.
func PlanPeriods(anchor, asOf time.Time, existing []time.Time, beta []BetaInterval) []Window {
	anchor = midnightUTC(anchor)
	seen := make(map[int64]struct{}, len(existing))
	for _, start := range existing {
		seen[start.Unix()] = struct{}{}
	}

	var out []Window
	for i := 1; i <= maxPlannedPeriods; i++ {
		w := Window{
			Index: i,
			Start: addMonths(anchor, i-1),
			End:   addMonths(anchor, i),
		}
		if w.End.After(asOf) {
			break
		}
		if _, ok := seen[w.Start.Unix()]; ok {
			continue
		}
		if duringBeta(w, beta) {
			continue
		}
		out = append(out, w)
	}
	return out
}

func duringBeta(w Window, beta []BetaInterval) bool {
	for _, b := range beta {
		if b.overlaps(w) {
			return true
		}
	}
	return false
}

// addMonths keeps the anchor day, clamped to the last day of shorter months.
func addMonths(anchor time.Time, n int) time.Time {
	year, month := anchor.Year(), int(anchor.Month())-1+n
	year += month / 12
	month %= 12
	if month < 0 {
		month += 12
		year--
	}
	day := anchor.Day()
	if last := daysIn(year, time.Month(month+1)); day > last {
		day = last
	}
	return time.Date(year, time.Month(month+1), day, 0, 0, 0, 0, time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
