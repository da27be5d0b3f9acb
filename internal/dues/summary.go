package dues

import (
	"time"

	"github.com/angelmondragon/tutorbill-backend/pkg/db/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Summary is an oldest-first list of pending periods and their total.
type Summary struct {
	Periods []models.BillingPeriod
	Total   decimal.Decimal
}

// NewSummary totals the given periods in order.
func NewSummary(periods []models.BillingPeriod) Summary {
	total := decimal.Zero
	for _, p := range periods {
		total = total.Add(p.AmountDue)
	}
	return Summary{Periods: periods, Total: total}
}

// Count is the number of months due.
func (s Summary) Count() int {
	return len(s.Periods)
}

// Take returns the oldest n periods with their own sum. n is clamped to [0, Count].
func (s Summary) Take(n int) Summary {
	if n < 0 {
		n = 0
	}
	if n > len(s.Periods) {
		n = len(s.Periods)
	}
	return NewSummary(s.Periods[:n])
}

// IDs lists the period ids in order.
func (s Summary) IDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(s.Periods))
	for _, p := range s.Periods {
		ids = append(ids, p.ID)
	}
	return ids
}

// Oldest returns the earliest due date, or nil when nothing is due.
func (s Summary) Oldest() *time.Time {
	if len(s.Periods) == 0 {
		return nil
	}
	due := s.Periods[0].DueDate()
	return &due
}
