package subscriptions

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tutorbill-backend/pkg/db/models"
	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
)

// Transition reasons persisted on state history rows and events.
const (
	ReasonBetaEnabled   = "beta_enabled"
	ReasonNoPendingDues = "no_pending_dues"
	ReasonGraceExpired  = "grace_expired"
	ReasonPaymentDue    = "payment_due"
)

// PeriodDue is the slice of a pending billing period the evaluation looks at.
type PeriodDue struct {
	PeriodID  uuid.UUID
	PeriodEnd time.Time
	Amount    decimal.Decimal
}

// Input is everything Evaluate needs. It performs no I/O. Current is the persisted
// state; a locked account only leaves locked once nothing overdue is pending.
type Input struct {
	Beta      bool
	Current   enums.AccessState
	Now       time.Time
	Pending   []PeriodDue
	GraceDays int
}

// Evaluation is the derived access state of an account at Input.Now.
type Evaluation struct {
	State           enums.AccessState
	MaterialsLocked bool
	GraceDeadline   *time.Time
	NextPaymentDue  *time.Time
	Reason          string
}

// Evaluate derives the access state from pending dues. Beta always yields active.
// Periods that have not closed yet are not overdue. Past grace on any overdue period
// locks, and a locked account stays locked while any overdue period is pending.
func Evaluate(in Input) Evaluation {
	if in.Beta {
		return Evaluation{State: enums.AccessStateActive, Reason: ReasonBetaEnabled}
	}
	now := in.Now.UTC()

	var oldest time.Time
	overdue := 0
	for _, p := range in.Pending {
		end := p.PeriodEnd.UTC()
		if end.After(now) {
			continue
		}
		if overdue == 0 || end.Before(oldest) {
			oldest = end
		}
		overdue++
	}
	if overdue == 0 {
		return Evaluation{State: enums.AccessStateActive, Reason: ReasonNoPendingDues}
	}

	graceDays := max(in.GraceDays, 0)
	deadline := oldest.AddDate(0, 0, graceDays)
	eval := Evaluation{
		State:          enums.AccessStateGrace,
		GraceDeadline:  &deadline,
		NextPaymentDue: &oldest,
		Reason:         ReasonPaymentDue,
	}
	if in.Current == enums.AccessStateLocked || now.After(deadline) {
		eval.State = enums.AccessStateLocked
		eval.MaterialsLocked = true
		eval.Reason = ReasonGraceExpired
	}
	return eval
}

// PendingFromPeriods keeps the unsettled periods, oldest first.
func PendingFromPeriods(periods []models.BillingPeriod) []PeriodDue {
	out := make([]PeriodDue, 0, len(periods))
	for _, p := range periods {
		if p.Status != enums.BillingPeriodStatusPending {
			continue
		}
		out = append(out, PeriodDue{PeriodID: p.ID, PeriodEnd: p.PeriodEnd, Amount: p.AmountDue})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PeriodEnd.Before(out[j].PeriodEnd)
	})
	return out
}

// allowedTransitions guards persisted access state changes.
var allowedTransitions = map[enums.AccessState][]enums.AccessState{
	enums.AccessStateActive: {enums.AccessStateGrace, enums.AccessStateLocked},
	enums.AccessStateGrace:  {enums.AccessStateActive, enums.AccessStateLocked},
	enums.AccessStateLocked: {enums.AccessStateActive},
}

// CanTransition reports whether the account may move between the two states.
func CanTransition(from, to enums.AccessState) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}
