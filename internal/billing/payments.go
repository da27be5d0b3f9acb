package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/tutorbill-backend/internal/dues"
	"github.com/angelmondragon/tutorbill-backend/internal/gateway"
	"github.com/angelmondragon/tutorbill-backend/internal/ledger"
	"github.com/angelmondragon/tutorbill-backend/pkg/db/models"
	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tutorbill-backend/pkg/errors"
	"github.com/angelmondragon/tutorbill-backend/pkg/outbox"
	"github.com/angelmondragon/tutorbill-backend/pkg/outbox/payloads"
)

// DueItem is one pending month.
type DueItem struct {
	ID          uuid.UUID       `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	DueDate     time.Time       `json:"due_date"`
	PeriodStart time.Time       `json:"period_start"`
	PeriodEnd   time.Time       `json:"period_end"`
}

// DueView lists the pending months of one batch oldest first.
type DueView struct {
	TotalDue    decimal.Decimal `json:"total_due"`
	MonthsDue   int             `json:"months_due"`
	DuePayments []DueItem       `json:"due_payments"`
}

func newDueView(summary *dues.Summary) *DueView {
	items := make([]DueItem, 0, summary.Count())
	for _, p := range summary.Periods {
		items = append(items, DueItem{
			ID:          p.ID,
			Amount:      p.AmountDue,
			DueDate:     p.DueDate(),
			PeriodStart: p.PeriodStart,
			PeriodEnd:   p.PeriodEnd,
		})
	}
	return &DueView{
		TotalDue:    summary.Total,
		MonthsDue:   summary.Count(),
		DuePayments: items,
	}
}

// DuePayments returns what the teacher owes for one of their batches.
func (s *Service) DuePayments(ctx context.Context, teacherID, batchID uuid.UUID) (*DueView, error) {
	_, summary, err := s.batchDues(ctx, teacherID, batchID)
	if err != nil {
		return nil, err
	}
	return newDueView(summary), nil
}

func (s *Service) batchDues(ctx context.Context, teacherID, batchID uuid.UUID) (*models.SubscriptionAccount, *dues.Summary, error) {
	account, err := s.accounts.EnsureAccount(ctx, teacherID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.batches.GetOwned(ctx, teacherID, batchID); err != nil {
		return nil, nil, err
	}
	summary, err := s.dues.Due(ctx, dues.DueQuery{AccountID: account.ID, BatchID: &batchID, AsOf: s.now().UTC()})
	if err != nil {
		return nil, nil, err
	}
	return account, summary, nil
}

// InitiateInput selects how many of the oldest pending months to pay online.
type InitiateInput struct {
	BatchID uuid.UUID
	Months  int
	Gateway string
}

// InitiateView carries the redirect the teacher follows to pay.
type InitiateView struct {
	RedirectURL string          `json:"redirect_url"`
	AttemptID   uuid.UUID       `json:"attempt_id"`
	Reused      bool            `json:"reused"`
	ExpiresAt   *time.Time      `json:"expires_at"`
	Gateway     enums.Gateway   `json:"gateway"`
	Amount      decimal.Decimal `json:"amount"`
	Months      int             `json:"months"`
}

// InitiateOnline returns a payment link covering the oldest input.Months pending periods.
// Repeating the same request returns the same live link.
func (s *Service) InitiateOnline(ctx context.Context, teacherID uuid.UUID, input InitiateInput) (*InitiateView, error) {
	if input.BatchID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "batch_id is required")
	}
	if input.Months < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "months must be at least 1")
	}
	gw := s.defaultGateway
	if raw := strings.ToLower(strings.TrimSpace(input.Gateway)); raw != "" {
		parsed, err := enums.ParseGateway(raw)
		if err != nil || !parsed.IsOnline() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported gateway %q", input.Gateway))
		}
		gw = parsed
	}

	account, summary, err := s.batchDues(ctx, teacherID, input.BatchID)
	if err != nil {
		return nil, err
	}
	if summary.Count() == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "nothing is due for this batch")
	}
	if input.Months > summary.Count() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "months exceeds pending months").
			WithDetails(map[string]any{"months_due": summary.Count()})
	}

	chosen := summary.Take(input.Months)
	key := IdempotencyKey(account.ID, input.BatchID, input.Months, chosen.IDs())
	batchID := input.BatchID
	link, err := s.links.GetOrCreatePaymentLink(ctx, gateway.LinkScope{
		AccountID: account.ID,
		BatchID:   &batchID,
		Gateway:   gw,
		Currency:  s.currency,
	}, chosen.Periods, key)
	if err != nil {
		return nil, err
	}

	s.logInfo(s.withTeacher(ctx, teacherID), "payment link issued", map[string]any{
		"attempt_id": link.AttemptID.String(),
		"gateway":    gw,
		"months":     input.Months,
		"reused":     link.Reused,
	})
	return &InitiateView{
		RedirectURL: link.RedirectURL,
		AttemptID:   link.AttemptID,
		Reused:      link.Reused,
		ExpiresAt:   link.ExpiresAt,
		Gateway:     gw,
		Amount:      chosen.Total,
		Months:      input.Months,
	}, nil
}

// IdempotencyKey derives the payment link key from the account, batch, month count and
// the exact periods chosen. Period order does not matter.
func IdempotencyKey(accountID, batchID uuid.UUID, months int, periodIDs []uuid.UUID) string {
	ids := make([]string, 0, len(periodIDs))
	for _, id := range periodIDs {
		ids = append(ids, id.String())
	}
	sort.Strings(ids)
	raw := fmt.Sprintf("%s|%s|%d|%s", accountID, batchID, months, strings.Join(ids, ","))
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// CallbackView reports the attempt after a redirect or poll.
type CallbackView struct {
	AttemptID   uuid.UUID                  `json:"attempt_id"`
	Status      enums.PaymentAttemptStatus `json:"status"`
	AccessState enums.AccessState          `json:"access_state,omitempty"`
}

// Callback asks the gateway for the outcome of reference and reconciles it like a webhook.
func (s *Service) Callback(ctx context.Context, teacherID uuid.UUID, gatewayName, reference string) (*CallbackView, error) {
	gw, err := enums.ParseGateway(strings.ToLower(strings.TrimSpace(gatewayName)))
	if err != nil || !gw.IsOnline() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "gateway must be stripe or square")
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference is required")
	}

	account, err := s.accounts.EnsureAccount(ctx, teacherID)
	if err != nil {
		return nil, err
	}
	attempt, err := s.ledger.AttemptByReference(ctx, nil, gw, reference)
	if err != nil {
		return nil, err
	}
	if attempt == nil || attempt.AccountID != account.ID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment attempt not found")
	}
	if attempt.Status.IsTerminal() {
		return &CallbackView{AttemptID: attempt.ID, Status: attempt.Status}, nil
	}

	event, err := s.links.LookupOutcome(ctx, gw, reference)
	if err != nil {
		return nil, err
	}
	event.Gateway = gw
	event.GatewayReference = reference
	event.GatewayEventID = gateway.CallbackEventID(reference, event.Outcome)

	result, err := s.reconciler.ApplyEvent(ctx, *event, enums.WebhookEventSourceCallback)
	if err != nil {
		return nil, err
	}
	view := &CallbackView{AttemptID: attempt.ID, Status: attempt.Status}
	if result.Attempt != nil {
		view.Status = result.Attempt.Status
	}
	if result.Replayed {
		if current, err := s.ledger.Attempt(ctx, nil, attempt.ID); err == nil && current != nil {
			view.Status = current.Status
		}
	}
	if result.Access != nil {
		view.AccessState = result.Access.State
	}
	return view, nil
}

// CashView is the result of recording a cash collection.
type CashView struct {
	AttemptID   uuid.UUID                  `json:"attempt_id"`
	PeriodID    uuid.UUID                  `json:"period_id"`
	Status      enums.PaymentAttemptStatus `json:"status"`
	AccessState enums.AccessState          `json:"access_state"`
}

// RecordCash marks one period as paid in cash by the teacher.
func (s *Service) RecordCash(ctx context.Context, teacherID, periodID uuid.UUID) (*CashView, error) {
	if periodID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "period_id is required")
	}
	account, err := s.accounts.EnsureAccount(ctx, teacherID)
	if err != nil {
		return nil, err
	}

	var view *CashView
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		attempt, err := s.ledger.RecordCashPayment(ctx, tx, ledger.CashPaymentInput{
			AccountID: account.ID,
			PeriodID:  periodID,
			ActorID:   teacherID,
			Currency:  s.currency,
		})
		if err != nil {
			return err
		}
		collectedAt := s.now().UTC()
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventCashCollected,
			AggregateType: enums.AggregatePaymentAttempt,
			AggregateID:   attempt.ID,
			Actor:         &outbox.Actor{ID: teacherID, Role: enums.RoleTeacher},
			OccurredAt:    collectedAt,
			Data: payloads.CashCollectedEvent{
				AccountID:        account.ID,
				PaymentAttemptID: attempt.ID,
				BillingPeriodID:  periodID,
				Amount:           attempt.Amount,
				CollectedAt:      collectedAt,
			},
		}); err != nil {
			return err
		}
		status, err := s.subscriptions.Refresh(ctx, tx, account.ID, collectedAt)
		if err != nil {
			return err
		}
		view = &CashView{
			AttemptID:   attempt.ID,
			PeriodID:    periodID,
			Status:      attempt.Status,
			AccessState: status.State,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logInfo(s.withTeacher(ctx, teacherID), "cash payment recorded", map[string]any{
		"attempt_id": view.AttemptID.String(),
		"period_id":  periodID.String(),
	})
	return view, nil
}
