// Package billing composes the billing engine into the operations exposed over HTTP.
package billing

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tutorbill-backend/internal/access"
	"github.com/angelmondragon/tutorbill-backend/internal/accounts"
	"github.com/angelmondragon/tutorbill-backend/internal/batches"
	"github.com/angelmondragon/tutorbill-backend/internal/dues"
	"github.com/angelmondragon/tutorbill-backend/internal/gateway"
	"github.com/angelmondragon/tutorbill-backend/internal/ledger"
	"github.com/angelmondragon/tutorbill-backend/internal/reconciler"
	"github.com/angelmondragon/tutorbill-backend/internal/subscriptions"
	"github.com/angelmondragon/tutorbill-backend/pkg/config"
	"github.com/angelmondragon/tutorbill-backend/pkg/db/models"
	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tutorbill-backend/pkg/errors"
	"github.com/angelmondragon/tutorbill-backend/pkg/logger"
	"github.com/angelmondragon/tutorbill-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// linkIssuer is satisfied by *gateway.Adapter.
type linkIssuer interface {
	GetOrCreatePaymentLink(ctx context.Context, scope gateway.LinkScope, periods []models.BillingPeriod, idempotencyKey string) (*gateway.LinkResult, error)
	LookupOutcome(ctx context.Context, gw enums.Gateway, reference string) (*gateway.Event, error)
}

// eventApplier is satisfied by *reconciler.Service.
type eventApplier interface {
	ApplyEvent(ctx context.Context, event gateway.Event, source enums.WebhookEventSource) (*reconciler.Result, error)
	ListForReview(ctx context.Context, status enums.WebhookEventStatus, offset, limit int) ([]models.WebhookEvent, int64, error)
}

type ServiceParams struct {
	Accounts          *accounts.Service
	Batches           *batches.Service
	Dues              *dues.Service
	Ledger            ledger.Service
	Subscriptions     subscriptions.Service
	Links             linkIssuer
	Reconciler        eventApplier
	Outbox            outbox.Emitter
	TransactionRunner txRunner
	Config            config.BillingConfig
	Logger            *logger.Logger
	Now               func() time.Time
}

// Service is the billing facade used by the controllers.
type Service struct {
	accounts       *accounts.Service
	batches        *batches.Service
	dues           *dues.Service
	ledger         ledger.Service
	subscriptions  subscriptions.Service
	links          linkIssuer
	reconciler     eventApplier
	outbox         outbox.Emitter
	tx             txRunner
	currency       string
	defaultGateway enums.Gateway
	logg           *logger.Logger
	now            func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Accounts == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "accounts service required")
	case params.Batches == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "batches service required")
	case params.Dues == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "dues service required")
	case params.Ledger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger service required")
	case params.Subscriptions == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription service required")
	case params.Links == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment link issuer required")
	case params.Reconciler == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reconciler required")
	case params.Outbox == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	case params.TransactionRunner == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}

	defaultGateway, err := enums.ParseGateway(strings.ToLower(strings.TrimSpace(params.Config.DefaultGateway)))
	if err != nil || !defaultGateway.IsOnline() {
		defaultGateway = enums.GatewayStripe
	}
	currency := params.Config.Currency
	if currency == "" {
		currency = "INR"
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		accounts:       params.Accounts,
		batches:        params.Batches,
		dues:           params.Dues,
		ledger:         params.Ledger,
		subscriptions:  params.Subscriptions,
		links:          params.Links,
		reconciler:     params.Reconciler,
		outbox:         params.Outbox,
		tx:             params.TransactionRunner,
		currency:       currency,
		defaultGateway: defaultGateway,
		logg:           params.Logger,
		now:            now,
	}, nil
}

// StatusView is the teacher-facing subscription summary.
type StatusView struct {
	SubscriptionActive bool              `json:"subscription_active"`
	BetaTestingEnabled bool              `json:"beta_testing_enabled"`
	MaterialsLocked    bool              `json:"materials_locked"`
	AccessState        enums.AccessState `json:"access_state"`
	PendingDues        int               `json:"pending_dues"`
	NextPaymentDue     *time.Time        `json:"next_payment_due"`
	GraceDeadline      *time.Time        `json:"grace_deadline"`
}

func newStatusView(status *subscriptions.Status) *StatusView {
	return &StatusView{
		SubscriptionActive: status.Active(),
		BetaTestingEnabled: status.Beta,
		MaterialsLocked:    status.MaterialsLocked,
		AccessState:        status.State,
		PendingDues:        status.PendingDues,
		NextPaymentDue:     status.NextPaymentDue,
		GraceDeadline:      status.GraceDeadline,
	}
}

// Status brings the teacher's periods up to date and returns the persisted access state.
func (s *Service) Status(ctx context.Context, teacherID uuid.UUID) (*StatusView, error) {
	status, err := s.refresh(ctx, teacherID)
	if err != nil {
		return nil, err
	}
	return newStatusView(status), nil
}

// refresh generates due periods and applies the derived access state. Storage failures
// surface as read-only so callers never guess entitlement.
func (s *Service) refresh(ctx context.Context, teacherID uuid.UUID) (*subscriptions.Status, error) {
	account, err := s.accounts.EnsureAccount(ctx, teacherID)
	if err != nil {
		return nil, readOnly(err)
	}
	now := s.now().UTC()
	if _, err := s.dues.Generate(ctx, dues.DueQuery{AccountID: account.ID, AsOf: now}); err != nil {
		return nil, readOnly(err)
	}
	status, err := s.subscriptions.Refresh(ctx, nil, account.ID, now)
	if err != nil {
		return nil, readOnly(err)
	}
	return status, nil
}

func (s *Service) subject(ctx context.Context, teacherID uuid.UUID) (access.Subject, error) {
	status, err := s.refresh(ctx, teacherID)
	if err != nil {
		return access.Subject{}, err
	}
	return access.SubjectFromStatus(teacherID, status), nil
}

func readOnly(err error) error {
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "billing state unavailable").
		WithDetails(map[string]any{"read_only": true})
}

func (s *Service) withTeacher(ctx context.Context, teacherID uuid.UUID) context.Context {
	if s.logg == nil {
		return ctx
	}
	return s.logg.WithTeacherID(ctx, teacherID.String())
}

func (s *Service) logInfo(ctx context.Context, msg string, fields map[string]any) {
	if s.logg == nil {
		return
	}
	s.logg.Info(s.logg.WithFields(ctx, fields), msg)
}
