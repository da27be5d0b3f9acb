package accounts

import (
	"context"
	"time"

	"github.com/angelmondragon/tutorbill-backend/pkg/db"
	"github.com/angelmondragon/tutorbill-backend/pkg/db/models"
	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tutorbill-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams wires the account service.
type ServiceParams struct {
	Repo              Repository
	TransactionRunner txRunner
	GracePeriodDays   int
	Now               func() time.Time
}

// Service owns account bootstrap and the process-wide beta flag.
type Service struct {
	repo      Repository
	tx        txRunner
	graceDays int
	now       func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "accounts repository required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.GracePeriodDays < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "grace period days must be >= 0")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:      params.Repo,
		tx:        params.TransactionRunner,
		graceDays: params.GracePeriodDays,
		now:       now,
	}, nil
}

// Repo exposes the underlying repository for callers composing transactions.
func (s *Service) Repo() Repository {
	return s.repo
}

// EnsureAccount returns the live account for the teacher, creating it on first use.
func (s *Service) EnsureAccount(ctx context.Context, teacherID uuid.UUID) (*models.SubscriptionAccount, error) {
	if teacherID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "teacher id required")
	}

	account, err := s.repo.FindActiveByTeacher(ctx, teacherID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find subscription account")
	}
	if account != nil {
		return account, nil
	}

	now := s.now().UTC()
	account = &models.SubscriptionAccount{
		TeacherID:       teacherID,
		GracePeriodDays: s.graceDays,
		AccessState:     enums.AccessStateActive,
		StateChangedAt:  &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Create(ctx, account); err != nil {
		if !db.IsUniqueViolation(err, "ux_subscription_accounts_live_teacher") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create subscription account")
		}
		existing, findErr := s.repo.FindActiveByTeacher(ctx, teacherID)
		if findErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "reload subscription account")
		}
		if existing == nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "subscription account race")
		}
		return existing, nil
	}
	return account, nil
}

// Get loads an account by id.
func (s *Service) Get(ctx context.Context, accountID uuid.UUID) (*models.SubscriptionAccount, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}
	account, err := s.repo.FindByID(ctx, accountID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find subscription account")
	}
	if account == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription account not found")
	}
	return account, nil
}

// BetaEnabled reads the current platform flag.
func (s *Service) BetaEnabled(ctx context.Context) (bool, error) {
	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load platform settings")
	}
	return settings.BetaTestingEnabled, nil
}

// BetaWindows returns the full enable/disable history, oldest first.
func (s *Service) BetaWindows(ctx context.Context) ([]models.BetaWindow, error) {
	windows, err := s.repo.ListBetaWindows(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list beta windows")
	}
	return windows, nil
}

// SetBeta flips the process-wide beta flag. Past billing periods are untouched.
func (s *Service) SetBeta(ctx context.Context, enabled bool) (*models.PlatformSettings, error) {
	var settings *models.PlatformSettings
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.SetBetaEnabled(ctx, enabled, s.now().UTC()); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update beta flag")
		}
		loaded, err := repo.GetSettings(ctx)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload platform settings")
		}
		settings = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settings, nil
}
