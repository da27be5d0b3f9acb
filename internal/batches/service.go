package batches

import (
	"context"
	"strings"
	"time"

	"github.com/angelmondragon/tutorbill-backend/internal/commission"
	"github.com/angelmondragon/tutorbill-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/tutorbill-backend/pkg/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreateInput carries the billing-relevant fields of a new batch.
type CreateInput struct {
	Name         string
	Fees         decimal.Decimal
	StudentLimit int
}

// Service validates and stores batches and enrollments.
type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository, now func() time.Time) (*Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "batches repository required")
	}
	if now == nil {
		now = time.Now
	}
	return &Service{repo: repo, now: now}, nil
}

func (s *Service) Repo() Repository {
	return s.repo
}

// Create stores a batch owned by teacherID. Fees and limit are checked by the commission rules.
func (s *Service) Create(ctx context.Context, teacherID uuid.UUID, input CreateInput) (*models.Batch, error) {
	if teacherID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "teacher id required")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "batch name required")
	}
	if _, err := commission.Calculate(input.Fees, input.StudentLimit); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	batch := &models.Batch{
		OwnerTeacherID: teacherID,
		Name:           name,
		Fees:           decimal.NewNullDecimal(input.Fees),
		StudentLimit:   input.StudentLimit,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Create(ctx, batch); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create batch")
	}
	return batch, nil
}

// Get loads a batch or returns NotFound.
func (s *Service) Get(ctx context.Context, batchID uuid.UUID) (*models.Batch, error) {
	if batchID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "batch id required")
	}
	batch, err := s.repo.FindByID(ctx, batchID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find batch")
	}
	if batch == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "batch not found")
	}
	return batch, nil
}

// GetOwned loads a batch and checks that teacherID owns it.
func (s *Service) GetOwned(ctx context.Context, teacherID, batchID uuid.UUID) (*models.Batch, error) {
	batch, err := s.Get(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.OwnerTeacherID != teacherID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "batch belongs to another teacher")
	}
	return batch, nil
}

// Enrollment returns the enrollment or nil when the student is not in the batch.
func (s *Service) Enrollment(ctx context.Context, batchID, studentID uuid.UUID) (*models.BatchStudent, error) {
	if studentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "student id required")
	}
	enrollment, err := s.repo.FindEnrollment(ctx, batchID, studentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find enrollment")
	}
	return enrollment, nil
}

// Enroll adds a student to a batch the teacher owns.
func (s *Service) Enroll(ctx context.Context, teacherID, batchID, studentID uuid.UUID) (*models.BatchStudent, error) {
	if _, err := s.GetOwned(ctx, teacherID, batchID); err != nil {
		return nil, err
	}
	if studentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "student id required")
	}
	now := s.now().UTC()
	row := &models.BatchStudent{BatchID: batchID, StudentID: studentID, CreatedAt: now, UpdatedAt: now}
	if err := s.repo.Enroll(ctx, row); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enroll student")
	}
	return s.Enrollment(ctx, batchID, studentID)
}

// SetMaterialBlock toggles the teacher-controlled per-student block.
func (s *Service) SetMaterialBlock(ctx context.Context, teacherID, batchID, studentID uuid.UUID, blocked bool) (*models.BatchStudent, error) {
	if _, err := s.GetOwned(ctx, teacherID, batchID); err != nil {
		return nil, err
	}
	if studentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "student id required")
	}
	found, err := s.repo.SetMaterialAccessBlocked(ctx, batchID, studentID, blocked, s.now().UTC())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update material block")
	}
	if !found {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "student not enrolled in batch")
	}
	return s.Enrollment(ctx, batchID, studentID)
}
