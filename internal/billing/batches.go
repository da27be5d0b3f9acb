package billing

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/tutorbill-backend/internal/access"
	"github.com/angelmondragon/tutorbill-backend/internal/batches"
	"github.com/angelmondragon/tutorbill-backend/pkg/db/models"
)

// CreateBatch stores a new batch when the teacher's subscription allows it.
func (s *Service) CreateBatch(ctx context.Context, teacherID uuid.UUID, input batches.CreateInput) (*models.Batch, error) {
	subject, err := s.subject(ctx, teacherID)
	if err != nil {
		return nil, err
	}
	if err := access.CanCreateBatch(subject).Err(); err != nil {
		return nil, err
	}
	return s.batches.Create(ctx, teacherID, input)
}

// UploadAccess reports whether the teacher may upload materials to the batch.
func (s *Service) UploadAccess(ctx context.Context, teacherID, batchID uuid.UUID) (access.Decision, error) {
	batch, err := s.batches.Get(ctx, batchID)
	if err != nil {
		return access.Decision{}, err
	}
	subject, err := s.subject(ctx, teacherID)
	if err != nil {
		return access.Decision{}, err
	}
	return access.CanUploadMaterial(subject, *batch), nil
}

// MaterialAccess reports whether an enrolled student may view the batch materials.
func (s *Service) MaterialAccess(ctx context.Context, teacherID, batchID, studentID uuid.UUID) (access.Decision, error) {
	batch, err := s.batches.Get(ctx, batchID)
	if err != nil {
		return access.Decision{}, err
	}
	enrollment, err := s.batches.Enrollment(ctx, batchID, studentID)
	if err != nil {
		return access.Decision{}, err
	}
	subject, err := s.subject(ctx, teacherID)
	if err != nil {
		return access.Decision{}, err
	}
	return access.CanAccessMaterial(subject, *batch, enrollment), nil
}

// EnrollStudent adds a student to one of the teacher's batches.
func (s *Service) EnrollStudent(ctx context.Context, teacherID, batchID, studentID uuid.UUID) (*models.BatchStudent, error) {
	return s.batches.Enroll(ctx, teacherID, batchID, studentID)
}

// SetMaterialBlock sets the teacher-controlled per-student block. It is independent of billing.
func (s *Service) SetMaterialBlock(ctx context.Context, teacherID, batchID, studentID uuid.UUID, blocked bool) (*models.BatchStudent, error) {
	return s.batches.SetMaterialBlock(ctx, teacherID, batchID, studentID, blocked)
}
