package patient

import (
	"context"
	"fmt"

	"github.com/best/best/pkg/pagination"
)

// Service wraps the repository with the write-side invariants.
type Service struct {
	repo Repository
}

// NewService returns a patient service over the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// CreatePatient validates and stores a new patient. A patient code collision
// surfaces as db.ErrDuplicate from the repository.
func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("create patient: %w", err)
	}
	return s.repo.Create(ctx, p)
}

// GetPatient fetches a patient by surrogate number.
func (s *Service) GetPatient(ctx context.Context, patientNum int64) (*Patient, error) {
	return s.repo.FindByNum(ctx, patientNum)
}

// GetByCode fetches a patient by external code.
func (s *Service) GetByCode(ctx context.Context, code string) (*Patient, error) {
	return s.repo.FindByPatientCode(ctx, code)
}

// UpdatePatient loads the stored row, applies the patch, re-validates, and
// writes the merged row back. It returns the updated patient.
func (s *Service) UpdatePatient(ctx context.Context, patientNum int64, patch Patch) (*Patient, error) {
	p, err := s.repo.FindByNum(ctx, patientNum)
	if err != nil {
		return nil, err
	}
	if patch.Empty() {
		return p, nil
	}
	patch.Apply(p)
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("update patient %d: %w", patientNum, err)
	}
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// DeletePatient removes a patient; visits, observations, and notes cascade.
func (s *Service) DeletePatient(ctx context.Context, patientNum int64) error {
	return s.repo.Delete(ctx, patientNum)
}

// ListPatients returns one page of patients matching the criteria plus the
// total match count.
func (s *Service) ListPatients(ctx context.Context, c Criteria, page pagination.Params) ([]*Patient, int, error) {
	return s.repo.FindPaginated(ctx, page, c)
}
