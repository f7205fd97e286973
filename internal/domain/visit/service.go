package visit

import (
	"context"
	"fmt"

	"github.com/best/best/pkg/codes"
)

// Service wraps the repository with the write-side invariants.
type Service struct {
	repo Repository
}

// NewService returns a visit service over the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// CreateVisit validates and stores a new visit. The active status defaults
// to finished when an end date is present, active otherwise.
func (s *Service) CreateVisit(ctx context.Context, v *Visit) error {
	if err := v.Validate(); err != nil {
		return fmt.Errorf("create visit: %w", err)
	}
	if v.ActiveStatus == nil || *v.ActiveStatus == "" {
		status := codes.VisitStatusActive
		if v.EndDate != nil && *v.EndDate != "" {
			status = codes.VisitStatusFinished
		}
		v.ActiveStatus = &status
	}
	return s.repo.Create(ctx, v)
}

// GetVisit fetches a visit by surrogate number.
func (s *Service) GetVisit(ctx context.Context, encounterNum int64) (*Visit, error) {
	return s.repo.FindByEncounterNum(ctx, encounterNum)
}

// UpdateVisit re-validates and writes the full row back.
func (s *Service) UpdateVisit(ctx context.Context, v *Visit) error {
	if err := v.Validate(); err != nil {
		return fmt.Errorf("update visit %d: %w", v.EncounterNum, err)
	}
	return s.repo.Update(ctx, v)
}

// DeleteVisit removes a visit; its observations cascade.
func (s *Service) DeleteVisit(ctx context.Context, encounterNum int64) error {
	return s.repo.Delete(ctx, encounterNum)
}

// PatientVisits returns the patient's visits ordered by start date.
func (s *Service) PatientVisits(ctx context.Context, patientNum int64) ([]*Visit, error) {
	return s.repo.FindByPatientNum(ctx, patientNum)
}

// PatientTimeline returns the patient's visits with observation counts.
func (s *Service) PatientTimeline(ctx context.Context, patientNum int64) ([]*TimelineEntry, error) {
	return s.repo.Timeline(ctx, patientNum)
}
