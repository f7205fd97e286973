package observation

import (
	"context"
	"fmt"

	"github.com/best/best/internal/domain/concept"
)

// Service wraps the repository with value routing and concept-aware checks.
type Service struct {
	repo     Repository
	resolver *concept.Resolver
}

// NewService returns an observation service. The resolver may be nil; value
// types are then taken from the observation as given.
func NewService(repo Repository, resolver *concept.Resolver) *Service {
	return &Service{repo: repo, resolver: resolver}
}

// CreateObservation validates and stores an observation whose value columns
// are already routed.
func (s *Service) CreateObservation(ctx context.Context, o *Observation) error {
	if err := o.Validate(); err != nil {
		return fmt.Errorf("create observation: %w", err)
	}
	return s.repo.Create(ctx, o)
}

// RecordValue stores an observation from a raw value. When the concept is
// known its declared value type wins over the one carried by the caller;
// the value is then routed into the numeric or text column accordingly.
func (s *Service) RecordValue(ctx context.Context, o *Observation, value any) error {
	if s.resolver != nil && o.ConceptCode != "" {
		res, err := s.resolver.Resolve(ctx, o.ConceptCode, concept.Options{})
		if err != nil {
			return fmt.Errorf("resolve concept %s: %w", o.ConceptCode, err)
		}
		if res.Source == concept.SourceConcept && res.ValueType != "" {
			o.ValueType = res.ValueType
		}
		if o.Unit == nil && res.Unit != "" {
			unit := res.Unit
			o.Unit = &unit
		}
	}
	if err := o.SetValue(value); err != nil {
		return fmt.Errorf("route value for concept %s: %w", o.ConceptCode, err)
	}
	return s.CreateObservation(ctx, o)
}

// GetObservation fetches one fact row.
func (s *Service) GetObservation(ctx context.Context, observationID int64) (*Observation, error) {
	return s.repo.FindByID(ctx, observationID)
}

// UpdateObservation re-validates and writes the full row back.
func (s *Service) UpdateObservation(ctx context.Context, o *Observation) error {
	if err := o.Validate(); err != nil {
		return fmt.Errorf("update observation %d: %w", o.ObservationID, err)
	}
	return s.repo.Update(ctx, o)
}

// DeleteObservation removes one fact row.
func (s *Service) DeleteObservation(ctx context.Context, observationID int64) error {
	return s.repo.Delete(ctx, observationID)
}

// PatientObservations returns a patient's raw fact rows ordered by date.
func (s *Service) PatientObservations(ctx context.Context, patientNum int64) ([]*Observation, error) {
	return s.repo.FindByPatientNum(ctx, patientNum)
}

// VisitObservations returns the fact rows of one visit ordered by date.
func (s *Service) VisitObservations(ctx context.Context, encounterNum int64) ([]*Observation, error) {
	return s.repo.FindByVisitNum(ctx, encounterNum)
}

// ResolvedForPatient reads the patient's observations through the
// patient_observations view, with concept names and display values joined in.
func (s *Service) ResolvedForPatient(ctx context.Context, patientNum int64) ([]*Resolved, error) {
	return s.repo.FindResolvedByPatient(ctx, patientNum)
}

// Statistics summarises the fact table.
func (s *Service) Statistics(ctx context.Context) (*Statistics, error) {
	return s.repo.Statistics(ctx)
}
