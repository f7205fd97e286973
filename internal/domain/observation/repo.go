package observation

import (
	"context"

	"github.com/best/best/pkg/pagination"
)

// Criteria narrows fact queries. Zero values mean "any".
type Criteria struct {
	PatientNum   int64
	EncounterNum int64
	ConceptCode  string
	ValueType    string
	Category     string
	SourceSystem string
	StartAfter   string
	StartBefore  string
}

// Repository is the persistence port for observation facts.
type Repository interface {
	Create(ctx context.Context, o *Observation) error
	Update(ctx context.Context, o *Observation) error
	Delete(ctx context.Context, observationID int64) error
	FindByID(ctx context.Context, observationID int64) (*Observation, error)

	FindByPatientNum(ctx context.Context, patientNum int64) ([]*Observation, error)
	FindByVisitNum(ctx context.Context, encounterNum int64) ([]*Observation, error)
	FindByConceptCode(ctx context.Context, conceptCode string) ([]*Observation, error)
	FindByDateRange(ctx context.Context, from, to string) ([]*Observation, error)
	FindBySourceSystem(ctx context.Context, source string) ([]*Observation, error)
	// FindWithBlobData returns only rows carrying an opaque blob payload.
	FindWithBlobData(ctx context.Context) ([]*Observation, error)
	FindByCriteria(ctx context.Context, c Criteria, p pagination.Params) ([]*Observation, int, error)

	// FindResolvedByPatient reads the patient_observations view, which
	// joins concept names and display values at query time.
	FindResolvedByPatient(ctx context.Context, patientNum int64) ([]*Resolved, error)
	FindResolvedByVisit(ctx context.Context, encounterNum int64) ([]*Resolved, error)

	Statistics(ctx context.Context) (*Statistics, error)
	Count(ctx context.Context) (int64, error)
}
