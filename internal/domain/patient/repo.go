package patient

import (
	"context"

	"github.com/best/best/pkg/pagination"
)

// Criteria narrows a patient listing. Zero values add no filter.
type Criteria struct {
	VitalStatus  string
	Sex          string
	AgeMin       *int64
	AgeMax       *int64
	SourceSystem string
}

// Repository defines data access for the patient dimension.
type Repository interface {
	Create(ctx context.Context, p *Patient) error
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, patientNum int64) error
	FindByNum(ctx context.Context, patientNum int64) (*Patient, error)
	FindByPatientCode(ctx context.Context, code string) (*Patient, error)
	FindBySourceSystem(ctx context.Context, source string) ([]*Patient, error)
	FindByCriteria(ctx context.Context, c Criteria) ([]*Patient, error)
	FindPaginated(ctx context.Context, p pagination.Params, c Criteria) ([]*Patient, int, error)
	// Search matches the term against the patient code and blob body.
	Search(ctx context.Context, term string, p pagination.Params) ([]*Patient, int, error)
	Count(ctx context.Context) (int64, error)
	// DeleteByCodePrefix removes every patient whose code starts with the
	// prefix, cascading to children. The demo generator cleans up through it.
	DeleteByCodePrefix(ctx context.Context, prefix string) (int64, error)
}
