package visit

import "context"

// Repository defines data access for the visit dimension.
type Repository interface {
	Create(ctx context.Context, v *Visit) error
	Update(ctx context.Context, v *Visit) error
	Delete(ctx context.Context, encounterNum int64) error
	FindByEncounterNum(ctx context.Context, encounterNum int64) (*Visit, error)
	FindByPatientNum(ctx context.Context, patientNum int64) ([]*Visit, error)
	// Timeline returns the patient's visits ordered by start date, each with
	// its observation count.
	Timeline(ctx context.Context, patientNum int64) ([]*TimelineEntry, error)
	FindByLocationCode(ctx context.Context, locationCode string) ([]*Visit, error)
	FindByDateRange(ctx context.Context, from, to string) ([]*Visit, error)
	FindBySourceSystem(ctx context.Context, source string) ([]*Visit, error)
	Count(ctx context.Context) (int64, error)
	CountByPatient(ctx context.Context, patientNum int64) (int64, error)
}
