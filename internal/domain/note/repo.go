package note

import "context"

// Repository is the persistence port for clinical notes.
type Repository interface {
	Create(ctx context.Context, n *Note) error
	Update(ctx context.Context, n *Note) error
	Delete(ctx context.Context, noteID int64) error
	FindByID(ctx context.Context, noteID int64) (*Note, error)
	FindByPatientNum(ctx context.Context, patientNum int64) ([]*Note, error)
	FindByVisitNum(ctx context.Context, encounterNum int64) ([]*Note, error)
	FindByCategory(ctx context.Context, category string) ([]*Note, error)
	// Search matches the term case-insensitively against title and body.
	Search(ctx context.Context, term string) ([]*Note, error)
	Count(ctx context.Context) (int64, error)
}
