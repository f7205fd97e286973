package concept

import "context"

// SearchOptions narrows a concept search.
type SearchOptions struct {
	Category  string
	ValueType string
	Limit     int
}

// Repository defines data access for concept definitions.
type Repository interface {
	Create(ctx context.Context, c *Concept) error
	Update(ctx context.Context, c *Concept) error
	Delete(ctx context.Context, conceptCode string) error
	FindByConceptCode(ctx context.Context, code string) (*Concept, error)
	// FindByCodes resolves a batch of codes in one query. Codes absent from
	// the dimension are simply missing from the result map, keyed by the
	// stored concept code.
	FindByCodes(ctx context.Context, codes []string) (map[string]*Concept, error)
	FindAll(ctx context.Context) ([]*Concept, error)
	FindByCategory(ctx context.Context, category string) ([]*Concept, error)
	// Search matches the term against code and display name, prefix matches
	// ranked before substring matches.
	Search(ctx context.Context, term string, opts SearchOptions) ([]*Concept, error)
	FindByName(ctx context.Context, name string) (*Concept, error)
	Count(ctx context.Context) (int64, error)
}
