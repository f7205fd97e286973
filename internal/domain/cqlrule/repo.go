package cqlrule

import "context"

// Repository is the persistence port for the rule catalogue and its concept
// links.
type Repository interface {
	Create(ctx context.Context, r *Rule) error
	Update(ctx context.Context, r *Rule) error
	Delete(ctx context.Context, cqlID int64) error
	FindByID(ctx context.Context, cqlID int64) (*Rule, error)
	FindByCode(ctx context.Context, code string) (*Rule, error)
	FindAll(ctx context.Context) ([]*Rule, error)

	// FindByConceptCode returns every rule linked to the concept through
	// CONCEPT_CQL_LOOKUP, in link insertion order.
	FindByConceptCode(ctx context.Context, conceptCode string) ([]*Rule, error)
	Link(ctx context.Context, conceptCode string, cqlID int64) error
	Unlink(ctx context.Context, conceptCode string, cqlID int64) error
	LinkedConcepts(ctx context.Context, cqlID int64) ([]string, error)

	Count(ctx context.Context) (int64, error)
}
