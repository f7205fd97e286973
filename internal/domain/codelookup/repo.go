package codelookup

import "context"

// Repository defines data access for the code lookup catalogue.
type Repository interface {
	Create(ctx context.Context, l *CodeLookup) error
	Update(ctx context.Context, l *CodeLookup) error
	Delete(ctx context.Context, tableCode, columnCode, code string) error
	Find(ctx context.Context, tableCode, columnCode, code string) (*CodeLookup, error)
	// FindByColumn returns the full value set declared for one column.
	FindByColumn(ctx context.Context, tableCode, columnCode string) ([]*CodeLookup, error)
	// FindByCodes resolves a batch of codes across all tables and columns in
	// one query, keyed by code. When several columns declare the same code
	// the first row in key order wins.
	FindByCodes(ctx context.Context, lookup []string) (map[string]*CodeLookup, error)
	FindAll(ctx context.Context) ([]*CodeLookup, error)
	Count(ctx context.Context) (int64, error)
}
