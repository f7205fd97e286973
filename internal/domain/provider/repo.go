package provider

import "context"

// Repository is the persistence port for the provider dimension.
type Repository interface {
	Create(ctx context.Context, p *Provider) error
	Update(ctx context.Context, p *Provider) error
	Delete(ctx context.Context, providerID string) error
	FindByID(ctx context.Context, providerID string) (*Provider, error)
	FindAll(ctx context.Context) ([]*Provider, error)
	Count(ctx context.Context) (int64, error)
}
