package user

import "context"

// Repository is the persistence port for user accounts.
type Repository interface {
	Create(ctx context.Context, u *User) error
	Update(ctx context.Context, u *User) error
	Delete(ctx context.Context, userCode string) error
	FindByUserCode(ctx context.Context, userCode string) (*User, error)
	FindAll(ctx context.Context) ([]*User, error)
	// ResetPassword replaces the stored hash of one account.
	ResetPassword(ctx context.Context, userCode, newHash string) error
	Count(ctx context.Context) (int64, error)
}
