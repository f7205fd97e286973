package user

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Service wraps the repository with password hashing.
type Service struct {
	repo Repository
	cost int
}

// NewService returns a user service with the default bcrypt cost.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, cost: bcrypt.DefaultCost}
}

// CreateUser hashes the given password and stores the account. An empty
// password leaves the hash unset; such accounts cannot log in until a reset.
func (s *Service) CreateUser(ctx context.Context, u *User, password string) error {
	if err := u.Validate(); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
		if err != nil {
			return fmt.Errorf("hash password for %s: %w", u.UserCode, err)
		}
		h := string(hash)
		u.PasswordHash = &h
	}
	return s.repo.Create(ctx, u)
}

// GetUser fetches an account by code.
func (s *Service) GetUser(ctx context.Context, userCode string) (*User, error) {
	return s.repo.FindByUserCode(ctx, userCode)
}

// UpdateUser writes profile fields back; the password hash is untouched.
func (s *Service) UpdateUser(ctx context.Context, u *User) error {
	if err := u.Validate(); err != nil {
		return fmt.Errorf("update user %s: %w", u.UserCode, err)
	}
	return s.repo.Update(ctx, u)
}

// DeleteUser removes an account.
func (s *Service) DeleteUser(ctx context.Context, userCode string) error {
	return s.repo.Delete(ctx, userCode)
}

// ListUsers returns every account.
func (s *Service) ListUsers(ctx context.Context) ([]*User, error) {
	return s.repo.FindAll(ctx)
}

// ResetPassword hashes the new password and replaces the stored hash.
func (s *Service) ResetPassword(ctx context.Context, userCode, newPassword string) error {
	if newPassword == "" {
		return fmt.Errorf("reset password of %s: empty password", userCode)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.cost)
	if err != nil {
		return fmt.Errorf("hash password for %s: %w", userCode, err)
	}
	return s.repo.ResetPassword(ctx, userCode, string(hash))
}

// CheckPassword reports whether the password matches the stored hash.
func (s *Service) CheckPassword(ctx context.Context, userCode, password string) (bool, error) {
	u, err := s.repo.FindByUserCode(ctx, userCode)
	if err != nil {
		return false, err
	}
	if u.PasswordHash == nil || *u.PasswordHash == "" {
		return false, nil
	}
	err = bcrypt.CompareHashAndPassword([]byte(*u.PasswordHash), []byte(password))
	if err == bcrypt.ErrMismatchedHashAndPassword {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check password of %s: %w", userCode, err)
	}
	return true, nil
}
