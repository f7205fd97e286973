package user

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/best/best/internal/platform/db"
	"github.com/best/best/pkg/codes"
)

type mockRepo struct {
	byCode map[string]*User
	nextID int64
}

func newMockRepo() *mockRepo {
	return &mockRepo{byCode: map[string]*User{}, nextID: 1}
}

func (m *mockRepo) Create(_ context.Context, u *User) error {
	if _, ok := m.byCode[u.UserCode]; ok {
		return fmt.Errorf("user %s: %w", u.UserCode, db.ErrDuplicate)
	}
	u.UserID = m.nextID
	m.nextID++
	cp := *u
	m.byCode[u.UserCode] = &cp
	return nil
}

func (m *mockRepo) Update(_ context.Context, u *User) error {
	stored, ok := m.byCode[u.UserCode]
	if !ok {
		return fmt.Errorf("user %s: %w", u.UserCode, db.ErrNotFound)
	}
	cp := *u
	cp.PasswordHash = stored.PasswordHash
	m.byCode[u.UserCode] = &cp
	return nil
}

func (m *mockRepo) Delete(_ context.Context, code string) error {
	if _, ok := m.byCode[code]; !ok {
		return fmt.Errorf("user %s: %w", code, db.ErrNotFound)
	}
	delete(m.byCode, code)
	return nil
}

func (m *mockRepo) FindByUserCode(_ context.Context, code string) (*User, error) {
	u, ok := m.byCode[code]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", code, db.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (m *mockRepo) FindAll(_ context.Context) ([]*User, error) {
	var out []*User
	for _, u := range m.byCode {
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockRepo) ResetPassword(_ context.Context, code, newHash string) error {
	u, ok := m.byCode[code]
	if !ok {
		return fmt.Errorf("user %s: %w", code, db.ErrNotFound)
	}
	u.PasswordHash = &newHash
	return nil
}

func (m *mockRepo) Count(_ context.Context) (int64, error) {
	return int64(len(m.byCode)), nil
}

func TestCreateUserHashesPassword(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	ctx := context.Background()

	role := codes.RolePhysician
	u := &User{UserCode: "mmustermann", Role: &role}
	if err := svc.CreateUser(ctx, u, "s3cret"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	stored := repo.byCode["mmustermann"]
	if stored.PasswordHash == nil {
		t.Fatal("password hash not stored")
	}
	if *stored.PasswordHash == "s3cret" {
		t.Fatal("password stored in clear")
	}
	if !strings.HasPrefix(*stored.PasswordHash, "$2") {
		t.Errorf("hash %q is not bcrypt", *stored.PasswordHash)
	}
}

func TestCreateUserUnknownRole(t *testing.T) {
	svc := NewService(newMockRepo())
	role := "superuser"
	err := svc.CreateUser(context.Background(), &User{UserCode: "x", Role: &role}, "pw")
	if err == nil {
		t.Error("unknown role should fail")
	}
}

func TestCheckPassword(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()

	if err := svc.CreateUser(ctx, &User{UserCode: "admin"}, "correct horse"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	ok, err := svc.CheckPassword(ctx, "admin", "correct horse")
	if err != nil || !ok {
		t.Errorf("correct password rejected: ok=%v err=%v", ok, err)
	}
	ok, err = svc.CheckPassword(ctx, "admin", "wrong")
	if err != nil {
		t.Fatalf("CheckPassword: %v", err)
	}
	if ok {
		t.Error("wrong password accepted")
	}
	if _, err := svc.CheckPassword(ctx, "ghost", "pw"); err == nil {
		t.Error("unknown user should fail")
	}
}

func TestCheckPasswordWithoutHash(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()

	// Accounts created without a password cannot log in.
	if err := svc.CreateUser(ctx, &User{UserCode: "pending"}, ""); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	ok, err := svc.CheckPassword(ctx, "pending", "")
	if err != nil {
		t.Fatalf("CheckPassword: %v", err)
	}
	if ok {
		t.Error("account without hash accepted a login")
	}
}

func TestResetPassword(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	ctx := context.Background()

	if err := svc.CreateUser(ctx, &User{UserCode: "admin"}, "old"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	oldHash := *repo.byCode["admin"].PasswordHash

	if err := svc.ResetPassword(ctx, "admin", "new password"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if *repo.byCode["admin"].PasswordHash == oldHash {
		t.Error("hash unchanged after reset")
	}

	ok, err := svc.CheckPassword(ctx, "admin", "new password")
	if err != nil || !ok {
		t.Errorf("new password rejected: ok=%v err=%v", ok, err)
	}
	ok, _ = svc.CheckPassword(ctx, "admin", "old")
	if ok {
		t.Error("old password still accepted")
	}

	if err := svc.ResetPassword(ctx, "admin", ""); err == nil {
		t.Error("empty password should fail")
	}
	if err := svc.ResetPassword(ctx, "ghost", "pw"); err == nil {
		t.Error("unknown user should fail")
	}
}

func TestUpdateUserKeepsHash(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	ctx := context.Background()

	if err := svc.CreateUser(ctx, &User{UserCode: "admin"}, "pw"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	name := "Administrator"
	if err := svc.UpdateUser(ctx, &User{UserCode: "admin", Name: &name}); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	ok, err := svc.CheckPassword(ctx, "admin", "pw")
	if err != nil || !ok {
		t.Errorf("password lost by profile update: ok=%v err=%v", ok, err)
	}
}
