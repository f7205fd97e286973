package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/best/best/internal/platform/db"
	"github.com/best/best/pkg/codes"
)

type sqliteRepository struct {
	store *db.Store
}

// NewRepository creates a repository backed by the embedded database.
func NewRepository(store *db.Store) Repository {
	return &sqliteRepository{store: store}
}

const userColumns = `USER_ID, USER_CD, NAME_CHAR, PASSWORD_CHAR, COLUMN_CD,
	USER_BLOB, UPDATE_DATE, IMPORT_DATE, SOURCESYSTEM_CD, UPLOAD_ID`

const nowStamp = "strftime('%Y-%m-%dT%H:%M:%SZ','now')"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	err := row.Scan(
		&u.UserID, &u.UserCode, &u.Name, &u.PasswordHash, &u.Role,
		&u.Blob, &u.UpdateDate, &u.ImportDate, &u.SourceSystem, &u.UploadID,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *sqliteRepository) Create(ctx context.Context, u *User) error {
	if u.SourceSystem == "" {
		u.SourceSystem = codes.SourceUser
	}
	query := `INSERT INTO USER_MANAGEMENT
		(USER_CD, NAME_CHAR, PASSWORD_CHAR, COLUMN_CD, USER_BLOB,
		 SOURCESYSTEM_CD, UPLOAD_ID, IMPORT_DATE, UPDATE_DATE)
		VALUES (?, ?, ?, ?, ?, ?, ?, ` + nowStamp + `, ` + nowStamp + `)`
	res, err := r.store.Exec(ctx, query,
		u.UserCode, u.Name, u.PasswordHash, u.Role, u.Blob,
		u.SourceSystem, u.UploadID,
	)
	if err != nil {
		return fmt.Errorf("create user %s: %w", u.UserCode, err)
	}
	u.UserID = res.LastID
	return nil
}

func (r *sqliteRepository) Update(ctx context.Context, u *User) error {
	query := `UPDATE USER_MANAGEMENT SET
		NAME_CHAR = ?, COLUMN_CD = ?, USER_BLOB = ?, SOURCESYSTEM_CD = ?,
		UPLOAD_ID = ?, UPDATE_DATE = ` + nowStamp + `
		WHERE USER_CD = ?`
	res, err := r.store.Exec(ctx, query,
		u.Name, u.Role, u.Blob, u.SourceSystem, u.UploadID, u.UserCode,
	)
	if err != nil {
		return fmt.Errorf("update user %s: %w", u.UserCode, err)
	}
	if res.Changes == 0 {
		return fmt.Errorf("user %s: %w", u.UserCode, db.ErrNotFound)
	}
	return nil
}

func (r *sqliteRepository) Delete(ctx context.Context, userCode string) error {
	res, err := r.store.Exec(ctx, `DELETE FROM USER_MANAGEMENT WHERE USER_CD = ?`, userCode)
	if err != nil {
		return fmt.Errorf("delete user %s: %w", userCode, err)
	}
	if res.Changes == 0 {
		return fmt.Errorf("user %s: %w", userCode, db.ErrNotFound)
	}
	return nil
}

func (r *sqliteRepository) FindByUserCode(ctx context.Context, userCode string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM USER_MANAGEMENT WHERE USER_CD = ?`
	u, err := scanUser(r.store.QueryRow(ctx, query, userCode))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", userCode, db.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find user %s: %w", userCode, err)
	}
	return u, nil
}

func (r *sqliteRepository) FindAll(ctx context.Context) ([]*User, error) {
	query := `SELECT ` + userColumns + ` FROM USER_MANAGEMENT ORDER BY USER_ID`
	rows, err := r.store.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("find all users: %w", err)
	}
	defer rows.Close()
	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *sqliteRepository) ResetPassword(ctx context.Context, userCode, newHash string) error {
	query := `UPDATE USER_MANAGEMENT SET PASSWORD_CHAR = ?, UPDATE_DATE = ` + nowStamp + `
		WHERE USER_CD = ?`
	res, err := r.store.Exec(ctx, query, newHash, userCode)
	if err != nil {
		return fmt.Errorf("reset password of %s: %w", userCode, err)
	}
	if res.Changes == 0 {
		return fmt.Errorf("user %s: %w", userCode, db.ErrNotFound)
	}
	return nil
}

func (r *sqliteRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.store.QueryRow(ctx, `SELECT COUNT(*) FROM USER_MANAGEMENT`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}
