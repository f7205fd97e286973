// Package user holds the account catalogue. Passwords are stored as bcrypt
// hashes only.
package user

import (
	"encoding/json"
	"fmt"

	"github.com/best/best/pkg/codes"
)

// User maps to one row of the USER_MANAGEMENT table. PasswordHash carries
// the bcrypt hash, never a cleartext password.
type User struct {
	UserID       int64   `db:"USER_ID" json:"USER_ID"`
	UserCode     string  `db:"USER_CD" json:"USER_CD"`
	Name         *string `db:"NAME_CHAR" json:"NAME_CHAR,omitempty"`
	PasswordHash *string `db:"PASSWORD_CHAR" json:"-"`
	Role         *string `db:"COLUMN_CD" json:"COLUMN_CD,omitempty"`
	Blob         *string `db:"USER_BLOB" json:"USER_BLOB,omitempty"`
	UpdateDate   *string `db:"UPDATE_DATE" json:"UPDATE_DATE,omitempty"`
	ImportDate   *string `db:"IMPORT_DATE" json:"IMPORT_DATE,omitempty"`
	SourceSystem string  `db:"SOURCESYSTEM_CD" json:"SOURCESYSTEM_CD"`
	UploadID     *string `db:"UPLOAD_ID" json:"UPLOAD_ID,omitempty"`
}

var knownRoles = map[string]bool{
	codes.RoleAdmin:      true,
	codes.RolePhysician:  true,
	codes.RoleResearcher: true,
	codes.RoleDemo:       true,
}

// Validate checks the row invariants before a write.
func (u *User) Validate() error {
	if u.UserCode == "" {
		return fmt.Errorf("user code is required")
	}
	if u.Role != nil && *u.Role != "" && !knownRoles[*u.Role] {
		return fmt.Errorf("unknown role %q", *u.Role)
	}
	if u.Blob != nil && *u.Blob != "" && !json.Valid([]byte(*u.Blob)) {
		return fmt.Errorf("user blob is not valid JSON")
	}
	return nil
}

// DisplayName returns the user's name, falling back to the code.
func (u *User) DisplayName() string {
	if u.Name != nil && *u.Name != "" {
		return *u.Name
	}
	return u.UserCode
}
