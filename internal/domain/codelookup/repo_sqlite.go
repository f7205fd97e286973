package codelookup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/best/best/internal/platform/db"
)

type sqliteRepository struct {
	store *db.Store
}

// NewRepository creates a repository backed by the embedded database.
func NewRepository(store *db.Store) Repository {
	return &sqliteRepository{store: store}
}

const lookupColumns = `TABLE_CD, COLUMN_CD, CODE_CD, NAME_CHAR, LOOKUP_BLOB,
	UPDATE_DATE, IMPORT_DATE, UPLOAD_ID`

const nowStamp = "strftime('%Y-%m-%dT%H:%M:%SZ','now')"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLookup(row rowScanner) (*CodeLookup, error) {
	var l CodeLookup
	err := row.Scan(
		&l.TableCode, &l.ColumnCode, &l.Code, &l.Name, &l.Blob,
		&l.UpdateDate, &l.ImportDate, &l.UploadID,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func collectLookups(rows *sql.Rows) ([]*CodeLookup, error) {
	defer rows.Close()
	var out []*CodeLookup
	for rows.Next() {
		l, err := scanLookup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan code lookup: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *sqliteRepository) Create(ctx context.Context, l *CodeLookup) error {
	query := `INSERT INTO CODE_LOOKUP
		(TABLE_CD, COLUMN_CD, CODE_CD, NAME_CHAR, LOOKUP_BLOB, UPLOAD_ID, IMPORT_DATE, UPDATE_DATE)
		VALUES (?, ?, ?, ?, ?, ?, ` + nowStamp + `, ` + nowStamp + `)`
	_, err := r.store.Exec(ctx, query,
		l.TableCode, l.ColumnCode, l.Code, l.Name, l.Blob, l.UploadID,
	)
	if err != nil {
		return fmt.Errorf("create code lookup %s.%s=%s: %w", l.TableCode, l.ColumnCode, l.Code, err)
	}
	return nil
}

func (r *sqliteRepository) Update(ctx context.Context, l *CodeLookup) error {
	query := `UPDATE CODE_LOOKUP SET NAME_CHAR = ?, LOOKUP_BLOB = ?, UPLOAD_ID = ?, UPDATE_DATE = ` + nowStamp + `
		WHERE TABLE_CD = ? AND COLUMN_CD = ? AND CODE_CD = ?`
	res, err := r.store.Exec(ctx, query,
		l.Name, l.Blob, l.UploadID, l.TableCode, l.ColumnCode, l.Code,
	)
	if err != nil {
		return fmt.Errorf("update code lookup %s.%s=%s: %w", l.TableCode, l.ColumnCode, l.Code, err)
	}
	if res.Changes == 0 {
		return fmt.Errorf("code lookup %s.%s=%s: %w", l.TableCode, l.ColumnCode, l.Code, db.ErrNotFound)
	}
	return nil
}

func (r *sqliteRepository) Delete(ctx context.Context, tableCode, columnCode, code string) error {
	query := `DELETE FROM CODE_LOOKUP WHERE TABLE_CD = ? AND COLUMN_CD = ? AND CODE_CD = ?`
	res, err := r.store.Exec(ctx, query, tableCode, columnCode, code)
	if err != nil {
		return fmt.Errorf("delete code lookup %s.%s=%s: %w", tableCode, columnCode, code, err)
	}
	if res.Changes == 0 {
		return fmt.Errorf("code lookup %s.%s=%s: %w", tableCode, columnCode, code, db.ErrNotFound)
	}
	return nil
}

func (r *sqliteRepository) Find(ctx context.Context, tableCode, columnCode, code string) (*CodeLookup, error) {
	query := `SELECT ` + lookupColumns + ` FROM CODE_LOOKUP
		WHERE TABLE_CD = ? AND COLUMN_CD = ? AND CODE_CD = ?`
	l, err := scanLookup(r.store.QueryRow(ctx, query, tableCode, columnCode, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("code lookup %s.%s=%s: %w", tableCode, columnCode, code, db.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find code lookup: %w", err)
	}
	return l, nil
}

func (r *sqliteRepository) FindByColumn(ctx context.Context, tableCode, columnCode string) ([]*CodeLookup, error) {
	query := `SELECT ` + lookupColumns + ` FROM CODE_LOOKUP
		WHERE TABLE_CD = ? AND COLUMN_CD = ? ORDER BY CODE_CD`
	rows, err := r.store.Query(ctx, query, tableCode, columnCode)
	if err != nil {
		return nil, fmt.Errorf("find code lookups for %s.%s: %w", tableCode, columnCode, err)
	}
	return collectLookups(rows)
}

func (r *sqliteRepository) FindByCodes(ctx context.Context, lookup []string) (map[string]*CodeLookup, error) {
	if len(lookup) == 0 {
		return map[string]*CodeLookup{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(lookup)), ", ")
	args := make([]any, len(lookup))
	for i, code := range lookup {
		args[i] = code
	}
	query := `SELECT ` + lookupColumns + ` FROM CODE_LOOKUP
		WHERE CODE_CD IN (` + placeholders + `) ORDER BY TABLE_CD, COLUMN_CD, CODE_CD`
	rows, err := r.store.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find code lookups by codes: %w", err)
	}
	list, err := collectLookups(rows)
	if err != nil {
		return nil, fmt.Errorf("find code lookups by codes: %w", err)
	}
	out := make(map[string]*CodeLookup, len(list))
	for _, l := range list {
		if _, seen := out[l.Code]; !seen {
			out[l.Code] = l
		}
	}
	return out, nil
}

func (r *sqliteRepository) FindAll(ctx context.Context) ([]*CodeLookup, error) {
	query := `SELECT ` + lookupColumns + ` FROM CODE_LOOKUP ORDER BY TABLE_CD, COLUMN_CD, CODE_CD`
	rows, err := r.store.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("find all code lookups: %w", err)
	}
	return collectLookups(rows)
}

func (r *sqliteRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.store.QueryRow(ctx, `SELECT COUNT(*) FROM CODE_LOOKUP`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count code lookups: %w", err)
	}
	return n, nil
}
