package cqlrule

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

const ruleColumns = `CQL_ID, CODE_CD, NAME_CHAR, CQL_CHAR, CQL_BLOB,
	UPDATE_DATE, IMPORT_DATE, SOURCESYSTEM_CD, UPLOAD_ID`

const nowStamp = "strftime('%Y-%m-%dT%H:%M:%SZ','now')"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var r Rule
	err := row.Scan(
		&r.CqlID, &r.Code, &r.Name, &r.Body, &r.Blob,
		&r.UpdateDate, &r.ImportDate, &r.SourceSystem, &r.UploadID,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func collectRules(rows *sql.Rows) ([]*Rule, error) {
	defer rows.Close()
	var out []*Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (r *sqliteRepository) Create(ctx context.Context, rule *Rule) error {
	if rule.SourceSystem == "" {
		rule.SourceSystem = codes.SourceUser
	}
	query := `INSERT INTO CQL_FACT
		(CODE_CD, NAME_CHAR, CQL_CHAR, CQL_BLOB, SOURCESYSTEM_CD, UPLOAD_ID,
		 IMPORT_DATE, UPDATE_DATE)
		VALUES (?, ?, ?, ?, ?, ?, ` + nowStamp + `, ` + nowStamp + `)`
	res, err := r.store.Exec(ctx, query,
		rule.Code, rule.Name, rule.Body, rule.Blob, rule.SourceSystem, rule.UploadID,
	)
	if err != nil {
		return fmt.Errorf("create rule %s: %w", rule.Code, err)
	}
	rule.CqlID = res.LastID
	return nil
}

func (r *sqliteRepository) Update(ctx context.Context, rule *Rule) error {
	query := `UPDATE CQL_FACT SET
		CODE_CD = ?, NAME_CHAR = ?, CQL_CHAR = ?, CQL_BLOB = ?,
		SOURCESYSTEM_CD = ?, UPLOAD_ID = ?, UPDATE_DATE = ` + nowStamp + `
		WHERE CQL_ID = ?`
	res, err := r.store.Exec(ctx, query,
		rule.Code, rule.Name, rule.Body, rule.Blob,
		rule.SourceSystem, rule.UploadID, rule.CqlID,
	)
	if err != nil {
		return fmt.Errorf("update rule %d: %w", rule.CqlID, err)
	}
	if res.Changes == 0 {
		return fmt.Errorf("rule %d: %w", rule.CqlID, db.ErrNotFound)
	}
	return nil
}

func (r *sqliteRepository) Delete(ctx context.Context, cqlID int64) error {
	res, err := r.store.Exec(ctx, `DELETE FROM CQL_FACT WHERE CQL_ID = ?`, cqlID)
	if err != nil {
		return fmt.Errorf("delete rule %d: %w", cqlID, err)
	}
	if res.Changes == 0 {
		return fmt.Errorf("rule %d: %w", cqlID, db.ErrNotFound)
	}
	return nil
}

func (r *sqliteRepository) FindByID(ctx context.Context, cqlID int64) (*Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM CQL_FACT WHERE CQL_ID = ?`
	rule, err := scanRule(r.store.QueryRow(ctx, query, cqlID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %d: %w", cqlID, db.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find rule %d: %w", cqlID, err)
	}
	return rule, nil
}

func (r *sqliteRepository) FindByCode(ctx context.Context, code string) (*Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM CQL_FACT WHERE CODE_CD = ?`
	rule, err := scanRule(r.store.QueryRow(ctx, query, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %s: %w", code, db.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find rule %s: %w", code, err)
	}
	return rule, nil
}

func (r *sqliteRepository) FindAll(ctx context.Context) ([]*Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM CQL_FACT ORDER BY CQL_ID`
	rows, err := r.store.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("find all rules: %w", err)
	}
	return collectRules(rows)
}

func (r *sqliteRepository) FindByConceptCode(ctx context.Context, conceptCode string) ([]*Rule, error) {
	query := `SELECT ` + prefixRuleColumns + ` FROM CQL_FACT f
		JOIN CONCEPT_CQL_LOOKUP l ON l.CQL_ID = f.CQL_ID
		WHERE l.CONCEPT_CD = ?
		ORDER BY f.CQL_ID`
	rows, err := r.store.Query(ctx, query, conceptCode)
	if err != nil {
		return nil, fmt.Errorf("find rules for concept %s: %w", conceptCode, err)
	}
	return collectRules(rows)
}

const prefixRuleColumns = `f.CQL_ID, f.CODE_CD, f.NAME_CHAR, f.CQL_CHAR, f.CQL_BLOB,
	f.UPDATE_DATE, f.IMPORT_DATE, f.SOURCESYSTEM_CD, f.UPLOAD_ID`

func (r *sqliteRepository) Link(ctx context.Context, conceptCode string, cqlID int64) error {
	query := `INSERT OR IGNORE INTO CONCEPT_CQL_LOOKUP (CONCEPT_CD, CQL_ID) VALUES (?, ?)`
	if _, err := r.store.Exec(ctx, query, conceptCode, cqlID); err != nil {
		return fmt.Errorf("link concept %s to rule %d: %w", conceptCode, cqlID, err)
	}
	return nil
}

func (r *sqliteRepository) Unlink(ctx context.Context, conceptCode string, cqlID int64) error {
	query := `DELETE FROM CONCEPT_CQL_LOOKUP WHERE CONCEPT_CD = ? AND CQL_ID = ?`
	res, err := r.store.Exec(ctx, query, conceptCode, cqlID)
	if err != nil {
		return fmt.Errorf("unlink concept %s from rule %d: %w", conceptCode, cqlID, err)
	}
	if res.Changes == 0 {
		return fmt.Errorf("link %s/%d: %w", conceptCode, cqlID, db.ErrNotFound)
	}
	return nil
}

func (r *sqliteRepository) LinkedConcepts(ctx context.Context, cqlID int64) ([]string, error) {
	rows, err := r.store.Query(ctx,
		`SELECT CONCEPT_CD FROM CONCEPT_CQL_LOOKUP WHERE CQL_ID = ? ORDER BY CONCEPT_CD`, cqlID)
	if err != nil {
		return nil, fmt.Errorf("linked concepts of rule %d: %w", cqlID, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scan linked concept: %w", err)
		}
		out = append(out, code)
	}
	return out, rows.Err()
}

func (r *sqliteRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.store.QueryRow(ctx, `SELECT COUNT(*) FROM CQL_FACT`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rules: %w", err)
	}
	return n, nil
}
