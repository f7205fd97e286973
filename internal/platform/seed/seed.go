// Package seed loads the bundled reference data into a migrated database:
// the concept catalogue, controlled vocabularies, validation rules with
// their concept links, and the standard accounts. Loading is idempotent;
// rows already present under their natural key are skipped.
package seed

import (
	"context"
	"embed"
	"encoding/csv"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/best/best/internal/platform/db"
	"github.com/best/best/pkg/codes"
)

//go:embed data/*.csv
var dataFS embed.FS

const nowStamp = "strftime('%Y-%m-%dT%H:%M:%SZ','now')"

// File names inside the embedded data directory, in load order. Rules load
// before their concept links.
var loadOrder = []string{
	"concepts.csv",
	"code_lookups.csv",
	"cql_rules.csv",
	"concept_cql.csv",
	"users.csv",
}

// FileResult counts one file's outcome.
type FileResult struct {
	File     string `json:"file"`
	Inserted int    `json:"inserted"`
	Skipped  int    `json:"skipped"`
}

// Result reports a seed run per file.
type Result struct {
	Files []FileResult `json:"files"`
}

// Totals sums the per-file counts.
func (r *Result) Totals() (inserted, skipped int) {
	for _, f := range r.Files {
		inserted += f.Inserted
		skipped += f.Skipped
	}
	return inserted, skipped
}

// ByFile returns the result entry for one file name.
func (r *Result) ByFile(name string) (FileResult, bool) {
	for _, f := range r.Files {
		if f.File == name {
			return f, true
		}
	}
	return FileResult{}, false
}

// Loader seeds one database.
type Loader struct {
	store *db.Store
	log   zerolog.Logger
	cost  int
}

// NewLoader wires a loader over an open store.
func NewLoader(store *db.Store, log zerolog.Logger) *Loader {
	return &Loader{store: store, log: log, cost: bcrypt.DefaultCost}
}

// Run loads every bundled file inside one transaction and reports per-file
// counts. Re-running against a seeded database inserts nothing.
func (l *Loader) Run(ctx context.Context) (*Result, error) {
	res := &Result{}
	err := l.store.RunInTransaction(ctx, func(ctx context.Context) error {
		for _, name := range loadOrder {
			inserted, skipped, err := l.loadFile(ctx, name)
			if err != nil {
				return fmt.Errorf("seed %s: %w", name, err)
			}
			res.Files = append(res.Files, FileResult{File: name, Inserted: inserted, Skipped: skipped})
			l.log.Info().Str("file", name).Int("inserted", inserted).Int("skipped", skipped).Msg("seed file loaded")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	ins, skip := res.Totals()
	l.log.Info().Int("inserted", ins).Int("skipped", skip).Msg("seed run finished")
	return res, nil
}

func (l *Loader) loadFile(ctx context.Context, name string) (int, int, error) {
	switch name {
	case "concepts.csv":
		return l.loadConcepts(ctx)
	case "code_lookups.csv":
		return l.loadLookups(ctx)
	case "cql_rules.csv":
		return l.loadRules(ctx)
	case "concept_cql.csv":
		return l.loadLinks(ctx)
	case "users.csv":
		return l.loadUsers(ctx)
	default:
		return 0, 0, fmt.Errorf("unknown seed file %q", name)
	}
}

// records reads one embedded CSV and checks its header.
func records(name string, header []string) ([][]string, error) {
	f, err := dataFS.Open("data/" + name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(header)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("empty file")
	}
	for i, col := range header {
		if rows[0][i] != col {
			return nil, fmt.Errorf("header column %d is %q, want %q", i, rows[0][i], col)
		}
	}
	return rows[1:], nil
}

// nullable maps empty CSV cells onto SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (l *Loader) loadConcepts(ctx context.Context) (int, int, error) {
	rows, err := records("concepts.csv", []string{
		"CONCEPT_CD", "CONCEPT_PATH", "NAME_CHAR", "CATEGORY_CHAR",
		"VALTYPE_CD", "UNIT_CD", "RELATED_CONCEPT_CD", "CONCEPT_BLOB",
	})
	if err != nil {
		return 0, 0, err
	}

	const q = `
INSERT OR IGNORE INTO CONCEPT_DIMENSION
    (CONCEPT_CD, CONCEPT_PATH, NAME_CHAR, CATEGORY_CHAR, VALTYPE_CD, UNIT_CD,
     RELATED_CONCEPT_CD, CONCEPT_BLOB, UPDATE_DATE, IMPORT_DATE, SOURCESYSTEM_CD)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ` + nowStamp + `, ` + nowStamp + `, ?)`

	inserted, skipped := 0, 0
	for _, row := range rows {
		res, err := l.store.Exec(ctx, q,
			row[0], row[1], nullable(row[2]), nullable(row[3]), nullable(row[4]),
			nullable(row[5]), nullable(row[6]), nullable(row[7]), codes.SourceSeed)
		if err != nil {
			return inserted, skipped, fmt.Errorf("concept %s: %w", row[0], err)
		}
		if res.Changes == 0 {
			skipped++
		} else {
			inserted++
		}
	}
	return inserted, skipped, nil
}

func (l *Loader) loadLookups(ctx context.Context) (int, int, error) {
	rows, err := records("code_lookups.csv", []string{
		"TABLE_CD", "COLUMN_CD", "CODE_CD", "NAME_CHAR", "LOOKUP_BLOB",
	})
	if err != nil {
		return 0, 0, err
	}

	const q = `
INSERT OR IGNORE INTO CODE_LOOKUP
    (TABLE_CD, COLUMN_CD, CODE_CD, NAME_CHAR, LOOKUP_BLOB, UPDATE_DATE, IMPORT_DATE)
VALUES (?, ?, ?, ?, ?, ` + nowStamp + `, ` + nowStamp + `)`

	inserted, skipped := 0, 0
	for _, row := range rows {
		res, err := l.store.Exec(ctx, q, row[0], row[1], row[2], nullable(row[3]), nullable(row[4]))
		if err != nil {
			return inserted, skipped, fmt.Errorf("lookup %s/%s/%s: %w", row[0], row[1], row[2], err)
		}
		if res.Changes == 0 {
			skipped++
		} else {
			inserted++
		}
	}
	return inserted, skipped, nil
}

func (l *Loader) loadRules(ctx context.Context) (int, int, error) {
	rows, err := records("cql_rules.csv", []string{"CODE_CD", "NAME_CHAR", "CQL_CHAR", "CQL_BLOB"})
	if err != nil {
		return 0, 0, err
	}

	const q = `
INSERT OR IGNORE INTO CQL_FACT
    (CODE_CD, NAME_CHAR, CQL_CHAR, CQL_BLOB, UPDATE_DATE, IMPORT_DATE, SOURCESYSTEM_CD)
VALUES (?, ?, ?, ?, ` + nowStamp + `, ` + nowStamp + `, ?)`

	inserted, skipped := 0, 0
	for _, row := range rows {
		res, err := l.store.Exec(ctx, q, row[0], nullable(row[1]), nullable(row[2]), nullable(row[3]), codes.SourceSeed)
		if err != nil {
			return inserted, skipped, fmt.Errorf("rule %s: %w", row[0], err)
		}
		if res.Changes == 0 {
			skipped++
		} else {
			inserted++
		}
	}
	return inserted, skipped, nil
}

func (l *Loader) loadLinks(ctx context.Context) (int, int, error) {
	rows, err := records("concept_cql.csv", []string{"CONCEPT_CD", "CQL_CODE"})
	if err != nil {
		return 0, 0, err
	}

	inserted, skipped := 0, 0
	for _, row := range rows {
		var cqlID int64
		err := l.store.QueryRow(ctx, `SELECT CQL_ID FROM CQL_FACT WHERE CODE_CD = ?`, row[1]).Scan(&cqlID)
		if err != nil {
			return inserted, skipped, fmt.Errorf("link %s -> %s: rule not found: %w", row[0], row[1], err)
		}
		res, err := l.store.Exec(ctx,
			`INSERT OR IGNORE INTO CONCEPT_CQL_LOOKUP (CONCEPT_CD, CQL_ID) VALUES (?, ?)`,
			row[0], cqlID)
		if err != nil {
			return inserted, skipped, fmt.Errorf("link %s -> %s: %w", row[0], row[1], err)
		}
		if res.Changes == 0 {
			skipped++
		} else {
			inserted++
		}
	}
	return inserted, skipped, nil
}

func (l *Loader) loadUsers(ctx context.Context) (int, int, error) {
	rows, err := records("users.csv", []string{"USER_CD", "NAME_CHAR", "PASSWORD", "COLUMN_CD", "USER_BLOB"})
	if err != nil {
		return 0, 0, err
	}

	const q = `
INSERT INTO USER_MANAGEMENT
    (USER_CD, NAME_CHAR, PASSWORD_CHAR, COLUMN_CD, USER_BLOB, UPDATE_DATE, IMPORT_DATE, SOURCESYSTEM_CD)
VALUES (?, ?, ?, ?, ?, ` + nowStamp + `, ` + nowStamp + `, ?)`

	inserted, skipped := 0, 0
	for _, row := range rows {
		// Hashing is the expensive part, so existing accounts are checked
		// first instead of relying on INSERT OR IGNORE.
		var n int64
		if err := l.store.QueryRow(ctx, `SELECT COUNT(*) FROM USER_MANAGEMENT WHERE USER_CD = ?`, row[0]).Scan(&n); err != nil {
			return inserted, skipped, fmt.Errorf("user %s: %w", row[0], err)
		}
		if n > 0 {
			skipped++
			continue
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(row[2]), l.cost)
		if err != nil {
			return inserted, skipped, fmt.Errorf("user %s: %w", row[0], err)
		}
		if _, err := l.store.Exec(ctx, q,
			row[0], nullable(row[1]), string(hash), nullable(row[3]), nullable(row[4]), codes.SourceSeed); err != nil {
			return inserted, skipped, fmt.Errorf("user %s: %w", row[0], err)
		}
		inserted++
	}
	return inserted, skipped, nil
}
