package concept

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

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

const conceptColumns = `CONCEPT_CD, CONCEPT_PATH, NAME_CHAR, CATEGORY_CHAR, VALTYPE_CD,
	UNIT_CD, RELATED_CONCEPT_CD, CONCEPT_BLOB, UPDATE_DATE, DOWNLOAD_DATE,
	IMPORT_DATE, SOURCESYSTEM_CD, UPLOAD_ID`

const nowStamp = "strftime('%Y-%m-%dT%H:%M:%SZ','now')"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConcept(row rowScanner) (*Concept, error) {
	var c Concept
	err := row.Scan(
		&c.ConceptCode, &c.ConceptPath, &c.Name, &c.Category, &c.ValueType,
		&c.Unit, &c.RelatedConcept, &c.Blob, &c.UpdateDate, &c.DownloadDate,
		&c.ImportDate, &c.SourceSystem, &c.UploadID,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func collectConcepts(rows *sql.Rows) ([]*Concept, error) {
	defer rows.Close()
	var out []*Concept
	for rows.Next() {
		c, err := scanConcept(rows)
		if err != nil {
			return nil, fmt.Errorf("scan concept: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *sqliteRepository) Create(ctx context.Context, c *Concept) error {
	if c.SourceSystem == "" {
		c.SourceSystem = codes.SourceUser
	}
	query := `INSERT INTO CONCEPT_DIMENSION
		(CONCEPT_CD, CONCEPT_PATH, NAME_CHAR, CATEGORY_CHAR, VALTYPE_CD, UNIT_CD,
		 RELATED_CONCEPT_CD, CONCEPT_BLOB, DOWNLOAD_DATE, SOURCESYSTEM_CD, UPLOAD_ID,
		 IMPORT_DATE, UPDATE_DATE)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ` + nowStamp + `, ` + nowStamp + `)`
	_, err := r.store.Exec(ctx, query,
		c.ConceptCode, c.ConceptPath, c.Name, c.Category, c.ValueType, c.Unit,
		c.RelatedConcept, c.Blob, c.DownloadDate, c.SourceSystem, c.UploadID,
	)
	if err != nil {
		return fmt.Errorf("create concept %s: %w", c.ConceptCode, err)
	}
	return nil
}

func (r *sqliteRepository) Update(ctx context.Context, c *Concept) error {
	query := `UPDATE CONCEPT_DIMENSION SET
		CONCEPT_PATH = ?, NAME_CHAR = ?, CATEGORY_CHAR = ?, VALTYPE_CD = ?,
		UNIT_CD = ?, RELATED_CONCEPT_CD = ?, CONCEPT_BLOB = ?, SOURCESYSTEM_CD = ?,
		UPLOAD_ID = ?, UPDATE_DATE = ` + nowStamp + `
		WHERE CONCEPT_CD = ?`
	res, err := r.store.Exec(ctx, query,
		c.ConceptPath, c.Name, c.Category, c.ValueType, c.Unit,
		c.RelatedConcept, c.Blob, c.SourceSystem, c.UploadID, c.ConceptCode,
	)
	if err != nil {
		return fmt.Errorf("update concept %s: %w", c.ConceptCode, err)
	}
	if res.Changes == 0 {
		return fmt.Errorf("concept %s: %w", c.ConceptCode, db.ErrNotFound)
	}
	return nil
}

func (r *sqliteRepository) Delete(ctx context.Context, conceptCode string) error {
	res, err := r.store.Exec(ctx, `DELETE FROM CONCEPT_DIMENSION WHERE CONCEPT_CD = ?`, conceptCode)
	if err != nil {
		return fmt.Errorf("delete concept %s: %w", conceptCode, err)
	}
	if res.Changes == 0 {
		return fmt.Errorf("concept %s: %w", conceptCode, db.ErrNotFound)
	}
	return nil
}

func (r *sqliteRepository) FindByConceptCode(ctx context.Context, code string) (*Concept, error) {
	query := `SELECT ` + conceptColumns + ` FROM CONCEPT_DIMENSION WHERE CONCEPT_CD = ?`
	c, err := scanConcept(r.store.QueryRow(ctx, query, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("concept %s: %w", code, db.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find concept %s: %w", code, err)
	}
	return c, nil
}

func (r *sqliteRepository) FindByCodes(ctx context.Context, lookup []string) (map[string]*Concept, error) {
	if len(lookup) == 0 {
		return map[string]*Concept{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(lookup)), ", ")
	args := make([]any, len(lookup))
	for i, code := range lookup {
		args[i] = code
	}
	query := `SELECT ` + conceptColumns + ` FROM CONCEPT_DIMENSION WHERE CONCEPT_CD IN (` + placeholders + `)`
	rows, err := r.store.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find concepts by codes: %w", err)
	}
	list, err := collectConcepts(rows)
	if err != nil {
		return nil, fmt.Errorf("find concepts by codes: %w", err)
	}
	out := make(map[string]*Concept, len(list))
	for _, c := range list {
		out[c.ConceptCode] = c
	}
	return out, nil
}

func (r *sqliteRepository) FindAll(ctx context.Context) ([]*Concept, error) {
	query := `SELECT ` + conceptColumns + ` FROM CONCEPT_DIMENSION ORDER BY CONCEPT_PATH`
	rows, err := r.store.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("find all concepts: %w", err)
	}
	return collectConcepts(rows)
}

func (r *sqliteRepository) FindByCategory(ctx context.Context, category string) ([]*Concept, error) {
	query := `SELECT ` + conceptColumns + ` FROM CONCEPT_DIMENSION WHERE CATEGORY_CHAR = ? ORDER BY NAME_CHAR`
	rows, err := r.store.Query(ctx, query, category)
	if err != nil {
		return nil, fmt.Errorf("find concepts by category %s: %w", category, err)
	}
	return collectConcepts(rows)
}

func (r *sqliteRepository) Search(ctx context.Context, term string, opts SearchOptions) ([]*Concept, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	escaped := db.EscapeLike(strings.TrimSpace(term))
	q := db.NewSearchQuery("CONCEPT_DIMENSION", conceptColumns)
	q.Add(`(CONCEPT_CD LIKE ? ESCAPE '\' OR NAME_CHAR LIKE ? ESCAPE '\')`,
		"%"+escaped+"%", "%"+escaped+"%")
	if opts.Category != "" {
		q.AddEquals("CATEGORY_CHAR", opts.Category)
	}
	if opts.ValueType != "" {
		q.AddEquals("VALTYPE_CD", opts.ValueType)
	}
	// Prefix hits rank ahead of substring hits.
	q.OrderBy(`CASE WHEN NAME_CHAR LIKE ? ESCAPE '\' OR CONCEPT_CD LIKE ? ESCAPE '\' THEN 0 ELSE 1 END, NAME_CHAR`)

	args := append(q.CountArgs(), escaped+"%", escaped+"%", limit, 0)
	rows, err := r.store.Query(ctx, q.DataSQL(), args...)
	if err != nil {
		return nil, fmt.Errorf("search concepts: %w", err)
	}
	return collectConcepts(rows)
}

func (r *sqliteRepository) FindByName(ctx context.Context, name string) (*Concept, error) {
	query := `SELECT ` + conceptColumns + ` FROM CONCEPT_DIMENSION WHERE NAME_CHAR = ? COLLATE NOCASE LIMIT 1`
	c, err := scanConcept(r.store.QueryRow(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("concept named %q: %w", name, db.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find concept by name: %w", err)
	}
	return c, nil
}

func (r *sqliteRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.store.QueryRow(ctx, `SELECT COUNT(*) FROM CONCEPT_DIMENSION`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count concepts: %w", err)
	}
	return n, nil
}
