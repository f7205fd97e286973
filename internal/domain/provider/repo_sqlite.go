package provider

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

const providerColumns = `PROVIDER_ID, PROVIDER_PATH, NAME_CHAR, PROVIDER_BLOB,
	UPDATE_DATE, IMPORT_DATE, SOURCESYSTEM_CD, UPLOAD_ID`

const nowStamp = "strftime('%Y-%m-%dT%H:%M:%SZ','now')"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProvider(row rowScanner) (*Provider, error) {
	var p Provider
	err := row.Scan(
		&p.ProviderID, &p.Path, &p.Name, &p.Blob,
		&p.UpdateDate, &p.ImportDate, &p.SourceSystem, &p.UploadID,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *sqliteRepository) Create(ctx context.Context, p *Provider) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.SourceSystem == "" {
		p.SourceSystem = codes.SourceUser
	}
	query := `INSERT INTO PROVIDER_DIMENSION
		(PROVIDER_ID, PROVIDER_PATH, NAME_CHAR, PROVIDER_BLOB, SOURCESYSTEM_CD,
		 UPLOAD_ID, IMPORT_DATE, UPDATE_DATE)
		VALUES (?, ?, ?, ?, ?, ?, ` + nowStamp + `, ` + nowStamp + `)`
	_, err := r.store.Exec(ctx, query,
		p.ProviderID, p.Path, p.Name, p.Blob, p.SourceSystem, p.UploadID,
	)
	if err != nil {
		return fmt.Errorf("create provider %s: %w", p.ProviderID, err)
	}
	return nil
}

func (r *sqliteRepository) Update(ctx context.Context, p *Provider) error {
	query := `UPDATE PROVIDER_DIMENSION SET
		PROVIDER_PATH = ?, NAME_CHAR = ?, PROVIDER_BLOB = ?, SOURCESYSTEM_CD = ?,
		UPLOAD_ID = ?, UPDATE_DATE = ` + nowStamp + `
		WHERE PROVIDER_ID = ?`
	res, err := r.store.Exec(ctx, query,
		p.Path, p.Name, p.Blob, p.SourceSystem, p.UploadID, p.ProviderID,
	)
	if err != nil {
		return fmt.Errorf("update provider %s: %w", p.ProviderID, err)
	}
	if res.Changes == 0 {
		return fmt.Errorf("provider %s: %w", p.ProviderID, db.ErrNotFound)
	}
	return nil
}

func (r *sqliteRepository) Delete(ctx context.Context, providerID string) error {
	res, err := r.store.Exec(ctx, `DELETE FROM PROVIDER_DIMENSION WHERE PROVIDER_ID = ?`, providerID)
	if err != nil {
		return fmt.Errorf("delete provider %s: %w", providerID, err)
	}
	if res.Changes == 0 {
		return fmt.Errorf("provider %s: %w", providerID, db.ErrNotFound)
	}
	return nil
}

func (r *sqliteRepository) FindByID(ctx context.Context, providerID string) (*Provider, error) {
	query := `SELECT ` + providerColumns + ` FROM PROVIDER_DIMENSION WHERE PROVIDER_ID = ?`
	p, err := scanProvider(r.store.QueryRow(ctx, query, providerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("provider %s: %w", providerID, db.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find provider %s: %w", providerID, err)
	}
	return p, nil
}

func (r *sqliteRepository) FindAll(ctx context.Context) ([]*Provider, error) {
	query := `SELECT ` + providerColumns + ` FROM PROVIDER_DIMENSION ORDER BY PROVIDER_ID`
	rows, err := r.store.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("find all providers: %w", err)
	}
	defer rows.Close()
	var out []*Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *sqliteRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.store.QueryRow(ctx, `SELECT COUNT(*) FROM PROVIDER_DIMENSION`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count providers: %w", err)
	}
	return n, nil
}
