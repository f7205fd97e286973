package note

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

const noteColumns = `NOTE_ID, PATIENT_NUM, ENCOUNTER_NUM, CATEGORY_CHAR, NAME_CHAR,
	NOTE_TEXT, NOTE_BLOB, UPDATE_DATE, IMPORT_DATE, SOURCESYSTEM_CD, UPLOAD_ID`

const nowStamp = "strftime('%Y-%m-%dT%H:%M:%SZ','now')"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (*Note, error) {
	var n Note
	err := row.Scan(
		&n.NoteID, &n.PatientNum, &n.EncounterNum, &n.Category, &n.Title,
		&n.Text, &n.Blob, &n.UpdateDate, &n.ImportDate, &n.SourceSystem, &n.UploadID,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func collectNotes(rows *sql.Rows) ([]*Note, error) {
	defer rows.Close()
	var out []*Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *sqliteRepository) Create(ctx context.Context, n *Note) error {
	if n.SourceSystem == "" {
		n.SourceSystem = codes.SourceUser
	}
	query := `INSERT INTO NOTE_FACT
		(PATIENT_NUM, ENCOUNTER_NUM, CATEGORY_CHAR, NAME_CHAR, NOTE_TEXT, NOTE_BLOB,
		 SOURCESYSTEM_CD, UPLOAD_ID, IMPORT_DATE, UPDATE_DATE)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ` + nowStamp + `, ` + nowStamp + `)`
	res, err := r.store.Exec(ctx, query,
		n.PatientNum, n.EncounterNum, n.Category, n.Title, n.Text, n.Blob,
		n.SourceSystem, n.UploadID,
	)
	if err != nil {
		return fmt.Errorf("create note for patient %d: %w", n.PatientNum, err)
	}
	n.NoteID = res.LastID
	return nil
}

func (r *sqliteRepository) Update(ctx context.Context, n *Note) error {
	query := `UPDATE NOTE_FACT SET
		PATIENT_NUM = ?, ENCOUNTER_NUM = ?, CATEGORY_CHAR = ?, NAME_CHAR = ?,
		NOTE_TEXT = ?, NOTE_BLOB = ?, SOURCESYSTEM_CD = ?, UPLOAD_ID = ?,
		UPDATE_DATE = ` + nowStamp + `
		WHERE NOTE_ID = ?`
	res, err := r.store.Exec(ctx, query,
		n.PatientNum, n.EncounterNum, n.Category, n.Title,
		n.Text, n.Blob, n.SourceSystem, n.UploadID, n.NoteID,
	)
	if err != nil {
		return fmt.Errorf("update note %d: %w", n.NoteID, err)
	}
	if res.Changes == 0 {
		return fmt.Errorf("note %d: %w", n.NoteID, db.ErrNotFound)
	}
	return nil
}

func (r *sqliteRepository) Delete(ctx context.Context, noteID int64) error {
	res, err := r.store.Exec(ctx, `DELETE FROM NOTE_FACT WHERE NOTE_ID = ?`, noteID)
	if err != nil {
		return fmt.Errorf("delete note %d: %w", noteID, err)
	}
	if res.Changes == 0 {
		return fmt.Errorf("note %d: %w", noteID, db.ErrNotFound)
	}
	return nil
}

func (r *sqliteRepository) FindByID(ctx context.Context, noteID int64) (*Note, error) {
	query := `SELECT ` + noteColumns + ` FROM NOTE_FACT WHERE NOTE_ID = ?`
	n, err := scanNote(r.store.QueryRow(ctx, query, noteID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("note %d: %w", noteID, db.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find note %d: %w", noteID, err)
	}
	return n, nil
}

func (r *sqliteRepository) FindByPatientNum(ctx context.Context, patientNum int64) ([]*Note, error) {
	query := `SELECT ` + noteColumns + ` FROM NOTE_FACT WHERE PATIENT_NUM = ? ORDER BY NOTE_ID`
	rows, err := r.store.Query(ctx, query, patientNum)
	if err != nil {
		return nil, fmt.Errorf("find notes for patient %d: %w", patientNum, err)
	}
	return collectNotes(rows)
}

func (r *sqliteRepository) FindByVisitNum(ctx context.Context, encounterNum int64) ([]*Note, error) {
	query := `SELECT ` + noteColumns + ` FROM NOTE_FACT WHERE ENCOUNTER_NUM = ? ORDER BY NOTE_ID`
	rows, err := r.store.Query(ctx, query, encounterNum)
	if err != nil {
		return nil, fmt.Errorf("find notes for visit %d: %w", encounterNum, err)
	}
	return collectNotes(rows)
}

func (r *sqliteRepository) FindByCategory(ctx context.Context, category string) ([]*Note, error) {
	query := `SELECT ` + noteColumns + ` FROM NOTE_FACT WHERE CATEGORY_CHAR = ? ORDER BY NOTE_ID`
	rows, err := r.store.Query(ctx, query, category)
	if err != nil {
		return nil, fmt.Errorf("find notes by category %s: %w", category, err)
	}
	return collectNotes(rows)
}

func (r *sqliteRepository) Search(ctx context.Context, term string) ([]*Note, error) {
	escaped := "%" + db.EscapeLike(term) + "%"
	query := `SELECT ` + noteColumns + ` FROM NOTE_FACT
		WHERE NAME_CHAR LIKE ? ESCAPE '\' OR NOTE_TEXT LIKE ? ESCAPE '\'
		ORDER BY NOTE_ID`
	rows, err := r.store.Query(ctx, query, escaped, escaped)
	if err != nil {
		return nil, fmt.Errorf("search notes %q: %w", term, err)
	}
	return collectNotes(rows)
}

func (r *sqliteRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.store.QueryRow(ctx, `SELECT COUNT(*) FROM NOTE_FACT`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count notes: %w", err)
	}
	return n, nil
}
