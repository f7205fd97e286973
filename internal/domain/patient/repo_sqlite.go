package patient

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/best/best/internal/platform/db"
	"github.com/best/best/pkg/codes"
	"github.com/best/best/pkg/pagination"
)

type sqliteRepository struct {
	store *db.Store
}

// NewRepository creates a repository backed by the embedded database.
func NewRepository(store *db.Store) Repository {
	return &sqliteRepository{store: store}
}

const patientColumns = `PATIENT_NUM, PATIENT_CD, VITAL_STATUS_CD, BIRTH_DATE, DEATH_DATE,
	SEX_CD, AGE_IN_YEARS, LANGUAGE_CD, RACE_CD, MARITAL_STATUS_CD, RELIGION_CD,
	PATIENT_BLOB, UPDATE_DATE, DOWNLOAD_DATE, IMPORT_DATE, SOURCESYSTEM_CD, UPLOAD_ID`

const nowStamp = "strftime('%Y-%m-%dT%H:%M:%SZ','now')"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPatient(row rowScanner) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.PatientNum, &p.PatientCode, &p.VitalStatus, &p.BirthDate, &p.DeathDate,
		&p.SexCode, &p.AgeInYears, &p.LanguageCode, &p.RaceCode, &p.MaritalStatus,
		&p.ReligionCode, &p.Blob, &p.UpdateDate, &p.DownloadDate, &p.ImportDate,
		&p.SourceSystem, &p.UploadID,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func collectPatients(rows *sql.Rows) ([]*Patient, error) {
	defer rows.Close()
	var out []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan patient: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *sqliteRepository) Create(ctx context.Context, p *Patient) error {
	if p.SourceSystem == "" {
		p.SourceSystem = codes.SourceUser
	}
	query := `INSERT INTO PATIENT_DIMENSION
		(PATIENT_CD, VITAL_STATUS_CD, BIRTH_DATE, DEATH_DATE, SEX_CD, AGE_IN_YEARS,
		 LANGUAGE_CD, RACE_CD, MARITAL_STATUS_CD, RELIGION_CD, PATIENT_BLOB,
		 DOWNLOAD_DATE, SOURCESYSTEM_CD, UPLOAD_ID, IMPORT_DATE, UPDATE_DATE)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ` + nowStamp + `, ` + nowStamp + `)`
	res, err := r.store.Exec(ctx, query,
		p.PatientCode, p.VitalStatus, p.BirthDate, p.DeathDate, p.SexCode, p.AgeInYears,
		p.LanguageCode, p.RaceCode, p.MaritalStatus, p.ReligionCode, p.Blob,
		p.DownloadDate, p.SourceSystem, p.UploadID,
	)
	if err != nil {
		return fmt.Errorf("create patient %s: %w", p.PatientCode, err)
	}
	p.PatientNum = res.LastID
	return nil
}

func (r *sqliteRepository) Update(ctx context.Context, p *Patient) error {
	query := `UPDATE PATIENT_DIMENSION SET
		PATIENT_CD = ?, VITAL_STATUS_CD = ?, BIRTH_DATE = ?, DEATH_DATE = ?, SEX_CD = ?,
		AGE_IN_YEARS = ?, LANGUAGE_CD = ?, RACE_CD = ?, MARITAL_STATUS_CD = ?,
		RELIGION_CD = ?, PATIENT_BLOB = ?, SOURCESYSTEM_CD = ?, UPLOAD_ID = ?,
		UPDATE_DATE = ` + nowStamp + `
		WHERE PATIENT_NUM = ?`
	res, err := r.store.Exec(ctx, query,
		p.PatientCode, p.VitalStatus, p.BirthDate, p.DeathDate, p.SexCode,
		p.AgeInYears, p.LanguageCode, p.RaceCode, p.MaritalStatus,
		p.ReligionCode, p.Blob, p.SourceSystem, p.UploadID, p.PatientNum,
	)
	if err != nil {
		return fmt.Errorf("update patient %d: %w", p.PatientNum, err)
	}
	if res.Changes == 0 {
		return fmt.Errorf("patient %d: %w", p.PatientNum, db.ErrNotFound)
	}
	return nil
}

func (r *sqliteRepository) Delete(ctx context.Context, patientNum int64) error {
	res, err := r.store.Exec(ctx, `DELETE FROM PATIENT_DIMENSION WHERE PATIENT_NUM = ?`, patientNum)
	if err != nil {
		return fmt.Errorf("delete patient %d: %w", patientNum, err)
	}
	if res.Changes == 0 {
		return fmt.Errorf("patient %d: %w", patientNum, db.ErrNotFound)
	}
	return nil
}

func (r *sqliteRepository) FindByNum(ctx context.Context, patientNum int64) (*Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM PATIENT_DIMENSION WHERE PATIENT_NUM = ?`
	p, err := scanPatient(r.store.QueryRow(ctx, query, patientNum))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("patient %d: %w", patientNum, db.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find patient %d: %w", patientNum, err)
	}
	return p, nil
}

func (r *sqliteRepository) FindByPatientCode(ctx context.Context, code string) (*Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM PATIENT_DIMENSION WHERE PATIENT_CD = ?`
	p, err := scanPatient(r.store.QueryRow(ctx, query, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("patient %s: %w", code, db.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find patient %s: %w", code, err)
	}
	return p, nil
}

func (r *sqliteRepository) FindBySourceSystem(ctx context.Context, source string) ([]*Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM PATIENT_DIMENSION
		WHERE SOURCESYSTEM_CD = ? ORDER BY PATIENT_NUM`
	rows, err := r.store.Query(ctx, query, source)
	if err != nil {
		return nil, fmt.Errorf("find patients by source %s: %w", source, err)
	}
	return collectPatients(rows)
}

func criteriaQuery(c Criteria) *db.SearchQuery {
	q := db.NewSearchQuery("PATIENT_DIMENSION", patientColumns)
	if c.VitalStatus != "" {
		q.AddEquals("VITAL_STATUS_CD", c.VitalStatus)
	}
	if c.Sex != "" {
		q.AddEquals("SEX_CD", c.Sex)
	}
	if c.AgeMin != nil {
		q.Add("AGE_IN_YEARS >= ?", *c.AgeMin)
	}
	if c.AgeMax != nil {
		q.Add("AGE_IN_YEARS <= ?", *c.AgeMax)
	}
	if c.SourceSystem != "" {
		q.AddEquals("SOURCESYSTEM_CD", c.SourceSystem)
	}
	q.OrderBy("PATIENT_NUM")
	return q
}

func (r *sqliteRepository) FindByCriteria(ctx context.Context, c Criteria) ([]*Patient, error) {
	q := criteriaQuery(c)
	rows, err := r.store.Query(ctx, q.DataSQL(), q.DataArgs(pagination.MaxPageSize, 0)...)
	if err != nil {
		return nil, fmt.Errorf("find patients by criteria: %w", err)
	}
	return collectPatients(rows)
}

func (r *sqliteRepository) FindPaginated(ctx context.Context, p pagination.Params, c Criteria) ([]*Patient, int, error) {
	q := criteriaQuery(c)

	var total int
	if err := r.store.QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count patients: %w", err)
	}

	rows, err := r.store.Query(ctx, q.DataSQL(), q.DataArgs(p.Limit(), p.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("find patients page: %w", err)
	}
	list, err := collectPatients(rows)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func (r *sqliteRepository) Search(ctx context.Context, term string, p pagination.Params) ([]*Patient, int, error) {
	q := db.NewSearchQuery("PATIENT_DIMENSION", patientColumns)
	escaped := db.EscapeLike(term)
	q.Add(`(PATIENT_CD LIKE ? ESCAPE '\' OR PATIENT_BLOB LIKE ? ESCAPE '\')`,
		"%"+escaped+"%", "%"+escaped+"%")
	q.OrderBy("PATIENT_CD")

	var total int
	if err := r.store.QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count patient search: %w", err)
	}
	rows, err := r.store.Query(ctx, q.DataSQL(), q.DataArgs(p.Limit(), p.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("search patients: %w", err)
	}
	list, err := collectPatients(rows)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func (r *sqliteRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.store.QueryRow(ctx, `SELECT COUNT(*) FROM PATIENT_DIMENSION`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count patients: %w", err)
	}
	return n, nil
}

func (r *sqliteRepository) DeleteByCodePrefix(ctx context.Context, prefix string) (int64, error) {
	query := `DELETE FROM PATIENT_DIMENSION WHERE PATIENT_CD LIKE ? ESCAPE '\'`
	res, err := r.store.Exec(ctx, query, db.EscapeLike(prefix)+"%")
	if err != nil {
		return 0, fmt.Errorf("delete patients by prefix %s: %w", prefix, err)
	}
	return res.Changes, nil
}
