package visit

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

const visitColumns = `ENCOUNTER_NUM, PATIENT_NUM, ACTIVE_STATUS_CD, START_DATE, END_DATE,
	INOUT_CD, LOCATION_CD, VISIT_BLOB, UPDATE_DATE, DOWNLOAD_DATE, IMPORT_DATE,
	SOURCESYSTEM_CD, UPLOAD_ID`

const nowStamp = "strftime('%Y-%m-%dT%H:%M:%SZ','now')"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVisit(row rowScanner) (*Visit, error) {
	var v Visit
	err := row.Scan(
		&v.EncounterNum, &v.PatientNum, &v.ActiveStatus, &v.StartDate, &v.EndDate,
		&v.InOutCode, &v.LocationCode, &v.Blob, &v.UpdateDate, &v.DownloadDate,
		&v.ImportDate, &v.SourceSystem, &v.UploadID,
	)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func collectVisits(rows *sql.Rows) ([]*Visit, error) {
	defer rows.Close()
	var out []*Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan visit: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *sqliteRepository) Create(ctx context.Context, v *Visit) error {
	if v.SourceSystem == "" {
		v.SourceSystem = codes.SourceUser
	}
	query := `INSERT INTO VISIT_DIMENSION
		(PATIENT_NUM, ACTIVE_STATUS_CD, START_DATE, END_DATE, INOUT_CD, LOCATION_CD,
		 VISIT_BLOB, DOWNLOAD_DATE, SOURCESYSTEM_CD, UPLOAD_ID, IMPORT_DATE, UPDATE_DATE)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ` + nowStamp + `, ` + nowStamp + `)`
	res, err := r.store.Exec(ctx, query,
		v.PatientNum, v.ActiveStatus, v.StartDate, v.EndDate, v.InOutCode,
		v.LocationCode, v.Blob, v.DownloadDate, v.SourceSystem, v.UploadID,
	)
	if err != nil {
		return fmt.Errorf("create visit for patient %d: %w", v.PatientNum, err)
	}
	v.EncounterNum = res.LastID
	return nil
}

func (r *sqliteRepository) Update(ctx context.Context, v *Visit) error {
	query := `UPDATE VISIT_DIMENSION SET
		PATIENT_NUM = ?, ACTIVE_STATUS_CD = ?, START_DATE = ?, END_DATE = ?,
		INOUT_CD = ?, LOCATION_CD = ?, VISIT_BLOB = ?, SOURCESYSTEM_CD = ?,
		UPLOAD_ID = ?, UPDATE_DATE = ` + nowStamp + `
		WHERE ENCOUNTER_NUM = ?`
	res, err := r.store.Exec(ctx, query,
		v.PatientNum, v.ActiveStatus, v.StartDate, v.EndDate, v.InOutCode,
		v.LocationCode, v.Blob, v.SourceSystem, v.UploadID, v.EncounterNum,
	)
	if err != nil {
		return fmt.Errorf("update visit %d: %w", v.EncounterNum, err)
	}
	if res.Changes == 0 {
		return fmt.Errorf("visit %d: %w", v.EncounterNum, db.ErrNotFound)
	}
	return nil
}

func (r *sqliteRepository) Delete(ctx context.Context, encounterNum int64) error {
	res, err := r.store.Exec(ctx, `DELETE FROM VISIT_DIMENSION WHERE ENCOUNTER_NUM = ?`, encounterNum)
	if err != nil {
		return fmt.Errorf("delete visit %d: %w", encounterNum, err)
	}
	if res.Changes == 0 {
		return fmt.Errorf("visit %d: %w", encounterNum, db.ErrNotFound)
	}
	return nil
}

func (r *sqliteRepository) FindByEncounterNum(ctx context.Context, encounterNum int64) (*Visit, error) {
	query := `SELECT ` + visitColumns + ` FROM VISIT_DIMENSION WHERE ENCOUNTER_NUM = ?`
	v, err := scanVisit(r.store.QueryRow(ctx, query, encounterNum))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("visit %d: %w", encounterNum, db.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find visit %d: %w", encounterNum, err)
	}
	return v, nil
}

func (r *sqliteRepository) FindByPatientNum(ctx context.Context, patientNum int64) ([]*Visit, error) {
	query := `SELECT ` + visitColumns + ` FROM VISIT_DIMENSION
		WHERE PATIENT_NUM = ? ORDER BY START_DATE, ENCOUNTER_NUM`
	rows, err := r.store.Query(ctx, query, patientNum)
	if err != nil {
		return nil, fmt.Errorf("find visits for patient %d: %w", patientNum, err)
	}
	return collectVisits(rows)
}

func (r *sqliteRepository) Timeline(ctx context.Context, patientNum int64) ([]*TimelineEntry, error) {
	query := `SELECT v.ENCOUNTER_NUM, v.PATIENT_NUM, v.ACTIVE_STATUS_CD, v.START_DATE,
			v.END_DATE, v.INOUT_CD, v.LOCATION_CD, v.VISIT_BLOB, v.UPDATE_DATE,
			v.DOWNLOAD_DATE, v.IMPORT_DATE, v.SOURCESYSTEM_CD, v.UPLOAD_ID,
			(SELECT COUNT(*) FROM OBSERVATION_FACT o WHERE o.ENCOUNTER_NUM = v.ENCOUNTER_NUM) AS OBS_COUNT
		FROM VISIT_DIMENSION v
		WHERE v.PATIENT_NUM = ?
		ORDER BY v.START_DATE, v.ENCOUNTER_NUM`
	rows, err := r.store.Query(ctx, query, patientNum)
	if err != nil {
		return nil, fmt.Errorf("timeline for patient %d: %w", patientNum, err)
	}
	defer rows.Close()

	var out []*TimelineEntry
	for rows.Next() {
		var e TimelineEntry
		err := rows.Scan(
			&e.EncounterNum, &e.PatientNum, &e.ActiveStatus, &e.StartDate, &e.EndDate,
			&e.InOutCode, &e.LocationCode, &e.Blob, &e.UpdateDate, &e.DownloadDate,
			&e.ImportDate, &e.SourceSystem, &e.UploadID, &e.ObservationCount,
		)
		if err != nil {
			return nil, fmt.Errorf("scan timeline entry: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (r *sqliteRepository) FindByLocationCode(ctx context.Context, locationCode string) ([]*Visit, error) {
	query := `SELECT ` + visitColumns + ` FROM VISIT_DIMENSION
		WHERE LOCATION_CD = ? ORDER BY START_DATE, ENCOUNTER_NUM`
	rows, err := r.store.Query(ctx, query, locationCode)
	if err != nil {
		return nil, fmt.Errorf("find visits at %s: %w", locationCode, err)
	}
	return collectVisits(rows)
}

func (r *sqliteRepository) FindByDateRange(ctx context.Context, from, to string) ([]*Visit, error) {
	query := `SELECT ` + visitColumns + ` FROM VISIT_DIMENSION
		WHERE (? = '' OR START_DATE >= ?) AND (? = '' OR START_DATE <= ?)
		ORDER BY START_DATE, ENCOUNTER_NUM`
	rows, err := r.store.Query(ctx, query, from, from, to, to)
	if err != nil {
		return nil, fmt.Errorf("find visits between %s and %s: %w", from, to, err)
	}
	return collectVisits(rows)
}

func (r *sqliteRepository) FindBySourceSystem(ctx context.Context, source string) ([]*Visit, error) {
	query := `SELECT ` + visitColumns + ` FROM VISIT_DIMENSION
		WHERE SOURCESYSTEM_CD = ? ORDER BY ENCOUNTER_NUM`
	rows, err := r.store.Query(ctx, query, source)
	if err != nil {
		return nil, fmt.Errorf("find visits by source %s: %w", source, err)
	}
	return collectVisits(rows)
}

func (r *sqliteRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.store.QueryRow(ctx, `SELECT COUNT(*) FROM VISIT_DIMENSION`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count visits: %w", err)
	}
	return n, nil
}

func (r *sqliteRepository) CountByPatient(ctx context.Context, patientNum int64) (int64, error) {
	var n int64
	query := `SELECT COUNT(*) FROM VISIT_DIMENSION WHERE PATIENT_NUM = ?`
	if err := r.store.QueryRow(ctx, query, patientNum).Scan(&n); err != nil {
		return 0, fmt.Errorf("count visits for patient %d: %w", patientNum, err)
	}
	return n, nil
}
