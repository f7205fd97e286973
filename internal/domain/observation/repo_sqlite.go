package observation

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

const observationColumns = `OBSERVATION_ID, ENCOUNTER_NUM, PATIENT_NUM, CONCEPT_CD, PROVIDER_ID,
	START_DATE, END_DATE, INSTANCE_NUM, VALTYPE_CD, TVAL_CHAR, NVAL_NUM, UNIT_CD,
	LOCATION_CD, CATEGORY_CHAR, OBSERVATION_BLOB, UPDATE_DATE, DOWNLOAD_DATE,
	IMPORT_DATE, SOURCESYSTEM_CD, UPLOAD_ID`

const resolvedColumns = `OBSERVATION_ID, PATIENT_NUM, ENCOUNTER_NUM, CONCEPT_CD, CONCEPT_NAME_CHAR,
	VALTYPE_CD, TVAL_CHAR, NVAL_NUM, TVAL_RESOLVED, UNIT_CD, CATEGORY_CHAR, PROVIDER_ID,
	LOCATION_CD, START_DATE, END_DATE, INSTANCE_NUM, OBSERVATION_BLOB, SOURCESYSTEM_CD,
	UPLOAD_ID, IMPORT_DATE, UPDATE_DATE`

const nowStamp = "strftime('%Y-%m-%dT%H:%M:%SZ','now')"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObservation(row rowScanner) (*Observation, error) {
	var o Observation
	err := row.Scan(
		&o.ObservationID, &o.EncounterNum, &o.PatientNum, &o.ConceptCode, &o.ProviderID,
		&o.StartDate, &o.EndDate, &o.InstanceNum, &o.ValueType, &o.TextValue, &o.NumericValue,
		&o.Unit, &o.LocationCode, &o.Category, &o.Blob, &o.UpdateDate, &o.DownloadDate,
		&o.ImportDate, &o.SourceSystem, &o.UploadID,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func collectObservations(rows *sql.Rows) ([]*Observation, error) {
	defer rows.Close()
	var out []*Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanResolved(rows *sql.Rows) (*Resolved, error) {
	var r Resolved
	err := rows.Scan(
		&r.ObservationID, &r.PatientNum, &r.EncounterNum, &r.ConceptCode, &r.ConceptName,
		&r.ValueType, &r.TextValue, &r.NumericValue, &r.ResolvedText, &r.Unit, &r.Category,
		&r.ProviderID, &r.LocationCode, &r.StartDate, &r.EndDate, &r.InstanceNum,
		&r.Blob, &r.SourceSystem, &r.UploadID, &r.ImportDate, &r.UpdateDate,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func collectResolved(rows *sql.Rows) ([]*Resolved, error) {
	defer rows.Close()
	var out []*Resolved
	for rows.Next() {
		r, err := scanResolved(rows)
		if err != nil {
			return nil, fmt.Errorf("scan resolved observation: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (r *sqliteRepository) Create(ctx context.Context, o *Observation) error {
	if o.SourceSystem == "" {
		o.SourceSystem = codes.SourceUser
	}
	if o.InstanceNum == 0 {
		o.InstanceNum = 1
	}
	query := `INSERT INTO OBSERVATION_FACT
		(ENCOUNTER_NUM, PATIENT_NUM, CONCEPT_CD, PROVIDER_ID, START_DATE, END_DATE,
		 INSTANCE_NUM, VALTYPE_CD, TVAL_CHAR, NVAL_NUM, UNIT_CD, LOCATION_CD,
		 CATEGORY_CHAR, OBSERVATION_BLOB, DOWNLOAD_DATE, SOURCESYSTEM_CD, UPLOAD_ID,
		 IMPORT_DATE, UPDATE_DATE)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ` + nowStamp + `, ` + nowStamp + `)`
	res, err := r.store.Exec(ctx, query,
		o.EncounterNum, o.PatientNum, o.ConceptCode, o.ProviderID, o.StartDate, o.EndDate,
		o.InstanceNum, o.ValueType, o.TextValue, o.NumericValue, o.Unit, o.LocationCode,
		o.Category, o.Blob, o.DownloadDate, o.SourceSystem, o.UploadID,
	)
	if err != nil {
		return fmt.Errorf("create observation for patient %d: %w", o.PatientNum, err)
	}
	o.ObservationID = res.LastID
	return nil
}

func (r *sqliteRepository) Update(ctx context.Context, o *Observation) error {
	query := `UPDATE OBSERVATION_FACT SET
		ENCOUNTER_NUM = ?, PATIENT_NUM = ?, CONCEPT_CD = ?, PROVIDER_ID = ?,
		START_DATE = ?, END_DATE = ?, INSTANCE_NUM = ?, VALTYPE_CD = ?, TVAL_CHAR = ?,
		NVAL_NUM = ?, UNIT_CD = ?, LOCATION_CD = ?, CATEGORY_CHAR = ?,
		OBSERVATION_BLOB = ?, SOURCESYSTEM_CD = ?, UPLOAD_ID = ?,
		UPDATE_DATE = ` + nowStamp + `
		WHERE OBSERVATION_ID = ?`
	res, err := r.store.Exec(ctx, query,
		o.EncounterNum, o.PatientNum, o.ConceptCode, o.ProviderID,
		o.StartDate, o.EndDate, o.InstanceNum, o.ValueType, o.TextValue,
		o.NumericValue, o.Unit, o.LocationCode, o.Category,
		o.Blob, o.SourceSystem, o.UploadID, o.ObservationID,
	)
	if err != nil {
		return fmt.Errorf("update observation %d: %w", o.ObservationID, err)
	}
	if res.Changes == 0 {
		return fmt.Errorf("observation %d: %w", o.ObservationID, db.ErrNotFound)
	}
	return nil
}

func (r *sqliteRepository) Delete(ctx context.Context, observationID int64) error {
	res, err := r.store.Exec(ctx, `DELETE FROM OBSERVATION_FACT WHERE OBSERVATION_ID = ?`, observationID)
	if err != nil {
		return fmt.Errorf("delete observation %d: %w", observationID, err)
	}
	if res.Changes == 0 {
		return fmt.Errorf("observation %d: %w", observationID, db.ErrNotFound)
	}
	return nil
}

func (r *sqliteRepository) FindByID(ctx context.Context, observationID int64) (*Observation, error) {
	query := `SELECT ` + observationColumns + ` FROM OBSERVATION_FACT WHERE OBSERVATION_ID = ?`
	o, err := scanObservation(r.store.QueryRow(ctx, query, observationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("observation %d: %w", observationID, db.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find observation %d: %w", observationID, err)
	}
	return o, nil
}

func (r *sqliteRepository) FindByPatientNum(ctx context.Context, patientNum int64) ([]*Observation, error) {
	query := `SELECT ` + observationColumns + ` FROM OBSERVATION_FACT
		WHERE PATIENT_NUM = ? ORDER BY START_DATE, OBSERVATION_ID`
	rows, err := r.store.Query(ctx, query, patientNum)
	if err != nil {
		return nil, fmt.Errorf("find observations for patient %d: %w", patientNum, err)
	}
	return collectObservations(rows)
}

func (r *sqliteRepository) FindByVisitNum(ctx context.Context, encounterNum int64) ([]*Observation, error) {
	query := `SELECT ` + observationColumns + ` FROM OBSERVATION_FACT
		WHERE ENCOUNTER_NUM = ? ORDER BY START_DATE, OBSERVATION_ID`
	rows, err := r.store.Query(ctx, query, encounterNum)
	if err != nil {
		return nil, fmt.Errorf("find observations for visit %d: %w", encounterNum, err)
	}
	return collectObservations(rows)
}

func (r *sqliteRepository) FindByConceptCode(ctx context.Context, conceptCode string) ([]*Observation, error) {
	query := `SELECT ` + observationColumns + ` FROM OBSERVATION_FACT
		WHERE CONCEPT_CD = ? ORDER BY START_DATE, OBSERVATION_ID`
	rows, err := r.store.Query(ctx, query, conceptCode)
	if err != nil {
		return nil, fmt.Errorf("find observations for concept %s: %w", conceptCode, err)
	}
	return collectObservations(rows)
}

func (r *sqliteRepository) FindByDateRange(ctx context.Context, from, to string) ([]*Observation, error) {
	query := `SELECT ` + observationColumns + ` FROM OBSERVATION_FACT
		WHERE (? = '' OR START_DATE >= ?) AND (? = '' OR START_DATE <= ?)
		ORDER BY START_DATE, OBSERVATION_ID`
	rows, err := r.store.Query(ctx, query, from, from, to, to)
	if err != nil {
		return nil, fmt.Errorf("find observations between %q and %q: %w", from, to, err)
	}
	return collectObservations(rows)
}

func (r *sqliteRepository) FindBySourceSystem(ctx context.Context, source string) ([]*Observation, error) {
	query := `SELECT ` + observationColumns + ` FROM OBSERVATION_FACT
		WHERE SOURCESYSTEM_CD = ? ORDER BY OBSERVATION_ID`
	rows, err := r.store.Query(ctx, query, source)
	if err != nil {
		return nil, fmt.Errorf("find observations by source %s: %w", source, err)
	}
	return collectObservations(rows)
}

func (r *sqliteRepository) FindWithBlobData(ctx context.Context) ([]*Observation, error) {
	query := `SELECT ` + observationColumns + ` FROM OBSERVATION_FACT
		WHERE OBSERVATION_BLOB IS NOT NULL AND OBSERVATION_BLOB <> ''
		ORDER BY OBSERVATION_ID`
	rows, err := r.store.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("find observations with blob data: %w", err)
	}
	return collectObservations(rows)
}

func (r *sqliteRepository) FindByCriteria(ctx context.Context, c Criteria, p pagination.Params) ([]*Observation, int, error) {
	q := db.NewSearchQuery("OBSERVATION_FACT", observationColumns)
	if c.PatientNum > 0 {
		q.AddEquals("PATIENT_NUM", c.PatientNum)
	}
	if c.EncounterNum > 0 {
		q.AddEquals("ENCOUNTER_NUM", c.EncounterNum)
	}
	if c.ConceptCode != "" {
		q.AddEquals("CONCEPT_CD", c.ConceptCode)
	}
	if c.ValueType != "" {
		q.AddEquals("VALTYPE_CD", c.ValueType)
	}
	if c.Category != "" {
		q.AddEquals("CATEGORY_CHAR", c.Category)
	}
	if c.SourceSystem != "" {
		q.AddEquals("SOURCESYSTEM_CD", c.SourceSystem)
	}
	if c.StartAfter != "" {
		q.Add("START_DATE >= ?", c.StartAfter)
	}
	if c.StartBefore != "" {
		q.Add("START_DATE <= ?", c.StartBefore)
	}
	q.OrderBy("START_DATE, OBSERVATION_ID")

	var total int
	if err := r.store.QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count observations: %w", err)
	}
	rows, err := r.store.Query(ctx, q.DataSQL(), q.DataArgs(p.Limit(), p.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("find observations by criteria: %w", err)
	}
	list, err := collectObservations(rows)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func (r *sqliteRepository) FindResolvedByPatient(ctx context.Context, patientNum int64) ([]*Resolved, error) {
	query := `SELECT ` + resolvedColumns + ` FROM patient_observations
		WHERE PATIENT_NUM = ? ORDER BY START_DATE, OBSERVATION_ID`
	rows, err := r.store.Query(ctx, query, patientNum)
	if err != nil {
		return nil, fmt.Errorf("find resolved observations for patient %d: %w", patientNum, err)
	}
	return collectResolved(rows)
}

func (r *sqliteRepository) FindResolvedByVisit(ctx context.Context, encounterNum int64) ([]*Resolved, error) {
	query := `SELECT ` + resolvedColumns + ` FROM patient_observations
		WHERE ENCOUNTER_NUM = ? ORDER BY START_DATE, OBSERVATION_ID`
	rows, err := r.store.Query(ctx, query, encounterNum)
	if err != nil {
		return nil, fmt.Errorf("find resolved observations for visit %d: %w", encounterNum, err)
	}
	return collectResolved(rows)
}

func (r *sqliteRepository) Statistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{
		ByValueType:    map[string]int64{},
		BySourceSystem: map[string]int64{},
	}

	var earliest, latest sql.NullString
	err := r.store.QueryRow(ctx, `SELECT COUNT(*), COUNT(DISTINCT CONCEPT_CD),
		MIN(START_DATE), MAX(START_DATE) FROM OBSERVATION_FACT`).
		Scan(&stats.Total, &stats.DistinctConcepts, &earliest, &latest)
	if err != nil {
		return nil, fmt.Errorf("observation totals: %w", err)
	}
	stats.EarliestDate = earliest.String
	stats.LatestDate = latest.String

	rows, err := r.store.Query(ctx, `SELECT VALTYPE_CD, COUNT(*) FROM OBSERVATION_FACT GROUP BY VALTYPE_CD`)
	if err != nil {
		return nil, fmt.Errorf("observation counts by value type: %w", err)
	}
	if err := scanCounts(rows, stats.ByValueType); err != nil {
		return nil, err
	}

	rows, err = r.store.Query(ctx, `SELECT SOURCESYSTEM_CD, COUNT(*) FROM OBSERVATION_FACT GROUP BY SOURCESYSTEM_CD`)
	if err != nil {
		return nil, fmt.Errorf("observation counts by source: %w", err)
	}
	if err := scanCounts(rows, stats.BySourceSystem); err != nil {
		return nil, err
	}
	return stats, nil
}

func scanCounts(rows *sql.Rows, into map[string]int64) error {
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan count row: %w", err)
		}
		into[key] = n
	}
	return rows.Err()
}

func (r *sqliteRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.store.QueryRow(ctx, `SELECT COUNT(*) FROM OBSERVATION_FACT`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count observations: %w", err)
	}
	return n, nil
}
