// Package search answers structured queries over patients and resolved
// observations. Filters arrive as typed fields, leave as parametrised WHERE
// clauses, and results come back as a page with a total row count. No SQL
// crosses the package boundary in either direction.
package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/best/best/internal/domain/concept"
	"github.com/best/best/internal/domain/observation"
	"github.com/best/best/internal/domain/patient"
	"github.com/best/best/internal/platform/db"
	"github.com/best/best/pkg/isodate"
	"github.com/best/best/pkg/pagination"
)

// PatientFilter narrows a patient search. Zero values mean "any"; list
// fields match any of their entries.
type PatientFilter struct {
	// Term matches the patient code and the blob payload as a substring.
	Term          string   `json:"term,omitempty"`
	SexCodes      []string `json:"sexCodes,omitempty"`
	VitalStatuses []string `json:"vitalStatuses,omitempty"`
	SourceSystems []string `json:"sourceSystems,omitempty"`
	AgeMin        *int64   `json:"ageMin,omitempty"`
	AgeMax        *int64   `json:"ageMax,omitempty"`
	BornFrom      string   `json:"bornFrom,omitempty"`
	BornTo        string   `json:"bornTo,omitempty"`
	// Sort is a comma-separated field list; a leading '-' flips to
	// descending. Unknown fields are ignored.
	Sort string `json:"sort,omitempty"`
}

// ObservationFilter narrows an observation search over the resolved view.
// Concept codes match every alias spelling of their coding system, so
// "LID: 2947-0" finds rows stored as "LOINC: 2947-0".
type ObservationFilter struct {
	// Term matches the resolved concept name and the resolved display
	// value as a substring.
	Term          string   `json:"term,omitempty"`
	PatientNums   []int64  `json:"patientNums,omitempty"`
	PatientCodes  []string `json:"patientCodes,omitempty"`
	EncounterNums []int64  `json:"encounterNums,omitempty"`
	ConceptCodes  []string `json:"conceptCodes,omitempty"`
	ValueTypes    []string `json:"valueTypes,omitempty"`
	Categories    []string `json:"categories,omitempty"`
	SourceSystems []string `json:"sourceSystems,omitempty"`
	ValueMin      *float64 `json:"valueMin,omitempty"`
	ValueMax      *float64 `json:"valueMax,omitempty"`
	StartFrom     string   `json:"startFrom,omitempty"`
	StartTo       string   `json:"startTo,omitempty"`
	Sort          string   `json:"sort,omitempty"`
}

// PatientPage is one page of patient matches.
type PatientPage struct {
	Rows     []*patient.Patient `json:"rows"`
	Total    int                `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"pageSize"`
}

// ObservationPage is one page of resolved observation matches.
type ObservationPage struct {
	Rows     []*observation.Resolved `json:"rows"`
	Total    int                     `json:"total"`
	Page     int                     `json:"page"`
	PageSize int                     `json:"pageSize"`
}

var patientSortColumns = map[string]string{
	"code":      "PATIENT_CD",
	"age":       "AGE_IN_YEARS",
	"birthDate": "BIRTH_DATE",
	"updated":   "UPDATE_DATE",
}

var observationSortColumns = map[string]string{
	"date":     "START_DATE",
	"concept":  "CONCEPT_CD",
	"value":    "NVAL_NUM",
	"patient":  "PATIENT_NUM",
	"category": "CATEGORY_CHAR",
}

const patientColumns = `PATIENT_NUM, PATIENT_CD, VITAL_STATUS_CD, BIRTH_DATE, DEATH_DATE,
	SEX_CD, AGE_IN_YEARS, LANGUAGE_CD, RACE_CD, MARITAL_STATUS_CD, RELIGION_CD,
	PATIENT_BLOB, UPDATE_DATE, DOWNLOAD_DATE, IMPORT_DATE, SOURCESYSTEM_CD, UPLOAD_ID`

const resolvedColumns = `OBSERVATION_ID, PATIENT_NUM, ENCOUNTER_NUM, CONCEPT_CD, CONCEPT_NAME_CHAR,
	VALTYPE_CD, TVAL_CHAR, NVAL_NUM, TVAL_RESOLVED, UNIT_CD, CATEGORY_CHAR, PROVIDER_ID,
	LOCATION_CD, START_DATE, END_DATE, INSTANCE_NUM, OBSERVATION_BLOB, SOURCESYSTEM_CD,
	UPLOAD_ID, IMPORT_DATE, UPDATE_DATE`

// Service runs searches against the store. It reads the dimension tables
// and the patient_observations view directly; it never writes.
type Service struct {
	store *db.Store
	log   zerolog.Logger
}

func NewService(store *db.Store, log zerolog.Logger) *Service {
	return &Service{store: store, log: log.With().Str("component", "search").Logger()}
}

// Patients returns the page of patients matching the filter, ordered by
// patient number unless the filter sorts otherwise.
func (s *Service) Patients(ctx context.Context, f PatientFilter, p pagination.Params) (*PatientPage, error) {
	if err := checkDates(f.BornFrom, f.BornTo); err != nil {
		return nil, err
	}
	p = p.Normalize()

	q := db.NewSearchQuery("PATIENT_DIMENSION", patientColumns)
	if f.Term != "" {
		escaped := db.EscapeLike(f.Term)
		q.Add(`(PATIENT_CD LIKE ? ESCAPE '\' OR PATIENT_BLOB LIKE ? ESCAPE '\')`,
			"%"+escaped+"%", "%"+escaped+"%")
	}
	q.AddIn("SEX_CD", f.SexCodes)
	q.AddIn("VITAL_STATUS_CD", f.VitalStatuses)
	q.AddIn("SOURCESYSTEM_CD", f.SourceSystems)
	if f.AgeMin != nil {
		q.Add("AGE_IN_YEARS >= ?", *f.AgeMin)
	}
	if f.AgeMax != nil {
		q.Add("AGE_IN_YEARS <= ?", *f.AgeMax)
	}
	q.AddDateRange("BIRTH_DATE", f.BornFrom, f.BornTo)
	q.ApplySort(f.Sort, "PATIENT_NUM", patientSortColumns)

	var total int
	if err := s.store.QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count patient matches: %w", err)
	}
	rows, err := s.store.Query(ctx, q.DataSQL(), q.DataArgs(p.Limit(), p.Offset())...)
	if err != nil {
		return nil, fmt.Errorf("search patients: %w", err)
	}
	list, err := collectPatients(rows)
	if err != nil {
		return nil, err
	}

	s.log.Debug().Int("total", total).Int("page", p.Page).Msg("patient search")
	return &PatientPage{Rows: list, Total: total, Page: p.Page, PageSize: p.PageSize}, nil
}

// Observations returns the page of resolved observations matching the
// filter, most recent start date first unless the filter sorts otherwise.
func (s *Service) Observations(ctx context.Context, f ObservationFilter, p pagination.Params) (*ObservationPage, error) {
	if err := checkDates(f.StartFrom, f.StartTo); err != nil {
		return nil, err
	}
	p = p.Normalize()

	q := db.NewSearchQuery("patient_observations", resolvedColumns)
	if f.Term != "" {
		escaped := db.EscapeLike(f.Term)
		q.Add(`(CONCEPT_NAME_CHAR LIKE ? ESCAPE '\' OR TVAL_RESOLVED LIKE ? ESCAPE '\')`,
			"%"+escaped+"%", "%"+escaped+"%")
	}
	addInInt64(q, "PATIENT_NUM", f.PatientNums)
	addInInt64(q, "ENCOUNTER_NUM", f.EncounterNums)
	if len(f.PatientCodes) > 0 {
		args := make([]any, len(f.PatientCodes))
		for i, c := range f.PatientCodes {
			args[i] = c
		}
		q.Add("PATIENT_NUM IN (SELECT PATIENT_NUM FROM PATIENT_DIMENSION WHERE PATIENT_CD IN ("+
			placeholders(len(args))+"))", args...)
	}
	q.AddIn("CONCEPT_CD", expandConceptCodes(f.ConceptCodes))
	q.AddIn("VALTYPE_CD", f.ValueTypes)
	q.AddIn("CATEGORY_CHAR", f.Categories)
	q.AddIn("SOURCESYSTEM_CD", f.SourceSystems)
	q.AddRange("NVAL_NUM", f.ValueMin, f.ValueMax)
	q.AddDateRange("START_DATE", f.StartFrom, f.StartTo)
	q.ApplySort(f.Sort, "START_DATE DESC, OBSERVATION_ID DESC", observationSortColumns)

	var total int
	if err := s.store.QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count observation matches: %w", err)
	}
	rows, err := s.store.Query(ctx, q.DataSQL(), q.DataArgs(p.Limit(), p.Offset())...)
	if err != nil {
		return nil, fmt.Errorf("search observations: %w", err)
	}
	list, err := collectResolved(rows)
	if err != nil {
		return nil, err
	}

	s.log.Debug().Int("total", total).Int("page", p.Page).Msg("observation search")
	return &ObservationPage{Rows: list, Total: total, Page: p.Page, PageSize: p.PageSize}, nil
}

// expandConceptCodes widens each requested code to all alias spellings of
// its coding system, deduplicated across the set.
func expandConceptCodes(requested []string) []string {
	if len(requested) == 0 {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, code := range requested {
		for _, v := range concept.Variants(code) {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}

func checkDates(bounds ...string) error {
	for _, d := range bounds {
		if d != "" && !isodate.Valid(d) {
			return fmt.Errorf("invalid date filter %q: want YYYY-MM-DD", d)
		}
	}
	return nil
}

func addInInt64(q *db.SearchQuery, column string, values []int64) {
	if len(values) == 0 {
		return
	}
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	q.Add(column+" IN ("+placeholders(len(args))+")", args...)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func collectPatients(rows *sql.Rows) ([]*patient.Patient, error) {
	defer rows.Close()
	var out []*patient.Patient
	for rows.Next() {
		var p patient.Patient
		err := rows.Scan(
			&p.PatientNum, &p.PatientCode, &p.VitalStatus, &p.BirthDate, &p.DeathDate,
			&p.SexCode, &p.AgeInYears, &p.LanguageCode, &p.RaceCode, &p.MaritalStatus,
			&p.ReligionCode, &p.Blob, &p.UpdateDate, &p.DownloadDate, &p.ImportDate,
			&p.SourceSystem, &p.UploadID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan patient match: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func collectResolved(rows *sql.Rows) ([]*observation.Resolved, error) {
	defer rows.Close()
	var out []*observation.Resolved
	for rows.Next() {
		var r observation.Resolved
		err := rows.Scan(
			&r.ObservationID, &r.PatientNum, &r.EncounterNum, &r.ConceptCode, &r.ConceptName,
			&r.ValueType, &r.TextValue, &r.NumericValue, &r.ResolvedText, &r.Unit, &r.Category,
			&r.ProviderID, &r.LocationCode, &r.StartDate, &r.EndDate, &r.InstanceNum,
			&r.Blob, &r.SourceSystem, &r.UploadID, &r.ImportDate, &r.UpdateDate,
		)
		if err != nil {
			return nil, fmt.Errorf("scan observation match: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
