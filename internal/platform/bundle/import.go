package bundle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/best/best/internal/domain/concept"
	"github.com/best/best/internal/domain/observation"
	"github.com/best/best/internal/domain/patient"
	"github.com/best/best/internal/domain/visit"
	"github.com/best/best/internal/platform/db"
	"github.com/best/best/pkg/codes"
	"github.com/best/best/pkg/isodate"
)

// Duplicate strategies for patient rows already present under the same
// natural key.
const (
	StrategySkip   = "skip"
	StrategyUpdate = "update"
	StrategyError  = "error"
)

// Issue codes reported by the import service.
const (
	CodeInvalidStructure = "INVALID_STRUCTURE"
	CodeNoPatients       = "NO_PATIENTS"
	CodeMissingPatientID = "MISSING_PATIENT_ID"
	CodeDuplicatePatient = "DUPLICATE_PATIENT"
	CodeCannotMapPatient = "CANNOT_MAP_PATIENT"
	CodeCannotMapVisit   = "CANNOT_MAP_VISIT"
	CodeUnknownConcept   = "UNKNOWN_CONCEPT"
	CodeInvalidRecord    = "INVALID_RECORD"
)

// ErrInvalidStructure marks a bundle that failed structural validation
// before any row was written.
var ErrInvalidStructure = errors.New("invalid bundle structure")

// ImportOptions tune one import run.
type ImportOptions struct {
	// DuplicateStrategy decides what happens to a patient whose code is
	// already stored: skip, update, or error. Defaults to skip.
	DuplicateStrategy string
	// BatchSize is the cooperative cancellation interval in records.
	BatchSize int
	// TransactionTimeout bounds the whole run; zero uses the store default.
	TransactionTimeout time.Duration
	// KeepUnknownConcepts stores observations whose concept the catalogue
	// does not know, keeping the incoming value type. When false such
	// observations are skipped with a warning.
	KeepUnknownConcepts bool
}

func (o *ImportOptions) defaults() {
	if o.DuplicateStrategy == "" {
		o.DuplicateStrategy = StrategySkip
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
}

// Issue is one structured diagnostic of an import run. Record is the index
// within the issue's category, -1 for run-level issues.
type Issue struct {
	Code     string `json:"code"`
	Category string `json:"category,omitempty"`
	Record   int    `json:"record"`
	Message  string `json:"message"`
}

// CategoryStats tallies one entity category.
type CategoryStats struct {
	Imported   int `json:"imported"`
	Duplicates int `json:"duplicates"`
	Errors     int `json:"errors"`
}

// ImportStatistics tallies the three categories of a run.
type ImportStatistics struct {
	Patients     CategoryStats `json:"patients"`
	Visits       CategoryStats `json:"visits"`
	Observations CategoryStats `json:"observations"`
}

// IDMaps records how bundle identities map onto stored surrogate keys.
// Patient keys are the natural patient codes; visit keys are the original
// encounter numbers, or #index when the bundle carried none; observation
// keys are always #index.
type IDMaps struct {
	Patients     map[string]int64 `json:"patients"`
	Visits       map[string]int64 `json:"visits"`
	Observations map[string]int64 `json:"observations"`
}

// Report is the outcome of one import run. Warnings never flip Success.
type Report struct {
	Success    bool             `json:"success"`
	UploadID   string           `json:"uploadId"`
	Statistics ImportStatistics `json:"statistics"`
	IDMaps     IDMaps           `json:"idMaps"`
	Errors     []Issue          `json:"errors"`
	Warnings   []Issue          `json:"warnings"`
}

func newReport(uploadID string) *Report {
	return &Report{
		Success:  true,
		UploadID: uploadID,
		IDMaps: IDMaps{
			Patients:     map[string]int64{},
			Visits:       map[string]int64{},
			Observations: map[string]int64{},
		},
	}
}

func (r *Report) addError(stats *CategoryStats, issue Issue) {
	r.Errors = append(r.Errors, issue)
	r.Success = false
	if stats != nil {
		stats.Errors++
	}
}

func (r *Report) addWarning(issue Issue) {
	r.Warnings = append(r.Warnings, issue)
}

// TxRunner runs a function inside one database transaction, rolling back
// when the function errors. *db.Store satisfies it.
type TxRunner interface {
	RunInTransactionTimeout(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error
}

// ImportService writes canonical bundles into the database, one transaction
// per run.
type ImportService struct {
	store        TxRunner
	patients     patient.Repository
	visits       visit.Repository
	observations observation.Repository
	resolver     *concept.Resolver
	log          zerolog.Logger
}

// NewImportService wires an import service over the repositories it writes
// through.
func NewImportService(
	store TxRunner,
	patients patient.Repository,
	visits visit.Repository,
	observations observation.Repository,
	resolver *concept.Resolver,
	log zerolog.Logger,
) *ImportService {
	return &ImportService{
		store:        store,
		patients:     patients,
		visits:       visits,
		observations: observations,
		resolver:     resolver,
		log:          log,
	}
}

// ImportToDatabase validates the bundle and writes it inside a single
// transaction: patients, then visits, then observations. A duplicate patient
// under the error strategy rolls the whole run back. The report is returned
// alongside the error so callers can render the collected diagnostics.
func (s *ImportService) ImportToDatabase(ctx context.Context, st *Structure, opts ImportOptions) (*Report, error) {
	opts.defaults()
	uploadID := uuid.New().String()
	rep := newReport(uploadID)

	if issues := validateStructure(st); len(issues) > 0 {
		rep.Success = false
		rep.Errors = issues
		return rep, fmt.Errorf("%d structural errors: %w", len(issues), ErrInvalidStructure)
	}

	s.log.Info().
		Str("upload_id", uploadID).
		Str("strategy", opts.DuplicateStrategy).
		Int("patients", len(st.Data.Patients)).
		Int("visits", len(st.Data.Visits)).
		Int("observations", len(st.Data.Observations)).
		Msg("bundle import started")

	err := s.store.RunInTransactionTimeout(ctx, opts.TransactionTimeout, func(ctx context.Context) error {
		if err := s.importPatients(ctx, st.Data.Patients, opts, rep, uploadID); err != nil {
			return err
		}
		if err := s.importVisits(ctx, st.Data.Visits, opts, rep, uploadID); err != nil {
			return err
		}
		return s.importObservations(ctx, st.Data.Observations, opts, rep, uploadID)
	})
	if err != nil {
		rep.Success = false
		s.log.Error().Err(err).Str("upload_id", uploadID).Msg("bundle import rolled back")
		return rep, err
	}

	s.log.Info().
		Str("upload_id", uploadID).
		Int("patients", rep.Statistics.Patients.Imported).
		Int("visits", rep.Statistics.Visits.Imported).
		Int("observations", rep.Statistics.Observations.Imported).
		Int("duplicates", rep.Statistics.Patients.Duplicates).
		Int("errors", len(rep.Errors)).
		Msg("bundle import committed")
	return rep, nil
}

func validateStructure(st *Structure) []Issue {
	var issues []Issue
	if st == nil {
		return []Issue{{Code: CodeInvalidStructure, Record: -1, Message: "bundle is empty"}}
	}
	if st.Metadata.Format == "" {
		issues = append(issues, Issue{
			Code: CodeInvalidStructure, Record: -1,
			Message: "metadata.format is required",
		})
	}
	if len(st.Data.Patients) == 0 {
		issues = append(issues, Issue{
			Code: CodeNoPatients, Record: -1,
			Message: "bundle carries no patients",
		})
		return issues
	}
	for i, rec := range st.Data.Patients {
		if rec.String("PATIENT_CD") == "" {
			issues = append(issues, Issue{
				Code: CodeMissingPatientID, Category: "patients", Record: i,
				Message: fmt.Sprintf("patient record %d has no PATIENT_CD", i),
			})
		}
	}
	return issues
}

func checkpoint(ctx context.Context, index, batchSize int) error {
	if index > 0 && index%batchSize == 0 {
		return ctx.Err()
	}
	return nil
}

var patientKnown = map[string]bool{
	"PATIENT_NUM": true, "PATIENT_CD": true, "VITAL_STATUS_CD": true,
	"BIRTH_DATE": true, "DEATH_DATE": true, "SEX_CD": true, "AGE_IN_YEARS": true,
	"LANGUAGE_CD": true, "RACE_CD": true, "MARITAL_STATUS_CD": true,
	"RELIGION_CD": true, "PATIENT_BLOB": true, "UPDATE_DATE": true,
	"DOWNLOAD_DATE": true, "IMPORT_DATE": true, "SOURCESYSTEM_CD": true,
	"UPLOAD_ID": true,
}

func (s *ImportService) importPatients(ctx context.Context, recs []Record, opts ImportOptions, rep *Report, uploadID string) error {
	stats := &rep.Statistics.Patients
	for i, rec := range recs {
		if err := checkpoint(ctx, i, opts.BatchSize); err != nil {
			return err
		}
		code := rec.String("PATIENT_CD")
		if code == "" {
			rep.addError(stats, Issue{
				Code: CodeMissingPatientID, Category: "patients", Record: i,
				Message: "patient record has no PATIENT_CD",
			})
			continue
		}

		existing, err := s.patients.FindByPatientCode(ctx, code)
		switch {
		case err == nil:
			if err := s.handleDuplicatePatient(ctx, rec, existing, opts, rep, i, uploadID); err != nil {
				return err
			}

		case errors.Is(err, db.ErrNotFound):
			p, buildErr := patientFromRecord(rec, uploadID)
			if buildErr == nil {
				buildErr = p.Validate()
			}
			if buildErr != nil {
				rep.addError(stats, Issue{
					Code: CodeInvalidRecord, Category: "patients", Record: i,
					Message: buildErr.Error(),
				})
				continue
			}
			if err := s.patients.Create(ctx, p); err != nil {
				return fmt.Errorf("import patient %s: %w", code, err)
			}
			rep.IDMaps.Patients[code] = p.PatientNum
			stats.Imported++

		default:
			return fmt.Errorf("lookup patient %s: %w", code, err)
		}
	}
	return nil
}

func (s *ImportService) handleDuplicatePatient(ctx context.Context, rec Record, existing *patient.Patient, opts ImportOptions, rep *Report, index int, uploadID string) error {
	stats := &rep.Statistics.Patients
	switch opts.DuplicateStrategy {
	case StrategySkip:
		rep.IDMaps.Patients[existing.PatientCode] = existing.PatientNum
		stats.Duplicates++
		return nil

	case StrategyUpdate:
		patch := patientPatchFromRecord(rec, uploadID)
		patch.Apply(existing)
		if err := existing.Validate(); err != nil {
			rep.addError(stats, Issue{
				Code: CodeInvalidRecord, Category: "patients", Record: index,
				Message: err.Error(),
			})
			return nil
		}
		if err := s.patients.Update(ctx, existing); err != nil {
			return fmt.Errorf("update patient %s: %w", existing.PatientCode, err)
		}
		rep.IDMaps.Patients[existing.PatientCode] = existing.PatientNum
		stats.Duplicates++
		return nil

	case StrategyError:
		rep.addError(stats, Issue{
			Code: CodeDuplicatePatient, Category: "patients", Record: index,
			Message: fmt.Sprintf("patient %s already exists", existing.PatientCode),
		})
		return fmt.Errorf("patient %s already exists: %w", existing.PatientCode, db.ErrDuplicate)

	default:
		return fmt.Errorf("unknown duplicate strategy %q", opts.DuplicateStrategy)
	}
}

func patientFromRecord(rec Record, uploadID string) (*patient.Patient, error) {
	p := &patient.Patient{
		PatientCode:   rec.String("PATIENT_CD"),
		VitalStatus:   rec.StringPtr("VITAL_STATUS_CD"),
		BirthDate:     rec.StringPtr("BIRTH_DATE"),
		DeathDate:     rec.StringPtr("DEATH_DATE"),
		SexCode:       rec.StringPtr("SEX_CD"),
		LanguageCode:  rec.StringPtr("LANGUAGE_CD"),
		RaceCode:      rec.StringPtr("RACE_CD"),
		MaritalStatus: rec.StringPtr("MARITAL_STATUS_CD"),
		ReligionCode:  rec.StringPtr("RELIGION_CD"),
		Blob:          rec.StringPtr("PATIENT_BLOB"),
		SourceSystem:  rec.String("SOURCESYSTEM_CD"),
		UploadID:      &uploadID,
	}
	if age, ok := rec.Int64("AGE_IN_YEARS"); ok {
		p.AgeInYears = &age
	}
	if p.SourceSystem == "" {
		p.SourceSystem = codes.SourceImport
	}
	blob, err := MergeBlob(p.Blob, rec.Extra(patientKnown))
	if err != nil {
		return nil, err
	}
	p.Blob = blob
	return p, nil
}

func patientPatchFromRecord(rec Record, uploadID string) patient.Patch {
	patch := patient.Patch{
		VitalStatus:   rec.StringPtr("VITAL_STATUS_CD"),
		BirthDate:     rec.StringPtr("BIRTH_DATE"),
		DeathDate:     rec.StringPtr("DEATH_DATE"),
		SexCode:       rec.StringPtr("SEX_CD"),
		LanguageCode:  rec.StringPtr("LANGUAGE_CD"),
		RaceCode:      rec.StringPtr("RACE_CD"),
		MaritalStatus: rec.StringPtr("MARITAL_STATUS_CD"),
		ReligionCode:  rec.StringPtr("RELIGION_CD"),
		Blob:          rec.StringPtr("PATIENT_BLOB"),
		UploadID:      &uploadID,
	}
	if age, ok := rec.Int64("AGE_IN_YEARS"); ok {
		patch.AgeInYears = &age
	}
	return patch
}

var visitKnown = map[string]bool{
	"ENCOUNTER_NUM": true, "PATIENT_NUM": true, "PATIENT_CD": true,
	"ACTIVE_STATUS_CD": true, "START_DATE": true, "END_DATE": true,
	"INOUT_CD": true, "LOCATION_CD": true, "VISIT_BLOB": true,
	"UPDATE_DATE": true, "DOWNLOAD_DATE": true, "IMPORT_DATE": true,
	"SOURCESYSTEM_CD": true, "UPLOAD_ID": true,
}

func (s *ImportService) importVisits(ctx context.Context, recs []Record, opts ImportOptions, rep *Report, uploadID string) error {
	stats := &rep.Statistics.Visits
	for i, rec := range recs {
		if err := checkpoint(ctx, i, opts.BatchSize); err != nil {
			return err
		}
		code := rec.String("PATIENT_CD")
		patientNum, ok := rep.IDMaps.Patients[code]
		if !ok {
			rep.addError(stats, Issue{
				Code: CodeCannotMapVisit, Category: "visits", Record: i,
				Message: fmt.Sprintf("visit record %d references unknown patient %q", i, code),
			})
			continue
		}

		v, err := visitFromRecord(rec, patientNum, uploadID)
		if err == nil {
			err = v.Validate()
		}
		if err != nil {
			rep.addError(stats, Issue{
				Code: CodeInvalidRecord, Category: "visits", Record: i,
				Message: err.Error(),
			})
			continue
		}
		if err := s.visits.Create(ctx, v); err != nil {
			return fmt.Errorf("import visit %d: %w", i, err)
		}

		key := rec.String("ENCOUNTER_NUM")
		if key == "" {
			key = "#" + strconv.Itoa(i)
		}
		rep.IDMaps.Visits[key] = v.EncounterNum
		stats.Imported++
	}
	return nil
}

func visitFromRecord(rec Record, patientNum int64, uploadID string) (*visit.Visit, error) {
	v := &visit.Visit{
		PatientNum:   patientNum,
		ActiveStatus: rec.StringPtr("ACTIVE_STATUS_CD"),
		StartDate:    rec.String("START_DATE"),
		EndDate:      rec.StringPtr("END_DATE"),
		InOutCode:    rec.StringPtr("INOUT_CD"),
		LocationCode: rec.StringPtr("LOCATION_CD"),
		Blob:         rec.StringPtr("VISIT_BLOB"),
		SourceSystem: rec.String("SOURCESYSTEM_CD"),
		UploadID:     &uploadID,
	}
	if v.SourceSystem == "" {
		v.SourceSystem = codes.SourceImport
	}
	if v.ActiveStatus == nil {
		status := codes.VisitStatusActive
		if v.EndDate != nil && *v.EndDate != "" {
			status = codes.VisitStatusFinished
		}
		v.ActiveStatus = &status
	}
	blob, err := MergeBlob(v.Blob, rec.Extra(visitKnown))
	if err != nil {
		return nil, err
	}
	v.Blob = blob
	return v, nil
}

var observationKnown = map[string]bool{
	"OBSERVATION_ID": true, "ENCOUNTER_NUM": true, "PATIENT_NUM": true,
	"PATIENT_CD": true, "CONCEPT_CD": true, "PROVIDER_ID": true,
	"START_DATE": true, "END_DATE": true, "INSTANCE_NUM": true,
	"VALTYPE_CD": true, "TVAL_CHAR": true, "NVAL_NUM": true, "UNIT_CD": true,
	"LOCATION_CD": true, "CATEGORY_CHAR": true, "OBSERVATION_BLOB": true,
	"UPDATE_DATE": true, "DOWNLOAD_DATE": true, "IMPORT_DATE": true,
	"SOURCESYSTEM_CD": true, "UPLOAD_ID": true,
}

func (s *ImportService) importObservations(ctx context.Context, recs []Record, opts ImportOptions, rep *Report, uploadID string) error {
	stats := &rep.Statistics.Observations
	for i, rec := range recs {
		if err := checkpoint(ctx, i, opts.BatchSize); err != nil {
			return err
		}
		code := rec.String("PATIENT_CD")
		patientNum, ok := rep.IDMaps.Patients[code]
		if !ok {
			rep.addError(stats, Issue{
				Code: CodeCannotMapPatient, Category: "observations", Record: i,
				Message: fmt.Sprintf("observation record %d references unknown patient %q", i, code),
			})
			continue
		}

		encounterNum, err := s.mapEncounter(ctx, rec, code, patientNum, rep, uploadID)
		if err != nil {
			return err
		}

		conceptCode := rec.String("CONCEPT_CD")
		if conceptCode == "" {
			rep.addError(stats, Issue{
				Code: CodeInvalidRecord, Category: "observations", Record: i,
				Message: "observation record has no CONCEPT_CD",
			})
			continue
		}

		valueType := rec.String("VALTYPE_CD")
		if valueType == "" {
			valueType = codes.ValueTypeText
		}
		var conceptUnit string
		if s.resolver != nil {
			res, err := s.resolver.Resolve(ctx, conceptCode, concept.Options{})
			if err != nil {
				return fmt.Errorf("resolve concept %s: %w", conceptCode, err)
			}
			if res.Source == concept.SourceConcept {
				if res.ValueType != "" {
					valueType = res.ValueType
				}
				conceptUnit = res.Unit
			} else if !opts.KeepUnknownConcepts {
				rep.addWarning(Issue{
					Code: CodeUnknownConcept, Category: "observations", Record: i,
					Message: fmt.Sprintf("concept %s is unknown, observation skipped", conceptCode),
				})
				continue
			}
		}

		o, buildErr := observationFromRecord(rec, patientNum, encounterNum, valueType, uploadID)
		if buildErr == nil && o.Unit == nil && conceptUnit != "" {
			o.Unit = &conceptUnit
		}
		if buildErr == nil {
			buildErr = o.Validate()
		}
		if buildErr != nil {
			rep.addError(stats, Issue{
				Code: CodeInvalidRecord, Category: "observations", Record: i,
				Message: buildErr.Error(),
			})
			continue
		}
		if err := s.observations.Create(ctx, o); err != nil {
			return fmt.Errorf("import observation %d: %w", i, err)
		}
		rep.IDMaps.Observations["#"+strconv.Itoa(i)] = o.ObservationID
		stats.Imported++
	}
	return nil
}

// mapEncounter resolves the visit an observation belongs to. Unmapped
// encounters get a default visit on the observation date, one per patient
// and date, remembered for later records of the same bundle.
func (s *ImportService) mapEncounter(ctx context.Context, rec Record, patientCode string, patientNum int64, rep *Report, uploadID string) (int64, error) {
	key := rec.String("ENCOUNTER_NUM")
	if key != "" {
		if num, ok := rep.IDMaps.Visits[key]; ok {
			return num, nil
		}
	}

	date := rec.String("START_DATE")
	if date == "" {
		date = isodate.Today()
	}
	defaultKey := "default:" + patientCode + ":" + date
	if num, ok := rep.IDMaps.Visits[defaultKey]; ok {
		if key != "" {
			rep.IDMaps.Visits[key] = num
		}
		return num, nil
	}

	status := codes.VisitStatusActive
	v := &visit.Visit{
		PatientNum:   patientNum,
		StartDate:    date,
		ActiveStatus: &status,
		SourceSystem: codes.SourceImport,
		UploadID:     &uploadID,
	}
	if err := s.visits.Create(ctx, v); err != nil {
		return 0, fmt.Errorf("create default visit for %s: %w", patientCode, err)
	}
	s.log.Debug().
		Str("patient", patientCode).
		Str("date", date).
		Int64("encounter", v.EncounterNum).
		Msg("default visit created for unmapped observation")

	rep.IDMaps.Visits[defaultKey] = v.EncounterNum
	if key != "" {
		rep.IDMaps.Visits[key] = v.EncounterNum
	}
	return v.EncounterNum, nil
}

func observationFromRecord(rec Record, patientNum, encounterNum int64, valueType string, uploadID string) (*observation.Observation, error) {
	o := &observation.Observation{
		EncounterNum: encounterNum,
		PatientNum:   patientNum,
		ConceptCode:  rec.String("CONCEPT_CD"),
		ProviderID:   rec.StringPtr("PROVIDER_ID"),
		StartDate:    rec.StringPtr("START_DATE"),
		EndDate:      rec.StringPtr("END_DATE"),
		ValueType:    valueType,
		Unit:         rec.StringPtr("UNIT_CD"),
		LocationCode: rec.StringPtr("LOCATION_CD"),
		Category:     rec.StringPtr("CATEGORY_CHAR"),
		Blob:         rec.StringPtr("OBSERVATION_BLOB"),
		SourceSystem: rec.String("SOURCESYSTEM_CD"),
		UploadID:     &uploadID,
	}
	if n, ok := rec.Int64("INSTANCE_NUM"); ok {
		o.InstanceNum = n
	} else {
		o.InstanceNum = 1
	}
	if o.SourceSystem == "" {
		o.SourceSystem = codes.SourceImport
	}

	var raw any
	if f, ok := rec.Float("NVAL_NUM"); ok {
		raw = f
	} else {
		raw = rec.String("TVAL_CHAR")
	}
	if err := o.SetValue(raw); err != nil {
		return nil, err
	}

	blob, err := MergeBlob(o.Blob, rec.Extra(observationKnown))
	if err != nil {
		return nil, err
	}
	o.Blob = blob
	return o, nil
}
