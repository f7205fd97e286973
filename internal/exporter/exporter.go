// Package exporter renders database content as canonical JSON bundles,
// two-header-row CSV, or HL7-CDA documents. A snapshot walks the
// repositories into the canonical structure; the renderers serialise it.
package exporter

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/best/best/internal/domain/concept"
	"github.com/best/best/internal/domain/observation"
	"github.com/best/best/internal/domain/patient"
	"github.com/best/best/internal/domain/visit"
	"github.com/best/best/internal/platform/bundle"
	"github.com/best/best/pkg/isodate"
)

// exportVersion is the bundle format revision stamped into exportInfo.
const exportVersion = "1.0"

// Options narrow an export. Start from DefaultOptions; the zero value
// exports bare patients.
type Options struct {
	// PatientCodes limits the export; empty means every patient.
	PatientCodes        []string
	IncludeVisits       bool
	IncludeObservations bool
	Title               string
}

// DefaultOptions exports everything.
func DefaultOptions() Options {
	return Options{IncludeVisits: true, IncludeObservations: true}
}

// Service reads the repositories and builds export bundles.
type Service struct {
	patients     patient.Repository
	visits       visit.Repository
	observations observation.Repository
	resolver     *concept.Resolver
	log          zerolog.Logger
}

// NewService wires an export service. The resolver labels concept columns
// in CSV headers and CDA codings.
func NewService(
	patients patient.Repository,
	visits visit.Repository,
	observations observation.Repository,
	resolver *concept.Resolver,
	log zerolog.Logger,
) *Service {
	return &Service{
		patients:     patients,
		visits:       visits,
		observations: observations,
		resolver:     resolver,
		log:          log.With().Str("component", "exporter").Logger(),
	}
}

// Snapshot reads the selected patients with their visits and observations
// into the canonical bundle structure.
func (s *Service) Snapshot(ctx context.Context, opts Options) (*bundle.Structure, error) {
	pts, err := s.loadPatients(ctx, opts.PatientCodes)
	if err != nil {
		return nil, err
	}

	st := &bundle.Structure{}
	st.Metadata.Title = opts.Title
	st.Metadata.Format = "json"
	st.Metadata.Source = "best"
	st.Metadata.Version = exportVersion
	st.Metadata.ExportDate = isodate.Stamp()
	st.Metadata.Options = bundle.ExportOptions{
		IncludeVisits:       opts.IncludeVisits,
		IncludeObservations: opts.IncludeObservations,
	}
	st.ExportInfo = bundle.ExportInfo{
		Format:     "json",
		Version:    exportVersion,
		ExportedAt: st.Metadata.ExportDate,
		Source:     "best",
	}

	for _, p := range pts {
		st.Metadata.PatientIDs = append(st.Metadata.PatientIDs, p.PatientCode)
		st.Data.Patients = append(st.Data.Patients, patientRecord(p))
	}

	if opts.IncludeVisits {
		for _, p := range pts {
			vs, err := s.visits.FindByPatientNum(ctx, p.PatientNum)
			if err != nil {
				return nil, fmt.Errorf("load visits for %s: %w", p.PatientCode, err)
			}
			for _, v := range vs {
				st.Data.Visits = append(st.Data.Visits, visitRecord(v, p.PatientCode))
			}
		}
	}
	if opts.IncludeObservations {
		for _, p := range pts {
			obs, err := s.observations.FindByPatientNum(ctx, p.PatientNum)
			if err != nil {
				return nil, fmt.Errorf("load observations for %s: %w", p.PatientCode, err)
			}
			for _, o := range obs {
				st.Data.Observations = append(st.Data.Observations, observationRecord(o, p.PatientCode))
			}
		}
	}

	st.Statistics.FetchedAt = isodate.Stamp()
	st.Recount()
	s.log.Info().
		Int("patients", st.Statistics.PatientCount).
		Int("visits", st.Statistics.VisitCount).
		Int("observations", st.Statistics.ObservationCount).
		Msg("snapshot assembled")
	return st, nil
}

func (s *Service) loadPatients(ctx context.Context, patientCodes []string) ([]*patient.Patient, error) {
	if len(patientCodes) == 0 {
		pts, err := s.patients.FindByCriteria(ctx, patient.Criteria{})
		if err != nil {
			return nil, fmt.Errorf("load patients: %w", err)
		}
		return pts, nil
	}
	pts := make([]*patient.Patient, 0, len(patientCodes))
	for _, code := range patientCodes {
		p, err := s.patients.FindByPatientCode(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("load patient %s: %w", code, err)
		}
		pts = append(pts, p)
	}
	return pts, nil
}

func patientRecord(p *patient.Patient) bundle.Record {
	rec := bundle.Record{
		"PATIENT_NUM":     p.PatientNum,
		"PATIENT_CD":      p.PatientCode,
		"SOURCESYSTEM_CD": p.SourceSystem,
	}
	putStr(rec, "VITAL_STATUS_CD", p.VitalStatus)
	putStr(rec, "BIRTH_DATE", p.BirthDate)
	putStr(rec, "DEATH_DATE", p.DeathDate)
	putStr(rec, "SEX_CD", p.SexCode)
	if p.AgeInYears != nil {
		rec["AGE_IN_YEARS"] = *p.AgeInYears
	}
	putStr(rec, "LANGUAGE_CD", p.LanguageCode)
	putStr(rec, "RACE_CD", p.RaceCode)
	putStr(rec, "MARITAL_STATUS_CD", p.MaritalStatus)
	putStr(rec, "RELIGION_CD", p.ReligionCode)
	putStr(rec, "PATIENT_BLOB", p.Blob)
	putStr(rec, "UPLOAD_ID", p.UploadID)
	return rec
}

func visitRecord(v *visit.Visit, patientCode string) bundle.Record {
	rec := bundle.Record{
		"ENCOUNTER_NUM":   v.EncounterNum,
		"PATIENT_NUM":     v.PatientNum,
		"PATIENT_CD":      patientCode,
		"START_DATE":      v.StartDate,
		"SOURCESYSTEM_CD": v.SourceSystem,
	}
	putStr(rec, "ACTIVE_STATUS_CD", v.ActiveStatus)
	putStr(rec, "END_DATE", v.EndDate)
	putStr(rec, "INOUT_CD", v.InOutCode)
	putStr(rec, "LOCATION_CD", v.LocationCode)
	putStr(rec, "VISIT_BLOB", v.Blob)
	putStr(rec, "UPLOAD_ID", v.UploadID)
	return rec
}

func observationRecord(o *observation.Observation, patientCode string) bundle.Record {
	rec := bundle.Record{
		"OBSERVATION_ID":  o.ObservationID,
		"ENCOUNTER_NUM":   o.EncounterNum,
		"PATIENT_NUM":     o.PatientNum,
		"PATIENT_CD":      patientCode,
		"CONCEPT_CD":      o.ConceptCode,
		"INSTANCE_NUM":    o.InstanceNum,
		"VALTYPE_CD":      o.ValueType,
		"SOURCESYSTEM_CD": o.SourceSystem,
	}
	putStr(rec, "PROVIDER_ID", o.ProviderID)
	putStr(rec, "START_DATE", o.StartDate)
	putStr(rec, "END_DATE", o.EndDate)
	putStr(rec, "TVAL_CHAR", o.TextValue)
	if o.NumericValue != nil {
		rec["NVAL_NUM"] = *o.NumericValue
	}
	putStr(rec, "UNIT_CD", o.Unit)
	putStr(rec, "LOCATION_CD", o.LocationCode)
	putStr(rec, "CATEGORY_CHAR", o.Category)
	putStr(rec, "OBSERVATION_BLOB", o.Blob)
	putStr(rec, "UPLOAD_ID", o.UploadID)
	return rec
}

func putStr(rec bundle.Record, key string, v *string) {
	if v != nil && *v != "" {
		rec[key] = *v
	}
}
