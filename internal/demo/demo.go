// Package demo generates reproducible synthetic patients for onboarding and
// integration tests. Every generated row carries SOURCESYSTEM_CD "DEMO" and a
// DEMO_PATIENT_ code prefix, so one prefix delete removes the whole cohort
// through cascade.
package demo

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/best/best/internal/domain/observation"
	"github.com/best/best/internal/domain/patient"
	"github.com/best/best/internal/domain/visit"
	"github.com/best/best/pkg/codes"
)

// CodePrefix marks every generated patient code.
const CodePrefix = "DEMO_PATIENT_"

const observationsPerVisit = 10

// Config controls the volume and reproducibility of a generation run.
type Config struct {
	PatientCount int   `json:"patientCount"`
	Seed         int64 `json:"seed"`
}

// DefaultConfig returns the onboarding defaults: three patients, fixed seed.
func DefaultConfig() Config {
	return Config{PatientCount: 3, Seed: 1}
}

// Result summarises one generation run.
type Result struct {
	Patients     int           `json:"patients"`
	Visits       int           `json:"visits"`
	Observations int           `json:"observations"`
	PatientCodes []string      `json:"patientCodes"`
	Duration     time.Duration `json:"duration"`
}

type numericDef struct {
	Code     string
	Unit     string
	Low      float64
	High     float64
	Category string
}

// The palette sticks to concepts present in the reference seed, so generated
// rows resolve to names without extra dimension rows.
var (
	numericPalette = []numericDef{
		{"LOINC: 8480-6", "mmHg", 95, 165, codes.CategoryVitalSigns},
		{"LOINC: 8462-4", "mmHg", 55, 100, codes.CategoryVitalSigns},
		{"LOINC: 8867-4", "bpm", 52, 108, codes.CategoryVitalSigns},
		{"LOINC: 2947-0", "mmol/l", 131, 147, codes.CategoryLaboratory},
		{"BEST: SZ-FREQ-30D", "/mo", 0, 24, codes.CategoryFinding},
		{"BEST: EEG-ALPHA-HZ", "Hz", 7.5, 12.5, codes.CategoryFinding},
	}

	seizureTypes = []string{
		"SCTID: 117891000119100",
		"SCTID: 230415001",
		"SCTID: 352818000",
		"SCTID: 79631006",
		"SCTID: 75489000",
	}

	triggers = []string{
		"sleep deprivation",
		"missed medication dose",
		"flashing lights",
		"emotional stress",
		"unknown",
	}

	sexCodes = []string{
		"SCTID: 248153007",
		"SCTID: 248152000",
	}

	locations = []string{"NEURO-WARD", "EEG-LAB", "OUTPATIENT-3"}
)

// Generator writes synthetic cohorts through the repositories.
type Generator struct {
	patients     patient.Repository
	visits       visit.Repository
	observations observation.Repository
	log          zerolog.Logger
}

func NewGenerator(patients patient.Repository, visits visit.Repository, observations observation.Repository, log zerolog.Logger) *Generator {
	return &Generator{
		patients:     patients,
		visits:       visits,
		observations: observations,
		log:          log.With().Str("component", "demo").Logger(),
	}
}

// Generate creates cfg.PatientCount patients, each with two or three visits
// and ten observations per visit. The same seed always produces the same
// rows, only surrogate ids differ with pre-existing data.
func (g *Generator) Generate(ctx context.Context, cfg Config) (*Result, error) {
	if cfg.PatientCount <= 0 {
		cfg.PatientCount = DefaultConfig().PatientCount
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	start := time.Now()
	res := &Result{}

	for i := 1; i <= cfg.PatientCount; i++ {
		p, err := g.createPatient(ctx, rng, i)
		if err != nil {
			return nil, err
		}
		res.Patients++
		res.PatientCodes = append(res.PatientCodes, p.PatientCode)

		visitCount := 2 + rng.Intn(2)
		for j := 0; j < visitCount; j++ {
			v, err := g.createVisit(ctx, rng, p.PatientNum)
			if err != nil {
				return nil, fmt.Errorf("patient %s: %w", p.PatientCode, err)
			}
			res.Visits++

			for k := 0; k < observationsPerVisit; k++ {
				if err := g.createObservation(ctx, rng, p.PatientNum, v); err != nil {
					return nil, fmt.Errorf("patient %s visit %d: %w", p.PatientCode, v.EncounterNum, err)
				}
				res.Observations++
			}
		}
	}

	res.Duration = time.Since(start)
	g.log.Info().
		Int("patients", res.Patients).
		Int("visits", res.Visits).
		Int("observations", res.Observations).
		Int64("seed", seed).
		Msg("demo cohort generated")
	return res, nil
}

// Cleanup deletes every patient carrying the demo code prefix; visits and
// observations follow through cascade. Returns the number of patients removed.
func (g *Generator) Cleanup(ctx context.Context) (int64, error) {
	n, err := g.patients.DeleteByCodePrefix(ctx, CodePrefix)
	if err != nil {
		return 0, fmt.Errorf("delete demo cohort: %w", err)
	}
	g.log.Info().Int64("patients", n).Msg("demo cohort removed")
	return n, nil
}

func (g *Generator) createPatient(ctx context.Context, rng *rand.Rand, ordinal int) (*patient.Patient, error) {
	birthYear := 1950 + rng.Intn(60)
	birth := randomDate(rng, birthYear, birthYear)
	age := int64(time.Now().Year() - birthYear)
	sex := sexCodes[rng.Intn(len(sexCodes))]
	vital := codes.VitalStatusAlive
	blob := fmt.Sprintf(`{"cohort":"demo","handedness":"%s"}`, pick(rng, []string{"right", "left"}))

	p := &patient.Patient{
		PatientCode:  fmt.Sprintf("%s%02d", CodePrefix, ordinal),
		SexCode:      &sex,
		BirthDate:    &birth,
		AgeInYears:   &age,
		VitalStatus:  &vital,
		Blob:         &blob,
		SourceSystem: codes.SourceDemo,
	}
	if err := g.patients.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create demo patient %s: %w", p.PatientCode, err)
	}
	return p, nil
}

func (g *Generator) createVisit(ctx context.Context, rng *rand.Rand, patientNum int64) (*visit.Visit, error) {
	startDate := randomDate(rng, 2022, 2024)
	end := addDays(startDate, 1+rng.Intn(3))
	status := codes.VisitStatusFinished
	inout := pick(rng, []string{codes.VisitInpatient, codes.VisitOutpatient})
	location := pick(rng, locations)

	v := &visit.Visit{
		PatientNum:   patientNum,
		StartDate:    startDate,
		EndDate:      &end,
		ActiveStatus: &status,
		InOutCode:    &inout,
		LocationCode: &location,
		SourceSystem: codes.SourceDemo,
	}
	if err := g.visits.Create(ctx, v); err != nil {
		return nil, fmt.Errorf("create demo visit: %w", err)
	}
	return v, nil
}

func (g *Generator) createObservation(ctx context.Context, rng *rand.Rand, patientNum int64, v *visit.Visit) error {
	o := &observation.Observation{
		PatientNum:   patientNum,
		EncounterNum: v.EncounterNum,
		StartDate:    &v.StartDate,
		InstanceNum:  1,
		SourceSystem: codes.SourceDemo,
	}

	// Weight numerics heaviest, the way a chart actually reads.
	switch roll := rng.Intn(10); {
	case roll < 6:
		def := numericPalette[rng.Intn(len(numericPalette))]
		val := roundTenth(def.Low + rng.Float64()*(def.High-def.Low))
		o.ConceptCode = def.Code
		o.ValueType = codes.ValueTypeNumeric
		o.NumericValue = &val
		o.Unit = &def.Unit
		o.Category = &def.Category
	case roll < 8:
		answer := pick(rng, seizureTypes)
		cat := codes.CategoryFinding
		o.ConceptCode = "BEST: SZ-TYPE"
		o.ValueType = codes.ValueTypeSelection
		o.TextValue = &answer
		o.Category = &cat
	case roll < 9:
		text := pick(rng, triggers)
		cat := codes.CategoryFinding
		o.ConceptCode = "BEST: SZ-TRIGGER"
		o.ValueType = codes.ValueTypeText
		o.TextValue = &text
		o.Category = &cat
	default:
		date := randomDate(rng, 2021, 2024)
		cat := codes.CategoryFinding
		o.ConceptCode = "BEST: SZ-LAST-DATE"
		o.ValueType = codes.ValueTypeDate
		o.TextValue = &date
		o.Category = &cat
	}

	if err := g.observations.Create(ctx, o); err != nil {
		return fmt.Errorf("create demo observation %s: %w", o.ConceptCode, err)
	}
	return nil
}

func pick(rng *rand.Rand, pool []string) string {
	return pool[rng.Intn(len(pool))]
}

// randomDate stays within day 28 so every month is safe.
func randomDate(rng *rand.Rand, minYear, maxYear int) string {
	y := minYear + rng.Intn(maxYear-minYear+1)
	m := 1 + rng.Intn(12)
	d := 1 + rng.Intn(28)
	return fmt.Sprintf("%04d-%02d-%02d", y, m, d)
}

func addDays(day string, n int) string {
	t, err := time.Parse("2006-01-02", day)
	if err != nil {
		return day
	}
	return t.AddDate(0, 0, n).Format("2006-01-02")
}

func roundTenth(v float64) float64 {
	return float64(int(v*10)) / 10
}
