package bundle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/best/best/internal/domain/codelookup"
	"github.com/best/best/internal/domain/concept"
	"github.com/best/best/internal/domain/observation"
	"github.com/best/best/internal/domain/patient"
	"github.com/best/best/internal/domain/visit"
	"github.com/best/best/internal/platform/db"
	"github.com/best/best/internal/platform/logging"
	"github.com/best/best/pkg/codes"
)

type fakeTx struct {
	runs int
}

func (f *fakeTx) RunInTransactionTimeout(ctx context.Context, _ time.Duration, fn func(ctx context.Context) error) error {
	f.runs++
	return fn(ctx)
}

type mockPatients struct {
	patient.Repository
	byCode  map[string]*patient.Patient
	nextNum int64
	updates int
}

func newMockPatients() *mockPatients {
	return &mockPatients{byCode: map[string]*patient.Patient{}, nextNum: 1}
}

func (m *mockPatients) Create(_ context.Context, p *patient.Patient) error {
	p.PatientNum = m.nextNum
	m.nextNum++
	cp := *p
	m.byCode[p.PatientCode] = &cp
	return nil
}

func (m *mockPatients) Update(_ context.Context, p *patient.Patient) error {
	if _, ok := m.byCode[p.PatientCode]; !ok {
		return fmt.Errorf("patient %s: %w", p.PatientCode, db.ErrNotFound)
	}
	m.updates++
	cp := *p
	m.byCode[p.PatientCode] = &cp
	return nil
}

func (m *mockPatients) FindByPatientCode(_ context.Context, code string) (*patient.Patient, error) {
	p, ok := m.byCode[code]
	if !ok {
		return nil, fmt.Errorf("patient %s: %w", code, db.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

type mockVisits struct {
	visit.Repository
	list    []*visit.Visit
	nextNum int64
}

func newMockVisits() *mockVisits {
	return &mockVisits{nextNum: 1}
}

func (m *mockVisits) Create(_ context.Context, v *visit.Visit) error {
	v.EncounterNum = m.nextNum
	m.nextNum++
	cp := *v
	m.list = append(m.list, &cp)
	return nil
}

type mockObservations struct {
	observation.Repository
	list   []*observation.Observation
	nextID int64
}

func newMockObservations() *mockObservations {
	return &mockObservations{nextID: 1}
}

func (m *mockObservations) Create(_ context.Context, o *observation.Observation) error {
	o.ObservationID = m.nextID
	m.nextID++
	cp := *o
	m.list = append(m.list, &cp)
	return nil
}

type stubConcepts struct {
	concept.Repository
	byCode map[string]*concept.Concept
}

func (s *stubConcepts) FindByCodes(_ context.Context, lookup []string) (map[string]*concept.Concept, error) {
	out := map[string]*concept.Concept{}
	for _, code := range lookup {
		if c, ok := s.byCode[code]; ok {
			out[code] = c
		}
	}
	return out, nil
}

type stubLookups struct {
	codelookup.Repository
}

func (s *stubLookups) FindByCodes(_ context.Context, _ []string) (map[string]*codelookup.CodeLookup, error) {
	return map[string]*codelookup.CodeLookup{}, nil
}

func testResolver() *concept.Resolver {
	unit := "mmol/l"
	concepts := &stubConcepts{byCode: map[string]*concept.Concept{
		"LOINC: 2947-0": {
			ConceptCode: "LOINC: 2947-0",
			ConceptPath: `\LOINC\2947-0`,
			Name:        "Sodium [Moles/volume] in Blood",
			ValueType:   "N",
			Unit:        &unit,
		},
		"SCTID: 407374003": {
			ConceptCode: "SCTID: 407374003",
			ConceptPath: `\SNOMED-CT\407374003`,
			Name:        "Surgically transgendered transsexual, male-to-female",
			ValueType:   "T",
		},
	}}
	return concept.NewResolver(concepts, &stubLookups{}, true)
}

type importHarness struct {
	tx           *fakeTx
	patients     *mockPatients
	visits       *mockVisits
	observations *mockObservations
	svc          *ImportService
}

func newImportHarness() *importHarness {
	h := &importHarness{
		tx:           &fakeTx{},
		patients:     newMockPatients(),
		visits:       newMockVisits(),
		observations: newMockObservations(),
	}
	h.svc = NewImportService(h.tx, h.patients, h.visits, h.observations, testResolver(), logging.Discard())
	return h
}

func testBundle() *Structure {
	return &Structure{
		Metadata: Metadata{Title: "unit", Format: "json"},
		Data: Data{
			Patients: []Record{
				{
					"PATIENT_CD":   "DEMO_PATIENT_01",
					"SEX_CD":       "SCTID: 407374003",
					"AGE_IN_YEARS": float64(32),
				},
			},
			Visits: []Record{
				{
					"ENCOUNTER_NUM": "900",
					"PATIENT_CD":    "DEMO_PATIENT_01",
					"START_DATE":    "2024-03-15",
					"END_DATE":      "2024-03-16",
				},
			},
			Observations: []Record{
				{
					"PATIENT_CD":    "DEMO_PATIENT_01",
					"ENCOUNTER_NUM": "900",
					"CONCEPT_CD":    "LOINC: 2947-0",
					"VALTYPE_CD":    "N",
					"NVAL_NUM":      float64(140),
					"START_DATE":    "2024-03-15",
				},
			},
		},
	}
}

func TestImportCreatesHierarchy(t *testing.T) {
	h := newImportHarness()
	rep, err := h.svc.ImportToDatabase(context.Background(), testBundle(), ImportOptions{})
	if err != nil {
		t.Fatalf("ImportToDatabase: %v", err)
	}
	if !rep.Success {
		t.Fatalf("expected success, errors: %+v", rep.Errors)
	}
	if h.tx.runs != 1 {
		t.Fatalf("expected one transaction, got %d", h.tx.runs)
	}
	if rep.Statistics.Patients.Imported != 1 || rep.Statistics.Visits.Imported != 1 || rep.Statistics.Observations.Imported != 1 {
		t.Fatalf("unexpected statistics: %+v", rep.Statistics)
	}
	if rep.UploadID == "" {
		t.Fatal("expected a run upload id")
	}

	p := h.patients.byCode["DEMO_PATIENT_01"]
	if p == nil {
		t.Fatal("patient not stored")
	}
	if p.SexCode == nil || *p.SexCode != "SCTID: 407374003" {
		t.Errorf("sex code not carried over: %+v", p.SexCode)
	}
	if p.AgeInYears == nil || *p.AgeInYears != 32 {
		t.Errorf("age not carried over: %+v", p.AgeInYears)
	}
	if p.SourceSystem != codes.SourceImport {
		t.Errorf("source system = %q, want %q", p.SourceSystem, codes.SourceImport)
	}
	if p.UploadID == nil || *p.UploadID != rep.UploadID {
		t.Error("patient row not stamped with the run upload id")
	}

	num, ok := rep.IDMaps.Visits["900"]
	if !ok {
		t.Fatal("visit id map is missing the original encounter number")
	}
	o := h.observations.list[0]
	if o.EncounterNum != num {
		t.Errorf("observation encounter = %d, want mapped %d", o.EncounterNum, num)
	}
	if o.NumericValue == nil || *o.NumericValue != 140 {
		t.Errorf("numeric value not routed: %+v", o.NumericValue)
	}
}

func TestImportValueTypeOverride(t *testing.T) {
	h := newImportHarness()
	st := testBundle()
	// Alias spelling with a text value type; the catalogue says numeric.
	st.Data.Observations = []Record{{
		"PATIENT_CD": "DEMO_PATIENT_01",
		"CONCEPT_CD": "LID: 2947-0",
		"VALTYPE_CD": "T",
		"TVAL_CHAR":  "140",
		"START_DATE": "2024-03-15",
	}}

	rep, err := h.svc.ImportToDatabase(context.Background(), st, ImportOptions{})
	if err != nil {
		t.Fatalf("ImportToDatabase: %v", err)
	}
	if rep.Statistics.Observations.Imported != 1 {
		t.Fatalf("observation not imported: %+v", rep.Errors)
	}
	o := h.observations.list[len(h.observations.list)-1]
	if o.ValueType != codes.ValueTypeNumeric {
		t.Errorf("value type = %q, want N", o.ValueType)
	}
	if o.NumericValue == nil || *o.NumericValue != 140 {
		t.Errorf("numeric value = %+v, want 140", o.NumericValue)
	}
	if o.TextValue != nil {
		t.Errorf("text value should be cleared, got %q", *o.TextValue)
	}
	if o.Unit == nil || *o.Unit != "mmol/l" {
		t.Errorf("unit not defaulted from the catalogue: %+v", o.Unit)
	}
}

func TestImportDefaultVisitForUnmappedObservation(t *testing.T) {
	h := newImportHarness()
	st := testBundle()
	st.Data.Visits = nil
	st.Data.Observations = []Record{
		{
			"PATIENT_CD": "DEMO_PATIENT_01",
			"CONCEPT_CD": "LOINC: 2947-0",
			"VALTYPE_CD": "N",
			"NVAL_NUM":   float64(140),
			"START_DATE": "2024-03-15",
		},
		{
			"PATIENT_CD": "DEMO_PATIENT_01",
			"CONCEPT_CD": "LOINC: 2947-0",
			"VALTYPE_CD": "N",
			"NVAL_NUM":   float64(141),
			"START_DATE": "2024-03-15",
		},
	}

	rep, err := h.svc.ImportToDatabase(context.Background(), st, ImportOptions{})
	if err != nil {
		t.Fatalf("ImportToDatabase: %v", err)
	}
	if rep.Statistics.Observations.Imported != 2 {
		t.Fatalf("observations imported = %d, want 2", rep.Statistics.Observations.Imported)
	}
	if len(h.visits.list) != 1 {
		t.Fatalf("expected one shared default visit, got %d", len(h.visits.list))
	}
	v := h.visits.list[0]
	if v.StartDate != "2024-03-15" {
		t.Errorf("default visit date = %q, want observation date", v.StartDate)
	}
	if h.observations.list[0].EncounterNum != v.EncounterNum || h.observations.list[1].EncounterNum != v.EncounterNum {
		t.Error("observations not attached to the default visit")
	}
}

func TestImportUnknownConcept(t *testing.T) {
	h := newImportHarness()
	st := testBundle()
	st.Data.Observations = []Record{{
		"PATIENT_CD": "DEMO_PATIENT_01",
		"CONCEPT_CD": "CUSTOM: made-up",
		"VALTYPE_CD": "T",
		"TVAL_CHAR":  "whatever",
		"START_DATE": "2024-03-15",
	}}

	rep, err := h.svc.ImportToDatabase(context.Background(), st, ImportOptions{})
	if err != nil {
		t.Fatalf("ImportToDatabase: %v", err)
	}
	if !rep.Success {
		t.Fatalf("skipping an unknown concept must not fail the run: %+v", rep.Errors)
	}
	if rep.Statistics.Observations.Imported != 0 {
		t.Fatal("unknown concept should be skipped")
	}
	if len(rep.Warnings) != 1 || rep.Warnings[0].Code != CodeUnknownConcept {
		t.Fatalf("expected one UNKNOWN_CONCEPT warning, got %+v", rep.Warnings)
	}

	h = newImportHarness()
	rep, err = h.svc.ImportToDatabase(context.Background(), st, ImportOptions{KeepUnknownConcepts: true})
	if err != nil {
		t.Fatalf("ImportToDatabase: %v", err)
	}
	if rep.Statistics.Observations.Imported != 1 {
		t.Fatal("KeepUnknownConcepts should store the observation")
	}
	if h.observations.list[0].ValueType != codes.ValueTypeText {
		t.Errorf("incoming value type should be kept, got %q", h.observations.list[0].ValueType)
	}
}

func seedExisting(h *importHarness, code string) *patient.Patient {
	age := int64(50)
	p := &patient.Patient{PatientCode: code, AgeInYears: &age, SourceSystem: codes.SourceUser}
	_ = h.patients.Create(context.Background(), p)
	return p
}

func TestImportDuplicateSkip(t *testing.T) {
	h := newImportHarness()
	existing := seedExisting(h, "DEMO_PATIENT_01")

	rep, err := h.svc.ImportToDatabase(context.Background(), testBundle(), ImportOptions{DuplicateStrategy: StrategySkip})
	if err != nil {
		t.Fatalf("ImportToDatabase: %v", err)
	}
	if rep.Statistics.Patients.Duplicates != 1 || rep.Statistics.Patients.Imported != 0 {
		t.Fatalf("unexpected patient stats: %+v", rep.Statistics.Patients)
	}
	if got := rep.IDMaps.Patients["DEMO_PATIENT_01"]; got != existing.PatientNum {
		t.Errorf("id map = %d, want existing %d", got, existing.PatientNum)
	}
	if age := h.patients.byCode["DEMO_PATIENT_01"].AgeInYears; age == nil || *age != 50 {
		t.Error("skip strategy must not touch the stored row")
	}
	// Dependent records still attach to the existing patient.
	if rep.Statistics.Visits.Imported != 1 || rep.Statistics.Observations.Imported != 1 {
		t.Fatalf("dependents not imported: %+v", rep.Statistics)
	}
}

func TestImportDuplicateUpdate(t *testing.T) {
	h := newImportHarness()
	seedExisting(h, "DEMO_PATIENT_01")

	rep, err := h.svc.ImportToDatabase(context.Background(), testBundle(), ImportOptions{DuplicateStrategy: StrategyUpdate})
	if err != nil {
		t.Fatalf("ImportToDatabase: %v", err)
	}
	if rep.Statistics.Patients.Duplicates != 1 {
		t.Fatalf("unexpected patient stats: %+v", rep.Statistics.Patients)
	}
	if h.patients.updates != 1 {
		t.Fatalf("expected one update, got %d", h.patients.updates)
	}
	p := h.patients.byCode["DEMO_PATIENT_01"]
	if p.AgeInYears == nil || *p.AgeInYears != 32 {
		t.Errorf("age not updated from the bundle: %+v", p.AgeInYears)
	}
	if p.SexCode == nil || *p.SexCode != "SCTID: 407374003" {
		t.Error("sex code not updated from the bundle")
	}
}

func TestImportDuplicateError(t *testing.T) {
	h := newImportHarness()
	seedExisting(h, "DEMO_PATIENT_01")

	rep, err := h.svc.ImportToDatabase(context.Background(), testBundle(), ImportOptions{DuplicateStrategy: StrategyError})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !errors.Is(err, db.ErrDuplicate) {
		t.Fatalf("error should wrap ErrDuplicate, got %v", err)
	}
	if rep.Success {
		t.Fatal("report should be marked failed")
	}
	if len(rep.Errors) == 0 || rep.Errors[0].Code != CodeDuplicatePatient {
		t.Fatalf("expected DUPLICATE_PATIENT issue, got %+v", rep.Errors)
	}
}

func TestImportStructureValidation(t *testing.T) {
	h := newImportHarness()

	rep, err := h.svc.ImportToDatabase(context.Background(), &Structure{Metadata: Metadata{Format: "json"}}, ImportOptions{})
	if !errors.Is(err, ErrInvalidStructure) {
		t.Fatalf("expected ErrInvalidStructure, got %v", err)
	}
	if len(rep.Errors) != 1 || rep.Errors[0].Code != CodeNoPatients {
		t.Fatalf("expected NO_PATIENTS, got %+v", rep.Errors)
	}
	if h.tx.runs != 0 {
		t.Fatal("structural failure must not open a transaction")
	}

	st := testBundle()
	st.Data.Patients = append(st.Data.Patients, Record{"SEX_CD": "SCTID: 407374003"})
	rep, err = h.svc.ImportToDatabase(context.Background(), st, ImportOptions{})
	if !errors.Is(err, ErrInvalidStructure) {
		t.Fatalf("expected ErrInvalidStructure, got %v", err)
	}
	if len(rep.Errors) != 1 || rep.Errors[0].Code != CodeMissingPatientID {
		t.Fatalf("expected MISSING_PATIENT_ID, got %+v", rep.Errors)
	}
}

func TestImportUnmappableRecords(t *testing.T) {
	h := newImportHarness()
	st := testBundle()
	st.Data.Visits = append(st.Data.Visits, Record{
		"PATIENT_CD": "GHOST", "START_DATE": "2024-03-15",
	})
	st.Data.Observations = append(st.Data.Observations, Record{
		"PATIENT_CD": "GHOST", "CONCEPT_CD": "LOINC: 2947-0", "VALTYPE_CD": "N", "NVAL_NUM": float64(1),
	})

	rep, err := h.svc.ImportToDatabase(context.Background(), st, ImportOptions{})
	if err != nil {
		t.Fatalf("ImportToDatabase: %v", err)
	}
	if rep.Success {
		t.Fatal("unmappable records should fail the report")
	}
	if rep.Statistics.Visits.Errors != 1 || rep.Statistics.Observations.Errors != 1 {
		t.Fatalf("unexpected error counts: %+v", rep.Statistics)
	}
	var sawVisit, sawPatient bool
	for _, issue := range rep.Errors {
		switch issue.Code {
		case CodeCannotMapVisit:
			sawVisit = true
		case CodeCannotMapPatient:
			sawPatient = true
		}
	}
	if !sawVisit || !sawPatient {
		t.Fatalf("expected mapping issues, got %+v", rep.Errors)
	}
	// The mappable records still made it in.
	if rep.Statistics.Visits.Imported != 1 || rep.Statistics.Observations.Imported != 1 {
		t.Fatalf("valid records should survive: %+v", rep.Statistics)
	}
}

func TestImportFoldsUnknownColumnsIntoBlob(t *testing.T) {
	h := newImportHarness()
	st := testBundle()
	st.Data.Patients[0]["EYE_COLOR"] = "green"
	st.Data.Patients[0]["PATIENT_BLOB"] = `{"note":"kept"}`

	_, err := h.svc.ImportToDatabase(context.Background(), st, ImportOptions{})
	if err != nil {
		t.Fatalf("ImportToDatabase: %v", err)
	}
	p := h.patients.byCode["DEMO_PATIENT_01"]
	if p.Blob == nil {
		t.Fatal("expected a merged blob")
	}
	if !strings.Contains(*p.Blob, `"EYE_COLOR":"green"`) || !strings.Contains(*p.Blob, `"note":"kept"`) {
		t.Errorf("blob merge lost data: %s", *p.Blob)
	}
}
