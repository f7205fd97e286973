package search

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/best/best/internal/domain/concept"
	"github.com/best/best/internal/domain/observation"
	"github.com/best/best/internal/domain/patient"
	"github.com/best/best/internal/domain/visit"
	"github.com/best/best/internal/platform/db"
	"github.com/best/best/internal/platform/logging"
	"github.com/best/best/pkg/codes"
	"github.com/best/best/pkg/pagination"
)

func strPtr(s string) *string    { return &s }
func floatPtr(f float64) *float64 { return &f }
func int64Ptr(n int64) *int64    { return &n }

// newFixture migrates a fresh store and loads three patients, two visits,
// four observations, and the concepts they reference.
func newFixture(t *testing.T) *Service {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "engine.db")
	store, err := db.Open(ctx, path, db.Options{})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if _, err := db.NewMigrator(store).Up(ctx); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	concepts := concept.NewRepository(store)
	for _, c := range []*concept.Concept{
		{ConceptCode: "LOINC: 2947-0", ConceptPath: `\LAB\CHEM\SODIUM`,
			Name: "Sodium [Moles/volume] in Blood", ValueType: "N", Unit: strPtr("mmol/l")},
		{ConceptCode: "BEST: SZ-TYPE", ConceptPath: `\NEURO\SEIZURE\TYPE`,
			Name: "Seizure type", ValueType: "S"},
		{ConceptCode: "SCTID: 128613002", ConceptPath: `\NEURO\SEIZURE\TYPE\DISORDER`,
			Name: "Seizure disorder", ValueType: "S"},
	} {
		if err := concepts.Create(ctx, c); err != nil {
			t.Fatalf("create concept %s: %v", c.ConceptCode, err)
		}
	}

	patients := patient.NewRepository(store)
	p100 := &patient.Patient{PatientCode: "NEURO-P100", SexCode: strPtr("SCTID: 248153007"),
		AgeInYears: int64Ptr(42), BirthDate: strPtr("1984-02-10"),
		VitalStatus: strPtr(codes.VitalStatusAlive), Blob: strPtr(`{"cohort":"epilepsy"}`)}
	p200 := &patient.Patient{PatientCode: "NEURO-P200", SexCode: strPtr("SCTID: 248152000"),
		AgeInYears: int64Ptr(9), BirthDate: strPtr("2016-06-01"),
		VitalStatus: strPtr(codes.VitalStatusAlive), SourceSystem: codes.SourceDemo}
	p300 := &patient.Patient{PatientCode: "OTHER-P300", SexCode: strPtr("SCTID: 248153007"),
		AgeInYears: int64Ptr(77), BirthDate: strPtr("1949-03-20"),
		VitalStatus: strPtr(codes.VitalStatusDeceased)}
	for _, p := range []*patient.Patient{p100, p200, p300} {
		if err := patients.Create(ctx, p); err != nil {
			t.Fatalf("create patient %s: %v", p.PatientCode, err)
		}
	}

	visits := visit.NewRepository(store)
	v1 := &visit.Visit{PatientNum: p100.PatientNum, StartDate: "2024-03-10"}
	v2 := &visit.Visit{PatientNum: p200.PatientNum, StartDate: "2024-06-01"}
	for _, v := range []*visit.Visit{v1, v2} {
		if err := visits.Create(ctx, v); err != nil {
			t.Fatalf("create visit: %v", err)
		}
	}

	observations := observation.NewRepository(store)
	for _, o := range []*observation.Observation{
		{PatientNum: p100.PatientNum, EncounterNum: v1.EncounterNum,
			ConceptCode: "LOINC: 2947-0", ValueType: "N", NumericValue: floatPtr(140),
			Unit: strPtr("mmol/l"), StartDate: strPtr("2024-03-10"),
			Category: strPtr(codes.CategoryLaboratory)},
		{PatientNum: p100.PatientNum, EncounterNum: v1.EncounterNum,
			ConceptCode: "BEST: SZ-TYPE", ValueType: "S",
			TextValue: strPtr("SCTID: 128613002"), StartDate: strPtr("2024-03-11")},
		{PatientNum: p200.PatientNum, EncounterNum: v2.EncounterNum,
			ConceptCode: "LOINC: 2947-0", ValueType: "N", NumericValue: floatPtr(128),
			Unit: strPtr("mmol/l"), StartDate: strPtr("2024-06-02"),
			Category: strPtr(codes.CategoryLaboratory)},
		{PatientNum: p200.PatientNum, EncounterNum: v2.EncounterNum,
			ConceptCode: "BEST: VISIT-SUMMARY", ValueType: "T",
			TextValue: strPtr("tolerating medication well"), StartDate: strPtr("2024-06-02")},
	} {
		if err := observations.Create(ctx, o); err != nil {
			t.Fatalf("create observation %s: %v", o.ConceptCode, err)
		}
	}

	return NewService(store, logging.Discard())
}

func patientCodes(page *PatientPage) []string {
	out := make([]string, len(page.Rows))
	for i, p := range page.Rows {
		out[i] = p.PatientCode
	}
	return out
}

func TestPatientsFilters(t *testing.T) {
	svc := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		filter PatientFilter
		want   []string
	}{
		{"all", PatientFilter{}, []string{"NEURO-P100", "NEURO-P200", "OTHER-P300"}},
		{"term", PatientFilter{Term: "NEURO-"}, []string{"NEURO-P100", "NEURO-P200"}},
		{"term in blob", PatientFilter{Term: "epilepsy"}, []string{"NEURO-P100"}},
		{"sex set", PatientFilter{SexCodes: []string{"SCTID: 248152000"}}, []string{"NEURO-P200"}},
		{"vital", PatientFilter{VitalStatuses: []string{codes.VitalStatusDeceased}}, []string{"OTHER-P300"}},
		{"age range", PatientFilter{AgeMin: int64Ptr(10), AgeMax: int64Ptr(80)},
			[]string{"NEURO-P100", "OTHER-P300"}},
		{"birth range", PatientFilter{BornFrom: "1980-01-01", BornTo: "1990-12-31"},
			[]string{"NEURO-P100"}},
		{"source", PatientFilter{SourceSystems: []string{codes.SourceDemo}}, []string{"NEURO-P200"}},
		{"combined", PatientFilter{Term: "NEURO-", SexCodes: []string{"SCTID: 248153007"}},
			[]string{"NEURO-P100"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			page, err := svc.Patients(ctx, tc.filter, pagination.Params{})
			if err != nil {
				t.Fatalf("Patients() error: %v", err)
			}
			if got := patientCodes(page); strings.Join(got, ",") != strings.Join(tc.want, ",") {
				t.Errorf("rows = %v, want %v", got, tc.want)
			}
			if page.Total != len(tc.want) {
				t.Errorf("total = %d, want %d", page.Total, len(tc.want))
			}
		})
	}
}

func TestPatientsSortAndPaging(t *testing.T) {
	svc := newFixture(t)
	ctx := context.Background()

	first, err := svc.Patients(ctx, PatientFilter{Sort: "-age"}, pagination.Params{Page: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("Patients() error: %v", err)
	}
	if got := patientCodes(first); strings.Join(got, ",") != "OTHER-P300,NEURO-P100" {
		t.Errorf("page 1 = %v, want oldest first", got)
	}
	if first.Total != 3 || first.Page != 1 || first.PageSize != 2 {
		t.Errorf("page meta = %d/%d/%d, want 3/1/2", first.Total, first.Page, first.PageSize)
	}

	second, err := svc.Patients(ctx, PatientFilter{Sort: "-age"}, pagination.Params{Page: 2, PageSize: 2})
	if err != nil {
		t.Fatalf("Patients() page 2 error: %v", err)
	}
	if got := patientCodes(second); strings.Join(got, ",") != "NEURO-P200" {
		t.Errorf("page 2 = %v, want [NEURO-P200]", got)
	}
	if second.Total != 3 {
		t.Errorf("page 2 total = %d, want 3", second.Total)
	}
}

func TestPatientsRejectsMalformedDate(t *testing.T) {
	svc := newFixture(t)
	if _, err := svc.Patients(context.Background(), PatientFilter{BornFrom: "03/10/1984"}, pagination.Params{}); err == nil {
		t.Fatal("expected an error for a non-ISO date filter")
	}
}

func TestObservationsFilters(t *testing.T) {
	svc := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		filter ObservationFilter
		want   int
	}{
		{"all", ObservationFilter{}, 4},
		{"concept alias", ObservationFilter{ConceptCodes: []string{"LID:2947-0"}}, 2},
		{"value range", ObservationFilter{ValueMin: floatPtr(130)}, 1},
		{"date range", ObservationFilter{StartFrom: "2024-06-01"}, 2},
		{"term on concept name", ObservationFilter{Term: "sodium"}, 2},
		{"term on resolved value", ObservationFilter{Term: "seizure disorder"}, 1},
		{"patient code", ObservationFilter{PatientCodes: []string{"NEURO-P100"}}, 2},
		{"value types", ObservationFilter{ValueTypes: []string{"S", "T"}}, 2},
		{"category", ObservationFilter{Categories: []string{codes.CategoryLaboratory}}, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			page, err := svc.Observations(ctx, tc.filter, pagination.Params{})
			if err != nil {
				t.Fatalf("Observations() error: %v", err)
			}
			if page.Total != tc.want {
				t.Errorf("total = %d, want %d", page.Total, tc.want)
			}
			if len(page.Rows) != tc.want {
				t.Errorf("rows = %d, want %d", len(page.Rows), tc.want)
			}
		})
	}
}

func TestObservationsResolveAndOrder(t *testing.T) {
	svc := newFixture(t)

	page, err := svc.Observations(context.Background(), ObservationFilter{}, pagination.Params{})
	if err != nil {
		t.Fatalf("Observations() error: %v", err)
	}
	if len(page.Rows) != 4 {
		t.Fatalf("rows = %d, want 4", len(page.Rows))
	}
	// Default order is most recent start date first.
	if got := *page.Rows[0].StartDate; got != "2024-06-02" {
		t.Errorf("first row date = %s, want 2024-06-02", got)
	}
	if got := *page.Rows[len(page.Rows)-1].StartDate; got != "2024-03-10" {
		t.Errorf("last row date = %s, want 2024-03-10", got)
	}

	var sodium, seizure *observation.Resolved
	for _, r := range page.Rows {
		switch {
		case r.ConceptCode == "LOINC: 2947-0" && r.NumericValue != nil && *r.NumericValue == 140:
			sodium = r
		case r.ConceptCode == "BEST: SZ-TYPE":
			seizure = r
		}
	}
	if sodium == nil || seizure == nil {
		t.Fatal("fixture rows missing from result")
	}
	if sodium.ConceptName == nil || *sodium.ConceptName != "Sodium [Moles/volume] in Blood" {
		t.Errorf("sodium concept name = %v, want the dimension label", sodium.ConceptName)
	}
	if seizure.ResolvedText == nil || *seizure.ResolvedText != "Seizure disorder" {
		t.Errorf("seizure resolved value = %v, want the answer concept name", seizure.ResolvedText)
	}
}

func TestObservationsValueSort(t *testing.T) {
	svc := newFixture(t)

	page, err := svc.Observations(context.Background(),
		ObservationFilter{ConceptCodes: []string{"LOINC: 2947-0"}, Sort: "value"},
		pagination.Params{})
	if err != nil {
		t.Fatalf("Observations() error: %v", err)
	}
	if len(page.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(page.Rows))
	}
	if *page.Rows[0].NumericValue != 128 || *page.Rows[1].NumericValue != 140 {
		t.Errorf("values = %v, %v, want ascending 128, 140",
			*page.Rows[0].NumericValue, *page.Rows[1].NumericValue)
	}
}

func TestObservationsRejectsMalformedDate(t *testing.T) {
	svc := newFixture(t)
	if _, err := svc.Observations(context.Background(), ObservationFilter{StartTo: "June 2024"}, pagination.Params{}); err == nil {
		t.Fatal("expected an error for a non-ISO date filter")
	}
}
