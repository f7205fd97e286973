package integration

import (
	"context"
	"testing"

	"github.com/best/best/internal/demo"
	"github.com/best/best/internal/platform/logging"
	"github.com/best/best/pkg/codes"
)

// TestDemoCohort generates the synthetic onboarding cohort and checks its
// volume, that every generated code resolves against the seeded vocabulary,
// and that removal cascades cleanly.
func TestDemoCohort(t *testing.T) {
	ctx := context.Background()
	e := newSeededEngine(t)
	gen := demo.NewGenerator(e.patients, e.visits, e.observations, logging.Discard())

	res, err := gen.Generate(ctx, demo.Config{PatientCount: 3, Seed: 11})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	t.Run("Volume", func(t *testing.T) {
		if res.Patients != 3 {
			t.Fatalf("expected 3 patients, got %d", res.Patients)
		}
		if res.Visits < 6 || res.Visits > 9 {
			t.Fatalf("expected 6 to 9 visits for 3 patients, got %d", res.Visits)
		}
		if res.Observations != res.Visits*10 {
			t.Fatalf("expected %d observations for %d visits, got %d", res.Visits*10, res.Visits, res.Observations)
		}
		want := []string{"DEMO_PATIENT_01", "DEMO_PATIENT_02", "DEMO_PATIENT_03"}
		if len(res.PatientCodes) != len(want) {
			t.Fatalf("expected %d patient codes, got %d", len(want), len(res.PatientCodes))
		}
		for i, code := range want {
			if res.PatientCodes[i] != code {
				t.Fatalf("expected patient code %s at %d, got %s", code, i, res.PatientCodes[i])
			}
		}

		patients, err := e.patients.Count(ctx)
		if err != nil {
			t.Fatalf("count patients: %v", err)
		}
		if patients != 3 {
			t.Fatalf("expected 3 stored patients, got %d", patients)
		}
		observations, err := e.observations.Count(ctx)
		if err != nil {
			t.Fatalf("count observations: %v", err)
		}
		if observations != int64(res.Observations) {
			t.Fatalf("expected %d stored observations, got %d", res.Observations, observations)
		}
	})

	t.Run("GeneratedCodesResolve", func(t *testing.T) {
		p, err := e.patients.FindByPatientCode(ctx, "DEMO_PATIENT_01")
		if err != nil {
			t.Fatalf("find DEMO_PATIENT_01: %v", err)
		}
		if p.SourceSystem != codes.SourceDemo {
			t.Fatalf("expected source system %s, got %s", codes.SourceDemo, p.SourceSystem)
		}

		rows, err := e.observations.FindResolvedByPatient(ctx, p.PatientNum)
		if err != nil {
			t.Fatalf("resolved observations: %v", err)
		}
		if len(rows) == 0 {
			t.Fatal("expected resolved observations for DEMO_PATIENT_01, got none")
		}
		for _, row := range rows {
			if strOrEmpty(row.ConceptName) == "" {
				t.Fatalf("concept %s did not resolve to a name", row.ConceptCode)
			}
			if row.ValueType == codes.ValueTypeSelection && strOrEmpty(row.ResolvedText) == "" {
				t.Fatalf("selection answer %q for %s did not resolve to a label",
					strOrEmpty(row.TextValue), row.ConceptCode)
			}
		}
	})

	t.Run("DeleteCascades", func(t *testing.T) {
		p, err := e.patients.FindByPatientCode(ctx, "DEMO_PATIENT_01")
		if err != nil {
			t.Fatalf("find DEMO_PATIENT_01: %v", err)
		}
		if err := e.patients.Delete(ctx, p.PatientNum); err != nil {
			t.Fatalf("delete patient: %v", err)
		}

		visits, err := e.visits.CountByPatient(ctx, p.PatientNum)
		if err != nil {
			t.Fatalf("count visits: %v", err)
		}
		if visits != 0 {
			t.Fatalf("expected 0 visits after patient delete, got %d", visits)
		}
		obs, err := e.observations.FindByPatientNum(ctx, p.PatientNum)
		if err != nil {
			t.Fatalf("find observations: %v", err)
		}
		if len(obs) != 0 {
			t.Fatalf("expected 0 observations after patient delete, got %d", len(obs))
		}
	})

	t.Run("CleanupRemovesRest", func(t *testing.T) {
		removed, err := gen.Cleanup(ctx)
		if err != nil {
			t.Fatalf("cleanup: %v", err)
		}
		if removed != 2 {
			t.Fatalf("expected cleanup to remove the 2 remaining patients, got %d", removed)
		}
		left, err := e.patients.Count(ctx)
		if err != nil {
			t.Fatalf("count patients: %v", err)
		}
		if left != 0 {
			t.Fatalf("expected empty patient table after cleanup, got %d", left)
		}
	})
}

// TestDemoDeterministicSeed checks that a fixed seed reproduces the same
// cohort shape on a fresh database.
func TestDemoDeterministicSeed(t *testing.T) {
	ctx := context.Background()

	run := func(t *testing.T) *demo.Result {
		e := newSeededEngine(t)
		gen := demo.NewGenerator(e.patients, e.visits, e.observations, logging.Discard())
		res, err := gen.Generate(ctx, demo.Config{PatientCount: 3, Seed: 42})
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		return res
	}

	first := run(t)
	second := run(t)
	if first.Visits != second.Visits || first.Observations != second.Observations {
		t.Fatalf("expected seed 42 to reproduce %d visits and %d observations, got %d and %d",
			first.Visits, first.Observations, second.Visits, second.Observations)
	}
}
