package integration

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/best/best/internal/domain/codelookup"
	"github.com/best/best/internal/domain/concept"
	"github.com/best/best/internal/domain/cqlrule"
	"github.com/best/best/internal/domain/observation"
	"github.com/best/best/internal/domain/patient"
	"github.com/best/best/internal/domain/provider"
	"github.com/best/best/internal/domain/user"
	"github.com/best/best/internal/domain/visit"
	"github.com/best/best/internal/exporter"
	"github.com/best/best/internal/platform/bundle"
	"github.com/best/best/internal/platform/db"
	"github.com/best/best/internal/platform/logging"
	"github.com/best/best/internal/platform/seed"
	"github.com/best/best/pkg/codes"
)

// engine bundles one migrated store with its repositories and services.
// Every test gets a fresh database file under t.TempDir, so tests never
// see each other's rows and parallel runs cannot collide.
type engine struct {
	store        *db.Store
	patients     patient.Repository
	visits       visit.Repository
	observations observation.Repository
	concepts     concept.Repository
	lookups      codelookup.Repository
	rules        cqlrule.Repository
	users        user.Repository
	providers    provider.Repository
	resolver     *concept.Resolver
	importer     *bundle.ImportService
	exporter     *exporter.Service
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	ctx := context.Background()

	store, err := db.Open(ctx, filepath.Join(t.TempDir(), "engine.db"), db.Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	if _, err := db.NewMigrator(store).Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	e := &engine{
		store:        store,
		patients:     patient.NewRepository(store),
		visits:       visit.NewRepository(store),
		observations: observation.NewRepository(store),
		concepts:     concept.NewRepository(store),
		lookups:      codelookup.NewRepository(store),
		rules:        cqlrule.NewRepository(store),
		users:        user.NewRepository(store),
		providers:    provider.NewRepository(store),
	}
	e.resolver = concept.NewResolver(e.concepts, e.lookups, true)
	e.importer = bundle.NewImportService(store, e.patients, e.visits, e.observations, e.resolver, logging.Discard())
	e.exporter = exporter.NewService(e.patients, e.visits, e.observations, e.resolver, logging.Discard())
	return e
}

// newSeededEngine also loads the bundled reference data.
func newSeededEngine(t *testing.T) *engine {
	t.Helper()
	e := newEngine(t)
	if _, err := seed.NewLoader(e.store, logging.Discard()).Run(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return e
}

func createTestPatient(t *testing.T, e *engine, code string) *patient.Patient {
	t.Helper()
	p := &patient.Patient{
		PatientCode:  code,
		SexCode:      ptrStr("SCTID: 248153007"),
		BirthDate:    ptrStr("1985-06-15"),
		AgeInYears:   ptrInt64(40),
		VitalStatus:  ptrStr(codes.VitalStatusAlive),
		SourceSystem: codes.SourceUser,
	}
	if err := e.patients.Create(context.Background(), p); err != nil {
		t.Fatalf("create patient %s: %v", code, err)
	}
	return p
}

func createTestVisit(t *testing.T, e *engine, patientNum int64, startDate string) *visit.Visit {
	t.Helper()
	v := &visit.Visit{
		PatientNum:   patientNum,
		StartDate:    startDate,
		ActiveStatus: ptrStr(codes.VisitStatusFinished),
		InOutCode:    ptrStr(codes.VisitOutpatient),
		SourceSystem: codes.SourceUser,
	}
	if err := e.visits.Create(context.Background(), v); err != nil {
		t.Fatalf("create visit: %v", err)
	}
	return v
}

func createTestConcept(t *testing.T, e *engine, code, name, valueType string, unit *string) *concept.Concept {
	t.Helper()
	c := &concept.Concept{
		ConceptCode:  code,
		ConceptPath:  conceptPath(code),
		Name:         name,
		ValueType:    valueType,
		Unit:         unit,
		SourceSystem: codes.SourceUser,
	}
	if err := e.concepts.Create(context.Background(), c); err != nil {
		t.Fatalf("create concept %s: %v", code, err)
	}
	return c
}

// conceptPath derives a one-level path from a code, good enough for tests.
func conceptPath(code string) string {
	path := `\TEST\`
	for _, r := range code {
		switch r {
		case ' ', ':', '\\':
			path += "-"
		default:
			path += string(r)
		}
	}
	return path
}

func createTestObservation(t *testing.T, e *engine, o *observation.Observation) *observation.Observation {
	t.Helper()
	if o.InstanceNum == 0 {
		o.InstanceNum = 1
	}
	if o.SourceSystem == "" {
		o.SourceSystem = codes.SourceUser
	}
	if err := e.observations.Create(context.Background(), o); err != nil {
		t.Fatalf("create observation %s: %v", o.ConceptCode, err)
	}
	return o
}

func ptrStr(s string) *string { return &s }

func ptrFloat(f float64) *float64 { return &f }

func ptrInt64(n int64) *int64 { return &n }

func strOrEmpty(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func floatOrZero(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func formatFloat(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', -1, 64)
}
