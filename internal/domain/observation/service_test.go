package observation

import (
	"context"
	"fmt"
	"testing"

	"github.com/best/best/internal/domain/codelookup"
	"github.com/best/best/internal/domain/concept"
	"github.com/best/best/internal/platform/db"
	"github.com/best/best/pkg/pagination"
)

type mockRepo struct {
	byID   map[int64]*Observation
	nextID int64
}

func newMockRepo() *mockRepo {
	return &mockRepo{byID: map[int64]*Observation{}, nextID: 1}
}

func (m *mockRepo) Create(_ context.Context, o *Observation) error {
	o.ObservationID = m.nextID
	m.nextID++
	cp := *o
	m.byID[o.ObservationID] = &cp
	return nil
}

func (m *mockRepo) Update(_ context.Context, o *Observation) error {
	if _, ok := m.byID[o.ObservationID]; !ok {
		return fmt.Errorf("observation %d: %w", o.ObservationID, db.ErrNotFound)
	}
	cp := *o
	m.byID[o.ObservationID] = &cp
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id int64) error {
	if _, ok := m.byID[id]; !ok {
		return fmt.Errorf("observation %d: %w", id, db.ErrNotFound)
	}
	delete(m.byID, id)
	return nil
}

func (m *mockRepo) FindByID(_ context.Context, id int64) (*Observation, error) {
	o, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("observation %d: %w", id, db.ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (m *mockRepo) filter(keep func(*Observation) bool) []*Observation {
	var out []*Observation
	for id := int64(1); id < m.nextID; id++ {
		if o, ok := m.byID[id]; ok && keep(o) {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out
}

func (m *mockRepo) FindByPatientNum(_ context.Context, num int64) ([]*Observation, error) {
	return m.filter(func(o *Observation) bool { return o.PatientNum == num }), nil
}

func (m *mockRepo) FindByVisitNum(_ context.Context, num int64) ([]*Observation, error) {
	return m.filter(func(o *Observation) bool { return o.EncounterNum == num }), nil
}

func (m *mockRepo) FindByConceptCode(_ context.Context, code string) ([]*Observation, error) {
	return m.filter(func(o *Observation) bool { return o.ConceptCode == code }), nil
}

func (m *mockRepo) FindByDateRange(_ context.Context, from, to string) ([]*Observation, error) {
	return m.filter(func(o *Observation) bool {
		if o.StartDate == nil {
			return false
		}
		return (from == "" || *o.StartDate >= from) && (to == "" || *o.StartDate <= to)
	}), nil
}

func (m *mockRepo) FindBySourceSystem(_ context.Context, source string) ([]*Observation, error) {
	return m.filter(func(o *Observation) bool { return o.SourceSystem == source }), nil
}

func (m *mockRepo) FindWithBlobData(_ context.Context) ([]*Observation, error) {
	return m.filter(func(o *Observation) bool { return o.Blob != nil && *o.Blob != "" }), nil
}

func (m *mockRepo) FindByCriteria(_ context.Context, c Criteria, _ pagination.Params) ([]*Observation, int, error) {
	list := m.filter(func(o *Observation) bool {
		return (c.PatientNum == 0 || o.PatientNum == c.PatientNum) &&
			(c.ValueType == "" || o.ValueType == c.ValueType)
	})
	return list, len(list), nil
}

func (m *mockRepo) FindResolvedByPatient(_ context.Context, num int64) ([]*Resolved, error) {
	var out []*Resolved
	for _, o := range m.filter(func(o *Observation) bool { return o.PatientNum == num }) {
		out = append(out, &Resolved{
			ObservationID: o.ObservationID,
			PatientNum:    o.PatientNum,
			EncounterNum:  o.EncounterNum,
			ConceptCode:   o.ConceptCode,
			ValueType:     o.ValueType,
			TextValue:     o.TextValue,
			NumericValue:  o.NumericValue,
		})
	}
	return out, nil
}

func (m *mockRepo) FindResolvedByVisit(_ context.Context, num int64) ([]*Resolved, error) {
	return nil, nil
}

func (m *mockRepo) Statistics(_ context.Context) (*Statistics, error) {
	stats := &Statistics{ByValueType: map[string]int64{}, BySourceSystem: map[string]int64{}}
	concepts := map[string]bool{}
	for _, o := range m.byID {
		stats.Total++
		stats.ByValueType[o.ValueType]++
		stats.BySourceSystem[o.SourceSystem]++
		concepts[o.ConceptCode] = true
	}
	stats.DistinctConcepts = int64(len(concepts))
	return stats, nil
}

func (m *mockRepo) Count(_ context.Context) (int64, error) {
	return int64(len(m.byID)), nil
}

// stubConcepts serves FindByCodes from a map; the resolver touches nothing
// else during these tests.
type stubConcepts struct {
	concept.Repository
	byCode map[string]*concept.Concept
}

func (s *stubConcepts) FindByCodes(_ context.Context, codes []string) (map[string]*concept.Concept, error) {
	out := map[string]*concept.Concept{}
	for _, code := range codes {
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
	}}
	return concept.NewResolver(concepts, &stubLookups{}, true)
}

func TestCreateObservationRejectsBadRouting(t *testing.T) {
	svc := NewService(newMockRepo(), nil)
	num := 140.0
	text := "140"
	o := &Observation{
		PatientNum:   1,
		EncounterNum: 1,
		ConceptCode:  "LOINC: 2947-0",
		ValueType:    "N",
		NumericValue: &num,
		TextValue:    &text,
	}
	if err := svc.CreateObservation(context.Background(), o); err == nil {
		t.Fatal("observation with both value columns populated should fail")
	}
}

func TestRecordValueOverridesValueType(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, testResolver())

	o := &Observation{
		PatientNum:   1,
		EncounterNum: 1,
		ConceptCode:  "LOINC: 2947-0",
		ValueType:    "T",
	}
	if err := svc.RecordValue(context.Background(), o, "140"); err != nil {
		t.Fatalf("RecordValue: %v", err)
	}

	stored, err := repo.FindByID(context.Background(), o.ObservationID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.ValueType != "N" {
		t.Errorf("value type = %q, want N from the concept dimension", stored.ValueType)
	}
	if stored.NumericValue == nil || *stored.NumericValue != 140 {
		t.Errorf("numeric value = %v, want 140", stored.NumericValue)
	}
	if stored.TextValue != nil {
		t.Errorf("text value should be empty, got %q", *stored.TextValue)
	}
	if stored.Unit == nil || *stored.Unit != "mmol/l" {
		t.Errorf("unit = %v, want mmol/l from the concept dimension", stored.Unit)
	}
}

func TestRecordValueNormalizedSpelling(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, testResolver())

	// LID is an alias prefix for LOINC; the resolver maps the spelling onto
	// the stored concept.
	o := &Observation{
		PatientNum:   1,
		EncounterNum: 1,
		ConceptCode:  "LID: 2947-0",
		ValueType:    "T",
	}
	if err := svc.RecordValue(context.Background(), o, "138"); err != nil {
		t.Fatalf("RecordValue: %v", err)
	}
	if o.ValueType != "N" {
		t.Errorf("value type = %q, want N via prefix normalization", o.ValueType)
	}
}

func TestRecordValueUnknownConceptKeepsType(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, testResolver())

	o := &Observation{
		PatientNum:   1,
		EncounterNum: 1,
		ConceptCode:  "CUSTOM: unknown-1",
		ValueType:    "T",
	}
	if err := svc.RecordValue(context.Background(), o, "free text finding"); err != nil {
		t.Fatalf("RecordValue: %v", err)
	}
	if o.ValueType != "T" {
		t.Errorf("value type = %q, want incoming T kept for unknown concept", o.ValueType)
	}
	if o.TextValue == nil || *o.TextValue != "free text finding" {
		t.Errorf("text value = %v", o.TextValue)
	}
}

func TestUpdateObservationNotFound(t *testing.T) {
	svc := NewService(newMockRepo(), nil)
	num := 1.0
	o := &Observation{
		ObservationID: 99,
		PatientNum:    1,
		EncounterNum:  1,
		ConceptCode:   "C",
		ValueType:     "N",
		NumericValue:  &num,
	}
	err := svc.UpdateObservation(context.Background(), o)
	if err == nil {
		t.Fatal("updating a missing observation should fail")
	}
}

func TestDeleteObservation(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, nil)
	num := 5.0
	o := &Observation{PatientNum: 1, EncounterNum: 1, ConceptCode: "C", ValueType: "N", NumericValue: &num}
	if err := svc.CreateObservation(context.Background(), o); err != nil {
		t.Fatalf("CreateObservation: %v", err)
	}
	if err := svc.DeleteObservation(context.Background(), o.ObservationID); err != nil {
		t.Fatalf("DeleteObservation: %v", err)
	}
	if _, err := svc.GetObservation(context.Background(), o.ObservationID); err == nil {
		t.Fatal("deleted observation still readable")
	}
}

func TestPatientObservationsFilter(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, nil)
	for i, patient := range []int64{1, 1, 2} {
		num := float64(i)
		o := &Observation{PatientNum: patient, EncounterNum: 1, ConceptCode: "C", ValueType: "N", NumericValue: &num}
		if err := svc.CreateObservation(context.Background(), o); err != nil {
			t.Fatalf("CreateObservation: %v", err)
		}
	}
	list, err := svc.PatientObservations(context.Background(), 1)
	if err != nil {
		t.Fatalf("PatientObservations: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("got %d observations for patient 1, want 2", len(list))
	}
}
