package note

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/best/best/internal/platform/db"
)

type mockRepo struct {
	byID   map[int64]*Note
	nextID int64
}

func newMockRepo() *mockRepo {
	return &mockRepo{byID: map[int64]*Note{}, nextID: 1}
}

func (m *mockRepo) Create(_ context.Context, n *Note) error {
	n.NoteID = m.nextID
	m.nextID++
	cp := *n
	m.byID[n.NoteID] = &cp
	return nil
}

func (m *mockRepo) Update(_ context.Context, n *Note) error {
	if _, ok := m.byID[n.NoteID]; !ok {
		return fmt.Errorf("note %d: %w", n.NoteID, db.ErrNotFound)
	}
	cp := *n
	m.byID[n.NoteID] = &cp
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id int64) error {
	if _, ok := m.byID[id]; !ok {
		return fmt.Errorf("note %d: %w", id, db.ErrNotFound)
	}
	delete(m.byID, id)
	return nil
}

func (m *mockRepo) FindByID(_ context.Context, id int64) (*Note, error) {
	n, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("note %d: %w", id, db.ErrNotFound)
	}
	cp := *n
	return &cp, nil
}

func (m *mockRepo) filter(keep func(*Note) bool) []*Note {
	var out []*Note
	for id := int64(1); id < m.nextID; id++ {
		if n, ok := m.byID[id]; ok && keep(n) {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out
}

func (m *mockRepo) FindByPatientNum(_ context.Context, num int64) ([]*Note, error) {
	return m.filter(func(n *Note) bool { return n.PatientNum == num }), nil
}

func (m *mockRepo) FindByVisitNum(_ context.Context, num int64) ([]*Note, error) {
	return m.filter(func(n *Note) bool { return n.EncounterNum != nil && *n.EncounterNum == num }), nil
}

func (m *mockRepo) FindByCategory(_ context.Context, cat string) ([]*Note, error) {
	return m.filter(func(n *Note) bool { return n.Category != nil && *n.Category == cat }), nil
}

func (m *mockRepo) Search(_ context.Context, term string) ([]*Note, error) {
	lower := strings.ToLower(term)
	return m.filter(func(n *Note) bool {
		return strings.Contains(strings.ToLower(optStr(n.Title)), lower) ||
			strings.Contains(strings.ToLower(optStr(n.Text)), lower)
	}), nil
}

func (m *mockRepo) Count(_ context.Context) (int64, error) {
	return int64(len(m.byID)), nil
}

func sampleNote(patient int64, title, body string) *Note {
	return &Note{PatientNum: patient, Title: &title, Text: &body}
}

func TestCreateNoteValidation(t *testing.T) {
	svc := NewService(newMockRepo())

	if err := svc.CreateNote(context.Background(), &Note{PatientNum: 0}); err == nil {
		t.Error("note without patient should fail")
	}
	if err := svc.CreateNote(context.Background(), &Note{PatientNum: 1}); err == nil {
		t.Error("note without body should fail")
	}
	bad := "{not json"
	if err := svc.CreateNote(context.Background(), &Note{PatientNum: 1, Blob: &bad}); err == nil {
		t.Error("note with invalid blob JSON should fail")
	}

	n := sampleNote(1, "Anamnesis", "Patient reports morning tremor.")
	if err := svc.CreateNote(context.Background(), n); err != nil {
		t.Fatalf("CreateNote: %v", err)
	}
	if n.NoteID == 0 {
		t.Error("CreateNote should assign the surrogate id")
	}
}

func TestSearchNotes(t *testing.T) {
	svc := NewService(newMockRepo())
	for _, n := range []*Note{
		sampleNote(1, "Anamnesis", "Patient reports morning tremor."),
		sampleNote(1, "Follow-up", "Tremor improved under medication."),
		sampleNote(2, "Intake", "No complaints."),
	} {
		if err := svc.CreateNote(context.Background(), n); err != nil {
			t.Fatalf("CreateNote: %v", err)
		}
	}

	hits, err := svc.SearchNotes(context.Background(), "tremor")
	if err != nil {
		t.Fatalf("SearchNotes: %v", err)
	}
	if len(hits) != 2 {
		t.Errorf("got %d hits for tremor, want 2", len(hits))
	}
}

func TestExportPatientNotesJSON(t *testing.T) {
	svc := NewService(newMockRepo())
	n := sampleNote(1, "Anamnesis", "Patient reports morning tremor.")
	if err := svc.CreateNote(context.Background(), n); err != nil {
		t.Fatalf("CreateNote: %v", err)
	}

	out, err := svc.ExportPatientNotes(context.Background(), 1, FormatJSON)
	if err != nil {
		t.Fatalf("ExportPatientNotes(json): %v", err)
	}
	var decoded []map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if len(decoded) != 1 || decoded[0]["NAME_CHAR"] != "Anamnesis" {
		t.Errorf("unexpected JSON export: %s", out)
	}
}

func TestExportPatientNotesCSV(t *testing.T) {
	svc := NewService(newMockRepo())
	body := "Line one, with comma.\nLine two."
	n := sampleNote(1, "Anamnesis", body)
	if err := svc.CreateNote(context.Background(), n); err != nil {
		t.Fatalf("CreateNote: %v", err)
	}

	out, err := svc.ExportPatientNotes(context.Background(), 1, FormatCSV)
	if err != nil {
		t.Fatalf("ExportPatientNotes(csv): %v", err)
	}
	records, err := csv.NewReader(strings.NewReader(string(out))).ReadAll()
	if err != nil {
		t.Fatalf("export is not valid CSV: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d CSV records, want header plus one row", len(records))
	}
	if records[1][5] != body {
		t.Errorf("CSV body = %q, want the quoted multi-line text", records[1][5])
	}
}

func TestExportPatientNotesText(t *testing.T) {
	svc := NewService(newMockRepo())
	if err := svc.CreateNote(context.Background(), sampleNote(1, "Anamnesis", "Tremor.")); err != nil {
		t.Fatalf("CreateNote: %v", err)
	}

	out, err := svc.ExportPatientNotes(context.Background(), 1, FormatText)
	if err != nil {
		t.Fatalf("ExportPatientNotes(text): %v", err)
	}
	rendered := string(out)
	if !strings.Contains(rendered, "=== Anamnesis") || !strings.Contains(rendered, "Tremor.") {
		t.Errorf("unexpected text export:\n%s", rendered)
	}
}

func TestExportUnknownFormat(t *testing.T) {
	svc := NewService(newMockRepo())
	if _, err := svc.ExportPatientNotes(context.Background(), 1, "xml"); err == nil {
		t.Error("unknown export format should fail")
	}
}
