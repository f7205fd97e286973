package visit

import (
	"context"
	"fmt"
	"testing"

	"github.com/best/best/internal/platform/db"
	"github.com/best/best/pkg/codes"
)

// -- Mock Repository --

type mockRepo struct {
	visits   map[int64]*Visit
	obsCount map[int64]int64
	nextNum  int64
}

func newMockRepo() *mockRepo {
	return &mockRepo{visits: make(map[int64]*Visit), obsCount: make(map[int64]int64)}
}

func (m *mockRepo) Create(_ context.Context, v *Visit) error {
	m.nextNum++
	v.EncounterNum = m.nextNum
	cp := *v
	m.visits[v.EncounterNum] = &cp
	return nil
}

func (m *mockRepo) Update(_ context.Context, v *Visit) error {
	if _, ok := m.visits[v.EncounterNum]; !ok {
		return fmt.Errorf("visit %d: %w", v.EncounterNum, db.ErrNotFound)
	}
	cp := *v
	m.visits[v.EncounterNum] = &cp
	return nil
}

func (m *mockRepo) Delete(_ context.Context, num int64) error {
	if _, ok := m.visits[num]; !ok {
		return fmt.Errorf("visit %d: %w", num, db.ErrNotFound)
	}
	delete(m.visits, num)
	return nil
}

func (m *mockRepo) FindByEncounterNum(_ context.Context, num int64) (*Visit, error) {
	v, ok := m.visits[num]
	if !ok {
		return nil, fmt.Errorf("visit %d: %w", num, db.ErrNotFound)
	}
	cp := *v
	return &cp, nil
}

func (m *mockRepo) FindByPatientNum(_ context.Context, patientNum int64) ([]*Visit, error) {
	var out []*Visit
	for _, v := range m.visits {
		if v.PatientNum == patientNum {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *mockRepo) Timeline(ctx context.Context, patientNum int64) ([]*TimelineEntry, error) {
	visits, _ := m.FindByPatientNum(ctx, patientNum)
	var out []*TimelineEntry
	for _, v := range visits {
		out = append(out, &TimelineEntry{Visit: *v, ObservationCount: m.obsCount[v.EncounterNum]})
	}
	return out, nil
}

func (m *mockRepo) FindByLocationCode(_ context.Context, loc string) ([]*Visit, error) {
	var out []*Visit
	for _, v := range m.visits {
		if v.LocationCode != nil && *v.LocationCode == loc {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *mockRepo) FindByDateRange(_ context.Context, from, to string) ([]*Visit, error) {
	var out []*Visit
	for _, v := range m.visits {
		if (from == "" || v.StartDate >= from) && (to == "" || v.StartDate <= to) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *mockRepo) FindBySourceSystem(_ context.Context, source string) ([]*Visit, error) {
	var out []*Visit
	for _, v := range m.visits {
		if v.SourceSystem == source {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *mockRepo) Count(_ context.Context) (int64, error) {
	return int64(len(m.visits)), nil
}

func (m *mockRepo) CountByPatient(_ context.Context, patientNum int64) (int64, error) {
	var n int64
	for _, v := range m.visits {
		if v.PatientNum == patientNum {
			n++
		}
	}
	return n, nil
}

func newTestService() (*Service, *mockRepo) {
	repo := newMockRepo()
	return NewService(repo), repo
}

func strPtr(s string) *string { return &s }

// -- Tests --

func TestCreateVisit(t *testing.T) {
	svc, _ := newTestService()

	v := &Visit{PatientNum: 1, StartDate: "2024-03-10"}
	if err := svc.CreateVisit(context.Background(), v); err != nil {
		t.Fatalf("CreateVisit() error: %v", err)
	}
	if v.EncounterNum == 0 {
		t.Error("expected surrogate number assigned")
	}
	if v.ActiveStatus == nil || *v.ActiveStatus != codes.VisitStatusActive {
		t.Errorf("expected default active status, got %v", v.ActiveStatus)
	}
}

func TestCreateVisitDefaultsFinishedWhenEnded(t *testing.T) {
	svc, _ := newTestService()

	v := &Visit{PatientNum: 1, StartDate: "2024-03-10", EndDate: strPtr("2024-03-12")}
	if err := svc.CreateVisit(context.Background(), v); err != nil {
		t.Fatalf("CreateVisit() error: %v", err)
	}
	if v.ActiveStatus == nil || *v.ActiveStatus != codes.VisitStatusFinished {
		t.Errorf("expected finished status, got %v", v.ActiveStatus)
	}
}

func TestCreateVisitValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	tests := []struct {
		name  string
		visit *Visit
	}{
		{"missing patient", &Visit{StartDate: "2024-03-10"}},
		{"missing start", &Visit{PatientNum: 1}},
		{"malformed start", &Visit{PatientNum: 1, StartDate: "10.03.2024"}},
		{"end before start", &Visit{PatientNum: 1, StartDate: "2024-03-10", EndDate: strPtr("2024-03-01")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := svc.CreateVisit(ctx, tt.visit); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestVisitEndEqualsStartAllowed(t *testing.T) {
	svc, _ := newTestService()
	v := &Visit{PatientNum: 1, StartDate: "2024-03-10", EndDate: strPtr("2024-03-10")}
	if err := svc.CreateVisit(context.Background(), v); err != nil {
		t.Fatalf("same-day visit rejected: %v", err)
	}
}

func TestPatientTimeline(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	for _, d := range []string{"2024-01-05", "2024-02-10"} {
		if err := svc.CreateVisit(ctx, &Visit{PatientNum: 7, StartDate: d}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	repo.obsCount[1] = 4
	repo.obsCount[2] = 9

	entries, err := svc.PatientTimeline(ctx, 7)
	if err != nil {
		t.Fatalf("PatientTimeline() error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	var total int64
	for _, e := range entries {
		total += e.ObservationCount
	}
	if total != 13 {
		t.Errorf("total observation count = %d, want 13", total)
	}
}

func TestParseBlobVisitType(t *testing.T) {
	raw := `{"visitType":"follow-up","notes":"gait improved","ward":"N3"}`
	b, err := ParseBlob(&raw)
	if err != nil {
		t.Fatalf("ParseBlob() error: %v", err)
	}
	if b.VisitType != "follow-up" || b.Notes != "gait improved" {
		t.Errorf("unexpected view %+v", b)
	}
	if b.Extra["ward"] != "N3" {
		t.Errorf("unknown key lost: %v", b.Extra)
	}

	encoded, err := b.Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	again, err := ParseBlob(&encoded)
	if err != nil {
		t.Fatalf("re-parse error: %v", err)
	}
	if again.VisitType != "follow-up" || again.Extra["ward"] != "N3" {
		t.Errorf("round trip lost data: %+v", again)
	}
}
