package cqlrule

import (
	"context"
	"fmt"
	"testing"

	"github.com/best/best/internal/platform/db"
)

type mockRepo struct {
	byID   map[int64]*Rule
	links  map[string][]int64
	nextID int64
}

func newMockRepo() *mockRepo {
	return &mockRepo{byID: map[int64]*Rule{}, links: map[string][]int64{}, nextID: 1}
}

func (m *mockRepo) Create(_ context.Context, r *Rule) error {
	for _, existing := range m.byID {
		if existing.Code == r.Code {
			return fmt.Errorf("rule %s: %w", r.Code, db.ErrDuplicate)
		}
	}
	r.CqlID = m.nextID
	m.nextID++
	cp := *r
	m.byID[r.CqlID] = &cp
	return nil
}

func (m *mockRepo) Update(_ context.Context, r *Rule) error {
	if _, ok := m.byID[r.CqlID]; !ok {
		return fmt.Errorf("rule %d: %w", r.CqlID, db.ErrNotFound)
	}
	cp := *r
	m.byID[r.CqlID] = &cp
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id int64) error {
	if _, ok := m.byID[id]; !ok {
		return fmt.Errorf("rule %d: %w", id, db.ErrNotFound)
	}
	delete(m.byID, id)
	for code, ids := range m.links {
		var kept []int64
		for _, linked := range ids {
			if linked != id {
				kept = append(kept, linked)
			}
		}
		m.links[code] = kept
	}
	return nil
}

func (m *mockRepo) FindByID(_ context.Context, id int64) (*Rule, error) {
	r, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("rule %d: %w", id, db.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (m *mockRepo) FindByCode(_ context.Context, code string) (*Rule, error) {
	for _, r := range m.byID {
		if r.Code == code {
			cp := *r
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("rule %s: %w", code, db.ErrNotFound)
}

func (m *mockRepo) FindAll(_ context.Context) ([]*Rule, error) {
	var out []*Rule
	for id := int64(1); id < m.nextID; id++ {
		if r, ok := m.byID[id]; ok {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockRepo) FindByConceptCode(_ context.Context, code string) ([]*Rule, error) {
	var out []*Rule
	for _, id := range m.links[code] {
		if r, ok := m.byID[id]; ok {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockRepo) Link(_ context.Context, code string, id int64) error {
	for _, linked := range m.links[code] {
		if linked == id {
			return nil
		}
	}
	m.links[code] = append(m.links[code], id)
	return nil
}

func (m *mockRepo) Unlink(_ context.Context, code string, id int64) error {
	ids := m.links[code]
	for i, linked := range ids {
		if linked == id {
			m.links[code] = append(ids[:i], ids[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("link %s/%d: %w", code, id, db.ErrNotFound)
}

func (m *mockRepo) LinkedConcepts(_ context.Context, id int64) ([]string, error) {
	var out []string
	for code, ids := range m.links {
		for _, linked := range ids {
			if linked == id {
				out = append(out, code)
			}
		}
	}
	return out, nil
}

func (m *mockRepo) Count(_ context.Context) (int64, error) {
	return int64(len(m.byID)), nil
}

func rangeRule(code string, min, max float64) *Rule {
	name := code
	blob := fmt.Sprintf(`{"type":"range","min":%v,"max":%v}`, min, max)
	return &Rule{Code: code, Name: &name, Blob: &blob}
}

func TestBodyEncoding(t *testing.T) {
	body := "define SodiumHigh:\n  [Observation] O where O.value > 145"
	r := &Rule{Code: "CQL: sodium-high"}
	r.SetBody(body)

	if r.Body == nil || *r.Body != `define SodiumHigh:\n  [Observation] O where O.value > 145` {
		t.Errorf("stored body = %v, want encoded line break", r.Body)
	}
	if got := r.BodyText(); got != body {
		t.Errorf("BodyText = %q, want round-tripped body", got)
	}
}

func TestBodyEncodingWindowsLineBreaks(t *testing.T) {
	r := &Rule{Code: "C"}
	r.SetBody("a\r\nb")
	if *r.Body != `a\nb` {
		t.Errorf("stored body = %q, want CRLF folded", *r.Body)
	}
}

func TestCreateRuleValidatesDefinition(t *testing.T) {
	svc := NewService(newMockRepo(), nil)

	bad := `{"type":"range"}`
	err := svc.CreateRule(context.Background(), &Rule{Code: "X", Blob: &bad})
	if err == nil {
		t.Error("range rule without bounds should fail")
	}

	if err := svc.CreateRule(context.Background(), &Rule{}); err == nil {
		t.Error("rule without code should fail")
	}

	if err := svc.CreateRule(context.Background(), rangeRule("CQL: na", 100, 180)); err != nil {
		t.Errorf("valid rule rejected: %v", err)
	}
}

func TestEvaluateRange(t *testing.T) {
	svc := NewService(newMockRepo(), nil)
	rule := rangeRule("CQL: na", 100, 180)

	ok, _, err := svc.Evaluate(rule, 140.0)
	if err != nil || !ok {
		t.Errorf("140 in [100,180]: ok=%v err=%v", ok, err)
	}
	ok, detail, err := svc.Evaluate(rule, 500.0)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ok {
		t.Error("500 above max accepted")
	}
	if detail == "" {
		t.Error("failed evaluation should explain itself")
	}
	ok, _, _ = svc.Evaluate(rule, "150")
	if !ok {
		t.Error("numeric strings should evaluate")
	}
}

func TestEvaluateEnum(t *testing.T) {
	svc := NewService(newMockRepo(), nil)
	blob := `{"type":"enum","values":["SCTID: 407374003","SCTID: 407377005"]}`
	rule := &Rule{Code: "CQL: sex", Blob: &blob}

	if ok, _, _ := svc.Evaluate(rule, "SCTID: 407374003"); !ok {
		t.Error("allowed enum value rejected")
	}
	if ok, _, _ := svc.Evaluate(rule, "SCTID: 999"); ok {
		t.Error("value outside enum accepted")
	}
}

func TestEvaluatePattern(t *testing.T) {
	svc := NewService(newMockRepo(), nil)
	blob := `{"type":"pattern","pattern":"^\\d{4}-\\d{2}-\\d{2}$"}`
	rule := &Rule{Code: "CQL: iso-date", Blob: &blob}

	if ok, _, _ := svc.Evaluate(rule, "2024-03-15"); !ok {
		t.Error("matching value rejected")
	}
	if ok, _, _ := svc.Evaluate(rule, "15.03.2024"); ok {
		t.Error("non-matching value accepted")
	}
}

func TestEvaluateCustomKind(t *testing.T) {
	rule := &Rule{Code: "CQL: cohort"}
	blob := `{"type":"cql","expression":"exists [Condition: \"G20\"]"}`
	rule.Blob = &blob

	svc := NewService(newMockRepo(), nil)
	if _, _, err := svc.Evaluate(rule, 1); err == nil {
		t.Error("unknown kind without custom evaluator should fail")
	}

	called := false
	svc = NewService(newMockRepo(), &Evaluator{
		Custom: func(_ string, _ any) (bool, string, error) {
			called = true
			return true, "", nil
		},
	})
	ok, _, err := svc.Evaluate(rule, 1)
	if err != nil || !ok || !called {
		t.Errorf("custom evaluator not used: ok=%v called=%v err=%v", ok, called, err)
	}
}

func TestRulesForConceptBridge(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	rule := rangeRule("CQL: sodium-range", 100, 180)
	if err := svc.CreateRule(ctx, rule); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if err := svc.LinkConcept(ctx, "LOINC: 2947-0", rule.CqlID); err != nil {
		t.Fatalf("LinkConcept: %v", err)
	}

	linked, err := svc.RulesForConcept(ctx, "LOINC: 2947-0")
	if err != nil {
		t.Fatalf("RulesForConcept: %v", err)
	}
	if len(linked) != 1 {
		t.Fatalf("got %d rules, want 1", len(linked))
	}
	if linked[0].ID != rule.CqlID || linked[0].Name != "CQL: sodium-range" {
		t.Errorf("bridge rule = %+v", linked[0])
	}
	if ok, _, _ := linked[0].Evaluate(140.0); !ok {
		t.Error("bridged evaluator rejected a passing value")
	}
	if ok, _, _ := linked[0].Evaluate(500.0); ok {
		t.Error("bridged evaluator accepted a failing value")
	}

	// Alias spellings reach the same links.
	linked, err = svc.RulesForConcept(ctx, "LID:2947-0")
	if err != nil {
		t.Fatalf("RulesForConcept(alias): %v", err)
	}
	if len(linked) != 1 {
		t.Errorf("alias spelling found %d rules, want 1", len(linked))
	}

	// Unlinked concepts yield no rules and no error.
	linked, err = svc.RulesForConcept(ctx, "UNLINKED")
	if err != nil || len(linked) != 0 {
		t.Errorf("unlinked concept: rules=%d err=%v", len(linked), err)
	}
}

func TestUnlinkConcept(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	rule := rangeRule("CQL: r", 0, 1)
	if err := svc.CreateRule(ctx, rule); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if err := svc.LinkConcept(ctx, "C1", rule.CqlID); err != nil {
		t.Fatalf("LinkConcept: %v", err)
	}
	if err := svc.UnlinkConcept(ctx, "C1", rule.CqlID); err != nil {
		t.Fatalf("UnlinkConcept: %v", err)
	}
	rules, err := svc.RulesForConceptCode(ctx, "C1")
	if err != nil {
		t.Fatalf("RulesForConceptCode: %v", err)
	}
	if len(rules) != 0 {
		t.Errorf("unlinked rule still returned: %d", len(rules))
	}
}
