package seed

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/best/best/internal/domain/cqlrule"
	"github.com/best/best/internal/platform/db"
	"github.com/best/best/internal/platform/logging"
	"github.com/best/best/pkg/codes"
)

func newSeededStore(t *testing.T) (*db.Store, *Result) {
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
	res, err := NewLoader(store, logging.Discard()).Run(ctx)
	if err != nil {
		t.Fatalf("seed run: %v", err)
	}
	return store, res
}

func count(t *testing.T, store *db.Store, table string) int64 {
	t.Helper()
	var n int64
	if err := store.QueryRow(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestSeedLoadsReferenceData(t *testing.T) {
	store, res := newSeededStore(t)

	if got := count(t, store, "CONCEPT_DIMENSION"); got != 611 {
		t.Errorf("concepts = %d, want 611", got)
	}
	if got := count(t, store, "CQL_FACT"); got != 8 {
		t.Errorf("cql rules = %d, want 8", got)
	}
	if got := count(t, store, "USER_MANAGEMENT"); got != 4 {
		t.Errorf("users = %d, want 4", got)
	}
	if got := count(t, store, "CODE_LOOKUP"); got == 0 {
		t.Error("code lookups not loaded")
	}
	if got := count(t, store, "CONCEPT_CQL_LOOKUP"); got == 0 {
		t.Error("concept-rule links not loaded")
	}

	fr, ok := res.ByFile("concepts.csv")
	if !ok || fr.Inserted != 611 || fr.Skipped != 0 {
		t.Errorf("concepts.csv result = %+v", fr)
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	store, _ := newSeededStore(t)

	res, err := NewLoader(store, logging.Discard()).Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	inserted, skipped := res.Totals()
	if inserted != 0 {
		t.Errorf("second run inserted %d rows, want 0", inserted)
	}
	if skipped == 0 {
		t.Error("second run should report skips")
	}
	if got := count(t, store, "CONCEPT_DIMENSION"); got != 611 {
		t.Errorf("concepts after rerun = %d, want 611", got)
	}
}

func TestSeedCriticalConcepts(t *testing.T) {
	store, _ := newSeededStore(t)
	ctx := context.Background()

	for _, code := range []string{
		"LOINC: 2947-0", "LOINC: 8462-4", "LOINC: 8480-6", "SCTID: 407374003",
	} {
		var n int64
		if err := store.QueryRow(ctx, `SELECT COUNT(*) FROM CONCEPT_DIMENSION WHERE CONCEPT_CD = ?`, code).Scan(&n); err != nil {
			t.Fatalf("lookup %s: %v", code, err)
		}
		if n != 1 {
			t.Errorf("concept %s missing from seed", code)
		}
	}

	var valType, unit string
	err := store.QueryRow(ctx,
		`SELECT VALTYPE_CD, UNIT_CD FROM CONCEPT_DIMENSION WHERE CONCEPT_CD = ?`,
		"LOINC: 2947-0").Scan(&valType, &unit)
	if err != nil {
		t.Fatalf("sodium row: %v", err)
	}
	if valType != codes.ValueTypeNumeric || unit != "mmol/l" {
		t.Errorf("sodium concept = (%s, %s), want (N, mmol/l)", valType, unit)
	}
}

func TestSeedUsersGetHashedPasswords(t *testing.T) {
	store, _ := newSeededStore(t)
	ctx := context.Background()

	rows, err := store.Query(ctx, `SELECT USER_CD, PASSWORD_CHAR, COLUMN_CD FROM USER_MANAGEMENT ORDER BY USER_CD`)
	if err != nil {
		t.Fatalf("query users: %v", err)
	}
	defer rows.Close()

	roles := map[string]bool{}
	for rows.Next() {
		var userCode, hash, role string
		if err := rows.Scan(&userCode, &hash, &role); err != nil {
			t.Fatalf("scan: %v", err)
		}
		if !strings.HasPrefix(hash, "$2") {
			t.Errorf("user %s password not hashed: %q", userCode, hash)
		}
		if hash == userCode {
			t.Errorf("user %s password stored in clear", userCode)
		}
		roles[role] = true
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}
	for _, role := range []string{codes.RoleAdmin, codes.RolePhysician, codes.RoleResearcher, codes.RoleDemo} {
		if !roles[role] {
			t.Errorf("seed is missing a %s account", role)
		}
	}
}

// The embedded rule bodies must decode into definitions the evaluator
// accepts, otherwise validation would fail at first use.
func TestSeedRuleDefinitionsParse(t *testing.T) {
	rows, err := records("cql_rules.csv", []string{"CODE_CD", "NAME_CHAR", "CQL_CHAR", "CQL_BLOB"})
	if err != nil {
		t.Fatalf("read rules: %v", err)
	}
	if len(rows) != 8 {
		t.Fatalf("rule rows = %d, want 8", len(rows))
	}
	for _, row := range rows {
		if _, err := cqlrule.ParseDefinition(row[3]); err != nil {
			t.Errorf("rule %s blob does not parse: %v", row[0], err)
		}
	}
}

func TestSeedDataContract(t *testing.T) {
	rows, err := records("concepts.csv", []string{
		"CONCEPT_CD", "CONCEPT_PATH", "NAME_CHAR", "CATEGORY_CHAR",
		"VALTYPE_CD", "UNIT_CD", "RELATED_CONCEPT_CD", "CONCEPT_BLOB",
	})
	if err != nil {
		t.Fatalf("read concepts: %v", err)
	}
	if len(rows) != 611 {
		t.Fatalf("concept rows = %d, want 611", len(rows))
	}

	seenCodes := map[string]bool{}
	seenPaths := map[string]bool{}
	for _, row := range rows {
		code, path, valType := row[0], row[1], row[4]
		if seenCodes[code] {
			t.Errorf("duplicate concept code %s", code)
		}
		if seenPaths[path] {
			t.Errorf("duplicate concept path %s", path)
		}
		seenCodes[code] = true
		seenPaths[path] = true
		if !strings.HasPrefix(path, `\`) || strings.HasSuffix(path, `\`) || strings.Contains(path, `\\`) {
			t.Errorf("concept %s has malformed path %q", code, path)
		}
		if valType != "" && !codes.IsValueType(valType) {
			t.Errorf("concept %s has unknown value type %q", code, valType)
		}
	}

	links, err := records("concept_cql.csv", []string{"CONCEPT_CD", "CQL_CODE"})
	if err != nil {
		t.Fatalf("read links: %v", err)
	}
	for _, link := range links {
		if !seenCodes[link[0]] {
			t.Errorf("link references unknown concept %s", link[0])
		}
	}
}
