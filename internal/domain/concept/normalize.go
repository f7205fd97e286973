package concept

import (
	"sort"
	"strings"
)

// Coding system prefix aliases. Incoming data uses several spellings for the
// same terminology; matching treats them as one system. The map is extended
// at runtime via RegisterAlias.
var prefixAliases = map[string]string{
	"LID":       "LOINC",
	"LNC":       "LOINC",
	"LOINC":     "LOINC",
	"SCTID":     "SNOMED-CT",
	"SNOMED":    "SNOMED-CT",
	"SNOMED-CT": "SNOMED-CT",
	"ICD10":     "ICD10",
	"ICD-10":    "ICD10",
}

// RegisterAlias adds or overrides a prefix alias. Both sides are
// case-insensitive.
func RegisterAlias(alias, canonical string) {
	prefixAliases[strings.ToUpper(strings.TrimSpace(alias))] = strings.ToUpper(strings.TrimSpace(canonical))
}

// SplitCode separates a concept code into its system prefix and raw value.
// Codes without a colon have an empty prefix.
func SplitCode(code string) (prefix, raw string) {
	code = strings.TrimSpace(code)
	i := strings.Index(code, ":")
	if i < 0 {
		return "", code
	}
	return strings.TrimSpace(code[:i]), strings.TrimSpace(code[i+1:])
}

func canonicalPrefix(prefix string) string {
	upper := strings.ToUpper(prefix)
	if canonical, ok := prefixAliases[upper]; ok {
		return canonical
	}
	return upper
}

// Normalize reduces a concept code to its canonical matching key: the
// alias-resolved upper-case prefix and the raw value joined without spaces.
// LID: 8462-4 and LOINC:8462-4 normalise to the same key.
func Normalize(code string) string {
	prefix, raw := SplitCode(code)
	if prefix == "" {
		return raw
	}
	return canonicalPrefix(prefix) + ":" + raw
}

// Equal reports whether two codes identify the same concept under
// normalisation.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// Variants returns the spellings a stored concept code may use for the given
// incoming code, suitable for an IN query: the trimmed original plus every
// alias of its coding system, each with and without a space after the colon.
// Callers that disable normalisation should use only the first entry.
func Variants(code string) []string {
	trimmed := strings.TrimSpace(code)
	prefix, raw := SplitCode(code)
	if prefix == "" {
		return []string{trimmed}
	}

	canonical := canonicalPrefix(prefix)
	spellings := []string{canonical}
	for alias, canon := range prefixAliases {
		if canon == canonical && alias != canonical {
			spellings = append(spellings, alias)
		}
	}
	sort.Strings(spellings[1:])

	out := []string{trimmed}
	seen := map[string]bool{trimmed: true}
	for _, p := range spellings {
		for _, v := range []string{p + ": " + raw, p + ":" + raw} {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}
