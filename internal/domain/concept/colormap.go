package concept

import "strings"

// Resolution contexts understood by the display heuristics.
const (
	ContextGender      = "gender"
	ContextVisitStatus = "visit_status"
	ContextVitalStatus = "vital_status"
	ContextSeverity    = "severity"
)

type hint struct {
	keywords []string
	color    string
	icon     string
}

// Keyword heuristics per context. The first pattern whose keyword appears in
// the lower-cased label wins.
var contextHints = map[string][]hint{
	ContextGender: {
		{keywords: []string{"female", "woman", "girl"}, color: "#E91E63", icon: "female"},
		{keywords: []string{"male", "man", "boy"}, color: "#2196F3", icon: "male"},
		{keywords: []string{"other", "diverse"}, color: "#9C27B0", icon: "transgender"},
		{keywords: []string{"unknown"}, color: "#9E9E9E", icon: "question_mark"},
	},
	ContextVisitStatus: {
		{keywords: []string{"active", "ongoing", "open"}, color: "#4CAF50", icon: "play_circle"},
		{keywords: []string{"finished", "closed", "completed", "discharged"}, color: "#9E9E9E", icon: "check_circle"},
		{keywords: []string{"planned", "scheduled", "pending"}, color: "#2196F3", icon: "schedule"},
		{keywords: []string{"cancelled", "canceled", "aborted"}, color: "#F44336", icon: "cancel"},
	},
	ContextVitalStatus: {
		{keywords: []string{"alive", "living"}, color: "#4CAF50", icon: "favorite"},
		{keywords: []string{"deceased", "dead"}, color: "#F44336", icon: "heart_broken"},
		{keywords: []string{"unknown"}, color: "#9E9E9E", icon: "question_mark"},
	},
	ContextSeverity: {
		{keywords: []string{"critical", "severe", "high"}, color: "#F44336", icon: "error"},
		{keywords: []string{"moderate", "medium"}, color: "#FF9800", icon: "warning"},
		{keywords: []string{"low", "mild", "minor"}, color: "#4CAF50", icon: "info"},
	},
}

// DisplayHints returns the colour and icon for a label under the given
// context. Unmatched labels and unknown contexts return empty hints.
func DisplayHints(context, label string) (color, icon string) {
	lower := strings.ToLower(label)
	for _, h := range contextHints[context] {
		for _, kw := range h.keywords {
			if strings.Contains(lower, kw) {
				return h.color, h.icon
			}
		}
	}
	return "", ""
}

// Single-character codes carry fixed meanings per context.
var singleCharLabels = map[string]map[string]string{
	ContextGender: {
		"M": "Male", "F": "Female", "O": "Other", "U": "Unknown",
	},
	ContextVisitStatus: {
		"A": "Active", "F": "Finished", "P": "Planned", "C": "Cancelled",
	},
	ContextVitalStatus: {
		"A": "Alive", "D": "Deceased", "U": "Unknown",
	},
}

// FallbackLabel derives a deterministic human label for an unresolvable
// code: single-character codes map through the context tables, snake_case
// values drop the system prefix and title-case, identifier-like values stay
// untouched.
func FallbackLabel(code, context string) string {
	trimmed := strings.TrimSpace(code)
	if byCode, ok := singleCharLabels[context]; ok {
		if label, ok := byCode[strings.ToUpper(trimmed)]; ok {
			return label
		}
	}
	_, raw := SplitCode(trimmed)
	if raw == "" {
		return trimmed
	}
	if !strings.ContainsAny(raw, "_ ") {
		return raw
	}
	words := strings.FieldsFunc(raw, func(r rune) bool {
		return r == '_' || r == ' '
	})
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}
