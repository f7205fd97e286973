package cqlrule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Evaluator checks a value against one rule definition. The built-in
// evaluator handles range, enum, and pattern kinds; Custom takes over for
// every other kind when set.
type Evaluator struct {
	// Custom evaluates definitions the built-in kinds do not cover. It
	// receives the raw blob so a full CQL engine can plug in unchanged.
	Custom func(blob string, value any) (bool, string, error)
}

// Evaluate checks value against the rule's definition. A rule without a
// definition passes.
func (e *Evaluator) Evaluate(rule *Rule, value any) (bool, string, error) {
	if rule.Blob == nil || *rule.Blob == "" {
		return true, "", nil
	}
	def, err := ParseDefinition(*rule.Blob)
	if err != nil {
		return false, "", err
	}
	switch def.Kind {
	case KindRange:
		return evalRange(def, value)
	case KindEnum:
		return evalEnum(def, value)
	case KindPattern:
		return evalPattern(def, value)
	default:
		if e.Custom != nil {
			return e.Custom(*rule.Blob, value)
		}
		return false, "", fmt.Errorf("rule %s: no evaluator for kind %q", rule.Code, def.Kind)
	}
}

func evalRange(def *Definition, value any) (bool, string, error) {
	f, err := asFloat(value)
	if err != nil {
		return false, "", err
	}
	if def.Min != nil && f < *def.Min {
		return false, failDetail(def, fmt.Sprintf("%v below %v", f, *def.Min)), nil
	}
	if def.Max != nil && f > *def.Max {
		return false, failDetail(def, fmt.Sprintf("%v above %v", f, *def.Max)), nil
	}
	return true, "", nil
}

func evalEnum(def *Definition, value any) (bool, string, error) {
	s := asString(value)
	for _, allowed := range def.Values {
		if s == allowed {
			return true, "", nil
		}
	}
	return false, failDetail(def, fmt.Sprintf("%q not in %v", s, def.Values)), nil
}

func evalPattern(def *Definition, value any) (bool, string, error) {
	re, err := regexp.Compile(def.Pattern)
	if err != nil {
		return false, "", fmt.Errorf("pattern %q: %w", def.Pattern, err)
	}
	s := asString(value)
	if !re.MatchString(s) {
		return false, failDetail(def, fmt.Sprintf("%q does not match %s", s, def.Pattern)), nil
	}
	return true, "", nil
}

func failDetail(def *Definition, fallback string) string {
	if def.Message != "" {
		return def.Message
	}
	return fallback
}

func asFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%q does not parse as a number", v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("unsupported value %T", value)
	}
}

func asString(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
