// Package validate checks raw values before they reach the fact table. A
// validation run walks four layers: type checks, the standard rule tables,
// concept-linked rules, then field-keyed business rules. Every layer runs
// even after a failure so the caller sees all diagnostics at once.
package validate

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/best/best/pkg/isodate"
)

// Input value types.
const (
	TypeNumeric = "numeric"
	TypeText    = "text"
	TypeDate    = "date"
	TypeBlob    = "blob"
	TypeBoolean = "boolean"
)

// Diagnostic severities.
const (
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Diagnostic codes.
const (
	CodeInvalidType          = "INVALID_TYPE"
	CodeRuleViolation        = "RULE_VIOLATION"
	CodeNoConceptRules       = "NO_CONCEPT_RULES"
	CodeConceptRuleViolation = "CONCEPT_RULE_VIOLATION"
	CodeConceptRuleFailure   = "CONCEPT_RULE_FAILURE"
	CodeAgeOutOfRange        = "AGE_OUT_OF_RANGE"
	CodeBloodPressureRange   = "BLOOD_PRESSURE_OUT_OF_RANGE"
	CodeHeartRateRange       = "HEART_RATE_OUT_OF_RANGE"
)

// Input is one value to validate.
type Input struct {
	Value       any
	Type        string
	ConceptCode string
	Metadata    map[string]any
}

// Diagnostic is a single finding.
type Diagnostic struct {
	Code     string `json:"code"`
	Field    string `json:"field,omitempty"`
	Message  string `json:"message"`
	Details  string `json:"details,omitempty"`
	Severity string `json:"severity"`
	RuleID   int64  `json:"ruleId,omitempty"`
	RuleName string `json:"ruleName,omitempty"`
}

// Result aggregates the findings of one run.
type Result struct {
	Valid    bool           `json:"isValid"`
	Errors   []Diagnostic   `json:"errors"`
	Warnings []Diagnostic   `json:"warnings"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (r *Result) addError(d Diagnostic) {
	if d.Severity == "" {
		d.Severity = SeverityError
	}
	r.Errors = append(r.Errors, d)
	r.Valid = false
}

func (r *Result) addWarning(d Diagnostic) {
	d.Severity = SeverityWarning
	r.Warnings = append(r.Warnings, d)
}

// ConceptRule is a rule linked to a concept, with a ready evaluator.
type ConceptRule struct {
	ID       int64
	Code     string
	Name     string
	Evaluate func(value any) (bool, string, error)
}

// RuleSource provides the rules linked to a concept code. The CQL rule
// catalogue implements it; a nil source skips the concept layer.
type RuleSource interface {
	RulesForConcept(ctx context.Context, conceptCode string) ([]ConceptRule, error)
}

// Validator runs the four validation layers. Safe for concurrent use; custom
// rules merge under a lock.
type Validator struct {
	source RuleSource

	mu    sync.RWMutex
	rules Rules
}

// New returns a validator with the default standard rules. source may be nil.
func New(source RuleSource) *Validator {
	return &Validator{source: source, rules: Defaults()}
}

// SetCustomRules merges the given overrides into the active rule tables.
// Repeated calls are additive.
func (v *Validator) SetCustomRules(custom Rules) {
	v.mu.Lock()
	merge(&v.rules, custom)
	v.mu.Unlock()
}

// ResetToDefaults restores the built-in standard rules.
func (v *Validator) ResetToDefaults() {
	v.mu.Lock()
	v.rules = Defaults()
	v.mu.Unlock()
}

// CurrentRules returns a copy of the active rule tables.
func (v *Validator) CurrentRules() Rules {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.rules
}

// Validate runs all layers over the input and aggregates the findings.
func (v *Validator) Validate(ctx context.Context, in Input) *Result {
	res := &Result{Valid: true, Metadata: map[string]any{}}

	v.mu.RLock()
	rules := v.rules
	v.mu.RUnlock()

	v.checkType(in, res)
	v.checkStandardRules(in, rules, res)
	v.checkConceptRules(ctx, in, res)
	v.checkBusinessRules(in, res)

	res.Metadata["type"] = in.Type
	if in.ConceptCode != "" {
		res.Metadata["conceptCode"] = in.ConceptCode
	}
	return res
}

func (v *Validator) checkType(in Input, res *Result) {
	switch in.Type {
	case TypeNumeric:
		if _, err := numericValue(in.Value); err != nil {
			res.addError(Diagnostic{
				Code:    CodeInvalidType,
				Field:   "value",
				Message: "value is not numeric",
				Details: err.Error(),
			})
		}
	case TypeText:
		if _, ok := in.Value.(string); !ok {
			res.addError(Diagnostic{
				Code:    CodeInvalidType,
				Field:   "value",
				Message: fmt.Sprintf("value is %T, not text", in.Value),
			})
		}
	case TypeDate:
		s, ok := in.Value.(string)
		if !ok || !isodate.Valid(strings.TrimSpace(s)) {
			res.addError(Diagnostic{
				Code:    CodeInvalidType,
				Field:   "value",
				Message: "value is not a date in YYYY-MM-DD form",
			})
		}
	case TypeBlob:
		if in.Value == nil {
			res.addError(Diagnostic{
				Code:    CodeInvalidType,
				Field:   "value",
				Message: "blob value is missing",
			})
		}
	case TypeBoolean:
		if _, err := booleanValue(in.Value); err != nil {
			res.addError(Diagnostic{
				Code:    CodeInvalidType,
				Field:   "value",
				Message: "value is not boolean",
				Details: err.Error(),
			})
		}
	default:
		res.addError(Diagnostic{
			Code:     CodeInvalidType,
			Field:    "type",
			Message:  fmt.Sprintf("unknown input type %q", in.Type),
			Severity: SeverityCritical,
		})
	}
}

func (v *Validator) checkStandardRules(in Input, rules Rules, res *Result) {
	switch in.Type {
	case TypeNumeric:
		val, err := numericValue(in.Value)
		if err != nil {
			return
		}
		checkNumericRules(val, rules.Numeric, res)
	case TypeText:
		s, ok := in.Value.(string)
		if !ok {
			return
		}
		checkTextRules(s, rules.Text, res)
	case TypeDate:
		s, ok := in.Value.(string)
		if !ok {
			return
		}
		checkDateRules(strings.TrimSpace(s), rules.Date, res)
	case TypeBlob:
		checkBlobRules(in.Value, rules.Blob, res)
	}
}

func checkNumericRules(val float64, r NumericRules, res *Result) {
	if r.Min != nil && val < *r.Min {
		res.addError(Diagnostic{
			Code: CodeRuleViolation, Field: "value",
			Message: fmt.Sprintf("value %v below minimum %v", val, *r.Min),
		})
	}
	if r.Max != nil && val > *r.Max {
		res.addError(Diagnostic{
			Code: CodeRuleViolation, Field: "value",
			Message: fmt.Sprintf("value %v above maximum %v", val, *r.Max),
		})
	}
	if r.AllowNegative != nil && !*r.AllowNegative && val < 0 {
		res.addError(Diagnostic{
			Code: CodeRuleViolation, Field: "value",
			Message: "negative values are not allowed",
		})
	}
	if r.AllowZero != nil && !*r.AllowZero && val == 0 {
		res.addError(Diagnostic{
			Code: CodeRuleViolation, Field: "value",
			Message: "zero is not allowed",
		})
	}
	if r.Precision != nil {
		s := strconv.FormatFloat(val, 'f', -1, 64)
		if i := strings.IndexByte(s, '.'); i >= 0 && len(s)-i-1 > *r.Precision {
			res.addError(Diagnostic{
				Code: CodeRuleViolation, Field: "value",
				Message: fmt.Sprintf("value %s exceeds precision of %d decimals", s, *r.Precision),
			})
		}
	}
}

func checkTextRules(s string, r TextRules, res *Result) {
	if r.Trim != nil && *r.Trim {
		s = strings.TrimSpace(s)
	}
	if s == "" {
		if r.AllowEmpty != nil && !*r.AllowEmpty {
			res.addError(Diagnostic{
				Code: CodeRuleViolation, Field: "value",
				Message: "empty text is not allowed",
			})
		}
		return
	}
	if r.MinLength != nil && len(s) < *r.MinLength {
		res.addError(Diagnostic{
			Code: CodeRuleViolation, Field: "value",
			Message: fmt.Sprintf("text shorter than %d characters", *r.MinLength),
		})
	}
	if r.MaxLength != nil && len(s) > *r.MaxLength {
		res.addError(Diagnostic{
			Code: CodeRuleViolation, Field: "value",
			Message: fmt.Sprintf("text longer than %d characters", *r.MaxLength),
		})
	}
	if r.Pattern != nil && *r.Pattern != "" {
		re, err := regexp.Compile(*r.Pattern)
		if err != nil {
			res.addError(Diagnostic{
				Code: CodeRuleViolation, Field: "pattern",
				Message: "text pattern does not compile", Details: err.Error(),
			})
		} else if !re.MatchString(s) {
			res.addError(Diagnostic{
				Code: CodeRuleViolation, Field: "value",
				Message: fmt.Sprintf("text does not match pattern %s", *r.Pattern),
			})
		}
	}
}

func checkDateRules(s string, r DateRules, res *Result) {
	if !isodate.Valid(s) {
		return
	}
	if r.MinDate != nil && s < *r.MinDate {
		res.addError(Diagnostic{
			Code: CodeRuleViolation, Field: "value",
			Message: fmt.Sprintf("date %s before minimum %s", s, *r.MinDate),
		})
	}
	if r.MaxDate != nil && s > *r.MaxDate {
		res.addError(Diagnostic{
			Code: CodeRuleViolation, Field: "value",
			Message: fmt.Sprintf("date %s after maximum %s", s, *r.MaxDate),
		})
	}
	today := isodate.Today()
	if r.AllowFuture != nil && !*r.AllowFuture && s > today {
		res.addError(Diagnostic{
			Code: CodeRuleViolation, Field: "value",
			Message: "future dates are not allowed",
		})
	}
	if r.AllowPast != nil && !*r.AllowPast && s < today {
		res.addError(Diagnostic{
			Code: CodeRuleViolation, Field: "value",
			Message: "past dates are not allowed",
		})
	}
}

func checkBlobRules(value any, r BlobRules, res *Result) {
	if r.MaxSize == nil {
		return
	}
	var size int
	switch v := value.(type) {
	case string:
		size = len(v)
	case []byte:
		size = len(v)
	default:
		return
	}
	if size > *r.MaxSize {
		res.addError(Diagnostic{
			Code: CodeRuleViolation, Field: "value",
			Message: fmt.Sprintf("blob of %d bytes exceeds maximum %d", size, *r.MaxSize),
		})
	}
}

func (v *Validator) checkConceptRules(ctx context.Context, in Input, res *Result) {
	if in.ConceptCode == "" || v.source == nil {
		return
	}
	rules, err := v.source.RulesForConcept(ctx, in.ConceptCode)
	if err != nil {
		res.addError(Diagnostic{
			Code:    CodeConceptRuleFailure,
			Field:   "conceptCode",
			Message: fmt.Sprintf("loading rules for %s failed", in.ConceptCode),
			Details: err.Error(),
		})
		return
	}
	if len(rules) == 0 {
		res.addWarning(Diagnostic{
			Code:    CodeNoConceptRules,
			Field:   "conceptCode",
			Message: fmt.Sprintf("no rules linked to concept %s", in.ConceptCode),
		})
		return
	}
	for _, rule := range rules {
		if rule.Evaluate == nil {
			continue
		}
		ok, detail, err := rule.Evaluate(in.Value)
		if err != nil {
			res.addError(Diagnostic{
				Code:     CodeConceptRuleFailure,
				Field:    "value",
				Message:  fmt.Sprintf("rule %s did not evaluate", rule.Name),
				Details:  err.Error(),
				RuleID:   rule.ID,
				RuleName: rule.Name,
			})
			continue
		}
		if !ok {
			res.addError(Diagnostic{
				Code:     CodeConceptRuleViolation,
				Field:    "value",
				Message:  fmt.Sprintf("value violates rule %s", rule.Name),
				Details:  detail,
				RuleID:   rule.ID,
				RuleName: rule.Name,
			})
		}
	}
}

// Business bounds keyed by metadata.field.
var businessBounds = map[string]struct {
	min, max float64
	code     string
}{
	"AGE_IN_YEARS":   {0, 150, CodeAgeOutOfRange},
	"BLOOD_PRESSURE": {50, 300, CodeBloodPressureRange},
	"HEART_RATE":     {30, 250, CodeHeartRateRange},
}

func (v *Validator) checkBusinessRules(in Input, res *Result) {
	field, _ := in.Metadata["field"].(string)
	if field == "" {
		return
	}
	bound, ok := businessBounds[field]
	if !ok {
		return
	}
	val, err := numericValue(in.Value)
	if err != nil {
		return
	}
	if val < bound.min || val > bound.max {
		res.addError(Diagnostic{
			Code:    bound.code,
			Field:   field,
			Message: fmt.Sprintf("%s %v outside [%v, %v]", field, val, bound.min, bound.max),
		})
	}
}

func numericValue(value any) (float64, error) {
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
	case nil:
		return 0, fmt.Errorf("value is missing")
	default:
		return 0, fmt.Errorf("unsupported value %T", value)
	}
}

func booleanValue(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, fmt.Errorf("%q does not parse as a boolean", v)
		}
		return b, nil
	default:
		return false, fmt.Errorf("unsupported value %T", value)
	}
}
