// Package cqlrule holds the rule catalogue: named CQL rule bodies linked to
// concepts through a join table, plus the minimal built-in evaluator covering
// range, enum, and pattern definitions.
package cqlrule

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Rule maps to one row of the CQL_FACT table. The textual body keeps its
// line breaks encoded as the two-character sequence \n in storage.
type Rule struct {
	CqlID        int64   `db:"CQL_ID" json:"CQL_ID"`
	Code         string  `db:"CODE_CD" json:"CODE_CD"`
	Name         *string `db:"NAME_CHAR" json:"NAME_CHAR,omitempty"`
	Body         *string `db:"CQL_CHAR" json:"CQL_CHAR,omitempty"`
	Blob         *string `db:"CQL_BLOB" json:"CQL_BLOB,omitempty"`
	UpdateDate   *string `db:"UPDATE_DATE" json:"UPDATE_DATE,omitempty"`
	ImportDate   *string `db:"IMPORT_DATE" json:"IMPORT_DATE,omitempty"`
	SourceSystem string  `db:"SOURCESYSTEM_CD" json:"SOURCESYSTEM_CD"`
	UploadID     *string `db:"UPLOAD_ID" json:"UPLOAD_ID,omitempty"`
}

// Validate checks the row invariants before a write.
func (r *Rule) Validate() error {
	if r.Code == "" {
		return fmt.Errorf("rule code is required")
	}
	if r.Blob != nil && *r.Blob != "" {
		if _, err := ParseDefinition(*r.Blob); err != nil {
			return fmt.Errorf("rule %s: %w", r.Code, err)
		}
	}
	return nil
}

// DisplayName returns the rule name, falling back to the code.
func (r *Rule) DisplayName() string {
	if r.Name != nil && *r.Name != "" {
		return *r.Name
	}
	return r.Code
}

// EncodeBody converts real line breaks into the stored \n escape.
func EncodeBody(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	return strings.ReplaceAll(body, "\n", `\n`)
}

// DecodeBody converts the stored \n escape back into line breaks.
func DecodeBody(stored string) string {
	return strings.ReplaceAll(stored, `\n`, "\n")
}

// SetBody stores a rule body with line breaks encoded.
func (r *Rule) SetBody(body string) {
	encoded := EncodeBody(body)
	r.Body = &encoded
}

// BodyText returns the rule body with line breaks restored.
func (r *Rule) BodyText() string {
	if r.Body == nil {
		return ""
	}
	return DecodeBody(*r.Body)
}

// Definition kinds understood by the built-in evaluator.
const (
	KindRange   = "range"
	KindEnum    = "enum"
	KindPattern = "pattern"
)

// Definition is the precompiled form of a rule carried in CQL_BLOB. The
// built-in evaluator covers range, enum, and pattern kinds; anything else is
// delegated to a pluggable evaluator.
type Definition struct {
	Kind    string   `json:"type"`
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Values  []string `json:"values,omitempty"`
	Pattern string   `json:"pattern,omitempty"`
	Unit    string   `json:"unit,omitempty"`
	Message string   `json:"message,omitempty"`
}

// ParseDefinition decodes a CQL_BLOB body.
func ParseDefinition(blob string) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal([]byte(blob), &def); err != nil {
		return nil, fmt.Errorf("rule definition: %w", err)
	}
	switch def.Kind {
	case KindRange:
		if def.Min == nil && def.Max == nil {
			return nil, fmt.Errorf("range rule needs min or max")
		}
	case KindEnum:
		if len(def.Values) == 0 {
			return nil, fmt.Errorf("enum rule needs values")
		}
	case KindPattern:
		if def.Pattern == "" {
			return nil, fmt.Errorf("pattern rule needs a pattern")
		}
	case "":
		return nil, fmt.Errorf("rule definition has no type")
	}
	return &def, nil
}

// Encode renders the definition back to its storage form.
func (d *Definition) Encode() (string, error) {
	out, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("encode rule definition: %w", err)
	}
	return string(out), nil
}
