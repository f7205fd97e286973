// Package observation holds the fact table: measured values tied to a
// patient, a visit, and a concept, with the value routed into the numeric or
// text column by the concept's value type.
package observation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/best/best/pkg/codes"
	"github.com/best/best/pkg/isodate"
)

// Observation maps to one row of the OBSERVATION_FACT table. Exactly one of
// NumericValue and TextValue is populated, selected by ValueType.
type Observation struct {
	ObservationID int64    `db:"OBSERVATION_ID" json:"OBSERVATION_ID"`
	EncounterNum  int64    `db:"ENCOUNTER_NUM" json:"ENCOUNTER_NUM"`
	PatientNum    int64    `db:"PATIENT_NUM" json:"PATIENT_NUM"`
	ConceptCode   string   `db:"CONCEPT_CD" json:"CONCEPT_CD"`
	ProviderID    *string  `db:"PROVIDER_ID" json:"PROVIDER_ID,omitempty"`
	StartDate     *string  `db:"START_DATE" json:"START_DATE,omitempty"`
	EndDate       *string  `db:"END_DATE" json:"END_DATE,omitempty"`
	InstanceNum   int64    `db:"INSTANCE_NUM" json:"INSTANCE_NUM"`
	ValueType     string   `db:"VALTYPE_CD" json:"VALTYPE_CD"`
	TextValue     *string  `db:"TVAL_CHAR" json:"TVAL_CHAR,omitempty"`
	NumericValue  *float64 `db:"NVAL_NUM" json:"NVAL_NUM,omitempty"`
	Unit          *string  `db:"UNIT_CD" json:"UNIT_CD,omitempty"`
	LocationCode  *string  `db:"LOCATION_CD" json:"LOCATION_CD,omitempty"`
	Category      *string  `db:"CATEGORY_CHAR" json:"CATEGORY_CHAR,omitempty"`
	Blob          *string  `db:"OBSERVATION_BLOB" json:"OBSERVATION_BLOB,omitempty"`
	UpdateDate    *string  `db:"UPDATE_DATE" json:"UPDATE_DATE,omitempty"`
	DownloadDate  *string  `db:"DOWNLOAD_DATE" json:"DOWNLOAD_DATE,omitempty"`
	ImportDate    *string  `db:"IMPORT_DATE" json:"IMPORT_DATE,omitempty"`
	SourceSystem  string   `db:"SOURCESYSTEM_CD" json:"SOURCESYSTEM_CD"`
	UploadID      *string  `db:"UPLOAD_ID" json:"UPLOAD_ID,omitempty"`
}

// Validate checks the row invariants before a write, including the value
// routing rule.
func (o *Observation) Validate() error {
	if o.PatientNum <= 0 {
		return fmt.Errorf("observation requires a patient")
	}
	if o.EncounterNum <= 0 {
		return fmt.Errorf("observation requires a visit")
	}
	if o.ConceptCode == "" {
		return fmt.Errorf("observation requires a concept code")
	}
	if !codes.IsValueType(o.ValueType) {
		return fmt.Errorf("invalid value type %q", o.ValueType)
	}
	if o.StartDate != nil && *o.StartDate != "" && !isodate.Valid(*o.StartDate) {
		return fmt.Errorf("invalid start date %q: want YYYY-MM-DD", *o.StartDate)
	}
	if o.EndDate != nil && *o.EndDate != "" && !isodate.Valid(*o.EndDate) {
		return fmt.Errorf("invalid end date %q: want YYYY-MM-DD", *o.EndDate)
	}
	return o.validateRouting()
}

func (o *Observation) validateRouting() error {
	if o.ValueType == codes.ValueTypeNumeric {
		if o.NumericValue == nil {
			return fmt.Errorf("numeric observation requires a numeric value")
		}
		if o.TextValue != nil {
			return fmt.Errorf("numeric observation must not carry a text value")
		}
		return nil
	}
	if o.NumericValue != nil {
		return fmt.Errorf("%s observation must not carry a numeric value", o.ValueType)
	}
	switch o.ValueType {
	case codes.ValueTypeDate:
		if o.TextValue == nil || !isodate.Valid(*o.TextValue) {
			return fmt.Errorf("date observation requires a YYYY-MM-DD text value")
		}
	case codes.ValueTypeRaw:
		if o.TextValue == nil || !isJSONObject(*o.TextValue) {
			return fmt.Errorf("raw observation requires a JSON object value")
		}
	}
	return nil
}

// SetValue routes a raw value into the numeric or text column according to
// the observation's value type, applying the canonical encodings: dates as
// YYYY-MM-DD, raw blobs as a JSON object, selections as the chosen code.
func (o *Observation) SetValue(value any) error {
	nval, tval, err := RouteValue(o.ValueType, value)
	if err != nil {
		return err
	}
	o.NumericValue = nval
	o.TextValue = tval
	return nil
}

// RouteValue translates a raw value into the (numeric, text) column pair for
// the given value type.
func RouteValue(valueType string, value any) (*float64, *string, error) {
	switch valueType {
	case codes.ValueTypeNumeric:
		f, err := toFloat(value)
		if err != nil {
			return nil, nil, fmt.Errorf("numeric value: %w", err)
		}
		return &f, nil, nil

	case codes.ValueTypeDate:
		s := strings.TrimSpace(toString(value))
		if !isodate.Valid(s) {
			return nil, nil, fmt.Errorf("date value %q: want YYYY-MM-DD", s)
		}
		return nil, &s, nil

	case codes.ValueTypeRaw:
		s, err := toJSONObject(value)
		if err != nil {
			return nil, nil, fmt.Errorf("raw value: %w", err)
		}
		return nil, &s, nil

	case codes.ValueTypeQuestionnaire:
		// Survey bodies are stored as text; extraction into child
		// observations stays with the UI layer.
		s := toString(value)
		return nil, &s, nil

	case codes.ValueTypeText, codes.ValueTypeSelection, codes.ValueTypeFinding, codes.ValueTypeAnswer:
		s := toString(value)
		return nil, &s, nil

	default:
		return nil, nil, fmt.Errorf("invalid value type %q", valueType)
	}
}

// Value returns the populated value: float64 for numeric rows, string
// otherwise, nil when empty.
func (o *Observation) Value() any {
	if o.NumericValue != nil {
		return *o.NumericValue
	}
	if o.TextValue != nil {
		return *o.TextValue
	}
	return nil
}

// DisplayValue renders the value for tabular output. Numeric values drop
// trailing zeros.
func (o *Observation) DisplayValue() string {
	if o.NumericValue != nil {
		return strconv.FormatFloat(*o.NumericValue, 'f', -1, 64)
	}
	if o.TextValue != nil {
		return *o.TextValue
	}
	return ""
}

func toFloat(value any) (float64, error) {
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

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		out, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(out)
	}
}

func toJSONObject(value any) (string, error) {
	switch v := value.(type) {
	case string:
		if !isJSONObject(v) {
			return "", fmt.Errorf("%q is not a JSON object", v)
		}
		return v, nil
	case map[string]any:
		out, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(out), nil
	case nil:
		return "", fmt.Errorf("value is missing")
	default:
		out, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		if !isJSONObject(string(out)) {
			return "", fmt.Errorf("value %T does not encode to a JSON object", value)
		}
		return string(out), nil
	}
}

func isJSONObject(s string) bool {
	var m map[string]any
	return json.Unmarshal([]byte(s), &m) == nil
}

// RawFile is the typed view over a raw (R) observation value: an uploaded
// document reference.
type RawFile struct {
	Filename string         `json:"filename"`
	MimeType string         `json:"mimeType,omitempty"`
	Size     int64          `json:"size,omitempty"`
	Content  string         `json:"content,omitempty"`
	Extra    map[string]any `json:"-"`
}

var rawKnownKeys = []string{"filename", "mimeType", "size", "content"}

// ParseRawFile decodes a raw observation's text value.
func ParseRawFile(tval *string) (*RawFile, error) {
	if tval == nil || *tval == "" {
		return nil, fmt.Errorf("raw observation has no value")
	}
	f := &RawFile{}
	if err := json.Unmarshal([]byte(*tval), f); err != nil {
		return nil, fmt.Errorf("raw observation value: %w", err)
	}
	var all map[string]any
	if err := json.Unmarshal([]byte(*tval), &all); err == nil {
		for _, k := range rawKnownKeys {
			delete(all, k)
		}
		if len(all) > 0 {
			f.Extra = all
		}
	}
	return f, nil
}

// Resolved is one row of the patient_observations view: the fact row joined
// with the concept name and the display form of the value.
type Resolved struct {
	ObservationID int64    `json:"OBSERVATION_ID"`
	PatientNum    int64    `json:"PATIENT_NUM"`
	EncounterNum  int64    `json:"ENCOUNTER_NUM"`
	ConceptCode   string   `json:"CONCEPT_CD"`
	ConceptName   *string  `json:"CONCEPT_NAME_CHAR,omitempty"`
	ValueType     string   `json:"VALTYPE_CD"`
	TextValue     *string  `json:"TVAL_CHAR,omitempty"`
	NumericValue  *float64 `json:"NVAL_NUM,omitempty"`
	ResolvedText  *string  `json:"TVAL_RESOLVED,omitempty"`
	Unit          *string  `json:"UNIT_CD,omitempty"`
	Category      *string  `json:"CATEGORY_CHAR,omitempty"`
	ProviderID    *string  `json:"PROVIDER_ID,omitempty"`
	LocationCode  *string  `json:"LOCATION_CD,omitempty"`
	StartDate     *string  `json:"START_DATE,omitempty"`
	EndDate       *string  `json:"END_DATE,omitempty"`
	InstanceNum   int64    `json:"INSTANCE_NUM"`
	Blob          *string  `json:"OBSERVATION_BLOB,omitempty"`
	SourceSystem  string   `json:"SOURCESYSTEM_CD"`
	UploadID      *string  `json:"UPLOAD_ID,omitempty"`
	ImportDate    *string  `json:"IMPORT_DATE,omitempty"`
	UpdateDate    *string  `json:"UPDATE_DATE,omitempty"`
}

// Statistics summarises the fact table for operator output.
type Statistics struct {
	Total            int64            `json:"total"`
	ByValueType      map[string]int64 `json:"byValueType"`
	BySourceSystem   map[string]int64 `json:"bySourceSystem"`
	DistinctConcepts int64            `json:"distinctConcepts"`
	EarliestDate     string           `json:"earliestDate,omitempty"`
	LatestDate       string           `json:"latestDate,omitempty"`
}
