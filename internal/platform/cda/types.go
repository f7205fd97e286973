// Package cda builds, parses, signs, and verifies HL7-CDA JSON documents.
// The document is a FHIR-compatible Bundle whose entries carry Patient,
// Encounter, and Observation resources. Engine columns without a
// first-class FHIR field travel in urn:best extensions so a document
// round-trips losslessly through export and import.
package cda

import "encoding/json"

// FormatName tags bundles produced or consumed by this package.
const FormatName = "hl7-cda"

// Resource type discriminators.
const (
	ResourceBundle      = "Bundle"
	ResourcePatient     = "Patient"
	ResourceEncounter   = "Encounter"
	ResourceObservation = "Observation"
)

// Extension URLs for engine columns carried alongside the FHIR fields.
const (
	ExtSexConcept   = "urn:best:sex-concept"
	ExtAgeInYears   = "urn:best:age-in-years"
	ExtVitalStatus  = "urn:best:vital-status"
	ExtRace         = "urn:best:race"
	ExtReligion     = "urn:best:religion"
	ExtActiveStatus = "urn:best:active-status"
	ExtInOut        = "urn:best:inout"
	ExtLocation     = "urn:best:location"
	ExtValueType    = "urn:best:value-type"
	ExtInstanceNum  = "urn:best:instance-num"
	ExtEndDate      = "urn:best:end-date"
	ExtProvider     = "urn:best:provider"
	ExtSourceSystem = "urn:best:source-system"
	ExtBlob         = "urn:best:blob"
)

// Bundle is the top-level HL7-CDA JSON document.
type Bundle struct {
	ResourceType string     `json:"resourceType"`
	Type         string     `json:"type,omitempty"`
	Timestamp    string     `json:"timestamp,omitempty"`
	Entry        []Entry    `json:"entry"`
	Signature    *Signature `json:"signature,omitempty"`
}

// Entry wraps one resource. The resource stays raw until the entry walk
// dispatches on its resourceType.
type Entry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource"`
}

// Signature is the detached document signature block.
type Signature struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
	PublicKey string `json:"publicKey"`
}

// Coding is one code from a coding system.
type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code"`
	Display string `json:"display,omitempty"`
}

// CodeableConcept pairs codings with a human label.
type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// Quantity is a numeric value with a unit.
type Quantity struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

// Reference points at another resource, for example "Patient/P001".
type Reference struct {
	Reference string `json:"reference,omitempty"`
	Display   string `json:"display,omitempty"`
}

// Period is a start/end date pair.
type Period struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// Identifier is a namespaced business identifier.
type Identifier struct {
	System string `json:"system,omitempty"`
	Value  string `json:"value"`
}

// Extension carries one engine column on a FHIR resource. Exactly one
// value field is set.
type Extension struct {
	URL          string `json:"url"`
	ValueCode    string `json:"valueCode,omitempty"`
	ValueString  string `json:"valueString,omitempty"`
	ValueInteger *int64 `json:"valueInteger,omitempty"`
}

// Patient is the demographics resource.
type Patient struct {
	ResourceType     string           `json:"resourceType"`
	ID               string           `json:"id,omitempty"`
	Identifier       []Identifier     `json:"identifier,omitempty"`
	Gender           string           `json:"gender,omitempty"`
	BirthDate        string           `json:"birthDate,omitempty"`
	DeceasedDateTime string           `json:"deceasedDateTime,omitempty"`
	MaritalStatus    *CodeableConcept `json:"maritalStatus,omitempty"`
	Communication    []Communication  `json:"communication,omitempty"`
	Extension        []Extension      `json:"extension,omitempty"`
}

// Communication is one language a patient communicates in.
type Communication struct {
	Language CodeableConcept `json:"language"`
}

// Encounter is the visit resource.
type Encounter struct {
	ResourceType string              `json:"resourceType"`
	ID           string              `json:"id,omitempty"`
	Status       string              `json:"status,omitempty"`
	Class        *Coding             `json:"class,omitempty"`
	Subject      *Reference          `json:"subject,omitempty"`
	Period       *Period             `json:"period,omitempty"`
	Location     []EncounterLocation `json:"location,omitempty"`
	Extension    []Extension         `json:"extension,omitempty"`
}

// EncounterLocation names where an encounter took place.
type EncounterLocation struct {
	Location Reference `json:"location"`
}

// Observation is the clinical fact resource. At most one value field is
// set, chosen by the fact's value type.
type Observation struct {
	ResourceType         string            `json:"resourceType"`
	ID                   string            `json:"id,omitempty"`
	Status               string            `json:"status,omitempty"`
	Category             []CodeableConcept `json:"category,omitempty"`
	Code                 CodeableConcept   `json:"code"`
	Subject              *Reference        `json:"subject,omitempty"`
	Encounter            *Reference        `json:"encounter,omitempty"`
	EffectiveDateTime    string            `json:"effectiveDateTime,omitempty"`
	ValueQuantity        *Quantity         `json:"valueQuantity,omitempty"`
	ValueCodeableConcept *CodeableConcept  `json:"valueCodeableConcept,omitempty"`
	ValueDateTime        string            `json:"valueDateTime,omitempty"`
	ValueString          string            `json:"valueString,omitempty"`
	Extension            []Extension       `json:"extension,omitempty"`
}

// extensions accumulates extension values, skipping empties.
type extensions []Extension

func (e *extensions) code(url, value string) {
	if value != "" {
		*e = append(*e, Extension{URL: url, ValueCode: value})
	}
}

func (e *extensions) str(url, value string) {
	if value != "" {
		*e = append(*e, Extension{URL: url, ValueString: value})
	}
}

func (e *extensions) integer(url string, value int64) {
	v := value
	*e = append(*e, Extension{URL: url, ValueInteger: &v})
}

func findCode(exts []Extension, url string) string {
	for _, ext := range exts {
		if ext.URL == url {
			return ext.ValueCode
		}
	}
	return ""
}

func findString(exts []Extension, url string) string {
	for _, ext := range exts {
		if ext.URL == url {
			return ext.ValueString
		}
	}
	return ""
}

func findInteger(exts []Extension, url string) (int64, bool) {
	for _, ext := range exts {
		if ext.URL == url && ext.ValueInteger != nil {
			return *ext.ValueInteger, true
		}
	}
	return 0, false
}
