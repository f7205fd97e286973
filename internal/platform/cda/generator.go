package cda

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/best/best/internal/domain/concept"
	"github.com/best/best/internal/platform/bundle"
	"github.com/best/best/pkg/codes"
	"github.com/best/best/pkg/isodate"
)

// Sex concept codes with a first-class FHIR administrative gender.
const (
	sexMale    = "SCTID: 248153007"
	sexFemale  = "SCTID: 248152000"
	sexUnknown = "SCTID: 261665006"
)

const actCodeSystem = "http://terminology.hl7.org/CodeSystem/v3-ActCode"

// Generator converts a canonical bundle into an HL7-CDA JSON document.
type Generator struct {
	resolver *concept.Resolver
}

// NewGenerator builds a generator. The resolver fills display labels on
// observation codes and coded values; it may be nil, in which case codes
// are emitted bare.
func NewGenerator(resolver *concept.Resolver) *Generator {
	return &Generator{resolver: resolver}
}

// Generate renders the bundle as a FHIR-compatible document. Patients
// come first, then encounters, then observations, so a reader walking
// the entries in order sees every resource before a reference to it.
func (g *Generator) Generate(ctx context.Context, st *bundle.Structure) (*Bundle, error) {
	if st == nil {
		return nil, fmt.Errorf("nil bundle structure")
	}
	doc := &Bundle{
		ResourceType: ResourceBundle,
		Type:         "document",
		Timestamp:    isodate.Stamp(),
	}
	for i, rec := range st.Data.Patients {
		res := g.patientResource(rec)
		if err := appendEntry(doc, "urn:best:patient:"+res.ID, res); err != nil {
			return nil, fmt.Errorf("patient %d: %w", i, err)
		}
	}
	for i, rec := range st.Data.Visits {
		res := g.encounterResource(rec)
		if err := appendEntry(doc, "urn:best:encounter:"+res.ID, res); err != nil {
			return nil, fmt.Errorf("visit %d: %w", i, err)
		}
	}
	for i, rec := range st.Data.Observations {
		res := g.observationResource(ctx, rec)
		if err := appendEntry(doc, fmt.Sprintf("urn:best:observation:%d", i+1), res); err != nil {
			return nil, fmt.Errorf("observation %d: %w", i, err)
		}
	}
	return doc, nil
}

func appendEntry(doc *Bundle, fullURL string, res any) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	doc.Entry = append(doc.Entry, Entry{FullURL: fullURL, Resource: raw})
	return nil
}

func (g *Generator) patientResource(rec bundle.Record) *Patient {
	code := rec.String("PATIENT_CD")
	p := &Patient{
		ResourceType:     ResourcePatient,
		ID:               code,
		Identifier:       []Identifier{{System: "urn:best:patient-code", Value: code}},
		Gender:           genderOf(rec.String("SEX_CD")),
		BirthDate:        rec.String("BIRTH_DATE"),
		DeceasedDateTime: rec.String("DEATH_DATE"),
	}
	if m := rec.String("MARITAL_STATUS_CD"); m != "" {
		p.MaritalStatus = &CodeableConcept{Coding: []Coding{{Code: m}}}
	}
	if l := rec.String("LANGUAGE_CD"); l != "" {
		p.Communication = []Communication{{Language: CodeableConcept{Coding: []Coding{{Code: l}}}}}
	}
	var exts extensions
	exts.code(ExtSexConcept, rec.String("SEX_CD"))
	if age, ok := rec.Int64("AGE_IN_YEARS"); ok {
		exts.integer(ExtAgeInYears, age)
	}
	exts.code(ExtVitalStatus, rec.String("VITAL_STATUS_CD"))
	exts.code(ExtRace, rec.String("RACE_CD"))
	exts.code(ExtReligion, rec.String("RELIGION_CD"))
	exts.code(ExtSourceSystem, rec.String("SOURCESYSTEM_CD"))
	exts.str(ExtBlob, rec.String("PATIENT_BLOB"))
	p.Extension = exts
	return p
}

func (g *Generator) encounterResource(rec bundle.Record) *Encounter {
	e := &Encounter{
		ResourceType: ResourceEncounter,
		ID:           rec.String("ENCOUNTER_NUM"),
		Status:       encounterStatus(rec.String("ACTIVE_STATUS_CD")),
	}
	if cls := encounterClass(rec.String("INOUT_CD")); cls != "" {
		e.Class = &Coding{System: actCodeSystem, Code: cls}
	}
	if pc := rec.String("PATIENT_CD"); pc != "" {
		e.Subject = &Reference{Reference: "Patient/" + pc}
	}
	start, end := rec.String("START_DATE"), rec.String("END_DATE")
	if start != "" || end != "" {
		e.Period = &Period{Start: start, End: end}
	}
	if loc := rec.String("LOCATION_CD"); loc != "" {
		e.Location = []EncounterLocation{{Location: Reference{Display: loc}}}
	}
	var exts extensions
	exts.code(ExtActiveStatus, rec.String("ACTIVE_STATUS_CD"))
	exts.code(ExtInOut, rec.String("INOUT_CD"))
	exts.code(ExtSourceSystem, rec.String("SOURCESYSTEM_CD"))
	exts.str(ExtBlob, rec.String("VISIT_BLOB"))
	e.Extension = exts
	return e
}

func (g *Generator) observationResource(ctx context.Context, rec bundle.Record) *Observation {
	conceptCD := rec.String("CONCEPT_CD")
	o := &Observation{
		ResourceType:      ResourceObservation,
		ID:                rec.String("OBSERVATION_ID"),
		Status:            "final",
		Code:              CodeableConcept{Coding: []Coding{{Code: conceptCD}}},
		EffectiveDateTime: rec.String("START_DATE"),
	}
	if label := g.label(ctx, conceptCD); label != "" {
		o.Code.Coding[0].Display = label
		o.Code.Text = label
	}
	if cat := rec.String("CATEGORY_CHAR"); cat != "" {
		o.Category = []CodeableConcept{{Coding: []Coding{{Code: cat}}}}
	}
	if pc := rec.String("PATIENT_CD"); pc != "" {
		o.Subject = &Reference{Reference: "Patient/" + pc}
	}
	if enc := rec.String("ENCOUNTER_NUM"); enc != "" {
		o.Encounter = &Reference{Reference: "Encounter/" + enc}
	}

	vt := rec.String("VALTYPE_CD")
	switch vt {
	case codes.ValueTypeNumeric:
		q := &Quantity{Unit: rec.String("UNIT_CD")}
		if n, ok := rec.Float("NVAL_NUM"); ok {
			q.Value = n
		}
		o.ValueQuantity = q
	case codes.ValueTypeSelection, codes.ValueTypeFinding, codes.ValueTypeAnswer:
		coding := Coding{Code: rec.String("TVAL_CHAR")}
		coding.Display = g.label(ctx, coding.Code)
		o.ValueCodeableConcept = &CodeableConcept{Coding: []Coding{coding}}
	case codes.ValueTypeDate:
		o.ValueDateTime = rec.String("TVAL_CHAR")
	default:
		o.ValueString = rec.String("TVAL_CHAR")
	}

	var exts extensions
	exts.code(ExtValueType, vt)
	if inst, ok := rec.Int64("INSTANCE_NUM"); ok && inst != 0 {
		exts.integer(ExtInstanceNum, inst)
	}
	exts.str(ExtEndDate, rec.String("END_DATE"))
	exts.code(ExtProvider, rec.String("PROVIDER_ID"))
	exts.code(ExtLocation, rec.String("LOCATION_CD"))
	exts.code(ExtSourceSystem, rec.String("SOURCESYSTEM_CD"))
	exts.str(ExtBlob, rec.String("OBSERVATION_BLOB"))
	o.Extension = exts
	return o
}

func (g *Generator) label(ctx context.Context, code string) string {
	if g.resolver == nil || code == "" {
		return ""
	}
	res, err := g.resolver.Resolve(ctx, code, concept.Options{})
	if err != nil || !res.Resolved {
		return ""
	}
	return res.Label
}

// genderOf maps a sex concept to FHIR administrative gender. Codes
// outside the core set become "other"; the exact concept travels in the
// sex-concept extension.
func genderOf(sex string) string {
	switch sex {
	case "":
		return ""
	case sexMale:
		return "male"
	case sexFemale:
		return "female"
	case sexUnknown:
		return "unknown"
	default:
		return "other"
	}
}

func sexFromGender(gender string) string {
	switch gender {
	case "male":
		return sexMale
	case "female":
		return sexFemale
	case "unknown":
		return sexUnknown
	default:
		return ""
	}
}

func encounterStatus(active string) string {
	switch active {
	case codes.VisitStatusActive:
		return "in-progress"
	case codes.VisitStatusFinished:
		return "finished"
	case codes.VisitStatusPlanned:
		return "planned"
	case codes.VisitStatusCancelled:
		return "cancelled"
	case "":
		return ""
	default:
		return "unknown"
	}
}

func activeStatusFrom(status string) string {
	switch status {
	case "in-progress", "arrived", "triaged", "onleave":
		return codes.VisitStatusActive
	case "finished":
		return codes.VisitStatusFinished
	case "planned":
		return codes.VisitStatusPlanned
	case "cancelled", "entered-in-error":
		return codes.VisitStatusCancelled
	default:
		return ""
	}
}

func encounterClass(inout string) string {
	switch inout {
	case codes.VisitInpatient:
		return "IMP"
	case codes.VisitOutpatient:
		return "AMB"
	case codes.VisitEmergency:
		return "EMER"
	default:
		return ""
	}
}

func inOutFrom(class string) string {
	switch class {
	case "IMP", "ACUTE", "NONAC", "SS":
		return codes.VisitInpatient
	case "AMB", "VR", "HH":
		return codes.VisitOutpatient
	case "EMER":
		return codes.VisitEmergency
	default:
		return ""
	}
}
